// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

type dirtyReport struct {
	Topic         string   `json:"topic"`
	New           bool     `json:"new"`
	Attributes    []string `json:"attributes,omitempty"`
	References    []string `json:"references,omitempty"`
	Relationships []string `json:"relationships,omitempty"`
	Deleted       []string `json:"deleted,omitempty"`
}

func (a *app) dirtyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dirty FIXTURE",
		Short: "List dirty topics and the keys that changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := a.loadFixture(args[0])
			if err != nil {
				return err
			}
			reports := dirtyReports(g)
			if a.out.json {
				return a.out.JSON(reports)
			}
			if len(reports) == 0 {
				a.out.Line("%s", a.out.Success("clean"))
				return nil
			}
			for _, r := range reports {
				state := a.out.Dirty("modified")
				if r.New {
					state = a.out.Dirty("new")
				}
				a.out.Line("%s %s", a.out.Key(r.Topic), state)
				printKeys(a.out, "attributes", r.Attributes)
				printKeys(a.out, "references", r.References)
				printKeys(a.out, "relationships", r.Relationships)
				printKeys(a.out, "deleted", r.Deleted)
			}
			return nil
		},
	}
}

func printKeys(p *printer, label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	p.Line("    %s %s", p.Muted(label+":"), strings.Join(keys, ", "))
}

func dirtyReports(g *topics.Graph) []dirtyReport {
	reports := []dirtyReport{}
	for _, t := range g.DirtyTopics() {
		r := dirtyReport{Topic: t.UniqueKey(), New: t.IsNew()}
		for key, rec := range t.Attributes().All() {
			if rec.IsDirty() {
				r.Attributes = append(r.Attributes, key)
			}
		}
		for key, rec := range t.References().All() {
			if rec.IsDirty() {
				r.References = append(r.References, key)
			}
		}
		for _, ns := range t.Relationships().Keys() {
			if t.Relationships().IsKeyDirty(ns) {
				r.Relationships = append(r.Relationships, ns)
			}
		}
		for _, key := range t.Attributes().DeletedItems() {
			r.Deleted = append(r.Deleted, "attribute:"+key)
		}
		for _, key := range t.References().DeletedItems() {
			r.Deleted = append(r.Deleted, "reference:"+key)
		}
		for _, ns := range t.Relationships().DeletedItems() {
			r.Deleted = append(r.Deleted, "relationship:"+ns)
		}
		reports = append(reports, r)
	}
	return reports
}
