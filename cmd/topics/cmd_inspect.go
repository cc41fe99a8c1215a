// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

type inspectNode struct {
	UniqueKey     string              `json:"unique_key"`
	ContentType   string              `json:"content_type"`
	ID            *int                `json:"id,omitempty"`
	Dirty         bool                `json:"dirty"`
	Attributes    map[string]string   `json:"attributes,omitempty"`
	References    map[string]string   `json:"references,omitempty"`
	Relationships map[string][]string `json:"relationships,omitempty"`
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FIXTURE",
		Short: "Print the topic tree of a fixture with dirty markers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, _, err := a.loadFixture(args[0])
			if err != nil {
				return err
			}
			if a.out.json {
				return a.out.JSON(inspectNodes(g))
			}
			a.printTree(g)
			return nil
		},
	}
}

func inspectNodes(g *topics.Graph) []inspectNode {
	var nodes []inspectNode
	walk(g.Roots(), func(t *topics.Topic, _ int) {
		n := inspectNode{
			UniqueKey:   t.UniqueKey(),
			ContentType: t.ContentType(),
			Dirty:       t.IsDirty(),
		}
		if !t.IsNew() {
			id := t.ID()
			n.ID = &id
		}
		for key, rec := range t.Attributes().All() {
			if n.Attributes == nil {
				n.Attributes = make(map[string]string)
			}
			n.Attributes[key] = rec.Value()
		}
		for key, rec := range t.References().All() {
			if rec.Value() == nil {
				continue
			}
			if n.References == nil {
				n.References = make(map[string]string)
			}
			n.References[key] = rec.Value().UniqueKey()
		}
		for _, ns := range t.Relationships().Keys() {
			if n.Relationships == nil {
				n.Relationships = make(map[string][]string)
			}
			targets := []string{}
			for _, m := range t.Relationships().GetValues(ns) {
				targets = append(targets, m.UniqueKey())
			}
			n.Relationships[ns] = targets
		}
		nodes = append(nodes, n)
	})
	return nodes
}

func (a *app) printTree(g *topics.Graph) {
	p := a.out
	stats := g.Stats()
	p.Title(fmt.Sprintf("%d topics, %d dirty, %d new", stats.Topics, stats.Dirty, stats.New))
	walk(g.Roots(), func(t *topics.Topic, depth int) {
		marker := " "
		if t.IsDirty() {
			marker = p.Dirty("*")
		}
		id := p.Muted("new")
		if !t.IsNew() {
			id = p.Muted(fmt.Sprintf("#%d", t.ID()))
		}
		p.Line("%s %s%s %s %s", marker, strings.Repeat("  ", depth), p.Key(t.Key()), p.Muted("("+t.ContentType()+")"), id)

		indent := strings.Repeat("  ", depth+2)
		if base := t.BaseTopic(); base != nil {
			p.Line("  %sbase → %s", indent, base.UniqueKey())
		}
		for key, rec := range t.References().All() {
			if key == topics.BaseTopicReference || rec.Value() == nil {
				continue
			}
			p.Line("  %s%s → %s", indent, key, rec.Value().UniqueKey())
		}
		namespaces := t.Relationships().Keys()
		slices.Sort(namespaces)
		for _, ns := range namespaces {
			var keys []string
			for _, m := range t.Relationships().GetValues(ns) {
				keys = append(keys, m.UniqueKey())
			}
			p.Line("  %s%s ⇒ [%s]", indent, ns, strings.Join(keys, ", "))
		}
	})
}
