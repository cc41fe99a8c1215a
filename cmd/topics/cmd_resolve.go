// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

type resolveResult struct {
	Topic     string `json:"topic"`
	Attribute string `json:"attribute"`
	Inherit   string `json:"inherit"`
	Value     string `json:"value"`
	Found     bool   `json:"found"`
}

func (a *app) resolveCmd() *cobra.Command {
	var (
		inherit      []string
		defaultValue string
	)
	cmd := &cobra.Command{
		Use:   "resolve FIXTURE UNIQUEKEY ATTRIBUTE",
		Short: "Resolve an attribute through parent and base inheritance",
		Example: `  topics resolve site.yaml Root:Blog:First Layout --inherit base
  topics resolve site.yaml Root:Blog:First Theme --inherit parent,base --default light`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseInheritance(inherit)
			if err != nil {
				return err
			}
			g, _, err := a.loadFixture(args[0])
			if err != nil {
				return err
			}
			t, ok := g.FindByUniqueKey(args[1])
			if !ok {
				return fmt.Errorf("%w: %s", topics.ErrTopicNotFound, args[1])
			}

			// An empty-string default cannot tell "missing" from "empty", so
			// probe with a sentinel first.
			const missing = "\x00"
			value := t.Attributes().GetValue(args[2], missing, mode)
			res := resolveResult{
				Topic:     t.UniqueKey(),
				Attribute: args[2],
				Inherit:   mode.String(),
				Value:     value,
				Found:     value != missing,
			}
			if !res.Found {
				res.Value = defaultValue
			}

			if a.out.json {
				return a.out.JSON(res)
			}
			if res.Found {
				a.out.Line("%s", res.Value)
			} else {
				a.out.Line("%s %s", res.Value, a.out.Muted("(default)"))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&inherit, "inherit", nil, "inheritance: none, parent, base, all (comma separated)")
	cmd.Flags().StringVar(&defaultValue, "default", "", "value printed when nothing resolves")
	return cmd
}

func parseInheritance(values []string) (topics.Inheritance, error) {
	mode := topics.InheritNone
	for _, v := range values {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "none":
		case "parent":
			mode |= topics.InheritFromParent
		case "base":
			mode |= topics.InheritFromBase
		case "all":
			mode |= topics.InheritAll
		default:
			return topics.InheritNone, fmt.Errorf("unknown inheritance %q (want none, parent, base or all)", v)
		}
	}
	return mode, nil
}
