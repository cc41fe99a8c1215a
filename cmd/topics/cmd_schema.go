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

	"github.com/AleutianAI/topicgraph/pkg/topics/schema"
)

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [FILE]",
		Short: "Validate a content schema and print its resolved content types",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.schema
			if len(args) == 1 {
				var err error
				s, err = schema.LoadFile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			}
			resolved := make([]schema.ContentType, 0, len(s.ContentTypes))
			for _, name := range s.Names() {
				ct, err := s.Resolve(name)
				if err != nil {
					return err
				}
				resolved = append(resolved, ct)
			}
			if a.out.json {
				return a.out.JSON(resolved)
			}

			a.out.Title(fmt.Sprintf("%d content types", len(resolved)))
			for _, ct := range resolved {
				header := a.out.Key(ct.Name)
				if ct.Base != "" {
					header += a.out.Muted(" : " + ct.Base)
				}
				a.out.Line("%s", header)
				for _, attr := range ct.Attributes {
					var extra []string
					if attr.Rules != "" {
						extra = append(extra, attr.Rules)
					}
					if attr.Required {
						extra = append(extra, "required")
					}
					line := fmt.Sprintf("    %s %s", attr.Key, a.out.Muted(attr.Type))
					if len(extra) > 0 {
						line += " " + a.out.Muted("["+strings.Join(extra, "; ")+"]")
					}
					a.out.Line("%s", line)
				}
				for _, ref := range ct.References {
					a.out.Line("    %s → %s", ref.Key, strings.Join(ref.ContentTypes, " | "))
				}
			}
			return nil
		},
	}
}
