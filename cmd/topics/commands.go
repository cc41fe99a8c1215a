// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/topicgraph/pkg/logging"
	"github.com/AleutianAI/topicgraph/pkg/topics"
	"github.com/AleutianAI/topicgraph/pkg/topics/fixture"
	"github.com/AleutianAI/topicgraph/pkg/topics/schema"
)

// app holds global flags and the state built from them before each command.
type app struct {
	logLevel   string
	jsonOutput bool
	schemaPath string

	logger   *logging.Logger
	schema   *schema.Schema
	registry *topics.AccessorRegistry
	out      *printer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "topics",
		Short: "Inspect, resolve and checkpoint topic graph fixtures",
		Long: `topics loads YAML fixtures into a change-tracked topic graph under the
content schema, then reports on or persists the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return a.logger.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "emit JSON output and JSON logs")
	root.PersistentFlags().StringVar(&a.schemaPath, "schema", "", "content schema file (default: $"+schema.PathEnv+" or embedded)")

	root.AddCommand(
		a.inspectCmd(),
		a.resolveCmd(),
		a.dirtyCmd(),
		a.checkpointCmd(),
		a.schemaCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		JSON:    a.jsonOutput,
		Service: "topics",
		Writer:  cmd.ErrOrStderr(),
	})
	a.out = newPrinter(cmd.OutOrStdout(), a.jsonOutput)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.schemaPath != "" {
		a.schema, err = schema.LoadFile(ctx, a.schemaPath)
	} else {
		a.schema, err = schema.Default(ctx)
	}
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}
	a.registry = topics.NewAccessorRegistry()
	if err := a.schema.Apply(a.registry); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	a.logger.Debug("schema applied", slog.Int("content_types", len(a.schema.ContentTypes)))
	return nil
}

// loadFixture builds the fixture at path into a graph governed by the
// schema.
func (a *app) loadFixture(path string) (*topics.Graph, *fixture.Result, error) {
	doc, err := fixture.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	g := topics.NewGraph(topics.WithRegistry(a.registry))
	res, err := doc.Build(g, a.logger.Slog())
	if err != nil {
		return nil, nil, fmt.Errorf("building %s: %w", path, err)
	}
	return g, res, nil
}

// walk visits topics depth first in child order.
func walk(roots []*topics.Topic, fn func(t *topics.Topic, depth int)) {
	var visit func(t *topics.Topic, depth int)
	visit = func(t *topics.Topic, depth int) {
		fn(t, depth)
		for _, c := range t.Children() {
			visit(c, depth+1)
		}
	}
	for _, r := range roots {
		visit(r, 0)
	}
}
