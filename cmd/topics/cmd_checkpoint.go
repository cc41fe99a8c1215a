// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/topicgraph/pkg/topics"
	"github.com/AleutianAI/topicgraph/pkg/topics/checkpoint"
)

type checkpointReport struct {
	BatchID  string    `json:"batch_id"`
	Version  time.Time `json:"version"`
	Topics   int       `json:"topics"`
	Assigned int       `json:"assigned"`
	Records  int       `json:"records"`
	Deleted  int       `json:"deleted"`
	Skipped  int       `json:"skipped"`
	Dirty    int       `json:"dirty_after"`
	Verified *int      `json:"verified_topics,omitempty"`
}

func (a *app) checkpointCmd() *cobra.Command {
	var (
		dbPath   string
		inMemory bool
		verify   bool
	)
	cmd := &cobra.Command{
		Use:   "checkpoint FIXTURE",
		Short: "Persist a fixture's dirty state to BadgerDB",
		Long: `checkpoint loads FIXTURE, saves every dirty topic to the store and prints
what was written. Topics without an id are assigned one. With --verify the
store is loaded back into a fresh graph.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if dbPath == "" && !inMemory {
				return errors.New("--db is required unless --in-memory is set")
			}
			g, _, err := a.loadFixture(args[0])
			if err != nil {
				return err
			}

			cfg := checkpoint.DefaultConfig(dbPath)
			cfg.InMemory = inMemory
			cfg.Logger = a.logger.Slog()
			store, err := checkpoint.Open(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			ctx := cmd.Context()
			res, err := store.SaveGraph(ctx, g)
			if err != nil {
				return fmt.Errorf("saving %s: %w", args[0], err)
			}
			report := checkpointReport{
				BatchID:  res.BatchID.String(),
				Version:  res.Version,
				Topics:   res.Topics,
				Assigned: len(res.Assigned),
				Records:  res.Records,
				Deleted:  res.Deleted,
				Skipped:  res.Skipped,
				Dirty:    len(g.DirtyTopics()),
			}
			if verify {
				loaded, err := store.Load(ctx, topics.NewGraph(topics.WithRegistry(a.registry)))
				if err != nil {
					return fmt.Errorf("verifying: %w", err)
				}
				report.Verified = &loaded.Topics
			}

			if a.out.json {
				return a.out.JSON(report)
			}
			lines := []string{
				a.out.Success("checkpoint saved") + " " + a.out.Muted(report.BatchID),
				fmt.Sprintf("topics    %d (%d new)", report.Topics, report.Assigned),
				fmt.Sprintf("records   %d written, %d deleted", report.Records, report.Deleted),
			}
			if report.Skipped > 0 {
				lines = append(lines, a.out.Dirty(fmt.Sprintf("skipped   %d edges", report.Skipped)))
			}
			if report.Verified != nil {
				lines = append(lines, fmt.Sprintf("verified  %d topics loaded", *report.Verified))
			}
			a.out.Box(lines...)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "BadgerDB directory")
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "use an in-memory store (for dry runs)")
	cmd.Flags().BoolVar(&verify, "verify", false, "load the store back after saving")
	return cmd
}
