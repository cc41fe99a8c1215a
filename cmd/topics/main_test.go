// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/topicgraph/pkg/logging"
	"github.com/AleutianAI/topicgraph/pkg/topics/schema"
)

const siteFixture = `
version: 2025-03-01T00:00:00Z
topics:
  - key: Root
    content_type: Container
    id: 1
    children:
      - key: About
        content_type: Page
        id: 2
        attributes:
          Title: About us
          Subtitle: Who we are
          View: Home
      - key: Ada
        content_type: Person
        id: 3
        attributes:
          Email: ada@example.com
      - key: Post
        content_type: Article
        base_topic: Root:About
        attributes:
          ReadingTime: "5"
        references:
          Author: Root:Ada
`

const newFixture = `
topics:
  - key: Site
    content_type: Container
    children:
      - key: Home
        content_type: Page
        attributes:
          Title: Welcome
      - key: Team
        content_type: Container
        relationships:
          Members: [Site:Home]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(schema.PathEnv, "")
	schema.Reset()
	t.Cleanup(schema.Reset)

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInspect(t *testing.T) {
	path := writeFile(t, "site.yaml", siteFixture)

	out, err := run(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "4 topics, 1 dirty, 1 new")
	assert.Contains(t, out, "Post (Article) new")
	assert.Contains(t, out, "About (Page) #2")
	assert.Contains(t, out, "base → Root:About")
	assert.Contains(t, out, "Author → Root:Ada")
}

func TestInspect_JSON(t *testing.T) {
	path := writeFile(t, "site.yaml", siteFixture)

	out, err := run(t, "inspect", path, "--json")
	require.NoError(t, err)

	var nodes []inspectNode
	require.NoError(t, json.Unmarshal([]byte(out), &nodes))
	require.Len(t, nodes, 4)
	assert.Equal(t, "Root", nodes[0].UniqueKey)
	post := nodes[3]
	assert.Equal(t, "Root:Post", post.UniqueKey)
	assert.Nil(t, post.ID)
	assert.True(t, post.Dirty)
	assert.Equal(t, "Root:Ada", post.References["Author"])
}

func TestResolve(t *testing.T) {
	path := writeFile(t, "site.yaml", siteFixture)

	out, err := run(t, "resolve", path, "Root:Post", "Subtitle", "--inherit", "base")
	require.NoError(t, err)
	assert.Equal(t, "Who we are\n", out)

	out, err = run(t, "resolve", path, "Root:Post", "Subtitle")
	require.NoError(t, err)
	assert.Equal(t, " (default)\n", out)

	out, err = run(t, "resolve", path, "Root:Post", "Subtitle", "--default", "n/a")
	require.NoError(t, err)
	assert.Equal(t, "n/a (default)\n", out)

	out, err = run(t, "resolve", path, "Root:Post", "View", "--inherit", "parent,base", "--json")
	require.NoError(t, err)
	var res resolveResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Found)
	assert.Equal(t, "Home", res.Value)
	assert.Equal(t, "parent,base", res.Inherit)
}

func TestResolve_Errors(t *testing.T) {
	path := writeFile(t, "site.yaml", siteFixture)

	_, err := run(t, "resolve", path, "Root:Post", "Subtitle", "--inherit", "sideways")
	assert.ErrorContains(t, err, "unknown inheritance")

	_, err = run(t, "resolve", path, "Root:Nowhere", "Subtitle")
	assert.ErrorContains(t, err, "Root:Nowhere")
}

func TestDirty(t *testing.T) {
	path := writeFile(t, "site.yaml", siteFixture)

	out, err := run(t, "dirty", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Root:Post new")
	assert.NotContains(t, out, "Root:About")

	out, err = run(t, "dirty", path, "--json")
	require.NoError(t, err)
	var reports []dirtyReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.True(t, reports[0].New)
	assert.Contains(t, reports[0].Attributes, "ReadingTime")
	assert.Contains(t, reports[0].References, "Author")
}

func TestCheckpoint(t *testing.T) {
	path := writeFile(t, "new.yaml", newFixture)
	db := filepath.Join(t.TempDir(), "db")

	out, err := run(t, "checkpoint", path, "--db", db, "--verify", "--json")
	require.NoError(t, err)

	var report checkpointReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Topics)
	assert.Equal(t, 3, report.Assigned)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 0, report.Dirty)
	require.NotNil(t, report.Verified)
	assert.Equal(t, 3, *report.Verified)
	assert.NotEmpty(t, report.BatchID)

	out, err = run(t, "checkpoint", path, "--in-memory")
	require.NoError(t, err)
	assert.Contains(t, out, "checkpoint saved")
	assert.Contains(t, out, "topics    3 (3 new)")
}

func TestCheckpoint_RequiresDB(t *testing.T) {
	path := writeFile(t, "new.yaml", newFixture)
	_, err := run(t, "checkpoint", path)
	assert.ErrorContains(t, err, "--db")
}

func TestSchema(t *testing.T) {
	out, err := run(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "content types")
	assert.Contains(t, out, "Article : Page")
	assert.Contains(t, out, "Author → Person")

	bad := writeFile(t, "bad.yaml", "content_types:\n  - name: A\n    base: Missing\n")
	_, err = run(t, "schema", bad)
	assert.ErrorIs(t, err, schema.ErrUnknownContentType)
}

func TestSchema_RejectsFixtureValues(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
topics:
  - key: Ada
    content_type: Person
    attributes:
      Email: not-an-email
`)
	_, err := run(t, "inspect", path)
	assert.Error(t, err)
}

func TestLogLevelFlag(t *testing.T) {
	path := writeFile(t, "site.yaml", siteFixture)
	_, err := run(t, "inspect", path, "--log-level", "chatty")
	assert.ErrorIs(t, err, logging.ErrUnknownLevel)
}
