// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

func TestEmbedded_Parses(t *testing.T) {
	s, err := Embedded()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Version)
	assert.Contains(t, s.Names(), "Article")
	assert.Contains(t, s.Names(), "Event")
}

func TestResolve_MergesBases(t *testing.T) {
	s, err := Parse([]byte(`
content_types:
  - name: Base
    attributes:
      - key: Title
        rules: max=10
      - key: Shared
        type: integer
  - name: Mid
    base: Base
    attributes:
      - key: Shared
        type: double
    references:
      - key: Owner
  - name: Leaf
    base: Mid
    attributes:
      - key: Extra
`))
	require.NoError(t, err)

	leaf, err := s.Resolve("Leaf")
	require.NoError(t, err)
	require.Len(t, leaf.Attributes, 3)
	assert.Equal(t, "Title", leaf.Attributes[0].Key)
	assert.Equal(t, "Shared", leaf.Attributes[1].Key)
	assert.Equal(t, "double", leaf.Attributes[1].Type, "nearest declaration wins")
	assert.Equal(t, "Extra", leaf.Attributes[2].Key)
	require.Len(t, leaf.References, 1)
	assert.Equal(t, "Mid", leaf.Base)

	_, err = s.Resolve("Missing")
	assert.ErrorIs(t, err, ErrUnknownContentType)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "unknown field",
			yaml:    "content_types:\n  - name: A\n    colour: red\n",
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "invalid name",
			yaml:    "content_types:\n  - name: 'bad name'\n",
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "missing name",
			yaml:    "content_types:\n  - base: A\n",
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "duplicate content type",
			yaml:    "content_types:\n  - name: A\n  - name: A\n",
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "duplicate attribute",
			yaml:    "content_types:\n  - name: A\n    attributes:\n      - key: X\n      - key: X\n",
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "unknown type",
			yaml:    "content_types:\n  - name: A\n    attributes:\n      - key: X\n        type: blob\n",
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "unknown rule tag",
			yaml:    "content_types:\n  - name: A\n    attributes:\n      - key: X\n        rules: notarule\n",
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "unknown base",
			yaml:    "content_types:\n  - name: A\n    base: B\n",
			wantErr: ErrUnknownContentType,
		},
		{
			name:    "base cycle",
			yaml:    "content_types:\n  - name: A\n    base: B\n  - name: B\n    base: A\n",
			wantErr: ErrBaseCycle,
		},
		{
			name:    "unknown reference target",
			yaml:    "content_types:\n  - name: A\n    references:\n      - key: R\n        content_types: [Z]\n",
			wantErr: ErrUnknownContentType,
		},
		{
			name:    "empty document",
			yaml:    "",
			wantErr: ErrInvalidSchema,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_TooLarge(t *testing.T) {
	_, err := Parse(make([]byte, MaxYAMLFileSize+1))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func newSchemaGraph(t *testing.T) *topics.Graph {
	t.Helper()
	s, err := Embedded()
	require.NoError(t, err)
	registry := topics.NewAccessorRegistry()
	require.NoError(t, s.Apply(registry))
	return topics.NewGraph(topics.WithRegistry(registry))
}

func TestApply_AttributeRules(t *testing.T) {
	g := newSchemaGraph(t)
	article, err := g.NewRootTopic("Story", "Article")
	require.NoError(t, err)
	place, err := g.NewRootTopic("Hall", "Place")
	require.NoError(t, err)
	person, err := g.NewRootTopic("Ada", "Person")
	require.NoError(t, err)
	event, err := g.NewRootTopic("Launch", "Event")
	require.NoError(t, err)

	tests := []struct {
		name    string
		topic   *topics.Topic
		key     string
		value   string
		wantErr error
		stored  string
	}{
		{"integer in range", article, "ReadingTime", "12", nil, "12"},
		{"integer below range", article, "ReadingTime", "0", topics.ErrOutOfRange, ""},
		{"integer unparseable", article, "ReadingTime", "soon", topics.ErrOutOfRange, ""},
		{"inherited title too long", article, "Title", strings.Repeat("x", 201), topics.ErrOutOfRange, ""},
		{"inherited view key rule", article, "View", "not a key", topics.ErrInvalidKey, ""},
		{"boolean normalized", article, "Featured", "true", nil, "1"},
		{"datetime normalized", article, "PublishDate", "2024-02-03", nil, "2024-02-03T00:00:00Z"},
		{"datetime unparseable", article, "PublishDate", "tomorrow", topics.ErrOutOfRange, ""},
		{"double out of range", place, "Latitude", "91.5", topics.ErrOutOfRange, ""},
		{"double ok", place, "Latitude", "45.50", nil, "45.5"},
		{"email rule", person, "Email", "nobody", topics.ErrOutOfRange, ""},
		{"email ok", person, "Email", "ada@example.com", nil, "ada@example.com"},
		{"undeclared key passes", person, "Nickname", "anything goes", nil, "anything goes"},
		{"built-in still applies", place, "SortOrder", "-1", topics.ErrOutOfRange, ""},
		{"required set", event, "StartDate", "2025-09-01", nil, "2025-09-01T00:00:00Z"},
		{"required cannot clear", event, "StartDate", "", topics.ErrOutOfRange, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.topic.Attributes().SetValue(tt.key, tt.value)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			rec, ok := tt.topic.Attributes().TryGetValue(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.stored, rec.Value())
		})
	}
}

func TestApply_ReferenceRules(t *testing.T) {
	g := newSchemaGraph(t)
	article, err := g.NewRootTopic("Story", "Article")
	require.NoError(t, err)
	person, err := g.NewRootTopic("Ada", "Person")
	require.NoError(t, err)
	page, err := g.NewRootTopic("About", "Page")
	require.NoError(t, err)

	err = article.References().SetValue("Author", page)
	require.ErrorIs(t, err, topics.ErrOutOfRange)
	var verr *topics.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Author", verr.Key)
	assert.False(t, article.References().Contains("Author"))

	require.NoError(t, article.References().SetValue("Author", person))
	require.NoError(t, article.References().SetValue("Author", nil))
	require.NoError(t, article.References().SetValue("Related", page), "undeclared references pass")
	require.ErrorIs(t, article.SetBaseTopic(article), topics.ErrInvalidOperation)
}

func TestDefault_CachesAndResets(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv(PathEnv, "")

	first, err := Default(context.Background())
	require.NoError(t, err)
	second, err := Default(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)

	Reset()
	third, err := Default(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestDefault_ExternalOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("content_types:\n  - name: Only\n"), 0o600))
	t.Setenv(PathEnv, path)

	s, err := Default(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Only"}, s.Names())
}

func TestDefault_BadExternalFallsBack(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv(PathEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	s, err := Default(context.Background())
	require.NoError(t, err)
	assert.Contains(t, s.Names(), "Article")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("content_types:\n  - name: A\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("content_types:\n  - name: A\n    base: A\n"), 0o600))

	s, err := LoadFile(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, s.Names())

	_, err = LoadFile(context.Background(), bad)
	assert.ErrorIs(t, err, ErrBaseCycle)

	_, err = LoadFile(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
