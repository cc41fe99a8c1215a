// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package topics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationships_ReciprocalMaintenance(t *testing.T) {
	g := newTestGraph(t)
	a := mustTopic(t, g, nil, "A")
	b := mustTopic(t, g, nil, "B")

	require.NoError(t, a.Relationships().SetTopic("Friends", b))
	assert.Contains(t, b.IncomingRelationships().GetValues("Friends"), a)

	assert.True(t, a.Relationships().RemoveTopic("Friends", b))
	assert.NotContains(t, b.IncomingRelationships().GetValues("Friends"), a)
	assert.False(t, b.IncomingRelationships().Contains("Friends", a))
}

func TestRelationships_SetSemanticsAndDirtiness(t *testing.T) {
	g := newTestGraph(t)
	a := savedTopic(t, g, nil, "A", 1)
	b := savedTopic(t, g, nil, "B", 2)
	c := savedTopic(t, g, nil, "C", 3)
	rels := a.Relationships()

	require.NoError(t, rels.SetTopic("Friends", b))
	assert.True(t, rels.IsKeyDirty("Friends"))
	rels.MarkClean(time.Time{})
	require.False(t, rels.IsDirty())

	require.NoError(t, rels.SetTopic("Friends", b))
	assert.False(t, rels.IsDirty(), "re-adding a clean member is a no-op")
	assert.Len(t, rels.GetValues("Friends"), 1)
	assert.Equal(t, 1, b.IncomingRelationships().Len())

	require.NoError(t, rels.SetTopic("Friends", c))
	assert.True(t, rels.IsKeyDirty("Friends"), "a second member dirties the namespace")
	assert.Equal(t, []*Topic{b, c}, rels.GetValues("Friends"))
}

func TestRelationships_RemoveMissingIsNotDirty(t *testing.T) {
	g := newTestGraph(t)
	a := savedTopic(t, g, nil, "A", 1)
	b := savedTopic(t, g, nil, "B", 2)
	rels := a.Relationships()

	assert.False(t, rels.RemoveTopic("Friends", b))
	assert.False(t, rels.IsDirty())

	require.NoError(t, rels.SetTopic("Friends", b, WithoutDirty()))
	assert.False(t, rels.IsDirty())
	assert.False(t, rels.RemoveTopic("Enemies", b))
	assert.False(t, rels.IsDirty())

	assert.True(t, rels.RemoveTopic("Friends", b))
	assert.True(t, rels.IsKeyDirty("Friends"))
	assert.True(t, rels.ContainsKey("Friends"))
	assert.Empty(t, rels.GetValues("Friends"))
}

func TestRelationships_ClearNamespace(t *testing.T) {
	g := newTestGraph(t)
	a := savedTopic(t, g, nil, "A", 1)
	b := savedTopic(t, g, nil, "B", 2)
	c := savedTopic(t, g, nil, "C", 3)
	rels := a.Relationships()

	rels.Clear("Friends")
	assert.False(t, rels.IsDirty(), "clearing a missing namespace is a no-op")

	require.NoError(t, rels.SetTopic("Friends", b, WithoutDirty()))
	require.NoError(t, rels.SetTopic("Friends", c, WithoutDirty()))
	require.False(t, rels.IsDirty())

	rels.Clear("Friends")
	assert.True(t, rels.IsKeyDirty("Friends"))
	assert.Empty(t, rels.GetValues("Friends"))
	assert.False(t, b.IncomingRelationships().Contains("Friends", a))
	assert.False(t, c.IncomingRelationships().Contains("Friends", a))

	rels.MarkClean(time.Time{})
	rels.Clear("Friends")
	assert.False(t, rels.IsDirty(), "clearing an empty namespace is a no-op")
}

func TestRelationships_ClearAllAndRemoveNamespace(t *testing.T) {
	g := newTestGraph(t)
	a := savedTopic(t, g, nil, "A", 1)
	b := savedTopic(t, g, nil, "B", 2)
	rels := a.Relationships()
	require.NoError(t, rels.SetTopic("Friends", b))
	require.NoError(t, rels.SetTopic("Colleagues", b))

	rels.ClearAll()
	assert.Equal(t, 0, rels.EdgeCount())
	assert.Equal(t, 0, b.IncomingRelationships().Len())

	require.NoError(t, rels.SetTopic("Friends", b))
	assert.True(t, rels.RemoveNamespace("Friends"))
	assert.False(t, rels.RemoveNamespace("Friends"))
	assert.Equal(t, []string{"Friends"}, rels.DeletedItems())
	assert.False(t, b.IncomingRelationships().Contains("Friends", a))
}

func TestRelationships_GetAllValues(t *testing.T) {
	g := newTestGraph(t)
	a := mustTopic(t, g, nil, "A")
	b := mustTopic(t, g, nil, "B")
	c, err := g.NewRootTopic("C", "Event")
	require.NoError(t, err)
	d := mustTopic(t, g, nil, "D")
	rels := a.Relationships()

	require.NoError(t, rels.SetTopic("Friends", c))
	require.NoError(t, rels.SetTopic("Friends", b))
	require.NoError(t, rels.SetTopic("Colleagues", d))
	require.NoError(t, rels.SetTopic("Colleagues", b))

	assert.Equal(t, []*Topic{c, b, d}, rels.GetAllValues())
	assert.Equal(t, []*Topic{b, d}, rels.GetAllValues("Page"))
	assert.Equal(t, []*Topic{c}, rels.AsReadOnly().GetAllValues("Event"))
	assert.Empty(t, rels.GetAllValues("Missing"))
}

func TestRelationships_IncomingIsDerived(t *testing.T) {
	g := newTestGraph(t)
	a := mustTopic(t, g, nil, "A")
	b := mustTopic(t, g, nil, "B")
	require.NoError(t, a.Relationships().SetTopic("Friends", b))

	incoming := b.incoming
	assert.True(t, incoming.IsIncoming())
	assert.False(t, incoming.IsDirty())
	require.ErrorIs(t, incoming.SetTopic("Friends", a), ErrInvalidOperation)
	assert.False(t, incoming.RemoveTopic("Friends", a))
	assert.False(t, incoming.RemoveNamespace("Friends"))
	assert.True(t, b.IncomingRelationships().Contains("Friends", a))
}

func TestRelationships_SharedNamespaceRefcount(t *testing.T) {
	g := newTestGraph(t)
	a := mustTopic(t, g, nil, "A")
	b := mustTopic(t, g, nil, "B")

	require.NoError(t, a.References().SetValue("Owner", b))
	require.NoError(t, a.Relationships().SetTopic("Owner", b))
	assert.Equal(t, []*Topic{a}, b.IncomingRelationships().GetValues("Owner"))

	require.True(t, a.Relationships().RemoveTopic("Owner", b))
	assert.True(t, b.IncomingRelationships().Contains("Owner", a), "the reference still points at b")

	require.True(t, a.References().Remove("Owner"))
	assert.False(t, b.IncomingRelationships().Contains("Owner", a))
}

func TestRelationships_InvalidInput(t *testing.T) {
	g := newTestGraph(t)
	a := mustTopic(t, g, nil, "A")
	b := mustTopic(t, g, nil, "B")

	require.ErrorIs(t, a.Relationships().SetTopic("Friends", nil), ErrInvalidOperation)
	require.ErrorIs(t, a.Relationships().SetTopic("", b), ErrInvalidKey)
	assert.Equal(t, 0, a.Relationships().Len())
}

func TestRelationships_UnsavedMemberPinsNamespace(t *testing.T) {
	g := newTestGraph(t)
	a := savedTopic(t, g, nil, "A", 1)
	draft := mustTopic(t, g, nil, "Draft")
	rels := a.Relationships()

	require.NoError(t, rels.SetTopic("Friends", draft, WithoutDirty()))
	rels.MarkClean(time.Time{})
	assert.True(t, rels.IsKeyDirty("Friends"))

	require.NoError(t, draft.SetID(2))
	rels.MarkClean(time.Time{})
	assert.False(t, rels.IsDirty())
}

func TestRelationships_LoadStateAndVersion(t *testing.T) {
	g := newTestGraph(t)
	a := savedTopic(t, g, nil, "A", 1)
	b := savedTopic(t, g, nil, "B", 2)
	rels := a.Relationships()
	loadedAt := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, LoadStateUnknown, rels.IsFullyLoaded())
	rels.SetFullyLoaded(LoadStateFull)
	assert.Equal(t, LoadStateFull, rels.AsReadOnly().IsFullyLoaded())

	require.NoError(t, rels.SetTopic("Friends", b, WithoutDirty(), WithVersion(loadedAt)))
	stamp, ok := rels.LastModified("Friends")
	require.True(t, ok)
	assert.Equal(t, loadedAt, stamp)
	_, ok = rels.LastModified("Missing")
	assert.False(t, ok)
}
