// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

var testVersion = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	cfg := InMemoryConfig()
	cfg.Clock = func() time.Time { return testVersion }
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type site struct {
	g     *topics.Graph
	root  *topics.Topic
	about *topics.Topic
	ada   *topics.Topic
}

func newSite(t *testing.T) *site {
	t.Helper()
	g := topics.NewGraph()
	root, err := g.NewRootTopic("Site", "Container")
	require.NoError(t, err)
	about, err := g.NewTopic(root, "About", "Page")
	require.NoError(t, err)
	ada, err := g.NewTopic(root, "Ada", "Person")
	require.NoError(t, err)

	require.NoError(t, about.SetTitle("About us"))
	require.NoError(t, about.References().SetValue("Author", ada))
	require.NoError(t, about.Relationships().SetTopic("Related", ada))
	return &site{g: g, root: root, about: about, ada: ada}
}

func load(t *testing.T, s *Store) (*topics.Graph, *LoadResult) {
	t.Helper()
	g := topics.NewGraph()
	res, err := s.Load(context.Background(), g)
	require.NoError(t, err)
	return g, res
}

func find(t *testing.T, g *topics.Graph, uniqueKey string) *topics.Topic {
	t.Helper()
	topic, ok := g.FindByUniqueKey(uniqueKey)
	require.True(t, ok, uniqueKey)
	return topic
}

func TestSaveGraph_NewTopics(t *testing.T) {
	s := openStore(t)
	st := newSite(t)

	res, err := s.SaveGraph(context.Background(), st.g)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Topics)
	assert.Len(t, res.Assigned, 3)
	assert.Less(t, res.Assigned[st.root], res.Assigned[st.about])
	assert.Equal(t, 0, res.Skipped)
	assert.NotEmpty(t, res.BatchID.String())
	assert.True(t, res.Version.Equal(testVersion))

	for _, topic := range []*topics.Topic{st.root, st.about, st.ada} {
		assert.False(t, topic.IsNew(), topic.UniqueKey())
		assert.False(t, topic.IsDirty(), topic.UniqueKey())
		assert.Equal(t, res.Assigned[topic], topic.ID())
	}
	assert.Empty(t, st.g.DirtyTopics())
}

func TestLoad_RoundTrip(t *testing.T) {
	s := openStore(t)
	st := newSite(t)
	_, err := s.SaveGraph(context.Background(), st.g)
	require.NoError(t, err)

	g, res := load(t, s)
	assert.Equal(t, 3, res.Topics)
	assert.Empty(t, res.Partial)
	assert.Empty(t, g.DirtyTopics())

	about := find(t, g, "Site:About")
	ada := find(t, g, "Site:Ada")
	assert.Equal(t, st.about.ID(), about.ID())
	assert.Equal(t, "About us", about.Title())
	assert.Equal(t, "Page", about.ContentType())
	assert.Same(t, ada, about.References().GetValue("Author", false))
	assert.Equal(t, []*topics.Topic{ada}, about.Relationships().GetValues("Related"))
	assert.True(t, ada.IncomingRelationships().Contains("Related", about))
	assert.Equal(t, topics.LoadStateFull, about.References().IsFullyLoaded())
	assert.Equal(t, topics.LoadStateFull, about.Relationships().IsFullyLoaded())

	rec, ok := about.Attributes().TryGetValue(topics.TitleAttribute)
	require.True(t, ok)
	assert.False(t, rec.IsDirty())
	assert.True(t, rec.LastModified().Equal(testVersion))
}

func TestSaveGraph_WritesOnlyDirtyRecords(t *testing.T) {
	s := openStore(t)
	st := newSite(t)
	ctx := context.Background()
	_, err := s.SaveGraph(ctx, st.g)
	require.NoError(t, err)

	require.NoError(t, st.about.SetTitle("About the site"))
	res, err := s.SaveGraph(ctx, st.g)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Topics)
	assert.Equal(t, 1, res.Records)
	assert.Empty(t, res.Assigned)
	assert.False(t, st.about.IsDirty())

	res, err = s.SaveGraph(ctx, st.g)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Topics)
	assert.Equal(t, 0, res.Records)

	g, _ := load(t, s)
	assert.Equal(t, "About the site", find(t, g, "Site:About").Title())
}

func TestSave_SkipsEdgesToUnsavedTopics(t *testing.T) {
	s := openStore(t)
	st := newSite(t)
	ctx := context.Background()

	res, err := s.Save(ctx, st.root, st.about)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.True(t, st.ada.IsNew())
	assert.False(t, st.about.Attributes().IsDirty())
	assert.True(t, st.about.References().IsKeyDirty("Author"))
	assert.True(t, st.about.Relationships().IsKeyDirty("Related"))

	res, err = s.SaveGraph(ctx, st.g)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Skipped)
	assert.Empty(t, st.g.DirtyTopics())

	g, _ := load(t, s)
	about := find(t, g, "Site:About")
	assert.Equal(t, "Site:Ada", about.References().GetValue("Author", false).UniqueKey())
	assert.Len(t, about.Relationships().GetValues("Related"), 1)
}

func TestSave_UnsavedParent(t *testing.T) {
	s := openStore(t)
	st := newSite(t)

	_, err := s.Save(context.Background(), st.about)
	assert.ErrorIs(t, err, ErrUnsavedParent)
	assert.True(t, st.about.IsNew())
}

func TestSave_MixedGraphs(t *testing.T) {
	s := openStore(t)
	a := newSite(t)
	b := newSite(t)

	_, err := s.Save(context.Background(), a.root, b.root)
	assert.ErrorIs(t, err, ErrMixedGraphs)
}

func TestSaveGraph_Removals(t *testing.T) {
	s := openStore(t)
	st := newSite(t)
	ctx := context.Background()
	_, err := s.SaveGraph(ctx, st.g)
	require.NoError(t, err)
	adaID := st.ada.ID()

	assert.True(t, st.about.Attributes().Remove(topics.TitleAttribute))
	assert.True(t, st.about.References().Remove("Author"))
	assert.True(t, st.about.Relationships().RemoveTopic("Related", st.ada))
	require.NoError(t, st.g.Delete(st.ada))
	assert.Equal(t, []int{adaID}, st.g.PendingDeletions())

	res, err := s.SaveGraph(ctx, st.g)
	require.NoError(t, err)
	assert.Positive(t, res.Deleted)
	assert.Empty(t, st.g.PendingDeletions())
	assert.False(t, st.about.IsDirty())

	g, res2 := load(t, s)
	assert.Equal(t, 2, res2.Topics)
	_, ok := g.FindByUniqueKey("Site:Ada")
	assert.False(t, ok)
	about := find(t, g, "Site:About")
	assert.Equal(t, "About", about.Title())
	assert.Nil(t, about.References().GetValue("Author", false))
	assert.Empty(t, about.Relationships().GetValues("Related"))
}

func TestSaveGraph_AvoidsIDsInUse(t *testing.T) {
	s := openStore(t)
	g := topics.NewGraph()
	root, err := g.NewRootTopic("Site", "Container", topics.WithID(0), topics.WithLoadedVersion(testVersion))
	require.NoError(t, err)
	child, err := g.NewTopic(root, "New", "Page")
	require.NoError(t, err)

	res, err := s.SaveGraph(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Topics)
	assert.NotEqual(t, 0, child.ID())
	assert.False(t, child.IsNew())
}

func TestLoad_MissingTargetIsPartial(t *testing.T) {
	s := openStore(t)
	st := newSite(t)
	ctx := context.Background()
	_, err := s.SaveGraph(ctx, st.g)
	require.NoError(t, err)
	adaID := st.ada.ID()

	// Drop Ada behind the graph's back.
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		if _, err := deletePrefix(txn, recordPrefix(attributePrefix, adaID)); err != nil {
			return err
		}
		return txn.Delete(topicKey(adaID))
	}))

	g, res := load(t, s)
	about := find(t, g, "Site:About")
	assert.Equal(t, []int{about.ID()}, res.Partial)
	assert.Equal(t, topics.LoadStatePartial, about.References().IsFullyLoaded())
	assert.Equal(t, topics.LoadStatePartial, about.Relationships().IsFullyLoaded())
	assert.Nil(t, about.References().GetValue("Author", false))
}

func TestLoad_CorruptRecord(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(topicKey(5), []byte{0xc1})
	}))

	_, err := s.Load(context.Background(), topics.NewGraph())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoad_OrphanHeader(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		if err := putValue(txn, topicKey(3), &topicHeader{ID: 3, ParentID: 99, Version: testVersion}); err != nil {
			return err
		}
		if err := putValue(txn, recordKey(attributePrefix, 3, topics.KeyAttribute), &attributeValue{Value: "Lost", Version: testVersion}); err != nil {
			return err
		}
		return putValue(txn, recordKey(attributePrefix, 3, topics.ContentTypeAttribute), &attributeValue{Value: "Page", Version: testVersion})
	}))

	_, err := s.Load(context.Background(), topics.NewGraph())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false
	cfg.GCInterval = 0
	ctx := context.Background()

	s, err := Open(cfg)
	require.NoError(t, err)
	st := newSite(t)
	_, err = s.SaveGraph(ctx, st.g)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, dir, s2.Path())
	assert.False(t, s2.InMemory())

	g := topics.NewGraph()
	_, err = s2.Load(ctx, g)
	require.NoError(t, err)
	root := find(t, g, "Site")
	extra, err := g.NewTopic(root, "Contact", "Page")
	require.NoError(t, err)

	res, err := s2.SaveGraph(ctx, g)
	require.NoError(t, err)
	for _, topic := range []*topics.Topic{st.root, st.about, st.ada} {
		assert.NotEqual(t, topic.ID(), res.Assigned[extra])
	}
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.SaveGraph(context.Background(), newSite(t).g)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Load(context.Background(), topics.NewGraph())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestSplitRecordKey(t *testing.T) {
	id, key, err := splitRecordKey(attributePrefix, recordKey(attributePrefix, 42, "Title"))
	require.NoError(t, err)
	assert.Equal(t, 42, id)
	assert.Equal(t, "Title", key)

	_, _, err = splitRecordKey(attributePrefix, []byte("a/x/Title"))
	assert.ErrorIs(t, err, ErrCorrupt)
	_, _, err = splitRecordKey(attributePrefix, []byte("a/0000000001"))
	assert.ErrorIs(t, err, ErrCorrupt)
}
