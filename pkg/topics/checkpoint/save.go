// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

// Result summarizes one Save.
type Result struct {
	// BatchID identifies the save in logs and traces.
	BatchID uuid.UUID

	// Version is the stamp written with every record and passed to
	// MarkClean.
	Version time.Time

	// Topics is the number of topics in the batch.
	Topics int

	// Assigned maps each newly saved topic to its new id.
	Assigned map[*topics.Topic]int

	// Records is the number of records written.
	Records int

	// Deleted is the number of records and topics deleted.
	Deleted int

	// Skipped is the number of edges left dirty because their target has
	// never been saved.
	Skipped int
}

// Save persists ts.
//
// Description:
//
//	New topics receive ids from the sequence, parents first, and have
//	every record written. Other topics have their dirty records written
//	and their removed keys deleted. Everything is written in one
//	transaction. After commit, new topics take their ids and each saved
//	collection is marked clean with the batch version.
//
//	A reference or relationship namespace pointing at a new topic outside
//	the batch cannot be written yet; it is skipped and stays dirty.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	ts - Topics to save. All must belong to the same graph.
//
// Outputs:
//
//	*Result - What was written.
//	error - Non-nil if nothing was committed.
//
// Errors:
//
//	ErrUnsavedParent - a new topic's parent is new and not in ts.
//	ErrMixedGraphs - ts spans graphs.
//	ErrClosed - the store is closed.
//	topics.ErrTopicNotFound - a topic was deleted from its graph.
func (s *Store) Save(ctx context.Context, ts ...*topics.Topic) (*Result, error) {
	var g *topics.Graph
	for _, t := range ts {
		if t != nil {
			g = t.Graph()
			break
		}
	}
	return s.save(ctx, g, ts, nil)
}

// SaveGraph persists every dirty topic of g and the deletions g has queued,
// then accepts those deletions.
func (s *Store) SaveGraph(ctx context.Context, g *topics.Graph) (*Result, error) {
	deletions := g.PendingDeletions()
	res, err := s.save(ctx, g, g.DirtyTopics(), deletions)
	if err != nil {
		return nil, err
	}
	g.AcceptDeletions(deletions...)
	return res, nil
}

func (s *Store) save(ctx context.Context, g *topics.Graph, ts []*topics.Topic, deletions []int) (*Result, error) {
	ctx, span := tracer.Start(ctx, "checkpoint.Store.Save",
		trace.WithAttributes(
			attribute.Int("checkpoint.topics", len(ts)),
			attribute.Int("checkpoint.deletions", len(deletions)),
		),
	)
	defer span.End()
	start := time.Now()

	res := &Result{
		BatchID:  uuid.New(),
		Version:  s.now().UTC(),
		Assigned: make(map[*topics.Topic]int),
	}
	span.SetAttributes(attribute.String("checkpoint.batch_id", res.BatchID.String()))
	logger := loggerWithTrace(ctx, s.logger).With(slog.String("batch_id", res.BatchID.String()))

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		savesTotal.WithLabelValues("error").Inc()
		logger.Warn("checkpoint save failed", slog.String("error", err.Error()))
		return nil, err
	}

	batch, err := orderBatch(g, ts)
	if err != nil {
		return fail(err)
	}
	res.Topics = len(batch)
	if len(batch) == 0 && len(deletions) == 0 {
		savesTotal.WithLabelValues("empty").Inc()
		return res, nil
	}

	var writes []*topicWrite
	err = s.withTxn(ctx, func(txn *badger.Txn) error {
		writes = writes[:0]
		clear(res.Assigned)
		res.Records, res.Deleted, res.Skipped = 0, 0, 0

		for _, t := range batch {
			if !t.IsNew() {
				continue
			}
			id, err := s.allocateID(txn, g)
			if err != nil {
				return err
			}
			res.Assigned[t] = id
		}
		w := &batchWriter{txn: txn, version: res.Version, assigned: res.Assigned, result: res}
		for _, t := range batch {
			tw, err := w.writeTopic(t)
			if err != nil {
				return fmt.Errorf("saving %s: %w", t.UniqueKey(), err)
			}
			writes = append(writes, tw)
		}
		for _, id := range deletions {
			if err := w.deleteTopic(id); err != nil {
				return fmt.Errorf("deleting topic %d: %w", id, err)
			}
		}
		return nil
	})
	saveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fail(err)
	}

	for _, t := range batch {
		if id, ok := res.Assigned[t]; ok {
			if err := t.SetID(id); err != nil {
				// Committed already; the graph and the store now disagree.
				logger.Error("assigning saved id",
					slog.String("topic", t.UniqueKey()),
					slog.Int("id", id),
					slog.String("error", err.Error()))
				return fail(fmt.Errorf("assigning id %d to %s: %w", id, t.UniqueKey(), err))
			}
		}
	}
	for _, tw := range writes {
		tw.markClean(res.Version)
	}

	savesTotal.WithLabelValues("ok").Inc()
	recordSkippedEdges(ctx, res.Skipped)
	span.SetAttributes(
		attribute.Int("checkpoint.records", res.Records),
		attribute.Int("checkpoint.deleted", res.Deleted),
		attribute.Int("checkpoint.skipped", res.Skipped),
	)
	logger.Info("checkpoint saved",
		slog.Int("topics", res.Topics),
		slog.Int("assigned", len(res.Assigned)),
		slog.Int("records", res.Records),
		slog.Int("deleted", res.Deleted),
		slog.Int("skipped", res.Skipped),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

// orderBatch validates ts and orders it parents first.
func orderBatch(g *topics.Graph, ts []*topics.Topic) ([]*topics.Topic, error) {
	seen := make(map[*topics.Topic]struct{}, len(ts))
	batch := make([]*topics.Topic, 0, len(ts))
	for _, t := range ts {
		if t == nil {
			continue
		}
		if t.Graph() != g {
			return nil, fmt.Errorf("%w: %s", ErrMixedGraphs, t.UniqueKey())
		}
		if t.IsDeleted() {
			return nil, fmt.Errorf("%w: %s was deleted", topics.ErrTopicNotFound, t.UniqueKey())
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		batch = append(batch, t)
	}
	for _, t := range batch {
		p := t.Parent()
		if !t.IsNew() || p == nil || !p.IsNew() {
			continue
		}
		if _, ok := seen[p]; !ok {
			return nil, fmt.Errorf("%w: %s needs %s", ErrUnsavedParent, t.UniqueKey(), p.UniqueKey())
		}
	}
	slices.SortStableFunc(batch, func(a, b *topics.Topic) int {
		if d := depth(a) - depth(b); d != 0 {
			return d
		}
		return int(a.Slot() - b.Slot())
	})
	return batch, nil
}

func depth(t *topics.Topic) int {
	d := 0
	for p := t.Parent(); p != nil; p = p.Parent() {
		d++
	}
	return d
}

// allocateID takes the next sequence value not used by g or the store.
func (s *Store) allocateID(txn *badger.Txn, g *topics.Graph) (int, error) {
	for {
		next, err := s.seq.Next()
		if err != nil {
			return 0, fmt.Errorf("next topic id: %w", err)
		}
		id := int(next)
		if _, taken := g.TopicByID(id); taken {
			continue
		}
		stored, err := exists(txn, topicKey(id))
		if err != nil {
			return 0, fmt.Errorf("checking topic id %d: %w", id, err)
		}
		if !stored {
			return id, nil
		}
	}
}

type batchWriter struct {
	txn      *badger.Txn
	version  time.Time
	assigned map[*topics.Topic]int
	result   *Result
}

// topicWrite remembers which keys of one topic reached the store.
type topicWrite struct {
	topic         *topics.Topic
	attributes    []string
	references    []string
	relationships []string
	skipped       bool
}

// idOf returns t's persisted id, or the id assigned in this batch.
func (w *batchWriter) idOf(t *topics.Topic) (int, bool) {
	if !t.IsNew() {
		return t.ID(), true
	}
	id, ok := w.assigned[t]
	return id, ok
}

func (w *batchWriter) put(kind string, key []byte, v any) error {
	if err := putValue(w.txn, key, v); err != nil {
		return err
	}
	w.result.Records++
	recordsWrittenTotal.WithLabelValues(kind).Inc()
	return nil
}

func (w *batchWriter) delete(kind string, key []byte) error {
	if err := deleteKey(w.txn, key); err != nil {
		return err
	}
	w.result.Deleted++
	recordsWrittenTotal.WithLabelValues(kind + "_delete").Inc()
	return nil
}

func (w *batchWriter) writeTopic(t *topics.Topic) (*topicWrite, error) {
	tw := &topicWrite{topic: t}
	id, _ := w.idOf(t)
	isNew := t.IsNew()

	if isNew {
		parentID := NoParent
		if p := t.Parent(); p != nil {
			pid, ok := w.idOf(p)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnsavedParent, p.UniqueKey())
			}
			parentID = pid
		}
		hdr := topicHeader{ID: id, ParentID: parentID, Version: w.version}
		if err := w.put("topic", topicKey(id), &hdr); err != nil {
			return nil, err
		}
	}

	for key, rec := range t.Attributes().All() {
		if !isNew && !rec.IsDirty() {
			continue
		}
		k := recordKey(attributePrefix, id, key)
		var err error
		if rec.Value() == "" {
			err = w.delete("attribute", k)
		} else {
			err = w.put("attribute", k, &attributeValue{Value: rec.Value(), Version: w.version})
		}
		if err != nil {
			return nil, err
		}
		tw.attributes = append(tw.attributes, key)
	}
	for _, key := range t.Attributes().DeletedItems() {
		if err := w.delete("attribute", recordKey(attributePrefix, id, key)); err != nil {
			return nil, err
		}
		tw.attributes = append(tw.attributes, key)
	}

	for key, rec := range t.References().All() {
		if !isNew && !rec.IsDirty() {
			continue
		}
		k := recordKey(referencePrefix, id, key)
		target := rec.Value()
		if target == nil {
			if err := w.delete("reference", k); err != nil {
				return nil, err
			}
			tw.references = append(tw.references, key)
			continue
		}
		targetID, ok := w.idOf(target)
		if !ok {
			tw.skipped = true
			w.result.Skipped++
			continue
		}
		if err := w.put("reference", k, &referenceValue{TargetID: targetID, Version: w.version}); err != nil {
			return nil, err
		}
		tw.references = append(tw.references, key)
	}
	for _, key := range t.References().DeletedItems() {
		if err := w.delete("reference", recordKey(referencePrefix, id, key)); err != nil {
			return nil, err
		}
		tw.references = append(tw.references, key)
	}

	rels := t.Relationships()
	for _, ns := range rels.Keys() {
		if !isNew && !rels.IsKeyDirty(ns) {
			continue
		}
		members := rels.GetValues(ns)
		targetIDs := make([]int, 0, len(members))
		for _, m := range members {
			mid, ok := w.idOf(m)
			if !ok {
				break
			}
			targetIDs = append(targetIDs, mid)
		}
		if len(targetIDs) < len(members) {
			tw.skipped = true
			w.result.Skipped++
			continue
		}
		k := recordKey(relationshipPrefix, id, ns)
		var err error
		if len(targetIDs) == 0 {
			err = w.delete("relationship", k)
		} else {
			err = w.put("relationship", k, &relationshipValue{TargetIDs: targetIDs, Version: w.version})
		}
		if err != nil {
			return nil, err
		}
		tw.relationships = append(tw.relationships, ns)
	}
	for _, ns := range rels.DeletedItems() {
		if err := w.delete("relationship", recordKey(relationshipPrefix, id, ns)); err != nil {
			return nil, err
		}
		tw.relationships = append(tw.relationships, ns)
	}
	return tw, nil
}

func (w *batchWriter) deleteTopic(id int) error {
	for _, prefix := range []string{attributePrefix, referencePrefix, relationshipPrefix} {
		n, err := deletePrefix(w.txn, recordPrefix(prefix, id))
		if err != nil {
			return err
		}
		w.result.Deleted += n
	}
	return w.delete("topic", topicKey(id))
}

// markClean clears what was written. When nothing was skipped the whole
// topic is marked clean; otherwise only the written keys.
func (tw *topicWrite) markClean(version time.Time) {
	if !tw.skipped {
		tw.topic.MarkClean(version)
		return
	}
	for _, key := range tw.attributes {
		tw.topic.Attributes().MarkKeyClean(key, version)
	}
	for _, key := range tw.references {
		tw.topic.References().MarkKeyClean(key, version)
	}
	for _, ns := range tw.relationships {
		tw.topic.Relationships().MarkKeyClean(ns, version)
	}
}
