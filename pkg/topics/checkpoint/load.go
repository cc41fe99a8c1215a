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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

// LoadResult summarizes one Load.
type LoadResult struct {
	// Topics is the number of topics created.
	Topics int

	// Partial lists the ids of topics with an edge whose target is not
	// stored. Their collections are marked LoadStatePartial.
	Partial []int
}

type storedAttribute struct {
	key   string
	value attributeValue
}

type storedReference struct {
	key   string
	value referenceValue
}

type storedRelationship struct {
	namespace string
	value     relationshipValue
}

// snapshot is everything read from the store in one transaction.
type snapshot struct {
	headers       map[int]topicHeader
	children      map[int][]int
	attributes    map[int][]storedAttribute
	references    map[int][]storedReference
	relationships map[int][]storedRelationship
}

// Load rehydrates every stored topic into g.
//
// Description:
//
//	Reads the store in one transaction, then creates topics parents first
//	through the trusted path, so every record is clean and stamped with its
//	stored version. References and relationships are resolved after all
//	topics exist. An edge whose target is missing is dropped with a warning
//	and its collection marked LoadStatePartial; the rest are marked
//	LoadStateFull.
//
//	Load is not transactional on the graph side. On error, discard g.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	g - The graph to populate. Must not already hold the stored ids.
//
// Errors:
//
//	ErrCorrupt - a record cannot be decoded or the tree is inconsistent.
//	Graph and accessor errors from the topics package, wrapped.
func (s *Store) Load(ctx context.Context, g *topics.Graph) (*LoadResult, error) {
	ctx, span := tracer.Start(ctx, "checkpoint.Store.Load")
	defer span.End()
	start := time.Now()
	logger := loggerWithTrace(ctx, s.logger)

	res, err := s.load(ctx, g, logger)
	recordLoadMetrics(ctx, time.Since(start), resTopics(res), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("checkpoint.topics", res.Topics),
		attribute.Int("checkpoint.partial", len(res.Partial)),
	)
	logger.Info("checkpoint loaded",
		slog.Int("topics", res.Topics),
		slog.Int("partial", len(res.Partial)),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

func resTopics(res *LoadResult) int {
	if res == nil {
		return 0
	}
	return res.Topics
}

func (s *Store) load(ctx context.Context, g *topics.Graph, logger *slog.Logger) (*LoadResult, error) {
	snap, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	res := &LoadResult{}
	created := make([]*topics.Topic, 0, len(snap.headers))
	var create func(parent *topics.Topic, id int) error
	create = func(parent *topics.Topic, id int) error {
		t, err := snap.createTopic(g, parent, id)
		if err != nil {
			return err
		}
		created = append(created, t)
		for _, child := range snap.children[id] {
			if err := create(t, child); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range snap.children[NoParent] {
		if err := create(nil, id); err != nil {
			return nil, err
		}
	}
	if len(created) != len(snap.headers) {
		return nil, fmt.Errorf("%w: %d of %d topics unreachable from a root",
			ErrCorrupt, len(snap.headers)-len(created), len(snap.headers))
	}
	res.Topics = len(created)

	for _, t := range created {
		complete, err := snap.linkTopic(g, t, logger)
		if err != nil {
			return nil, err
		}
		state := topics.LoadStateFull
		if !complete {
			state = topics.LoadStatePartial
			res.Partial = append(res.Partial, t.ID())
		}
		t.References().SetFullyLoaded(state)
		t.Relationships().SetFullyLoaded(state)
	}
	return res, nil
}

// read decodes the whole store.
func (s *Store) read(ctx context.Context) (*snapshot, error) {
	snap := &snapshot{
		headers:       make(map[int]topicHeader),
		children:      make(map[int][]int),
		attributes:    make(map[int][]storedAttribute),
		references:    make(map[int][]storedReference),
		relationships: make(map[int][]storedRelationship),
	}
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		if err := scan(txn, topicPrefix, func(item *badger.Item) error {
			var hdr topicHeader
			if err := decodeItem(item, &hdr); err != nil {
				return err
			}
			snap.headers[hdr.ID] = hdr
			snap.children[hdr.ParentID] = append(snap.children[hdr.ParentID], hdr.ID)
			return nil
		}); err != nil {
			return err
		}
		if err := scan(txn, attributePrefix, func(item *badger.Item) error {
			id, key, err := splitRecordKey(attributePrefix, item.Key())
			if err != nil {
				return err
			}
			var v attributeValue
			if err := decodeItem(item, &v); err != nil {
				return err
			}
			snap.attributes[id] = append(snap.attributes[id], storedAttribute{key: key, value: v})
			return nil
		}); err != nil {
			return err
		}
		if err := scan(txn, referencePrefix, func(item *badger.Item) error {
			id, key, err := splitRecordKey(referencePrefix, item.Key())
			if err != nil {
				return err
			}
			var v referenceValue
			if err := decodeItem(item, &v); err != nil {
				return err
			}
			snap.references[id] = append(snap.references[id], storedReference{key: key, value: v})
			return nil
		}); err != nil {
			return err
		}
		return scan(txn, relationshipPrefix, func(item *badger.Item) error {
			id, ns, err := splitRecordKey(relationshipPrefix, item.Key())
			if err != nil {
				return err
			}
			var v relationshipValue
			if err := decodeItem(item, &v); err != nil {
				return err
			}
			snap.relationships[id] = append(snap.relationships[id], storedRelationship{namespace: ns, value: v})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for _, ids := range snap.children {
		slices.Sort(ids)
	}
	return snap, nil
}

func (snap *snapshot) createTopic(g *topics.Graph, parent *topics.Topic, id int) (*topics.Topic, error) {
	var key, contentType *storedAttribute
	attrs := snap.attributes[id]
	for i := range attrs {
		switch attrs[i].key {
		case topics.KeyAttribute:
			key = &attrs[i]
		case topics.ContentTypeAttribute:
			contentType = &attrs[i]
		}
	}
	if key == nil || contentType == nil {
		return nil, fmt.Errorf("%w: topic %d has no key or content type", ErrCorrupt, id)
	}

	t, err := g.NewTopic(parent, key.value.Value, contentType.value.Value,
		topics.WithID(id), topics.WithLoadedVersion(key.value.Version))
	if err != nil {
		return nil, fmt.Errorf("loading topic %d: %w", id, err)
	}
	for _, a := range attrs {
		if a.key == topics.KeyAttribute || a.key == topics.ContentTypeAttribute {
			continue
		}
		if err := t.Attributes().SetValue(a.key, a.value.Value,
			topics.WithoutDirty(), topics.WithVersion(a.value.Version)); err != nil {
			return nil, fmt.Errorf("loading %s attribute %s: %w", t.UniqueKey(), a.key, err)
		}
	}
	return t, nil
}

// linkTopic restores t's references and relationships. It reports false
// when an edge target is missing.
func (snap *snapshot) linkTopic(g *topics.Graph, t *topics.Topic, logger *slog.Logger) (bool, error) {
	complete := true
	missing := func(kind, key string, target int) {
		complete = false
		logger.Warn("checkpoint edge target missing",
			slog.String("topic", t.UniqueKey()),
			slog.String("kind", kind),
			slog.String("key", key),
			slog.Int("target_id", target))
	}

	for _, r := range snap.references[t.ID()] {
		target, ok := g.TopicByID(r.value.TargetID)
		if !ok {
			missing("reference", r.key, r.value.TargetID)
			continue
		}
		if err := t.References().SetValue(r.key, target,
			topics.WithoutDirty(), topics.WithVersion(r.value.Version)); err != nil {
			return false, fmt.Errorf("loading %s reference %s: %w", t.UniqueKey(), r.key, err)
		}
	}
	for _, r := range snap.relationships[t.ID()] {
		for _, targetID := range r.value.TargetIDs {
			target, ok := g.TopicByID(targetID)
			if !ok {
				missing("relationship", r.namespace, targetID)
				continue
			}
			if err := t.Relationships().SetTopic(r.namespace, target,
				topics.WithoutDirty(), topics.WithVersion(r.value.Version)); err != nil {
				return false, fmt.Errorf("loading %s relationship %s: %w", t.UniqueKey(), r.namespace, err)
			}
		}
	}
	return complete, nil
}
