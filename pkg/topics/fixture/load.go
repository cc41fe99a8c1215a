// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fixture

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

// Result summarizes a Build.
type Result struct {
	// Roots are the root topics created, in document order.
	Roots []*topics.Topic

	// Topics is the number of topics created.
	Topics int

	// Loaded is the number of topics loaded clean (those with an id).
	Loaded int

	// Version is the stamp applied to clean records.
	Version time.Time
}

// Build creates d's topics in g.
//
// Description:
//
//	Runs in two passes. The first creates every topic with its attributes;
//	the second resolves base topics, references and relationships by unique
//	key. Topics with an id are loaded clean and their reference and
//	relationship collections are marked fully loaded.
//
//	Build is not transactional. On error, discard g.
//
// Inputs:
//
//	g - The graph to populate. Usually empty.
//	logger - Logger for progress. Nil uses slog.Default().
//
// Errors:
//
//	ErrUnresolvedTarget - a target unique key is not in g.
//	Accessor and graph errors from the topics package, unwrapped.
func (d *Document) Build(g *topics.Graph, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &builder{
		graph:   g,
		version: d.Version,
		logger:  logger,
		result:  &Result{},
	}
	if b.version.IsZero() {
		b.version = time.Now().UTC()
	}
	b.result.Version = b.version

	for i := range d.Topics {
		t, err := b.create(nil, &d.Topics[i])
		if err != nil {
			return nil, err
		}
		b.result.Roots = append(b.result.Roots, t)
	}
	for _, p := range b.pending {
		if err := b.link(p); err != nil {
			return nil, err
		}
	}

	logger.Debug("fixture built",
		slog.Int("topics", b.result.Topics),
		slog.Int("loaded", b.result.Loaded),
		slog.Time("version", b.version))
	return b.result, nil
}

type pendingNode struct {
	topic *topics.Topic
	node  *Node
}

type builder struct {
	graph   *topics.Graph
	version time.Time
	logger  *slog.Logger
	result  *Result
	pending []pendingNode
}

func (b *builder) create(parent *topics.Topic, node *Node) (*topics.Topic, error) {
	var opts []topics.TopicOption
	loaded := node.ID != nil
	if loaded {
		opts = append(opts, topics.WithID(*node.ID), topics.WithLoadedVersion(b.version))
	}
	t, err := b.graph.NewTopic(parent, node.Key, node.ContentType, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", node.Key, err)
	}
	for _, attr := range node.Attributes {
		if err := t.Attributes().SetValue(attr.Key, attr.Value, b.setOptions(loaded)...); err != nil {
			return nil, fmt.Errorf("%s attribute %s: %w", t.UniqueKey(), attr.Key, err)
		}
	}
	b.result.Topics++
	if loaded {
		b.result.Loaded++
	}
	b.pending = append(b.pending, pendingNode{topic: t, node: node})

	for i := range node.Children {
		if _, err := b.create(t, &node.Children[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (b *builder) link(p pendingNode) error {
	t, node := p.topic, p.node
	loaded := node.ID != nil
	opts := b.setOptions(loaded)

	if node.BaseTopic != "" {
		base, err := b.resolve(t, node.BaseTopic)
		if err != nil {
			return err
		}
		if err := t.References().SetValue(topics.BaseTopicReference, base, opts...); err != nil {
			return fmt.Errorf("%s base topic: %w", t.UniqueKey(), err)
		}
	}
	for _, ref := range node.References {
		target, err := b.resolve(t, ref.Value)
		if err != nil {
			return err
		}
		if err := t.References().SetValue(ref.Key, target, opts...); err != nil {
			return fmt.Errorf("%s reference %s: %w", t.UniqueKey(), ref.Key, err)
		}
	}
	for _, rel := range node.Relationships {
		for _, key := range rel.Targets {
			target, err := b.resolve(t, key)
			if err != nil {
				return err
			}
			if err := t.Relationships().SetTopic(rel.Namespace, target, opts...); err != nil {
				return fmt.Errorf("%s relationship %s: %w", t.UniqueKey(), rel.Namespace, err)
			}
		}
	}
	if loaded {
		t.References().SetFullyLoaded(topics.LoadStateFull)
		t.Relationships().SetFullyLoaded(topics.LoadStateFull)
	}
	return nil
}

func (b *builder) resolve(from *topics.Topic, uniqueKey string) (*topics.Topic, error) {
	target, ok := b.graph.FindByUniqueKey(uniqueKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s from %s", ErrUnresolvedTarget, uniqueKey, from.UniqueKey())
	}
	return target, nil
}

func (b *builder) setOptions(loaded bool) []topics.SetOption {
	if !loaded {
		return nil
	}
	return []topics.SetOption{topics.WithoutDirty(), topics.WithVersion(b.version)}
}
