// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fixture

import (
	"time"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

// Snapshot captures g as a fixture document stamped with version.
//
// Key and ContentType are written as node fields rather than attributes.
// Empty attribute records and cleared references are omitted, since a
// fixture has no way to express "present but empty".
func Snapshot(g *topics.Graph, version time.Time) *Document {
	doc := &Document{Version: version}
	for _, root := range g.Roots() {
		doc.Topics = append(doc.Topics, snapshotNode(root))
	}
	return doc
}

func snapshotNode(t *topics.Topic) Node {
	node := Node{
		Key:         t.Key(),
		ContentType: t.ContentType(),
	}
	if !t.IsNew() {
		id := t.ID()
		node.ID = &id
	}
	for key, rec := range t.Attributes().All() {
		if key == topics.KeyAttribute || key == topics.ContentTypeAttribute || rec.Value() == "" {
			continue
		}
		node.Attributes = append(node.Attributes, StringEntry{Key: key, Value: rec.Value()})
	}
	for key, rec := range t.References().All() {
		if rec.Value() == nil {
			continue
		}
		if key == topics.BaseTopicReference {
			node.BaseTopic = rec.Value().UniqueKey()
			continue
		}
		node.References = append(node.References, StringEntry{Key: key, Value: rec.Value().UniqueKey()})
	}
	for _, ns := range t.Relationships().Keys() {
		members := t.Relationships().GetValues(ns)
		if len(members) == 0 {
			continue
		}
		entry := RelationshipEntry{Namespace: ns}
		for _, m := range members {
			entry.Targets = append(entry.Targets, m.UniqueKey())
		}
		node.Relationships = append(node.Relationships, entry)
	}
	for _, child := range t.Children() {
		node.Children = append(node.Children, snapshotNode(child))
	}
	return node
}
