// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package topics

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultMaxTopics is the default maximum number of topics a graph can hold.
const DefaultMaxTopics = 1_000_000

// Slot is a topic's stable index in its graph's arena. Slots are never
// reused, so a Slot stays valid (or reports ErrTopicNotFound) for the life
// of the graph.
type Slot int

// GraphOptions configures Graph behavior and limits.
type GraphOptions struct {
	// MaxTopics is the maximum number of live topics.
	// Default: 1,000,000
	MaxTopics int

	// Registry resolves content types to accessor tables.
	// Default: a fresh registry with only the built-in accessors.
	Registry *AccessorRegistry

	// Clock stamps record versions.
	// Default: time.Now
	Clock func() time.Time

	// BookkeepingKeys are ignored by IsDirtyExcludingLastModified.
	// Default: DefaultBookkeepingKeys
	BookkeepingKeys []string
}

// DefaultGraphOptions returns sensible defaults for graph configuration.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		MaxTopics:       DefaultMaxTopics,
		Clock:           time.Now,
		BookkeepingKeys: DefaultBookkeepingKeys,
	}
}

// GraphOption is a functional option for configuring Graph.
type GraphOption func(*GraphOptions)

// WithMaxTopics sets the maximum number of live topics.
func WithMaxTopics(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxTopics = n
	}
}

// WithRegistry injects the accessor registry.
func WithRegistry(r *AccessorRegistry) GraphOption {
	return func(o *GraphOptions) {
		o.Registry = r
	}
}

// WithClock sets the clock used for record versions.
func WithClock(clock func() time.Time) GraphOption {
	return func(o *GraphOptions) {
		o.Clock = clock
	}
}

// WithGraphBookkeepingKeys sets the bookkeeping keys of every collection
// in the graph.
func WithGraphBookkeepingKeys(keys ...string) GraphOption {
	return func(o *GraphOptions) {
		o.BookkeepingKeys = keys
	}
}

// TopicOption configures topic creation.
type TopicOption func(*topicOptions)

type topicOptions struct {
	id      int
	version time.Time
	loaded  bool
}

// WithID creates the topic with a persisted identity.
func WithID(id int) TopicOption {
	return func(o *topicOptions) {
		o.id = id
	}
}

// WithLoadedVersion creates the topic's Key and ContentType records clean,
// stamped with version, as when rehydrating from storage.
func WithLoadedVersion(version time.Time) TopicOption {
	return func(o *topicOptions) {
		o.loaded = true
		o.version = version
	}
}

// Graph is the arena holding every topic of one content tree.
//
// Description:
//
//	Topics are addressed by Slot. Reciprocal edge maintenance goes through
//	the graph so that both sides of an edge are reachable from one owner.
//	Topics deleted from the graph leave a hole in the arena; persisted
//	identities of deleted topics are kept until AcceptDeletions.
//
// Thread Safety:
//
//	NOT safe for concurrent use. Use one graph per request or session, or
//	serialize access externally.
type Graph struct {
	topics   []*Topic
	byID     map[int]*Topic
	roots    []*Topic
	live     int
	deleted  []int
	options  GraphOptions
	registry *AccessorRegistry
	now      func() time.Time
}

// NewGraph creates an empty graph.
//
// Example:
//
//	registry := topics.NewAccessorRegistry()
//	g := topics.NewGraph(topics.WithRegistry(registry))
//	root, err := g.NewRootTopic("Root", "Container")
func NewGraph(opts ...GraphOption) *Graph {
	options := DefaultGraphOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Registry == nil {
		options.Registry = NewAccessorRegistry()
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &Graph{
		topics:   make([]*Topic, 0),
		byID:     make(map[int]*Topic),
		roots:    make([]*Topic, 0),
		options:  options,
		registry: options.Registry,
		now:      options.Clock,
	}
}

// Registry returns the accessor registry.
func (g *Graph) Registry() *AccessorRegistry {
	return g.registry
}

// NewRootTopic creates a topic with no parent.
func (g *Graph) NewRootTopic(key, contentType string, opts ...TopicOption) (*Topic, error) {
	return g.NewTopic(nil, key, contentType, opts...)
}

// NewTopic creates a topic under parent.
//
// Description:
//
//	The key and content type pass through their accessors before anything
//	is registered, so a rejected topic leaves the graph unchanged.
//
// Inputs:
//
//	parent - The structural parent. Nil creates a root.
//	key - The topic key. Must be unique among siblings.
//	contentType - The content type selecting the accessor table.
//	opts - WithID, WithLoadedVersion.
//
// Errors:
//
//	ErrTopicNotFound - parent is not a live topic of g.
//	ErrMaxTopicsExceeded - the graph is full.
//	ErrInvalidKey - key or contentType fails the key rule.
//	ErrKeyConflict - a sibling uses key, or the ID is taken.
func (g *Graph) NewTopic(parent *Topic, key, contentType string, opts ...TopicOption) (*Topic, error) {
	o := topicOptions{id: UnsavedID}
	for _, opt := range opts {
		opt(&o)
	}
	if parent != nil && (parent.graph != g || parent.deleted) {
		return nil, fmt.Errorf("%w: parent %s", ErrTopicNotFound, parent.UniqueKey())
	}
	if g.live >= g.options.MaxTopics {
		return nil, fmt.Errorf("%w: limit %d", ErrMaxTopicsExceeded, g.options.MaxTopics)
	}
	if o.id >= 0 {
		if _, taken := g.byID[o.id]; taken {
			return nil, fmt.Errorf("%w: id %d already in graph", ErrKeyConflict, o.id)
		}
	}

	t := newTopic(g, parent)
	var setOpts []SetOption
	if o.loaded {
		setOpts = append(setOpts, WithoutDirty(), WithVersion(o.version))
	}
	if err := t.attributes.SetValue(ContentTypeAttribute, contentType, setOpts...); err != nil {
		return nil, err
	}
	if err := t.attributes.SetValue(KeyAttribute, key, setOpts...); err != nil {
		return nil, err
	}

	t.slot = Slot(len(g.topics))
	g.topics = append(g.topics, t)
	g.live++
	if parent != nil {
		parent.children = append(parent.children, t)
	} else {
		g.roots = append(g.roots, t)
	}
	if o.id >= 0 {
		t.id = o.id
		g.byID[o.id] = t
	}
	return t, nil
}

// Topic returns the live topic in slot.
func (g *Graph) Topic(slot Slot) (*Topic, error) {
	if slot < 0 || int(slot) >= len(g.topics) || g.topics[slot] == nil {
		return nil, fmt.Errorf("%w: slot %d", ErrTopicNotFound, slot)
	}
	return g.topics[slot], nil
}

// TopicByID returns the topic with persisted identity id.
func (g *Graph) TopicByID(id int) (*Topic, bool) {
	t, ok := g.byID[id]
	return t, ok
}

// FindByUniqueKey resolves a colon-joined key path from a root.
func (g *Graph) FindByUniqueKey(uniqueKey string) (*Topic, bool) {
	if uniqueKey == "" {
		return nil, false
	}
	parts := strings.Split(uniqueKey, UniqueKeySeparator)
	var cur *Topic
	for _, r := range g.roots {
		if r.Key() == parts[0] {
			cur = r
			break
		}
	}
	if cur == nil {
		return nil, false
	}
	for _, part := range parts[1:] {
		next, ok := cur.Child(part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Topics returns an iterator over live topics in slot order.
//
// Example:
//
//	for slot, t := range g.Topics() {
//	    fmt.Println(slot, t.UniqueKey())
//	}
func (g *Graph) Topics() func(yield func(Slot, *Topic) bool) {
	return func(yield func(Slot, *Topic) bool) {
		for i, t := range g.topics {
			if t == nil {
				continue
			}
			if !yield(Slot(i), t) {
				return
			}
		}
	}
}

// Len returns the number of live topics.
func (g *Graph) Len() int {
	return g.live
}

// Roots returns the root topics in creation order.
func (g *Graph) Roots() []*Topic {
	return slices.Clone(g.roots)
}

// DirtyTopics returns the dirty topics in slot order.
func (g *Graph) DirtyTopics() []*Topic {
	out := make([]*Topic, 0)
	for _, t := range g.Topics() {
		if t.IsDirty() {
			out = append(out, t)
		}
	}
	return out
}

// Link adds target to owner's relationships under namespace and records
// owner in target's incoming index, in one call.
func (g *Graph) Link(owner, target Slot, namespace string, opts ...SetOption) error {
	o, t, err := g.pair(owner, target)
	if err != nil {
		return err
	}
	return o.relationships.SetTopic(namespace, t, opts...)
}

// Unlink removes target from owner's relationships under namespace along
// with the incoming entry. It reports whether an edge was removed.
func (g *Graph) Unlink(owner, target Slot, namespace string) (bool, error) {
	o, t, err := g.pair(owner, target)
	if err != nil {
		return false, err
	}
	return o.relationships.RemoveTopic(namespace, t), nil
}

func (g *Graph) pair(owner, target Slot) (*Topic, *Topic, error) {
	o, err := g.Topic(owner)
	if err != nil {
		return nil, nil, err
	}
	t, err := g.Topic(target)
	if err != nil {
		return nil, nil, err
	}
	return o, t, nil
}

// CanDelete checks that no reference or relationship from outside t's
// subtree points into it.
//
// Errors:
//
//	ErrReferentialIntegrity - an incoming edge originates outside the subtree.
//	ErrTopicNotFound - t is not a live topic of g.
func (g *Graph) CanDelete(t *Topic) error {
	if t == nil || t.graph != g || t.deleted {
		return fmt.Errorf("%w: cannot delete", ErrTopicNotFound)
	}
	subtree := collectSubtree(t)
	inside := make(map[*Topic]struct{}, len(subtree))
	for _, s := range subtree {
		inside[s] = struct{}{}
	}
	for _, s := range subtree {
		for _, ns := range s.incoming.Keys() {
			for _, source := range s.incoming.GetValues(ns) {
				if _, ok := inside[source]; !ok {
					return fmt.Errorf("%w: %s references %s via %q",
						ErrReferentialIntegrity, source.UniqueKey(), s.UniqueKey(), ns)
				}
			}
		}
	}
	return nil
}

// Delete removes t and its subtree from the graph.
//
// Description:
//
//	Fails without changes if CanDelete fails. Otherwise every outgoing edge
//	of the subtree is unlinked from its target's incoming index and the
//	topics leave the arena. Persisted identities are queued in
//	PendingDeletions.
func (g *Graph) Delete(t *Topic) error {
	if err := g.CanDelete(t); err != nil {
		return err
	}
	subtree := collectSubtree(t)
	for _, s := range subtree {
		for _, rec := range s.references.All() {
			detach(s, rec.value, rec.key)
		}
		for _, ns := range s.relationships.Keys() {
			for _, target := range s.relationships.GetValues(ns) {
				detach(s, target, ns)
			}
		}
	}
	if t.parent != nil {
		t.parent.children = slices.DeleteFunc(t.parent.children, func(c *Topic) bool { return c == t })
	} else {
		g.roots = slices.DeleteFunc(g.roots, func(c *Topic) bool { return c == t })
	}
	for _, s := range subtree {
		g.topics[s.slot] = nil
		g.live--
		s.deleted = true
		if s.id >= 0 {
			delete(g.byID, s.id)
			g.deleted = append(g.deleted, s.id)
		}
	}
	return nil
}

// PendingDeletions returns the persisted identities of deleted topics not
// yet accepted by persistence.
func (g *Graph) PendingDeletions() []int {
	return slices.Clone(g.deleted)
}

// AcceptDeletions removes ids from PendingDeletions.
func (g *Graph) AcceptDeletions(ids ...int) {
	g.deleted = slices.DeleteFunc(g.deleted, func(id int) bool {
		return slices.Contains(ids, id)
	})
}

// GraphStats summarizes graph contents.
type GraphStats struct {
	Topics        int
	Roots         int
	New           int
	Dirty         int
	Attributes    int
	References    int
	Relationships int
	MaxTopics     int
}

// Stats returns counts over live topics.
func (g *Graph) Stats() GraphStats {
	s := GraphStats{
		Topics:    g.live,
		Roots:     len(g.roots),
		MaxTopics: g.options.MaxTopics,
	}
	for _, t := range g.Topics() {
		if t.IsNew() {
			s.New++
		}
		if t.IsDirty() {
			s.Dirty++
		}
		s.Attributes += t.attributes.Len()
		s.References += t.references.Len()
		s.Relationships += t.relationships.EdgeCount()
	}
	return s
}

func (g *Graph) assignID(t *Topic, id int) error {
	if other, taken := g.byID[id]; taken && other != t {
		return fmt.Errorf("%w: id %d already used by %s", ErrKeyConflict, id, other.UniqueKey())
	}
	g.byID[id] = t
	return nil
}

// collectSubtree returns t and its descendants, parents before children.
func collectSubtree(t *Topic) []*Topic {
	out := []*Topic{t}
	for i := 0; i < len(out); i++ {
		out = append(out, out[i].children...)
	}
	return out
}
