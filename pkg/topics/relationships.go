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
	"time"
)

// LoadState is the tri-state completeness flag set by a loader.
type LoadState int

const (
	// LoadStateUnknown means the loader has not said.
	LoadStateUnknown LoadState = iota

	// LoadStateFull means the collection holds the complete persisted set.
	LoadStateFull

	// LoadStatePartial means only part of the persisted set was loaded.
	LoadStatePartial
)

// String returns the string representation of the LoadState.
func (s LoadState) String() string {
	switch s {
	case LoadStateUnknown:
		return "unknown"
	case LoadStateFull:
		return "full"
	case LoadStatePartial:
		return "partial"
	default:
		return "invalid"
	}
}

// topicSet is an insertion-ordered set of topics with per-member reference
// counts. Outgoing sets hold each member once; incoming sets count every
// edge that contributed the member, so a reference and a relationship can
// share a namespace.
type topicSet struct {
	members []*Topic
	counts  map[*Topic]int
}

func newTopicSet() *topicSet {
	return &topicSet{counts: make(map[*Topic]int)}
}

func (s *topicSet) contains(t *Topic) bool {
	return s.counts[t] > 0
}

// add increments t's count and reports whether t became a member.
func (s *topicSet) add(t *Topic) bool {
	s.counts[t]++
	if s.counts[t] == 1 {
		s.members = append(s.members, t)
		return true
	}
	return false
}

// remove decrements t's count and reports whether t left the set.
func (s *topicSet) remove(t *Topic) bool {
	n, ok := s.counts[t]
	if !ok {
		return false
	}
	if n > 1 {
		s.counts[t] = n - 1
		return false
	}
	delete(s.counts, t)
	if i := slices.Index(s.members, t); i >= 0 {
		s.members = slices.Delete(s.members, i, i+1)
	}
	return true
}

func (s *topicSet) len() int {
	return len(s.members)
}

func (s *topicSet) hasNew() bool {
	for _, t := range s.members {
		if t.IsNew() {
			return true
		}
	}
	return false
}

// RelationshipMultiMap maps namespaces to ordered sets of topics.
//
// Description:
//
//	An outgoing map records a topic's relationships and keeps the targets'
//	incoming maps in step. An incoming map is the derived reciprocal index:
//	it is populated only as a side effect of outgoing writes, is never
//	dirty, and rejects direct mutation.
//
//	Dirty state is tracked per namespace. A namespace containing an unsaved
//	topic stays dirty until that topic receives an ID.
//
// Thread Safety:
//
//	NOT safe for concurrent use.
type RelationshipMultiMap struct {
	owner     *Topic
	incoming  bool
	records   *TrackedRecordCollection[*topicSet]
	loadState LoadState
}

// NewRelationshipMultiMap creates an outgoing relationship map owned by owner.
func NewRelationshipMultiMap(owner *Topic, opts ...CollectionOption) *RelationshipMultiMap {
	return newRelationshipMultiMap(owner, false, opts...)
}

func newRelationshipMultiMap(owner *Topic, incoming bool, opts ...CollectionOption) *RelationshipMultiMap {
	m := &RelationshipMultiMap{
		owner:    owner,
		incoming: incoming,
		records:  NewTrackedRecordCollection[*topicSet](owner, opts...),
	}
	m.records.policy = recordPolicy[*topicSet]{
		isEmpty: func(s *topicSet) bool { return s == nil },
	}
	if !incoming {
		m.records.policy.removed = func(rec *TrackedRecord[*topicSet]) {
			for _, target := range slices.Clone(rec.value.members) {
				detach(owner, target, rec.key)
			}
		}
		m.records.policy.pinned = func(rec *TrackedRecord[*topicSet]) bool {
			return rec.value.hasNew()
		}
	}
	return m
}

// IsIncoming reports whether m is a derived incoming index.
func (m *RelationshipMultiMap) IsIncoming() bool {
	return m.incoming
}

// SetTopic adds target to namespace.
//
// Description:
//
//	Re-adding a present member changes nothing, including dirty state.
//	Adding a new member dirties the namespace and adds the owner to the
//	target's incoming map under the same namespace.
//
// Errors:
//
//	ErrInvalidOperation - m is an incoming map, or target is nil.
//	ErrInvalidKey - namespace is empty.
//	ErrTopicNotFound - target belongs to another graph or was deleted.
func (m *RelationshipMultiMap) SetTopic(namespace string, target *Topic, opts ...SetOption) error {
	if m.incoming {
		return fmt.Errorf("%w: incoming relationships are derived", ErrInvalidOperation)
	}
	if target == nil {
		return fmt.Errorf("%w: relationship target is nil", ErrInvalidOperation)
	}
	if namespace == "" {
		return fmt.Errorf("%w: relationship namespace is empty", ErrInvalidKey)
	}
	if m.owner != nil {
		if err := m.owner.checkSameGraph(target); err != nil {
			return err
		}
	}
	o := newSetOptions(opts)
	rec, ok := m.records.TryGetValue(namespace)
	if ok && rec.value.contains(target) {
		return nil
	}
	if ok {
		rec.value.add(target)
		m.records.touch(namespace, o)
	} else {
		set := newTopicSet()
		set.add(target)
		m.records.put(m.records.newRecord(namespace, set, o), nil)
	}
	attach(m.owner, target, namespace)
	return nil
}

// RemoveTopic removes target from namespace. It returns false, without
// dirtying anything, if target was not a member.
func (m *RelationshipMultiMap) RemoveTopic(namespace string, target *Topic) bool {
	if m.incoming || target == nil {
		return false
	}
	rec, ok := m.records.TryGetValue(namespace)
	if !ok || !rec.value.remove(target) {
		return false
	}
	m.records.touch(namespace, newSetOptions(nil))
	detach(m.owner, target, namespace)
	return true
}

// Clear removes every member of namespace, keeping the namespace present
// and empty. An absent or already empty namespace is left untouched.
func (m *RelationshipMultiMap) Clear(namespace string) {
	if m.incoming {
		return
	}
	rec, ok := m.records.TryGetValue(namespace)
	if !ok || rec.value.len() == 0 {
		return
	}
	for _, target := range slices.Clone(rec.value.members) {
		m.RemoveTopic(namespace, target)
	}
}

// ClearAll clears every namespace.
func (m *RelationshipMultiMap) ClearAll() {
	for _, ns := range m.records.Keys() {
		m.Clear(ns)
	}
}

// RemoveNamespace drops namespace entirely and records it in DeletedItems.
func (m *RelationshipMultiMap) RemoveNamespace(namespace string) bool {
	if m.incoming {
		return false
	}
	return m.records.Remove(namespace)
}

// GetValues returns a copy of namespace's members in insertion order.
func (m *RelationshipMultiMap) GetValues(namespace string) []*Topic {
	rec, ok := m.records.TryGetValue(namespace)
	if !ok {
		return []*Topic{}
	}
	return slices.Clone(rec.value.members)
}

// GetAllValues flattens every namespace, in namespace then member order,
// with each topic listed once. When contentTypes is non-empty only topics
// of those content types are returned.
func (m *RelationshipMultiMap) GetAllValues(contentTypes ...string) []*Topic {
	seen := make(map[*Topic]struct{})
	out := make([]*Topic, 0)
	for _, rec := range m.records.All() {
		for _, t := range rec.value.members {
			if _, dup := seen[t]; dup {
				continue
			}
			if len(contentTypes) > 0 && !slices.Contains(contentTypes, t.ContentType()) {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Contains reports whether target is a member of namespace.
func (m *RelationshipMultiMap) Contains(namespace string, target *Topic) bool {
	rec, ok := m.records.TryGetValue(namespace)
	return ok && rec.value.contains(target)
}

// ContainsKey reports whether namespace is present, even if empty.
func (m *RelationshipMultiMap) ContainsKey(namespace string) bool {
	return m.records.Contains(namespace)
}

// Keys returns the namespaces in insertion order.
func (m *RelationshipMultiMap) Keys() []string {
	return m.records.Keys()
}

// Len returns the number of namespaces.
func (m *RelationshipMultiMap) Len() int {
	return m.records.Len()
}

// EdgeCount returns the number of (namespace, topic) pairs.
func (m *RelationshipMultiMap) EdgeCount() int {
	n := 0
	for _, rec := range m.records.All() {
		n += rec.value.len()
	}
	return n
}

// IsDirty reports whether any namespace changed since the last clean mark.
// Incoming maps are never dirty.
func (m *RelationshipMultiMap) IsDirty() bool {
	if m.incoming {
		return false
	}
	return m.records.IsDirty()
}

// IsKeyDirty reports whether namespace changed since the last clean mark.
func (m *RelationshipMultiMap) IsKeyDirty(namespace string) bool {
	if m.incoming {
		return false
	}
	return m.records.IsKeyDirty(namespace)
}

// DeletedItems returns the namespaces removed since the last clean mark.
func (m *RelationshipMultiMap) DeletedItems() []string {
	return m.records.DeletedItems()
}

// MarkClean clears dirty state. See TrackedRecordCollection.MarkClean.
func (m *RelationshipMultiMap) MarkClean(version time.Time) {
	m.records.MarkClean(version)
}

// MarkKeyClean clears dirty state for one namespace.
func (m *RelationshipMultiMap) MarkKeyClean(namespace string, version time.Time) {
	m.records.MarkKeyClean(namespace, version)
}

// LastModified returns the version stamp of namespace.
func (m *RelationshipMultiMap) LastModified(namespace string) (time.Time, bool) {
	rec, ok := m.records.TryGetValue(namespace)
	if !ok {
		return time.Time{}, false
	}
	return rec.lastModified, true
}

// IsFullyLoaded reports what the loader recorded about completeness.
func (m *RelationshipMultiMap) IsFullyLoaded() LoadState {
	return m.loadState
}

// SetFullyLoaded records whether the map holds every persisted member.
func (m *RelationshipMultiMap) SetFullyLoaded(state LoadState) {
	m.loadState = state
}

// AsReadOnly returns a read-only view of m.
func (m *RelationshipMultiMap) AsReadOnly() *ReadOnlyMultiMap {
	return &ReadOnlyMultiMap{m: m}
}

// attachIncoming records source under namespace in an incoming map.
func (m *RelationshipMultiMap) attachIncoming(namespace string, source *Topic) {
	rec, ok := m.records.TryGetValue(namespace)
	if ok {
		rec.value.add(source)
		return
	}
	set := newTopicSet()
	set.add(source)
	m.records.put(m.records.newRecord(namespace, set, setOptions{}), nil)
}

// detachIncoming removes one contribution of source under namespace. Empty
// namespaces are dropped without a tombstone.
func (m *RelationshipMultiMap) detachIncoming(namespace string, source *Topic) {
	rec, ok := m.records.TryGetValue(namespace)
	if !ok {
		return
	}
	rec.value.remove(source)
	if rec.value.len() == 0 {
		m.records.Remove(namespace)
		m.records.forget(namespace)
	}
}

// attach and detach update the reciprocal side of an edge from owner to
// target. They are the only writers of incoming maps.
func attach(owner, target *Topic, namespace string) {
	if owner == nil || target == nil {
		return
	}
	target.incoming.attachIncoming(namespace, owner)
}

func detach(owner, target *Topic, namespace string) {
	if owner == nil || target == nil {
		return
	}
	target.incoming.detachIncoming(namespace, owner)
}
