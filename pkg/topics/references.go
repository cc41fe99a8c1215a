// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package topics

// ReferenceCollection stores a topic's single-valued references.
//
// Description:
//
//	Each key points at one target topic. Every insert, replacement or
//	removal updates the target's incoming index in the same call. Writing
//	nil to an existing key keeps a present-with-nil record, distinguishing
//	an explicitly cleared reference from one never set.
//
//	A record whose target is unsaved stays dirty until the target receives
//	an ID, whatever the caller requests, because it cannot be persisted as
//	a foreign key yet.
//
// Thread Safety:
//
//	NOT safe for concurrent use.
type ReferenceCollection struct {
	*TrackedRecordCollection[*Topic]
	loadState LoadState
}

// NewReferenceCollection creates a reference collection owned by owner.
func NewReferenceCollection(owner *Topic, opts ...CollectionOption) *ReferenceCollection {
	c := NewTrackedRecordCollection[*Topic](owner, opts...)
	c.policy = recordPolicy[*Topic]{
		isEmpty: func(t *Topic) bool { return t == nil },
		enforce: func(key string, target *Topic) (*Topic, error) {
			if owner == nil {
				return target, nil
			}
			return target, owner.enforceReference(key, target)
		},
		inserted: func(rec, prev *ReferenceRecord) {
			if owner == nil {
				return
			}
			if prev != nil && prev.value != nil && prev.value != rec.value {
				detach(owner, prev.value, rec.key)
			}
			if rec.value != nil && (prev == nil || prev.value != rec.value) {
				attach(owner, rec.value, rec.key)
			}
		},
		removed: func(rec *ReferenceRecord) {
			if owner != nil && rec.value != nil {
				detach(owner, rec.value, rec.key)
			}
		},
		pinned: func(rec *ReferenceRecord) bool {
			return rec.value != nil && rec.value.IsNew()
		},
	}
	return &ReferenceCollection{TrackedRecordCollection: c}
}

// GetValue returns the topic referenced under key.
//
// Description:
//
//	On a local miss, or a present-with-nil record, and when inheritFromBase
//	is set, the owner's base topic is consulted once. Reference inheritance
//	is single hop, unlike attribute inheritance. The BaseTopic key itself
//	is never inherited.
func (r *ReferenceCollection) GetValue(key string, inheritFromBase bool) *Topic {
	if rec, ok := r.TryGetValue(key); ok && rec.value != nil {
		return rec.value
	}
	if !inheritFromBase || key == BaseTopicReference || r.owner == nil {
		return nil
	}
	base := r.owner.BaseTopic()
	if base == nil {
		return nil
	}
	if rec, ok := base.references.TryGetValue(key); ok {
		return rec.value
	}
	return nil
}

// IsFullyLoaded reports what the loader recorded about completeness.
func (r *ReferenceCollection) IsFullyLoaded() LoadState {
	return r.loadState
}

// SetFullyLoaded records whether the collection holds every persisted
// reference. The collection never infers this itself.
func (r *ReferenceCollection) SetFullyLoaded(state LoadState) {
	r.loadState = state
}
