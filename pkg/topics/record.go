// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package topics

import "time"

// TrackedRecord is a keyed value with dirty state and a version stamp.
//
// The key and value never change after construction. A changed value is
// represented by a new record replacing the old one in its collection; only
// the dirty flag and LastModified are updated in place, by MarkClean.
type TrackedRecord[V any] struct {
	key          string
	value        V
	dirty        bool
	lastModified time.Time
}

// AttributeRecord is the record type stored in an AttributeCollection.
type AttributeRecord = TrackedRecord[string]

// ReferenceRecord is the record type stored in a ReferenceCollection.
type ReferenceRecord = TrackedRecord[*Topic]

// RecordOption configures a TrackedRecord at construction.
type RecordOption func(*recordOptions)

type recordOptions struct {
	clean   bool
	version time.Time
}

// WithClean constructs the record clean, stamped with version. A zero
// version stamps the construction time.
func WithClean(version time.Time) RecordOption {
	return func(o *recordOptions) {
		o.clean = true
		o.version = version
	}
}

// WithRecordVersion sets LastModified without changing the dirty state.
func WithRecordVersion(version time.Time) RecordOption {
	return func(o *recordOptions) {
		o.version = version
	}
}

// NewTrackedRecord creates a record. Records are dirty unless WithClean is
// supplied, and LastModified defaults to the creation time.
func NewTrackedRecord[V any](key string, value V, opts ...RecordOption) *TrackedRecord[V] {
	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}
	version := o.version
	if version.IsZero() {
		version = time.Now()
	}
	return &TrackedRecord[V]{
		key:          key,
		value:        value,
		dirty:        !o.clean,
		lastModified: version,
	}
}

// NewAttributeRecord creates a dirty attribute record unless WithClean is given.
func NewAttributeRecord(key, value string, opts ...RecordOption) *AttributeRecord {
	return NewTrackedRecord(key, value, opts...)
}

// Key returns the record key.
func (r *TrackedRecord[V]) Key() string {
	return r.key
}

// Value returns the record payload.
func (r *TrackedRecord[V]) Value() V {
	return r.value
}

// IsDirty reports whether the record changed since the last clean mark.
func (r *TrackedRecord[V]) IsDirty() bool {
	return r.dirty
}

// LastModified returns the record's version stamp.
func (r *TrackedRecord[V]) LastModified() time.Time {
	return r.lastModified
}

func (r *TrackedRecord[V]) markClean(version time.Time) {
	r.dirty = false
	r.lastModified = version
}

func (r *TrackedRecord[V]) touch(version time.Time) {
	r.dirty = true
	r.lastModified = version
}

// withValue returns a copy of r carrying value, keeping its dirty state and stamp.
func (r *TrackedRecord[V]) withValue(value V) *TrackedRecord[V] {
	return &TrackedRecord[V]{
		key:          r.key,
		value:        value,
		dirty:        r.dirty,
		lastModified: r.lastModified,
	}
}
