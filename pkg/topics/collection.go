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

// DefaultBookkeepingKeys are the audit keys ignored by
// IsDirtyExcludingLastModified unless overridden with WithBookkeepingKeys.
var DefaultBookkeepingKeys = []string{LastModifiedAttribute, LastModifiedByAttribute}

// SetOption configures a SetValue call.
type SetOption func(*setOptions)

type setOptions struct {
	markDirty bool
	version   time.Time
}

func newSetOptions(opts []SetOption) setOptions {
	o := setOptions{markDirty: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithoutDirty asserts the value comes from a trusted clean source, such as
// rehydration from storage. The new record is created clean.
func WithoutDirty() SetOption {
	return func(o *setOptions) {
		o.markDirty = false
	}
}

// WithDirty sets whether the new record is dirty. Equivalent to WithoutDirty
// when dirty is false.
func WithDirty(dirty bool) SetOption {
	return func(o *setOptions) {
		o.markDirty = dirty
	}
}

// WithVersion stamps the new record's LastModified with version instead of
// the collection clock.
func WithVersion(version time.Time) SetOption {
	return func(o *setOptions) {
		o.version = version
	}
}

// CollectionOption configures a TrackedRecordCollection.
type CollectionOption func(*collectionOptions)

type collectionOptions struct {
	bookkeeping []string
	clock       func() time.Time
}

// WithBookkeepingKeys replaces the set of keys ignored by
// IsDirtyExcludingLastModified.
func WithBookkeepingKeys(keys ...string) CollectionOption {
	return func(o *collectionOptions) {
		o.bookkeeping = keys
	}
}

// WithCollectionClock sets the clock used for version stamps.
func WithCollectionClock(clock func() time.Time) CollectionOption {
	return func(o *collectionOptions) {
		o.clock = clock
	}
}

// recordPolicy holds the hooks a specialized collection installs. Every hook
// is optional.
type recordPolicy[V comparable] struct {
	// isEmpty identifies the empty sentinel value.
	isEmpty func(V) bool

	// enforce is the business-logic gate. It returns the value to store.
	enforce func(key string, value V) (V, error)

	// inserted runs after a record is inserted or replaces previous.
	inserted func(record, previous *TrackedRecord[V])

	// removed runs after a record leaves the collection.
	removed func(record *TrackedRecord[V])

	// pinned reports records that must stay dirty regardless of requests.
	pinned func(record *TrackedRecord[V]) bool
}

// TrackedRecordCollection is an ordered, key-unique collection of
// TrackedRecords with dirty and deletion bookkeeping.
//
// Description:
//
//	Keys preserve insertion order. Replacing a record keeps its position.
//	Removed keys are remembered in DeletedItems until the next MarkClean so
//	the persistence layer can emit tombstones.
//
// Thread Safety:
//
//	NOT safe for concurrent use. Callers serialize access per graph.
type TrackedRecordCollection[V comparable] struct {
	owner       *Topic
	records     map[string]*TrackedRecord[V]
	order       []string
	deleted     []string
	bookkeeping map[string]struct{}
	now         func() time.Time
	policy      recordPolicy[V]
}

// NewTrackedRecordCollection creates an empty collection owned by owner.
//
// Inputs:
//
//	owner - The owning topic. May be nil for a detached collection, which
//	        has no business-logic gate and is never treated as new.
//	opts - Optional configuration.
func NewTrackedRecordCollection[V comparable](owner *Topic, opts ...CollectionOption) *TrackedRecordCollection[V] {
	o := collectionOptions{bookkeeping: DefaultBookkeepingKeys}
	for _, opt := range opts {
		opt(&o)
	}
	clock := o.clock
	if clock == nil {
		clock = time.Now
		if owner != nil && owner.graph != nil {
			clock = owner.graph.now
		}
	}
	bookkeeping := make(map[string]struct{}, len(o.bookkeeping))
	for _, key := range o.bookkeeping {
		bookkeeping[key] = struct{}{}
	}
	return &TrackedRecordCollection[V]{
		owner:       owner,
		records:     make(map[string]*TrackedRecord[V]),
		order:       make([]string, 0),
		bookkeeping: bookkeeping,
		now:         clock,
	}
}

// Len returns the number of records.
func (c *TrackedRecordCollection[V]) Len() int {
	return len(c.order)
}

// Contains reports whether key is present.
func (c *TrackedRecordCollection[V]) Contains(key string) bool {
	_, ok := c.records[key]
	return ok
}

// TryGetValue returns the record stored under key.
func (c *TrackedRecordCollection[V]) TryGetValue(key string) (*TrackedRecord[V], bool) {
	rec, ok := c.records[key]
	return rec, ok
}

// Keys returns the keys in insertion order.
func (c *TrackedRecordCollection[V]) Keys() []string {
	return slices.Clone(c.order)
}

// All returns an iterator over records in insertion order.
//
// Example:
//
//	for key, rec := range attrs.All() {
//	    fmt.Println(key, rec.Value())
//	}
func (c *TrackedRecordCollection[V]) All() func(yield func(string, *TrackedRecord[V]) bool) {
	return func(yield func(string, *TrackedRecord[V]) bool) {
		for _, key := range c.order {
			if !yield(key, c.records[key]) {
				return
			}
		}
	}
}

// DeletedItems returns the keys removed since the last clean mark, in
// removal order.
func (c *TrackedRecordCollection[V]) DeletedItems() []string {
	return slices.Clone(c.deleted)
}

// Add inserts a new record.
//
// Description:
//
//	The record passes through the business-logic gate first. A record whose
//	gated value is the empty sentinel is not inserted, since empty records
//	only exist as replacements of non-empty ones.
//
// Errors:
//
//	ErrKeyConflict - The key already exists; the collection is unchanged.
//	Accessor errors - Returned exactly as produced by the declared accessor.
func (c *TrackedRecordCollection[V]) Add(record *TrackedRecord[V]) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidOperation)
	}
	if _, exists := c.records[record.key]; exists {
		return fmt.Errorf("%w: %s", ErrKeyConflict, record.key)
	}
	value, err := c.enforce(record.key, record.value)
	if err != nil {
		return err
	}
	if c.isEmpty(value) {
		return nil
	}
	if value != record.value {
		record = record.withValue(value)
	}
	if c.isPinned(record) {
		record.dirty = true
	}
	c.put(record, nil)
	return nil
}

// Set inserts record or replaces the record stored under the same key.
//
// Description:
//
//	This is the wholesale replacement path. It shares the business-logic
//	gate and the idempotence rule with SetValue: replacing a record with one
//	carrying an identical value changes nothing.
func (c *TrackedRecordCollection[V]) Set(record *TrackedRecord[V]) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidOperation)
	}
	value, err := c.enforce(record.key, record.value)
	if err != nil {
		return err
	}
	previous, exists := c.records[record.key]
	if exists && previous.value == value {
		return nil
	}
	if !exists && c.isEmpty(value) {
		return nil
	}
	if value != record.value {
		record = record.withValue(value)
	}
	if c.isPinned(record) {
		record.dirty = true
	}
	c.put(record, previous)
	return nil
}

// SetValue stores value under key.
//
// Description:
//
//	An identical existing value is a no-op: the record keeps its dirty flag
//	and LastModified. Writing the empty sentinel to a missing key is also a
//	no-op. Otherwise the record is replaced by a new one, dirty by default.
//
// Inputs:
//
//	key - The record key.
//	value - The new value. Routed through the declared accessor, if any.
//	opts - WithoutDirty/WithDirty and WithVersion.
//
// Errors:
//
//	Accessor errors - Returned unwrapped; the collection is unchanged.
func (c *TrackedRecordCollection[V]) SetValue(key string, value V, opts ...SetOption) error {
	o := newSetOptions(opts)
	value, err := c.enforce(key, value)
	if err != nil {
		return err
	}
	previous, exists := c.records[key]
	if exists && previous.value == value {
		return nil
	}
	if !exists && c.isEmpty(value) {
		return nil
	}
	c.put(c.newRecord(key, value, o), previous)
	return nil
}

// Remove deletes key and records it in DeletedItems.
//
// Outputs:
//
//	bool - False if key was not present.
func (c *TrackedRecordCollection[V]) Remove(key string) bool {
	rec, ok := c.records[key]
	if !ok {
		return false
	}
	delete(c.records, key)
	if i := slices.Index(c.order, key); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	if !slices.Contains(c.deleted, key) {
		c.deleted = append(c.deleted, key)
	}
	if c.policy.removed != nil {
		c.policy.removed(rec)
	}
	return true
}

// Clear removes every record; each key is recorded in DeletedItems.
func (c *TrackedRecordCollection[V]) Clear() {
	for _, key := range slices.Clone(c.order) {
		c.Remove(key)
	}
}

// IsDirty reports whether any record is dirty, any deletion is pending, or
// the owning topic has never been saved.
func (c *TrackedRecordCollection[V]) IsDirty() bool {
	if c.ownerIsNew() || len(c.deleted) > 0 {
		return true
	}
	for _, rec := range c.records {
		if rec.dirty {
			return true
		}
	}
	return false
}

// IsKeyDirty reports whether the record under key is dirty or its deletion
// is pending.
func (c *TrackedRecordCollection[V]) IsKeyDirty(key string) bool {
	if rec, ok := c.records[key]; ok {
		return rec.dirty
	}
	return slices.Contains(c.deleted, key)
}

// IsDirtyExcludingLastModified is IsDirty with the bookkeeping keys ignored,
// so audit-only churn does not count as a change.
func (c *TrackedRecordCollection[V]) IsDirtyExcludingLastModified() bool {
	if c.ownerIsNew() {
		return true
	}
	for _, key := range c.deleted {
		if _, skip := c.bookkeeping[key]; !skip {
			return true
		}
	}
	for key, rec := range c.records {
		if _, skip := c.bookkeeping[key]; skip {
			continue
		}
		if rec.dirty {
			return true
		}
	}
	return false
}

// MarkClean clears dirty flags and pending deletions.
//
// Description:
//
//	Every dirty record is stamped with version, or with the current time if
//	version is zero. Records pinned dirty (such as references to unsaved
//	topics) stay dirty. A collection whose owner is new keeps reporting
//	IsDirty, whatever the state of its records.
func (c *TrackedRecordCollection[V]) MarkClean(version time.Time) {
	if version.IsZero() {
		version = c.now()
	}
	for _, rec := range c.records {
		if rec.dirty && !c.isPinned(rec) {
			rec.markClean(version)
		}
	}
	c.deleted = c.deleted[:0]
}

// MarkKeyClean is MarkClean scoped to one key.
func (c *TrackedRecordCollection[V]) MarkKeyClean(key string, version time.Time) {
	if version.IsZero() {
		version = c.now()
	}
	if rec, ok := c.records[key]; ok && rec.dirty && !c.isPinned(rec) {
		rec.markClean(version)
	}
	if i := slices.Index(c.deleted, key); i >= 0 {
		c.deleted = slices.Delete(c.deleted, i, i+1)
	}
}

func (c *TrackedRecordCollection[V]) newRecord(key string, value V, o setOptions) *TrackedRecord[V] {
	version := o.version
	if version.IsZero() {
		version = c.now()
	}
	rec := &TrackedRecord[V]{
		key:          key,
		value:        value,
		dirty:        o.markDirty,
		lastModified: version,
	}
	if c.isPinned(rec) {
		rec.dirty = true
	}
	return rec
}

// put stores record, replacing previous in place when it exists.
func (c *TrackedRecordCollection[V]) put(record, previous *TrackedRecord[V]) {
	if previous == nil {
		c.order = append(c.order, record.key)
	}
	c.records[record.key] = record
	if i := slices.Index(c.deleted, record.key); i >= 0 {
		c.deleted = slices.Delete(c.deleted, i, i+1)
	}
	if c.policy.inserted != nil {
		c.policy.inserted(record, previous)
	}
}

// touch marks an existing record dirty after an in-place payload change.
func (c *TrackedRecordCollection[V]) touch(key string, o setOptions) {
	rec, ok := c.records[key]
	if !ok {
		return
	}
	version := o.version
	if version.IsZero() {
		version = c.now()
	}
	if o.markDirty || c.isPinned(rec) {
		rec.touch(version)
	}
}

// forget drops key from DeletedItems without touching any record.
func (c *TrackedRecordCollection[V]) forget(key string) {
	if i := slices.Index(c.deleted, key); i >= 0 {
		c.deleted = slices.Delete(c.deleted, i, i+1)
	}
}

func (c *TrackedRecordCollection[V]) enforce(key string, value V) (V, error) {
	if c.policy.enforce == nil {
		return value, nil
	}
	return c.policy.enforce(key, value)
}

func (c *TrackedRecordCollection[V]) isEmpty(value V) bool {
	if c.policy.isEmpty != nil {
		return c.policy.isEmpty(value)
	}
	var zero V
	return value == zero
}

func (c *TrackedRecordCollection[V]) isPinned(record *TrackedRecord[V]) bool {
	return c.policy.pinned != nil && c.policy.pinned(record)
}

func (c *TrackedRecordCollection[V]) ownerIsNew() bool {
	return c.owner != nil && c.owner.IsNew()
}
