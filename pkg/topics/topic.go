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

// UnsavedID is the identity of a topic that has never been persisted.
const UnsavedID = -1

// Attribute keys backing Topic properties.
const (
	KeyAttribute            = "Key"
	ContentTypeAttribute    = "ContentType"
	ViewAttribute           = "View"
	TitleAttribute          = "Title"
	SortOrderAttribute      = "SortOrder"
	IsHiddenAttribute       = "IsHidden"
	LastModifiedAttribute   = "LastModified"
	LastModifiedByAttribute = "LastModifiedBy"
	IDAttribute             = "Id"
)

// BaseTopicReference is the reference key holding a topic's base topic.
const BaseTopicReference = "BaseTopic"

// UniqueKeySeparator joins topic keys in a UniqueKey.
const UniqueKeySeparator = ":"

// Topic is a node in the content graph.
//
// Description:
//
//	A topic owns an AttributeCollection, a ReferenceCollection and an
//	outgoing RelationshipMultiMap, plus the incoming map other topics write
//	into as a side effect of their own edits. Topics are created by a Graph
//	and live in its arena until deleted.
//
//	Typed properties such as Key and View are stored as attributes; their
//	setters go through the same accessor gate as direct attribute writes.
//
// Thread Safety:
//
//	NOT safe for concurrent use. Serialize access per graph.
type Topic struct {
	slot     Slot
	id       int
	parent   *Topic
	children []*Topic
	graph    *Graph
	deleted  bool

	attributes    *AttributeCollection
	references    *ReferenceCollection
	relationships *RelationshipMultiMap
	incoming      *RelationshipMultiMap
}

func newTopic(g *Graph, parent *Topic) *Topic {
	t := &Topic{
		slot:   -1,
		id:     UnsavedID,
		parent: parent,
		graph:  g,
	}
	opts := []CollectionOption{
		WithBookkeepingKeys(g.options.BookkeepingKeys...),
		WithCollectionClock(g.now),
	}
	t.attributes = NewAttributeCollection(t, opts...)
	t.references = NewReferenceCollection(t, opts...)
	t.relationships = newRelationshipMultiMap(t, false, opts...)
	t.incoming = newRelationshipMultiMap(t, true, opts...)
	return t
}

// Slot returns the topic's stable index in its graph.
func (t *Topic) Slot() Slot {
	return t.slot
}

// Graph returns the graph that owns t.
func (t *Topic) Graph() *Graph {
	return t.graph
}

// ID returns the persisted identity, or UnsavedID.
func (t *Topic) ID() int {
	return t.id
}

// IsNew reports whether t has never been persisted.
func (t *Topic) IsNew() bool {
	return t.id < 0
}

// IsDeleted reports whether t was removed from its graph.
func (t *Topic) IsDeleted() bool {
	return t.deleted
}

// SetID assigns the persisted identity.
//
// Description:
//
//	Identity is assigned once, by persistence. Assigning the current ID
//	again is a no-op.
//
// Errors:
//
//	ErrOutOfRange - id is negative.
//	ErrInvalidOperation - t already has a different ID.
//	ErrKeyConflict - another topic in the graph already has id.
func (t *Topic) SetID(id int) error {
	if id < 0 {
		return NewValidationError(ErrOutOfRange, IDAttribute, fmt.Sprint(id), "must not be negative")
	}
	if t.id == id {
		return nil
	}
	if t.id >= 0 {
		return fmt.Errorf("%w: topic %s already has id %d", ErrInvalidOperation, t.UniqueKey(), t.id)
	}
	if t.graph != nil {
		if err := t.graph.assignID(t, id); err != nil {
			return err
		}
	}
	t.id = id
	return nil
}

// Key returns the topic key.
func (t *Topic) Key() string {
	return t.attributes.GetValue(KeyAttribute, "", InheritNone)
}

// SetKey renames the topic.
func (t *Topic) SetKey(key string) error {
	return t.attributes.SetValue(KeyAttribute, key)
}

// ContentType returns the content type, which selects the accessor table.
func (t *Topic) ContentType() string {
	return t.attributes.GetValue(ContentTypeAttribute, "", InheritNone)
}

// SetContentType changes the content type.
func (t *Topic) SetContentType(contentType string) error {
	return t.attributes.SetValue(ContentTypeAttribute, contentType)
}

// View returns the view name, inherited from parents.
func (t *Topic) View() string {
	return t.attributes.GetValue(ViewAttribute, "", InheritFromParent)
}

// SetView sets the view name. Empty clears it.
func (t *Topic) SetView(view string) error {
	return t.attributes.SetValue(ViewAttribute, view)
}

// Title returns the title, falling back to the key.
func (t *Topic) Title() string {
	return t.attributes.GetValue(TitleAttribute, t.Key(), InheritNone)
}

// SetTitle sets the title.
func (t *Topic) SetTitle(title string) error {
	return t.attributes.SetValue(TitleAttribute, title)
}

// SortOrder returns the sort order, zero when unset.
func (t *Topic) SortOrder() int {
	return t.attributes.GetInteger(SortOrderAttribute, 0, InheritNone)
}

// SetSortOrder sets the sort order. Negative values are rejected with
// ErrOutOfRange.
func (t *Topic) SetSortOrder(order int) error {
	return t.attributes.SetInteger(SortOrderAttribute, order)
}

// IsHidden reports whether the topic is hidden.
func (t *Topic) IsHidden() bool {
	return t.attributes.GetBoolean(IsHiddenAttribute, false, InheritNone)
}

// SetIsHidden sets the hidden flag.
func (t *Topic) SetIsHidden(hidden bool) error {
	return t.attributes.SetBoolean(IsHiddenAttribute, hidden)
}

// LastModified returns the LastModified attribute, zero when unset.
func (t *Topic) LastModified() time.Time {
	return t.attributes.GetDateTime(LastModifiedAttribute, time.Time{}, InheritNone)
}

// SetLastModified sets the LastModified attribute. Dates before the Unix
// epoch are rejected with ErrOutOfRange.
func (t *Topic) SetLastModified(ts time.Time) error {
	return t.attributes.SetDateTime(LastModifiedAttribute, ts)
}

// Parent returns the structural parent, nil for roots.
func (t *Topic) Parent() *Topic {
	return t.parent
}

// Children returns the children in creation order.
func (t *Topic) Children() []*Topic {
	return slices.Clone(t.children)
}

// Child returns the child with key.
func (t *Topic) Child(key string) (*Topic, bool) {
	for _, c := range t.children {
		if c.Key() == key {
			return c, true
		}
	}
	return nil, false
}

// UniqueKey returns the colon-joined keys from the root to t.
func (t *Topic) UniqueKey() string {
	var parts []string
	for cur := t; cur != nil; cur = cur.parent {
		parts = append(parts, cur.Key())
	}
	slices.Reverse(parts)
	return strings.Join(parts, UniqueKeySeparator)
}

// BaseTopic returns the topic t derives from, or nil.
func (t *Topic) BaseTopic() *Topic {
	return t.references.GetValue(BaseTopicReference, false)
}

// SetBaseTopic sets or, with nil, clears the base topic.
func (t *Topic) SetBaseTopic(base *Topic) error {
	return t.references.SetValue(BaseTopicReference, base)
}

// Attributes returns the attribute collection.
func (t *Topic) Attributes() *AttributeCollection {
	return t.attributes
}

// References returns the reference collection.
func (t *Topic) References() *ReferenceCollection {
	return t.references
}

// Relationships returns the outgoing relationship map.
func (t *Topic) Relationships() *RelationshipMultiMap {
	return t.relationships
}

// IncomingRelationships returns a read-only view of the topics whose
// references or relationships point at t, keyed by namespace.
func (t *Topic) IncomingRelationships() *ReadOnlyMultiMap {
	return t.incoming.AsReadOnly()
}

// IsDirty reports whether any of t's collections changed since the last
// clean mark. New topics are always dirty.
func (t *Topic) IsDirty() bool {
	return t.IsNew() ||
		t.attributes.IsDirty() ||
		t.references.IsDirty() ||
		t.relationships.IsDirty()
}

// MarkClean marks every collection clean, stamped with version.
func (t *Topic) MarkClean(version time.Time) {
	t.attributes.MarkClean(version)
	t.references.MarkClean(version)
	t.relationships.MarkClean(version)
}

// String returns the unique key and identity.
func (t *Topic) String() string {
	return fmt.Sprintf("%s#%d", t.UniqueKey(), t.id)
}

// accessors returns the accessor table for t's current content type.
func (t *Topic) accessors() *AccessorTable {
	contentType := ""
	if rec, ok := t.attributes.TryGetValue(ContentTypeAttribute); ok {
		contentType = rec.value
	}
	return t.graph.registry.Lookup(contentType)
}

func (t *Topic) enforceAttribute(key, value string) (string, error) {
	if t.graph == nil {
		return value, nil
	}
	acc, ok := t.accessors().Attribute(key)
	if !ok {
		return value, nil
	}
	return acc.Set(t, value)
}

func (t *Topic) enforceReference(key string, target *Topic) error {
	if t.graph == nil {
		return nil
	}
	if target != nil {
		if err := t.checkSameGraph(target); err != nil {
			return err
		}
	}
	acc, ok := t.accessors().Reference(key)
	if !ok {
		return nil
	}
	return acc.Set(t, target)
}

// checkSameGraph rejects targets that live in another graph or were deleted.
func (t *Topic) checkSameGraph(target *Topic) error {
	if target.graph != t.graph || target.deleted {
		return fmt.Errorf("%w: %s is not in this graph", ErrTopicNotFound, target.UniqueKey())
	}
	return nil
}

// siblingWithKey returns another topic under t's parent using key.
func (t *Topic) siblingWithKey(key string) *Topic {
	if t.graph == nil {
		return nil
	}
	siblings := t.graph.roots
	if t.parent != nil {
		siblings = t.parent.children
	}
	for _, s := range siblings {
		if s != t && s.Key() == key {
			return s
		}
	}
	return nil
}
