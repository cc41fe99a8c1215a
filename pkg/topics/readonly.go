// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package topics

// ReadOnlyMultiMap is a read-only projection of a RelationshipMultiMap.
//
// It reads through to the underlying map, so it always reflects current
// state. Returned slices are copies.
type ReadOnlyMultiMap struct {
	m *RelationshipMultiMap
}

// Keys returns the namespaces in insertion order.
func (r *ReadOnlyMultiMap) Keys() []string {
	return r.m.Keys()
}

// Len returns the number of namespaces.
func (r *ReadOnlyMultiMap) Len() int {
	return r.m.Len()
}

// Contains reports whether target is listed under namespace.
func (r *ReadOnlyMultiMap) Contains(namespace string, target *Topic) bool {
	return r.m.Contains(namespace, target)
}

// GetValues returns the topics listed under namespace.
func (r *ReadOnlyMultiMap) GetValues(namespace string) []*Topic {
	return r.m.GetValues(namespace)
}

// GetAllValues returns every listed topic once, optionally filtered by
// content type.
func (r *ReadOnlyMultiMap) GetAllValues(contentTypes ...string) []*Topic {
	return r.m.GetAllValues(contentTypes...)
}

// IsFullyLoaded returns the loader-supplied completeness flag.
func (r *ReadOnlyMultiMap) IsFullyLoaded() LoadState {
	return r.m.IsFullyLoaded()
}
