// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package topics

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"Root", true},
		{"a.b-c_d9", true},
		{"", false},
		{"has space", false},
		{"colon:key", false},
		{"# ?", false},
		{"ünïcode", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidKey)
			}
		})
	}
}

func TestRegistry_BuiltinsForUnknownType(t *testing.T) {
	r := NewAccessorRegistry()
	table := r.Lookup("Anything")
	_, ok := table.Attribute(ViewAttribute)
	assert.True(t, ok)
	_, ok = table.Reference(BaseTopicReference)
	assert.True(t, ok)
	_, ok = table.Attribute("Custom")
	assert.False(t, ok)
	assert.Empty(t, r.ContentTypes())
}

func TestRegistry_CompilesOnceAndCaches(t *testing.T) {
	r := NewAccessorRegistry()
	var calls atomic.Int32
	r.Register("Event", func() AccessorTable {
		calls.Add(1)
		return AccessorTable{Attributes: map[string]AttributeAccessor{
			"Venue": {Kind: KindString, Set: func(_ *Topic, v string) (string, error) { return v, nil }},
		}}
	})

	var wg sync.WaitGroup
	tables := make([]*AccessorTable, 16)
	for i := range tables {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tables[i] = r.Lookup("Event")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, table := range tables {
		assert.Same(t, tables[0], table)
	}
	_, ok := tables[0].Attribute("Venue")
	assert.True(t, ok)
	_, ok = tables[0].Attribute(KeyAttribute)
	assert.True(t, ok, "built-ins are merged in")
}

func TestRegistry_RegisterInvalidates(t *testing.T) {
	r := NewAccessorRegistry()
	r.Register("Event", func() AccessorTable { return AccessorTable{} })
	first := r.Lookup("Event")

	r.Register("Event", func() AccessorTable {
		return AccessorTable{Attributes: map[string]AttributeAccessor{
			"Venue": {Set: func(_ *Topic, v string) (string, error) { return v, nil }},
		}}
	})
	second := r.Lookup("Event")

	assert.NotSame(t, first, second)
	_, ok := second.Attribute("Venue")
	assert.True(t, ok)
	assert.Equal(t, []string{"Event"}, r.ContentTypes())
}

func TestRegistry_OverrideBuiltin(t *testing.T) {
	r := NewAccessorRegistry()
	r.Register("Loose", func() AccessorTable {
		return AccessorTable{Attributes: map[string]AttributeAccessor{
			ViewAttribute: {Kind: KindString, Set: func(_ *Topic, v string) (string, error) { return v, nil }},
		}}
	})
	g := NewGraph(WithRegistry(r))
	topic, err := g.NewRootTopic("Root", "Loose")
	require.NoError(t, err)
	assert.NoError(t, topic.SetView("any view at all"))
}

func TestValueKind_Parse(t *testing.T) {
	for _, kind := range []ValueKind{KindString, KindInteger, KindDouble, KindBoolean, KindDateTime, KindKey} {
		parsed, err := ParseValueKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
	_, err := ParseValueKind("blob")
	assert.Error(t, err)
}
