// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package topics

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ValueKind is the declared type of an attribute.
type ValueKind int

const (
	// KindString accepts any string.
	KindString ValueKind = iota

	// KindInteger accepts decimal integers.
	KindInteger

	// KindDouble accepts floating point numbers.
	KindDouble

	// KindBoolean accepts the forms understood by strconv.ParseBool.
	KindBoolean

	// KindDateTime accepts the layouts understood by GetDateTime.
	KindDateTime

	// KindKey accepts strings matching the key rule.
	KindKey
)

// String returns the schema name of the kind.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindDouble:
		return "double"
	case KindBoolean:
		return "boolean"
	case KindDateTime:
		return "datetime"
	case KindKey:
		return "key"
	default:
		return "unknown"
	}
}

// ParseValueKind parses a schema type name.
func ParseValueKind(s string) (ValueKind, error) {
	switch s {
	case "", "string":
		return KindString, nil
	case "integer", "int":
		return KindInteger, nil
	case "double", "float":
		return KindDouble, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "datetime", "date":
		return KindDateTime, nil
	case "key":
		return KindKey, nil
	default:
		return KindString, fmt.Errorf("unknown value kind %q", s)
	}
}

// AttributeAccessor is the business-logic gate for one attribute key.
//
// Set validates value for topic t and returns the value to store, which may
// be a normalized form of the input. A non-nil error rejects the write and
// is returned to the caller unchanged.
type AttributeAccessor struct {
	Kind ValueKind
	Set  func(t *Topic, value string) (string, error)
}

// ReferenceAccessor is the business-logic gate for one reference key.
// Target may be nil when a reference is being cleared.
type ReferenceAccessor struct {
	Set func(t *Topic, target *Topic) error
}

// AccessorTable maps keys to their declared accessors for one content type.
type AccessorTable struct {
	Attributes map[string]AttributeAccessor
	References map[string]ReferenceAccessor
}

// Attribute returns the accessor declared for key.
func (t *AccessorTable) Attribute(key string) (AttributeAccessor, bool) {
	if t == nil {
		return AttributeAccessor{}, false
	}
	acc, ok := t.Attributes[key]
	return acc, ok && acc.Set != nil
}

// Reference returns the accessor declared for key.
func (t *AccessorTable) Reference(key string) (ReferenceAccessor, bool) {
	if t == nil {
		return ReferenceAccessor{}, false
	}
	acc, ok := t.References[key]
	return acc, ok && acc.Set != nil
}

// AccessorProvider builds the accessor table for a content type. It is
// called at most once per content type between registrations.
type AccessorProvider func() AccessorTable

// AccessorRegistry resolves content types to their accessor tables.
//
// Description:
//
//	Tables are compiled lazily on first lookup and cached. Each compiled
//	table is the built-in topic accessors overlaid with the registered
//	provider's table. Registering a provider invalidates the cache.
//
//	The registry is injected into a Graph at construction. Several graphs
//	may share one registry.
//
// Thread Safety:
//
//	Safe for concurrent use. Concurrent lookups of the same content type
//	compile the table once.
type AccessorRegistry struct {
	mu         sync.RWMutex
	providers  map[string]AccessorProvider
	compiled   map[string]*AccessorTable
	generation uint64
	group      singleflight.Group
}

// NewAccessorRegistry creates a registry holding only the built-in
// accessors.
func NewAccessorRegistry() *AccessorRegistry {
	return &AccessorRegistry{
		providers: make(map[string]AccessorProvider),
		compiled:  make(map[string]*AccessorTable),
	}
}

// Register installs provider for contentType, replacing any previous one.
func (r *AccessorRegistry) Register(contentType string, provider AccessorProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[contentType] = provider
	r.compiled = make(map[string]*AccessorTable)
	r.generation++
}

// ContentTypes returns the content types with a registered provider, sorted.
func (r *AccessorRegistry) ContentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.providers))
}

// Lookup returns the compiled accessor table for contentType. Unregistered
// content types get the built-in table. The returned table must not be
// modified.
func (r *AccessorRegistry) Lookup(contentType string) *AccessorTable {
	r.mu.RLock()
	table, ok := r.compiled[contentType]
	provider := r.providers[contentType]
	generation := r.generation
	r.mu.RUnlock()
	if ok {
		return table
	}

	key := contentType + "@" + strconv.FormatUint(generation, 10)
	resultI, _, _ := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.compiled[contentType]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		compiled := compileTable(provider)

		r.mu.Lock()
		if r.generation == generation {
			r.compiled[contentType] = compiled
		}
		r.mu.Unlock()
		return compiled, nil
	})
	return resultI.(*AccessorTable)
}

func compileTable(provider AccessorProvider) *AccessorTable {
	builtins := BuiltinAccessors()
	table := &AccessorTable{
		Attributes: maps.Clone(builtins.Attributes),
		References: maps.Clone(builtins.References),
	}
	if provider == nil {
		return table
	}
	declared := provider()
	maps.Copy(table.Attributes, declared.Attributes)
	maps.Copy(table.References, declared.References)
	return table
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateKey checks key against the key rule: one or more characters from
// [A-Za-z0-9._-].
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q must match [A-Za-z0-9._-]+", ErrInvalidKey, key)
	}
	return nil
}

// BuiltinAccessors returns the accessors every content type starts from:
// the attribute-backed Topic properties and the BaseTopic reference.
func BuiltinAccessors() AccessorTable {
	return AccessorTable{
		Attributes: map[string]AttributeAccessor{
			KeyAttribute:          {Kind: KindKey, Set: setTopicKey},
			ContentTypeAttribute:  {Kind: KindKey, Set: requiredKey(ContentTypeAttribute)},
			ViewAttribute:         {Kind: KindKey, Set: optionalKey(ViewAttribute)},
			SortOrderAttribute:    {Kind: KindInteger, Set: setSortOrder},
			IsHiddenAttribute:     {Kind: KindBoolean, Set: setIsHidden},
			LastModifiedAttribute: {Kind: KindDateTime, Set: setLastModified},
			IDAttribute:           {Kind: KindInteger, Set: rejectID},
		},
		References: map[string]ReferenceAccessor{
			BaseTopicReference: {Set: setBaseTopic},
		},
	}
}

func setTopicKey(t *Topic, value string) (string, error) {
	if err := ValidateKey(value); err != nil {
		return "", NewValidationError(ErrInvalidKey, KeyAttribute, value, "must match [A-Za-z0-9._-]+")
	}
	if sibling := t.siblingWithKey(value); sibling != nil {
		return "", fmt.Errorf("%w: sibling already uses key %q", ErrKeyConflict, value)
	}
	return value, nil
}

func requiredKey(attribute string) func(*Topic, string) (string, error) {
	return func(_ *Topic, value string) (string, error) {
		if err := ValidateKey(value); err != nil {
			return "", NewValidationError(ErrInvalidKey, attribute, value, "must match [A-Za-z0-9._-]+")
		}
		return value, nil
	}
}

func optionalKey(attribute string) func(*Topic, string) (string, error) {
	required := requiredKey(attribute)
	return func(t *Topic, value string) (string, error) {
		if value == "" {
			return "", nil
		}
		return required(t, value)
	}
}

func setSortOrder(_ *Topic, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return "", NewValidationError(ErrOutOfRange, SortOrderAttribute, value, "not an integer")
	}
	if n < 0 {
		return "", NewValidationError(ErrOutOfRange, SortOrderAttribute, value, "must not be negative")
	}
	return strconv.Itoa(n), nil
}

func setIsHidden(_ *Topic, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return "", NewValidationError(ErrOutOfRange, IsHiddenAttribute, value, "not a boolean")
	}
	return formatBool(b), nil
}

func setLastModified(_ *Topic, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	ts, ok := parseDateTime(value)
	if !ok {
		return "", NewValidationError(ErrOutOfRange, LastModifiedAttribute, value, "not a date")
	}
	if ts.Before(time.Unix(0, 0)) {
		return "", NewValidationError(ErrOutOfRange, LastModifiedAttribute, value, "before the Unix epoch")
	}
	return ts.UTC().Format(time.RFC3339), nil
}

func rejectID(_ *Topic, value string) (string, error) {
	return "", NewValidationError(ErrInvalidOperation, IDAttribute, value, "identity is assigned by persistence, use SetID")
}

func setBaseTopic(t *Topic, target *Topic) error {
	if target == t {
		return NewValidationError(ErrInvalidOperation, BaseTopicReference, t.UniqueKey(), "a topic cannot derive from itself")
	}
	return nil
}
