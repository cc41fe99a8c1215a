// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package topics

import (
	"errors"
	"fmt"
)

// Sentinel errors for topic and collection operations.
//
// All errors are returned synchronously at the call site and are never
// retried internally. Callers classify them with errors.Is.
var (
	// ErrKeyConflict is returned when Add is called with a key that already
	// exists in the collection, or when a sibling topic already uses a key.
	// Replacement must go through SetValue or Set.
	ErrKeyConflict = errors.New("key already exists")

	// ErrInvalidKey is returned when a key fails validation, typically
	// because it contains characters outside [A-Za-z0-9._-].
	ErrInvalidKey = errors.New("invalid key")

	// ErrOutOfRange is returned when a declared accessor rejects a value as
	// outside its domain (negative sort order, pre-epoch date, unparseable
	// number for a typed attribute).
	ErrOutOfRange = errors.New("value out of range")

	// ErrReferentialIntegrity is returned when deleting a topic that is the
	// target of a reference or relationship originating outside the subtree
	// being deleted.
	ErrReferentialIntegrity = errors.New("referential integrity violation")

	// ErrInvalidOperation is returned when attempting to set an immutable
	// field (such as Id) through the tracked collection path, or to mutate a
	// derived index directly.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrTopicNotFound is returned when a slot, ID, or parent does not belong
	// to the graph.
	ErrTopicNotFound = errors.New("topic not found")

	// ErrMaxTopicsExceeded is returned when the graph has reached its
	// configured maximum topic capacity.
	ErrMaxTopicsExceeded = errors.New("maximum topic count exceeded")
)

// ValidationError describes a value rejected by a declared accessor.
//
// Err is always one of the package sentinels, so both errors.Is(err,
// ErrInvalidKey) and errors.As(err, &validationErr) work on the result of a
// gated write.
type ValidationError struct {
	// Key is the attribute or reference key being written.
	Key string

	// Value is the rejected value as written by the caller.
	Value string

	// Reason explains why the accessor rejected the value.
	Reason string

	// Err is the sentinel classifying the failure.
	Err error
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s=%q: %s", e.Err, e.Key, e.Value, e.Reason)
}

// Unwrap returns the classifying sentinel.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError classified by sentinel.
func NewValidationError(sentinel error, key, value, reason string) *ValidationError {
	return &ValidationError{
		Key:    key,
		Value:  value,
		Reason: reason,
		Err:    sentinel,
	}
}
