// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package topics

import (
	"strconv"
	"time"
)

// MaxBaseHops bounds traversal of the base topic chain. Base edges may form
// cycles, so resolution stops once the budget is spent.
const MaxBaseHops = 5

// Inheritance selects which chains attribute resolution may walk.
type Inheritance uint8

const (
	// InheritNone resolves locally only.
	InheritNone Inheritance = 0

	// InheritFromParent walks the structural parent chain.
	InheritFromParent Inheritance = 1

	// InheritFromBase walks the base topic chain, at most MaxBaseHops deep.
	InheritFromBase Inheritance = 2

	// InheritAll walks both chains, parent first.
	InheritAll = InheritFromParent | InheritFromBase
)

// String returns a readable form of the flags.
func (i Inheritance) String() string {
	switch i {
	case InheritNone:
		return "none"
	case InheritFromParent:
		return "parent"
	case InheritFromBase:
		return "base"
	case InheritAll:
		return "parent,base"
	default:
		return "unknown"
	}
}

// dateTimeLayouts are the layouts GetDateTime accepts, tried in order.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseDateTime parses s with the first matching layout understood by
// GetDateTime.
func ParseDateTime(s string) (time.Time, bool) {
	return parseDateTime(s)
}

func parseDateTime(s string) (time.Time, bool) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AttributeCollection stores a topic's string attributes.
//
// Description:
//
//	Adds typed access with default fallback and inheritance resolution on
//	top of TrackedRecordCollection. Every write, whichever path it takes,
//	passes through the accessor declared for the key on the owner's content
//	type. The empty string is the empty sentinel and reads as absent.
//
// Thread Safety:
//
//	NOT safe for concurrent use.
type AttributeCollection struct {
	*TrackedRecordCollection[string]
}

// NewAttributeCollection creates an attribute collection for owner. A nil
// owner yields a detached collection with no accessor gate and no
// inheritance.
func NewAttributeCollection(owner *Topic, opts ...CollectionOption) *AttributeCollection {
	c := NewTrackedRecordCollection[string](owner, opts...)
	c.policy = recordPolicy[string]{
		isEmpty: func(v string) bool { return v == "" },
		enforce: func(key, value string) (string, error) {
			if owner == nil {
				return value, nil
			}
			return owner.enforceAttribute(key, value)
		},
	}
	return &AttributeCollection{TrackedRecordCollection: c}
}

// GetValue resolves key to a non-empty string.
//
// Description:
//
//	Looks up key locally, then along the parent chain, then along the base
//	chain, as selected by inherit. Empty values read as absent.
//
// Inputs:
//
//	key - The attribute key.
//	defaultValue - Returned when nothing resolves.
//	inherit - The chains resolution may walk.
//
// Outputs:
//
//	string - The resolved value or defaultValue.
func (a *AttributeCollection) GetValue(key, defaultValue string, inherit Inheritance) string {
	if v, ok := a.resolve(key, inherit, MaxBaseHops, acceptAny); ok {
		return v
	}
	return defaultValue
}

// GetInteger resolves key to an int. Values that do not parse fall through
// to the next source in the chain.
func (a *AttributeCollection) GetInteger(key string, defaultValue int, inherit Inheritance) int {
	v, ok := a.resolve(key, inherit, MaxBaseHops, func(s string) bool {
		_, err := strconv.Atoi(s)
		return err == nil
	})
	if !ok {
		return defaultValue
	}
	n, _ := strconv.Atoi(v)
	return n
}

// GetDouble resolves key to a float64.
func (a *AttributeCollection) GetDouble(key string, defaultValue float64, inherit Inheritance) float64 {
	v, ok := a.resolve(key, inherit, MaxBaseHops, func(s string) bool {
		_, err := strconv.ParseFloat(s, 64)
		return err == nil
	})
	if !ok {
		return defaultValue
	}
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

// GetBoolean resolves key to a bool. Accepts the forms understood by
// strconv.ParseBool, which include "1"/"0" as written by SetBoolean.
func (a *AttributeCollection) GetBoolean(key string, defaultValue bool, inherit Inheritance) bool {
	v, ok := a.resolve(key, inherit, MaxBaseHops, func(s string) bool {
		_, err := strconv.ParseBool(s)
		return err == nil
	})
	if !ok {
		return defaultValue
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// GetDateTime resolves key to a time.Time.
func (a *AttributeCollection) GetDateTime(key string, defaultValue time.Time, inherit Inheritance) time.Time {
	v, ok := a.resolve(key, inherit, MaxBaseHops, func(s string) bool {
		_, ok := parseDateTime(s)
		return ok
	})
	if !ok {
		return defaultValue
	}
	t, _ := parseDateTime(v)
	return t
}

// SetInteger stores value in decimal form.
func (a *AttributeCollection) SetInteger(key string, value int, opts ...SetOption) error {
	return a.SetValue(key, strconv.Itoa(value), opts...)
}

// SetDouble stores value in the shortest form that round-trips.
func (a *AttributeCollection) SetDouble(key string, value float64, opts ...SetOption) error {
	return a.SetValue(key, strconv.FormatFloat(value, 'f', -1, 64), opts...)
}

// SetBoolean stores value as "1" or "0".
func (a *AttributeCollection) SetBoolean(key string, value bool, opts ...SetOption) error {
	return a.SetValue(key, formatBool(value), opts...)
}

// SetDateTime stores value in RFC 3339 form.
func (a *AttributeCollection) SetDateTime(key string, value time.Time, opts ...SetOption) error {
	return a.SetValue(key, value.Format(time.RFC3339), opts...)
}

// resolve walks the local value, the parent chain and the base chain in
// that order. The local value is always consulted; hops only limits further
// base traversal.
func (a *AttributeCollection) resolve(key string, inherit Inheritance, hops int, accept func(string) bool) (string, bool) {
	if rec, ok := a.TryGetValue(key); ok && rec.value != "" && accept(rec.value) {
		return rec.value, true
	}
	owner := a.owner
	if owner == nil {
		return "", false
	}
	if inherit&InheritFromParent != 0 && owner.parent != nil {
		if v, ok := owner.parent.attributes.resolve(key, inherit, hops, accept); ok {
			return v, true
		}
	}
	if inherit&InheritFromBase != 0 && hops > 0 {
		if base := owner.BaseTopic(); base != nil {
			if v, ok := base.attributes.resolve(key, inherit, hops-1, accept); ok {
				return v, true
			}
		}
	}
	return "", false
}

func acceptAny(string) bool { return true }

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
