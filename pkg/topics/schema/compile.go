// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

// validate is the shared validator instance. Initialized in init() with the
// topickey rule.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("topickey", validateTopicKey)
}

// validateTopicKey accepts strings satisfying topics.ValidateKey.
func validateTopicKey(fl validator.FieldLevel) bool {
	return topics.ValidateKey(fl.Field().String()) == nil
}

// checkRule reports whether rule's type and validation tag are usable.
// The validator panics on unknown tags, so the tag is exercised once here.
func checkRule(rule AttributeRule) (err error) {
	kind, err := topics.ParseValueKind(rule.Type)
	if err != nil {
		return err
	}
	if rule.Rules == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rules %q: %v", rule.Rules, r)
		}
	}()
	_ = validate.Var(zeroOf(kind), rule.Rules)
	return nil
}

func zeroOf(kind topics.ValueKind) any {
	switch kind {
	case topics.KindInteger:
		return 0
	case topics.KindDouble:
		return 0.0
	case topics.KindBoolean:
		return false
	case topics.KindDateTime:
		return time.Time{}
	default:
		return ""
	}
}

// Apply registers an accessor provider for every content type in s.
//
// Description:
//
//	Each content type is resolved against its bases first, so resolution
//	errors surface here rather than on first use. Declarations for built-in
//	keys (such as View) run after the built-in accessor, on its normalized
//	value, so a schema can narrow a built-in rule but not loosen it.
//
// Inputs:
//
//	registry - The registry to populate. Must not be nil.
//
// Errors:
//
//	ErrUnknownContentType, ErrBaseCycle - resolution failed.
func (s *Schema) Apply(registry *topics.AccessorRegistry) error {
	resolved := make([]ContentType, 0, len(s.ContentTypes))
	for _, ct := range s.ContentTypes {
		r, err := s.Resolve(ct.Name)
		if err != nil {
			return err
		}
		resolved = append(resolved, r)
	}
	for _, ct := range resolved {
		registry.Register(ct.Name, provider(ct))
	}
	slog.Debug("schema applied", slog.Int("content_types", len(resolved)))
	return nil
}

func provider(ct ContentType) topics.AccessorProvider {
	return func() topics.AccessorTable {
		builtins := topics.BuiltinAccessors()
		table := topics.AccessorTable{
			Attributes: make(map[string]topics.AttributeAccessor, len(ct.Attributes)),
			References: make(map[string]topics.ReferenceAccessor, len(ct.References)),
		}
		for _, rule := range ct.Attributes {
			table.Attributes[rule.Key] = compileAttribute(ct.Name, rule, builtins.Attributes[rule.Key])
		}
		for _, rule := range ct.References {
			table.References[rule.Key] = compileReference(ct.Name, rule, builtins.References[rule.Key])
		}
		return table
	}
}

func compileAttribute(contentType string, rule AttributeRule, builtin topics.AttributeAccessor) topics.AttributeAccessor {
	kind, _ := topics.ParseValueKind(rule.Type)
	return topics.AttributeAccessor{
		Kind: kind,
		Set: func(t *topics.Topic, value string) (string, error) {
			if builtin.Set != nil {
				normalized, err := builtin.Set(t, value)
				if err != nil {
					return "", err
				}
				value = normalized
			}
			out, err := checkValue(rule, kind, value)
			if err != nil {
				rejectionsTotal.WithLabelValues(contentType, rule.Key).Inc()
				return "", err
			}
			return out, nil
		},
	}
}

// checkValue coerces value to kind, applies the validation tag to the typed
// value and returns the normalized string form.
func checkValue(rule AttributeRule, kind topics.ValueKind, value string) (string, error) {
	if value == "" {
		if rule.Required {
			return "", topics.NewValidationError(topics.ErrOutOfRange, rule.Key, value, "required")
		}
		return "", nil
	}
	var typed any
	var normalized string
	switch kind {
	case topics.KindInteger:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", topics.NewValidationError(topics.ErrOutOfRange, rule.Key, value, "not an integer")
		}
		typed, normalized = n, strconv.Itoa(n)
	case topics.KindDouble:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", topics.NewValidationError(topics.ErrOutOfRange, rule.Key, value, "not a number")
		}
		typed, normalized = f, strconv.FormatFloat(f, 'f', -1, 64)
	case topics.KindBoolean:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", topics.NewValidationError(topics.ErrOutOfRange, rule.Key, value, "not a boolean")
		}
		typed = b
		normalized = "0"
		if b {
			normalized = "1"
		}
	case topics.KindDateTime:
		ts, ok := topics.ParseDateTime(value)
		if !ok {
			return "", topics.NewValidationError(topics.ErrOutOfRange, rule.Key, value, "not a date")
		}
		typed, normalized = ts, ts.UTC().Format(time.RFC3339)
	case topics.KindKey:
		if err := topics.ValidateKey(value); err != nil {
			return "", topics.NewValidationError(topics.ErrInvalidKey, rule.Key, value, "must match [A-Za-z0-9._-]+")
		}
		typed, normalized = value, value
	default:
		typed, normalized = value, value
	}
	if rule.Rules != "" {
		if err := validate.Var(typed, rule.Rules); err != nil {
			sentinel := topics.ErrOutOfRange
			if slices.Contains(failedTags(err), "topickey") {
				sentinel = topics.ErrInvalidKey
			}
			return "", topics.NewValidationError(sentinel, rule.Key, value, "violates "+rule.Rules)
		}
	}
	return normalized, nil
}

func failedTags(err error) []string {
	var out []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			out = append(out, fe.Tag())
		}
	}
	return out
}

func compileReference(contentType string, rule ReferenceRule, builtin topics.ReferenceAccessor) topics.ReferenceAccessor {
	return topics.ReferenceAccessor{
		Set: func(t *topics.Topic, target *topics.Topic) error {
			if builtin.Set != nil {
				if err := builtin.Set(t, target); err != nil {
					return err
				}
			}
			if target == nil || len(rule.ContentTypes) == 0 {
				return nil
			}
			if !slices.Contains(rule.ContentTypes, target.ContentType()) {
				rejectionsTotal.WithLabelValues(contentType, rule.Key).Inc()
				return topics.NewValidationError(topics.ErrOutOfRange, rule.Key, target.UniqueKey(),
					fmt.Sprintf("content type %s not in %v", target.ContentType(), rule.ContentTypes))
			}
			return nil
		},
	}
}
