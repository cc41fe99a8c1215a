// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schema loads content-type schemas and compiles them into accessor
// tables for a topics.AccessorRegistry.
//
// A schema declares, per content type, the typed attributes and references
// a topic may carry and the validation rules their values must satisfy.
// Rules use go-playground/validator tag syntax and are evaluated against the
// typed value, so "gte=1,lte=600" on an integer attribute compares numbers.
//
// Thread Safety:
//
//	Parsed schemas are immutable. Default and Reset are safe for concurrent
//	use.
package schema

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize is the maximum accepted schema size (1MB).
const MaxYAMLFileSize = 1024 * 1024

var (
	// ErrInvalidSchema is returned when a schema fails structural validation.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrUnknownContentType is returned when a content type, or a base it
	// names, is not declared.
	ErrUnknownContentType = errors.New("unknown content type")

	// ErrBaseCycle is returned when content-type bases form a cycle.
	ErrBaseCycle = errors.New("content type base cycle")

	// ErrFileTooLarge is returned when schema input exceeds MaxYAMLFileSize.
	ErrFileTooLarge = errors.New("schema file too large")
)

var tracer = otel.Tracer("topicgraph.schema")

// Schema is the root of a schema document.
type Schema struct {
	Version      int           `yaml:"version" validate:"gte=0"`
	ContentTypes []ContentType `yaml:"content_types" validate:"dive"`
}

// ContentType declares the attributes and references of one content type.
// Base names another content type whose declarations are inherited; the
// derived type's declarations win on key collisions.
type ContentType struct {
	Name       string          `yaml:"name" validate:"required,topickey"`
	Base       string          `yaml:"base,omitempty" validate:"omitempty,topickey"`
	Attributes []AttributeRule `yaml:"attributes,omitempty" validate:"dive"`
	References []ReferenceRule `yaml:"references,omitempty" validate:"dive"`
}

// AttributeRule declares one attribute.
type AttributeRule struct {
	Key      string `yaml:"key" validate:"required,topickey"`
	Type     string `yaml:"type,omitempty" validate:"omitempty,oneof=string integer int double float boolean bool datetime date key"`
	Rules    string `yaml:"rules,omitempty"`
	Required bool   `yaml:"required,omitempty"`
}

// ReferenceRule declares one reference and the content types its target
// may have. An empty ContentTypes list allows any target.
type ReferenceRule struct {
	Key          string   `yaml:"key" validate:"required,topickey"`
	ContentTypes []string `yaml:"content_types,omitempty" validate:"dive,topickey"`
}

// Parse decodes and validates a schema document.
//
// Description:
//
//	Unknown YAML fields are rejected. Besides the struct rules, Parse checks
//	that content type names are unique, that every base exists, that bases
//	do not form a cycle and that every validation rule compiles.
//
// Errors:
//
//	ErrFileTooLarge - data exceeds MaxYAMLFileSize.
//	ErrInvalidSchema - YAML or structural validation failed.
//	ErrUnknownContentType - a base names an undeclared content type.
//	ErrBaseCycle - bases form a cycle.
func Parse(data []byte) (*Schema, error) {
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, len(data), MaxYAMLFileSize)
	}
	var s Schema
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads and parses a schema file.
func LoadFile(ctx context.Context, path string) (*Schema, error) {
	_, span := tracer.Start(ctx, "schema.LoadFile",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	start := time.Now()
	s, err := loadFile(path)
	loadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		loadsTotal.WithLabelValues("file", "error").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.Int("content_types", len(s.ContentTypes)))
	loadsTotal.WithLabelValues("file", "ok").Inc()
	return s, nil
}

func loadFile(path string) (*Schema, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat schema: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Lookup returns the declared content type name, without base merging.
func (s *Schema) Lookup(name string) (ContentType, bool) {
	for _, ct := range s.ContentTypes {
		if ct.Name == name {
			return ct, true
		}
	}
	return ContentType{}, false
}

// Names returns the declared content type names in document order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.ContentTypes))
	for i, ct := range s.ContentTypes {
		names[i] = ct.Name
	}
	return names
}

// Resolve returns name with its base chain merged in. Keys declared closer
// to name win; attributes keep the order in which they were first declared,
// base first.
func (s *Schema) Resolve(name string) (ContentType, error) {
	chain, err := s.chain(name)
	if err != nil {
		return ContentType{}, err
	}
	out := ContentType{Name: name, Base: chain[0].Base}
	attrIndex := make(map[string]int)
	refIndex := make(map[string]int)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, rule := range chain[i].Attributes {
			if j, ok := attrIndex[rule.Key]; ok {
				out.Attributes[j] = rule
				continue
			}
			attrIndex[rule.Key] = len(out.Attributes)
			out.Attributes = append(out.Attributes, rule)
		}
		for _, rule := range chain[i].References {
			if j, ok := refIndex[rule.Key]; ok {
				out.References[j] = rule
				continue
			}
			refIndex[rule.Key] = len(out.References)
			out.References = append(out.References, rule)
		}
	}
	return out, nil
}

// chain returns name followed by its bases, nearest first.
func (s *Schema) chain(name string) ([]ContentType, error) {
	var chain []ContentType
	seen := make(map[string]bool)
	for cur := name; cur != ""; {
		if seen[cur] {
			return nil, fmt.Errorf("%w: %s", ErrBaseCycle, name)
		}
		seen[cur] = true
		ct, ok := s.Lookup(cur)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownContentType, cur)
		}
		chain = append(chain, ct)
		cur = ct.Base
	}
	return chain, nil
}

func (s *Schema) check() error {
	names := make(map[string]bool, len(s.ContentTypes))
	for _, ct := range s.ContentTypes {
		if names[ct.Name] {
			return fmt.Errorf("%w: duplicate content type %s", ErrInvalidSchema, ct.Name)
		}
		names[ct.Name] = true
	}
	for _, ct := range s.ContentTypes {
		if _, err := s.chain(ct.Name); err != nil {
			return err
		}
		keys := make(map[string]bool, len(ct.Attributes))
		for _, rule := range ct.Attributes {
			if keys[rule.Key] {
				return fmt.Errorf("%w: %s declares %s twice", ErrInvalidSchema, ct.Name, rule.Key)
			}
			keys[rule.Key] = true
			if err := checkRule(rule); err != nil {
				return fmt.Errorf("%w: %s.%s: %v", ErrInvalidSchema, ct.Name, rule.Key, err)
			}
		}
		for _, ref := range ct.References {
			for _, target := range ref.ContentTypes {
				if !names[target] {
					return fmt.Errorf("%w: %s.%s targets %s", ErrUnknownContentType, ct.Name, ref.Key, target)
				}
			}
		}
	}
	return nil
}
