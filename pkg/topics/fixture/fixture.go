// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fixture reads and writes topic graphs as YAML documents.
//
// A fixture describes a tree of topics with their attributes, references
// and relationships. Targets are named by unique key (colon-joined keys from
// the root) and resolved after the whole tree exists, so forward references
// are allowed.
//
// Topics that carry an id are treated as already persisted: their records
// are loaded clean through the trusted rehydration path, stamped with the
// document version. Topics without an id are new and therefore dirty.
package fixture

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/topicgraph/pkg/topics"
)

// MaxFixtureSize is the maximum accepted fixture size (8MB).
const MaxFixtureSize = 8 * 1024 * 1024

var (
	// ErrInvalidFixture is returned when a document fails to decode or
	// validate.
	ErrInvalidFixture = errors.New("invalid fixture")

	// ErrUnresolvedTarget is returned when a reference, relationship or
	// base topic names a unique key absent from the graph.
	ErrUnresolvedTarget = errors.New("unresolved target")
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("topickey", func(fl validator.FieldLevel) bool {
		return topics.ValidateKey(fl.Field().String()) == nil
	})
}

// Document is the root of a fixture.
type Document struct {
	// Version stamps every clean record. Zero means the load time.
	Version time.Time `yaml:"version,omitempty"`

	Topics []Node `yaml:"topics" validate:"dive"`
}

// Node is one topic in a fixture tree.
type Node struct {
	Key           string          `yaml:"key" validate:"required,topickey"`
	ContentType   string          `yaml:"content_type" validate:"required,topickey"`
	ID            *int            `yaml:"id,omitempty" validate:"omitempty,gte=0"`
	BaseTopic     string          `yaml:"base_topic,omitempty"`
	Attributes    StringMap       `yaml:"attributes,omitempty"`
	References    StringMap       `yaml:"references,omitempty"`
	Relationships RelationshipMap `yaml:"relationships,omitempty"`
	Children      []Node          `yaml:"children,omitempty" validate:"dive"`
}

// Parse decodes and validates a fixture document. Unknown fields are
// rejected.
func Parse(data []byte) (*Document, error) {
	if len(data) > MaxFixtureSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrInvalidFixture, len(data), MaxFixtureSize)
	}
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	return &doc, nil
}

// LoadFile reads and parses a fixture file.
func LoadFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat fixture: %w", err)
	}
	if info.Size() > MaxFixtureSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrInvalidFixture, info.Size(), MaxFixtureSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Marshal encodes d as YAML.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encoding fixture: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding fixture: %w", err)
	}
	return buf.Bytes(), nil
}

// Count returns the number of nodes in d.
func (d *Document) Count() int {
	n := 0
	var walk func([]Node)
	walk = func(nodes []Node) {
		for _, node := range nodes {
			n++
			walk(node.Children)
		}
	}
	walk(d.Topics)
	return n
}
