// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fixture

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StringEntry is one key/value pair of a StringMap.
type StringEntry struct {
	Key   string
	Value string
}

// StringMap is a YAML mapping of strings that keeps document order, so
// records load in the order they were written.
type StringMap []StringEntry

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *StringMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	out := make(StringMap, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: value of %q must be a scalar", v.Line, k.Value)
		}
		out = append(out, StringEntry{Key: k.Value, Value: v.Value})
	}
	*m = out
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (m StringMap) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range m {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Value},
		)
	}
	return node, nil
}

// RelationshipEntry is one namespace of a RelationshipMap.
type RelationshipEntry struct {
	Namespace string
	Targets   []string
}

// RelationshipMap is a YAML mapping of namespace to target unique keys that
// keeps document order.
type RelationshipMap []RelationshipEntry

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *RelationshipMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	out := make(RelationshipMap, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		var targets []string
		if err := v.Decode(&targets); err != nil {
			return fmt.Errorf("line %d: targets of %q: %w", v.Line, k.Value, err)
		}
		out = append(out, RelationshipEntry{Namespace: k.Value, Targets: targets})
	}
	*m = out
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (m RelationshipMap) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range m {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, t := range e.Targets {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: t})
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Namespace},
			seq,
		)
	}
	return node, nil
}
