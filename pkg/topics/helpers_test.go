// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package topics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// stepClock advances one second per call so version stamps are distinct.
type stepClock struct {
	t time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: testEpoch}
}

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestGraph(t *testing.T, opts ...GraphOption) *Graph {
	t.Helper()
	clock := newStepClock()
	return NewGraph(append([]GraphOption{WithClock(clock.Now)}, opts...)...)
}

// mustTopic creates a new (unsaved) topic.
func mustTopic(t *testing.T, g *Graph, parent *Topic, key string) *Topic {
	t.Helper()
	topic, err := g.NewTopic(parent, key, "Page")
	require.NoError(t, err)
	return topic
}

// savedTopic creates a topic with a persisted identity and clean records.
func savedTopic(t *testing.T, g *Graph, parent *Topic, key string, id int) *Topic {
	t.Helper()
	topic, err := g.NewTopic(parent, key, "Page", WithID(id), WithLoadedVersion(testEpoch))
	require.NoError(t, err)
	require.False(t, topic.IsDirty())
	return topic
}
