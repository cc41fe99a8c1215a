// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PathEnv names the environment variable that overrides the embedded
// default schema with a file.
const PathEnv = "TOPICGRAPH_SCHEMA"

//go:embed default_schema.yaml
var defaultSchemaYAML []byte

var (
	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topicgraph_schema_loads_total",
		Help: "Total schema loads by source and result",
	}, []string{"source", "result"})

	loadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "topicgraph_schema_load_duration_seconds",
		Help:    "Duration of schema loading",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topicgraph_schema_rejections_total",
		Help: "Total attribute and reference writes rejected by schema rules",
	}, []string{"content_type", "key"})
)

var (
	defaultMu   sync.RWMutex
	defaultOnce sync.Once
	cached      *Schema
	cachedErr   error
)

// Default returns the default schema, loading it on first call.
//
// Description:
//
//	If PathEnv names a readable schema file it is used; otherwise, or if
//	the file fails to load, the embedded schema is used and a warning is
//	logged. The result is cached until Reset.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func Default(ctx context.Context) (*Schema, error) {
	if ctx == nil {
		return nil, fmt.Errorf("Default: ctx must not be nil")
	}

	defaultMu.RLock()
	if cached != nil || cachedErr != nil {
		s, err := cached, cachedErr
		defaultMu.RUnlock()
		return s, err
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOnce.Do(func() {
		cached, cachedErr = loadDefault(ctx)
	})
	return cached, cachedErr
}

// Reset clears the cached default schema. Intended for tests.
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOnce = sync.Once{}
	cached = nil
	cachedErr = nil
}

// Embedded parses the embedded default schema without caching.
func Embedded() (*Schema, error) {
	return Parse(defaultSchemaYAML)
}

func loadDefault(ctx context.Context) (*Schema, error) {
	ctx, span := tracer.Start(ctx, "schema.Default")
	defer span.End()

	if path := os.Getenv(PathEnv); path != "" {
		s, err := LoadFile(ctx, path)
		if err == nil {
			span.SetAttributes(attribute.String("source", "external"))
			slog.Info("loaded schema from file", slog.String("path", path))
			return s, nil
		}
		slog.Warn("schema file not usable, using embedded default",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	start := time.Now()
	s, err := Embedded()
	loadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		loadsTotal.WithLabelValues("embedded", "error").Inc()
		return nil, fmt.Errorf("parsing embedded schema: %w", err)
	}
	span.SetAttributes(
		attribute.String("source", "embedded"),
		attribute.Int("content_types", len(s.ContentTypes)),
	)
	loadsTotal.WithLabelValues("embedded", "ok").Inc()
	slog.Debug("loaded embedded schema", slog.Int("content_types", len(s.ContentTypes)))
	return s, nil
}
