// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("topicgraph.checkpoint")
	meter  = otel.Meter("topicgraph.checkpoint")
)

var (
	savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topicgraph_checkpoint_saves_total",
		Help: "Total checkpoint saves by result",
	}, []string{"result"})

	saveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "topicgraph_checkpoint_save_duration_seconds",
		Help:    "Time to write one checkpoint batch",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	recordsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topicgraph_checkpoint_records_written_total",
		Help: "Records written or deleted by checkpoint saves",
	}, []string{"kind"})
)

var (
	loadLatency  metric.Float64Histogram
	loadedTopics metric.Int64Histogram
	skippedEdges metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the OTel instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		loadLatency, err = meter.Float64Histogram(
			"checkpoint_load_duration_seconds",
			metric.WithDescription("Duration of checkpoint loads"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		loadedTopics, err = meter.Int64Histogram(
			"checkpoint_loaded_topics",
			metric.WithDescription("Number of topics rehydrated per load"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		skippedEdges, err = meter.Int64Counter(
			"checkpoint_skipped_edges_total",
			metric.WithDescription("Edges left dirty because their target is unsaved"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordLoadMetrics(ctx context.Context, duration time.Duration, topics int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	loadLatency.Record(ctx, duration.Seconds(), attrs)
	if success {
		loadedTopics.Record(ctx, int64(topics))
	}
}

func recordSkippedEdges(ctx context.Context, n int) {
	if n == 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	skippedEdges.Add(ctx, int64(n))
}

// loggerWithTrace returns a logger with trace context attached.
func loggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
