// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ToolMetrics records query-tool invocations through OpenTelemetry.
//
// Thread Safety: Safe for concurrent use after creation.
type ToolMetrics struct {
	// InvocationsTotal counts tool invocations by tool and outcome.
	InvocationsTotal metric.Int64Counter

	// InvocationDuration records invocation latency in seconds.
	InvocationDuration metric.Float64Histogram
}

// NewToolMetrics creates the tool instruments on meter.
//
// Inputs:
//
//	meter - Usually otel.Meter("devtools.bridge.tools").
//
// Outputs:
//
//	*ToolMetrics - Ready to record.
//	error - Non-nil if an instrument cannot be created.
func NewToolMetrics(meter metric.Meter) (*ToolMetrics, error) {
	invocations, err := meter.Int64Counter(
		"devtools_tool_invocations_total",
		metric.WithDescription("Tool invocations by tool and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create invocations counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"devtools_tool_invocation_duration_seconds",
		metric.WithDescription("Tool invocation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &ToolMetrics{InvocationsTotal: invocations, InvocationDuration: duration}, nil
}

// Record adds one invocation. Nil receivers are ignored.
func (m *ToolMetrics) Record(ctx context.Context, tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	)
	m.InvocationsTotal.Add(ctx, 1, attrs)
	m.InvocationDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
}
