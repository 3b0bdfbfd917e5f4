// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for the devtools
// processes.
//
// Init installs global TracerProvider and MeterProvider instances chosen by
// configuration. Both default to "none" because the bridge is a local
// developer tool; set OTEL_TRACES_EXPORTER=otlp or stdout and
// OTEL_METRICS_EXPORTER=prometheus or stdout to turn them on.
//
// With the prometheus metric exporter, OpenTelemetry instruments are
// registered with the default Prometheus registry and appear on the same
// /metrics endpoint as the bridge's native Prometheus collectors.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
//	ctx, span := telemetry.StartSpan(ctx, "bridge.connection", "Manager.Request")
//	defer span.End()
package telemetry
