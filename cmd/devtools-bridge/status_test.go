// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/pkg/ux"
	"github.com/AleutianAI/agent-devtools/services/bridge/connection"
	"github.com/AleutianAI/agent-devtools/services/bridge/handlers"
)

func TestRenderHealth_NoAdapter(t *testing.T) {
	var buf bytes.Buffer
	renderHealth(ux.NewPlainPrinter(&buf), "http://127.0.0.1:19850", handlers.HealthResponse{
		Status:  "ok",
		Version: "1.2.3",
		Uptime:  65,
	})

	out := buf.String()
	assert.Contains(t, out, "devtools-bridge 1.2.3")
	assert.Contains(t, out, "uptime:  1m5s")
	assert.Contains(t, out, "○ no adapter connected")
}

func TestRenderHealth_Connected(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	renderHealth(ux.NewPlainPrinter(&buf), "http://x", handlers.HealthResponse{
		Version: "1.2.3",
		Connection: connection.Status{
			Connected: true,
			Adapter: &connection.AdapterInfo{
				SessionID:      "s-1",
				AdapterVersion: "0.4.0",
				Streams:        []protocol.Stream{protocol.StreamRedux, protocol.StreamNavigation},
				ConnectedAt:    at,
			},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "✓ adapter connected")
	assert.Contains(t, out, "redux, navigation")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.NotContains(t, out, "last event")
}

func TestFetchHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","version":"9","uptimeSeconds":3,"connection":{"connected":false}}`))
	}))
	defer srv.Close()

	h, raw, err := fetchHealth(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "9", h.Version)
	assert.Equal(t, int64(3), h.Uptime)
	assert.NotEmpty(t, raw)

	_, _, err = fetchHealth(context.Background(), srv.URL+"/nope")
	assert.Error(t, err)
}
