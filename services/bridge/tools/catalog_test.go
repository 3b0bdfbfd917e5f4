// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/agent-devtools/pkg/jsondiff"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/pkg/telemetry"
	"github.com/AleutianAI/agent-devtools/services/adapter"
	"github.com/AleutianAI/agent-devtools/services/adapter/collectors"
	"github.com/AleutianAI/agent-devtools/services/bridge/connection"
)

// =============================================================================
// Test Doubles
// =============================================================================

// localAdapter answers requests by dispatching straight into an in-process
// adapter's router, the way the connection manager would over a socket.
type localAdapter struct {
	a           *adapter.Adapter
	connected   bool
	connectedAt time.Time

	mu   sync.Mutex
	last map[string]any
}

func (l *localAdapter) IsConnected() bool { return l.connected }

func (l *localAdapter) Adapter() (connection.AdapterInfo, bool) {
	if !l.connected {
		return connection.AdapterInfo{}, false
	}
	return connection.AdapterInfo{
		SessionID:      l.a.SessionID(),
		AdapterVersion: adapter.Version,
		Streams:        []protocol.Stream{protocol.StreamRedux},
		ConnectedAt:    l.connectedAt,
		RemoteAddr:     "127.0.0.1:50000",
	}, true
}

func (l *localAdapter) Request(ctx context.Context, action string, params any) (json.RawMessage, error) {
	if !l.connected {
		return nil, connection.ErrNotConnected
	}
	l.mu.Lock()
	l.last[action] = params
	l.mu.Unlock()

	req := &protocol.Request{RequestID: "req-1", Action: action}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	resp := l.a.Router().Dispatch(ctx, req)
	if !resp.OK {
		return nil, &connection.RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}

func (l *localAdapter) lastParams(action string) map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, _ := l.last[action].(map[string]any)
	return p
}

// setup builds a catalog over an adapter whose redux stream has two
// snapshots: seq 1 with count 0 and seq 4 with count 1.
func setup(t *testing.T, cfg CatalogConfig) (*Catalog, *localAdapter) {
	t.Helper()
	a, err := adapter.New(adapter.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	store := collectors.NewStateCollector(a, map[string]any{
		"count": 0,
		"user":  map[string]any{"name": "ada", "tags": []any{"admin"}},
		"token": nil,
	}, collectors.ReplaceReducer, nil)
	require.NoError(t, a.Register(protocol.StreamRedux, store))

	store.CaptureSnapshot()
	store.Dispatch(collectors.Action{Type: collectors.ActionReplaceState, Payload: map[string]any{
		"count": 1,
		"user":  map[string]any{"name": "ada", "tags": []any{"admin"}},
		"token": nil,
	}})
	store.CaptureSnapshot()

	local := &localAdapter{a: a, connected: true, connectedAt: time.Now().Add(-2 * time.Second), last: map[string]any{}}
	return NewCatalog(local, cfg), local
}

func invoke(t *testing.T, c *Catalog, name, params string) (*Result, *ToolError) {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	res, err := c.Invoke(context.Background(), name, raw)
	if err != nil {
		var te *ToolError
		require.True(t, errors.As(err, &te), "want *ToolError, got %v", err)
		return nil, te
	}
	return res, nil
}

// =============================================================================
// Catalog Tests
// =============================================================================

func TestCatalog_Definitions(t *testing.T) {
	c, _ := setup(t, CatalogConfig{})

	var names []string
	for _, d := range c.Definitions() {
		names = append(names, d.Name)
		assert.True(t, d.ReadOnly, d.Name)
		assert.NotEmpty(t, d.Description, d.Name)
	}
	assert.Equal(t, []string{
		"debug_diff_snapshots", "debug_get_snapshot", "debug_get_state_path",
		"debug_health_check", "debug_list_streams", "debug_query_events",
	}, names)

	assert.ErrorIs(t, c.Register(&listStreamsTool{}), ErrDuplicateTool)

	_, err := c.Invoke(context.Background(), "debug_nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestCatalog_NotConnected(t *testing.T) {
	c, local := setup(t, CatalogConfig{})
	local.connected = false

	for name, params := range map[string]string{
		"debug_list_streams":   "",
		"debug_get_snapshot":   `{"stream":"redux"}`,
		"debug_query_events":   `{"stream":"redux"}`,
		"debug_get_state_path": `{"path":"count"}`,
		"debug_diff_snapshots": `{"stream":"redux","base_seq":1,"target_seq":4}`,
	} {
		_, te := invoke(t, c, name, params)
		require.NotNil(t, te, name)
		assert.Equal(t, CodeNotConnected, te.Code, name)
		assert.Equal(t, "No app adapter is connected. Start your React Native app with the debug adapter enabled, then retry.", te.Message)
	}

	res, te := invoke(t, c, "debug_health_check", "")
	require.Nil(t, te)
	report := res.Output.(HealthReport)
	assert.False(t, report.Connected)
	assert.Nil(t, report.Adapter)
	assert.Empty(t, report.Streams)
	assert.JSONEq(t, `{"connected":false,"adapter":null,"streams":[]}`, res.Text)
}

func TestCatalog_ParamsTooLarge(t *testing.T) {
	c, _ := setup(t, CatalogConfig{MaxParamsSize: 32})

	_, te := invoke(t, c, "debug_get_state_path", `{"path":"`+strings.Repeat("a", 64)+`"}`)
	require.NotNil(t, te)
	assert.Equal(t, CodePayloadTooLarge, te.Code)
}

func TestCatalog_ResponseTruncation(t *testing.T) {
	c, _ := setup(t, CatalogConfig{MaxResponseChars: 1000})
	require.NoError(t, c.Register(bigTool{}))

	res, te := invoke(t, c, "big", "")
	require.Nil(t, te)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasSuffix(res.Text, TruncationSuffix))
	assert.Equal(t, 1000+len(TruncationSuffix), len(res.Text))
}

type bigTool struct{}

func (bigTool) Definition() Definition { return Definition{Name: "big"} }
func (bigTool) Execute(context.Context, json.RawMessage) (any, error) {
	return map[string]string{"blob": strings.Repeat("x", 5000)}, nil
}

type panicTool struct{}

func (panicTool) Definition() Definition { return Definition{Name: "boom"} }
func (panicTool) Execute(context.Context, json.RawMessage) (any, error) {
	panic("kaboom")
}

func TestCatalog_RecoversPanics(t *testing.T) {
	c, _ := setup(t, CatalogConfig{})
	require.NoError(t, c.Register(panicTool{}))

	_, te := invoke(t, c, "boom", "")
	require.NotNil(t, te)
	assert.Equal(t, CodeInternalError, te.Code)
	assert.Contains(t, te.Message, "kaboom")
}

func TestCatalog_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := telemetry.NewToolMetrics(provider.Meter("test"))
	require.NoError(t, err)

	c, _ := setup(t, CatalogConfig{Metrics: metrics})
	invoke(t, c, "debug_list_streams", "")
	invoke(t, c, "debug_get_state_path", `{"path":"missing"}`)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	outcomes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "devtools_tool_invocations_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value("outcome")
				outcomes[outcome.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"ok": 1, "path_not_found": 1}, outcomes)
}

// =============================================================================
// Tool Tests
// =============================================================================

func TestHealthCheck_Connected(t *testing.T) {
	c, local := setup(t, CatalogConfig{})

	res, te := invoke(t, c, "debug_health_check", "")
	require.Nil(t, te)
	report := res.Output.(HealthReport)

	assert.True(t, report.Connected)
	require.NotNil(t, report.Adapter)
	assert.Equal(t, local.a.SessionID(), report.Adapter.SessionID)
	assert.GreaterOrEqual(t, report.Adapter.Uptime, int64(2))
	require.NotEmpty(t, report.Streams)
	assert.Equal(t, "redux", report.Streams[0].Name)
	assert.True(t, report.Streams[0].Active)
	assert.True(t, report.Streams[0].HasSnapshot)
}

func TestListStreams(t *testing.T) {
	c, _ := setup(t, CatalogConfig{})

	res, te := invoke(t, c, "debug_list_streams", "")
	require.Nil(t, te)
	streams := res.Output.(map[string]any)["streams"].([]StreamMetadata)
	require.Len(t, streams, 3)
	assert.Equal(t, 4, streams[0].EventCount)
	assert.Equal(t, uint64(4), streams[0].LatestSeq)
}

func TestGetSnapshot(t *testing.T) {
	c, _ := setup(t, CatalogConfig{})

	res, te := invoke(t, c, "debug_get_snapshot", `{"stream":"redux"}`)
	require.Nil(t, te)
	out := res.Output.(SnapshotOutput)
	assert.Equal(t, 1.0, out.Snapshot.(map[string]any)["count"])
	assert.Equal(t, uint64(5), out.Seq, "a fresh capture is taken")
	assert.NotEmpty(t, out.Digest)

	res, te = invoke(t, c, "debug_get_snapshot", `{"stream":"redux","scope":"user.tags.0"}`)
	require.Nil(t, te)
	out = res.Output.(SnapshotOutput)
	assert.Equal(t, "admin", out.Snapshot)
	assert.Equal(t, "user.tags.0", out.Scope)
	assert.Empty(t, out.Digest)
}

func TestGetSnapshot_Errors(t *testing.T) {
	c, _ := setup(t, CatalogConfig{})

	tests := []struct {
		params string
		code   ErrorCode
	}{
		{`{"stream":"redux","scope":"user.email"}`, CodeScopeNotFound},
		{`{"stream":"redux","scope":"user.__proto__"}`, CodeInvalidParams},
		{`{"stream":"logs"}`, CodeInvalidParams},
		{`{}`, CodeInvalidParams},
		{`{"stream":"navigation"}`, CodeSnapshotNotFound},
	}
	for _, tt := range tests {
		_, te := invoke(t, c, "debug_get_snapshot", tt.params)
		require.NotNil(t, te, tt.params)
		assert.Equal(t, tt.code, te.Code, tt.params)
	}

	_, te := invoke(t, c, "debug_get_snapshot", `{"stream":"redux","scope":"user.email"}`)
	assert.Equal(t, "Scope not found: user.email", te.Message)
}

func TestGetStatePath(t *testing.T) {
	c, local := setup(t, CatalogConfig{})

	res, te := invoke(t, c, "debug_get_state_path", `{"path":"user.name"}`)
	require.Nil(t, te)
	assert.Equal(t, map[string]any{"value": "ada"}, res.Output)
	assert.Equal(t, "redux", local.lastParams(protocol.ActionGetSnapshot)["stream"])

	res, te = invoke(t, c, "debug_get_state_path", `{"path":"token"}`)
	require.Nil(t, te, "null values are found values")
	assert.Equal(t, map[string]any{"value": nil}, res.Output)

	res, te = invoke(t, c, "debug_get_state_path", `{"path":""}`)
	require.Nil(t, te)
	assert.Contains(t, res.Output.(map[string]any)["value"], "count")

	_, te = invoke(t, c, "debug_get_state_path", `{"path":"user.age"}`)
	require.NotNil(t, te)
	assert.Equal(t, CodePathNotFound, te.Code)
	assert.Equal(t, "Path not found: user.age", te.Message)

	_, te = invoke(t, c, "debug_get_state_path", `{}`)
	require.NotNil(t, te)
	assert.Equal(t, CodeInvalidParams, te.Code)

	_, te = invoke(t, c, "debug_get_state_path", `{"stream":"mmkv","path":"a"}`)
	require.NotNil(t, te)
	assert.Equal(t, CodeInvalidParams, te.Code)
}

func TestQueryEvents(t *testing.T) {
	c, local := setup(t, CatalogConfig{})

	res, te := invoke(t, c, "debug_query_events", `{"stream":"redux","since_seq":1,"event_type":"state_diff"}`)
	require.Nil(t, te)
	out := res.Output.(EventsOutput)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "count", out.Events[0]["payload"].(map[string]any)["path"])
	require.NotNil(t, out.OldestSeq)
	assert.Equal(t, uint64(1), *out.OldestSeq)
	assert.Equal(t, uint64(4), *out.LatestSeq)

	res, te = invoke(t, c, "debug_query_events", `{"stream":"redux","where":"event.seq >= 3"}`)
	require.Nil(t, te)
	assert.Len(t, res.Output.(EventsOutput).Events, 2)

	res, te = invoke(t, c, "debug_query_events", `{"stream":"navigation"}`)
	require.Nil(t, te)
	empty := res.Output.(EventsOutput)
	assert.Empty(t, empty.Events)
	assert.Nil(t, empty.OldestSeq)
	assert.JSONEq(t, `{"events":[],"hasMore":false,"oldestSeq":null,"latestSeq":null}`, res.Text)

	_, te = invoke(t, c, "debug_query_events", `{"stream":"redux","where":"event.seq +"}`)
	require.NotNil(t, te)
	assert.Equal(t, CodeInvalidParams, te.Code)

	for params, want := range map[string]float64{
		`{"stream":"redux"}`:              50,
		`{"stream":"redux","limit":0}`:    1,
		`{"stream":"redux","limit":-4}`:   1,
		`{"stream":"redux","limit":75}`:   75,
		`{"stream":"redux","limit":5000}`: 200,
	} {
		_, te := invoke(t, c, "debug_query_events", params)
		require.Nil(t, te, params)
		assert.EqualValues(t, want, local.lastParams(protocol.ActionQueryEvents)["limit"], params)
	}
}

func TestDiffSnapshots(t *testing.T) {
	c, _ := setup(t, CatalogConfig{})

	res, te := invoke(t, c, "debug_diff_snapshots", `{"stream":"redux","base_seq":1,"target_seq":4}`)
	require.Nil(t, te)
	out := res.Output.(DiffOutput)
	assert.False(t, out.Identical)
	assert.Equal(t, 1, out.TotalChanges)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, "count", out.Changes[0].Path)
	assert.Equal(t, jsondiff.Changed, out.Changes[0].Type)
	assert.Equal(t, 0.0, out.Changes[0].OldValue)
	assert.Equal(t, 1.0, out.Changes[0].NewValue)

	// seq 3 resolves to the snapshot at seq 1.
	res, te = invoke(t, c, "debug_diff_snapshots", `{"stream":"redux","base_seq":3,"target_seq":1}`)
	require.Nil(t, te)
	out = res.Output.(DiffOutput)
	assert.True(t, out.Identical)
	assert.Equal(t, uint64(1), out.BaseSnapshotSeq)
	assert.Empty(t, out.Changes)
	assert.Contains(t, res.Text, `"changes":[]`)
}

func TestDiffSnapshots_Errors(t *testing.T) {
	c, _ := setup(t, CatalogConfig{})

	_, te := invoke(t, c, "debug_diff_snapshots", `{"stream":"redux","base_seq":0,"target_seq":4}`)
	require.NotNil(t, te)
	assert.Equal(t, CodeSnapshotNotFound, te.Code)
	assert.Equal(t, "One or both snapshots were not found.", te.Message)

	_, te = invoke(t, c, "debug_diff_snapshots", `{"stream":"redux","target_seq":4}`)
	require.NotNil(t, te)
	assert.Equal(t, CodeInvalidParams, te.Code)
	assert.Contains(t, te.Message, "base_seq")
}

// =============================================================================
// Resource Tests
// =============================================================================

func TestResources(t *testing.T) {
	c, local := setup(t, CatalogConfig{})

	var uris []string
	for _, r := range c.Resources() {
		uris = append(uris, r.URI)
	}
	assert.Equal(t, []string{URINavigationState, URIReduxState, URISession}, uris)

	content, err := c.ReadResource(context.Background(), URIReduxState)
	require.NoError(t, err)
	assert.Equal(t, "application/json", content.MimeType)
	assert.JSONEq(t, `{"count":1,"user":{"name":"ada","tags":["admin"]},"token":null}`, content.Text)

	content, err = c.ReadResource(context.Background(), URISession)
	require.NoError(t, err)
	assert.Contains(t, content.Text, local.a.SessionID())

	content, err = c.ReadResource(context.Background(), URINavigationState)
	require.NoError(t, err)
	assert.Contains(t, content.Text, `"code":"SNAPSHOT_NOT_FOUND"`)

	local.connected = false
	content, err = c.ReadResource(context.Background(), URISession)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"code":"NOT_CONNECTED"}}`, content.Text)

	_, err = c.ReadResource(context.Background(), "debug://mmkv/state")
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestResources_Truncated(t *testing.T) {
	c, local := setup(t, CatalogConfig{MaxResponseChars: 1000})
	big := collectors.NewStateCollector(local.a, map[string]any{"blob": strings.Repeat("y", 4000)}, nil, nil)
	require.NoError(t, local.a.Register(protocol.StreamRedux, big))

	content, err := c.ReadResource(context.Background(), URIReduxState)
	require.NoError(t, err)
	assert.True(t, content.Truncated)
	assert.True(t, strings.HasSuffix(content.Text, TruncationSuffix))
	assert.Len(t, content.Text, 1000+len(TruncationSuffix))
}

// =============================================================================
// Error Tests
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code ErrorCode
	}{
		{connection.ErrNotConnected, CodeNotConnected},
		{fmt.Errorf("wrap: %w", connection.ErrConnectionReplaced), CodeNotConnected},
		{fmt.Errorf("%w after 5s", connection.ErrRequestTimeout), CodeTimeout},
		{context.DeadlineExceeded, CodeTimeout},
		{connection.ErrInvalidParams, CodeInvalidParams},
		{connection.ErrSendFailed, CodeAdapterError},
		{&connection.RemoteError{Code: "snapshot_not_found", Message: "none"}, CodeSnapshotNotFound},
		{&connection.RemoteError{Code: "stream_unavailable", Message: "off"}, CodeStreamUnavailable},
		{&connection.RemoteError{Code: "invalid_params", Message: "bad"}, CodeInvalidParams},
		{&connection.RemoteError{Code: "handler_error", Message: "oops"}, CodeAdapterError},
		{errors.New("surprise"), CodeInternalError},
		{NewToolError(CodePathNotFound, "x", nil), CodePathNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, Classify(tt.err).Code, tt.err.Error())
	}
	assert.Nil(t, Classify(nil))

	remote := Classify(&connection.RemoteError{Code: "handler_error", Message: "oops"})
	assert.Equal(t, "handler_error", remote.Details["adapterCode"])
}

func TestNewToolError_Guidance(t *testing.T) {
	te := NewToolError(CodeNotConnected, "No app adapter is connected.", nil)
	assert.Equal(t, "No app adapter is connected. Start your React Native app with the debug adapter enabled, then retry.", te.Message)

	again := NewToolError(CodeNotConnected, te.Message, nil)
	assert.Equal(t, te.Message, again.Message, "guidance is added once")

	other := NewToolError(CodeNotConnected, "Adapter connection was lost.", nil)
	assert.Equal(t, "Adapter connection was lost.", other.Message)

	assert.Equal(t, 10, len(ErrorCodes))
}

func TestBoundText(t *testing.T) {
	text, cut := BoundText("short", 1000)
	assert.Equal(t, "short", text)
	assert.False(t, cut)

	text, cut = BoundText(strings.Repeat("é", 1200), 1000)
	assert.True(t, cut)
	assert.Equal(t, strings.Repeat("é", 1000)+TruncationSuffix, text)
}
