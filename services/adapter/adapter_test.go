// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/agent-devtools/pkg/digest"
	"github.com/AleutianAI/agent-devtools/pkg/jsonsize"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/services/adapter/collectors"
)

// =============================================================================
// Helpers
// =============================================================================

func newTestAdapter(t *testing.T, mutate func(*Config)) *Adapter {
	t.Helper()
	cfg := Config{}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// call dispatches action through the adapter's router.
func call(t *testing.T, a *Adapter, action string, params string) *protocol.Response {
	t.Helper()
	req := &protocol.Request{RequestID: "req-1", Action: action}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return a.Router().Dispatch(context.Background(), req)
}

func callOK(t *testing.T, a *Adapter, action, params string, out any) {
	t.Helper()
	resp := call(t, a, action, params)
	require.True(t, resp.OK, "response error: %+v", resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, out))
}

func callErr(t *testing.T, a *Adapter, action, params string) *protocol.ErrorBody {
	t.Helper()
	resp := call(t, a, action, params)
	require.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	return resp.Error
}

// counter wires a StateCollector holding {"count": n} to a.
func counter(t *testing.T, a *Adapter) *collectors.StateCollector {
	t.Helper()
	c := collectors.NewStateCollector(a, map[string]any{"count": 0}, func(state map[string]any, action collectors.Action) map[string]any {
		if action.Type != "INCREMENT" {
			return state
		}
		return map[string]any{"count": state["count"].(int) + 1}
	}, nil)
	require.NoError(t, a.Register(protocol.StreamRedux, c))
	return c
}

type fakeCollector struct {
	captures atomic.Int32
	closed   atomic.Bool
}

func (f *fakeCollector) CaptureSnapshot() { f.captures.Add(1) }
func (f *fakeCollector) Close() error     { f.closed.Store(true); return nil }

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	a := newTestAdapter(t, nil)

	assert.Len(t, a.SessionID(), 36)
	assert.Equal(t, DefaultServerURL, a.cfg.ServerURL)
	assert.Equal(t, DefaultMaxPayloadSize, a.cfg.MaxPayloadSize)
	assert.Equal(t, DefaultMaxFrameSize, a.cfg.MaxFrameSize)
	assert.Len(t, a.streams, len(protocol.Streams))
	assert.Equal(t, []string{ActionGetSnapshot, ActionListStreams, ActionQueryEvents}, a.Router().Actions())
	assert.False(t, a.IsConnected())
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http url", func(c *Config) { c.ServerURL = "http://127.0.0.1:19850" }},
		{"tiny payload budget", func(c *Config) { c.MaxPayloadSize = 8 }},
		{"frame without headroom", func(c *Config) { c.MaxPayloadSize = 1 << 20; c.MaxFrameSize = 1 << 20 }},
		{"negative capacity", func(c *Config) { c.BufferCapacity = -1 }},
		{"negative rate", func(c *Config) { c.PushRate = -1 }},
		{"unknown stream", func(c *Config) { c.Streams = []protocol.Stream{"logs"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// Emit Tests
// =============================================================================

func TestEmit_StampsEnvelope(t *testing.T) {
	a := newTestAdapter(t, nil)

	first, err := a.Emit(protocol.StreamNavigation, protocol.EventRouteChange, map[string]any{"routeName": "Home"})
	require.NoError(t, err)
	second, err := a.Emit(protocol.StreamNavigation, protocol.EventRouteChange, map[string]any{"routeName": "Cart"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, a.SessionID(), first.SessionID)
	assert.Equal(t, protocol.StreamNavigation, first.Stream)
	assert.Equal(t, "navigation", first.Meta.Source)
	assert.Equal(t, Version, first.Meta.AdapterVersion)
	assert.False(t, first.Meta.Truncated)
	assert.Nil(t, first.Meta.OriginalSize)
	assert.False(t, time.Time(first.Timestamp).IsZero())
	require.NoError(t, protocol.Validate(&protocol.PushEvent{Event: first}))

	_, hasSnapshot := a.streams[protocol.StreamNavigation].slot.Get()
	assert.False(t, hasSnapshot, "non-snapshot events must not fill the slot")

	// Seqs are per stream.
	other, err := a.Emit(protocol.StreamRedux, protocol.EventActionDispatched, map[string]any{"actionType": "X"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), other.Seq)
}

func TestEmit_TruncatesPayload(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) { c.MaxPayloadSize = 64 })

	payload := map[string]any{"state": strings.Repeat("x", 500), "small": 1}
	original := jsonsize.Of(payload)

	event, err := a.Emit(protocol.StreamRedux, protocol.EventStateSnapshot, payload)
	require.NoError(t, err)

	assert.True(t, event.Meta.Truncated)
	require.NotNil(t, event.Meta.OriginalSize)
	assert.Equal(t, original, *event.Meta.OriginalSize)
	assert.LessOrEqual(t, jsonsize.Of(event.Payload), 64)
	assert.Equal(t, "[truncated]", event.Payload["state"])
	assert.Equal(t, strings.Repeat("x", 500), payload["state"], "input must not be mutated")
}

func TestEmit_Errors(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) { c.Streams = []protocol.Stream{protocol.StreamRedux} })

	_, err := a.Emit(protocol.StreamNavigation, protocol.EventRouteChange, map[string]any{})
	assert.ErrorIs(t, err, ErrStreamDisabled)

	_, err = a.Emit(protocol.StreamRedux, protocol.EventRouteChange, map[string]any{})
	assert.ErrorIs(t, err, ErrEventTypeMismatch)

	require.NoError(t, a.Close())
	_, err = a.Emit(protocol.StreamRedux, protocol.EventActionDispatched, map[string]any{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEmit_SnapshotFillsSlot(t *testing.T) {
	a := newTestAdapter(t, nil)
	c := counter(t, a)

	c.CaptureSnapshot()
	c.Dispatch(collectors.Action{Type: "INCREMENT"})

	snap, ok := a.streams[protocol.StreamRedux].slot.Get()
	require.True(t, ok)
	assert.Equal(t, protocol.EventStateSnapshot, snap.EventType)
	assert.Equal(t, uint64(1), snap.Seq)
}

func TestEmit_PushDoesNotHoldStreamLock(t *testing.T) {
	a := newTestAdapter(t, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	a.push = func(protocol.Event) bool {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return true
	}
	defer close(release)

	go func() {
		_, _ = a.Emit(protocol.StreamRedux, protocol.EventActionDispatched, map[string]any{"type": "A"})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		_, err := a.Emit(protocol.StreamRedux, protocol.EventActionDispatched, map[string]any{"type": "B"})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second emit blocked behind a stalled push")
	}
	assert.Equal(t, 2, a.streams[protocol.StreamRedux].ring.Stats().Count)
}

// =============================================================================
// get_snapshot Tests
// =============================================================================

func TestGetSnapshot_Latest(t *testing.T) {
	a := newTestAdapter(t, nil)
	c := counter(t, a)
	c.Dispatch(collectors.Action{Type: "INCREMENT"})

	var got SnapshotResult
	callOK(t, a, ActionGetSnapshot, `{"stream":"redux"}`, &got)

	assert.Equal(t, protocol.StreamRedux, got.Stream)
	assert.Equal(t, protocol.EventStateSnapshot, got.EventType)
	assert.Equal(t, map[string]any{"count": 1.0}, got.Snapshot)
	want, err := digest.Of(map[string]any{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, want, got.Digest)
	assert.False(t, got.Truncated)
}

func TestGetSnapshot_DefaultsToRedux(t *testing.T) {
	a := newTestAdapter(t, nil)
	counter(t, a)

	var got SnapshotResult
	callOK(t, a, ActionGetSnapshot, "", &got)
	assert.Equal(t, protocol.StreamRedux, got.Stream)
}

func TestGetSnapshot_BySeq(t *testing.T) {
	a := newTestAdapter(t, nil)
	c := counter(t, a)

	c.CaptureSnapshot() // seq 1, count 0
	c.Dispatch(collectors.Action{Type: "INCREMENT"})
	c.CaptureSnapshot() // seq 4, count 1
	c.Dispatch(collectors.Action{Type: "INCREMENT"})

	tests := []struct {
		seq       uint64
		wantSeq   uint64
		wantCount float64
	}{
		{1, 1, 0},
		{3, 1, 0},
		{4, 4, 1},
		{100, 4, 1},
	}
	for _, tt := range tests {
		var got SnapshotResult
		callOK(t, a, ActionGetSnapshot, `{"stream":"redux","seq":`+jsonNumber(tt.seq)+`}`, &got)
		assert.Equal(t, tt.wantSeq, got.Seq, "seq %d", tt.seq)
		assert.Equal(t, map[string]any{"count": tt.wantCount}, got.Snapshot, "seq %d", tt.seq)
	}

	errBody := callErr(t, a, ActionGetSnapshot, `{"stream":"redux","seq":0}`)
	assert.Equal(t, CodeSnapshotNotFound, errBody.Code)
}

func TestGetSnapshot_EvictedHistory(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) { c.BufferCapacity = 2 })
	c := counter(t, a)

	c.CaptureSnapshot() // seq 1
	c.Dispatch(collectors.Action{Type: "INCREMENT"})
	c.CaptureSnapshot() // seq 4, ring now holds 3..4

	errBody := callErr(t, a, ActionGetSnapshot, `{"stream":"redux","seq":2}`)
	assert.Equal(t, CodeSnapshotNotFound, errBody.Code)

	var got SnapshotResult
	callOK(t, a, ActionGetSnapshot, `{"stream":"redux","seq":4}`, &got)
	assert.Equal(t, uint64(4), got.Seq)
}

func TestGetSnapshot_Errors(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) {
		c.Streams = []protocol.Stream{protocol.StreamRedux, protocol.StreamNavigation}
	})

	assert.Equal(t, CodeSnapshotNotFound, callErr(t, a, ActionGetSnapshot, `{"stream":"navigation"}`).Code)
	assert.Equal(t, protocol.CodeInvalidParams, callErr(t, a, ActionGetSnapshot, `{"stream":"logs"}`).Code)
	assert.Equal(t, CodeStreamDisabled, callErr(t, a, ActionGetSnapshot, `{"stream":"mmkv"}`).Code)
	assert.Equal(t, protocol.CodeInvalidParams, callErr(t, a, ActionGetSnapshot, `{"seq":"one"}`).Code)
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// =============================================================================
// query_events Tests
// =============================================================================

func TestQueryEvents(t *testing.T) {
	a := newTestAdapter(t, nil)
	c := counter(t, a)
	for i := 0; i < 3; i++ {
		c.Dispatch(collectors.Action{Type: "INCREMENT"})
	}
	// seqs: 1 action, 2 diff, 3 action, 4 diff, 5 action, 6 diff

	var page QueryEventsResult
	callOK(t, a, ActionQueryEvents, `{"stream":"redux","sinceSeq":1,"limit":2}`, &page)
	require.Len(t, page.Events, 2)
	assert.Equal(t, uint64(2), page.Events[0].Seq)
	assert.Equal(t, uint64(3), page.Events[1].Seq)
	assert.True(t, page.HasMore)
	assert.Equal(t, uint64(1), page.OldestSeq)
	assert.Equal(t, uint64(6), page.LatestSeq)

	callOK(t, a, ActionQueryEvents, `{"stream":"redux","eventType":"state_diff"}`, &page)
	require.Len(t, page.Events, 3)
	assert.False(t, page.HasMore)
	for _, e := range page.Events {
		assert.Equal(t, protocol.EventStateDiff, e.EventType)
	}

	callOK(t, a, ActionQueryEvents, `{"stream":"redux","where":"event.eventType == 'state_diff' && event.payload.next >= 2.0"}`, &page)
	require.Len(t, page.Events, 2)
	assert.Equal(t, uint64(4), page.Events[0].Seq)

	callOK(t, a, ActionQueryEvents, `{"stream":"redux","where":"event.seq > 5"}`, &page)
	require.Len(t, page.Events, 1)
	assert.Equal(t, uint64(6), page.Events[0].Seq)

	callOK(t, a, ActionQueryEvents, `{"stream":"navigation"}`, &page)
	assert.Empty(t, page.Events)
	assert.NotNil(t, page.Events)
}

func TestQueryEvents_CapsPageAtFrameSize(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) {
		c.MaxPayloadSize = 16 * 1024
		c.MaxFrameSize = 64 * 1024
	})
	for i := 0; i < 10; i++ {
		_, err := a.Emit(protocol.StreamRedux, protocol.EventStateDiff, map[string]any{
			"path": "blob",
			"next": strings.Repeat("x", 10000),
		})
		require.NoError(t, err)
	}

	resp := call(t, a, ActionQueryEvents, `{"stream":"redux","limit":10}`)
	require.True(t, resp.OK)
	assert.Less(t, len(resp.Result), 64*1024)

	var page QueryEventsResult
	require.NoError(t, json.Unmarshal(resp.Result, &page))
	require.NotEmpty(t, page.Events)
	require.Less(t, len(page.Events), 10)
	assert.True(t, page.HasMore)
	for _, e := range page.Events {
		assert.False(t, e.Meta.Truncated)
	}

	var seen []uint64
	for _, e := range page.Events {
		seen = append(seen, e.Seq)
	}
	for page.HasMore {
		last := page.Events[len(page.Events)-1].Seq
		callOK(t, a, ActionQueryEvents, fmt.Sprintf(`{"stream":"redux","sinceSeq":%d,"limit":10}`, last), &page)
		require.NotEmpty(t, page.Events)
		for _, e := range page.Events {
			seen = append(seen, e.Seq)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)
}

func TestQueryEvents_InvalidParams(t *testing.T) {
	a := newTestAdapter(t, nil)

	for _, params := range []string{
		`{}`,
		`{"stream":"redux","eventType":"route_change"}`,
		`{"stream":"redux","where":"event.seq >"}`,
		`{"stream":"redux","where":"event.seq + 1"}`,
		`{"stream":"redux","limit":"ten"}`,
	} {
		assert.Equal(t, protocol.CodeInvalidParams, callErr(t, a, ActionQueryEvents, params).Code, params)
	}
}

// =============================================================================
// list_streams Tests
// =============================================================================

func TestListStreams(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) {
		c.Streams = []protocol.Stream{protocol.StreamNavigation, protocol.StreamRedux}
	})
	c := counter(t, a)
	c.CaptureSnapshot()

	var list StreamList
	callOK(t, a, ActionListStreams, "", &list)

	assert.Equal(t, a.SessionID(), list.SessionID)
	require.Len(t, list.Streams, 2)

	redux, nav := list.Streams[0], list.Streams[1]
	assert.Equal(t, protocol.StreamRedux, redux.Name)
	assert.True(t, redux.Active)
	assert.True(t, redux.HasSnapshot)
	assert.Equal(t, 1, redux.EventCount)
	assert.Equal(t, uint64(1), redux.LatestSeq)
	assert.NotNil(t, redux.LastEventAt)

	assert.Equal(t, protocol.StreamNavigation, nav.Name)
	assert.False(t, nav.Active)
	assert.Zero(t, nav.EventCount)
	assert.Nil(t, nav.LastEventAt)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestRegisterAndClose(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) { c.Streams = []protocol.Stream{protocol.StreamRedux} })

	first := &fakeCollector{}
	second := &fakeCollector{}
	require.NoError(t, a.Register(protocol.StreamRedux, first))
	require.NoError(t, a.Register(protocol.StreamRedux, second))
	assert.True(t, first.closed.Load(), "replaced collector is closed")

	assert.ErrorIs(t, a.Register(protocol.StreamMMKV, &fakeCollector{}), ErrStreamDisabled)

	a.CaptureSnapshot()
	a.CaptureSnapshot(protocol.StreamRedux, protocol.StreamNavigation)
	assert.Equal(t, int32(2), second.captures.Load())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.True(t, second.closed.Load())
	assert.ErrorIs(t, a.Register(protocol.StreamRedux, &fakeCollector{}), ErrClosed)
	assert.ErrorIs(t, a.Connect(context.Background()), ErrClosed)
}

func TestAdapter_ShipsEventsToBridge(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- ws
	}))
	defer srv.Close()

	a := newTestAdapter(t, func(c *Config) {
		c.ServerURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/adapter"
		c.DeviceInfo = map[string]any{"platform": "test"}
	})
	counter(t, a)
	require.NoError(t, a.Connect(context.Background()))

	var ws *websocket.Conn
	select {
	case ws = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not dial")
	}
	defer ws.Close()

	read := func() protocol.Message {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		return msg
	}

	hs, ok := read().(*protocol.Handshake)
	require.True(t, ok)
	assert.Equal(t, a.SessionID(), hs.SessionID)
	assert.Equal(t, []protocol.Stream{protocol.StreamRedux}, hs.Streams)
	assert.Equal(t, "test", hs.DeviceInfo["platform"])

	_, err := a.Emit(protocol.StreamRedux, protocol.EventActionDispatched, map[string]any{"actionType": "PING"})
	require.NoError(t, err)

	push, ok := read().(*protocol.PushEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(1), push.Event.Seq)
	assert.Equal(t, "PING", push.Event.Payload["actionType"])

	req, err := protocol.Encode(&protocol.Request{RequestID: "req-9", Action: ActionListStreams})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, req))

	resp, ok := read().(*protocol.Response)
	require.True(t, ok)
	assert.Equal(t, "req-9", resp.RequestID)
	assert.True(t, resp.OK)
}
