// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collectors

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

type emitted struct {
	stream    protocol.Stream
	eventType protocol.EventType
	payload   map[string]any
}

// recorder is an Emitter that keeps everything it is given.
type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(stream protocol.Stream, eventType protocol.EventType, payload map[string]any) (protocol.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{stream, eventType, payload})
	return protocol.Event{Stream: stream, EventType: eventType, Seq: uint64(len(r.events)), Payload: payload}, nil
}

func (r *recorder) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

func (r *recorder) types() []protocol.EventType {
	var out []protocol.EventType
	for _, e := range r.all() {
		out = append(out, e.eventType)
	}
	return out
}

// =============================================================================
// StateCollector Tests
// =============================================================================

func counterReducer(state map[string]any, action Action) map[string]any {
	next := make(map[string]any, len(state))
	for k, v := range state {
		next[k] = v
	}
	switch action.Type {
	case "INCREMENT":
		next["count"] = state["count"].(int) + 1
	case "SET_USER":
		next["user"] = action.Payload
	}
	return next
}

func TestStateCollector_DispatchEmitsDiffs(t *testing.T) {
	rec := &recorder{}
	c := NewStateCollector(rec, map[string]any{"count": 0, "user": map[string]any{"name": "ada"}}, counterReducer, nil)

	state := c.Dispatch(Action{Type: "INCREMENT", Meta: map[string]any{"origin": "button"}})
	assert.Equal(t, 1, state["count"])

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventActionDispatched, events[0].eventType)
	assert.Equal(t, "INCREMENT", events[0].payload["actionType"])
	assert.Equal(t, map[string]any{"origin": "button"}, events[0].payload["meta"])

	assert.Equal(t, protocol.EventStateDiff, events[1].eventType)
	assert.Equal(t, "count", events[1].payload["path"])
	assert.Equal(t, 0, events[1].payload["prev"])
	assert.Equal(t, 1, events[1].payload["next"])
	for _, e := range events {
		assert.Equal(t, protocol.StreamRedux, e.stream)
	}
}

func TestStateCollector_StructurallyEqualValuesAreNotDiffs(t *testing.T) {
	rec := &recorder{}
	c := NewStateCollector(rec, map[string]any{"user": map[string]any{"name": "ada"}}, counterReducer, nil)

	c.Dispatch(Action{Type: "SET_USER", Payload: map[string]any{"name": "ada"}})

	assert.Equal(t, []protocol.EventType{protocol.EventActionDispatched}, rec.types())
}

func TestStateCollector_ReplaceReducer(t *testing.T) {
	rec := &recorder{}
	c := NewStateCollector(rec, map[string]any{"a": 1.0, "b": 2.0}, nil, nil)

	c.Dispatch(Action{Type: ActionReplaceState, Payload: map[string]any{"b": 3.0, "c": 4.0}})
	c.Dispatch(Action{Type: "IGNORED"})

	var paths []any
	for _, e := range rec.all() {
		if e.eventType == protocol.EventStateDiff {
			paths = append(paths, e.payload["path"])
		}
	}
	assert.Equal(t, []any{"a", "b", "c"}, paths)
	assert.Equal(t, map[string]any{"b": 3.0, "c": 4.0}, c.State())
}

func TestStateCollector_CaptureSnapshot(t *testing.T) {
	rec := &recorder{}
	c := NewStateCollector(rec, map[string]any{"count": 1}, nil, nil)

	c.CaptureSnapshot()

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventStateSnapshot, events[0].eventType)
	assert.Equal(t, map[string]any{"count": 1}, events[0].payload["state"])
	assert.Equal(t, len(`{"count":1}`), events[0].payload["stateSize"])
}

func TestStateCollector_ClosedEmitsNothing(t *testing.T) {
	rec := &recorder{}
	c := NewStateCollector(rec, map[string]any{"count": 0}, counterReducer, nil)
	require.NoError(t, c.Close())

	c.Dispatch(Action{Type: "INCREMENT"})
	c.CaptureSnapshot()

	assert.Empty(t, rec.all())
	assert.Equal(t, 1, c.State()["count"])
}

// =============================================================================
// NavigationCollector Tests
// =============================================================================

func TestNavigationCollector_RouteChanges(t *testing.T) {
	rec := &recorder{}
	stack := NewStack(Route{Name: "Home"})
	c := NewNavigationCollector(rec, stack, nil)
	stack.OnChange(c.Notify)

	stack.Push(Route{Name: "Profile", Params: map[string]any{"id": "42"}})
	stack.Replace(Route{Name: "Settings"})
	assert.True(t, stack.Pop())
	assert.False(t, stack.Pop())

	events := rec.all()
	require.Len(t, events, 3)

	assert.Equal(t, protocol.EventRouteChange, events[0].eventType)
	assert.Equal(t, "Profile", events[0].payload["routeName"])
	assert.Equal(t, map[string]any{"id": "42"}, events[0].payload["params"])
	assert.Equal(t, NavigationPush, events[0].payload["navigationType"])
	assert.Equal(t, 2, events[0].payload["stackDepth"])

	assert.Equal(t, "Settings", events[1].payload["routeName"])
	assert.Nil(t, events[1].payload["params"])
	assert.Equal(t, NavigationReplace, events[1].payload["navigationType"])

	assert.Equal(t, "Home", events[2].payload["routeName"])
	assert.Equal(t, 1, events[2].payload["stackDepth"])
}

func TestNavigationCollector_Snapshot(t *testing.T) {
	rec := &recorder{}
	stack := NewStack(Route{Name: "Home"})
	stack.Push(Route{Name: "Cart"})
	c := NewNavigationCollector(rec, stack, nil)

	c.CaptureSnapshot()

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventNavigationSnapshot, events[0].eventType)
	state, ok := events[0].payload["state"].(NavigationState)
	require.True(t, ok)
	assert.Equal(t, 1, state.Index)
	assert.Equal(t, "Cart", state.Routes[1].Name)
}

type notReady struct{ *Stack }

func (notReady) Ready() bool { return false }

func TestNavigationCollector_IgnoresUntilReady(t *testing.T) {
	rec := &recorder{}
	c := NewNavigationCollector(rec, notReady{NewStack(Route{Name: "Home"})}, nil)

	c.Notify(NavigationPush)
	c.CaptureSnapshot()
	assert.Empty(t, rec.all())
}

// =============================================================================
// StorageCollector Tests
// =============================================================================

func TestStorageCollector(t *testing.T) {
	rec := &recorder{}
	c := NewStorageCollector(rec, nil)

	c.Set("default", "token", "abc")
	c.Set("default", "theme", "dark")
	c.Set("cache", "etag", "v1")
	c.Delete("default", "token")
	c.Delete("default", "missing")
	c.Delete("nope", "token")

	assert.Equal(t, []string{"theme"}, c.Keys("default"))
	assert.Equal(t, []protocol.EventType{
		protocol.EventKeySet, protocol.EventKeySet, protocol.EventKeySet, protocol.EventKeyDelete,
	}, rec.types())

	c.CaptureSnapshot()
	events := rec.all()
	last := events[len(events)-1]
	assert.Equal(t, protocol.StreamMMKV, last.stream)
	assert.Equal(t, protocol.EventStorageSnapshot, last.eventType)
	assert.Equal(t, map[string]any{
		"default": map[string]any{"theme": "dark"},
		"cache":   map[string]any{"etag": "v1"},
	}, last.payload["state"])

	require.NoError(t, c.Close())
	c.Set("default", "after", true)
	assert.Len(t, rec.all(), len(events))
}

// =============================================================================
// FileSource Tests
// =============================================================================

func TestFileSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"count":1}`), 0600))

	rec := &recorder{}
	c := NewStateCollector(rec, nil, nil, nil)
	src, err := NewFileSource(path, c, nil)
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, src.Load())
	assert.Equal(t, map[string]any{"count": 1.0}, c.State())

	require.NoError(t, os.WriteFile(path, []byte(`[1,2]`), 0600))
	assert.Error(t, src.Load())

	require.NoError(t, os.WriteFile(path, []byte(`null`), 0600))
	assert.ErrorIs(t, src.Load(), ErrNotJSONObject)
}

func TestFileSource_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"count":1}`), 0600))

	rec := &recorder{}
	c := NewStateCollector(rec, nil, nil, nil)
	src, err := NewFileSource(path, c, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool { return c.State()["count"] == 1.0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"count":2}`), 0600))
	require.Eventually(t, func() bool { return c.State()["count"] == 2.0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, src.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	c := NewStateCollector(&recorder{}, nil, nil, nil)
	src, err := NewFileSource(filepath.Join(t.TempDir(), "absent.json"), c, nil)
	require.NoError(t, err)
	defer src.Close()

	assert.Error(t, src.Run(context.Background()))
}
