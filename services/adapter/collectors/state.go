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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/agent-devtools/pkg/jsondiff"
	"github.com/AleutianAI/agent-devtools/pkg/jsonsize"
	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

// ActionReplaceState replaces the whole state with the action's payload
// under ReplaceReducer.
const ActionReplaceState = "@@devtools/REPLACE_STATE"

// Action is a dispatched state transition.
type Action struct {
	Type    string
	Payload any
	Meta    map[string]any
}

// Reducer computes the next state. It must not mutate state.
type Reducer func(state map[string]any, action Action) map[string]any

// ReplaceReducer handles ActionReplaceState and ignores everything else.
func ReplaceReducer(state map[string]any, action Action) map[string]any {
	if action.Type != ActionReplaceState {
		return state
	}
	if next, ok := action.Payload.(map[string]any); ok {
		return next
	}
	return state
}

// StateCollector is a minimal store that reports every dispatch.
//
// # Description
//
// Dispatch runs the reducer, then emits action_dispatched followed by one
// state_diff per top-level key whose value changed, in sorted key order.
// CaptureSnapshot emits state_snapshot with the whole state and its JSON
// size.
//
// # Thread Safety
//
// Dispatches are serialised. Safe for concurrent use.
type StateCollector struct {
	emit    Emitter
	reducer Reducer
	log     *logging.Logger

	mu     sync.Mutex
	state  map[string]any
	closed atomic.Bool
}

// NewStateCollector creates a collector holding initial. A nil reducer
// means ReplaceReducer.
func NewStateCollector(emit Emitter, initial map[string]any, reducer Reducer, log *logging.Logger) *StateCollector {
	if initial == nil {
		initial = map[string]any{}
	}
	if reducer == nil {
		reducer = ReplaceReducer
	}
	if log == nil {
		log = logging.Discard()
	}
	return &StateCollector{emit: emit, reducer: reducer, log: log, state: initial}
}

// State returns the current state. Callers must not mutate it.
func (c *StateCollector) State() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dispatch applies action and returns the new state.
func (c *StateCollector) Dispatch(action Action) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.state
	after := c.reducer(before, action)
	if after == nil {
		after = map[string]any{}
	}
	c.state = after

	dispatched := map[string]any{"actionType": action.Type}
	if action.Meta != nil {
		dispatched["meta"] = action.Meta
	}
	c.send(protocol.EventActionDispatched, dispatched)

	for _, key := range changedKeys(before, after) {
		c.send(protocol.EventStateDiff, map[string]any{
			"path": key,
			"prev": before[key],
			"next": after[key],
		})
	}
	return after
}

// CaptureSnapshot emits the current state.
func (c *StateCollector) CaptureSnapshot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send(protocol.EventStateSnapshot, map[string]any{
		"state":     c.state,
		"stateSize": jsonsize.Of(c.state),
	})
}

// Close stops emission.
func (c *StateCollector) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *StateCollector) send(eventType protocol.EventType, payload map[string]any) {
	if c.closed.Load() {
		return
	}
	if _, err := c.emit.Emit(protocol.StreamRedux, eventType, payload); err != nil {
		c.log.Debug("state event not recorded", "event_type", eventType, "error", err)
	}
}

// changedKeys lists top-level keys whose values differ, sorted.
func changedKeys(before, after map[string]any) []string {
	var keys []string
	for k, v := range before {
		if w, ok := after[k]; !ok || !jsondiff.Equal(v, w) {
			keys = append(keys, k)
		}
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
