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
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

// Navigation types reported with route_change.
const (
	NavigationPush    = "push"
	NavigationPop     = "pop"
	NavigationReplace = "replace"
	NavigationUnknown = "unknown"
)

// Route is one screen in the navigation stack.
type Route struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// NavigationState is the full navigation stack.
type NavigationState struct {
	Routes []Route `json:"routes"`
	Index  int     `json:"index"`
	Stale  bool    `json:"stale"`
}

// NavigationSource exposes an application's navigation container.
type NavigationSource interface {
	Ready() bool
	CurrentRoute() (Route, bool)
	RootState() NavigationState
}

// NavigationCollector reports route changes from a NavigationSource.
type NavigationCollector struct {
	emit   Emitter
	source NavigationSource
	log    *logging.Logger
	closed atomic.Bool
}

// NewNavigationCollector creates a collector over source.
func NewNavigationCollector(emit Emitter, source NavigationSource, log *logging.Logger) *NavigationCollector {
	if log == nil {
		log = logging.Discard()
	}
	return &NavigationCollector{emit: emit, source: source, log: log}
}

// Notify emits route_change for the current route. Calls before the
// source is ready are ignored.
func (c *NavigationCollector) Notify(navigationType string) {
	if !c.source.Ready() {
		return
	}
	if navigationType == "" {
		navigationType = NavigationUnknown
	}

	name := "unknown"
	var params any
	if route, ok := c.source.CurrentRoute(); ok {
		name = route.Name
		if route.Params != nil {
			params = route.Params
		}
	}
	c.send(protocol.EventRouteChange, map[string]any{
		"routeName":      name,
		"params":         params,
		"navigationType": navigationType,
		"stackDepth":     len(c.source.RootState().Routes),
	})
}

// CaptureSnapshot emits the full navigation state.
func (c *NavigationCollector) CaptureSnapshot() {
	if !c.source.Ready() {
		return
	}
	c.send(protocol.EventNavigationSnapshot, map[string]any{"state": c.source.RootState()})
}

// Close stops emission.
func (c *NavigationCollector) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *NavigationCollector) send(eventType protocol.EventType, payload map[string]any) {
	if c.closed.Load() {
		return
	}
	if _, err := c.emit.Emit(protocol.StreamNavigation, eventType, payload); err != nil {
		c.log.Debug("navigation event not recorded", "event_type", eventType, "error", err)
	}
}

// =============================================================================
// Stack
// =============================================================================

// Stack is an in-memory NavigationSource. Each change calls the listener
// with the navigation type.
type Stack struct {
	mu       sync.Mutex
	routes   []Route
	listener func(navigationType string)
}

// NewStack creates a stack holding root.
func NewStack(root Route) *Stack {
	return &Stack{routes: []Route{root}}
}

// OnChange sets the listener, typically NavigationCollector.Notify.
func (s *Stack) OnChange(listener func(navigationType string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

// Push opens route on top of the stack.
func (s *Stack) Push(route Route) {
	s.mu.Lock()
	s.routes = append(s.routes, route)
	s.mu.Unlock()
	s.changed(NavigationPush)
}

// Pop closes the top route. The root route is never popped.
func (s *Stack) Pop() bool {
	s.mu.Lock()
	if len(s.routes) <= 1 {
		s.mu.Unlock()
		return false
	}
	s.routes = s.routes[:len(s.routes)-1]
	s.mu.Unlock()
	s.changed(NavigationPop)
	return true
}

// Replace swaps the top route.
func (s *Stack) Replace(route Route) {
	s.mu.Lock()
	s.routes[len(s.routes)-1] = route
	s.mu.Unlock()
	s.changed(NavigationReplace)
}

// Ready is always true for an in-memory stack.
func (s *Stack) Ready() bool { return true }

// CurrentRoute returns the top route.
func (s *Stack) CurrentRoute() (Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.routes) == 0 {
		return Route{}, false
	}
	return s.routes[len(s.routes)-1], true
}

// RootState returns a copy of the stack.
func (s *Stack) RootState() NavigationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NavigationState{
		Routes: append([]Route(nil), s.routes...),
		Index:  len(s.routes) - 1,
	}
}

func (s *Stack) changed(navigationType string) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener(navigationType)
	}
}
