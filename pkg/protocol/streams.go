// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol defines the messages exchanged between the application
// adapter and the devtools bridge over their websocket connection.
//
// Every frame is a single JSON object with a "type" discriminant:
//
//	handshake   adapter -> bridge   identifies the session and its streams
//	request     bridge  -> adapter  named action with optional params
//	response    adapter -> bridge   correlated result or structured error
//	push_event  adapter -> bridge   one stamped telemetry envelope
//	error       either direction    protocol-level failure
//
// Decode validates frames with go-playground/validator before returning
// them, so callers only ever see well-formed messages.
package protocol

import "fmt"

// =============================================================================
// Streams
// =============================================================================

// Stream names a telemetry stream.
type Stream string

const (
	StreamRedux      Stream = "redux"
	StreamNavigation Stream = "navigation"
	StreamMMKV       Stream = "mmkv"
)

// Streams lists every known stream in display order.
var Streams = []Stream{StreamRedux, StreamNavigation, StreamMMKV}

// EventType names a kind of event within a stream.
type EventType string

const (
	EventActionDispatched   EventType = "action_dispatched"
	EventStateSnapshot      EventType = "state_snapshot"
	EventStateDiff          EventType = "state_diff"
	EventRouteChange        EventType = "route_change"
	EventNavigationSnapshot EventType = "navigation_snapshot"
	EventKeySet             EventType = "key_set"
	EventKeyDelete          EventType = "key_delete"
	EventStorageSnapshot    EventType = "storage_snapshot"
)

// streamEvents maps each stream to its event types. The first snapshot type
// listed for a stream is its full-state capture.
var streamEvents = map[Stream][]EventType{
	StreamRedux:      {EventActionDispatched, EventStateSnapshot, EventStateDiff},
	StreamNavigation: {EventRouteChange, EventNavigationSnapshot},
	StreamMMKV:       {EventKeySet, EventKeyDelete, EventStorageSnapshot},
}

var snapshotEvents = map[Stream]EventType{
	StreamRedux:      EventStateSnapshot,
	StreamNavigation: EventNavigationSnapshot,
	StreamMMKV:       EventStorageSnapshot,
}

// Valid reports whether s is a known stream.
func (s Stream) Valid() bool {
	_, ok := streamEvents[s]
	return ok
}

// EventTypes returns the event types that belong to s.
func (s Stream) EventTypes() []EventType {
	return append([]EventType(nil), streamEvents[s]...)
}

// SnapshotEvent returns the full-state capture event type of s.
func (s Stream) SnapshotEvent() EventType {
	return snapshotEvents[s]
}

// Allows reports whether t belongs to s.
func (s Stream) Allows(t EventType) bool {
	for _, known := range streamEvents[s] {
		if known == t {
			return true
		}
	}
	return false
}

// IsSnapshot reports whether t is a full-state capture of any stream.
func (t EventType) IsSnapshot() bool {
	for _, snap := range snapshotEvents {
		if snap == t {
			return true
		}
	}
	return false
}

// ParseStream converts a name into a Stream.
func ParseStream(name string) (Stream, error) {
	s := Stream(name)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStream, name)
	}
	return s, nil
}
