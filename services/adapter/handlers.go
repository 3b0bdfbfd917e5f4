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
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/agent-devtools/pkg/digest"
	"github.com/AleutianAI/agent-devtools/pkg/jsonsize"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/pkg/ringbuffer"
	"github.com/AleutianAI/agent-devtools/services/adapter/transport"
)

// Actions served to the bridge.
const (
	ActionGetSnapshot = protocol.ActionGetSnapshot
	ActionQueryEvents = protocol.ActionQueryEvents
	ActionListStreams = protocol.ActionListStreams
)

// Action error codes beyond the router's own.
const (
	CodeSnapshotNotFound = protocol.CodeSnapshotNotFound
	CodeStreamDisabled   = protocol.CodeStreamUnavailable
)

// Query limits for query_events.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 1000
)

func (a *Adapter) registerActions() {
	a.router.Handle(ActionGetSnapshot, a.handleGetSnapshot)
	a.router.Handle(ActionQueryEvents, a.handleQueryEvents)
	a.router.Handle(ActionListStreams, a.handleListStreams)
}

// =============================================================================
// get_snapshot
// =============================================================================

type getSnapshotParams struct {
	Stream string  `json:"stream"`
	Seq    *uint64 `json:"seq"`
}

// SnapshotResult is the get_snapshot response.
type SnapshotResult struct {
	Stream    protocol.Stream    `json:"stream"`
	EventType protocol.EventType `json:"eventType"`
	Seq       uint64             `json:"seq"`
	Timestamp strfmt.DateTime    `json:"timestamp"`
	Snapshot  any                `json:"snapshot"`
	Digest    string             `json:"digest,omitempty"`
	Truncated bool               `json:"truncated"`
}

// handleGetSnapshot returns the latest snapshot, or with seq set, the
// newest snapshot at or before seq.
func (a *Adapter) handleGetSnapshot(_ context.Context, params json.RawMessage) (any, error) {
	var p getSnapshotParams
	if err := transport.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Stream == "" {
		p.Stream = string(protocol.StreamRedux)
	}
	stream, st, err := a.stream(p.Stream)
	if err != nil {
		return nil, err
	}

	var (
		event protocol.Event
		found bool
	)
	if p.Seq == nil {
		a.CaptureSnapshot(stream)
		event, found = st.slot.Get()
	} else {
		event, found = snapshotAt(stream, st, *p.Seq)
	}
	if !found {
		if p.Seq != nil {
			return nil, transport.NewActionError(CodeSnapshotNotFound,
				"no %s snapshot at or before seq %d", stream, *p.Seq)
		}
		return nil, transport.NewActionError(CodeSnapshotNotFound, "no %s snapshot captured", stream)
	}

	value := snapshotValue(event)
	result := SnapshotResult{
		Stream:    stream,
		EventType: event.EventType,
		Seq:       event.Seq,
		Timestamp: event.Timestamp,
		Snapshot:  value,
		Truncated: event.Meta.Truncated,
	}
	if d, err := digest.Of(value); err == nil {
		result.Digest = d
	} else {
		a.log.Debug("snapshot digest unavailable", "stream", stream, "seq", event.Seq, "error", err)
	}
	return result, nil
}

// snapshotAt finds the newest snapshot event with seq <= seq, looking at
// the slot and the ring's retained window.
func snapshotAt(stream protocol.Stream, st *streamState, seq uint64) (protocol.Event, bool) {
	snapType := stream.SnapshotEvent()

	best, ok := st.slot.Get()
	if ok && best.Seq > seq {
		ok = false
	}
	fromRing, inRing := st.ring.Latest(func(e protocol.Event) bool {
		return e.EventType == snapType && e.Seq <= seq
	})
	if inRing && (!ok || fromRing.Seq > best.Seq) {
		return fromRing, true
	}
	return best, ok
}

// snapshotValue is the captured state inside a snapshot envelope.
func snapshotValue(e protocol.Event) any {
	if state, ok := e.Payload["state"]; ok {
		return state
	}
	return e.Payload
}

// =============================================================================
// query_events
// =============================================================================

type queryEventsParams struct {
	Stream    string `json:"stream"`
	SinceSeq  uint64 `json:"sinceSeq"`
	Limit     int    `json:"limit"`
	EventType string `json:"eventType"`
	Where     string `json:"where"`
}

// QueryEventsResult is the query_events response.
type QueryEventsResult struct {
	Events    []protocol.Event `json:"events"`
	HasMore   bool             `json:"hasMore"`
	OldestSeq uint64           `json:"oldestSeq"`
	LatestSeq uint64           `json:"latestSeq"`
}

func (a *Adapter) handleQueryEvents(_ context.Context, params json.RawMessage) (any, error) {
	var p queryEventsParams
	if err := transport.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Stream == "" {
		return nil, transport.NewActionError(protocol.CodeInvalidParams, "stream is required")
	}
	stream, st, err := a.stream(p.Stream)
	if err != nil {
		return nil, err
	}

	var filters []func(protocol.Event) bool
	if p.EventType != "" {
		eventType := protocol.EventType(p.EventType)
		if !stream.Allows(eventType) {
			return nil, transport.NewActionError(protocol.CodeInvalidParams,
				"event type %s does not belong to stream %s", eventType, stream)
		}
		filters = append(filters, func(e protocol.Event) bool { return e.EventType == eventType })
	}
	if p.Where != "" {
		match, err := a.where.predicate(p.Where)
		if err != nil {
			return nil, transport.NewActionError(protocol.CodeInvalidParams, "%v", err)
		}
		filters = append(filters, match)
	}

	limit := p.Limit
	switch {
	case limit <= 0:
		limit = DefaultQueryLimit
	case limit > MaxQueryLimit:
		limit = MaxQueryLimit
	}

	opts := ringbuffer.QueryOptions[protocol.Event]{SinceSeq: p.SinceSeq, Limit: limit}
	if len(filters) > 0 {
		opts.Filter = func(e protocol.Event) bool {
			for _, f := range filters {
				if !f(e) {
					return false
				}
			}
			return true
		}
	}

	page := st.ring.Query(opts)
	events, capped := fitFrame(page.Items, a.cfg.MaxFrameSize-FrameReserve)
	stats := st.ring.Stats()
	return QueryEventsResult{
		Events:    events,
		HasMore:   page.HasMore || capped,
		OldestSeq: stats.OldestSeq,
		LatestSeq: stats.LatestSeq,
	}, nil
}

// fitFrame keeps the longest prefix of events whose JSON array fits budget
// bytes and reports whether any tail events were dropped. The first event
// is always kept; MaxPayloadSize guarantees it fits.
func fitFrame(events []protocol.Event, budget int) ([]protocol.Event, bool) {
	size := 2 // []
	for i, e := range events {
		n := jsonsize.Of(e)
		if i > 0 {
			n++ // comma
		}
		if i > 0 && size+n > budget {
			return events[:i], true
		}
		size += n
	}
	return events, false
}

// =============================================================================
// list_streams
// =============================================================================

// StreamInfo describes one enabled stream.
type StreamInfo struct {
	Name        protocol.Stream  `json:"name"`
	Active      bool             `json:"active"`
	EventCount  int              `json:"eventCount"`
	OldestSeq   uint64           `json:"oldestSeq"`
	LatestSeq   uint64           `json:"latestSeq"`
	Capacity    int              `json:"capacity"`
	HasSnapshot bool             `json:"hasSnapshot"`
	LastEventAt *strfmt.DateTime `json:"lastEventAt,omitempty"`
}

// StreamList is the list_streams response.
type StreamList struct {
	SessionID      string       `json:"sessionId"`
	AdapterVersion string       `json:"adapterVersion"`
	Streams        []StreamInfo `json:"streams"`
}

func (a *Adapter) handleListStreams(context.Context, json.RawMessage) (any, error) {
	return a.ListStreams(), nil
}

// ListStreams reports buffer state for every enabled stream in display
// order.
func (a *Adapter) ListStreams() StreamList {
	list := StreamList{SessionID: a.sessionID, AdapterVersion: Version, Streams: []StreamInfo{}}
	for _, s := range protocol.Streams {
		st, ok := a.streams[s]
		if !ok {
			continue
		}
		stats := st.ring.Stats()
		_, hasSnapshot := st.slot.Get()
		info := StreamInfo{
			Name:        s,
			Active:      a.hasCollector(s),
			EventCount:  stats.Count,
			OldestSeq:   stats.OldestSeq,
			LatestSeq:   stats.LatestSeq,
			Capacity:    stats.Capacity,
			HasSnapshot: hasSnapshot,
		}
		if ms := st.lastEventAt.Load(); ms > 0 {
			at := strfmt.DateTime(time.UnixMilli(ms).UTC())
			info.LastEventAt = &at
		}
		list.Streams = append(list.Streams, info)
	}
	return list
}
