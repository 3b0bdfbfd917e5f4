// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package adapter is the application side of the devtools bridge.
//
// # Description
//
// An Adapter owns one ring buffer and one snapshot slot per enabled stream.
// Collectors hand it raw events; it stamps each one into an envelope,
// truncates the payload to the configured budget, buffers it and pushes it
// to the bridge. The bridge queries the buffers back through the
// get_snapshot, query_events and list_streams actions.
//
//	collector ──Emit──▶ truncate ──▶ ring buffer ──▶ transport.Client ──▶ bridge
//	                                  snapshot slot ◀── get_snapshot ◀───┘
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Emits on one stream are
// serialised up to the ring append, so each stream's ring has a single
// producer. Pushes happen after the stream lock is released, so concurrent
// emitters may push out of seq order. Every event carries its seq, and
// query_events always reads the ring in seq order.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/pkg/ringbuffer"
	"github.com/AleutianAI/agent-devtools/pkg/truncate"
	"github.com/AleutianAI/agent-devtools/services/adapter/transport"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("adapter closed")

	// ErrStreamDisabled is returned for streams not enabled in Config.
	ErrStreamDisabled = errors.New("stream not enabled")

	// ErrEventTypeMismatch is returned when an event type does not belong
	// to the stream it is emitted on.
	ErrEventTypeMismatch = errors.New("event type does not belong to stream")
)

// Collector produces events for one stream.
type Collector interface {
	// CaptureSnapshot emits the stream's full-state snapshot event.
	CaptureSnapshot()

	// Close stops the collector. It must not emit afterwards.
	Close() error
}

// =============================================================================
// Adapter
// =============================================================================

type streamState struct {
	// mu serialises emits so the ring keeps a single producer.
	mu          sync.Mutex
	ring        *ringbuffer.RingBuffer[protocol.Event]
	slot        *ringbuffer.SnapshotSlot[protocol.Event]
	lastEventAt atomic.Int64
}

// Adapter stamps, buffers and ships telemetry for one session.
type Adapter struct {
	cfg       Config
	log       *logging.Logger
	sessionID string
	streams   map[protocol.Stream]*streamState
	router    *transport.Router
	client    *transport.Client
	push      func(protocol.Event) bool
	where     *whereFilter
	now       func() time.Time

	mu         sync.Mutex
	collectors map[protocol.Stream]Collector
	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

// New validates cfg and creates an Adapter with a fresh session id.
//
// # Description
//
// Zero fields of cfg take their defaults. The built-in actions are
// registered on the adapter's router. New does not dial; call Connect or
// Run.
//
// # Outputs
//
//   - *Adapter: Ready to accept collectors and emits.
//   - error: Validation failure.
func New(cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		cfg:        cfg,
		sessionID:  uuid.NewString(),
		streams:    make(map[protocol.Stream]*streamState, len(cfg.Streams)),
		collectors: make(map[protocol.Stream]Collector),
		now:        time.Now,
	}
	a.log = cfg.Logger.With("component", "adapter", "session_id", a.sessionID)

	for _, s := range cfg.Streams {
		a.streams[s] = &streamState{
			ring: ringbuffer.NewRingBuffer[protocol.Event](cfg.BufferCapacity),
			slot: ringbuffer.NewSnapshotSlot[protocol.Event](),
		}
	}

	where, err := newWhereFilter()
	if err != nil {
		return nil, err
	}
	a.where = where

	a.router = transport.NewRouter(a.log)
	a.registerActions()

	client, err := transport.NewClient(transport.ClientConfig{
		ServerURL: cfg.ServerURL,
		Handshake: a.handshake,
		Router:    a.router,
		PushRate:  rate.Limit(cfg.PushRate),
		Dialer:    cfg.Dialer,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.client = client
	a.push = client.Push
	return a, nil
}

// SessionID returns the uuid identifying this adapter instance.
func (a *Adapter) SessionID() string { return a.sessionID }

// Router exposes the action router so hosts can add actions.
func (a *Adapter) Router() *transport.Router { return a.router }

// Connect dials the bridge once.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.client.Connect(ctx)
}

// Run connects and serves until the socket closes or ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	return a.client.Run(ctx)
}

// IsConnected reports whether the handshake was sent on an open socket.
func (a *Adapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Register attaches c as the collector for stream, closing any collector
// it replaces.
func (a *Adapter) Register(stream protocol.Stream, c Collector) error {
	if _, ok := a.streams[stream]; !ok {
		return fmt.Errorf("%w: %s", ErrStreamDisabled, stream)
	}
	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		return ErrClosed
	}
	old := a.collectors[stream]
	a.collectors[stream] = c
	a.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Emit stamps and records one event.
//
// # Description
//
// The payload is truncated to MaxPayloadSize, appended to the stream's ring
// (which assigns the seq), stored in the snapshot slot when the event type
// is a snapshot, and pushed to the bridge if connected. Emit takes
// ownership of payload.
//
// # Inputs
//
//   - stream: An enabled stream.
//   - eventType: Must belong to stream.
//   - payload: JSON-shaped event fields.
//
// # Outputs
//
//   - protocol.Event: The stamped envelope as buffered.
//   - error: ErrClosed, ErrStreamDisabled or ErrEventTypeMismatch.
func (a *Adapter) Emit(stream protocol.Stream, eventType protocol.EventType, payload map[string]any) (protocol.Event, error) {
	if a.closed.Load() {
		return protocol.Event{}, ErrClosed
	}
	st, ok := a.streams[stream]
	if !ok {
		return protocol.Event{}, fmt.Errorf("%w: %s", ErrStreamDisabled, stream)
	}
	if !stream.Allows(eventType) {
		return protocol.Event{}, fmt.Errorf("%w: %s on %s", ErrEventTypeMismatch, eventType, stream)
	}

	res := truncate.Payload(payload, a.cfg.MaxPayloadSize)
	body, ok := res.Payload.(map[string]any)
	if !ok || body == nil {
		body = map[string]any{}
	}
	meta := protocol.Meta{Source: string(stream), AdapterVersion: Version}
	if res.Truncated {
		size := res.OriginalSize
		meta.Truncated = true
		meta.OriginalSize = &size
		a.log.Debug("payload truncated",
			"stream", stream, "event_type", eventType,
			"original_size", res.OriginalSize, "max_size", a.cfg.MaxPayloadSize)
	}

	st.mu.Lock()
	now := a.now()
	_, event := st.ring.Append(func(seq uint64) protocol.Event {
		return protocol.Event{
			Stream:    stream,
			EventType: eventType,
			Timestamp: strfmt.DateTime(now.UTC()),
			Seq:       seq,
			SessionID: a.sessionID,
			Payload:   body,
			Meta:      meta,
		}
	})
	if eventType.IsSnapshot() {
		st.slot.Set(event)
	}
	st.lastEventAt.Store(now.UnixMilli())
	st.mu.Unlock()

	// A slow socket must not hold up other emitters on this stream.
	a.push(event)
	return event, nil
}

// CaptureSnapshot asks collectors to emit snapshots. With no arguments
// every registered collector is asked.
func (a *Adapter) CaptureSnapshot(streams ...protocol.Stream) {
	a.mu.Lock()
	var targets []Collector
	if len(streams) == 0 {
		for _, c := range a.collectors {
			targets = append(targets, c)
		}
	} else {
		for _, s := range streams {
			if c, ok := a.collectors[s]; ok {
				targets = append(targets, c)
			}
		}
	}
	a.mu.Unlock()

	for _, c := range targets {
		c.CaptureSnapshot()
	}
}

// Close stops collectors and disconnects. Idempotent.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed.Store(true)
		collectors := a.collectors
		a.collectors = make(map[protocol.Stream]Collector)
		a.mu.Unlock()

		var errs []error
		for stream, c := range collectors {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s collector: %w", stream, err))
			}
		}
		if err := a.client.Close(); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = errors.Join(errs...)
		a.log.Info("adapter closed")
	})
	return a.closeErr
}

// =============================================================================
// Internals
// =============================================================================

// handshake announces streams that have a collector, or every enabled
// stream when none is registered yet.
func (a *Adapter) handshake() *protocol.Handshake {
	a.mu.Lock()
	streams := make([]protocol.Stream, 0, len(a.collectors))
	for s := range a.collectors {
		streams = append(streams, s)
	}
	a.mu.Unlock()

	if len(streams) == 0 {
		streams = append(streams, a.cfg.Streams...)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i] < streams[j] })

	return &protocol.Handshake{
		SessionID:      a.sessionID,
		AdapterVersion: Version,
		Streams:        streams,
		DeviceInfo:     a.cfg.DeviceInfo,
	}
}

func (a *Adapter) hasCollector(stream protocol.Stream) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.collectors[stream]
	return ok
}

// stream resolves an action's stream parameter.
func (a *Adapter) stream(name string) (protocol.Stream, *streamState, error) {
	s, err := protocol.ParseStream(name)
	if err != nil {
		return "", nil, transport.NewActionError(protocol.CodeInvalidParams, "%v", err)
	}
	st, ok := a.streams[s]
	if !ok {
		return "", nil, transport.NewActionError(CodeStreamDisabled, "stream %s is not enabled", s)
	}
	return s, st, nil
}
