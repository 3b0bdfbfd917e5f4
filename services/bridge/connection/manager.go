// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connection owns the bridge's single adapter connection.
//
// # Description
//
// The Manager accepts adapter sockets, tracks the adapter identity announced
// by the handshake, and issues correlated requests over the active socket.
// Only one socket is active at a time; attaching a new one atomically
// replaces the old socket and fails every request still pending on it.
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use.
package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/mod/semver"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/pkg/telemetry"
	"github.com/AleutianAI/agent-devtools/services/bridge/observability"
)

const tracerName = "devtools.bridge.connection"

// DefaultRequestTimeout applies when Config.RequestTimeout is zero.
const DefaultRequestTimeout = 5 * time.Second

// ErrInvalidParams is returned when request params do not encode to a JSON
// object.
var ErrInvalidParams = errors.New("request params must be a JSON object")

// =============================================================================
// Configuration
// =============================================================================

// Observer receives connection and request events. BridgeMetrics
// implements it.
type Observer interface {
	ConnectionAccepted(replaced bool)
	ConnectionClosed()
	ConnectionRejected(reason string)
	FrameReceived(msgType string)
	FrameDropped(reason string)
	EventPushed(stream string)
	RequestCompleted(action, outcome string, elapsed time.Duration)
}

// Config configures a Manager.
type Config struct {
	// RequestTimeout bounds each request. Default: 5s.
	RequestTimeout time.Duration

	// MinAdapterVersion rejects handshakes from older adapters when set.
	// Semantic version, with or without a leading "v".
	MinAdapterVersion string

	// Logger receives lifecycle and dropped-frame logs. Default: discard.
	Logger *logging.Logger

	// Observer receives metrics events. Default: none.
	Observer Observer

	// OnEvent is called for every accepted push_event, from the socket's
	// read goroutine. It must not block.
	OnEvent func(protocol.Event)
}

// AdapterInfo is the identity announced by the adapter's handshake.
type AdapterInfo struct {
	SessionID      string            `json:"sessionId"`
	AdapterVersion string            `json:"adapterVersion"`
	Streams        []protocol.Stream `json:"streams"`
	DeviceInfo     map[string]any    `json:"deviceInfo,omitempty"`
	ConnectedAt    time.Time         `json:"connectedAt"`
	RemoteAddr     string            `json:"remoteAddr"`
}

// Status is a point-in-time view of the connection.
type Status struct {
	Connected       bool         `json:"connected"`
	SocketOpen      bool         `json:"socketOpen"`
	Adapter         *AdapterInfo `json:"adapter,omitempty"`
	PendingRequests int          `json:"pendingRequests"`
	LastEventAt     *time.Time   `json:"lastEventAt,omitempty"`
}

// =============================================================================
// Manager
// =============================================================================

// session is one attached socket and everything scoped to it.
type session struct {
	conn        Conn
	connectedAt time.Time
	identity    *AdapterInfo
	pending     map[string]*pendingRequest
	lastEventAt time.Time
}

// Manager owns at most one active adapter socket.
type Manager struct {
	cfg      Config
	log      *logging.Logger
	observer Observer

	mu     sync.Mutex
	active *session

	// nextID is process-wide so request ids never repeat across connections.
	nextID atomic.Uint64
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Manager{cfg: cfg, log: log.With("component", "connection"), observer: observer}
}

// Serve attaches conn as the active socket and reads from it until it
// closes or ctx is cancelled.
//
// # Description
//
// Any previously active socket is closed with code 4001 and its pending
// requests fail with ErrConnectionReplaced before the first frame from conn
// is read. When conn closes, its pending requests fail with
// ErrConnectionClosed and the adapter identity is cleared, unless conn was
// itself replaced first.
//
// # Inputs
//
//   - ctx: Cancelling it closes conn with code 1001.
//   - conn: The upgraded socket. Serve takes ownership.
//
// # Outputs
//
//   - error: The read error that ended the loop.
func (m *Manager) Serve(ctx context.Context, conn Conn) error {
	sess := m.attach(conn)
	defer m.detach(sess)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.CloseWith(CloseGoingAway, "server shutting down")
	})
	defer stop()

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		m.handleFrame(sess, data)
	}
}

// attach swaps in a new session and drains the old one in one step.
func (m *Manager) attach(conn Conn) *session {
	sess := &session{
		conn:        conn,
		connectedAt: time.Now(),
		pending:     make(map[string]*pendingRequest),
	}

	m.mu.Lock()
	old := m.active
	m.active = sess
	var drained []*pendingRequest
	if old != nil {
		drained = drainLocked(old)
	}
	m.mu.Unlock()

	for _, p := range drained {
		p.complete(outcome{err: ErrConnectionReplaced})
	}
	m.observer.ConnectionAccepted(old != nil)

	if old != nil {
		m.log.Warn("adapter connection replaced",
			"old_remote_addr", old.conn.RemoteAddr(),
			"new_remote_addr", conn.RemoteAddr(),
			"failed_requests", len(drained),
		)
		_ = old.conn.CloseWith(CloseReplaced, "replaced")
	} else {
		m.log.Info("adapter socket attached", "remote_addr", conn.RemoteAddr())
	}
	return sess
}

// detach clears sess if it is still active.
func (m *Manager) detach(sess *session) {
	m.mu.Lock()
	if m.active != sess {
		m.mu.Unlock()
		return
	}
	m.active = nil
	drained := drainLocked(sess)
	m.mu.Unlock()

	for _, p := range drained {
		p.complete(outcome{err: ErrConnectionClosed})
	}
	m.observer.ConnectionClosed()
	m.log.Info("adapter disconnected",
		"remote_addr", sess.conn.RemoteAddr(),
		"failed_requests", len(drained),
	)
	_ = sess.conn.CloseWith(websocketNormalClosure, "")
}

const websocketNormalClosure = 1000

// drainLocked empties the pending table. Caller holds m.mu.
func drainLocked(sess *session) []*pendingRequest {
	drained := make([]*pendingRequest, 0, len(sess.pending))
	for id, p := range sess.pending {
		delete(sess.pending, id)
		drained = append(drained, p)
	}
	return drained
}

// Close fails all pending requests and closes the active socket.
func (m *Manager) Close() {
	m.mu.Lock()
	sess := m.active
	m.active = nil
	var drained []*pendingRequest
	if sess != nil {
		drained = drainLocked(sess)
	}
	m.mu.Unlock()

	for _, p := range drained {
		p.complete(outcome{err: ErrConnectionClosed})
	}
	if sess != nil {
		m.observer.ConnectionClosed()
		_ = sess.conn.CloseWith(CloseGoingAway, "server shutting down")
	}
}

// =============================================================================
// Inbound Frames
// =============================================================================

func (m *Manager) handleFrame(sess *session, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, protocol.ErrMalformedFrame) {
			reason = "malformed"
		}
		m.observer.FrameDropped(reason)
		m.log.Warn("dropping inbound frame", "reason", reason, "bytes", len(data), "error", err)
		return
	}
	m.observer.FrameReceived(string(msg.MessageType()))

	switch msg := msg.(type) {
	case *protocol.Handshake:
		m.handleHandshake(sess, msg)
	case *protocol.Response:
		o := outcome{result: msg.Result}
		if !msg.OK {
			o = outcome{err: remoteError(msg.Error)}
		}
		if !m.settle(sess, msg.RequestID, o) {
			m.log.Debug("ignoring response for unknown request", "request_id", msg.RequestID)
		}
	case *protocol.PushEvent:
		m.handlePush(sess, msg.Event)
	case *protocol.ErrorMessage:
		remote := &RemoteError{Code: msg.Code, Message: msg.Message, Details: msg.Details}
		if msg.RequestID != "" && m.settle(sess, msg.RequestID, outcome{err: remote}) {
			return
		}
		m.log.Warn("adapter reported error", "code", msg.Code, "message", msg.Message, "request_id", msg.RequestID)
	case *protocol.Request:
		m.observer.FrameDropped("unexpected_request")
		m.log.Warn("dropping request frame from adapter", "action", msg.Action)
	}
}

func (m *Manager) handleHandshake(sess *session, hs *protocol.Handshake) {
	if min := m.cfg.MinAdapterVersion; min != "" && !versionAtLeast(hs.AdapterVersion, min) {
		m.observer.ConnectionRejected("version")
		m.log.Warn("rejecting adapter",
			"error", ErrUnsupportedAdapter,
			"adapter_version", hs.AdapterVersion,
			"min_version", min,
		)
		_ = sess.conn.CloseWith(CloseUnsupportedVersion, ErrUnsupportedAdapter.Error())
		return
	}

	m.mu.Lock()
	if m.active != sess || sess.identity != nil {
		m.mu.Unlock()
		m.log.Debug("ignoring repeated handshake", "session_id", hs.SessionID)
		return
	}
	sess.identity = &AdapterInfo{
		SessionID:      hs.SessionID,
		AdapterVersion: hs.AdapterVersion,
		Streams:        append([]protocol.Stream(nil), hs.Streams...),
		DeviceInfo:     hs.DeviceInfo,
		ConnectedAt:    sess.connectedAt,
		RemoteAddr:     sess.conn.RemoteAddr(),
	}
	m.mu.Unlock()

	m.log.Info("adapter connected",
		"session_id", hs.SessionID,
		"adapter_version", hs.AdapterVersion,
		"streams", hs.Streams,
	)
}

func (m *Manager) handlePush(sess *session, event protocol.Event) {
	m.mu.Lock()
	identity := sess.identity
	active := m.active == sess
	if active && identity != nil && identity.SessionID == event.SessionID {
		sess.lastEventAt = time.Now()
	}
	m.mu.Unlock()

	switch {
	case !active:
		return
	case identity == nil:
		m.observer.FrameDropped("before_handshake")
		m.log.Debug("dropping event before handshake", "stream", event.Stream)
		return
	case identity.SessionID != event.SessionID:
		m.observer.FrameDropped("session_mismatch")
		m.log.Warn("dropping event from another session", "session_id", event.SessionID)
		return
	}

	m.observer.EventPushed(string(event.Stream))
	if m.cfg.OnEvent != nil {
		m.cfg.OnEvent(event)
	}
}

// =============================================================================
// Requests
// =============================================================================

// Request sends action to the adapter and waits for its response.
//
// # Description
//
// Fails immediately with ErrNotConnected when no adapter has completed a
// handshake. Otherwise registers a pending request with the configured
// timeout, sends it, and waits for exactly one of: the matching response,
// the timeout, loss or replacement of the socket, or ctx cancellation.
//
// # Inputs
//
//   - ctx: Cancelling it abandons the request.
//   - action: Adapter action name, e.g. "get_snapshot".
//   - params: nil, json.RawMessage, or any value encoding to a JSON object.
//
// # Outputs
//
//   - json.RawMessage: The response's result on success.
//   - error: ErrNotConnected, ErrRequestTimeout, ErrConnectionReplaced,
//     ErrConnectionClosed, ErrSendFailed, ErrInvalidParams, ctx.Err(), or
//     *RemoteError.
func (m *Manager) Request(ctx context.Context, action string, params any) (json.RawMessage, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Manager.Request",
		trace.WithAttributes(attribute.String("devtools.action", action)),
	)
	defer span.End()

	raw, err := encodeParams(params)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	start := time.Now()
	m.mu.Lock()
	sess := m.active
	if sess == nil || sess.identity == nil {
		m.mu.Unlock()
		telemetry.RecordError(span, ErrNotConnected)
		return nil, ErrNotConnected
	}
	id := fmt.Sprintf("req-%d", m.nextID.Add(1))
	p := newPendingRequest(id, action, start)
	sess.pending[id] = p
	timeout := m.cfg.RequestTimeout
	p.timer = time.AfterFunc(timeout, func() {
		m.settle(sess, id, outcome{err: fmt.Errorf("%w after %s", ErrRequestTimeout, timeout)})
	})
	m.mu.Unlock()

	span.SetAttributes(attribute.String("devtools.request_id", id))

	frame, err := protocol.Encode(&protocol.Request{RequestID: id, Action: action, Params: raw})
	if err == nil {
		err = sess.conn.WriteFrame(frame)
	}
	if err != nil {
		m.settle(sess, id, outcome{err: fmt.Errorf("%w: %v", ErrSendFailed, err)})
	}

	var o outcome
	select {
	case o = <-p.done:
	case <-ctx.Done():
		m.settle(sess, id, outcome{err: ctx.Err()})
		o = <-p.done
	}

	m.observer.RequestCompleted(action, outcomeLabel(o.err), time.Since(start))
	if o.err != nil {
		telemetry.RecordError(span, o.err)
		m.log.Debug("request failed", "request_id", id, "action", action, "error", o.err)
		return nil, o.err
	}
	telemetry.SetSpanOK(span)
	return o.result, nil
}

// settle removes and completes a pending request. It reports false when the
// request was already settled or never existed.
func (m *Manager) settle(sess *session, id string, o outcome) bool {
	m.mu.Lock()
	p, ok := sess.pending[id]
	if ok {
		delete(sess.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	p.complete(o)
	return true
}

// =============================================================================
// Status
// =============================================================================

// IsConnected reports whether an adapter identity is present.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.active.identity != nil
}

// Adapter returns a copy of the current adapter identity.
func (m *Manager) Adapter() (AdapterInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.identity == nil {
		return AdapterInfo{}, false
	}
	return *m.active.identity, true
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var st Status
	if m.active == nil {
		return st
	}
	st.SocketOpen = true
	st.PendingRequests = len(m.active.pending)
	if m.active.identity != nil {
		info := *m.active.identity
		st.Connected = true
		st.Adapter = &info
	}
	if !m.active.lastEventAt.IsZero() {
		at := m.active.lastEventAt
		st.LastEventAt = &at
	}
	return st
}

// =============================================================================
// Helpers
// =============================================================================

func encodeParams(params any) (json.RawMessage, error) {
	var raw []byte
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		raw = b
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, ErrInvalidParams
	}
	return trimmed, nil
}

func remoteError(body *protocol.ErrorBody) error {
	if body == nil {
		return &RemoteError{Code: protocol.CodeHandlerError, Message: "request failed"}
	}
	return &RemoteError{Code: body.Code, Message: body.Message, Details: body.Details}
}

// versionAtLeast compares semantic versions, tolerating a missing "v".
// Unparseable adapter versions never satisfy the gate.
func versionAtLeast(version, min string) bool {
	v := canonicalVersion(version)
	if !semver.IsValid(v) {
		return false
	}
	return semver.Compare(v, canonicalVersion(min)) >= 0
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// ValidVersion reports whether v is a usable minimum adapter version.
func ValidVersion(v string) bool {
	return semver.IsValid(canonicalVersion(v))
}

func outcomeLabel(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.As(err, &remote):
		return observability.OutcomeRemote
	case errors.Is(err, ErrRequestTimeout):
		return observability.OutcomeTimeout
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrConnectionReplaced):
		return observability.OutcomeClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return observability.OutcomeCanceled
	default:
		return observability.OutcomeFailed
	}
}

type nopObserver struct{}

func (nopObserver) ConnectionAccepted(bool) {}
func (nopObserver) ConnectionClosed() {}
func (nopObserver) ConnectionRejected(string) {}
func (nopObserver) FrameReceived(string) {}
func (nopObserver) FrameDropped(string) {}
func (nopObserver) EventPushed(string) {}
func (nopObserver) RequestCompleted(string, string, time.Duration) {}
