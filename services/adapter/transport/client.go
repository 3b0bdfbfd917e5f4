// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrClientClosed is returned by Connect after Close.
	ErrClientClosed = errors.New("client closed")

	// ErrAlreadyConnected is returned by Connect while a socket is open.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrDialFailed wraps failures to reach the bridge.
	ErrDialFailed = errors.New("dial bridge")

	// ErrInvalidServerURL is returned for URLs that are not ws:// or wss://.
	ErrInvalidServerURL = errors.New("server URL must start with ws:// or wss://")
)

// closeReplaced matches the bridge's close code for a displaced connection.
const closeReplaced = 4001

// =============================================================================
// Configuration
// =============================================================================

// ClientConfig configures a Client.
type ClientConfig struct {
	// ServerURL is the bridge's adapter endpoint, e.g. ws://127.0.0.1:19850/adapter.
	ServerURL string

	// Handshake builds the handshake sent on every new connection.
	Handshake func() *protocol.Handshake

	// Router answers bridge requests. Default: an empty router.
	Router *Router

	// PushRate limits pushed events per second. Events over the limit are
	// dropped. Zero disables the limit.
	PushRate rate.Limit

	// PushBurst is the limiter burst. Default: 100.
	PushBurst int

	// WriteTimeout bounds each frame write. Default: 5s.
	WriteTimeout time.Duration

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer

	// Logger receives connection logs. Default: discard.
	Logger *logging.Logger
}

// =============================================================================
// Client
// =============================================================================

// Client is the adapter's single websocket connection to the bridge.
//
// # Description
//
// Push is fire-and-forget: while disconnected, or before the handshake has
// been written, events are dropped silently. There is no buffering and no
// retry.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	log     *logging.Logger
	router  *Router
	limiter *rate.Limiter

	mu        sync.Mutex
	ws        *websocket.Conn
	dialing   bool
	connected bool
	closed    bool
	lost      chan error
	cancel    context.CancelFunc

	writeMu sync.Mutex
	wg      sync.WaitGroup

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewClient validates cfg and creates a Client. It does not dial.
func NewClient(cfg ClientConfig) (*Client, error) {
	if !strings.HasPrefix(cfg.ServerURL, "ws://") && !strings.HasPrefix(cfg.ServerURL, "wss://") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidServerURL, cfg.ServerURL)
	}
	if cfg.Handshake == nil {
		return nil, errors.New("handshake builder is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PushBurst <= 0 {
		cfg.PushBurst = 100
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	router := cfg.Router
	if router == nil {
		router = NewRouter(log)
	}

	c := &Client{cfg: cfg, log: log.With("component", "transport"), router: router}
	if cfg.PushRate > 0 {
		c.limiter = rate.NewLimiter(cfg.PushRate, cfg.PushBurst)
	}
	return c, nil
}

// Connect dials the bridge and sends the handshake.
//
// # Description
//
// On success the client is connected and a background goroutine answers
// bridge requests until the socket closes. The returned error is nil only
// when the handshake frame was written.
//
// # Inputs
//
//   - ctx: Bounds the dial. Cancelling it later also stops request handlers.
//
// # Outputs
//
//   - error: ErrAlreadyConnected while another Connect is dialing or a
//     socket is open; ErrClientClosed; ErrDialFailed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClientClosed
	case c.ws != nil || c.dialing:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.dialing = true
	c.mu.Unlock()

	ws, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.ServerURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
		return fmt.Errorf("%w %s: %v", ErrDialFailed, c.cfg.ServerURL, err)
	}

	c.mu.Lock()
	c.dialing = false
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrClientClosed
	}
	c.ws = ws
	c.mu.Unlock()

	hs := c.cfg.Handshake()
	frame, err := protocol.Encode(hs)
	if err == nil {
		err = c.write(ws, frame)
	}
	if err != nil {
		c.reset(ws)
		_ = ws.Close()
		return fmt.Errorf("send handshake: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lost := make(chan error, 1)
	c.mu.Lock()
	c.connected = true
	c.lost = lost
	c.cancel = cancel
	c.mu.Unlock()

	c.log.Info("connected to bridge", "url", c.cfg.ServerURL, "session_id", hs.SessionID)

	c.wg.Add(1)
	go c.readLoop(loopCtx, ws, lost)
	return nil
}

// Run connects and blocks until the socket closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	lost := c.lost
	c.mu.Unlock()

	select {
	case err := <-lost:
		return err
	case <-ctx.Done():
		c.disconnect(websocket.CloseNormalClosure, "adapter shutting down")
		return nil
	}
}

// IsConnected reports whether the handshake has been sent on an open socket.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Push sends event if connected. It reports whether the frame was written.
func (c *Client) Push(event protocol.Event) bool {
	c.mu.Lock()
	ws, connected := c.ws, c.connected
	c.mu.Unlock()
	if !connected {
		return false
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.dropped.Add(1)
		return false
	}

	frame, err := protocol.Encode(&protocol.PushEvent{Event: event})
	if err != nil {
		c.dropped.Add(1)
		c.log.Warn("dropping unencodable event", "stream", event.Stream, "seq", event.Seq, "error", err)
		return false
	}
	if err := c.write(ws, frame); err != nil {
		c.dropped.Add(1)
		c.log.Debug("push failed", "stream", event.Stream, "seq", event.Seq, "error", err)
		return false
	}
	c.pushed.Add(1)
	return true
}

// PushStats returns how many events were pushed and dropped while
// connected.
func (c *Client) PushStats() (pushed, dropped uint64) {
	return c.pushed.Load(), c.dropped.Load()
}

// Close disconnects and prevents further connections. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.disconnect(websocket.CloseNormalClosure, "adapter closed")
	c.wg.Wait()
	return nil
}

// =============================================================================
// Internals
// =============================================================================

func (c *Client) write(ws *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

// disconnect sends a close frame on the current socket, if any.
func (c *Client) disconnect(code int, reason string) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}
	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = ws.Close()
}

// reset clears state for ws if it is still current.
func (c *Client) reset(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != ws {
		return
	}
	c.ws = nil
	c.connected = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn, lost chan<- error) {
	defer c.wg.Done()

	var err error
	for {
		var data []byte
		_, data, err = ws.ReadMessage()
		if err != nil {
			break
		}
		c.handleFrame(ctx, ws, data)
	}

	c.reset(ws)
	_ = ws.Close()

	if websocket.IsCloseError(err, closeReplaced) {
		c.log.Warn("bridge replaced this connection with a newer one")
	} else {
		c.log.Info("disconnected from bridge", "error", err)
	}
	lost <- err
}

func (c *Client) handleFrame(ctx context.Context, ws *websocket.Conn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn("dropping inbound frame", "bytes", len(data), "error", err)
		return
	}

	switch msg := msg.(type) {
	case *protocol.Request:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			resp := c.router.Dispatch(ctx, msg)
			frame, err := protocol.Encode(resp)
			if err != nil {
				frame, _ = protocol.Encode(protocol.NewErrorResponse(msg.RequestID,
					protocol.CodeHandlerError, err.Error()))
			}
			if err := c.write(ws, frame); err != nil {
				c.log.Debug("response write failed", "request_id", msg.RequestID, "error", err)
			}
		}()
	case *protocol.ErrorMessage:
		c.log.Warn("bridge reported error", "code", msg.Code, "message", msg.Message)
	default:
		c.log.Debug("ignoring frame", "type", msg.MessageType())
	}
}
