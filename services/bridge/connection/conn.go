// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connection

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the message-oriented socket the manager owns.
//
// ReadFrame is only ever called from the goroutine running Manager.Serve.
// WriteFrame and CloseWith may be called concurrently with each other and
// with ReadFrame.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	CloseWith(code int, reason string) error
	RemoteAddr() string
}

// wsConn adapts a gorilla websocket to Conn.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

// WrapWebsocket adapts ws for use by the manager.
//
// # Inputs
//
//   - ws: An upgraded connection. The caller gives up ownership.
//   - writeTimeout: Deadline for each write. Zero disables deadlines.
func WrapWebsocket(ws *websocket.Conn, writeTimeout time.Duration) Conn {
	return &wsConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// CloseWith sends a close frame with code and reason, then closes the
// socket. Subsequent calls return the first result.
func (c *wsConn) CloseWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
