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
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNotConnected is returned when no adapter has completed a handshake.
	ErrNotConnected = errors.New("no adapter connected")

	// ErrRequestTimeout is returned when no response arrives in time.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrConnectionReplaced is returned to requests pending on a socket that
	// was displaced by a newer one.
	ErrConnectionReplaced = errors.New("connection replaced")

	// ErrConnectionClosed is returned to requests pending on a socket that
	// closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendFailed is returned when the request frame cannot be written.
	ErrSendFailed = errors.New("send failed")

	// ErrUnsupportedAdapter is recorded when a handshake fails the version gate.
	ErrUnsupportedAdapter = errors.New("unsupported adapter version")
)

// Websocket close codes sent by the manager.
const (
	// CloseReplaced tells a displaced adapter a newer connection took over.
	CloseReplaced = 4001

	// CloseUnsupportedVersion rejects an adapter below the minimum version.
	CloseUnsupportedVersion = 4002

	// CloseGoingAway is sent on server shutdown.
	CloseGoingAway = 1001
)

// RemoteError is a failure reported by the adapter in a response or error
// frame.
type RemoteError struct {
	Code    string
	Message string
	Details map[string]any
}

// Error returns the adapter-supplied message.
func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("adapter error %s", e.Code)
	}
	return e.Message
}
