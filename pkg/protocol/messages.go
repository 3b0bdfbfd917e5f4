// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"encoding/json"
	"errors"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrMalformedFrame indicates a frame that is not valid JSON.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrInvalidMessage indicates JSON that does not match any message schema.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrUnknownStream indicates a stream name outside the known set.
	ErrUnknownStream = errors.New("unknown stream")
)

// Error codes carried in responses produced by the adapter's router.
const (
	CodeActionNotFound    = "action_not_found"
	CodeHandlerError      = "handler_error"
	CodeInvalidParams     = "invalid_params"
	CodeSnapshotNotFound  = "snapshot_not_found"
	CodeStreamUnavailable = "stream_unavailable"
)

// Actions the adapter serves to the bridge.
const (
	ActionGetSnapshot = "get_snapshot"
	ActionQueryEvents = "query_events"
	ActionListStreams = "list_streams"
)

// =============================================================================
// Message Types
// =============================================================================

// MessageType is the "type" discriminant of a frame.
type MessageType string

const (
	TypeHandshake MessageType = "handshake"
	TypeRequest   MessageType = "request"
	TypeResponse  MessageType = "response"
	TypePushEvent MessageType = "push_event"
	TypeError     MessageType = "error"
)

// Message is implemented by every frame type.
type Message interface {
	MessageType() MessageType
	stamp()
}

// Handshake is the first frame an adapter sends on a new connection.
type Handshake struct {
	Type           MessageType    `json:"type"`
	SessionID      string         `json:"sessionId" validate:"required"`
	AdapterVersion string         `json:"adapterVersion" validate:"required"`
	Streams        []Stream       `json:"streams" validate:"required,min=1,dive,stream"`
	DeviceInfo     map[string]any `json:"deviceInfo,omitempty"`
}

// Request asks the peer to run a named action.
type Request struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId" validate:"required"`
	Action    string          `json:"action" validate:"required"`
	Params    json.RawMessage `json:"params,omitempty" validate:"omitempty,jsonobject"`
}

// ErrorBody is the structured failure inside a Response or Error frame.
type ErrorBody struct {
	Code    string         `json:"code" validate:"required"`
	Message string         `json:"message" validate:"required"`
	Details map[string]any `json:"details,omitempty"`
}

// Response answers a Request with the same RequestID.
type Response struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId" validate:"required"`
	OK        bool            `json:"ok"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorBody      `json:"error,omitempty" validate:"omitempty"`
}

// PushEvent carries one telemetry envelope.
type PushEvent struct {
	Type  MessageType `json:"type"`
	Event Event       `json:"event"`
}

// ErrorMessage reports a protocol-level failure, optionally tied to a
// request.
type ErrorMessage struct {
	Type      MessageType    `json:"type"`
	RequestID string         `json:"requestId,omitempty"`
	Code      string         `json:"code" validate:"required"`
	Message   string         `json:"message" validate:"required"`
	Details   map[string]any `json:"details,omitempty"`
}

func (*Handshake) MessageType() MessageType    { return TypeHandshake }
func (*Request) MessageType() MessageType      { return TypeRequest }
func (*Response) MessageType() MessageType     { return TypeResponse }
func (*PushEvent) MessageType() MessageType    { return TypePushEvent }
func (*ErrorMessage) MessageType() MessageType { return TypeError }

func (m *Handshake) stamp()    { m.Type = TypeHandshake }
func (m *Request) stamp()      { m.Type = TypeRequest }
func (m *Response) stamp()     { m.Type = TypeResponse }
func (m *PushEvent) stamp()    { m.Type = TypePushEvent }
func (m *ErrorMessage) stamp() { m.Type = TypeError }

// NewErrorResponse builds a failed Response.
func NewErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Type:      TypeResponse,
		RequestID: requestID,
		OK:        false,
		Error:     &ErrorBody{Code: code, Message: message},
	}
}
