// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/services/bridge/connection"
)

// ErrorCode classifies tool failures for callers.
type ErrorCode string

const (
	CodeNotConnected      ErrorCode = "NOT_CONNECTED"
	CodeStreamUnavailable ErrorCode = "STREAM_UNAVAILABLE"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodePayloadTooLarge   ErrorCode = "PAYLOAD_TOO_LARGE"
	CodePathNotFound      ErrorCode = "PATH_NOT_FOUND"
	CodeScopeNotFound     ErrorCode = "SCOPE_NOT_FOUND"
	CodeSnapshotNotFound  ErrorCode = "SNAPSHOT_NOT_FOUND"
	CodeInvalidParams     ErrorCode = "INVALID_PARAMS"
	CodeAdapterError      ErrorCode = "ADAPTER_ERROR"
	CodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

// ErrorCodes lists every code in a stable order.
var ErrorCodes = []ErrorCode{
	CodeNotConnected, CodeStreamUnavailable, CodeTimeout, CodePayloadTooLarge,
	CodePathNotFound, CodeScopeNotFound, CodeSnapshotNotFound, CodeInvalidParams,
	CodeAdapterError, CodeInternalError,
}

const (
	msgNotConnected      = "No app adapter is connected."
	notConnectedGuidance = "Start your React Native app with the debug adapter enabled, then retry."
)

// ToolError is a classified tool failure.
type ToolError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewToolError builds a ToolError. The plain not-connected message gains
// guidance on how to fix it.
func NewToolError(code ErrorCode, message string, details map[string]any) *ToolError {
	if code == CodeNotConnected && strings.Contains(message, msgNotConnected) &&
		!strings.Contains(message, notConnectedGuidance) {
		message = message + " " + notConnectedGuidance
	}
	return &ToolError{Code: code, Message: message, Details: details}
}

func errNotConnected() *ToolError {
	return NewToolError(CodeNotConnected, msgNotConnected, nil)
}

func invalidParams(format string, args ...any) *ToolError {
	return NewToolError(CodeInvalidParams, fmt.Sprintf(format, args...), nil)
}

// Classify maps any error from a tool or the connection manager to a
// ToolError. Nil stays nil.
func Classify(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}

	var remote *connection.RemoteError
	switch {
	case errors.As(err, &remote):
		return classifyRemote(remote)
	case errors.Is(err, connection.ErrNotConnected):
		return errNotConnected()
	case errors.Is(err, connection.ErrConnectionClosed), errors.Is(err, connection.ErrConnectionReplaced):
		return NewToolError(CodeNotConnected, "Adapter connection was lost before the request completed.", nil)
	case errors.Is(err, connection.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return NewToolError(CodeTimeout, err.Error(), nil)
	case errors.Is(err, connection.ErrInvalidParams):
		return NewToolError(CodeInvalidParams, err.Error(), nil)
	case errors.Is(err, connection.ErrSendFailed):
		return NewToolError(CodeAdapterError, err.Error(), nil)
	default:
		return NewToolError(CodeInternalError, err.Error(), nil)
	}
}

func classifyRemote(remote *connection.RemoteError) *ToolError {
	details := map[string]any{"adapterCode": remote.Code}
	for k, v := range remote.Details {
		details[k] = v
	}
	code := CodeAdapterError
	switch remote.Code {
	case protocol.CodeSnapshotNotFound:
		code = CodeSnapshotNotFound
	case protocol.CodeStreamUnavailable:
		code = CodeStreamUnavailable
	case protocol.CodeInvalidParams:
		code = CodeInvalidParams
	}
	return NewToolError(code, remote.Error(), details)
}

// HTTPStatus is the status an HTTP surface should answer with for code.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeInvalidParams:
		return http.StatusBadRequest
	case CodePathNotFound, CodeScopeNotFound, CodeSnapshotNotFound:
		return http.StatusNotFound
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeNotConnected, CodeStreamUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeAdapterError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
