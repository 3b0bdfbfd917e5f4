// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport connects the adapter to the bridge.
//
// The Client dials the bridge, announces the session with a handshake,
// pushes telemetry events and answers bridge requests through a Router.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

// Handler answers one action. The returned value is encoded as the
// response result.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// ActionError lets a handler choose the error code of its response.
// Any other error becomes handler_error.
type ActionError struct {
	Code    string
	Message string
}

func (e *ActionError) Error() string {
	return e.Message
}

// NewActionError builds an ActionError with a formatted message.
func NewActionError(code, format string, args ...any) *ActionError {
	return &ActionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Router maps action names to handlers.
//
// # Thread Safety
//
// Handle and Dispatch may be called concurrently.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      *logging.Logger
}

// NewRouter creates an empty router. A nil logger discards.
func NewRouter(log *logging.Logger) *Router {
	if log == nil {
		log = logging.Discard()
	}
	return &Router{handlers: make(map[string]Handler), log: log}
}

// Handle registers h for action, replacing any earlier handler.
func (r *Router) Handle(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Actions returns the registered action names, sorted.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler for req and builds the response.
//
// # Description
//
// Unknown actions yield action_not_found with "Unknown action: <name>".
// Handler errors and recovered panics yield handler_error, unless the
// handler returned an *ActionError. Dispatch never panics.
//
// # Outputs
//
//   - *protocol.Response: Always non-nil, correlated with req.RequestID.
func (r *Router) Dispatch(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	r.mu.RLock()
	h, ok := r.handlers[req.Action]
	r.mu.RUnlock()

	if !ok {
		return protocol.NewErrorResponse(req.RequestID, protocol.CodeActionNotFound,
			"Unknown action: "+req.Action)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("action handler panicked", "action", req.Action, "request_id", req.RequestID, "panic", rec)
			resp = protocol.NewErrorResponse(req.RequestID, protocol.CodeHandlerError,
				fmt.Sprintf("handler panicked: %v", rec))
		}
	}()

	result, err := h(ctx, req.Params)
	if err != nil {
		var actionErr *ActionError
		if errors.As(err, &actionErr) {
			return protocol.NewErrorResponse(req.RequestID, actionErr.Code, actionErr.Message)
		}
		r.log.Warn("action handler failed", "action", req.Action, "request_id", req.RequestID, "error", err)
		return protocol.NewErrorResponse(req.RequestID, protocol.CodeHandlerError, err.Error())
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return protocol.NewErrorResponse(req.RequestID, protocol.CodeHandlerError,
			fmt.Sprintf("encode result: %v", err))
	}
	return &protocol.Response{RequestID: req.RequestID, OK: true, Result: raw}
}

// DecodeParams unmarshals params into dst. Empty params leave dst
// untouched. Failures are reported as invalid_params.
func DecodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return NewActionError(protocol.CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}
