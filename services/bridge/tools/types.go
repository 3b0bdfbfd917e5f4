// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools is the bridge's query catalog: read-only tools and
// resources that answer questions about the connected app by requesting
// data from its adapter.
//
// # Description
//
// Every tool follows the same path:
//
//	params ──decode/validate──▶ Tool.Execute ──Request──▶ adapter
//	                                 │
//	                   output ◀──────┘──▶ JSON text bounded by MaxResponseChars
//
// Failures are returned as *ToolError with one of the ErrorCodes.
//
// # Thread Safety
//
// Catalog and every built-in tool are safe for concurrent use.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AleutianAI/agent-devtools/services/bridge/connection"
)

// AdapterClient is the slice of the connection manager tools depend on.
type AdapterClient interface {
	IsConnected() bool
	Adapter() (connection.AdapterInfo, bool)
	Request(ctx context.Context, action string, params any) (json.RawMessage, error)
}

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	ParamTypeString ParamType = "string"
	ParamTypeInt    ParamType = "integer"
)

// ParamDef describes one tool parameter.
type ParamDef struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Minimum     *int      `json:"minimum,omitempty"`
	Maximum     *int      `json:"maximum,omitempty"`
}

// Definition describes a tool to callers.
type Definition struct {
	Name        string              `json:"name"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Parameters  map[string]ParamDef `json:"parameters"`

	// ReadOnly and Idempotent are true for every built-in tool.
	ReadOnly   bool `json:"readOnly"`
	Idempotent bool `json:"idempotent"`
}

// Tool is one executable query.
type Tool interface {
	Definition() Definition

	// Execute runs the tool. Errors should be *ToolError; anything else is
	// classified by the catalog.
	Execute(ctx context.Context, params json.RawMessage) (any, error)
}

// Result is a successful invocation.
type Result struct {
	Tool string `json:"tool"`

	// Output is the structured result.
	Output any `json:"output"`

	// Text is Output as JSON, bounded by MaxResponseChars.
	Text string `json:"text"`

	// Truncated reports that Text was cut.
	Truncated bool `json:"truncated"`

	Duration time.Duration `json:"durationNs"`
}

func intPtr(v int) *int { return &v }

// readOnly fills the flags shared by every built-in tool.
func readOnly(d Definition) Definition {
	d.ReadOnly = true
	d.Idempotent = true
	return d
}
