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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/agent-devtools/pkg/jsonpath"
)

type getSnapshotParams struct {
	Stream string `json:"stream" validate:"required,oneof=redux navigation mmkv"`
	Scope  string `json:"scope"`
}

// SnapshotOutput is the debug_get_snapshot output.
type SnapshotOutput struct {
	Snapshot  any    `json:"snapshot"`
	Scope     string `json:"scope,omitempty"`
	Seq       uint64 `json:"seq"`
	Timestamp string `json:"timestamp,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Truncated bool   `json:"truncated"`
}

type getSnapshotTool struct {
	client AdapterClient
}

func (t *getSnapshotTool) Definition() Definition {
	return readOnly(Definition{
		Name:        "debug_get_snapshot",
		Title:       "Get Debug Snapshot",
		Description: "Retrieve the latest snapshot for a stream, optionally scoped by JSON path.",
		Parameters: map[string]ParamDef{
			"stream": {Type: ParamTypeString, Description: "Stream to snapshot.", Required: true, Enum: streamNames},
			"scope":  {Type: ParamTypeString, Description: "Dot-separated path inside the snapshot, e.g. \"user.profile\"."},
		},
	})
}

func (t *getSnapshotTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p getSnapshotParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireConnected(t.client); err != nil {
		return nil, err
	}
	snap, err := fetchSnapshot(ctx, t.client, p.Stream, nil)
	if err != nil {
		return nil, err
	}

	out := SnapshotOutput{
		Snapshot:  snap.Snapshot,
		Seq:       snap.Seq,
		Timestamp: snap.Timestamp,
		Digest:    snap.Digest,
		Truncated: snap.Truncated,
	}
	if p.Scope == "" {
		return out, nil
	}

	scoped, err := jsonpath.Resolve(snap.Snapshot, p.Scope)
	if err != nil {
		if errors.Is(err, jsonpath.ErrUnsafeSegment) {
			return nil, invalidParams("%v", err)
		}
		return nil, NewToolError(CodeScopeNotFound, fmt.Sprintf("Scope not found: %s", p.Scope), nil)
	}
	out.Snapshot = scoped
	out.Scope = p.Scope
	// The digest covers the whole snapshot, not the scoped value.
	out.Digest = ""
	return out, nil
}
