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
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

type getStatePathParams struct {
	Stream string  `json:"stream" validate:"omitempty,oneof=redux navigation"`
	Path   *string `json:"path" validate:"required"`
}

type getStatePathTool struct {
	client AdapterClient
}

func (t *getStatePathTool) Definition() Definition {
	return readOnly(Definition{
		Name:        "debug_get_state_path",
		Title:       "Get State Path Value",
		Description: "Resolve a dot-notation path from the latest stream snapshot.",
		Parameters: map[string]ParamDef{
			"stream": {
				Type: ParamTypeString, Description: "Stream to read.",
				Default: string(protocol.StreamRedux),
				Enum:    []string{string(protocol.StreamRedux), string(protocol.StreamNavigation)},
			},
			"path": {Type: ParamTypeString, Description: "Dot-separated path; array indices are numeric segments.", Required: true},
		},
	})
}

func (t *getStatePathTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p getStatePathParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Stream == "" {
		p.Stream = string(protocol.StreamRedux)
	}
	if err := requireConnected(t.client); err != nil {
		return nil, err
	}
	snap, err := fetchSnapshot(ctx, t.client, p.Stream, nil)
	if err != nil {
		return nil, err
	}

	value, err := jsonpath.Resolve(snap.Snapshot, *p.Path)
	if err != nil {
		if errors.Is(err, jsonpath.ErrUnsafeSegment) {
			return nil, invalidParams("%v", err)
		}
		return nil, NewToolError(CodePathNotFound, fmt.Sprintf("Path not found: %s", *p.Path), nil)
	}
	return map[string]any{"value": value}, nil
}
