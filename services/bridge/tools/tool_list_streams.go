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
)

type listStreamsTool struct {
	client AdapterClient
}

func (t *listStreamsTool) Definition() Definition {
	return readOnly(Definition{
		Name:        "debug_list_streams",
		Title:       "List Debug Streams",
		Description: "List available debug streams and stream metadata.",
		Parameters:  map[string]ParamDef{},
	})
}

func (t *listStreamsTool) Execute(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := requireConnected(t.client); err != nil {
		return nil, err
	}
	streams, err := fetchStreams(ctx, t.client)
	if err != nil {
		return nil, err
	}
	return map[string]any{"streams": streams}, nil
}
