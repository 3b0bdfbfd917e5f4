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

	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

// Limits for debug_query_events.
const (
	DefaultEventLimit = 50
	MaxEventLimit     = 200
)

type queryEventsParams struct {
	Stream    string  `json:"stream" validate:"required,oneof=redux navigation mmkv"`
	Limit     *int    `json:"limit"`
	SinceSeq  *uint64 `json:"since_seq"`
	EventType string  `json:"event_type"`
	Where     string  `json:"where" validate:"max=2048"`
}

// EventsOutput is the debug_query_events output. Seq bounds are null when
// the stream buffer is empty.
type EventsOutput struct {
	Events    []map[string]any `json:"events"`
	HasMore   bool             `json:"hasMore"`
	OldestSeq *uint64          `json:"oldestSeq"`
	LatestSeq *uint64          `json:"latestSeq"`
}

type queryEventsTool struct {
	client AdapterClient
}

func (t *queryEventsTool) Definition() Definition {
	return readOnly(Definition{
		Name:        "debug_query_events",
		Title:       "Query Debug Events",
		Description: "Query stream events with filtering, pagination, and bounded response text.",
		Parameters: map[string]ParamDef{
			"stream":     {Type: ParamTypeString, Description: "Stream to query.", Required: true, Enum: streamNames},
			"limit":      {Type: ParamTypeInt, Description: "Maximum events returned.", Default: DefaultEventLimit, Minimum: intPtr(1), Maximum: intPtr(MaxEventLimit)},
			"since_seq":  {Type: ParamTypeInt, Description: "Only events with a greater seq.", Minimum: intPtr(0)},
			"event_type": {Type: ParamTypeString, Description: "Only events of this type."},
			"where":      {Type: ParamTypeString, Description: "CEL boolean expression over event, e.g. event.payload.path == \"cart\"."},
		},
	})
}

func (t *queryEventsTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p queryEventsParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireConnected(t.client); err != nil {
		return nil, err
	}

	req := map[string]any{
		"stream": p.Stream,
		"limit":  clamp(p.Limit, DefaultEventLimit, 1, MaxEventLimit),
	}
	if p.SinceSeq != nil {
		req["sinceSeq"] = *p.SinceSeq
	}
	if p.EventType != "" {
		req["eventType"] = p.EventType
	}
	if p.Where != "" {
		req["where"] = p.Where
	}

	raw, err := t.client.Request(ctx, protocol.ActionQueryEvents, req)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Events    []map[string]any `json:"events"`
		HasMore   bool             `json:"hasMore"`
		OldestSeq uint64           `json:"oldestSeq"`
		LatestSeq uint64           `json:"latestSeq"`
	}
	if err := decodeResult(raw, &resp); err != nil {
		return nil, err
	}

	out := EventsOutput{Events: resp.Events, HasMore: resp.HasMore}
	if out.Events == nil {
		out.Events = []map[string]any{}
	}
	if resp.LatestSeq > 0 {
		oldest, latest := resp.OldestSeq, resp.LatestSeq
		out.OldestSeq, out.LatestSeq = &oldest, &latest
	}
	return out, nil
}
