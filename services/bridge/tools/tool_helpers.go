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
	"time"

	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

var streamNames = []string{
	string(protocol.StreamRedux), string(protocol.StreamNavigation), string(protocol.StreamMMKV),
}

// StreamMetadata is one entry of the adapter's list_streams answer.
type StreamMetadata struct {
	Name        string  `json:"name"`
	Active      bool    `json:"active"`
	EventCount  int     `json:"eventCount"`
	OldestSeq   uint64  `json:"oldestSeq"`
	LatestSeq   uint64  `json:"latestSeq"`
	Capacity    int     `json:"capacity,omitempty"`
	HasSnapshot bool    `json:"hasSnapshot"`
	LastEventAt *string `json:"lastEventAt"`
}

type streamsResponse struct {
	Streams []StreamMetadata `json:"streams"`
}

// snapshotResponse is the adapter's get_snapshot answer.
type snapshotResponse struct {
	Stream    string `json:"stream"`
	EventType string `json:"eventType"`
	Seq       uint64 `json:"seq"`
	Timestamp string `json:"timestamp"`
	Snapshot  any    `json:"snapshot"`
	Digest    string `json:"digest"`
	Truncated bool   `json:"truncated"`
}

// requireConnected fails fast before any adapter round trip.
func requireConnected(client AdapterClient) error {
	if !client.IsConnected() {
		return errNotConnected()
	}
	return nil
}

// decodeResult unmarshals an adapter result, classifying malformed
// answers as adapter errors.
func decodeResult(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewToolError(CodeAdapterError, "adapter returned an unexpected result: "+err.Error(), nil)
	}
	return nil
}

// fetchSnapshot asks for the latest snapshot of stream, or with seq set,
// the newest one at or before seq.
func fetchSnapshot(ctx context.Context, client AdapterClient, stream string, seq *uint64) (*snapshotResponse, error) {
	params := map[string]any{"stream": stream}
	if seq != nil {
		params["seq"] = *seq
	}
	raw, err := client.Request(ctx, protocol.ActionGetSnapshot, params)
	if err != nil {
		return nil, err
	}
	var snap snapshotResponse
	if err := decodeResult(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func fetchStreams(ctx context.Context, client AdapterClient) ([]StreamMetadata, error) {
	raw, err := client.Request(ctx, protocol.ActionListStreams, nil)
	if err != nil {
		return nil, err
	}
	var resp streamsResponse
	if err := decodeResult(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Streams == nil {
		resp.Streams = []StreamMetadata{}
	}
	return resp.Streams, nil
}

func uptimeSeconds(since, now time.Time) int64 {
	if since.IsZero() || now.Before(since) {
		return 0
	}
	return int64(now.Sub(since) / time.Second)
}
