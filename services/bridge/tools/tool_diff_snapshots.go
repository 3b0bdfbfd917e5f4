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

	"github.com/AleutianAI/agent-devtools/pkg/digest"
	"github.com/AleutianAI/agent-devtools/pkg/jsondiff"
	"github.com/AleutianAI/agent-devtools/services/bridge/connection"
)

// Bounds for debug_diff_snapshots.
const (
	DefaultDiffDepth   = jsondiff.DefaultMaxDepth
	MaxDiffDepth       = 50
	DefaultDiffChanges = jsondiff.DefaultMaxChanges
	MaxDiffChanges     = 2000
)

type diffSnapshotsParams struct {
	Stream     string  `json:"stream" validate:"required,oneof=redux navigation mmkv"`
	BaseSeq    *uint64 `json:"base_seq" validate:"required"`
	TargetSeq  *uint64 `json:"target_seq" validate:"required"`
	MaxDepth   *int    `json:"max_depth"`
	MaxChanges *int    `json:"max_changes"`
}

// DiffOutput is the debug_diff_snapshots output.
type DiffOutput struct {
	BaseSeq   uint64 `json:"baseSeq"`
	TargetSeq uint64 `json:"targetSeq"`

	// BaseSnapshotSeq and TargetSnapshotSeq are the seqs of the snapshots
	// actually compared: the newest at or before each requested seq.
	BaseSnapshotSeq   uint64 `json:"baseSnapshotSeq"`
	TargetSnapshotSeq uint64 `json:"targetSnapshotSeq"`

	Changes      []jsondiff.Change `json:"changes"`
	Truncated    bool              `json:"truncated"`
	TotalChanges int               `json:"totalChanges"`

	// Identical is set when the digests matched and no diff was computed.
	Identical bool `json:"identical"`
}

type diffSnapshotsTool struct {
	client AdapterClient
}

func (t *diffSnapshotsTool) Definition() Definition {
	return readOnly(Definition{
		Name:        "debug_diff_snapshots",
		Title:       "Diff Debug Snapshots",
		Description: "Compute structural differences between two stream snapshots.",
		Parameters: map[string]ParamDef{
			"stream":      {Type: ParamTypeString, Description: "Stream whose snapshots are compared.", Required: true, Enum: streamNames},
			"base_seq":    {Type: ParamTypeInt, Description: "Seq of the base snapshot (or any later event before the next snapshot).", Required: true, Minimum: intPtr(0)},
			"target_seq":  {Type: ParamTypeInt, Description: "Seq of the target snapshot.", Required: true, Minimum: intPtr(0)},
			"max_depth":   {Type: ParamTypeInt, Description: "Object nesting depth to descend.", Default: DefaultDiffDepth, Minimum: intPtr(1), Maximum: intPtr(MaxDiffDepth)},
			"max_changes": {Type: ParamTypeInt, Description: "Maximum changes returned.", Default: DefaultDiffChanges, Minimum: intPtr(1), Maximum: intPtr(MaxDiffChanges)},
		},
	})
}

func (t *diffSnapshotsTool) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p diffSnapshotsParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := requireConnected(t.client); err != nil {
		return nil, err
	}

	base, err := t.fetch(ctx, p.Stream, *p.BaseSeq)
	if err != nil {
		return nil, err
	}
	target, err := t.fetch(ctx, p.Stream, *p.TargetSeq)
	if err != nil {
		return nil, err
	}

	out := DiffOutput{
		BaseSeq:           *p.BaseSeq,
		TargetSeq:         *p.TargetSeq,
		BaseSnapshotSeq:   base.Seq,
		TargetSnapshotSeq: target.Seq,
		Changes:           []jsondiff.Change{},
	}
	if sameDigest(base, target) {
		out.Identical = true
		return out, nil
	}

	result := jsondiff.Compute(base.Snapshot, target.Snapshot, jsondiff.Options{
		MaxDepth:   clamp(p.MaxDepth, DefaultDiffDepth, 1, MaxDiffDepth),
		MaxChanges: clamp(p.MaxChanges, DefaultDiffChanges, 1, MaxDiffChanges),
	})
	out.Changes = result.Changes
	out.Truncated = result.Truncated
	out.TotalChanges = result.TotalChanges
	return out, nil
}

func (t *diffSnapshotsTool) fetch(ctx context.Context, stream string, seq uint64) (*snapshotResponse, error) {
	snap, err := fetchSnapshot(ctx, t.client, stream, &seq)
	if err != nil {
		var remote *connection.RemoteError
		if errors.As(err, &remote) && Classify(remote).Code == CodeSnapshotNotFound {
			return nil, NewToolError(CodeSnapshotNotFound, "One or both snapshots were not found.",
				map[string]any{"stream": stream, "seq": seq})
		}
		return nil, err
	}
	return snap, nil
}

// sameDigest compares the adapter's digests, computing one locally when
// the adapter did not supply it.
func sameDigest(a, b *snapshotResponse) bool {
	da, db := a.Digest, b.Digest
	if da == "" {
		da, _ = digest.Of(a.Snapshot)
	}
	if db == "" {
		db, _ = digest.Of(b.Snapshot)
	}
	return da != "" && da == db
}
