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
	"github.com/go-openapi/strfmt"
)

// Event is the stamped envelope around one telemetry payload.
//
// Seq is assigned by the adapter's ring buffer and is strictly increasing
// for the lifetime of the stream's buffer. Meta.Truncated and
// Meta.OriginalSize are set only when the payload was cut to fit the
// adapter's byte budget.
type Event struct {
	Stream    Stream          `json:"stream" validate:"required,stream"`
	EventType EventType       `json:"eventType" validate:"required"`
	Timestamp strfmt.DateTime `json:"timestamp"`
	Seq       uint64          `json:"seq"`
	SessionID string          `json:"sessionId" validate:"required"`
	Payload   map[string]any  `json:"payload" validate:"required"`
	Meta      Meta            `json:"meta"`
}

// Meta describes where an event came from and whether it was altered.
type Meta struct {
	Source         string `json:"source" validate:"required"`
	AdapterVersion string `json:"adapterVersion" validate:"required"`
	Truncated      bool   `json:"truncated"`
	OriginalSize   *int   `json:"originalSize,omitempty" validate:"omitempty,min=0"`
}

// IsSnapshot reports whether e is a full-state capture.
func (e Event) IsSnapshot() bool {
	return e.EventType.IsSnapshot()
}
