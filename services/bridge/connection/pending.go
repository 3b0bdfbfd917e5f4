// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connection

import (
	"encoding/json"
	"time"
)

// outcome is the single result delivered to a pending request.
type outcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest is the bookkeeping for one outstanding request.
//
// It is owned by the session's pending table. Whoever removes it from the
// table (response, timeout, cancellation, connection loss) is the only one
// allowed to call complete, which makes settlement exactly-once.
type pendingRequest struct {
	id        string
	action    string
	createdAt time.Time
	timer     *time.Timer
	done      chan outcome
}

func newPendingRequest(id, action string, now time.Time) *pendingRequest {
	return &pendingRequest{
		id:        id,
		action:    action,
		createdAt: now,
		done:      make(chan outcome, 1),
	}
}

// complete delivers o. Must be called at most once, after removal from the
// pending table.
func (p *pendingRequest) complete(o outcome) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.done <- o
}
