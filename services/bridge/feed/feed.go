// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feed keeps the bridge's own window of recently pushed events, so
// recent activity can be read without a round trip to the adapter.
package feed

import (
	"sync"
	"time"

	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/pkg/ringbuffer"
)

// DefaultCapacity is the number of pushed events retained.
const DefaultCapacity = 500

// Entry is one received event.
type Entry struct {
	// FeedSeq orders entries across every stream and session.
	FeedSeq    uint64         `json:"feedSeq"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Event      protocol.Event `json:"event"`
}

// Query selects recent entries.
type Query struct {
	Stream       protocol.Stream
	SinceFeedSeq uint64
	Limit        int
}

// Page is a Query result, oldest first.
type Page struct {
	Entries []Entry `json:"entries"`
	HasMore bool    `json:"hasMore"`
}

// Feed is a bounded history of pushed events.
//
// # Thread Safety
//
// Safe for concurrent use. Record may be called from several connection
// read loops while a replacement is in progress.
type Feed struct {
	mu   sync.Mutex
	ring *ringbuffer.RingBuffer[Entry]
	now  func() time.Time
}

// New creates a feed holding capacity entries.
func New(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{ring: ringbuffer.NewRingBuffer[Entry](capacity), now: time.Now}
}

// Record stores e. It matches connection.Config.OnEvent.
func (f *Feed) Record(e protocol.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at := f.now().UTC()
	f.ring.Append(func(seq uint64) Entry {
		return Entry{FeedSeq: seq, ReceivedAt: at, Event: e}
	})
}

// Recent returns entries matching q.
func (f *Feed) Recent(q Query) Page {
	opts := ringbuffer.QueryOptions[Entry]{SinceSeq: q.SinceFeedSeq, Limit: q.Limit}
	if q.Stream != "" {
		opts.Filter = func(e Entry) bool { return e.Event.Stream == q.Stream }
	}
	res := f.ring.Query(opts)
	return Page{Entries: res.Items, HasMore: res.HasMore}
}

// Stats describes the retained window.
func (f *Feed) Stats() ringbuffer.Stats {
	return f.ring.Stats()
}
