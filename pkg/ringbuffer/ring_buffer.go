// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ringbuffer holds bounded, sequence-numbered history and
// latest-value slots. The adapter keeps one per stream; the bridge feeds
// its recent-events view from one.
package ringbuffer

import "sync"

// DefaultCapacity is the number of events retained per stream when no
// capacity is configured.
const DefaultCapacity = 200

// entry pairs a value with its sequence number. A slot in the ring is
// always replaced as a whole entry under the write lock.
type entry[T any] struct {
	seq   uint64
	value T
}

// RingBuffer is a fixed-capacity, sequence-numbered circular buffer.
//
// # Description
//
// Every push is assigned the next sequence number, starting at 1. Sequence
// numbers are never reused, not even across Clear. When full, the oldest
// entry is overwritten, so the retained window is always the Cap() most
// recent pushes.
//
// # Thread Safety
//
// Safe for one producer and any number of concurrent readers.
type RingBuffer[T any] struct {
	mu      sync.RWMutex
	data    []entry[T]
	head    int // Next write position
	count   int // Current number of elements
	nextSeq uint64
}

// QueryOptions selects a page of entries.
type QueryOptions[T any] struct {
	// SinceSeq excludes entries with seq <= SinceSeq.
	SinceSeq uint64

	// Limit caps the page size. Zero or negative means unlimited.
	Limit int

	// Filter, when set, keeps only entries for which it returns true.
	Filter func(T) bool
}

// QueryResult is a page of entries in ascending seq order.
type QueryResult[T any] struct {
	Items   []T
	HasMore bool
}

// Stats describes the retained window. OldestSeq and LatestSeq are 0 when
// the buffer is empty.
type Stats struct {
	Count     int    `json:"count"`
	OldestSeq uint64 `json:"oldestSeq"`
	LatestSeq uint64 `json:"latestSeq"`
	Capacity  int    `json:"capacity"`
}

// NewRingBuffer creates a ring buffer holding at most capacity entries.
// Non-positive capacities use DefaultCapacity.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer[T]{
		data:    make([]entry[T], capacity),
		nextSeq: 1,
	}
}

// Push stores item and returns its sequence number.
func (r *RingBuffer[T]) Push(item T) uint64 {
	seq, _ := r.Append(func(uint64) T { return item })
	return seq
}

// Append builds an item from its sequence number and stores it.
//
// # Description
//
// Lets callers stamp the seq into the stored value without a window in
// which readers could observe the value with a stale seq.
//
// # Inputs
//
//   - build: Called once, under the write lock, with the assigned seq.
//     Must not call back into the buffer.
//
// # Outputs
//
//   - uint64: Assigned seq.
//   - T: The stored value.
func (r *RingBuffer[T]) Append(build func(seq uint64) T) (uint64, T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.nextSeq
	r.nextSeq++
	item := build(seq)

	r.data[r.head] = entry[T]{seq: seq, value: item}
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
	return seq, item
}

// Query returns entries newer than opts.SinceSeq, oldest first.
//
// HasMore is true iff at least one further entry would qualify beyond the
// returned page.
func (r *RingBuffer[T]) Query(opts QueryOptions[T]) QueryResult[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := QueryResult[T]{Items: []T{}}
	for i := 0; i < r.count; i++ {
		e := r.at(i)
		if e.seq <= opts.SinceSeq {
			continue
		}
		if opts.Filter != nil && !opts.Filter(e.value) {
			continue
		}
		if opts.Limit > 0 && len(result.Items) >= opts.Limit {
			result.HasMore = true
			break
		}
		result.Items = append(result.Items, e.value)
	}
	return result
}

// Latest scans newest to oldest and returns the first entry accepted by
// filter, or the newest entry when filter is nil.
func (r *RingBuffer[T]) Latest(filter func(T) bool) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := r.count - 1; i >= 0; i-- {
		e := r.at(i)
		if filter == nil || filter(e.value) {
			return e.value, true
		}
	}
	var zero T
	return zero, false
}

// Get returns the entry with the given seq if it is still retained.
func (r *RingBuffer[T]) Get(seq uint64) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	oldest := r.at(0).seq
	if seq < oldest || seq >= oldest+uint64(r.count) {
		return zero, false
	}
	// Retained seqs are contiguous.
	return r.at(int(seq - oldest)).value, true
}

// Stats reports the retained window.
func (r *RingBuffer[T]) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Count: r.count, Capacity: len(r.data)}
	if r.count > 0 {
		stats.OldestSeq = r.at(0).seq
		stats.LatestSeq = r.at(r.count - 1).seq
	}
	return stats
}

// Clear drops every retained entry. The seq counter keeps advancing.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.data {
		r.data[i] = entry[T]{}
	}
	r.head = 0
	r.count = 0
}

// Len returns the number of retained entries.
func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the maximum capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.data)
}

// at returns the i-th retained entry, 0 being the oldest. Caller holds mu.
func (r *RingBuffer[T]) at(i int) entry[T] {
	tail := (r.head - r.count + len(r.data)) % len(r.data)
	return r.data[(tail+i)%len(r.data)]
}
