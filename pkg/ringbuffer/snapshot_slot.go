// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ringbuffer

import "sync"

// SnapshotSlot holds the most recent full-state capture for one stream.
//
// It is independent of the stream's RingBuffer: clearing one never affects
// the other. Last write wins.
//
// # Thread Safety
//
// Safe for concurrent use.
type SnapshotSlot[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
}

// NewSnapshotSlot returns an empty slot.
func NewSnapshotSlot[T any]() *SnapshotSlot[T] {
	return &SnapshotSlot[T]{}
}

// Get returns the held value, if any.
func (s *SnapshotSlot[T]) Get() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.set
}

// Set replaces the held value.
func (s *SnapshotSlot[T]) Set(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	s.set = true
}

// Clear empties the slot.
func (s *SnapshotSlot[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	s.value = zero
	s.set = false
}
