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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotSlot(t *testing.T) {
	slot := NewSnapshotSlot[string]()

	_, ok := slot.Get()
	assert.False(t, ok)

	slot.Set("first")
	slot.Set("second")
	got, ok := slot.Get()
	assert.True(t, ok)
	assert.Equal(t, "second", got)

	slot.Clear()
	got, ok = slot.Get()
	assert.False(t, ok)
	assert.Equal(t, "", got)
}

func TestSnapshotSlot_IndependentOfRing(t *testing.T) {
	ring := NewRingBuffer[string](2)
	slot := NewSnapshotSlot[string]()

	ring.Push("state")
	slot.Set("state")

	ring.Clear()
	got, ok := slot.Get()
	assert.True(t, ok)
	assert.Equal(t, "state", got)

	slot.Clear()
	ring.Push("next")
	assert.Equal(t, 1, ring.Len())
}
