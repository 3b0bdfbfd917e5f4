// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package digest

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf_KeyOrderAndNumberFormat(t *testing.T) {
	var a, b any
	require.NoError(t, json.Unmarshal([]byte(`{"b":[1,2],"a":{"y":1.0,"x":"s"}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"a":{"x":"s","y":1},"b":[1,2]}`), &b))

	da, err := Of(a)
	require.NoError(t, err)
	db, err := Of(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.Len(t, da, 64)
	assert.True(t, Equal(a, b))
}

func TestOf_DistinguishesValues(t *testing.T) {
	assert.False(t, Equal(map[string]any{"count": 1}, map[string]any{"count": 2}))
	assert.False(t, Equal([]any{1, 2}, []any{2, 1}))
	assert.False(t, Equal(nil, map[string]any{}))
}

func TestOf_Unrepresentable(t *testing.T) {
	_, err := Of(math.NaN())
	assert.ErrorIs(t, err, ErrNotCanonicalizable)

	_, err = Of(map[string]any{"f": func() {}})
	assert.ErrorIs(t, err, ErrNotCanonicalizable)

	assert.False(t, Equal(math.NaN(), math.NaN()))
}
