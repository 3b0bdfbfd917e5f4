// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jsonpath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tree := map[string]any{
		"user": map[string]any{
			"profile": map[string]any{"name": "Ada"},
			"tags":    []any{"admin", "beta"},
			"manager": nil,
		},
		"routes": []any{map[string]any{"name": "Home"}},
	}

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr error
	}{
		{"empty path is root", "", tree, nil},
		{"nested key", "user.profile.name", "Ada", nil},
		{"array index", "user.tags.1", "beta", nil},
		{"index then key", "routes.0.name", "Home", nil},
		{"explicit null", "user.manager", nil, nil},
		{"missing key", "user.email", nil, ErrNotFound},
		{"through null", "user.manager.name", nil, ErrNotFound},
		{"index out of range", "user.tags.5", nil, ErrNotFound},
		{"non numeric index", "user.tags.first", nil, ErrNotFound},
		{"through scalar", "user.profile.name.first", nil, ErrNotFound},
		{"proto", "__proto__", nil, ErrUnsafeSegment},
		{"constructor deep", "user.constructor.name", nil, ErrUnsafeSegment},
		{"prototype", "user.prototype", nil, ErrUnsafeSegment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tree, tt.path)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
