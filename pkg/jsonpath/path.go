// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsonpath resolves dot-separated paths such as "user.profile.name"
// or "routes.0.params" against JSON-shaped trees.
package jsonpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotFound indicates the path does not exist in the tree.
	ErrNotFound = errors.New("path not found")

	// ErrUnsafeSegment indicates the path names a reserved segment.
	ErrUnsafeSegment = errors.New("unsafe path segment")
)

// unsafeSegments are refused outright. Snapshots originate in a JavaScript
// runtime where these names address the prototype chain.
var unsafeSegments = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// Resolve walks path through root.
//
// # Description
//
// The empty path returns root itself. Map segments index map[string]any and
// numeric segments index []any. A null value part way along the path, a
// missing key or an out-of-range index all yield ErrNotFound.
//
// # Inputs
//
//   - root: Decoded JSON tree.
//   - path: Dot-separated segments.
//
// # Outputs
//
//   - any: The value at path.
//   - error: ErrNotFound or ErrUnsafeSegment, wrapped with the path.
func Resolve(root any, path string) (any, error) {
	if path == "" {
		return root, nil
	}

	current := root
	for _, segment := range strings.Split(path, ".") {
		if _, bad := unsafeSegments[segment]; bad {
			return nil, fmt.Errorf("%w: %q in %q", ErrUnsafeSegment, segment, path)
		}
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
		}
	}
	return current, nil
}
