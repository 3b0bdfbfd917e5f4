// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package digest fingerprints JSON-shaped values.
//
// Values are serialised, canonicalised with RFC 8785 (JSON Canonicalization
// Scheme) and hashed with BLAKE3-256, so two values that are equal as JSON
// trees share a digest regardless of key order or number formatting.
package digest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/zeebo/blake3"
)

// ErrNotCanonicalizable is returned for values with no canonical JSON form.
var ErrNotCanonicalizable = errors.New("value has no canonical JSON form")

// Of returns the hex BLAKE3-256 digest of v's canonical JSON.
func Of(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotCanonicalizable, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotCanonicalizable, err)
	}
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Equal reports whether a and b have the same digest. Values without a
// canonical form are never equal.
func Equal(a, b any) bool {
	da, err := Of(a)
	if err != nil {
		return false
	}
	db, err := Of(b)
	if err != nil {
		return false
	}
	return da == db
}
