// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package truncate shrinks JSON-shaped values to fit a byte budget while
// keeping their outer shape recognisable.
//
// Strings become the "[truncated]" sentinel, arrays lose their tail and gain
// a "[... N more items]" marker, and maps have their largest fields replaced
// by the sentinel before any field is dropped. When nothing else fits the
// value degrades to an empty string and finally to jsonsize.Omit.
package truncate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/AleutianAI/agent-devtools/pkg/jsonsize"
)

// Sentinel replaces truncated content.
const Sentinel = "[truncated]"

// minStringSize is the cost of "".
const minStringSize = 2

// Result is the outcome of Payload.
type Result struct {
	// Payload is the value to send. It is the input itself when Truncated
	// is false.
	Payload any

	// Truncated is true when Payload differs from the input.
	Truncated bool

	// OriginalSize is jsonsize.Of applied to the input.
	OriginalSize int
}

// Payload fits v within maxSize bytes of JSON.
//
// # Description
//
// Values already within budget are returned untouched. Oversized values are
// rewritten on copies; v itself is never mutated. Typed containers (structs,
// typed slices and maps) are first normalised into map[string]any / []any
// form through a JSON round trip so the same rules apply to them.
//
// # Inputs
//
//   - v: Value to fit.
//   - maxSize: Budget in bytes. Negative budgets are treated as 0.
//
// # Outputs
//
//   - Result: Fitted payload, truncation flag and original size.
//
// # Limitations
//
// Only the top level of a map is rewritten field by field. A nested map that
// is the largest field is replaced wholesale by the sentinel.
func Payload(v any, maxSize int) Result {
	if maxSize < 0 {
		maxSize = 0
	}
	originalSize := jsonsize.Of(v)
	if originalSize <= maxSize {
		return Result{Payload: v, Truncated: false, OriginalSize: originalSize}
	}

	var out any
	switch t := normalise(v).(type) {
	case []any:
		out = fitWithinLimit(truncateArray(t, maxSize), maxSize)
	case map[string]any:
		out = fitWithinLimit(truncateObject(t, maxSize), maxSize)
	default:
		// Strings and scalars both become a sentinel cut to the budget.
		out = fitWithinLimit(Sentinel[:clamp(maxSize-2, 0, len(Sentinel))], maxSize)
	}
	return Result{Payload: out, Truncated: true, OriginalSize: originalSize}
}

// fitWithinLimit degrades v to "" and then to Omit until it fits.
func fitWithinLimit(v any, maxSize int) any {
	if jsonsize.Of(v) <= maxSize {
		return v
	}
	if maxSize >= minStringSize {
		return ""
	}
	return jsonsize.Omit
}

func truncateArray(items []any, maxSize int) []any {
	if len(items) == 0 {
		return items
	}
	for keep := len(items) - 1; keep >= 0; keep-- {
		candidate := make([]any, keep, keep+1)
		copy(candidate, items[:keep])
		candidate = append(candidate, moreItems(len(items)-keep))
		if jsonsize.Of(candidate) <= maxSize {
			return candidate
		}
	}
	// keep == 0 above already tried the marker-only form.
	return []any{Sentinel}
}

func moreItems(n int) string {
	return fmt.Sprintf("[... %d more items]", n)
}

func truncateObject(fields map[string]any, maxSize int) map[string]any {
	result := make(map[string]any, len(fields))
	for k, v := range fields {
		result[k] = v
	}

	for jsonsize.Of(result) > maxSize {
		keys := sortedKeys(result)

		largestKey := ""
		largestSize := -1
		for _, k := range keys {
			if s, ok := result[k].(string); (ok && s == Sentinel) || jsonsize.IsOmitted(result[k]) {
				continue
			}
			if size := jsonsize.Of(result[k]); size > largestSize {
				largestSize = size
				largestKey = k
			}
		}
		if largestSize >= 0 {
			result[largestKey] = Sentinel
			continue
		}

		if len(keys) == 0 {
			break
		}
		delete(result, keys[0])
	}
	return result
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalise converts typed containers into their generic JSON form.
func normalise(v any) any {
	switch v.(type) {
	case nil, string, []any, map[string]any:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct, reflect.Pointer:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return v
		}
		return generic
	}
	return v
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
