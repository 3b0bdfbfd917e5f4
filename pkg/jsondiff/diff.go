// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsondiff computes a bounded structural diff between two
// JSON-shaped trees.
//
// Maps are compared key by key down to a maximum depth; everything else
// (arrays, scalars, type mismatches) is compared as a whole by deep equality.
// The full change list is always computed so callers learn the true total
// even when the returned list is capped.
package jsondiff

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
)

// Default bounds used when Options fields are zero.
const (
	DefaultMaxDepth   = 10
	DefaultMaxChanges = 500
)

// ChangeType classifies a single change.
type ChangeType string

const (
	Added   ChangeType = "added"
	Removed ChangeType = "removed"
	Changed ChangeType = "changed"
)

// Change is one difference between base and target.
//
// Added changes carry NewValue, Removed changes carry OldValue and Changed
// changes carry both, except when the comparison stopped at the depth
// limit, in which case neither value is included.
type Change struct {
	Path     string
	Type     ChangeType
	OldValue any
	NewValue any

	// collapsed marks a Changed entry produced at the depth limit.
	collapsed bool
}

// Collapsed reports whether the change summarises a subtree below the
// depth limit.
func (c Change) Collapsed() bool {
	return c.collapsed
}

// MarshalJSON emits only the values that belong to the change type.
func (c Change) MarshalJSON() ([]byte, error) {
	out := map[string]any{"path": c.Path, "type": c.Type}
	switch c.Type {
	case Added:
		out["newValue"] = c.NewValue
	case Removed:
		out["oldValue"] = c.OldValue
	case Changed:
		if !c.collapsed {
			out["oldValue"] = c.OldValue
			out["newValue"] = c.NewValue
		}
	}
	return json.Marshal(out)
}

// Options bounds a diff. Non-positive fields fall back to the defaults.
type Options struct {
	MaxDepth   int
	MaxChanges int
}

// Result is the output of Compute.
type Result struct {
	Changes      []Change `json:"changes"`
	Truncated    bool     `json:"truncated"`
	TotalChanges int      `json:"totalChanges"`
}

// Compute diffs base against target.
//
// # Description
//
// Paths are dot-joined map keys; the root path is "". Keys are visited in
// sorted order so the change list is deterministic. Two maps at depth
// MaxDepth that differ produce a single collapsed Changed entry rather than
// being descended into.
//
// # Inputs
//
//   - base, target: JSON-shaped trees (map[string]any, []any, scalars).
//   - opts: Depth and count bounds.
//
// # Outputs
//
//   - Result: The first MaxChanges changes, whether the list was capped and
//     the uncapped total.
func Compute(base, target any, opts Options) Result {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	maxChanges := opts.MaxChanges
	if maxChanges <= 0 {
		maxChanges = DefaultMaxChanges
	}

	var all []Change
	collect(base, target, "", 0, maxDepth, &all)

	result := Result{
		Changes:      all,
		TotalChanges: len(all),
		Truncated:    len(all) > maxChanges,
	}
	if result.Truncated {
		result.Changes = all[:maxChanges]
	}
	if result.Changes == nil {
		result.Changes = []Change{}
	}
	return result
}

func collect(base, target any, path string, depth, maxDepth int, out *[]Change) {
	baseMap, baseIsMap := base.(map[string]any)
	targetMap, targetIsMap := target.(map[string]any)

	if !baseIsMap || !targetIsMap {
		if !Equal(base, target) {
			*out = append(*out, Change{Path: path, Type: Changed, OldValue: base, NewValue: target})
		}
		return
	}

	if depth >= maxDepth {
		if !Equal(base, target) {
			*out = append(*out, Change{Path: path, Type: Changed, collapsed: true})
		}
		return
	}

	for _, key := range unionKeys(baseMap, targetMap) {
		next := key
		if path != "" {
			next = path + "." + key
		}
		oldValue, inBase := baseMap[key]
		newValue, inTarget := targetMap[key]
		switch {
		case !inBase:
			*out = append(*out, Change{Path: next, Type: Added, NewValue: newValue})
		case !inTarget:
			*out = append(*out, Change{Path: next, Type: Removed, OldValue: oldValue})
		default:
			collect(oldValue, newValue, next, depth+1, maxDepth, out)
		}
	}
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Equal reports deep structural equality without cross-type coercion.
// NaN equals NaN, matching same-value semantics.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return false
		}
		return av == bv || (math.IsNaN(av) && math.IsNaN(bv))
	}
	return reflect.DeepEqual(a, b)
}
