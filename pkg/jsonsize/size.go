// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsonsize estimates how many bytes a value occupies as JSON text
// without encoding it.
//
// The estimate follows the byte layout produced by the wire encoder
// (encoding/json with HTML escaping disabled): no insignificant whitespace,
// map keys in sorted order.
//
// Values that have no JSON representation (functions, channels, complex
// numbers, and the Omit marker) follow JSON.stringify rules: they cost
// nothing at the top level, are skipped as map values, and occupy a 4-byte
// null placeholder inside arrays so the array keeps its length.
package jsonsize

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"unicode/utf8"
)

// nullSize is the byte cost of "null" and of a revisited container.
const nullSize = 4

// Omitted marks a value that has been dropped entirely.
//
// It encodes as null when forced through encoding/json, which only happens
// inside arrays; map encoders in this module strip it first.
type Omitted struct{}

// MarshalJSON implements json.Marshaler.
func (Omitted) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Omit is the canonical dropped value.
var Omit = Omitted{}

// IsOmitted reports whether v is the Omit marker.
func IsOmitted(v any) bool {
	_, ok := v.(Omitted)
	return ok
}

// Of returns the estimated JSON byte size of v.
//
// # Description
//
// Walks v once. Each container (map, slice, pointer target) is visited at
// most once per call; a container reached again, through a cycle or a shared
// reference, is costed as null.
//
// # Inputs
//
//   - v: Any value. JSON-decoded trees (map[string]any, []any, float64,
//     string, bool, nil, json.Number) are sized without reflection.
//
// # Outputs
//
//   - int: Estimated size in bytes. 0 for unrepresentable top-level values.
//
// # Thread Safety
//
// Pure function. The caller must not mutate v concurrently.
func Of(v any) int {
	s := sizer{seen: make(map[identity]struct{})}
	n, ok := s.size(v)
	if !ok {
		return 0
	}
	return n
}

// identity keys a container in the seen set.
type identity struct {
	ptr  uintptr
	len  int
	kind reflect.Kind
}

type sizer struct {
	seen map[identity]struct{}
}

// visit records a container and reports whether it was already seen.
// Empty containers share zero pointers and are never tracked.
func (s *sizer) visit(rv reflect.Value, length int) bool {
	if length == 0 && rv.Kind() != reflect.Pointer {
		return false
	}
	id := identity{ptr: rv.Pointer(), len: length, kind: rv.Kind()}
	if id.ptr == 0 {
		return false
	}
	if _, ok := s.seen[id]; ok {
		return true
	}
	s.seen[id] = struct{}{}
	return false
}

// size returns the byte cost of v and whether v is representable.
func (s *sizer) size(v any) (int, bool) {
	switch t := v.(type) {
	case nil:
		return nullSize, true
	case Omitted:
		return 0, false
	case bool:
		if t {
			return 4, true
		}
		return 5, true
	case string:
		return QuotedLen(t), true
	case json.Number:
		if t == "" {
			return 1, true
		}
		return len(t), true
	case json.RawMessage:
		if len(t) == 0 {
			return nullSize, true
		}
		return len(t), true
	case float64:
		return floatLen(t, 64), true
	case float32:
		return floatLen(float64(t), 32), true
	case int:
		return len(strconv.FormatInt(int64(t), 10)), true
	case int64:
		return len(strconv.FormatInt(t, 10)), true
	case int32:
		return len(strconv.FormatInt(int64(t), 10)), true
	case uint64:
		return len(strconv.FormatUint(t, 10)), true
	case []any:
		if s.visit(reflect.ValueOf(t), len(t)) {
			return nullSize, true
		}
		return s.sequence(len(t), func(i int) any { return t[i] }), true
	case map[string]any:
		if s.visit(reflect.ValueOf(t), len(t)) {
			return nullSize, true
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return s.object(keys, func(k string) any { return t[k] }), true
	case json.Marshaler:
		return marshalLen(t)
	}
	return s.reflected(reflect.ValueOf(v))
}

func (s *sizer) reflected(rv reflect.Value) (int, bool) {
	switch rv.Kind() {
	case reflect.Bool:
		return s.size(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return len(strconv.FormatInt(rv.Int(), 10)), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return len(strconv.FormatUint(rv.Uint(), 10)), true
	case reflect.Float32:
		return floatLen(rv.Float(), 32), true
	case reflect.Float64:
		return floatLen(rv.Float(), 64), true
	case reflect.String:
		return QuotedLen(rv.String()), true
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nullSize, true
		}
		if rv.Kind() == reflect.Pointer && s.visit(rv, 0) {
			return nullSize, true
		}
		return s.size(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return nullSize, true
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// []byte encodes as a base64 string.
			n := rv.Len()
			return 2 + (n+2)/3*4, true
		}
		if s.visit(rv, rv.Len()) {
			return nullSize, true
		}
		return s.sequence(rv.Len(), func(i int) any { return rv.Index(i).Interface() }), true
	case reflect.Array:
		return s.sequence(rv.Len(), func(i int) any { return rv.Index(i).Interface() }), true
	case reflect.Map:
		if rv.IsNil() {
			return nullSize, true
		}
		if rv.Type().Key().Kind() != reflect.String {
			return marshalLen(rv.Interface())
		}
		if s.visit(rv, rv.Len()) {
			return nullSize, true
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return s.object(keys, func(k string) any {
			return rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()
		}), true
	case reflect.Struct:
		return marshalLen(rv.Interface())
	default:
		// Func, Chan, Complex, UnsafePointer.
		return 0, false
	}
}

func (s *sizer) sequence(n int, at func(int) any) int {
	total := 2
	for i := 0; i < n; i++ {
		if i > 0 {
			total++
		}
		if itemSize, ok := s.size(at(i)); ok {
			total += itemSize
		} else {
			total += nullSize
		}
	}
	return total
}

func (s *sizer) object(keys []string, at func(string) any) int {
	total := 2
	first := true
	for _, k := range keys {
		valueSize, ok := s.size(at(k))
		if !ok {
			continue
		}
		if !first {
			total++
		}
		total += QuotedLen(k) + 1 + valueSize
		first = false
	}
	return total
}

// marshalLen encodes v the way the wire encoder does, so structs and
// Marshalers holding <, > or & are not sized with HTML escapes.
func marshalLen(v any) (int, bool) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return 0, false
	}
	return len(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), true
}

// QuotedLen returns the byte length of s as a JSON string literal, quotes
// included, matching encoding/json with HTML escaping disabled.
func QuotedLen(s string) int {
	n := 2
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			switch {
			case b == '"' || b == '\\' || b == '\n' || b == '\r' || b == '\t' || b == '\b' || b == '\f':
				n += 2
			case b < 0x20:
				n += 6
			default:
				n++
			}
			i++
			continue
		}
		r, width := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && width == 1:
			n += 6 // \ufffd
		case r == '\u2028' || r == '\u2029':
			n += 6
		default:
			n += width
		}
		i += width
	}
	return n
}

// floatLen mirrors encoding/json's float formatting. Non-finite values are
// costed as null.
func floatLen(f float64, bits int) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nullSize
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 {
		if bits == 64 && (abs < 1e-6 || abs >= 1e21) ||
			bits == 32 && (float32(abs) < 1e-6 || float32(abs) >= 1e21) {
			format = 'e'
		}
	}
	b := strconv.AppendFloat(nil, f, format, -1, bits)
	if format == 'e' {
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b = b[:n-1]
		}
	}
	return len(b)
}
