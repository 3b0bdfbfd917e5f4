// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

// maxCachedPrograms bounds the compiled-expression cache. The cache is
// dropped wholesale when full.
const maxCachedPrograms = 64

// ErrInvalidWhere is returned for where expressions that do not compile to
// a boolean.
var ErrInvalidWhere = errors.New("invalid where expression")

// whereFilter compiles and caches CEL filter expressions over events.
//
// Expressions see one variable, event, shaped like the JSON envelope:
//
//	event.eventType == "state_diff" && event.payload.path == "cart"
//	event.seq > 40 && !event.meta.truncated
type whereFilter struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newWhereFilter() (*whereFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &whereFilter{env: env, programs: make(map[string]cel.Program)}, nil
}

// compile returns the program for expr, compiling it on first use.
func (w *whereFilter) compile(expr string) (cel.Program, error) {
	w.mu.RLock()
	prg, hit := w.programs[expr]
	w.mu.RUnlock()
	if hit {
		return prg, nil
	}

	ast, issues := w.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWhere, issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: result is %s, want bool", ErrInvalidWhere, out)
	}
	prg, err := w.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWhere, err)
	}

	w.mu.Lock()
	if len(w.programs) >= maxCachedPrograms {
		w.programs = make(map[string]cel.Program)
	}
	w.programs[expr] = prg
	w.mu.Unlock()
	return prg, nil
}

// predicate builds an event filter for expr. Evaluation errors and
// non-boolean results reject the event.
func (w *whereFilter) predicate(expr string) (func(protocol.Event) bool, error) {
	prg, err := w.compile(expr)
	if err != nil {
		return nil, err
	}
	return func(e protocol.Event) bool {
		out, _, err := prg.Eval(map[string]any{"event": eventActivation(e)})
		if err != nil {
			return false
		}
		match, ok := out.Value().(bool)
		return ok && match
	}, nil
}

// eventActivation converts e into plain JSON values CEL can traverse.
func eventActivation(e protocol.Event) map[string]any {
	var payload map[string]any
	if raw, err := json.Marshal(e.Payload); err == nil {
		_ = json.Unmarshal(raw, &payload)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	meta := map[string]any{
		"source":         e.Meta.Source,
		"adapterVersion": e.Meta.AdapterVersion,
		"truncated":      e.Meta.Truncated,
	}
	if e.Meta.OriginalSize != nil {
		meta["originalSize"] = int64(*e.Meta.OriginalSize)
	}
	return map[string]any{
		"stream":    string(e.Stream),
		"eventType": string(e.EventType),
		"timestamp": e.Timestamp.String(),
		"seq":       int64(e.Seq),
		"sessionId": e.SessionID,
		"payload":   payload,
		"meta":      meta,
	}
}
