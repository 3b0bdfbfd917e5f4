// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/telemetry"
)

const tracerName = "devtools.bridge.tools"

// TruncationSuffix is appended to response text cut at MaxResponseChars.
const TruncationSuffix = "\n...[TRUNCATED due to MAX_RESPONSE_CHARS]"

// Defaults for CatalogConfig.
const (
	DefaultMaxResponseChars = 50000
	DefaultMaxParamsSize    = 1024 * 1024
)

var (
	// ErrUnknownTool is returned by Invoke for unregistered names.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool is returned by Register for a name already taken.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrUnknownResource is returned by ReadResource for unknown URIs.
	ErrUnknownResource = errors.New("unknown resource")
)

// CatalogConfig configures NewCatalog.
type CatalogConfig struct {
	// MaxResponseChars bounds Result.Text and resource text.
	MaxResponseChars int

	// MaxParamsSize rejects larger params with PAYLOAD_TOO_LARGE.
	MaxParamsSize int

	// Metrics records invocations. Optional.
	Metrics *telemetry.ToolMetrics

	Logger *logging.Logger
}

// Catalog holds the registered tools and resources.
type Catalog struct {
	client   AdapterClient
	maxChars int
	maxParam int
	metrics  *telemetry.ToolMetrics
	log      *logging.Logger

	mu        sync.RWMutex
	tools     map[string]Tool
	resources map[string]resource
}

// NewCatalog creates a catalog with the built-in tools and resources bound
// to client.
func NewCatalog(client AdapterClient, cfg CatalogConfig) *Catalog {
	if cfg.MaxResponseChars <= 0 {
		cfg.MaxResponseChars = DefaultMaxResponseChars
	}
	if cfg.MaxParamsSize <= 0 {
		cfg.MaxParamsSize = DefaultMaxParamsSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	c := &Catalog{
		client:    client,
		maxChars:  cfg.MaxResponseChars,
		maxParam:  cfg.MaxParamsSize,
		metrics:   cfg.Metrics,
		log:       cfg.Logger.With("component", "tools"),
		tools:     make(map[string]Tool),
		resources: make(map[string]resource),
	}
	for _, t := range []Tool{
		&healthCheckTool{client: client, log: c.log},
		&listStreamsTool{client: client},
		&getSnapshotTool{client: client},
		&queryEventsTool{client: client},
		&getStatePathTool{client: client},
		&diffSnapshotsTool{client: client},
	} {
		_ = c.Register(t)
	}
	c.registerResources()
	return c
}

// Register adds t.
func (c *Catalog) Register(t Tool) error {
	name := t.Definition().Name
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	c.tools[name] = t
	return nil
}

// Definitions lists the tools sorted by name.
func (c *Catalog) Definitions() []Definition {
	c.mu.RLock()
	defs := make([]Definition, 0, len(c.tools))
	for _, t := range c.tools {
		defs = append(defs, t.Definition())
	}
	c.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke runs the named tool.
//
// # Description
//
// Params larger than MaxParamsSize are rejected before the tool runs. The
// output is rendered to JSON text and bounded by MaxResponseChars. Every
// invocation is traced and counted by outcome.
//
// # Inputs
//
//   - ctx: Bounds adapter requests.
//   - name: Tool name.
//   - params: JSON object, or empty for no params.
//
// # Outputs
//
//   - *Result: The output on success.
//   - error: ErrUnknownTool, or a *ToolError.
func (c *Catalog) Invoke(ctx context.Context, name string, params json.RawMessage) (*Result, error) {
	c.mu.RLock()
	tool, ok := c.tools[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "tools."+name)
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name), attribute.Int("tool.params_bytes", len(params)))

	start := time.Now()
	output, err := c.execute(ctx, tool, params)
	elapsed := time.Since(start)

	if err != nil {
		te := Classify(err)
		telemetry.RecordError(span, te, attribute.String("tool.error_code", string(te.Code)))
		c.metrics.Record(ctx, name, strings.ToLower(string(te.Code)), elapsed)
		c.log.Debug("tool failed", "tool", name, "code", te.Code, "error", te.Message)
		return nil, te
	}

	text, truncated := c.render(output)
	span.SetAttributes(attribute.Bool("tool.truncated", truncated))
	telemetry.SetSpanOK(span)
	c.metrics.Record(ctx, name, "ok", elapsed)
	return &Result{Tool: name, Output: output, Text: text, Truncated: truncated, Duration: elapsed}, nil
}

func (c *Catalog) execute(ctx context.Context, tool Tool, params json.RawMessage) (output any, err error) {
	if len(params) > c.maxParam {
		return nil, NewToolError(CodePayloadTooLarge,
			fmt.Sprintf("params are %d bytes, limit is %d", len(params), c.maxParam), nil)
	}
	defer func() {
		if r := recover(); r != nil {
			err = NewToolError(CodeInternalError, fmt.Sprintf("tool panicked: %v", r), nil)
		}
	}()
	return tool.Execute(ctx, params)
}

func (c *Catalog) render(v any) (string, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return BoundText(string(raw), c.maxChars)
}

// BoundText cuts text to maxChars characters and appends
// TruncationSuffix when it was longer.
func BoundText(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(text) <= maxChars {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text, false
	}
	return string(runes[:maxChars]) + TruncationSuffix, true
}

// =============================================================================
// Parameter Decoding
// =============================================================================

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeParams unmarshals params into dst and checks its validate tags.
func decodeParams(params json.RawMessage, dst any) error {
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, dst); err != nil {
			return invalidParams("invalid params: %v", err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Param() != "" {
				return invalidParams("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
			}
			return invalidParams("%s is %s", fe.Field(), fe.Tag())
		}
		return invalidParams("%v", err)
	}
	return nil
}

func clamp(v *int, def, lo, hi int) int {
	if v == nil {
		return def
	}
	switch {
	case *v < lo:
		return lo
	case *v > hi:
		return hi
	}
	return *v
}
