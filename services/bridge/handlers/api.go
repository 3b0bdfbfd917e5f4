// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/services/bridge/connection"
	"github.com/AleutianAI/agent-devtools/services/bridge/feed"
	"github.com/AleutianAI/agent-devtools/services/bridge/tools"
)

// =============================================================================
// Health
// =============================================================================

// HealthResponse is the /health body.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Uptime     int64             `json:"uptimeSeconds"`
	Connection connection.Status `json:"connection"`
}

// HandleHealth reports process and adapter connection health. It answers
// 200 whether or not an adapter is connected.
func HandleHealth(mgr *connection.Manager, version string, startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:     "ok",
			Version:    version,
			Uptime:     int64(time.Since(startedAt) / time.Second),
			Connection: mgr.Status(),
		})
	}
}

// =============================================================================
// Tools
// =============================================================================

// ListTools returns the tool definitions.
func ListTools(catalog *tools.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tools": catalog.Definitions()})
	}
}

// InvokeTool runs the tool named by the :name path parameter with the
// request body as params.
//
// # Description
//
// Bodies larger than maxBody answer 413 PAYLOAD_TOO_LARGE. Tool failures
// answer with the status HTTPStatus assigns to their code and a body of
// {"error": {"code", "message", "details"}}.
func InvokeTool(catalog *tools.Catalog, maxBody int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeToolError(c, tools.NewToolError(tools.CodePayloadTooLarge,
					"request body exceeds "+strconv.FormatInt(maxBody, 10)+" bytes", nil))
				return
			}
			writeToolError(c, tools.NewToolError(tools.CodeInvalidParams, "could not read request body", nil))
			return
		}

		res, err := catalog.Invoke(c.Request.Context(), name, body)
		if err != nil {
			if errors.Is(err, tools.ErrUnknownTool) {
				c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "UNKNOWN_TOOL", "message": err.Error()}})
				return
			}
			writeToolError(c, tools.Classify(err))
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func writeToolError(c *gin.Context, te *tools.ToolError) {
	c.JSON(tools.HTTPStatus(te.Code), gin.H{"error": te})
}

// =============================================================================
// Resources
// =============================================================================

// ListResources returns the resource descriptors.
func ListResources(catalog *tools.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": catalog.Resources()})
	}
}

// ReadResource serves one resource. Adapter-side failures are reported
// inside the content text with a 200, as resources always render.
func ReadResource(catalog *tools.Catalog, uri string) gin.HandlerFunc {
	return func(c *gin.Context) {
		content, err := catalog.ReadResource(c.Request.Context(), uri)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "UNKNOWN_RESOURCE", "message": err.Error()}})
			return
		}
		c.JSON(http.StatusOK, content)
	}
}

// =============================================================================
// Recent Events
// =============================================================================

// Bounds for /v1/events/recent.
const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = feed.DefaultCapacity
)

type recentQuery struct {
	Stream   string `form:"stream"`
	SinceSeq uint64 `form:"since_seq"`
	Limit    int    `form:"limit"`
}

// HandleRecentEvents pages through events the bridge has received,
// newest window only, oldest first. Query: stream, since_seq, limit.
func HandleRecentEvents(f *feed.Feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q recentQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			writeToolError(c, tools.NewToolError(tools.CodeInvalidParams, err.Error(), nil))
			return
		}
		var stream protocol.Stream
		if q.Stream != "" {
			s, err := protocol.ParseStream(q.Stream)
			if err != nil {
				writeToolError(c, tools.NewToolError(tools.CodeInvalidParams, err.Error(), nil))
				return
			}
			stream = s
		}
		switch {
		case q.Limit <= 0:
			q.Limit = DefaultRecentLimit
		case q.Limit > MaxRecentLimit:
			q.Limit = MaxRecentLimit
		}

		page := f.Recent(feed.Query{Stream: stream, SinceFeedSeq: q.SinceSeq, Limit: q.Limit})
		stats := f.Stats()
		c.JSON(http.StatusOK, gin.H{
			"entries":   page.Entries,
			"hasMore":   page.HasMore,
			"oldestSeq": stats.OldestSeq,
			"latestSeq": stats.LatestSeq,
		})
	}
}
