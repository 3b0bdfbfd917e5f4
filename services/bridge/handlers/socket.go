// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the bridge's HTTP handlers: the adapter websocket
// endpoint, health, the tool and resource API and the recent-events feed.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/services/bridge/connection"
)

// DefaultWriteTimeout bounds each websocket write.
const DefaultWriteTimeout = 5 * time.Second

// Rejecter is told about refused upgrades.
type Rejecter interface {
	ConnectionRejected(reason string)
}

// SocketConfig configures HandleAdapterSocket.
type SocketConfig struct {
	// AllowedOrigins lists accepted Origin headers. Requests without an
	// Origin header are always accepted.
	AllowedOrigins []string

	// MaxFrameSize is the read limit per frame in bytes. It must hold a
	// full query_events page, not just one event.
	MaxFrameSize int

	WriteTimeout time.Duration
	Rejecter     Rejecter
	Logger       *logging.Logger
}

// HandleAdapterSocket upgrades adapter connections and serves them on mgr
// until they close.
//
// # Description
//
// Upgrades from an Origin outside AllowedOrigins are answered with 403 and
// never reach the manager. Frames larger than MaxFrameSize close the
// socket with a 1009 status.
//
// # Inputs
//
//   - mgr: The connection manager that owns the adapter session.
//   - cfg: Origin policy and limits.
//
// # Outputs
//
//   - gin.HandlerFunc: Blocks for the lifetime of the connection.
func HandleAdapterSocket(mgr *connection.Manager, cfg SocketConfig) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	log := cfg.Logger.With("component", "adapter_socket")

	originOK := func(r *http.Request) bool {
		origin, present := r.Header["Origin"]
		if !present || len(origin) == 0 {
			return true
		}
		_, ok := allowed[origin[0]]
		return ok
	}
	upgrader := websocket.Upgrader{
		CheckOrigin:     originOK,
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
	}

	return func(c *gin.Context) {
		if !originOK(c.Request) {
			log.Warn("rejected websocket upgrade from disallowed origin", "origin", c.GetHeader("Origin"))
			if cfg.Rejecter != nil {
				cfg.Rejecter.ConnectionRejected("origin")
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written an HTTP error.
			log.Warn("websocket upgrade failed", "remote_addr", c.Request.RemoteAddr, "error", err)
			return
		}
		if cfg.MaxFrameSize > 0 {
			ws.SetReadLimit(int64(cfg.MaxFrameSize))
		}

		if err := mgr.Serve(c.Request.Context(), connection.WrapWebsocket(ws, cfg.WriteTimeout)); err != nil {
			log.Debug("adapter socket ended", "remote_addr", c.Request.RemoteAddr, "error", err)
		}
	}
}
