// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/services/bridge/connection"
	"github.com/AleutianAI/agent-devtools/services/bridge/feed"
	"github.com/AleutianAI/agent-devtools/services/bridge/handlers"
	"github.com/AleutianAI/agent-devtools/services/bridge/tools"
)

// Deps are the components the routes serve.
type Deps struct {
	Manager  *connection.Manager
	Catalog  *tools.Catalog
	Feed     *feed.Feed
	Rejecter handlers.Rejecter

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	AllowedOrigins []string

	// MaxPayloadSize bounds HTTP request bodies.
	MaxPayloadSize int

	// MaxFrameSize is the adapter socket read limit.
	MaxFrameSize int

	Version   string
	StartedAt time.Time
	Logger    *logging.Logger
}

// SetupRoutes registers every bridge endpoint on router.
//
// Endpoints:
//
//	GET  /adapter                    - Adapter websocket upgrade
//	GET  /health                     - Process and connection health
//	GET  /metrics                    - Prometheus metrics
//	GET  /v1/tools                   - Tool definitions
//	POST /v1/tools/:name             - Invoke a tool, body is its params
//	GET  /v1/resources               - Resource descriptors
//	GET  /v1/resources/session       - debug://session/current
//	GET  /v1/resources/redux         - debug://redux/state
//	GET  /v1/resources/navigation    - debug://navigation/state
//	GET  /v1/events/recent           - Events received by the bridge
//
// The websocket endpoint sits outside the traced group; a long-lived
// socket would otherwise be one span per connection lifetime.
func SetupRoutes(router *gin.Engine, deps Deps) {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}

	router.GET("/adapter", handlers.HandleAdapterSocket(deps.Manager, handlers.SocketConfig{
		AllowedOrigins: deps.AllowedOrigins,
		MaxFrameSize:   deps.MaxFrameSize,
		Rejecter:       deps.Rejecter,
		Logger:         deps.Logger,
	}))
	router.GET("/health", handlers.HandleHealth(deps.Manager, deps.Version, deps.StartedAt))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	maxBody := int64(deps.MaxPayloadSize)
	if maxBody <= 0 {
		maxBody = tools.DefaultMaxParamsSize
	}

	v1 := router.Group("/v1", otelgin.Middleware("devtools-bridge"))
	{
		v1.GET("/tools", handlers.ListTools(deps.Catalog))
		v1.POST("/tools/:name", handlers.InvokeTool(deps.Catalog, maxBody))

		resources := v1.Group("/resources")
		{
			resources.GET("", handlers.ListResources(deps.Catalog))
			resources.GET("/session", handlers.ReadResource(deps.Catalog, tools.URISession))
			resources.GET("/redux", handlers.ReadResource(deps.Catalog, tools.URIReduxState))
			resources.GET("/navigation", handlers.ReadResource(deps.Catalog, tools.URINavigationState))
		}

		v1.GET("/events/recent", handlers.HandleRecentEvents(deps.Feed))
	}
}
