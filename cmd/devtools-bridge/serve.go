// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/telemetry"
	"github.com/AleutianAI/agent-devtools/services/bridge/config"
	"github.com/AleutianAI/agent-devtools/services/bridge/connection"
	"github.com/AleutianAI/agent-devtools/services/bridge/feed"
	"github.com/AleutianAI/agent-devtools/services/bridge/observability"
	"github.com/AleutianAI/agent-devtools/services/bridge/routes"
	"github.com/AleutianAI/agent-devtools/services/bridge/tools"
)

const shutdownTimeout = 5 * time.Second

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.LoadOptions{File: configFile})
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// runServe wires the bridge and serves until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.LoadOptions{File: configFile})
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:   cfg.Level(),
		Service: serviceName,
		LogDir:  logDir,
		JSON:    jsonLogs,
	})
	defer log.Close()
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry(serviceName, Version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	toolMetrics, err := telemetry.NewToolMetrics(otel.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("init tool metrics: %w", err)
	}
	bridgeMetrics := observability.NewBridgeMetrics(prometheus.DefaultRegisterer)

	recent := feed.New(feed.DefaultCapacity)
	mgr := connection.NewManager(connection.Config{
		RequestTimeout:    cfg.RequestTimeout(),
		MinAdapterVersion: cfg.MinAdapterVersion,
		Logger:            log,
		Observer:          bridgeMetrics,
		OnEvent:           recent.Record,
	})
	catalog := tools.NewCatalog(mgr, tools.CatalogConfig{
		MaxResponseChars: cfg.MaxResponseChars,
		MaxParamsSize:    cfg.MaxPayloadSize,
		Metrics:          toolMetrics,
		Logger:           log,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, routes.Deps{
		Manager:        mgr,
		Catalog:        catalog,
		Feed:           recent,
		Rejecter:       bridgeMetrics,
		Gatherer:       prometheus.DefaultGatherer,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxPayloadSize: cfg.MaxPayloadSize,
		MaxFrameSize:   cfg.MaxFrameSize,
		Version:        Version,
		StartedAt:      time.Now(),
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked adapter sockets outlive Shutdown; tie them to ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("bridge listening",
			"addr", srv.Addr,
			"adapter_endpoint", "ws://"+srv.Addr+"/adapter",
			"version", Version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down bridge")
		mgr.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
