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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/services/adapter"
	"github.com/AleutianAI/agent-devtools/services/adapter/collectors"
)

const serviceName = "devtools-adapter"

var (
	configFile     string
	serverURL      string
	stateFile      string
	rootRoute      string
	logLevel       string
	reconnectDelay time.Duration

	rootCmd = &cobra.Command{
		Use:          "devtools-adapter",
		Short:        "Run a standalone debug adapter",
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Connect to a bridge and serve state until interrupted",
		RunE:  runAdapter,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the adapter version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(serviceName, Version)
		},
	}
)

func init() {
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML adapter config file")
	runCmd.Flags().StringVar(&serverURL, "server", "", "Bridge endpoint (overrides config)")
	runCmd.Flags().StringVar(&stateFile, "state-file", "", "JSON file mirrored into the redux stream")
	runCmd.Flags().StringVar(&rootRoute, "route", "Home", "Root route reported on the navigation stream")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	runCmd.Flags().DurationVar(&reconnectDelay, "reconnect-delay", 2*time.Second, "Wait between connection attempts")

	rootCmd.AddCommand(runCmd, versionCmd)
}

// loadConfig reads path (if set) over the defaults and applies the
// --server override.
func loadConfig(path, server string) (adapter.Config, error) {
	cfg := adapter.DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read adapter config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse adapter config %s: %w", path, err)
		}
	}
	if server != "" {
		cfg.ServerURL = server
	}
	return cfg, cfg.Validate()
}

func runAdapter(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: level, Service: serviceName})
	defer log.Close()

	cfg, err := loadConfig(configFile, serverURL)
	if err != nil {
		return err
	}
	cfg.Logger = log

	a, err := adapter.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	state := collectors.NewStateCollector(a, nil, nil, log)
	if err := a.Register(protocol.StreamRedux, state); err != nil {
		log.Warn("redux stream not registered", "error", err)
	}
	if stateFile != "" {
		src, err := collectors.NewFileSource(stateFile, state, log)
		if err != nil {
			return err
		}
		defer src.Close()
		g.Go(func() error { return src.Run(gctx) })
	}

	stack := collectors.NewStack(collectors.Route{Name: rootRoute})
	nav := collectors.NewNavigationCollector(a, stack, log)
	stack.OnChange(nav.Notify)
	if err := a.Register(protocol.StreamNavigation, nav); err != nil {
		log.Warn("navigation stream not registered", "error", err)
	}

	log.Info("adapter starting", "session_id", a.SessionID(), "server", cfg.ServerURL, "version", Version)
	g.Go(func() error { return serve(gctx, a, log) })
	return g.Wait()
}

// serve keeps the adapter connected, retrying after reconnectDelay, until
// ctx is cancelled.
func serve(ctx context.Context, a *adapter.Adapter, log *logging.Logger) error {
	for {
		err := a.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("bridge connection lost", "error", err, "retry_in", reconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}
