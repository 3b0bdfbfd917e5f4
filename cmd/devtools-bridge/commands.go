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
	"github.com/spf13/cobra"
)

const serviceName = "devtools-bridge"

var (
	configFile string
	logDir     string
	jsonLogs   bool
	statusURL  string
	statusJSON bool

	rootCmd = &cobra.Command{
		Use:   "devtools-bridge",
		Short: "Bridge a running app's debug adapter to agent tools",
		Long: `devtools-bridge accepts one debug adapter connection over WebSocket and
exposes the app's state, navigation and event history as read-only tools.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE:  runServe, // serve.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE:  runConfig, // serve.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Report the health of a running bridge",
		RunE:  runStatus, // status.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the bridge version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(serviceName, Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file; environment variables take precedence")

	serveCmd.Flags().StringVar(&logDir, "log-dir", "", "Also write JSON logs to this directory")
	serveCmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "Write console logs as JSON lines")

	statusCmd.Flags().StringVar(&statusURL, "url", "", "Bridge base URL (default: from config)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw health response")

	rootCmd.AddCommand(serveCmd, configCmd, statusCmd, versionCmd)
}
