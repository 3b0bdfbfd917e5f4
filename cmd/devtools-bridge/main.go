// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command devtools-bridge runs the bridge between a running app's debug
// adapter and agent tooling.
//
// # Usage
//
//	# Build
//	go build -o devtools-bridge ./cmd/devtools-bridge
//
//	# Serve on the default loopback port
//	./devtools-bridge serve
//
//	# Check a running bridge
//	./devtools-bridge status
//
// # Environment Variables
//
//   - WS_PORT, WS_HOST: Listen address (default: 127.0.0.1:19850)
//   - REQUEST_TIMEOUT_MS: Adapter request timeout (default: 5000)
//   - MAX_PAYLOAD_SIZE: Request body limit in bytes (default: 1 MiB)
//   - MAX_FRAME_SIZE: Adapter websocket read limit in bytes (default: 4 MiB)
//   - MAX_RESPONSE_CHARS: Tool response text limit (default: 50000)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//   - ALLOWED_ORIGINS: Comma-separated websocket origins (default: none)
package main

import (
	"fmt"
	"os"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
