// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command devtools-adapter is a standalone debug adapter host. It mirrors a
// JSON state file into the redux stream and ships events to a bridge, which
// is enough to exercise the bridge's tools without a mobile app.
//
// # Usage
//
//	./devtools-adapter run --state-file ./state.json
//	./devtools-adapter run --config adapter.yaml --server ws://127.0.0.1:19850/adapter
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
