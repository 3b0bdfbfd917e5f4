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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/agent-devtools/pkg/ux"
	"github.com/AleutianAI/agent-devtools/services/bridge/config"
	"github.com/AleutianAI/agent-devtools/services/bridge/handlers"
)

const statusTimeout = 3 * time.Second

func runStatus(cmd *cobra.Command, _ []string) error {
	base := statusURL
	if base == "" {
		cfg, err := config.Load(config.LoadOptions{File: configFile})
		if err != nil {
			return err
		}
		base = "http://" + cfg.Addr()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()
	health, raw, err := fetchHealth(ctx, base)

	out := cmd.OutOrStdout()
	if statusJSON && err == nil {
		_, err = out.Write(raw)
		return err
	}
	p := ux.NewPrinter(out)
	if err != nil {
		p.Status(ux.IconError, fmt.Sprintf("bridge unreachable at %s", base))
		return err
	}
	renderHealth(p, base, health)
	return nil
}

func fetchHealth(ctx context.Context, base string) (handlers.HealthResponse, []byte, error) {
	var health handlers.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/health", nil)
	if err != nil {
		return health, nil, fmt.Errorf("build health request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return health, nil, fmt.Errorf("get health: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return health, nil, fmt.Errorf("read health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return health, raw, fmt.Errorf("health returned %s", resp.Status)
	}
	if err := json.Unmarshal(raw, &health); err != nil {
		return health, raw, fmt.Errorf("decode health: %w", err)
	}
	return health, raw, nil
}

func renderHealth(p *ux.Printer, base string, h handlers.HealthResponse) {
	p.Title("devtools-bridge " + h.Version)
	p.Status(ux.IconSuccess, "bridge up at "+base)
	p.Fields(map[string]string{
		"uptime":  (time.Duration(h.Uptime) * time.Second).String(),
		"pending": fmt.Sprint(h.Connection.PendingRequests),
	})

	info := h.Connection.Adapter
	if !h.Connection.Connected || info == nil {
		p.Status(ux.IconPending, "no adapter connected")
		return
	}
	p.Status(ux.IconSuccess, "adapter connected")
	streams := make([]string, len(info.Streams))
	for i, s := range info.Streams {
		streams[i] = string(s)
	}
	fields := map[string]string{
		"session":   info.SessionID,
		"version":   info.AdapterVersion,
		"streams":   strings.Join(streams, ", "),
		"connected": info.ConnectedAt.Format(time.RFC3339),
	}
	if h.Connection.LastEventAt != nil {
		fields["last event"] = h.Connection.LastEventAt.Format(time.RFC3339)
	}
	p.Fields(fields)
}
