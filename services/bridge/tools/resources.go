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
	"fmt"
	"sort"

	"github.com/AleutianAI/agent-devtools/pkg/protocol"
)

// Resource URIs.
const (
	URISession         = "debug://session/current"
	URIReduxState      = "debug://redux/state"
	URINavigationState = "debug://navigation/state"
)

const mimeJSON = "application/json"

// Resource describes a readable document.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// ResourceContent is a read resource. Failures are reported inside Text as
// {"error": {"code": ...}} rather than as Go errors.
type ResourceContent struct {
	URI       string `json:"uri"`
	MimeType  string `json:"mimeType"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

type resource struct {
	Resource
	read func(ctx context.Context) (any, error)
}

func (c *Catalog) registerResources() {
	c.resources[URISession] = resource{
		Resource: Resource{URI: URISession, Name: "session", MimeType: mimeJSON,
			Description: "The connected adapter's session."},
		read: c.readSession,
	}
	c.resources[URIReduxState] = resource{
		Resource: Resource{URI: URIReduxState, Name: "redux-state", MimeType: mimeJSON,
			Description: "The latest redux state snapshot."},
		read: c.snapshotReader(protocol.StreamRedux),
	}
	c.resources[URINavigationState] = resource{
		Resource: Resource{URI: URINavigationState, Name: "navigation-state", MimeType: mimeJSON,
			Description: "The latest navigation state snapshot."},
		read: c.snapshotReader(protocol.StreamNavigation),
	}
}

// Resources lists the readable resources sorted by URI.
func (c *Catalog) Resources() []Resource {
	c.mu.RLock()
	out := make([]Resource, 0, len(c.resources))
	for _, r := range c.resources {
		out = append(out, r.Resource)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// ReadResource renders uri. Only an unknown uri is a Go error.
func (c *Catalog) ReadResource(ctx context.Context, uri string) (ResourceContent, error) {
	c.mu.RLock()
	r, ok := c.resources[uri]
	c.mu.RUnlock()
	if !ok {
		return ResourceContent{}, fmt.Errorf("%w: %s", ErrUnknownResource, uri)
	}

	content := ResourceContent{URI: uri, MimeType: r.MimeType}
	value, err := r.read(ctx)
	if err != nil {
		te := Classify(err)
		body := map[string]any{"code": te.Code}
		if te.Code != CodeNotConnected {
			body["message"] = te.Message
		}
		raw, _ := json.Marshal(map[string]any{"error": body})
		content.Text = string(raw)
		return content, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return ResourceContent{}, fmt.Errorf("render %s: %w", uri, err)
	}
	content.Text, content.Truncated = BoundText(string(raw), c.maxChars)
	return content, nil
}

func (c *Catalog) readSession(context.Context) (any, error) {
	info, ok := c.client.Adapter()
	if !ok || !c.client.IsConnected() {
		return nil, errNotConnected()
	}
	return info, nil
}

func (c *Catalog) snapshotReader(stream protocol.Stream) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		if err := requireConnected(c.client); err != nil {
			return nil, err
		}
		snap, err := fetchSnapshot(ctx, c.client, string(stream), nil)
		if err != nil {
			return nil, err
		}
		return snap.Snapshot, nil
	}
}
