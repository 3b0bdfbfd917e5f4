// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package adapter

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/protocol"
	"github.com/AleutianAI/agent-devtools/pkg/ringbuffer"
)

// Version is reported in every handshake and envelope.
const Version = "0.1.0"

const (
	// DefaultServerURL is the bridge's adapter endpoint on its default port.
	DefaultServerURL = "ws://127.0.0.1:19850/adapter"

	// DefaultMaxPayloadSize is the per-event payload budget.
	DefaultMaxPayloadSize = 512 * 1024

	// DefaultMaxFrameSize bounds one outgoing frame. The bridge reads up to
	// 4 MiB by default, so every frame the adapter builds fits.
	DefaultMaxFrameSize = 1024 * 1024

	// FrameReserve is held back from MaxFrameSize for the response
	// envelope and page metadata around an events array.
	FrameReserve = 2048
)

// Config configures an Adapter.
type Config struct {
	// ServerURL is the bridge endpoint. Must use ws:// or wss://.
	ServerURL string `yaml:"server_url" validate:"required,startswith=ws://|startswith=wss://"`

	// MaxPayloadSize is the per-event payload budget in JSON bytes.
	MaxPayloadSize int `yaml:"max_payload_size" validate:"min=16,max=10485760"`

	// MaxFrameSize bounds one outgoing frame in bytes. query_events pages
	// are cut to fit it. Must exceed MaxPayloadSize by twice FrameReserve
	// so a single event always fits.
	MaxFrameSize int `yaml:"max_frame_size" validate:"min=4096,max=67108864"`

	// BufferCapacity is the ring buffer size of each stream.
	BufferCapacity int `yaml:"buffer_capacity" validate:"min=1,max=100000"`

	// Streams lists the enabled streams. Default: all known streams.
	Streams []protocol.Stream `yaml:"streams"`

	// PushRate caps pushed events per second. Zero disables the cap.
	PushRate float64 `yaml:"push_rate" validate:"min=0"`

	// DeviceInfo is forwarded verbatim in the handshake.
	DeviceInfo map[string]any `yaml:"device_info"`

	Logger *logging.Logger   `yaml:"-" validate:"-"`
	Dialer *websocket.Dialer `yaml:"-" validate:"-"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{
		ServerURL:      DefaultServerURL,
		MaxPayloadSize: DefaultMaxPayloadSize,
		MaxFrameSize:   DefaultMaxFrameSize,
		BufferCapacity: ringbuffer.DefaultCapacity,
		Streams:        append([]protocol.Stream(nil), protocol.Streams...),
	}
}

var configValidate = validator.New()

// Validate checks ranges, the frame headroom and stream names.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid adapter config: %w", err)
	}
	if c.MaxFrameSize < c.MaxPayloadSize+2*FrameReserve {
		return fmt.Errorf("invalid adapter config: max_frame_size %d must be at least max_payload_size %d plus %d",
			c.MaxFrameSize, c.MaxPayloadSize, 2*FrameReserve)
	}
	for _, s := range c.Streams {
		if !s.Valid() {
			return fmt.Errorf("invalid adapter config: %w: %q", protocol.ErrUnknownStream, s)
		}
	}
	return nil
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ServerURL == "" {
		c.ServerURL = d.ServerURL
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = d.MaxPayloadSize
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = max(d.MaxFrameSize, c.MaxPayloadSize+2*FrameReserve)
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if len(c.Streams) == 0 {
		c.Streams = d.Streams
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return c
}
