// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the devtools bridge configuration.
//
// # Description
//
// Settings come from environment variables first, then an optional YAML
// file, then defaults. Variable names are the upper-cased keys:
//
//	WS_PORT              19850       listen port
//	WS_HOST              127.0.0.1   listen host
//	REQUEST_TIMEOUT_MS   5000        adapter request timeout (100-30000)
//	MAX_PAYLOAD_SIZE     1048576     max inbound frame bytes (1024-10485760)
//	MAX_RESPONSE_CHARS   50000       max tool response text (1000-200000)
//	LOG_LEVEL            info        debug|info|warn|error
//	ALLOWED_ORIGINS      ""          comma-separated websocket origins
//	MIN_ADAPTER_VERSION  ""          semver gate for handshakes
//
// plus OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER and
// OTEL_EXPORTER_OTLP_ENDPOINT for telemetry.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/AleutianAI/agent-devtools/pkg/logging"
	"github.com/AleutianAI/agent-devtools/pkg/telemetry"
	"github.com/AleutianAI/agent-devtools/services/bridge/connection"
)

// Defaults.
const (
	DefaultPort             = 19850
	DefaultHost             = "127.0.0.1"
	DefaultRequestTimeoutMS = 5000
	DefaultMaxPayloadSize   = 1024 * 1024
	DefaultMaxFrameSize     = 4 * 1024 * 1024
	DefaultMaxResponseChars = 50000
	DefaultLogLevel         = "info"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrReadConfigFile is returned when an explicit config file cannot be read.
	ErrReadConfigFile = errors.New("read config file")
)

// Config is the effective bridge configuration.
type Config struct {
	Port              int      `mapstructure:"ws_port" yaml:"ws_port" validate:"min=1,max=65535"`
	Host              string   `mapstructure:"ws_host" yaml:"ws_host" validate:"required"`
	RequestTimeoutMS  int      `mapstructure:"request_timeout_ms" yaml:"request_timeout_ms" validate:"min=100,max=30000"`
	MaxPayloadSize    int      `mapstructure:"max_payload_size" yaml:"max_payload_size" validate:"min=1024,max=10485760"`
	MaxFrameSize      int      `mapstructure:"max_frame_size" yaml:"max_frame_size" validate:"min=65536,max=67108864"`
	MaxResponseChars  int      `mapstructure:"max_response_chars" yaml:"max_response_chars" validate:"min=1000,max=200000"`
	LogLevel          string   `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	AllowedOrigins    []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	MinAdapterVersion string   `mapstructure:"min_adapter_version" yaml:"min_adapter_version"`

	TracesExporter  string `mapstructure:"otel_traces_exporter" yaml:"otel_traces_exporter" validate:"oneof=otlp stdout none"`
	MetricsExporter string `mapstructure:"otel_metrics_exporter" yaml:"otel_metrics_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint    string `mapstructure:"otel_exporter_otlp_endpoint" yaml:"otel_exporter_otlp_endpoint"`
}

// LoadOptions controls Load.
type LoadOptions struct {
	// File is an optional YAML config file. Missing explicit files are an
	// error.
	File string
}

// Load resolves the configuration from the environment, opts.File and
// defaults, and validates it.
//
// # Outputs
//
//   - Config: The validated configuration.
//   - error: ErrReadConfigFile or ErrInvalidConfig, wrapped with detail.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w %s: %v", ErrReadConfigFile, opts.File, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	cfg := Config{
		Port:             DefaultPort,
		Host:             DefaultHost,
		RequestTimeoutMS: DefaultRequestTimeoutMS,
		MaxPayloadSize:   DefaultMaxPayloadSize,
		MaxFrameSize:     DefaultMaxFrameSize,
		MaxResponseChars: DefaultMaxResponseChars,
		LogLevel:         DefaultLogLevel,
		AllowedOrigins:   []string{},
		TracesExporter:   telemetry.ExporterNone,
		MetricsExporter:  telemetry.ExporterNone,
		OTLPEndpoint:     "localhost:4317",
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("ws_port", d.Port)
	v.SetDefault("ws_host", d.Host)
	v.SetDefault("request_timeout_ms", d.RequestTimeoutMS)
	v.SetDefault("max_payload_size", d.MaxPayloadSize)
	v.SetDefault("max_frame_size", d.MaxFrameSize)
	v.SetDefault("max_response_chars", d.MaxResponseChars)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("allowed_origins", d.AllowedOrigins)
	v.SetDefault("min_adapter_version", "")
	v.SetDefault("otel_traces_exporter", d.TracesExporter)
	v.SetDefault("otel_metrics_exporter", d.MetricsExporter)
	v.SetDefault("otel_exporter_otlp_endpoint", d.OTLPEndpoint)
}

func (c *Config) normalise() {
	c.Host = strings.TrimSpace(c.Host)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.TracesExporter = strings.ToLower(strings.TrimSpace(c.TracesExporter))
	c.MetricsExporter = strings.ToLower(strings.TrimSpace(c.MetricsExporter))
	c.MinAdapterVersion = strings.TrimSpace(c.MinAdapterVersion)

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				origins = append(origins, part)
			}
		}
	}
	c.AllowedOrigins = origins
}

var validate = validator.New()

// Validate checks ranges and the adapter version constraint.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.MinAdapterVersion != "" && !connection.ValidVersion(c.MinAdapterVersion) {
		return fmt.Errorf("%w: MinAdapterVersion %q is not a semantic version", ErrInvalidConfig, c.MinAdapterVersion)
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RequestTimeout is RequestTimeoutMS as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// IsLoopback reports whether Host only accepts local connections.
func (c Config) IsLoopback() bool {
	if strings.EqualFold(c.Host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(c.Host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// Warnings lists risky but valid settings.
func (c Config) Warnings() []string {
	var warnings []string
	if !c.IsLoopback() {
		warnings = append(warnings,
			"WebSocket server bound to non-loopback address; debug data is exposed to the network")
	}
	return warnings
}

// Level parses LogLevel. Validate guarantees it succeeds.
func (c Config) Level() logging.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

// Telemetry builds the telemetry configuration for service.
func (c Config) Telemetry(service, version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    service,
		ServiceVersion: version,
		TraceExporter:  c.TracesExporter,
		MetricExporter: c.MetricsExporter,
		OTLPEndpoint:   c.OTLPEndpoint,
		OTLPInsecure:   true,
	}
}
