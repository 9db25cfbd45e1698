// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration consumed by
// cmd/guacctl: which tunnel transport to dial, optional mTLS, retry
// policy, logging, and wire-trace capture.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the full configuration for one client connection.
type ClientConfig struct {
	Tunnel  TunnelConfig `yaml:"tunnel"`
	TLS     TLSClient    `yaml:"tls"`
	Retry   RetryInfo    `yaml:"retry"`
	Logging LoggingInfo  `yaml:"logging"`
	Trace   TraceConfig  `yaml:"trace"`
}

// TunnelConfig selects and parameterizes the tunnel transport (§4.D).
type TunnelConfig struct {
	// Transport is one of "websocket", "http-poll", or "chained".
	Transport string `yaml:"transport"`
	// URLs holds one endpoint for websocket/http-poll, or the ordered
	// candidate list a chained tunnel tries in turn.
	URLs []string `yaml:"urls"`
	// ConnectData is the opaque payload passed to Tunnel.Connect — the
	// client identification string/token the server expects.
	ConnectData string `yaml:"connect_data"`
	// ReceiveTimeout overrides tunnel.DefaultReceiveTimeout when positive.
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
}

// TLSClient carries optional mTLS material for wss/https dialing. Every
// field empty means plain TLS with the system root pool (§1: mTLS is an
// opt-in hardening feature here, not baseline).
type TLSClient struct {
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// RetryInfo configures the backoff of guacclient.RunWithReconnect, which
// rebuilds and re-dials the whole client after a disconnect (supplement
// #1).
type RetryInfo struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// LoggingInfo selects the structured logger's level, output format, and an
// optional additional log file (empty means stdout only).
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
	// ConnectionLogDir names the directory for internal/logging's
	// NewConnectionLogger (one debug-level log file per connection ID).
	// cmd/guacctl does not call NewConnectionLogger, so setting it there
	// writes no per-connection file.
	ConnectionLogDir string `yaml:"connection_log_dir"`
}

// TraceConfig configures the optional gzip-compressed wire trace
// recorder (SPEC_FULL.md Domain Stack: wire capture for debugging).
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// MaxSize is a human-readable size ("64mb", "1gb"); the recorder
	// rotates right after the write that brings the uncompressed bytes
	// recorded into the current file up to or past it.
	MaxSize    string `yaml:"max_size"`
	MaxSizeRaw int64  `yaml:"-"`
}

// LoadClientConfig reads and validates the YAML configuration at path.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	switch c.Tunnel.Transport {
	case "":
		c.Tunnel.Transport = "websocket"
	case "websocket", "http-poll", "chained":
	default:
		return fmt.Errorf("tunnel.transport must be websocket, http-poll, or chained, got %q", c.Tunnel.Transport)
	}
	if len(c.Tunnel.URLs) == 0 {
		return fmt.Errorf("tunnel.urls must have at least one entry")
	}
	if c.Tunnel.Transport != "chained" && len(c.Tunnel.URLs) > 1 {
		return fmt.Errorf("tunnel.urls must have exactly one entry for transport %q", c.Tunnel.Transport)
	}

	hasCert := c.TLS.ClientCert != "" || c.TLS.ClientKey != ""
	if hasCert && (c.TLS.ClientCert == "" || c.TLS.ClientKey == "") {
		return fmt.Errorf("tls.client_cert and tls.client_key must be set together")
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = 1 * time.Second
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Trace.Enabled {
		if c.Trace.Path == "" {
			return fmt.Errorf("trace.path is required when trace is enabled")
		}
		if c.Trace.MaxSize == "" {
			c.Trace.MaxSize = "64mb"
		}
		parsed, err := ParseByteSize(c.Trace.MaxSize)
		if err != nil {
			return fmt.Errorf("trace.max_size: %w", err)
		}
		if parsed <= 0 {
			return fmt.Errorf("trace.max_size must be > 0, got %s", c.Trace.MaxSize)
		}
		c.Trace.MaxSizeRaw = parsed
	}

	return nil
}

// ParseByteSize converts human-readable sizes like "256mb" or "1gb" to a
// byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Longest suffix first so "mb" isn't matched as "b".
	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
