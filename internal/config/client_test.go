// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadClientConfig_DefaultsTransportToWebsocket(t *testing.T) {
	path := writeConfig(t, `
tunnel:
  urls:
    - wss://desktop.example.com/tunnel
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if cfg.Tunnel.Transport != "websocket" {
		t.Errorf("Transport = %q, want websocket", cfg.Tunnel.Transport)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json defaults", cfg.Logging)
	}
}

func TestLoadClientConfig_RejectsMultipleURLsForWebsocket(t *testing.T) {
	path := writeConfig(t, `
tunnel:
  transport: websocket
  urls:
    - wss://a.example.com/tunnel
    - wss://b.example.com/tunnel
`)
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("LoadClientConfig() error = nil, want error for multiple URLs on a non-chained transport")
	}
}

func TestLoadClientConfig_ChainedAllowsMultipleURLs(t *testing.T) {
	path := writeConfig(t, `
tunnel:
  transport: chained
  urls:
    - wss://a.example.com/tunnel
    - https://b.example.com/tunnel
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if len(cfg.Tunnel.URLs) != 2 {
		t.Fatalf("URLs = %v, want 2 entries", cfg.Tunnel.URLs)
	}
}

func TestLoadClientConfig_RejectsUnknownTransport(t *testing.T) {
	path := writeConfig(t, `
tunnel:
  transport: carrier-pigeon
  urls:
    - x
`)
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("LoadClientConfig() error = nil, want error for unknown transport")
	}
}

func TestLoadClientConfig_RejectsPartialTLSPair(t *testing.T) {
	path := writeConfig(t, `
tunnel:
  urls:
    - wss://a.example.com/tunnel
tls:
  client_cert: /etc/client.crt
`)
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("LoadClientConfig() error = nil, want error for client_cert without client_key")
	}
}

func TestLoadClientConfig_NoTLSIsValid(t *testing.T) {
	path := writeConfig(t, `
tunnel:
  urls:
    - wss://a.example.com/tunnel
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if cfg.TLS.ClientCert != "" || cfg.TLS.ClientKey != "" {
		t.Errorf("TLS = %+v, want empty (no mTLS)", cfg.TLS)
	}
}

func TestLoadClientConfig_TraceRequiresPath(t *testing.T) {
	path := writeConfig(t, `
tunnel:
  urls:
    - wss://a.example.com/tunnel
trace:
  enabled: true
`)
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("LoadClientConfig() error = nil, want error for trace.enabled without trace.path")
	}
}

func TestLoadClientConfig_TraceDefaultsMaxSize(t *testing.T) {
	path := writeConfig(t, `
tunnel:
  urls:
    - wss://a.example.com/tunnel
trace:
  enabled: true
  path: /var/log/guac-trace.jsonl.gz
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if cfg.Trace.MaxSizeRaw != 64*1024*1024 {
		t.Errorf("Trace.MaxSizeRaw = %d, want 64mb", cfg.Trace.MaxSizeRaw)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"256mb": 256 * 1024 * 1024,
		"1gb":   1024 * 1024 * 1024,
		"10kb":  10 * 1024,
		"42":    42,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q) error = %v", in, err)
		}
		if got != want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestLoadClientConfig_MissingFile(t *testing.T) {
	if _, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadClientConfig() error = nil, want error for missing file")
	}
}
