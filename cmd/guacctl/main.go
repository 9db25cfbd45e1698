// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command guacctl is a minimal demo client: it loads a YAML config, dials
// a tunnel, wires a guacclient.Client, and logs every dispatched opcode.
// After a disconnect it dials again under guacclient.RunWithReconnect; it
// exits on SIGINT/SIGTERM or once the retry policy gives up.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/guac-go/internal/config"
	"github.com/nishisan-dev/guac-go/internal/display"
	"github.com/nishisan-dev/guac-go/internal/guacclient"
	"github.com/nishisan-dev/guac-go/internal/logging"
	"github.com/nishisan-dev/guac-go/internal/pki"
	"github.com/nishisan-dev/guac-go/internal/protocol"
	"github.com/nishisan-dev/guac-go/internal/surface"
	"github.com/nishisan-dev/guac-go/internal/tunnel"
)

func main() {
	configPath := flag.String("config", "/etc/guacctl/client.yaml", "path to client config file")
	width := flag.Int("width", 1024, "initial display width")
	height := flag.Int("height", 768, "initial display height")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	var trace *logging.TraceCapture
	if cfg.Trace.Enabled {
		trace, err = logging.NewTraceCapture(cfg.Trace.Path, cfg.Trace.MaxSizeRaw)
		if err != nil {
			logger.Error("failed to open trace capture", "error", err)
			os.Exit(1)
		}
		defer trace.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	policy := guacclient.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
	}

	err = guacclient.RunWithReconnect(ctx, policy, func(ctx context.Context) (*guacclient.Client, error) {
		return dialClient(ctx, cfg, logger, trace, *width, *height)
	})
	if err != nil && err != context.Canceled {
		logger.Error("client run error", "error", err)
		os.Exit(1)
	}
}

// dialClient builds the Tunnel/Display/Client trio for one connection
// attempt, wires logging and optional wire-trace capture, and starts the
// handshake.
func dialClient(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger, trace *logging.TraceCapture, width, height int) (*guacclient.Client, error) {
	tun, err := buildTunnel(cfg, logger)
	if err != nil {
		return nil, err
	}

	if trace != nil {
		tun = wireTrace(tun, trace)
	}

	disp := display.New(func(w, h int) surface.Canvas { return surface.NewRasterCanvas(w, h) }, width, height)
	c := guacclient.New(tun, disp, logger)

	c.SetOnInstruction(func(opcode string, elements []string) {
		logger.Debug("dispatched opcode", "opcode", opcode, "elements", elements)
	})
	c.SetOnName(func(name string) { logger.Info("server name", "name", name) })
	c.SetOnError(func(status protocol.Status) { logger.Warn("client error", "status", status) })
	c.SetOnStateChange(func(state guacclient.State) { logger.Info("client state change", "state", state.String()) })

	if err := c.Connect(ctx, cfg.Tunnel.ConnectData); err != nil {
		return nil, err
	}
	return c, nil
}

func buildTunnel(cfg *config.ClientConfig, logger *slog.Logger) (tunnel.Tunnel, error) {
	tlsCfg, err := pki.NewClientTLSConfig(cfg.TLS.CACert, cfg.TLS.ClientCert, cfg.TLS.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("building TLS config: %w", err)
	}

	switch cfg.Tunnel.Transport {
	case "http-poll":
		t := tunnel.NewHTTPPollTunnel(cfg.Tunnel.URLs[0], logger)
		t.SetTLSConfig(tlsCfg)
		if cfg.Tunnel.ReceiveTimeout > 0 {
			t.SetReceiveTimeout(cfg.Tunnel.ReceiveTimeout)
		}
		return t, nil
	case "chained":
		inner := make([]tunnel.Tunnel, 0, len(cfg.Tunnel.URLs))
		for _, u := range cfg.Tunnel.URLs {
			ws := tunnel.NewWebsocketTunnel(u, logger)
			ws.SetTLSConfig(tlsCfg)
			if cfg.Tunnel.ReceiveTimeout > 0 {
				ws.SetReceiveTimeout(cfg.Tunnel.ReceiveTimeout)
			}
			inner = append(inner, ws)
		}
		return tunnel.NewChainedTunnel(logger, inner...), nil
	default: // "websocket"
		t := tunnel.NewWebsocketTunnel(cfg.Tunnel.URLs[0], logger)
		t.SetTLSConfig(tlsCfg)
		if cfg.Tunnel.ReceiveTimeout > 0 {
			t.SetReceiveTimeout(cfg.Tunnel.ReceiveTimeout)
		}
		return t, nil
	}
}
