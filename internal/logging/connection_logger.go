// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler that dispatches every record to two
// handlers. NewConnectionLogger uses it to write simultaneously to the
// global handler and a connection-dedicated log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Check each handler's Enabled() individually so a DEBUG record still
	// reaches the connection file even when the primary only accepts INFO.
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write failure on the connection file must not suppress the global log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewConnectionLogger builds a logger that writes to both baseLogger and a
// file dedicated to one tunnel connection, at:
//
//	{connectionLogDir}/{connectionID}.log
//
// Returns the enriched logger, an io.Closer that must be called (defer)
// when the connection ends, and the file's path (connectionLogDir joined
// with the file name, so relative if connectionLogDir is). If
// connectionLogDir is empty, returns baseLogger unmodified (no-op).
func NewConnectionLogger(baseLogger *slog.Logger, connectionLogDir, connectionID string) (*slog.Logger, io.Closer, string, error) {
	if connectionLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	if err := os.MkdirAll(connectionLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating connection log directory %s: %w", connectionLogDir, err)
	}

	logPath := filepath.Join(connectionLogDir, connectionID+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening connection log file %s: %w", logPath, err)
	}

	// The connection file always uses JSON at DEBUG for maximum capture.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemoveConnectionLog deletes a finished connection's log file. A no-op if
// connectionLogDir is empty or the file does not exist.
func RemoveConnectionLog(connectionLogDir, connectionID string) {
	if connectionLogDir == "" {
		return
	}
	os.Remove(filepath.Join(connectionLogDir, connectionID+".log"))
}
