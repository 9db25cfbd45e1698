// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a slog.Logger configured with the given level, format,
// and output. Supported formats: "json" (default) and "text". Supported
// levels: "debug", "info" (default), "warn", "error". If filePath is not
// empty, logs are written to stdout plus the file (MultiWriter). Returns
// the logger and an io.Closer that must be called on shutdown to close the
// file; if filePath is empty, the returned Closer is a no-op.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			// Fall back to stdout-only logging rather than failing startup.
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
