// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/pgzip"
)

// TraceCapture records every inbound/outbound instruction to a
// parallel-gzip-compressed transcript file, for reproducing the
// framing-incrementality and dispatch-ordering properties offline. Safe
// for concurrent use; the underlying Tunnel delivers callbacks from a
// single goroutine, but outbound writes (Client.Send) can come from any
// caller goroutine.
//
// When maxSize is positive, the transcript rotates: the current file is
// flushed, closed, renamed aside with a timestamp suffix, and a fresh
// file opened at path — the same keep-writing-under-one-name shape as
// internal/server's backup Rotate, minus the retention sweep (nothing
// here prunes old rotated files).
type TraceCapture struct {
	path    string
	maxSize int64

	mu      sync.Mutex
	file    *os.File
	gz      *pgzip.Writer
	w       *bufio.Writer
	written int64
	closed  bool
}

// NewTraceCapture opens path (truncating any prior contents) and returns a
// TraceCapture writing to it through a parallel-gzip stream. maxSize of 0
// disables rotation. The caller must call Close when the connection ends.
func NewTraceCapture(path string, maxSize int64) (*TraceCapture, error) {
	t := &TraceCapture{path: path, maxSize: maxSize}
	if err := t.openFile(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TraceCapture) openFile() error {
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening trace capture file %s: %w", t.path, err)
	}
	t.file = f
	t.gz = pgzip.NewWriter(f)
	t.w = bufio.NewWriter(t.gz)
	t.written = 0
	return nil
}

// RecordInbound appends one received instruction to the transcript,
// tagged with direction and a monotonic timestamp.
func (t *TraceCapture) RecordInbound(opcode string, elements []string) {
	t.record('<', opcode, elements)
}

// RecordOutbound appends one sent instruction to the transcript.
func (t *TraceCapture) RecordOutbound(opcode string, elements []string) {
	t.record('>', opcode, elements)
}

func (t *TraceCapture) record(direction byte, opcode string, elements []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	var line strings.Builder
	line.WriteString(strconv.FormatInt(time.Now().UnixNano(), 10))
	line.WriteByte(' ')
	line.WriteByte(direction)
	line.WriteByte(' ')
	line.WriteString(opcode)
	for _, e := range elements {
		line.WriteByte(' ')
		line.WriteString(e)
	}
	line.WriteByte('\n')

	n, _ := t.w.WriteString(line.String())
	t.written += int64(n)

	if t.maxSize > 0 && t.written >= t.maxSize {
		t.rotate()
	}
}

// rotate closes the current file, renames it aside with a timestamp
// suffix, and opens a fresh file at path. A failure at any step leaves
// the capture writing wherever it still can — a bad rotation must not
// drop the transcript.
func (t *TraceCapture) rotate() {
	if err := t.w.Flush(); err != nil {
		return
	}
	if err := t.gz.Close(); err != nil {
		return
	}
	if err := t.file.Close(); err != nil {
		return
	}

	rotatedPath := fmt.Sprintf("%s.%d", t.path, time.Now().UnixNano())
	_ = os.Rename(t.path, rotatedPath)
	_ = t.openFile()
}

// Close flushes and closes the gzip stream and underlying file. Safe to
// call more than once.
func (t *TraceCapture) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.w.Flush(); err != nil {
		t.gz.Close()
		t.file.Close()
		return fmt.Errorf("flushing trace capture: %w", err)
	}
	if err := t.gz.Close(); err != nil {
		t.file.Close()
		return fmt.Errorf("closing trace capture gzip stream: %w", err)
	}
	return t.file.Close()
}
