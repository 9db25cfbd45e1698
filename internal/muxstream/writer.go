// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package muxstream

import (
	"context"
	"encoding/base64"

	"golang.org/x/time/rate"
)

// ArrayBufferWriter sends raw bytes over an OutputStream, splitting any
// payload larger than MaxBlobBytes into successive blob instructions
// (§4.F) so no single blob element exceeds the wire ceiling.
//
// An optional rate.Limiter paces successive blob sends — useful for large
// file/pipe transfers sharing a link with the interactive instruction
// stream, where unthrottled blob bursts would starve drawing updates.
type ArrayBufferWriter struct {
	stream  *OutputStream
	limiter *rate.Limiter
}

// NewArrayBufferWriter wraps stream for binary writes, with no pacing.
func NewArrayBufferWriter(stream *OutputStream) *ArrayBufferWriter {
	return &ArrayBufferWriter{stream: stream}
}

// NewPacedArrayBufferWriter wraps stream for binary writes, blocking before
// each blob send until limiter admits it. Use for bulk transfers (file,
// pipe) that should not monopolize the wire ahead of drawing instructions.
func NewPacedArrayBufferWriter(stream *OutputStream, limiter *rate.Limiter) *ArrayBufferWriter {
	return &ArrayBufferWriter{stream: stream, limiter: limiter}
}

// SendData base64-encodes data and transmits it as one or more blob
// instructions, each carrying at most MaxBlobBytes bytes of binary payload.
func (w *ArrayBufferWriter) SendData(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > MaxBlobBytes {
			n = MaxBlobBytes
		}
		chunk := data[:n]
		data = data[n:]

		if w.limiter != nil {
			if err := w.limiter.Wait(context.Background()); err != nil {
				return err
			}
		}

		if err := w.stream.SendBlob(base64.StdEncoding.EncodeToString(chunk)); err != nil {
			return err
		}
	}
	return nil
}

// SendEnd ends the underlying stream.
func (w *ArrayBufferWriter) SendEnd() error {
	return w.stream.SendEnd()
}

// StringWriter sends UTF-8 text over an OutputStream, encoding through
// ArrayBufferWriter so long strings split the same way binary data does.
type StringWriter struct {
	arr *ArrayBufferWriter
}

// NewStringWriter wraps stream for text writes.
func NewStringWriter(stream *OutputStream) *StringWriter {
	return &StringWriter{arr: NewArrayBufferWriter(stream)}
}

// SendText encodes s as UTF-8 and transmits it, splitting as needed.
func (w *StringWriter) SendText(s string) error {
	return w.arr.SendData([]byte(s))
}

// SendEnd ends the underlying stream.
func (w *StringWriter) SendEnd() error {
	return w.arr.SendEnd()
}
