// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package muxstream

import (
	"strconv"

	"github.com/nishisan-dev/guac-go/internal/protocol"
)

// MaxBlobBytes is the largest binary payload carried by a single blob
// instruction (§4.F/§6): 8064 bytes, which base64-encodes to exactly 10752
// bytes with no padding.
const MaxBlobBytes = 8064

// Sender is the thin outbound primitive both stream kinds need: encode and
// send an instruction over whatever Tunnel currently owns the connection.
// guacclient.Client satisfies this by forwarding to its Tunnel's Send, which
// does the encoding.
type Sender interface {
	Send(opcode string, elements ...string) error
}

// InputStream carries inbound base64 blobs and an end signal from the
// server to the client (§3/§4.F). The holder (a Reader, or the caller
// directly) must Ack each blob it consumes; an error-class ack destroys the
// stream.
type InputStream struct {
	Index int

	sender Sender

	onBlob func(base64Text string)
	onEnd  func()
}

// NewInputStream allocates an input stream bound to idx, using sender to
// transmit acknowledgements back to the server.
func NewInputStream(idx int, sender Sender) *InputStream {
	return &InputStream{Index: idx, sender: sender}
}

// OnBlob registers the callback invoked for every inbound blob.
func (s *InputStream) OnBlob(fn func(base64Text string)) { s.onBlob = fn }

// OnEnd registers the callback invoked when the server ends the stream.
func (s *InputStream) OnEnd(fn func()) { s.onEnd = fn }

// HandleBlob dispatches an inbound blob to the registered callback, if any.
func (s *InputStream) HandleBlob(base64Text string) {
	if s.onBlob != nil {
		s.onBlob(base64Text)
	}
}

// HandleEnd dispatches the stream's end signal to the registered callback.
func (s *InputStream) HandleEnd() {
	if s.onEnd != nil {
		s.onEnd()
	}
}

// Ack acknowledges the most recent blob with message/code. A code ≥
// 0x0100 (error-class, §3) signals the caller's intent to destroy the
// stream; it is the caller's (Client's) responsibility to drop it from the
// owning table afterwards — Ack itself only sends the wire instruction.
func (s *InputStream) Ack(message string, code protocol.Status) error {
	if s.sender == nil {
		return nil
	}
	return s.sender.Send("ack", strconv.Itoa(s.Index), message, strconv.Itoa(int(code)))
}

// OutputStream carries outbound base64 blobs and an end signal from the
// client to the server (§3/§4.F): clipboard, file, pipe, object body, and
// put transfers all produce one of these.
type OutputStream struct {
	Index int

	sender Sender
	onAck  func(status protocol.Status, message string)
}

// NewOutputStream allocates an output stream bound to idx.
func NewOutputStream(idx int, sender Sender) *OutputStream {
	return &OutputStream{Index: idx, sender: sender}
}

// OnAck registers the callback invoked when the server acknowledges a blob
// or the stream itself.
func (s *OutputStream) OnAck(fn func(status protocol.Status, message string)) { s.onAck = fn }

// HandleAck dispatches an inbound ack to the registered callback. It
// reports whether the ack was error-class, so the caller (Client) knows to
// free the stream's index and drop it from its table (§4.F).
func (s *OutputStream) HandleAck(status protocol.Status, message string) bool {
	if s.onAck != nil {
		s.onAck(status, message)
	}
	return protocol.IsError(status)
}

// SendBlob transmits one base64-encoded blob instruction. Callers sending
// raw binary should go through ArrayBufferWriter instead, which splits
// payloads larger than MaxBlobBytes automatically.
func (s *OutputStream) SendBlob(base64Text string) error {
	if s.sender == nil {
		return nil
	}
	return s.sender.Send("blob", strconv.Itoa(s.Index), base64Text)
}

// SendEnd signals that no further blobs will be sent on this stream.
func (s *OutputStream) SendEnd() error {
	if s.sender == nil {
		return nil
	}
	return s.sender.Send("end", strconv.Itoa(s.Index))
}
