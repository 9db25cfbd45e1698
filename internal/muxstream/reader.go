// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package muxstream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nishisan-dev/guac-go/internal/protocol"
)

// ArrayBufferReader decodes each inbound base64 blob into raw bytes and
// hands them to onData, in order (§4.F). It does not ack automatically —
// callers that want auto-ack semantics should use BlobReader instead.
type ArrayBufferReader struct {
	stream *InputStream
	onData func([]byte)
}

// NewArrayBufferReader wraps stream, decoding every blob it receives.
func NewArrayBufferReader(stream *InputStream) *ArrayBufferReader {
	r := &ArrayBufferReader{stream: stream}
	stream.OnBlob(r.handleBlob)
	return r
}

// OnData registers the callback invoked with each blob's decoded bytes.
func (r *ArrayBufferReader) OnData(fn func([]byte)) { r.onData = fn }

// OnEnd registers the callback invoked when the stream ends.
func (r *ArrayBufferReader) OnEnd(fn func()) { r.stream.OnEnd(fn) }

func (r *ArrayBufferReader) handleBlob(base64Text string) {
	data, err := base64.StdEncoding.DecodeString(base64Text)
	if err != nil {
		// Malformed base64 from the server is a stream-local error (§7):
		// the blob is dropped (onData is not called) rather than killing
		// the tunnel.
		return
	}
	if r.onData != nil {
		r.onData(data)
	}
}

// StringReader decodes inbound blobs as UTF-8 text, using a rolling
// multi-byte accumulator so a codepoint split across two blobs still
// decodes correctly (§4.F/§4.G).
type StringReader struct {
	arr     *ArrayBufferReader
	decoder *utf8Decoder
	onText  func(string)
}

// NewStringReader wraps stream, decoding every blob it receives as UTF-8.
func NewStringReader(stream *InputStream) *StringReader {
	r := &StringReader{decoder: newUTF8Decoder()}
	r.arr = NewArrayBufferReader(stream)
	r.arr.OnData(r.handleData)
	return r
}

// OnText registers the callback invoked with each blob's decoded text.
func (r *StringReader) OnText(fn func(string)) { r.onText = fn }

// OnEnd registers the callback invoked when the stream ends.
func (r *StringReader) OnEnd(fn func()) { r.arr.OnEnd(fn) }

func (r *StringReader) handleData(data []byte) {
	r.decoder.Write(data)
	text := r.decoder.Take()
	if text != "" && r.onText != nil {
		r.onText(text)
	}
}

// BlobReader accumulates an entire stream into one binary blob of a given
// mimetype, acknowledging every blob it receives with "OK"/SUCCESS as it
// goes (§4.F).
type BlobReader struct {
	arr      *ArrayBufferReader
	stream   *InputStream
	mimetype string
	data     []byte
	onEnd    func([]byte, string)
}

// NewBlobReader wraps stream, accumulating a single blob of the given
// mimetype and acking each chunk OK.
func NewBlobReader(stream *InputStream, mimetype string) *BlobReader {
	r := &BlobReader{stream: stream, mimetype: mimetype}
	r.arr = NewArrayBufferReader(stream)
	r.arr.OnData(r.handleData)
	r.arr.OnEnd(r.handleEnd)
	return r
}

// OnComplete registers the callback invoked with the fully assembled blob
// and its mimetype once the stream ends.
func (r *BlobReader) OnComplete(fn func(data []byte, mimetype string)) { r.onEnd = fn }

func (r *BlobReader) handleData(data []byte) {
	r.data = append(r.data, data...)
	r.stream.Ack("OK", protocol.StatusSuccess)
}

func (r *BlobReader) handleEnd() {
	if r.onEnd != nil {
		r.onEnd(r.data, r.mimetype)
	}
}

// DataURIReader accumulates base64 text verbatim onto a
// "data:<mime>;base64," prefix (§4.F). Callers (the server) must only send
// whole 3-byte groups per blob except possibly the last, so concatenating
// the base64 text directly — without re-decoding/re-encoding — is valid.
type DataURIReader struct {
	stream   *InputStream
	mimetype string
	text     strings.Builder
	onEnd    func(dataURI string)
}

// NewDataURIReader wraps stream, building a data: URI of the given
// mimetype from the concatenated base64 text of every blob.
func NewDataURIReader(stream *InputStream, mimetype string) *DataURIReader {
	r := &DataURIReader{stream: stream, mimetype: mimetype}
	r.text.WriteString(fmt.Sprintf("data:%s;base64,", mimetype))
	stream.OnBlob(r.handleBlob)
	stream.OnEnd(r.handleEnd)
	return r
}

// OnComplete registers the callback invoked with the assembled data URI
// once the stream ends.
func (r *DataURIReader) OnComplete(fn func(dataURI string)) { r.onEnd = fn }

func (r *DataURIReader) handleBlob(base64Text string) {
	r.text.WriteString(base64Text)
	r.stream.Ack("OK", protocol.StatusSuccess)
}

func (r *DataURIReader) handleEnd() {
	if r.onEnd != nil {
		r.onEnd(r.text.String())
	}
}

// JSONReader wraps StringReader, parsing the accumulated text as JSON once
// the stream ends (§4.F). The raw text and the json.Unmarshal error, if
// any, are handed to the OnComplete callback.
type JSONReader struct {
	str   *StringReader
	text  strings.Builder
	onEnd func(raw []byte, err error)
}

// NewJSONReader wraps stream, assembling its text and parsing it as JSON
// on end.
func NewJSONReader(stream *InputStream) *JSONReader {
	r := &JSONReader{}
	r.str = NewStringReader(stream)
	r.str.OnText(func(s string) { r.text.WriteString(s) })
	r.str.OnEnd(r.handleEnd)
	return r
}

// OnComplete registers the callback invoked with the raw JSON text and any
// unmarshal error once the stream ends. Callers typically re-unmarshal raw
// into their own destination type.
func (r *JSONReader) OnComplete(fn func(raw []byte, err error)) { r.onEnd = fn }

func (r *JSONReader) handleEnd() {
	raw := []byte(r.text.String())
	var probe json.RawMessage
	err := json.Unmarshal(raw, &probe)
	if r.onEnd != nil {
		r.onEnd(raw, err)
	}
}
