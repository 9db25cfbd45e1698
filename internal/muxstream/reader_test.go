// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package muxstream

import (
	"encoding/base64"
	"testing"
)

func TestArrayBufferReader_DecodesBlobs(t *testing.T) {
	in := NewInputStream(1, &fakeSender{})
	r := NewArrayBufferReader(in)

	var got []byte
	r.OnData(func(b []byte) { got = append(got, b...) })

	in.HandleBlob(base64.StdEncoding.EncodeToString([]byte("hello ")))
	in.HandleBlob(base64.StdEncoding.EncodeToString([]byte("world")))

	if string(got) != "hello world" {
		t.Fatalf("decoded = %q, want %q", got, "hello world")
	}
}

func TestArrayBufferReader_MalformedBase64Ignored(t *testing.T) {
	in := NewInputStream(1, &fakeSender{})
	r := NewArrayBufferReader(in)

	called := false
	r.OnData(func(b []byte) { called = true })
	in.HandleBlob("not valid base64!!")

	if called {
		t.Fatal("onData invoked for malformed base64")
	}
}

func TestArrayBufferReader_OnEnd(t *testing.T) {
	in := NewInputStream(1, &fakeSender{})
	r := NewArrayBufferReader(in)
	called := false
	r.OnEnd(func() { called = true })
	in.HandleEnd()
	if !called {
		t.Fatal("onEnd not invoked")
	}
}

func TestStringReader_DecodesAcrossBlobBoundary(t *testing.T) {
	in := NewInputStream(1, &fakeSender{})
	r := NewStringReader(in)

	full := []byte("世") // 3 bytes
	var got string
	r.OnText(func(s string) { got += s })

	in.HandleBlob(base64.StdEncoding.EncodeToString(full[:2]))
	in.HandleBlob(base64.StdEncoding.EncodeToString(full[2:]))

	if got != "世" {
		t.Fatalf("decoded text = %q, want %q", got, "世")
	}
}

func TestBlobReader_AccumulatesAndAcksEachChunk(t *testing.T) {
	fs := &fakeSender{}
	in := NewInputStream(2, fs)
	r := NewBlobReader(in, "application/octet-stream")

	var gotData []byte
	var gotMime string
	r.OnComplete(func(data []byte, mimetype string) {
		gotData = data
		gotMime = mimetype
	})

	in.HandleBlob(base64.StdEncoding.EncodeToString([]byte("abc")))
	in.HandleBlob(base64.StdEncoding.EncodeToString([]byte("def")))
	in.HandleEnd()

	if string(gotData) != "abcdef" {
		t.Fatalf("data = %q, want %q", gotData, "abcdef")
	}
	if gotMime != "application/octet-stream" {
		t.Fatalf("mimetype = %q", gotMime)
	}
	if len(fs.sent) != 2 {
		t.Fatalf("sent %d acks, want 2", len(fs.sent))
	}
	for _, ins := range fs.sent {
		if ins[0] != "ack" {
			t.Fatalf("instruction = %v, want ack", ins)
		}
	}
}

func TestDataURIReader_BuildsDataURI(t *testing.T) {
	fs := &fakeSender{}
	in := NewInputStream(3, fs)
	r := NewDataURIReader(in, "image/png")

	var got string
	r.OnComplete(func(dataURI string) { got = dataURI })

	b64 := base64.StdEncoding.EncodeToString([]byte("pngdata"))
	in.HandleBlob(b64)
	in.HandleEnd()

	want := "data:image/png;base64," + b64
	if got != want {
		t.Fatalf("data URI = %q, want %q", got, want)
	}
}

func TestJSONReader_ParsesAccumulatedText(t *testing.T) {
	in := NewInputStream(4, &fakeSender{})
	r := NewJSONReader(in)

	var gotRaw []byte
	var gotErr error
	r.OnComplete(func(raw []byte, err error) {
		gotRaw = raw
		gotErr = err
	})

	in.HandleBlob(base64.StdEncoding.EncodeToString([]byte(`{"a":`)))
	in.HandleBlob(base64.StdEncoding.EncodeToString([]byte(`1}`)))
	in.HandleEnd()

	if gotErr != nil {
		t.Fatalf("unmarshal error = %v", gotErr)
	}
	if string(gotRaw) != `{"a":1}` {
		t.Fatalf("raw = %q, want %q", gotRaw, `{"a":1}`)
	}
}

func TestJSONReader_InvalidJSONReportsError(t *testing.T) {
	in := NewInputStream(4, &fakeSender{})
	r := NewJSONReader(in)

	var gotErr error
	r.OnComplete(func(raw []byte, err error) { gotErr = err })

	in.HandleBlob(base64.StdEncoding.EncodeToString([]byte(`not json`)))
	in.HandleEnd()

	if gotErr == nil {
		t.Fatal("expected unmarshal error for invalid JSON")
	}
}
