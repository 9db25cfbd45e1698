// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package muxstream

import "testing"

func TestUTF8Decoder_ASCII(t *testing.T) {
	d := newUTF8Decoder()
	d.Write([]byte("hello"))
	if got := d.Take(); got != "hello" {
		t.Fatalf("Take() = %q, want %q", got, "hello")
	}
}

func TestUTF8Decoder_MultiByteSplitAcrossWrites(t *testing.T) {
	// "世" is 0xE4 0xB8 0x96 in UTF-8.
	full := []byte("世")
	d := newUTF8Decoder()
	for _, b := range full {
		d.writeByte(b)
	}
	if got := d.Take(); got != "世" {
		t.Fatalf("Take() = %q, want %q", got, "世")
	}
}

func TestUTF8Decoder_SplitAcrossTwoWrites(t *testing.T) {
	full := []byte("世")
	d := newUTF8Decoder()
	d.Write(full[:1])
	if got := d.Take(); got != "" {
		t.Fatalf("Take() after partial sequence = %q, want empty", got)
	}
	d.Write(full[1:])
	if got := d.Take(); got != "世" {
		t.Fatalf("Take() after completing sequence = %q, want %q", got, "世")
	}
}

func TestUTF8Decoder_InvalidLeadingByteSubstituted(t *testing.T) {
	d := newUTF8Decoder()
	d.Write([]byte{0xFF, 'a'})
	got := d.Take()
	want := "�a"
	if got != want {
		t.Fatalf("Take() = %q, want %q", got, want)
	}
}

func TestUTF8Decoder_TruncatedContinuationReprocessed(t *testing.T) {
	// 0xE4 starts a 3-byte sequence; 'a' is not a continuation byte, so the
	// decoder must emit U+FFFD for the truncated sequence and then decode
	// 'a' normally rather than swallowing it.
	d := newUTF8Decoder()
	d.Write([]byte{0xE4, 'a'})
	got := d.Take()
	want := "�a"
	if got != want {
		t.Fatalf("Take() = %q, want %q", got, want)
	}
}

func TestUTF8Encoder_RoundTrips(t *testing.T) {
	e := newUTF8Encoder()
	e.WriteString("hello, 世界")
	got := string(e.Flush())
	want := "hello, 世界"
	if got != want {
		t.Fatalf("Flush() = %q, want %q", got, want)
	}
}

func TestUTF8Encoder_OutOfRangeSubstituted(t *testing.T) {
	e := newUTF8Encoder()
	e.WriteRune(0x200000) // beyond the 4-byte sequence's representable range
	got := string(e.Flush())
	if got != "�" {
		t.Fatalf("Flush() = %q, want U+FFFD", got)
	}
}

func TestUTF8Encoder_FlushResets(t *testing.T) {
	e := newUTF8Encoder()
	e.WriteString("a")
	_ = e.Flush()
	e.WriteString("b")
	if got := string(e.Flush()); got != "b" {
		t.Fatalf("Flush() after reset = %q, want %q", got, "b")
	}
}
