// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"reflect"
	"testing"
)

func mustEncode(t *testing.T, opcode string, elements ...string) string {
	t.Helper()
	s, err := Encode(opcode, elements...)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return s
}

func TestParser_SingleInstructionWholeBuffer(t *testing.T) {
	wire := mustEncode(t, "sync", "1000")
	p := NewParser()
	got, err := p.Feed([]byte(wire))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	want := []Instruction{{Opcode: "sync", Elements: []string{"1000"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Feed: want %+v, got %+v", want, got)
	}
}

// TestParser_Incrementality is the §8 "framing incrementality" property:
// for any partition of the encoded bytes into chunks, feeding them
// sequentially must produce the same instructions as feeding it whole.
func TestParser_Incrementality(t *testing.T) {
	wire := mustEncode(t, "png", "1", "1", "1", "1") + mustEncode(t, "sync", "10")

	whole := NewParser()
	wantInsns, err := whole.Feed([]byte(wire))
	if err != nil {
		t.Fatalf("whole feed failed: %v", err)
	}

	for chunkSize := 1; chunkSize <= len(wire); chunkSize++ {
		p := NewParser()
		var got []Instruction
		for i := 0; i < len(wire); i += chunkSize {
			end := i + chunkSize
			if end > len(wire) {
				end = len(wire)
			}
			ins, err := p.Feed([]byte(wire[i:end]))
			if err != nil {
				t.Fatalf("chunk size %d: Feed failed: %v", chunkSize, err)
			}
			got = append(got, ins...)
		}
		if !reflect.DeepEqual(got, wantInsns) {
			t.Fatalf("chunk size %d: want %+v, got %+v", chunkSize, wantInsns, got)
		}
	}
}

func TestParser_ByteAtATime(t *testing.T) {
	wire := mustEncode(t, "name", "test")
	p := NewParser()
	var got []Instruction
	for i := 0; i < len(wire); i++ {
		ins, err := p.Feed([]byte{wire[i]})
		if err != nil {
			t.Fatalf("Feed failed at byte %d: %v", i, err)
		}
		got = append(got, ins...)
	}
	want := []Instruction{{Opcode: "name", Elements: []string{"test"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("want %+v, got %+v", want, got)
	}
}

func TestParser_NonDigitLength(t *testing.T) {
	p := NewParser()
	if _, err := p.Feed([]byte("4a.sync;")); err == nil {
		t.Fatal("expected ErrNonDigitLength")
	}
}

func TestParser_BadTerminator(t *testing.T) {
	p := NewParser()
	if _, err := p.Feed([]byte("4.sync:")); err == nil {
		t.Fatal("expected ErrBadTerminator")
	}
}

func TestParser_MultiByteElement(t *testing.T) {
	p := NewParser()
	got, err := p.Feed([]byte("4.name,3.世;"))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	want := []Instruction{{Opcode: "name", Elements: []string{"世"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("want %+v, got %+v", want, got)
	}
}

// TestParser_TruncationBounded is the §8 end-to-end scenario 4: 10000
// minimal instructions fed a single byte at a time must all be emitted,
// and the parser's retained buffer must stay small afterwards.
func TestParser_TruncationBounded(t *testing.T) {
	const n = 10000
	wire := ""
	for i := 0; i < n; i++ {
		wire += mustEncode(t, "sync", "0")
	}

	p := NewParser()
	count := 0
	for i := 0; i < len(wire); i++ {
		ins, err := p.Feed([]byte{wire[i]})
		if err != nil {
			t.Fatalf("Feed failed at byte %d: %v", i, err)
		}
		count += len(ins)
	}

	if count != n {
		t.Fatalf("expected %d instructions, got %d", n, count)
	}
	if len(p.buf) > parserTruncateThreshold+64 {
		t.Errorf("parser buffer grew unbounded: %d bytes retained", len(p.buf))
	}
}

func TestParser_MultipleInstructionsOneFeed(t *testing.T) {
	wire := mustEncode(t, "a", "1") + mustEncode(t, "b", "2") + mustEncode(t, "c", "3")
	p := NewParser()
	got, err := p.Feed([]byte(wire))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 instructions, got %d", len(got))
	}
	if got[0].Opcode != "a" || got[1].Opcode != "b" || got[2].Opcode != "c" {
		t.Errorf("instructions out of order: %+v", got)
	}
}
