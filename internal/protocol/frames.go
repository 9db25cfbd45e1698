// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implements the wire framing for the Guacamole instruction
// stream: length-prefixed element encoding, an incremental parser, and the
// closed set of numeric status codes exchanged with the server.
package protocol

import "errors"

// Instruction is an opcode plus its ordered element list. On the wire the
// opcode is simply the first element; Encode/Parser split it back out.
type Instruction struct {
	Opcode   string
	Elements []string
}

// NewInstruction builds an Instruction from an opcode and its elements.
func NewInstruction(opcode string, elements ...string) Instruction {
	return Instruction{Opcode: opcode, Elements: elements}
}

// Errors returned by the codec and parser. All are protocol-class (§7):
// fatal to the tunnel that produced them.
var (
	ErrEmptyOpcode    = errors.New("protocol: opcode must not be empty")
	ErrProtocol       = errors.New("protocol: malformed instruction")
	ErrNonDigitLength = errors.New("protocol: non-digit element length")
	ErrBadTerminator  = errors.New("protocol: element terminator must be ',' or ';'")
)

// elementMore and elementEnd are the two valid element terminators (§3/§4.A).
const (
	elementMore = ','
	elementEnd  = ';'
)

// parserTruncateThreshold is the start_index value past which the Parser
// rebases its buffer to bound memory growth on a slow or partial stream
// (§4.B step 4).
const parserTruncateThreshold = 4096
