// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"strconv"
	"strings"
)

// Encode renders an instruction in wire form: each element is written as
// "<byte-length>.<utf8-bytes>", elements are joined with ",", and the whole
// instruction is terminated with ";". Length counts UTF-8 code units, not
// codepoints, so that multi-byte text (e.g. "世") frames correctly.
func Encode(opcode string, elements ...string) (string, error) {
	if opcode == "" {
		return "", ErrEmptyOpcode
	}

	var b strings.Builder
	all := make([]string, 0, len(elements)+1)
	all = append(all, opcode)
	all = append(all, elements...)

	for i, el := range all {
		if i > 0 {
			b.WriteByte(elementMore)
		}
		b.WriteString(strconv.Itoa(len(el)))
		b.WriteByte('.')
		b.WriteString(el)
	}
	b.WriteByte(elementEnd)
	return b.String(), nil
}

// EncodeInstruction is a convenience wrapper around Encode for an
// already-built Instruction value.
func EncodeInstruction(ins Instruction) (string, error) {
	return Encode(ins.Opcode, ins.Elements...)
}
