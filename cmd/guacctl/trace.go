// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"github.com/nishisan-dev/guac-go/internal/logging"
	"github.com/nishisan-dev/guac-go/internal/tunnel"
)

// tracingTunnel wraps a Tunnel, recording every inbound/outbound
// instruction to a TraceCapture while forwarding everything else
// untouched.
type tracingTunnel struct {
	tunnel.Tunnel
	capture *logging.TraceCapture
}

// wireTrace replaces the guacclient.Client-visible tunnel with one that
// mirrors every instruction into capture before the caller installs its
// own OnInstruction handler.
func wireTrace(tun tunnel.Tunnel, capture *logging.TraceCapture) tunnel.Tunnel {
	return &tracingTunnel{Tunnel: tun, capture: capture}
}

func (t *tracingTunnel) Send(opcode string, elements ...string) error {
	t.capture.RecordOutbound(opcode, elements)
	return t.Tunnel.Send(opcode, elements...)
}

func (t *tracingTunnel) OnInstruction(fn func(opcode string, elements []string)) {
	t.Tunnel.OnInstruction(func(opcode string, elements []string) {
		t.capture.RecordInbound(opcode, elements)
		fn(opcode, elements)
	})
}
