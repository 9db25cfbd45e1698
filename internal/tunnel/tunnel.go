// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tunnel carries the instruction stream bidirectionally between the
// client and the server, over one of several transports (§4.D): a single
// persistent Websocket, an HTTP long-poll pair, or a Chained tunnel that
// tries a list of inner tunnels in order until one commits.
package tunnel

import (
	"context"
	"time"

	"github.com/nishisan-dev/guac-go/internal/protocol"
)

// State is a tunnel's lifecycle state (§3). CONNECTING is the initial
// state; CLOSED is terminal and absorbing.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DefaultReceiveTimeout is the default idle window (§4.D) after which a
// tunnel that has received nothing closes with UPSTREAM_TIMEOUT.
const DefaultReceiveTimeout = 15 * time.Second

// Tunnel is the capability every transport variant implements (§4.D). All
// callback setters must be called before Connect; implementations deliver
// callbacks serially, in wire order, from a single goroutine per tunnel.
type Tunnel interface {
	// Connect begins the handshake, carrying the opaque data payload.
	// The outcome is reported through OnState (and OnError on failure); a
	// failure to establish the underlying transport is also returned as
	// an error. Connect must not block past establishing the transport.
	Connect(ctx context.Context, data string) error

	// Disconnect gracefully closes the tunnel: State transitions to
	// CLOSED with protocol.StatusSuccess. Safe to call more than once.
	Disconnect() error

	// Send transmits one instruction. A no-op once the tunnel is not
	// OPEN.
	Send(opcode string, elements ...string) error

	// State reports the tunnel's current lifecycle state.
	State() State

	// OnState registers the callback invoked on every state transition.
	OnState(fn func(State))

	// OnError registers the callback invoked when the tunnel fails.
	// Always followed by a transition to CLOSED.
	OnError(fn func(protocol.Status))

	// OnInstruction registers the callback invoked, in wire order, for
	// every instruction the tunnel receives.
	OnInstruction(fn func(opcode string, elements []string))
}

// callbacks bundles the three user-supplied hooks shared by every
// transport variant, so each can embed this instead of repeating the
// plumbing.
type callbacks struct {
	onState       func(State)
	onError       func(protocol.Status)
	onInstruction func(opcode string, elements []string)
}

func (c *callbacks) OnState(fn func(State))                                  { c.onState = fn }
func (c *callbacks) OnError(fn func(protocol.Status))                        { c.onError = fn }
func (c *callbacks) OnInstruction(fn func(opcode string, elements []string)) { c.onInstruction = fn }

func (c *callbacks) fireState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *callbacks) fireError(code protocol.Status) {
	if c.onError != nil {
		c.onError(code)
	}
}

func (c *callbacks) fireInstruction(ins protocol.Instruction) {
	if c.onInstruction != nil {
		c.onInstruction(ins.Opcode, ins.Elements)
	}
}
