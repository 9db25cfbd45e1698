// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/guac-go/internal/protocol"
)

// ChainedTunnel tries a list of inner tunnels in order, committing to the
// first one that reaches OPEN or delivers an instruction, and forwarding
// that tunnel's callbacks verbatim thereafter (§4.D.3).
//
// It never tries another tunnel after an UPSTREAM_TIMEOUT failure — that
// failure drops the whole remaining list, per the corrected behaviour
// decided in place of the original implementation's numeric-code bug (see
// the design notes on Chained Tunnel error propagation).
type ChainedTunnel struct {
	callbacks

	logger *slog.Logger

	mu        sync.Mutex
	remaining []Tunnel
	current   Tunnel
	committed bool
	state     State
}

// NewChainedTunnel returns a tunnel that attempts inner, in order, until
// one commits.
func NewChainedTunnel(logger *slog.Logger, inner ...Tunnel) *ChainedTunnel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainedTunnel{
		logger:    logger.With("component", "chained_tunnel"),
		remaining: append([]Tunnel(nil), inner...),
		state:     StateConnecting,
	}
}

func (t *ChainedTunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *ChainedTunnel) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.fireState(s)
}

// Connect tries the first inner tunnel, falling through to the next one on
// failure until the list is exhausted.
func (t *ChainedTunnel) Connect(ctx context.Context, data string) error {
	return t.tryNext(ctx, data)
}

func (t *ChainedTunnel) tryNext(ctx context.Context, data string) error {
	t.mu.Lock()
	if len(t.remaining) == 0 {
		t.mu.Unlock()
		t.setState(StateClosed)
		t.fireError(protocol.StatusUpstreamError)
		return fmt.Errorf("tunnel: all chained tunnels exhausted")
	}
	next := t.remaining[0]
	t.remaining = t.remaining[1:]
	t.current = next
	t.mu.Unlock()

	next.OnState(func(s State) { t.handleInnerState(ctx, data, next, s) })
	next.OnError(func(code protocol.Status) { t.handleInnerError(ctx, data, next, code) })
	next.OnInstruction(func(opcode string, elements []string) {
		t.handleInnerInstruction(next, opcode, elements)
	})

	return next.Connect(ctx, data)
}

func (t *ChainedTunnel) isCurrent(candidate Tunnel) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current == candidate
}

func (t *ChainedTunnel) handleInnerState(ctx context.Context, data string, inner Tunnel, s State) {
	if !t.isCurrent(inner) {
		return
	}

	t.mu.Lock()
	committed := t.committed
	t.mu.Unlock()

	if committed {
		t.fireState(s)
		return
	}

	switch s {
	case StateOpen:
		t.commit(inner)
		t.fireState(s)
	case StateClosed:
		// A plain close before commit (no timeout) advances to the next
		// inner tunnel; handleInnerError already handles the timeout
		// case by not calling tryNext.
		t.logger.Info("chained tunnel: inner tunnel closed before commit, trying next")
		_ = t.tryNext(ctx, data)
	}
}

func (t *ChainedTunnel) handleInnerError(ctx context.Context, data string, inner Tunnel, code protocol.Status) {
	if !t.isCurrent(inner) {
		return
	}

	t.mu.Lock()
	committed := t.committed
	t.mu.Unlock()

	if committed {
		t.fireError(code)
		return
	}

	if code == protocol.StatusUpstreamTimeout {
		t.logger.Warn("chained tunnel: upstream timeout, not trying remaining tunnels")
		t.setState(StateClosed)
		t.fireError(code)
		return
	}

	t.logger.Warn("chained tunnel: inner tunnel error before commit, trying next", "error", code)
	if err := t.tryNext(ctx, data); err != nil {
		t.fireError(code)
	}
}

func (t *ChainedTunnel) handleInnerInstruction(inner Tunnel, opcode string, elements []string) {
	if !t.isCurrent(inner) {
		return
	}

	t.mu.Lock()
	committed := t.committed
	t.mu.Unlock()

	if !committed {
		t.commit(inner)
	}

	if t.onInstruction != nil {
		t.onInstruction(opcode, elements)
	}
}

func (t *ChainedTunnel) commit(inner Tunnel) {
	t.mu.Lock()
	t.committed = true
	t.state = StateOpen
	t.mu.Unlock()
	t.logger.Info("chained tunnel: committed")
}

// Disconnect forwards to the current inner tunnel (committed or not).
func (t *ChainedTunnel) Disconnect() error {
	t.mu.Lock()
	current := t.current
	t.mu.Unlock()

	t.setState(StateClosed)
	if current == nil {
		return nil
	}
	return current.Disconnect()
}

// Send forwards to the current inner tunnel; a no-op before any tunnel is
// current.
func (t *ChainedTunnel) Send(opcode string, elements ...string) error {
	t.mu.Lock()
	current := t.current
	t.mu.Unlock()

	if current == nil {
		return nil
	}
	return current.Send(opcode, elements...)
}
