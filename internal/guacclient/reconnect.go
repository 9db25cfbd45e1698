// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package guacclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RetryPolicy configures RunWithReconnect's backoff (SPEC_FULL.md
// supplement #1 — reconnect policy; config.RetryInfo carries this from
// YAML). MaxAttempts of 0 means retry forever.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// RunWithReconnect calls dial to build and Connect a fresh Client, waits
// for it to reach StateDisconnected, and dials again with exponential
// backoff — doubling InitialDelay up to MaxDelay, and resetting to
// InitialDelay after any connection that reaches CONNECTED. It returns
// when ctx is cancelled or, if MaxAttempts is positive, once that many
// consecutive dial failures have occurred without an intervening
// CONNECTED state.
//
// dial is expected to construct the Tunnel/Display/Client trio, register
// whatever handlers the caller needs, and call Client.Connect before
// returning — mirroring the reconnect loop a persistent control channel
// runs, just rebuilding the whole client each attempt instead of reusing
// one connection.
func RunWithReconnect(ctx context.Context, policy RetryPolicy, dial func(ctx context.Context) (*Client, error)) error {
	policy = policy.withDefaults()
	delay := policy.InitialDelay
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c, err := dial(ctx)
		if err != nil {
			attempts++
			if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
				return fmt.Errorf("guacclient: reconnect attempts exhausted: %w", err)
			}
			if !sleepOrDone(ctx, delay) {
				return ctx.Err()
			}
			delay = nextDelay(delay, policy.MaxDelay)
			continue
		}

		reached := waitUntilDisconnected(ctx, c)
		if reached {
			attempts = 0
			delay = policy.InitialDelay
		} else {
			attempts++
			if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
				return fmt.Errorf("guacclient: reconnect attempts exhausted after disconnect")
			}
		}

		if !sleepOrDone(ctx, delay) {
			return ctx.Err()
		}
		if !reached {
			delay = nextDelay(delay, policy.MaxDelay)
		}
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// waitUntilDisconnected blocks until c reaches StateDisconnected or ctx is
// cancelled, chaining any state-change callback the caller already
// registered. It reports whether the client ever reached StateConnected,
// so the backoff can reset after a connection that actually worked.
func waitUntilDisconnected(ctx context.Context, c *Client) (reachedConnected bool) {
	done := make(chan struct{})
	var closeOnce sync.Once
	var mu sync.Mutex

	mark := func(s State) {
		if s == StateConnected {
			mu.Lock()
			reachedConnected = true
			mu.Unlock()
		}
		if s == StateDisconnected {
			closeOnce.Do(func() { close(done) })
		}
	}

	// The client may already have reached CONNECTED, or even cycled all
	// the way to DISCONNECTED, synchronously inside dial before this
	// wrapper is installed (a scripted/fake tunnel can fire every state
	// transition inline). Check the current state before wrapping so
	// that race isn't mistaken for a dial that never connected.
	mark(c.State())

	prev := c.onStateChange
	c.SetOnStateChange(func(s State) {
		if prev != nil {
			prev(s)
		}
		mark(s)
	})

	// Re-check after wrapping in case the transition happened between
	// the first check and SetOnStateChange taking effect.
	mark(c.State())

	select {
	case <-ctx.Done():
	case <-done:
	}

	mu.Lock()
	defer mu.Unlock()
	return reachedConnected
}
