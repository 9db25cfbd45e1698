// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package muxstream multiplexes named byte streams (clipboard, file, audio,
// video, pipe, and named objects) over the same instruction stream the
// Client dispatches drawing opcodes from (§4.E/F/G).
package muxstream

import "sync"

// IndexPool hands out a dense, reusable set of non-negative integer stream
// indices (§4.E). next() returns a freed index if one is available,
// otherwise grows monotonically; free() returns an index to the pool with
// no ordering guarantee across a subsequent next().
//
// This implementation is LIFO: the most recently freed index is the next
// one handed out, which keeps a bursty stream workload reusing a small
// working set of indices instead of growing unboundedly.
type IndexPool struct {
	mu   sync.Mutex
	next int
	free []int
}

// NewIndexPool returns an empty pool whose first allocation is 0.
func NewIndexPool() *IndexPool {
	return &IndexPool{}
}

// Next allocates an index: reuses the most recently freed one if any,
// otherwise returns the next unused integer.
func (p *IndexPool) Next() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		return idx
	}
	idx := p.next
	p.next++
	return idx
}

// Free returns idx to the pool for reuse by a subsequent Next call.
func (p *IndexPool) Free(idx int) {
	p.mu.Lock()
	p.free = append(p.free, idx)
	p.mu.Unlock()
}
