// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gate bounds the number of simultaneous pipeline executions.
package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting semaphore with FIFO waiters and an observable active
// count. Permits are not re-entrant.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
	active   atomic.Int64
}

// New creates a gate with the given capacity (must be >= 1).
func New(capacity int) (*Gate, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("gate capacity must be >= 1, got %d", capacity)
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}, nil
}

// Permit is a held slot. Release must be called exactly once on every exit
// path; further calls are no-ops.
type Permit struct {
	g    *Gate
	once sync.Once
}

// Release returns the permit to the gate.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.g.active.Add(-1)
		p.g.sem.Release(1)
	})
}

// Acquire blocks until a slot is free or ctx is cancelled. Waiters are
// served in FIFO order.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.active.Add(1)
	return &Permit{g: g}, nil
}

// ActiveCount reports the number of currently held permits.
func (g *Gate) ActiveCount() int {
	return int(g.active.Load())
}

// Capacity reports the configured bound.
func (g *Gate) Capacity() int {
	return g.capacity
}
