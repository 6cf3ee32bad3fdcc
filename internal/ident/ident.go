// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ident provides opaque entity identifiers and an injectable clock.
package ident

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewID returns a new opaque entity identifier.
func NewID() string {
	return uuid.NewString()
}

// NewNonce returns a short random token suitable for temp-file names.
func NewNonce() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Clock abstracts wall time so services can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the real wall clock (UTC).
func System() Clock { return systemClock{} }

// Manual is a test clock whose time only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}
