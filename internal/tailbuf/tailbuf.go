// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tailbuf captures the last lines of subprocess log output so error
// reports can carry a stderr tail without buffering the whole stream.
package tailbuf

import (
	"strings"
	"sync"
)

// LineRing is a thread-safe ring buffer for capturing the last N lines of
// log output.
type LineRing struct {
	mu    sync.RWMutex
	lines []string
	head  int
	size  int
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

// Write implements io.Writer to capture output. Input is split on newlines;
// empty lines are dropped. Partial lines across writes are treated as whole
// lines, which is sufficient for stderr logs.
func (r *LineRing) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// LastN returns the last N lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}

	// r.head is the next write position, so chronological order starts there
	// and wraps around.
	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// Tail returns the captured lines joined with newlines.
func (r *LineRing) Tail(n int) string {
	return strings.Join(r.LastN(n), "\n")
}
