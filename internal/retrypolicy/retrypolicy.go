// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package retrypolicy decides whether a failed download attempt is worth
// retrying and when. All backoff constants live here and nowhere else.
package retrypolicy

import (
	"math/rand"
	"time"

	"github.com/ManuGH/podmirror/internal/errkind"
)

const (
	// baseDelay is the first retry delay before jitter.
	baseDelay = 30 * time.Second
	// maxDelay caps the exponential growth.
	maxDelay = time.Hour
)

// Decision is the outcome of consulting the policy after a failure.
type Decision struct {
	Retryable bool
	Delay     time.Duration // meaningful only when Retryable
}

// Decide evaluates a failure. attempts is the attempt count after the
// failure being classified (i.e. already incremented).
//
//   - Cancelled is never counted: the caller must not consult the policy
//     for cancellations; if it does, the answer is "not retryable" so no
//     terminal state is reached by accident.
//   - NotFound, Forbidden and Format are terminal.
//   - Network and Unknown retry with exponential backoff and jitter while
//     attempts < maxAttempts.
func Decide(attempts, maxAttempts int, kind errkind.Kind) Decision {
	if kind == errkind.Cancelled {
		return Decision{}
	}
	if kind.Terminal() {
		return Decision{}
	}
	if attempts >= maxAttempts {
		return Decision{}
	}
	return Decision{Retryable: true, Delay: backoff(attempts)}
}

// backoff computes min(cap, base * 2^(attempts-1)) scaled by a uniform
// jitter factor in [0.5, 1.5).
func backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := baseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(d) * jitter)
}
