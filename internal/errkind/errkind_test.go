// SPDX-License-Identifier: MIT
package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Kind("")},
		{"direct", New(Network, "fetch", errors.New("timeout")), Network},
		{"wrapped", fmt.Errorf("pipeline: %w", New(Forbidden, "fetch", errors.New("403"))), Forbidden},
		{"context canceled", context.Canceled, Cancelled},
		{"deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), Cancelled},
		{"plain", errors.New("boom"), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestTerminal(t *testing.T) {
	for _, k := range []Kind{NotFound, Forbidden, Format} {
		assert.True(t, k.Terminal(), string(k))
	}
	for _, k := range []Kind{Network, Unknown, Cancelled, Conflict, Validation, Fatal} {
		assert.False(t, k.Terminal(), string(k))
	}
}

func TestErrorMessageCarriesCause(t *testing.T) {
	err := New(Format, "transcode", errors.New("invalid data found when processing input"))
	assert.Contains(t, err.Error(), "transcode")
	assert.Contains(t, err.Error(), "invalid data")
	assert.True(t, errors.Is(err, New(Format, "", nil)))
}
