// SPDX-License-Identifier: MIT
package tailbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)
	_, _ = r.Write([]byte("one\ntwo\n"))
	_, _ = r.Write([]byte("three\nfour\n"))

	assert.Equal(t, []string{"two", "three", "four"}, r.LastN(3))
	assert.Equal(t, []string{"four"}, r.LastN(1))
	assert.Equal(t, "two\nthree\nfour", r.Tail(10))
}

func TestLineRingEmpty(t *testing.T) {
	r := NewLineRing(4)
	assert.Empty(t, r.LastN(4))
	assert.Empty(t, r.Tail(4))
}

func TestLineRingDefaultsCapacity(t *testing.T) {
	r := NewLineRing(0)
	_, _ = r.Write([]byte("x\n"))
	assert.Equal(t, []string{"x"}, r.LastN(1))
}
