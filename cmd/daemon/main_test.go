// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/podmirror/internal/config"
)

// testConfig returns a minimal valid config rooted in a temp dir with an
// ephemeral listen port.
func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.DownloadDir = t.TempDir()
	cfg.TempDir = t.TempDir()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.PollInterval = time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRunStartsAndShutsDown(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, zerolog.Nop())
	}()

	// Give the servers and workers a moment to come up, then stop.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}
}

func TestRunWithMetricsListener(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, zerolog.Nop())
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}
}
