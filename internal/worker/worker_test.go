// SPDX-License-Identifier: MIT
package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/podmirror/internal/errkind"
	"github.com/ManuGH/podmirror/internal/ident"
	"github.com/ManuGH/podmirror/internal/pipeline"
	"github.com/ManuGH/podmirror/internal/queue"
	"github.com/ManuGH/podmirror/internal/retention"
	"github.com/ManuGH/podmirror/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRefresher counts sweeps, optionally holding each one open.
type fakeRefresher struct {
	calls atomic.Int64
	hold  chan struct{}
}

func (f *fakeRefresher) RefreshAll(ctx context.Context) error {
	f.calls.Add(1)
	if f.hold != nil {
		select {
		case <-ctx.Done():
		case <-f.hold:
		}
	}
	return nil
}

type fakeSweeper struct {
	calls atomic.Int64
}

func (f *fakeSweeper) SweepAll(context.Context) (retention.Result, error) {
	f.calls.Add(1)
	return retention.Result{}, nil
}

func TestRefreshWorkerRunsImmediatelyAndOnTick(t *testing.T) {
	r := &fakeRefresher{}
	s := &fakeSweeper{}
	w := NewRefreshWorker(r, s, nil, 30*time.Millisecond, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, s.calls.Load(), int64(1))
}

func TestRefreshWorkerSkipsOverlappingTicks(t *testing.T) {
	r := &fakeRefresher{hold: make(chan struct{})}
	s := &fakeSweeper{}
	w := NewRefreshWorker(r, s, nil, 20*time.Millisecond, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// The first sweep blocks; several tick intervals pass without a second run.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(1), r.calls.Load())

	// A manual trigger is also refused while busy.
	assert.False(t, w.TriggerNow(ctx))

	close(r.hold)
	cancel()
	<-done
}

// fakeRunner scripts pipeline outcomes per episode id.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes map[string]error
	bytes    int64
	runs     []string
}

func (f *fakeRunner) Run(_ context.Context, episodeID string) (pipeline.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, episodeID)
	if err := f.outcomes[episodeID]; err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.Outcome{Bytes: f.bytes}, nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type downloadFixture struct {
	st  *store.Store
	q   *queue.Service
	clk *ident.Manual
}

func newDownloadFixture(t *testing.T) *downloadFixture {
	t.Helper()
	clk := ident.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	st, err := store.OpenWithClock(filepath.Join(t.TempDir(), "test.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateChannel(context.Background(), &store.Channel{
		ID:        "C1",
		SourceURL: "src://C1",
		Title:     "Channel",
		KeepCount: 3,
		Format:    store.FormatAudio,
		Enabled:   true,
	}))
	return &downloadFixture{
		st:  st,
		q:   queue.NewService(st, clk, 3, zerolog.Nop()),
		clk: clk,
	}
}

func (fx *downloadFixture) seedQueued(t *testing.T, ext string) (*store.Episode, *store.QueueItem) {
	t.Helper()
	ctx := context.Background()
	ep := &store.Episode{ID: "E-" + ext, ChannelID: "C1", ExternalID: ext, Title: ext}
	require.NoError(t, fx.st.CreateEpisode(ctx, ep))
	qi, err := fx.q.Enqueue(ctx, ep.ID, 0)
	require.NoError(t, err)
	return ep, qi
}

func runWorkerUntil(t *testing.T, w *DownloadWorker, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestDownloadWorkerCompletesItem(t *testing.T) {
	fx := newDownloadFixture(t)
	ep, qi := fx.seedQueued(t, "v1")

	runner := &fakeRunner{outcomes: map[string]error{}, bytes: 42}
	w := NewDownloadWorker(fx.st, fx.q, runner, nil, nil, 2, 10*time.Millisecond, nil, zerolog.Nop())

	runWorkerUntil(t, w, func() bool {
		got, err := fx.st.GetQueueItem(context.Background(), qi.ID)
		return err == nil && got.Status == store.QueueCompleted
	})

	runner.mu.Lock()
	assert.Equal(t, []string{ep.ID}, runner.runs)
	runner.mu.Unlock()
}

func TestDownloadWorkerRetryableFailure(t *testing.T) {
	fx := newDownloadFixture(t)
	ep, qi := fx.seedQueued(t, "v1")

	runner := &fakeRunner{outcomes: map[string]error{
		ep.ID: errkind.Newf(errkind.Network, "fetcher.media", "reset"),
	}}
	w := NewDownloadWorker(fx.st, fx.q, runner, nil, nil, 1, 10*time.Millisecond, nil, zerolog.Nop())

	runWorkerUntil(t, w, func() bool {
		got, err := fx.st.GetQueueItem(context.Background(), qi.ID)
		return err == nil && got.Status == store.QueueRetrying
	})

	got, err := fx.st.GetQueueItem(context.Background(), qi.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.NextRetryAt)

	// Episode went back to pending while retries remain, with the attempt
	// recorded on the row.
	gotEp, err := fx.st.GetEpisode(context.Background(), ep.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EpisodePending, gotEp.Status)
	assert.Equal(t, 1, gotEp.RetryCount)
	assert.Contains(t, gotEp.LastError, "reset")
}

func TestDownloadWorkerTerminalFailure(t *testing.T) {
	fx := newDownloadFixture(t)
	ep, qi := fx.seedQueued(t, "v1")

	runner := &fakeRunner{outcomes: map[string]error{
		ep.ID: errkind.Newf(errkind.Forbidden, "fetcher.media", "private video"),
	}}
	w := NewDownloadWorker(fx.st, fx.q, runner, nil, nil, 1, 10*time.Millisecond, nil, zerolog.Nop())

	runWorkerUntil(t, w, func() bool {
		got, err := fx.st.GetQueueItem(context.Background(), qi.ID)
		return err == nil && got.Status == store.QueueFailed
	})

	gotEp, err := fx.st.GetEpisode(context.Background(), ep.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EpisodeFailed, gotEp.Status)
	assert.Contains(t, gotEp.LastError, "private video")
}

func TestDownloadWorkerSweepsRetentionAfterCompletion(t *testing.T) {
	fx := newDownloadFixture(t)
	ctx := context.Background()

	// Channel C1 keeps 3. Four already-completed episodes put it one over
	// budget; the oldest has an artifact on disk.
	oldFile := filepath.Join(t.TempDir(), "v0.mp3")
	require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o600))
	size := int64(3)
	for i, ext := range []string{"v0", "v1", "v2", "v3"} {
		pub := time.Date(2023, 12, 28+i, 0, 0, 0, 0, time.UTC)
		ep := &store.Episode{ID: "E-" + ext, ChannelID: "C1", ExternalID: ext, Title: ext, PublishedAt: &pub}
		require.NoError(t, fx.st.CreateEpisode(ctx, ep))
		art := store.Artifact{AudioSize: &size}
		if ext == "v0" {
			art.AudioPath = oldFile
		}
		require.NoError(t, fx.st.FinalizeEpisode(ctx, ep.ID, art, fx.clk.Now()))
	}

	_, qi := fx.seedQueued(t, "v9")
	runner := &fakeRunner{outcomes: map[string]error{}}
	sweeper := retention.NewService(fx.st, zerolog.Nop())
	w := NewDownloadWorker(fx.st, fx.q, runner, nil, sweeper, 1, 10*time.Millisecond, nil, zerolog.Nop())

	runWorkerUntil(t, w, func() bool {
		got, err := fx.st.GetQueueItem(context.Background(), qi.ID)
		return err == nil && got.Status == store.QueueCompleted
	})

	// Retention ran as part of the completion, not on some later cadence:
	// the over-budget episode is gone and its file removed.
	gotOld, err := fx.st.GetEpisode(ctx, "E-v0")
	require.NoError(t, err)
	assert.Equal(t, store.EpisodeDeleted, gotOld.Status)
	assert.NoFileExists(t, oldFile)

	counts, err := fx.st.CountEpisodesByStatus(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, counts[store.EpisodeCompleted], 3)
}

func TestDownloadWorkerReleasesOnCancellation(t *testing.T) {
	fx := newDownloadFixture(t)
	ep, qi := fx.seedQueued(t, "v1")

	runner := &fakeRunner{outcomes: map[string]error{
		ep.ID: errkind.New(errkind.Cancelled, "pipeline.acquire", context.Canceled),
	}}
	w := NewDownloadWorker(fx.st, fx.q, runner, nil, nil, 1, 10*time.Millisecond, nil, zerolog.Nop())

	runWorkerUntil(t, w, func() bool {
		got, err := fx.st.GetQueueItem(context.Background(), qi.ID)
		return err == nil && got.Status == store.QueuePending && runner.runCount() > 0
	})

	got, err := fx.st.GetQueueItem(context.Background(), qi.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Attempts)
}
