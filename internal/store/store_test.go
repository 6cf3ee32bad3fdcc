// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/podmirror/internal/ident"
)

func newTestStore(t *testing.T) (*Store, *ident.Manual) {
	t.Helper()
	clk := ident.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s, err := OpenWithClock(filepath.Join(t.TempDir(), "test.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func seedChannel(t *testing.T, s *Store, id string) *Channel {
	t.Helper()
	ch := &Channel{
		ID:        id,
		SourceURL: "src://" + id,
		Title:     "Channel " + id,
		KeepCount: 3,
		Format:    FormatAudio,
		Enabled:   true,
	}
	require.NoError(t, s.CreateChannel(context.Background(), ch))
	return ch
}

func seedEpisode(t *testing.T, s *Store, channelID, externalID string, publishedAt *time.Time) *Episode {
	t.Helper()
	ep := &Episode{
		ID:          ident.NewID(),
		ChannelID:   channelID,
		ExternalID:  externalID,
		Title:       "Episode " + externalID,
		PublishedAt: publishedAt,
	}
	require.NoError(t, s.CreateEpisode(context.Background(), ep))
	return ep
}

func timeAt(day int) *time.Time {
	t := time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestChannelCRUD(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ch := seedChannel(t, s, "C1")

	got, err := s.GetChannel(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, ch.SourceURL, got.SourceURL)
	assert.Equal(t, 3, got.KeepCount)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastRefreshAt)

	got.Title = "Renamed"
	got.KeepCount = 10
	require.NoError(t, s.UpdateChannel(ctx, got))

	got, err = s.GetChannel(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, 10, got.KeepCount)

	require.NoError(t, s.TouchChannelRefreshed(ctx, "C1"))
	got, err = s.GetChannel(ctx, "C1")
	require.NoError(t, err)
	require.NotNil(t, got.LastRefreshAt)

	require.NoError(t, s.DeleteChannel(ctx, "C1"))
	_, err = s.GetChannel(ctx, "C1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChannelSourceURLUnique(t *testing.T) {
	s, _ := newTestStore(t)
	seedChannel(t, s, "C1")

	dup := &Channel{
		ID:        "C2",
		SourceURL: "src://C1",
		Title:     "Duplicate",
		KeepCount: 1,
		Format:    FormatVideo,
	}
	err := s.CreateChannel(context.Background(), dup)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestEpisodeExternalIDUnique(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	seedChannel(t, s, "C2")
	seedEpisode(t, s, "C1", "v1", timeAt(3))

	// Same external id under another channel must be rejected: this is the
	// cross-channel de-duplication invariant.
	dup := &Episode{ID: ident.NewID(), ChannelID: "C2", ExternalID: "v1", Title: "dup"}
	assert.ErrorIs(t, s.CreateEpisode(ctx, dup), ErrConflict)

	got, err := s.GetEpisodeByExternalID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "C1", got.ChannelID)
}

func TestEpisodeTransitionCAS(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", timeAt(3))

	require.NoError(t, s.TransitionEpisode(ctx, ep.ID, EpisodePending, EpisodeDownloading))

	// Second transition from pending must lose the CAS.
	err := s.TransitionEpisode(ctx, ep.ID, EpisodePending, EpisodeDownloading)
	assert.ErrorIs(t, err, ErrConflict)

	// Missing row surfaces as NotFound, not Conflict.
	err = s.TransitionEpisode(ctx, "nope", EpisodePending, EpisodeDownloading)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinalizeEpisode(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", timeAt(3))

	size := int64(2048)
	require.NoError(t, s.FinalizeEpisode(ctx, ep.ID, Artifact{
		AudioPath: "/downloads/C1/audio/v1.mp3",
		AudioSize: &size,
	}, clk.Now()))

	got, err := s.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, EpisodeCompleted, got.Status)
	assert.Equal(t, "/downloads/C1/audio/v1.mp3", got.AudioPath)
	require.NotNil(t, got.AudioSize)
	assert.Equal(t, size, *got.AudioSize)
	require.NotNil(t, got.DownloadedAt)
	assert.Empty(t, got.LastError)
}

func TestMarkEpisodeFailedBumpsRetryCount(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", nil)

	require.NoError(t, s.MarkEpisodeFailed(ctx, ep.ID, "network: connection reset"))
	require.NoError(t, s.MarkEpisodeFailed(ctx, ep.ID, "network: timeout"))

	got, err := s.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, EpisodeFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "network: timeout", got.LastError)
}

func TestRecordEpisodeRetry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", nil)

	require.NoError(t, s.TransitionEpisode(ctx, ep.ID, EpisodePending, EpisodeDownloading))
	require.NoError(t, s.RecordEpisodeRetry(ctx, ep.ID, "network: connection reset"))

	got, err := s.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, EpisodePending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "network: connection reset", got.LastError)

	// Counts attempts even when the run never claimed the episode row.
	require.NoError(t, s.RecordEpisodeRetry(ctx, ep.ID, "network: timeout"))
	got, err = s.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)

	// Terminal episodes conflict.
	size := int64(1)
	require.NoError(t, s.FinalizeEpisode(ctx, ep.ID, Artifact{AudioPath: "/a.mp3", AudioSize: &size}, s.Now()))
	assert.ErrorIs(t, s.RecordEpisodeRetry(ctx, ep.ID, "late"), ErrConflict)

	assert.ErrorIs(t, s.RecordEpisodeRetry(ctx, "nope", "x"), ErrNotFound)
}

func TestResetEpisodeForRetry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", nil)

	// Only failed episodes may be reset.
	assert.ErrorIs(t, s.ResetEpisodeForRetry(ctx, ep.ID), ErrConflict)

	require.NoError(t, s.MarkEpisodeFailed(ctx, ep.ID, "boom"))
	require.NoError(t, s.ResetEpisodeForRetry(ctx, ep.ID))

	got, err := s.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, EpisodePending, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.LastError)
}

func TestListEpisodesOrderAndFilter(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")

	seedEpisode(t, s, "C1", "v3", timeAt(1))
	clk.Advance(time.Second)
	seedEpisode(t, s, "C1", "v1", timeAt(3))
	clk.Advance(time.Second)
	seedEpisode(t, s, "C1", "v2", timeAt(2))
	clk.Advance(time.Second)
	seedEpisode(t, s, "C1", "v4", nil) // no publish date sorts last

	eps, err := s.ListEpisodes(ctx, "C1", EpisodeFilter{})
	require.NoError(t, err)
	require.Len(t, eps, 4)
	assert.Equal(t, "v1", eps[0].ExternalID)
	assert.Equal(t, "v2", eps[1].ExternalID)
	assert.Equal(t, "v3", eps[2].ExternalID)
	assert.Equal(t, "v4", eps[3].ExternalID)

	eps, err = s.ListEpisodes(ctx, "C1", EpisodeFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "v2", eps[0].ExternalID)

	eps, err = s.ListEpisodes(ctx, "C1", EpisodeFilter{Status: EpisodeCompleted})
	require.NoError(t, err)
	assert.Empty(t, eps)
}

func TestCompletedEpisodesBeyond(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")

	for day, ext := range map[int]string{4: "v0", 3: "v1", 2: "v2", 1: "v3"} {
		ep := seedEpisode(t, s, "C1", ext, timeAt(day))
		require.NoError(t, s.FinalizeEpisode(ctx, ep.ID, Artifact{AudioPath: ext + ".mp3"}, clk.Now()))
	}

	over, err := s.CompletedEpisodesBeyond(ctx, "C1", 3)
	require.NoError(t, err)
	require.Len(t, over, 1)
	assert.Equal(t, "v3", over[0].ExternalID)

	over, err = s.CompletedEpisodesBeyond(ctx, "C1", 10)
	require.NoError(t, err)
	assert.Empty(t, over)
}

func TestQueueOpenItemUnique(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", nil)

	qi := &QueueItem{ID: ident.NewID(), EpisodeID: ep.ID, MaxAttempts: 3}
	require.NoError(t, s.CreateQueueItem(ctx, qi))

	dup := &QueueItem{ID: ident.NewID(), EpisodeID: ep.ID, MaxAttempts: 3}
	assert.ErrorIs(t, s.CreateQueueItem(ctx, dup), ErrConflict)

	// A terminal item frees the slot.
	require.NoError(t, s.ClaimQueueItem(ctx, qi.ID))
	require.NoError(t, s.CompleteQueueItem(ctx, qi.ID))
	require.NoError(t, s.CreateQueueItem(ctx, dup))
}

func TestNextDueOrdering(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")

	epA := seedEpisode(t, s, "C1", "a", nil)
	epB := seedEpisode(t, s, "C1", "b", nil)
	epC := seedEpisode(t, s, "C1", "c", nil)

	// Pending low priority, created first.
	low := &QueueItem{ID: "q-low", EpisodeID: epA.ID, Priority: 7, MaxAttempts: 3}
	require.NoError(t, s.CreateQueueItem(ctx, low))
	clk.Advance(time.Second)

	// Pending high priority, created later: wins among pending.
	high := &QueueItem{ID: "q-high", EpisodeID: epB.ID, Priority: 2, MaxAttempts: 3}
	require.NoError(t, s.CreateQueueItem(ctx, high))

	got, err := s.NextDue(ctx, clk.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "q-high", got.ID)

	// A due retrying item beats every pending item regardless of priority.
	retr := &QueueItem{ID: "q-retry", EpisodeID: epC.ID, Priority: 9, MaxAttempts: 3}
	require.NoError(t, s.CreateQueueItem(ctx, retr))
	require.NoError(t, s.ClaimQueueItem(ctx, retr.ID))
	at := clk.Now().Add(-time.Minute)
	require.NoError(t, s.FailQueueItem(ctx, retr.ID, true, &at, "transient"))

	got, err = s.NextDue(ctx, clk.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "q-retry", got.ID)

	// A retrying item scheduled in the future is not due.
	future := clk.Now().Add(time.Hour)
	require.NoError(t, s.ClaimQueueItem(ctx, retr.ID))
	require.NoError(t, s.FailQueueItem(ctx, retr.ID, true, &future, "transient"))

	got, err = s.NextDue(ctx, clk.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "q-high", got.ID)
}

func TestNextDueEmpty(t *testing.T) {
	s, clk := newTestStore(t)
	got, err := s.NextDue(context.Background(), clk.Now())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClaimCAS(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", nil)

	qi := &QueueItem{ID: "q1", EpisodeID: ep.ID, MaxAttempts: 3}
	require.NoError(t, s.CreateQueueItem(ctx, qi))

	require.NoError(t, s.ClaimQueueItem(ctx, "q1"))
	assert.ErrorIs(t, s.ClaimQueueItem(ctx, "q1"), ErrConflict)
	assert.ErrorIs(t, s.ClaimQueueItem(ctx, "missing"), ErrNotFound)

	// Claim clears any retry schedule.
	at := s.Now()
	require.NoError(t, s.FailQueueItem(ctx, "q1", true, &at, "transient"))
	require.NoError(t, s.ClaimQueueItem(ctx, "q1"))
	got, err := s.GetQueueItem(ctx, "q1")
	require.NoError(t, err)
	assert.Nil(t, got.NextRetryAt)
	assert.Equal(t, 1, got.Attempts)
}

func TestFailQueueItemTerminal(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", nil)

	qi := &QueueItem{ID: "q1", EpisodeID: ep.ID, MaxAttempts: 3}
	require.NoError(t, s.CreateQueueItem(ctx, qi))
	require.NoError(t, s.ClaimQueueItem(ctx, "q1"))
	require.NoError(t, s.FailQueueItem(ctx, "q1", false, nil, "video is private"))

	got, err := s.GetQueueItem(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, QueueFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.NextRetryAt)
	assert.Equal(t, "video is private", got.LastError)

	// Terminal status stability: no transition out of failed.
	assert.ErrorIs(t, s.ClaimQueueItem(ctx, "q1"), ErrConflict)
	assert.ErrorIs(t, s.CompleteQueueItem(ctx, "q1"), ErrConflict)
}

func TestReleaseQueueItemKeepsAttempts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", nil)

	qi := &QueueItem{ID: "q1", EpisodeID: ep.ID, MaxAttempts: 3}
	require.NoError(t, s.CreateQueueItem(ctx, qi))
	require.NoError(t, s.ClaimQueueItem(ctx, "q1"))
	require.NoError(t, s.ReleaseQueueItem(ctx, "q1"))

	got, err := s.GetQueueItem(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, QueuePending, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestCancelQueueItemIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", nil)

	qi := &QueueItem{ID: "q1", EpisodeID: ep.ID, MaxAttempts: 3}
	require.NoError(t, s.CreateQueueItem(ctx, qi))

	require.NoError(t, s.CancelQueueItem(ctx, "q1"))
	require.NoError(t, s.CancelQueueItem(ctx, "q1")) // no-op, no error

	got, err := s.GetQueueItem(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, QueueCancelled, got.Status)

	assert.ErrorIs(t, s.CancelQueueItem(ctx, "missing"), ErrNotFound)
}

func TestCounts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep1 := seedEpisode(t, s, "C1", "v1", nil)
	ep2 := seedEpisode(t, s, "C1", "v2", nil)

	require.NoError(t, s.CreateQueueItem(ctx, &QueueItem{ID: "q1", EpisodeID: ep1.ID, MaxAttempts: 3}))
	require.NoError(t, s.CreateQueueItem(ctx, &QueueItem{ID: "q2", EpisodeID: ep2.ID, MaxAttempts: 3}))
	require.NoError(t, s.ClaimQueueItem(ctx, "q2"))

	qc, err := s.CountQueueByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, qc[QueuePending])
	assert.Equal(t, 1, qc[QueueInProgress])

	ec, err := s.CountEpisodesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ec[EpisodePending])
}

func TestQueueViews(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep1 := seedEpisode(t, s, "C1", "v1", nil)
	ep2 := seedEpisode(t, s, "C1", "v2", nil)

	require.NoError(t, s.CreateQueueItem(ctx, &QueueItem{ID: "q1", EpisodeID: ep1.ID, MaxAttempts: 3}))
	require.NoError(t, s.CreateQueueItem(ctx, &QueueItem{ID: "q2", EpisodeID: ep2.ID, MaxAttempts: 3}))
	require.NoError(t, s.ClaimQueueItem(ctx, "q1"))
	require.NoError(t, s.ClaimQueueItem(ctx, "q2"))
	require.NoError(t, s.FailQueueItem(ctx, "q2", false, nil, "gone"))

	active, err := s.InProgressQueueView(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Episode v1", active[0].EpisodeTitle)
	assert.Equal(t, "Channel C1", active[0].ChannelTitle)

	failed, err := s.RecentFailedQueueView(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "gone", failed[0].LastError)
}

func TestChannelDeleteCascades(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedChannel(t, s, "C1")
	ep := seedEpisode(t, s, "C1", "v1", nil)
	require.NoError(t, s.CreateQueueItem(ctx, &QueueItem{ID: "q1", EpisodeID: ep.ID, MaxAttempts: 3}))

	require.NoError(t, s.DeleteChannel(ctx, "C1"))

	_, err := s.GetEpisode(ctx, ep.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetQueueItem(ctx, "q1")
	assert.ErrorIs(t, err, ErrNotFound)
}
