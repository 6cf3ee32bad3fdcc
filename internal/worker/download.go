// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/podmirror/internal/errkind"
	"github.com/ManuGH/podmirror/internal/metrics"
	"github.com/ManuGH/podmirror/internal/pipeline"
	"github.com/ManuGH/podmirror/internal/queue"
	"github.com/ManuGH/podmirror/internal/retention"
	"github.com/ManuGH/podmirror/internal/store"
)

// Runner executes one claimed episode. Satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, episodeID string) (pipeline.Outcome, error)
}

// ChannelPublisher re-renders a channel's feeds after its content changed.
// Satisfied by *feed.Publisher; may be nil.
type ChannelPublisher interface {
	PublishChannel(ctx context.Context, channelID string) error
}

// ChannelSweeper prunes a channel's completed episodes past its keep count.
// Satisfied by *retention.Service; may be nil.
type ChannelSweeper interface {
	SweepChannel(ctx context.Context, channelID string) (retention.Result, error)
}

// DownloadWorker consumes the queue with a fixed number of consumer loops.
// The pipeline's gate is the real concurrency bound; the consumer count just
// keeps claims from outpacing it.
type DownloadWorker struct {
	st           *store.Store
	queue        *queue.Service
	runner       Runner
	publisher    ChannelPublisher
	sweeper      ChannelSweeper
	consumers    int
	pollInterval time.Duration
	session      *metrics.Session
	log          zerolog.Logger
}

// NewDownloadWorker creates the queue consumer pool. publisher and sweeper
// may be nil.
func NewDownloadWorker(st *store.Store, q *queue.Service, r Runner, publisher ChannelPublisher, sweeper ChannelSweeper, consumers int, pollInterval time.Duration, session *metrics.Session, logger zerolog.Logger) *DownloadWorker {
	if consumers < 1 {
		consumers = 1
	}
	return &DownloadWorker{
		st:           st,
		queue:        q,
		runner:       r,
		publisher:    publisher,
		sweeper:      sweeper,
		consumers:    consumers,
		pollInterval: pollInterval,
		session:      session,
		log:          logger,
	}
}

// Run blocks until ctx is cancelled and every consumer has drained.
func (w *DownloadWorker) Run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.consumers; i++ {
		g.Go(func() error {
			w.consume(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// consume claims and runs items until cancellation.
func (w *DownloadWorker) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		qi, err := w.queue.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().
				Str("event", "worker.claim_failed").
				Err(err).
				Msg("queue claim failed")
			qi = nil
		}
		if qi == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.handle(ctx, qi)
		w.recordQueueDepth(ctx)
	}
}

// handle settles one claimed item: run the pipeline, then move queue item and
// episode according to the outcome. Settlement writes use a detached context
// so shutdown cannot strand a claimed item.
func (w *DownloadWorker) handle(ctx context.Context, qi *store.QueueItem) {
	started := time.Now()
	out, err := w.runner.Run(ctx, qi.EpisodeID)
	elapsed := time.Since(started).Seconds()

	settleCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		if mcErr := w.queue.MarkCompleted(settleCtx, qi.ID); mcErr != nil {
			w.log.Error().
				Str("event", "worker.settle_failed").
				Str("queue_id", qi.ID).
				Err(mcErr).
				Msg("completed item not settled")
			return
		}
		metrics.RecordDownload("completed", elapsed, out.Bytes)
		if w.session != nil {
			w.session.AddCompleted(out.Bytes)
		}
		w.finishCompleted(settleCtx, qi.EpisodeID)

	case pipeline.IsCancellation(err):
		// Not an attempt: the item goes back to pending untouched.
		if rlErr := w.queue.Release(settleCtx, qi.ID); rlErr != nil {
			w.log.Error().
				Str("event", "worker.settle_failed").
				Str("queue_id", qi.ID).
				Err(rlErr).
				Msg("cancelled item not released")
		}
		metrics.RecordDownload("cancelled", elapsed, 0)

	default:
		kind := errkind.KindOf(err)
		metrics.IncAttemptFailure(string(kind))

		dec, mfErr := w.queue.MarkFailed(settleCtx, qi.ID, err)
		if mfErr != nil {
			w.log.Error().
				Str("event", "worker.settle_failed").
				Str("queue_id", qi.ID).
				Err(mfErr).
				Msg("failed item not settled")
			return
		}
		w.settleEpisode(settleCtx, qi.EpisodeID, dec.Retryable, err)
		metrics.RecordDownload("failed", elapsed, 0)
		if !dec.Retryable && w.session != nil {
			w.session.AddFailed()
		}
	}
}

// settleEpisode reconciles the episode row with the retry decision: back to
// pending while retries remain, failed once the item is terminal. Either way
// the attempt is recorded on the row: last_error stored, retry_count bumped.
func (w *DownloadWorker) settleEpisode(ctx context.Context, episodeID string, retryable bool, cause error) {
	var err error
	if retryable {
		err = w.st.RecordEpisodeRetry(ctx, episodeID, cause.Error())
	} else {
		err = w.st.MarkEpisodeFailed(ctx, episodeID, cause.Error())
	}
	if err != nil {
		w.log.Error().
			Str("event", "worker.episode_settle_failed").
			Str("episode_id", episodeID).
			Bool("retryable", retryable).
			Err(err).
			Msg("episode state not settled")
	}
}

// finishCompleted runs the post-completion chores for the episode's channel:
// retention first so the keep-count bound holds immediately, then the feed
// republish so subscribers never see episodes retention just removed. Both
// are best effort: the next cycle converges.
func (w *DownloadWorker) finishCompleted(ctx context.Context, episodeID string) {
	ep, err := w.st.GetEpisode(ctx, episodeID)
	if err != nil {
		w.log.Warn().
			Str("event", "worker.finish_failed").
			Str("episode_id", episodeID).
			Err(err).
			Msg("completed episode not loaded for post-completion chores")
		return
	}

	if w.sweeper != nil {
		if _, err := w.sweeper.SweepChannel(ctx, ep.ChannelID); err != nil {
			w.log.Warn().
				Str("event", "worker.retention_failed").
				Str("channel_id", ep.ChannelID).
				Err(err).
				Msg("retention sweep after completion failed")
		}
	}

	if w.publisher != nil {
		if err := w.publisher.PublishChannel(ctx, ep.ChannelID); err != nil {
			w.log.Warn().
				Str("event", "worker.republish_failed").
				Str("channel_id", ep.ChannelID).
				Err(err).
				Msg("feed republish failed")
		}
	}
}

func (w *DownloadWorker) recordQueueDepth(ctx context.Context) {
	counts, err := w.st.CountQueueByStatus(ctx)
	if err != nil {
		return
	}
	for _, status := range []store.QueueStatus{
		store.QueuePending, store.QueueInProgress, store.QueueRetrying,
		store.QueueCompleted, store.QueueFailed, store.QueueCancelled,
	} {
		metrics.RecordQueueDepth(string(status), counts[status])
	}
}
