// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package worker runs the daemon's background loops: periodic channel
// refresh plus retention, and the download queue consumers.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/podmirror/internal/metrics"
	"github.com/ManuGH/podmirror/internal/retention"
)

// Refresher is the sweep the refresh worker triggers.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// Sweeper prunes episodes past retention after each refresh.
type Sweeper interface {
	SweepAll(ctx context.Context) (retention.Result, error)
}

// AllPublisher re-renders every channel's feeds. Satisfied by
// *feed.Publisher; may be nil.
type AllPublisher interface {
	PublishAll(ctx context.Context) error
}

// RefreshWorker periodically refreshes all channels and then runs retention.
// An overlapping tick is skipped, never queued: one slow sweep must not pile
// up behind itself.
type RefreshWorker struct {
	refresher Refresher
	sweeper   Sweeper
	publisher AllPublisher
	interval  time.Duration
	session   *metrics.Session
	busy      atomic.Bool
	log       zerolog.Logger
}

// NewRefreshWorker creates the refresh loop. publisher may be nil.
func NewRefreshWorker(r Refresher, s Sweeper, publisher AllPublisher, interval time.Duration, session *metrics.Session, logger zerolog.Logger) *RefreshWorker {
	return &RefreshWorker{
		refresher: r,
		sweeper:   s,
		publisher: publisher,
		interval:  interval,
		session:   session,
		log:       logger,
	}
}

// Run blocks until ctx is cancelled. The first sweep happens immediately.
func (w *RefreshWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tryRun(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tryRun(ctx)
		}
	}
}

// TriggerNow starts one sweep outside the schedule (admin refresh-all) and
// returns immediately. Returns false when a sweep is already in flight. The
// sweep runs on a detached context so it outlives the triggering request.
func (w *RefreshWorker) TriggerNow(ctx context.Context) bool {
	if !w.busy.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer w.busy.Store(false)
		w.runOnce(context.WithoutCancel(ctx))
	}()
	return true
}

func (w *RefreshWorker) tryRun(ctx context.Context) bool {
	if !w.busy.CompareAndSwap(false, true) {
		w.log.Debug().
			Str("event", "worker.refresh_overlap").
			Msg("refresh still running, tick skipped")
		return false
	}
	defer w.busy.Store(false)

	w.runOnce(ctx)
	return true
}

func (w *RefreshWorker) runOnce(ctx context.Context) {
	if err := w.refresher.RefreshAll(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.RecordRefresh("failure", 0)
		w.log.Error().
			Str("event", "worker.refresh_failed").
			Err(err).
			Msg("refresh sweep failed")
	} else {
		metrics.RecordRefresh("success", 0)
	}

	res, err := w.sweeper.SweepAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.Error().
			Str("event", "worker.retention_failed").
			Err(err).
			Msg("retention sweep failed")
		return
	}
	if res.Deleted > 0 {
		metrics.RecordRetention(res.Deleted, res.BytesFreed)
		if w.session != nil {
			w.session.AddDeleted(res.Deleted, res.BytesFreed)
		}
	}

	if w.publisher != nil {
		if err := w.publisher.PublishAll(ctx); err != nil && ctx.Err() == nil {
			w.log.Error().
				Str("event", "worker.publish_failed").
				Err(err).
				Msg("feed publish sweep failed")
		}
	}
}
