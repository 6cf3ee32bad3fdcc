// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue coordinates the download queue: admission, claiming, and the
// outcome bookkeeping that feeds the retry policy.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/podmirror/internal/errkind"
	"github.com/ManuGH/podmirror/internal/ident"
	"github.com/ManuGH/podmirror/internal/retrypolicy"
	"github.com/ManuGH/podmirror/internal/store"
)

// DefaultPriority is assigned when the caller does not choose one.
// 1 is most urgent, 10 least.
const DefaultPriority = 5

// Service owns queue item lifecycle. All state lives in the store; the
// service adds validation, retry decisions and logging.
type Service struct {
	st          *store.Store
	clock       ident.Clock
	maxAttempts int
	log         zerolog.Logger
}

// NewService creates the queue service. maxAttempts is stamped onto every new
// queue item.
func NewService(st *store.Store, clock ident.Clock, maxAttempts int, logger zerolog.Logger) *Service {
	return &Service{
		st:          st,
		clock:       clock,
		maxAttempts: maxAttempts,
		log:         logger,
	}
}

// Enqueue schedules a download for an episode. priority 0 means
// DefaultPriority. An episode with an open queue item cannot be enqueued
// again (store.ErrConflict).
func (s *Service) Enqueue(ctx context.Context, episodeID string, priority int) (*store.QueueItem, error) {
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < 1 || priority > 10 {
		return nil, errkind.Newf(errkind.Validation, "queue.enqueue", "priority must be in 1..10, got %d", priority)
	}
	if _, err := s.st.GetEpisode(ctx, episodeID); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", episodeID, err)
	}

	qi := &store.QueueItem{
		ID:          ident.NewID(),
		EpisodeID:   episodeID,
		Priority:    priority,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.st.CreateQueueItem(ctx, qi); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", episodeID, err)
	}

	s.log.Info().
		Str("event", "queue.enqueued").
		Str("queue_id", qi.ID).
		Str("episode_id", episodeID).
		Int("priority", priority).
		Msg("episode enqueued")
	return qi, nil
}

// ClaimNext picks and claims the next due item. Returns (nil, nil) when
// nothing is due. A lost claim race also yields (nil, nil); the caller simply
// polls again.
func (s *Service) ClaimNext(ctx context.Context) (*store.QueueItem, error) {
	qi, err := s.st.NextDue(ctx, s.clock.Now())
	if err != nil || qi == nil {
		return nil, err
	}
	if err := s.st.ClaimQueueItem(ctx, qi.ID); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	qi.Status = store.QueueInProgress
	qi.NextRetryAt = nil
	return qi, nil
}

// MarkCompleted finishes a claimed item.
func (s *Service) MarkCompleted(ctx context.Context, id string) error {
	if err := s.st.CompleteQueueItem(ctx, id); err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	s.log.Info().
		Str("event", "queue.completed").
		Str("queue_id", id).
		Msg("queue item completed")
	return nil
}

// MarkFailed records a failed attempt on a claimed item and consults the
// retry policy. Cancellations must not go through here; use Release.
func (s *Service) MarkFailed(ctx context.Context, id string, cause error) (retrypolicy.Decision, error) {
	qi, err := s.st.GetQueueItem(ctx, id)
	if err != nil {
		return retrypolicy.Decision{}, fmt.Errorf("fail %s: %w", id, err)
	}

	kind := errkind.KindOf(cause)
	dec := retrypolicy.Decide(qi.Attempts+1, qi.MaxAttempts, kind)

	var nextRetryAt *time.Time
	if dec.Retryable {
		t := s.clock.Now().Add(dec.Delay)
		nextRetryAt = &t
	}
	if err := s.st.FailQueueItem(ctx, id, dec.Retryable, nextRetryAt, cause.Error()); err != nil {
		return dec, fmt.Errorf("fail %s: %w", id, err)
	}

	evt := s.log.Warn().
		Str("event", "queue.attempt_failed").
		Str("queue_id", id).
		Str("episode_id", qi.EpisodeID).
		Int("attempt", qi.Attempts+1).
		Int("max_attempts", qi.MaxAttempts).
		Str("error_kind", string(kind)).
		Bool("retryable", dec.Retryable).
		Err(cause)
	if dec.Retryable {
		evt = evt.Dur("retry_in", dec.Delay)
	}
	evt.Msg("download attempt failed")
	return dec, nil
}

// Release puts a claimed item back to pending without counting an attempt.
// This is the cancellation path.
func (s *Service) Release(ctx context.Context, id string) error {
	if err := s.st.ReleaseQueueItem(ctx, id); err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	s.log.Info().
		Str("event", "queue.released").
		Str("queue_id", id).
		Msg("queue item released after cancellation")
	return nil
}

// CancelByEpisode cancels the episode's open queue item. No open item is a
// no-op: the cancel already happened or nothing was scheduled.
func (s *Service) CancelByEpisode(ctx context.Context, episodeID string) error {
	qi, err := s.st.OpenQueueItemByEpisode(ctx, episodeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("cancel episode %s: %w", episodeID, err)
	}
	if err := s.st.CancelQueueItem(ctx, qi.ID); err != nil {
		return fmt.Errorf("cancel episode %s: %w", episodeID, err)
	}
	s.log.Info().
		Str("event", "queue.cancelled").
		Str("queue_id", qi.ID).
		Str("episode_id", episodeID).
		Msg("queue item cancelled")
	return nil
}

// RetryEpisode resets a failed episode and schedules a fresh queue item with
// a fresh attempt budget. Only failed episodes can be retried
// (store.ErrConflict otherwise).
func (s *Service) RetryEpisode(ctx context.Context, episodeID string, priority int) (*store.QueueItem, error) {
	if err := s.st.ResetEpisodeForRetry(ctx, episodeID); err != nil {
		return nil, fmt.Errorf("retry %s: %w", episodeID, err)
	}
	return s.Enqueue(ctx, episodeID, priority)
}
