// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package refresh discovers new channel items and admits them into the
// download queue.
package refresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/podmirror/internal/fetcher"
	"github.com/ManuGH/podmirror/internal/ident"
	"github.com/ManuGH/podmirror/internal/queue"
	"github.com/ManuGH/podmirror/internal/store"
)

// listFactor bounds discovery: a channel keeping N episodes only ever needs
// the newest 2N source items to satisfy retention churn.
const listFactor = 2

// Result summarizes one channel refresh.
type Result struct {
	ChannelID  string
	Discovered int // items returned by the source
	Created    int // new episodes
	Enqueued   int // new queue items
	Skipped    int // already known external ids
}

// Service runs channel refreshes. The limiter paces source requests across
// channels so a large channel list does not hammer the source.
type Service struct {
	st      *store.Store
	fetch   fetcher.Fetcher
	queue   *queue.Service
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewService creates the refresh service.
func NewService(st *store.Store, fetch fetcher.Fetcher, q *queue.Service, limiter *rate.Limiter, logger zerolog.Logger) *Service {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Service{
		st:      st,
		fetch:   fetch,
		queue:   q,
		limiter: limiter,
		log:     logger,
	}
}

// RefreshChannel lists the channel's newest items and enqueues the unknown
// ones. It works on disabled channels too, which is what lets the admin API
// trigger a one-off refresh without re-enabling the channel.
func (s *Service) RefreshChannel(ctx context.Context, channelID string) (Result, error) {
	res := Result{ChannelID: channelID}

	ch, err := s.st.GetChannel(ctx, channelID)
	if err != nil {
		return res, fmt.Errorf("refresh %s: %w", channelID, err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return res, fmt.Errorf("refresh %s: %w", channelID, err)
	}

	items, err := s.fetch.ListChannelItems(ctx, ch.SourceURL, ch.KeepCount*listFactor)
	if err != nil {
		return res, fmt.Errorf("refresh %s: %w", channelID, err)
	}
	res.Discovered = len(items)

	for _, item := range items {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		created, err := s.admit(ctx, ch, item)
		if err != nil {
			// One bad item must not abort the rest of the refresh.
			s.log.Warn().
				Str("event", "refresh.item_skipped").
				Str("channel_id", ch.ID).
				Str("external_id", item.ExternalID).
				Err(err).
				Msg("item not admitted")
			continue
		}
		if created {
			res.Created++
			res.Enqueued++
		} else {
			res.Skipped++
		}
	}

	if err := s.st.TouchChannelRefreshed(ctx, ch.ID); err != nil {
		return res, fmt.Errorf("refresh %s: %w", channelID, err)
	}

	s.log.Info().
		Str("event", "refresh.channel_done").
		Str("channel_id", ch.ID).
		Int("discovered", res.Discovered).
		Int("created", res.Created).
		Int("skipped", res.Skipped).
		Msg("channel refreshed")
	return res, nil
}

// admit creates the episode and its queue item unless the external id is
// already known. Returns whether a new episode was admitted.
func (s *Service) admit(ctx context.Context, ch *store.Channel, item fetcher.Item) (bool, error) {
	if _, err := s.st.GetEpisodeByExternalID(ctx, item.ExternalID); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	ep := &store.Episode{
		ID:              ident.NewID(),
		ChannelID:       ch.ID,
		ExternalID:      item.ExternalID,
		Title:           item.Title,
		Description:     item.Description,
		ThumbnailURL:    item.ThumbnailURL,
		DurationSeconds: item.DurationSeconds,
		PublishedAt:     item.PublishedAt,
	}
	if err := s.st.CreateEpisode(ctx, ep); err != nil {
		// A concurrent refresh admitted it first; treat like known.
		if errors.Is(err, store.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	if _, err := s.queue.Enqueue(ctx, ep.ID, queue.DefaultPriority); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// RefreshAll refreshes every enabled channel. A failing channel is logged and
// skipped; the first context error aborts the sweep.
func (s *Service) RefreshAll(ctx context.Context) error {
	channels, err := s.st.ListChannels(ctx, true)
	if err != nil {
		return fmt.Errorf("refresh all: %w", err)
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.RefreshChannel(ctx, ch.ID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.log.Error().
				Str("event", "refresh.channel_failed").
				Str("channel_id", ch.ID).
				Err(err).
				Msg("channel refresh failed")
		}
	}
	return nil
}
