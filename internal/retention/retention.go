// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package retention deletes completed episodes beyond each channel's keep
// count, newest-first ordering preserved, artifacts removed from disk.
package retention

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/podmirror/internal/fsutil"
	"github.com/ManuGH/podmirror/internal/store"
)

// Result summarizes one retention sweep.
type Result struct {
	Deleted    int
	BytesFreed int64
}

// Service prunes episodes past retention.
type Service struct {
	st  *store.Store
	log zerolog.Logger
}

// NewService creates the retention service.
func NewService(st *store.Store, logger zerolog.Logger) *Service {
	return &Service{st: st, log: logger}
}

// SweepChannel deletes the channel's completed episodes beyond its keep
// count. File removal is best-effort: a missing artifact never blocks the
// database transition, so a crashed earlier sweep converges on retry.
func (s *Service) SweepChannel(ctx context.Context, channelID string) (Result, error) {
	var res Result

	ch, err := s.st.GetChannel(ctx, channelID)
	if err != nil {
		return res, fmt.Errorf("retention %s: %w", channelID, err)
	}

	over, err := s.st.CompletedEpisodesBeyond(ctx, ch.ID, ch.KeepCount)
	if err != nil {
		return res, fmt.Errorf("retention %s: %w", channelID, err)
	}

	for _, ep := range over {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		freed := s.removeArtifacts(ep)
		if err := s.st.MarkEpisodeDeleted(ctx, ep.ID); err != nil {
			return res, fmt.Errorf("retention %s: episode %s: %w", channelID, ep.ID, err)
		}
		res.Deleted++
		res.BytesFreed += freed

		s.log.Info().
			Str("event", "retention.episode_deleted").
			Str("channel_id", ch.ID).
			Str("episode_id", ep.ID).
			Int64("bytes_freed", freed).
			Msg("episode deleted by retention")
	}
	return res, nil
}

// removeArtifacts deletes the episode's files and returns the bytes freed
// according to the stored sizes.
func (s *Service) removeArtifacts(ep store.Episode) int64 {
	var freed int64
	for _, f := range []struct {
		path string
		size *int64
	}{
		{ep.AudioPath, ep.AudioSize},
		{ep.VideoPath, ep.VideoSize},
	} {
		if f.path == "" {
			continue
		}
		if err := fsutil.RemoveIfExists(f.path); err != nil {
			s.log.Warn().
				Str("event", "retention.remove_failed").
				Str("episode_id", ep.ID).
				Str("path", f.path).
				Err(err).
				Msg("artifact removal failed")
			continue
		}
		if f.size != nil {
			freed += *f.size
		}
	}
	return freed
}

// SweepAll sweeps every channel, disabled ones included: retention is a disk
// budget, not a feature toggle. Per-channel failures are logged and skipped.
func (s *Service) SweepAll(ctx context.Context) (Result, error) {
	var total Result

	channels, err := s.st.ListChannels(ctx, false)
	if err != nil {
		return total, fmt.Errorf("retention sweep: %w", err)
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		res, err := s.SweepChannel(ctx, ch.ID)
		total.Deleted += res.Deleted
		total.BytesFreed += res.BytesFreed
		if err != nil {
			s.log.Error().
				Str("event", "retention.channel_failed").
				Str("channel_id", ch.ID).
				Err(err).
				Msg("retention sweep failed for channel")
		}
	}

	if total.Deleted > 0 {
		s.log.Info().
			Str("event", "retention.sweep_done").
			Int("deleted", total.Deleted).
			Int64("bytes_freed", total.BytesFreed).
			Msg("retention sweep finished")
	}
	return total, nil
}
