// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline executes one episode download end to end: claim the
// episode, fetch the source media into a temp file, transcode the configured
// artifacts, and finalize the episode atomically.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/podmirror/internal/errkind"
	"github.com/ManuGH/podmirror/internal/fetcher"
	"github.com/ManuGH/podmirror/internal/fsutil"
	"github.com/ManuGH/podmirror/internal/gate"
	"github.com/ManuGH/podmirror/internal/ident"
	"github.com/ManuGH/podmirror/internal/metrics"
	"github.com/ManuGH/podmirror/internal/store"
	"github.com/ManuGH/podmirror/internal/transcode"
)

// Config holds the layout and format settings the pipeline needs.
type Config struct {
	DownloadDir string
	TempDir     string
	AudioFormat string // artifact file extension for audio
	VideoFormat string // artifact file extension for video
}

// Outcome reports what a successful run produced.
type Outcome struct {
	Artifact store.Artifact
	Bytes    int64
}

// Pipeline turns a claimed queue item into podcast artifacts.
type Pipeline struct {
	st    *store.Store
	fetch fetcher.Fetcher
	tc    transcode.Transcoder
	gate  *gate.Gate
	clock ident.Clock
	cfg   Config
	log   zerolog.Logger
}

// New creates a pipeline.
func New(st *store.Store, fetch fetcher.Fetcher, tc transcode.Transcoder, g *gate.Gate, clock ident.Clock, cfg Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		st:    st,
		fetch: fetch,
		tc:    tc,
		gate:  g,
		clock: clock,
		cfg:   cfg,
		log:   logger,
	}
}

// Run downloads and transcodes one episode.
//
// An already completed episode short-circuits to success, which makes a
// re-delivered queue item harmless. On cancellation the episode returns to
// pending and the error kind is Cancelled; the caller releases the queue item
// without counting an attempt. On any other failure the episode is left in
// its in-flight state for the caller to settle after consulting the retry
// policy.
func (p *Pipeline) Run(ctx context.Context, episodeID string) (Outcome, error) {
	ep, err := p.st.GetEpisode(ctx, episodeID)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline %s: %w", episodeID, err)
	}
	if ep.Status == store.EpisodeCompleted {
		p.log.Info().
			Str("event", "pipeline.already_completed").
			Str("episode_id", ep.ID).
			Msg("episode already completed, skipping")
		return Outcome{Artifact: store.Artifact{
			AudioPath: ep.AudioPath,
			VideoPath: ep.VideoPath,
			AudioSize: ep.AudioSize,
			VideoSize: ep.VideoSize,
		}}, nil
	}

	ch, err := p.st.GetChannel(ctx, ep.ChannelID)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline %s: %w", episodeID, err)
	}
	if !ch.Enabled {
		// A disabled channel aborts like a cancellation: the item returns
		// to the queue without counting an attempt.
		return Outcome{}, errkind.Newf(errkind.Cancelled, "pipeline.run", "channel %s is disabled", ch.ID)
	}

	if err := p.st.TransitionEpisode(ctx, ep.ID, store.EpisodePending, store.EpisodeDownloading); err != nil {
		return Outcome{}, fmt.Errorf("pipeline %s: claim episode: %w", episodeID, err)
	}

	out, err := p.execute(ctx, ch, ep)
	if err != nil && errkind.KindOf(err) == errkind.Cancelled {
		// Roll the episode back so the next claim starts clean. A best-effort
		// rollback failure is logged, not surfaced over the cancellation.
		if rbErr := p.st.ReturnEpisodePending(context.WithoutCancel(ctx), ep.ID); rbErr != nil {
			p.log.Error().
				Str("event", "pipeline.rollback_failed").
				Str("episode_id", ep.ID).
				Err(rbErr).
				Msg("could not return episode to pending after cancellation")
		}
	}
	return out, err
}

// execute runs the bounded part: permit, fetch, transcode, finalize.
func (p *Pipeline) execute(ctx context.Context, ch *store.Channel, ep *store.Episode) (Outcome, error) {
	started := p.clock.Now()

	permit, err := p.gate.Acquire(ctx)
	if err != nil {
		return Outcome{}, errkind.New(errkind.Cancelled, "pipeline.acquire", err)
	}
	metrics.IncActiveDownloads()
	defer func() {
		permit.Release()
		metrics.DecActiveDownloads()
	}()

	tempPath := filepath.Join(p.cfg.TempDir, ep.ID+"-"+ident.NewNonce()+".src")
	defer func() {
		if err := fsutil.RemoveIfExists(tempPath); err != nil {
			p.log.Warn().
				Str("event", "pipeline.temp_cleanup_failed").
				Str("path", tempPath).
				Err(err).
				Msg("temp file not removed")
		}
	}()

	p.log.Info().
		Str("event", "pipeline.started").
		Str("episode_id", ep.ID).
		Str("channel_id", ch.ID).
		Str("external_id", ep.ExternalID).
		Str("format", string(ch.Format)).
		Msg("pipeline run started")

	if err := p.fetch.FetchItemMedia(ctx, ep.ExternalID, tempPath, p.progressLogger(ep.ID)); err != nil {
		return Outcome{}, fmt.Errorf("pipeline %s: %w", ep.ID, err)
	}

	if err := p.st.TransitionEpisode(ctx, ep.ID, store.EpisodeDownloading, store.EpisodeProcessing); err != nil {
		return Outcome{}, fmt.Errorf("pipeline %s: %w", ep.ID, err)
	}

	art, bytes, err := p.produceArtifacts(ctx, ch, ep, tempPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline %s: %w", ep.ID, err)
	}

	if ep.DurationSeconds == nil {
		p.backfillDuration(ctx, ep.ID, art)
	}

	if err := p.st.FinalizeEpisode(ctx, ep.ID, art, p.clock.Now()); err != nil {
		return Outcome{}, errkind.New(errkind.Fatal, "pipeline.finalize", err)
	}

	p.log.Info().
		Str("event", "pipeline.completed").
		Str("episode_id", ep.ID).
		Int64("bytes", bytes).
		Dur("elapsed", p.clock.Now().Sub(started)).
		Msg("pipeline run completed")
	return Outcome{Artifact: art, Bytes: bytes}, nil
}

// produceArtifacts transcodes the artifacts the channel format asks for,
// audio before video. On failure the half-written output of the failed
// artifact is removed; an earlier completed artifact stays on disk for a
// later retry to overwrite at the same deterministic path.
func (p *Pipeline) produceArtifacts(ctx context.Context, ch *store.Channel, ep *store.Episode, srcPath string) (store.Artifact, int64, error) {
	var (
		art   store.Artifact
		bytes int64
	)

	if ch.Format == store.FormatAudio || ch.Format == store.FormatBoth {
		dest, err := p.artifactPath(ch.ID, "audio", ep.ExternalID, p.cfg.AudioFormat)
		if err != nil {
			return art, bytes, err
		}
		res, err := p.tc.TranscodeAudio(ctx, srcPath, dest)
		if err != nil {
			p.discardPartial(dest)
			return art, bytes, err
		}
		art.AudioPath = res.OutputPath
		art.AudioSize = &res.OutputSize
		bytes += res.OutputSize
	}

	if ch.Format == store.FormatVideo || ch.Format == store.FormatBoth {
		dest, err := p.artifactPath(ch.ID, "video", ep.ExternalID, p.cfg.VideoFormat)
		if err != nil {
			return art, bytes, err
		}
		res, err := p.tc.TranscodeVideo(ctx, srcPath, dest)
		if err != nil {
			p.discardPartial(dest)
			return art, bytes, err
		}
		art.VideoPath = res.OutputPath
		art.VideoSize = &res.OutputSize
		bytes += res.OutputSize
	}

	return art, bytes, nil
}

// discardPartial removes whatever the transcoder left at the destination of
// a failed or cancelled artifact.
func (p *Pipeline) discardPartial(dest string) {
	if err := fsutil.RemoveIfExists(dest); err != nil {
		p.log.Warn().
			Str("event", "pipeline.partial_cleanup_failed").
			Str("path", dest).
			Err(err).
			Msg("partial artifact not removed")
	}
}

// artifactPath builds DownloadDir/<channel>/<kind>/<external_id>.<ext>,
// confined to the download root.
func (p *Pipeline) artifactPath(channelID, kind, externalID, ext string) (string, error) {
	rel := filepath.Join(channelID, kind, externalID+"."+ext)
	dest, err := fsutil.ConfineRelPath(p.cfg.DownloadDir, rel)
	if err != nil {
		return "", errkind.New(errkind.Fatal, "pipeline.layout", err)
	}
	if err := fsutil.EnsureDir(filepath.Dir(dest)); err != nil {
		return "", errkind.New(errkind.Fatal, "pipeline.layout", err)
	}
	return dest, nil
}

// backfillDuration probes the first artifact when the source metadata had no
// duration. Best effort only.
func (p *Pipeline) backfillDuration(ctx context.Context, episodeID string, art store.Artifact) {
	path := art.AudioPath
	if path == "" {
		path = art.VideoPath
	}
	if path == "" {
		return
	}
	info, err := p.tc.Probe(ctx, path)
	if err != nil || info.DurationSeconds <= 0 {
		return
	}
	if err := p.st.SetEpisodeDuration(ctx, episodeID, info.DurationSeconds); err != nil {
		p.log.Warn().
			Str("event", "pipeline.duration_backfill_failed").
			Str("episode_id", episodeID).
			Err(err).
			Msg("probed duration not stored")
	}
}

// progressLogger samples download progress into debug logs, at most one entry
// per interval.
func (p *Pipeline) progressLogger(episodeID string) fetcher.ProgressFunc {
	const interval = 5 * time.Second
	var last time.Time
	return func(pr fetcher.Progress) {
		now := time.Now()
		if now.Sub(last) < interval {
			return
		}
		last = now
		p.log.Debug().
			Str("event", "pipeline.progress").
			Str("episode_id", episodeID).
			Int64("bytes_done", pr.BytesDone).
			Int64("bytes_total", pr.BytesTotal).
			Msg("download progress")
	}
}

// IsCancellation reports whether err is the caller-initiated abort path.
func IsCancellation(err error) bool {
	return errkind.KindOf(err) == errkind.Cancelled ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
