// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feed

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/podmirror/internal/fsutil"
	"github.com/ManuGH/podmirror/internal/ident"
	"github.com/ManuGH/podmirror/internal/metrics"
	"github.com/ManuGH/podmirror/internal/store"
)

// Config locates the published feeds and the media they reference.
type Config struct {
	// BaseURL is the public origin serving /media and /feeds.
	BaseURL string
	// DownloadDir is the artifact root the media URLs map onto.
	DownloadDir string
	// FeedDir is where the rendered documents land.
	FeedDir string
}

// Publisher renders a channel's feeds and writes them atomically, so a
// concurrent HTTP read never sees a torn document.
type Publisher struct {
	st    *store.Store
	cfg   Config
	clock ident.Clock
	log   zerolog.Logger
}

// NewPublisher creates the feed publisher.
func NewPublisher(st *store.Store, cfg Config, clock ident.Clock, logger zerolog.Logger) *Publisher {
	return &Publisher{st: st, cfg: cfg, clock: clock, log: logger}
}

// PublishChannel renders and writes <id>.rss and <id>.atom.
func (p *Publisher) PublishChannel(ctx context.Context, channelID string) error {
	ch, err := p.st.GetChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("publish %s: %w", channelID, err)
	}

	episodes, err := p.st.ListEpisodes(ctx, ch.ID, store.EpisodeFilter{Status: store.EpisodeCompleted})
	if err != nil {
		return fmt.Errorf("publish %s: %w", channelID, err)
	}

	now := p.clock.Now()
	rss, err := renderRSS(ch, episodes, p.enclosure, now)
	if err != nil {
		return fmt.Errorf("publish %s: %w", channelID, err)
	}
	atom, err := renderAtom(ch, episodes, p.enclosure, now)
	if err != nil {
		return fmt.Errorf("publish %s: %w", channelID, err)
	}

	if err := fsutil.EnsureDir(p.cfg.FeedDir); err != nil {
		return fmt.Errorf("publish %s: %w", channelID, err)
	}
	for _, doc := range []struct {
		ext  string
		data []byte
	}{
		{"rss", rss},
		{"atom", atom},
	} {
		target := filepath.Join(p.cfg.FeedDir, ch.ID+"."+doc.ext)
		err := renameio.WriteFile(target, doc.data, 0o644)
		metrics.RecordFeedWrite(err)
		if err != nil {
			return fmt.Errorf("publish %s: write %s: %w", channelID, target, err)
		}
	}

	p.log.Info().
		Str("event", "feed.published").
		Str("channel_id", ch.ID).
		Int("episodes", len(episodes)).
		Msg("feeds written")
	return nil
}

// PublishAll re-renders every channel's feeds. Per-channel failures are
// logged and skipped.
func (p *Publisher) PublishAll(ctx context.Context) error {
	channels, err := p.st.ListChannels(ctx, false)
	if err != nil {
		return fmt.Errorf("publish all: %w", err)
	}
	for _, ch := range channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.PublishChannel(ctx, ch.ID); err != nil {
			p.log.Error().
				Str("event", "feed.publish_failed").
				Str("channel_id", ch.ID).
				Err(err).
				Msg("feed publish failed")
		}
	}
	return nil
}

// enclosure picks the episode's primary artifact: the audio track when
// present, the video otherwise. RSS allows one enclosure per item.
func (p *Publisher) enclosure(ep store.Episode) *rssEnclosure {
	artifactPath := ep.AudioPath
	size := ep.AudioSize
	if artifactPath == "" {
		artifactPath = ep.VideoPath
		size = ep.VideoSize
	}
	if artifactPath == "" {
		return nil
	}

	rel, err := filepath.Rel(p.cfg.DownloadDir, artifactPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		p.log.Warn().
			Str("event", "feed.enclosure_skipped").
			Str("episode_id", ep.ID).
			Str("path", artifactPath).
			Msg("artifact outside the download root")
		return nil
	}

	enc := &rssEnclosure{
		URL:  p.mediaURL(rel),
		Type: mimeByExt(filepath.Ext(artifactPath)),
	}
	if size != nil {
		enc.Length = *size
	}
	return enc
}

func (p *Publisher) mediaURL(rel string) string {
	// Encode each segment; media paths contain ids and extensions only, but
	// the escape keeps the URL valid regardless.
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(p.cfg.BaseURL, "/") + path.Join("/media", strings.Join(segments, "/"))
}

func mimeByExt(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "aac":
		return "audio/aac"
	case "ogg":
		return "audio/ogg"
	case "mp4":
		return "video/mp4"
	case "mkv":
		return "video/x-matroska"
	case "webm":
		return "video/webm"
	}
	return "application/octet-stream"
}
