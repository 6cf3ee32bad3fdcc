// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fetcher discovers channel items at an external source and downloads
// their media. The production implementation shells out to yt-dlp; the
// interface exists so the pipeline and refresh service can be tested with
// fakes.
package fetcher

import (
	"context"
	"time"
)

// Item is the source-side view of an episode.
type Item struct {
	ExternalID      string
	Title           string
	Description     string
	ThumbnailURL    string
	DurationSeconds *int
	PublishedAt     *time.Time
}

// Progress is a download progress sample.
type Progress struct {
	BytesDone  int64
	BytesTotal int64 // 0 when the source does not report a total
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (p Progress) Percent() float64 {
	if p.BytesTotal <= 0 {
		return -1
	}
	return float64(p.BytesDone) / float64(p.BytesTotal) * 100
}

// ProgressFunc receives progress samples during a media download. It is
// called from the download goroutine and must not block.
type ProgressFunc func(Progress)

// Fetcher talks to the external source.
type Fetcher interface {
	// ListChannelItems returns the newest items of a channel, newest first,
	// at most limit entries (all when limit <= 0).
	ListChannelItems(ctx context.Context, sourceURL string, limit int) ([]Item, error)

	// FetchItemMetadata resolves full metadata for one item.
	FetchItemMetadata(ctx context.Context, externalID string) (Item, error)

	// FetchItemMedia downloads the item's source media to destPath.
	// onProgress may be nil.
	FetchItemMedia(ctx context.Context, externalID, destPath string, onProgress ProgressFunc) error
}
