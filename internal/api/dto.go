// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"time"

	"github.com/ManuGH/podmirror/internal/store"
)

type channelJSON struct {
	ID            string     `json:"id"`
	SourceURL     string     `json:"source_url"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	ThumbnailURL  string     `json:"thumbnail_url,omitempty"`
	KeepCount     int        `json:"keep_count"`
	Format        string     `json:"format"`
	Enabled       bool       `json:"enabled"`
	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toChannelJSON(ch *store.Channel) channelJSON {
	return channelJSON{
		ID:            ch.ID,
		SourceURL:     ch.SourceURL,
		Title:         ch.Title,
		Description:   ch.Description,
		ThumbnailURL:  ch.ThumbnailURL,
		KeepCount:     ch.KeepCount,
		Format:        string(ch.Format),
		Enabled:       ch.Enabled,
		LastRefreshAt: ch.LastRefreshAt,
		CreatedAt:     ch.CreatedAt,
		UpdatedAt:     ch.UpdatedAt,
	}
}

type episodeJSON struct {
	ID              string     `json:"id"`
	ChannelID       string     `json:"channel_id"`
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	ThumbnailURL    string     `json:"thumbnail_url,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	Status          string     `json:"status"`
	DownloadedAt    *time.Time `json:"downloaded_at,omitempty"`
	AudioPath       string     `json:"audio_path,omitempty"`
	VideoPath       string     `json:"video_path,omitempty"`
	AudioSize       *int64     `json:"audio_size,omitempty"`
	VideoSize       *int64     `json:"video_size,omitempty"`
	RetryCount      int        `json:"retry_count"`
	LastError       string     `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toEpisodeJSON(ep *store.Episode) episodeJSON {
	return episodeJSON{
		ID:              ep.ID,
		ChannelID:       ep.ChannelID,
		ExternalID:      ep.ExternalID,
		Title:           ep.Title,
		Description:     ep.Description,
		ThumbnailURL:    ep.ThumbnailURL,
		DurationSeconds: ep.DurationSeconds,
		PublishedAt:     ep.PublishedAt,
		Status:          string(ep.Status),
		DownloadedAt:    ep.DownloadedAt,
		AudioPath:       ep.AudioPath,
		VideoPath:       ep.VideoPath,
		AudioSize:       ep.AudioSize,
		VideoSize:       ep.VideoSize,
		RetryCount:      ep.RetryCount,
		LastError:       ep.LastError,
		CreatedAt:       ep.CreatedAt,
		UpdatedAt:       ep.UpdatedAt,
	}
}

type queueItemJSON struct {
	ID           string     `json:"id"`
	EpisodeID    string     `json:"episode_id"`
	EpisodeTitle string     `json:"episode_title,omitempty"`
	ChannelID    string     `json:"channel_id,omitempty"`
	ChannelTitle string     `json:"channel_title,omitempty"`
	Priority     int        `json:"priority"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	LastError    string     `json:"last_error,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toQueueItemJSON(qi *store.QueueItem) queueItemJSON {
	return queueItemJSON{
		ID:          qi.ID,
		EpisodeID:   qi.EpisodeID,
		Priority:    qi.Priority,
		Status:      string(qi.Status),
		Attempts:    qi.Attempts,
		MaxAttempts: qi.MaxAttempts,
		LastError:   qi.LastError,
		NextRetryAt: qi.NextRetryAt,
		CreatedAt:   qi.CreatedAt,
		UpdatedAt:   qi.UpdatedAt,
	}
}

func toQueueViewJSON(v store.QueueView) queueItemJSON {
	out := toQueueItemJSON(&v.QueueItem)
	out.EpisodeTitle = v.EpisodeTitle
	out.ChannelID = v.ChannelID
	out.ChannelTitle = v.ChannelTitle
	return out
}
