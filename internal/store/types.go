// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import "time"

// MediaFormat selects which artifacts a channel produces.
type MediaFormat string

const (
	FormatAudio MediaFormat = "audio"
	FormatVideo MediaFormat = "video"
	FormatBoth  MediaFormat = "both"
)

// Valid reports whether f is one of the known formats.
func (f MediaFormat) Valid() bool {
	switch f {
	case FormatAudio, FormatVideo, FormatBoth:
		return true
	}
	return false
}

// EpisodeStatus is the lifecycle state of an episode.
type EpisodeStatus string

const (
	EpisodePending     EpisodeStatus = "pending"
	EpisodeDownloading EpisodeStatus = "downloading"
	EpisodeProcessing  EpisodeStatus = "processing"
	EpisodeCompleted   EpisodeStatus = "completed"
	EpisodeFailed      EpisodeStatus = "failed"
	EpisodeDeleted     EpisodeStatus = "deleted"
)

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueInProgress QueueStatus = "in_progress"
	QueueCompleted  QueueStatus = "completed"
	QueueRetrying   QueueStatus = "retrying"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// Terminal reports whether no further transition may change the status.
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueCompleted, QueueFailed, QueueCancelled:
		return true
	}
	return false
}

// Channel is a mirrored external source.
type Channel struct {
	ID            string
	SourceURL     string
	Title         string
	Description   string
	ThumbnailURL  string
	KeepCount     int
	Format        MediaFormat
	Enabled       bool
	LastRefreshAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Episode is one item discovered on a channel.
type Episode struct {
	ID              string
	ChannelID       string
	ExternalID      string
	Title           string
	Description     string
	ThumbnailURL    string
	DurationSeconds *int
	PublishedAt     *time.Time
	Status          EpisodeStatus
	DownloadedAt    *time.Time
	AudioPath       string
	VideoPath       string
	AudioSize       *int64
	VideoSize       *int64
	RetryCount      int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// QueueItem is the scheduling record driving download attempts for an episode.
type QueueItem struct {
	ID          string
	EpisodeID   string
	Priority    int
	Status      QueueStatus
	Attempts    int
	MaxAttempts int
	LastError   string
	NextRetryAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QueueView is a queue item joined with episode and channel titles for the
// admin queue endpoint.
type QueueView struct {
	QueueItem
	EpisodeTitle string
	ChannelID    string
	ChannelTitle string
}
