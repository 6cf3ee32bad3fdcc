// SPDX-License-Identifier: MIT
package metrics

import (
	"sync/atomic"
	"time"
)

// Session tracks since-start counters for the admin status endpoint. The
// Prometheus registry covers scraping; this covers the humans hitting
// /api/status without a Prometheus nearby.
type Session struct {
	startedAt time.Time

	downloadsCompleted atomic.Int64
	downloadsFailed    atomic.Int64
	episodesDiscovered atomic.Int64
	episodesDeleted    atomic.Int64
	bytesDownloaded    atomic.Int64
	bytesFreed         atomic.Int64
}

// NewSession starts counting at now.
func NewSession(now time.Time) *Session {
	return &Session{startedAt: now}
}

func (s *Session) AddCompleted(bytes int64) {
	s.downloadsCompleted.Add(1)
	s.bytesDownloaded.Add(bytes)
}

func (s *Session) AddFailed() { s.downloadsFailed.Add(1) }

func (s *Session) AddDiscovered(n int) { s.episodesDiscovered.Add(int64(n)) }

func (s *Session) AddDeleted(n int, bytesFreed int64) {
	s.episodesDeleted.Add(int64(n))
	s.bytesFreed.Add(bytesFreed)
}

// Snapshot is a consistent-enough copy for JSON rendering.
type Snapshot struct {
	StartedAt          time.Time `json:"started_at"`
	UptimeSeconds      int64     `json:"uptime_seconds"`
	DownloadsCompleted int64     `json:"downloads_completed"`
	DownloadsFailed    int64     `json:"downloads_failed"`
	EpisodesDiscovered int64     `json:"episodes_discovered"`
	EpisodesDeleted    int64     `json:"episodes_deleted"`
	BytesDownloaded    int64     `json:"bytes_downloaded"`
	BytesFreed         int64     `json:"bytes_freed"`
}

func (s *Session) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		StartedAt:          s.startedAt,
		UptimeSeconds:      int64(now.Sub(s.startedAt).Seconds()),
		DownloadsCompleted: s.downloadsCompleted.Load(),
		DownloadsFailed:    s.downloadsFailed.Load(),
		EpisodesDiscovered: s.episodesDiscovered.Load(),
		EpisodesDeleted:    s.episodesDeleted.Load(),
		BytesDownloaded:    s.bytesDownloaded.Load(),
		BytesFreed:         s.bytesFreed.Load(),
	}
}
