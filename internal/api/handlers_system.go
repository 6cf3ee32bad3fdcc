// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"time"

	"github.com/ManuGH/podmirror/internal/fsutil"
	"github.com/ManuGH/podmirror/internal/metrics"
)

const recentFailedLimit = 20

type statusResponse struct {
	Version         string              `json:"version"`
	Session         *metrics.Snapshot   `json:"session,omitempty"`
	Episodes        map[string]int      `json:"episodes"`
	Queue           map[string]int      `json:"queue"`
	ActiveDownloads int                 `json:"active_downloads"`
	DownloadSlots   int                 `json:"download_slots"`
	Storage         *fsutil.StorageInfo `json:"storage,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	epCounts, err := s.st.CountEpisodesByStatus(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	qCounts, err := s.st.CountQueueByStatus(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := statusResponse{
		Version:  s.cfg.Version,
		Episodes: make(map[string]int, len(epCounts)),
		Queue:    make(map[string]int, len(qCounts)),
	}
	for k, v := range epCounts {
		resp.Episodes[string(k)] = v
	}
	for k, v := range qCounts {
		resp.Queue[string(k)] = v
	}
	if s.gate != nil {
		resp.ActiveDownloads = s.gate.ActiveCount()
		resp.DownloadSlots = s.gate.Capacity()
	}
	if s.session != nil {
		snap := s.session.Snapshot(time.Now().UTC())
		resp.Session = &snap
	}
	if info, err := fsutil.Storage(s.cfg.DownloadDir); err == nil {
		resp.Storage = &info
	}

	writeJSON(w, http.StatusOK, resp)
}

type queueResponse struct {
	InProgress   []queueItemJSON `json:"in_progress"`
	RecentFailed []queueItemJSON `json:"recent_failed"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	inProgress, err := s.st.InProgressQueueView(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	failed, err := s.st.RecentFailedQueueView(r.Context(), recentFailedLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp := queueResponse{
		InProgress:   make([]queueItemJSON, 0, len(inProgress)),
		RecentFailed: make([]queueItemJSON, 0, len(failed)),
	}
	for _, v := range inProgress {
		resp.InProgress = append(resp.InProgress, toQueueViewJSON(v))
	}
	for _, v := range failed {
		resp.RecentFailed = append(resp.RecentFailed, toQueueViewJSON(v))
	}
	writeJSON(w, http.StatusOK, resp)
}
