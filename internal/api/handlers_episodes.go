// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/podmirror/internal/fsutil"
	"github.com/ManuGH/podmirror/internal/store"
)

const (
	defaultEpisodePageSize = 100
	maxEpisodePageSize     = 500
)

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	if _, err := s.st.GetChannel(r.Context(), channelID); err != nil {
		s.respondError(w, r, err)
		return
	}

	filter := store.EpisodeFilter{
		Status: store.EpisodeStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", defaultEpisodePageSize),
		Offset: queryInt(r, "offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > maxEpisodePageSize {
		filter.Limit = defaultEpisodePageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	episodes, err := s.st.ListEpisodes(r.Context(), channelID, filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]episodeJSON, 0, len(episodes))
	for i := range episodes {
		out = append(out, toEpisodeJSON(&episodes[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	ep, err := s.st.GetEpisode(r.Context(), chi.URLParam(r, "episodeID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEpisodeJSON(ep))
}

type retryRequest struct {
	Priority int `json:"priority"`
}

func (s *Server) handleRetryEpisode(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid json body")
			return
		}
	}

	qi, err := s.queue.RetryEpisode(r.Context(), chi.URLParam(r, "episodeID"), req.Priority)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toQueueItemJSON(qi))
}

func (s *Server) handleCancelEpisode(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	if _, err := s.st.GetEpisode(r.Context(), episodeID); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.queue.CancelByEpisode(r.Context(), episodeID); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleDeleteEpisode removes an episode row and its artifacts. Any open
// queue item is cancelled first so no consumer races the delete.
func (s *Server) handleDeleteEpisode(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")
	ep, err := s.st.GetEpisode(r.Context(), episodeID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.queue.CancelByEpisode(r.Context(), episodeID); err != nil {
		s.respondError(w, r, err)
		return
	}

	for _, p := range []string{ep.AudioPath, ep.VideoPath} {
		if p == "" {
			continue
		}
		if err := fsutil.RemoveIfExists(p); err != nil {
			s.log.Warn().
				Str("event", "api.artifact_remove_failed").
				Str("episode_id", episodeID).
				Str("path", p).
				Err(err).
				Msg("artifact removal failed")
		}
	}

	if err := s.st.DeleteEpisode(r.Context(), episodeID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.publishChannel(r.Context(), ep.ChannelID)

	s.log.Info().
		Str("event", "api.episode_deleted").
		Str("episode_id", episodeID).
		Msg("episode deleted")
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
