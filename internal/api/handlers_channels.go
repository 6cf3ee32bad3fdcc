// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/podmirror/internal/config"
	"github.com/ManuGH/podmirror/internal/errkind"
	"github.com/ManuGH/podmirror/internal/ident"
	"github.com/ManuGH/podmirror/internal/store"
)

const defaultKeepCount = 10

type channelRequest struct {
	SourceURL    string `json:"source_url"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ThumbnailURL string `json:"thumbnail_url"`
	KeepCount    *int   `json:"keep_count"`
	Format       string `json:"format"`
	Enabled      *bool  `json:"enabled"`
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.st.ListChannels(r.Context(), r.URL.Query().Get("enabled") == "true")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]channelJSON, 0, len(channels))
	for i := range channels {
		out = append(out, toChannelJSON(&channels[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	if req.SourceURL == "" || req.Title == "" {
		s.respondError(w, r, errkind.Newf(errkind.Validation, "api.create_channel", "source_url and title are required"))
		return
	}

	ch := &store.Channel{
		ID:           ident.NewID(),
		SourceURL:    req.SourceURL,
		Title:        req.Title,
		Description:  req.Description,
		ThumbnailURL: req.ThumbnailURL,
		KeepCount:    defaultKeepCount,
		Format:       store.FormatAudio,
		Enabled:      true,
	}
	applyChannelRequest(ch, req)

	if err := config.ValidateChannelInput(ch.KeepCount, ch.Format); err != nil {
		s.respondError(w, r, errkind.New(errkind.Validation, "api.create_channel", err))
		return
	}
	if err := s.st.CreateChannel(r.Context(), ch); err != nil {
		s.respondError(w, r, err)
		return
	}

	s.log.Info().
		Str("event", "api.channel_created").
		Str("channel_id", ch.ID).
		Str("source_url", ch.SourceURL).
		Msg("channel created")

	// An empty feed goes out right away so the subscription URL resolves
	// before the first refresh completes.
	s.publishChannel(r.Context(), ch.ID)
	writeJSON(w, http.StatusCreated, toChannelJSON(ch))
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.st.GetChannel(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChannelJSON(ch))
}

func (s *Server) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.st.GetChannel(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	applyChannelRequest(ch, req)

	if err := config.ValidateChannelInput(ch.KeepCount, ch.Format); err != nil {
		s.respondError(w, r, errkind.New(errkind.Validation, "api.update_channel", err))
		return
	}
	if err := s.st.UpdateChannel(r.Context(), ch); err != nil {
		s.respondError(w, r, err)
		return
	}

	s.publishChannel(r.Context(), ch.ID)
	writeJSON(w, http.StatusOK, toChannelJSON(ch))
}

// applyChannelRequest copies the set fields of req onto ch.
func applyChannelRequest(ch *store.Channel, req channelRequest) {
	if req.SourceURL != "" {
		ch.SourceURL = req.SourceURL
	}
	if req.Title != "" {
		ch.Title = req.Title
	}
	if req.Description != "" {
		ch.Description = req.Description
	}
	if req.ThumbnailURL != "" {
		ch.ThumbnailURL = req.ThumbnailURL
	}
	if req.KeepCount != nil {
		ch.KeepCount = *req.KeepCount
	}
	if req.Format != "" {
		ch.Format = store.MediaFormat(req.Format)
	}
	if req.Enabled != nil {
		ch.Enabled = *req.Enabled
	}
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	deleteFiles := r.URL.Query().Get("delete_files") == "true"

	if _, err := s.st.GetChannel(r.Context(), channelID); err != nil {
		s.respondError(w, r, err)
		return
	}
	// Episode and queue rows cascade with the channel row.
	if err := s.st.DeleteChannel(r.Context(), channelID); err != nil {
		s.respondError(w, r, err)
		return
	}

	for _, ext := range []string{".rss", ".atom"} {
		_ = os.Remove(filepath.Join(s.cfg.FeedDir, channelID+ext))
	}
	if deleteFiles {
		if err := os.RemoveAll(filepath.Join(s.cfg.DownloadDir, channelID)); err != nil {
			s.log.Warn().
				Str("event", "api.channel_files_remove_failed").
				Str("channel_id", channelID).
				Err(err).
				Msg("artifact cleanup failed")
		}
	}

	s.log.Info().
		Str("event", "api.channel_deleted").
		Str("channel_id", channelID).
		Bool("delete_files", deleteFiles).
		Msg("channel deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshChannel(w http.ResponseWriter, r *http.Request) {
	res, err := s.refresher.RefreshChannel(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel_id": res.ChannelID,
		"discovered": res.Discovered,
		"created":    res.Created,
		"enqueued":   res.Enqueued,
		"skipped":    res.Skipped,
	})
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil || !s.trigger.TriggerNow(r.Context()) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "refresh already running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// publishChannel re-renders the channel's feeds, best effort.
func (s *Server) publishChannel(ctx context.Context, channelID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChannel(ctx, channelID); err != nil {
		s.log.Warn().
			Str("event", "api.publish_failed").
			Str("channel_id", channelID).
			Err(err).
			Msg("feed publish failed")
	}
}
