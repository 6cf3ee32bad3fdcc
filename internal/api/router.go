// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const (
	apiRateLimit  = 600
	apiRateWindow = time.Minute
)

// Router assembles the full HTTP surface. Feed and media serving stays
// unauthenticated: podcast clients cannot do basic auth challenges well, and
// the /api group carries everything mutating.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(requestID)
	r.Use(s.requestLogger)
	r.Use(httprate.Limit(
		apiRateLimit,
		apiRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
		}),
	))

	r.Get("/healthz", s.handleHealthz)

	r.Handle("/feeds/*", http.StripPrefix("/feeds/", s.fileServer(s.cfg.FeedDir)))
	r.Handle("/media/*", http.StripPrefix("/media/", s.fileServer(s.cfg.DownloadDir)))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.basicAuth)

		r.Get("/status", s.handleStatus)
		r.Get("/version", s.handleVersion)
		r.Get("/queue", s.handleQueue)
		r.Post("/refresh", s.handleRefreshAll)

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.handleListChannels)
			r.Post("/", s.handleCreateChannel)
			r.Route("/{channelID}", func(r chi.Router) {
				r.Get("/", s.handleGetChannel)
				r.Put("/", s.handleUpdateChannel)
				r.Delete("/", s.handleDeleteChannel)
				r.Post("/refresh", s.handleRefreshChannel)
				r.Get("/episodes", s.handleListEpisodes)
			})
		})

		r.Route("/episodes/{episodeID}", func(r chi.Router) {
			r.Get("/", s.handleGetEpisode)
			r.Delete("/", s.handleDeleteEpisode)
			r.Post("/retry", s.handleRetryEpisode)
			r.Post("/cancel", s.handleCancelEpisode)
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}
