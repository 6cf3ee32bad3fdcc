// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/ManuGH/podmirror/internal/ident"
	"github.com/ManuGH/podmirror/internal/log"
)

// requestID tags every request with a correlation id, honoring an inbound
// X-Request-ID from a reverse proxy.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = ident.NewID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

// recoverer converts handler panics into 500s instead of killing the daemon.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().
					Str("event", "api.panic").
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.Info().
			Str("event", "api.request").
			Str("request_id", log.RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(started)).
			Msg("request handled")
	})
}

// basicAuth guards the /api group. With no credentials configured the group
// is open; otherwise both values must match, compared in constant time.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthUser == "" && s.cfg.AuthPass == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			s.log.Warn().
				Str("event", "auth.missing_credentials").
				Str("remote", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("basic auth header missing")
			writeUnauthorized(w)
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AuthUser)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.AuthPass)) == 1
		if !userOK || !passOK {
			s.log.Warn().
				Str("event", "auth.invalid_credentials").
				Str("remote", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("basic auth rejected")
			writeUnauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}
