// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/podmirror/internal/errkind"
	"github.com/ManuGH/podmirror/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps domain errors to HTTP status codes.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		code = http.StatusConflict
	case errkind.KindOf(err) == errkind.Validation:
		code = http.StatusUnprocessableEntity
	}

	if code == http.StatusInternalServerError {
		s.log.Error().
			Str("event", "api.internal_error").
			Str("path", r.URL.Path).
			Err(err).
			Msg("request failed")
		// Internals never leak to the client.
		writeJSON(w, code, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="podmirror"`)
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
}
