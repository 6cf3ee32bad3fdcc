// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// fileServer serves files from root with checks against path traversal,
// symlink escapes, and directory listing. The handler expects the route
// prefix already stripped.
func (s *Server) fileServer(root string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		reqPath := r.URL.Path
		if reqPath == "" || strings.HasSuffix(reqPath, "/") {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if isPathTraversal(reqPath) {
			s.log.Warn().
				Str("event", "file_req.denied").
				Str("path", reqPath).
				Str("reason", "path_escape").
				Msg("traversal sequence detected")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		absRoot, err := filepath.Abs(root)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		realRoot, err := filepath.EvalSymlinks(absRoot)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		realPath, err := filepath.EvalSymlinks(filepath.Join(absRoot, filepath.FromSlash(reqPath)))
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		// Containment check after symlink resolution.
		rel, err := filepath.Rel(realRoot, realPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
			s.log.Warn().
				Str("event", "file_req.denied").
				Str("path", reqPath).
				Str("resolved", realPath).
				Str("reason", "path_escape").
				Msg("path escapes serving root")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		f, err := os.Open(realPath) // #nosec G304 -- confined to realRoot above
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if info.IsDir() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if ct := contentTypeFor(info.Name()); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set("ETag", fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size()))

		// ServeContent handles Range requests, which podcast clients use for
		// resumable episode downloads.
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".rss":
		return "application/rss+xml; charset=utf-8"
	case ".atom":
		return "application/atom+xml; charset=utf-8"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".ogg":
		return "audio/ogg"
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	}
	return ""
}

// isPathTraversal decodes the path repeatedly to catch double encodings,
// normalizes it, and rejects parent references and NUL bytes.
func isPathTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		}
		if decoded == prev {
			break
		}
	}

	if strings.Contains(decoded, "\x00") {
		return true
	}
	lower := strings.ToLower(norm.NFC.String(decoded))
	if strings.Contains(lower, "..") || strings.Contains(lower, "%00") {
		return true
	}
	return false
}
