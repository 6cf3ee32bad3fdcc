// SPDX-License-Identifier: MIT
package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileServerServesFeed(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.MkdirAll(fx.cfg.FeedDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fx.cfg.FeedDir, "C1.rss"), []byte("<rss/>"), 0o644))

	rec := fx.do(t, http.MethodGet, "/feeds/C1.rss", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<rss/>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/rss+xml")
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestFileServerServesMediaWithRange(t *testing.T) {
	fx := newFixture(t)
	mediaPath := filepath.Join(fx.cfg.DownloadDir, "C1", "audio", "E1.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(mediaPath), 0o755))
	require.NoError(t, os.WriteFile(mediaPath, []byte("0123456789"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/media/C1/audio/E1.mp3", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
}

func TestFileServerRejectsTraversal(t *testing.T) {
	fx := newFixture(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"parent reference", "/feeds/../secret", http.StatusForbidden},
		{"encoded parent", "/feeds/%2e%2e/secret", http.StatusForbidden},
		{"double encoded", "/feeds/%252e%252e/secret", http.StatusForbidden},
		{"trailing slash", "/feeds/sub/", http.StatusForbidden},
		{"missing file", "/feeds/nope.rss", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.MkdirAll(fx.cfg.FeedDir, 0o755))
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			fx.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestFileServerRejectsSymlinkEscape(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.MkdirAll(fx.cfg.FeedDir, 0o755))

	outside := filepath.Join(t.TempDir(), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))
	link := filepath.Join(fx.cfg.FeedDir, "leak.rss")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	rec := fx.do(t, http.MethodGet, "/feeds/leak.rss", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFileServerRejectsWrite(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(t, http.MethodPost, "/feeds/C1.rss", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIsPathTraversal(t *testing.T) {
	assert.False(t, isPathTraversal("C1/audio/E1.mp3"))
	assert.True(t, isPathTraversal("../etc/passwd"))
	assert.True(t, isPathTraversal("%2e%2e/etc"))
	assert.True(t, isPathTraversal("a%00b"))
	assert.True(t, isPathTraversal("a\x00b"))
}
