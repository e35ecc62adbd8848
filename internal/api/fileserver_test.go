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

func TestServeArtifactFromRoot(t *testing.T) {
	ts := newTestServer(t, landedFake, nil)
	require.NoError(t, os.WriteFile(filepath.Join(ts.store.Root(), "report.xlsx"), []byte("spreadsheet"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/files/report.xlsx", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "spreadsheet", rec.Body.String())
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "private")

	// Conditional re-fetch.
	req = httptest.NewRequest(http.MethodGet, "/files/report.xlsx", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestServeArtifactFromSessionDir(t *testing.T) {
	ts := newTestServer(t, landedFake, nil)
	dir, err := ts.store.DownloadDir("sess1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "export.xlsx"), []byte("rows"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/files/export.xlsx", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rows", rec.Body.String())
}

func TestServeArtifactNotFound(t *testing.T) {
	ts := newTestServer(t, landedFake, nil)

	req := httptest.NewRequest(http.MethodGet, "/files/missing.xlsx", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeArtifactRejectsTraversal(t *testing.T) {
	ts := newTestServer(t, landedFake, nil)

	for _, name := range []string{
		"..%2Fsecret.txt",
		"..%252F..%252Fetc%252Fpasswd",
		"shot%00.png",
		"a%5Cb.txt",
	} {
		req := httptest.NewRequest(http.MethodGet, "/files/"+name, nil)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, name)
	}
}

func TestIsPathTraversal(t *testing.T) {
	bad := []string{
		"../etc/passwd",
		"..%2fetc",
		"a/b",
		`a\b`,
		"shot\x00.png",
		"%2e%2e%2fsecret",
		"%252e%252e%252fsecret",
	}
	for _, name := range bad {
		assert.True(t, isPathTraversal(name), name)
	}

	good := []string{
		"report.xlsx",
		"20240101_120000_000001_failure.png",
		"sess1_20240101_bundle.zip",
	}
	for _, name := range good {
		assert.False(t, isPathTraversal(name), name)
	}
}
