// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/harborlink/portalgate/internal/log"
)

// handleFile streams one artifact by bare filename. Resolution order
// (root, then session prefix, then tree walk) lives in the artifact
// store; this handler only enforces the name contract and serves the
// verified path.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	name := chi.URLParam(r, "name")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}

	if isPathTraversal(name) {
		logger.Warn().
			Str("event", "file_req.denied").
			Str("name", name).
			Str("reason", "path_escape").
			Msg("traversal sequence in artifact name")
		recordFileRequestDenied("path_escape")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	path, err := s.store.Resolve(name)
	if err != nil {
		if os.IsNotExist(err) {
			recordFileRequestDenied("not_found")
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		logger.Warn().Err(err).
			Str("event", "file_req.denied").
			Str("name", name).
			Str("reason", "invalid_name").
			Msg("artifact name rejected")
		recordFileRequestDenied("invalid_name")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	f, err := os.Open(path) // #nosec G304 -- Resolve verified the path lies under the artifact root
	if err != nil {
		recordFileRequestDenied("internal_error")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logger.Warn().Err(cerr).Str("path", path).Msg("failed to close artifact")
		}
	}()

	info, err := f.Stat()
	if err != nil {
		recordFileRequestDenied("internal_error")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Weak ETag from mtime and size; exported spreadsheets are re-fetched
	// by polling clients.
	etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=300")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	logger.Info().
		Str("event", "file_req.allowed").
		Str("name", name).
		Msg("serving artifact")
	recordFileRequestAllowed()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// isPathTraversal rejects names carrying traversal material: it decodes
// repeatedly to catch double encodings, normalizes unicode, and looks
// for separators, dot-dot and NUL bytes.
func isPathTraversal(name string) bool {
	decoded := name
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		} else if d2, err2 := url.QueryUnescape(decoded); err2 == nil {
			decoded = d2
		}
		if decoded == prev {
			break
		}
	}

	lower := strings.ToLower(decoded)
	for _, pat := range []string{"..", "/", `\`, "%00", "\x00", "%c0%ae", "%e0%80%ae"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	if strings.IndexByte(decoded, 0x00) >= 0 {
		return true
	}

	normalized := strings.ToLower(norm.NFC.String(decoded))
	return strings.Contains(normalized, "..") || strings.ContainsAny(normalized, `/\`)
}
