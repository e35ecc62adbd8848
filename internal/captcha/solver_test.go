// SPDX-License-Identifier: MIT

package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveReturnsTranscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/solve", r.URL.Path)
		var req solveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://portal/audio.mp3", req.AudioURL)
		assert.Equal(t, "k", req.APIKey)
		_ = json.NewEncoder(w).Encode(solveResponse{Text: "seven two nine"})
	}))
	defer srv.Close()

	s := NewHTTPSolver(srv.URL)
	text, err := s.Solve(context.Background(), "https://portal/audio.mp3", "k")
	require.NoError(t, err)
	assert.Equal(t, "seven two nine", text)
}

func TestSolveSurfacesServiceErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}},
		{"error field", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(solveResponse{Error: "unintelligible audio"})
		}},
		{"empty transcription", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(solveResponse{})
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := NewHTTPSolver(srv.URL).Solve(context.Background(), "u", "k")
			assert.Error(t, err)
		})
	}
}
