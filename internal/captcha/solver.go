// SPDX-License-Identifier: MIT

// Package captcha integrates the external audio-transcription service.
// Solves are never retried here: each call is billed.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harborlink/portalgate/internal/log"
)

// Solver transcribes an audio challenge.
type Solver interface {
	Solve(ctx context.Context, audioURL, apiKey string) (string, error)
}

// HTTPSolver posts challenges to the transcription service.
type HTTPSolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSolver builds a solver against the given service URL.
func NewHTTPSolver(baseURL string) *HTTPSolver {
	return &HTTPSolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type solveRequest struct {
	AudioURL string `json:"audio_url"`
	APIKey   string `json:"api_key"`
}

type solveResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Solve submits the audio URL and returns the transcription.
func (s *HTTPSolver) Solve(ctx context.Context, audioURL, apiKey string) (string, error) {
	logger := log.WithComponentFromContext(ctx, "captcha")

	body, err := json.Marshal(solveRequest{AudioURL: audioURL, APIKey: apiKey})
	if err != nil {
		return "", fmt.Errorf("marshal solve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/solve", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build solve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call captcha solver: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read solver response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("captcha solver returned %d: %s", resp.StatusCode, raw)
	}

	var parsed solveResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode solver response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("captcha solver error: %s", parsed.Error)
	}
	if parsed.Text == "" {
		return "", fmt.Errorf("captcha solver returned empty transcription")
	}

	logger.Info().
		Str("event", "captcha.solved").
		Dur("elapsed", time.Since(start)).
		Msg("audio challenge transcribed")
	return parsed.Text, nil
}
