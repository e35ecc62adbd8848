// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portalerr"
)

// errorBody is the JSON shape of every failure response.
type errorBody struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	ErrorMessage  string `json:"error_message,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	IsNewSession  *bool  `json:"is_new_session,omitempty"`
	ApptSessionID string `json:"appointment_session_id,omitempty"`
	CurrentPhase  int    `json:"current_phase,omitempty"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger := log.WithComponent("api")
		logger.Warn().Err(err).Msg("failed to encode response")
	}
}

// writeError maps a classified error to its HTTP status and JSON body.
// sessionID may be empty when the failure happened before acquisition.
func writeError(w http.ResponseWriter, r *http.Request, err error, sessionID string) {
	pe := portalerr.AsError(err)
	status := portalerr.HTTPStatus(pe.Kind)

	logger := log.WithComponentFromContext(r.Context(), "api")
	evt := logger.Warn()
	if status >= 500 {
		evt = logger.Error()
	}
	evt.Err(err).
		Str("event", "api.request_failed").
		Str("kind", string(pe.Kind)).
		Int("status", status).
		Str("path", r.URL.Path).
		Msg("request failed")

	writeJSON(w, status, errorBody{
		Success:       false,
		Error:         string(pe.Kind),
		ErrorMessage:  pe.Message,
		SessionID:     sessionID,
		ApptSessionID: pe.ApptID,
		CurrentPhase:  pe.Phase,
		ScreenshotURL: pe.ScreenshotURL,
	})
}
