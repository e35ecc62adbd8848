// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/harborlink/portalgate/internal/appointment"
	"github.com/harborlink/portalgate/internal/browser"
	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portalerr"
	"github.com/harborlink/portalgate/internal/session"
)

// appointmentRequest is the typed part of the appointment envelope. The
// phase fields themselves are open-ended and collected from the raw
// body, so new portal form fields never require an API change.
type appointmentRequest struct {
	sessionRef
	ContainerType        string `json:"container_type"`
	AppointmentSessionID string `json:"appointment_session_id"`
	AppointmentTime      string `json:"appointment_time"`
}

// envelopeKeys are request plumbing, not form fields; they never enter
// phase data.
var envelopeKeys = map[string]bool{
	"session_id":             true,
	"username":               true,
	"password":               true,
	"captcha_api_key":        true,
	"debug":                  true,
	"container_type":         true,
	"appointment_session_id": true,
	"appointment_time":       true,
}

// handleCheckAppointments runs the stepper to phase 3 and reads what is
// bookable without submitting.
func (s *Server) handleCheckAppointments(w http.ResponseWriter, r *http.Request) {
	s.runAppointment(w, r, false)
}

// handleMakeAppointment runs the stepper to phase 3, picks the supplied
// slot, and submits. Submits mutate portal state and are never retried.
func (s *Server) handleMakeAppointment(w http.ResponseWriter, r *http.Request) {
	s.runAppointment(w, r, true)
}

func (s *Server) runAppointment(w http.ResponseWriter, r *http.Request, submit bool) {
	var req appointmentRequest
	var raw map[string]any
	if err := decodeEnvelope(r, &req, &raw); err != nil {
		writeError(w, r, err, "")
		return
	}

	ctx := engineCtx(r)
	sess, sub, isNew, err := s.resolveWorkflow(ctx, req)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	defer s.pool.Release(sess)
	sess.Lock()
	defer sess.Unlock()
	ctx = log.ContextWithSessionID(ctx, sess.ID)

	mergePhaseFields(sub, raw)
	shot := s.screenshotFunc(sess.ID)

	if submit {
		res, err := s.appts.Make(ctx, sess.Driver, sub, shot, req.AppointmentTime)
		if err != nil {
			writeError(w, r, err, sess.ID)
			return
		}
		body := map[string]any{
			"success":               true,
			"appointment_confirmed": res.Confirmed,
			"appointment_details":   res.Details,
			"session_id":            sess.ID,
			"is_new_session":        isNew,
		}
		if u := s.maybeBundle(ctx, req.Debug, sess.ID, "make_appointment"); u != "" {
			body["debug_bundle_url"] = u
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	res, err := s.appts.Check(ctx, sess.Driver, sub, shot)
	if err != nil {
		writeError(w, r, err, sess.ID)
		return
	}

	body := map[string]any{
		"success":                true,
		"appointment_session_id": res.ApptID,
		"container_type":         string(res.Variant),
		"phase_data":             res.PhaseData,
		"session_id":             sess.ID,
		"is_new_session":         isNew,
	}
	switch res.Variant {
	case appointment.VariantImport:
		body["available_times"] = res.AvailableTimes
		body["count"] = len(res.AvailableTimes)
		if req.Debug {
			if u := shot(ctx, sess.Driver, "time_dropdown"); u != "" {
				body["dropdown_screenshot_url"] = u
			}
		}
	case appointment.VariantExport:
		body["calendar_found"] = res.CalendarFound
		if req.Debug {
			if u := shot(ctx, sess.Driver, "calendar"); u != "" {
				body["calendar_screenshot_url"] = u
			}
		}
	}
	if u := s.maybeBundle(ctx, req.Debug, sess.ID, "check_appointments"); u != "" {
		body["debug_bundle_url"] = u
	}
	writeJSON(w, http.StatusOK, body)
}

// resolveWorkflow maps the request onto a (browser session, sub-session)
// pair. A resume request is pinned to the browser session the workflow
// started on; if that session is gone the workflow is unresumable and
// the stored state is discarded.
func (s *Server) resolveWorkflow(ctx context.Context, req appointmentRequest) (*session.Session, *appointment.SubSession, bool, error) {
	store := s.appts.Store()

	if req.AppointmentSessionID != "" {
		sub, ok := store.Get(req.AppointmentSessionID)
		if !ok {
			return nil, nil, false, portalerr.New(portalerr.KindSessionExpired,
				"appointment session %s expired or unknown", req.AppointmentSessionID)
		}
		sess, err := s.pool.AcquireByID(ctx, sub.BrowserSessionID)
		if err != nil {
			store.Delete(sub.ID)
			return nil, nil, false, portalerr.Wrap(portalerr.KindSessionExpired, err,
				"browser session for appointment %s is gone", sub.ID)
		}
		return sess, sub, false, nil
	}

	variant := appointment.Variant(req.ContainerType)
	if variant != appointment.VariantImport && variant != appointment.VariantExport {
		return nil, nil, false, portalerr.New(portalerr.KindInvalidType,
			"container_type must be %q or %q", appointment.VariantImport, appointment.VariantExport)
	}

	sess, isNew, err := s.acquire(ctx, req.sessionRef)
	if err != nil {
		return nil, nil, false, err
	}
	sub := store.Create(variant)
	sub.BrowserSessionID = sess.ID
	return sess, sub, isNew, nil
}

// mergePhaseFields folds the non-envelope request fields into the
// workflow's accumulated phase data.
func mergePhaseFields(sub *appointment.SubSession, raw map[string]any) {
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if envelopeKeys[k] {
			continue
		}
		fields[k] = v
	}
	sub.Merge(fields)
}

// screenshotFunc captures a forensic screenshot into the session's
// screenshot dir and returns its served URL, or "" on failure.
func (s *Server) screenshotFunc(sessionID string) appointment.ScreenshotFunc {
	return func(ctx context.Context, d browser.Driver, tag string) string {
		path, err := s.store.ScreenshotPath(sessionID, tag)
		if err != nil {
			return ""
		}
		if err := d.Screenshot(ctx, path); err != nil {
			logger := log.WithComponentFromContext(ctx, "api")
			logger.Debug().Err(err).
				Str("tag", tag).Msg("screenshot capture failed")
			return ""
		}
		return fileURL(filepath.Base(path))
	}
}
