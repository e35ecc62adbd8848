// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harborlink/portalgate/internal/listing"
	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portal"
	"github.com/harborlink/portalgate/internal/portalerr"
)

// handleHealth reports pool occupancy for monitoring.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	infos := s.pool.Snapshot()
	persistent := 0
	for _, info := range infos {
		if info.KeepAlive {
			persistent++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"active_sessions":     len(infos),
		"max_sessions":        s.pool.Max(),
		"session_capacity":    fmt.Sprintf("%d/%d", len(infos), s.pool.Max()),
		"persistent_sessions": persistent,
		"uptime_seconds":      int(time.Since(s.startTime).Seconds()),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	})
}

// handleGetSession authenticates credentials and parks the session in
// the pool for follow-up calls.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRef
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	if req.Username == "" {
		writeError(w, r, portalerr.MissingField("username"), "")
		return
	}
	if req.Password == "" {
		writeError(w, r, portalerr.MissingField("password"), "")
		return
	}

	sess, isNew, err := s.pool.Acquire(engineCtx(r), req.credentials())
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	defer s.pool.Release(sess)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": sess.ID,
		"is_new":     isNew,
		"username":   sess.Username,
		"created_at": sess.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// containersRequest selects exactly one scrolling mode.
type containersRequest struct {
	sessionRef
	InfiniteScrolling bool   `json:"infinite_scrolling"`
	TargetCount       int    `json:"target_count"`
	TargetContainerID string `json:"target_container_id"`
}

func (c containersRequest) mode() (listing.Request, error) {
	switch {
	case c.TargetContainerID != "":
		return listing.Request{Mode: listing.ModeTargetID, TargetID: c.TargetContainerID}, nil
	case c.TargetCount > 0:
		return listing.Request{Mode: listing.ModeCount, TargetCount: c.TargetCount}, nil
	case c.InfiniteScrolling:
		return listing.Request{Mode: listing.ModeExhaust}, nil
	default:
		return listing.Request{}, portalerr.New(portalerr.KindMissingField,
			"one of infinite_scrolling, target_count or target_container_id is required")
	}
}

// handleGetContainers scrolls the container list per the requested mode
// and, unless the run was a targeted search, exports the spreadsheet.
func (s *Server) handleGetContainers(w http.ResponseWriter, r *http.Request) {
	var req containersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	lreq, err := req.mode()
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	ctx := engineCtx(r)
	sess, isNew, err := s.acquire(ctx, req.sessionRef)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	defer s.pool.Release(sess)
	sess.Lock()
	defer sess.Unlock()
	ctx = log.ContextWithSessionID(ctx, sess.ID)

	res, err := s.lister.Run(ctx, sess.Driver, lreq)
	if err != nil {
		writeError(w, r, err, sess.ID)
		return
	}

	body := map[string]any{
		"success":          true,
		"containers_count": res.Count,
		"scroll_cycles":    res.ScrollCycles,
		"stopped_reason":   res.StopReason,
		"session_id":       sess.ID,
		"is_new_session":   isNew,
	}
	if lreq.Mode == listing.ModeTargetID {
		body["fast_path"] = res.FastPath
		if res.FoundTarget {
			body["found_target"] = lreq.TargetID
		}
	} else {
		path, err := s.lister.Export(ctx, sess.Driver, sess.DownloadDir)
		if err != nil {
			writeError(w, r, err, sess.ID)
			return
		}
		body["file_url"] = fileURL(filepath.Base(path))
	}
	if u := s.maybeBundle(ctx, req.Debug, sess.ID, "containers"); u != "" {
		body["debug_bundle_url"] = u
	}
	writeJSON(w, http.StatusOK, body)
}

type containerDetailRequest struct {
	sessionRef
	ContainerID string `json:"container_id"`
}

// handleGetContainerTimeline expands one container row and reads its
// pregate timeline.
func (s *Server) handleGetContainerTimeline(w http.ResponseWriter, r *http.Request) {
	var req containerDetailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	if req.ContainerID == "" {
		writeError(w, r, portalerr.MissingField("container_id"), "")
		return
	}

	ctx := engineCtx(r)
	sess, isNew, err := s.acquire(ctx, req.sessionRef)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	defer s.pool.Release(sess)
	sess.Lock()
	defer sess.Unlock()
	ctx = log.ContextWithSessionID(ctx, sess.ID)

	if err := s.detail.SearchAndExpand(ctx, sess.Driver, req.ContainerID); err != nil {
		writeError(w, r, err, sess.ID)
		return
	}
	res, err := s.detail.CheckPregate(ctx, sess.Driver)
	if err != nil {
		writeError(w, r, err, sess.ID)
		return
	}

	body := map[string]any{
		"success":          true,
		"container_id":     req.ContainerID,
		"passed_pregate":   res.PassedPregate,
		"timeline":         res.Timeline,
		"detection_method": res.DetectionMethod,
		"session_id":       sess.ID,
		"is_new_session":   isNew,
	}
	if u := s.maybeBundle(ctx, req.Debug, sess.ID, "timeline"); u != "" {
		body["debug_bundle_url"] = u
	}
	writeJSON(w, http.StatusOK, body)
}

// handleGetBookingNumber reads the booking number off an expanded row.
// An absent booking field is a valid null result.
func (s *Server) handleGetBookingNumber(w http.ResponseWriter, r *http.Request) {
	var req containerDetailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	if req.ContainerID == "" {
		writeError(w, r, portalerr.MissingField("container_id"), "")
		return
	}

	ctx := engineCtx(r)
	sess, isNew, err := s.acquire(ctx, req.sessionRef)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	defer s.pool.Release(sess)
	sess.Lock()
	defer sess.Unlock()
	ctx = log.ContextWithSessionID(ctx, sess.ID)

	if err := s.detail.SearchAndExpand(ctx, sess.Driver, req.ContainerID); err != nil {
		writeError(w, r, err, sess.ID)
		return
	}
	booking, err := s.detail.GetBooking(ctx, sess.Driver)
	if err != nil {
		writeError(w, r, err, sess.ID)
		return
	}

	body := map[string]any{
		"success":        true,
		"booking_number": booking,
		"container_id":   req.ContainerID,
		"session_id":     sess.ID,
		"is_new_session": isNew,
	}
	if u := s.maybeBundle(ctx, req.Debug, sess.ID, "booking"); u != "" {
		body["debug_bundle_url"] = u
	}
	writeJSON(w, http.StatusOK, body)
}

// handleGetAppointments exports the my-appointments list, which shares
// the virtual-scroll table widget with the container list.
func (s *Server) handleGetAppointments(w http.ResponseWriter, r *http.Request) {
	var req containersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	lreq, err := req.mode()
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	ctx := engineCtx(r)
	sess, isNew, err := s.acquire(ctx, req.sessionRef)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	defer s.pool.Release(sess)
	sess.Lock()
	defer sess.Unlock()
	ctx = log.ContextWithSessionID(ctx, sess.ID)

	res, err := s.lister.RunOn(ctx, sess.Driver, portal.MyApptsPath, lreq)
	if err != nil {
		writeError(w, r, err, sess.ID)
		return
	}
	path, err := s.lister.Export(ctx, sess.Driver, sess.DownloadDir)
	if err != nil {
		writeError(w, r, err, sess.ID)
		return
	}

	body := map[string]any{
		"success":        true,
		"file_url":       fileURL(filepath.Base(path)),
		"selected_count": res.Count,
		"scroll_cycles":  res.ScrollCycles,
		"stopped_reason": res.StopReason,
		"session_id":     sess.ID,
		"is_new_session": isNew,
	}
	if u := s.maybeBundle(ctx, req.Debug, sess.ID, "appointments"); u != "" {
		body["debug_bundle_url"] = u
	}
	writeJSON(w, http.StatusOK, body)
}

type bulkRequest struct {
	sessionRef
	ImportContainers []string `json:"import_containers"`
	ExportContainers []string `json:"export_containers"`
}

// handleGetInfoBulk processes a mixed batch of containers on one
// session. Per-item failures are captured per item.
func (s *Server) handleGetInfoBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, "")
		return
	}
	if len(req.ImportContainers) == 0 && len(req.ExportContainers) == 0 {
		writeError(w, r, portalerr.New(portalerr.KindMissingField,
			"import_containers or export_containers must be non-empty"), "")
		return
	}

	ctx := engineCtx(r)
	sess, isNew, err := s.acquire(ctx, req.sessionRef)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	defer s.pool.Release(sess)
	sess.Lock()
	defer sess.Unlock()
	ctx = log.ContextWithSessionID(ctx, sess.ID)

	res, err := s.detail.Bulk(ctx, sess.Driver, req.ImportContainers, req.ExportContainers)
	if err != nil {
		writeError(w, r, err, sess.ID)
		return
	}

	body := map[string]any{
		"success":        true,
		"results":        res,
		"session_id":     sess.ID,
		"is_new_session": isNew,
	}
	if u := s.maybeBundle(ctx, req.Debug, sess.ID, "bulk"); u != "" {
		body["debug_bundle_url"] = u
	}
	writeJSON(w, http.StatusOK, body)
}

// handleSessions lists live sessions.
func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	infos := s.pool.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": infos,
		"count":    len(infos),
	})
}

// handleCloseSession evicts one session by id.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.pool.Close(id) {
		writeError(w, r, portalerr.New(portalerr.KindSessionNotFound, "no session with id %s", id), "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": id,
	})
}

// handleCleanup triggers a janitor pass on demand.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.janitor.SweepOnce(r.Context())
	if err != nil {
		writeError(w, r, portalerr.Wrap(portalerr.KindInternal, err, "cleanup sweep failed"), "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"deleted_files": deleted,
	})
}
