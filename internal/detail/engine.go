// SPDX-License-Identifier: MIT

// Package detail reads per-container information from the expanded row
// card on the results page: the pregate timeline and the booking number.
package detail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/harborlink/portalgate/internal/browser"
	"github.com/harborlink/portalgate/internal/listing"
	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portal"
	"github.com/harborlink/portalgate/internal/portalerr"
)

// Milestone is one entry of a container's timeline, most recent first.
type Milestone struct {
	Milestone string `json:"milestone"`
	Date      string `json:"date"`
	Status    string `json:"status"` // completed | pending
}

// TimelineResult is the outcome of a pregate check.
type TimelineResult struct {
	PassedPregate   bool        `json:"passed_pregate"`
	Timeline        []Milestone `json:"timeline"`
	DetectionMethod string      `json:"detection_method"`
}

// Engine drives the detail card. Search reuses the listing engine's
// target-id scroll.
type Engine struct {
	lister  *listing.Engine
	limiter *rate.Limiter // paces bulk entries so the portal sees human-ish traffic
}

// NewEngine builds a detail engine on top of the listing engine.
func NewEngine(lister *listing.Engine) *Engine {
	return &Engine{
		lister:  lister,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// timelineJS serializes the milestone widget so one Eval round-trip
// replaces a per-element CDP walk.
var timelineJS = fmt.Sprintf(`JSON.stringify(Array.from(document.querySelectorAll(%q)).map(function(m){
	var l = m.querySelector(%q), d = m.querySelector(%q);
	return {
		label: l ? l.textContent.trim() : "",
		date: d ? d.textContent.trim() : "",
		completed: m.classList.contains(%q)
	};
}))`, portal.SelTimelineMilestone, portal.SelMilestoneLabel, portal.SelMilestoneDate, portal.ClassCompleted)

// bookingJS finds the value cell next to the booking label.
var bookingJS = fmt.Sprintf(`(function(){
	var labels = Array.from(document.querySelectorAll(%q));
	for (var i = 0; i < labels.length; i++) {
		if (labels[i].textContent.trim().indexOf(%q) === 0) {
			var v = labels[i].nextElementSibling;
			return v ? v.textContent.trim() : "";
		}
	}
	return "";
})()`, portal.SelBookingLabel, portal.BookingLabelText)

// SearchAndExpand locates the container row (fast path first, then
// scroll-and-check) and clicks it so the detail card renders.
func (e *Engine) SearchAndExpand(ctx context.Context, d browser.Driver, containerID string) error {
	res, err := e.lister.Run(ctx, d, listing.Request{Mode: listing.ModeTargetID, TargetID: containerID})
	if err != nil {
		return err
	}
	if !res.FoundTarget {
		return portalerr.New(portalerr.KindContainerNotFound, "container %s not in the result list", containerID)
	}

	clicked, err := d.ClickByText(ctx, portal.SelRowByTextAnchor, containerID)
	if err != nil || !clicked {
		return portalerr.Wrap(portalerr.KindElementNotFound, err, "click row for %s", containerID)
	}
	if err := d.WaitVisible(ctx, portal.SelDetailCard, 10*time.Second); err != nil {
		return portalerr.Wrap(portalerr.KindElementNotFound, err, "detail card for %s did not open", containerID)
	}
	return nil
}

type rawMilestone struct {
	Label     string `json:"label"`
	Date      string `json:"date"`
	Completed bool   `json:"completed"`
}

// CheckPregate reads the currently expanded card's timeline. The pregate
// verdict comes from the completion class on the pregate milestone; the
// full timeline is returned most recent first.
func (e *Engine) CheckPregate(ctx context.Context, d browser.Driver) (*TimelineResult, error) {
	raw, err := d.Eval(ctx, timelineJS)
	if err != nil {
		return nil, portalerr.Wrap(portalerr.KindElementNotFound, err, "read timeline widget")
	}

	var milestones []rawMilestone
	if err := json.Unmarshal([]byte(raw), &milestones); err != nil {
		return nil, portalerr.Wrap(portalerr.KindInternal, err, "parse timeline")
	}
	if len(milestones) == 0 {
		return nil, portalerr.New(portalerr.KindPregateUnknown, "timeline widget is empty")
	}

	res := &TimelineResult{DetectionMethod: "timeline-class"}
	pregateSeen := false
	// The widget renders oldest first; clients want most recent first.
	for i := len(milestones) - 1; i >= 0; i-- {
		m := milestones[i]
		status := "pending"
		if m.Completed {
			status = "completed"
		}
		date := m.Date
		if date == "" {
			date = "N/A"
		}
		res.Timeline = append(res.Timeline, Milestone{Milestone: m.Label, Date: date, Status: status})

		if strings.Contains(m.Label, portal.PregateMilestone) {
			pregateSeen = true
			res.PassedPregate = m.Completed
		}
	}
	if !pregateSeen {
		return nil, portalerr.New(portalerr.KindPregateUnknown, "no pregate milestone in timeline")
	}
	return res, nil
}

// GetBooking reads the booking number off the expanded card. An absent
// or "N/A" value is a valid null result, not an error.
func (e *Engine) GetBooking(ctx context.Context, d browser.Driver) (*string, error) {
	raw, err := d.Eval(ctx, bookingJS)
	if err != nil {
		return nil, portalerr.Wrap(portalerr.KindElementNotFound, err, "read booking field")
	}
	value := strings.TrimSpace(raw)
	if value == "" || strings.EqualFold(value, "N/A") {
		return nil, nil
	}
	return &value, nil
}

// ImportResult is one bulk entry for an import container.
type ImportResult struct {
	ContainerID   string      `json:"container_id"`
	Success       bool        `json:"success"`
	PassedPregate bool        `json:"passed_pregate"`
	Timeline      []Milestone `json:"timeline,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// ExportResult is one bulk entry for an export container.
type ExportResult struct {
	ContainerID   string  `json:"container_id"`
	Success       bool    `json:"success"`
	BookingNumber *string `json:"booking_number"`
	Error         string  `json:"error,omitempty"`
}

// BulkSummary aggregates a bulk run.
type BulkSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// BulkResult is the outcome of one bulk info run.
type BulkResult struct {
	ImportResults []ImportResult `json:"import_results"`
	ExportResults []ExportResult `json:"export_results"`
	Summary       BulkSummary    `json:"summary"`
}

// Bulk processes import and export containers sequentially on one
// session. A failing entry is recorded and the batch continues; entries
// are paced so consecutive lookups do not hammer the portal.
func (e *Engine) Bulk(ctx context.Context, d browser.Driver, importIDs, exportIDs []string) (*BulkResult, error) {
	logger := log.WithComponentFromContext(ctx, "detail")
	res := &BulkResult{
		ImportResults: make([]ImportResult, 0, len(importIDs)),
		ExportResults: make([]ExportResult, 0, len(exportIDs)),
	}

	for _, id := range importIDs {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		item := ImportResult{ContainerID: id}
		if tl, err := e.lookupTimeline(ctx, d, id); err != nil {
			item.Error = portalerr.AsError(err).Error()
			logger.Warn().Err(err).Str(log.FieldContainerID, id).Msg("bulk import entry failed")
		} else {
			item.Success = true
			item.PassedPregate = tl.PassedPregate
			item.Timeline = tl.Timeline
		}
		res.ImportResults = append(res.ImportResults, item)
	}

	for _, id := range exportIDs {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		item := ExportResult{ContainerID: id}
		if booking, err := e.lookupBooking(ctx, d, id); err != nil {
			item.Error = portalerr.AsError(err).Error()
			logger.Warn().Err(err).Str(log.FieldContainerID, id).Msg("bulk export entry failed")
		} else {
			item.Success = true
			item.BookingNumber = booking
		}
		res.ExportResults = append(res.ExportResults, item)
	}

	for _, r := range res.ImportResults {
		res.Summary.Total++
		if r.Success {
			res.Summary.Succeeded++
		} else {
			res.Summary.Failed++
		}
	}
	for _, r := range res.ExportResults {
		res.Summary.Total++
		if r.Success {
			res.Summary.Succeeded++
		} else {
			res.Summary.Failed++
		}
	}
	return res, nil
}

func (e *Engine) lookupTimeline(ctx context.Context, d browser.Driver, id string) (*TimelineResult, error) {
	if err := e.SearchAndExpand(ctx, d, id); err != nil {
		return nil, err
	}
	return e.CheckPregate(ctx, d)
}

func (e *Engine) lookupBooking(ctx context.Context, d browser.Driver, id string) (*string, error) {
	if err := e.SearchAndExpand(ctx, d, id); err != nil {
		return nil, err
	}
	return e.GetBooking(ctx, d)
}
