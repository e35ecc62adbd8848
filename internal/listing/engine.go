// SPDX-License-Identifier: MIT

// Package listing extracts the container table from the portal's
// virtualized, infinite-scroll results page and drives the spreadsheet
// export.
package listing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/harborlink/portalgate/internal/browser"
	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portal"
	"github.com/harborlink/portalgate/internal/portalerr"
)

// Mode selects the scroll stop condition.
type Mode int

const (
	// ModeExhaust scrolls until no new rows appear for noProgressLimit
	// consecutive cycles.
	ModeExhaust Mode = iota
	// ModeCount stops once the observed row count reaches the target.
	ModeCount
	// ModeTargetID stops when a specific container id is rendered.
	ModeTargetID
)

const (
	// noProgressLimit is the consecutive no-new-rows cycles that mean the
	// list is exhausted.
	noProgressLimit = 6
	// scrollIncrement is the per-cycle scroll delta in pixels.
	scrollIncrement = 300
	// maxScrollCycles caps runaway scrolling on pathological pages.
	maxScrollCycles = 500
	// individualRowLimit bounds the per-row checkbox fallback.
	individualRowLimit = 40
)

// Request parameterizes one listing run.
type Request struct {
	Mode        Mode
	TargetCount int
	TargetID    string
}

// Result is the structured outcome of a listing run.
type Result struct {
	Count        int    `json:"containers_count"`
	ScrollCycles int    `json:"scroll_cycles"`
	StopReason   string `json:"stopped_reason"`
	FastPath     bool   `json:"fast_path,omitempty"`
	FoundTarget  bool   `json:"found_target,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
}

// Engine drives the results page of one authenticated session.
type Engine struct {
	baseURL   string
	idPattern *regexp.Regexp

	scrollPause     time.Duration
	downloadTimeout time.Duration
}

// NewEngine builds a listing engine. idPattern is the row-identifier
// regex used for text-based row counting.
func NewEngine(baseURL string, idPattern *regexp.Regexp) *Engine {
	return &Engine{
		baseURL:         baseURL,
		idPattern:       idPattern,
		scrollPause:     300 * time.Millisecond,
		downloadTimeout: 2 * time.Minute,
	}
}

// Run navigates to the container results page (when not already there)
// and scrolls per the requested mode.
func (e *Engine) Run(ctx context.Context, d browser.Driver, req Request) (*Result, error) {
	return e.RunOn(ctx, d, portal.ContainersPath, req)
}

// RunOn is Run against an arbitrary listing page; the appointments list
// shares the results-table widget with the container list.
func (e *Engine) RunOn(ctx context.Context, d browser.Driver, pagePath string, req Request) (*Result, error) {
	logger := log.WithComponentFromContext(ctx, "listing")

	if err := e.ensureOnListing(ctx, d, pagePath); err != nil {
		return nil, err
	}
	scrollTarget := e.resolveScrollTarget(ctx, d)

	res := &Result{}

	// Fast path: the target may already be rendered without any scrolling.
	if req.Mode == ModeTargetID {
		found, err := d.ScrollToText(ctx, req.TargetID)
		if err == nil && found {
			res.FastPath = true
			res.FoundTarget = true
			res.StopReason = "target found before scrolling"
			res.Count = e.countRows(ctx, d)
			logger.Info().
				Str("event", "listing.fast_path").
				Str(log.FieldContainerID, req.TargetID).
				Msg("target rendered without scrolling")
			return res, nil
		}
	}

	count := e.countRows(ctx, d)
	res.Count = count
	noProgress := 0

	for cycle := 1; cycle <= maxScrollCycles; cycle++ {
		if req.Mode == ModeCount && count >= req.TargetCount {
			res.StopReason = fmt.Sprintf("target count reached (%d >= %d)", count, req.TargetCount)
			return res, nil
		}

		e.scrollStep(ctx, d, scrollTarget, noProgress)
		res.ScrollCycles = cycle
		if err := sleepCtx(ctx, e.scrollPause); err != nil {
			return nil, err
		}

		newCount := e.countRows(ctx, d)
		if newCount <= count {
			noProgress++
		} else {
			noProgress = 0
		}
		count = newCount
		res.Count = count

		if req.Mode == ModeTargetID {
			found, err := d.ScrollToText(ctx, req.TargetID)
			if err == nil && found {
				// A successful targeted search is the fast path regardless of
				// how many cycles it took: no export round-trip follows.
				res.FastPath = true
				res.FoundTarget = true
				res.StopReason = fmt.Sprintf("target found after %d scroll cycles", cycle)
				return res, nil
			}
		}

		if noProgress >= noProgressLimit {
			switch req.Mode {
			case ModeExhaust:
				res.StopReason = fmt.Sprintf("list exhausted, no new rows for %d cycles", noProgressLimit)
			case ModeCount:
				res.StopReason = fmt.Sprintf("list exhausted before target count (%d < %d)", count, req.TargetCount)
			case ModeTargetID:
				res.StopReason = "list exhausted without finding target"
			}
			logger.Info().
				Str("event", "listing.exhausted").
				Int("count", count).
				Int("cycles", res.ScrollCycles).
				Msg("scrolling stopped")
			return res, nil
		}
	}

	res.StopReason = fmt.Sprintf("scroll cycle cap reached (%d)", maxScrollCycles)
	return res, nil
}

// ensureOnListing navigates to the listing page unless already there.
func (e *Engine) ensureOnListing(ctx context.Context, d browser.Driver, pagePath string) error {
	url, err := d.CurrentURL(ctx)
	if err != nil || !strings.Contains(url, pagePath) {
		if err := d.Navigate(ctx, e.baseURL+pagePath); err != nil {
			return portalerr.Wrap(portalerr.KindNavTimeout, err, "open results page")
		}
	}
	if err := d.WaitVisible(ctx, portal.SelResultsPane, 20*time.Second); err != nil {
		return portalerr.Wrap(portalerr.KindNavTimeout, err, "results pane did not render")
	}
	return nil
}

// resolveScrollTarget picks the first visible candidate container. The
// outer results pane always exists, so it is the terminal fallback.
func (e *Engine) resolveScrollTarget(ctx context.Context, d browser.Driver) string {
	for _, sel := range portal.ScrollTargets {
		if v, err := d.Visible(ctx, sel); err == nil && v {
			return sel
		}
	}
	return portal.SelResultsPane
}

// scrollStep scrolls by the fixed increment, falling back to keyboard
// input when the synthetic events stop producing rows.
func (e *Engine) scrollStep(ctx context.Context, d browser.Driver, target string, noProgress int) {
	if err := d.ScrollBy(ctx, target, scrollIncrement); err != nil || noProgress >= 2 {
		// Virtual lists that ignore synthetic events usually honor keys.
		_ = d.SendKeys(ctx, browser.KeyDown, browser.KeyDown, browser.KeyPageDown)
	}
}

// countRows counts container ids in the rendered text of the results
// pane. Text-based on purpose: DOM row counts include headers and
// virtual-list placeholders and drift as rows recycle.
func (e *Engine) countRows(ctx context.Context, d browser.Driver) int {
	text, err := d.Text(ctx, portal.SelResultsPane)
	if err != nil {
		return 0
	}
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if e.idPattern.MatchString(line) {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
