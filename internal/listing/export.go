// SPDX-License-Identifier: MIT

package listing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harborlink/portalgate/internal/browser"
	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portal"
	"github.com/harborlink/portalgate/internal/portalerr"
)

// Export selects all visible rows, triggers the spreadsheet export, and
// waits for the download to land in downloadDir. Returns the absolute
// path of the downloaded file.
func (e *Engine) Export(ctx context.Context, d browser.Driver, downloadDir string) (string, error) {
	logger := log.WithComponentFromContext(ctx, "listing")

	if err := e.selectAllRows(ctx, d); err != nil {
		return "", err
	}
	if err := d.SetDownloadDir(ctx, downloadDir); err != nil {
		return "", portalerr.Wrap(portalerr.KindInternal, err, "set download dir")
	}

	started := time.Now()
	if err := d.Click(ctx, portal.SelExportButton); err != nil {
		if err := d.ClickJS(ctx, portal.SelExportButton); err != nil {
			return "", portalerr.Wrap(portalerr.KindClickIntercepted, err, "trigger export")
		}
	}

	path, err := e.waitDownload(ctx, downloadDir, started)
	if err != nil {
		return "", err
	}
	logger.Info().
		Str("event", "listing.export_complete").
		Str("file", filepath.Base(path)).
		Dur("elapsed", time.Since(started)).
		Msg("export downloaded")
	return path, nil
}

// selectAllRows checks the master checkbox. The material checkbox
// intercepts direct clicks inconsistently, so four methods are tried in
// order; if the box still reads unchecked, individual row checkboxes are
// clicked one by one as the last fallback.
func (e *Engine) selectAllRows(ctx context.Context, d browser.Driver) error {
	logger := log.WithComponentFromContext(ctx, "listing")

	attempts := []struct {
		name  string
		click func() error
	}{
		{"click input", func() error { return d.Click(ctx, portal.SelMasterCheckbox) }},
		{"click cell", func() error { return d.Click(ctx, portal.SelMasterCell) }},
		{"js-click input", func() error { return d.ClickJS(ctx, portal.SelMasterCheckbox) }},
		{"js-click cell", func() error { return d.ClickJS(ctx, portal.SelMasterCell) }},
	}
	for _, a := range attempts {
		if err := a.click(); err != nil {
			continue
		}
		_ = sleepCtx(ctx, 200*time.Millisecond)
		if checked, err := d.IsChecked(ctx, portal.SelMasterCheckbox); err == nil && checked {
			return nil
		}
		logger.Debug().Str("method", a.name).Msg("master checkbox still unchecked")
	}

	// Per-row fallback.
	clicked := 0
	for i := 1; i <= individualRowLimit; i++ {
		sel := portal.NthRowCheckbox(i)
		exists, err := d.Exists(ctx, sel)
		if err != nil || !exists {
			break
		}
		if err := d.ClickJS(ctx, sel); err == nil {
			clicked++
		}
	}
	if clicked == 0 {
		return portalerr.New(portalerr.KindCheckboxStuck, "master checkbox stuck and no row checkboxes clickable")
	}
	logger.Warn().
		Str("event", "listing.row_fallback").
		Int("rows", clicked).
		Msg("selected rows individually after master checkbox stuck")
	return nil
}

// waitDownload blocks until a finished download appears in dir. A file
// counts as finished when its name has no in-progress suffix, it is
// non-empty, and it was modified after the export was triggered.
// fsnotify wakes the loop early; a poll ticker backstops watch gaps.
func (e *Engine) waitDownload(ctx context.Context, dir string, since time.Time) (string, error) {
	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(dir); err == nil {
			events = watcher.Events
		}
	}

	deadline := time.NewTimer(e.downloadTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		if p := finishedDownload(dir, since); p != "" {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", portalerr.New(portalerr.KindDownloadTimeout, "no finished download within %s", e.downloadTimeout)
		case <-events:
		case <-poll.C:
		}
	}
}

func finishedDownload(dir string, since time.Time) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		// Chromium renames into place; allow slight clock skew.
		if info.ModTime().After(since.Add(-2 * time.Second)) {
			return filepath.Join(dir, name)
		}
	}
	return ""
}
