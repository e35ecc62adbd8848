// SPDX-License-Identifier: MIT

package artifact

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harborlink/portalgate/internal/log"
)

// Janitor periodically deletes files in the artifact root older than the
// TTL. It takes no locks and does not consult the session pool; active
// sessions re-populate their directories on next use.
type Janitor struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
}

// NewJanitor builds a janitor over the store.
func NewJanitor(store *Store, ttl, interval time.Duration) *Janitor {
	return &Janitor{store: store, ttl: ttl, interval: interval}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	logger := log.WithComponent("janitor")
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("event", "janitor.stop").Msg("janitor stopping")
			return
		case <-ticker.C:
			deleted, err := j.SweepOnce(ctx)
			if err != nil {
				logger.Error().Err(err).Str("event", "janitor.sweep_failed").Msg("sweep failed")
				continue
			}
			if deleted > 0 {
				logger.Info().
					Str("event", "janitor.sweep").
					Int("deleted", deleted).
					Msg("expired artifacts removed")
			}
		}
	}
}

// SweepOnce deletes every regular file under the root whose mtime is
// older than the TTL, then prunes empty session directories. The proxy
// extension is exempt: it is only regenerated at startup.
func (j *Janitor) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.ttl)
	stale := j.staleSessionDirs(cutoff)
	logger := log.WithComponentFromContext(ctx, "janitor")

	deleted := 0
	err := filepath.WalkDir(j.store.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // a racing delete is not a sweep failure
		}
		if d.IsDir() {
			if d.Name() == ProxyExtensionDir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == ProxyExtensionZip && filepath.Dir(path) == j.store.Root() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr != nil {
				logger.Warn().Err(rmErr).Str("path", path).Msg("failed to delete expired artifact")
				return nil
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	j.pruneEmptySessionDirs(stale)
	return deleted, nil
}

// staleSessionDirs snapshots, before any deletion bumps directory
// mtimes, which session dirs have seen no writes since the cutoff.
func (j *Janitor) staleSessionDirs(cutoff time.Time) map[string]bool {
	stale := make(map[string]bool)
	entries, err := os.ReadDir(j.store.Root())
	if err != nil {
		return stale
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == ProxyExtensionDir || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		old := true
		_ = filepath.WalkDir(filepath.Join(j.store.Root(), e.Name()), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if info, ierr := d.Info(); ierr == nil && !info.ModTime().Before(cutoff) {
				old = false
				return filepath.SkipAll
			}
			return nil
		})
		if old {
			stale[e.Name()] = true
		}
	}
	return stale
}

// pruneEmptySessionDirs removes session directories that are empty and
// were already stale before the sweep. The age gate matters: the pool
// pre-creates empty download and screenshot dirs at acquire time, and
// the browser will not recreate a download dir deleted out from under a
// live session.
func (j *Janitor) pruneEmptySessionDirs(stale map[string]bool) {
	entries, err := os.ReadDir(j.store.Root())
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !stale[e.Name()] {
			continue
		}
		dir := filepath.Join(j.store.Root(), e.Name())
		empty := true
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err == nil && !d.IsDir() {
				empty = false
				return filepath.SkipAll
			}
			return nil
		})
		if empty {
			_ = os.RemoveAll(dir)
		}
	}
}
