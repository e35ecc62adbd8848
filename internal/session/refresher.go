// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"strings"
	"time"

	"github.com/harborlink/portalgate/internal/log"
)

// Refresher keeps idle sessions authenticated: it periodically navigates
// each keep-alive session to a stable authenticated page and verifies
// the portal did not bounce it back to login. This is the only mechanism
// that evicts on health; age alone never does.
type Refresher struct {
	pool       *Pool
	landingURL string
	loginMark  string // substring of the URL that indicates a logged-out bounce
	interval   time.Duration // minimum age of last refresh before a session is due
	tick       time.Duration
}

// NewRefresher builds a refresher over the pool.
func NewRefresher(pool *Pool, landingURL, loginMark string, interval, tick time.Duration) *Refresher {
	return &Refresher{
		pool:       pool,
		landingURL: landingURL,
		loginMark:  loginMark,
		interval:   interval,
		tick:       tick,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	logger := log.WithComponent("refresher")
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("event", "refresher.stop").Msg("refresher stopping")
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce refreshes every due session it can lock without blocking.
// Busy sessions are skipped for this round; they are being used, which
// keeps them authenticated anyway.
func (r *Refresher) SweepOnce(ctx context.Context) {
	logger := log.WithComponentFromContext(ctx, "refresher")
	cutoff := time.Now().Add(-r.interval)

	for _, info := range r.pool.Snapshot() {
		if !info.KeepAlive || info.InUse || info.LastRefreshed.After(cutoff) {
			continue
		}

		p := r.pool
		p.mu.Lock()
		s, ok := p.byID[info.SessionID]
		p.mu.Unlock()
		if !ok {
			continue
		}

		if !s.TryLock() {
			continue // a request grabbed it between snapshot and now
		}
		healthy := r.refreshOne(ctx, s)
		s.Unlock()

		if !healthy {
			logger.Warn().
				Str("event", "refresher.session_removed").
				Str(log.FieldSessionID, s.ID).
				Msg("session failed keep-alive refresh, removing")
			refreshFailuresTotal.Inc()
			r.pool.Close(s.ID)
		}
	}
}

// refreshOne navigates to the landing page and verifies the session is
// still logged in. Caller holds the session lock.
func (r *Refresher) refreshOne(ctx context.Context, s *Session) bool {
	logger := log.WithComponentFromContext(ctx, "refresher")

	if err := s.Driver.Navigate(ctx, r.landingURL); err != nil {
		logger.Warn().Err(err).Str(log.FieldSessionID, s.ID).Msg("keep-alive navigation failed")
		return false
	}
	url, err := s.Driver.CurrentURL(ctx)
	if err != nil {
		return false
	}
	if r.loginMark != "" && strings.Contains(url, r.loginMark) {
		logger.Warn().
			Str(log.FieldSessionID, s.ID).
			Str("url", url).
			Msg("portal bounced session to login")
		return false
	}

	s.MarkRefreshed()
	refreshesTotal.Inc()
	logger.Debug().
		Str("event", "refresher.refreshed").
		Str(log.FieldSessionID, s.ID).
		Msg("session refreshed")
	return true
}
