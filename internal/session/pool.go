// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"time"

	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harborlink/portalgate/internal/artifact"
	"github.com/harborlink/portalgate/internal/browser"
	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portalerr"
)

// LoginFunc produces an authenticated driver for the credentials. The
// auth package supplies the real implementation; tests script it.
type LoginFunc func(ctx context.Context, creds Credentials, downloadDir string) (browser.Driver, error)

// probeTimeout bounds the liveness check (read current URL).
const probeTimeout = 5 * time.Second

// Pool is the bounded session map. One mutex guards the maps; it is held
// only for short synchronous sections (lookup, insert, evict) and never
// across login or browser I/O.
type Pool struct {
	mu     sync.Mutex
	byID   map[string]*Session
	byCred map[string]*Session

	// pending counts slots reserved for logins in flight, so concurrent
	// creates cannot push the pool past max while the lock is released.
	pending int

	max   int
	login LoginFunc
	store *artifact.Store
}

// NewPool builds an empty pool.
func NewPool(max int, login LoginFunc, store *artifact.Store) *Pool {
	return &Pool{
		byID:   make(map[string]*Session),
		byCred: make(map[string]*Session),
		max:    max,
		login:  login,
		store:  store,
	}
}

// AcquireByID returns the live session with the given id. The session is
// probed before hand-off; a dead session is evicted and SESSION_DEAD is
// returned so the caller can decide whether to fall back to credentials.
func (p *Pool) AcquireByID(ctx context.Context, id string) (*Session, error) {
	p.mu.Lock()
	s, ok := p.byID[id]
	p.mu.Unlock()
	if !ok {
		return nil, portalerr.New(portalerr.KindSessionNotFound, "no session with id %s", id)
	}

	if !p.probe(ctx, s) {
		p.Close(id)
		return nil, portalerr.New(portalerr.KindSessionDead, "session %s failed liveness probe", id)
	}

	s.setInUse(true)
	s.Touch()
	return s, nil
}

// Acquire resolves a session for the credentials, creating one on miss.
// The second return is true when a fresh login happened.
func (p *Pool) Acquire(ctx context.Context, creds Credentials) (*Session, bool, error) {
	logger := log.WithComponentFromContext(ctx, "pool")
	hash := creds.Hash()

	p.mu.Lock()
	s, ok := p.byCred[hash]
	p.mu.Unlock()

	if ok {
		if p.probe(ctx, s) {
			s.setInUse(true)
			s.Touch()
			acquisitionsTotal.WithLabelValues("hit").Inc()
			return s, false, nil
		}
		logger.Warn().
			Str("event", "pool.session_dead").
			Str(log.FieldSessionID, s.ID).
			Msg("cached session failed liveness probe, recreating")
		p.Close(s.ID)
	}

	s, err := p.create(ctx, creds)
	if err != nil {
		return nil, false, err
	}
	acquisitionsTotal.WithLabelValues("miss").Inc()
	return s, true, nil
}

// create logs in a fresh browser and inserts it, evicting the LRU idle
// session when the pool is full. Login runs outside the pool lock; the
// reserved slot keeps concurrent creates from overfilling the pool.
func (p *Pool) create(ctx context.Context, creds Credentials) (*Session, error) {
	logger := log.WithComponentFromContext(ctx, "pool")

	if err := p.reserveCapacity(ctx); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	downloadDir, err := p.store.DownloadDir(id)
	if err != nil {
		p.releaseReservation()
		return nil, portalerr.Wrap(portalerr.KindInternal, err, "create download dir")
	}
	screenshotDir, err := p.store.ScreenshotDir(id)
	if err != nil {
		p.releaseReservation()
		_ = p.store.RemoveSession(id)
		return nil, portalerr.Wrap(portalerr.KindInternal, err, "create screenshot dir")
	}

	driver, err := p.login(ctx, creds, downloadDir)
	if err != nil {
		p.releaseReservation()
		_ = p.store.RemoveSession(id)
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:              id,
		CredentialsHash: creds.Hash(),
		Username:        creds.Username,
		Driver:          driver,
		CreatedAt:       now,
		KeepAlive:       true,
		DownloadDir:     downloadDir,
		ScreenshotDir:   screenshotDir,
	}
	s.Touch()
	s.MarkRefreshed()
	s.setInUse(true)

	p.mu.Lock()
	p.pending--
	if existing, ok := p.byCred[s.CredentialsHash]; ok {
		// Another request logged in for the same user while we did; keep
		// the existing one so the hash maps to a single live session.
		p.mu.Unlock()
		_ = driver.Close()
		_ = p.store.RemoveSession(id)
		existing.setInUse(true)
		existing.Touch()
		return existing, nil
	}
	p.byID[s.ID] = s
	p.byCred[s.CredentialsHash] = s
	size := len(p.byID)
	p.mu.Unlock()

	activeSessions.Set(float64(size))
	logger.Info().
		Str("event", "pool.session_created").
		Str(log.FieldSessionID, s.ID).
		Str(log.FieldUsername, s.Username).
		Int("pool_size", size).
		Msg("session created")
	return s, nil
}

// reserveCapacity claims one slot before the lock is released for the
// slow login, evicting the least-recently-used idle session when live
// plus in-flight sessions already fill the pool. Fails with
// CAPACITY_EXCEEDED only when every slot is in use or being created,
// which the pool size is chosen to make pathological. Every reservation
// is paired with releaseReservation or converted into an insert.
func (p *Pool) reserveCapacity(ctx context.Context) error {
	p.mu.Lock()
	if len(p.byID)+p.pending < p.max {
		p.pending++
		p.mu.Unlock()
		return nil
	}

	var victim *Session
	for _, s := range p.byID {
		if s.InUse() {
			continue
		}
		if victim == nil || s.LastUsed().Before(victim.LastUsed()) {
			victim = s
		}
	}
	if victim == nil {
		p.mu.Unlock()
		return portalerr.New(portalerr.KindCapacityExceeded, "all %d sessions are in use", p.max)
	}
	delete(p.byID, victim.ID)
	delete(p.byCred, victim.CredentialsHash)
	p.pending++
	size := len(p.byID)
	p.mu.Unlock()

	evictionsTotal.Inc()
	activeSessions.Set(float64(size))
	logger := log.WithComponentFromContext(ctx, "pool")
	logger.Info().
		Str("event", "pool.evicted").
		Str(log.FieldSessionID, victim.ID).
		Time("last_used", victim.LastUsed()).
		Msg("evicted least recently used session")

	p.destroy(victim)
	return nil
}

// releaseReservation returns an unconverted capacity slot after a
// failed create.
func (p *Pool) releaseReservation() {
	p.mu.Lock()
	p.pending--
	p.mu.Unlock()
}

// Release clears the advisory in-use flag. It never closes the browser.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	s.Touch()
	s.setInUse(false)
}

// Close evicts and destroys one session. Safe to call on unknown ids.
func (p *Pool) Close(id string) bool {
	p.mu.Lock()
	s, ok := p.byID[id]
	if ok {
		delete(p.byID, id)
		delete(p.byCred, s.CredentialsHash)
	}
	size := len(p.byID)
	p.mu.Unlock()

	if !ok {
		return false
	}
	activeSessions.Set(float64(size))
	p.destroy(s)
	return true
}

// destroy closes the browser and releases the session's disk dirs.
// Never called with the pool lock held.
func (p *Pool) destroy(s *Session) {
	logger := log.WithComponent("pool")
	if err := s.Driver.Close(); err != nil {
		logger.Warn().Err(err).
			Str(log.FieldSessionID, s.ID).Msg("error closing browser")
	}
	if err := p.store.RemoveSession(s.ID); err != nil {
		logger.Warn().Err(err).
			Str(log.FieldSessionID, s.ID).Msg("error removing session dirs")
	}
}

// probe checks browser liveness with a cheap CurrentURL read.
func (p *Pool) probe(ctx context.Context, s *Session) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := s.Driver.CurrentURL(probeCtx)
	return err == nil
}

// Len returns the number of live sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// Max returns the configured capacity.
func (p *Pool) Max() int { return p.max }

// Snapshot lists session summaries for the health and sessions endpoints.
func (p *Pool) Snapshot() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	infos := make([]Info, 0, len(p.byID))
	for _, s := range p.byID {
		infos = append(infos, s.info())
	}
	return infos
}

// Shutdown destroys every session, closing browsers in parallel with a
// small concurrency bound.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.byID))
	for _, s := range p.byID {
		sessions = append(sessions, s)
	}
	p.byID = make(map[string]*Session)
	p.byCred = make(map[string]*Session)
	p.mu.Unlock()

	activeSessions.Set(0)

	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for _, s := range sessions {
		eg.Go(func() error {
			p.destroy(s)
			return nil
		})
	}
	return eg.Wait()
}
