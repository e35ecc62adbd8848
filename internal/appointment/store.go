// SPDX-License-Identifier: MIT

package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborlink/portalgate/internal/log"
)

// Variant selects the form flavor.
type Variant string

const (
	VariantImport Variant = "import"
	VariantExport Variant = "export"
)

// SubSession is the resumable state of one appointment workflow. On a
// phase failure it stays in the store for the TTL so a follow-up request
// can continue from the failed phase with corrected fields.
type SubSession struct {
	ID      string
	Variant Variant
	Phase   int // next phase to run, 1-3

	// BrowserSessionID ties the workflow to the one browser session it
	// runs on. If that session disappears the sub-session is unresumable.
	BrowserSessionID string

	PhaseData map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store holds live sub-sessions keyed by appointment id.
type Store struct {
	mu   sync.Mutex
	byID map[string]*SubSession
	ttl  time.Duration
}

// NewStore builds a sub-session store with the given TTL.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		byID: make(map[string]*SubSession),
		ttl:  ttl,
	}
}

// Create registers a fresh sub-session at phase 1.
func (s *Store) Create(variant Variant) *SubSession {
	now := time.Now()
	sub := &SubSession{
		ID:        uuid.NewString(),
		Variant:   variant,
		Phase:     1,
		PhaseData: make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.byID[sub.ID] = sub
	s.mu.Unlock()
	return sub
}

// Get returns a live sub-session. Expired entries read as absent.
func (s *Store) Get(id string) (*SubSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	if time.Since(sub.UpdatedAt) > s.ttl {
		delete(s.byID, id)
		return nil, false
	}
	return sub, true
}

// Touch bumps a sub-session's TTL clock after a phase transition.
func (s *Store) Touch(sub *SubSession) {
	s.mu.Lock()
	sub.UpdatedAt = time.Now()
	s.mu.Unlock()
}

// Delete drops a finished sub-session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// Len counts live sub-sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Merge folds newly supplied fields into the phase data. Empty values do
// not overwrite fields captured in an earlier request, except the truck
// plate: an explicitly empty plate is the wildcard, not an omission.
func (sub *SubSession) Merge(fields map[string]any) {
	for k, v := range fields {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok && str == "" && k != "truck_plate" {
			continue
		}
		sub.PhaseData[k] = v
	}
}

// Run sweeps expired sub-sessions until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	logger := log.WithComponent("appointment")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepOnce(); n > 0 {
				logger.Debug().Str("event", "appointment.swept").Int("expired", n).Msg("expired sub-sessions removed")
			}
		}
	}
}

// SweepOnce removes expired sub-sessions and reports how many.
func (s *Store) SweepOnce() int {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sub := range s.byID {
		if sub.UpdatedAt.Before(cutoff) {
			delete(s.byID, id)
			n++
		}
	}
	return n
}
