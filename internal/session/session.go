// SPDX-License-Identifier: MIT

// Package session owns the bounded pool of live authenticated browser
// sessions: LRU eviction, credentials-hash dedupe, background keep-alive
// refresh, and liveness probing.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harborlink/portalgate/internal/browser"
)

// Credentials identify a portal user. Username+password define identity;
// the captcha key only rides along for login.
type Credentials struct {
	Username   string
	Password   string
	CaptchaKey string
}

// Hash derives the pool lookup key from the identity pair.
func (c Credentials) Hash() string {
	sum := sha256.Sum256([]byte(c.Username + "\x00" + c.Password))
	return hex.EncodeToString(sum[:])
}

// Session is one live authenticated browser owned by the pool.
//
// Lock ordering: the pool mutex and a session's mutex are never held
// together. The router takes the session mutex for the duration of an
// engine operation; the refresher only TryLocks it.
type Session struct {
	ID              string
	CredentialsHash string
	Username        string
	Driver          browser.Driver

	CreatedAt     time.Time
	lastUsed      atomic.Int64 // unix nano
	lastRefreshed atomic.Int64

	KeepAlive bool
	inUse     atomic.Bool

	DownloadDir   string
	ScreenshotDir string

	// Serializes engine operations; a browser cannot run two flows at once.
	mu sync.Mutex
}

// Lock blocks until the session is exclusively held.
func (s *Session) Lock() { s.mu.Lock() }

// TryLock acquires the session without blocking; the refresher uses this
// so it never starves a user request.
func (s *Session) TryLock() bool { return s.mu.TryLock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch updates the LRU timestamp.
func (s *Session) Touch() { s.lastUsed.Store(time.Now().UnixNano()) }

// LastUsed returns the last acquire/release time.
func (s *Session) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

// MarkRefreshed records a successful keep-alive pass.
func (s *Session) MarkRefreshed() { s.lastRefreshed.Store(time.Now().UnixNano()) }

// LastRefreshed returns the last successful keep-alive time.
func (s *Session) LastRefreshed() time.Time { return time.Unix(0, s.lastRefreshed.Load()) }

// InUse reports the advisory in-use flag.
func (s *Session) InUse() bool { return s.inUse.Load() }

func (s *Session) setInUse(v bool) { s.inUse.Store(v) }

// Info is the read-only session summary exposed by the health and
// sessions endpoints.
type Info struct {
	SessionID     string    `json:"session_id"`
	Username      string    `json:"username"`
	CreatedAt     time.Time `json:"created_at"`
	LastUsedAt    time.Time `json:"last_used_at"`
	LastRefreshed time.Time `json:"last_refreshed_at"`
	InUse         bool      `json:"in_use"`
	KeepAlive     bool      `json:"keep_alive"`
}

func (s *Session) info() Info {
	return Info{
		SessionID:     s.ID,
		Username:      s.Username,
		CreatedAt:     s.CreatedAt,
		LastUsedAt:    s.LastUsed(),
		LastRefreshed: s.LastRefreshed(),
		InUse:         s.InUse(),
		KeepAlive:     s.KeepAlive,
	}
}
