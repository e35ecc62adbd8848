// SPDX-License-Identifier: MIT

// Package artifact owns the on-disk artifact root: per-session download
// and screenshot directories, debug bundles, and the janitor that reaps
// expired files. Artifacts are addressed by filename only; the directory
// structure is internal.
package artifact

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Reserved filenames the janitor must never reap: the proxy extension is
// generated once at startup and must stay stable across runs.
const (
	ProxyExtensionZip = "proxy_extension.zip"
	ProxyExtensionDir = "proxy_extension"
)

// Store manages the artifact root.
type Store struct {
	root string
}

// NewStore creates the artifact root if needed.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute artifact root.
func (s *Store) Root() string { return s.root }

// DownloadDir returns (creating lazily) the session's download directory.
func (s *Store) DownloadDir(sessionID string) (string, error) {
	return s.sessionDir(sessionID, "downloads")
}

// ScreenshotDir returns (creating lazily) the session's screenshot directory.
func (s *Store) ScreenshotDir(sessionID string) (string, error) {
	return s.sessionDir(sessionID, "screenshots")
}

func (s *Store) sessionDir(sessionID, kind string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	dir := filepath.Join(s.root, sessionID, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s dir: %w", kind, err)
	}
	return dir, nil
}

// ScreenshotPath builds a timestamped screenshot path inside the
// session's screenshot dir: YYYYMMDD_HHMMSS_microseconds_tag.png.
func (s *Store) ScreenshotPath(sessionID, tag string) (string, error) {
	dir, err := s.ScreenshotDir(sessionID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	name := fmt.Sprintf("%s_%06d_%s.png", now.Format("20060102_150405"), now.Nanosecond()/1000, sanitizeTag(tag))
	return filepath.Join(dir, name), nil
}

func sanitizeTag(tag string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, tag)
}

// RemoveSession deletes a session's directory tree. Called on eviction.
func (s *Store) RemoveSession(sessionID string) error {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}
	return os.RemoveAll(filepath.Join(s.root, sessionID))
}

// Resolve maps a bare filename to an absolute path under the root. The
// lookup order is: the root itself (debug bundles, exports), then the
// session whose id prefixes the filename, then a full tree walk. Every
// result is verified to lie under the root before being returned.
func (s *Store) Resolve(name string) (string, error) {
	base := filepath.Base(name)
	if base != name || name == "" || name == "." {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	// Flat at the root: bundles and cross-session exports.
	if p := filepath.Join(s.root, base); s.isServableFile(p) {
		return p, nil
	}

	// Bundle names are {session_id}_{timestamp}_{tag}; try the leading
	// token as a session id.
	if i := strings.IndexByte(base, '_'); i > 0 {
		sid := base[:i]
		for _, kind := range []string{"downloads", "screenshots"} {
			if p := filepath.Join(s.root, sid, kind, base); s.isServableFile(p) {
				return p, nil
			}
		}
	}

	// Last resort: walk the tree for a basename match.
	var found string
	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if d.Name() == base {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if found != "" && s.isServableFile(found) {
		return found, nil
	}
	return "", os.ErrNotExist
}

// isServableFile reports whether path is a regular file whose canonical
// form lies under the artifact root.
func (s *Store) isServableFile(path string) bool {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	realRoot, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(realRoot, real)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return false
	}
	info, err := os.Stat(real)
	return err == nil && info.Mode().IsRegular()
}
