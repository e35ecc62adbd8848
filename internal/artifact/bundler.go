// SPDX-License-Identifier: MIT

package artifact

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/harborlink/portalgate/internal/log"
)

// Bundle zips a session's screenshot and download directories into a
// single archive named {session_id}_{timestamp}_{tag}.zip at the artifact
// root and returns the archive's filename.
func (s *Store) Bundle(sessionID, tag string) (string, error) {
	logger := log.WithComponent("artifact")
	name := fmt.Sprintf("%s_%s_%s.zip", sessionID, time.Now().Format("20060102_150405"), sanitizeTag(tag))
	outPath := filepath.Join(s.root, name)

	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create bundle: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			logger.Warn().Err(cerr).Str("path", outPath).Msg("failed to close bundle")
		}
	}()

	zw := zip.NewWriter(out)
	added := 0
	for _, kind := range []string{"screenshots", "downloads"} {
		dir := filepath.Join(s.root, sessionID, kind)
		n, err := addDirToZip(zw, dir, kind)
		if err != nil {
			_ = zw.Close()
			_ = os.Remove(outPath)
			return "", fmt.Errorf("bundle %s: %w", kind, err)
		}
		added += n
	}
	if err := zw.Close(); err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("finalize bundle: %w", err)
	}

	logger.Info().
		Str("event", "bundle.created").
		Str(log.FieldSessionID, sessionID).
		Str("bundle", name).
		Int("files", added).
		Msg("debug bundle created")
	return name, nil
}

// addDirToZip copies every regular file under dir into the zip under the
// prefix. A missing dir contributes nothing: a session that never took a
// screenshot still bundles cleanly.
func addDirToZip(zw *zip.Writer, dir, prefix string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}
	added := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(filepath.Join(prefix, rel)))
		if err != nil {
			return err
		}
		f, err := os.Open(path) // #nosec G304 -- path walked under the artifact root
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err == nil {
			added++
		}
		return err
	})
	return added, err
}
