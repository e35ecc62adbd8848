// SPDX-License-Identifier: MIT

// Package proxyext synthesizes the proxy-credential browser extension.
// The extension answers proxy-auth challenges in-process so no dialog
// ever blocks a page flow. Its content is a pure function of the proxy
// configuration, so the generated bundle is stable across runs.
package proxyext

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/harborlink/portalgate/internal/config"
)

const manifestTemplate = `{
  "manifest_version": 3,
  "name": "portalgate proxy auth",
  "version": "1.0.0",
  "permissions": ["proxy", "webRequest", "webRequestAuthProvider"],
  "host_permissions": ["<all_urls>"],
  "background": {"service_worker": "background.js"}
}
`

const backgroundTemplate = `chrome.proxy.settings.set({
  value: {
    mode: "fixed_servers",
    rules: {
      singleProxy: {scheme: "http", host: %q, port: %s},
      bypassList: ["localhost", "127.0.0.1"]
    }
  },
  scope: "regular"
});

chrome.webRequest.onAuthRequired.addListener(
  function () {
    return {authCredentials: {username: %q, password: %q}};
  },
  {urls: ["<all_urls>"]},
  ["blocking"]
);
`

// Build writes the unpacked extension into dir and an equivalent zip next
// to it (zipPath). The unpacked directory is what gets passed to
// --load-extension; the zip is kept under the artifact root for
// inspection. Both writes are idempotent.
func Build(dir, zipPath string, cfg config.ProxyConfig) error {
	if !cfg.Enabled() {
		return fmt.Errorf("proxy extension requested without proxy host")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create extension dir: %w", err)
	}

	background := fmt.Sprintf(backgroundTemplate, cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	files := map[string]string{
		"manifest.json": manifestTemplate,
		"background.js": background,
	}
	for name, content := range files {
		if err := renameio.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	// Deterministic order keeps the archive byte-stable for a given config.
	for _, name := range []string{"background.js", "manifest.json"} {
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("zip create %s: %w", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			return fmt.Errorf("zip write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}

	if err := renameio.WriteFile(zipPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", zipPath, err)
	}
	return nil
}
