// SPDX-License-Identifier: MIT

package proxyext

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlink/portalgate/internal/config"
)

func TestBuildWritesManifestAndBackground(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "ext")
	zipPath := filepath.Join(root, "proxy_extension.zip")

	cfg := config.ProxyConfig{Host: "proxy.internal", Port: "3128", Username: "u", Password: "secret"}
	require.NoError(t, Build(dir, zipPath, cfg))

	manifest, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), `"proxy"`)
	assert.Contains(t, string(manifest), "background.js")

	background, err := os.ReadFile(filepath.Join(dir, "background.js"))
	require.NoError(t, err)
	assert.Contains(t, string(background), `"proxy.internal"`)
	assert.Contains(t, string(background), `onAuthRequired`)
	assert.Contains(t, string(background), `"secret"`)

	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"manifest.json", "background.js"}, names)
}

func TestBuildStableAcrossRuns(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "ext")
	zipPath := filepath.Join(root, "proxy_extension.zip")
	cfg := config.ProxyConfig{Host: "p", Port: "8080", Username: "a", Password: "b"}

	require.NoError(t, Build(dir, zipPath, cfg))
	first, err := os.ReadFile(zipPath)
	require.NoError(t, err)

	require.NoError(t, Build(dir, zipPath, cfg))
	second, err := os.ReadFile(zipPath)
	require.NoError(t, err)

	assert.Equal(t, first, second, "extension bundle must be a pure function of the proxy config")
}

func TestBuildRejectsDisabledProxy(t *testing.T) {
	root := t.TempDir()
	err := Build(filepath.Join(root, "ext"), filepath.Join(root, "e.zip"), config.ProxyConfig{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "proxy"))
}
