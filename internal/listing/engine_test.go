// SPDX-License-Identifier: MIT

package listing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlink/portalgate/internal/browser/browsertest"
	"github.com/harborlink/portalgate/internal/portal"
	"github.com/harborlink/portalgate/internal/portalerr"
)

var idPattern = regexp.MustCompile(`[A-Z]{4}\d{6,7}[A-Z]?`)

func newTestEngine() *Engine {
	e := NewEngine("https://portal.example", idPattern)
	e.scrollPause = time.Millisecond
	e.downloadTimeout = 200 * time.Millisecond
	return e
}

// rowsText renders n fake result rows plus the header noise the
// text-based counter must ignore.
func rowsText(n int) string {
	lines := []string{"Container", "Status", "Loading more results..."}
	for i := 0; i < n; i++ {
		lines = append(lines, fmt.Sprintf("MSCU%07d  Import  In Yard", 1000000+i))
	}
	return strings.Join(lines, "\n")
}

func TestRunCountMode(t *testing.T) {
	fake := &browsertest.Fake{
		Texts: map[string]string{portal.SelResultsPane: rowsText(2)},
	}
	rows := 2
	fake.OnScrollBy = func(string, int) error {
		rows += 2
		fake.Texts[portal.SelResultsPane] = rowsText(rows)
		return nil
	}

	res, err := newTestEngine().Run(context.Background(), fake, Request{Mode: ModeCount, TargetCount: 5})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Count, 5)
	assert.Contains(t, res.StopReason, "target count reached")
	assert.Equal(t, 2, res.ScrollCycles)
}

func TestRunExhaustMode(t *testing.T) {
	fake := &browsertest.Fake{
		Texts: map[string]string{portal.SelResultsPane: rowsText(3)},
	}
	scrolls := 0
	fake.OnScrollBy = func(string, int) error {
		scrolls++
		if scrolls <= 2 {
			fake.Texts[portal.SelResultsPane] = rowsText(3 + scrolls*2)
		}
		return nil
	}

	res, err := newTestEngine().Run(context.Background(), fake, Request{Mode: ModeExhaust})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Count)
	assert.Contains(t, res.StopReason, "exhausted")
	assert.Equal(t, 8, res.ScrollCycles, "2 productive cycles + 6 no-progress cycles")
}

func TestRunTargetIDFastPath(t *testing.T) {
	fake := &browsertest.Fake{
		Texts:    map[string]string{portal.SelResultsPane: rowsText(4)},
		TextHits: map[string]bool{"MSCU1000002": true},
	}

	res, err := newTestEngine().Run(context.Background(), fake, Request{Mode: ModeTargetID, TargetID: "MSCU1000002"})
	require.NoError(t, err)
	assert.True(t, res.FastPath)
	assert.True(t, res.FoundTarget)
	assert.Equal(t, 0, res.ScrollCycles)
}

func TestRunTargetIDFoundAfterScrolling(t *testing.T) {
	fake := &browsertest.Fake{
		Texts:    map[string]string{portal.SelResultsPane: rowsText(2)},
		TextHits: map[string]bool{},
	}
	scrolls := 0
	fake.OnScrollBy = func(string, int) error {
		scrolls++
		fake.Texts[portal.SelResultsPane] = rowsText(2 + scrolls)
		if scrolls == 3 {
			fake.TextHits["TGHU7777777"] = true
		}
		return nil
	}

	res, err := newTestEngine().Run(context.Background(), fake, Request{Mode: ModeTargetID, TargetID: "TGHU7777777"})
	require.NoError(t, err)
	assert.True(t, res.FoundTarget)
	assert.True(t, res.FastPath, "any successful targeted search reports the fast path")
	assert.Equal(t, 3, res.ScrollCycles)
	assert.Equal(t, "target found after 3 scroll cycles", res.StopReason)
}

func TestRunTargetIDExhaustsWithoutTarget(t *testing.T) {
	fake := &browsertest.Fake{
		Texts:    map[string]string{portal.SelResultsPane: rowsText(2)},
		TextHits: map[string]bool{},
	}

	res, err := newTestEngine().Run(context.Background(), fake, Request{Mode: ModeTargetID, TargetID: "NOPE0000000"})
	require.NoError(t, err)
	assert.False(t, res.FoundTarget)
	assert.Contains(t, res.StopReason, "without finding target")
}

func TestRunNavigatesToListingFirst(t *testing.T) {
	fake := &browsertest.Fake{
		URL:   "https://portal.example/dashboard",
		Texts: map[string]string{portal.SelResultsPane: rowsText(1)},
	}

	_, err := newTestEngine().Run(context.Background(), fake, Request{Mode: ModeExhaust})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.CallCount("Navigate"))
	assert.Contains(t, fake.URL, portal.ContainersPath)
}

func TestExportMasterCheckboxFirstMethod(t *testing.T) {
	dir := t.TempDir()
	fake := &browsertest.Fake{
		Checked: map[string]bool{},
	}
	fake.OnClick = func(selector string) error {
		switch selector {
		case portal.SelMasterCheckbox:
			fake.Checked[portal.SelMasterCheckbox] = true
		case portal.SelExportButton:
			require.NoError(t, os.WriteFile(filepath.Join(dir, "containers.xlsx"), []byte("rows"), 0o644))
		}
		return nil
	}

	path, err := newTestEngine().Export(context.Background(), fake, dir)
	require.NoError(t, err)
	assert.Equal(t, "containers.xlsx", filepath.Base(path))
	assert.Equal(t, dir, fake.DownloadDir)
}

func TestExportFallsBackToRowCheckboxes(t *testing.T) {
	dir := t.TempDir()
	fake := &browsertest.Fake{
		Checked: map[string]bool{}, // master checkbox never reads checked
		Missing: map[string]bool{portal.NthRowCheckbox(4): true},
	}
	fake.OnClick = func(selector string) error {
		if selector == portal.SelExportButton {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "containers.xlsx"), []byte("rows"), 0o644))
		}
		return nil
	}

	path, err := newTestEngine().Export(context.Background(), fake, dir)
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	rowClicks := 0
	for _, c := range fake.Calls() {
		if c.Method == "ClickJS" && strings.Contains(c.Args[0], "tbody tr:nth-child") {
			rowClicks++
		}
	}
	assert.Equal(t, 3, rowClicks, "rows 1-3 exist, row 4 is missing")
}

func TestExportCheckboxStuck(t *testing.T) {
	fake := &browsertest.Fake{
		Checked: map[string]bool{},
		Missing: map[string]bool{portal.NthRowCheckbox(1): true},
	}

	_, err := newTestEngine().Export(context.Background(), fake, t.TempDir())
	assert.Equal(t, portalerr.KindCheckboxStuck, portalerr.KindOf(err))
}

func TestExportDownloadTimeout(t *testing.T) {
	fake := &browsertest.Fake{
		Checked: map[string]bool{portal.SelMasterCheckbox: true},
	}

	_, err := newTestEngine().Export(context.Background(), fake, t.TempDir())
	assert.Equal(t, portalerr.KindDownloadTimeout, portalerr.KindOf(err))
}

func TestExportIgnoresInProgressDownloads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "containers.xlsx.crdownload"), []byte("partial"), 0o644))

	fake := &browsertest.Fake{
		Checked: map[string]bool{portal.SelMasterCheckbox: true},
	}

	_, err := newTestEngine().Export(context.Background(), fake, dir)
	assert.Equal(t, portalerr.KindDownloadTimeout, portalerr.KindOf(err))
}
