// SPDX-License-Identifier: MIT

package detail

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/harborlink/portalgate/internal/browser/browsertest"
	"github.com/harborlink/portalgate/internal/listing"
	"github.com/harborlink/portalgate/internal/portal"
	"github.com/harborlink/portalgate/internal/portalerr"
)

var idPattern = regexp.MustCompile(`[A-Z]{4}\d{6,7}[A-Z]?`)

func newTestEngine() *Engine {
	e := NewEngine(listing.NewEngine("https://portal.example", idPattern))
	e.limiter = rate.NewLimiter(rate.Inf, 1) // no pacing in tests
	return e
}

const timelineFixture = `[
	{"label":"Discharged","date":"2026-08-01","completed":true},
	{"label":"Pregate","date":"2026-08-03","completed":true},
	{"label":"Gate Out","date":"","completed":false}
]`

func TestSearchAndExpandFastPath(t *testing.T) {
	fake := &browsertest.Fake{
		URL:      "https://portal.example" + portal.ContainersPath,
		Texts:    map[string]string{portal.SelResultsPane: "MSCU1000001"},
		TextHits: map[string]bool{"MSCU1000001": true},
	}

	err := newTestEngine().SearchAndExpand(context.Background(), fake, "MSCU1000001")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.CallCount("ClickByText"))
}

func TestSearchAndExpandNotFound(t *testing.T) {
	fake := &browsertest.Fake{
		URL:      "https://portal.example" + portal.ContainersPath,
		Texts:    map[string]string{portal.SelResultsPane: "MSCU1000001"},
		TextHits: map[string]bool{},
	}

	err := newTestEngine().SearchAndExpand(context.Background(), fake, "NONE9999999")
	assert.Equal(t, portalerr.KindContainerNotFound, portalerr.KindOf(err))
}

func TestCheckPregatePassed(t *testing.T) {
	fake := &browsertest.Fake{
		EvalResults: map[string]string{timelineJS: timelineFixture},
	}

	res, err := newTestEngine().CheckPregate(context.Background(), fake)
	require.NoError(t, err)
	assert.True(t, res.PassedPregate)
	assert.Equal(t, "timeline-class", res.DetectionMethod)

	want := []Milestone{
		{Milestone: "Gate Out", Date: "N/A", Status: "pending"},
		{Milestone: "Pregate", Date: "2026-08-03", Status: "completed"},
		{Milestone: "Discharged", Date: "2026-08-01", Status: "completed"},
	}
	if diff := cmp.Diff(want, res.Timeline); diff != "" {
		t.Errorf("timeline mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckPregatePending(t *testing.T) {
	fake := &browsertest.Fake{
		EvalResults: map[string]string{
			timelineJS: `[{"label":"Pregate","date":"","completed":false}]`,
		},
	}

	res, err := newTestEngine().CheckPregate(context.Background(), fake)
	require.NoError(t, err)
	assert.False(t, res.PassedPregate)
}

func TestCheckPregateUnknown(t *testing.T) {
	e := newTestEngine()

	fake := &browsertest.Fake{
		EvalResults: map[string]string{
			timelineJS: `[{"label":"Discharged","date":"x","completed":true}]`,
		},
	}
	_, err := e.CheckPregate(context.Background(), fake)
	assert.Equal(t, portalerr.KindPregateUnknown, portalerr.KindOf(err))

	fake = &browsertest.Fake{EvalResults: map[string]string{timelineJS: `[]`}}
	_, err = e.CheckPregate(context.Background(), fake)
	assert.Equal(t, portalerr.KindPregateUnknown, portalerr.KindOf(err))
}

func TestGetBooking(t *testing.T) {
	e := newTestEngine()

	cases := []struct {
		name string
		raw  string
		want *string
	}{
		{"present", "BKG12345", strPtr("BKG12345")},
		{"not available", "N/A", nil},
		{"empty", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &browsertest.Fake{EvalResults: map[string]string{bookingJS: tc.raw}}
			got, err := e.GetBooking(context.Background(), fake)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBulkContinuesPastFailures(t *testing.T) {
	fake := &browsertest.Fake{
		URL:   "https://portal.example" + portal.ContainersPath,
		Texts: map[string]string{portal.SelResultsPane: "MSCU1000001\nTGHU2000002"},
		TextHits: map[string]bool{
			"MSCU1000001": true,
			"TGHU2000002": true,
		},
		EvalResults: map[string]string{
			timelineJS: timelineFixture,
			bookingJS:  "BKG777",
		},
	}

	res, err := newTestEngine().Bulk(context.Background(), fake,
		[]string{"MSCU1000001", "GONE0000000"},
		[]string{"TGHU2000002"},
	)
	require.NoError(t, err)

	require.Len(t, res.ImportResults, 2)
	assert.True(t, res.ImportResults[0].Success)
	assert.True(t, res.ImportResults[0].PassedPregate)
	assert.False(t, res.ImportResults[1].Success)
	assert.Contains(t, res.ImportResults[1].Error, "CONTAINER_NOT_FOUND")

	require.Len(t, res.ExportResults, 1)
	assert.True(t, res.ExportResults[0].Success)
	require.NotNil(t, res.ExportResults[0].BookingNumber)
	assert.Equal(t, "BKG777", *res.ExportResults[0].BookingNumber)

	assert.Equal(t, BulkSummary{Total: 3, Succeeded: 2, Failed: 1}, res.Summary)
}

func strPtr(s string) *string { return &s }
