// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	name   string
	result CheckResult
}

func (s stubChecker) Name() string                        { return s.name }
func (s stubChecker) Check(_ context.Context) CheckResult { return s.result }

func TestReadyNoCheckers(t *testing.T) {
	m := NewManager()
	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestReadyAggregation(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantReady  bool
		wantStatus Status
	}{
		{
			name: "all healthy",
			checkers: []Checker{
				stubChecker{"a", CheckResult{Status: StatusHealthy}},
				stubChecker{"b", CheckResult{Status: StatusHealthy}},
			},
			wantReady:  true,
			wantStatus: StatusHealthy,
		},
		{
			name: "degraded keeps ready",
			checkers: []Checker{
				stubChecker{"a", CheckResult{Status: StatusHealthy}},
				stubChecker{"b", CheckResult{Status: StatusDegraded}},
			},
			wantReady:  true,
			wantStatus: StatusDegraded,
		},
		{
			name: "unhealthy flips not-ready",
			checkers: []Checker{
				stubChecker{"a", CheckResult{Status: StatusDegraded}},
				stubChecker{"b", CheckResult{Status: StatusUnhealthy}},
			},
			wantReady:  false,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			for _, c := range tt.checkers {
				m.RegisterChecker(c)
			}
			resp := m.Ready(context.Background())
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checkers))
		})
	}
}

func TestServeReadyStatusCodes(t *testing.T) {
	m := NewManager()
	m.RegisterChecker(stubChecker{"dead", CheckResult{Status: StatusUnhealthy, Error: "boom"}})

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/ready", nil))
	require.Equal(t, 503, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, "boom", resp.Checks["dead"].Error)
}

func TestWritableDirChecker(t *testing.T) {
	dir := t.TempDir()
	c := NewWritableDirChecker("artifact_root", dir)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	// Probe files must not be left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	missing := NewWritableDirChecker("artifact_root", filepath.Join(dir, "nope"))
	assert.Equal(t, StatusUnhealthy, missing.Check(context.Background()).Status)
}

func TestFileChecker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy_extension.zip")

	c := NewFileChecker("proxy_extension", path)
	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	require.NoError(t, os.WriteFile(path, []byte("zip"), 0o644))
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	optional := NewFileChecker("proxy_extension", "")
	assert.Equal(t, StatusHealthy, optional.Check(context.Background()).Status)
}
