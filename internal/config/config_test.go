// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.MaxSessions)
	assert.Equal(t, 300*time.Second, cfg.SessionRefreshInterval)
	assert.Equal(t, 600*time.Second, cfg.ApptTTL)
	assert.Equal(t, 24*time.Hour, cfg.FileTTL)
	assert.Equal(t, time.Hour, cfg.JanitorInterval)
	assert.Equal(t, DefaultContainerIDPattern, cfg.ContainerIDPattern)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORTALGATE_MAX_SESSIONS", "3")
	t.Setenv("PORTALGATE_SESSION_REFRESH_INTERVAL", "90s")
	t.Setenv("PORTALGATE_FILE_TTL", "3600") // bare seconds accepted
	t.Setenv("PORTALGATE_HEADLESS", "false")

	cfg := FromEnv()

	assert.Equal(t, 3, cfg.MaxSessions)
	assert.Equal(t, 90*time.Second, cfg.SessionRefreshInterval)
	assert.Equal(t, time.Hour, cfg.FileTTL)
	assert.False(t, cfg.Headless)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sessions", func(c *Config) { c.MaxSessions = 0 }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty portal url", func(c *Config) { c.PortalBaseURL = "" }},
		{"non-positive appt ttl", func(c *Config) { c.ApptTTL = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := FromEnv()
			require.NoError(t, cfg.Validate())
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseIntInvalidFallsBack(t *testing.T) {
	t.Setenv("PORTALGATE_MAX_SESSIONS", "not-a-number")
	cfg := FromEnv()
	assert.Equal(t, 10, cfg.MaxSessions)
}

func TestProxyConfig(t *testing.T) {
	p := ProxyConfig{Host: "proxy.internal", Port: "3128"}
	assert.True(t, p.Enabled())
	assert.Equal(t, "proxy.internal:3128", p.Addr())
	assert.False(t, ProxyConfig{}.Enabled())
}
