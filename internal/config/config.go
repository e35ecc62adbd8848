// SPDX-License-Identifier: MIT

// Package config loads the portalgate process configuration from the
// environment. There is no config file surface; every knob is an
// environment variable with a logged default.
package config

import (
	"fmt"
	"time"
)

// Config is the complete process configuration.
type Config struct {
	ListenAddr string
	DataDir    string

	// Portal
	PortalBaseURL      string
	ContainerIDPattern string

	// Browser
	ChromePath string
	Headless   bool

	// Session pool
	MaxSessions            int
	SessionRefreshInterval time.Duration
	RefreshTick            time.Duration

	// Appointment workflow
	ApptTTL time.Duration

	// Artifacts
	FileTTL         time.Duration
	JanitorInterval time.Duration

	// Proxy credential extension
	Proxy ProxyConfig

	// Captcha
	CaptchaSolverURL  string
	CaptchaDefaultKey string

	// HTTP surface
	RateLimitPerMinute int

	// Telemetry
	OTelEnabled      bool
	OTelExporter     string
	OTelEndpoint     string
	OTelSamplingRate float64

	LogLevel string
}

// ProxyConfig describes the upstream proxy whose credentials are baked
// into the generated browser extension. Empty Host disables the proxy.
type ProxyConfig struct {
	Host     string
	Port     string
	Username string
	Password string
}

// Enabled reports whether a proxy is configured.
func (p ProxyConfig) Enabled() bool { return p.Host != "" }

// Addr returns the host:port form of the proxy address.
func (p ProxyConfig) Addr() string { return p.Host + ":" + p.Port }

// DefaultContainerIDPattern matches the portal's row identifiers: four
// uppercase letters, six or seven digits and an optional check letter.
// The counting method is deliberately text-based, so the pattern is kept
// configurable via PORTALGATE_CONTAINER_ID_PATTERN.
const DefaultContainerIDPattern = `[A-Z]{4}\d{6,7}[A-Z]?`

// FromEnv builds the configuration from the process environment.
func FromEnv() Config {
	return Config{
		ListenAddr: ParseString("PORTALGATE_LISTEN_ADDR", ":8080"),
		DataDir:    ParseString("PORTALGATE_DATA_DIR", "/tmp/portalgate"),

		PortalBaseURL:      ParseString("PORTALGATE_PORTAL_BASE_URL", "https://portal.example.com"),
		ContainerIDPattern: ParseString("PORTALGATE_CONTAINER_ID_PATTERN", DefaultContainerIDPattern),

		ChromePath: ParseString("PORTALGATE_CHROME_PATH", ""),
		Headless:   ParseBool("PORTALGATE_HEADLESS", true),

		MaxSessions:            ParseInt("PORTALGATE_MAX_SESSIONS", 10),
		SessionRefreshInterval: ParseDuration("PORTALGATE_SESSION_REFRESH_INTERVAL", 300*time.Second),
		RefreshTick:            ParseDuration("PORTALGATE_REFRESH_TICK", 60*time.Second),

		ApptTTL: ParseDuration("PORTALGATE_APPT_TTL", 600*time.Second),

		FileTTL:         ParseDuration("PORTALGATE_FILE_TTL", 24*time.Hour),
		JanitorInterval: ParseDuration("PORTALGATE_JANITOR_INTERVAL", time.Hour),

		Proxy: ProxyConfig{
			Host:     ParseString("PROXY_HOST", ""),
			Port:     ParseString("PROXY_PORT", "3128"),
			Username: ParseString("PROXY_USERNAME", ""),
			Password: ParseString("PROXY_PASSWORD", ""),
		},

		CaptchaSolverURL:  ParseString("CAPTCHA_SOLVER_URL", ""),
		CaptchaDefaultKey: ParseString("CAPTCHA_DEFAULT_KEY", ""),

		RateLimitPerMinute: ParseInt("PORTALGATE_RATE_LIMIT", 120),

		OTelEnabled:      ParseBool("PORTALGATE_OTEL_ENABLED", false),
		OTelExporter:     ParseString("PORTALGATE_OTEL_EXPORTER", "grpc"),
		OTelEndpoint:     ParseString("PORTALGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelSamplingRate: ParseFloat("PORTALGATE_OTEL_SAMPLING_RATE", 1.0),

		LogLevel: ParseString("LOG_LEVEL", "info"),
	}
}

// Validate rejects configurations that cannot serve requests.
func (c Config) Validate() error {
	if c.MaxSessions < 1 {
		return fmt.Errorf("PORTALGATE_MAX_SESSIONS must be at least 1, got %d", c.MaxSessions)
	}
	if c.DataDir == "" {
		return fmt.Errorf("PORTALGATE_DATA_DIR must not be empty")
	}
	if c.PortalBaseURL == "" {
		return fmt.Errorf("PORTALGATE_PORTAL_BASE_URL must not be empty")
	}
	if c.ApptTTL <= 0 {
		return fmt.Errorf("PORTALGATE_APPT_TTL must be positive, got %s", c.ApptTTL)
	}
	return nil
}
