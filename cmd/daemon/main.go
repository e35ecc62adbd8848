// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/harborlink/portalgate/internal/api"
	"github.com/harborlink/portalgate/internal/appointment"
	"github.com/harborlink/portalgate/internal/artifact"
	"github.com/harborlink/portalgate/internal/auth"
	"github.com/harborlink/portalgate/internal/browser/proxyext"
	"github.com/harborlink/portalgate/internal/captcha"
	"github.com/harborlink/portalgate/internal/config"
	"github.com/harborlink/portalgate/internal/detail"
	"github.com/harborlink/portalgate/internal/health"
	"github.com/harborlink/portalgate/internal/listing"
	pglog "github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portal"
	"github.com/harborlink/portalgate/internal/session"
	"github.com/harborlink/portalgate/internal/telemetry"
)

var (
	version   = "v1.2.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.FromEnv()

	pglog.Configure(pglog.Config{
		Level:   cfg.LogLevel,
		Service: "portalgate",
		Version: version,
	})
	logger := pglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Str("event", "config.invalid").Msg("configuration rejected")
	}

	idPattern, err := regexp.Compile(cfg.ContainerIDPattern)
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "config.invalid").
			Str("pattern", cfg.ContainerIDPattern).
			Msg("container id pattern does not compile")
	}

	tracer, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "portalgate",
		ServiceVersion: version,
		ExporterType:   cfg.OTelExporter,
		Endpoint:       cfg.OTelEndpoint,
		SamplingRate:   cfg.OTelSamplingRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("tracer provider failed")
	}

	store, err := artifact.NewStore(cfg.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "artifact.init_failed").Msg("artifact root unusable")
	}

	// The proxy-credential extension is a pure function of the proxy
	// config, regenerated on every startup and stable across runs.
	extensionDir := ""
	extensionZip := ""
	if cfg.Proxy.Enabled() {
		extensionDir = filepath.Join(store.Root(), artifact.ProxyExtensionDir)
		extensionZip = filepath.Join(store.Root(), artifact.ProxyExtensionZip)
		if err := proxyext.Build(extensionDir, extensionZip, cfg.Proxy); err != nil {
			logger.Fatal().Err(err).Str("event", "proxyext.build_failed").Msg("proxy extension build failed")
		}
		logger.Info().
			Str("event", "proxyext.built").
			Str("proxy", cfg.Proxy.Addr()).
			Msg("proxy credential extension generated")
	}

	var solver captcha.Solver
	if cfg.CaptchaSolverURL != "" {
		solver = captcha.NewHTTPSolver(cfg.CaptchaSolverURL)
	}

	flow := auth.NewFlow(auth.Config{
		BaseURL:           cfg.PortalBaseURL,
		ChromePath:        cfg.ChromePath,
		Headless:          cfg.Headless,
		ExtensionDir:      extensionDir,
		ProxyAddr:         cfg.Proxy.Addr(),
		DefaultCaptchaKey: cfg.CaptchaDefaultKey,
	}, solver)

	pool := session.NewPool(cfg.MaxSessions, flow.Login, store)
	refresher := session.NewRefresher(pool,
		cfg.PortalBaseURL+portal.LandingPath, portal.LoginPath,
		cfg.SessionRefreshInterval, cfg.RefreshTick)
	janitor := artifact.NewJanitor(store, cfg.FileTTL, cfg.JanitorInterval)

	lister := listing.NewEngine(cfg.PortalBaseURL, idPattern)
	detailer := detail.NewEngine(lister)
	apptStore := appointment.NewStore(cfg.ApptTTL)
	appts := appointment.NewEngine(cfg.PortalBaseURL, apptStore)

	hm := health.NewManager()
	hm.RegisterChecker(health.NewWritableDirChecker("artifact_root", store.Root()))
	if cfg.Proxy.Enabled() {
		hm.RegisterChecker(health.NewFileChecker("proxy_extension", extensionZip))
	}

	server := api.New(api.Deps{
		Config:       cfg,
		Pool:         pool,
		Store:        store,
		Janitor:      janitor,
		Listing:      lister,
		Detail:       detailer,
		Appointments: appts,
		Health:       hm,
	})

	// Background workers live for the daemon's lifetime and stop with it.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	go refresher.Run(workerCtx)
	go janitor.Run(workerCtx)
	go apptStore.Run(workerCtx, time.Minute)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Int("max_sessions", cfg.MaxSessions).
		Str("portal", cfg.PortalBaseURL).
		Str("data_dir", store.Root()).
		Msg("starting portalgate")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "shutdown.signal").Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Str("event", "server.failed").Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	cancelWorkers()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("session pool shutdown incomplete")
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown incomplete")
	}

	logger.Info().Str("event", "shutdown.complete").Msg("portalgate exiting")
}
