// SPDX-License-Identifier: MIT

// Package auth implements the portal login flow: stealth browser launch,
// human-paced form fill, captcha solving, and post-login verification.
package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/harborlink/portalgate/internal/browser"
	"github.com/harborlink/portalgate/internal/captcha"
	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portal"
	"github.com/harborlink/portalgate/internal/portalerr"
	"github.com/harborlink/portalgate/internal/session"
)

// Config carries the static login parameters.
type Config struct {
	BaseURL           string
	ChromePath        string
	Headless          bool
	ExtensionDir      string // unpacked proxy credential extension, empty to skip
	ProxyAddr         string
	DefaultCaptchaKey string
}

// Flow logs credentials into the portal and hands back an authenticated
// driver parked on the landing page.
type Flow struct {
	cfg    Config
	solver captcha.Solver

	// launch is swapped out by tests.
	launch func(browser.Options) (browser.Driver, error)

	outcomeTimeout  time.Duration // captcha widget settle window per click
	landingTimeout  time.Duration // post-submit redirect window
	clickRetryDelay time.Duration // spacing between stuck-spinner retries
	solvedTimeout   time.Duration // success marker wait after audio verify
}

// NewFlow builds the production flow.
func NewFlow(cfg Config, solver captcha.Solver) *Flow {
	return &Flow{
		cfg:    cfg,
		solver: solver,
		launch: func(o browser.Options) (browser.Driver, error) {
			return browser.Launch(o)
		},
		outcomeTimeout:  20 * time.Second,
		landingTimeout:  30 * time.Second,
		clickRetryDelay: 2 * time.Second,
		solvedTimeout:   15 * time.Second,
	}
}

// Login satisfies session.LoginFunc.
func (f *Flow) Login(ctx context.Context, creds session.Credentials, downloadDir string) (browser.Driver, error) {
	logger := log.WithComponentFromContext(ctx, "auth")
	start := time.Now()

	profile, err := os.MkdirTemp("", "portalgate-profile-*")
	if err != nil {
		return nil, portalerr.Wrap(portalerr.KindDriverStartup, err, "create profile dir")
	}

	d, err := f.launch(browser.Options{
		ChromePath:   f.cfg.ChromePath,
		Headless:     f.cfg.Headless,
		ProfileDir:   profile,
		ExtensionDir: f.cfg.ExtensionDir,
		ProxyAddr:    f.cfg.ProxyAddr,
		DownloadDir:  downloadDir,
	})
	if err != nil {
		_ = os.RemoveAll(profile)
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	if err := d.Navigate(ctx, f.cfg.BaseURL+portal.LoginPath); err != nil {
		return nil, portalerr.Wrap(portalerr.KindNavTimeout, err, "open login page")
	}
	if err := d.WaitVisible(ctx, portal.SelUsername, 15*time.Second); err != nil {
		return nil, portalerr.Wrap(portalerr.KindElementNotFound, err, "login form did not render")
	}

	if err := d.TypePaced(ctx, portal.SelUsername, creds.Username); err != nil {
		return nil, portalerr.Wrap(portalerr.KindElementNotFound, err, "fill username")
	}
	f.fieldPause(ctx)
	if err := d.TypePaced(ctx, portal.SelPassword, creds.Password); err != nil {
		return nil, portalerr.Wrap(portalerr.KindElementNotFound, err, "fill password")
	}
	f.fieldPause(ctx)

	apiKey := creds.CaptchaKey
	if apiKey == "" {
		apiKey = f.cfg.DefaultCaptchaKey
	}
	if err := f.solveCaptcha(ctx, d, apiKey); err != nil {
		return nil, err
	}

	if err := d.Click(ctx, portal.SelLoginSubmit); err != nil {
		return nil, portalerr.Wrap(portalerr.KindClickIntercepted, err, "submit login form")
	}

	if err := f.awaitLanding(ctx, d); err != nil {
		return nil, err
	}
	f.dismissPopups(ctx, d)

	ok = true
	logger.Info().
		Str("event", "auth.login_complete").
		Str(log.FieldUsername, creds.Username).
		Dur("elapsed", time.Since(start)).
		Msg("logged in")
	return d, nil
}

type captchaOutcome int

const (
	outcomePending captchaOutcome = iota
	outcomeSolved
	outcomeAudio
	outcomeImage
)

// solveCaptcha runs the challenge widget to completion. Stuck spinners
// get up to 3 checkbox clicks; the image-grid challenge is never solved.
func (f *Flow) solveCaptcha(ctx context.Context, d browser.Driver, apiKey string) error {
	logger := log.WithComponentFromContext(ctx, "auth")

	present, err := d.Exists(ctx, portal.SelCaptchaCheckbox)
	if err != nil {
		return portalerr.Wrap(portalerr.KindCaptchaFailed, err, "probe captcha widget")
	}
	if !present {
		logger.Debug().Str("event", "auth.no_captcha").Msg("no challenge widget on page")
		return nil
	}

	const maxClicks = 3
	for attempt := 1; attempt <= maxClicks; attempt++ {
		if attempt > 1 {
			logger.Warn().Int("attempt", attempt).Msg("challenge spinner stuck, re-clicking checkbox")
			if err := sleepCtx(ctx, f.clickRetryDelay); err != nil {
				return err
			}
		}
		if err := d.Click(ctx, portal.SelCaptchaCheckbox); err != nil {
			if err := d.ClickJS(ctx, portal.SelCaptchaCheckbox); err != nil {
				return portalerr.Wrap(portalerr.KindCaptchaFailed, err, "click challenge checkbox")
			}
		}

		switch f.awaitCaptchaOutcome(ctx, d) {
		case outcomeSolved:
			logger.Info().Str("event", "auth.captcha_passed").Msg("challenge passed on checkbox")
			return nil
		case outcomeAudio:
			return f.solveAudio(ctx, d, apiKey)
		case outcomeImage:
			return portalerr.New(portalerr.KindCaptchaFailed, "image-grid challenge presented")
		case outcomePending:
			// stuck spinner, retry the click
		}
	}
	return portalerr.New(portalerr.KindCaptchaFailed, "challenge spinner never settled after %d clicks", maxClicks)
}

// awaitCaptchaOutcome polls the widget until it settles or the window
// closes. A window that closes with the spinner still up reads as pending.
func (f *Flow) awaitCaptchaOutcome(ctx context.Context, d browser.Driver) captchaOutcome {
	deadline := time.Now().Add(f.outcomeTimeout)
	for {
		if v, _ := d.Visible(ctx, portal.SelCaptchaSolved); v {
			return outcomeSolved
		}
		if v, _ := d.Visible(ctx, portal.SelCaptchaAudioBtn); v {
			return outcomeAudio
		}
		if v, _ := d.Visible(ctx, portal.SelCaptchaImage); v {
			return outcomeImage
		}
		if time.Now().After(deadline) {
			return outcomePending
		}
		if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
			return outcomePending
		}
	}
}

// solveAudio switches the widget to audio mode, transcribes the asset
// through the external solver, and submits the answer. The solver is
// called exactly once: solves are billed and never retried.
func (f *Flow) solveAudio(ctx context.Context, d browser.Driver, apiKey string) error {
	logger := log.WithComponentFromContext(ctx, "auth")

	if err := d.Click(ctx, portal.SelCaptchaAudioBtn); err != nil {
		return portalerr.Wrap(portalerr.KindCaptchaFailed, err, "switch to audio challenge")
	}
	if err := d.WaitVisible(ctx, portal.SelCaptchaAudioSrc, 10*time.Second); err != nil {
		return portalerr.Wrap(portalerr.KindCaptchaFailed, err, "audio asset did not appear")
	}
	src, err := d.Attribute(ctx, portal.SelCaptchaAudioSrc, "src")
	if err != nil || src == "" {
		return portalerr.New(portalerr.KindCaptchaFailed, "audio challenge has no source url")
	}

	text, err := f.solver.Solve(ctx, src, apiKey)
	if err != nil {
		return portalerr.Wrap(portalerr.KindCaptchaFailed, err, "transcribe audio challenge")
	}

	if err := d.TypePaced(ctx, portal.SelCaptchaAnswer, text); err != nil {
		return portalerr.Wrap(portalerr.KindCaptchaFailed, err, "type transcription")
	}
	if err := d.Click(ctx, portal.SelCaptchaVerify); err != nil {
		return portalerr.Wrap(portalerr.KindCaptchaFailed, err, "submit transcription")
	}

	deadline := time.Now().Add(f.solvedTimeout)
	for time.Now().Before(deadline) {
		if v, _ := d.Visible(ctx, portal.SelCaptchaSolved); v {
			logger.Info().Str("event", "auth.captcha_passed").Msg("challenge passed on audio")
			return nil
		}
		if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
			break
		}
	}
	return portalerr.New(portalerr.KindCaptchaFailed, "transcription rejected by challenge widget")
}

// awaitLanding waits for the post-submit redirect to settle on the
// landing page. A bounce to the invalid-credentials URL is permanent.
func (f *Flow) awaitLanding(ctx context.Context, d browser.Driver) error {
	op := func() (string, error) {
		url, err := d.CurrentURL(ctx)
		if err != nil {
			return "", err
		}
		if strings.Contains(url, portal.InvalidCredsPath) {
			return "", backoff.Permanent(portalerr.New(portalerr.KindInvalidCredentials, "portal rejected the credentials"))
		}
		if strings.Contains(url, portal.LandingPath) {
			return url, nil
		}
		return "", fmt.Errorf("still on %s", url)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(500*time.Millisecond)),
		backoff.WithMaxElapsedTime(f.landingTimeout),
	)
	if err != nil {
		var pe *portalerr.Error
		if errors.As(err, &pe) {
			return pe
		}
		return portalerr.Wrap(portalerr.KindLoginTimeout, err, "landing page never appeared")
	}
	return nil
}

// dismissPopups closes post-login noise. Best effort: absence is normal.
func (f *Flow) dismissPopups(ctx context.Context, d browser.Driver) {
	for i := 0; i < 2; i++ {
		v, err := d.Visible(ctx, portal.SelPopupDismiss)
		if err != nil || !v {
			return
		}
		if err := d.ClickJS(ctx, portal.SelPopupDismiss); err != nil {
			return
		}
		if err := sleepCtx(ctx, 300*time.Millisecond); err != nil {
			return
		}
	}
}

// fieldPause inserts a small human-looking gap between form fields.
func (f *Flow) fieldPause(ctx context.Context) {
	_ = sleepCtx(ctx, time.Duration(300+rand.Intn(400))*time.Millisecond)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
