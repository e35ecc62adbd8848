// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlink/portalgate/internal/browser"
	"github.com/harborlink/portalgate/internal/browser/browsertest"
	"github.com/harborlink/portalgate/internal/portal"
	"github.com/harborlink/portalgate/internal/portalerr"
	"github.com/harborlink/portalgate/internal/session"
)

type fakeSolver struct {
	text   string
	err    error
	calls  int
	gotURL string
	gotKey string
}

func (s *fakeSolver) Solve(_ context.Context, audioURL, apiKey string) (string, error) {
	s.calls++
	s.gotURL = audioURL
	s.gotKey = apiKey
	return s.text, s.err
}

const baseURL = "https://portal.example"

func newTestFlow(t *testing.T, fake *browsertest.Fake, solver *fakeSolver) *Flow {
	t.Helper()
	f := NewFlow(Config{BaseURL: baseURL, DefaultCaptchaKey: "default-key"}, solver)
	f.launch = func(browser.Options) (browser.Driver, error) { return fake, nil }
	f.outcomeTimeout = 50 * time.Millisecond
	f.landingTimeout = 200 * time.Millisecond
	f.clickRetryDelay = time.Millisecond
	f.solvedTimeout = 50 * time.Millisecond
	return f
}

// redirectOnSubmit scripts the fake so a login submit lands on target.
func redirectOnSubmit(fake *browsertest.Fake, target string) {
	fake.OnClick = func(selector string) error {
		if selector == portal.SelLoginSubmit {
			fake.URL = target
		}
		return nil
	}
}

func TestLoginCheckboxPath(t *testing.T) {
	fake := &browsertest.Fake{}
	solver := &fakeSolver{}
	redirectOnSubmit(fake, baseURL+portal.LandingPath)

	f := newTestFlow(t, fake, solver)
	d, err := f.Login(context.Background(), session.Credentials{Username: "u", Password: "p"}, t.TempDir())
	require.NoError(t, err)
	assert.Same(t, browser.Driver(fake), d)
	assert.Zero(t, solver.calls, "checkbox success must not call the paid solver")
	assert.False(t, fake.Closed)

	var typed []string
	for _, c := range fake.Calls() {
		if c.Method == "TypePaced" {
			typed = append(typed, c.Args[1])
		}
	}
	assert.Equal(t, []string{"u", "p"}, typed)
}

func TestLoginAudioPath(t *testing.T) {
	fake := &browsertest.Fake{
		Hidden: map[string]bool{
			portal.SelCaptchaSolved: true,
			portal.SelCaptchaImage:  true,
		},
		Attrs: map[string]map[string]string{
			portal.SelCaptchaAudioSrc: {"src": "https://portal.example/audio/ch1.mp3"},
		},
	}
	solver := &fakeSolver{text: "seven four one"}
	fake.OnClick = func(selector string) error {
		switch selector {
		case portal.SelCaptchaVerify:
			delete(fake.Hidden, portal.SelCaptchaSolved)
		case portal.SelLoginSubmit:
			fake.URL = baseURL + portal.LandingPath
		}
		return nil
	}

	f := newTestFlow(t, fake, solver)
	_, err := f.Login(context.Background(), session.Credentials{Username: "u", Password: "p", CaptchaKey: "user-key"}, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 1, solver.calls)
	assert.Equal(t, "https://portal.example/audio/ch1.mp3", solver.gotURL)
	assert.Equal(t, "user-key", solver.gotKey)

	answered := false
	for _, c := range fake.Calls() {
		if c.Method == "TypePaced" && c.Args[0] == portal.SelCaptchaAnswer {
			answered = true
			assert.Equal(t, "seven four one", c.Args[1])
		}
	}
	assert.True(t, answered, "transcription should be typed into the answer field")
}

func TestLoginAudioUsesDefaultKey(t *testing.T) {
	fake := &browsertest.Fake{
		Hidden: map[string]bool{
			portal.SelCaptchaSolved: true,
			portal.SelCaptchaImage:  true,
		},
		Attrs: map[string]map[string]string{
			portal.SelCaptchaAudioSrc: {"src": "https://portal.example/audio/ch2.mp3"},
		},
	}
	solver := &fakeSolver{text: "three"}
	fake.OnClick = func(selector string) error {
		switch selector {
		case portal.SelCaptchaVerify:
			delete(fake.Hidden, portal.SelCaptchaSolved)
		case portal.SelLoginSubmit:
			fake.URL = baseURL + portal.LandingPath
		}
		return nil
	}

	f := newTestFlow(t, fake, solver)
	_, err := f.Login(context.Background(), session.Credentials{Username: "u", Password: "p"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "default-key", solver.gotKey)
}

func TestLoginImageGridFails(t *testing.T) {
	fake := &browsertest.Fake{
		Hidden: map[string]bool{
			portal.SelCaptchaSolved:   true,
			portal.SelCaptchaAudioBtn: true,
		},
	}
	solver := &fakeSolver{}

	f := newTestFlow(t, fake, solver)
	_, err := f.Login(context.Background(), session.Credentials{Username: "u", Password: "p"}, t.TempDir())
	assert.Equal(t, portalerr.KindCaptchaFailed, portalerr.KindOf(err))
	assert.Zero(t, solver.calls)
	assert.True(t, fake.Closed, "browser must be torn down on failure")
}

func TestLoginStuckSpinnerRetriesThreeTimes(t *testing.T) {
	fake := &browsertest.Fake{
		Hidden: map[string]bool{
			portal.SelCaptchaSolved:   true,
			portal.SelCaptchaAudioBtn: true,
			portal.SelCaptchaImage:    true,
		},
	}
	clicks := 0
	fake.OnClick = func(selector string) error {
		if selector == portal.SelCaptchaCheckbox {
			clicks++
		}
		return nil
	}

	f := newTestFlow(t, fake, &fakeSolver{})
	_, err := f.Login(context.Background(), session.Credentials{Username: "u", Password: "p"}, t.TempDir())
	assert.Equal(t, portalerr.KindCaptchaFailed, portalerr.KindOf(err))
	assert.Equal(t, 3, clicks)
}

func TestLoginInvalidCredentials(t *testing.T) {
	fake := &browsertest.Fake{}
	redirectOnSubmit(fake, baseURL+portal.InvalidCredsPath+"=1")

	f := newTestFlow(t, fake, &fakeSolver{})
	_, err := f.Login(context.Background(), session.Credentials{Username: "u", Password: "bad"}, t.TempDir())
	assert.Equal(t, portalerr.KindInvalidCredentials, portalerr.KindOf(err))
	assert.True(t, fake.Closed)
}

func TestLoginTimesOutWhenNoRedirect(t *testing.T) {
	fake := &browsertest.Fake{}
	fake.OnClick = func(string) error { return nil } // submit never navigates
	fake.URL = baseURL + portal.LoginPath

	f := newTestFlow(t, fake, &fakeSolver{})
	_, err := f.Login(context.Background(), session.Credentials{Username: "u", Password: "p"}, t.TempDir())
	assert.Equal(t, portalerr.KindLoginTimeout, portalerr.KindOf(err))
	assert.True(t, fake.Closed)
}

func TestLoginSkipsAbsentCaptcha(t *testing.T) {
	fake := &browsertest.Fake{
		Missing: map[string]bool{portal.SelCaptchaCheckbox: true},
	}
	solver := &fakeSolver{}
	redirectOnSubmit(fake, baseURL+portal.LandingPath)

	f := newTestFlow(t, fake, solver)
	_, err := f.Login(context.Background(), session.Credentials{Username: "u", Password: "p"}, t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, solver.calls)
}
