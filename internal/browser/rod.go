// SPDX-License-Identifier: MIT

package browser

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/harborlink/portalgate/internal/log"
	"github.com/harborlink/portalgate/internal/portalerr"
)

// Options configures a browser launch. Each session gets its own profile
// directory; two browser processes sharing a profile deadlock on the
// profile lock.
type Options struct {
	ChromePath   string
	Headless     bool
	ProfileDir   string
	ExtensionDir string // unpacked proxy credential extension, empty to skip
	ProxyAddr    string // host:port, empty to skip
	DownloadDir  string
}

const defaultOpTimeout = 15 * time.Second

// navTimeout bounds full page navigations.
const navTimeout = 45 * time.Second

// RodDriver drives a Chromium process over CDP using go-rod.
type RodDriver struct {
	browser    *rod.Browser
	page       *rod.Page
	profileDir string
}

// Launch starts a Chromium process with the stealth flag set and connects
// to it. The flag set mirrors what undetected automation deployments use:
// no automation banners, no AutomationControlled blink feature, popup and
// notification suppression.
func Launch(opts Options) (*RodDriver, error) {
	l := launcher.New()
	if opts.ChromePath != "" {
		l = l.Bin(opts.ChromePath)
	}
	if opts.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation").
		Set("disable-infobars").
		Set("disable-notifications").
		Set("disable-popup-blocking").
		Set("disable-save-password-bubble").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1920,1080").
		Set("accept-lang", "en-US,en;q=0.9")

	if opts.ProfileDir != "" {
		l = l.Set("user-data-dir", opts.ProfileDir)
	}
	if opts.ProxyAddr != "" {
		l = l.Set("proxy-server", opts.ProxyAddr)
	}
	if opts.ExtensionDir != "" {
		// Extensions need the non-headless path or headless=new.
		l = l.Set("load-extension", opts.ExtensionDir).
			Set("disable-extensions-except", opts.ExtensionDir)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, portalerr.Wrap(portalerr.KindDriverStartup, err, "launch browser")
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return nil, portalerr.Wrap(portalerr.KindDriverStartup, err, "connect to browser")
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		return nil, portalerr.Wrap(portalerr.KindDriverStartup, err, "open initial page")
	}

	d := &RodDriver{browser: b, page: page, profileDir: opts.ProfileDir}
	if opts.DownloadDir != "" {
		if err := d.SetDownloadDir(context.Background(), opts.DownloadDir); err != nil {
			logger := log.WithComponent("browser")
			logger.Warn().Err(err).Msg("failed to set initial download dir")
		}
	}
	return d, nil
}

func (d *RodDriver) pageCtx(ctx context.Context, timeout time.Duration) *rod.Page {
	return d.page.Context(ctx).Timeout(timeout)
}

// Navigate loads the URL and waits for the load event.
func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	p := d.pageCtx(ctx, navTimeout)
	if err := p.Navigate(url); err != nil {
		return portalerr.Wrap(portalerr.KindNavTimeout, err, "navigate to %s", url)
	}
	if err := p.WaitLoad(); err != nil {
		return portalerr.Wrap(portalerr.KindNavTimeout, err, "wait for load of %s", url)
	}
	return nil
}

// CurrentURL reads the page URL. Used as the liveness probe: a dead
// browser process fails this within the op timeout.
func (d *RodDriver) CurrentURL(ctx context.Context) (string, error) {
	info, err := d.pageCtx(ctx, defaultOpTimeout).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (d *RodDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := d.pageCtx(ctx, timeout).Element(selector)
	if err != nil {
		return portalerr.Wrap(portalerr.KindElementNotFound, err, "element %s", selector)
	}
	if err := el.WaitVisible(); err != nil {
		return portalerr.Wrap(portalerr.KindElementNotFound, err, "element %s not visible", selector)
	}
	return nil
}

func (d *RodDriver) Exists(ctx context.Context, selector string) (bool, error) {
	has, _, err := d.pageCtx(ctx, defaultOpTimeout).Has(selector)
	if err != nil {
		return false, fmt.Errorf("has %s: %w", selector, err)
	}
	return has, nil
}

func (d *RodDriver) Visible(ctx context.Context, selector string) (bool, error) {
	has, el, err := d.pageCtx(ctx, defaultOpTimeout).Has(selector)
	if err != nil || !has {
		return false, err
	}
	visible, err := el.Visible()
	if err != nil {
		return false, fmt.Errorf("visible %s: %w", selector, err)
	}
	return visible, nil
}

func (d *RodDriver) Text(ctx context.Context, selector string) (string, error) {
	el, err := d.pageCtx(ctx, defaultOpTimeout).Element(selector)
	if err != nil {
		return "", portalerr.Wrap(portalerr.KindElementNotFound, err, "element %s", selector)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("text of %s: %w", selector, err)
	}
	return text, nil
}

func (d *RodDriver) Attribute(ctx context.Context, selector, name string) (string, error) {
	el, err := d.pageCtx(ctx, defaultOpTimeout).Element(selector)
	if err != nil {
		return "", portalerr.Wrap(portalerr.KindElementNotFound, err, "element %s", selector)
	}
	val, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("attribute %s of %s: %w", name, selector, err)
	}
	if val == nil {
		return "", nil
	}
	return *val, nil
}

func (d *RodDriver) IsChecked(ctx context.Context, selector string) (bool, error) {
	el, err := d.pageCtx(ctx, defaultOpTimeout).Element(selector)
	if err != nil {
		return false, portalerr.Wrap(portalerr.KindElementNotFound, err, "element %s", selector)
	}
	res, err := el.Eval(`() => this.checked === true || this.getAttribute("aria-checked") === "true"`)
	if err != nil {
		return false, fmt.Errorf("checked state of %s: %w", selector, err)
	}
	return res.Value.Bool(), nil
}

// ScrollToText finds the first element whose rendered text contains
// substr and scrolls it into the viewport center. The search runs over
// currently rendered nodes only, which is exactly what the listing
// fast path needs.
func (d *RodDriver) ScrollToText(ctx context.Context, substr string) (bool, error) {
	p := d.pageCtx(ctx, defaultOpTimeout)
	pattern := "/" + regexp.QuoteMeta(substr) + "/"
	has, el, err := p.HasR("*", pattern)
	if err != nil {
		return false, fmt.Errorf("search text %q: %w", substr, err)
	}
	if !has {
		return false, nil
	}
	visible, err := el.Visible()
	if err != nil || !visible {
		return false, err
	}
	if err := el.ScrollIntoView(); err != nil {
		return false, fmt.Errorf("scroll %q into view: %w", substr, err)
	}
	return true, nil
}

func (d *RodDriver) Click(ctx context.Context, selector string) error {
	el, err := d.pageCtx(ctx, defaultOpTimeout).Element(selector)
	if err != nil {
		return portalerr.Wrap(portalerr.KindElementNotFound, err, "element %s", selector)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return portalerr.Wrap(portalerr.KindClickIntercepted, err, "click %s", selector)
	}
	return nil
}

// ClickJS dispatches a DOM click() directly, bypassing hit testing. The
// portal's material checkboxes intercept pointer clicks inconsistently;
// this is the scripted leg of the fallback chain.
func (d *RodDriver) ClickJS(ctx context.Context, selector string) error {
	el, err := d.pageCtx(ctx, defaultOpTimeout).Element(selector)
	if err != nil {
		return portalerr.Wrap(portalerr.KindElementNotFound, err, "element %s", selector)
	}
	if _, err := el.Eval(`() => this.click()`); err != nil {
		return portalerr.Wrap(portalerr.KindClickIntercepted, err, "js click %s", selector)
	}
	return nil
}

// ClickByText clicks the first element matching selector whose exact
// trimmed text equals text. Returns false when no candidate matches.
func (d *RodDriver) ClickByText(ctx context.Context, selector, text string) (bool, error) {
	p := d.pageCtx(ctx, defaultOpTimeout)
	els, err := p.Elements(selector)
	if err != nil {
		return false, fmt.Errorf("elements %s: %w", selector, err)
	}
	for _, el := range els {
		t, err := el.Text()
		if err != nil {
			continue
		}
		if strings.TrimSpace(t) == text {
			if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return false, portalerr.Wrap(portalerr.KindClickIntercepted, err, "click %q", text)
			}
			return true, nil
		}
	}
	return false, nil
}

// TypePaced focuses the element and types text one rune at a time with a
// 50-250ms jitter per keystroke. The portal's login form rejects input
// that arrives faster than a human could type it.
func (d *RodDriver) TypePaced(ctx context.Context, selector, text string) error {
	p := d.pageCtx(ctx, time.Duration(len(text))*time.Second+defaultOpTimeout)
	el, err := p.Element(selector)
	if err != nil {
		return portalerr.Wrap(portalerr.KindElementNotFound, err, "element %s", selector)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return portalerr.Wrap(portalerr.KindClickIntercepted, err, "focus %s", selector)
	}
	for _, r := range text {
		if err := p.InsertText(string(r)); err != nil {
			return fmt.Errorf("type into %s: %w", selector, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(keystrokeDelay()):
		}
	}
	return nil
}

func keystrokeDelay() time.Duration {
	return time.Duration(50+rand.Intn(200)) * time.Millisecond
}

func (d *RodDriver) SendKeys(ctx context.Context, keys ...Key) error {
	p := d.pageCtx(ctx, defaultOpTimeout)
	for _, k := range keys {
		var key input.Key
		switch k {
		case KeyDown:
			key = input.ArrowDown
		case KeyPageDown:
			key = input.PageDown
		case KeyEnter:
			key = input.Enter
		case KeyTab:
			key = input.Tab
		default:
			return fmt.Errorf("unknown key %q", k)
		}
		if err := p.Keyboard.Type(key); err != nil {
			return fmt.Errorf("send key %q: %w", k, err)
		}
	}
	return nil
}

// ScrollBy adjusts scrollTop and fires synthetic scroll and wheel events
// on the container.
func (d *RodDriver) ScrollBy(ctx context.Context, selector string, pixels int) error {
	el, err := d.pageCtx(ctx, defaultOpTimeout).Element(selector)
	if err != nil {
		return portalerr.Wrap(portalerr.KindElementNotFound, err, "element %s", selector)
	}
	js := fmt.Sprintf(`() => {
		this.scrollTop += %d;
		this.dispatchEvent(new Event("scroll", {bubbles: true}));
		this.dispatchEvent(new WheelEvent("wheel", {deltaY: %d, bubbles: true}));
	}`, pixels, pixels)
	if _, err := el.Eval(js); err != nil {
		return fmt.Errorf("scroll %s: %w", selector, err)
	}
	return nil
}

func (d *RodDriver) Eval(ctx context.Context, js string) (string, error) {
	res, err := d.pageCtx(ctx, defaultOpTimeout).Eval(js)
	if err != nil {
		return "", fmt.Errorf("eval: %w", err)
	}
	return res.Value.String(), nil
}

// SetDownloadDir points the browser's download behavior at an absolute
// path. Must be called before triggering an export; downloads land in
// the per-session directory.
func (d *RodDriver) SetDownloadDir(ctx context.Context, dir string) error {
	err := proto.BrowserSetDownloadBehavior{
		Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath: dir,
	}.Call(d.browser.Context(ctx))
	if err != nil {
		return fmt.Errorf("set download dir: %w", err)
	}
	return nil
}

func (d *RodDriver) Screenshot(ctx context.Context, path string) error {
	data, err := d.pageCtx(ctx, defaultOpTimeout).Screenshot(false, nil)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

func (d *RodDriver) ProfileDir() string { return d.profileDir }

// Close shuts the browser down and removes its profile directory.
func (d *RodDriver) Close() error {
	err := d.browser.Close()
	if d.profileDir != "" {
		if rmErr := os.RemoveAll(d.profileDir); rmErr != nil {
			logger := log.WithComponent("browser")
			logger.Warn().Err(rmErr).
				Str("path", d.profileDir).Msg("failed to remove profile dir")
		}
	}
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
