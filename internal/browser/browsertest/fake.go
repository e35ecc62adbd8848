// SPDX-License-Identifier: MIT

// Package browsertest provides a scriptable in-memory browser.Driver for
// engine tests. Behavior defaults to benign success; tests override the
// pieces they care about via the maps and hooks.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/harborlink/portalgate/internal/browser"
)

// Call records one driver invocation for assertion.
type Call struct {
	Method string
	Args   []string
}

// Fake implements browser.Driver. Zero value is usable: every operation
// succeeds, every element exists and is visible, every text is empty.
type Fake struct {
	mu    sync.Mutex
	calls []Call

	// URL is returned by CurrentURL and updated by Navigate.
	URL string

	// Missing marks selectors that do not exist (Exists false, WaitVisible
	// and interactions fail).
	Missing map[string]bool

	// Hidden marks selectors that exist but are not visible.
	Hidden map[string]bool

	// Texts, Attrs, Checked, EvalResults script the query methods.
	Texts       map[string]string
	Attrs       map[string]map[string]string
	Checked     map[string]bool
	EvalResults map[string]string

	// TextHits scripts ScrollToText: substr -> found.
	TextHits map[string]bool

	// Errs forces an error for a method name ("Click", "Navigate", ...).
	Errs map[string]error

	// Hooks run before the default behavior; a non-nil hook replaces it.
	OnNavigate    func(url string) error
	OnClick       func(selector string) error
	OnScrollBy    func(selector string, pixels int) error
	OnTypePaced   func(selector, text string) error
	OnEval        func(js string) (string, error)
	OnClickByText func(selector, text string) (bool, error)

	Profile     string
	DownloadDir string
	Closed      bool
}

var _ browser.Driver = (*Fake)(nil)

func (f *Fake) record(method string, args ...string) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
	f.mu.Unlock()
}

// Calls returns a copy of the recorded call log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts invocations of one method.
func (f *Fake) CallCount(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (f *Fake) err(method string) error {
	if f.Errs == nil {
		return nil
	}
	return f.Errs[method]
}

func (f *Fake) Navigate(_ context.Context, url string) error {
	f.record("Navigate", url)
	if f.OnNavigate != nil {
		return f.OnNavigate(url)
	}
	if err := f.err("Navigate"); err != nil {
		return err
	}
	f.mu.Lock()
	f.URL = url
	f.mu.Unlock()
	return nil
}

func (f *Fake) CurrentURL(_ context.Context) (string, error) {
	f.record("CurrentURL")
	if err := f.err("CurrentURL"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.URL, nil
}

func (f *Fake) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	f.record("WaitVisible", selector)
	if err := f.err("WaitVisible"); err != nil {
		return err
	}
	if f.Missing[selector] || f.Hidden[selector] {
		return fmt.Errorf("element %s not visible", selector)
	}
	return nil
}

func (f *Fake) Exists(_ context.Context, selector string) (bool, error) {
	f.record("Exists", selector)
	if err := f.err("Exists"); err != nil {
		return false, err
	}
	return !f.Missing[selector], nil
}

func (f *Fake) Visible(_ context.Context, selector string) (bool, error) {
	f.record("Visible", selector)
	if err := f.err("Visible"); err != nil {
		return false, err
	}
	return !f.Missing[selector] && !f.Hidden[selector], nil
}

func (f *Fake) Text(_ context.Context, selector string) (string, error) {
	f.record("Text", selector)
	if err := f.err("Text"); err != nil {
		return "", err
	}
	if f.Missing[selector] {
		return "", fmt.Errorf("element %s not found", selector)
	}
	return f.Texts[selector], nil
}

func (f *Fake) Attribute(_ context.Context, selector, name string) (string, error) {
	f.record("Attribute", selector, name)
	if err := f.err("Attribute"); err != nil {
		return "", err
	}
	if attrs, ok := f.Attrs[selector]; ok {
		return attrs[name], nil
	}
	return "", nil
}

func (f *Fake) IsChecked(_ context.Context, selector string) (bool, error) {
	f.record("IsChecked", selector)
	if err := f.err("IsChecked"); err != nil {
		return false, err
	}
	return f.Checked[selector], nil
}

func (f *Fake) ScrollToText(_ context.Context, substr string) (bool, error) {
	f.record("ScrollToText", substr)
	if err := f.err("ScrollToText"); err != nil {
		return false, err
	}
	return f.TextHits[substr], nil
}

func (f *Fake) Click(_ context.Context, selector string) error {
	f.record("Click", selector)
	if f.OnClick != nil {
		return f.OnClick(selector)
	}
	if err := f.err("Click"); err != nil {
		return err
	}
	if f.Missing[selector] {
		return fmt.Errorf("element %s not found", selector)
	}
	return nil
}

func (f *Fake) ClickJS(_ context.Context, selector string) error {
	f.record("ClickJS", selector)
	if err := f.err("ClickJS"); err != nil {
		return err
	}
	if f.Missing[selector] {
		return fmt.Errorf("element %s not found", selector)
	}
	return nil
}

func (f *Fake) ClickByText(_ context.Context, selector, text string) (bool, error) {
	f.record("ClickByText", selector, text)
	if f.OnClickByText != nil {
		return f.OnClickByText(selector, text)
	}
	if err := f.err("ClickByText"); err != nil {
		return false, err
	}
	return !f.Missing[selector], nil
}

func (f *Fake) TypePaced(_ context.Context, selector, text string) error {
	f.record("TypePaced", selector, text)
	if f.OnTypePaced != nil {
		return f.OnTypePaced(selector, text)
	}
	if err := f.err("TypePaced"); err != nil {
		return err
	}
	if f.Missing[selector] {
		return fmt.Errorf("element %s not found", selector)
	}
	return nil
}

func (f *Fake) SendKeys(_ context.Context, keys ...browser.Key) error {
	args := make([]string, len(keys))
	for i, k := range keys {
		args[i] = string(k)
	}
	f.record("SendKeys", args...)
	return f.err("SendKeys")
}

func (f *Fake) ScrollBy(_ context.Context, selector string, pixels int) error {
	f.record("ScrollBy", selector, fmt.Sprint(pixels))
	if f.OnScrollBy != nil {
		return f.OnScrollBy(selector, pixels)
	}
	if err := f.err("ScrollBy"); err != nil {
		return err
	}
	if f.Missing[selector] {
		return fmt.Errorf("element %s not found", selector)
	}
	return nil
}

func (f *Fake) Eval(_ context.Context, js string) (string, error) {
	f.record("Eval", js)
	if f.OnEval != nil {
		return f.OnEval(js)
	}
	if err := f.err("Eval"); err != nil {
		return "", err
	}
	return f.EvalResults[js], nil
}

func (f *Fake) SetDownloadDir(_ context.Context, dir string) error {
	f.record("SetDownloadDir", dir)
	if err := f.err("SetDownloadDir"); err != nil {
		return err
	}
	f.mu.Lock()
	f.DownloadDir = dir
	f.mu.Unlock()
	return nil
}

func (f *Fake) Screenshot(_ context.Context, path string) error {
	f.record("Screenshot", path)
	if err := f.err("Screenshot"); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (f *Fake) ProfileDir() string { return f.Profile }

func (f *Fake) Close() error {
	f.record("Close")
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return f.err("Close")
}
