// SPDX-License-Identifier: MIT

// Package browser wraps the headless browser behind a narrow Driver
// interface so the engines (and their tests) never depend on the CDP
// client directly.
package browser

import (
	"context"
	"time"
)

// Key identifies a keyboard key for fallback scrolling.
type Key string

const (
	KeyDown     Key = "down"
	KeyPageDown Key = "page_down"
	KeyEnter    Key = "enter"
	KeyTab      Key = "tab"
)

// Driver is the operation surface the engines drive. Every method takes a
// context and observes an internal per-operation deadline; failures come
// back classified where the driver can tell (navigation timeout,
// element not found, click intercepted).
type Driver interface {
	// Navigation
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)

	// Element queries
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Exists(ctx context.Context, selector string) (bool, error)
	Visible(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	IsChecked(ctx context.Context, selector string) (bool, error)

	// Text-node search: scrolls the first element whose rendered text
	// contains substr into the viewport center. Returns false when no
	// such element is currently rendered.
	ScrollToText(ctx context.Context, substr string) (bool, error)

	// Interaction
	Click(ctx context.Context, selector string) error
	ClickJS(ctx context.Context, selector string) error
	ClickByText(ctx context.Context, selector, text string) (bool, error)
	TypePaced(ctx context.Context, selector, text string) error
	SendKeys(ctx context.Context, keys ...Key) error

	// ScrollBy scrolls the container by the given pixel delta and
	// dispatches synthetic scroll and wheel events; virtual-list widgets
	// listen for the events, not the property change.
	ScrollBy(ctx context.Context, selector string, pixels int) error

	// Eval runs a JS expression in the page and returns its string value.
	Eval(ctx context.Context, js string) (string, error)

	// Artifacts
	SetDownloadDir(ctx context.Context, dir string) error
	Screenshot(ctx context.Context, path string) error

	// Lifecycle
	ProfileDir() string
	Close() error
}
