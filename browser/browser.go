// Package browser owns the Chrome control surface used by the session and
// extraction engines. It launches one headless Chrome per call through a
// Factory; the returned Instance is exclusively owned by its caller and must
// be released with Close on every exit path. No instance is ever shared or
// reused across calls.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// By selects the locator language for element lookups.
type By int

const (
	ByCSS By = iota
	ByXPath
)

// Cookie is the normalized browser cookie exchanged between the session
// engine, the cookie store, and session priming.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expiry   *int64 // unix seconds, nil = session cookie
	Secure   bool
	HTTPOnly bool
	SameSite string // Lax | Strict | None | ""
}

// ErrTimeout is returned (wrapped) when a bounded wait expires before its
// condition is met.
var ErrTimeout = errors.New("browser: wait timed out")

// IsTimeout reports whether err is a bounded-wait or context deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Page is the capability set the engines consume. Any automation backend
// implementing it is substitutable; the production implementation is Rod
// over headless Chrome.
type Page interface {
	// Navigate loads the URL and waits (best-effort) for the load event.
	Navigate(ctx context.Context, url string) error
	// URL returns the current page URL.
	URL(ctx context.Context) (string, error)

	// WaitVisible blocks until an element matching sel is visible, bounded
	// by timeout.
	WaitVisible(ctx context.Context, by By, sel string, timeout time.Duration) error
	// Click waits for the element to be interactable, then clicks it.
	Click(ctx context.Context, by By, sel string, timeout time.Duration) error
	// Clear empties an input, falling back to select-all + delete.
	Clear(ctx context.Context, by By, sel string) error
	// Type sends text into the first element matching sel.
	Type(ctx context.Context, by By, sel, text string) error

	// Text returns the trimmed text of the first matching element that has
	// any; ok is false when no match yields text.
	Text(ctx context.Context, by By, sel string) (text string, ok bool, err error)
	// Attribute returns the named attribute of the first match.
	Attribute(ctx context.Context, by By, sel, name string) (val string, ok bool, err error)
	// Attributes returns the named attribute of every match that has it.
	Attributes(ctx context.Context, by By, sel, name string) ([]string, error)
	// AncestorAttribute walks up from the first match, at most maxHops
	// parents, and returns the named attribute of the nearest ancestor
	// whose tag equals ancestorTag.
	AncestorAttribute(ctx context.Context, by By, sel, ancestorTag, name string, maxHops int) (val string, ok bool, err error)
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error

	// Screenshot captures the viewport to a PNG file at path.
	Screenshot(ctx context.Context, path string) error

	// Close releases the page and the Chrome process backing it.
	Close() error
}

// Config configures the Factory.
type Config struct {
	// Headless disables the visible browser window. Default: true.
	Headless *bool
	// WindowWidth/WindowHeight avoid mobile layouts and overlay variants.
	// Default: 1200x900.
	WindowWidth  int
	WindowHeight int
	// PageLoadTimeout bounds Navigate. Default: 60s.
	PageLoadTimeout time.Duration
	// Stealth applies the stealth evasion script to every page. Default: true.
	Stealth *bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Headless == nil {
		t := true
		c.Headless = &t
	}
	if c.Stealth == nil {
		t := true
		c.Stealth = &t
	}
	if c.WindowWidth <= 0 {
		c.WindowWidth = 1200
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = 900
	}
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Factory produces exclusively-owned browser instances, one per extraction
// or login call.
type Factory interface {
	Open(ctx context.Context) (Page, error)
}
