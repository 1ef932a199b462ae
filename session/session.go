// Package session drives the external operator's multi-step login flow in
// a headless browser and harvests the resulting cookie set.
//
// Each Acquire call owns exactly one browser instance for its whole
// lifetime; the instance is released on every exit path, success or
// failure. A failed step captures a diagnostic screenshot before the
// browser goes away.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/plugwatch/browser"
	"github.com/hazyhaar/plugwatch/idgen"
)

// ErrLoginFailed is wrapped by every acquisition failure: a step timed
// out, a control was unreachable, or completion never materialized.
var ErrLoginFailed = errors.New("session: login failed")

// Selectors locates the login flow's controls. The defaults match the
// operator's current markup; they are configuration because the external
// site has shipped different skins before.
type Selectors struct {
	// Consent lists XPath candidates for cookie/consent banners, tried in
	// order, best-effort.
	Consent []string `yaml:"consent"`
	// EmailInput / EmailNext drive the identifier step.
	EmailInput string `yaml:"email_input"`
	EmailNext  string `yaml:"email_next"`
	// PasswordInput / PasswordNext drive the secret step.
	PasswordInput string `yaml:"password_input"`
	PasswordNext  string `yaml:"password_next"`
}

// DefaultSelectors returns the selectors for the operator's current login
// markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Consent: []string{
			"//button[contains(., 'Aceptar')]",
			"//button[contains(., 'Aceptar todas')]",
			"//button[contains(., 'Acepto')]",
			"//button[contains(., 'Consentir')]",
			"//*[@id='onetrust-accept-btn-handler']",
		},
		EmailInput:    "//input[@placeholder='Email']",
		EmailNext:     "//div[@class='outlet']//div[1]//div[2]//button[1]",
		PasswordInput: "//input[@placeholder='Contraseña']",
		PasswordNext:  "//body//app-root//div[2]//div[2]//button[1]",
	}
}

// Config configures the Engine.
type Config struct {
	// LoginURL is the entry point of the external login flow.
	LoginURL string
	// Selectors locate the flow's controls. Zero value = DefaultSelectors.
	Selectors Selectors
	// StepTimeout bounds each wait (element visible, control clickable,
	// completion marker). Default: 30s.
	StepTimeout time.Duration
	// SettleDelay absorbs trailing redirects after completion. Default: 2s.
	SettleDelay time.Duration
	// ScreenshotDir receives diagnostic screenshots of failed attempts.
	// Empty disables capture.
	ScreenshotDir string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Selectors.EmailInput == "" {
		c.Selectors = DefaultSelectors()
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine acquires authenticated sessions through credential-driven login
// automation.
type Engine struct {
	factory  browser.Factory
	cfg      Config
	shotName idgen.Generator
}

// New creates an Engine. The factory produces one owned browser instance
// per Acquire call.
func New(factory browser.Factory, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		factory:  factory,
		cfg:      cfg,
		shotName: idgen.Timestamped(idgen.NanoID(6)),
	}
}

// Acquire drives the login flow for one account and returns the full
// cookie set the browser holds after completion. Any step failure aborts
// the attempt and returns an error wrapping ErrLoginFailed.
func (e *Engine) Acquire(ctx context.Context, email, password string) ([]browser.Cookie, error) {
	log := e.cfg.Logger
	start := time.Now()

	pg, err := e.factory.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open browser: %v", ErrLoginFailed, err)
	}
	defer pg.Close()

	if err := e.run(ctx, pg, email, password); err != nil {
		e.captureDiagnostic(ctx, pg)
		return nil, err
	}

	cookies, err := pg.Cookies(ctx)
	if err != nil {
		e.captureDiagnostic(ctx, pg)
		return nil, fmt.Errorf("%w: harvest cookies: %v", ErrLoginFailed, err)
	}

	log.Info("session: acquired",
		"email", email, "cookies", len(cookies),
		"duration_ms", time.Since(start).Milliseconds())
	return cookies, nil
}

// run executes the sequential login state machine: NavigateLogin →
// EnterIdentifier → EnterSecret → AwaitCompletion.
func (e *Engine) run(ctx context.Context, pg browser.Page, email, password string) error {
	sel := e.cfg.Selectors

	// NavigateLogin
	if err := pg.Navigate(ctx, e.cfg.LoginURL); err != nil {
		return fmt.Errorf("%w: navigate login: %v", ErrLoginFailed, err)
	}
	e.dismissConsent(ctx, pg)

	// EnterIdentifier
	if err := pg.WaitVisible(ctx, browser.ByXPath, sel.EmailInput, e.cfg.StepTimeout); err != nil {
		return fmt.Errorf("%w: email input: %v", ErrLoginFailed, err)
	}
	if err := pg.Clear(ctx, browser.ByXPath, sel.EmailInput); err != nil {
		e.cfg.Logger.Debug("session: clear email input", "error", err)
	}
	if err := pg.Type(ctx, browser.ByXPath, sel.EmailInput, email); err != nil {
		return fmt.Errorf("%w: type email: %v", ErrLoginFailed, err)
	}
	if err := pg.Click(ctx, browser.ByXPath, sel.EmailNext, e.cfg.StepTimeout); err != nil {
		return fmt.Errorf("%w: email next: %v", ErrLoginFailed, err)
	}

	// EnterSecret
	if err := pg.WaitVisible(ctx, browser.ByXPath, sel.PasswordInput, e.cfg.StepTimeout); err != nil {
		return fmt.Errorf("%w: password input: %v", ErrLoginFailed, err)
	}
	if err := pg.Clear(ctx, browser.ByXPath, sel.PasswordInput); err != nil {
		e.cfg.Logger.Debug("session: clear password input", "error", err)
	}
	if err := pg.Type(ctx, browser.ByXPath, sel.PasswordInput, password); err != nil {
		return fmt.Errorf("%w: type password: %v", ErrLoginFailed, err)
	}
	if err := pg.Click(ctx, browser.ByXPath, sel.PasswordNext, e.cfg.StepTimeout); err != nil {
		return fmt.Errorf("%w: password next: %v", ErrLoginFailed, err)
	}

	// AwaitCompletion
	if err := e.awaitCompletion(ctx, pg); err != nil {
		return err
	}

	// Absorb trailing redirects before the harvest.
	select {
	case <-time.After(e.cfg.SettleDelay):
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLoginFailed, ctx.Err())
	}
	return nil
}

// dismissConsent clicks the first matching consent banner, if any. Absent
// banners are not an error.
func (e *Engine) dismissConsent(ctx context.Context, pg browser.Page) {
	for _, xp := range e.cfg.Selectors.Consent {
		if err := pg.Click(ctx, browser.ByXPath, xp, 2*time.Second); err == nil {
			e.cfg.Logger.Debug("session: consent dismissed", "selector", xp)
			return
		}
	}
}

// awaitCompletion polls until the page has left the login URL or a cookie
// whose name contains "session" has appeared, bounded by StepTimeout.
func (e *Engine) awaitCompletion(ctx context.Context, pg browser.Page) error {
	deadline := time.Now().Add(e.cfg.StepTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if url, err := pg.URL(ctx); err == nil && url != e.cfg.LoginURL {
			return nil
		}
		if cookies, err := pg.Cookies(ctx); err == nil {
			for _, c := range cookies {
				if strings.Contains(strings.ToLower(c.Name), "session") {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: completion marker not seen within %s", ErrLoginFailed, e.cfg.StepTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrLoginFailed, ctx.Err())
		case <-ticker.C:
		}
	}
}

// captureDiagnostic saves a screenshot of the failed attempt. Best-effort:
// a failing capture is logged and forgotten, never masks the login error.
func (e *Engine) captureDiagnostic(ctx context.Context, pg browser.Page) {
	if e.cfg.ScreenshotDir == "" {
		return
	}
	path := filepath.Join(e.cfg.ScreenshotDir, "login_error_"+e.shotName()+".png")
	if err := pg.Screenshot(ctx, path); err != nil {
		e.cfg.Logger.Warn("session: diagnostic screenshot failed", "error", err)
		return
	}
	e.cfg.Logger.Info("session: diagnostic screenshot captured", "path", path)
}
