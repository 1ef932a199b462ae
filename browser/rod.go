package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodFactory launches a fresh headless Chrome per Open call via Rod.
type RodFactory struct {
	cfg Config
}

// NewFactory creates a RodFactory.
func NewFactory(cfg Config) *RodFactory {
	cfg.defaults()
	return &RodFactory{cfg: cfg}
}

// Open launches Chrome, connects, and returns a stealth page. The caller
// owns the returned Page and must Close it; Close terminates the Chrome
// process.
func (f *RodFactory) Open(ctx context.Context) (Page, error) {
	l := launcher.New().
		Headless(*f.cfg.Headless).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", fmt.Sprintf("%d,%d", f.cfg.WindowWidth, f.cfg.WindowHeight))

	wsURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	var page *rod.Page
	if *f.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	f.cfg.Logger.Debug("browser: instance opened", "ws", wsURL, "headless", *f.cfg.Headless)

	return &rodPage{cfg: f.cfg, lnch: l, browser: b, page: page}, nil
}

// rodPage implements Page over one exclusively-owned Chrome process.
type rodPage struct {
	cfg     Config
	lnch    *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx).Timeout(p.cfg.PageLoadTimeout)
	if err := pg.Navigate(url); err != nil {
		return wrapTimeout(fmt.Errorf("browser: navigate %s: %w", url, err))
	}
	// Load event is best-effort: SPAs keep streaming after it and some
	// never fire it under resource pressure.
	if err := pg.WaitLoad(); err != nil {
		p.cfg.Logger.Debug("browser: wait load", "url", url, "error", err)
	}
	return nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

func (p *rodPage) WaitVisible(ctx context.Context, by By, sel string, timeout time.Duration) error {
	el, err := p.waitElement(ctx, by, sel, timeout)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return wrapTimeout(fmt.Errorf("browser: wait visible %q: %w", sel, err))
	}
	return nil
}

func (p *rodPage) Click(ctx context.Context, by By, sel string, timeout time.Duration) error {
	el, err := p.waitElement(ctx, by, sel, timeout)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return wrapTimeout(fmt.Errorf("browser: wait clickable %q: %w", sel, err))
	}
	if err := el.ScrollIntoView(); err != nil {
		p.cfg.Logger.Debug("browser: scroll into view", "sel", sel, "error", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return wrapTimeout(fmt.Errorf("browser: click %q: %w", sel, err))
	}
	return nil
}

func (p *rodPage) Clear(ctx context.Context, by By, sel string) error {
	el, err := p.firstElement(ctx, by, sel)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err == nil {
		if err := el.Input(""); err == nil {
			return nil
		}
	}
	// Fallback: keyboard select-all + delete.
	if err := el.Type(input.ControlLeft, input.KeyA); err != nil {
		return fmt.Errorf("browser: clear %q: %w", sel, err)
	}
	if err := el.Type(input.Delete); err != nil {
		return fmt.Errorf("browser: clear %q: %w", sel, err)
	}
	return nil
}

func (p *rodPage) Type(ctx context.Context, by By, sel, text string) error {
	el, err := p.firstElement(ctx, by, sel)
	if err != nil {
		return err
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("browser: type into %q: %w", sel, err)
	}
	return nil
}

func (p *rodPage) Text(ctx context.Context, by By, sel string) (string, bool, error) {
	els, err := p.elements(ctx, by, sel)
	if err != nil {
		return "", false, err
	}
	for _, el := range els {
		t, err := el.Text()
		if err != nil {
			continue
		}
		if t = strings.TrimSpace(t); t != "" {
			return t, true, nil
		}
	}
	return "", false, nil
}

func (p *rodPage) Attribute(ctx context.Context, by By, sel, name string) (string, bool, error) {
	els, err := p.elements(ctx, by, sel)
	if err != nil {
		return "", false, err
	}
	if len(els) == 0 {
		return "", false, nil
	}
	val, err := els[0].Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("browser: attribute %s of %q: %w", name, sel, err)
	}
	if val == nil {
		return "", false, nil
	}
	return *val, true, nil
}

func (p *rodPage) Attributes(ctx context.Context, by By, sel, name string) ([]string, error) {
	els, err := p.elements(ctx, by, sel)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, el := range els {
		val, err := el.Attribute(name)
		if err != nil || val == nil {
			continue
		}
		out = append(out, *val)
	}
	return out, nil
}

func (p *rodPage) AncestorAttribute(ctx context.Context, by By, sel, ancestorTag, name string, maxHops int) (string, bool, error) {
	els, err := p.elements(ctx, by, sel)
	if err != nil {
		return "", false, err
	}
	if len(els) == 0 {
		return "", false, nil
	}
	el := els[0]
	for hop := 0; hop < maxHops; hop++ {
		parent, err := el.Parent()
		if err != nil {
			return "", false, nil
		}
		el = parent
		tag, err := el.Eval(`() => this.tagName.toLowerCase()`)
		if err != nil {
			return "", false, nil
		}
		if tag.Value.Str() == strings.ToLower(ancestorTag) {
			val, err := el.Attribute(name)
			if err != nil || val == nil {
				return "", false, nil
			}
			return *val, true, nil
		}
	}
	return "", false, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: serialize DOM: %w", err)
	}
	return html, nil
}

func (p *rodPage) Cookies(ctx context.Context) ([]Cookie, error) {
	raw, err := p.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		ck := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		}
		// Chrome reports -1 for session cookies.
		if c.Expires > 0 {
			exp := int64(c.Expires)
			ck.Expiry = &exp
		}
		out = append(out, ck)
	}
	return out, nil
}

func (p *rodPage) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		cp := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expiry != nil {
			cp.Expires = proto.TimeSinceEpoch(*c.Expiry)
		}
		params = append(params, cp)
	}
	if err := p.browser.Context(ctx).SetCookies(params); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}

func (p *rodPage) Screenshot(ctx context.Context, path string) error {
	data, err := p.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return fmt.Errorf("browser: screenshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("browser: write screenshot: %w", err)
	}
	return nil
}

// Close releases the page, the browser connection, and the Chrome process.
// Safe to call on every exit path; errors are logged, not propagated, so
// deferred cleanup never masks the real failure.
func (p *rodPage) Close() error {
	if p.page != nil {
		if err := p.page.Close(); err != nil {
			p.cfg.Logger.Debug("browser: close page", "error", err)
		}
		p.page = nil
	}
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			p.cfg.Logger.Debug("browser: close browser", "error", err)
		}
		p.browser = nil
	}
	if p.lnch != nil {
		p.lnch.Cleanup()
		p.lnch = nil
	}
	return nil
}

// waitElement resolves the first element matching sel, waiting up to timeout
// for it to appear.
func (p *rodPage) waitElement(ctx context.Context, by By, sel string, timeout time.Duration) (*rod.Element, error) {
	pg := p.page.Context(ctx)
	if timeout > 0 {
		pg = pg.Timeout(timeout)
	}
	var el *rod.Element
	var err error
	if by == ByXPath {
		el, err = pg.ElementX(sel)
	} else {
		el, err = pg.Element(sel)
	}
	if err != nil {
		return nil, wrapTimeout(fmt.Errorf("browser: element %q: %w", sel, err))
	}
	return el, nil
}

// firstElement resolves the first current match without waiting.
func (p *rodPage) firstElement(ctx context.Context, by By, sel string) (*rod.Element, error) {
	els, err := p.elements(ctx, by, sel)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("browser: no element matches %q", sel)
	}
	return els[0], nil
}

// elements returns all current matches without waiting.
func (p *rodPage) elements(ctx context.Context, by By, sel string) (rod.Elements, error) {
	pg := p.page.Context(ctx)
	var els rod.Elements
	var err error
	if by == ByXPath {
		els, err = pg.ElementsX(sel)
	} else {
		els, err = pg.Elements(sel)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: elements %q: %w", sel, err)
	}
	return els, nil
}

func wrapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
