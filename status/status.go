// Package status classifies a loaded connector page into a fixed status
// vocabulary through an ordered cascade of heuristic detectors.
//
// The cascade is best-effort by design: the external site's markup drifts,
// so an unrecognized page degrades to Desconocido instead of failing.
// Desconocido is a valid outcome, not an error.
package status

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/plugwatch/browser"
)

// Status is one value of the fixed classification vocabulary.
type Status string

const (
	Libre        Status = "Libre"
	Ocupado      Status = "Ocupado"
	Reservado    Status = "Reservado"
	NoDisponible Status = "No disponible"
	Averiado     Status = "Averiado"
	Desconocido  Status = "Desconocido"
)

// HintNone is the raw hint recorded when no detector matched.
const HintNone = "none"

// ClassRule maps a class token to a status. Declaration order is match
// precedence.
type ClassRule struct {
	Token  string
	Status Status
}

// TextRule maps a lower-case phrase to a status. Declaration order is
// match precedence — first declared phrase wins even if another phrase
// appears earlier in the document.
type TextRule struct {
	Phrase string
	Status Status
}

// Skin is one immutable, versioned detector table set for a UI variant of
// the external site. Multiple skins can be tested side by side; the
// classifier never mutates its skin.
type Skin struct {
	Name string

	// RootMarker is a CSS selector whose presence means the component
	// tree has rendered. Waiting for it avoids classifying a pre-render
	// placeholder as Desconocido.
	RootMarker string

	// IndicatorSelector locates the status-indicator widget inside the
	// status region; IndicatorFallback relocates it anywhere on the page.
	IndicatorSelector string
	IndicatorFallback string

	ClassRules []ClassRule
	TextRules  []TextRule
}

// DefaultSkin covers the operator's current markup. The class table keeps
// both dark and light variants of each color family because the external
// UI has shipped both historically.
func DefaultSkin() Skin {
	return Skin{
		Name:              "ptp-2024",
		RootMarker:        "app-charging-stations, lib-plug-card, lib-status-indicator",
		IndicatorSelector: ".status lib-status-indicator",
		IndicatorFallback: "lib-status-indicator",
		ClassRules: []ClassRule{
			{"light-green-pulse", Libre},
			{"s-light-green", Libre},
			{"s-dark-green", Libre},
			{"s-success", Libre},
			{"light-blue-pulse", Ocupado},
			{"s-light-blue", Ocupado},
			{"s-dark-blue", Ocupado},
			{"danger", Ocupado},
			{"s-orange", Reservado},
			{"s-dark-orange", Reservado},
			{"orange", Reservado},
			{"warning", Reservado},
			{"s-grey", NoDisponible},
			{"s-gray", NoDisponible},
			{"s-dark-grey", NoDisponible},
			{"s-dark-gray", NoDisponible},
			{"grey", NoDisponible},
			{"gray", NoDisponible},
			{"error", Averiado},
			{"fault", Averiado},
		},
		TextRules: []TextRule{
			{"libre", Libre},
			{"ocupado", Ocupado},
			{"reservado", Reservado},
			{"no disponible", NoDisponible},
			{"averiado", Averiado},
			{"fuera de servicio", Averiado},
		},
	}
}

// Classifier runs the detector cascade against a loaded page.
type Classifier struct {
	skin       Skin
	markerWait time.Duration
	logger     *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMarkerWait bounds the non-fatal wait for the skin's root marker.
// Default: 12s.
func WithMarkerWait(d time.Duration) Option {
	return func(c *Classifier) { c.markerWait = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// NewClassifier creates a Classifier bound to one skin.
func NewClassifier(skin Skin, opts ...Option) *Classifier {
	c := &Classifier{
		skin:       skin,
		markerWait: 12 * time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify returns the connector's live status and a hint naming the
// detector that matched ("indicator:<token>", "class:<token>",
// "text:<phrase>", or "none"). An unrecognizable or unreadable page
// degrades to (Desconocido, "none"), nil.
//
// Detectors run in strict priority order, first hit wins:
//  1. indicator widget class
//  2. any element class, page-wide
//  3. free text, phrase precedence by declaration order
func (c *Classifier) Classify(ctx context.Context, pg browser.Page) (Status, string, error) {
	// Let the component tree render before reading it. Timeout here is
	// non-fatal: the cascade still runs and degrades to Desconocido.
	if c.skin.RootMarker != "" {
		if err := pg.WaitVisible(ctx, browser.ByCSS, c.skin.RootMarker, c.markerWait); err != nil {
			c.logger.Warn("status: root marker not seen", "skin", c.skin.Name, "error", err)
		}
	}

	if st, hint, ok := c.byIndicator(ctx, pg); ok {
		return st, hint, nil
	}

	html, err := pg.HTML(ctx)
	if err != nil {
		c.logger.Warn("status: DOM read failed", "error", err)
		return Desconocido, HintNone, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		c.logger.Warn("status: DOM parse failed", "error", err)
		return Desconocido, HintNone, nil
	}

	if st, hint, ok := c.byClass(doc); ok {
		return st, hint, nil
	}
	if st, hint, ok := c.byText(doc); ok {
		return st, hint, nil
	}
	return Desconocido, HintNone, nil
}

// byIndicator reads the class attribute of the status-indicator widget,
// preferring the one inside the status region.
func (c *Classifier) byIndicator(ctx context.Context, pg browser.Page) (Status, string, bool) {
	for _, sel := range []string{c.skin.IndicatorSelector, c.skin.IndicatorFallback} {
		if sel == "" {
			continue
		}
		class, ok, err := pg.Attribute(ctx, browser.ByCSS, sel, "class")
		if err != nil || !ok {
			continue
		}
		for _, rule := range c.skin.ClassRules {
			if strings.Contains(class, rule.Token) {
				return rule.Status, "indicator:" + rule.Token, true
			}
		}
	}
	return "", "", false
}

// byClass scans every element class attribute for a recognized token.
func (c *Classifier) byClass(doc *goquery.Document) (Status, string, bool) {
	var classes []string
	doc.Find("[class]").Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("class"); ok {
			classes = append(classes, v)
		}
	})
	for _, rule := range c.skin.ClassRules {
		for _, class := range classes {
			if strings.Contains(class, rule.Token) {
				return rule.Status, "class:" + rule.Token, true
			}
		}
	}
	return "", "", false
}

// byText joins every non-empty text node, lower-cased, and looks for the
// skin's phrases. Precedence is declaration order, not document order —
// preserved for compatibility with the operator's established behavior.
func (c *Classifier) byText(doc *goquery.Document) (Status, string, bool) {
	joined := collectText(doc)
	for _, rule := range c.skin.TextRules {
		if strings.Contains(joined, rule.Phrase) {
			return rule.Status, "text:" + rule.Phrase, true
		}
	}
	return "", "", false
}

// collectText gathers the trimmed, lower-cased text nodes of the document,
// skipping script and style content.
func collectText(doc *goquery.Document) string {
	var parts []string
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, n *goquery.Selection) {
			switch goquery.NodeName(n) {
			case "script", "style":
				return
			case "#text":
				if t := strings.TrimSpace(n.Text()); t != "" {
					parts = append(parts, strings.ToLower(t))
				}
			default:
				walk(n)
			}
		})
	}
	walk(doc.Selection)
	return strings.Join(parts, " | ")
}
