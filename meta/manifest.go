// Package meta extracts descriptive fields (name, location, connector
// type, power, price) from Point and Connector pages through a declarative
// per-field manifest of locator strategies with ordered fallbacks.
//
// A field that yields no text from any strategy is absent, never an
// error: the external markup drifts and extraction is best-effort.
package meta

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/plugwatch/browser"
)

// Strategy attempts to produce the raw text of one field. Strategies are
// tried in manifest order; the first non-empty text wins. A strategy never
// errors — it either yields text or reports absence.
type Strategy interface {
	Attempt(ctx context.Context, pg browser.Page, doc *goquery.Document) (string, bool)
}

// CSS yields the first non-empty element text matching a CSS selector on
// the live page.
type CSS struct {
	Sel string
}

func (s CSS) Attempt(ctx context.Context, pg browser.Page, _ *goquery.Document) (string, bool) {
	text, ok, err := pg.Text(ctx, browser.ByCSS, s.Sel)
	if err != nil || !ok {
		return "", false
	}
	return text, true
}

// XPath yields the first non-empty element text matching an XPath on the
// live page. Used for structural paths CSS cannot express.
type XPath struct {
	Sel string
}

func (s XPath) Attempt(ctx context.Context, pg browser.Page, _ *goquery.Document) (string, bool) {
	text, ok, err := pg.Text(ctx, browser.ByXPath, s.Sel)
	if err != nil || !ok {
		return "", false
	}
	return text, true
}

// Scan is the free-text fallback: it walks the serialized DOM for the
// first element whose own text matches a pattern. Sel narrows the scan;
// empty means the whole document.
type Scan struct {
	Sel string
	Rx  *regexp.Regexp
}

func (s Scan) Attempt(_ context.Context, _ browser.Page, doc *goquery.Document) (string, bool) {
	if doc == nil {
		return "", false
	}
	sel := s.Sel
	if sel == "" {
		sel = "*"
	}
	var found string
	doc.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		name := goquery.NodeName(el)
		if name == "script" || name == "style" {
			return true
		}
		text := strings.TrimSpace(el.Text())
		if text == "" {
			return true
		}
		if s.Rx == nil || s.Rx.MatchString(text) {
			found = text
			return false
		}
		return true
	})
	return found, found != ""
}

// Field is one manifest entry: a named field with its ordered fallback
// strategies.
type Field struct {
	Name       string
	Strategies []Strategy
}

// Field names shared by the manifests and the extractor.
const (
	FieldName     = "name"
	FieldAddress  = "address"
	FieldProvider = "provider"
	FieldMaxPower = "max_power"
	FieldType     = "type"
	FieldPower    = "power"
	FieldPrice    = "price"
)

// DefaultPointManifest describes the Point page fields on the operator's
// current markup.
func DefaultPointManifest() []Field {
	return []Field{
		{FieldName, []Strategy{
			CSS{"h1"},
			CSS{"h2, .title, .station-name"},
		}},
		{FieldAddress, []Strategy{
			CSS{"[class*='address'], .address, .location"},
		}},
		{FieldProvider, []Strategy{
			XPath{"//*[contains(translate(.,'OPERADOR','operador'),'operador') or contains(translate(.,'PROVEEDOR','proveedor'),'proveedor')]/following::*[1]"},
			CSS{"[class*='provider'], [class*='operator']"},
		}},
		{FieldMaxPower, []Strategy{
			Scan{Rx: rxKW},
		}},
	}
}

// DefaultConnectorManifest describes the Connector page fields.
func DefaultConnectorManifest() []Field {
	return []Field{
		{FieldType, []Strategy{
			CSS{"lib-plug-card .plug-name, .connector, .type, [class*='tipo']"},
		}},
		{FieldPower, []Strategy{
			Scan{Rx: rxKW},
		}},
		{FieldPrice, []Strategy{
			CSS{".price, .tariff, .pricing, lib-price, [class*='precio']"},
			Scan{Rx: rxPriceHint},
		}},
	}
}
