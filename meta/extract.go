package meta

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/plugwatch/browser"
)

// maxAncestorHops bounds the directions-control parent walk so the
// coordinate fallback stays deterministic and cheap.
const maxAncestorHops = 5

// PointFields is the extracted descriptive snapshot of a Point page.
// Nil fields were absent on the page.
type PointFields struct {
	Name           *string
	Address        *string
	Provider       *string
	Lat            *float64
	Lng            *float64
	ConnectorCount *int
	MaxPowerKW     *float64
}

// ConnectorFields is the extracted descriptive snapshot of a Connector page.
type ConnectorFields struct {
	Type        *string
	PowerKW     *float64
	PriceText   *string
	PricePerKWh *float64
	TariffModel *string
}

// Config configures the Extractor.
type Config struct {
	// PointManifest / ConnectorManifest override the default field
	// manifests.
	PointManifest     []Field
	ConnectorManifest []Field
	// RootMarker is waited for (bounded, non-fatal) before extraction.
	RootMarker string
	// MarkerWait bounds that wait. Default: 15s.
	MarkerWait time.Duration
	// DirectionsSelector locates the "directions" control the coordinate
	// derivation starts from.
	DirectionsSelector string
	// ConnectorCardSelector counts the visible connector cards of a point.
	ConnectorCardSelector string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PointManifest == nil {
		c.PointManifest = DefaultPointManifest()
	}
	if c.ConnectorManifest == nil {
		c.ConnectorManifest = DefaultConnectorManifest()
	}
	if c.RootMarker == "" {
		c.RootMarker = "app-charging-stations, lib-plug-card"
	}
	if c.MarkerWait <= 0 {
		c.MarkerWait = 15 * time.Second
	}
	if c.DirectionsSelector == "" {
		c.DirectionsSelector = "[class*='directions'], [class*='como-llegar'], [aria-label*='direcciones']"
	}
	if c.ConnectorCardSelector == "" {
		c.ConnectorCardSelector = "lib-plug-card"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Extractor runs field manifests against loaded pages.
type Extractor struct {
	cfg Config
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{cfg: cfg}
}

// PointInfo extracts the descriptive fields of a Point page. Absent fields
// come back nil; the call itself only fails when the DOM cannot be read.
func (e *Extractor) PointInfo(ctx context.Context, pg browser.Page) (*PointFields, error) {
	doc, err := e.prepare(ctx, pg)
	if err != nil {
		return nil, err
	}

	raw := e.runManifest(ctx, pg, doc, e.cfg.PointManifest)
	out := &PointFields{
		Name:     strPtr(raw[FieldName]),
		Address:  strPtr(raw[FieldAddress]),
		Provider: strPtr(raw[FieldProvider]),
	}
	if text := raw[FieldMaxPower]; text != "" {
		out.MaxPowerKW = ParsePowerKW(text)
	}

	if lat, lng, ok := e.coordinates(ctx, pg); ok {
		out.Lat, out.Lng = &lat, &lng
	}

	if n := doc.Find(e.cfg.ConnectorCardSelector).Length(); n > 0 {
		out.ConnectorCount = &n
	}

	return out, nil
}

// ConnectorInfo extracts the descriptive fields of a Connector page.
func (e *Extractor) ConnectorInfo(ctx context.Context, pg browser.Page) (*ConnectorFields, error) {
	doc, err := e.prepare(ctx, pg)
	if err != nil {
		return nil, err
	}

	raw := e.runManifest(ctx, pg, doc, e.cfg.ConnectorManifest)
	out := &ConnectorFields{
		Type: strPtr(raw[FieldType]),
	}
	if text := raw[FieldPower]; text != "" {
		out.PowerKW = ParsePowerKW(text)
	}
	if text := raw[FieldPrice]; text != "" {
		out.PriceText = &text
		tariff := ParseTariff(text)
		out.PricePerKWh = tariff.Price
		out.TariffModel = tariff.Model
	}

	return out, nil
}

// prepare waits for the root marker (non-fatal) and parses the DOM once
// for every Scan strategy on the page.
func (e *Extractor) prepare(ctx context.Context, pg browser.Page) (*goquery.Document, error) {
	if err := pg.WaitVisible(ctx, browser.ByCSS, e.cfg.RootMarker, e.cfg.MarkerWait); err != nil {
		e.cfg.Logger.Warn("meta: root marker not seen", "error", err)
	}
	html, err := pg.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// runManifest resolves each field to the text of its first succeeding
// strategy.
func (e *Extractor) runManifest(ctx context.Context, pg browser.Page, doc *goquery.Document, manifest []Field) map[string]string {
	out := make(map[string]string, len(manifest))
	for _, field := range manifest {
		for _, strat := range field.Strategies {
			if text, ok := strat.Attempt(ctx, pg, doc); ok {
				out[field.Name] = text
				break
			}
		}
	}
	return out
}

// coordinates derives the point's position from a directions control: walk
// up its ancestor chain (bounded) to the nearest anchor and parse a
// destination=lat,lng parameter from its target URL. Falls back to any
// anchor on the page carrying a destination parameter.
func (e *Extractor) coordinates(ctx context.Context, pg browser.Page) (float64, float64, bool) {
	href, ok, err := pg.AncestorAttribute(ctx, browser.ByCSS,
		e.cfg.DirectionsSelector, "a", "href", maxAncestorHops)
	if err == nil && ok {
		if lat, lng, parsed := ParseDestination(href); parsed {
			return lat, lng, true
		}
	}

	hrefs, err := pg.Attributes(ctx, browser.ByCSS, "a", "href")
	if err != nil {
		return 0, 0, false
	}
	for _, h := range hrefs {
		if !strings.Contains(h, "destination=") {
			continue
		}
		if lat, lng, parsed := ParseDestination(h); parsed {
			return lat, lng, true
		}
	}
	return 0, 0, false
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
