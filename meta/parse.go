package meta

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	// rxKW matches a power rating like "12.3 kW" or "7,4kW".
	rxKW = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*kW`)
	// rxEURKWh matches a per-kWh rate like "0,35 €/kWh".
	rxEURKWh = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:€|eur)\s*/\s*kwh`)
	// rxPriceHint spots any price-bearing text for the free-text fallback.
	rxPriceHint = regexp.MustCompile(`(?i)€|/kwh|gratis|/min|sesi[óo]n`)
)

// Tariff model labels stored in connector_info.tariff_model.
const (
	ModelKWh        = "kWh"
	ModelFree       = "free"
	ModelPerMinute  = "per-minute"
	ModelPerSession = "per-session"
)

// Tariff is the parsed form of a price text. Both fields nil means the
// text carried no recognizable pricing.
type Tariff struct {
	Price *float64 // €/kWh rate, or 0 for free; nil for time/session models
	Model *string
}

// ParseTariff applies the pricing post-processing rules to a winning price
// text, in fixed precedence: explicit €/kWh rate, then free, then
// per-minute, then per-session.
func ParseTariff(text string) Tariff {
	if text == "" {
		return Tariff{}
	}
	lower := strings.ToLower(text)

	if m := rxEURKWh.FindStringSubmatch(text); m != nil {
		if v, ok := parseDecimal(m[1]); ok {
			model := ModelKWh
			return Tariff{Price: &v, Model: &model}
		}
	}
	if strings.Contains(lower, "gratis") || strings.Contains(lower, "free") {
		zero := 0.0
		model := ModelFree
		return Tariff{Price: &zero, Model: &model}
	}
	if strings.Contains(lower, "/min") || strings.Contains(lower, "minuto") {
		model := ModelPerMinute
		return Tariff{Model: &model}
	}
	if strings.Contains(lower, "sesión") || strings.Contains(lower, "sesion") {
		model := ModelPerSession
		return Tariff{Model: &model}
	}
	return Tariff{}
}

// ParsePowerKW extracts a power rating from text like "Carga rápida 50 kW".
// Returns nil when no rating is present.
func ParsePowerKW(text string) *float64 {
	m := rxKW.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, ok := parseDecimal(m[1])
	if !ok {
		return nil
	}
	return &v
}

// ParseDestination extracts coordinates from a directions URL carrying a
// "destination=lat,lng" query parameter.
func ParseDestination(rawURL string) (lat, lng float64, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, 0, false
	}
	dest := u.Query().Get("destination")
	if dest == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(dest, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, okLat := parseDecimal(parts[0])
	lng, okLng := parseDecimal(parts[1])
	if !okLat || !okLng {
		return 0, 0, false
	}
	return lat, lng, true
}

// parseDecimal parses a number that may use a Spanish decimal comma.
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
