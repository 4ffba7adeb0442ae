package payment

import (
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"
)

// Class is the device capability class the card flow branches on.
type Class string

const (
	// ClassStandard devices run the provider's in-browser confirmation
	// script.
	ClassStandard Class = "standard"
	// ClassConstrained devices cannot, so the charge is performed
	// server-side from a tokenized payment method.
	ClassConstrained Class = "constrained"
)

// Browser brands that ship without the scripting surface the confirmation
// flow needs. Matched against Sec-CH-UA brands.
var constrainedBrands = map[string]bool{
	"Android WebView": true,
	"WebView":         true,
	"Opera Mini":      true,
}

// Legacy user-agent markers used when client hints are absent.
var constrainedUAMarkers = []string{
	"Opera Mini",
	"UCBrowser",
	"KAIOS",
	"MSIE ",
	"Trident/",
}

// Classify determines the device class from the request headers. Sec-CH-UA
// client hints (RFC 8941 structured fields) are authoritative when present;
// otherwise the legacy User-Agent string is consulted. Unknown devices are
// treated as standard, the fallback branch exists for browsers that are
// known to break, not as a default.
func Classify(h http.Header) Class {
	if brands, ok := parseBrands(h.Get("Sec-CH-UA")); ok {
		for _, b := range brands {
			if constrainedBrands[b] {
				return ClassConstrained
			}
		}
		return ClassStandard
	}

	ua := h.Get("User-Agent")
	for _, marker := range constrainedUAMarkers {
		if strings.Contains(ua, marker) {
			return ClassConstrained
		}
	}
	return ClassStandard
}

// parseBrands extracts brand names from a Sec-CH-UA list header, e.g.
// `"Chromium";v="124", "Google Chrome";v="124"`.
func parseBrands(header string) ([]string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, false
	}

	list, err := httpsfv.UnmarshalList([]string{header})
	if err != nil {
		return nil, false
	}

	var brands []string
	for _, member := range list {
		item, ok := member.(httpsfv.Item)
		if !ok {
			continue
		}
		if name, ok := item.Value.(string); ok {
			brands = append(brands, name)
		}
	}
	return brands, len(brands) > 0
}
