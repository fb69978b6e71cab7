package market

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"spot-connect/internal/core"
)

// SymbolFormat renders a base/quote pair in a venue's convention.
type SymbolFormat struct {
	Separator string
	Lower     bool
	// Aliases renames assets on the way to the venue, e.g. BTC -> XBT.
	Aliases map[string]string
	// LegacyPrefixes strips the X/Z asset-class prefix from four letter
	// codes such as XXBT and ZUSD.
	LegacyPrefixes bool
}

// SymbolMap translates between unified product ids ("BTC/USD") and venue
// symbols in both directions. Entries learned from product listings are
// preferred over the formatter, so venue spellings like XXBTZUSD resolve.
type SymbolMap struct {
	format  SymbolFormat
	reverse map[string]string

	mu        sync.RWMutex
	toVenue   map[string]string
	toUnified map[string]string
}

func NewSymbolMap(format SymbolFormat) *SymbolMap {
	reverse := make(map[string]string, len(format.Aliases))
	for unified, venue := range format.Aliases {
		reverse[strings.ToUpper(venue)] = strings.ToUpper(unified)
	}
	return &SymbolMap{
		format:    format,
		reverse:   reverse,
		toVenue:   make(map[string]string),
		toUnified: make(map[string]string),
	}
}

// VenueSymbol returns the venue spelling of productID.
func (m *SymbolMap) VenueSymbol(productID string) (string, error) {
	base, quote, err := core.ParseProduct(productID)
	if err != nil {
		return "", err
	}
	unified := core.ProductID(base, quote)
	m.mu.RLock()
	sym, ok := m.toVenue[unified]
	m.mu.RUnlock()
	if ok {
		return sym, nil
	}
	return m.Format(base, quote), nil
}

// Format renders base/quote with aliases applied.
func (m *SymbolMap) Format(base, quote string) string {
	base, quote = m.alias(strings.ToUpper(base)), m.alias(strings.ToUpper(quote))
	out := base + m.format.Separator + quote
	if m.format.Lower {
		out = strings.ToLower(out)
	}
	return out
}

// ProductID maps a venue symbol back to its unified id, when known.
func (m *SymbolMap) ProductID(venueSymbol string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.toUnified[strings.ToUpper(venueSymbol)]
	return id, ok
}

// Learn records one product; alt lists extra venue spellings that should map
// back to the same product.
func (m *SymbolMap) Learn(base, quote, venueSymbol string, alt ...string) core.Product {
	base, quote = m.Canonical(base), m.Canonical(quote)
	unified := core.ProductID(base, quote)
	m.mu.Lock()
	m.toVenue[unified] = venueSymbol
	m.toUnified[strings.ToUpper(venueSymbol)] = unified
	for _, a := range alt {
		if a != "" {
			m.toUnified[strings.ToUpper(a)] = unified
		}
	}
	m.mu.Unlock()
	return core.Product{ID: unified, VenueSymbol: venueSymbol, Base: base, Quote: quote}
}

// Canonical turns a venue asset code into the unified one (XBT -> BTC,
// XXBT -> BTC, ZUSD -> USD).
func (m *SymbolMap) Canonical(asset string) string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if u, ok := m.reverse[asset]; ok {
		return u
	}
	if m.format.LegacyPrefixes && len(asset) == 4 && (asset[0] == 'X' || asset[0] == 'Z') {
		trimmed := asset[1:]
		if u, ok := m.reverse[trimmed]; ok {
			return u
		}
		if legacyCodes[trimmed] {
			return trimmed
		}
	}
	return asset
}

func (m *SymbolMap) alias(asset string) string {
	if a, ok := m.format.Aliases[asset]; ok {
		return a
	}
	return asset
}

// Assets that carry an X/Z prefix in legacy pair names.
var legacyCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "CAD": true, "JPY": true, "CHF": true, "AUD": true,
	"ETH": true, "LTC": true, "XRP": true, "XLM": true, "ETC": true, "MLN": true, "REP": true, "ZEC": true, "XMR": true,
}

// Granularities maps candle sizes in minutes to a venue's interval code.
type Granularities map[int]string

func (g Granularities) Lookup(minutes int) (string, time.Duration, error) {
	code, ok := g[minutes]
	if !ok {
		return "", 0, fmt.Errorf("%w: %d minutes", core.ErrUnsupportedGranularity, minutes)
	}
	return code, time.Duration(minutes) * time.Minute, nil
}
