package models

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// UnifiedAsset is the normalized, internal form of an asset quote.
//
// Every source is mapped into this structure first; the loader writes
// to the DB from this representation only.
type UnifiedAsset struct {
	ID          string    `json:"id"`                   // source-scheme id, e.g. "btc-bitcoin", "bitcoin", "csv-btc"
	Symbol      string    `json:"symbol"`               // upper-case canonical symbol
	Name        string    `json:"name"`
	PriceUSD    float64   `json:"price_usd"`            // always > 0
	MarketCap   *float64  `json:"market_cap,omitempty"` // nil when the source has none
	Source      Source    `json:"source"`
	LastUpdated time.Time `json:"last_updated"`
}

// NormalizeSymbol returns the canonical form used for storage and
// cross-source matching.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func (a UnifiedAsset) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return eris.New("id is required")
	}
	if strings.TrimSpace(a.Symbol) == "" {
		return eris.New("symbol is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return eris.New("name is required")
	}
	if math.IsNaN(a.PriceUSD) || math.IsInf(a.PriceUSD, 0) || a.PriceUSD <= 0 {
		return eris.Errorf("price_usd must be > 0, got %v", a.PriceUSD)
	}
	if !a.Source.Valid() {
		return eris.Errorf("unknown source %q", a.Source)
	}
	return nil
}
