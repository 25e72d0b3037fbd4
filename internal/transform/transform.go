// Package transform maps raw source batches onto UnifiedAsset and merges
// the per-source results into one list.
package transform

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"cryptoetl/pkg/models"
)

// Transformer converts one source's raw batch. A record that cannot be
// mapped is logged and skipped; Transform never fails as a whole.
type Transformer interface {
	Source() models.Source
	Transform(raw []models.RawRecord) Result
}

type Result struct {
	Assets  []models.UnifiedAsset
	Skipped int
}

// mapFunc builds one asset or reports why it could not.
type mapFunc func(data map[string]any) (models.UnifiedAsset, error)

type transformer struct {
	source models.Source
	mapper mapFunc
	logger *zap.Logger
	now    func() time.Time
}

// For resolves the transformer for src. Unknown sources are an error,
// never a silent pass-through.
func For(src models.Source, logger *zap.Logger) (Transformer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &transformer{
		source: src,
		logger: logger.With(zap.String("source", src.String())),
		now:    func() time.Time { return time.Now().UTC() },
	}
	switch src {
	case models.SourceCoinPaprika:
		t.mapper = mapCoinPaprika
	case models.SourceCoinGecko:
		t.mapper = mapCoinGecko
	case models.SourceCSV:
		t.mapper = mapCSV
	default:
		return nil, eris.Errorf("transform: no transformer for source %q", src)
	}
	return t, nil
}

func (t *transformer) Source() models.Source { return t.source }

func (t *transformer) Transform(raw []models.RawRecord) Result {
	res := Result{Assets: make([]models.UnifiedAsset, 0, len(raw))}
	now := t.now()

	for i, rec := range raw {
		a, err := t.mapper(rec.Data)
		if err == nil {
			a.Source = t.source
			a.LastUpdated = now
			err = a.Validate()
		}
		if err != nil {
			res.Skipped++
			t.logger.Warn("skipping record", zap.Int("index", i), zap.Error(err))
			continue
		}
		res.Assets = append(res.Assets, a)
	}
	return res
}

func mapCoinPaprika(d map[string]any) (models.UnifiedAsset, error) {
	var a models.UnifiedAsset
	var err error
	if a.ID, err = requireString(d, "id"); err != nil {
		return a, err
	}
	sym, err := requireString(d, "symbol")
	if err != nil {
		return a, err
	}
	a.Symbol = models.NormalizeSymbol(sym)
	if a.Name, err = requireString(d, "name"); err != nil {
		return a, err
	}

	usd := nested(d, "quotes", "USD")
	if a.PriceUSD, err = floatOrZero(usd, "price"); err != nil {
		return a, err
	}
	mc, err := floatOrZero(usd, "market_cap")
	if err != nil {
		return a, err
	}
	a.MarketCap = &mc
	return a, nil
}

func mapCoinGecko(d map[string]any) (models.UnifiedAsset, error) {
	var a models.UnifiedAsset
	var err error
	if a.ID, err = requireString(d, "id"); err != nil {
		return a, err
	}
	sym, err := requireString(d, "symbol")
	if err != nil {
		return a, err
	}
	a.Symbol = models.NormalizeSymbol(sym)
	if a.Name, err = requireString(d, "name"); err != nil {
		return a, err
	}

	raw, ok := d["current_price"]
	if !ok {
		return a, eris.New("missing field current_price")
	}
	if a.PriceUSD, err = toFloat(raw); err != nil {
		return a, eris.Wrap(err, "current_price")
	}
	if a.MarketCap, err = optionalFloat(d["market_cap"]); err != nil {
		return a, eris.Wrap(err, "market_cap")
	}
	return a, nil
}

func mapCSV(d map[string]any) (models.UnifiedAsset, error) {
	var a models.UnifiedAsset
	sym, err := requireString(d, "symbol")
	if err != nil {
		return a, err
	}
	a.Symbol = models.NormalizeSymbol(sym)
	a.ID = "csv-" + lowerSymbol(a.Symbol)
	if a.Name, err = requireString(d, "name"); err != nil {
		return a, err
	}

	raw, ok := d["price_usd"]
	if !ok {
		return a, eris.New("missing field price_usd")
	}
	if a.PriceUSD, err = toFloat(raw); err != nil {
		return a, eris.Wrap(err, "price_usd")
	}
	if a.MarketCap, err = optionalFloat(d["market_cap"]); err != nil {
		return a, eris.Wrap(err, "market_cap")
	}
	return a, nil
}
