package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoetl/pkg/models"
)

func asset(id, sym string, src models.Source, price float64) models.UnifiedAsset {
	return models.UnifiedAsset{ID: id, Symbol: sym, Name: sym, PriceUSD: price, Source: src}
}

func TestUnifyDefaultPrecedence(t *testing.T) {
	u := NewUnifier(nil)
	out := u.Unify(
		[]models.UnifiedAsset{asset("btc-bitcoin", "BTC", models.SourceCoinPaprika, 1)},
		[]models.UnifiedAsset{asset("bitcoin", "BTC", models.SourceCoinGecko, 2)},
		[]models.UnifiedAsset{asset("csv-btc", "BTC", models.SourceCSV, 3)},
	)
	require.Len(t, out, 1)
	assert.Equal(t, models.SourceCoinGecko, out[0].Source)
}

func TestUnifyConfiguredPrecedence(t *testing.T) {
	prec, err := ParsePrecedence([]string{"CSV", " coinpaprika "})
	require.NoError(t, err)

	out := NewUnifier(prec).Unify(
		[]models.UnifiedAsset{asset("bitcoin", "BTC", models.SourceCoinGecko, 2)},
		[]models.UnifiedAsset{asset("btc-bitcoin", "BTC", models.SourceCoinPaprika, 1)},
		[]models.UnifiedAsset{asset("csv-btc", "btc", models.SourceCSV, 3)},
	)
	require.Len(t, out, 1)
	assert.Equal(t, "csv-btc", out[0].ID)
}

func TestParsePrecedenceRejectsUnknown(t *testing.T) {
	_, err := ParsePrecedence([]string{"coingecko", "kraken"})
	require.Error(t, err)
}

func TestUnifySameSourceLastSeenWins(t *testing.T) {
	out := NewUnifier(nil).Unify([]models.UnifiedAsset{
		asset("a", "ETH", models.SourceCSV, 1),
		asset("b", "ETH", models.SourceCSV, 2),
	})
	require.Len(t, out, 1)
	assert.Equal(t, 2.0, out[0].PriceUSD)
}

func TestUnifyKeepsFirstAppearanceOrder(t *testing.T) {
	out := NewUnifier(nil).Unify(
		[]models.UnifiedAsset{asset("p1", "SOL", models.SourceCoinPaprika, 1), asset("p2", "BTC", models.SourceCoinPaprika, 1)},
		[]models.UnifiedAsset{asset("g1", "DOGE", models.SourceCoinGecko, 1), asset("g2", "BTC", models.SourceCoinGecko, 1)},
	)
	syms := make([]string, 0, len(out))
	for _, a := range out {
		syms = append(syms, a.Symbol)
	}
	assert.Equal(t, []string{"SOL", "BTC", "DOGE"}, syms)
	assert.Equal(t, "g2", out[1].ID)
}

func TestUnifyIsDeterministic(t *testing.T) {
	lists := [][]models.UnifiedAsset{
		{asset("p", "BTC", models.SourceCoinPaprika, 1)},
		{asset("g", "BTC", models.SourceCoinGecko, 2)},
		{asset("c", "BTC", models.SourceCSV, 3)},
	}
	u := NewUnifier(DefaultPrecedence)
	first := u.Unify(lists...)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, u.Unify(lists...))
	}
}

func TestUnifyEmpty(t *testing.T) {
	out := NewUnifier(nil).Unify()
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

// Same coin arriving from all three sources ends up as one BTC row.
func TestEndToEndBitcoin(t *testing.T) {
	paprika := mustFor(t, models.SourceCoinPaprika).Transform(batch(models.SourceCoinPaprika, map[string]any{
		"id": "btc-bitcoin", "symbol": "BTC", "name": "Bitcoin",
		"quotes": map[string]any{"USD": map[string]any{"price": json.Number("50000"), "market_cap": json.Number("1e9")}},
	}))
	gecko := mustFor(t, models.SourceCoinGecko).Transform(batch(models.SourceCoinGecko, map[string]any{
		"id": "bitcoin", "symbol": "btc", "name": "Bitcoin", "current_price": json.Number("50100"), "market_cap": json.Number("1.0001e9"),
	}))
	csv := mustFor(t, models.SourceCSV).Transform(batch(models.SourceCSV, map[string]any{
		"symbol": "BTC", "name": "Bitcoin", "price_usd": "50200", "market_cap": "1.0002e9",
	}))

	out := NewUnifier(nil).Unify(paprika.Assets, gecko.Assets, csv.Assets)
	require.Len(t, out, 1)
	assert.Equal(t, "BTC", out[0].Symbol)
	assert.Equal(t, "bitcoin", out[0].ID)
	assert.Equal(t, 50100.0, out[0].PriceUSD)
}
