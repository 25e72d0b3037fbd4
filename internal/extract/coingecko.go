package extract

import (
	"context"

	"cryptoetl/pkg/models"
)

// CoinGecko fetches /coins/markets in USD.
//
// Example item:
//
//	{
//	  "id": "bitcoin",
//	  "symbol": "btc",
//	  "name": "Bitcoin",
//	  "current_price": 50100,
//	  "market_cap": 1000100000,
//	  ...
//	}
//
// The demo plan authenticates with the x-cg-demo-api-key header.
type CoinGecko struct {
	api *jsonAPI
}

func NewCoinGecko(opt Options) *CoinGecko {
	return &CoinGecko{api: newJSONAPI(models.SourceCoinGecko, "x-cg-demo-api-key", opt)}
}

func (s *CoinGecko) Kind() models.Source { return models.SourceCoinGecko }

func (s *CoinGecko) Fetch(ctx context.Context) ([]models.RawRecord, error) {
	return s.api.fetch(ctx)
}
