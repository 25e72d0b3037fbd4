package extract

import (
	"context"

	"cryptoetl/pkg/models"
)

// CoinPaprika fetches the tickers list.
//
// Example item:
//
//	{
//	  "id": "btc-bitcoin",
//	  "name": "Bitcoin",
//	  "symbol": "BTC",
//	  "rank": 1,
//	  "quotes": {"USD": {"price": 50000.0, "market_cap": 1000000000.0}},
//	  ...
//	}
//
// The free API needs no key; paid plans send it as Authorization.
type CoinPaprika struct {
	api *jsonAPI
}

func NewCoinPaprika(opt Options) *CoinPaprika {
	return &CoinPaprika{api: newJSONAPI(models.SourceCoinPaprika, "Authorization", opt)}
}

func (s *CoinPaprika) Kind() models.Source { return models.SourceCoinPaprika }

func (s *CoinPaprika) Fetch(ctx context.Context) ([]models.RawRecord, error) {
	return s.api.fetch(ctx)
}
