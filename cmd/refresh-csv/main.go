package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"cryptoetl/internal/extract"
	"cryptoetl/pkg/models"
	"cryptoetl/pkg/utils"
)

// coins maps the CSV symbols onto CoinGecko ids, in output order.
var coins = []struct{ Symbol, ID string }{
	{"BTC", "bitcoin"},
	{"ETH", "ethereum"},
	{"DOGE", "dogecoin"},
	{"SOL", "solana"},
}

const marketsURL = "https://api.coingecko.com/api/v3/coins/markets"

func main() {
	envErr := utils.LoadDotEnv()
	logger := utils.NewLogger(utils.LoadServerConfig().Env)
	defer logger.Sync()
	if envErr != nil {
		logger.Fatal("load .env", zap.Error(envErr))
	}

	pcfg, err := utils.LoadPipelineConfig()
	if err != nil {
		logger.Fatal("load pipeline config", zap.Error(err))
	}

	out := flag.String("out", pcfg.CSVPath, "CSV file to rewrite")
	base := flag.String("url", marketsURL, "CoinGecko markets endpoint")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	src := extract.NewCoinGecko(extract.Options{
		URL:     marketsQuery(*base),
		APIKey:  pcfg.CoinGecko.APIKey,
		Timeout: 10 * time.Second,
		Retry:   extract.RetryPolicy(pcfg.Retry),
		Logger:  logger,
	})

	logger.Info("fetching data from CoinGecko")
	recs, err := src.Fetch(ctx)
	if err != nil {
		logger.Fatal("fetch failed", zap.Error(err))
	}

	rows := buildRows(recs, logger)
	if len(rows) == 0 {
		logger.Warn("no data to write")
		return
	}
	if err := writeCSV(*out, rows); err != nil {
		logger.Fatal("write csv failed", zap.Error(err))
	}
	logger.Info("csv source updated", zap.String("path", *out), zap.Int("records", len(rows)))
}

func marketsQuery(base string) string {
	ids := make([]string, 0, len(coins))
	for _, c := range coins {
		ids = append(ids, c.ID)
	}
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("ids", strings.Join(ids, ","))
	q.Set("order", "market_cap_desc")
	q.Set("per_page", "100")
	q.Set("page", "1")
	q.Set("sparkline", "false")
	return base + "?" + q.Encode()
}

func buildRows(recs []models.RawRecord, logger *zap.Logger) [][]string {
	byID := make(map[string]map[string]any, len(recs))
	for _, r := range recs {
		if id, ok := r.Data["id"].(string); ok {
			byID[id] = r.Data
		}
	}

	var rows [][]string
	for _, c := range coins {
		item, ok := byID[c.ID]
		if !ok {
			logger.Warn("no data for coin", zap.String("symbol", c.Symbol), zap.String("id", c.ID))
			continue
		}
		rows = append(rows, []string{c.Symbol, text(item["name"]), text(item["current_price"]), text(item["market_cap"])})
	}
	return rows
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case interface{ String() string }:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func writeCSV(path string, rows [][]string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"symbol", "name", "price_usd", "market_cap"}); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
