package main

import (
	"context"
	"encoding/csv"
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"cryptoetl/internal/assets"
	"cryptoetl/pkg/database"
	"cryptoetl/pkg/models"
	"cryptoetl/pkg/utils"
)

func main() {
	out := flag.String("out", "data/assets_export.csv", "output CSV path for unified assets")
	flag.Parse()

	envErr := utils.LoadDotEnv()
	logger := utils.NewLogger(utils.LoadServerConfig().Env)
	defer logger.Sync()
	if envErr != nil {
		logger.Fatal("load .env", zap.Error(envErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := database.DefaultConfig()
	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal("open database", zap.String("db", cfg.Describe()), zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db, cfg); err != nil {
		logger.Fatal("db migrate failed", zap.Error(err))
	}

	items, err := assets.NewRepo(db).All(ctx)
	if err != nil {
		logger.Fatal("read assets failed", zap.Error(err))
	}
	if err := writeAssets(*out, items); err != nil {
		logger.Fatal("export assets failed", zap.Error(err))
	}

	logger.Info("exported assets", zap.Int("rows", len(items)), zap.String("path", *out))
}

func writeAssets(outPath string, items []models.UnifiedAsset) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "symbol", "name", "price_usd", "market_cap", "source", "last_updated"}); err != nil {
		return err
	}

	for _, a := range items {
		mcap := ""
		if a.MarketCap != nil {
			mcap = strconv.FormatFloat(*a.MarketCap, 'f', -1, 64)
		}
		if err := w.Write([]string{
			a.ID,
			a.Symbol,
			a.Name,
			strconv.FormatFloat(a.PriceUSD, 'f', -1, 64),
			mcap,
			a.Source.String(),
			a.LastUpdated.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
