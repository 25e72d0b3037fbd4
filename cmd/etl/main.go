package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cryptoetl/internal/runner"
	"cryptoetl/internal/stats"
	"cryptoetl/pkg/database"
	"cryptoetl/pkg/models"
	"cryptoetl/pkg/utils"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "overall run timeout")
	flag.Parse()

	envErr := utils.LoadDotEnv()
	srvCfg := utils.LoadServerConfig()
	logger := utils.NewLogger(srvCfg.Env)
	defer logger.Sync()
	if envErr != nil {
		logger.Fatal("load .env", zap.Error(envErr))
	}

	pcfg, err := utils.LoadPipelineConfig()
	if err != nil {
		logger.Fatal("load pipeline config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	dbCfg := database.DefaultConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		logger.Fatal("open database", zap.String("db", dbCfg.Describe()), zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db, dbCfg); err != nil {
		logger.Fatal("db migrate failed", zap.Error(err))
	}

	r, cleanup, err := runner.FromConfig(ctx, db, pcfg, srvCfg.RedisURL, logger, nil, nil)
	if err != nil {
		logger.Fatal("build runner", zap.Error(err))
	}
	defer cleanup()

	if err := r.Run(ctx); err != nil {
		logger.Error("run not started", zap.Error(err))
		os.Exit(2)
	}

	latest, err := stats.NewService(db, logger).Latest(context.Background())
	if err != nil || latest == nil {
		logger.Error("could not read run outcome", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("run recorded",
		zap.String("status", latest.Status),
		zap.String("db", dbCfg.Describe()))
	if latest.Status != models.RunSuccess {
		os.Exit(1)
	}
}
