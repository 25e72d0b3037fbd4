package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"cryptoetl/internal/health"
	"cryptoetl/internal/stats"
	"cryptoetl/pkg/database"
	"cryptoetl/pkg/utils"
)

func main() {
	envErr := utils.LoadDotEnv()
	srvCfg := utils.LoadServerConfig()
	logger := utils.NewLogger(srvCfg.Env)
	defer logger.Sync()
	if envErr != nil {
		logger.Fatal("load .env", zap.Error(envErr))
	}

	cfg := database.DefaultConfig()
	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal("open database", zap.String("db", cfg.Describe()), zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db, cfg); err != nil {
		logger.Fatal("db migrate failed", zap.Error(err))
	}

	listener, err := net.Listen("tcp", srvCfg.GRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporter := health.NewReporter(stats.NewService(db, logger), 10*time.Second, logger)
	grpcServer := grpc.NewServer()
	reporter.Register(grpcServer)

	go reporter.Run(ctx)
	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	logger.Info("gRPC health server listening", zap.String("addr", srvCfg.GRPCAddr))
	if err := grpcServer.Serve(listener); err != nil {
		logger.Fatal("grpc server stopped", zap.Error(err))
	}
}
