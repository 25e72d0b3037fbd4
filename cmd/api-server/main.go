package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"cryptoetl/internal/assets"
	"cryptoetl/internal/auth"
	"cryptoetl/internal/events"
	"cryptoetl/internal/health"
	"cryptoetl/internal/metrics"
	"cryptoetl/internal/runner"
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

	authCfg, err := utils.LoadAuthConfig()
	if err != nil {
		logger.Fatal("refusing to start, auth is not configured", zap.Error(err))
	}
	pcfg, err := utils.LoadPipelineConfig()
	if err != nil {
		logger.Fatal("load pipeline config", zap.Error(err))
	}

	if srvCfg.PyroscopeServer != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "cryptoetl.api-server",
			ServerAddress:   srvCfg.PyroscopeServer,
			Tags:            map[string]string{"env": srvCfg.Env},
			Logger:          logger.Sugar(),
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logger.Fatal("pyroscope start failed", zap.Error(err))
		}
		defer func() { _ = profiler.Stop() }()
	}

	dbCfg := database.DefaultConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		logger.Fatal("open database", zap.String("db", dbCfg.Describe()), zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db, dbCfg); err != nil {
		logger.Fatal("db migrate failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := events.NewHub(logger.With(zap.String("component", "events")))
	etl, cleanup, err := runner.FromConfig(ctx, db, pcfg, srvCfg.RedisURL, logger, m, hub)
	if err != nil {
		logger.Fatal("build runner", zap.Error(err))
	}
	defer cleanup()

	dispatcher := runner.NewDispatcher(etl.Run, logger.With(zap.String("component", "dispatcher")))
	dispatcher.Start(ctx)

	keys, err := auth.NewKeyVerifier(authCfg)
	if err != nil {
		logger.Fatal("auth config", zap.Error(err))
	}
	tokens := auth.NewTokenService(authCfg)
	statsSvc := stats.NewService(db, logger)

	if srvCfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	auth.NewHandler(keys, tokens).RegisterRoutes(router.Group("/auth"))

	protected := router.Group("")
	protected.Use(auth.Middleware(keys, tokens))
	protected.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome to the Crypto ETL API"})
	})
	protected.GET("/metrics/prometheus", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	stats.NewHandler(statsSvc, dispatcher, logger).RegisterRoutes(protected)
	assets.NewHandler(assets.NewRepo(db), logger).RegisterRoutes(protected)
	events.RegisterRoutes(protected, hub)

	reporter := health.NewReporter(statsSvc, 15*time.Second, logger)
	grpcServer := grpc.NewServer()
	reporter.Register(grpcServer)

	httpSrv := &http.Server{
		Addr:              srvCfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		reporter.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		lis, err := net.Listen("tcp", srvCfg.GRPCAddr)
		if err != nil {
			errCh <- err
			return
		}
		logger.Info("gRPC health listening", zap.String("addr", srvCfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("HTTP API server listening", zap.String("addr", srvCfg.HTTPAddr), zap.String("db", dbCfg.Describe()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if srvCfg.DisableAutoETL {
		logger.Info("auto ETL on startup disabled")
	} else {
		dispatcher.Trigger()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("shutting down servers")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	cancel()

	wg.Wait()
	dispatcher.Wait()
	logger.Info("servers stopped")
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if cl := auth.ClaimsFrom(c); cl != nil {
			fields = append(fields, zap.String("operator", cl.Operator))
		}
		logger.Info("request", fields...)
	}
}
