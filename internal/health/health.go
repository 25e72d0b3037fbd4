// Package health publishes pipeline state through the standard gRPC
// health service.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"cryptoetl/pkg/models"
)

// ServiceETL is the health service name that tracks the latest run.
// The empty name tracks storage connectivity.
const ServiceETL = "etl"

// StateSource is the read side the reporter polls; *stats.Service
// satisfies it.
type StateSource interface {
	Ping(ctx context.Context) error
	Latest(ctx context.Context) (*models.RunStatus, error)
}

type Reporter struct {
	server   *grpchealth.Server
	state    StateSource
	interval time.Duration
	logger   *zap.Logger
}

func NewReporter(state StateSource, interval time.Duration, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reporter{
		server:   grpchealth.NewServer(),
		state:    state,
		interval: interval,
		logger:   logger,
	}
}

// Register attaches the health service to s.
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Refresh re-evaluates both services once.
func (r *Reporter) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.state.Ping(ctx); err != nil {
		r.logger.Warn("health: storage unreachable", zap.Error(err))
		r.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		r.server.SetServingStatus(ServiceETL, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	r.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	latest, err := r.state.Latest(ctx)
	if err != nil {
		r.logger.Warn("health: latest run lookup failed", zap.Error(err))
		r.server.SetServingStatus(ServiceETL, healthpb.HealthCheckResponse_UNKNOWN)
		return
	}
	r.server.SetServingStatus(ServiceETL, statusFor(latest))
}

// Run refreshes on every tick until ctx is done, then marks everything
// NOT_SERVING.
func (r *Reporter) Run(ctx context.Context) {
	r.Refresh(ctx)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return
		case <-t.C:
			r.Refresh(ctx)
		}
	}
}

func statusFor(latest *models.RunStatus) healthpb.HealthCheckResponse_ServingStatus {
	if latest == nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	if latest.Status == models.RunFailed {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
