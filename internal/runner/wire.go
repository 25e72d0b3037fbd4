package runner

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"cryptoetl/internal/extract"
	"cryptoetl/internal/loader"
	"cryptoetl/internal/metrics"
	"cryptoetl/internal/transform"
	"cryptoetl/pkg/utils"
)

// FromConfig assembles a Runner over db. With a non-empty redisURL runs
// are guarded by a RedisLock; the returned cleanup releases it. pub may
// be nil.
func FromConfig(ctx context.Context, db *sql.DB, cfg utils.PipelineConfig, redisURL string, logger *zap.Logger, m *metrics.Metrics, pub Publisher) (*Runner, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleanup := func() {}

	precedence, err := transform.ParsePrecedence(cfg.Precedence)
	if err != nil {
		return nil, cleanup, err
	}

	var guard Guard = NewLocalLock()
	if redisURL != "" {
		rl, err := NewRedisLockFromURL(ctx, redisURL)
		if err != nil {
			return nil, cleanup, eris.Wrap(err, "runner: redis guard")
		}
		guard = rl
		cleanup = func() { _ = rl.Close() }
		logger.Info("run guard: redis")
	}

	r, err := New(Config{
		Sources:       extract.FromConfig(cfg, logger, m),
		Store:         loader.New(db, loader.WithLogger(logger)),
		Guard:         guard,
		Precedence:    precedence,
		InjectFailure: cfg.InjectFailure,
		Logger:        logger,
		Metrics:       m,
		Events:        pub,
	})
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return r, cleanup, nil
}
