package extract

import (
	"go.uber.org/zap"

	"cryptoetl/internal/metrics"
	"cryptoetl/internal/retry"
	"cryptoetl/pkg/utils"
)

// RetryPolicy converts the configured retry settings.
func RetryPolicy(c utils.RetryConfig) retry.Policy {
	p := retry.Default()
	if c.Attempts > 0 {
		p.MaxAttempts = c.Attempts
	}
	if c.BaseDelay > 0 {
		p.BaseDelay = c.BaseDelay
	}
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	p.Jitter = c.Jitter
	p.AttemptTimeout = c.AttemptTimeout
	return p
}

// FromConfig builds the three sources in extraction order.
func FromConfig(cfg utils.PipelineConfig, logger *zap.Logger, m *metrics.Metrics) []Source {
	policy := RetryPolicy(cfg.Retry)
	opts := func(sc utils.SourceConfig) Options {
		return Options{
			URL:     sc.URL,
			APIKey:  sc.APIKey,
			RPS:     sc.RPS,
			Timeout: cfg.FetchTimeout,
			Retry:   policy,
			Logger:  logger,
			Metrics: m,
		}
	}
	return []Source{
		NewCoinPaprika(opts(cfg.CoinPaprika)),
		NewCoinGecko(opts(cfg.CoinGecko)),
		NewCSVFile(cfg.CSVPath, logger),
	}
}
