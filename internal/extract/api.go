package extract

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cryptoetl/internal/metrics"
	"cryptoetl/internal/retry"
	"cryptoetl/pkg/models"
)

// Options configures a remote JSON source.
type Options struct {
	URL     string
	APIKey  string
	RPS     float64       // upstream request budget; <= 0 disables limiting
	Timeout time.Duration // per HTTP request
	Retry   retry.Policy
	Client  *http.Client
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// jsonAPI is the shared GET-a-JSON-array machinery behind the remote sources.
type jsonAPI struct {
	kind       models.Source
	url        string
	apiKey     string
	authHeader string
	client     *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func newJSONAPI(kind models.Source, authHeader string, opt Options) *jsonAPI {
	client := opt.Client
	if client == nil {
		timeout := opt.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if opt.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opt.RPS), 1)
	}

	return &jsonAPI{
		kind:       kind,
		url:        opt.URL,
		apiKey:     opt.APIKey,
		authHeader: authHeader,
		client:     client,
		limiter:    limiter,
		policy:     opt.Retry,
		logger:     logger.With(zap.String("source", kind.String())),
		metrics:    opt.Metrics,
	}
}

func (a *jsonAPI) fetch(ctx context.Context) ([]models.RawRecord, error) {
	p := a.policy
	userHook := p.OnRetry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		a.logger.Warn("fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		a.metrics.FetchRetry(a.kind.String())
		if userHook != nil {
			userHook(attempt, err, delay)
		}
	}

	attempts := 0
	items, err := retry.Do(ctx, p, func(ctx context.Context) ([]map[string]any, error) {
		attempts++
		return a.get(ctx)
	})
	if err != nil {
		a.logger.Error("fetch failed after retries", zap.Int("attempts", attempts), zap.Error(err))
		a.metrics.FetchFailed(a.kind.String())
		return nil, &ExtractionError{Source: a.kind, Attempts: attempts, Err: err}
	}

	a.logger.Info("fetched batch", zap.Int("records", len(items)), zap.Int("attempts", attempts))
	return models.NewRawBatch(a.kind, items), nil
}

func (a *jsonAPI) get(ctx context.Context) ([]map[string]any, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrapf(err, "%s: rate limit wait", a.kind)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: build request", a.kind)
	}
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set(a.authHeader, a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: request", a.kind)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, eris.Errorf("%s: status %d: %s", a.kind, resp.StatusCode, string(body))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, eris.Wrapf(err, "%s: decode", a.kind)
	}
	return items, nil
}
