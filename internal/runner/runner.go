// Package runner drives one pipeline run end to end and records its
// outcome. Callers learn how a run went only from persisted state.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cryptoetl/internal/drift"
	"cryptoetl/internal/events"
	"cryptoetl/internal/extract"
	"cryptoetl/internal/metrics"
	"cryptoetl/internal/transform"
	"cryptoetl/pkg/models"
)

// ErrInjectedFailure is raised between raw persist and transform when
// failure injection is enabled.
var ErrInjectedFailure = eris.New("injected failure after raw persist")

// Store is the write side the runner needs; *loader.Loader satisfies it.
type Store interface {
	SaveRaw(ctx context.Context, src models.Source, batch []models.RawRecord) (int, error)
	UpsertAssets(ctx context.Context, assets []models.UnifiedAsset) (int, error)
	WriteRunStatus(ctx context.Context, status string, errText *string, duration *float64) error
	WriteCheckpoint(ctx context.Context, source, status string, records int, meta map[string]any) error
}

// Publisher receives run lifecycle notifications; *events.Hub satisfies it.
type Publisher interface {
	Publish(ev events.RunEvent)
}

type Config struct {
	Sources       []extract.Source
	Store         Store
	Guard         Guard // defaults to a LocalLock
	Precedence    []models.Source
	InjectFailure bool
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Events        Publisher
}

type Runner struct {
	sources  []extract.Source
	store    Store
	guard    Guard
	unifier  *transform.Unifier
	detector *drift.Detector
	inject   bool
	logger   *zap.Logger
	metrics  *metrics.Metrics
	events   Publisher
	now      func() time.Time
}

func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, eris.New("runner: store is required")
	}
	if len(cfg.Sources) == 0 {
		return nil, eris.New("runner: at least one source is required")
	}
	for _, s := range cfg.Sources {
		if _, err := transform.For(s.Kind(), nil); err != nil {
			return nil, eris.Wrap(err, "runner")
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := cfg.Guard
	if guard == nil {
		guard = NewLocalLock()
	}

	return &Runner{
		sources:  cfg.Sources,
		store:    cfg.Store,
		guard:    guard,
		unifier:  transform.NewUnifier(cfg.Precedence),
		detector: drift.NewDetector(logger),
		inject:   cfg.InjectFailure,
		logger:   logger,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		now:      time.Now,
	}, nil
}

// Run executes the pipeline once. It returns ErrRunInProgress (having
// written nothing) when another run holds the guard, or an error if the
// guard itself is unavailable. Every other outcome, failures included, is
// recorded in etl_status and Run returns nil.
func (r *Runner) Run(ctx context.Context) error {
	release, err := r.guard.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			r.logger.Info("run skipped, another run is in progress")
			r.metrics.RunSkipped()
			r.publish(events.RunEvent{Type: events.TypeRunSkipped})
		}
		return err
	}
	defer release()

	runID := uuid.NewString()
	log := r.logger.With(zap.String("run_id", runID))
	start := r.now()

	r.metrics.SetRunning(true)
	defer r.metrics.SetRunning(false)

	log.Info("etl run started")
	r.publish(events.RunEvent{Type: events.TypeRunStarted, RunID: runID, Status: models.RunRunning})
	assets, runErr := r.execute(ctx, runID, log)
	elapsed := r.now().Sub(start)
	dur := elapsed.Seconds()

	// the outcome is recorded even if the caller's context is gone
	recordCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		msg := runErr.Error()
		log.Error("etl run failed", zap.Error(runErr), zap.Float64("duration_seconds", dur))
		if err := r.store.WriteRunStatus(recordCtx, models.RunFailed, &msg, &dur); err != nil {
			log.Error("could not record failed run", zap.Error(err))
		}
		r.metrics.RunFinished(models.RunFailed, elapsed)
		r.publish(events.RunEvent{
			Type:            events.TypeRunFinished,
			RunID:           runID,
			Status:          models.RunFailed,
			Error:           msg,
			DurationSeconds: dur,
		})
		return nil
	}

	if err := r.store.WriteRunStatus(recordCtx, models.RunSuccess, nil, &dur); err != nil {
		log.Error("could not record successful run", zap.Error(err))
	}
	r.metrics.RunFinished(models.RunSuccess, elapsed)
	r.publish(events.RunEvent{
		Type:            events.TypeRunFinished,
		RunID:           runID,
		Status:          models.RunSuccess,
		DurationSeconds: dur,
		Assets:          assets,
	})
	log.Info("etl run finished", zap.Float64("duration_seconds", dur))
	return nil
}

func (r *Runner) publish(ev events.RunEvent) {
	if r.events == nil {
		return
	}
	ev.At = r.now().UTC()
	r.events.Publish(ev)
}

type extraction struct {
	source  extract.Source
	records []models.RawRecord
	err     error
	report  drift.Report
}

func (r *Runner) execute(ctx context.Context, runID string, log *zap.Logger) (assets int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("panic: %v", p)
		}
	}()

	if err := r.store.WriteRunStatus(ctx, models.RunRunning, nil, nil); err != nil {
		return 0, err
	}

	results := r.extractAll(ctx, log)

	for i := range results {
		res := &results[i]
		if res.err != nil {
			continue
		}
		res.report = r.detector.Detect(res.source.Kind(), res.records)
		r.recordDrift(res.source.Kind(), res.report)
	}

	for _, res := range results {
		if res.err != nil || len(res.records) == 0 {
			continue
		}
		if _, err := r.store.SaveRaw(ctx, res.source.Kind(), res.records); err != nil {
			return 0, eris.Wrapf(err, "persist raw %s", res.source.Kind())
		}
	}

	if r.inject {
		return 0, ErrInjectedFailure
	}

	lists := make([][]models.UnifiedAsset, 0, len(results))
	for _, res := range results {
		list, err := r.transformAndCheckpoint(ctx, runID, res, log)
		if err != nil {
			return 0, err
		}
		lists = append(lists, list)
	}

	unified := r.unifier.Unify(lists...)
	n, err := r.store.UpsertAssets(ctx, unified)
	if err != nil {
		return 0, eris.Wrap(err, "upsert assets")
	}
	r.metrics.AssetsUpserted(n)
	log.Info("assets loaded", zap.Int("assets", n))
	return n, nil
}

// extractAll fetches every source concurrently. A failing source never
// cancels the others; its error is kept in its result slot.
func (r *Runner) extractAll(ctx context.Context, log *zap.Logger) []extraction {
	results := make([]extraction, len(r.sources))
	g, gctx := errgroup.WithContext(ctx)

	for i, src := range r.sources {
		i, src := i, src
		results[i].source = src
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					results[i].err = eris.Errorf("panic in %s fetch: %v", src.Kind(), p)
				}
			}()
			recs, ferr := src.Fetch(gctx)
			results[i].records, results[i].err = recs, ferr
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		kind := res.source.Kind().String()
		if res.err != nil {
			log.Warn("source extraction failed", zap.String("source", kind), zap.Error(res.err))
			continue
		}
		r.metrics.Records(kind, "fetched", len(res.records))
		log.Info("source extracted", zap.String("source", kind), zap.Int("records", len(res.records)))
	}
	return results
}

func (r *Runner) transformAndCheckpoint(ctx context.Context, runID string, res extraction, log *zap.Logger) ([]models.UnifiedAsset, error) {
	kind := res.source.Kind()

	if res.err != nil {
		meta := map[string]any{"run_id": runID, "error": res.err.Error()}
		if err := r.store.WriteCheckpoint(ctx, kind.String(), models.CheckpointFailed, 0, meta); err != nil {
			return nil, eris.Wrapf(err, "checkpoint %s", kind)
		}
		return nil, nil
	}

	tr, err := transform.For(kind, log)
	if err != nil {
		return nil, err
	}
	out := tr.Transform(res.records)

	meta := map[string]any{
		"run_id":  runID,
		"fetched": len(res.records),
		"skipped": out.Skipped,
	}
	if !res.report.Empty() {
		meta["drift"] = res.report
	}
	if err := r.store.WriteCheckpoint(ctx, kind.String(), models.CheckpointSuccess, len(out.Assets), meta); err != nil {
		return nil, eris.Wrapf(err, "checkpoint %s", kind)
	}

	r.metrics.Records(kind.String(), "transformed", len(out.Assets))
	r.metrics.Records(kind.String(), "skipped", out.Skipped)
	log.Info("source transformed",
		zap.String("source", kind.String()),
		zap.Int("assets", len(out.Assets)),
		zap.Int("skipped", out.Skipped))
	return out.Assets, nil
}

func (r *Runner) recordDrift(src models.Source, rep drift.Report) {
	r.metrics.Drift(src.String(), "missing", len(rep.Missing))
	r.metrics.Drift(src.String(), "unexpected", len(rep.Unexpected))
	r.metrics.Drift(src.String(), "rename", len(rep.Renames))
}
