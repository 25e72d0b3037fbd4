// Package stats is the read side of pipeline state: run history,
// checkpoints and the derived stats and metrics views.
package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"cryptoetl/pkg/models"
)

var ErrRunNotFound = eris.New("one or both run IDs not found")

const (
	DefaultRunsLimit = 10
	MaxRunsLimit     = 100
)

type Service struct {
	DB     *sql.DB
	Logger *zap.Logger
}

func NewService(db *sql.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{DB: db, Logger: logger}
}

type Stats struct {
	TotalRecords        int                 `json:"total_records"`
	LastDurationSeconds *float64            `json:"last_duration_seconds"`
	LastSuccess         *time.Time          `json:"last_success"`
	LastFailure         *time.Time          `json:"last_failure"`
	Checkpoints         []models.Checkpoint `json:"checkpoints"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	latest, err := s.Latest(ctx)
	if err != nil {
		return st, err
	}
	if latest != nil {
		st.LastDurationSeconds = latest.DurationSeconds
	}

	if st.LastSuccess, err = s.lastWithStatus(ctx, models.RunSuccess); err != nil {
		return st, err
	}
	if st.LastFailure, err = s.lastWithStatus(ctx, models.RunFailed); err != nil {
		return st, err
	}

	if st.Checkpoints, err = s.Checkpoints(ctx); err != nil {
		return st, err
	}
	for _, cp := range st.Checkpoints {
		st.TotalRecords += cp.RecordsProcessed
	}
	return st, nil
}

// MetricsText renders the stats as `name{labels} value` lines.
func (s *Service) MetricsText(ctx context.Context) (string, error) {
	latest, err := s.Latest(ctx)
	if err != nil {
		return "", err
	}
	st, err := s.Stats(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	status := 0
	if latest != nil && latest.Status == models.RunSuccess {
		status = 1
	}
	fmt.Fprintf(&b, "etl_last_run_status %d\n", status)
	if latest != nil && latest.DurationSeconds != nil {
		fmt.Fprintf(&b, "etl_last_run_duration_seconds %s\n", formatFloat(*latest.DurationSeconds))
	}
	fmt.Fprintf(&b, "etl_total_records %d\n", st.TotalRecords)
	if st.LastSuccess != nil {
		fmt.Fprintf(&b, "etl_last_success_timestamp_seconds %d\n", st.LastSuccess.Unix())
	}
	if st.LastFailure != nil {
		fmt.Fprintf(&b, "etl_last_failure_timestamp_seconds %d\n", st.LastFailure.Unix())
	}
	for _, cp := range st.Checkpoints {
		fmt.Fprintf(&b, "etl_records_processed{source=%q} %d\n", cp.Source, cp.RecordsProcessed)
	}
	return b.String(), nil
}

// Latest returns the newest run row, or nil before the first run.
func (s *Service) Latest(ctx context.Context) (*models.RunStatus, error) {
	runs, err := s.queryRuns(ctx, `
		SELECT id, status, error_message, duration_seconds, last_run
		FROM etl_status
		ORDER BY last_run DESC, id DESC
		LIMIT 1
	`)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// Runs lists run rows, newest first. limit is clamped to [1, MaxRunsLimit].
func (s *Service) Runs(ctx context.Context, limit int) ([]models.RunStatus, error) {
	if limit <= 0 {
		limit = DefaultRunsLimit
	}
	if limit > MaxRunsLimit {
		limit = MaxRunsLimit
	}
	return s.queryRuns(ctx, `
		SELECT id, status, error_message, duration_seconds, last_run
		FROM etl_status
		ORDER BY last_run DESC, id DESC
		LIMIT $1
	`, limit)
}

type RunSummary struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	Duration  *float64  `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

type Comparison struct {
	Run1 RunSummary `json:"run_1"`
	Run2 RunSummary `json:"run_2"`
	Diff struct {
		DurationDiff float64 `json:"duration_diff"`
	} `json:"diff"`
}

// Compare returns both runs and run1's duration minus run2's; a missing
// duration counts as zero.
func (s *Service) Compare(ctx context.Context, id1, id2 int64) (Comparison, error) {
	var cmp Comparison

	r1, err := s.run(ctx, id1)
	if err != nil {
		return cmp, err
	}
	r2, err := s.run(ctx, id2)
	if err != nil {
		return cmp, err
	}
	if r1 == nil || r2 == nil {
		return cmp, ErrRunNotFound
	}

	cmp.Run1 = summarize(*r1)
	cmp.Run2 = summarize(*r2)
	cmp.Diff.DurationDiff = deref(r1.DurationSeconds) - deref(r2.DurationSeconds)
	return cmp, nil
}

func (s *Service) Checkpoints(ctx context.Context) ([]models.Checkpoint, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT source, status, records_processed, meta_data, last_run
		FROM etl_checkpoints
		ORDER BY source
	`)
	if err != nil {
		return nil, eris.Wrap(err, "query checkpoints")
	}
	defer rows.Close()

	out := []models.Checkpoint{}
	for rows.Next() {
		var (
			cp   models.Checkpoint
			meta sql.NullString
		)
		if err := rows.Scan(&cp.Source, &cp.Status, &cp.RecordsProcessed, &meta, &cp.LastRun); err != nil {
			return nil, eris.Wrap(err, "scan checkpoint")
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &cp.MetaData); err != nil {
				cp.MetaData = nil
				s.Logger.Warn("checkpoint meta_data is not valid JSON, ignoring it",
					zap.String("source", cp.Source), zap.Error(err))
			}
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate checkpoints")
	}
	return out, nil
}

// Ping reports storage connectivity.
func (s *Service) Ping(ctx context.Context) error {
	var one int
	return s.DB.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

func (s *Service) run(ctx context.Context, id int64) (*models.RunStatus, error) {
	runs, err := s.queryRuns(ctx, `
		SELECT id, status, error_message, duration_seconds, last_run
		FROM etl_status
		WHERE id = $1
	`, id)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (s *Service) lastWithStatus(ctx context.Context, status string) (*time.Time, error) {
	var ts time.Time
	err := s.DB.QueryRowContext(ctx, `
		SELECT last_run FROM etl_status
		WHERE status = $1
		ORDER BY last_run DESC, id DESC
		LIMIT 1
	`, status).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "query last %s run", status)
	}
	return &ts, nil
}

func (s *Service) queryRuns(ctx context.Context, query string, args ...any) ([]models.RunStatus, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "query runs")
	}
	defer rows.Close()

	out := []models.RunStatus{}
	for rows.Next() {
		var (
			r      models.RunStatus
			errMsg sql.NullString
			dur    sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Status, &errMsg, &dur, &r.LastRun); err != nil {
			return nil, eris.Wrap(err, "scan run")
		}
		if errMsg.Valid {
			r.ErrorMessage = &errMsg.String
		}
		if dur.Valid {
			r.DurationSeconds = &dur.Float64
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate runs")
	}
	return out, nil
}

func summarize(r models.RunStatus) RunSummary {
	return RunSummary{ID: r.ID, Status: r.Status, Duration: r.DurationSeconds, Timestamp: r.LastRun}
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
