// Package loader owns every write to the pipeline's storage.
package loader

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"cryptoetl/pkg/models"
)

// Loader writes raw batches, unified assets, checkpoints and run status.
// Each method is its own transaction; a failure rolls back only that call.
type Loader struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Loader)

// WithClock replaces the timestamp source. Values are stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(db *sql.DB, opts ...Option) *Loader {
	l := &Loader{
		db:     db,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Loader) stamp() time.Time { return l.now().UTC() }

// SaveRaw appends one row per fetched item, payload kept verbatim.
func (l *Loader) SaveRaw(ctx context.Context, src models.Source, batch []models.RawRecord) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	at := l.stamp()

	err := l.inTx(ctx, `
		INSERT INTO raw_records (source, symbol, payload, ingested_at)
		VALUES ($1, $2, $3, $4)
	`, func(stmt *sql.Stmt) error {
		for i, rec := range batch {
			payload, err := json.Marshal(rec.Data)
			if err != nil {
				return eris.Wrapf(err, "marshal raw %s item %d", src, i)
			}
			if _, err := stmt.ExecContext(ctx, src.String(), rawSymbol(rec), string(payload), at); err != nil {
				return eris.Wrapf(err, "insert raw %s item %d", src, i)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.logger.Debug("raw batch saved", zap.String("source", src.String()), zap.Int("records", len(batch)))
	return len(batch), nil
}

// UpsertAssets inserts new ids and, on conflict, refreshes only the
// price-bearing fields and last_updated. Replaying a batch is idempotent.
func (l *Loader) UpsertAssets(ctx context.Context, assets []models.UnifiedAsset) (int, error) {
	if len(assets) == 0 {
		return 0, nil
	}
	at := l.stamp()

	err := l.inTx(ctx, `
		INSERT INTO crypto_assets (id, symbol, name, price_usd, market_cap, source, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		  price_usd = excluded.price_usd,
		  market_cap = excluded.market_cap,
		  last_updated = excluded.last_updated
	`, func(stmt *sql.Stmt) error {
		for _, a := range assets {
			if _, err := stmt.ExecContext(ctx,
				a.ID,
				a.Symbol,
				a.Name,
				a.PriceUSD,
				nullFloat(a.MarketCap),
				a.Source.String(),
				at,
			); err != nil {
				return eris.Wrapf(err, "exec upsert for %s", a.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(assets), nil
}

// WriteRunStatus appends a run row; existing rows are never updated.
func (l *Loader) WriteRunStatus(ctx context.Context, status string, errText *string, duration *float64) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO etl_status (status, error_message, duration_seconds, last_run)
		VALUES ($1, $2, $3, $4)
	`, status, nullString(errText), nullFloat(duration), l.stamp())
	if err != nil {
		return eris.Wrapf(err, "write run status %s", status)
	}
	return nil
}

// WriteCheckpoint replaces the single row kept per source.
func (l *Loader) WriteCheckpoint(ctx context.Context, source, status string, records int, meta map[string]any) error {
	if records < 0 {
		return eris.Errorf("checkpoint %s: negative record count %d", source, records)
	}

	var metaJSON sql.NullString
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return eris.Wrapf(err, "marshal checkpoint meta for %s", source)
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO etl_checkpoints (source, status, records_processed, meta_data, last_run)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source) DO UPDATE SET
		  status = excluded.status,
		  records_processed = excluded.records_processed,
		  meta_data = excluded.meta_data,
		  last_run = excluded.last_run
	`, source, status, records, metaJSON, l.stamp())
	if err != nil {
		return eris.Wrapf(err, "write checkpoint %s", source)
	}
	return nil
}

func (l *Loader) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return eris.Wrap(err, "prepare stmt")
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "commit tx")
	}
	return nil
}

func rawSymbol(rec models.RawRecord) sql.NullString {
	v, ok := rec.Data["symbol"]
	if !ok || v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmt.Sprint(v), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
