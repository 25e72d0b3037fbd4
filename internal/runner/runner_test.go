package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoetl/internal/events"
	"cryptoetl/internal/extract"
	"cryptoetl/internal/loader"
	"cryptoetl/pkg/database"
	"cryptoetl/pkg/models"
)

type fakeSource struct {
	kind  models.Source
	items []map[string]any
	err   error
	panic string
}

func (f *fakeSource) Kind() models.Source { return f.kind }

func (f *fakeSource) Fetch(context.Context) ([]models.RawRecord, error) {
	if f.panic != "" {
		panic(f.panic)
	}
	if f.err != nil {
		return nil, f.err
	}
	return models.NewRawBatch(f.kind, f.items), nil
}

func btcSources() []extract.Source {
	return []extract.Source{
		&fakeSource{kind: models.SourceCoinPaprika, items: []map[string]any{{
			"id": "btc-bitcoin", "symbol": "BTC", "name": "Bitcoin",
			"quotes": map[string]any{"USD": map[string]any{"price": 50000.0, "market_cap": 1e9}},
		}}},
		&fakeSource{kind: models.SourceCoinGecko, items: []map[string]any{{
			"id": "bitcoin", "symbol": "btc", "name": "Bitcoin", "current_price": 50100.0, "market_cap": 1.0001e9,
		}}},
		&fakeSource{kind: models.SourceCSV, items: []map[string]any{
			{"symbol": "BTC", "name": "Bitcoin", "price_usd": "50200", "market_cap": "1.0002e9"},
			{"symbol": "DOGE", "name": "Dogecoin", "price_usd": "0.1", "market_cap": ""},
		}},
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := database.Config{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "etl.db")}
	db, err := database.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, cfg))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newRunner(t *testing.T, store Store, sources []extract.Source, mut ...func(*Config)) *Runner {
	t.Helper()
	cfg := Config{Sources: sources, Store: store}
	for _, m := range mut {
		m(&cfg)
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func statuses(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query(`SELECT status FROM etl_status ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		out = append(out, s)
	}
	require.NoError(t, rows.Err())
	return out
}

type checkpointRow struct {
	status  string
	records int
	meta    map[string]any
}

func checkpoints(t *testing.T, db *sql.DB) map[string]checkpointRow {
	t.Helper()
	rows, err := db.Query(`SELECT source, status, records_processed, meta_data FROM etl_checkpoints`)
	require.NoError(t, err)
	defer rows.Close()
	out := map[string]checkpointRow{}
	for rows.Next() {
		var (
			src  string
			row  checkpointRow
			meta sql.NullString
		)
		require.NoError(t, rows.Scan(&src, &row.status, &row.records, &meta))
		if meta.Valid {
			require.NoError(t, json.Unmarshal([]byte(meta.String), &row.meta))
		}
		out[src] = row
	}
	require.NoError(t, rows.Err())
	return out
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestRunSuccess(t *testing.T) {
	db := openTestDB(t)
	r := newRunner(t, loader.New(db), btcSources())

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"running", "success"}, statuses(t, db))
	assert.Equal(t, 4, count(t, db, "raw_records"))
	assert.Equal(t, 2, count(t, db, "crypto_assets"))

	var id string
	var price float64
	require.NoError(t, db.QueryRow(`SELECT id, price_usd FROM crypto_assets WHERE symbol = 'BTC'`).Scan(&id, &price))
	assert.Equal(t, "bitcoin", id)
	assert.Equal(t, 50100.0, price)

	cps := checkpoints(t, db)
	require.Len(t, cps, 3)
	for src, cp := range cps {
		assert.Equal(t, "success", cp.status, src)
		assert.NotEmpty(t, cp.meta["run_id"], src)
	}
	assert.Equal(t, 2, cps["csv"].records)
	assert.EqualValues(t, 2, cps["csv"].meta["fetched"])
	assert.EqualValues(t, 0, cps["csv"].meta["skipped"])
}

func TestRunIsolatesSourceFailure(t *testing.T) {
	db := openTestDB(t)
	sources := btcSources()
	sources[1] = &fakeSource{kind: models.SourceCoinGecko, err: errors.New("gecko down")}
	r := newRunner(t, loader.New(db), sources)

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"running", "success"}, statuses(t, db))
	cps := checkpoints(t, db)
	assert.Equal(t, "failed", cps["coingecko"].status)
	assert.Zero(t, cps["coingecko"].records)
	assert.Contains(t, cps["coingecko"].meta["error"], "gecko down")
	assert.Equal(t, "success", cps["coinpaprika"].status)

	var id string
	require.NoError(t, db.QueryRow(`SELECT id FROM crypto_assets WHERE symbol = 'BTC'`).Scan(&id))
	assert.Equal(t, "btc-bitcoin", id)
}

func TestRunSourcePanicIsIsolated(t *testing.T) {
	db := openTestDB(t)
	sources := btcSources()
	sources[0] = &fakeSource{kind: models.SourceCoinPaprika, panic: "boom"}
	r := newRunner(t, loader.New(db), sources)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"running", "success"}, statuses(t, db))
	assert.Equal(t, "failed", checkpoints(t, db)["coinpaprika"].status)
}

func TestRunAllSourcesFailedStillSucceeds(t *testing.T) {
	db := openTestDB(t)
	down := errors.New("down")
	r := newRunner(t, loader.New(db), []extract.Source{
		&fakeSource{kind: models.SourceCoinPaprika, err: down},
		&fakeSource{kind: models.SourceCoinGecko, err: down},
		&fakeSource{kind: models.SourceCSV, err: down},
	})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"running", "success"}, statuses(t, db))
	assert.Zero(t, count(t, db, "crypto_assets"))
	for _, cp := range checkpoints(t, db) {
		assert.Equal(t, "failed", cp.status)
	}
}

func TestRunInjectedFailure(t *testing.T) {
	db := openTestDB(t)
	r := newRunner(t, loader.New(db), btcSources(), func(c *Config) { c.InjectFailure = true })

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"running", "failed"}, statuses(t, db))
	assert.Equal(t, 4, count(t, db, "raw_records"))
	assert.Zero(t, count(t, db, "etl_checkpoints"))
	assert.Zero(t, count(t, db, "crypto_assets"))

	var msg string
	var dur float64
	require.NoError(t, db.QueryRow(`SELECT error_message, duration_seconds FROM etl_status WHERE status = 'failed'`).Scan(&msg, &dur))
	assert.Contains(t, msg, "injected failure")
	assert.GreaterOrEqual(t, dur, 0.0)
}

type panickyStore struct{ Store }

func (p panickyStore) UpsertAssets(context.Context, []models.UnifiedAsset) (int, error) {
	panic("disk on fire")
}

func TestRunRecoversPanic(t *testing.T) {
	db := openTestDB(t)
	r := newRunner(t, panickyStore{loader.New(db)}, btcSources())

	require.NotPanics(t, func() { require.NoError(t, r.Run(context.Background())) })
	assert.Equal(t, []string{"running", "failed"}, statuses(t, db))

	// checkpoints committed before the panic survive
	assert.Len(t, checkpoints(t, db), 3)
}

type heldGuard struct{}

func (heldGuard) Acquire(context.Context) (func(), error) { return nil, ErrRunInProgress }

func TestRunGuardHeldWritesNothing(t *testing.T) {
	db := openTestDB(t)
	r := newRunner(t, loader.New(db), btcSources(), func(c *Config) { c.Guard = heldGuard{} })

	err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, statuses(t, db))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Sources: btcSources()})
	require.Error(t, err)

	_, err = New(Config{Store: loader.New(openTestDB(t))})
	require.Error(t, err)

	_, err = New(Config{
		Store:   loader.New(openTestDB(t)),
		Sources: []extract.Source{&fakeSource{kind: models.Source("kraken")}},
	})
	require.Error(t, err)
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	db := openTestDB(t)
	hub := events.NewHub(nil)
	r := newRunner(t, loader.New(db), btcSources(), func(c *Config) { c.Events = hub })

	require.NoError(t, r.Run(context.Background()))

	got := hub.History()
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeRunStarted, got[0].Type)
	assert.Equal(t, events.TypeRunFinished, got[1].Type)
	assert.Equal(t, models.RunSuccess, got[1].Status)
	assert.Equal(t, 2, got[1].Assets)
	assert.Equal(t, got[0].RunID, got[1].RunID)
}

func TestRunPublishesFailureAndSkip(t *testing.T) {
	db := openTestDB(t)
	hub := events.NewHub(nil)
	r := newRunner(t, loader.New(db), btcSources(), func(c *Config) {
		c.Events = hub
		c.InjectFailure = true
	})
	require.NoError(t, r.Run(context.Background()))

	got := hub.History()
	require.Len(t, got, 2)
	assert.Equal(t, models.RunFailed, got[1].Status)
	assert.Contains(t, got[1].Error, "injected failure")

	held := newRunner(t, loader.New(db), btcSources(), func(c *Config) {
		c.Events = hub
		c.Guard = heldGuard{}
	})
	require.ErrorIs(t, held.Run(context.Background()), ErrRunInProgress)
	assert.Equal(t, events.TypeRunSkipped, hub.History()[2].Type)
}
