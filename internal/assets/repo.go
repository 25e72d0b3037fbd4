package assets

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"cryptoetl/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

type ListQuery struct {
	Symbol string // exact match on the canonical symbol
	Page   int    // 1-based
	Limit  int
}

func (q ListQuery) offset() int { return (q.Page - 1) * q.Limit }

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

func (r *Repo) Count(ctx context.Context, q ListQuery) (int, error) {
	sqlStr, args := buildListSQL(q, true)
	var total int
	if err := r.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return 0, eris.Wrap(err, "count assets")
	}
	return total, nil
}

func (r *Repo) List(ctx context.Context, q ListQuery) ([]models.UnifiedAsset, error) {
	sqlStr, args := buildListSQL(q, false)

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, eris.Wrap(err, "list assets")
	}
	defer rows.Close()

	out := make([]models.UnifiedAsset, 0, q.Limit)
	for rows.Next() {
		var (
			a      models.UnifiedAsset
			mcap   sql.NullFloat64
			source string
		)
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Name, &a.PriceUSD, &mcap, &source, &a.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "scan asset")
		}
		if mcap.Valid {
			a.MarketCap = &mcap.Float64
		}
		a.Source = models.Source(source)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate assets")
	}
	return out, nil
}

// All streams every asset ordered by symbol, for exports.
func (r *Repo) All(ctx context.Context) ([]models.UnifiedAsset, error) {
	var out []models.UnifiedAsset
	const page = 500
	for p := 1; ; p++ {
		batch, err := r.List(ctx, ListQuery{Page: p, Limit: page})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < page {
			return out, nil
		}
	}
}

func buildListSQL(q ListQuery, countOnly bool) (string, []any) {
	sqlStr := `
		SELECT id, symbol, name, price_usd, market_cap, source, last_updated
		FROM crypto_assets
	`
	if countOnly {
		sqlStr = `SELECT COUNT(*) FROM crypto_assets`
	}

	var args []any
	if s := models.NormalizeSymbol(q.Symbol); s != "" {
		args = append(args, s)
		sqlStr += fmt.Sprintf(" WHERE symbol = $%d", len(args))
	}

	if !countOnly {
		args = append(args, q.Limit, q.offset())
		sqlStr += fmt.Sprintf(" ORDER BY symbol ASC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	return strings.TrimSpace(sqlStr), args
}
