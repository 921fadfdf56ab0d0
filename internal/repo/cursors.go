package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

type cursorRow struct {
	AssetClass  string    `db:"asset_class"`
	Symbol      string    `db:"symbol"`
	Timeframe   string    `db:"timeframe"`
	JobKind     string    `db:"job_kind"`
	PageToken   string    `db:"page_token"`
	RangeDigest string    `db:"range_digest"`
	Completed   bool      `db:"completed"`
	LastRunAt   time.Time `db:"last_run_at"`
	JobRunID    string    `db:"job_run_id"`
}

// CursorRepo persists sync cursors.
type CursorRepo struct {
	conn   sqlx.SqlConn
	schema string
}

// Get returns the cursor for key, or nil when none was stored.
func (r *CursorRepo) Get(ctx context.Context, key model.CursorKey) (*model.SyncCursor, error) {
	q := fmt.Sprintf(`SELECT asset_class, symbol, timeframe, job_kind, page_token, range_digest, completed, last_run_at, job_run_id
FROM %s.sync_cursors
WHERE asset_class = $1 AND symbol = $2 AND timeframe = $3 AND job_kind = $4`, r.schema)

	var row cursorRow
	err := r.conn.QueryRowCtx(ctx, &row, q, string(key.AssetClass), key.Symbol, key.Timeframe, string(key.JobKind))
	switch {
	case errors.Is(err, sqlx.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("repo: load cursor %s: %w", key, err)
	}
	return &model.SyncCursor{
		Key:         key,
		PageToken:   row.PageToken,
		RangeDigest: row.RangeDigest,
		Completed:   row.Completed,
		LastRunAt:   row.LastRunAt.UTC(),
		JobRunID:    row.JobRunID,
	}, nil
}

// Advance stores c, replacing any previous cursor for the same key.
func (r *CursorRepo) Advance(ctx context.Context, c model.SyncCursor) error {
	q := fmt.Sprintf(`INSERT INTO %s.sync_cursors (
    asset_class, symbol, timeframe, job_kind, page_token, range_digest, completed, last_run_at, job_run_id, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
ON CONFLICT (asset_class, symbol, timeframe, job_kind) DO UPDATE SET
    page_token = EXCLUDED.page_token,
    range_digest = EXCLUDED.range_digest,
    completed = EXCLUDED.completed,
    last_run_at = EXCLUDED.last_run_at,
    job_run_id = EXCLUDED.job_run_id,
    updated_at = NOW()`, r.schema)

	k := c.Key
	if _, err := r.conn.ExecCtx(ctx, q,
		string(k.AssetClass), k.Symbol, k.Timeframe, string(k.JobKind),
		c.PageToken, c.RangeDigest, c.Completed, c.LastRunAt.UTC(), c.JobRunID,
	); err != nil {
		return fmt.Errorf("repo: advance cursor %s: %w", k, err)
	}
	return nil
}
