package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

// JobRunRepo stores job run snapshots and page failures. It implements the
// job tracker's sink interface.
type JobRunRepo struct {
	conn   sqlx.SqlConn
	schema string
}

// SaveRun upserts the latest snapshot of run.
func (r *JobRunRepo) SaveRun(ctx context.Context, run model.JobRun) error {
	q := fmt.Sprintf(`INSERT INTO %s.job_runs (
    id, kind, parameters, status, fetched, rejected, persisted, changed, duplicates, pages, failed_pages,
    error, started_at, finished_at, updated_at
) VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    fetched = EXCLUDED.fetched,
    rejected = EXCLUDED.rejected,
    persisted = EXCLUDED.persisted,
    changed = EXCLUDED.changed,
    duplicates = EXCLUDED.duplicates,
    pages = EXCLUDED.pages,
    failed_pages = EXCLUDED.failed_pages,
    error = EXCLUDED.error,
    finished_at = EXCLUDED.finished_at,
    updated_at = NOW()`, r.schema)

	params := "{}"
	if len(run.Parameters) > 0 {
		params = string(run.Parameters)
	}
	finished := sql.NullTime{}
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}
	c := run.Counters
	if _, err := r.conn.ExecCtx(ctx, q,
		run.ID, string(run.Kind), params, string(run.Status),
		c.Fetched, c.Rejected, c.Persisted, c.Changed, c.Duplicates, c.Pages, c.FailedPages,
		run.Error, run.StartedAt.UTC(), finished,
	); err != nil {
		return fmt.Errorf("repo: save job run %s: %w", run.ID, err)
	}
	return nil
}

// SaveFailure appends a page failure record.
func (r *JobRunRepo) SaveFailure(ctx context.Context, f model.PageFailure) error {
	q := fmt.Sprintf(`INSERT INTO %s.job_page_failures (run_id, symbol, page_token, stage, attempts, error, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, r.schema)
	if _, err := r.conn.ExecCtx(ctx, q, f.RunID, f.Symbol, f.PageToken, f.Stage, f.Attempts, f.Error, f.OccurredAt.UTC()); err != nil {
		return fmt.Errorf("repo: save page failure for run %s: %w", f.RunID, err)
	}
	return nil
}

type jobRunRow struct {
	ID          string       `db:"id"`
	Kind        string       `db:"kind"`
	Parameters  string       `db:"parameters"`
	Status      string       `db:"status"`
	Fetched     int          `db:"fetched"`
	Rejected    int          `db:"rejected"`
	Persisted   int          `db:"persisted"`
	Changed     int          `db:"changed"`
	Duplicates  int          `db:"duplicates"`
	Pages       int          `db:"pages"`
	FailedPages int          `db:"failed_pages"`
	Error       string       `db:"error"`
	StartedAt   time.Time    `db:"started_at"`
	FinishedAt  sql.NullTime `db:"finished_at"`
}

// Get loads a run without its failures; nil when unknown.
func (r *JobRunRepo) Get(ctx context.Context, id string) (*model.JobRun, error) {
	q := fmt.Sprintf(`SELECT id, kind, parameters::text AS parameters, status, fetched, rejected, persisted, changed,
    duplicates, pages, failed_pages, error, started_at, finished_at
FROM %s.job_runs WHERE id = $1`, r.schema)
	var row jobRunRow
	err := r.conn.QueryRowCtx(ctx, &row, q, id)
	switch {
	case errors.Is(err, sqlx.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("repo: load job run %s: %w", id, err)
	}
	run := &model.JobRun{
		ID:         row.ID,
		Kind:       model.JobKind(row.Kind),
		Parameters: []byte(row.Parameters),
		Status:     model.RunStatus(row.Status),
		Counters: model.Counters{
			Fetched: row.Fetched, Rejected: row.Rejected, Persisted: row.Persisted, Changed: row.Changed,
			Duplicates: row.Duplicates, Pages: row.Pages, FailedPages: row.FailedPages,
		},
		Error:     row.Error,
		StartedAt: row.StartedAt.UTC(),
	}
	if row.FinishedAt.Valid {
		t := row.FinishedAt.Time.UTC()
		run.FinishedAt = &t
	}
	return run, nil
}
