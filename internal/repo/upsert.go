package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/retry"
)

// PersistenceError reports a batch that could not be committed.
type PersistenceError struct {
	Kind     model.EntityKind
	Rows     int
	Attempts int
	// Code is the SQLSTATE of the last failure, when known.
	Code string
	Err  error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("repo: upsert %d %s rows failed after %d attempts", e.Rows, e.Kind, e.Attempts)
	if e.Code != "" {
		msg += " (sqlstate " + e.Code + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UpsertResult summarises a committed batch.
type UpsertResult struct {
	// Written is the number of distinct entities in the committed batch.
	Written int
	// Changed counts rows inserted or actually modified.
	Changed int
}

type transactor interface {
	TransactCtx(ctx context.Context, fn func(context.Context, sqlx.Session) error) error
}

// UpsertRepo writes canonical entities with insert-or-update semantics keyed
// on their natural keys.
type UpsertRepo struct {
	conn   transactor
	schema string
	retry  *retry.Handler
}

func newUpsertRepo(conn transactor, schema string, rh *retry.Handler) *UpsertRepo {
	return &UpsertRepo{conn: conn, schema: schema, retry: rh}
}

// UpsertBatch commits entities of a single kind in one transaction. Entities
// sharing a natural key collapse to the last one. Failed transactions are
// retried as a whole; exhaustion yields *PersistenceError.
func (r *UpsertRepo) UpsertBatch(ctx context.Context, entities []model.Entity) (UpsertResult, error) {
	if len(entities) == 0 {
		return UpsertResult{}, nil
	}
	kind := entities[0].EntityKind()
	for _, e := range entities[1:] {
		if e.EntityKind() != kind {
			return UpsertResult{}, fmt.Errorf("repo: mixed batch of %s and %s", kind, e.EntityKind())
		}
	}
	spec, ok := specFor(kind)
	if !ok {
		return UpsertResult{}, fmt.Errorf("repo: no table for entity kind %q", kind)
	}
	entities, _ = model.Collapse(entities)

	var (
		changed  int64
		attempts int
		lastCode string
	)
	err := r.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		changed = 0
		err := r.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
			n, err := r.execChunks(ctx, session, spec, entities)
			changed = n
			return err
		})
		if err != nil {
			lastCode = sqlState(err)
			logx.WithContext(ctx).Errorf("repo: upsert %d %s rows, attempt %d: %v", len(entities), kind, attempt, err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return UpsertResult{}, err
		}
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Err
		}
		return UpsertResult{}, &PersistenceError{Kind: kind, Rows: len(entities), Attempts: attempts, Code: lastCode, Err: err}
	}
	return UpsertResult{Written: len(entities), Changed: int(changed)}, nil
}

func (r *UpsertRepo) execChunks(ctx context.Context, session sqlx.Session, spec tableSpec, entities []model.Entity) (int64, error) {
	var total int64
	step := spec.rowsPerStatement()
	for start := 0; start < len(entities); start += step {
		end := min(start+step, len(entities))
		chunk := entities[start:end]
		args := make([]any, 0, len(chunk)*len(spec.columns()))
		for _, e := range chunk {
			args = append(args, spec.values(e)...)
		}
		res, err := session.ExecCtx(ctx, spec.upsertSQL(r.schema, len(chunk)), args...)
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// persistRetry builds the retry handler used for batch transactions.
func persistRetry(attempts int, backoff time.Duration, opts ...retry.Option) *retry.Handler {
	return retry.New(retry.Config{MaxAttempts: attempts, BaseDelay: backoff, MaxDelay: 10 * backoff}, opts...)
}
