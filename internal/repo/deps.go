package repo

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"github.com/tndd/datadoggo-v3-alpaca/pkg/retry"
)

// Dependencies bundles the shared infrastructure the repositories need.
type Dependencies struct {
	DBConn sqlx.SqlConn
	Schema string
	Clock  clockwork.Clock

	// PersistAttempts bounds transaction attempts per batch.
	PersistAttempts int
	PersistBackoff  time.Duration
}

// Set exposes the Postgres-backed stores to the rest of the application.
type Set struct {
	Entities *UpsertRepo
	Cursors  *CursorRepo
	JobRuns  *JobRunRepo
}

// New constructs the repository set, validating required dependencies.
func New(deps Dependencies) (*Set, error) {
	if deps.DBConn == nil {
		return nil, errors.New("repo: missing DBConn dependency")
	}
	if deps.Schema == "" {
		deps.Schema = DefaultSchema
	}
	if err := ValidateSchema(deps.Schema); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	rh := persistRetry(deps.PersistAttempts, deps.PersistBackoff, retry.WithClock(deps.Clock))

	return &Set{
		Entities: newUpsertRepo(deps.DBConn, deps.Schema, rh),
		Cursors:  &CursorRepo{conn: deps.DBConn, schema: deps.Schema},
		JobRuns:  &JobRunRepo{conn: deps.DBConn, schema: deps.Schema},
	}, nil
}
