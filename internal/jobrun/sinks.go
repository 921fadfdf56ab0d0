package jobrun

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tndd/datadoggo-v3-alpaca/internal/cache"
	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

// Sink receives run snapshots and page failures. SaveRun must be an upsert:
// the same run is saved repeatedly as it progresses.
type Sink interface {
	SaveRun(ctx context.Context, run model.JobRun) error
	SaveFailure(ctx context.Context, f model.PageFailure) error
}

// setexer is the subset of *redis.Redis the mirror needs.
type setexer interface {
	SetexCtx(ctx context.Context, key, value string, seconds int) error
}

// RedisMirror publishes the latest JSON snapshot of each run so operators can
// watch progress without querying Postgres.
type RedisMirror struct {
	client setexer
	ttl    cache.TTLSet
}

// NewRedisMirror wraps a go-zero redis client.
func NewRedisMirror(client setexer, ttl cache.TTLSet) *RedisMirror {
	return &RedisMirror{client: client, ttl: ttl}
}

func (m *RedisMirror) SaveRun(ctx context.Context, run model.JobRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("jobrun: encode snapshot %s: %w", run.ID, err)
	}
	seconds := int(m.ttl.For(run.Status).Seconds())
	if seconds <= 0 {
		return nil
	}
	if err := m.client.SetexCtx(ctx, cache.JobRunKey(run.ID), string(payload), seconds); err != nil {
		return fmt.Errorf("jobrun: mirror run %s: %w", run.ID, err)
	}
	latest := int(m.ttl.Finished.Seconds())
	if latest <= 0 {
		return nil
	}
	if err := m.client.SetexCtx(ctx, cache.LatestJobRunKey(run.Kind), run.ID, latest); err != nil {
		return fmt.Errorf("jobrun: mirror latest %s: %w", run.Kind, err)
	}
	return nil
}

// SaveFailure is a no-op; failures travel inside the run snapshot.
func (m *RedisMirror) SaveFailure(context.Context, model.PageFailure) error { return nil }
