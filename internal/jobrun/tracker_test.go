package jobrun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tndd/datadoggo-v3-alpaca/internal/cache"
	"github.com/tndd/datadoggo-v3-alpaca/internal/memstore"
	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

func newTestTracker(t *testing.T, sinks ...Sink) (*Tracker, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	n := 0
	tr := NewTracker(sinks, WithClock(clock), WithIDGenerator(func() string {
		n++
		return "run-" + string(rune('0'+n))
	}))
	t.Cleanup(tr.Close)
	return tr, clock
}

func TestTrackerLifecycle(t *testing.T) {
	store := memstore.New()
	tr, clock := newTestTracker(t, store)
	ctx := context.Background()

	id, err := tr.Start(model.JobStockBars, map[string]any{"symbols": []string{"AAPL"}})
	require.NoError(t, err)
	assert.Equal(t, "run-1", id)

	require.NoError(t, tr.RecordPage(id, model.PageCounts{Fetched: 5, Persisted: 5, Changed: 5}))
	require.NoError(t, tr.RecordPage(id, model.PageCounts{Fetched: 5, Rejected: 1, Persisted: 4, Changed: 4}))
	require.NoError(t, tr.RecordFailure(id, model.PageFailure{Symbol: "AAPL", Stage: "fetch", Attempts: 3, Error: "boom"}))

	clock.Advance(time.Minute)
	run, err := tr.Finish(ctx, id, model.RunPartial, errors.New("1 page failed"))
	require.NoError(t, err)
	assert.Equal(t, model.RunPartial, run.Status)
	assert.Equal(t, model.Counters{Fetched: 10, Rejected: 1, Persisted: 9, Changed: 9, Pages: 2, FailedPages: 1}, run.Counters)
	assert.Equal(t, "1 page failed", run.Error)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, time.Minute, run.FinishedAt.Sub(run.StartedAt))
	assert.JSONEq(t, `{"symbols":["AAPL"]}`, string(run.Parameters))

	stored, ok := store.Run(id)
	require.True(t, ok)
	assert.Equal(t, model.RunPartial, stored.Status)
	assert.Equal(t, run.Counters, stored.Counters)
	require.Len(t, stored.Failures, 1)
	assert.Equal(t, id, stored.Failures[0].RunID)
	assert.False(t, stored.Failures[0].OccurredAt.IsZero())
}

func TestTrackerFinishIsFinal(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	id, err := tr.Start(model.JobNews, nil)
	require.NoError(t, err)

	_, err = tr.Finish(ctx, id, model.RunRunning, nil)
	require.Error(t, err)

	first, err := tr.Finish(ctx, id, model.RunSucceeded, nil)
	require.NoError(t, err)
	second, err := tr.Finish(ctx, id, model.RunFailed, errors.New("late"))
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Empty(t, second.Error)
}

func TestTrackerPendingUntilBegin(t *testing.T) {
	store := memstore.New()
	tr, _ := newTestTracker(t, store)
	ctx := context.Background()

	id, err := tr.Start(model.JobCryptoBars, nil)
	require.NoError(t, err)
	snap, ok := tr.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, model.RunPending, snap.Status)
	require.NoError(t, tr.Flush(ctx))
	stored, ok := store.Run(id)
	require.True(t, ok)
	assert.Equal(t, model.RunPending, stored.Status)

	require.NoError(t, tr.Begin(id))
	snap, _ = tr.Snapshot(id)
	assert.Equal(t, model.RunRunning, snap.Status)
	assert.Error(t, tr.Begin(id))

	_, err = tr.Finish(ctx, id, model.RunSucceeded, nil)
	require.NoError(t, err)
	assert.Error(t, tr.Begin(id))
}

func TestTrackerUnknownRun(t *testing.T) {
	tr, _ := newTestTracker(t)
	assert.ErrorIs(t, tr.Begin("nope"), ErrUnknownRun)
	assert.ErrorIs(t, tr.RecordPage("nope", model.PageCounts{}), ErrUnknownRun)
	assert.ErrorIs(t, tr.RecordFailure("nope", model.PageFailure{}), ErrUnknownRun)
	_, err := tr.Finish(context.Background(), "nope", model.RunFailed, nil)
	assert.ErrorIs(t, err, ErrUnknownRun)
}

// gateSink blocks SaveRun until released so updates pile up behind it.
type gateSink struct {
	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
	saved   []model.JobRun
}

func (s *gateSink) SaveRun(_ context.Context, run model.JobRun) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.gate
	s.mu.Lock()
	s.saved = append(s.saved, run)
	s.mu.Unlock()
	return nil
}

func (s *gateSink) SaveFailure(context.Context, model.PageFailure) error { return nil }

func TestTrackerCoalescesWhileSinkIsBusy(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	tr, _ := newTestTracker(t, sink)

	id, err := tr.Start(model.JobStockBars, nil)
	require.NoError(t, err)
	<-sink.entered

	// The publisher is stuck on the first snapshot; these must not block.
	for i := 0; i < 100; i++ {
		require.NoError(t, tr.RecordPage(id, model.PageCounts{Fetched: 1}))
	}
	close(sink.gate)

	run, err := tr.Finish(context.Background(), id, model.RunSucceeded, nil)
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Less(t, len(sink.saved), 102)
	last := sink.saved[len(sink.saved)-1]
	assert.Equal(t, model.RunSucceeded, last.Status)
	assert.Equal(t, 100, last.Counters.Fetched)
	assert.Equal(t, run.Counters, last.Counters)
}

type failingSink struct{}

func (failingSink) SaveRun(context.Context, model.JobRun) error { return errors.New("down") }
func (failingSink) SaveFailure(context.Context, model.PageFailure) error {
	return errors.New("down")
}

func TestTrackerSinkErrorsDoNotStopOtherSinks(t *testing.T) {
	store := memstore.New()
	tr, _ := newTestTracker(t, failingSink{}, store)
	id, err := tr.Start(model.JobSyncAssets, nil)
	require.NoError(t, err)
	_, err = tr.Finish(context.Background(), id, model.RunSucceeded, nil)
	require.NoError(t, err)

	stored, ok := store.Run(id)
	require.True(t, ok)
	assert.Equal(t, model.RunSucceeded, stored.Status)
}

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]int
}

func (f *fakeRedis) SetexCtx(_ context.Context, key, value string, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.ttls[key] = seconds
	return nil
}

func TestRedisMirror(t *testing.T) {
	redis := &fakeRedis{values: map[string]string{}, ttls: map[string]int{}}
	mirror := NewRedisMirror(redis, cache.TTLSet{Active: time.Minute, Finished: time.Hour})
	ctx := context.Background()

	run := model.JobRun{ID: "abc", Kind: model.JobNews, Status: model.RunRunning}
	require.NoError(t, mirror.SaveRun(ctx, run))
	assert.Equal(t, 60, redis.ttls[cache.JobRunKey("abc")])
	assert.Contains(t, redis.values[cache.JobRunKey("abc")], `"status":"running"`)
	assert.Equal(t, "abc", redis.values[cache.LatestJobRunKey(model.JobNews)])

	run.Status = model.RunSucceeded
	require.NoError(t, mirror.SaveRun(ctx, run))
	assert.Equal(t, 3600, redis.ttls[cache.JobRunKey("abc")])
}
