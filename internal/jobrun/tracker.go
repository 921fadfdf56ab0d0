// Package jobrun tracks ingestion runs in memory and fans their snapshots
// out to persistent sinks in the background.
package jobrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

// ErrUnknownRun is returned for run ids the tracker never started.
var ErrUnknownRun = errors.New("jobrun: unknown run")

const sinkTimeout = 10 * time.Second

// Tracker owns the authoritative state of every run it started. Workers
// report into it concurrently; sinks only ever see copies.
type Tracker struct {
	clock clockwork.Clock
	sinks []Sink
	newID func() string

	mu       sync.Mutex
	runs     map[string]*model.JobRun
	dirty    map[string]struct{}
	failures []model.PageFailure
	closed   bool

	wake    chan struct{}
	flushes chan chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock injects the clock used for timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithIDGenerator overrides uuid-based run ids.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.newID = fn
		}
	}
}

// NewTracker starts the background publisher. Call Close to stop it.
func NewTracker(sinks []Sink, opts ...Option) *Tracker {
	t := &Tracker{
		clock:   clockwork.NewRealClock(),
		sinks:   sinks,
		newID:   uuid.NewString,
		runs:    make(map[string]*model.JobRun),
		dirty:   make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		flushes: make(chan chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.loop()
	return t
}

// Start registers a pending job and returns its id. params is stored as the
// run's JSON parameters.
func (t *Tracker) Start(kind model.JobKind, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("jobrun: encode parameters: %w", err)
	}
	id := t.newID()
	run := &model.JobRun{
		ID:         id,
		Kind:       kind,
		Parameters: raw,
		Status:     model.RunPending,
		StartedAt:  t.clock.Now().UTC(),
	}
	t.mu.Lock()
	t.runs[id] = run
	t.markLocked(id)
	t.mu.Unlock()
	t.notify()
	return id, nil
}

// Begin moves a pending run to running once its workers are about to start.
func (t *Tracker) Begin(runID string) error {
	t.mu.Lock()
	run, ok := t.runs[runID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownRun
	}
	if run.Status != model.RunPending {
		status := run.Status
		t.mu.Unlock()
		return fmt.Errorf("jobrun: run %s is %s, not pending", runID, status)
	}
	run.Status = model.RunRunning
	t.markLocked(runID)
	t.mu.Unlock()
	t.notify()
	return nil
}

// RecordPage folds one committed page into the run's counters.
func (t *Tracker) RecordPage(runID string, counts model.PageCounts) error {
	t.mu.Lock()
	run, ok := t.runs[runID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownRun
	}
	run.Counters.Add(counts)
	kind := run.Kind
	t.markLocked(runID)
	t.mu.Unlock()

	observePage(kind, counts)
	t.notify()
	return nil
}

// RecordFailure appends a page failure to the run.
func (t *Tracker) RecordFailure(runID string, f model.PageFailure) error {
	f.RunID = runID
	if f.OccurredAt.IsZero() {
		f.OccurredAt = t.clock.Now().UTC()
	}
	t.mu.Lock()
	run, ok := t.runs[runID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownRun
	}
	run.Failures = append(run.Failures, f)
	run.Counters.FailedPages++
	kind := run.Kind
	t.failures = append(t.failures, f)
	t.markLocked(runID)
	t.mu.Unlock()

	metricFailures.Inc(string(kind), f.Stage)
	t.notify()
	return nil
}

// RecordAlert logs an operator alert against the run and counts it.
func (t *Tracker) RecordAlert(ctx context.Context, runID, reason, detail string) {
	t.mu.Lock()
	run, ok := t.runs[runID]
	var kind model.JobKind
	if ok {
		kind = run.Kind
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	logx.WithContext(ctx).Errorf("ALERT run=%s kind=%s reason=%s: %s", runID, kind, reason, detail)
	metricAlerts.Inc(string(kind), reason)
}

// Snapshot returns a copy of the run's current state.
func (t *Tracker) Snapshot(runID string) (model.JobRun, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		return model.JobRun{}, false
	}
	return run.Clone(), true
}

// Finish moves the run to a terminal status and waits until every sink has
// seen the final snapshot, or ctx ends.
func (t *Tracker) Finish(ctx context.Context, runID string, status model.RunStatus, cause error) (model.JobRun, error) {
	if !status.Terminal() {
		return model.JobRun{}, fmt.Errorf("jobrun: %q is not a terminal status", status)
	}
	now := t.clock.Now().UTC()
	t.mu.Lock()
	run, ok := t.runs[runID]
	if !ok {
		t.mu.Unlock()
		return model.JobRun{}, ErrUnknownRun
	}
	if !run.Status.Terminal() {
		run.Status = status
		run.FinishedAt = &now
		if cause != nil {
			run.Error = cause.Error()
		}
		t.markLocked(runID)
	}
	final := run.Clone()
	t.mu.Unlock()

	metricRuns.Inc(string(final.Kind), string(final.Status))
	metricRunDuration.Observe(final.FinishedAt.Sub(final.StartedAt).Milliseconds(), string(final.Kind))
	logx.WithContext(ctx).Infow("jobrun: finished",
		logx.Field("run", final.ID),
		logx.Field("kind", final.Kind),
		logx.Field("status", final.Status),
		logx.Field("fetched", final.Counters.Fetched),
		logx.Field("rejected", final.Counters.Rejected),
		logx.Field("persisted", final.Counters.Persisted),
		logx.Field("changed", final.Counters.Changed),
		logx.Field("failed_pages", final.Counters.FailedPages),
	)

	return final, t.Flush(ctx)
}

// Flush blocks until everything recorded so far was handed to the sinks.
func (t *Tracker) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case t.flushes <- ack:
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close publishes pending snapshots and stops the background goroutine.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	close(t.stop)
	<-t.done
}

func (t *Tracker) markLocked(runID string) {
	t.dirty[runID] = struct{}{}
}

// notify never blocks; a pending wake-up already covers this change.
func (t *Tracker) notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) loop() {
	defer close(t.done)
	for {
		select {
		case <-t.wake:
			t.publish()
		case ack := <-t.flushes:
			t.publish()
			close(ack)
		case <-t.stop:
			t.publish()
			return
		}
	}
}

// publish drains the dirty set, so runs updated several times between
// wake-ups are written once with their latest state.
func (t *Tracker) publish() {
	t.mu.Lock()
	snapshots := make([]model.JobRun, 0, len(t.dirty))
	for id := range t.dirty {
		snapshots = append(snapshots, t.runs[id].Clone())
	}
	clear(t.dirty)
	failures := t.failures
	t.failures = nil
	t.mu.Unlock()

	if len(snapshots) == 0 && len(failures) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for _, sink := range t.sinks {
		for _, run := range snapshots {
			if err := sink.SaveRun(ctx, run); err != nil {
				logx.WithContext(ctx).Errorf("jobrun: save run %s: %v", run.ID, err)
			}
		}
		// Runs first: failure rows reference them.
		for _, f := range failures {
			if err := sink.SaveFailure(ctx, f); err != nil {
				logx.WithContext(ctx).Errorf("jobrun: save failure for run %s: %v", f.RunID, err)
			}
		}
	}
}
