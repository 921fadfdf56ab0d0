package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"

	"github.com/tndd/datadoggo-v3-alpaca/internal/jobrun"
	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
	"github.com/tndd/datadoggo-v3-alpaca/internal/normalize"
	"github.com/tndd/datadoggo-v3-alpaca/internal/repo"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/alpaca"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/journal"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/retry"
)

// ErrRejectThreshold marks runs degraded by too many rejected records.
var ErrRejectThreshold = errors.New("ingest: reject threshold exceeded")

// Fetcher performs one provider request. *alpaca.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req alpaca.Request) ([]byte, error)
}

// Acquirer hands out rate credits. *ratelimit.Governor implements it.
type Acquirer interface {
	Acquire(ctx context.Context, n int) error
}

// EntityWriter commits normalised entities.
type EntityWriter interface {
	UpsertBatch(ctx context.Context, entities []model.Entity) (repo.UpsertResult, error)
}

// CursorStore persists per-unit progress.
type CursorStore interface {
	Get(ctx context.Context, key model.CursorKey) (*model.SyncCursor, error)
	Advance(ctx context.Context, c model.SyncCursor) error
}

// Settings tunes the runner; see config.IngestConf for the file form.
type Settings struct {
	Workers       int
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxRetryAfter time.Duration
	FetchTimeout  time.Duration

	// RejectThreshold is the rejected/fetched ratio above which an alert is
	// raised; zero disables the check.
	RejectThreshold      float64
	RejectThresholdFatal bool
	// DeadLetterDir receives rejected records when set.
	DeadLetterDir string
}

// Dependencies are the collaborators a Runner drives.
type Dependencies struct {
	Fetcher  Fetcher
	Requests *alpaca.RequestBuilder
	Governor Acquirer
	Entities EntityWriter
	Cursors  CursorStore
	Tracker  *jobrun.Tracker
	Clock    clockwork.Clock
}

// Runner executes jobs. It is safe to run several jobs concurrently; they
// share the governor.
type Runner struct {
	settings Settings
	deps     Dependencies
	retry    *retry.Handler
	sessions *sessions
}

// NewRunner checks deps and fills unset settings with defaults.
func NewRunner(settings Settings, deps Dependencies) (*Runner, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("ingest: missing Fetcher dependency")
	case deps.Governor == nil:
		return nil, errors.New("ingest: missing Governor dependency")
	case deps.Entities == nil:
		return nil, errors.New("ingest: missing Entities dependency")
	case deps.Cursors == nil:
		return nil, errors.New("ingest: missing Cursors dependency")
	case deps.Tracker == nil:
		return nil, errors.New("ingest: missing Tracker dependency")
	}
	if deps.Requests == nil {
		deps.Requests = alpaca.NewRequestBuilder(nil)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if settings.Workers <= 0 {
		settings.Workers = 4
	}
	if settings.FetchTimeout <= 0 {
		settings.FetchTimeout = 30 * time.Second
	}
	rh := retry.New(retry.Config{
		MaxAttempts: settings.MaxAttempts,
		BaseDelay:   settings.BaseBackoff,
		MaxDelay:    settings.MaxBackoff,
		MaxHint:     settings.MaxRetryAfter,
	},
		retry.WithClock(deps.Clock),
		retry.WithClassifier(alpaca.IsTransient),
	)
	return &Runner{settings: settings, deps: deps, retry: rh, sessions: newSessions()}, nil
}

// Run validates job, pages every unit to completion and returns the final
// JobRun. The error is non-nil when the run did not succeed in full: a
// *ConfigError before anything started, otherwise the cause that stopped or
// degraded the run.
func (r *Runner) Run(ctx context.Context, job Job) (model.JobRun, error) {
	if err := job.Validate(); err != nil {
		return model.JobRun{}, err
	}
	applyDefaultRange(&job, r.deps.Clock.Now(), r.sessions)
	strategy := strategies[job.Kind]

	runID, err := r.deps.Tracker.Start(job.Kind, job)
	if err != nil {
		return model.JobRun{}, err
	}
	logger := logx.WithContext(ctx)
	logger.Infof("ingest: run %s started kind=%s symbols=%v timeframe=%s start=%s end=%s mode=%s",
		runID, job.Kind, job.Symbols, job.Timeframe, formatBound(job.Start), formatBound(job.End), job.Mode)

	ex := &execution{
		Runner:     r,
		job:        job,
		strategy:   strategy,
		runID:      runID,
		digest:     job.RangeDigest(),
		normalizer: normalize.New(),
	}
	if r.settings.DeadLetterDir != "" {
		w, err := journal.NewWriter(r.settings.DeadLetterDir, runID)
		if err != nil {
			logger.Errorf("ingest: dead-letter disabled: %v", err)
		} else {
			ex.deadLetter = w
			defer func() {
				if err := w.Close(); err != nil {
					logger.Errorf("ingest: close dead-letter %s: %v", w.Path(), err)
				}
			}()
		}
	}

	if err := r.deps.Tracker.Begin(runID); err != nil {
		logger.Errorf("ingest: begin run %s: %v", runID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.settings.Workers)
	for _, unit := range strategy.Units(job) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error { return ex.runUnit(gctx, unit) })
	}
	runErr := g.Wait()

	status, cause := ex.verdict(ctx, runErr)
	if status == model.RunSucceeded {
		status, cause = ex.checkRejects(ctx)
	}
	final, err := r.deps.Tracker.Finish(context.WithoutCancel(ctx), runID, status, cause)
	if err != nil {
		logger.Errorf("ingest: flush run %s: %v", runID, err)
	}
	return final, cause
}

// execution is the state of one Run shared by its workers.
type execution struct {
	*Runner
	job        Job
	strategy   Strategy
	runID      string
	digest     string
	normalizer *normalize.Normalizer
	deadLetter *journal.Writer

	mu     sync.Mutex
	failed []error
}

func (ex *execution) noteFailure(err error) {
	ex.mu.Lock()
	ex.failed = append(ex.failed, err)
	ex.mu.Unlock()
}

// verdict maps how the workers ended onto a terminal status.
func (ex *execution) verdict(ctx context.Context, runErr error) (model.RunStatus, error) {
	snap, _ := ex.deps.Tracker.Snapshot(ex.runID)
	persistedAny := snap.Counters.Persisted > 0

	ex.mu.Lock()
	failures := errors.Join(ex.failed...)
	ex.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		cause := fmt.Errorf("ingest: run cancelled: %w", context.Cause(ctx))
		if persistedAny {
			return model.RunPartial, cause
		}
		return model.RunFailed, cause
	case runErr != nil:
		return model.RunFailed, runErr
	case failures != nil:
		if persistedAny {
			return model.RunPartial, failures
		}
		return model.RunFailed, failures
	default:
		return model.RunSucceeded, nil
	}
}

func (ex *execution) checkRejects(ctx context.Context) (model.RunStatus, error) {
	threshold := ex.settings.RejectThreshold
	if threshold <= 0 {
		return model.RunSucceeded, nil
	}
	snap, _ := ex.deps.Tracker.Snapshot(ex.runID)
	ratio := snap.Counters.RejectRatio()
	if ratio <= threshold {
		return model.RunSucceeded, nil
	}
	detail := fmt.Sprintf("rejected %d of %d records (%.2f%% > %.2f%%)",
		snap.Counters.Rejected, snap.Counters.Fetched, ratio*100, threshold*100)
	ex.deps.Tracker.RecordAlert(ctx, ex.runID, "reject_threshold", detail)
	if ex.settings.RejectThresholdFatal {
		return model.RunPartial, fmt.Errorf("%w: %s", ErrRejectThreshold, detail)
	}
	return model.RunSucceeded, nil
}
