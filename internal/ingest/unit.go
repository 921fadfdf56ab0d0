package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
	"github.com/tndd/datadoggo-v3-alpaca/internal/normalize"
	"github.com/tndd/datadoggo-v3-alpaca/internal/repo"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/alpaca"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/journal"
)

// Stages recorded on page failures.
const (
	StageFetch   = "fetch"
	StageParse   = "parse"
	StagePersist = "persist"
	StageCursor  = "cursor"
)

// PageError is a page that failed for good.
type PageError struct {
	Unit      string
	PageToken string
	Stage     string
	Attempts  int
	Err       error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("ingest: %s %s page %q after %d attempt(s): %v", e.Unit, e.Stage, e.PageToken, e.Attempts, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// runUnit pages through one unit. Page N+1 is requested only after page N
// has been committed and its cursor advanced.
func (ex *execution) runUnit(ctx context.Context, u Unit) error {
	logger := logx.WithContext(ctx)
	token, done, err := ex.startToken(ctx, u)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ex.fail(ctx, u, &PageError{Unit: u.String(), Stage: StageCursor, Attempts: 1, Err: err})
	}
	if done {
		logger.Infof("ingest: run %s unit %s already complete for this range", ex.runID, u)
		return nil
	}
	// remaining is the record cap left for this unit; zero means uncapped.
	remaining := ex.job.Limit

	// frozen stops cursor movement after a skipped persistence failure so a
	// later run re-fetches the lost page.
	frozen := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := ex.strategy.BuildRequest(ex.deps.Requests, ex.job, u, token, remaining)
		body, attempts, err := ex.fetch(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ex.fail(ctx, u, &PageError{Unit: u.String(), PageToken: token, Stage: StageFetch, Attempts: attempts, Err: err})
		}
		fetchedAt := ex.deps.Clock.Now().UTC()

		page, err := ex.strategy.ParsePage(body)
		if err != nil {
			return ex.fail(ctx, u, &PageError{Unit: u.String(), PageToken: token, Stage: StageParse, Attempts: attempts, Err: err})
		}
		next := page.NextPageToken
		if next != "" && next == token {
			return ex.fail(ctx, u, &PageError{Unit: u.String(), PageToken: token, Stage: StageParse, Attempts: attempts,
				Err: errors.New("next_page_token repeats the current token")})
		}
		if remaining > 0 && len(page.Records) >= remaining {
			page.Records = page.Records[:remaining]
			next = ""
		}

		res := ex.normalizer.Page(normalize.PageContext{
			Kind:      u.Entity,
			Class:     u.Class,
			Timeframe: ex.job.Timeframe,
			Symbol:    u.Symbol,
			Source:    model.SourceAlpaca,
			FetchedAt: fetchedAt,
			JobRunID:  ex.runID,
		}, page.Records)
		ex.recordRejections(ctx, u, token, res.Rejections)
		counts := model.PageCounts{
			Fetched:    len(page.Records),
			Rejected:   len(res.Rejections),
			Duplicates: res.Duplicates,
		}

		pe := ex.commit(ctx, u, token, next, fetchedAt, res.Entities, &counts, frozen)
		ex.recordPage(counts)
		if pe != nil {
			if err := ex.fail(ctx, u, pe); err != nil {
				return err
			}
			frozen = true
		}

		if next == "" {
			logger.Infof("ingest: run %s unit %s complete", ex.runID, u)
			return nil
		}
		if remaining > 0 {
			remaining -= len(page.Records)
		}
		token = next
	}
}

// commit upserts the page's entities and then advances the cursor, both on a
// context detached from cancellation so a page that reached the store is
// never left without its cursor. counts gains the persisted totals.
func (ex *execution) commit(ctx context.Context, u Unit, token, next string, fetchedAt time.Time,
	entities []model.Entity, counts *model.PageCounts, frozen bool) *PageError {
	ctx = context.WithoutCancel(ctx)
	if len(entities) > 0 {
		out, err := ex.deps.Entities.UpsertBatch(ctx, entities)
		if err != nil {
			pe := &PageError{Unit: u.String(), PageToken: token, Stage: StagePersist, Attempts: 1, Err: err}
			var perr *repo.PersistenceError
			if errors.As(err, &perr) {
				pe.Attempts = perr.Attempts
			}
			return pe
		}
		counts.Persisted = out.Written
		counts.Changed = out.Changed
	}
	if frozen {
		return nil
	}
	if err := ex.advance(ctx, u, token, next, fetchedAt); err != nil {
		return &PageError{Unit: u.String(), PageToken: token, Stage: StageCursor, Attempts: 1, Err: err}
	}
	return nil
}

func (ex *execution) recordPage(counts model.PageCounts) {
	if err := ex.deps.Tracker.RecordPage(ex.runID, counts); err != nil {
		logx.Errorf("ingest: record page for run %s: %v", ex.runID, err)
	}
}

// startToken returns where the unit resumes: the stored cursor's token when
// resuming a job over the same range, otherwise the range start. done is set
// when the cursor already completed a range with a fixed end; an open-ended
// range re-fetches its final page to pick up records published since.
func (ex *execution) startToken(ctx context.Context, u Unit) (token string, done bool, err error) {
	if !ex.job.Resume {
		return "", false, nil
	}
	c, err := ex.deps.Cursors.Get(ctx, u.Cursor)
	if err != nil {
		return "", false, err
	}
	if c == nil {
		return "", false, nil
	}
	if c.RangeDigest != ex.digest {
		logx.WithContext(ctx).Infof("ingest: cursor %s belongs to another range, starting over", u)
		return "", false, nil
	}
	if c.Completed && !ex.job.End.IsZero() {
		return c.PageToken, true, nil
	}
	logx.WithContext(ctx).Infof("ingest: unit %s resumes at page %q (completed=%t)", u, c.PageToken, c.Completed)
	return c.PageToken, false, nil
}

// advance records that the page fetched with token is committed. Once the
// stream is exhausted the cursor keeps the final page's token.
func (ex *execution) advance(ctx context.Context, u Unit, token, next string, at time.Time) error {
	c := model.SyncCursor{
		Key:         u.Cursor,
		PageToken:   next,
		RangeDigest: ex.digest,
		JobRunID:    ex.runID,
		LastRunAt:   at,
	}
	if next == "" {
		c.PageToken = token
		c.Completed = true
	}
	return ex.deps.Cursors.Advance(ctx, c)
}

// fail records a failed page and decides whether the job stops: auth errors
// always stop it, other failures stop it in abort mode only.
func (ex *execution) fail(ctx context.Context, u Unit, pe *PageError) error {
	logx.WithContext(ctx).Errorf("ingest: run %s: %v", ex.runID, pe)
	if err := ex.deps.Tracker.RecordFailure(ex.runID, model.PageFailure{
		Symbol:    u.Symbol,
		PageToken: pe.PageToken,
		Stage:     pe.Stage,
		Attempts:  pe.Attempts,
		Error:     pe.Err.Error(),
	}); err != nil {
		logx.Errorf("ingest: record failure for run %s: %v", ex.runID, err)
	}
	if alpaca.IsAuth(pe.Err) || ex.job.Mode != ModeSkip {
		return pe
	}
	ex.noteFailure(pe)
	return nil
}

// fetch performs one page request with retries. Every attempt takes its own
// rate credit and is bounded by FetchTimeout; a timeout counts as a network
// error.
func (ex *execution) fetch(ctx context.Context, req alpaca.Request) ([]byte, int, error) {
	var (
		body     []byte
		attempts int
	)
	err := ex.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		if err := ex.deps.Governor.Acquire(ctx, 1); err != nil {
			return err
		}
		fctx, cancel := context.WithTimeout(ctx, ex.settings.FetchTimeout)
		defer cancel()
		b, err := ex.deps.Fetcher.Fetch(fctx, req)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !isNetworkError(err) {
				err = &alpaca.NetworkError{Op: "GET " + req.Path, Err: err}
			}
			if ctx.Err() == nil && attempt < ex.retry.MaxAttempts() && alpaca.IsTransient(err) {
				logx.WithContext(ctx).Infof("ingest: %s attempt %d failed, retrying: %v", req, attempt, err)
			}
			return err
		}
		body = b
		return nil
	})
	return body, attempts, err
}

func isNetworkError(err error) bool {
	var netErr *alpaca.NetworkError
	return errors.As(err, &netErr)
}

func (ex *execution) recordRejections(ctx context.Context, u Unit, token string, rejections []normalize.Rejection) {
	if len(rejections) == 0 {
		return
	}
	logger := logx.WithContext(ctx)
	logger.Infof("ingest: run %s unit %s page %q rejected %d record(s), first: %v",
		ex.runID, u, token, len(rejections), rejections[0].Err)
	if ex.deadLetter == nil {
		return
	}
	for _, rj := range rejections {
		rec := journal.RejectRecord{
			Kind:      string(u.Entity),
			Symbol:    u.Symbol,
			PageToken: token,
			Index:     rj.Index,
			Record:    map[string]any(rj.Record),
		}
		if rj.Err != nil {
			rec.Field = rj.Err.Field
			rec.Reason = rj.Err.Reason
		}
		if err := ex.deadLetter.Write(rec); err != nil {
			logger.Errorf("ingest: dead-letter write: %v", err)
			return
		}
	}
}
