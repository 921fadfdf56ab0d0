package model

import (
	"encoding/json"
	"time"
)

// JobKind is the unit of work a run performs.
type JobKind string

const (
	JobStockBars   JobKind = "stock"
	JobCryptoBars  JobKind = "crypto"
	JobOptionBars  JobKind = "option"
	JobNews        JobKind = "news"
	JobSyncAssets  JobKind = "sync-assets"
	JobSyncOptions JobKind = "sync-options"
)

// JobKinds lists every supported kind in display order.
var JobKinds = []JobKind{JobStockBars, JobCryptoBars, JobOptionBars, JobNews, JobSyncAssets, JobSyncOptions}

// RunStatus is the lifecycle state of a JobRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunPartial || s == RunFailed
}

// PageCounts are the per-page deltas a worker reports.
type PageCounts struct {
	Fetched    int
	Rejected   int
	Persisted  int
	Changed    int
	Duplicates int
}

// Counters accumulate PageCounts over a run.
type Counters struct {
	Fetched     int `json:"fetched"`
	Rejected    int `json:"rejected"`
	Persisted   int `json:"persisted"`
	Changed     int `json:"changed"`
	Duplicates  int `json:"duplicates"`
	Pages       int `json:"pages"`
	FailedPages int `json:"failed_pages"`
}

// Add folds one page into the totals.
func (c *Counters) Add(p PageCounts) {
	c.Fetched += p.Fetched
	c.Rejected += p.Rejected
	c.Persisted += p.Persisted
	c.Changed += p.Changed
	c.Duplicates += p.Duplicates
	c.Pages++
}

// RejectRatio is rejected/fetched, zero when nothing was fetched.
func (c Counters) RejectRatio() float64 {
	if c.Fetched == 0 {
		return 0
	}
	return float64(c.Rejected) / float64(c.Fetched)
}

// PageFailure describes a page that could not be fetched or persisted.
type PageFailure struct {
	RunID      string    `json:"run_id"`
	Symbol     string    `json:"symbol"`
	PageToken  string    `json:"page_token"`
	Stage      string    `json:"stage"` // fetch | parse | persist
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// JobRun is one execution of an ingestion job.
type JobRun struct {
	ID         string          `json:"id"`
	Kind       JobKind         `json:"kind"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Status     RunStatus       `json:"status"`
	Counters   Counters        `json:"counters"`
	Failures   []PageFailure   `json:"failures,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r JobRun) Clone() JobRun {
	out := r
	if r.Parameters != nil {
		out.Parameters = append(json.RawMessage(nil), r.Parameters...)
	}
	if r.Failures != nil {
		out.Failures = append([]PageFailure(nil), r.Failures...)
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
