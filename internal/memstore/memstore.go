// Package memstore keeps entities, cursors and job runs in process memory.
// It backs dry runs and tests with the same upsert semantics as Postgres.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
	"github.com/tndd/datadoggo-v3-alpaca/internal/repo"
)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	entities map[model.EntityKind]map[string]model.Entity
	cursors  map[model.CursorKey]model.SyncCursor
	runs     map[string]model.JobRun
	failures map[string][]model.PageFailure
	batches  int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entities: make(map[model.EntityKind]map[string]model.Entity),
		cursors:  make(map[model.CursorKey]model.SyncCursor),
		runs:     make(map[string]model.JobRun),
		failures: make(map[string][]model.PageFailure),
	}
}

// UpsertBatch mirrors repo.UpsertRepo.UpsertBatch: rows are keyed on their
// natural key, identical content is not counted as a change and older news
// revisions never replace newer ones.
func (s *Store) UpsertBatch(ctx context.Context, entities []model.Entity) (repo.UpsertResult, error) {
	if len(entities) == 0 {
		return repo.UpsertResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return repo.UpsertResult{}, err
	}
	kind := entities[0].EntityKind()
	for _, e := range entities[1:] {
		if e.EntityKind() != kind {
			return repo.UpsertResult{}, fmt.Errorf("memstore: mixed batch of %s and %s", kind, e.EntityKind())
		}
	}
	entities, _ = model.Collapse(entities)

	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.entities[kind]
	if table == nil {
		table = make(map[string]model.Entity)
		s.entities[kind] = table
	}
	changed := 0
	for _, e := range entities {
		key := e.NaturalKey()
		prev, exists := table[key]
		if exists {
			if sameContent(prev, e) || olderRevision(prev, e) {
				continue
			}
		}
		table[key] = e
		changed++
	}
	s.batches++
	return repo.UpsertResult{Written: len(entities), Changed: changed}, nil
}

func sameContent(a, b model.Entity) bool {
	return reflect.DeepEqual(withoutProvenance(a), withoutProvenance(b))
}

func olderRevision(stored, incoming model.Entity) bool {
	prev, ok := stored.(model.NewsArticle)
	if !ok {
		return false
	}
	next := incoming.(model.NewsArticle)
	return next.EffectiveTime().Before(prev.EffectiveTime())
}

func withoutProvenance(e model.Entity) model.Entity {
	switch v := e.(type) {
	case model.Bar:
		v.Provenance = model.Provenance{}
		return v
	case model.Asset:
		v.Provenance = model.Provenance{}
		return v
	case model.OptionContract:
		v.Provenance = model.Provenance{}
		return v
	case model.NewsArticle:
		v.Provenance = model.Provenance{}
		return v
	}
	return e
}

// Entities returns the stored entities of kind ordered by natural key.
func (s *Store) Entities(kind model.EntityKind) []model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table := s.entities[kind]
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]model.Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, table[k])
	}
	return out
}

// Count returns the number of stored entities of kind.
func (s *Store) Count(kind model.EntityKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities[kind])
}

// Batches returns how many non-empty batches were committed.
func (s *Store) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

// Get returns the cursor stored for key, or nil.
func (s *Store) Get(_ context.Context, key model.CursorKey) (*model.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[key]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Advance replaces the cursor for c.Key.
func (s *Store) Advance(_ context.Context, c model.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[c.Key] = c
	return nil
}

// SaveRun keeps the latest snapshot of run.
func (s *Store) SaveRun(_ context.Context, run model.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run = run.Clone()
	run.Failures = nil
	s.runs[run.ID] = run
	return nil
}

// SaveFailure appends f to its run's failure list.
func (s *Store) SaveFailure(_ context.Context, f model.PageFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[f.RunID] = append(s.failures[f.RunID], f)
	return nil
}

// Run returns the stored run with its failures attached.
func (s *Store) Run(id string) (model.JobRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return model.JobRun{}, false
	}
	run = run.Clone()
	run.Failures = append([]model.PageFailure(nil), s.failures[id]...)
	return run, true
}
