// Package normalize validates provider records and maps them onto canonical
// entities. It performs no I/O.
package normalize

import (
	"errors"
	"sync"
	"time"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/alpaca"
)

// PageContext carries what the records of one page do not say about
// themselves.
type PageContext struct {
	Kind      model.EntityKind
	Class     model.AssetClass
	Timeframe string
	// Symbol is the unit's symbol, used when records omit it.
	Symbol    string
	Source    string
	FetchedAt time.Time
	JobRunID  string
}

func (pc PageContext) provenance() model.Provenance {
	source := pc.Source
	if source == "" {
		source = model.SourceAlpaca
	}
	return model.Provenance{Source: source, FetchedAt: pc.FetchedAt.UTC(), JobRunID: pc.JobRunID}
}

// Rejection is a record that failed validation.
type Rejection struct {
	Index  int
	Err    *ValidationError
	Record alpaca.Record
}

// Result is the outcome of normalising one page.
type Result struct {
	Entities   []model.Entity
	Rejections []Rejection
	// Duplicates counts records whose key already appeared earlier in the
	// page or earlier in the run.
	Duplicates int
}

// Normalizer maps pages for a single job run. Keys seen in earlier pages are
// remembered so overlaps can be counted; the later value always wins.
type Normalizer struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns a Normalizer with an empty run history.
func New() *Normalizer {
	return &Normalizer{seen: make(map[string]struct{})}
}

// Page validates and maps records. Valid entities keep the order in which
// their key first appeared; invalid records are returned as rejections.
func (n *Normalizer) Page(pc PageContext, records []alpaca.Record) Result {
	var res Result
	mapFn, ok := mappers[pc.Kind]
	if !ok {
		for i, rec := range records {
			res.Rejections = append(res.Rejections, Rejection{Index: i, Err: unsupported(pc.Kind), Record: rec})
		}
		return res
	}

	entities := make([]model.Entity, 0, len(records))
	for i, rec := range records {
		if rec == nil {
			res.Rejections = append(res.Rejections, Rejection{Index: i, Err: &ValidationError{Reason: "null record"}})
			continue
		}
		e, err := mapFn(pc, rec)
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				verr = &ValidationError{Reason: err.Error()}
			}
			res.Rejections = append(res.Rejections, Rejection{Index: i, Err: verr, Record: rec})
			continue
		}
		entities = append(entities, e)
	}

	entities, inPage := model.Collapse(entities)
	res.Entities = entities
	res.Duplicates = inPage

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range entities {
		key := string(e.EntityKind()) + "#" + e.NaturalKey()
		if _, dup := n.seen[key]; dup {
			res.Duplicates++
			continue
		}
		n.seen[key] = struct{}{}
	}
	return res
}
