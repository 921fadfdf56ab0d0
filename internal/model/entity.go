// Package model defines the canonical entities persisted by the ingestion
// pipeline together with the bookkeeping records (sync cursors, job runs).
package model

import "time"

// EntityKind names a canonical entity type; each maps to one table.
type EntityKind string

const (
	KindStockBar       EntityKind = "stock_bar"
	KindCryptoBar      EntityKind = "crypto_bar"
	KindOptionBar      EntityKind = "option_bar"
	KindAsset          EntityKind = "asset"
	KindOptionContract EntityKind = "option_contract"
	KindNewsArticle    EntityKind = "news_article"
)

// AssetClass is the coarse market segment an entity or cursor belongs to.
type AssetClass string

const (
	ClassStock  AssetClass = "stock"
	ClassCrypto AssetClass = "crypto"
	ClassOption AssetClass = "option"
	ClassNews   AssetClass = "news"
)

// BarKind returns the entity kind of bars in the given class.
func BarKind(class AssetClass) EntityKind {
	switch class {
	case ClassCrypto:
		return KindCryptoBar
	case ClassOption:
		return KindOptionBar
	default:
		return KindStockBar
	}
}

// SourceAlpaca is the provenance source for every entity fetched here.
const SourceAlpaca = "alpaca"

// Provenance records where and when an entity was obtained.
type Provenance struct {
	Source    string
	FetchedAt time.Time
	JobRunID  string
}

// Entity is implemented by every canonical record.
type Entity interface {
	EntityKind() EntityKind
	// NaturalKey identifies the record within its kind; upserts conflict on it.
	NaturalKey() string
}

// Collapse removes entities that share a natural key, keeping the value seen
// last at the position of its first appearance. It returns the number of
// entities dropped.
func Collapse[E Entity](entities []E) ([]E, int) {
	if len(entities) < 2 {
		return entities, 0
	}
	index := make(map[string]int, len(entities))
	out := make([]E, 0, len(entities))
	for _, e := range entities {
		key := e.NaturalKey()
		if i, ok := index[key]; ok {
			out[i] = e
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out, len(entities) - len(out)
}
