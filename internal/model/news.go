package model

import "time"

// NewsArticle is a provider news item. Natural key: provider id.
type NewsArticle struct {
	ID       string
	Headline string
	Summary  *string
	Content  *string
	Author   *string
	URL      string
	// Publisher is the provider's "source" field (benzinga, ...).
	Publisher *string
	Symbols   []string
	CreatedAt time.Time
	UpdatedAt *time.Time

	Provenance
}

func (n NewsArticle) EntityKind() EntityKind { return KindNewsArticle }

func (n NewsArticle) NaturalKey() string { return n.ID }

// EffectiveTime is the instant used to order revisions of the same article.
func (n NewsArticle) EffectiveTime() time.Time {
	if n.UpdatedAt != nil {
		return *n.UpdatedAt
	}
	return n.CreatedAt
}
