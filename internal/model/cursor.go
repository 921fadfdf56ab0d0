package model

import "time"

// CursorKey identifies a SyncCursor.
type CursorKey struct {
	AssetClass AssetClass
	Symbol     string
	Timeframe  string
	JobKind    JobKind
}

func (k CursorKey) String() string {
	return string(k.JobKind) + "/" + string(k.AssetClass) + "/" + k.Symbol + "/" + k.Timeframe
}

// SyncCursor remembers how far a (symbol, timeframe, kind) stream has been
// committed. PageToken is the token that fetches the next page to commit; once
// the stream is exhausted it keeps the token of the final page and Completed
// is set.
type SyncCursor struct {
	Key         CursorKey
	PageToken   string
	RangeDigest string
	Completed   bool
	LastRunAt   time.Time
	JobRunID    string
}
