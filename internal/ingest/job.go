// Package ingest drives paginated fetches from the provider through
// normalisation into the repositories, one worker per unit of work.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

// FailureMode decides what happens after a page fails for good.
type FailureMode string

const (
	// ModeAbort cancels the whole job on the first failed page.
	ModeAbort FailureMode = "abort"
	// ModeSkip records the failure and carries on (best effort).
	ModeSkip FailureMode = "skip"
)

// Asset class filters accepted by sync-assets.
const (
	AssetClassEquity = "us_equity"
	AssetClassCrypto = "crypto"
	AssetClassAll    = "all"
)

const expirationLayout = "2006-01-02"

// ConfigError rejects a job descriptor before anything is fetched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "ingest: invalid job: " + e.Reason
	}
	return fmt.Sprintf("ingest: invalid job: %s: %s", e.Field, e.Reason)
}

// Job describes one ingestion run.
type Job struct {
	Kind      model.JobKind `json:"kind"`
	Symbols   []string      `json:"symbols,omitempty"`
	Timeframe string        `json:"timeframe,omitempty"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	// Limit caps the records one unit ingests per run; zero means no cap.
	// Page sizes come from the provider configuration.
	Limit int `json:"limit,omitempty"`

	AssetClass    string `json:"asset_class,omitempty"`
	ExpirationGTE string `json:"expiration_gte,omitempty"`
	ExpirationLTE string `json:"expiration_lte,omitempty"`

	IncludeContent     bool `json:"include_content,omitempty"`
	ExcludeContentless bool `json:"exclude_contentless,omitempty"`

	// Resume continues from stored cursors whose range matches this job.
	Resume bool        `json:"resume"`
	Mode   FailureMode `json:"mode,omitempty"`
}

// Validate normalises the descriptor in place and reports the first problem
// as *ConfigError.
func (j *Job) Validate() error {
	if _, ok := strategies[j.Kind]; !ok {
		return &ConfigError{Field: "kind", Reason: fmt.Sprintf("unsupported kind %q", j.Kind)}
	}
	j.Symbols = cleanSymbols(j.Symbols)

	switch j.Mode {
	case "":
		j.Mode = ModeAbort
	case ModeAbort, ModeSkip:
	default:
		return &ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown failure mode %q", j.Mode)}
	}
	if j.Limit < 0 {
		return &ConfigError{Field: "limit", Reason: "must not be negative"}
	}

	switch j.Kind {
	case model.JobStockBars, model.JobCryptoBars, model.JobOptionBars:
		if len(j.Symbols) == 0 {
			return &ConfigError{Field: "symbols", Reason: fmt.Sprintf("%s bars need at least one symbol", j.Kind)}
		}
		if j.Timeframe == "" {
			j.Timeframe = "1Day"
		}
		tf, err := model.ParseTimeframe(j.Timeframe)
		if err != nil {
			return &ConfigError{Field: "timeframe", Reason: err.Error()}
		}
		j.Timeframe = tf
	case model.JobNews:
		j.Timeframe = ""
	case model.JobSyncAssets:
		j.Timeframe = ""
		switch j.AssetClass {
		case "":
			j.AssetClass = AssetClassAll
		case AssetClassEquity, AssetClassCrypto, AssetClassAll:
		default:
			return &ConfigError{Field: "asset_class", Reason: fmt.Sprintf("unknown asset class %q", j.AssetClass)}
		}
	case model.JobSyncOptions:
		j.Timeframe = ""
		if len(j.Symbols) == 0 {
			return &ConfigError{Field: "symbols", Reason: "option contract sync needs underlying symbols"}
		}
		if err := checkDate("expiration_gte", j.ExpirationGTE); err != nil {
			return err
		}
		if err := checkDate("expiration_lte", j.ExpirationLTE); err != nil {
			return err
		}
		if j.ExpirationGTE != "" && j.ExpirationLTE != "" && j.ExpirationGTE > j.ExpirationLTE {
			return &ConfigError{Field: "expiration_gte", Reason: "after expiration_lte"}
		}
	}

	if !j.Start.IsZero() {
		j.Start = j.Start.UTC()
	}
	if !j.End.IsZero() {
		j.End = j.End.UTC()
	}
	if !j.Start.IsZero() && !j.End.IsZero() && j.Start.After(j.End) {
		return &ConfigError{Field: "start", Reason: "after end"}
	}
	return nil
}

func checkDate(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(expirationLayout, value); err != nil {
		return &ConfigError{Field: field, Reason: fmt.Sprintf("want YYYY-MM-DD, got %q", value)}
	}
	return nil
}

func cleanSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		for _, part := range strings.Split(raw, ",") {
			sym := strings.ToUpper(strings.TrimSpace(part))
			if sym == "" {
				continue
			}
			if _, dup := seen[sym]; dup {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}

// RangeDigest fingerprints everything that shapes the page sequence of a
// unit apart from its symbol. A stored cursor is only reused by a job with
// the same digest.
func (j Job) RangeDigest() string {
	parts := []string{
		string(j.Kind),
		j.Timeframe,
		formatBound(j.Start),
		formatBound(j.End),
		strconv.Itoa(j.Limit),
		j.AssetClass,
		j.ExpirationGTE,
		j.ExpirationLTE,
		strconv.FormatBool(j.IncludeContent),
		strconv.FormatBool(j.ExcludeContentless),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
