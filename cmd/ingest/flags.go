package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tndd/datadoggo-v3-alpaca/internal/config"
	"github.com/tndd/datadoggo-v3-alpaca/internal/ingest"
	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

type cliFlags struct {
	configFile string

	kind       string
	symbols    string
	timeframe  string
	start      string
	end        string
	limit      int
	assetClass string
	expGTE     string
	expLTE     string

	includeContent     bool
	excludeContentless bool

	env    string
	mode   string
	resume bool
	dryRun bool
}

func parseFlags(args []string, output io.Writer) (*cliFlags, error) {
	kinds := make([]string, 0, len(model.JobKinds))
	for _, k := range model.JobKinds {
		kinds = append(kinds, string(k))
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.configFile, "f", config.DefaultPath, "the config file")
	fs.StringVar(&f.kind, "kind", "", "job kind: "+strings.Join(kinds, "|"))
	fs.StringVar(&f.symbols, "symbols", "", "comma-separated symbols; defaults to the configured list for the kind")
	fs.StringVar(&f.timeframe, "timeframe", "1Day", "bar timeframe, e.g. 1Min, 15Min, 1Hour, 1Day")
	fs.StringVar(&f.start, "start", "", "range start (YYYY-MM-DD, ISO 8601 datetime or RFC 3339); defaults to the previous session")
	fs.StringVar(&f.end, "end", "", "range end (YYYY-MM-DD, ISO 8601 datetime or RFC 3339)")
	fs.IntVar(&f.limit, "limit", 0, "maximum records per symbol (per news filter) for this run; 0 means no cap")
	fs.StringVar(&f.assetClass, "asset-class", "", "sync-assets filter: us_equity|crypto|all")
	fs.StringVar(&f.expGTE, "expiration-gte", "", "sync-options: earliest expiration (YYYY-MM-DD)")
	fs.StringVar(&f.expLTE, "expiration-lte", "", "sync-options: latest expiration (YYYY-MM-DD)")
	fs.BoolVar(&f.includeContent, "include-content", false, "news: include article bodies")
	fs.BoolVar(&f.excludeContentless, "exclude-contentless", false, "news: skip articles without content")
	fs.StringVar(&f.env, "env", "", "database environment: test|stg|prod (overrides the config file)")
	fs.StringVar(&f.mode, "mode", "", "page failure handling: abort|skip (defaults to the config file)")
	fs.BoolVar(&f.resume, "resume", true, "continue from stored cursors of the same range")
	fs.BoolVar(&f.dryRun, "dry-run", false, "keep results in memory instead of the database")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if f.kind == "" {
		return nil, &ingest.ConfigError{Field: "kind", Reason: "required"}
	}
	return f, nil
}

// job builds the descriptor, falling back to cfg for symbols and mode.
func (f *cliFlags) job(cfg *config.Config) (ingest.Job, error) {
	kind := model.JobKind(strings.ToLower(strings.TrimSpace(f.kind)))
	j := ingest.Job{
		Kind:               kind,
		Symbols:            parseSymbols(f.symbols),
		Timeframe:          f.timeframe,
		Limit:              f.limit,
		AssetClass:         f.assetClass,
		ExpirationGTE:      f.expGTE,
		ExpirationLTE:      f.expLTE,
		IncludeContent:     f.includeContent,
		ExcludeContentless: f.excludeContentless,
		Resume:             f.resume,
		Mode:               ingest.FailureMode(f.mode),
	}
	if len(j.Symbols) == 0 {
		j.Symbols = cfg.Symbols.For(kind)
	}
	if j.Mode == "" {
		j.Mode = ingest.FailureMode(cfg.Ingest.Mode)
	}

	var err error
	if j.Start, err = parseBound("start", f.start); err != nil {
		return ingest.Job{}, err
	}
	if j.End, err = parseBound("end", f.end); err != nil {
		return ingest.Job{}, err
	}
	return j, nil
}

const naiveDateTime = "2006-01-02T15:04:05.999999999"

func parseBound(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	// Datetimes without an offset are read as UTC.
	for _, layout := range []string{naiveDateTime, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ingest.ConfigError{Field: field, Reason: fmt.Sprintf("want YYYY-MM-DD, YYYY-MM-DDTHH:MM:SS or RFC 3339, got %q", raw)}
}

func parseSymbols(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}
