package repo

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// DefaultSchema is the dedicated namespace for ingested tables.
const DefaultSchema = "alpaca"

var schemaPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidateSchema rejects names that cannot be interpolated into DDL safely.
func ValidateSchema(schema string) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("repo: invalid schema name %q", schema)
	}
	return nil
}

// schemaStatements are executed in order by EnsureSchema; %[1]s is the schema.
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS %[1]s`,
	`CREATE TABLE IF NOT EXISTS %[1]s.stock_bars (
    symbol       TEXT             NOT NULL,
    timeframe    TEXT             NOT NULL,
    timestamp    TIMESTAMPTZ      NOT NULL,
    open         DOUBLE PRECISION NOT NULL,
    high         DOUBLE PRECISION NOT NULL,
    low          DOUBLE PRECISION NOT NULL,
    close        DOUBLE PRECISION NOT NULL,
    volume       DOUBLE PRECISION NOT NULL,
    trade_count  BIGINT,
    vwap         DOUBLE PRECISION,
    source       TEXT             NOT NULL,
    fetched_at   TIMESTAMPTZ      NOT NULL,
    job_run_id   TEXT             NOT NULL,
    ingested_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
    PRIMARY KEY (symbol, timeframe, timestamp)
)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.crypto_bars (
    symbol       TEXT             NOT NULL,
    timeframe    TEXT             NOT NULL,
    timestamp    TIMESTAMPTZ      NOT NULL,
    open         DOUBLE PRECISION NOT NULL,
    high         DOUBLE PRECISION NOT NULL,
    low          DOUBLE PRECISION NOT NULL,
    close        DOUBLE PRECISION NOT NULL,
    volume       DOUBLE PRECISION NOT NULL,
    trade_count  BIGINT,
    vwap         DOUBLE PRECISION,
    exchange     TEXT,
    source       TEXT             NOT NULL,
    fetched_at   TIMESTAMPTZ      NOT NULL,
    job_run_id   TEXT             NOT NULL,
    ingested_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
    PRIMARY KEY (symbol, timeframe, timestamp)
)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.option_bars (
    symbol             TEXT             NOT NULL,
    timeframe          TEXT             NOT NULL,
    timestamp          TIMESTAMPTZ      NOT NULL,
    open               DOUBLE PRECISION NOT NULL,
    high               DOUBLE PRECISION NOT NULL,
    low                DOUBLE PRECISION NOT NULL,
    close              DOUBLE PRECISION NOT NULL,
    volume             DOUBLE PRECISION NOT NULL,
    trade_count        BIGINT,
    vwap               DOUBLE PRECISION,
    underlying_symbol  TEXT,
    open_interest      BIGINT,
    source             TEXT             NOT NULL,
    fetched_at         TIMESTAMPTZ      NOT NULL,
    job_run_id         TEXT             NOT NULL,
    ingested_at        TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
    PRIMARY KEY (symbol, timeframe, timestamp)
)`,
	`CREATE INDEX IF NOT EXISTS option_bars_underlying_idx ON %[1]s.option_bars (underlying_symbol, timestamp)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.assets (
    symbol                          TEXT PRIMARY KEY,
    id                              TEXT        NOT NULL,
    class                           TEXT        NOT NULL,
    exchange                        TEXT        NOT NULL,
    name                            TEXT,
    status                          TEXT        NOT NULL,
    tradable                        BOOLEAN     NOT NULL,
    marginable                      BOOLEAN,
    shortable                       BOOLEAN,
    easy_to_borrow                  BOOLEAN,
    fractionable                    BOOLEAN,
    options_enabled                 BOOLEAN,
    maintenance_margin_requirement  DOUBLE PRECISION,
    min_order_size                  DOUBLE PRECISION,
    min_trade_increment             DOUBLE PRECISION,
    price_increment                 DOUBLE PRECISION,
    source                          TEXT        NOT NULL,
    fetched_at                      TIMESTAMPTZ NOT NULL,
    job_run_id                      TEXT        NOT NULL,
    ingested_at                     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.option_contracts (
    symbol               TEXT PRIMARY KEY,
    id                   TEXT        NOT NULL,
    name                 TEXT,
    status               TEXT        NOT NULL,
    tradable             BOOLEAN     NOT NULL,
    expiration_date      DATE        NOT NULL,
    root_symbol          TEXT        NOT NULL,
    underlying_symbol    TEXT        NOT NULL,
    underlying_asset_id  TEXT,
    type                 TEXT        NOT NULL,
    style                TEXT,
    strike_price         NUMERIC     NOT NULL,
    multiplier           NUMERIC,
    size                 NUMERIC,
    open_interest        BIGINT,
    open_interest_date   DATE,
    close_price          NUMERIC,
    close_price_date     DATE,
    source               TEXT        NOT NULL,
    fetched_at           TIMESTAMPTZ NOT NULL,
    job_run_id           TEXT        NOT NULL,
    ingested_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS option_contracts_underlying_idx ON %[1]s.option_contracts (underlying_symbol, expiration_date)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.news_articles (
    id           TEXT PRIMARY KEY,
    headline     TEXT        NOT NULL,
    summary      TEXT,
    content      TEXT,
    author       TEXT,
    url          TEXT        NOT NULL,
    publisher    TEXT,
    symbols      TEXT[]      NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ,
    source       TEXT        NOT NULL,
    fetched_at   TIMESTAMPTZ NOT NULL,
    job_run_id   TEXT        NOT NULL,
    ingested_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS news_articles_symbols_idx ON %[1]s.news_articles USING GIN (symbols)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.sync_cursors (
    asset_class   TEXT        NOT NULL,
    symbol        TEXT        NOT NULL,
    timeframe     TEXT        NOT NULL DEFAULT '',
    job_kind      TEXT        NOT NULL,
    page_token    TEXT        NOT NULL DEFAULT '',
    range_digest  TEXT        NOT NULL DEFAULT '',
    completed     BOOLEAN     NOT NULL DEFAULT FALSE,
    last_run_at   TIMESTAMPTZ NOT NULL,
    job_run_id    TEXT        NOT NULL DEFAULT '',
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (asset_class, symbol, timeframe, job_kind)
)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.job_runs (
    id            TEXT PRIMARY KEY,
    kind          TEXT        NOT NULL,
    parameters    JSONB       NOT NULL DEFAULT '{}'::jsonb,
    status        TEXT        NOT NULL,
    fetched       INTEGER     NOT NULL DEFAULT 0,
    rejected      INTEGER     NOT NULL DEFAULT 0,
    persisted     INTEGER     NOT NULL DEFAULT 0,
    changed       INTEGER     NOT NULL DEFAULT 0,
    duplicates    INTEGER     NOT NULL DEFAULT 0,
    pages         INTEGER     NOT NULL DEFAULT 0,
    failed_pages  INTEGER     NOT NULL DEFAULT 0,
    error         TEXT        NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS job_runs_kind_started_idx ON %[1]s.job_runs (kind, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.job_page_failures (
    id           BIGSERIAL PRIMARY KEY,
    run_id       TEXT        NOT NULL,
    symbol       TEXT        NOT NULL,
    page_token   TEXT        NOT NULL DEFAULT '',
    stage        TEXT        NOT NULL,
    attempts     INTEGER     NOT NULL,
    error        TEXT        NOT NULL,
    occurred_at  TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS job_page_failures_run_idx ON %[1]s.job_page_failures (run_id)`,
}

// EnsureSchema creates the schema and every table the pipeline writes to.
// All statements are idempotent.
func EnsureSchema(ctx context.Context, conn sqlx.SqlConn, schema string) error {
	if err := ValidateSchema(schema); err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		q := fmt.Sprintf(stmt, schema)
		if _, err := conn.ExecCtx(ctx, q); err != nil {
			return fmt.Errorf("repo: ensure schema %s: %w", firstLine(q), err)
		}
	}
	logx.WithContext(ctx).Infof("repo: schema %s ready", schema)
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
