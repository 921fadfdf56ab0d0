package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndSection(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("CFG_TEST_KEY", "key-123")
	t.Setenv("CFG_TEST_SECRET", "secret-456")
	dir := t.TempDir()
	writeFile(t, dir, "alpaca.yaml", `
key_id: ${CFG_TEST_KEY}
secret_key: ${CFG_TEST_SECRET}
feed: sip
http_timeout: 9s
`)
	main := writeFile(t, dir, "ingest.yaml", `
Env: stg
Postgres:
  Stg: postgres://stg/db
Alpaca:
  File: alpaca.yaml
Ingest:
  Workers: 8
  Mode: skip
Symbols:
  Stock: [AAPL, MSFT]
`)

	cfg, err := Load(main)
	require.NoError(t, err)

	assert.Equal(t, EnvStg, cfg.Env)
	assert.False(t, cfg.IsTestEnv())
	assert.Equal(t, "alpaca", cfg.Postgres.Schema)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, "skip", cfg.Ingest.Mode)
	assert.Equal(t, 200, cfg.Ingest.RequestsPerMinute)
	assert.Equal(t, 3, cfg.Ingest.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Ingest.BaseBackoff)
	assert.Equal(t, 30*time.Second, cfg.Ingest.FetchTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Ingest.PersistBackoff)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Symbols.For(model.JobStockBars))
	assert.False(t, cfg.RedisEnabled())
	assert.Equal(t, dir, cfg.BaseDir())
	assert.Equal(t, main, cfg.MainPath())

	dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://stg/db", dsn)

	require.True(t, cfg.Alpaca.Configured())
	ac, err := cfg.AlpacaConfig()
	require.NoError(t, err)
	assert.Equal(t, "key-123", ac.KeyID)
	assert.Equal(t, "secret-456", ac.SecretKey)
	assert.Equal(t, "sip", ac.Feed)
	assert.Equal(t, 9*time.Second, ac.HTTPTimeout)
	assert.Equal(t, filepath.Join(dir, "alpaca.yaml"), cfg.Alpaca.File)
}

func TestLoad_RejectsUnknownEnv(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	main := writeFile(t, t.TempDir(), "ingest.yaml", "Env: dev\n")
	_, err := Load(main)
	assert.Error(t, err)
}

func TestLoad_MissingSectionFile(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	main := writeFile(t, t.TempDir(), "ingest.yaml", "Alpaca:\n  File: missing.yaml\n")
	_, err := Load(main)
	assert.ErrorContains(t, err, "load alpaca config")
}

func TestDSN(t *testing.T) {
	t.Run("selected environment", func(t *testing.T) {
		cfg := &Config{Env: EnvProd, Postgres: PostgresConf{Test: "t", Prod: "p"}}
		dsn, err := cfg.DSN()
		require.NoError(t, err)
		assert.Equal(t, "p", dsn)
	})
	t.Run("test falls back to DATABASE_URL", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://fallback/db")
		cfg := &Config{Env: EnvTest}
		dsn, err := cfg.DSN()
		require.NoError(t, err)
		assert.Equal(t, "postgres://fallback/db", dsn)
	})
	t.Run("missing", func(t *testing.T) {
		cfg := &Config{Env: EnvStg, Postgres: PostgresConf{Test: "t"}}
		_, err := cfg.DSN()
		assert.ErrorContains(t, err, "DATABASE_URL_STG")
	})
}

func TestValidate(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		cfg := &Config{}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, EnvTest, cfg.Env)
		assert.Equal(t, 4, cfg.Ingest.Workers)
		assert.Equal(t, "abort", cfg.Ingest.Mode)
		assert.Equal(t, time.Minute, cfg.Ingest.MaxRetryAfter)
	})
	t.Run("normalises env", func(t *testing.T) {
		cfg := &Config{Env: " PROD "}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, EnvProd, cfg.Env)
	})

	bad := []struct {
		name string
		mut  func(*Config)
	}{
		{"env", func(c *Config) { c.Env = "dev" }},
		{"mode", func(c *Config) { c.Ingest.Mode = "retry" }},
		{"workers", func(c *Config) { c.Ingest.Workers = -1 }},
		{"burst", func(c *Config) { c.Ingest.Burst = -1 }},
		{"negative reject threshold", func(c *Config) { c.Ingest.RejectThreshold = -0.1 }},
		{"reject threshold above one", func(c *Config) { c.Ingest.RejectThreshold = 5 }},
		{"redis without type", func(c *Config) { c.Redis.Host = "localhost:6379" }},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mut(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSymbolsFor(t *testing.T) {
	s := SymbolsConf{Stock: []string{"AAPL"}, Crypto: []string{"BTC/USD"}, News: []string{"TSLA"}}
	assert.Equal(t, []string{"AAPL"}, s.For(model.JobSyncOptions))
	assert.Equal(t, []string{"BTC/USD"}, s.For(model.JobCryptoBars))
	assert.Equal(t, []string{"TSLA"}, s.For(model.JobNews))
	assert.Nil(t, s.For(model.JobOptionBars))
	assert.Nil(t, s.For(model.JobSyncAssets))
}

func TestCheckedInConfigLoads(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	cfg := MustLoadDefault()
	assert.Equal(t, EnvTest, cfg.Env)
	assert.True(t, cfg.Alpaca.Configured())
	assert.NotEmpty(t, cfg.Symbols.Stock)
}
