package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name  string
		job   Job
		field string
	}{
		{name: "unknown kind", job: Job{Kind: "futures"}, field: "kind"},
		{name: "bars without symbols", job: Job{Kind: model.JobStockBars}, field: "symbols"},
		{name: "bad timeframe", job: Job{Kind: model.JobCryptoBars, Symbols: []string{"BTC/USD"}, Timeframe: "90Min"}, field: "timeframe"},
		{name: "start after end", job: Job{Kind: model.JobNews, Start: dayAt(2), End: dayAt(1)}, field: "start"},
		{name: "unknown mode", job: Job{Kind: model.JobNews, Mode: "retry"}, field: "mode"},
		{name: "negative limit", job: Job{Kind: model.JobNews, Limit: -1}, field: "limit"},
		{name: "bad asset class", job: Job{Kind: model.JobSyncAssets, AssetClass: "bonds"}, field: "asset_class"},
		{name: "contracts without underlying", job: Job{Kind: model.JobSyncOptions}, field: "symbols"},
		{name: "bad expiration", job: Job{Kind: model.JobSyncOptions, Symbols: []string{"AAPL"}, ExpirationGTE: "2024/01/01"}, field: "expiration_gte"},
		{name: "inverted expirations", job: Job{Kind: model.JobSyncOptions, Symbols: []string{"AAPL"}, ExpirationGTE: "2024-02-01", ExpirationLTE: "2024-01-01"}, field: "expiration_gte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestJobValidateNormalises(t *testing.T) {
	job := Job{
		Kind:      model.JobStockBars,
		Symbols:   []string{" aapl ", "msft,AAPL", ""},
		Timeframe: "5 min",
		Start:     time.Date(2024, 1, 2, 9, 30, 0, 0, time.FixedZone("EST", -5*3600)),
	}
	require.NoError(t, job.Validate())
	assert.Equal(t, []string{"AAPL", "MSFT"}, job.Symbols)
	assert.Equal(t, "5Min", job.Timeframe)
	assert.Equal(t, ModeAbort, job.Mode)
	assert.Equal(t, time.UTC, job.Start.Location())

	bars := Job{Kind: model.JobOptionBars, Symbols: []string{"AAPL240119C00100000"}}
	require.NoError(t, bars.Validate())
	assert.Equal(t, "1Day", bars.Timeframe)

	assets := Job{Kind: model.JobSyncAssets}
	require.NoError(t, assets.Validate())
	assert.Equal(t, AssetClassAll, assets.AssetClass)
}

func TestRangeDigest(t *testing.T) {
	base := stockJob("AAPL")
	require.NoError(t, base.Validate())

	same := stockJob("AAPL", "MSFT")
	same.Mode = ModeSkip
	require.NoError(t, same.Validate())
	assert.Equal(t, base.RangeDigest(), same.RangeDigest())

	later := stockJob("AAPL")
	later.End = dayAt(31)
	require.NoError(t, later.Validate())
	assert.NotEqual(t, base.RangeDigest(), later.RangeDigest())

	hourly := stockJob("AAPL")
	hourly.Timeframe = "1Hour"
	require.NoError(t, hourly.Validate())
	assert.NotEqual(t, base.RangeDigest(), hourly.RangeDigest())
}

func TestDefaultRange(t *testing.T) {
	s := newSessions()
	ny := s.loc

	// Monday afternoon: previous session is Friday.
	monday := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, ny), s.previous(monday).In(ny))

	// New Year's Day is skipped.
	jan2 := time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2023, 12, 29, 0, 0, 0, 0, ny), s.previous(jan2).In(ny))

	stock := Job{Kind: model.JobStockBars}
	applyDefaultRange(&stock, monday, s)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, ny).UTC(), stock.Start)

	crypto := Job{Kind: model.JobCryptoBars}
	applyDefaultRange(&crypto, monday, s)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), crypto.Start)

	later := Job{Kind: model.JobCryptoBars}
	applyDefaultRange(&later, monday.Add(8*time.Hour+59*time.Minute), s)
	assert.Equal(t, crypto.Start, later.Start)
	assert.Equal(t, crypto.RangeDigest(), later.RangeDigest())

	explicit := Job{Kind: model.JobNews, Start: dayAt(0)}
	applyDefaultRange(&explicit, monday, s)
	assert.Equal(t, dayAt(0), explicit.Start)

	assets := Job{Kind: model.JobSyncAssets}
	applyDefaultRange(&assets, monday, s)
	assert.True(t, assets.Start.IsZero())
}
