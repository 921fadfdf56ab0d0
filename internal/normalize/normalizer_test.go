package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/alpaca"
)

var fetchedAt = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func barContext(class model.AssetClass) PageContext {
	return PageContext{
		Kind:      model.BarKind(class),
		Class:     class,
		Timeframe: "1Day",
		Symbol:    "AAPL",
		FetchedAt: fetchedAt,
		JobRunID:  "run-1",
	}
}

func barRecord(day int, close string) alpaca.Record {
	return alpaca.Record{
		"t":  time.Date(2024, 1, day, 5, 0, 0, 0, time.UTC).Format(time.RFC3339),
		"o":  json.Number("184.2"),
		"h":  json.Number("185.8"),
		"l":  json.Number("183.4"),
		"c":  json.Number(close),
		"v":  json.Number("58414460"),
		"n":  json.Number("656956"),
		"vw": json.Number("184.3"),
	}
}

func TestPageMapsBarsWithProvenance(t *testing.T) {
	n := New()
	rec := barRecord(3, "184.25")
	rec["t"] = "2024-01-03T00:00:00-05:00"

	res := n.Page(barContext(model.ClassStock), []alpaca.Record{rec})
	require.Empty(t, res.Rejections)
	require.Len(t, res.Entities, 1)

	bar := res.Entities[0].(model.Bar)
	assert.Equal(t, "AAPL", bar.Symbol)
	assert.Equal(t, time.UTC, bar.Timestamp.Location())
	assert.Equal(t, time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC), bar.Timestamp)
	assert.Equal(t, 184.25, bar.Close)
	require.NotNil(t, bar.TradeCount)
	assert.Equal(t, int64(656956), *bar.TradeCount)
	assert.Equal(t, model.SourceAlpaca, bar.Source)
	assert.Equal(t, "run-1", bar.JobRunID)
	assert.Equal(t, fetchedAt, bar.FetchedAt)
}

func TestPageRejectsMalformedRecordsAndKeepsTheRest(t *testing.T) {
	records := make([]alpaca.Record, 0, 10)
	for day := 1; day <= 10; day++ {
		records = append(records, barRecord(day, "184"))
	}
	delete(records[4], "c")

	res := New().Page(barContext(model.ClassStock), records)
	assert.Len(t, res.Entities, 9)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, 4, res.Rejections[0].Index)
	assert.Equal(t, "c", res.Rejections[0].Err.Field)
}

func TestBarValidation(t *testing.T) {
	tests := []struct {
		name  string
		patch func(alpaca.Record)
		field string
	}{
		{name: "bad timestamp", patch: func(r alpaca.Record) { r["t"] = "yesterday" }, field: "t"},
		{name: "negative price", patch: func(r alpaca.Record) { r["o"] = json.Number("-1") }, field: "o"},
		{name: "high below low", patch: func(r alpaca.Record) { r["h"] = json.Number("1") }, field: "h"},
		{name: "non numeric", patch: func(r alpaca.Record) { r["l"] = true }, field: "l"},
		{name: "fractional trade count", patch: func(r alpaca.Record) { r["n"] = json.Number("1.5") }, field: "n"},
		{name: "negative volume", patch: func(r alpaca.Record) { r["v"] = json.Number("-3") }, field: "v"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := barRecord(2, "184")
			tt.patch(rec)
			res := New().Page(barContext(model.ClassStock), []alpaca.Record{rec})
			require.Len(t, res.Rejections, 1)
			assert.Equal(t, tt.field, res.Rejections[0].Err.Field)
		})
	}
}

func TestOptionBarsDeriveUnderlying(t *testing.T) {
	pc := barContext(model.ClassOption)
	rec := barRecord(2, "1.2")
	rec[alpaca.SymbolField] = "AAPL240119C00100000"

	res := New().Page(pc, []alpaca.Record{rec})
	require.Len(t, res.Entities, 1)
	bar := res.Entities[0].(model.Bar)
	assert.Equal(t, model.KindOptionBar, bar.EntityKind())
	require.NotNil(t, bar.UnderlyingSymbol)
	assert.Equal(t, "AAPL", *bar.UnderlyingSymbol)
}

func TestDedupWithinPageAndAcrossRun(t *testing.T) {
	n := New()
	pc := barContext(model.ClassStock)

	first := n.Page(pc, []alpaca.Record{barRecord(2, "100"), barRecord(3, "101"), barRecord(2, "102")})
	require.Len(t, first.Entities, 2)
	assert.Equal(t, 1, first.Duplicates)
	assert.Equal(t, 102.0, first.Entities[0].(model.Bar).Close)

	second := n.Page(pc, []alpaca.Record{barRecord(3, "200"), barRecord(4, "201")})
	require.Len(t, second.Entities, 2)
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, 200.0, second.Entities[0].(model.Bar).Close)
}

func TestAssetMapping(t *testing.T) {
	pc := PageContext{Kind: model.KindAsset, FetchedAt: fetchedAt}
	res := New().Page(pc, []alpaca.Record{
		{
			"id": "b0b6dd9d-8b9b-48a9-ba46-b9d54906e415", "class": "us_equity", "exchange": "NASDAQ",
			"symbol": "AAPL", "name": "Apple Inc.", "status": "active", "tradable": true,
			"marginable": true, "shortable": true, "easy_to_borrow": true, "fractionable": true,
			"maintenance_margin_requirement": json.Number("30"),
			"attributes":                     []any{"fractional_eh_enabled", "options_enabled"},
		},
		{"id": "x", "class": "crypto", "exchange": "CRYPTO", "symbol": "BTC/USD", "status": "active"},
	})
	require.Len(t, res.Entities, 1)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, "tradable", res.Rejections[0].Err.Field)

	asset := res.Entities[0].(model.Asset)
	assert.Equal(t, "AAPL", asset.NaturalKey())
	require.NotNil(t, asset.OptionsEnabled)
	assert.True(t, *asset.OptionsEnabled)
	require.NotNil(t, asset.MaintenanceMarginRequirement)
	assert.Equal(t, 30.0, *asset.MaintenanceMarginRequirement)
}

func TestContractMapping(t *testing.T) {
	pc := PageContext{Kind: model.KindOptionContract, Symbol: "AAPL", FetchedAt: fetchedAt}
	valid := alpaca.Record{
		"id": "6e58f870-fe73-4583-81e4-b9a37892c36f", "symbol": "AAPL240119C00100000",
		"name": "AAPL Jan 19 2024 100 Call", "status": "active", "tradable": true,
		"expiration_date": "2024-01-19", "root_symbol": "AAPL", "underlying_symbol": "AAPL",
		"underlying_asset_id": "b0b6dd9d-8b9b-48a9-ba46-b9d54906e415", "type": "call",
		"style": "american", "strike_price": "100", "multiplier": "100", "size": "100",
		"open_interest": "6523", "open_interest_date": "2024-01-09",
		"close_price": "85.32", "close_price_date": "2024-01-09",
	}
	badType := alpaca.Record{}
	for k, v := range valid {
		badType[k] = v
	}
	badType["symbol"] = "AAPL240119X00100000"
	badType["type"] = "straddle"

	res := New().Page(pc, []alpaca.Record{valid, badType})
	require.Len(t, res.Entities, 1)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, "type", res.Rejections[0].Err.Field)

	c := res.Entities[0].(model.OptionContract)
	assert.Equal(t, "100", c.Strike.String())
	assert.Equal(t, model.OptionCall, c.Type)
	assert.Equal(t, time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC), c.Expiration)
	require.NotNil(t, c.OpenInterest)
	assert.Equal(t, int64(6523), *c.OpenInterest)
	require.NotNil(t, c.ClosePrice)
	assert.Equal(t, "85.32", c.ClosePrice.String())
}

func TestNewsMapping(t *testing.T) {
	pc := PageContext{Kind: model.KindNewsArticle, FetchedAt: fetchedAt}
	res := New().Page(pc, []alpaca.Record{
		{
			"id": json.Number("24843171"), "headline": "Apple shares rise",
			"author": "Benzinga Newsdesk", "created_at": "2024-01-03T14:30:00Z",
			"updated_at": "2024-01-03T14:35:00Z", "summary": "",
			"url":     "https://www.benzinga.com/news/24843171",
			"symbols": []any{"aapl", "AAPL", "MSFT"}, "source": "benzinga",
		},
		{"id": json.Number("2"), "headline": "no url", "created_at": "2024-01-03T14:30:00Z"},
		{
			"id": json.Number("3"), "headline": "time travel", "url": "https://x",
			"created_at": "2024-01-03T14:30:00Z", "updated_at": "2024-01-02T00:00:00Z",
		},
	})
	require.Len(t, res.Entities, 1)
	require.Len(t, res.Rejections, 2)
	assert.Equal(t, "url", res.Rejections[0].Err.Field)
	assert.Equal(t, "updated_at", res.Rejections[1].Err.Field)

	article := res.Entities[0].(model.NewsArticle)
	assert.Equal(t, "24843171", article.ID)
	assert.Equal(t, []string{"AAPL", "MSFT"}, article.Symbols)
	assert.Nil(t, article.Summary)
	require.NotNil(t, article.Publisher)
	assert.Equal(t, "benzinga", *article.Publisher)
	assert.Equal(t, time.Date(2024, 1, 3, 14, 35, 0, 0, time.UTC), article.EffectiveTime())
}

func TestUnknownKindRejectsEverything(t *testing.T) {
	res := New().Page(PageContext{Kind: "quote"}, []alpaca.Record{{}, {}})
	assert.Empty(t, res.Entities)
	assert.Len(t, res.Rejections, 2)
}
