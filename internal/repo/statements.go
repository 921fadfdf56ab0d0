package repo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

// Postgres caps bind parameters per statement at 65535.
const (
	maxBindParams  = 65535
	maxRowsPerStmt = 500
)

var provenanceColumns = []string{"source", "fetched_at", "job_run_id"}

// tableSpec describes how one entity kind maps onto its table.
type tableSpec struct {
	table string
	key   []string
	// content columns are compared to decide whether a row changed.
	content []string
	// guard is an extra predicate on the conflicting row (alias t).
	guard  string
	values func(model.Entity) []any
}

func (s tableSpec) columns() []string {
	cols := make([]string, 0, len(s.key)+len(s.content)+len(provenanceColumns))
	cols = append(cols, s.key...)
	cols = append(cols, s.content...)
	return append(cols, provenanceColumns...)
}

func (s tableSpec) rowsPerStatement() int {
	n := maxBindParams / len(s.columns())
	if n > maxRowsPerStmt {
		n = maxRowsPerStmt
	}
	return n
}

// upsertSQL renders a multi-row upsert for rows entities. Identical input
// leaves stored rows untouched, so re-applying a batch reports zero changes.
func (s tableSpec) upsertSQL(schema string, rows int) string {
	cols := s.columns()
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s.%s AS t (%s) VALUES ", schema, s.table, strings.Join(cols, ", "))
	param := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(param))
			param++
		}
		b.WriteByte(')')
	}

	fmt.Fprintf(&b, "\nON CONFLICT (%s) DO UPDATE SET ", strings.Join(s.key, ", "))
	updates := make([]string, 0, len(s.content)+len(provenanceColumns)+1)
	for _, c := range append(append([]string{}, s.content...), provenanceColumns...) {
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	updates = append(updates, "ingested_at = NOW()")
	b.WriteString(strings.Join(updates, ", "))

	current := make([]string, len(s.content))
	incoming := make([]string, len(s.content))
	for i, c := range s.content {
		current[i] = "t." + c
		incoming[i] = "EXCLUDED." + c
	}
	fmt.Fprintf(&b, "\nWHERE (%s) IS DISTINCT FROM (%s)", strings.Join(current, ", "), strings.Join(incoming, ", "))
	if s.guard != "" {
		b.WriteString("\n  AND ")
		b.WriteString(s.guard)
	}
	return b.String()
}

func provenanceValues(p model.Provenance) []any {
	return []any{p.Source, p.FetchedAt.UTC(), p.JobRunID}
}

func barSpec(table string, extra []string, extraValues func(model.Bar) []any) tableSpec {
	content := append([]string{"open", "high", "low", "close", "volume", "trade_count", "vwap"}, extra...)
	return tableSpec{
		table:   table,
		key:     []string{"symbol", "timeframe", "timestamp"},
		content: content,
		values: func(e model.Entity) []any {
			b := e.(model.Bar)
			v := []any{b.Symbol, b.Timeframe, b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP}
			if extraValues != nil {
				v = append(v, extraValues(b)...)
			}
			return append(v, provenanceValues(b.Provenance)...)
		},
	}
}

var tableSpecs = map[model.EntityKind]tableSpec{
	model.KindStockBar:  barSpec("stock_bars", nil, nil),
	model.KindCryptoBar: barSpec("crypto_bars", []string{"exchange"}, func(b model.Bar) []any { return []any{b.Exchange} }),
	model.KindOptionBar: barSpec("option_bars", []string{"underlying_symbol", "open_interest"}, func(b model.Bar) []any {
		return []any{b.UnderlyingSymbol, b.OpenInterest}
	}),
	model.KindAsset: {
		table: "assets",
		key:   []string{"symbol"},
		content: []string{
			"id", "class", "exchange", "name", "status", "tradable", "marginable", "shortable",
			"easy_to_borrow", "fractionable", "options_enabled", "maintenance_margin_requirement",
			"min_order_size", "min_trade_increment", "price_increment",
		},
		values: func(e model.Entity) []any {
			a := e.(model.Asset)
			return append([]any{
				a.Symbol, a.ID, a.Class, a.Exchange, a.Name, a.Status, a.Tradable, a.Marginable, a.Shortable,
				a.EasyToBorrow, a.Fractionable, a.OptionsEnabled, a.MaintenanceMarginRequirement,
				a.MinOrderSize, a.MinTradeIncrement, a.PriceIncrement,
			}, provenanceValues(a.Provenance)...)
		},
	},
	model.KindOptionContract: {
		table: "option_contracts",
		key:   []string{"symbol"},
		content: []string{
			"id", "name", "status", "tradable", "expiration_date", "root_symbol", "underlying_symbol",
			"underlying_asset_id", "type", "style", "strike_price", "multiplier", "size",
			"open_interest", "open_interest_date", "close_price", "close_price_date",
		},
		values: func(e model.Entity) []any {
			c := e.(model.OptionContract)
			return append([]any{
				c.Symbol, c.ID, c.Name, c.Status, c.Tradable, c.Expiration, c.RootSymbol, c.UnderlyingSymbol,
				c.UnderlyingAssetID, string(c.Type), c.Style, c.Strike, c.Multiplier, c.Size,
				c.OpenInterest, c.OpenInterestDate, c.ClosePrice, c.ClosePriceDate,
			}, provenanceValues(c.Provenance)...)
		},
	},
	model.KindNewsArticle: {
		table: "news_articles",
		key:   []string{"id"},
		content: []string{
			"headline", "summary", "content", "author", "url", "publisher", "symbols", "created_at", "updated_at",
		},
		// Never let an older revision overwrite a newer one.
		guard: "COALESCE(EXCLUDED.updated_at, EXCLUDED.created_at) >= COALESCE(t.updated_at, t.created_at)",
		values: func(e model.Entity) []any {
			n := e.(model.NewsArticle)
			symbols := n.Symbols
			if symbols == nil {
				symbols = []string{}
			}
			return append([]any{
				n.ID, n.Headline, n.Summary, n.Content, n.Author, n.URL, n.Publisher,
				pq.Array(symbols), n.CreatedAt.UTC(), n.UpdatedAt,
			}, provenanceValues(n.Provenance)...)
		},
	},
}

func specFor(kind model.EntityKind) (tableSpec, bool) {
	s, ok := tableSpecs[kind]
	return s, ok
}
