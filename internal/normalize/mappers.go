package normalize

import (
	"fmt"
	"strings"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/alpaca"
)

type mapper func(pc PageContext, rec alpaca.Record) (model.Entity, error)

var mappers = map[model.EntityKind]mapper{
	model.KindStockBar:       mapBar,
	model.KindCryptoBar:      mapBar,
	model.KindOptionBar:      mapBar,
	model.KindAsset:          mapAsset,
	model.KindOptionContract: mapContract,
	model.KindNewsArticle:    mapNews,
}

func mapBar(pc PageContext, rec alpaca.Record) (model.Entity, error) {
	symbol := pc.Symbol
	if s, _ := optString(rec, alpaca.SymbolField); s != nil {
		symbol = *s
	}
	if symbol == "" {
		return nil, missing(alpaca.SymbolField)
	}
	ts, err := requireTime(rec, "t")
	if err != nil {
		return nil, err
	}

	bar := model.Bar{
		Class:     pc.Class,
		Symbol:    symbol,
		Timeframe: pc.Timeframe,
		Timestamp: ts,
	}
	for _, f := range []struct {
		key string
		dst *float64
	}{{"o", &bar.Open}, {"h", &bar.High}, {"l", &bar.Low}, {"c", &bar.Close}} {
		v, err := requireFloat(rec, f.key)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, invalid(f.key, "negative price %v", v)
		}
		*f.dst = v
	}
	if bar.High < bar.Low {
		return nil, invalid("h", "high %v below low %v", bar.High, bar.Low)
	}

	if v, err := optFloat(rec, "v"); err != nil {
		return nil, err
	} else if v != nil {
		if *v < 0 {
			return nil, invalid("v", "negative volume %v", *v)
		}
		bar.Volume = *v
	}
	if bar.TradeCount, err = optInt(rec, "n"); err != nil {
		return nil, err
	}
	if bar.VWAP, err = optFloat(rec, "vw"); err != nil {
		return nil, err
	}

	switch pc.Class {
	case model.ClassCrypto:
		if bar.Exchange, err = optString(rec, "x"); err != nil {
			return nil, err
		}
	case model.ClassOption:
		if underlying, ok := model.UnderlyingFromOCC(symbol); ok {
			bar.UnderlyingSymbol = &underlying
		}
		if bar.OpenInterest, err = optInt(rec, "oi"); err != nil {
			return nil, err
		}
	}
	bar.Provenance = pc.provenance()
	return bar, nil
}

func mapAsset(pc PageContext, rec alpaca.Record) (model.Entity, error) {
	var (
		a   model.Asset
		err error
	)
	if a.Symbol, err = requireString(rec, "symbol"); err != nil {
		return nil, err
	}
	if a.ID, err = requireString(rec, "id"); err != nil {
		return nil, err
	}
	if a.Class, err = requireString(rec, "class"); err != nil {
		return nil, err
	}
	if a.Exchange, err = requireString(rec, "exchange"); err != nil {
		return nil, err
	}
	if a.Status, err = requireString(rec, "status"); err != nil {
		return nil, err
	}
	if a.Tradable, err = requireBool(rec, "tradable"); err != nil {
		return nil, err
	}
	if a.Name, err = optString(rec, "name"); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		key string
		dst **bool
	}{
		{"marginable", &a.Marginable},
		{"shortable", &a.Shortable},
		{"easy_to_borrow", &a.EasyToBorrow},
		{"fractionable", &a.Fractionable},
		{"options_enabled", &a.OptionsEnabled},
	} {
		if *f.dst, err = optBool(rec, f.key); err != nil {
			return nil, err
		}
	}
	if a.OptionsEnabled == nil {
		attrs, err := stringList(rec, "attributes")
		if err != nil {
			return nil, err
		}
		if attrs != nil {
			enabled := contains(attrs, "options_enabled")
			a.OptionsEnabled = &enabled
		}
	}
	for _, f := range []struct {
		key string
		dst **float64
	}{
		{"maintenance_margin_requirement", &a.MaintenanceMarginRequirement},
		{"min_order_size", &a.MinOrderSize},
		{"min_trade_increment", &a.MinTradeIncrement},
		{"price_increment", &a.PriceIncrement},
	} {
		if *f.dst, err = optFloat(rec, f.key); err != nil {
			return nil, err
		}
	}
	a.Provenance = pc.provenance()
	return a, nil
}

func mapContract(pc PageContext, rec alpaca.Record) (model.Entity, error) {
	var (
		c   model.OptionContract
		err error
	)
	if c.Symbol, err = requireString(rec, "symbol"); err != nil {
		return nil, err
	}
	if c.ID, err = requireString(rec, "id"); err != nil {
		return nil, err
	}
	if c.Status, err = requireString(rec, "status"); err != nil {
		return nil, err
	}
	if c.Tradable, err = requireBool(rec, "tradable"); err != nil {
		return nil, err
	}
	if c.Expiration, err = requireDate(rec, "expiration_date"); err != nil {
		return nil, err
	}
	if c.RootSymbol, err = requireString(rec, "root_symbol"); err != nil {
		return nil, err
	}
	if c.UnderlyingSymbol, err = requireString(rec, "underlying_symbol"); err != nil {
		return nil, err
	}
	typ, err := requireString(rec, "type")
	if err != nil {
		return nil, err
	}
	switch model.OptionType(strings.ToLower(typ)) {
	case model.OptionCall, model.OptionPut:
		c.Type = model.OptionType(strings.ToLower(typ))
	default:
		return nil, invalid("type", "expected call or put, got %q", typ)
	}
	if c.Strike, err = requireDecimal(rec, "strike_price"); err != nil {
		return nil, err
	}
	if !c.Strike.IsPositive() {
		return nil, invalid("strike_price", "must be positive")
	}

	if c.Name, err = optString(rec, "name"); err != nil {
		return nil, err
	}
	if c.UnderlyingAssetID, err = optString(rec, "underlying_asset_id"); err != nil {
		return nil, err
	}
	if c.Style, err = optString(rec, "style"); err != nil {
		return nil, err
	}
	if c.Multiplier, err = optDecimal(rec, "multiplier"); err != nil {
		return nil, err
	}
	if c.Size, err = optDecimal(rec, "size"); err != nil {
		return nil, err
	}
	if c.ClosePrice, err = optDecimal(rec, "close_price"); err != nil {
		return nil, err
	}
	if c.OpenInterest, err = optInt(rec, "open_interest"); err != nil {
		return nil, err
	}
	if c.OpenInterestDate, err = optDate(rec, "open_interest_date"); err != nil {
		return nil, err
	}
	if c.ClosePriceDate, err = optDate(rec, "close_price_date"); err != nil {
		return nil, err
	}
	c.Provenance = pc.provenance()
	return c, nil
}

func mapNews(pc PageContext, rec alpaca.Record) (model.Entity, error) {
	var (
		n   model.NewsArticle
		err error
	)
	if n.ID, err = requireString(rec, "id"); err != nil {
		return nil, err
	}
	if n.Headline, err = requireString(rec, "headline"); err != nil {
		return nil, err
	}
	if n.URL, err = requireString(rec, "url"); err != nil {
		return nil, err
	}
	if n.CreatedAt, err = requireTime(rec, "created_at"); err != nil {
		return nil, err
	}
	if n.UpdatedAt, err = optTime(rec, "updated_at"); err != nil {
		return nil, err
	}
	if n.UpdatedAt != nil && n.UpdatedAt.Before(n.CreatedAt) {
		return nil, invalid("updated_at", "before created_at")
	}
	if n.Summary, err = optString(rec, "summary"); err != nil {
		return nil, err
	}
	if n.Content, err = optString(rec, "content"); err != nil {
		return nil, err
	}
	if n.Author, err = optString(rec, "author"); err != nil {
		return nil, err
	}
	if n.Publisher, err = optString(rec, "source"); err != nil {
		return nil, err
	}
	symbols, err := stringList(rec, "symbols")
	if err != nil {
		return nil, err
	}
	n.Symbols = make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(s); !contains(n.Symbols, s) {
			n.Symbols = append(n.Symbols, s)
		}
	}
	n.Provenance = pc.provenance()
	return n, nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func unsupported(kind model.EntityKind) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf("no schema for entity kind %q", kind)}
}
