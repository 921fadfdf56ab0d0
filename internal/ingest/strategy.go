package ingest

import (
	"strings"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/alpaca"
)

// Unit is the slice of a job one worker pages through sequentially.
type Unit struct {
	Cursor model.CursorKey
	// Entity and Class describe what the unit's pages normalise into.
	Entity model.EntityKind
	Class  model.AssetClass
	// Symbol is the unit's instrument, or the joined filter for news.
	Symbol string
	// Filter carries kind-specific selection such as the asset class.
	Filter string
}

func (u Unit) String() string { return u.Cursor.String() }

// Strategy adapts one job kind to the generic paging loop.
type Strategy interface {
	Units(job Job) []Unit
	// BuildRequest asks for at most limit records when limit is positive.
	BuildRequest(b *alpaca.RequestBuilder, job Job, u Unit, pageToken string, limit int) alpaca.Request
	ParsePage(body []byte) (alpaca.Page, error)
}

var strategies = map[model.JobKind]Strategy{
	model.JobStockBars:   barsStrategy{kind: model.JobStockBars, class: model.ClassStock, endpoint: alpaca.StockBars},
	model.JobCryptoBars:  barsStrategy{kind: model.JobCryptoBars, class: model.ClassCrypto, endpoint: alpaca.CryptoBars},
	model.JobOptionBars:  barsStrategy{kind: model.JobOptionBars, class: model.ClassOption, endpoint: alpaca.OptionBars},
	model.JobNews:        newsStrategy{},
	model.JobSyncAssets:  assetsStrategy{},
	model.JobSyncOptions: contractsStrategy{},
}

// StrategyFor returns the strategy registered for kind.
func StrategyFor(kind model.JobKind) (Strategy, bool) {
	s, ok := strategies[kind]
	return s, ok
}

type barsStrategy struct {
	kind     model.JobKind
	class    model.AssetClass
	endpoint alpaca.BarClass
}

func (s barsStrategy) Units(job Job) []Unit {
	units := make([]Unit, 0, len(job.Symbols))
	for _, sym := range job.Symbols {
		units = append(units, Unit{
			Cursor: model.CursorKey{AssetClass: s.class, Symbol: sym, Timeframe: job.Timeframe, JobKind: s.kind},
			Entity: model.BarKind(s.class),
			Class:  s.class,
			Symbol: sym,
		})
	}
	return units
}

func (s barsStrategy) BuildRequest(b *alpaca.RequestBuilder, job Job, u Unit, pageToken string, limit int) alpaca.Request {
	return b.Bars(s.endpoint, alpaca.BarsQuery{
		Symbol:    u.Symbol,
		Timeframe: job.Timeframe,
		Start:     job.Start,
		End:       job.End,
		Limit:     limit,
		PageToken: pageToken,
	})
}

func (barsStrategy) ParsePage(body []byte) (alpaca.Page, error) { return alpaca.DecodeBarsPage(body) }

// newsStrategy pages through the whole symbol filter as one unit; the
// endpoint accepts many symbols per request.
type newsStrategy struct{}

func (newsStrategy) Units(job Job) []Unit {
	filter := strings.Join(job.Symbols, ",")
	return []Unit{{
		Cursor: model.CursorKey{AssetClass: model.ClassNews, Symbol: filter, JobKind: model.JobNews},
		Entity: model.KindNewsArticle,
		Class:  model.ClassNews,
		Symbol: filter,
	}}
}

func (newsStrategy) BuildRequest(b *alpaca.RequestBuilder, job Job, _ Unit, pageToken string, limit int) alpaca.Request {
	return b.News(alpaca.NewsQuery{
		Symbols:            job.Symbols,
		Start:              job.Start,
		End:                job.End,
		Limit:              limit,
		IncludeContent:     job.IncludeContent,
		ExcludeContentless: job.ExcludeContentless,
		PageToken:          pageToken,
	})
}

func (newsStrategy) ParsePage(body []byte) (alpaca.Page, error) { return alpaca.DecodeNewsPage(body) }

// assetsStrategy fetches the asset master once per asset class filter. The
// listing is not paginated, so every unit is a single page.
type assetsStrategy struct{}

func (assetsStrategy) Units(job Job) []Unit {
	class := model.ClassStock
	if job.AssetClass == AssetClassCrypto {
		class = model.ClassCrypto
	}
	return []Unit{{
		Cursor: model.CursorKey{AssetClass: class, Symbol: job.AssetClass, JobKind: model.JobSyncAssets},
		Entity: model.KindAsset,
		Class:  class,
		Filter: job.AssetClass,
	}}
}

func (assetsStrategy) BuildRequest(b *alpaca.RequestBuilder, _ Job, u Unit, _ string, _ int) alpaca.Request {
	filter := u.Filter
	if filter == AssetClassAll {
		filter = ""
	}
	return b.Assets(alpaca.AssetsQuery{AssetClass: filter})
}

func (assetsStrategy) ParsePage(body []byte) (alpaca.Page, error) { return alpaca.DecodeAssets(body) }

type contractsStrategy struct{}

func (contractsStrategy) Units(job Job) []Unit {
	units := make([]Unit, 0, len(job.Symbols))
	for _, sym := range job.Symbols {
		units = append(units, Unit{
			Cursor: model.CursorKey{AssetClass: model.ClassOption, Symbol: sym, JobKind: model.JobSyncOptions},
			Entity: model.KindOptionContract,
			Class:  model.ClassOption,
			Symbol: sym,
		})
	}
	return units
}

func (contractsStrategy) BuildRequest(b *alpaca.RequestBuilder, job Job, u Unit, pageToken string, limit int) alpaca.Request {
	return b.OptionContracts(alpaca.ContractsQuery{
		Underlying:    u.Symbol,
		ExpirationGTE: job.ExpirationGTE,
		ExpirationLTE: job.ExpirationLTE,
		Limit:         limit,
		PageToken:     pageToken,
	})
}

func (contractsStrategy) ParsePage(body []byte) (alpaca.Page, error) {
	return alpaca.DecodeContractsPage(body)
}
