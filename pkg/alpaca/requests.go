package alpaca

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// BarClass selects the bars endpoint.
type BarClass string

const (
	StockBars  BarClass = "stock"
	CryptoBars BarClass = "crypto"
	OptionBars BarClass = "option"
)

// BarsQuery parameterises a historical bars request for one symbol.
type BarsQuery struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	End       time.Time
	Limit     int
	PageToken string
}

// NewsQuery parameterises a news request.
type NewsQuery struct {
	Symbols            []string
	Start              time.Time
	End                time.Time
	Limit              int
	IncludeContent     bool
	ExcludeContentless bool
	PageToken          string
}

// AssetsQuery filters the asset master listing.
type AssetsQuery struct {
	Status     string
	AssetClass string
}

// ContractsQuery filters option contracts of one underlying.
type ContractsQuery struct {
	Underlying    string
	ExpirationGTE string
	ExpirationLTE string
	Limit         int
	PageToken     string
}

// RequestBuilder turns queries into Requests using the configured feed,
// adjustment, crypto location and page sizes.
type RequestBuilder struct {
	feed          string
	adjustment    string
	cryptoLoc     string
	pageLimit     int
	newsPageLimit int
}

// NewRequestBuilder returns a builder for cfg. A nil cfg uses defaults.
func NewRequestBuilder(cfg *Config) *RequestBuilder {
	b := &RequestBuilder{
		adjustment:    "raw",
		cryptoLoc:     "us",
		pageLimit:     defaultPageLimit,
		newsPageLimit: defaultNewsPageLimit,
	}
	if cfg != nil {
		b.feed = cfg.Feed
		if cfg.Adjustment != "" {
			b.adjustment = cfg.Adjustment
		}
		if cfg.CryptoLoc != "" {
			b.cryptoLoc = cfg.CryptoLoc
		}
		if cfg.PageLimit > 0 {
			b.pageLimit = cfg.PageLimit
		}
		if cfg.NewsPageLimit > 0 {
			b.newsPageLimit = cfg.NewsPageLimit
		}
	}
	return b
}

// Bars builds a historical bars request.
func (b *RequestBuilder) Bars(class BarClass, q BarsQuery) Request {
	v := url.Values{}
	v.Set("symbols", q.Symbol)
	v.Set("timeframe", q.Timeframe)
	setTime(v, "start", q.Start)
	setTime(v, "end", q.End)
	v.Set("limit", strconv.Itoa(pageSize(q.Limit, b.pageLimit)))
	v.Set("sort", "asc")
	setNonEmpty(v, "page_token", q.PageToken)

	var path string
	switch class {
	case CryptoBars:
		path = "/v1beta3/crypto/" + b.cryptoLoc + "/bars"
	case OptionBars:
		path = "/v1beta1/options/bars"
	default:
		path = "/v2/stocks/bars"
		v.Set("adjustment", b.adjustment)
		setNonEmpty(v, "feed", b.feed)
	}
	return Request{Host: HostData, Path: path, Query: v}
}

// News builds a news request.
func (b *RequestBuilder) News(q NewsQuery) Request {
	v := url.Values{}
	if len(q.Symbols) > 0 {
		v.Set("symbols", strings.Join(q.Symbols, ","))
	}
	setTime(v, "start", q.Start)
	setTime(v, "end", q.End)
	v.Set("limit", strconv.Itoa(pageSize(q.Limit, b.newsPageLimit)))
	v.Set("sort", "asc")
	if q.IncludeContent {
		v.Set("include_content", "true")
	}
	if q.ExcludeContentless {
		v.Set("exclude_contentless", "true")
	}
	setNonEmpty(v, "page_token", q.PageToken)
	return Request{Host: HostData, Path: "/v1beta1/news", Query: v}
}

// Assets builds an asset listing request. The endpoint is not paginated.
func (b *RequestBuilder) Assets(q AssetsQuery) Request {
	v := url.Values{}
	setNonEmpty(v, "status", q.Status)
	setNonEmpty(v, "asset_class", q.AssetClass)
	return Request{Host: HostTrading, Path: "/v2/assets", Query: v}
}

// OptionContracts builds an option contract listing request.
func (b *RequestBuilder) OptionContracts(q ContractsQuery) Request {
	v := url.Values{}
	v.Set("underlying_symbols", q.Underlying)
	setNonEmpty(v, "expiration_date_gte", q.ExpirationGTE)
	setNonEmpty(v, "expiration_date_lte", q.ExpirationLTE)
	v.Set("limit", strconv.Itoa(pageSize(q.Limit, b.pageLimit)))
	setNonEmpty(v, "page_token", q.PageToken)
	return Request{Host: HostTrading, Path: "/v2/options/contracts", Query: v}
}

func pageSize(requested, fallback int) int {
	if requested > 0 && requested < fallback {
		return requested
	}
	return fallback
}

func setTime(v url.Values, key string, t time.Time) {
	if !t.IsZero() {
		v.Set(key, t.UTC().Format(time.RFC3339))
	}
}

func setNonEmpty(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
