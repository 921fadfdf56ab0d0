package model

import "time"

// Bar is an OHLCV aggregate for one symbol over one timeframe interval.
// Natural key: (asset class, symbol, timeframe, timestamp).
type Bar struct {
	Class      AssetClass
	Symbol     string
	Timeframe  string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount *int64
	VWAP       *float64

	// Crypto only.
	Exchange *string
	// Options only.
	UnderlyingSymbol *string
	OpenInterest     *int64

	Provenance
}

func (b Bar) EntityKind() EntityKind { return BarKind(b.Class) }

func (b Bar) NaturalKey() string {
	return string(b.Class) + "|" + b.Symbol + "|" + b.Timeframe + "|" + b.Timestamp.UTC().Format(time.RFC3339Nano)
}
