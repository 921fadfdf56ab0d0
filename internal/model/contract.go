package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionType is call or put.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// OptionContract describes a listed option. Natural key: contract symbol.
type OptionContract struct {
	Symbol            string
	ID                string
	Name              *string
	Status            string
	Tradable          bool
	Expiration        time.Time // date at UTC midnight
	RootSymbol        string
	UnderlyingSymbol  string
	UnderlyingAssetID *string
	Type              OptionType
	Style             *string
	Strike            decimal.Decimal
	Multiplier        *decimal.Decimal
	Size              *decimal.Decimal
	OpenInterest      *int64
	OpenInterestDate  *time.Time
	ClosePrice        *decimal.Decimal
	ClosePriceDate    *time.Time

	Provenance
}

func (c OptionContract) EntityKind() EntityKind { return KindOptionContract }

func (c OptionContract) NaturalKey() string { return c.Symbol }
