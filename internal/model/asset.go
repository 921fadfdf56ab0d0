package model

// Asset is a row of the symbol master. Natural key: symbol.
type Asset struct {
	Symbol       string
	ID           string
	Class        string
	Exchange     string
	Name         *string
	Status       string
	Tradable     bool
	Marginable   *bool
	Shortable    *bool
	EasyToBorrow *bool
	Fractionable *bool
	// OptionsEnabled is derived from the provider's attributes list.
	OptionsEnabled               *bool
	MaintenanceMarginRequirement *float64
	MinOrderSize                 *float64
	MinTradeIncrement            *float64
	PriceIncrement               *float64

	Provenance
}

func (a Asset) EntityKind() EntityKind { return KindAsset }

func (a Asset) NaturalKey() string { return a.Symbol }
