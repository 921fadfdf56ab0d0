package alpaca

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Record is one provider object as decoded from JSON. Numbers are kept as
// json.Number so validation can decide how to read them.
type Record map[string]any

// Page is one decoded response page.
type Page struct {
	Records       []Record
	NextPageToken string
}

// SymbolField is injected into bar records, which the provider keys by symbol
// instead of carrying it inline.
const SymbolField = "S"

// DecodeBarsPage decodes a multi-symbol bars response.
func DecodeBarsPage(body []byte) (Page, error) {
	var payload struct {
		Bars          map[string][]Record `json:"bars"`
		NextPageToken *string             `json:"next_page_token"`
	}
	if err := decode(body, &payload); err != nil {
		return Page{}, fmt.Errorf("alpaca: decode bars: %w", err)
	}
	symbols := make([]string, 0, len(payload.Bars))
	for sym := range payload.Bars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var records []Record
	for _, sym := range symbols {
		for _, rec := range payload.Bars[sym] {
			if rec == nil {
				rec = Record{}
			}
			rec[SymbolField] = sym
			records = append(records, rec)
		}
	}
	return Page{Records: records, NextPageToken: deref(payload.NextPageToken)}, nil
}

// DecodeNewsPage decodes a news response.
func DecodeNewsPage(body []byte) (Page, error) {
	var payload struct {
		News          []Record `json:"news"`
		NextPageToken *string  `json:"next_page_token"`
	}
	if err := decode(body, &payload); err != nil {
		return Page{}, fmt.Errorf("alpaca: decode news: %w", err)
	}
	return Page{Records: payload.News, NextPageToken: deref(payload.NextPageToken)}, nil
}

// DecodeContractsPage decodes an option contracts response.
func DecodeContractsPage(body []byte) (Page, error) {
	var payload struct {
		Contracts     []Record `json:"option_contracts"`
		NextPageToken *string  `json:"next_page_token"`
	}
	if err := decode(body, &payload); err != nil {
		return Page{}, fmt.Errorf("alpaca: decode option contracts: %w", err)
	}
	return Page{Records: payload.Contracts, NextPageToken: deref(payload.NextPageToken)}, nil
}

// DecodeAssets decodes the (unpaginated) asset listing.
func DecodeAssets(body []byte) (Page, error) {
	var records []Record
	if err := decode(body, &records); err != nil {
		return Page{}, fmt.Errorf("alpaca: decode assets: %w", err)
	}
	return Page{Records: records}, nil
}

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
