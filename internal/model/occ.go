package model

import (
	"regexp"
	"strings"
)

var occPattern = regexp.MustCompile(`^([A-Z0-9.]{1,6})(\d{6})([CP])(\d{8})$`)

// UnderlyingFromOCC extracts the root symbol from an OCC contract symbol such
// as AAPL240119C00100000. It returns false for anything else.
func UnderlyingFromOCC(symbol string) (string, bool) {
	m := occPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(symbol)))
	if m == nil {
		return "", false
	}
	return m[1], true
}
