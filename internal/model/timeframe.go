package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var timeframePattern = regexp.MustCompile(`^(\d+)\s*([a-zA-Z]+)$`)

var timeframeUnits = map[string]string{
	"min": "Min", "mins": "Min", "minute": "Min", "minutes": "Min",
	"hour": "Hour", "hours": "Hour",
	"day": "Day", "days": "Day",
	"week": "Week", "weeks": "Week",
	"month": "Month", "months": "Month",
}

// ParseTimeframe normalises strings such as "1day", "5 min" or "1Hour" into
// the provider's canonical form ("1Day", "5Min", "1Hour") and enforces the
// provider's bounds per unit.
func ParseTimeframe(raw string) (string, error) {
	m := timeframePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", fmt.Errorf("invalid timeframe %q", raw)
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil || amount <= 0 {
		return "", fmt.Errorf("invalid timeframe amount %q", m[1])
	}
	unit, ok := timeframeUnits[strings.ToLower(m[2])]
	if !ok {
		return "", fmt.Errorf("unsupported timeframe unit %q", m[2])
	}

	valid := false
	switch unit {
	case "Min":
		valid = amount <= 59
	case "Hour":
		valid = amount <= 23
	case "Day", "Week":
		valid = amount == 1
	case "Month":
		valid = amount == 1 || amount == 2 || amount == 3 || amount == 4 || amount == 6 || amount == 12
	}
	if !valid {
		return "", fmt.Errorf("timeframe %d%s is out of range", amount, unit)
	}
	return strconv.Itoa(amount) + unit, nil
}
