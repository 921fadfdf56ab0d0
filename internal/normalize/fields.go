package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tndd/datadoggo-v3-alpaca/pkg/alpaca"
)

// ValidationError explains why a record was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid record: " + e.Reason
	}
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func missing(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "required"}
}

// present reports whether key holds a non-null value.
func present(rec alpaca.Record, key string) bool {
	v, ok := rec[key]
	return ok && v != nil
}

func requireString(rec alpaca.Record, key string) (string, error) {
	s, err := optString(rec, key)
	if err != nil {
		return "", err
	}
	if s == nil || *s == "" {
		return "", missing(key)
	}
	return *s, nil
}

func optString(rec alpaca.Record, key string) (*string, error) {
	if !present(rec, key) {
		return nil, nil
	}
	switch v := rec[key].(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	case json.Number:
		s := v.String()
		return &s, nil
	default:
		return nil, invalid(key, "expected string, got %T", v)
	}
}

func requireFloat(rec alpaca.Record, key string) (float64, error) {
	f, err := optFloat(rec, key)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, missing(key)
	}
	return *f, nil
}

func optFloat(rec alpaca.Record, key string) (*float64, error) {
	if !present(rec, key) {
		return nil, nil
	}
	var (
		f   float64
		err error
	)
	switch v := rec[key].(type) {
	case json.Number:
		f, err = v.Float64()
	case float64:
		f = v
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return nil, invalid(key, "expected number, got %T", v)
	}
	if err != nil {
		return nil, invalid(key, "not a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalid(key, "not finite")
	}
	return &f, nil
}

func optInt(rec alpaca.Record, key string) (*int64, error) {
	f, err := optFloat(rec, key)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, invalid(key, "expected integer, got %v", *f)
	}
	n := int64(*f)
	return &n, nil
}

func requireBool(rec alpaca.Record, key string) (bool, error) {
	b, err := optBool(rec, key)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, missing(key)
	}
	return *b, nil
}

func optBool(rec alpaca.Record, key string) (*bool, error) {
	if !present(rec, key) {
		return nil, nil
	}
	switch v := rec[key].(type) {
	case bool:
		return &v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, invalid(key, "expected boolean, got %q", v)
		}
		return &b, nil
	default:
		return nil, invalid(key, "expected boolean, got %T", v)
	}
}

func requireTime(rec alpaca.Record, key string) (time.Time, error) {
	t, err := optTime(rec, key)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, missing(key)
	}
	return *t, nil
}

// optTime parses RFC 3339 timestamps and normalises them to UTC.
func optTime(rec alpaca.Record, key string) (*time.Time, error) {
	s, err := optString(rec, key)
	if err != nil || s == nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, invalid(key, "expected RFC 3339 timestamp, got %q", *s)
	}
	t = t.UTC()
	return &t, nil
}

func requireDate(rec alpaca.Record, key string) (time.Time, error) {
	d, err := optDate(rec, key)
	if err != nil {
		return time.Time{}, err
	}
	if d == nil {
		return time.Time{}, missing(key)
	}
	return *d, nil
}

func optDate(rec alpaca.Record, key string) (*time.Time, error) {
	s, err := optString(rec, key)
	if err != nil || s == nil {
		return nil, err
	}
	d, err := time.Parse(time.DateOnly, *s)
	if err != nil {
		return nil, invalid(key, "expected YYYY-MM-DD, got %q", *s)
	}
	return &d, nil
}

func requireDecimal(rec alpaca.Record, key string) (decimal.Decimal, error) {
	d, err := optDecimal(rec, key)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d == nil {
		return decimal.Decimal{}, missing(key)
	}
	return *d, nil
}

func optDecimal(rec alpaca.Record, key string) (*decimal.Decimal, error) {
	s, err := optString(rec, key)
	if err != nil {
		if f, ok := rec[key].(float64); ok {
			d := decimal.NewFromFloat(f)
			return &d, nil
		}
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, invalid(key, "expected decimal, got %q", *s)
	}
	return &d, nil
}

func stringList(rec alpaca.Record, key string) ([]string, error) {
	if !present(rec, key) {
		return nil, nil
	}
	raw, ok := rec[key].([]any)
	if !ok {
		return nil, invalid(key, "expected list, got %T", rec[key])
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, invalid(key, "expected list of strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
