// Package numeric provides wire-format decoding for the loosely typed JSON
// the exchange emits: numbers as strings, bare numbers or scientific
// notation, booleans as words or digits, and timestamps in two flavours.
package numeric

import (
	"bytes"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/tidemark/bybitconn/errs"
)

// Decimal decodes any JSON numeric representation into an exact decimal.
// "9e-8", 9e-8 and "0.00000009" all decode to the same value.
type Decimal struct {
	decimal.Decimal
}

// NewDecimal wraps a decimal.Decimal for wire serialization.
func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{Decimal: d}
}

// UnmarshalJSON accepts quoted or bare numbers, including scientific notation.
// Empty strings and null decode to zero.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	raw := unquote(data)
	if raw == "" || raw == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return errs.New("bybit", errs.CodeDecode,
			errs.WithMessage("invalid decimal"),
			errs.WithRawBody(string(data)),
			errs.WithCause(err))
	}
	d.Decimal = parsed
	return nil
}

// MarshalJSON emits the value as a quoted plain-notation string, which is the
// form the exchange accepts in request bodies.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Decimal.String())
}

// IsZero reports whether the decimal equals zero.
func (d Decimal) IsZero() bool {
	return d.Decimal.IsZero()
}

// Bool decodes the exchange's permissive boolean representations.
// "true", "1", "yes" and "y" decode true; "false", "0", "no" and "n" decode
// false; anything else falls back to strict JSON boolean parsing.
type Bool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bool) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(unquote(data)) {
	case "true", "1", "yes", "y":
		*b = true
		return nil
	case "false", "0", "no", "n":
		*b = false
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return errs.New("bybit", errs.CodeDecode,
			errs.WithMessage("invalid boolean"),
			errs.WithRawBody(string(data)),
			errs.WithCause(err))
	}
	*b = Bool(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b Bool) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}

// TimeMS decodes an epoch timestamp expressed in milliseconds, quoted or
// bare. Fractional milliseconds are discarded.
type TimeMS struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TimeMS) UnmarshalJSON(data []byte) error {
	raw := unquote(data)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return errs.New("bybit", errs.CodeDecode,
			errs.WithMessage("invalid millisecond timestamp"),
			errs.WithRawBody(string(data)),
			errs.WithCause(err))
	}
	t.Time = time.UnixMilli(parsed.IntPart()).UTC()
	return nil
}

// MarshalJSON emits the timestamp as a quoted millisecond string.
func (t TimeMS) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(decimal.NewFromInt(t.Time.UnixMilli()).String())
}

// TimeSec decodes an epoch timestamp expressed in seconds with an optional
// fractional part, as candle open times arrive. The value resolves to the
// nearest millisecond; sub-millisecond digits carry no meaning.
type TimeSec struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TimeSec) UnmarshalJSON(data []byte) error {
	raw := unquote(data)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return errs.New("bybit", errs.CodeDecode,
			errs.WithMessage("invalid second timestamp"),
			errs.WithRawBody(string(data)),
			errs.WithCause(err))
	}
	millis := parsed.Mul(decimal.NewFromInt(1000)).Round(0)
	t.Time = time.UnixMilli(millis.IntPart()).UTC()
	return nil
}

func unquote(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	return string(bytes.TrimSpace(trimmed))
}
