package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every Amount.
const Scale = 2

var (
	// ErrInvalidAmount is returned when a string cannot be parsed as a currency amount.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrTooPrecise is returned when a string carries more fractional digits than Scale.
	ErrTooPrecise = errors.New("amount has more than 2 fractional digits")

	hundred = decimal.NewFromInt(100)
)

// Amount is a currency value stored as integer minor units (kobo, cents).
type Amount int64

// Zero is the empty amount.
const Zero Amount = 0

// FromMinor wraps a minor-unit integer.
func FromMinor(minor int64) Amount { return Amount(minor) }

// FromMajor converts whole currency units into an Amount.
func FromMajor(major int64) Amount { return Amount(major * 100) }

// Parse reads a decimal string such as "485.00" or "12.5".
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal value that already has at most Scale fractional digits.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	shifted := d.Shift(Scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	return Amount(shifted.IntPart()), nil
}

// Minor returns the raw minor-unit value.
func (a Amount) Minor() int64 { return int64(a) }

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String renders the amount with exactly two fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

func (a Amount) IsPositive() bool { return a > 0 }

func (a Amount) IsNegative() bool { return a < 0 }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// Clamp bounds a to [lo, hi].
func (a Amount) Clamp(lo, hi Amount) Amount {
	if a < lo {
		return lo
	}
	if a > hi {
		return hi
	}
	return a
}

// Percent returns rate percent of a, rounded half away from zero to the minor unit.
func (a Amount) Percent(rate decimal.Decimal) Amount {
	v := decimal.NewFromInt(int64(a)).Mul(rate).Div(hundred).Round(0)
	return Amount(v.IntPart())
}

// MarshalJSON encodes the amount as a decimal string to avoid float round-trips in clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string ("485.00") or a JSON number (485.5).
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*a = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
