// Package money provides a fixed-point monetary value with two fractional
// digits. Arithmetic keeps full decimal precision; rounding (half-up) is
// applied only when a value is rounded explicitly or rendered.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits a rounded Money carries.
const Scale int32 = 2

var hundred = decimal.NewFromInt(100)

// Max is the largest amount a NUMERIC(14,2) column holds.
var Max = Money{d: decimal.RequireFromString("999999999999.99")}

// Money is an immutable decimal amount. The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{}

// New wraps a decimal without rounding it.
func New(d decimal.Decimal) Money { return Money{d: d} }

// FromInt returns a whole amount (e.g. FromInt(500) is 500.00).
func FromInt(units int64) Money { return Money{d: decimal.NewFromInt(units)} }

// FromCents returns an amount expressed in minor units.
func FromCents(cents int64) Money { return Money{d: decimal.New(cents, -Scale)} }

// Parse reads a decimal string such as "1000.00" or "12.5".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal exposes the underlying full-precision value.
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }

// Mul multiplies by a dimensionless factor such as a quantity.
func (m Money) Mul(f decimal.Decimal) Money { return Money{d: m.d.Mul(f)} }

// MulInt multiplies by an integer quantity.
func (m Money) MulInt(n int64) Money { return Money{d: m.d.Mul(decimal.NewFromInt(n))} }

// Percent returns pct percent of m at full precision.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{d: m.d.Mul(pct).Div(hundred)}
}

// Ratio returns m / o as a plain decimal. It panics if o is zero, like
// decimal.Div; callers check IsZero first.
func (m Money) Ratio(o Money) decimal.Decimal { return m.d.Div(o.d) }

// Round rounds half-up (away from zero on a tie) to Scale digits.
func (m Money) Round() Money { return Money{d: RoundHalfUp(m.d, Scale)} }

func (m Money) IsZero() bool     { return m.d.IsZero() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }

func (m Money) Cmp(o Money) int              { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool           { return m.d.Equal(o.d) }
func (m Money) LessThan(o Money) bool        { return m.d.LessThan(o.d) }
func (m Money) GreaterThan(o Money) bool     { return m.d.GreaterThan(o.d) }
func (m Money) LessThanOrEqual(o Money) bool { return m.d.LessThanOrEqual(o.d) }

// String renders the rounded amount with exactly two fractional digits.
func (m Money) String() string { return RoundHalfUp(m.d, Scale).StringFixed(Scale) }

// MarshalJSON renders the amount as a quoted fixed-point string so clients
// never see binary floating point.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted strings and bare JSON numbers.
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	m.d = d
	return nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Money) Scan(value interface{}) error {
	if value == nil {
		m.d = decimal.Zero
		return nil
	}
	return m.d.Scan(value)
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Sum adds amounts at full precision.
func Sum(ms ...Money) Money {
	total := Zero
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}

// RoundHalfUp rounds d to places fractional digits with ties away from zero,
// so 0.005 becomes 0.01 and -0.005 becomes -0.01.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}
