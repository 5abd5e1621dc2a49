// Package core holds the ledger and budgeting domain: money and date value
// types, the entity schemas stored as documents, the error taxonomy and the
// pure balance arithmetic shared by the services.
package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a signed monetary amount in cents. Negative values are outflows.
type Money struct {
	Cents int64
}

var (
	ErrInvalidAmount = errors.New("invalid amount")

	hundred     = decimal.NewFromInt(100)
	maxMoneyAbs = decimal.New(1, 16) // keeps cents*100 well inside int64
)

// NewMoney returns cents as Money.
func NewMoney(cents int64) Money {
	return Money{Cents: cents}
}

// ParseMoney converts a decimal string to Money with half-up rounding on the
// third decimal place.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted, and the
// value may carry a leading sign.
//
// Examples:
//
//	ParseMoney("12.34")   -> 1234
//	ParseMoney("-12,345") -> -1235
//	ParseMoney("7")       -> 700
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return FromDecimal(d)
}

// FromDecimal rounds d to cents.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if d.Abs().GreaterThanOrEqual(maxMoneyAbs) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: d.Round(2).Mul(hundred).IntPart()}, nil
}

// MustParseMoney is ParseMoney for literals known to be valid. It panics otherwise.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic("core: invalid money literal " + s)
	}
	return m
}

// Decimal returns the amount as a decimal with two places.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders the amount with exactly two decimals, e.g. "-12.30".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }

func (m Money) Abs() Money {
	if m.Cents < 0 {
		return m.Neg()
	}
	return m
}

func (m Money) IsZero() bool     { return m.Cents == 0 }
func (m Money) IsPositive() bool { return m.Cents > 0 }
func (m Money) IsNegative() bool { return m.Cents < 0 }

// Within reports whether |m - o| <= tolerance.
func (m Money) Within(o, tolerance Money) bool {
	return m.Sub(o).Abs().Cents <= tolerance.Abs().Cents
}

// MarshalJSON writes the amount as a quoted decimal string so that clients
// never see float rounding.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.34" and 12.34.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}
	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		raw = string(data)
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Sum adds all amounts.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
