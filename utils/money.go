package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money converts between major-unit decimals and the integer minor units the
// ledger stores, using the ISO 4217 scale of the configured currency.
type Money struct {
	Code  string
	scale int32
}

func NewMoney(code string) (Money, error) {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return Money{}, fmt.Errorf("unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Money{Code: unit.String(), scale: int32(scale)}, nil
}

// ToMinor rounds half away from zero to the currency's minor unit.
func (m Money) ToMinor(major decimal.Decimal) int64 {
	return major.Shift(m.scale).Round(0).IntPart()
}

func (m Money) ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -m.scale)
}

func (m Money) Format(minor int64) string {
	return m.ToMajor(minor).StringFixed(m.scale) + " " + m.Code
}
