package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a request does not name one.
const DefaultCurrency = "VND"

// zeroDecimal lists currencies without a minor unit.
var zeroDecimal = map[string]bool{
	"VND": true,
	"JPY": true,
	"KRW": true,
	"CLP": true,
	"PYG": true,
	"IDR": true,
}

// CurrencyScale returns the number of decimal places money in the currency carries.
func CurrencyScale(currency string) int32 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// MinorUnit returns the smallest representable amount of the currency.
func MinorUnit(currency string) decimal.Decimal {
	return decimal.New(1, -CurrencyScale(currency))
}

// RoundMoney rounds d to the currency scale (half away from zero).
func RoundMoney(d decimal.Decimal, currency string) decimal.Decimal {
	return d.Round(CurrencyScale(currency))
}

// NormalizeCurrency upper-cases the code and applies the default.
func NormalizeCurrency(currency string) string {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if c == "" {
		return DefaultCurrency
	}
	return c
}

// ParseMoney parses a decimal string amount.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// ValidateAmount checks that amount is positive and representable in the currency.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive, got %s", ErrInvalidAmount, amount)
	}
	if !amount.Equal(RoundMoney(amount, currency)) {
		return fmt.Errorf("%w: %s has more than %d decimal places for %s",
			ErrInvalidAmount, amount, CurrencyScale(currency), currency)
	}
	return nil
}

// SumAmounts adds a list of amounts.
func SumAmounts(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
