package enums

import (
	"fmt"
	"strings"
)

// Currency is the ISO 4217 code a payment is denominated in, lowercase as the
// gateway expects it.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyEUR Currency = "eur"
	CurrencyGBP Currency = "gbp"
)

var validCurrencies = []Currency{
	CurrencyUSD,
	CurrencyEUR,
	CurrencyGBP,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the value is a supported Currency.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCurrency converts raw input into a Currency.
func ParseCurrency(value string) (Currency, error) {
	normalized := Currency(strings.ToLower(strings.TrimSpace(value)))
	for _, candidate := range validCurrencies {
		if candidate == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unsupported currency %q", value)
}
