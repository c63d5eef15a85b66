package enums

import (
	"fmt"
	"strings"
)

// Currency is an ISO 4217 code accepted on orders.
type Currency string

const (
	CurrencyVND Currency = "VND"
	CurrencyUSD Currency = "USD"
)

var validCurrencies = []Currency{
	CurrencyVND,
	CurrencyUSD,
}

func (c Currency) String() string {
	return string(c)
}

func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

func ParseCurrency(value string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validCurrencies {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
