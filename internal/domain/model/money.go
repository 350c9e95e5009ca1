package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponent lists the accepted ISO 4217 codes and their minor-unit precision.
var currencyExponent = map[string]int32{
	"XOF": 0,
	"XAF": 0,
	"GHS": 2,
	"NGN": 2,
	"KES": 2,
	"USD": 2,
	"EUR": 2,
}

func NormalizeCurrency(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

func IsKnownCurrency(code string) bool {
	_, ok := currencyExponent[NormalizeCurrency(code)]
	return ok
}

// CurrencyExponent returns the number of minor-unit digits, defaulting to 2.
func CurrencyExponent(code string) int32 {
	if exp, ok := currencyExponent[NormalizeCurrency(code)]; ok {
		return exp
	}
	return 2
}

// AmountsEqual compares two amounts at the precision of the currency.
func AmountsEqual(a, b decimal.Decimal, currency string) bool {
	exp := CurrencyExponent(currency)
	return a.Round(exp).Equal(b.Round(exp))
}

// FormatAmount renders an amount with exactly the currency's minor digits.
func FormatAmount(a decimal.Decimal, currency string) string {
	return a.StringFixed(CurrencyExponent(currency))
}
