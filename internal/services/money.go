package services

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies Stripe charges in whole units.
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true,
	"xpf": true,
}

// FormatAmount renders minor units as a human amount, e.g. 5000 usd -> "50.00 USD".
func FormatAmount(minor int64, currency string) string {
	code := strings.ToLower(currency)

	var amount string
	if zeroDecimalCurrencies[code] {
		amount = decimal.New(minor, 0).String()
	} else {
		amount = decimal.New(minor, -2).StringFixed(2)
	}

	if code == "" {
		return amount
	}

	return amount + " " + strings.ToUpper(code)
}

// FundedPercent is raised/goal as a percentage rounded to one decimal place.
func FundedPercent(raised, goal int64) string {
	if goal <= 0 {
		return "0.0"
	}

	return decimal.NewFromInt(raised).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(goal)).
		StringFixed(1)
}
