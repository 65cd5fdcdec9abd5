// Package util provides common utility functions for price calculations.
package util

import "github.com/shopspring/decimal"

// CentsPlaces is the precision of equity limit prices.
const CentsPlaces = 2

// RoundToCents rounds half away from zero to two decimals.
func RoundToCents(price decimal.Decimal) decimal.Decimal {
	return price.Round(CentsPlaces)
}

// BuyLimit prices a marketable buy above the observed price.
// With slippage 0.005, 100.00 becomes 100.50.
func BuyLimit(price float64, slippage float64) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	return RoundToCents(p.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(slippage))))
}

// SellLimit prices a marketable sell below the observed price.
// With slippage 0.005, 100.00 becomes 99.50.
func SellLimit(price float64, slippage float64) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	return RoundToCents(p.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(slippage))))
}

// FormatMoney renders an amount with two decimals, e.g. "2000.00".
func FormatMoney(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(CentsPlaces)
}
