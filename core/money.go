/*
money.go - Decimal money helpers

PURPOSE:
  All monetary amounts in the engine are decimal.Decimal, rounded
  half-up to cents at the point of fee computation. Ledger debits and
  credits use the exact rounded value so a refund restores the account
  to its exact pre-debit balance.

PRECISION:
  decimal.Decimal avoids the float drift that would make
  "debit then refund" land off by a fraction of a cent.
*/
package core

import "github.com/shopspring/decimal"

// RoundMoney rounds to two fraction digits, half away from zero.
// For the non-negative amounts this engine deals in, that is
// round-half-up to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// HourlyFee computes hourlyRate x (minutes/60), rounded to cents.
func HourlyFee(hourlyRate decimal.Decimal, minutes int64) decimal.Decimal {
	hours := decimal.NewFromInt(minutes).Div(decimal.NewFromInt(60))
	return RoundMoney(hourlyRate.Mul(hours))
}

// MustMoney parses a decimal literal; panics on malformed input.
// For package-level constants only.
func MustMoney(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
