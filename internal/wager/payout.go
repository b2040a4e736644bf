package wager

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places money is kept at.
const MoneyPlaces = 2

// DefaultCommissionRate is the platform fee taken from every decided pot.
var DefaultCommissionRate = decimal.RequireFromString("0.08")

// Pot is the sum of all stakes in a session.
func Pot(stake decimal.Decimal, participants int) decimal.Decimal {
	return stake.Mul(decimal.NewFromInt(int64(participants)))
}

// Payout is the amount credited to the winner: pot*(1-rate) truncated to cents.
// The sub-cent remainder stays with the commission.
func Payout(pot, commissionRate decimal.Decimal) decimal.Decimal {
	return pot.Mul(decimal.NewFromInt(1).Sub(commissionRate)).Truncate(MoneyPlaces)
}

// Commission is what the platform keeps from a decided pot.
func Commission(pot, commissionRate decimal.Decimal) decimal.Decimal {
	return pot.Sub(Payout(pot, commissionRate))
}

// NormalizeAmount rounds a user-supplied amount to cents.
func NormalizeAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyPlaces)
}
