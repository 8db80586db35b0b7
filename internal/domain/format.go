package domain

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatAmount renders a signed amount in the given ISO currency, falling back
// to DefaultCurrency for unknown codes.
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		cur = money.GetCurrency(DefaultCurrency)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}
