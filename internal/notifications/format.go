package notifications

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// FormatMoney renders an amount with the currency's narrow symbol and its
// standard number of decimals, e.g. "$ 150.00". Unknown codes fall back to USD.
func FormatMoney(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		unit = currency.USD
	}
	return fmt.Sprint(currency.NarrowSymbol(unit.Amount(amount.InexactFloat64())))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
