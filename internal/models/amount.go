package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NanoPerTon is the number of nanotons in one TON.
const NanoPerTon = 1_000_000_000

const tonDecimals = 9

// NanoToTon converts an on-chain nanoton amount to display units.
func NanoToTon(nano int64) decimal.Decimal {
	return decimal.New(nano, -tonDecimals)
}

// TonToNano converts a display amount to nanotons. Amounts with more than
// nine fractional digits are rejected rather than rounded.
func TonToNano(amount decimal.Decimal) (int64, error) {
	nano := amount.Shift(tonDecimals)
	if !nano.Equal(nano.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount.String(), tonDecimals)
	}
	if nano.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("amount %s out of range", amount.String())
	}
	return nano.IntPart(), nil
}

// ParseTon parses a display amount such as "2.5" into nanotons.
func ParseTon(s string) (int64, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return TonToNano(amount)
}
