package relay

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseUnits converts a decimal amount such as "0.1" into its smallest unit.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", amount)
	}
	return value.Shift(decimals).Truncate(0).BigInt(), nil
}

// FormatUnits renders a smallest-unit value as a decimal amount.
func FormatUnits(value *big.Int, decimals int32) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}

// ProvisionalFee is the service fee share of the withdrawn amount:
// amount * 10^decimals * percent / 100, rounded down.
func ProvisionalFee(serviceFeePercent decimal.Decimal, amount string, decimals int32) (*big.Int, error) {
	if serviceFeePercent.IsNegative() {
		return nil, fmt.Errorf("negative service fee %s", serviceFeePercent)
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	fee := value.Shift(decimals).Mul(serviceFeePercent).Div(hundred)
	return fee.Truncate(0).BigInt(), nil
}
