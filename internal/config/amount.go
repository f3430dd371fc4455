package config

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string such as "1.5" into base units with
// the given number of decimals. Fractions finer than one base unit are
// rejected rather than rounded.
func ParseAmount(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %w", ErrInvalid, s, err)
	}

	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %q", ErrInvalid, s)
	}

	units := d.Shift(decimals)
	if !units.IsInteger() {
		return 0, fmt.Errorf("%w: amount %q has more than %d decimals", ErrInvalid, s, decimals)
	}

	n := units.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: amount %q overflows", ErrInvalid, s)
	}

	return n.Uint64(), nil
}

// FormatAmount is the inverse of ParseAmount.
func FormatAmount(units uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -decimals).String()
}
