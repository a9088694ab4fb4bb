// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseBalance parses a non-negative integer amount in base units.
// An empty string is treated as zero, matching balances the chain has not reported yet.
func ParseBalance(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance: %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative balance: %s", s)
	}
	return n, nil
}

// ParsePositiveAmount parses a transfer amount given in base units.
// Fractional and non-positive amounts are rejected.
func ParsePositiveAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be positive: %s", s)
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("amount must be in base units: %s", s)
	}
	return d.BigInt(), nil
}

// Sum adds all amounts. Nil values count as zero.
func Sum(amounts ...*big.Int) *big.Int {
	total := new(big.Int)
	for _, a := range amounts {
		if a != nil {
			total.Add(total, a)
		}
	}
	return total
}

// FormatAmount formats an amount in base units as a decimal string.
// For example, FormatAmount(big.NewInt(15000000000), 10) returns "1.5".
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	if decimals == 0 {
		return amount.String()
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseAmount parses a human decimal string into base units.
// For example, ParseAmount("1.5", 10) returns 15000000000.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount: %s", s)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}
