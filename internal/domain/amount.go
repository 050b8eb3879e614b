package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimal places between ether and wei.
const EtherDecimals = 18

// ErrInvalidAmount is returned when an amount string cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a non-negative currency amount in wei.
// The wrapped integer is never mutated after construction, so values can be
// shared freely between snapshots.
type Amount struct {
	i *big.Int
}

// NewAmount copies i into an Amount. A nil i yields zero.
func NewAmount(i *big.Int) Amount {
	if i == nil {
		return Amount{}
	}
	return Amount{i: new(big.Int).Set(i)}
}

// AmountFromUint64 returns the amount of u wei.
func AmountFromUint64(u uint64) Amount {
	return Amount{i: new(big.Int).SetUint64(u)}
}

// ParseWei parses a wei amount given as a decimal or 0x-prefixed hex integer.
func ParseWei(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	i, ok := new(big.Int).SetString(s, 0)
	if !ok || i.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{i: i}, nil
}

// ParseEther converts a decimal ether string (e.g. "1.5") to wei.
// Fractions finer than one wei are rejected.
func ParseEther(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("%w: negative %q", ErrInvalidAmount, s)
	}

	wei := d.Shift(EtherDecimals)
	if !wei.IsInteger() {
		return Amount{}, fmt.Errorf("%w: more than %d decimals in %q", ErrInvalidAmount, EtherDecimals, s)
	}
	return Amount{i: wei.BigInt()}, nil
}

// Int returns a copy of the amount as a big.Int.
func (a Amount) Int() *big.Int {
	if a.i == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.i)
}

// Sign returns -1, 0 or +1. Amounts are non-negative, so -1 never occurs for
// values built through this package.
func (a Amount) Sign() int {
	if a.i == nil {
		return 0
	}
	return a.i.Sign()
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

// Cmp compares a and b.
func (a Amount) Cmp(b Amount) int {
	return a.Int().Cmp(b.Int())
}

// Equal reports whether a and b hold the same value.
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// String returns the amount in wei as a decimal string.
func (a Amount) String() string {
	return a.Int().String()
}

// Ether formats the amount in ether without trailing zeros.
func (a Amount) Ether() string {
	return decimal.NewFromBigInt(a.Int(), -EtherDecimals).String()
}
