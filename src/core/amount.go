package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// weiPerEther is 10^18
const weiPerEther uint64 = 1_000_000_000_000_000_000

// ErrInvalidAmount is returned when an amount string cannot be parsed
var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a non-negative quantity of value in wei. The zero value is 0 wei.
type Amount struct {
	wei uint256.Int
}

// Wei returns an amount of n wei
func Wei(n uint64) Amount {
	var a Amount
	a.wei.SetUint64(n)
	return a
}

// Ether returns an amount of n whole ether
func Ether(n uint64) Amount {
	var a Amount
	a.wei.Mul(uint256.NewInt(n), uint256.NewInt(weiPerEther))
	return a
}

// Fraction returns num/den ether, rounded down to the wei
func Fraction(num, den uint64) Amount {
	return Ether(num).MulDiv(1, den)
}

// ParseAmount parses a decimal wei string
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	var a Amount
	if err := a.wei.SetFromDecimal(s); err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return a, nil
}

// Add returns a+b and whether the addition overflowed
func (a Amount) Add(b Amount) (Amount, bool) {
	var sum Amount
	_, overflow := sum.wei.AddOverflow(&a.wei, &b.wei)
	return sum, overflow
}

// Sub returns a-b, or zero when b exceeds a
func (a Amount) Sub(b Amount) Amount {
	var diff Amount
	if a.wei.Lt(&b.wei) {
		return diff
	}
	diff.wei.Sub(&a.wei, &b.wei)
	return diff
}

// MulDiv returns a*num/den rounded down
func (a Amount) MulDiv(num, den uint64) Amount {
	var out Amount
	out.wei.Mul(&a.wei, uint256.NewInt(num))
	out.wei.Div(&out.wei, uint256.NewInt(den))
	return out
}

func (a Amount) Cmp(b Amount) int {
	return a.wei.Cmp(&b.wei)
}

func (a Amount) IsZero() bool {
	return a.wei.IsZero()
}

// String returns the decimal wei representation
func (a Amount) String() string {
	return a.wei.Dec()
}

// Float64 returns an approximate value in wei, for metrics only
func (a Amount) Float64() float64 {
	f, _ := new(big.Float).SetInt(a.wei.ToBig()).Float64()
	return f
}

// MarshalJSON encodes the amount as a quoted decimal wei string
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a quoted decimal string or a bare integer
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}

	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}

	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
