package codec

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const balanceDecimals = 12

// five64 is 5^64; bits / 2^64 == bits * 5^64 / 10^64.
var five64 = new(big.Int).Exp(big.NewInt(5), big.NewInt(64), nil)

// FromBits converts the raw bits of a U64F64 fixed-point number to an
// exact decimal.
func FromBits(bits *big.Int) decimal.Decimal {
	n := new(big.Int).Mul(bits, five64)
	return decimal.NewFromBigInt(n, -64)
}

// ToBalance converts an integer amount of the smallest unit to tokens.
func ToBalance(amount *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -balanceDecimals)
}

// ParseBits parses a decimal string of U64F64 bits.
func ParseBits(s string) (decimal.Decimal, error) {
	n, err := parseUint(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return FromBits(n), nil
}

// ParseBalance parses a decimal string of smallest-unit balance.
func ParseBalance(s string) (decimal.Decimal, error) {
	n, err := parseUint(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return ToBalance(n), nil
}

func parseUint(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is not an unsigned integer", ErrMalformedArgs, s)
	}
	return n, nil
}

func bitsArg(a Args, key string) (decimal.Decimal, error) {
	s, err := a.String(key)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := ParseBits(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%q: %w", key, err)
	}
	return d, nil
}

func balanceArg(a Args, key string) (decimal.Decimal, error) {
	s, err := a.String(key)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := ParseBalance(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%q: %w", key, err)
	}
	return d, nil
}

func errMissing(key string) error {
	return fmt.Errorf("%w: missing %q", ErrMalformedArgs, key)
}
