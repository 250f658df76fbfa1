package models

import (
	"math/big"

	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"
)

// WeiPerEther is 10^18.
var WeiPerEther = big.NewInt(1_000_000_000_000_000_000)

// ParseEther converts a decimal ether amount such as "0.01" to wei.
// Fractions finer than one wei are rejected.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, xerrors.Errorf("parse ether amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, xerrors.Errorf("negative ether amount %q", s)
	}
	wei := d.Shift(18)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, xerrors.Errorf("ether amount %q is finer than one wei", s)
	}
	return wei.BigInt(), nil
}

// FormatEther renders a wei amount in ether without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
