package oracle

import (
	"fmt"

	"github.com/holiman/uint256"

	"futarchy-lobbyist/internal/domain"
)

// maxExponent bounds |exponent| + decimals so 10^n fits in 256 bits.
const maxExponent = 77

// PriceToU64 converts a signed-exponent price to a fixed-point integer with
// decimals places: price * 10^decimals, then * 10^exponent or / 10^-exponent.
// The intermediate is 256 bits wide; results beyond u64 fail with ErrArithmeticOverflow.
func PriceToU64(price int64, exponent int32, decimals uint8) (uint64, error) {
	if price < 0 {
		return 0, fmt.Errorf("negative price %d: %w", price, domain.ErrGetPythPrice)
	}

	v := uint256.NewInt(uint64(price))
	if err := mulPow10(v, int64(decimals)); err != nil {
		return 0, err
	}

	switch {
	case exponent > 0:
		if err := mulPow10(v, int64(exponent)); err != nil {
			return 0, err
		}
	case exponent < 0:
		if -int64(exponent) > maxExponent {
			return 0, nil
		}
		v.Div(v, pow10(uint64(-int64(exponent))))
	}

	if !v.IsUint64() {
		return 0, fmt.Errorf("price %de%d at %d decimals: %w", price, exponent, decimals, domain.ErrArithmeticOverflow)
	}
	return v.Uint64(), nil
}

func mulPow10(v *uint256.Int, n int64) error {
	if n == 0 || v.IsZero() {
		return nil
	}
	if n > maxExponent {
		return domain.ErrArithmeticOverflow
	}
	if _, overflow := v.MulOverflow(v, pow10(uint64(n))); overflow {
		return domain.ErrArithmeticOverflow
	}
	return nil
}

func pow10(n uint64) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(n))
}
