package escrow

import (
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"
)

// maxDecimals is the largest exponent for which 10^d still fits in 64 bits.
const maxDecimals = 19

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%d + %d: %w", a, b, ErrOverflow)
	}
	return sum, nil
}

// scaleAssetAmount converts whole asset units into base units of a mint with
// the given decimals.
func scaleAssetAmount(amount uint64, decimals uint8) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}
	if decimals > maxDecimals {
		return 0, fmt.Errorf("%d * 10^%d: %w", amount, decimals, ErrOverflow)
	}
	factor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	scaled, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), factor)
	if overflow || !scaled.IsUint64() {
		return 0, fmt.Errorf("%d * 10^%d: %w", amount, decimals, ErrOverflow)
	}
	return scaled.Uint64(), nil
}
