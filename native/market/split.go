package market

import (
	"fmt"
	"math/big"
)

// feeDenominator is the fixed denominator for fee rates: 10_000 basis points,
// i.e. two implied decimal digits of percentage.
const feeDenominator = 10_000

// SplitInput captures the context required to divide a sale price between the
// platform, an optional royalty receiver, and the seller.
type SplitInput struct {
	Price           *big.Int
	FeeBps          uint32
	RoyaltyReceiver [20]byte
	RoyaltyAmount   *big.Int
	Seller          [20]byte
}

// SplitResult summarises the exact division of the price. Fee + Royalty +
// Remainder always equals the input price.
type SplitResult struct {
	Fee             *big.Int
	Royalty         *big.Int
	RoyaltyReceiver [20]byte
	Remainder       *big.Int
}

// Split computes the platform fee, the effective royalty and the seller
// remainder for a sale. The fee is floor(price * bps / 10000). The royalty is
// suppressed when it is zero or when the receiver is the seller, so the
// engine never attempts self-payments or zero-value transfers. The royalty
// amount reported by the asset registry is trusted as-is; a royalty that
// would push the remainder negative aborts with an error rather than being
// clamped.
func Split(input SplitInput) (SplitResult, error) {
	result := SplitResult{Fee: big.NewInt(0), Royalty: big.NewInt(0), Remainder: big.NewInt(0)}
	if input.Price == nil || input.Price.Sign() <= 0 {
		return result, fmt.Errorf("market: split price must be positive")
	}
	if input.FeeBps > feeDenominator {
		return result, fmt.Errorf("market: fee bps out of range")
	}
	if input.FeeBps > 0 {
		fee := new(big.Int).Mul(input.Price, new(big.Int).SetUint64(uint64(input.FeeBps)))
		result.Fee = fee.Div(fee, big.NewInt(feeDenominator))
	}
	royalty := input.RoyaltyAmount
	if royalty != nil && royalty.Sign() > 0 && input.RoyaltyReceiver != input.Seller {
		if royalty.Sign() < 0 {
			return result, fmt.Errorf("market: negative royalty amount")
		}
		result.Royalty = new(big.Int).Set(royalty)
		result.RoyaltyReceiver = input.RoyaltyReceiver
	}
	remainder := new(big.Int).Sub(input.Price, result.Fee)
	remainder.Sub(remainder, result.Royalty)
	if remainder.Sign() < 0 {
		return result, fmt.Errorf("market: fee and royalty exceed price")
	}
	result.Remainder = remainder
	return result, nil
}
