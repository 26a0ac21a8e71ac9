package market

import (
	"fmt"
	"math/big"
)

// NativeCurrency is the sentinel currency identifier meaning the chain's
// native coin rather than a fungible token contract.
var NativeCurrency = [20]byte{}

// FeeConfig is the persisted platform fee policy: rates in basis points per
// settlement kind and the address receiving the fee. It lives in state so
// runtime admin changes survive restarts.
type FeeConfig struct {
	NativeBps   uint32
	TokenBps    uint32
	Destination [20]byte
}

// Listing captures an active offer to sell a single asset at a fixed price.
// The marketplace holds custody of the asset for as long as the listing is
// active; Seller records the address that deposited it and receives the sale
// proceeds.
type Listing struct {
	AssetID  uint64
	Price    *big.Int
	Currency [20]byte
	ForSale  bool
	Seller   [20]byte
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// IsNative reports whether the listing settles in the native currency.
func (l *Listing) IsNative() bool {
	return l != nil && l.Currency == NativeCurrency
}

// SanitizeListing validates the supplied listing and returns a cloned
// instance with a non-nil price field. The function does not mutate the
// original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if clone.Price.Sign() < 0 {
		return nil, fmt.Errorf("listing price must be non-negative")
	}
	if clone.ForSale && clone.Price.Sign() == 0 {
		return nil, fmt.Errorf("active listing price must be positive")
	}
	if clone.ForSale && clone.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("active listing missing seller")
	}
	return clone, nil
}
