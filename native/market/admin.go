package market

import (
	"fmt"
	"math/big"
)

// UpdateRegistry points the marketplace at a new asset registry. Listings
// created against the prior registry stay tracked; custody operations simply
// start going through the new contract.
func (e *Engine) UpdateRegistry(caller [20]byte, registry AssetRegistry) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if registry == nil {
		return errNilRegistry
	}
	e.registry = registry
	return nil
}

// UpdateFeeRates changes the fee rates applied to subsequent purchases. Rates
// are never snapshotted into listings, so the change also covers listings
// created under a prior rate. One fee-rate-changed event is emitted per rate
// that actually changed.
func (e *Engine) UpdateFeeRates(caller [20]byte, nativeBps, tokenBps uint32) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	if nativeBps > feeDenominator || tokenBps > feeDenominator {
		return fmt.Errorf("market: fee bps out of range")
	}
	cfg, _, err := e.state.FeeConfigGet()
	if err != nil {
		return err
	}
	changedNative := nativeBps != cfg.NativeBps
	changedToken := tokenBps != cfg.TokenBps
	if !changedNative && !changedToken {
		return nil
	}
	oldNative, oldToken := cfg.NativeBps, cfg.TokenBps
	cfg.NativeBps = nativeBps
	cfg.TokenBps = tokenBps
	if err := e.state.FeeConfigPut(cfg); err != nil {
		return err
	}
	if changedNative {
		e.emit(NewFeeRateChangedEvent(caller, "native", oldNative, nativeBps))
	}
	if changedToken {
		e.emit(NewFeeRateChangedEvent(caller, "token", oldToken, tokenBps))
	}
	return nil
}

// UpdateFeeDestination changes the address receiving platform fees.
func (e *Engine) UpdateFeeDestination(caller, destination [20]byte) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	cfg, _, err := e.state.FeeConfigGet()
	if err != nil {
		return err
	}
	cfg.Destination = destination
	return e.state.FeeConfigPut(cfg)
}

// AddCurrency allow-lists a settlement currency for new listings. Adding an
// already accepted currency is a no-op.
func (e *Engine) AddCurrency(caller [20]byte, currency [20]byte) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	allowed, err := e.state.CurrencyAllowed(currency)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}
	if err := e.state.CurrencyAdd(currency); err != nil {
		return err
	}
	e.emit(NewCurrencyAddedEvent(currency))
	return nil
}

// RemoveCurrency drops a settlement currency from the allow-list. Listings
// already created in that currency stay purchasable; the allow-list is only
// consulted at listing time.
func (e *Engine) RemoveCurrency(caller [20]byte, currency [20]byte) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	allowed, err := e.state.CurrencyAllowed(currency)
	if err != nil {
		return err
	}
	if !allowed {
		return nil
	}
	if err := e.state.CurrencyRemove(currency); err != nil {
		return err
	}
	e.emit(NewCurrencyRemovedEvent(currency))
	return nil
}

// RecoverToken sweeps a stray fungible-token balance that was sent to the
// marketplace outside the settlement flow.
func (e *Engine) RecoverToken(caller [20]byte, currency [20]byte, to [20]byte, amount *big.Int) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.tokens == nil {
		return errNilTokens
	}
	token, ok := e.tokens.Token(currency)
	if !ok {
		return fmt.Errorf("%w: no token contract for currency", ErrTransferFailure)
	}
	if err := token.Transfer(to, amount); err != nil {
		return fmt.Errorf("%w: token recovery: %v", ErrTransferFailure, err)
	}
	return nil
}

// RecoverNative sweeps stray native balance held by the marketplace vault.
// Settlement never parks native funds in the vault, so the whole vault
// balance is recoverable.
func (e *Engine) RecoverNative(caller [20]byte, to [20]byte, amount *big.Int) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	if err := e.transferNative(e.vault, to, amount); err != nil {
		return fmt.Errorf("%w: native recovery: %v", ErrTransferFailure, err)
	}
	return nil
}

// RecoverAsset returns custody of an asset that reached the marketplace
// outside the listing flow. Assets under an active listing are never
// recoverable this way.
func (e *Engine) RecoverAsset(caller [20]byte, assetID uint64, to [20]byte) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if listing, ok := e.state.ListingGet(assetID); ok && listing.ForSale {
		return fmt.Errorf("market: asset under active listing")
	}
	if err := e.registry.TransferCustody(e.vault, to, assetID); err != nil {
		return fmt.Errorf("%w: custody recovery: %v", ErrTransferFailure, err)
	}
	return nil
}
