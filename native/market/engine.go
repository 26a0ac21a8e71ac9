package market

import (
	"errors"
	"fmt"
	"math/big"

	"nftmarket/core/events"
	"nftmarket/core/types"
	nativecommon "nftmarket/native/common"
)

const moduleName = "market"

var (
	errNilState          = errors.New("market engine: state not configured")
	errNilRegistry       = errors.New("market engine: asset registry not configured")
	errNilTokens         = errors.New("market engine: token resolver not configured")
	errNilFeeDestination = errors.New("market engine: fee destination not configured")
)

// AssetRegistry is the external contract that owns the transfer-of-custody
// primitive and royalty metadata for the traded assets.
type AssetRegistry interface {
	TransferCustody(from, to [20]byte, assetID uint64) error
	SupportsRoyalties() bool
	RoyaltyInfo(assetID uint64, price *big.Int) ([20]byte, *big.Int, error)
}

// FungibleToken is a settlement currency contract. Transfer spends the
// marketplace's own balance; TransferFrom pulls from a payer that approved
// the marketplace.
type FungibleToken interface {
	TransferFrom(payer, recipient [20]byte, amount *big.Int) error
	Transfer(recipient [20]byte, amount *big.Int) error
}

// TokenResolver maps an allow-listed currency identifier to its token
// contract. The native sentinel never resolves.
type TokenResolver interface {
	Token(currency [20]byte) (FungibleToken, bool)
}

type engineState interface {
	ListingPut(*Listing) error
	ListingGet(assetID uint64) (*Listing, bool)
	ListingDelete(assetID uint64) error
	CurrencyAllowed(currency [20]byte) (bool, error)
	CurrencyAdd(currency [20]byte) error
	CurrencyRemove(currency [20]byte) error
	FeeConfigGet() (FeeConfig, bool, error)
	FeeConfigPut(FeeConfig) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	Snapshot() int
	RevertToSnapshot(revision int)
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine wires the marketplace business logic with external state, the asset
// registry, settlement token contracts and event emission. Every mutating
// operation is a single unit of work: it snapshots the state on entry and
// reverts all changes when any sub-call fails.
type Engine struct {
	state    engineState
	emitter  events.Emitter
	registry AssetRegistry
	tokens   TokenResolver
	pauses   nativecommon.PauseView
	lock     nativecommon.ReentrancyLock
	owner    [20]byte
	vault    [20]byte
}

// NewEngine creates a marketplace engine with a no-op emitter. The owner is
// the administrator allowed to mutate configuration; the vault is the address
// the marketplace itself holds custody and funds under.
func NewEngine(owner, vault [20]byte) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		owner:   owner,
		vault:   vault,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the asset registry consumed for custody transfers
// and royalty metadata.
func (e *Engine) SetRegistry(registry AssetRegistry) { e.registry = registry }

// SetTokens configures the resolver for fungible settlement currencies.
func (e *Engine) SetTokens(tokens TokenResolver) { e.tokens = tokens }

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetFeeDestination seeds the address that receives platform fees. Requires
// the state backend; runtime changes go through UpdateFeeDestination.
func (e *Engine) SetFeeDestination(addr [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	cfg, _, err := e.state.FeeConfigGet()
	if err != nil {
		return err
	}
	cfg.Destination = addr
	return e.state.FeeConfigPut(cfg)
}

// SetFeeRates seeds the fee rates without authorization checks. Intended for
// initial wiring from configuration on a fresh store; runtime changes go
// through UpdateFeeRates.
func (e *Engine) SetFeeRates(nativeBps, tokenBps uint32) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if nativeBps > feeDenominator || tokenBps > feeDenominator {
		return fmt.Errorf("market: fee bps out of range")
	}
	cfg, _, err := e.state.FeeConfigGet()
	if err != nil {
		return err
	}
	cfg.NativeBps = nativeBps
	cfg.TokenBps = tokenBps
	return e.state.FeeConfigPut(cfg)
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Owner returns the configured administrator address.
func (e *Engine) Owner() [20]byte { return e.owner }

// Vault returns the address the marketplace holds custody and funds under.
func (e *Engine) Vault() [20]byte { return e.vault }

// FeeRates returns the current native and fungible fee rates in basis points.
func (e *Engine) FeeRates() (uint32, uint32) {
	cfg, err := e.feeConfig()
	if err != nil {
		return 0, 0
	}
	return cfg.NativeBps, cfg.TokenBps
}

// FeeDestination returns the address receiving platform fees.
func (e *Engine) FeeDestination() [20]byte {
	cfg, err := e.feeConfig()
	if err != nil {
		return [20]byte{}
	}
	return cfg.Destination
}

func (e *Engine) feeConfig() (FeeConfig, error) {
	if e == nil || e.state == nil {
		return FeeConfig{}, errNilState
	}
	cfg, _, err := e.state.FeeConfigGet()
	return cfg, err
}

// Listing returns a copy of the tracked listing for the asset, if any.
func (e *Engine) Listing(assetID uint64) (*Listing, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	listing, ok := e.state.ListingGet(assetID)
	if !ok {
		return nil, false
	}
	return listing.Clone(), true
}

// CurrencyAllowed reports whether the currency is accepted for new listings.
func (e *Engine) CurrencyAllowed(currency [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.CurrencyAllowed(currency)
}

// OnCustodyReceived acknowledges an incoming custody transfer. The
// marketplace must accept transfers unconditionally so it can act as the
// receiving side of a deposit; bookkeeping is owned entirely by the listing
// lifecycle as a separate, explicit step.
func (e *Engine) OnCustodyReceived(operator, from [20]byte, assetID uint64) error {
	return nil
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) requireOwner(caller [20]byte) error {
	if e == nil || e.owner == ([20]byte{}) || caller != e.owner {
		return ErrUnauthorized
	}
	return nil
}

// enter acquires the whole-operation reentrancy lock shared by all custody
// mutating operations. The lock is global, not per asset.
func (e *Engine) enter() error {
	if err := e.lock.Enter(); err != nil {
		return ErrReentrantCall
	}
	return nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) transferNative(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("market: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("market: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// List deposits custody of the asset with the marketplace and opens a listing
// at the given price and settlement currency. Re-listing an asset the
// marketplace already holds is restricted to the current depositor and
// overwrites the prior record without a second custody pull.
func (e *Engine) List(caller [20]byte, assetID uint64, price *big.Int, currency [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.lock.Exit()
	snapshot := e.state.Snapshot()
	if err := e.list(caller, assetID, price, currency); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

func (e *Engine) list(caller [20]byte, assetID uint64, price *big.Int, currency [20]byte) error {
	if e.registry == nil {
		return errNilRegistry
	}
	if price == nil || price.Sign() < 1 {
		return ErrInvalidPrice
	}
	allowed, err := e.state.CurrencyAllowed(currency)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrUnapprovedCurrency
	}
	existing, tracked := e.state.ListingGet(assetID)
	held := tracked && existing.ForSale
	if held && existing.Seller != caller {
		return ErrUnauthorized
	}
	listing := &Listing{
		AssetID:  assetID,
		Price:    new(big.Int).Set(price),
		Currency: currency,
		ForSale:  true,
		Seller:   caller,
	}
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	if !held {
		if err := e.registry.TransferCustody(caller, e.vault, assetID); err != nil {
			return fmt.Errorf("%w: custody deposit: %v", ErrTransferFailure, err)
		}
	}
	e.emit(NewListingCreatedEvent(listing, held))
	return nil
}

// UpdatePrice mutates the price of a tracked listing. Authorization is keyed
// purely on the recorded depositor, not on the ForSale flag.
func (e *Engine) UpdatePrice(caller [20]byte, assetID uint64, newPrice *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, ok := e.state.ListingGet(assetID)
	if !ok || listing.Seller != caller {
		return ErrUnauthorized
	}
	if newPrice == nil || newPrice.Sign() < 1 {
		return ErrInvalidPrice
	}
	listing.Price = new(big.Int).Set(newPrice)
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewPriceChangedEvent(listing))
	return nil
}

// Cancel withdraws an active listing, returning custody of the asset to the
// depositor and clearing the record.
func (e *Engine) Cancel(caller [20]byte, assetID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.lock.Exit()
	snapshot := e.state.Snapshot()
	if err := e.cancel(caller, assetID); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

func (e *Engine) cancel(caller [20]byte, assetID uint64) error {
	if e.registry == nil {
		return errNilRegistry
	}
	listing, ok := e.state.ListingGet(assetID)
	if !ok || !listing.ForSale {
		return ErrNotForSale
	}
	if listing.Seller != caller {
		return ErrUnauthorized
	}
	if err := e.registry.TransferCustody(e.vault, caller, assetID); err != nil {
		return fmt.Errorf("%w: custody release: %v", ErrTransferFailure, err)
	}
	if err := e.state.ListingDelete(assetID); err != nil {
		return err
	}
	e.emit(NewListingCancelledEvent(assetID))
	return nil
}

// Buy settles an active listing in a single unit of work: it validates the
// payment, splits the price into fee, royalty and seller remainder, moves the
// funds, releases custody of the asset to the buyer and closes the listing.
// Funds are collected and validated before custody moves, so a partial
// failure never leaves the asset transferred without full payment.
func (e *Engine) Buy(caller [20]byte, assetID uint64, payment *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.lock.Exit()
	snapshot := e.state.Snapshot()
	if err := e.buy(caller, assetID, payment); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

func (e *Engine) buy(caller [20]byte, assetID uint64, payment *big.Int) error {
	if e.registry == nil {
		return errNilRegistry
	}
	listing, ok := e.state.ListingGet(assetID)
	if !ok || !listing.ForSale {
		return ErrNotForSale
	}
	buyerAcc, err := e.state.GetAccount(caller[:])
	if err != nil {
		return err
	}
	if buyerAcc.IsContract() {
		return ErrContractCallerNotAllowed
	}
	royaltyReceiver := [20]byte{}
	royaltyAmount := big.NewInt(0)
	if e.registry.SupportsRoyalties() {
		receiver, amount, err := e.registry.RoyaltyInfo(assetID, listing.Price)
		if err != nil {
			return fmt.Errorf("market: royalty query: %w", err)
		}
		royaltyReceiver = receiver
		if amount != nil {
			royaltyAmount = amount
		}
	}
	feeCfg, err := e.feeConfig()
	if err != nil {
		return err
	}
	var split SplitResult
	if listing.IsNative() {
		split, err = e.settleNative(caller, listing, payment, feeCfg, royaltyReceiver, royaltyAmount)
	} else {
		split, err = e.settleToken(caller, listing, feeCfg, royaltyReceiver, royaltyAmount)
	}
	if err != nil {
		return err
	}
	if err := e.registry.TransferCustody(e.vault, caller, assetID); err != nil {
		return fmt.Errorf("%w: custody release: %v", ErrTransferFailure, err)
	}
	if err := e.state.ListingDelete(assetID); err != nil {
		return err
	}
	e.emit(NewPurchaseCompletedEvent(assetID, caller, listing.Currency, split, listing.Price.String()))
	return nil
}

func (e *Engine) settleNative(buyer [20]byte, listing *Listing, payment *big.Int, feeCfg FeeConfig, royaltyReceiver [20]byte, royaltyAmount *big.Int) (SplitResult, error) {
	if payment == nil || payment.Cmp(listing.Price) != 0 {
		return SplitResult{}, ErrPaymentMismatch
	}
	split, err := Split(SplitInput{
		Price:           listing.Price,
		FeeBps:          feeCfg.NativeBps,
		RoyaltyReceiver: royaltyReceiver,
		RoyaltyAmount:   royaltyAmount,
		Seller:          listing.Seller,
	})
	if err != nil {
		return SplitResult{}, err
	}
	if split.Fee.Sign() > 0 && feeCfg.Destination == ([20]byte{}) {
		return SplitResult{}, errNilFeeDestination
	}
	if split.Royalty.Sign() > 0 {
		if err := e.transferNative(buyer, split.RoyaltyReceiver, split.Royalty); err != nil {
			return SplitResult{}, fmt.Errorf("%w: royalty payment: %v", ErrTransferFailure, err)
		}
	}
	if split.Fee.Sign() > 0 {
		if err := e.transferNative(buyer, feeCfg.Destination, split.Fee); err != nil {
			return SplitResult{}, fmt.Errorf("%w: fee payment: %v", ErrTransferFailure, err)
		}
	}
	if split.Remainder.Sign() > 0 {
		if err := e.transferNative(buyer, listing.Seller, split.Remainder); err != nil {
			return SplitResult{}, fmt.Errorf("%w: seller payment: %v", ErrTransferFailure, err)
		}
	}
	return split, nil
}

func (e *Engine) settleToken(buyer [20]byte, listing *Listing, feeCfg FeeConfig, royaltyReceiver [20]byte, royaltyAmount *big.Int) (SplitResult, error) {
	if e.tokens == nil {
		return SplitResult{}, errNilTokens
	}
	token, ok := e.tokens.Token(listing.Currency)
	if !ok {
		return SplitResult{}, fmt.Errorf("%w: no token contract for currency", ErrTransferFailure)
	}
	// Validate the division and the fee destination before any funds move; a
	// rejected split must never leave a pulled payment behind.
	split, err := Split(SplitInput{
		Price:           listing.Price,
		FeeBps:          feeCfg.TokenBps,
		RoyaltyReceiver: royaltyReceiver,
		RoyaltyAmount:   royaltyAmount,
		Seller:          listing.Seller,
	})
	if err != nil {
		return SplitResult{}, err
	}
	if split.Fee.Sign() > 0 && feeCfg.Destination == ([20]byte{}) {
		return SplitResult{}, errNilFeeDestination
	}
	// Pull the full price into the marketplace before any payout leaves it.
	if err := token.TransferFrom(buyer, e.vault, listing.Price); err != nil {
		return SplitResult{}, fmt.Errorf("%w: payment pull: %v", ErrTransferFailure, err)
	}
	if split.Royalty.Sign() > 0 {
		if err := token.Transfer(split.RoyaltyReceiver, split.Royalty); err != nil {
			return SplitResult{}, fmt.Errorf("%w: royalty payment: %v", ErrTransferFailure, err)
		}
	}
	if split.Fee.Sign() > 0 {
		if err := token.Transfer(feeCfg.Destination, split.Fee); err != nil {
			return SplitResult{}, fmt.Errorf("%w: fee payment: %v", ErrTransferFailure, err)
		}
	}
	if split.Remainder.Sign() > 0 {
		if err := token.Transfer(listing.Seller, split.Remainder); err != nil {
			return SplitResult{}, fmt.Errorf("%w: seller payment: %v", ErrTransferFailure, err)
		}
	}
	return split, nil
}
