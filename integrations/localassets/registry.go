// Package localassets provides in-process implementations of the external
// asset-registry and fungible-token collaborators, backed by the same
// key-value store as the marketplace. They exist for local development and
// test deployments; production deployments consume remote contracts through
// the same interfaces.
package localassets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"nftmarket/native/market"
	"nftmarket/storage"
)

var (
	assetOwnerPrefix = []byte("localassets/owner/")

	// ErrNotAssetOwner is returned when a custody transfer names a sender
	// that does not currently hold the asset.
	ErrNotAssetOwner = errors.New("localassets: sender does not hold asset")
	// ErrUnknownAsset is returned for transfers of unminted assets.
	ErrUnknownAsset = errors.New("localassets: unknown asset")
)

// Registry is a minimal asset registry: it tracks one holder per asset and
// reports royalties as a fixed share of the sale price for a single
// configured receiver. Each registry is scoped to a contract address so
// several can share one store without colliding.
type Registry struct {
	db              storage.Database
	space           [20]byte
	royaltyReceiver [20]byte
	royaltyBps      uint32
}

// NewRegistry creates a registry over the provided database at the zero
// contract address. A zero royaltyBps disables royalty support entirely.
func NewRegistry(db storage.Database, royaltyReceiver [20]byte, royaltyBps uint32) *Registry {
	return NewRegistryAt(db, [20]byte{}, royaltyReceiver, royaltyBps)
}

// NewRegistryAt creates a registry scoped to the given contract address.
func NewRegistryAt(db storage.Database, addr [20]byte, royaltyReceiver [20]byte, royaltyBps uint32) *Registry {
	return &Registry{db: db, space: addr, royaltyReceiver: royaltyReceiver, royaltyBps: royaltyBps}
}

func (r *Registry) assetKey(assetID uint64) []byte {
	buf := make([]byte, 0, len(assetOwnerPrefix)+28)
	buf = append(buf, assetOwnerPrefix...)
	buf = append(buf, r.space[:]...)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], assetID)
	return append(buf, id[:]...)
}

// Mint assigns a fresh asset to the owner. Re-minting an existing asset is an
// error.
func (r *Registry) Mint(owner [20]byte, assetID uint64) error {
	exists, err := r.db.Has(r.assetKey(assetID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("localassets: asset %d already minted", assetID)
	}
	return r.db.Put(r.assetKey(assetID), owner[:])
}

// OwnerOf returns the current holder of the asset.
func (r *Registry) OwnerOf(assetID uint64) ([20]byte, error) {
	var owner [20]byte
	data, err := r.db.Get(r.assetKey(assetID))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return owner, ErrUnknownAsset
	}
	if err != nil {
		return owner, err
	}
	copy(owner[:], data)
	return owner, nil
}

// TransferCustody moves the asset from its current holder to the recipient.
// The sender must be the current holder.
func (r *Registry) TransferCustody(from, to [20]byte, assetID uint64) error {
	owner, err := r.OwnerOf(assetID)
	if err != nil {
		return err
	}
	if owner != from {
		return ErrNotAssetOwner
	}
	return r.db.Put(r.assetKey(assetID), to[:])
}

// SupportsRoyalties reports whether the registry advertises royalty metadata.
func (r *Registry) SupportsRoyalties() bool {
	return r.royaltyBps > 0
}

// RoyaltyInfo reports the configured receiver and a fixed basis-point share
// of the sale price.
func (r *Registry) RoyaltyInfo(assetID uint64, price *big.Int) ([20]byte, *big.Int, error) {
	if r.royaltyBps == 0 || price == nil {
		return [20]byte{}, big.NewInt(0), nil
	}
	amount := new(big.Int).Mul(price, new(big.Int).SetUint64(uint64(r.royaltyBps)))
	amount.Div(amount, big.NewInt(10_000))
	return r.royaltyReceiver, amount, nil
}

// RegistryHub resolves registry contract addresses to in-process registries
// sharing one store and royalty policy. It backs the admin registry-swap
// path the same way TokenLedger backs currency resolution.
type RegistryHub struct {
	db              storage.Database
	royaltyReceiver [20]byte
	royaltyBps      uint32
}

// NewRegistryHub creates a hub over the provided database.
func NewRegistryHub(db storage.Database, royaltyReceiver [20]byte, royaltyBps uint32) *RegistryHub {
	return &RegistryHub{db: db, royaltyReceiver: royaltyReceiver, royaltyBps: royaltyBps}
}

// Registry returns the registry scoped to the address. Every address
// resolves; an address nothing was minted under simply holds no assets.
func (h *RegistryHub) Registry(addr [20]byte) (market.AssetRegistry, bool) {
	return NewRegistryAt(h.db, addr, h.royaltyReceiver, h.royaltyBps), true
}

// TokenLedger implements a set of fungible settlement currencies as plain
// balance maps. TransferFrom performs no allowance accounting; the ledger
// trusts the marketplace as operator. Transfer spends the operator's own
// balance, mirroring a token contract called by the marketplace.
type TokenLedger struct {
	db       storage.Database
	operator [20]byte
}

// NewTokenLedger creates a ledger over the provided database. The operator is
// the marketplace vault address: the implied sender of Transfer calls.
func NewTokenLedger(db storage.Database, operator [20]byte) *TokenLedger {
	return &TokenLedger{db: db, operator: operator}
}

// Token returns the fungible-token view for the currency, satisfying the
// marketplace's token resolver. Every non-native currency resolves; unknown
// currencies simply have zero balances.
func (l *TokenLedger) Token(currency [20]byte) (market.FungibleToken, bool) {
	if currency == ([20]byte{}) {
		return nil, false
	}
	return l.Ledger(currency), true
}

// Ledger returns the concrete per-currency view, exposing balance seeding
// for development deployments.
func (l *TokenLedger) Ledger(currency [20]byte) *Token {
	return &Token{db: l.db, currency: currency, operator: l.operator}
}

// Token is the per-currency view over the ledger.
type Token struct {
	db       storage.Database
	currency [20]byte
	operator [20]byte
}

func (t *Token) balanceKey(addr [20]byte) []byte {
	buf := make([]byte, 0, len("localassets/balance/")+20+20)
	buf = append(buf, []byte("localassets/balance/")...)
	buf = append(buf, t.currency[:]...)
	buf = append(buf, addr[:]...)
	return buf
}

// BalanceOf returns the holder's balance in this currency.
func (t *Token) BalanceOf(addr [20]byte) (*big.Int, error) {
	data, err := t.db.Get(t.balanceKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	var balance big.Int
	if err := rlp.DecodeBytes(data, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (t *Token) setBalance(addr [20]byte, balance *big.Int) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return t.db.Put(t.balanceKey(addr), encoded)
}

// Credit adds to a holder's balance. Used to seed development deployments.
func (t *Token) Credit(addr [20]byte, amount *big.Int) error {
	balance, err := t.BalanceOf(addr)
	if err != nil {
		return err
	}
	return t.setBalance(addr, new(big.Int).Add(balance, amount))
}

func (t *Token) move(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("localassets: invalid transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := t.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("localassets: insufficient balance")
	}
	toBalance, err := t.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := t.setBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return t.setBalance(to, new(big.Int).Add(toBalance, amount))
}

// TransferFrom pulls funds from the payer to the recipient.
func (t *Token) TransferFrom(payer, recipient [20]byte, amount *big.Int) error {
	return t.move(payer, recipient, amount)
}

// Transfer spends the operator's balance, i.e. the marketplace vault.
func (t *Token) Transfer(recipient [20]byte, amount *big.Int) error {
	return t.move(t.operator, recipient, amount)
}
