package state

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"nftmarket/core/types"
	"nftmarket/native/market"
	"nftmarket/storage"
)

// Manager persists marketplace state in a key-value database and implements
// the state interface consumed by the market engine. Writes are journaled so
// an operation can be reverted wholesale when one of its sub-calls fails.
type Manager struct {
	db      storage.Database
	journal []journalEntry
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type journalEntry struct {
	key     []byte
	prev    []byte
	existed bool
}

// Snapshot returns a revision marker for the current journal position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write recorded after the given revision, in
// reverse order.
func (m *Manager) RevertToSnapshot(revision int) {
	if revision < 0 || revision > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= revision; i-- {
		entry := m.journal[i]
		if entry.existed {
			_ = m.db.Put(entry.key, entry.prev)
		} else {
			_ = m.db.Delete(entry.key)
		}
	}
	m.journal = m.journal[:revision]
}

// DiscardJournal forgets recorded writes without undoing them. Called once a
// unit of work commits.
func (m *Manager) DiscardJournal() {
	m.journal = m.journal[:0]
}

// KV returns a journaled view of the underlying store. External collaborators
// that persist alongside the marketplace (registries, token ledgers) must
// write through this view so RevertToSnapshot unwinds their writes together
// with the marketplace's own.
func (m *Manager) KV() storage.Database {
	return managerKV{m: m}
}

type managerKV struct {
	m *Manager
}

func (k managerKV) Put(key, value []byte) error { return k.m.put(key, value) }

func (k managerKV) Get(key []byte) ([]byte, error) { return k.m.db.Get(key) }

func (k managerKV) Delete(key []byte) error { return k.m.delete(key) }

func (k managerKV) Has(key []byte) (bool, error) { return k.m.db.Has(key) }

func (k managerKV) Close() {}

func (m *Manager) recordPrev(key []byte) error {
	prev, err := m.db.Get(key)
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}
	m.journal = append(m.journal, journalEntry{
		key:     append([]byte(nil), key...),
		prev:    prev,
		existed: err == nil,
	})
	return nil
}

func (m *Manager) put(key, value []byte) error {
	if err := m.recordPrev(key); err != nil {
		return err
	}
	return m.db.Put(key, value)
}

func (m *Manager) delete(key []byte) error {
	if err := m.recordPrev(key); err != nil {
		return err
	}
	return m.db.Delete(key)
}

func listingKey(assetID uint64) []byte {
	buf := make([]byte, len(listingPrefix)+8)
	copy(buf, listingPrefix)
	binary.BigEndian.PutUint64(buf[len(listingPrefix):], assetID)
	return buf
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return buf
}

type storedListing struct {
	AssetID  uint64
	Price    *big.Int
	Currency [20]byte
	ForSale  bool
	Seller   [20]byte
}

// ListingPut persists the listing record, overwriting any prior record for
// the same asset.
func (m *Manager) ListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&storedListing{
		AssetID:  sanitized.AssetID,
		Price:    sanitized.Price,
		Currency: sanitized.Currency,
		ForSale:  sanitized.ForSale,
		Seller:   sanitized.Seller,
	})
	if err != nil {
		return err
	}
	return m.put(listingKey(sanitized.AssetID), encoded)
}

// ListingGet loads the listing tracked for the asset, if any.
func (m *Manager) ListingGet(assetID uint64) (*market.Listing, bool) {
	data, err := m.db.Get(listingKey(assetID))
	if err != nil {
		return nil, false
	}
	var stored storedListing
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false
	}
	return &market.Listing{
		AssetID:  stored.AssetID,
		Price:    stored.Price,
		Currency: stored.Currency,
		ForSale:  stored.ForSale,
		Seller:   stored.Seller,
	}, true
}

// ListingDelete clears the listing record. Deleting an absent record is a
// no-op.
func (m *Manager) ListingDelete(assetID uint64) error {
	return m.delete(listingKey(assetID))
}

func (m *Manager) loadCurrencies() ([][20]byte, error) {
	data, err := m.db.Get(currencyListKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list [][20]byte
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) storeCurrencies(list [][20]byte) error {
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.put(currencyListKey, encoded)
}

// CurrencyAllowed reports whether the currency identifier is on the
// settlement allow-list.
func (m *Manager) CurrencyAllowed(currency [20]byte) (bool, error) {
	list, err := m.loadCurrencies()
	if err != nil {
		return false, err
	}
	for _, entry := range list {
		if entry == currency {
			return true, nil
		}
	}
	return false, nil
}

// CurrencyAdd appends the currency to the allow-list.
func (m *Manager) CurrencyAdd(currency [20]byte) error {
	list, err := m.loadCurrencies()
	if err != nil {
		return err
	}
	for _, entry := range list {
		if entry == currency {
			return nil
		}
	}
	return m.storeCurrencies(append(list, currency))
}

// CurrencyRemove drops the currency from the allow-list.
func (m *Manager) CurrencyRemove(currency [20]byte) error {
	list, err := m.loadCurrencies()
	if err != nil {
		return err
	}
	filtered := list[:0]
	for _, entry := range list {
		if entry != currency {
			filtered = append(filtered, entry)
		}
	}
	if len(filtered) == len(list) {
		return nil
	}
	return m.storeCurrencies(filtered)
}

type storedFeeConfig struct {
	NativeBps   uint32
	TokenBps    uint32
	Destination [20]byte
}

// FeeConfigGet loads the persisted fee policy. The second return reports
// whether a record exists, so callers can seed from configuration only on a
// fresh store.
func (m *Manager) FeeConfigGet() (market.FeeConfig, bool, error) {
	data, err := m.db.Get(feeConfigKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return market.FeeConfig{}, false, nil
	}
	if err != nil {
		return market.FeeConfig{}, false, err
	}
	var stored storedFeeConfig
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return market.FeeConfig{}, false, err
	}
	return market.FeeConfig{
		NativeBps:   stored.NativeBps,
		TokenBps:    stored.TokenBps,
		Destination: stored.Destination,
	}, true, nil
}

// FeeConfigPut persists the fee policy.
func (m *Manager) FeeConfigPut(cfg market.FeeConfig) error {
	encoded, err := rlp.EncodeToBytes(&storedFeeConfig{
		NativeBps:   cfg.NativeBps,
		TokenBps:    cfg.TokenBps,
		Destination: cfg.Destination,
	})
	if err != nil {
		return err
	}
	return m.put(feeConfigKey, encoded)
}

type storedAccount struct {
	Nonce    uint64
	Balance  *big.Int
	CodeHash []byte
}

// GetAccount loads the account for the address, returning a fresh zero-value
// account when none is stored.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	balance := stored.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	return &types.Account{
		Nonce:    stored.Nonce,
		Balance:  balance,
		CodeHash: stored.CodeHash,
	}, nil
}

// PutAccount persists the account for the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		account = &types.Account{}
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{
		Nonce:    account.Nonce,
		Balance:  balance,
		CodeHash: account.CodeHash,
	})
	if err != nil {
		return err
	}
	return m.put(accountKey(addr), encoded)
}
