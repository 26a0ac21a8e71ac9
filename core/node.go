package core

import (
	"encoding/hex"
	"math/big"
	"sync"

	"nftmarket/core/events"
	"nftmarket/core/state"
	"nftmarket/core/types"
	"nftmarket/native/market"
	"nftmarket/observability/metrics"
)

// Node owns the marketplace state and engine and applies mutating operations
// as a single sequential ledger: one operation at a time, each an indivisible
// unit of work. The engine reverts its journal on failure; the node discards
// the journal once an operation commits.
type Node struct {
	mu     sync.Mutex
	state  *state.Manager
	engine *market.Engine

	eventMu sync.Mutex
	events  []types.Event
}

// NewNode wires a node around the provided state manager and engine. The
// node installs itself as the engine's event emitter.
func NewNode(manager *state.Manager, engine *market.Engine) *Node {
	n := &Node{state: manager, engine: engine}
	engine.SetState(manager)
	engine.SetEmitter(n)
	return n
}

// Engine exposes the underlying marketplace engine for read-only queries.
func (n *Node) Engine() *market.Engine { return n.engine }

// Emit implements events.Emitter by buffering emitted events for the RPC
// layer and feeding the marketplace metrics. Events only fire on committed
// transitions, so metrics derived here carry the exact settled values instead
// of handler-side estimates.
func (n *Node) Emit(evt events.Event) {
	type payloadCarrier interface {
		Event() *types.Event
	}
	carrier, ok := evt.(payloadCarrier)
	if !ok || carrier.Event() == nil {
		return
	}
	event := carrier.Event()
	n.recordMetrics(event)
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	n.events = append(n.events, *event)
}

func (n *Node) recordMetrics(evt *types.Event) {
	m := metrics.Market()
	switch evt.Type {
	case market.EventTypeListingCreated:
		// Relist overwrites keep the active count unchanged.
		if evt.Attributes["relist"] != "true" {
			m.ListingOpened()
		}
	case market.EventTypeListingCancelled:
		m.ListingClosed()
	case market.EventTypePurchaseCompleted:
		m.ListingClosed()
		fee := 0.0
		if raw := evt.Attributes["fee"]; raw != "" {
			if parsed, ok := new(big.Float).SetString(raw); ok {
				fee, _ = parsed.Float64()
			}
		}
		m.PurchaseCompleted(currencyLabel(evt.Attributes["currency"]), fee)
	}
}

func currencyLabel(attr string) string {
	if attr == hex.EncodeToString(market.NativeCurrency[:]) {
		return "native"
	}
	return "0x" + attr
}

// Events returns a copy of all buffered events in emission order.
func (n *Node) Events() []types.Event {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}

func (n *Node) apply(op func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := op(); err != nil {
		return err
	}
	n.state.DiscardJournal()
	return nil
}

// List opens a listing for the asset, depositing custody with the
// marketplace.
func (n *Node) List(caller [20]byte, assetID uint64, price *big.Int, currency [20]byte) error {
	return n.apply(func() error { return n.engine.List(caller, assetID, price, currency) })
}

// UpdatePrice changes the price of a tracked listing.
func (n *Node) UpdatePrice(caller [20]byte, assetID uint64, newPrice *big.Int) error {
	return n.apply(func() error { return n.engine.UpdatePrice(caller, assetID, newPrice) })
}

// Cancel withdraws an active listing and returns custody to the depositor.
func (n *Node) Cancel(caller [20]byte, assetID uint64) error {
	return n.apply(func() error { return n.engine.Cancel(caller, assetID) })
}

// Buy settles an active listing for the calling buyer.
func (n *Node) Buy(caller [20]byte, assetID uint64, payment *big.Int) error {
	return n.apply(func() error { return n.engine.Buy(caller, assetID, payment) })
}

// UpdateRegistry swaps the asset registry used for custody and royalties.
func (n *Node) UpdateRegistry(caller [20]byte, registry market.AssetRegistry) error {
	return n.apply(func() error { return n.engine.UpdateRegistry(caller, registry) })
}

// UpdateFeeRates changes the platform fee rates.
func (n *Node) UpdateFeeRates(caller [20]byte, nativeBps, tokenBps uint32) error {
	return n.apply(func() error { return n.engine.UpdateFeeRates(caller, nativeBps, tokenBps) })
}

// UpdateFeeDestination changes the platform fee recipient.
func (n *Node) UpdateFeeDestination(caller, destination [20]byte) error {
	return n.apply(func() error { return n.engine.UpdateFeeDestination(caller, destination) })
}

// AddCurrency allow-lists a settlement currency.
func (n *Node) AddCurrency(caller [20]byte, currency [20]byte) error {
	return n.apply(func() error { return n.engine.AddCurrency(caller, currency) })
}

// RemoveCurrency drops a settlement currency from the allow-list.
func (n *Node) RemoveCurrency(caller [20]byte, currency [20]byte) error {
	return n.apply(func() error { return n.engine.RemoveCurrency(caller, currency) })
}

// RecoverToken sweeps a stray fungible balance.
func (n *Node) RecoverToken(caller [20]byte, currency [20]byte, to [20]byte, amount *big.Int) error {
	return n.apply(func() error { return n.engine.RecoverToken(caller, currency, to, amount) })
}

// RecoverNative sweeps stray native balance.
func (n *Node) RecoverNative(caller [20]byte, to [20]byte, amount *big.Int) error {
	return n.apply(func() error { return n.engine.RecoverNative(caller, to, amount) })
}

// RecoverAsset returns stray custody of an unlisted asset.
func (n *Node) RecoverAsset(caller [20]byte, assetID uint64, to [20]byte) error {
	return n.apply(func() error { return n.engine.RecoverAsset(caller, assetID, to) })
}

// Listing returns the tracked listing for the asset, if any.
func (n *Node) Listing(assetID uint64) (*market.Listing, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Listing(assetID)
}
