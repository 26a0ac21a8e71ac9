package core

import (
	"errors"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"nftmarket/core/state"
	"nftmarket/core/types"
	"nftmarket/integrations/localassets"
	"nftmarket/native/market"
	"nftmarket/storage"
)

func testAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

var (
	nodeOwner  = testAddr(0x01)
	nodeVault  = testAddr(0x02)
	nodeSeller = testAddr(0x03)
	nodeBuyer  = testAddr(0x04)
	nodeFees   = testAddr(0x05)
	nodeToken  = testAddr(0x10)
)

type nodeHarness struct {
	db       *storage.MemDB
	manager  *state.Manager
	kv       storage.Database
	engine   *market.Engine
	registry *localassets.Registry
	tokens   *localassets.TokenLedger
	node     *Node
}

// newNodeHarness assembles a node over an in-memory store with the
// collaborators wired through the journaled key-value view, the way the
// daemon wires them.
func newNodeHarness(t *testing.T) *nodeHarness {
	t.Helper()
	h := &nodeHarness{db: storage.NewMemDB()}
	h.manager = state.NewManager(h.db)
	h.kv = h.manager.KV()
	h.engine = market.NewEngine(nodeOwner, nodeVault)
	h.registry = localassets.NewRegistry(h.kv, nodeFees, 0)
	h.engine.SetRegistry(h.registry)
	h.tokens = localassets.NewTokenLedger(h.kv, nodeVault)
	h.engine.SetTokens(h.tokens)
	h.node = NewNode(h.manager, h.engine)

	if err := h.engine.SetFeeRates(250, 250); err != nil {
		t.Fatalf("seed fee rates: %v", err)
	}
	if err := h.engine.SetFeeDestination(nodeFees); err != nil {
		t.Fatalf("seed fee destination: %v", err)
	}
	if err := h.engine.AddCurrency(nodeOwner, market.NativeCurrency); err != nil {
		t.Fatalf("seed native currency: %v", err)
	}
	if err := h.engine.AddCurrency(nodeOwner, nodeToken); err != nil {
		t.Fatalf("seed token currency: %v", err)
	}
	if err := h.registry.Mint(nodeSeller, 1); err != nil {
		t.Fatalf("mint asset: %v", err)
	}
	if err := h.manager.PutAccount(nodeBuyer[:], &types.Account{Balance: big.NewInt(5000)}); err != nil {
		t.Fatalf("seed buyer balance: %v", err)
	}
	if err := h.tokens.Ledger(nodeToken).Credit(nodeBuyer, big.NewInt(1000)); err != nil {
		t.Fatalf("seed buyer tokens: %v", err)
	}
	h.manager.DiscardJournal()
	return h
}

func (h *nodeHarness) tokenBalance(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	balance, err := h.tokens.Ledger(nodeToken).BalanceOf(addr)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	return balance
}

// A purchase that fails after the payment pull must restore every
// collaborator write. The custody release is forced to fail by swapping the
// engine onto a registry namespace nothing was ever minted under.
func TestBuyRestoresFundsWhenCustodyReleaseFails(t *testing.T) {
	h := newNodeHarness(t)
	if err := h.node.List(nodeSeller, 1, big.NewInt(1000), nodeToken); err != nil {
		t.Fatalf("list: %v", err)
	}
	empty := localassets.NewRegistryAt(h.kv, testAddr(0x30), nodeFees, 0)
	if err := h.node.UpdateRegistry(nodeOwner, empty); err != nil {
		t.Fatalf("swap registry: %v", err)
	}

	err := h.node.Buy(nodeBuyer, 1, nil)
	if !errors.Is(err, market.ErrTransferFailure) {
		t.Fatalf("expected ErrTransferFailure, got %v", err)
	}
	if got := h.tokenBalance(t, nodeBuyer); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("buyer balance = %s, want 1000 restored", got)
	}
	if got := h.tokenBalance(t, nodeVault); got.Sign() != 0 {
		t.Fatalf("vault must not retain the pulled payment, got %s", got)
	}
	if got := h.tokenBalance(t, nodeSeller); got.Sign() != 0 {
		t.Fatalf("seller must not be paid on a failed purchase, got %s", got)
	}
	if got := h.tokenBalance(t, nodeFees); got.Sign() != 0 {
		t.Fatalf("no fee on a failed purchase, got %s", got)
	}
	listing, tracked := h.node.Listing(1)
	if !tracked || !listing.ForSale {
		t.Fatalf("listing must stay active after the failed purchase")
	}
	owner, err := h.registry.OwnerOf(1)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != nodeVault {
		t.Fatalf("marketplace must keep custody, holder is %x", owner)
	}
}

// Fee policy is state, not engine configuration: a rate or destination
// changed at runtime must survive a full rebuild over the same store.
func TestFeeConfigSurvivesRestart(t *testing.T) {
	h := newNodeHarness(t)
	newDest := testAddr(0x42)
	if err := h.node.UpdateFeeRates(nodeOwner, 400, 150); err != nil {
		t.Fatalf("update fee rates: %v", err)
	}
	if err := h.node.UpdateFeeDestination(nodeOwner, newDest); err != nil {
		t.Fatalf("update fee destination: %v", err)
	}

	manager := state.NewManager(h.db)
	engine := market.NewEngine(nodeOwner, nodeVault)
	NewNode(manager, engine)

	if _, ok, err := manager.FeeConfigGet(); err != nil || !ok {
		t.Fatalf("fee config must be present after restart (ok=%v err=%v)", ok, err)
	}
	nativeBps, tokenBps := engine.FeeRates()
	if nativeBps != 400 || tokenBps != 150 {
		t.Fatalf("fee rates = %d/%d, want 400/150", nativeBps, tokenBps)
	}
	if got := engine.FeeDestination(); got != newDest {
		t.Fatalf("fee destination = %x, want %x", got, newDest)
	}
}

func metricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := true
			for key, value := range labels {
				found := false
				for _, pair := range metric.GetLabel() {
					if pair.GetName() == key && pair.GetValue() == value {
						found = true
						break
					}
				}
				if !found {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}
			if gauge := metric.GetGauge(); gauge != nil {
				return gauge.GetValue()
			}
			if counter := metric.GetCounter(); counter != nil {
				return counter.GetValue()
			}
		}
	}
	return 0
}

// Marketplace metrics derive from committed events, so a relist overwrite
// leaves the active-listings gauge alone and the fee counter carries the
// exact settled fee. Assertions are deltas because the collectors are
// process-wide.
func TestListingMetricsFollowEvents(t *testing.T) {
	h := newNodeHarness(t)
	native := map[string]string{"currency": "native"}
	baseActive := metricValue(t, "market_listings_active", nil)
	basePurchases := metricValue(t, "market_purchases_total", native)
	baseFees := metricValue(t, "market_fees_collected_total", native)

	if err := h.node.List(nodeSeller, 1, big.NewInt(1500), market.NativeCurrency); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := metricValue(t, "market_listings_active", nil); got != baseActive+1 {
		t.Fatalf("active gauge = %v, want %v after list", got, baseActive+1)
	}

	if err := h.node.List(nodeSeller, 1, big.NewInt(2000), market.NativeCurrency); err != nil {
		t.Fatalf("relist: %v", err)
	}
	if got := metricValue(t, "market_listings_active", nil); got != baseActive+1 {
		t.Fatalf("active gauge = %v after relist, want unchanged %v", got, baseActive+1)
	}

	if err := h.node.Cancel(nodeSeller, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := metricValue(t, "market_listings_active", nil); got != baseActive {
		t.Fatalf("active gauge = %v after cancel, want %v", got, baseActive)
	}

	if err := h.node.List(nodeSeller, 1, big.NewInt(1500), market.NativeCurrency); err != nil {
		t.Fatalf("list again: %v", err)
	}
	if err := h.node.Buy(nodeBuyer, 1, big.NewInt(1500)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got := metricValue(t, "market_listings_active", nil); got != baseActive {
		t.Fatalf("active gauge = %v after purchase, want %v", got, baseActive)
	}
	if got := metricValue(t, "market_purchases_total", native); got != basePurchases+1 {
		t.Fatalf("purchases = %v, want %v", got, basePurchases+1)
	}
	// fee = floor(1500 * 250 / 10000) = 37, taken from the purchase event.
	if got := metricValue(t, "market_fees_collected_total", native); got != baseFees+37 {
		t.Fatalf("fees = %v, want %v", got, baseFees+37)
	}
}
