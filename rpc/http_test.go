package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"nftmarket/core"
	marketstate "nftmarket/core/state"
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

type testFixture struct {
	server   *httptest.Server
	node     *core.Node
	manager  *marketstate.Manager
	registry *localassets.Registry
	owner    [20]byte
	vault    [20]byte
	seller   [20]byte
	buyer    [20]byte
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	db := storage.NewMemDB()
	f := &testFixture{
		owner:  testAddr(0x01),
		vault:  testAddr(0x02),
		seller: testAddr(0x03),
		buyer:  testAddr(0x04),
	}
	f.manager = marketstate.NewManager(db)
	kv := f.manager.KV()
	engine := market.NewEngine(f.owner, f.vault)
	f.registry = localassets.NewRegistry(kv, testAddr(0x06), 0)
	engine.SetRegistry(f.registry)
	engine.SetTokens(localassets.NewTokenLedger(kv, f.vault))
	f.node = core.NewNode(f.manager, engine)

	require.NoError(t, engine.SetFeeDestination(testAddr(0x05)))
	require.NoError(t, engine.SetFeeRates(250, 250))
	require.NoError(t, engine.AddCurrency(f.owner, [20]byte{}))
	require.NoError(t, f.registry.Mint(f.seller, 1))
	require.NoError(t, f.manager.PutAccount(f.buyer[:], &types.Account{Balance: big.NewInt(100_000)}))
	f.manager.DiscardJournal()

	server := NewServer(f.node)
	server.SetRegistryResolver(localassets.NewRegistryHub(kv, testAddr(0x06), 0))
	f.server = httptest.NewServer(server.Router())
	t.Cleanup(f.server.Close)
	return f
}

func (f *testFixture) call(t *testing.T, method string, params interface{}, headers map[string]string) *RPCResponse {
	t.Helper()
	encodedParams, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []json.RawMessage{encodedParams},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return &decoded
}

func TestListBuyLifecycleOverRPC(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, "market_list", map[string]interface{}{
		"caller":   types.FormatAddress(f.seller),
		"assetId":  1,
		"price":    "1000",
		"currency": "native",
	}, nil)
	require.Nil(t, resp.Error)

	resp = f.call(t, "market_getListing", map[string]interface{}{"assetId": 1}, nil)
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var listing listingResult
	require.NoError(t, json.Unmarshal(encoded, &listing))
	require.True(t, listing.ForSale)
	require.Equal(t, "1000", listing.Price)
	require.Equal(t, "native", listing.Currency)
	require.Equal(t, types.FormatAddress(f.seller), listing.Seller)

	resp = f.call(t, "market_buy", map[string]interface{}{
		"caller":  types.FormatAddress(f.buyer),
		"assetId": 1,
		"payment": "1000",
	}, nil)
	require.Nil(t, resp.Error)

	owner, err := f.registry.OwnerOf(1)
	require.NoError(t, err)
	require.Equal(t, f.buyer, owner)

	resp = f.call(t, "market_getListing", map[string]interface{}{"assetId": 1}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketNotFound, resp.Error.Code)
}

func TestBuyErrorsSurfaceDomainCodes(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, "market_buy", map[string]interface{}{
		"caller":  types.FormatAddress(f.buyer),
		"assetId": 1,
		"payment": "1000",
	}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketNotFound, resp.Error.Code)

	listResp := f.call(t, "market_list", map[string]interface{}{
		"caller":   types.FormatAddress(f.seller),
		"assetId":  1,
		"price":    "1000",
		"currency": "native",
	}, nil)
	require.Nil(t, listResp.Error)

	resp = f.call(t, "market_buy", map[string]interface{}{
		"caller":  types.FormatAddress(f.buyer),
		"assetId": 1,
		"payment": "999",
	}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketInvalidParams, resp.Error.Code)

	// The failed purchase left the listing untouched.
	getResp := f.call(t, "market_getListing", map[string]interface{}{"assetId": 1}, nil)
	require.Nil(t, getResp.Error)
}

func TestCancelReturnsCustody(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, "market_list", map[string]interface{}{
		"caller":   types.FormatAddress(f.seller),
		"assetId":  1,
		"price":    "1000",
		"currency": "native",
	}, nil)
	require.Nil(t, resp.Error)

	resp = f.call(t, "market_cancel", map[string]interface{}{
		"caller":  types.FormatAddress(f.buyer),
		"assetId": 1,
	}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketForbidden, resp.Error.Code)

	resp = f.call(t, "market_cancel", map[string]interface{}{
		"caller":  types.FormatAddress(f.seller),
		"assetId": 1,
	}, nil)
	require.Nil(t, resp.Error)

	owner, err := f.registry.OwnerOf(1)
	require.NoError(t, err)
	require.Equal(t, f.seller, owner)
}

func TestAdminMethodsRequireToken(t *testing.T) {
	t.Setenv("MARKET_RPC_TOKEN", "secret")
	f := newFixture(t)

	params := map[string]interface{}{
		"caller":    types.FormatAddress(f.owner),
		"nativeBps": 100,
		"tokenBps":  100,
	}
	resp := f.call(t, "market_setFeeRates", params, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	resp = f.call(t, "market_setFeeRates", params, map[string]string{"Authorization": "Bearer secret"})
	require.Nil(t, resp.Error)

	// Authenticated transport does not bypass the owner check.
	intruderParams := map[string]interface{}{
		"caller":    types.FormatAddress(f.buyer),
		"nativeBps": 9000,
		"tokenBps":  9000,
	}
	resp = f.call(t, "market_setFeeRates", intruderParams, map[string]string{"Authorization": "Bearer secret"})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketForbidden, resp.Error.Code)
}

func TestSetRegistryOverRPC(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, "market_setRegistry", map[string]interface{}{
		"caller":   types.FormatAddress(f.buyer),
		"registry": types.FormatAddress(testAddr(0x30)),
	}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketForbidden, resp.Error.Code)

	resp = f.call(t, "market_setRegistry", map[string]interface{}{
		"caller":   types.FormatAddress(f.owner),
		"registry": types.FormatAddress(testAddr(0x30)),
	}, nil)
	require.Nil(t, resp.Error)

	// The seller's asset was minted under the original registry address, so
	// a listing against the swapped-in namespace fails the custody pull.
	resp = f.call(t, "market_list", map[string]interface{}{
		"caller":   types.FormatAddress(f.seller),
		"assetId":  1,
		"price":    "1000",
		"currency": "native",
	}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMarketConflict, resp.Error.Code)
}

func TestMethodNotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.call(t, "market_unknown", map[string]interface{}{}, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestEventsEndpointExposesLifecycle(t *testing.T) {
	f := newFixture(t)
	resp := f.call(t, "market_list", map[string]interface{}{
		"caller":   types.FormatAddress(f.seller),
		"assetId":  1,
		"price":    "1000",
		"currency": "native",
	}, nil)
	require.Nil(t, resp.Error)

	resp = f.call(t, "market_events", map[string]interface{}{}, nil)
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var evts []types.Event
	require.NoError(t, json.Unmarshal(encoded, &evts))
	require.NotEmpty(t, evts)
	require.Equal(t, market.EventTypeListingCreated, evts[len(evts)-1].Type)
}
