package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"nftmarket/core/types"
	"nftmarket/native/market"
	"nftmarket/observability/metrics"
)

const (
	codeMarketInvalidParams = -32021
	codeMarketNotFound      = -32022
	codeMarketForbidden     = -32023
	codeMarketConflict      = -32024
	codeMarketInternal      = -32025
)

type listParams struct {
	Caller   string `json:"caller"`
	AssetID  uint64 `json:"assetId"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

type updatePriceParams struct {
	Caller  string `json:"caller"`
	AssetID uint64 `json:"assetId"`
	Price   string `json:"price"`
}

type assetActorParams struct {
	Caller  string `json:"caller"`
	AssetID uint64 `json:"assetId"`
}

type buyParams struct {
	Caller  string `json:"caller"`
	AssetID uint64 `json:"assetId"`
	Payment string `json:"payment,omitempty"`
}

type assetIDParams struct {
	AssetID uint64 `json:"assetId"`
}

type feeRateParams struct {
	Caller    string `json:"caller"`
	NativeBps uint32 `json:"nativeBps"`
	TokenBps  uint32 `json:"tokenBps"`
}

type feeDestinationParams struct {
	Caller      string `json:"caller"`
	Destination string `json:"destination"`
}

type currencyParams struct {
	Caller   string `json:"caller"`
	Currency string `json:"currency"`
}

type setRegistryParams struct {
	Caller   string `json:"caller"`
	Registry string `json:"registry"`
}

type recoverTokenParams struct {
	Caller   string `json:"caller"`
	Currency string `json:"currency"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
}

type recoverNativeParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type recoverAssetParams struct {
	Caller  string `json:"caller"`
	AssetID uint64 `json:"assetId"`
	To      string `json:"to"`
}

type listingResult struct {
	AssetID  uint64 `json:"assetId"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	ForSale  bool   `json:"forSale"`
	Seller   string `json:"seller"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseCurrency(value string) ([20]byte, error) {
	if strings.EqualFold(strings.TrimSpace(value), "native") || strings.TrimSpace(value) == "" {
		return market.NativeCurrency, nil
	}
	return types.ParseAddress(value)
}

func formatCurrency(currency [20]byte) string {
	if currency == market.NativeCurrency {
		return "native"
	}
	return types.FormatAddress(currency)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func writeMarketError(w http.ResponseWriter, id interface{}, err error) {
	metrics.Market().OperationFailed(errorReason(err))
	switch {
	case errors.Is(err, market.ErrNotForSale):
		writeError(w, http.StatusNotFound, id, codeMarketNotFound, err.Error(), nil)
	case errors.Is(err, market.ErrUnauthorized),
		errors.Is(err, market.ErrContractCallerNotAllowed):
		writeError(w, http.StatusForbidden, id, codeMarketForbidden, err.Error(), nil)
	case errors.Is(err, market.ErrInvalidPrice),
		errors.Is(err, market.ErrUnapprovedCurrency),
		errors.Is(err, market.ErrPaymentMismatch):
		writeError(w, http.StatusBadRequest, id, codeMarketInvalidParams, err.Error(), nil)
	case errors.Is(err, market.ErrReentrantCall),
		errors.Is(err, market.ErrTransferFailure):
		writeError(w, http.StatusConflict, id, codeMarketConflict, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeMarketInternal, err.Error(), nil)
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, market.ErrNotForSale):
		return "not_for_sale"
	case errors.Is(err, market.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, market.ErrContractCallerNotAllowed):
		return "contract_caller"
	case errors.Is(err, market.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, market.ErrUnapprovedCurrency):
		return "unapproved_currency"
	case errors.Is(err, market.ErrPaymentMismatch):
		return "payment_mismatch"
	case errors.Is(err, market.ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, market.ErrTransferFailure):
		return "transfer_failure"
	default:
		return "internal"
	}
}

func (s *Server) handleGetListing(w http.ResponseWriter, req *RPCRequest) {
	var params assetIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	listing, ok := s.node.Listing(params.AssetID)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMarketNotFound, "listing not found", nil)
		return
	}
	writeResult(w, req.ID, listingResult{
		AssetID:  listing.AssetID,
		Price:    listing.Price.String(),
		Currency: formatCurrency(listing.Currency),
		ForSale:  listing.ForSale,
		Seller:   types.FormatAddress(listing.Seller),
	})
}

func (s *Server) handleList(w http.ResponseWriter, req *RPCRequest) {
	var params listParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	currency, err := parseCurrency(params.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.List(caller, params.AssetID, price, currency); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, req *RPCRequest) {
	var params updatePriceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.UpdatePrice(caller, params.AssetID, price); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleCancel(w http.ResponseWriter, req *RPCRequest) {
	var params assetActorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.Cancel(caller, params.AssetID); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleBuy(w http.ResponseWriter, req *RPCRequest) {
	var params buyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var payment *big.Int
	if strings.TrimSpace(params.Payment) != "" {
		payment, err = parseAmount(params.Payment)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	if err := s.node.Buy(caller, params.AssetID, payment); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetRegistry(w http.ResponseWriter, req *RPCRequest) {
	var params setRegistryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	registryAddr, err := types.ParseAddress(params.Registry)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if s.registries == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "registry resolution not configured", nil)
		return
	}
	registry, ok := s.registries.Registry(registryAddr)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("unknown registry %s", params.Registry), nil)
		return
	}
	if err := s.node.UpdateRegistry(caller, registry); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleEvents(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, s.node.Events())
}

func (s *Server) handleSetFeeRates(w http.ResponseWriter, req *RPCRequest) {
	var params feeRateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.UpdateFeeRates(caller, params.NativeBps, params.TokenBps); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetFeeDestination(w http.ResponseWriter, req *RPCRequest) {
	var params feeDestinationParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	destination, err := types.ParseAddress(params.Destination)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.UpdateFeeDestination(caller, destination); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleAddCurrency(w http.ResponseWriter, req *RPCRequest) {
	var params currencyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	currency, err := parseCurrency(params.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.AddCurrency(caller, currency); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRemoveCurrency(w http.ResponseWriter, req *RPCRequest) {
	var params currencyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	currency, err := parseCurrency(params.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.RemoveCurrency(caller, currency); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRecoverToken(w http.ResponseWriter, req *RPCRequest) {
	var params recoverTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	currency, err := parseCurrency(params.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := types.ParseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.RecoverToken(caller, currency, to, amount); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRecoverNative(w http.ResponseWriter, req *RPCRequest) {
	var params recoverNativeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := types.ParseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.RecoverNative(caller, to, amount); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRecoverAsset(w http.ResponseWriter, req *RPCRequest) {
	var params recoverAssetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := types.ParseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.RecoverAsset(caller, params.AssetID, to); err != nil {
		writeMarketError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}
