package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nftmarket/core"
	"nftmarket/native/market"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// RegistryResolver maps an asset registry contract address to a client for
// it, for the admin registry-swap method.
type RegistryResolver interface {
	Registry(addr [20]byte) (market.AssetRegistry, bool)
}

type Server struct {
	node       *core.Node
	authToken  string
	registries RegistryResolver
}

// NewServer wires a JSON-RPC server around the node. Administrative methods
// require the bearer token from MARKET_RPC_TOKEN when one is configured.
func NewServer(node *core.Node) *Server {
	token := strings.TrimSpace(os.Getenv("MARKET_RPC_TOKEN"))
	return &Server{node: node, authToken: token}
}

// SetRegistryResolver configures registry resolution for market_setRegistry.
// Without one the method reports a server error.
func (s *Server) SetRegistryResolver(resolver RegistryResolver) {
	s.registries = resolver
}

// Router returns the HTTP handler: JSON-RPC at the root, plus health and
// Prometheus endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on the given address.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Router())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	return header == "Bearer "+s.authToken
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = "request body too large"
		}
		writeError(w, status, nil, codeInvalidRequest, message, nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", nil)
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if adminMethods[req.Method] && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", nil)
		return
	}
	handler(w, &req)
}

type handlerFunc func(http.ResponseWriter, *RPCRequest)

var adminMethods = map[string]bool{
	"market_setFeeRates":       true,
	"market_setFeeDestination": true,
	"market_setRegistry":       true,
	"market_addCurrency":       true,
	"market_removeCurrency":    true,
	"market_recoverToken":      true,
	"market_recoverNative":     true,
	"market_recoverAsset":      true,
}

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"market_getListing":        s.handleGetListing,
		"market_list":              s.handleList,
		"market_updatePrice":       s.handleUpdatePrice,
		"market_cancel":            s.handleCancel,
		"market_buy":               s.handleBuy,
		"market_events":            s.handleEvents,
		"market_setFeeRates":       s.handleSetFeeRates,
		"market_setFeeDestination": s.handleSetFeeDestination,
		"market_setRegistry":       s.handleSetRegistry,
		"market_addCurrency":       s.handleAddCurrency,
		"market_removeCurrency":    s.handleRemoveCurrency,
		"market_recoverToken":      s.handleRecoverToken,
		"market_recoverNative":     s.handleRecoverNative,
		"market_recoverAsset":      s.handleRecoverAsset,
	}
}
