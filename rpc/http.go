package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"lendpool/native/lending"
	"lendpool/native/oracle"
	"lendpool/native/reputation"
	"lendpool/observability"
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
	codeRateLimited    = -32020
)

// Server exposes the pool manager over JSON-RPC 2.0. A single POST endpoint
// carries every method; governance methods additionally require the bearer
// token.
type Server struct {
	manager    *lending.Manager
	prices     *oracle.Aggregator
	reputation *reputation.Ledger
	authToken  string
	limiter    *rate.Limiter
	metrics    interface {
		Observe(method string, status int, duration time.Duration)
		RecordThrottle(reason string)
	}
	log *slog.Logger
}

// NewServer wires the RPC surface. rateLimit is the sustained requests-per-
// second budget; a zero or negative value disables throttling.
func NewServer(manager *lending.Manager, prices *oracle.Aggregator, ledger *reputation.Ledger, authToken string, rateLimit int) *Server {
	var limiter *rate.Limiter
	if rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateLimit), rateLimit*2)
	}
	return &Server{
		manager:    manager,
		prices:     prices,
		reputation: ledger,
		authToken:  strings.TrimSpace(authToken),
		limiter:    limiter,
		metrics:    observability.RPCMetrics(),
		log:        slog.Default().With("component", "rpc"),
	}
}

// Router builds the HTTP mux: the JSON-RPC endpoint, a liveness probe and the
// Prometheus scrape endpoint.
func (s *Server) Router(metricsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, promhttp.Handler())
	return r
}

// Start serves the router until the listener fails.
func (s *Server) Start(addr, metricsPath string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(metricsPath),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
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

// statusRecorder captures the status ultimately written so handler metrics see
// the real outcome.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	w = recorder

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	s.route(w, r, req)
	s.metrics.Observe(req.Method, recorder.status, time.Since(started))
}

func (s *Server) route(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "lending_deposit":
		s.handleDeposit(w, req)
	case "lending_withdraw":
		s.handleWithdraw(w, req)
	case "lending_depositCollateral":
		s.handleDepositCollateral(w, req)
	case "lending_withdrawCollateral":
		s.handleWithdrawCollateral(w, req)
	case "lending_borrow":
		s.handleBorrow(w, req)
	case "lending_repay":
		s.handleRepay(w, req)
	case "lending_checkLiquidatable":
		s.handleCheckLiquidatable(w, req)
	case "lending_startLiquidation":
		s.handleStartLiquidation(w, req)
	case "lending_recoverFromLiquidation":
		s.handleRecoverFromLiquidation(w, req)
	case "lending_checkUpkeep":
		s.handleCheckUpkeep(w, req)
	case "lending_performUpkeep":
		s.handlePerformUpkeep(w, req)
	case "lending_getBalance":
		s.handleGetBalance(w, req)
	case "lending_getTotalCollateralValue":
		s.handleGetTotalCollateralValue(w, req)
	case "lending_checkCollateralization":
		s.handleCheckCollateralization(w, req)
	case "lending_getPosition":
		s.handleGetPosition(w, req)
	case "lending_getPool":
		s.handleGetPool(w, req)
	case "lending_getRates":
		s.handleGetRates(w, req)
	case "lending_setPolicy":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetPolicy(w, req)
	case "lending_setCreditScore":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetCreditScore(w, req)
	case "lending_pause":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handlePause(w, req)
	case "lending_unpause":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleUnpause(w, req)
	case "lending_emergencyWithdraw":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleEmergencyWithdraw(w, req)
	case "oracle_health":
		s.handleOracleHealth(w, req)
	case "reputation_get":
		s.handleReputationGet(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "rpc auth token not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}
