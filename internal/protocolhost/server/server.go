// Package server exposes internal/host.Host over a JSON-RPC 2.0 HTTP
// transport: one endpoint, method-dispatched requests, bearer-token auth,
// per-client rate limiting, and OpenTelemetry tracing. Grounded on the
// teacher's rpc/http.go (request/response envelope, JWT verifier,
// module_method dispatch convention) and services/lending/server/wire.go
// (golang.org/x/time/rate request limiter), scaled down from the teacher's
// many chain RPC modules to this engine's own operation set.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"marketcore/internal/errs"
	"marketcore/internal/host"
	"marketcore/internal/market"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// JWTConfig configures bearer-token validation for every RPC call.
type JWTConfig struct {
	Enable      bool
	HSSecretEnv string
	Issuer      string
}

// Config controls the optional behaviours of Server.
type Config struct {
	JWT JWTConfig
	// RequestsPerMinute bounds how many calls a single client IP may make;
	// zero disables rate limiting.
	RequestsPerMinute int
}

type jwtVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

func newJWTVerifier(cfg JWTConfig) (*jwtVerifier, error) {
	envKey := strings.TrimSpace(cfg.HSSecretEnv)
	if envKey == "" {
		return nil, errors.New("JWT HSSecretEnv is required when JWT is enabled")
	}
	secret := strings.TrimSpace(os.Getenv(envKey))
	if secret == "" {
		return nil, fmt.Errorf("JWT secret environment variable %s is empty", envKey)
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errors.New("JWT issuer is required")
	}
	return &jwtVerifier{secret: []byte(secret), issuer: issuer}, nil
}

func (v *jwtVerifier) verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(v.issuer), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token validation failed")
	}
	return claims, nil
}

// rateLimiterEntry wraps a single client's token bucket.
type rateLimiterEntry struct {
	limiter *rate.Limiter
}

func newRateLimiterEntry(perMinute int) *rateLimiterEntry {
	limit := rate.Every(time.Minute / time.Duration(perMinute))
	return &rateLimiterEntry{limiter: rate.NewLimiter(limit, perMinute)}
}

func (e *rateLimiterEntry) allow() bool {
	return e.limiter.Allow()
}

// clientLimiter is a token-bucket limiter keyed by remote address, built on
// golang.org/x/time/rate the way the teacher's requestLimiter wraps it, but
// per-client rather than process-global.
type clientLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rateLimiterEntry
}

func newClientLimiter(perMinute int) *clientLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &clientLimiter{perMin: perMinute, limiters: make(map[string]*rateLimiterEntry)}
}

func (c *clientLimiter) allow(key string) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.limiters[key]
	if !ok {
		entry = newRateLimiterEntry(c.perMin)
		c.limiters[key] = entry
	}
	return entry.allow()
}

// Server adapts a Host to JSON-RPC 2.0 over HTTP.
type Server struct {
	host     *host.Host
	jwt      *jwtVerifier
	limiter  *clientLimiter
	handlers map[string]rpcHandler
}

type rpcHandler func(s *Server, params []json.RawMessage) (interface{}, error)

// New constructs a Server bound to h. If cfg.JWT.Enable is set, every call
// must present a valid bearer token; construction fails if the verifier
// cannot be built (e.g. missing secret).
func New(h *host.Host, cfg Config) (*Server, error) {
	s := &Server{host: h, limiter: newClientLimiter(cfg.RequestsPerMinute)}
	if cfg.JWT.Enable {
		verifier, err := newJWTVerifier(cfg.JWT)
		if err != nil {
			return nil, err
		}
		s.jwt = verifier
	}
	s.handlers = map[string]rpcHandler{
		"market_getAccountLiquidity": (*Server).handleGetAccountLiquidity,
		"market_getAssetsIn":         (*Server).handleGetAssetsIn,
		"market_listMarkets":         (*Server).handleListMarkets,
		"market_paused":              (*Server).handlePaused,
		"market_enterMarkets":        (*Server).handleEnterMarkets,
		"market_exitMarket":          (*Server).handleExitMarket,
		"market_supply":              (*Server).handleSupply,
		"market_withdrawShares":      (*Server).handleWithdrawShares,
		"market_withdrawUnderlying":  (*Server).handleWithdrawUnderlying,
		"market_borrow":              (*Server).handleBorrow,
		"market_repay":               (*Server).handleRepay,
		"market_liquidate":           (*Server).handleLiquidate,
		"rewards_stake":              (*Server).handleStake,
		"rewards_withdraw":           (*Server).handleWithdrawStake,
		"rewards_claim":              (*Server).handleClaim,
		"rewards_exit":               (*Server).handleExitRewardPool,
		"rewards_fund":               (*Server).handleFund,
		"admin_setPause":             (*Server).handleSetPause,
		"admin_setCollateralFactor":  (*Server).handleSetCollateralFactor,
		"admin_setCloseFactor":       (*Server).handleSetCloseFactor,
		"admin_setLiquidationInc":    (*Server).handleSetLiquidationIncentive,
		"admin_setReserveFactor":     (*Server).handleSetReserveFactor,
		"admin_setDeveloperFee":      (*Server).handleSetDeveloperFee,
		"admin_reduceReserves":       (*Server).handleReduceReserves,
	}
	return s, nil
}

// Handler returns the OpenTelemetry-instrumented http.Handler to mount.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.serveRPC)
	return otelhttp.NewHandler(mux, "protocolhost")
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: message}})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestID)

	if s.limiter != nil && !s.limiter.allow(r.RemoteAddr) {
		writeError(w, nil, codeServerError, "rate limit exceeded")
		return
	}

	if s.jwt != nil {
		header := r.Header.Get("Authorization")
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(bearer) == "" {
			writeError(w, nil, codeUnauthorized, "bearer token required")
			return
		}
		if _, err := s.jwt.verify(bearer); err != nil {
			writeError(w, nil, codeUnauthorized, "invalid bearer token")
			return
		}
	}

	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer body.Close()

	var req rpcRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, nil, codeParseError, "invalid json")
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		writeError(w, req.ID, codeInvalidRequest, "malformed jsonrpc request")
		return
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		writeError(w, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
		return
	}

	result, err := handler(s, req.Params)
	if err != nil {
		writeError(w, req.ID, rpcErrorCode(err), err.Error())
		return
	}
	writeResult(w, req.ID, result)
}

func rpcErrorCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return codeUnauthorized
	case errors.Is(err, errs.ErrNotListed), errors.Is(err, errs.ErrZeroAmount), errors.Is(err, errs.ErrZeroAddress):
		return codeInvalidParams
	default:
		return codeServerError
	}
}

func decodeParams(params []json.RawMessage, idx int, out interface{}) error {
	if idx >= len(params) {
		return fmt.Errorf("missing parameter at index %d", idx)
	}
	return json.Unmarshal(params[idx], out)
}

// --- query handlers ---

func (s *Server) handleGetAccountLiquidity(params []json.RawMessage) (interface{}, error) {
	var account common.Address
	if err := decodeParams(params, 0, &account); err != nil {
		return nil, err
	}
	liquidity, shortfall, err := s.host.GetAccountLiquidity(account)
	if err != nil {
		return nil, err
	}
	return map[string]*big.Int{"liquidity": liquidity, "shortfall": shortfall}, nil
}

func (s *Server) handleGetAssetsIn(params []json.RawMessage) (interface{}, error) {
	var account common.Address
	if err := decodeParams(params, 0, &account); err != nil {
		return nil, err
	}
	return s.host.GetAssetsIn(account), nil
}

func (s *Server) handleListMarkets(_ []json.RawMessage) (interface{}, error) {
	return s.host.Markets(), nil
}

func (s *Server) handlePaused(_ []json.RawMessage) (interface{}, error) {
	return s.host.Paused(), nil
}

// --- user operation handlers ---

func (s *Server) handleEnterMarkets(params []json.RawMessage) (interface{}, error) {
	var account common.Address
	var markets []common.Address
	if err := decodeParams(params, 0, &account); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &markets); err != nil {
		return nil, err
	}
	return nil, s.host.EnterMarkets(account, markets)
}

func (s *Server) handleExitMarket(params []json.RawMessage) (interface{}, error) {
	var account, marketAddr common.Address
	if err := decodeParams(params, 0, &account); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &marketAddr); err != nil {
		return nil, err
	}
	return nil, s.host.ExitMarket(account, marketAddr)
}

func (s *Server) handleSupply(params []json.RawMessage) (interface{}, error) {
	var marketAddr, payer, onBehalf common.Address
	var amount big.Int
	if err := decodeParams(params, 0, &marketAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &payer); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &onBehalf); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 3, &amount); err != nil {
		return nil, err
	}
	return s.host.Supply(marketAddr, payer, onBehalf, &amount)
}

func (s *Server) handleWithdrawShares(params []json.RawMessage) (interface{}, error) {
	var marketAddr, from, to common.Address
	var shares big.Int
	if err := decodeParams(params, 0, &marketAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &from); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &to); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 3, &shares); err != nil {
		return nil, err
	}
	return s.host.WithdrawShares(marketAddr, from, to, &shares)
}

func (s *Server) handleWithdrawUnderlying(params []json.RawMessage) (interface{}, error) {
	var marketAddr, from, to common.Address
	var amount big.Int
	if err := decodeParams(params, 0, &marketAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &from); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &to); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 3, &amount); err != nil {
		return nil, err
	}
	return s.host.WithdrawUnderlying(marketAddr, from, to, &amount)
}

func (s *Server) handleBorrow(params []json.RawMessage) (interface{}, error) {
	var marketAddr, borrower common.Address
	var amount big.Int
	if err := decodeParams(params, 0, &marketAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &borrower); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &amount); err != nil {
		return nil, err
	}
	return nil, s.host.Borrow(marketAddr, borrower, &amount)
}

// repayParams mirrors market.Amount's Exact/All sum type over the wire: a
// present "amount" field means Exact, its absence (or all=true) means All.
type repayParams struct {
	Amount *big.Int `json:"amount,omitempty"`
	All    bool     `json:"all,omitempty"`
}

func (s *Server) handleRepay(params []json.RawMessage) (interface{}, error) {
	var marketAddr, payer, borrower common.Address
	var req repayParams
	if err := decodeParams(params, 0, &marketAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &payer); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &borrower); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 3, &req); err != nil {
		return nil, err
	}
	amount := market.All
	if !req.All && req.Amount != nil {
		amount = market.Exact(req.Amount)
	}
	return s.host.Repay(marketAddr, payer, borrower, amount)
}

func (s *Server) handleLiquidate(params []json.RawMessage) (interface{}, error) {
	var debtMarket, liquidator, borrower, collateralMarket common.Address
	var repayAmount big.Int
	if err := decodeParams(params, 0, &debtMarket); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &liquidator); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &borrower); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 3, &repayAmount); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 4, &collateralMarket); err != nil {
		return nil, err
	}
	return nil, s.host.Liquidate(debtMarket, liquidator, borrower, &repayAmount, collateralMarket)
}

func (s *Server) handleStake(params []json.RawMessage) (interface{}, error) {
	var poolAddr, account common.Address
	var amount big.Int
	if err := decodeParams(params, 0, &poolAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &account); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &amount); err != nil {
		return nil, err
	}
	return nil, s.host.Stake(poolAddr, account, &amount)
}

func (s *Server) handleWithdrawStake(params []json.RawMessage) (interface{}, error) {
	var poolAddr, account common.Address
	var amount big.Int
	if err := decodeParams(params, 0, &poolAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &account); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &amount); err != nil {
		return nil, err
	}
	return nil, s.host.WithdrawStake(poolAddr, account, &amount)
}

func (s *Server) handleClaim(params []json.RawMessage) (interface{}, error) {
	var poolAddr, account common.Address
	if err := decodeParams(params, 0, &poolAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &account); err != nil {
		return nil, err
	}
	return s.host.Claim(poolAddr, account)
}

func (s *Server) handleExitRewardPool(params []json.RawMessage) (interface{}, error) {
	var poolAddr, account common.Address
	if err := decodeParams(params, 0, &poolAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &account); err != nil {
		return nil, err
	}
	return s.host.ExitRewardPool(poolAddr, account)
}

func (s *Server) handleFund(params []json.RawMessage) (interface{}, error) {
	var poolAddr, caller, funder common.Address
	var amount big.Int
	if err := decodeParams(params, 0, &poolAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &caller); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &funder); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 3, &amount); err != nil {
		return nil, err
	}
	return nil, s.host.Fund(poolAddr, caller, funder, &amount)
}

// --- admin handlers (caller is always the first parameter) ---

func (s *Server) handleSetPause(params []json.RawMessage) (interface{}, error) {
	var caller common.Address
	var flag bool
	if err := decodeParams(params, 0, &caller); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &flag); err != nil {
		return nil, err
	}
	return nil, s.host.SetPause(caller, flag)
}

func (s *Server) handleSetCollateralFactor(params []json.RawMessage) (interface{}, error) {
	var caller, marketAddr common.Address
	var value big.Int
	if err := decodeParams(params, 0, &caller); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &marketAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &value); err != nil {
		return nil, err
	}
	return nil, s.host.SetCollateralFactor(caller, marketAddr, &value)
}

func (s *Server) handleSetCloseFactor(params []json.RawMessage) (interface{}, error) {
	var caller common.Address
	var value big.Int
	if err := decodeParams(params, 0, &caller); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &value); err != nil {
		return nil, err
	}
	return nil, s.host.SetCloseFactor(caller, &value)
}

func (s *Server) handleSetLiquidationIncentive(params []json.RawMessage) (interface{}, error) {
	var caller common.Address
	var value big.Int
	if err := decodeParams(params, 0, &caller); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &value); err != nil {
		return nil, err
	}
	return nil, s.host.SetLiquidationIncentive(caller, &value)
}

func (s *Server) handleSetReserveFactor(params []json.RawMessage) (interface{}, error) {
	var caller, marketAddr common.Address
	var value big.Int
	if err := decodeParams(params, 0, &caller); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &marketAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &value); err != nil {
		return nil, err
	}
	return nil, s.host.SetReserveFactor(caller, marketAddr, &value)
}

type developerFeeParams struct {
	BPS       uint32         `json:"bps"`
	CapBPS    uint32         `json:"capBps"`
	Recipient common.Address `json:"recipient"`
}

func (s *Server) handleSetDeveloperFee(params []json.RawMessage) (interface{}, error) {
	var caller, marketAddr common.Address
	var req developerFeeParams
	if err := decodeParams(params, 0, &caller); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &marketAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &req); err != nil {
		return nil, err
	}
	return nil, s.host.SetDeveloperFee(caller, marketAddr, req.BPS, req.CapBPS, req.Recipient)
}

func (s *Server) handleReduceReserves(params []json.RawMessage) (interface{}, error) {
	var caller, marketAddr, recipient common.Address
	var amount big.Int
	if err := decodeParams(params, 0, &caller); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 1, &marketAddr); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 2, &recipient); err != nil {
		return nil, err
	}
	if err := decodeParams(params, 3, &amount); err != nil {
		return nil, err
	}
	return nil, s.host.ReduceReserves(caller, marketAddr, recipient, &amount)
}
