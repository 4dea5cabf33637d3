package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/yjkwon/monadex/pkg/dex/book"
	"github.com/yjkwon/monadex/pkg/dex/engine"
	"github.com/yjkwon/monadex/pkg/dex/ledger"
	"github.com/yjkwon/monadex/pkg/dex/order"
	"github.com/yjkwon/monadex/pkg/dex/pair"
	"github.com/yjkwon/monadex/pkg/dex/token"
)

const defaultTradeLimit = 100

// Server exposes the exchange over REST and WebSocket.
type Server struct {
	engine *engine.Engine
	vault  *token.Vault
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger

	devMode bool // enables the faucet endpoint
}

// NewServer wires the HTTP routes around an engine. The vault is the same
// one the engine escrows against; the faucet mints into it in dev mode.
func NewServer(eng *engine.Engine, vault *token.Vault, logger *zap.SugaredLogger, devMode bool) *Server {
	s := &Server{
		engine:  eng,
		vault:   vault,
		router:  mux.NewRouter(),
		hub:     NewHub(logger),
		log:     logger,
		devMode: devMode,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pair endpoints
	api.HandleFunc("/pairs", s.handleListPairs).Methods("GET")
	api.HandleFunc("/pairs", s.handleAddPair).Methods("POST")
	api.HandleFunc("/pairs/{base}/{quote}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/pairs/{base}/{quote}/trades", s.handleGetTrades).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/market", s.handleMarketOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{token}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")

	if s.devMode {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and serves HTTP on addr. Blocks.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// Pair handlers
// ==============================

func (s *Server) handleListPairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.engine.Pairs()
	out := make([]PairInfo, len(pairs))
	for i, p := range pairs {
		out[i] = pairInfo(p)
	}
	respondJSON(w, out)
}

func (s *Server) handleAddPair(w http.ResponseWriter, r *http.Request) {
	var req AddPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	base, err := parseAddress("baseToken", req.BaseToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	quote, err := parseAddress("quoteToken", req.QuoteToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	minSize, err := parseAmount("minOrderSize", req.MinOrderSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	precision, err := parseAmount("pricePrecision", req.PricePrecision)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	if err := s.engine.AddTradingPair(caller, base, quote, minSize, precision); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	base, quote, ok := pairVars(w, r)
	if !ok {
		return
	}

	bids, asks, err := s.engine.BookLevels(base, quote)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, s.bookSnapshot(base, quote, bids, asks))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	base, quote, ok := pairVars(w, r)
	if !ok {
		return
	}

	limit := defaultTradeLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	trades, err := s.engine.RecentTrades(base, quote, limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t)
	}
	respondJSON(w, out)
}

// ==============================
// Order handlers
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	trader, err := parseAddress("trader", req.Trader)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	base, err := parseAddress("baseToken", req.BaseToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	quote, err := parseAddress("quoteToken", req.QuoteToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	isBuy, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	id, trade, err := s.engine.PlaceLimitOrder(trader, base, quote, amount, price, isBuy)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	resp := PlaceOrderResponse{OrderID: id}
	if trade != nil {
		ti := tradeInfo(trade)
		resp.Trade = &ti
		s.broadcastTrade(trade)
	}
	s.broadcastOrderbook(base, quote)
	respondJSON(w, resp)
}

func (s *Server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	var req MarketOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	trader, err := parseAddress("trader", req.Trader)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	base, err := parseAddress("baseToken", req.BaseToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	quote, err := parseAddress("quoteToken", req.QuoteToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	isBuy, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	trades, err := s.engine.PlaceMarketOrder(trader, base, quote, amount, isBuy)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	resp := MarketOrderResponse{Trades: make([]TradeInfo, len(trades))}
	for i, t := range trades {
		resp.Trades[i] = tradeInfo(t)
		s.broadcastTrade(t)
	}
	s.broadcastOrderbook(base, quote)
	respondJSON(w, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	if err := s.engine.CancelOrder(caller, req.OrderID); err != nil {
		respondEngineError(w, err)
		return
	}

	if o, err := s.engine.GetOrder(req.OrderID); err == nil {
		s.broadcastOrderbook(o.BaseToken, o.QuoteToken)
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	o, err := s.engine.GetOrder(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

// ==============================
// Account handlers
// ==============================

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	var out []OrderInfo
	for _, id := range s.engine.UserOrders(account) {
		if o, err := s.engine.GetOrder(id); err == nil {
			out = append(out, orderInfo(o))
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account, err := parseAddress("address", vars["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	tok, err := parseAddress("token", vars["token"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	respondJSON(w, BalanceInfo{
		Account: account.Hex(),
		Token:   tok.Hex(),
		Escrow:  s.engine.UserBalance(account, tok).Dec(),
		Wallet:  s.vault.WalletBalance(account, tok).Dec(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	tok, err := parseAddress("token", req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	if err := s.engine.Withdraw(caller, tok, amount); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	account, err := parseAddress("account", req.Account)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	tok, err := parseAddress("token", req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return
	}

	s.vault.Mint(account, tok, amount)
	s.log.Infow("faucet_mint", "account", account.Hex(), "token", tok.Hex(), "amount", amount.Dec())
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcasts
// ==============================

func pairChannel(base, quote common.Address) string {
	return base.Hex() + "/" + quote.Hex()
}

func (s *Server) broadcastOrderbook(base, quote common.Address) {
	bids, asks, err := s.engine.BookLevels(base, quote)
	if err != nil {
		return
	}
	snap := s.bookSnapshot(base, quote, bids, asks)
	s.hub.BroadcastToChannel("orderbook:"+pairChannel(base, quote), OrderbookUpdate{
		Type:       "orderbook",
		BaseToken:  snap.BaseToken,
		QuoteToken: snap.QuoteToken,
		Bids:       snap.Bids,
		Asks:       snap.Asks,
		Timestamp:  snap.Timestamp,
	})
}

func (s *Server) broadcastTrade(t *engine.Trade) {
	s.hub.BroadcastToChannel("trades:"+pairChannel(t.BaseToken, t.QuoteToken), TradeUpdate{
		Type:  "trade",
		Trade: tradeInfo(t),
	})
}

// ==============================
// Helpers
// ==============================

func pairVars(w http.ResponseWriter, r *http.Request) (base, quote common.Address, ok bool) {
	vars := mux.Vars(r)
	base, err := parseAddress("base", vars["base"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return common.Address{}, common.Address{}, false
	}
	quote, err = parseAddress("quote", vars["quote"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad request", err.Error())
		return common.Address{}, common.Address{}, false
	}
	return base, quote, true
}

func (s *Server) bookSnapshot(base, quote common.Address, bids, asks []book.Level) OrderbookSnapshot {
	return OrderbookSnapshot{
		BaseToken:  base.Hex(),
		QuoteToken: quote.Hex(),
		Bids:       priceLevels(bids),
		Asks:       priceLevels(asks),
		Timestamp:  nowMillis(),
	}
}

func priceLevels(levels []book.Level) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price.Dec(), Size: l.Amount.Dec()}
	}
	return out
}

func pairInfo(p *pair.Pair) PairInfo {
	return PairInfo{
		BaseToken:      p.BaseToken.Hex(),
		QuoteToken:     p.QuoteToken.Hex(),
		IsActive:       p.IsActive,
		MinOrderSize:   p.MinOrderSize.Dec(),
		PricePrecision: p.PricePrecision.Dec(),
	}
}

func orderInfo(o *order.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		Trader:     o.Trader.Hex(),
		BaseToken:  o.BaseToken.Hex(),
		QuoteToken: o.QuoteToken.Hex(),
		Amount:     o.Amount.Dec(),
		Price:      o.Price.Dec(),
		Side:       o.Side(),
		IsActive:   o.IsActive,
		Timestamp:  o.Timestamp,
	}
}

func tradeInfo(t *engine.Trade) TradeInfo {
	return TradeInfo{
		ID:          t.ID,
		BaseToken:   t.BaseToken.Hex(),
		QuoteToken:  t.QuoteToken.Hex(),
		Price:       t.Price.Dec(),
		Amount:      t.Amount.Dec(),
		Fee:         t.Fee.Dec(),
		Buyer:       t.Buyer.Hex(),
		Seller:      t.Seller.Hex(),
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Timestamp:   t.Timestamp,
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: detail})
}

// respondEngineError maps the engine's error taxonomy onto HTTP statuses.
func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, pair.ErrPairNotActive):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotOwner), errors.Is(err, engine.ErrNotOrderOwner):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrOrderAlreadyInactive):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientLiquidity),
		errors.Is(err, engine.ErrOrderTooSmall),
		errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, engine.ErrAmountOverflow),
		errors.Is(err, pair.ErrIdenticalTokens),
		errors.Is(err, pair.ErrInvalidTokenAddress),
		errors.Is(err, pair.ErrInvalidPrecision):
		status = http.StatusBadRequest
	}
	respondError(w, status, err.Error(), "")
}
