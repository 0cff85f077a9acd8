// Package api exposes the trading core over REST and WebSocket. Request
// transport and authentication are thin plumbing: the caller is identified by
// the X-User-ID header, set by whatever fronts this service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/core"
)

const userIDHeader = "X-User-ID"

// Server handles REST API and WebSocket connections.
type Server struct {
	svc    *core.Service
	router *mux.Router
	hub    *Hub
	cache  *BookCache
	log    *zap.SugaredLogger
}

// NewServer builds the HTTP surface around svc. The hub and cache are
// constructed by the caller because they double as event sinks wired into
// the service.
func NewServer(svc *core.Service, hub *Hub, cache *BookCache, log *zap.SugaredLogger) *Server {
	s := &Server{
		svc:    svc,
		router: mux.NewRouter(),
		hub:    hub,
		cache:  cache,
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orderbook", s.handleOrderbook).Methods("GET")
	api.HandleFunc("/my-orders", s.handleMyOrders).Methods("GET")
	api.HandleFunc("/trades", s.handleTrades).Methods("GET")
	api.HandleFunc("/profile", s.handleProfile).Methods("GET")
	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves HTTP until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", userIDHeader},
		AllowCredentials: false,
	})

	srv := &http.Server{Addr: addr, Handler: c.Handler(s.router)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_server_starting", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.callerID(w, r)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	order, err := s.svc.CreateOrder(r.Context(), core.CreateOrderCommand{
		Owner:  owner,
		Symbol: req.Symbol,
		Side:   core.Side(req.Side),
		Price:  price,
		Amount: amount,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order.View())
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.callerID(w, r)
	if !ok {
		return
	}
	orderID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	order, err := s.svc.CancelOrder(r.Context(), orderID, owner)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order.View())
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	snapshot, err := s.cache.Get(symbol, func() (OrderbookSnapshot, error) {
		return s.buildOrderbook(r.Context(), symbol)
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) buildOrderbook(ctx context.Context, symbol string) (OrderbookSnapshot, error) {
	orders, err := s.svc.OpenOrders(ctx, symbol)
	if err != nil {
		return OrderbookSnapshot{}, err
	}

	snapshot := OrderbookSnapshot{
		Buy:       []BookEntry{},
		Sell:      []BookEntry{},
		Timestamp: time.Now().UnixMilli(),
	}
	for _, o := range orders {
		entry := BookEntry{
			Price:  o.Price.StringFixed(core.DecimalScale),
			Amount: o.Amount.StringFixed(core.DecimalScale),
		}
		if symbol == "" {
			entry.Symbol = o.Symbol
		}
		if o.IsBuy() {
			snapshot.Buy = append(snapshot.Buy, entry)
		} else {
			snapshot.Sell = append(snapshot.Sell, entry)
		}
	}
	// Buy side best-first (highest price), sell side best-first (lowest).
	sort.SliceStable(snapshot.Buy, func(i, j int) bool {
		return decimalLess(snapshot.Buy[j].Price, snapshot.Buy[i].Price)
	})
	sort.SliceStable(snapshot.Sell, func(i, j int) bool {
		return decimalLess(snapshot.Sell[i].Price, snapshot.Sell[j].Price)
	})
	return snapshot, nil
}

func decimalLess(a, b string) bool {
	da, _ := decimal.NewFromString(a)
	db, _ := decimal.NewFromString(b)
	return da.LessThan(db)
}

func (s *Server) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.callerID(w, r)
	if !ok {
		return
	}
	orders, err := s.svc.UserOrders(r.Context(), owner, r.URL.Query().Get("symbol"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	views := make([]core.OrderView, len(orders))
	for i := range orders {
		views[i] = orders[i].View()
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		respondError(w, http.StatusBadRequest, "missing symbol", "")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	trades, err := s.svc.RecentTrades(r.Context(), symbol, limit)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	views := make([]core.TradeView, len(trades))
	for i := range trades {
		views[i] = trades[i].View()
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.callerID(w, r)
	if !ok {
		return
	}
	profile, err := s.svc.Profile(r.Context(), owner)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	assets := make([]AssetBalance, len(profile.Holdings))
	for i, h := range profile.Holdings {
		assets[i] = AssetBalance{
			Symbol:          h.Symbol,
			Amount:          h.Amount.StringFixed(core.DecimalScale),
			LockedAmount:    h.LockedAmount.StringFixed(core.DecimalScale),
			AvailableAmount: h.Available().StringFixed(core.DecimalScale),
		}
	}
	respondJSON(w, http.StatusOK, ProfileResponse{
		Balance: profile.Balance.StringFixed(core.DecimalScale),
		Assets:  assets,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.callerID(w, r)
	if !ok {
		return
	}
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	if req.Symbol == "" {
		err = s.svc.Deposit(r.Context(), owner, amount)
	} else {
		err = s.svc.DepositAsset(r.Context(), owner, req.Symbol, amount)
	}
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func (s *Server) callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get(userIDHeader)
	if raw == "" {
		respondError(w, http.StatusUnauthorized, "missing "+userIDHeader, "")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusUnauthorized, "invalid "+userIDHeader, "")
		return 0, false
	}
	return id, true
}

func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation failed", err.Error())
	case errors.Is(err, core.ErrInsufficientBalance), errors.Is(err, core.ErrInsufficientAsset):
		respondError(w, http.StatusUnprocessableEntity, "insufficient funds", err.Error())
	case errors.Is(err, core.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", "")
	case errors.Is(err, core.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "forbidden", "")
	case errors.Is(err, core.ErrOrderNotCancellable):
		respondError(w, http.StatusConflict, "order not cancellable", err.Error())
	case errors.Is(err, core.ErrConcurrencyConflict):
		respondError(w, http.StatusConflict, "conflict, retry the request", err.Error())
	default:
		// Includes ErrInvariantViolation: log loudly, reveal nothing.
		s.log.Errorw("request_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	respondJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}
