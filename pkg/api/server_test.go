package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/core"
	"github.com/openspot/openspot/pkg/storage/memory"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	server *Server
	svc    *core.Service
	cache  *BookCache
	clock  *manualClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()
	clock := &manualClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cache := NewBookCache(2*time.Second, clock)
	engine := core.NewEngine(clock, logger)
	svc := core.NewService(
		memory.NewStore(), engine, core.MultiSink{hub, cache},
		[]string{"BTC", "ETH"}, clock, logger,
	)
	return &testEnv{
		server: NewServer(svc, hub, cache, logger),
		svc:    svc,
		cache:  cache,
		clock:  clock,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(userIDHeader, user)
	}
	rec := httptest.NewRecorder()
	e.server.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func fund(t *testing.T, e *testEnv, owner int64, usd string) {
	t.Helper()
	amount := decimal.RequireFromString(usd)
	if err := e.svc.Deposit(context.Background(), owner, amount); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func fundAsset(t *testing.T, e *testEnv, owner int64, symbol, amount string) {
	t.Helper()
	a := decimal.RequireFromString(amount)
	if err := e.svc.DepositAsset(context.Background(), owner, symbol, a); err != nil {
		t.Fatalf("fund asset: %v", err)
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	e := newTestEnv(t)
	fund(t, e, 1, "100000")

	rec := e.do(t, "POST", "/api/v1/orders", "1", CreateOrderRequest{
		Symbol: "BTC", Side: "buy", Price: "50000", Amount: "1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	view := decodeAs[core.OrderView](t, rec)
	if view.Status != "open" || view.Price != "50000.00000000" {
		t.Errorf("view = %+v", view)
	}
	if view.ReservedUSD != "50000.00000000" {
		t.Errorf("reservedUsd = %q", view.ReservedUSD)
	}
}

func TestCreateOrderEndpoint_Rejections(t *testing.T) {
	e := newTestEnv(t)
	fund(t, e, 1, "10")

	tests := []struct {
		name string
		user string
		req  CreateOrderRequest
		want int
	}{
		{"missing user", "", CreateOrderRequest{Symbol: "BTC", Side: "buy", Price: "1", Amount: "1"}, http.StatusUnauthorized},
		{"bad user", "zero", CreateOrderRequest{Symbol: "BTC", Side: "buy", Price: "1", Amount: "1"}, http.StatusUnauthorized},
		{"bad price", "1", CreateOrderRequest{Symbol: "BTC", Side: "buy", Price: "abc", Amount: "1"}, http.StatusBadRequest},
		{"bad side", "1", CreateOrderRequest{Symbol: "BTC", Side: "short", Price: "1", Amount: "1"}, http.StatusBadRequest},
		{"insufficient", "1", CreateOrderRequest{Symbol: "BTC", Side: "buy", Price: "50000", Amount: "1"}, http.StatusUnprocessableEntity},
		{"no asset", "1", CreateOrderRequest{Symbol: "BTC", Side: "sell", Price: "50000", Amount: "1"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, "POST", "/api/v1/orders", tt.user, tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	e := newTestEnv(t)
	fund(t, e, 1, "100000")

	rec := e.do(t, "POST", "/api/v1/orders", "1", CreateOrderRequest{
		Symbol: "BTC", Side: "buy", Price: "50000", Amount: "1",
	})
	order := decodeAs[core.OrderView](t, rec)

	rec = e.do(t, "POST", "/api/v1/orders/1/cancel", "2", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign cancel status = %d, want 403", rec.Code)
	}

	rec = e.do(t, "POST", "/api/v1/orders/1/cancel", "1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body.String())
	}
	cancelled := decodeAs[core.OrderView](t, rec)
	if cancelled.ID != order.ID || cancelled.Status != "cancelled" {
		t.Errorf("cancelled view = %+v", cancelled)
	}

	rec = e.do(t, "POST", "/api/v1/orders/1/cancel", "1", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("double cancel status = %d, want 409", rec.Code)
	}

	rec = e.do(t, "POST", "/api/v1/orders/999/cancel", "1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing order status = %d, want 404", rec.Code)
	}
}

func TestDepositAndProfileEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "POST", "/api/v1/deposit", "7", DepositRequest{Amount: "1500.5"})
	if rec.Code != http.StatusOK {
		t.Fatalf("usd deposit status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, "POST", "/api/v1/deposit", "7", DepositRequest{Symbol: "ETH", Amount: "3"})
	if rec.Code != http.StatusOK {
		t.Fatalf("asset deposit status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, "POST", "/api/v1/deposit", "7", DepositRequest{Symbol: "DOGE", Amount: "3"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported symbol status = %d, want 400", rec.Code)
	}

	rec = e.do(t, "GET", "/api/v1/profile", "7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d", rec.Code)
	}
	profile := decodeAs[ProfileResponse](t, rec)
	if profile.Balance != "1500.50000000" {
		t.Errorf("balance = %q, want 1500.50000000", profile.Balance)
	}
	if len(profile.Assets) != 1 || profile.Assets[0].Symbol != "ETH" ||
		profile.Assets[0].AvailableAmount != "3.00000000" {
		t.Errorf("assets = %+v", profile.Assets)
	}
}

func TestOrderbookEndpoint_SortedAndCached(t *testing.T) {
	e := newTestEnv(t)
	fund(t, e, 1, "1000000")
	fundAsset(t, e, 2, "BTC", "10")

	for _, price := range []string{"49000", "50000"} {
		rec := e.do(t, "POST", "/api/v1/orders", "1", CreateOrderRequest{
			Symbol: "BTC", Side: "buy", Price: price, Amount: "0.1",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("buy %s: %d %s", price, rec.Code, rec.Body.String())
		}
	}
	for _, price := range []string{"52000", "51000"} {
		rec := e.do(t, "POST", "/api/v1/orders", "2", CreateOrderRequest{
			Symbol: "BTC", Side: "sell", Price: price, Amount: "0.1",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("sell %s: %d %s", price, rec.Code, rec.Body.String())
		}
	}

	rec := e.do(t, "GET", "/api/v1/orderbook?symbol=BTC", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("orderbook status = %d", rec.Code)
	}
	book := decodeAs[OrderbookSnapshot](t, rec)
	if len(book.Buy) != 2 || len(book.Sell) != 2 {
		t.Fatalf("book sizes = %d/%d, want 2/2", len(book.Buy), len(book.Sell))
	}
	if book.Buy[0].Price != "50000.00000000" {
		t.Errorf("best bid = %q, want highest first", book.Buy[0].Price)
	}
	if book.Sell[0].Price != "51000.00000000" {
		t.Errorf("best ask = %q, want lowest first", book.Sell[0].Price)
	}

	// A matching fill invalidates the cached snapshot immediately.
	rec = e.do(t, "POST", "/api/v1/orders", "1", CreateOrderRequest{
		Symbol: "BTC", Side: "buy", Price: "51000", Amount: "0.1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("crossing buy: %d %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, "GET", "/api/v1/orderbook?symbol=BTC", "", nil)
	book = decodeAs[OrderbookSnapshot](t, rec)
	if len(book.Sell) != 1 || book.Sell[0].Price != "52000.00000000" {
		t.Errorf("book after fill = %+v, want single ask at 52000", book.Sell)
	}
}

func TestOrderbookCache_ServesStaleWithinTTL(t *testing.T) {
	clock := &manualClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewBookCache(2*time.Second, clock)

	builds := 0
	build := func() (OrderbookSnapshot, error) {
		builds++
		return OrderbookSnapshot{Timestamp: int64(builds)}, nil
	}

	if _, err := cache.Get("BTC", build); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get("BTC", build); err != nil {
		t.Fatal(err)
	}
	if builds != 1 {
		t.Errorf("builds = %d, want cached second read", builds)
	}

	clock.advance(3 * time.Second)
	if _, err := cache.Get("BTC", build); err != nil {
		t.Fatal(err)
	}
	if builds != 2 {
		t.Errorf("builds = %d, want rebuild after TTL", builds)
	}

	cache.Invalidate("BTC")
	if _, err := cache.Get("BTC", build); err != nil {
		t.Fatal(err)
	}
	if builds != 3 {
		t.Errorf("builds = %d, want rebuild after invalidation", builds)
	}

	// Symbol invalidation also drops the all-markets snapshot.
	if _, err := cache.Get("", build); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate("BTC")
	if _, err := cache.Get("", build); err != nil {
		t.Fatal(err)
	}
	if builds != 5 {
		t.Errorf("builds = %d, want all-markets rebuilt too", builds)
	}
}

func TestTradesEndpoint(t *testing.T) {
	e := newTestEnv(t)
	fund(t, e, 1, "100000")
	fundAsset(t, e, 2, "BTC", "1")

	e.do(t, "POST", "/api/v1/orders", "2", CreateOrderRequest{
		Symbol: "BTC", Side: "sell", Price: "50000", Amount: "1",
	})
	rec := e.do(t, "POST", "/api/v1/orders", "1", CreateOrderRequest{
		Symbol: "BTC", Side: "buy", Price: "50000", Amount: "1",
	})
	filled := decodeAs[core.OrderView](t, rec)
	if filled.Status != "filled" {
		t.Fatalf("buy status = %q, want filled", filled.Status)
	}

	rec = e.do(t, "GET", "/api/v1/trades", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing symbol status = %d, want 400", rec.Code)
	}

	rec = e.do(t, "GET", "/api/v1/trades?symbol=BTC", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trades status = %d", rec.Code)
	}
	trades := decodeAs[[]core.TradeView](t, rec)
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if trades[0].Commission != "750.00000000" {
		t.Errorf("commission = %q, want 750.00000000", trades[0].Commission)
	}

	rec = e.do(t, "GET", "/api/v1/my-orders", "2", nil)
	orders := decodeAs[[]core.OrderView](t, rec)
	if len(orders) != 1 || orders[0].Status != "filled" {
		t.Errorf("my-orders = %+v", orders)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}
