package api

import "github.com/openspot/openspot/pkg/core"

// Request and response types for the REST endpoints. All decimal fields
// travel as exact strings.

type CreateOrderRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`   // "buy" or "sell"
	Price  string `json:"price"`  // decimal string, max 8 fractional digits
	Amount string `json:"amount"` // decimal string, max 8 fractional digits
}

type DepositRequest struct {
	// Symbol empty means a USD balance deposit; otherwise an asset deposit.
	Symbol string `json:"symbol,omitempty"`
	Amount string `json:"amount"`
}

type AssetBalance struct {
	Symbol          string `json:"symbol"`
	Amount          string `json:"amount"`
	LockedAmount    string `json:"lockedAmount"`
	AvailableAmount string `json:"availableAmount"`
}

type ProfileResponse struct {
	Balance string         `json:"balance"`
	Assets  []AssetBalance `json:"assets"`
}

// BookEntry is one resting order in the public orderbook snapshot.
type BookEntry struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Symbol string `json:"symbol,omitempty"` // set only in the all-markets view
}

type OrderbookSnapshot struct {
	Buy       []BookEntry `json:"buy"`  // sorted price descending
	Sell      []BookEntry `json:"sell"` // sorted price ascending
	Timestamp int64       `json:"timestamp"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WSMessage wraps an event for WebSocket delivery.
type WSMessage struct {
	Type string     `json:"type"`
	Data core.Event `json:"data"`
}

// WSSubscribeRequest is sent by clients to manage channel subscriptions,
// e.g. {"op":"subscribe","channels":["orders:BTC","user:42"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}
