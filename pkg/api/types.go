package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixledger/pkg/app/core/ledger"
	"github.com/uhyunpark/fixledger/pkg/fix"
)

// API response types for REST endpoints and WebSocket messages.
// Money and quantities are decimal strings.

// ==============================
// REST Response Types
// ==============================

// BookInfo summarizes the whole trading book
type BookInfo struct {
	Name       string                     `json:"name"`
	Symbols    []string                   `json:"symbols"`
	Volume     decimal.Decimal            `json:"volume"` // USD, rounded to cents
	PnL        decimal.Decimal            `json:"pnl"`
	VWAP       map[string]decimal.Decimal `json:"vwap"`
	OpenOrders map[string]int             `json:"openOrders"`
}

// LedgerInfo is one instrument's ledger with its analytics
type LedgerInfo struct {
	Symbol     string          `json:"symbol"`
	OpenOrders int             `json:"openOrders"`
	Trades     int             `json:"trades"`
	Volume     decimal.Decimal `json:"volume"`
	PnL        decimal.Decimal `json:"pnl"`
	VWAP       decimal.Decimal `json:"vwap"`
}

// OrderInfo represents an open order
type OrderInfo struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"` // "buy", "sell" or "sell_short"
	Type      string          `json:"type"` // "limit" or "market"
	Security  string          `json:"security"`
	Qty       decimal.Decimal `json:"qty"`     // remaining
	OrigQty   decimal.Decimal `json:"origQty"` // as sent
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
}

// TradeInfo represents the merged fills of one order
type TradeInfo struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"` // quantity-weighted average
	Timestamp int64           `json:"timestamp"`
}

// JournalEntry is one audited FIX message
type JournalEntry struct {
	Seq       uint64 `json:"seq"`
	Time      int64  `json:"time"` // Unix milliseconds
	Direction string `json:"direction"`
	Session   string `json:"session"`
	MsgType   string `json:"msgType"`
	Text      string `json:"text"`
}

// ==============================
// Request Types
// ==============================

// SubmitOrderRequest is sent to POST /api/v1/orders
type SubmitOrderRequest struct {
	Symbol string `json:"symbol" validate:"required,alphanum,max=12"`
	Side   string `json:"side" validate:"required,oneof=buy sell sell_short 1 2 5"`
	Type   string `json:"type" validate:"required,oneof=limit market 1 2"`
	Qty    string `json:"qty" validate:"required,numeric"`
	Price  string `json:"price" validate:"required_if=Type limit,required_if=Type 2"`
}

// CancelOrderRequest is sent to POST /api/v1/orders/cancel
type CancelOrderRequest struct {
	OrderID string `json:"orderId" validate:"required"`
}

type SubmitOrderResponse struct {
	Status  string `json:"status"` // "submitted"
	OrderID string `json:"orderId"`
}

type CancelOrderResponse struct {
	Status   string `json:"status"`
	OrderID  string `json:"orderId"`  // order being canceled
	CancelID string `json:"cancelId"` // ClOrdID of the cancel request
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["reports", "reports:AAPL"]
}

// ReportUpdate is pushed for every reconciled execution report
type ReportUpdate struct {
	Type      string          `json:"type"` // "report"
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol,omitempty"`
	Side      string          `json:"side,omitempty"`
	Status    string          `json:"status"`
	Action    string          `json:"action"`
	LastQty   decimal.Decimal `json:"lastQty"`
	LastPx    decimal.Decimal `json:"lastPx"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func toOrderInfo(o *ledger.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side.String(),
		Type:      o.Type.String(),
		Security:  string(o.Security),
		Qty:       o.Qty,
		OrigQty:   o.OrigQty,
		Price:     o.Price,
		Status:    o.Status.String(),
		Timestamp: o.Timestamp.UnixMilli(),
	}
}

func toTradeInfo(t *ledger.Trade) TradeInfo {
	return TradeInfo{
		ID:        t.ID,
		Symbol:    t.Symbol,
		Side:      t.Side.String(),
		Qty:       t.Qty,
		Price:     t.Price,
		Timestamp: t.Timestamp.UnixMilli(),
	}
}

// toOrder converts a validated request into an unsent order.
func (r SubmitOrderRequest) toOrder() (*ledger.Order, error) {
	side, ok := fix.ParseSide(r.Side)
	if !ok {
		return nil, errInvalidField("side", r.Side)
	}
	typ, ok := fix.ParseOrdType(r.Type)
	if !ok {
		return nil, errInvalidField("type", r.Type)
	}
	qty, err := decimal.NewFromString(r.Qty)
	if err != nil || !qty.IsPositive() {
		return nil, errInvalidField("qty", r.Qty)
	}
	price := decimal.Zero
	if r.Price != "" {
		price, err = decimal.NewFromString(r.Price)
		if err != nil || price.IsNegative() {
			return nil, errInvalidField("price", r.Price)
		}
	}
	return &ledger.Order{
		Symbol:   r.Symbol,
		Side:     side,
		Type:     typ,
		Qty:      qty,
		OrigQty:  qty,
		Security: fix.SecurityTypeCommonStock,
		Price:    price,
	}, nil
}
