package ledger

import (
	"fmt"
	"time"

	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixledger/pkg/fix"
)

// Transaction is anything the trading book can route to a ledger:
// *Order, *OrderUpdateEvent or *Trade. The set is closed.
type Transaction interface {
	TxSymbol() string
	TxID() string
	isTransaction()
}

// Order is an intent to trade, tracked from the moment it is sent until it
// is filled, rejected or canceled.
type Order struct {
	ID       string           // ClOrdID (11), assigned at send time
	Symbol   string           // 55
	Side     fix.Side         // 54
	Qty      decimal.Decimal  // 38, remaining quantity
	OrigQty  decimal.Decimal  // quantity as sent
	Type     fix.OrdType      // 40
	Security fix.SecurityType // 167
	Price    decimal.Decimal  // 44, meaningful for limit orders only

	Status    fix.OrdStatus // 39, last known
	Timestamp time.Time     // last update
}

func (o *Order) TxSymbol() string { return o.Symbol }
func (o *Order) TxID() string     { return o.ID }
func (*Order) isTransaction()     {}

// Clone returns an independent copy.
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}

// Filled returns the quantity executed so far.
func (o *Order) Filled() decimal.Decimal {
	return o.OrigQty.Sub(o.Qty)
}

// CancelFields returns the tag set required to cancel this order.
func (o *Order) CancelFields() fix.FieldMap {
	return fix.FieldMap{
		tag.Symbol:       o.Symbol,
		tag.Side:         string(o.Side),
		tag.OrderQty:     o.Qty.String(),
		tag.SecurityType: string(o.Security),
		tag.OrigClOrdID:  o.ID,
	}
}

func (o *Order) String() string {
	return fmt.Sprintf("Order %s (%s) - Symbol: %s, Security: %s, Side: %s, Qty: %s, Type: %s, Price: %s, Status: %s",
		o.ID, fix.FormatUTCTimestamp(o.Timestamp), o.Symbol, o.Security, o.Side, o.Qty, o.Type, o.Price.StringFixed(2), o.Status)
}

// Trade is a confirmed, possibly partial, execution of one order. Repeated
// fills of the same order are merged into a single Trade.
type Trade struct {
	ID        string          // ClOrdID of the originating order
	Timestamp time.Time       // 52
	Symbol    string          // 55
	Side      fix.Side        // 54
	Qty       decimal.Decimal // 32, cumulative after merges
	Price     decimal.Decimal // 31, quantity-weighted average after merges
}

func (t *Trade) TxSymbol() string { return t.Symbol }
func (t *Trade) TxID() string     { return t.ID }
func (*Trade) isTransaction()     {}

func (t *Trade) Clone() *Trade {
	cp := *t
	return &cp
}

// Notional returns price × quantity.
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Qty)
}

// Merge combines two fills of the same order. Quantities add, the price is
// the quantity-weighted average and the later timestamp wins. Fills that
// disagree on side or symbol are never combined.
func (t *Trade) Merge(other *Trade) (*Trade, error) {
	if t.ID != other.ID || t.Side != other.Side || t.Symbol != other.Symbol {
		return nil, fmt.Errorf("%w: have id=%s side=%s symbol=%s, got id=%s side=%s symbol=%s",
			ErrTradeMismatch, t.ID, t.Side, t.Symbol, other.ID, other.Side, other.Symbol)
	}

	qty := t.Qty.Add(other.Qty)
	price := other.Price
	if !qty.IsZero() {
		price = t.Notional().Add(other.Notional()).Div(qty)
	}

	ts := t.Timestamp
	if other.Timestamp.After(ts) {
		ts = other.Timestamp
	}

	return &Trade{
		ID:        other.ID,
		Timestamp: ts,
		Symbol:    other.Symbol,
		Side:      other.Side,
		Qty:       qty,
		Price:     price,
	}, nil
}

func (t *Trade) String() string {
	return fmt.Sprintf("Trade %s (%s) - Symbol: %s, Side: %s, Qty: %s, Price: %s",
		t.ID, fix.FormatUTCTimestamp(t.Timestamp), t.Symbol, t.Side, t.Qty, t.Price.StringFixed(2))
}

// OrderUpdateEvent is a transient status change for an open order. It is
// applied to the stored Order and then discarded.
type OrderUpdateEvent struct {
	ID        string
	Timestamp time.Time
	Qty       decimal.Decimal // last filled quantity, zero if none
	Price     decimal.Decimal // last filled price
	Status    fix.OrdStatus
	Symbol    string // may be empty on reject paths
	Side      fix.Side
}

func (e *OrderUpdateEvent) TxSymbol() string { return e.Symbol }
func (e *OrderUpdateEvent) TxID() string     { return e.ID }
func (*OrderUpdateEvent) isTransaction()     {}

// AsOrder converts the event into an order record, used when an update
// arrives for an order the book has never seen.
func (e *OrderUpdateEvent) AsOrder() *Order {
	return &Order{
		ID:        e.ID,
		Symbol:    e.Symbol,
		Side:      e.Side,
		Qty:       e.Qty,
		OrigQty:   e.Qty,
		Price:     e.Price,
		Status:    e.Status,
		Timestamp: e.Timestamp,
	}
}
