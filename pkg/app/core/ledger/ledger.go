package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixledger/pkg/fix"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrTradeNotFound = errors.New("trade not found")
	// ErrInconsistent marks an update whose symbol/side/quantity disagrees
	// with the stored order. The mutation is skipped.
	ErrInconsistent = errors.New("reconciliation inconsistency")
	// ErrTradeMismatch marks two fills with the same id but different
	// side or symbol.
	ErrTradeMismatch = errors.New("trade side/symbol mismatch")
	// ErrUnknownSide is fatal for PnL computation.
	ErrUnknownSide = errors.New("unknown trading side")
	ErrEmptyID     = errors.New("empty order id")
)

// AssetLedger holds the open orders and realized trades of one instrument.
//
// AssetLedger is not safe for concurrent use; the TradingBook owning it
// serializes every call.
type AssetLedger struct {
	symbol string
	orders map[string]*Order // ClOrdID -> open order
	trades map[string]*Trade // ClOrdID -> merged fills
}

func NewAssetLedger(symbol string) *AssetLedger {
	return &AssetLedger{
		symbol: symbol,
		orders: make(map[string]*Order),
		trades: make(map[string]*Trade),
	}
}

func (l *AssetLedger) Symbol() string { return l.symbol }

// AddOrder stores a copy of o, replacing any order with the same id.
func (l *AssetLedger) AddOrder(o *Order) error {
	if o.ID == "" {
		return ErrEmptyID
	}
	l.orders[o.ID] = o.Clone()
	return nil
}

// RemoveOrder deletes the open order with the given id.
func (l *AssetLedger) RemoveOrder(id string) (*Order, error) {
	o, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("%s: remove %s: %w", l.symbol, id, ErrOrderNotFound)
	}
	delete(l.orders, id)
	return o, nil
}

// UpdateOrder applies a status change to the stored order. A partial fill
// reduces the remaining quantity by the event quantity. Timestamp and
// status are always overwritten unless the event is inconsistent.
func (l *AssetLedger) UpdateOrder(e *OrderUpdateEvent) error {
	o, ok := l.orders[e.ID]
	if !ok {
		return fmt.Errorf("%s: update %s: %w", l.symbol, e.ID, ErrOrderNotFound)
	}
	if err := l.checkEvent(o, e); err != nil {
		return err
	}

	remaining := o.Qty
	if e.Status == fix.OrdStatusPartiallyFilled {
		remaining = o.Qty.Sub(e.Qty)
		if remaining.IsNegative() {
			return fmt.Errorf("%w: %s fill %s exceeds remaining %s", ErrInconsistent, e.ID, e.Qty, o.Qty)
		}
	}

	o.Qty = remaining
	o.Timestamp = e.Timestamp
	o.Status = e.Status
	return nil
}

// CloseOrder removes an order in response to a terminal event. A Filled
// event applies its fill first; the order is removed even when the final
// remaining quantity is not zero, but that case is reported.
func (l *AssetLedger) CloseOrder(e *OrderUpdateEvent) (*Order, error) {
	o, ok := l.orders[e.ID]
	if !ok {
		return nil, fmt.Errorf("%s: close %s: %w", l.symbol, e.ID, ErrOrderNotFound)
	}
	// reject paths may omit symbol or side; compare what is present
	if (e.Symbol != "" && e.Symbol != o.Symbol) || (e.Side != "" && e.Side != o.Side) {
		return nil, fmt.Errorf("%w: %s stored symbol=%s side=%s, event symbol=%s side=%s",
			ErrInconsistent, e.ID, o.Symbol, o.Side, e.Symbol, e.Side)
	}

	delete(l.orders, e.ID)
	if !e.Timestamp.IsZero() {
		o.Timestamp = e.Timestamp
	}
	o.Status = e.Status

	if e.Status == fix.OrdStatusFilled {
		o.Qty = o.Qty.Sub(e.Qty)
		if !o.Qty.IsZero() {
			return o, fmt.Errorf("%w: %s filled with remaining quantity %s", ErrInconsistent, e.ID, o.Qty)
		}
	}
	return o, nil
}

func (l *AssetLedger) checkEvent(o *Order, e *OrderUpdateEvent) error {
	if o.Symbol != e.Symbol || o.Side != e.Side {
		return fmt.Errorf("%w: %s stored symbol=%s side=%s, event symbol=%s side=%s",
			ErrInconsistent, e.ID, o.Symbol, o.Side, e.Symbol, e.Side)
	}
	return nil
}

func (l *AssetLedger) Order(id string) (*Order, bool) {
	o, ok := l.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Orders returns copies of all open orders sorted by id.
func (l *AssetLedger) Orders() []*Order {
	out := make([]*Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *AssetLedger) ClearOrders() {
	l.orders = make(map[string]*Order)
}

// AddTrade inserts a fill or merges it into the existing trade for the
// same order id. A merge that would combine different sides or symbols is
// refused and the stored trade is left untouched.
func (l *AssetLedger) AddTrade(t *Trade) error {
	if t.ID == "" {
		return ErrEmptyID
	}
	cur, ok := l.trades[t.ID]
	if !ok {
		l.trades[t.ID] = t.Clone()
		return nil
	}
	merged, err := cur.Merge(t)
	if err != nil {
		return fmt.Errorf("%s: add trade: %w", l.symbol, err)
	}
	l.trades[t.ID] = merged
	return nil
}

func (l *AssetLedger) RemoveTrade(id string) (*Trade, error) {
	t, ok := l.trades[id]
	if !ok {
		return nil, fmt.Errorf("%s: remove trade %s: %w", l.symbol, id, ErrTradeNotFound)
	}
	delete(l.trades, id)
	return t, nil
}

func (l *AssetLedger) Trade(id string) (*Trade, bool) {
	t, ok := l.trades[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Trades returns copies of all trades sorted by id.
func (l *AssetLedger) Trades() []*Trade {
	out := make([]*Trade, 0, len(l.trades))
	for _, t := range l.trades {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *AssetLedger) ClearTrades() {
	l.trades = make(map[string]*Trade)
}

// Contains reports whether id is an open order or a trade in this ledger.
func (l *AssetLedger) Contains(id string) bool {
	_, o := l.orders[id]
	_, t := l.trades[id]
	return o || t
}

func (l *AssetLedger) HasOrder(id string) bool {
	_, ok := l.orders[id]
	return ok
}

// Len returns the number of open orders and trades.
func (l *AssetLedger) Len() (orders, trades int) {
	return len(l.orders), len(l.trades)
}

// TradingVolume is the dollar notional of all trades.
func (l *AssetLedger) TradingVolume() decimal.Decimal {
	vol := decimal.Zero
	for _, t := range l.trades {
		vol = vol.Add(t.Notional())
	}
	return vol
}

// TradingPnL is the signed cash flow of all trades: sells add, buys
// subtract. An unknown side aborts the computation.
func (l *AssetLedger) TradingPnL() (decimal.Decimal, error) {
	pnl := decimal.Zero
	for _, t := range l.trades {
		switch t.Side {
		case fix.SideSell, fix.SideSellShort:
			pnl = pnl.Add(t.Notional())
		case fix.SideBuy:
			pnl = pnl.Sub(t.Notional())
		default:
			return decimal.Zero, fmt.Errorf("%s: trade %s side %q: %w", l.symbol, t.ID, string(t.Side), ErrUnknownSide)
		}
	}
	return pnl, nil
}

// VWAP is volume divided by filled quantity, zero when nothing traded.
func (l *AssetLedger) VWAP() decimal.Decimal {
	vol := decimal.Zero
	qty := decimal.Zero
	for _, t := range l.trades {
		vol = vol.Add(t.Notional())
		qty = qty.Add(t.Qty)
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return vol.Div(qty)
}

func (l *AssetLedger) String() string {
	return fmt.Sprintf("Ledger: %s, Orders: %d, Trades: %d", l.symbol, len(l.orders), len(l.trades))
}
