package book

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixledger/pkg/app/core/ledger"
)

var (
	// ErrInvalidAssets is a configuration error raised at construction.
	ErrInvalidAssets = errors.New("invalid assets for trading book")
	ErrUnknownSymbol = errors.New("no ledger for symbol")
	// ErrAmbiguousOrderID is returned when an id-only lookup matches open
	// orders in more than one ledger. Nothing is removed.
	ErrAmbiguousOrderID   = errors.New("order id present in multiple ledgers")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// TradingBook aggregates one AssetLedger per instrument. The set of
// ledgers is fixed at construction. A single RWMutex guards every ledger:
// mutations take the write lock, queries the read lock.
type TradingBook struct {
	name string

	mu      sync.RWMutex
	ledgers map[string]*ledger.AssetLedger // symbol -> ledger
}

// New creates a book with one ledger per symbol. Duplicate symbols collapse
// into one ledger; an empty set or an empty symbol is an error.
func New(name string, symbols []string) (*TradingBook, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols", ErrInvalidAssets)
	}
	b := &TradingBook{
		name:    name,
		ledgers: make(map[string]*ledger.AssetLedger, len(symbols)),
	}
	for _, s := range symbols {
		if s == "" {
			return nil, fmt.Errorf("%w: empty symbol in %v", ErrInvalidAssets, symbols)
		}
		if _, exists := b.ledgers[s]; !exists {
			b.ledgers[s] = ledger.NewAssetLedger(s)
		}
	}
	return b, nil
}

func (b *TradingBook) Name() string { return b.name }

// Symbols returns the ledger symbols in sorted order.
func (b *TradingBook) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.symbolsLocked()
}

// HasSymbol reports whether the book keeps a ledger for symbol.
func (b *TradingBook) HasSymbol(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ledgers[symbol]
	return ok
}

func (b *TradingBook) symbolsLocked() []string {
	out := make([]string, 0, len(b.ledgers))
	for s := range b.ledgers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (b *TradingBook) ledgerLocked(symbol string) (*ledger.AssetLedger, error) {
	l, ok := b.ledgers[symbol]
	if !ok {
		return nil, fmt.Errorf("%w %q in book %s", ErrUnknownSymbol, symbol, b.name)
	}
	return l, nil
}

// LogTransaction records an order (or an update event, stored as an order)
// or a trade in the ledger of its symbol.
func (b *TradingBook) LogTransaction(tx ledger.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch v := tx.(type) {
	case *ledger.Order:
		l, err := b.ledgerLocked(v.Symbol)
		if err != nil {
			return err
		}
		return l.AddOrder(v)
	case *ledger.OrderUpdateEvent:
		l, err := b.ledgerLocked(v.Symbol)
		if err != nil {
			return err
		}
		return l.AddOrder(v.AsOrder())
	case *ledger.Trade:
		l, err := b.ledgerLocked(v.Symbol)
		if err != nil {
			return err
		}
		return l.AddTrade(v)
	default:
		return fmt.Errorf("%w: log %T", ErrInvalidTransaction, tx)
	}
}

// EraseTransaction removes an order named by an update event, or a trade.
// An event without a symbol is matched by id across every ledger.
func (b *TradingBook) EraseTransaction(tx ledger.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch v := tx.(type) {
	case *ledger.OrderUpdateEvent:
		if v.Symbol != "" {
			l, err := b.ledgerLocked(v.Symbol)
			if err != nil {
				return err
			}
			_, err = l.CloseOrder(v)
			return err
		}
		l, err := b.findOrderLocked(v.ID)
		if err != nil {
			return err
		}
		_, err = l.CloseOrder(v)
		return err
	case *ledger.Trade:
		l, err := b.ledgerLocked(v.Symbol)
		if err != nil {
			return err
		}
		_, err = l.RemoveTrade(v.ID)
		return err
	default:
		return fmt.Errorf("%w: erase %T", ErrInvalidTransaction, tx)
	}
}

// findOrderLocked locates the single ledger holding an open order id.
func (b *TradingBook) findOrderLocked(id string) (*ledger.AssetLedger, error) {
	var found *ledger.AssetLedger
	for _, sym := range b.symbolsLocked() {
		l := b.ledgers[sym]
		if !l.HasOrder(id) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s in %s and %s", ErrAmbiguousOrderID, id, found.Symbol(), sym)
		}
		found = l
	}
	if found == nil {
		return nil, fmt.Errorf("book %s: %s: %w", b.name, id, ledger.ErrOrderNotFound)
	}
	return found, nil
}

// UpdateTransaction applies an update event to its ledger.
func (b *TradingBook) UpdateTransaction(tx ledger.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev, ok := tx.(*ledger.OrderUpdateEvent)
	if !ok {
		return fmt.Errorf("%w: update %T", ErrInvalidTransaction, tx)
	}
	l, err := b.ledgerLocked(ev.Symbol)
	if err != nil {
		return err
	}
	return l.UpdateOrder(ev)
}

// LedgerSnapshot is a point-in-time copy of one ledger.
type LedgerSnapshot struct {
	Symbol string
	Orders []*ledger.Order
	Trades []*ledger.Trade
	Volume decimal.Decimal
	PnL    decimal.Decimal
	VWAP   decimal.Decimal
}

// Ledger returns a consistent copy of one ledger.
func (b *TradingBook) Ledger(symbol string) (LedgerSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	l, err := b.ledgerLocked(symbol)
	if err != nil {
		return LedgerSnapshot{}, err
	}
	pnl, err := l.TradingPnL()
	if err != nil {
		return LedgerSnapshot{}, err
	}
	return LedgerSnapshot{
		Symbol: symbol,
		Orders: l.Orders(),
		Trades: l.Trades(),
		Volume: l.TradingVolume().Round(2),
		PnL:    pnl.Round(2),
		VWAP:   l.VWAP().Round(2),
	}, nil
}

func (b *TradingBook) OpenOrders(symbol string) ([]*ledger.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, err := b.ledgerLocked(symbol)
	if err != nil {
		return nil, err
	}
	return l.Orders(), nil
}

func (b *TradingBook) Trades(symbol string) ([]*ledger.Trade, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, err := b.ledgerLocked(symbol)
	if err != nil {
		return nil, err
	}
	return l.Trades(), nil
}

// FindOrder returns a copy of an open order by id from any ledger.
func (b *TradingBook) FindOrder(id string) (*ledger.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, err := b.findOrderLocked(id)
	if err != nil {
		return nil, err
	}
	o, _ := l.Order(id)
	return o, nil
}

// OpenOrderCount returns the number of open orders per symbol.
func (b *TradingBook) OpenOrderCount() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int, len(b.ledgers))
	for sym, l := range b.ledgers {
		out[sym], _ = l.Len()
	}
	return out
}

// RandomOpenOrder picks a random ledger, then a random open order in it.
// Returns nil when the chosen ledger has no open orders.
func (b *TradingBook) RandomOpenOrder(rng *rand.Rand) *ledger.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	syms := b.symbolsLocked()
	orders := b.ledgers[syms[rng.IntN(len(syms))]].Orders()
	if len(orders) == 0 {
		return nil
	}
	return orders[rng.IntN(len(orders))]
}

// ResetLedger drops every order and trade of one ledger. The ledger itself
// stays registered.
func (b *TradingBook) ResetLedger(symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, err := b.ledgerLocked(symbol)
	if err != nil {
		return err
	}
	l.ClearOrders()
	l.ClearTrades()
	return nil
}

func (b *TradingBook) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.ledgers {
		l.ClearOrders()
		l.ClearTrades()
	}
}

// selectLocked resolves the ledgers a query applies to: all of them when
// no symbol is given.
func (b *TradingBook) selectLocked(symbols []string) ([]*ledger.AssetLedger, error) {
	if len(symbols) == 0 {
		symbols = b.symbolsLocked()
	}
	out := make([]*ledger.AssetLedger, 0, len(symbols))
	for _, s := range symbols {
		l, err := b.ledgerLocked(s)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Volume is the dollar trading volume of the given symbols (all when none
// are given), rounded to cents.
func (b *TradingBook) Volume(symbols ...string) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ls, err := b.selectLocked(symbols)
	if err != nil {
		return decimal.Zero, err
	}
	vol := decimal.Zero
	for _, l := range ls {
		vol = vol.Add(l.TradingVolume())
	}
	return vol.Round(2), nil
}

// PnL is the signed trading PnL of the given symbols, rounded to cents.
func (b *TradingBook) PnL(symbols ...string) (decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ls, err := b.selectLocked(symbols)
	if err != nil {
		return decimal.Zero, err
	}
	pnl := decimal.Zero
	for _, l := range ls {
		p, err := l.TradingPnL()
		if err != nil {
			return decimal.Zero, err
		}
		pnl = pnl.Add(p)
	}
	return pnl.Round(2), nil
}

// VWAP returns the rounded VWAP of each requested ledger.
func (b *TradingBook) VWAP(symbols ...string) (map[string]decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ls, err := b.selectLocked(symbols)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(ls))
	for _, l := range ls {
		out[l.Symbol()] = l.VWAP().Round(2)
	}
	return out, nil
}

// Stats summarizes the whole book.
type Stats struct {
	Volume decimal.Decimal
	PnL    decimal.Decimal
	VWAP   map[string]decimal.Decimal
}

// Stats computes volume, PnL and per-ledger VWAP under one read lock.
func (b *TradingBook) Stats() (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{Volume: decimal.Zero, PnL: decimal.Zero, VWAP: make(map[string]decimal.Decimal, len(b.ledgers))}
	for sym, l := range b.ledgers {
		p, err := l.TradingPnL()
		if err != nil {
			return Stats{}, err
		}
		st.Volume = st.Volume.Add(l.TradingVolume())
		st.PnL = st.PnL.Add(p)
		st.VWAP[sym] = l.VWAP().Round(2)
	}
	st.Volume = st.Volume.Round(2)
	st.PnL = st.PnL.Round(2)
	return st, nil
}

func (b *TradingBook) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fmt.Sprintf("TradingBook: %s, Ledgers: %d", b.name, len(b.ledgers))
}
