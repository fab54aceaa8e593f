package book

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixledger/pkg/app/core/ledger"
	"github.com/uhyunpark/fixledger/pkg/fix"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestBook(t *testing.T) *TradingBook {
	t.Helper()
	b, err := New("test", []string{"MSFT", "AAPL", "BAC"})
	if err != nil {
		t.Fatalf("new book: %v", err)
	}
	return b
}

func order(id, symbol string) *ledger.Order {
	return &ledger.Order{ID: id, Symbol: symbol, Side: fix.SideBuy, Qty: d("10"), OrigQty: d("10"),
		Type: fix.OrdTypeLimit, Security: fix.SecurityTypeCommonStock, Price: d("5")}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		symbols []string
		want    []string
		wantErr bool
	}{
		{name: "single symbol", symbols: []string{"AAPL"}, want: []string{"AAPL"}},
		{name: "duplicates collapse", symbols: []string{"AAPL", "MSFT", "AAPL"}, want: []string{"AAPL", "MSFT"}},
		{name: "empty set", symbols: nil, wantErr: true},
		{name: "empty symbol", symbols: []string{"AAPL", ""}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New("bk", tt.symbols)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAssets) {
					t.Fatalf("err = %v, want ErrInvalidAssets", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := b.Symbols()
			if len(got) != len(tt.want) {
				t.Fatalf("symbols = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("symbols = %v, want %v", got, tt.want)
				}
				if !b.HasSymbol(got[i]) {
					t.Errorf("HasSymbol(%q) = false", got[i])
				}
			}
			if b.HasSymbol("TSLA") {
				t.Error("HasSymbol(\"TSLA\") = true")
			}
		})
	}
}

func TestLogTransaction_Routing(t *testing.T) {
	b := newTestBook(t)

	if err := b.LogTransaction(order("1", "AAPL")); err != nil {
		t.Fatalf("log order: %v", err)
	}
	if err := b.LogTransaction(&ledger.Trade{ID: "1", Symbol: "AAPL", Side: fix.SideBuy, Qty: d("2"), Price: d("5")}); err != nil {
		t.Fatalf("log trade: %v", err)
	}
	ev := &ledger.OrderUpdateEvent{ID: "9", Symbol: "MSFT", Side: fix.SideSell, Qty: d("3"), Status: fix.OrdStatusNew}
	if err := b.LogTransaction(ev); err != nil {
		t.Fatalf("log event: %v", err)
	}

	aapl, _ := b.OpenOrders("AAPL")
	trades, _ := b.Trades("AAPL")
	msft, _ := b.OpenOrders("MSFT")
	if len(aapl) != 1 || len(trades) != 1 || len(msft) != 1 {
		t.Fatalf("aapl=%d trades=%d msft=%d", len(aapl), len(trades), len(msft))
	}

	if err := b.LogTransaction(order("2", "TSLA")); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("unknown symbol err = %v", err)
	}
	if err := b.LogTransaction(nil); !errors.Is(err, ErrInvalidTransaction) {
		t.Errorf("nil tx err = %v", err)
	}
	if got := b.Symbols(); len(got) != 3 {
		t.Errorf("ledger created for unknown symbol: %v", got)
	}
}

func TestEraseTransaction_FallbackScan(t *testing.T) {
	b := newTestBook(t)
	b.LogTransaction(order("1", "AAPL"))
	b.LogTransaction(order("2", "MSFT"))

	rej := &ledger.OrderUpdateEvent{ID: "2", Status: fix.OrdStatusRejected}
	if err := b.EraseTransaction(rej); err != nil {
		t.Fatalf("erase: %v", err)
	}

	msft, _ := b.OpenOrders("MSFT")
	aapl, _ := b.OpenOrders("AAPL")
	if len(msft) != 0 {
		t.Errorf("MSFT order not removed: %v", msft)
	}
	if len(aapl) != 1 {
		t.Errorf("AAPL ledger affected: %v", aapl)
	}

	if err := b.EraseTransaction(rej); !errors.Is(err, ledger.ErrOrderNotFound) {
		t.Errorf("second erase err = %v", err)
	}
}

func TestEraseTransaction_AmbiguousID(t *testing.T) {
	b := newTestBook(t)
	b.LogTransaction(order("dup", "AAPL"))
	b.LogTransaction(order("dup", "BAC"))

	err := b.EraseTransaction(&ledger.OrderUpdateEvent{ID: "dup", Status: fix.OrdStatusRejected})
	if !errors.Is(err, ErrAmbiguousOrderID) {
		t.Fatalf("err = %v, want ErrAmbiguousOrderID", err)
	}
	if c := b.OpenOrderCount(); c["AAPL"] != 1 || c["BAC"] != 1 {
		t.Errorf("orders removed on ambiguous id: %v", c)
	}
}

func TestEraseTransaction_WithSymbolAndTrade(t *testing.T) {
	b := newTestBook(t)
	b.LogTransaction(order("1", "AAPL"))
	tr := &ledger.Trade{ID: "1", Symbol: "AAPL", Side: fix.SideBuy, Qty: d("10"), Price: d("5")}
	b.LogTransaction(tr)

	ev := &ledger.OrderUpdateEvent{ID: "1", Symbol: "AAPL", Side: fix.SideBuy, Qty: d("10"), Status: fix.OrdStatusFilled}
	if err := b.EraseTransaction(ev); err != nil {
		t.Fatalf("erase order: %v", err)
	}
	if err := b.EraseTransaction(tr); err != nil {
		t.Fatalf("erase trade: %v", err)
	}
	snap, _ := b.Ledger("AAPL")
	if len(snap.Orders) != 0 || len(snap.Trades) != 0 {
		t.Errorf("ledger not empty: %+v", snap)
	}
	if err := b.EraseTransaction(order("1", "AAPL")); !errors.Is(err, ErrInvalidTransaction) {
		t.Errorf("erase order record err = %v", err)
	}
}

func TestUpdateTransaction(t *testing.T) {
	b := newTestBook(t)
	b.LogTransaction(order("1", "AAPL"))

	ev := &ledger.OrderUpdateEvent{ID: "1", Symbol: "AAPL", Side: fix.SideBuy, Qty: d("4"), Status: fix.OrdStatusPartiallyFilled}
	if err := b.UpdateTransaction(ev); err != nil {
		t.Fatalf("update: %v", err)
	}
	o, err := b.FindOrder("1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !o.Qty.Equal(d("6")) {
		t.Errorf("remaining = %s, want 6", o.Qty)
	}
	if err := b.UpdateTransaction(order("1", "AAPL")); !errors.Is(err, ErrInvalidTransaction) {
		t.Errorf("update with order err = %v", err)
	}
}

func TestAggregates(t *testing.T) {
	b := newTestBook(t)
	b.LogTransaction(&ledger.Trade{ID: "1", Symbol: "AAPL", Side: fix.SideBuy, Qty: d("10"), Price: d("5")})
	b.LogTransaction(&ledger.Trade{ID: "2", Symbol: "AAPL", Side: fix.SideSell, Qty: d("10"), Price: d("7")})
	b.LogTransaction(&ledger.Trade{ID: "3", Symbol: "MSFT", Side: fix.SideSell, Qty: d("3"), Price: d("6")})

	vol, err := b.Volume("AAPL")
	if err != nil || !vol.Equal(d("120")) {
		t.Errorf("AAPL volume = %s, %v", vol, err)
	}
	vol, _ = b.Volume()
	if !vol.Equal(d("138")) {
		t.Errorf("book volume = %s, want 138", vol)
	}

	pnl, _ := b.PnL("AAPL")
	if !pnl.Equal(d("20")) {
		t.Errorf("AAPL pnl = %s, want 20", pnl)
	}
	pnl, _ = b.PnL()
	if !pnl.Equal(d("38")) {
		t.Errorf("book pnl = %s, want 38", pnl)
	}

	vwap, _ := b.VWAP()
	if !vwap["AAPL"].Equal(d("6")) || !vwap["MSFT"].Equal(d("6")) || !vwap["BAC"].IsZero() {
		t.Errorf("vwap = %v", vwap)
	}

	if _, err := b.Volume("TSLA"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("volume unknown symbol err = %v", err)
	}
	if _, err := b.PnL("AAPL", "TSLA"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("pnl unknown symbol err = %v", err)
	}
	if m, err := b.VWAP("TSLA"); err == nil || m != nil {
		t.Errorf("vwap unknown symbol = %v, %v", m, err)
	}

	st, err := b.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !st.Volume.Equal(d("138")) || !st.PnL.Equal(d("38")) || len(st.VWAP) != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestResetLedger(t *testing.T) {
	b := newTestBook(t)
	b.LogTransaction(order("1", "AAPL"))
	b.LogTransaction(&ledger.Trade{ID: "1", Symbol: "AAPL", Side: fix.SideBuy, Qty: d("1"), Price: d("1")})

	if err := b.ResetLedger("AAPL"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	snap, _ := b.Ledger("AAPL")
	if len(snap.Orders) != 0 || len(snap.Trades) != 0 {
		t.Errorf("ledger not cleared")
	}
	if err := b.LogTransaction(order("2", "AAPL")); err != nil {
		t.Errorf("ledger gone after reset: %v", err)
	}
	b.ResetAll()
	if c := b.OpenOrderCount(); c["AAPL"] != 0 {
		t.Errorf("ResetAll left orders: %v", c)
	}
}

func TestRandomOpenOrder(t *testing.T) {
	b, _ := New("single", []string{"AAPL"})
	rng := rand.New(rand.NewPCG(1, 2))
	if o := b.RandomOpenOrder(rng); o != nil {
		t.Fatalf("expected nil on empty book, got %v", o)
	}
	b.LogTransaction(order("1", "AAPL"))
	if o := b.RandomOpenOrder(rng); o == nil || o.ID != "1" {
		t.Fatalf("RandomOpenOrder = %v", o)
	}
}

func TestConcurrentMutationAndQueries(t *testing.T) {
	b := newTestBook(t)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := string(rune('a'+w)) + "-" + decimal.NewFromInt(int64(i)).String()
				b.LogTransaction(order(id, "AAPL"))
				b.LogTransaction(&ledger.Trade{ID: id, Symbol: "AAPL", Side: fix.SideBuy, Qty: d("1"), Price: d("2")})
				b.EraseTransaction(&ledger.OrderUpdateEvent{ID: id, Status: fix.OrdStatusCanceled})
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			b.Stats()
			b.OpenOrderCount()
		}
	}()
	wg.Wait()

	vol, _ := b.Volume("AAPL")
	if !vol.Equal(d("1600")) {
		t.Errorf("volume = %s, want 1600", vol)
	}
	if c := b.OpenOrderCount(); c["AAPL"] != 0 {
		t.Errorf("open orders = %d, want 0", c["AAPL"])
	}
}
