package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/fixledger/pkg/fix"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newOrder(id, symbol string, side fix.Side, qty string) *Order {
	return &Order{
		ID:       id,
		Symbol:   symbol,
		Side:     side,
		Qty:      d(qty),
		OrigQty:  d(qty),
		Type:     fix.OrdTypeLimit,
		Security: fix.SecurityTypeCommonStock,
		Price:    d("10"),
		Status:   fix.OrdStatusPendingNew,
	}
}

func event(id, symbol string, side fix.Side, status fix.OrdStatus, qty string) *OrderUpdateEvent {
	return &OrderUpdateEvent{
		ID:        id,
		Timestamp: t0.Add(time.Second),
		Qty:       d(qty),
		Price:     d("10"),
		Status:    status,
		Symbol:    symbol,
		Side:      side,
	}
}

func trade(id string, side fix.Side, qty, price string) *Trade {
	return &Trade{ID: id, Timestamp: t0, Symbol: "AAPL", Side: side, Qty: d(qty), Price: d(price)}
}

func TestUpdateOrder_PartialFillDecrements(t *testing.T) {
	l := NewAssetLedger("AAPL")
	if err := l.AddOrder(newOrder("1", "AAPL", fix.SideBuy, "10")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := l.UpdateOrder(event("1", "AAPL", fix.SideBuy, fix.OrdStatusPartiallyFilled, "4")); err != nil {
		t.Fatalf("update: %v", err)
	}

	o, _ := l.Order("1")
	if !o.Qty.Equal(d("6")) {
		t.Errorf("remaining = %s, want 6", o.Qty)
	}
	if o.Status != fix.OrdStatusPartiallyFilled {
		t.Errorf("status = %v", o.Status)
	}
	if !o.Timestamp.Equal(t0.Add(time.Second)) {
		t.Errorf("timestamp not overwritten: %v", o.Timestamp)
	}
	if !o.Filled().Equal(d("4")) {
		t.Errorf("filled = %s, want 4", o.Filled())
	}
}

func TestUpdateOrder_NewStatusKeepsQuantity(t *testing.T) {
	l := NewAssetLedger("AAPL")
	l.AddOrder(newOrder("1", "AAPL", fix.SideSell, "10"))

	if err := l.UpdateOrder(event("1", "AAPL", fix.SideSell, fix.OrdStatusNew, "0")); err != nil {
		t.Fatalf("update: %v", err)
	}
	o, _ := l.Order("1")
	if !o.Qty.Equal(d("10")) || o.Status != fix.OrdStatusNew {
		t.Errorf("got qty=%s status=%v", o.Qty, o.Status)
	}
}

func TestUpdateOrder_Inconsistencies(t *testing.T) {
	tests := []struct {
		name    string
		ev      *OrderUpdateEvent
		wantErr error
	}{
		{"unknown id", event("missing", "AAPL", fix.SideBuy, fix.OrdStatusNew, "0"), ErrOrderNotFound},
		{"side mismatch", event("1", "AAPL", fix.SideSell, fix.OrdStatusPartiallyFilled, "1"), ErrInconsistent},
		{"symbol mismatch", event("1", "MSFT", fix.SideBuy, fix.OrdStatusPartiallyFilled, "1"), ErrInconsistent},
		{"overfill", event("1", "AAPL", fix.SideBuy, fix.OrdStatusPartiallyFilled, "11"), ErrInconsistent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewAssetLedger("AAPL")
			l.AddOrder(newOrder("1", "AAPL", fix.SideBuy, "10"))

			err := l.UpdateOrder(tt.ev)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			o, _ := l.Order("1")
			if !o.Qty.Equal(d("10")) || o.Status != fix.OrdStatusPendingNew {
				t.Errorf("order mutated: qty=%s status=%v", o.Qty, o.Status)
			}
		})
	}
}

func TestCloseOrder(t *testing.T) {
	l := NewAssetLedger("AAPL")
	l.AddOrder(newOrder("1", "AAPL", fix.SideBuy, "10"))
	l.AddOrder(newOrder("2", "AAPL", fix.SideBuy, "10"))

	// reject without symbol or side
	rej := &OrderUpdateEvent{ID: "1", Status: fix.OrdStatusRejected}
	o, err := l.CloseOrder(rej)
	if err != nil {
		t.Fatalf("close rejected: %v", err)
	}
	if o.Status != fix.OrdStatusRejected || l.HasOrder("1") {
		t.Errorf("rejected order not closed: %+v", o)
	}

	// fill that leaves quantity behind is removed but reported
	_, err = l.CloseOrder(event("2", "AAPL", fix.SideBuy, fix.OrdStatusFilled, "3"))
	if !errors.Is(err, ErrInconsistent) {
		t.Errorf("err = %v, want ErrInconsistent", err)
	}
	if l.HasOrder("2") {
		t.Error("filled order should be removed even when inconsistent")
	}

	if _, err := l.CloseOrder(rej); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("second close err = %v, want ErrOrderNotFound", err)
	}
}

func TestAddOrder_StoresCopy(t *testing.T) {
	l := NewAssetLedger("AAPL")
	o := newOrder("1", "AAPL", fix.SideBuy, "10")
	l.AddOrder(o)
	o.Qty = d("99")

	stored, _ := l.Order("1")
	if !stored.Qty.Equal(d("10")) {
		t.Errorf("ledger shares caller's order: qty=%s", stored.Qty)
	}
	if err := l.AddOrder(&Order{}); !errors.Is(err, ErrEmptyID) {
		t.Errorf("empty id err = %v", err)
	}
}

func TestRemoveOrderAndTrade(t *testing.T) {
	l := NewAssetLedger("AAPL")
	l.AddOrder(newOrder("1", "AAPL", fix.SideBuy, "10"))
	l.AddTrade(trade("1", fix.SideBuy, "10", "5"))

	if !l.Contains("1") {
		t.Fatal("Contains(1) = false")
	}
	if _, err := l.RemoveOrder("1"); err != nil {
		t.Fatalf("remove order: %v", err)
	}
	if _, err := l.RemoveOrder("1"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
	if _, err := l.RemoveTrade("1"); err != nil {
		t.Fatalf("remove trade: %v", err)
	}
	if _, err := l.RemoveTrade("1"); !errors.Is(err, ErrTradeNotFound) {
		t.Errorf("err = %v, want ErrTradeNotFound", err)
	}
	if l.Contains("1") {
		t.Error("Contains(1) after removals")
	}
}

func TestAddTrade_MergesSameOrder(t *testing.T) {
	l := NewAssetLedger("AAPL")
	first := trade("1", fix.SideBuy, "10", "5")
	second := trade("1", fix.SideBuy, "30", "7")
	second.Timestamp = t0.Add(time.Minute)

	l.AddTrade(first)
	if err := l.AddTrade(second); err != nil {
		t.Fatalf("merge: %v", err)
	}

	got, _ := l.Trade("1")
	if !got.Qty.Equal(d("40")) {
		t.Errorf("qty = %s, want 40", got.Qty)
	}
	// (10*5 + 30*7) / 40 = 6.5
	if !got.Price.Equal(d("6.5")) {
		t.Errorf("price = %s, want 6.5", got.Price)
	}
	if !got.Timestamp.Equal(t0.Add(time.Minute)) {
		t.Errorf("timestamp = %v, want later one", got.Timestamp)
	}
	if _, trades := l.Len(); trades != 1 {
		t.Errorf("trades = %d, want 1", trades)
	}
}

func TestAddTrade_MismatchIsRefused(t *testing.T) {
	l := NewAssetLedger("AAPL")
	l.AddTrade(trade("1", fix.SideBuy, "10", "5"))

	err := l.AddTrade(trade("1", fix.SideSell, "3", "9"))
	if !errors.Is(err, ErrTradeMismatch) {
		t.Fatalf("err = %v, want ErrTradeMismatch", err)
	}
	got, _ := l.Trade("1")
	if !got.Qty.Equal(d("10")) || !got.Price.Equal(d("5")) || got.Side != fix.SideBuy {
		t.Errorf("stored trade changed: %v", got)
	}
}

func TestMerge_ZeroQuantity(t *testing.T) {
	a := trade("1", fix.SideBuy, "0", "5")
	b := trade("1", fix.SideBuy, "0", "6")
	m, err := a.Merge(b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !m.Qty.IsZero() || !m.Price.Equal(d("6")) {
		t.Errorf("got qty=%s price=%s", m.Qty, m.Price)
	}
}

func TestAnalytics(t *testing.T) {
	t.Run("pnl sell adds buy subtracts", func(t *testing.T) {
		l := NewAssetLedger("AAPL")
		l.AddTrade(trade("b", fix.SideBuy, "10", "5"))
		l.AddTrade(trade("s", fix.SideSell, "10", "7"))
		pnl, err := l.TradingPnL()
		if err != nil {
			t.Fatalf("pnl: %v", err)
		}
		if !pnl.Equal(d("20")) {
			t.Errorf("pnl = %s, want 20", pnl)
		}
	})

	t.Run("sell short counts as sell", func(t *testing.T) {
		l := NewAssetLedger("AAPL")
		l.AddTrade(trade("s", fix.SideSellShort, "2", "3"))
		pnl, _ := l.TradingPnL()
		if !pnl.Equal(d("6")) {
			t.Errorf("pnl = %s, want 6", pnl)
		}
	})

	t.Run("unknown side is fatal", func(t *testing.T) {
		l := NewAssetLedger("AAPL")
		l.AddTrade(trade("x", fix.Side("3"), "2", "3"))
		if _, err := l.TradingPnL(); !errors.Is(err, ErrUnknownSide) {
			t.Errorf("err = %v, want ErrUnknownSide", err)
		}
	})

	t.Run("volume", func(t *testing.T) {
		l := NewAssetLedger("AAPL")
		l.AddTrade(trade("b", fix.SideBuy, "10", "5"))
		l.AddTrade(trade("s", fix.SideSell, "3", "6"))
		if v := l.TradingVolume(); !v.Equal(d("68")) {
			t.Errorf("volume = %s, want 68", v)
		}
		// 68 / 13
		want := d("68").Div(d("13"))
		if v := l.VWAP(); !v.Equal(want) {
			t.Errorf("vwap = %s, want %s", v, want)
		}
	})

	t.Run("vwap without trades is zero", func(t *testing.T) {
		l := NewAssetLedger("AAPL")
		if v := l.VWAP(); !v.IsZero() {
			t.Errorf("vwap = %s, want 0", v)
		}
	})
}

func TestCancelFields(t *testing.T) {
	o := newOrder("4-1700", "BAC", fix.SideSellShort, "7")
	fm := o.CancelFields()
	want := fix.FieldMap{
		tag.Symbol:       "BAC",
		tag.Side:         "5",
		tag.OrderQty:     "7",
		tag.SecurityType: "CS",
		tag.OrigClOrdID:  "4-1700",
	}
	if len(fm) != len(want) {
		t.Fatalf("got %v", fm)
	}
	for k, v := range want {
		if fm[k] != v {
			t.Errorf("tag %d = %q, want %q", k, fm[k], v)
		}
	}
}
