package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/fixledger/pkg/app/core/book"
	"github.com/uhyunpark/fixledger/pkg/app/core/ledger"
	"github.com/uhyunpark/fixledger/pkg/client"
	"github.com/uhyunpark/fixledger/pkg/fix"
	"github.com/uhyunpark/fixledger/pkg/util"
)

func testConfig(fill, reject float64) Config {
	return Config{
		SenderCompID: "ENGINE",
		TargetCompID: "CLIENT",
		Symbols:      []string{"AAPL", "MSFT"},
		FillProb:     fill,
		RejectProb:   reject,
		Seed:         7,
	}
}

func newOrderMsg(id, symbol, qty string) *quickfix.Message {
	m := fix.NewMessage(fix.MsgTypeNewOrderSingle)
	m.Body.SetString(tag.ClOrdID, id)
	m.Body.SetString(tag.Symbol, symbol)
	m.Body.SetString(tag.Side, string(fix.SideBuy))
	m.Body.SetString(tag.OrdType, string(fix.OrdTypeLimit))
	m.Body.SetString(tag.Price, "10")
	m.Body.SetString(tag.OrderQty, qty)
	return m
}

func TestHandleNewOrder_FillsFullQuantity(t *testing.T) {
	v := New(testConfig(1, 0), nil, zap.NewNop().Sugar(), util.RealClock{})
	for i := 0; i < 20; i++ {
		replies := v.handle(newOrderMsg("1", "AAPL", "9"))
		if got := fix.GetOr(replies[0], tag.OrdStatus, ""); got != string(fix.OrdStatusNew) {
			t.Fatalf("first reply status = %s", got)
		}
		total := decimal.Zero
		for _, r := range replies[1:] {
			total = total.Add(decimal.RequireFromString(fix.GetOr(r, tag.LastQty, "0")))
		}
		last := replies[len(replies)-1]
		if fix.GetOr(last, tag.OrdStatus, "") != string(fix.OrdStatusFilled) {
			t.Fatalf("last reply status = %s", fix.GetOr(last, tag.OrdStatus, ""))
		}
		if !total.Equal(decimal.NewFromInt(9)) {
			t.Fatalf("filled %s, want 9", total)
		}
		if fix.GetOr(last, tag.LeavesQty, "") != "0" {
			t.Errorf("leaves = %s", fix.GetOr(last, tag.LeavesQty, ""))
		}
	}
}

func TestHandleNewOrder_UnknownSymbolRejectedBare(t *testing.T) {
	v := New(testConfig(1, 0), nil, zap.NewNop().Sugar(), util.RealClock{})
	replies := v.handle(newOrderMsg("1", "TSLA", "1"))
	if len(replies) != 1 {
		t.Fatalf("replies = %d", len(replies))
	}
	r := replies[0]
	if fix.GetOr(r, tag.OrdStatus, "") != string(fix.OrdStatusRejected) || fix.Has(r, tag.Symbol) || fix.Has(r, tag.Side) {
		t.Errorf("reject = %s", fix.Debug(r))
	}
}

func TestHandleCancel(t *testing.T) {
	v := New(testConfig(0, 0), nil, zap.NewNop().Sugar(), util.RealClock{})
	v.handle(newOrderMsg("1", "AAPL", "5"))
	if v.Resting() != 1 {
		t.Fatalf("resting = %d, want 1", v.Resting())
	}

	cancel := fix.NewMessage(fix.MsgTypeOrderCancelRequest)
	cancel.Body.SetString(tag.ClOrdID, "2")
	cancel.Body.SetString(tag.OrigClOrdID, "1")
	r := v.handle(cancel)[0]
	if fix.GetOr(r, tag.OrdStatus, "") != string(fix.OrdStatusCanceled) || fix.GetOr(r, tag.OrigClOrdID, "") != "1" {
		t.Errorf("cancel reply = %s", fix.Debug(r))
	}

	r = v.handle(cancel)[0]
	if fix.TypeOf(r) != fix.MsgTypeOrderCancelReject {
		t.Errorf("second cancel reply = %s", fix.Debug(r))
	}
}

func TestSendRequiresLogon(t *testing.T) {
	v := New(testConfig(1, 0), nil, zap.NewNop().Sugar(), util.RealClock{})
	if err := v.Send(newOrderMsg("1", "AAPL", "1"), v.Session()); !errors.Is(err, fix.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

type harness struct {
	book  *book.TradingBook
	d     *client.Dispatcher
	venue *Venue
}

func startHarness(t *testing.T, cfg Config, symbols []string) *harness {
	t.Helper()
	b, err := book.New("venue-test", symbols)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	lazy := &lazyTransmitter{}
	d, err := client.New(lazy, b)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	v := New(cfg, d, zap.NewNop().Sugar(), util.RealClock{})
	lazy.v = v

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		v.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitFor(t, func() bool { _, ok := d.Session(); return ok })
	return &harness{book: b, d: d, venue: v}
}

// lazyTransmitter breaks the construction cycle between dispatcher and venue.
type lazyTransmitter struct{ v *Venue }

func (l *lazyTransmitter) Send(msg *quickfix.Message, s quickfix.SessionID) error { return l.v.Send(msg, s) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func order(symbol string, qty int64) *ledger.Order {
	return &ledger.Order{
		Symbol:   symbol,
		Side:     fix.SideBuy,
		Qty:      decimal.NewFromInt(qty),
		Type:     fix.OrdTypeLimit,
		Security: fix.SecurityTypeCommonStock,
		Price:    decimal.NewFromInt(10),
	}
}

func TestRoundTrip_AllOrdersFill(t *testing.T) {
	h := startHarness(t, testConfig(1, 0), []string{"AAPL", "MSFT"})
	for i := 0; i < 10; i++ {
		sym := "AAPL"
		if i%2 == 1 {
			sym = "MSFT"
		}
		if err := h.d.SendNewOrder(order(sym, int64(i+1))); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	waitFor(t, func() bool {
		a, _ := h.book.Trades("AAPL")
		m, _ := h.book.Trades("MSFT")
		c := h.book.OpenOrderCount()
		return len(a)+len(m) == 10 && c["AAPL"]+c["MSFT"] == 0
	})
	// every order traded at its limit price of 10
	vol, _ := h.book.Volume()
	if !vol.Equal(decimal.NewFromInt(550)) {
		t.Errorf("volume = %s, want 550", vol)
	}
}

func TestRoundTrip_CancelRestingOrders(t *testing.T) {
	h := startHarness(t, testConfig(0, 0), []string{"AAPL", "MSFT"})
	for i := 0; i < 4; i++ {
		if err := h.d.SendNewOrder(order("AAPL", 3)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	waitFor(t, func() bool { return h.venue.Resting() == 4 })

	open, _ := h.book.OpenOrders("AAPL")
	for _, o := range open {
		if _, err := h.d.CancelOrder(o.CancelFields()); err != nil {
			t.Fatalf("cancel: %v", err)
		}
	}
	waitFor(t, func() bool { return h.book.OpenOrderCount()["AAPL"] == 0 })
}

func TestRoundTrip_UnknownSymbolRemovedByIDScan(t *testing.T) {
	// the book trades TSLA but the venue does not list it
	h := startHarness(t, testConfig(1, 0), []string{"AAPL", "TSLA"})
	if err := h.d.SendNewOrder(order("TSLA", 1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := h.d.SendNewOrder(order("AAPL", 1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, func() bool {
		c := h.book.OpenOrderCount()
		return c["TSLA"] == 0 && c["AAPL"] == 0
	})
	trades, _ := h.book.Trades("TSLA")
	if len(trades) != 0 {
		t.Errorf("rejected order produced trades: %v", trades)
	}
}

// toAppRecorder implements only the ToApp callback; the rest of the
// application is never reached from Send.
type toAppRecorder struct {
	quickfix.Application
	calls int
	err   error
}

func (r *toAppRecorder) ToApp(*quickfix.Message, quickfix.SessionID) error {
	r.calls++
	return r.err
}

func TestSendPassesThroughToApp(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		pending int
	}{
		{"accepted", nil, 1},
		{"vetoed", quickfix.ErrDoNotSend, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &toAppRecorder{err: tt.err}
			v := New(testConfig(1, 0), app, zap.NewNop().Sugar(), util.RealClock{})
			v.loggedOn = true

			err := v.Send(newOrderMsg("1", "AAPL", "1"), v.Session())
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if app.calls != 1 || v.Pending() != tt.pending {
				t.Errorf("ToApp calls = %d, pending = %d", app.calls, v.Pending())
			}
		})
	}
}
