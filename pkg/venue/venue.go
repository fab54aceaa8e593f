// Package venue is an in-process FIX counterparty. It accepts
// NewOrderSingle and OrderCancelRequest messages and answers with execution
// reports on its own goroutine, the way a remote engine would.
package venue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/fixledger/pkg/fix"
	"github.com/uhyunpark/fixledger/pkg/util"
)

var ErrQueueFull = errors.New("venue inbound queue full")

type Config struct {
	SenderCompID string // the venue's own comp id
	TargetCompID string // the client's comp id
	Symbols      []string

	FillProb   float64 // chance an accepted order fills right away
	RejectProb float64 // chance a valid order is rejected
	Latency    time.Duration
	QueueSize  int
	Seed       uint64
}

type restingOrder struct {
	clOrdID string
	orderID string
	symbol  string
	side    fix.Side
	qty     decimal.Decimal
	leaves  decimal.Decimal
	cum     decimal.Decimal
	price   decimal.Decimal
}

// Venue implements fix.Transmitter for the client side and drives the
// client's quickfix.Application with the replies, playing the part of both
// the engine and the counterparty.
type Venue struct {
	cfg   Config
	app   quickfix.Application
	log   *zap.SugaredLogger
	clock util.Clock

	session quickfix.SessionID // as seen from the client
	symbols map[string]bool
	inbox   chan *quickfix.Message

	mu       sync.Mutex
	loggedOn bool
	rng      *rand.Rand
	orders   map[string]*restingOrder // ClOrdID -> resting order
}

func New(cfg Config, app quickfix.Application, log *zap.SugaredLogger, clock util.Clock) *Venue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	syms := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		syms[s] = true
	}
	return &Venue{
		cfg:   cfg,
		app:   app,
		log:   log,
		clock: clock,
		session: fix.NewSessionID(cfg.TargetCompID, cfg.SenderCompID),
		symbols: syms,
		inbox:   make(chan *quickfix.Message, cfg.QueueSize),
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		orders:  make(map[string]*restingOrder),
	}
}

// Session is the client-side id of the venue session.
func (v *Venue) Session() quickfix.SessionID { return v.session }

// Send hands msg to the application's ToApp, as an engine would, and
// queues it for the venue. Inbound replies are never delivered from here.
func (v *Venue) Send(msg *quickfix.Message, session quickfix.SessionID) error {
	v.mu.Lock()
	on := v.loggedOn
	v.mu.Unlock()
	if !on || session != v.session {
		return fix.ErrSessionNotFound
	}
	if err := v.app.ToApp(msg, session); err != nil {
		return fmt.Errorf("not sent: %w", err)
	}
	select {
	case v.inbox <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run logs the session on, serves queued messages until ctx is done, then
// logs it out. Replies are delivered in order on this goroutine.
func (v *Venue) Run(ctx context.Context) {
	v.app.OnCreate(v.session)
	v.mu.Lock()
	v.loggedOn = true
	v.mu.Unlock()
	v.app.OnLogon(v.session)
	v.log.Infow("venue_logon", "session", v.session.String())

	defer func() {
		v.mu.Lock()
		v.loggedOn = false
		v.mu.Unlock()
		v.app.OnLogout(v.session)
		v.log.Infow("venue_logout", "session", v.session.String())
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-v.inbox:
			if v.cfg.Latency > 0 {
				select {
				case <-ctx.Done():
					return
				case <-v.clock.After(v.cfg.Latency):
				}
			}
			for _, reply := range v.handle(msg) {
				v.deliver(reply)
			}
		}
	}
}

// Pending returns the number of queued, unprocessed messages.
func (v *Venue) Pending() int { return len(v.inbox) }

// Resting returns the number of orders the venue holds open.
func (v *Venue) Resting() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.orders)
}

func (v *Venue) deliver(reply *quickfix.Message) {
	if rej := v.app.FromApp(reply, v.session); rej != nil {
		v.log.Warnw("venue_reply_rejected", "msg", fix.Debug(reply), "reason", rej.RejectReason(), "err", rej)
	}
}

func (v *Venue) handle(msg *quickfix.Message) []*quickfix.Message {
	switch fix.TypeOf(msg) {
	case fix.MsgTypeNewOrderSingle:
		return v.handleNewOrder(msg)
	case fix.MsgTypeOrderCancelRequest:
		return v.handleCancel(msg)
	default:
		r := v.reply(fix.MsgTypeReject)
		r.Body.SetString(tag.Text, fmt.Sprintf("unsupported msg type %s", fix.TypeOf(msg)))
		return []*quickfix.Message{r}
	}
}

func (v *Venue) handleNewOrder(msg *quickfix.Message) []*quickfix.Message {
	id := fix.GetOr(msg, tag.ClOrdID, "")
	symbol := fix.GetOr(msg, tag.Symbol, "")
	side := fix.Side(fix.GetOr(msg, tag.Side, ""))

	qty, qerr := fix.Decimal(msg, tag.OrderQty)
	price, perr := fix.Decimal(msg, tag.Price)

	// malformed requests are rejected without echoing the symbol
	switch {
	case !v.symbols[symbol]:
		return []*quickfix.Message{v.rejectBare(id, "unknown symbol "+symbol)}
	case qerr != nil || !qty.IsPositive():
		return []*quickfix.Message{v.rejectBare(id, "invalid order qty")}
	case perr != nil:
		return []*quickfix.Message{v.rejectBare(id, "invalid price")}
	}

	o := &restingOrder{
		clOrdID: id,
		orderID: uuid.NewString(),
		symbol:  symbol,
		side:    side,
		qty:     qty,
		leaves:  qty,
		cum:     decimal.Zero,
		price:   price,
	}
	if fix.OrdType(fix.GetOr(msg, tag.OrdType, "")) == fix.OrdTypeMarket || price.IsZero() {
		o.price = decimal.NewFromFloat(v.roll()*100 + 1).Round(2)
	}

	if v.roll() < v.cfg.RejectProb {
		r := v.execReport(o, fix.OrdStatusRejected, decimal.Zero)
		r.Body.SetString(tag.Text, "order rejected by venue")
		return []*quickfix.Message{r}
	}

	out := []*quickfix.Message{v.execReport(o, fix.OrdStatusNew, decimal.Zero)}
	if v.roll() >= v.cfg.FillProb {
		v.mu.Lock()
		v.orders[id] = o
		v.mu.Unlock()
		return out
	}

	// fill in up to two slices
	if first := qty.Div(decimal.NewFromInt(2)).Floor(); first.IsPositive() && first.LessThan(qty) && v.roll() < 0.5 {
		o.leaves = o.leaves.Sub(first)
		o.cum = o.cum.Add(first)
		out = append(out, v.execReport(o, fix.OrdStatusPartiallyFilled, first))
	}
	last := o.leaves
	o.cum = o.cum.Add(last)
	o.leaves = decimal.Zero
	out = append(out, v.execReport(o, fix.OrdStatusFilled, last))
	return out
}

func (v *Venue) handleCancel(msg *quickfix.Message) []*quickfix.Message {
	cancelID := fix.GetOr(msg, tag.ClOrdID, "")
	origID := fix.GetOr(msg, tag.OrigClOrdID, "")

	v.mu.Lock()
	o, ok := v.orders[origID]
	if ok {
		delete(v.orders, origID)
	}
	v.mu.Unlock()

	if !ok {
		r := v.reply(fix.MsgTypeOrderCancelReject)
		r.Body.SetString(tag.ClOrdID, cancelID)
		r.Body.SetString(tag.OrigClOrdID, origID)
		r.Body.SetString(tag.OrdStatus, string(fix.OrdStatusRejected))
		r.Body.SetString(tag.Text, "unknown order")
		return []*quickfix.Message{r}
	}

	r := v.execReport(o, fix.OrdStatusCanceled, decimal.Zero)
	r.Body.SetString(tag.ClOrdID, cancelID)
	r.Body.SetString(tag.OrigClOrdID, origID)
	r.Body.SetString(tag.LeavesQty, "0")
	return []*quickfix.Message{r}
}

func (v *Venue) reply(mt fix.MsgType) *quickfix.Message {
	m := fix.NewMessage(mt)
	m.Header.SetString(tag.SenderCompID, v.cfg.SenderCompID)
	m.Header.SetString(tag.TargetCompID, v.cfg.TargetCompID)
	m.Header.SetField(tag.SendingTime, &quickfix.FIXUTCTimestamp{Time: v.clock.Now().UTC()})
	return m
}

// rejectBare is an execution report that carries no symbol or side.
func (v *Venue) rejectBare(id, text string) *quickfix.Message {
	r := v.reply(fix.MsgTypeExecutionReport)
	r.Body.SetString(tag.ClOrdID, id)
	r.Body.SetString(tag.OrderID, uuid.NewString())
	r.Body.SetString(tag.ExecID, uuid.NewString())
	r.Body.SetString(tag.ExecType, string(fix.OrdStatusRejected))
	r.Body.SetString(tag.OrdStatus, string(fix.OrdStatusRejected))
	r.Body.SetString(tag.Text, text)
	return r
}

func (v *Venue) execReport(o *restingOrder, status fix.OrdStatus, lastQty decimal.Decimal) *quickfix.Message {
	r := v.reply(fix.MsgTypeExecutionReport)
	r.Body.SetString(tag.ClOrdID, o.clOrdID)
	r.Body.SetString(tag.OrderID, o.orderID)
	r.Body.SetString(tag.ExecID, uuid.NewString())
	r.Body.SetString(tag.ExecType, string(status))
	r.Body.SetString(tag.OrdStatus, string(status))
	r.Body.SetString(tag.Symbol, o.symbol)
	r.Body.SetString(tag.Side, string(o.side))
	r.Body.SetString(tag.OrderQty, o.qty.String())
	r.Body.SetString(tag.LeavesQty, o.leaves.String())
	r.Body.SetString(tag.CumQty, o.cum.String())
	if lastQty.IsPositive() {
		fix.SetDecimal(r, tag.LastQty, lastQty)
		fix.SetDecimal(r, tag.LastPx, o.price)
		fix.SetDecimal(r, tag.AvgPx, o.price)
	}
	return r
}

func (v *Venue) roll() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rng.Float64()
}
