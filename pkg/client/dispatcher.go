package client

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"

	"github.com/uhyunpark/fixledger/pkg/app/core/book"
	"github.com/uhyunpark/fixledger/pkg/app/core/ledger"
	"github.com/uhyunpark/fixledger/pkg/fix"
	"github.com/uhyunpark/fixledger/pkg/metrics"
	"github.com/uhyunpark/fixledger/pkg/storage"
	"github.com/uhyunpark/fixledger/pkg/util"
)

// ErrUnhandled wraps the reject returned for message types and order
// statuses that carry no reconciliation action.
var ErrUnhandled = errors.New("unhandled message")

// Report describes one reconciled execution report.
type Report struct {
	Route fix.Route
	Event *ledger.OrderUpdateEvent
	Trade *ledger.Trade // set for fills only
	Err   error         // joined reconciliation errors, if any
}

// openOrderCounter is implemented by reconcilers that can report their
// open order counts for the gauge.
type openOrderCounter interface {
	OpenOrderCount() map[string]int
}

// symbolSet is implemented by reconcilers that know which symbols they
// can track. Orders for other symbols are never sent.
type symbolSet interface {
	HasSymbol(symbol string) bool
}

// Dispatcher is the quickfix application: it translates inbound messages
// into trading book mutations and builds outbound orders and cancels.
type Dispatcher struct {
	tx      fix.Transmitter
	rec     Reconciler
	log     *zap.SugaredLogger
	clock   util.Clock
	journal storage.Journal
	metrics bool

	counter atomic.Uint64

	sessMu  sync.RWMutex
	session quickfix.SessionID

	// recMu spans transmit+register on send and every inbound mutation, so
	// a report can never be reconciled before its order is registered.
	recMu sync.Mutex

	// OnReport is invoked after each reconciled execution report. Set it
	// before the session starts.
	OnReport func(Report)
}

type Option func(*Dispatcher)

func WithLogger(l *zap.SugaredLogger) Option { return func(d *Dispatcher) { d.log = l } }
func WithClock(c util.Clock) Option          { return func(d *Dispatcher) { d.clock = c } }
func WithJournal(j storage.Journal) Option   { return func(d *Dispatcher) { d.journal = j } }
func WithMetrics(on bool) Option             { return func(d *Dispatcher) { d.metrics = on } }

func New(tx fix.Transmitter, rec Reconciler, opts ...Option) (*Dispatcher, error) {
	if tx == nil {
		return nil, errors.New("dispatcher: nil transmitter")
	}
	if rec == nil {
		return nil, errors.New("dispatcher: nil reconciler")
	}
	switch h := rec.(type) {
	case Hooks:
		if err := h.Validate(); err != nil {
			return nil, err
		}
	case *Hooks:
		if h == nil {
			return nil, fmt.Errorf("%w: nil hooks", ErrInvalidHooks)
		}
		if err := h.Validate(); err != nil {
			return nil, err
		}
	}
	d := &Dispatcher{
		tx:      tx,
		rec:     rec,
		log:     zap.NewNop().Sugar(),
		clock:   util.RealClock{},
		journal: storage.NewNopJournal(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// NextOrderID returns a fresh ClOrdID: a process-wide counter joined with
// the current UTC time in microseconds. The counter alone keeps ids unique.
func (d *Dispatcher) NextOrderID() string {
	n := d.counter.Add(1)
	now := d.clock.Now().UTC()
	return fmt.Sprintf("%d-%d.%06d", n, now.Unix(), now.Nanosecond()/1000)
}

// Session returns the active session, if any.
func (d *Dispatcher) Session() (quickfix.SessionID, bool) {
	d.sessMu.RLock()
	defer d.sessMu.RUnlock()
	return d.session, d.session != quickfix.SessionID{}
}

// ============================================================================
// quickfix.Application
// ============================================================================

func (d *Dispatcher) OnCreate(s quickfix.SessionID) {
	d.log.Infow("session_created", "session", s.String())
}

func (d *Dispatcher) OnLogon(s quickfix.SessionID) {
	d.sessMu.Lock()
	d.session = s
	d.sessMu.Unlock()
	d.log.Infow("logon", "session", s.String())
}

func (d *Dispatcher) OnLogout(s quickfix.SessionID) {
	d.sessMu.Lock()
	if d.session == s {
		d.session = quickfix.SessionID{}
	}
	d.sessMu.Unlock()
	d.log.Infow("logout", "session", s.String())
}

func (d *Dispatcher) ToAdmin(msg *quickfix.Message, s quickfix.SessionID) {
	d.log.Debugw("to_admin", "session", s.String(), "msg_type", fix.TypeOf(msg).String())
}

// ToApp is called by the engine just before an outbound message is
// serialized. Everything the dispatcher sends is already journaled.
func (d *Dispatcher) ToApp(msg *quickfix.Message, s quickfix.SessionID) error {
	d.log.Debugw("to_app", "session", s.String(), "msg_type", fix.TypeOf(msg).String(),
		"cl_ord_id", fix.GetOr(msg, tag.ClOrdID, ""))
	return nil
}

func (d *Dispatcher) FromAdmin(msg *quickfix.Message, s quickfix.SessionID) quickfix.MessageRejectError {
	d.log.Debugw("from_admin", "session", s.String(), "msg", fix.Debug(msg))
	return nil
}

// FromApp reconciles one inbound application message. Book errors are
// logged and swallowed; unclassifiable or malformed messages are rejected
// back to the engine.
func (d *Dispatcher) FromApp(msg *quickfix.Message, s quickfix.SessionID) quickfix.MessageRejectError {
	err := d.dispatch(msg, s)
	if err == nil {
		return nil
	}
	var rej quickfix.MessageRejectError
	if errors.As(err, &rej) {
		return rej
	}
	return quickfix.UnsupportedMessageType()
}

func (d *Dispatcher) dispatch(msg *quickfix.Message, s quickfix.SessionID) error {
	mt := fix.TypeOf(msg)
	text := fix.Debug(msg)
	d.log.Debugw("from_app", "session", s.String(), "msg", text)
	d.record(storage.Inbound, s, mt, text)
	if d.metrics {
		metrics.InboundMessagesTotal.WithLabelValues(mt.String()).Inc()
	}

	route := fix.Classify(msg)
	switch route.Kind {
	case fix.KindExecutionReport:
		if d.metrics {
			metrics.ExecutionReportsTotal.WithLabelValues(route.Status.String()).Inc()
		}
		if route.Action == fix.ActionUnhandled {
			return d.unhandled(mt, route)
		}
		return d.handleExecReport(msg, text, route)
	case fix.KindReject:
		d.log.Warnw("reject", "text", fix.GetOr(msg, tag.Text, "Nil"))
		return nil
	case fix.KindOrderCancelReject:
		d.log.Warnw("order_cancel_reject",
			"orig_cl_ord_id", fix.GetOr(msg, tag.OrigClOrdID, ""),
			"text", fix.GetOr(msg, tag.Text, "Nil"))
		return nil
	default:
		return d.unhandled(mt, route)
	}
}

func (d *Dispatcher) unhandled(mt fix.MsgType, route fix.Route) error {
	if d.metrics {
		metrics.UnhandledMessagesTotal.WithLabelValues(mt.String(), route.Status.String()).Inc()
	}
	d.log.Warnw("unhandled_message", "msg_type", mt.String(), "status", route.Status.String())
	if route.Kind != fix.KindExecutionReport {
		return fmt.Errorf("%w: msg type %s: %w", ErrUnhandled, mt, quickfix.UnsupportedMessageType())
	}
	if route.Status == "" {
		return fmt.Errorf("%w: execution report without status: %w", ErrUnhandled, quickfix.RequiredTagMissing(tag.OrdStatus))
	}
	return fmt.Errorf("%w: execution report status %s: %w", ErrUnhandled, route.Status, quickfix.ValueIsIncorrect(tag.OrdStatus))
}

func (d *Dispatcher) handleExecReport(msg *quickfix.Message, text string, route fix.Route) error {
	ev, err := d.parseExecReport(msg, route.Status)
	if err != nil {
		d.log.Errorw("exec_report_malformed", "err", err, "msg", text)
		return err
	}

	rep := Report{Route: route, Event: ev}
	if route.Action == fix.ActionPartialFill || route.Action == fix.ActionFill {
		rep.Trade = &ledger.Trade{
			ID:        ev.ID,
			Timestamp: ev.Timestamp,
			Symbol:    ev.Symbol,
			Side:      ev.Side,
			Qty:       ev.Qty,
			Price:     ev.Price,
		}
	}

	d.recMu.Lock()
	var errs []error
	switch route.Action {
	case fix.ActionUpdate:
		errs = append(errs, d.apply("update", d.rec.UpdateTransaction, ev))
	case fix.ActionPartialFill:
		errs = append(errs, d.apply("add", d.rec.LogTransaction, rep.Trade))
		errs = append(errs, d.apply("update", d.rec.UpdateTransaction, ev))
	case fix.ActionFill:
		errs = append(errs, d.apply("add", d.rec.LogTransaction, rep.Trade))
		errs = append(errs, d.apply("remove", d.rec.EraseTransaction, ev))
	case fix.ActionRemove:
		errs = append(errs, d.apply("remove", d.rec.EraseTransaction, ev))
	}
	d.publishOpenOrders()
	d.recMu.Unlock()

	rep.Err = errors.Join(errs...)
	d.log.Infow("exec_report",
		"cl_ord_id", ev.ID,
		"status", ev.Status.String(),
		"action", route.Action.String(),
		"symbol", ev.Symbol,
		"last_qty", ev.Qty.String(),
		"last_px", ev.Price.String(),
	)
	if d.OnReport != nil {
		d.OnReport(rep)
	}
	return nil
}

// parseExecReport extracts the order update carried by an execution
// report. A Canceled report names the canceled order in OrigClOrdID; its
// own ClOrdID belongs to the cancel request.
func (d *Dispatcher) parseExecReport(msg *quickfix.Message, status fix.OrdStatus) (*ledger.OrderUpdateEvent, error) {
	id := fix.GetOr(msg, tag.ClOrdID, "")
	if status == fix.OrdStatusCanceled {
		if orig := fix.GetOr(msg, tag.OrigClOrdID, ""); orig != "" {
			id = orig
		}
	}
	if id == "" {
		return nil, fmt.Errorf("execution report without ClOrdID: %w", quickfix.RequiredTagMissing(tag.ClOrdID))
	}

	qty, err := fix.Decimal(msg, tag.LastQty)
	if err != nil {
		return nil, fmt.Errorf("last qty: %w", err)
	}
	px, err := fix.Decimal(msg, tag.LastPx)
	if err != nil {
		return nil, fmt.Errorf("last px: %w", err)
	}

	ts := d.clock.Now().UTC()
	if fix.Has(msg, tag.SendingTime) {
		if t, err := fix.Time(msg, tag.SendingTime); err == nil {
			ts = t
		} else {
			d.log.Debugw("sending_time_unparsed", "value", fix.GetOr(msg, tag.SendingTime, ""), "err", err)
		}
	}

	return &ledger.OrderUpdateEvent{
		ID:        id,
		Timestamp: ts,
		Qty:       qty,
		Price:     px,
		Status:    status,
		Symbol:    fix.GetOr(msg, tag.Symbol, ""),
		Side:      fix.Side(fix.GetOr(msg, tag.Side, "")),
	}, nil
}

func (d *Dispatcher) apply(op string, fn func(ledger.Transaction) error, tx ledger.Transaction) error {
	if err := fn(tx); err != nil {
		if d.metrics {
			metrics.ReconcileErrorsTotal.WithLabelValues(op).Inc()
		}
		d.log.Errorw("reconcile_failed", "op", op, "source", "from_app", "cl_ord_id", tx.TxID(), "symbol", tx.TxSymbol(), "err", err)
		return fmt.Errorf("%s %s: %w", op, tx.TxID(), err)
	}
	return nil
}

func (d *Dispatcher) publishOpenOrders() {
	if !d.metrics {
		return
	}
	if c, ok := d.rec.(openOrderCounter); ok {
		metrics.SetOpenOrders(c.OpenOrderCount())
	}
}

// ============================================================================
// Outbound
// ============================================================================

// SendNewOrder transmits o as a NewOrderSingle. Only after the transport
// accepts it is o given its ClOrdID, marked PendingNew and registered with
// the book. On error nothing is registered and o is left untouched. Orders
// for a symbol the book does not track fail with book.ErrUnknownSymbol
// before anything is sent.
func (d *Dispatcher) SendNewOrder(o *ledger.Order) error {
	d.recMu.Lock()
	defer d.recMu.Unlock()

	if set, ok := d.rec.(symbolSet); ok && !set.HasSymbol(o.Symbol) {
		err := fmt.Errorf("send new order: %w %q", book.ErrUnknownSymbol, o.Symbol)
		d.sendFailed(fix.MsgTypeNewOrderSingle, err)
		return err
	}

	s, ok := d.Session()
	if !ok {
		d.sendFailed(fix.MsgTypeNewOrderSingle, fix.ErrSessionNotFound)
		return fmt.Errorf("send new order: %w", fix.ErrSessionNotFound)
	}

	id := d.NextOrderID()
	now := d.clock.Now().UTC()

	msg := fix.NewMessage(fix.MsgTypeNewOrderSingle)
	msg.Body.SetString(tag.ClOrdID, id)
	msg.Body.SetString(tag.TimeInForce, fix.TimeInForceGoodTillCancel)
	msg.Body.SetString(tag.SecurityType, string(o.Security))
	msg.Body.SetString(tag.Symbol, o.Symbol)
	msg.Body.SetString(tag.Side, string(o.Side))
	msg.Body.SetString(tag.OrdType, string(o.Type))
	fix.SetDecimal(msg, tag.Price, o.Price)
	fix.SetDecimal(msg, tag.OrderQty, o.Qty)
	msg.Body.SetString(tag.HandlInst, fix.HandlInstAutomatedPrivate)
	fix.SetTime(msg, tag.TransactTime, now)

	// rendered before the handoff; the transport owns msg afterwards
	text := fix.Debug(msg)
	if err := d.tx.Send(msg, s); err != nil {
		d.sendFailed(fix.MsgTypeNewOrderSingle, err)
		return fmt.Errorf("send new order: %w", err)
	}
	d.sent(fix.MsgTypeNewOrderSingle, text, s)

	o.ID = id
	o.Status = fix.OrdStatusPendingNew
	o.Timestamp = now
	if o.OrigQty.IsZero() {
		o.OrigQty = o.Qty
	}
	if err := d.rec.LogTransaction(o); err != nil {
		if d.metrics {
			metrics.ReconcileErrorsTotal.WithLabelValues("add").Inc()
		}
		d.log.Errorw("reconcile_failed", "op", "add", "source", "send_new_order", "cl_ord_id", id, "err", err)
		return fmt.Errorf("register order %s: %w", id, err)
	}
	d.publishOpenOrders()
	d.log.Infow("order_sent", "cl_ord_id", id, "symbol", o.Symbol, "side", o.Side.String(),
		"qty", o.Qty.String(), "type", o.Type.String(), "price", o.Price.String())
	return nil
}

// CancelOrder transmits an OrderCancelRequest built from fields (usually
// Order.CancelFields) under a fresh ClOrdID, which it returns. The book is
// not touched; the Canceled report removes the order. Fields naming a
// header tag, ClOrdID or TransactTime fail with fix.ErrReservedTag.
func (d *Dispatcher) CancelOrder(fields fix.FieldMap) (string, error) {
	msg := fix.NewMessage(fix.MsgTypeOrderCancelRequest)
	if err := fix.SetFields(msg, fields, tag.ClOrdID, tag.TransactTime); err != nil {
		d.sendFailed(fix.MsgTypeOrderCancelRequest, err)
		return "", fmt.Errorf("cancel order: %w", err)
	}

	s, ok := d.Session()
	if !ok {
		d.sendFailed(fix.MsgTypeOrderCancelRequest, fix.ErrSessionNotFound)
		return "", fmt.Errorf("cancel order: %w", fix.ErrSessionNotFound)
	}

	id := d.NextOrderID()
	msg.Body.SetString(tag.ClOrdID, id)
	fix.SetTime(msg, tag.TransactTime, d.clock.Now().UTC())

	text := fix.Debug(msg)
	if err := d.tx.Send(msg, s); err != nil {
		d.sendFailed(fix.MsgTypeOrderCancelRequest, err)
		return "", fmt.Errorf("cancel order: %w", err)
	}
	d.sent(fix.MsgTypeOrderCancelRequest, text, s)
	d.log.Infow("cancel_sent", "cl_ord_id", id, "orig_cl_ord_id", fields[tag.OrigClOrdID])
	return id, nil
}

func (d *Dispatcher) sent(mt fix.MsgType, text string, s quickfix.SessionID) {
	if d.metrics {
		metrics.SentMessagesTotal.WithLabelValues(mt.String()).Inc()
	}
	d.record(storage.Outbound, s, mt, text)
}

func (d *Dispatcher) sendFailed(mt fix.MsgType, err error) {
	if d.metrics {
		metrics.SendFailuresTotal.WithLabelValues(mt.String()).Inc()
	}
	d.log.Warnw("send_failed", "msg_type", mt.String(), "err", err)
}

func (d *Dispatcher) record(dir storage.Direction, s quickfix.SessionID, mt fix.MsgType, text string) {
	_, err := d.journal.Append(storage.Entry{
		Time:      d.clock.Now().UTC(),
		Direction: dir,
		Session:   s.String(),
		MsgType:   string(mt),
		Text:      text,
	})
	if err != nil {
		d.log.Warnw("journal_append_failed", "err", err)
	}
}

var _ quickfix.Application = (*Dispatcher)(nil)
