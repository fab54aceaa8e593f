package session

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/fixledger/pkg/app/core/book"
	"github.com/uhyunpark/fixledger/pkg/app/core/ledger"
	"github.com/uhyunpark/fixledger/pkg/fix"
	"github.com/uhyunpark/fixledger/pkg/util"
)

// Config controls the demo trading session.
type Config struct {
	Orders    int           // new orders to send before draining
	Threshold float64       // chance each step sends rather than cancels
	Interval  time.Duration // pause between steps
	Drain     time.Duration // wait for outstanding reports before stats
}

func DefaultConfig() Config {
	return Config{
		Orders:    10,
		Threshold: 0.8,
		Interval:  100 * time.Millisecond,
		Drain:     15 * time.Second,
	}
}

// Sender is the outbound half of the dispatcher.
type Sender interface {
	SendNewOrder(o *ledger.Order) error
	CancelOrder(fields fix.FieldMap) (string, error)
}

// Book is what the session reads from the trading book.
type Book interface {
	Symbols() []string
	RandomOpenOrder(rng *rand.Rand) *ledger.Order
	Stats() (book.Stats, error)
}

// Result summarizes one run.
type Result struct {
	Sent       int
	SendErrors int
	Cancels    int
	Stats      book.Stats
}

// Session alternates between sending synthetic orders and canceling random
// open ones, then waits for the venue to settle and reports book stats.
type Session struct {
	cfg    Config
	sender Sender
	book   Book
	gen    *OrderGenerator
	rng    *rand.Rand
	clock  util.Clock
	log    *zap.SugaredLogger
}

func New(cfg Config, sender Sender, b Book, rng *rand.Rand, clock util.Clock, log *zap.SugaredLogger) *Session {
	return &Session{
		cfg:    cfg,
		sender: sender,
		book:   b,
		gen:    NewOrderGenerator(b.Symbols(), rng),
		rng:    rng,
		clock:  clock,
		log:    log,
	}
}

// Run drives the session until Orders sends were attempted or ctx ends.
// Cancellation skips the drain but still reports stats.
func (s *Session) Run(ctx context.Context) (Result, error) {
	var res Result
	s.log.Infow("session_started", "orders", s.cfg.Orders, "threshold", s.cfg.Threshold)

loop:
	for res.Sent+res.SendErrors < s.cfg.Orders {
		if s.rng.Float64() <= s.cfg.Threshold {
			if err := s.sender.SendNewOrder(s.gen.Next()); err != nil {
				res.SendErrors++
				s.log.Warnw("session_send_failed", "err", err)
			} else {
				res.Sent++
			}
		} else if o := s.book.RandomOpenOrder(s.rng); o != nil {
			if _, err := s.sender.CancelOrder(o.CancelFields()); err != nil {
				s.log.Warnw("session_cancel_failed", "cl_ord_id", o.ID, "err", err)
			} else {
				res.Cancels++
			}
		}

		select {
		case <-ctx.Done():
			break loop
		case <-s.clock.After(s.cfg.Interval):
		}
	}

	if ctx.Err() == nil && s.cfg.Drain > 0 {
		s.log.Infow("session_draining", "wait", s.cfg.Drain.String())
		select {
		case <-ctx.Done():
		case <-s.clock.After(s.cfg.Drain):
		}
	}

	st, err := s.book.Stats()
	if err != nil {
		return res, err
	}
	res.Stats = st
	s.log.Infow("session_stats",
		"sent", res.Sent,
		"send_errors", res.SendErrors,
		"cancels", res.Cancels,
		"trade_volume_usd", st.Volume.StringFixed(2),
		"pnl_usd", st.PnL.StringFixed(2),
		"vwap", st.VWAP,
	)
	return res, nil
}
