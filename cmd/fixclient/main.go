package main

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"

	"github.com/uhyunpark/fixledger/params"
	"github.com/uhyunpark/fixledger/pkg/api"
	"github.com/uhyunpark/fixledger/pkg/app/core/book"
	"github.com/uhyunpark/fixledger/pkg/app/session"
	"github.com/uhyunpark/fixledger/pkg/client"
	"github.com/uhyunpark/fixledger/pkg/fix"
	"github.com/uhyunpark/fixledger/pkg/metrics"
	"github.com/uhyunpark/fixledger/pkg/storage"
	"github.com/uhyunpark/fixledger/pkg/util"
	"github.com/uhyunpark/fixledger/pkg/venue"
)

// venueLink lets the dispatcher be built before the venue it sends to.
type venueLink struct{ v *venue.Venue }

func (l *venueLink) Send(msg *quickfix.Message, s quickfix.SessionID) error {
	return l.v.Send(msg, s)
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("fixclient: %v", err)
	}
}

func run() error {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile, cfg.Verbose)
	} else {
		logger, err = util.NewLogger(cfg.Verbose)
	}
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile, "verbose", cfg.Verbose)

	metrics.InitMetrics()

	journal, err := openJournal(cfg.Journal)
	if err != nil {
		sugar.Errorw("journal_open_failed", "kind", cfg.Journal.Kind, "path", cfg.Journal.Path, "err", err)
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	// ---- Trading book ----
	tb, err := book.New(cfg.Book.Name, cfg.Book.Symbols)
	if err != nil {
		sugar.Errorw("book_init_failed", "err", err)
		return fmt.Errorf("trading book: %w", err)
	}

	// ---- FIX application ----
	link := &venueLink{}
	var tx fix.Transmitter = link
	if cfg.Session.Settings != "" {
		tx = fix.Engine{}
	}
	dispatcher, err := client.New(tx, tb,
		client.WithLogger(sugar.Named("client")),
		client.WithJournal(journal),
		client.WithMetrics(true),
	)
	if err != nil {
		sugar.Errorw("dispatcher_init_failed", "err", err)
		return fmt.Errorf("dispatcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	var apiServer *api.Server
	apiErr := make(chan error, 1)
	if cfg.API.Addr != "" {
		apiServer = api.NewServer(tb, dispatcher, journal, sugar.Named("api"), cfg.API.Origins)

		// Hook dispatcher to API server: push every reconciled report
		dispatcher.OnReport = apiServer.BroadcastReport

		go func() {
			if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
				sugar.Errorw("api_server_failed", "err", err)
				apiErr <- err
				stop()
			}
		}()
	}

	// ---- Counterparty ----
	counterpartyDone, err := startCounterparty(ctx, cfg, dispatcher, link, sugar)
	if err != nil {
		sugar.Errorw("counterparty_start_failed", "err", err)
		return err
	}

	if waitForLogon(ctx, dispatcher) {
		runSession(ctx, cfg, dispatcher, tb, sugar)

		// Keep serving the API until interrupted
		if apiServer != nil && ctx.Err() == nil {
			sugar.Infow("api_serving_until_interrupt", "addr", cfg.API.Addr)
			<-ctx.Done()
		}
	} else {
		sugar.Warn("shutdown before logon")
	}
	stop()
	<-counterpartyDone

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("api_shutdown_failed", "err", err)
		}
	}

	select {
	case err := <-apiErr:
		return fmt.Errorf("api server: %w", err)
	default:
	}
	sugar.Info("shutdown complete")
	return nil
}

// startCounterparty connects the dispatcher to a remote engine through a
// quickfix initiator when FIX settings are configured, otherwise to the
// in-process venue. The returned channel closes once the connection is
// torn down after ctx ends.
func startCounterparty(ctx context.Context, cfg params.Config, d *client.Dispatcher, link *venueLink, sugar *zap.SugaredLogger) (<-chan struct{}, error) {
	done := make(chan struct{})

	if cfg.Session.Settings != "" {
		settings, err := fix.LoadSettings(cfg.Session.Settings)
		if err != nil {
			return nil, err
		}
		initiator, err := fix.NewInitiator(d, settings, sugar.Named("quickfix"))
		if err != nil {
			return nil, err
		}
		if err := initiator.Start(); err != nil {
			return nil, fmt.Errorf("start initiator: %w", err)
		}
		sugar.Infow("initiator_started", "settings", cfg.Session.Settings)
		go func() {
			<-ctx.Done()
			initiator.Stop()
			close(done)
		}()
		return done, nil
	}

	v := venue.New(venue.Config{
		SenderCompID: cfg.Session.TargetCompID,
		TargetCompID: cfg.Session.SenderCompID,
		Symbols:      cfg.Book.Symbols,
		FillProb:     cfg.Venue.FillProb,
		RejectProb:   cfg.Venue.RejectProb,
		Latency:      cfg.Venue.Latency,
		Seed:         cfg.Venue.Seed,
	}, d, sugar.Named("venue"), util.RealClock{})
	link.v = v

	go func() {
		v.Run(ctx)
		close(done)
	}()
	return done, nil
}

func runSession(ctx context.Context, cfg params.Config, d *client.Dispatcher, tb *book.TradingBook, sugar *zap.SugaredLogger) {
	sugar.Infow("session_starting",
		"book", tb.Name(),
		"symbols", cfg.Book.Symbols,
		"orders", cfg.Demo.Orders,
		"threshold", cfg.Demo.Threshold)

	rng := rand.New(rand.NewPCG(cfg.Venue.Seed, uint64(time.Now().UnixNano())))
	sess := session.New(session.Config{
		Orders:    cfg.Demo.Orders,
		Threshold: cfg.Demo.Threshold,
		Interval:  cfg.Demo.Interval,
		Drain:     cfg.Demo.Drain,
	}, d, tb, rng, util.RealClock{}, sugar.Named("session"))

	res, err := sess.Run(ctx)
	if err != nil {
		sugar.Errorw("session_failed", "err", err)
	}
	sugar.Infow("session_finished",
		"sent", res.Sent,
		"send_errors", res.SendErrors,
		"cancels", res.Cancels,
		"volume", res.Stats.Volume.StringFixed(2),
		"pnl", res.Stats.PnL.StringFixed(2))
}

func openJournal(cfg params.Journal) (storage.Journal, error) {
	switch cfg.Kind {
	case "pebble":
		return storage.NewPebbleJournal(cfg.Path)
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return storage.NewFileJournal(cfg.Path)
	default:
		return storage.NewNopJournal(), nil
	}
}

func waitForLogon(ctx context.Context, d *client.Dispatcher) bool {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, ok := d.Session(); ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
