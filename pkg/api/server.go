package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/fixledger/pkg/app/core/book"
	"github.com/uhyunpark/fixledger/pkg/app/core/ledger"
	"github.com/uhyunpark/fixledger/pkg/client"
	"github.com/uhyunpark/fixledger/pkg/fix"
	"github.com/uhyunpark/fixledger/pkg/storage"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// OrderSender is the outbound half of the dispatcher.
type OrderSender interface {
	SendNewOrder(o *ledger.Order) error
	CancelOrder(fields fix.FieldMap) (string, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	book     *book.TradingBook
	sender   OrderSender
	journal  storage.Journal
	log      *zap.SugaredLogger
	router   *mux.Router
	hub      *Hub
	validate *validator.Validate
	origins  []string
	http     *http.Server
}

// NewServer creates a new API server. A nil journal disables the journal
// endpoint's content.
func NewServer(b *book.TradingBook, sender OrderSender, journal storage.Journal, log *zap.SugaredLogger, origins []string) *Server {
	if journal == nil {
		journal = storage.NewNopJournal()
	}
	s := &Server{
		book:     b,
		sender:   sender,
		journal:  journal,
		log:      log,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		origins:  origins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Book and ledger endpoints
	api.HandleFunc("/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/ledgers", s.handleGetLedgers).Methods("GET")
	api.HandleFunc("/ledgers/{symbol}", s.handleGetLedger).Methods("GET")
	api.HandleFunc("/ledgers/{symbol}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/ledgers/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Order submission
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// Message audit trail
	api.HandleFunc("/journal", s.handleGetJournal).Methods("GET")

	s.router.Handle("/metrics", promhttp.Handler())
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves until Shutdown is called.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api_server_starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Hub exposes the websocket hub so it can be run without Start in tests.
func (s *Server) Hub() *Hub { return s.hub }

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	st, err := s.book.Stats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats unavailable", err.Error())
		return
	}
	respondJSON(w, BookInfo{
		Name:       s.book.Name(),
		Symbols:    s.book.Symbols(),
		Volume:     st.Volume,
		PnL:        st.PnL,
		VWAP:       st.VWAP,
		OpenOrders: s.book.OpenOrderCount(),
	})
}

func (s *Server) handleGetLedgers(w http.ResponseWriter, r *http.Request) {
	syms := s.book.Symbols()
	out := make([]LedgerInfo, 0, len(syms))
	for _, sym := range syms {
		snap, err := s.book.Ledger(sym)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "ledger unavailable", err.Error())
			return
		}
		out = append(out, toLedgerInfo(snap))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	respondJSON(w, toLedgerInfo(snap))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	out := make([]OrderInfo, len(snap.Orders))
	for i, o := range snap.Orders {
		out[i] = toOrderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	out := make([]TradeInfo, len(snap.Trades))
	for i, t := range snap.Trades {
		out[i] = toTradeInfo(t)
	}
	respondJSON(w, out)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (book.LedgerSnapshot, bool) {
	symbol := mux.Vars(r)["symbol"]
	snap, err := s.book.Ledger(symbol)
	if err != nil {
		if errors.Is(err, book.ErrUnknownSymbol) {
			respondError(w, http.StatusNotFound, "ledger not found", err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, "ledger unavailable", err.Error())
		}
		return book.LedgerSnapshot{}, false
	}
	return snap, true
}

func toLedgerInfo(snap book.LedgerSnapshot) LedgerInfo {
	return LedgerInfo{
		Symbol:     snap.Symbol,
		OpenOrders: len(snap.Orders),
		Trades:     len(snap.Trades),
		Volume:     snap.Volume,
		PnL:        snap.PnL,
		VWAP:       snap.VWAP,
	}
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}
	o, err := req.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	if err := s.sender.SendNewOrder(o); err != nil {
		s.log.Warnw("api_order_rejected", "symbol", o.Symbol, "err", err)
		respondError(w, sendStatus(err), "order not sent", err.Error())
		return
	}
	s.log.Infow("api_order_submitted", "cl_ord_id", o.ID, "symbol", o.Symbol)
	respondJSON(w, SubmitOrderResponse{Status: "submitted", OrderID: o.ID})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	o, err := s.book.FindOrder(req.OrderID)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, book.ErrAmbiguousOrderID) {
			status = http.StatusConflict
		}
		respondError(w, status, "order not found", err.Error())
		return
	}

	cancelID, err := s.sender.CancelOrder(o.CancelFields())
	if err != nil {
		respondError(w, sendStatus(err), "cancel not sent", err.Error())
		return
	}
	s.log.Infow("api_cancel_submitted", "cl_ord_id", cancelID, "orig_cl_ord_id", o.ID)
	respondJSON(w, CancelOrderResponse{Status: "submitted", OrderID: o.ID, CancelID: cancelID})
}

func (s *Server) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	limit := defaultJournalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxJournalLimit)
	}

	entries, err := s.journal.Recent(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal unavailable", err.Error())
		return
	}
	out := make([]JournalEntry, len(entries))
	for i, e := range entries {
		out[i] = JournalEntry{
			Seq:       e.Seq,
			Time:      e.Time.UnixMilli(),
			Direction: string(e.Direction),
			Session:   e.Session,
			MsgType:   e.MsgType,
			Text:      e.Text,
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the dispatcher)
// ==============================

// BroadcastReport pushes a reconciled execution report to subscribers of
// "reports" and "reports:<symbol>".
func (s *Server) BroadcastReport(rep client.Report) {
	ev := rep.Event
	update := ReportUpdate{
		Type:      "report",
		OrderID:   ev.ID,
		Symbol:    ev.Symbol,
		Status:    ev.Status.String(),
		Action:    rep.Route.Action.String(),
		LastQty:   ev.Qty,
		LastPx:    ev.Price,
		Timestamp: ev.Timestamp.UnixMilli(),
	}
	if ev.Side != "" {
		update.Side = ev.Side.String()
	}
	if rep.Err != nil {
		update.Error = rep.Err.Error()
	}

	s.hub.BroadcastToChannel("reports", update)
	if ev.Symbol != "" {
		s.hub.BroadcastToChannel("reports:"+ev.Symbol, update)
	}
}

// ==============================
// Helper Functions
// ==============================

func sendStatus(err error) int {
	if errors.Is(err, fix.ErrSessionNotFound) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, book.ErrUnknownSymbol) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func errInvalidField(field, value string) error {
	return fmt.Errorf("invalid %s %q", field, value)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
