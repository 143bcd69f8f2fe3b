package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"smartBin/internal/domain/model"
	"smartBin/internal/domain/service"
	"smartBin/internal/domain/useCases"
	"smartBin/internal/handlers/websocket"
	"smartBin/internal/infrastructure/metrics"
)

const (
	// Version is reported by the root endpoint.
	Version = "1.0.0"

	defaultHistoryLimit = 10
	// UserHeader carries the caller's reward account id.
	UserHeader = "X-User-ID"
)

// EventControl exposes the pipeline's history maintenance operations.
type EventControl interface {
	ClearHistory(ctx context.Context)
	ResetStats(ctx context.Context)
}

// NotificationSender is the outbound notification channel.
type NotificationSender interface {
	Enabled() bool
	Send(ctx context.Context, alert model.Alert) bool
}

// BusStatus reports whether the telemetry bus has a live session.
type BusStatus interface {
	IsConnected() bool
}

// BinLevelCache returns the last cached fill level per bin.
type BinLevelCache interface {
	GetBinLevels(ctx context.Context) (map[string]float64, error)
}

// Dependencies are the components served over HTTP. Metrics, BinCache and Logger may be nil.
type Dependencies struct {
	Aggregator  useCases.DetectionAggregator
	Events      EventControl
	Monitor     useCases.ThresholdMonitor
	Notifier    NotificationSender
	Ledger      useCases.Ledger
	Catalog     *service.Catalog
	Bus         BusStatus
	Hub         *websocket.Hub
	Metrics     *metrics.Metrics
	BinCache    BinLevelCache
	CORSOrigins []string
	Logger      *slog.Logger
}

// Server represents an HTTP server with all routes configured
type Server struct {
	deps    Dependencies
	router  *mux.Router
	handler http.Handler
	server  *http.Server
	log     *slog.Logger
	started time.Time
}

// NewServer creates a new HTTP server with configured routes
func NewServer(addr string, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		deps:    deps,
		router:  mux.NewRouter(),
		log:     log.With("component", "http"),
		started: time.Now(),
	}
	s.registerRoutes()

	cors := handlers.CORS(
		handlers.AllowedOrigins(deps.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", UserHeader}),
	)
	s.handler = handlers.LoggingHandler(os.Stdout, cors(s.router))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// registerRoutes configures all HTTP routes
func (s *Server) registerRoutes() {
	s.route("/", s.handleRoot, http.MethodGet)

	s.route("/api/stats", s.handleStats, http.MethodGet)
	s.route("/api/history", s.handleHistory, http.MethodGet)
	s.route("/api/history/clear", s.handleClearHistory, http.MethodPost)
	s.route("/api/stats/reset", s.handleResetStats, http.MethodPost)
	s.route("/api/bins", s.handleBins, http.MethodGet)
	s.route("/api/health", s.handleHealth, http.MethodGet)

	s.route("/api/telegram/test", s.handleTelegramTest, http.MethodPost)
	s.route("/api/telegram/send", s.handleTelegramSend, http.MethodPost)
	s.route("/api/telegram/summary", s.handleTelegramSummary, http.MethodPost)
	s.route("/api/telegram/bin-alert", s.handleTelegramBinAlert, http.MethodPost)

	s.route("/api/store/items", s.handleStoreItems, http.MethodGet)

	s.route("/api/rewards/accounts", s.handleOpenAccount, http.MethodPost)
	s.route("/api/rewards/balance", s.handleBalance, http.MethodGet)
	s.route("/api/rewards/submit-bottle", s.handleSubmitBottle, http.MethodPost)
	s.route("/api/rewards/redeem", s.handleRedeem, http.MethodPost)
	s.route("/api/rewards/bottle-history", s.handleBottleHistory, http.MethodGet)
	s.route("/api/rewards/redemption-history", s.handleRedemptionHistory, http.MethodGet)

	if s.deps.Hub != nil {
		s.router.Handle("/ws", websocket.Handler(s.deps.Hub, s.deps.CORSOrigins))
	}
	s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
}

func (s *Server) route(path string, h http.HandlerFunc, methods ...string) {
	s.router.Handle(path, s.deps.Metrics.WrapHandler(path, h)).Methods(append(methods, http.MethodOptions)...)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, envelope{Success: false, Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{
		"name":    "smartbin",
		"version": Version,
		"endpoints": []string{
			"/api/stats", "/api/history", "/api/history/clear", "/api/stats/reset", "/api/bins",
			"/api/health", "/api/telegram/test", "/api/telegram/send", "/api/telegram/summary",
			"/api/telegram/bin-alert", "/api/store/items", "/api/rewards/accounts",
			"/api/rewards/balance", "/api/rewards/submit-bottle", "/api/rewards/redeem",
			"/api/rewards/bottle-history", "/api/rewards/redemption-history", "/ws", "/metrics",
		},
	})
}

// handleStats handles requests for statistics data
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.ok(w, s.deps.Aggregator.GetStats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		// the aggregator clamps to [0, capacity]
		limit = n
	}
	s.ok(w, s.deps.Aggregator.GetHistory(limit))
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.deps.Events.ClearHistory(r.Context())
	s.ok(w, map[string]string{"message": "history cleared"})
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.deps.Events.ResetStats(r.Context())
	s.ok(w, map[string]string{"message": "statistics reset"})
}

func (s *Server) handleBins(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"bins": s.deps.Monitor.Snapshot()}
	if s.deps.BinCache != nil {
		levels, err := s.deps.BinCache.GetBinLevels(r.Context())
		if err != nil {
			s.log.Warn("cached bin levels unavailable", "error", err)
		} else {
			data["cached_levels"] = levels
		}
	}
	s.ok(w, data)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":                "ok",
		"timestamp":             time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":        int64(time.Since(s.started).Seconds()),
		"notifications_enabled": s.deps.Notifier != nil && s.deps.Notifier.Enabled(),
	}
	if s.deps.Bus != nil {
		health["bus_connected"] = s.deps.Bus.IsConnected()
	}
	if s.deps.Hub != nil {
		health["dashboard_connections"] = s.deps.Hub.Count()
	}
	if host := hostStats(r.Context()); len(host) > 0 {
		health["host"] = host
	}
	s.ok(w, health)
}

func (s *Server) notify(w http.ResponseWriter, r *http.Request, alert model.Alert) {
	if s.deps.Notifier == nil || !s.deps.Notifier.Enabled() {
		s.fail(w, http.StatusServiceUnavailable, "notifications are not configured")
		return
	}
	if !s.deps.Notifier.Send(r.Context(), alert) {
		s.fail(w, http.StatusBadGateway, "notification was not delivered")
		return
	}
	s.ok(w, map[string]string{"message": "notification sent"})
}

func (s *Server) handleTelegramTest(w http.ResponseWriter, r *http.Request) {
	s.notify(w, r, model.Alert{Kind: model.AlertText, Message: "✅ Test message from the Smart Bin server"})
}

type sendRequest struct {
	Message string `json:"message"`
	Title   string `json:"title"`
	Emoji   string `json:"emoji"`
}

func (s *Server) handleTelegramSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.fail(w, http.StatusBadRequest, "message is required")
		return
	}
	alert := model.Alert{Kind: model.AlertText, Message: req.Message}
	if req.Title != "" {
		alert = model.Alert{Kind: model.AlertCustom, Title: req.Title, Message: req.Message, Emoji: req.Emoji}
	}
	s.notify(w, r, alert)
}

func (s *Server) handleTelegramSummary(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Aggregator.GetStats()
	s.notify(w, r, model.Alert{Kind: model.AlertDailySummary, Stats: &stats})
}

type binAlertRequest struct {
	BinType   string   `json:"binType"`
	FillLevel *float64 `json:"fillLevel"`
}

func (s *Server) handleTelegramBinAlert(w http.ResponseWriter, r *http.Request) {
	var req binAlertRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BinType == "" || req.FillLevel == nil {
		s.fail(w, http.StatusBadRequest, "binType and fillLevel are required")
		return
	}
	s.notify(w, r, model.Alert{Kind: model.AlertBinFull, BinType: req.BinType, Level: *req.FillLevel})
}

func (s *Server) handleStoreItems(w http.ResponseWriter, r *http.Request) {
	s.ok(w, s.deps.Catalog.Items())
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
