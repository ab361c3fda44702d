// Package http exposes the ledger over a JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tripledger/internal/core"
	"tripledger/internal/log"
	"tripledger/internal/middleware/ratelimit"
	"tripledger/internal/middleware/security"
	"tripledger/internal/middleware/trace"
	"tripledger/internal/services"
	"tripledger/internal/storage"
)

// Ledger is the write and read surface the handlers need.
type Ledger interface {
	Create(ctx context.Context, in services.CreateExpenseInput) (core.Expense, error)
	Get(ctx context.Context, id string) (core.Expense, error)
	Update(ctx context.Context, id string, patch services.ExpensePatch) (core.Expense, error)
	Delete(ctx context.Context, id string) (bool, error)
	MarkSharePaid(ctx context.Context, req services.SettleShare) (core.Expense, error)
	GetSettlements(ctx context.Context, expenseID string) (core.Settlements, error)
	ListPage(ctx context.Context, q storage.ListQuery) (storage.Page, error)
	GetSummary(ctx context.Context, tripID, normalizeTo string) (core.Summary, error)
	TripSequence(ctx context.Context, tripID string) (int64, error)
}

type BalanceReader interface {
	ComputeBalances(ctx context.Context, tripID, normalizeTo string) (core.TripBalances, error)
}

type ActivityReader interface {
	Trail(ctx context.Context, tripID string, limit int) ([]storage.Activity, error)
}

// RoomStreamer serves a room as a server-sent event stream.
type RoomStreamer interface {
	Stream(w http.ResponseWriter, r *http.Request, roomID string)
}

// Deps are the collaborators behind the routes. Activity, Rooms and Ready
// are optional; their routes answer 404 (or always ready) when unset.
type Deps struct {
	Ledger   Ledger
	Balances BalanceReader
	Activity ActivityReader
	Rooms    RoomStreamer
	Ready    func(ctx context.Context) error
}

// Config tunes the server edge.
type Config struct {
	Addr               string
	RateLimitPerMinute int
	TrustedProxies     []string
	Logger             *log.Logger
}

type Server struct {
	http.Server
	deps     Deps
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Ledger == nil || deps.Balances == nil {
		return nil, fmt.Errorf("ledger and balances are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	for _, cidr := range cfg.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}

	rlCfg := ratelimit.DefaultConfig()
	if cfg.RateLimitPerMinute > 0 {
		rlCfg.RequestsPerMinute = cfg.RateLimitPerMinute
	}

	s := &Server{
		deps:     deps,
		logger:   logger,
		limiter:  ratelimit.NewLimiter(rlCfg),
		detector: detector,
		tracer:   trace.NewMiddleware(logger, detector.ExtractClientIP),
	}
	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.tracer.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)
	r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited))
	r.Use(actorMiddleware)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/expenses", func(r chi.Router) {
		r.Post("/", s.handleCreateExpense)

		r.Route("/trip/{tripId}", func(r chi.Router) {
			r.Get("/", s.handleListExpenses)
			r.Get("/summary", s.handleSummary)
			r.Get("/balances", s.handleBalances)
			r.Get("/activity", s.handleActivity)
			r.With(log.ComponentMiddleware(log.ComponentRealtime)).Get("/events", s.handleEvents)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetExpense)
			r.Put("/", s.handleUpdateExpense)
			r.Delete("/", s.handleDeleteExpense)
			r.Patch("/share-paid", s.handleSharePaid)
			r.Get("/settlements", s.handleSettlements)
		})
	})

	return r
}

// actorMiddleware reads the caller identity set by the auth gateway.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := sanitizeInput(r.Header.Get("X-User-ID")); actor != "" {
			ctx := services.WithActor(r.Context(), actor)
			ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldActor, actor))
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldComponent, log.ComponentRateLimit,
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, retry later")
}

// Shutdown stops the HTTP server and the limiter's cleanup routine.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": strings.TrimSpace(err.Error()),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
