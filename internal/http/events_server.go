package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tripledger/internal/log"
	"tripledger/internal/middleware/security"
	"tripledger/internal/middleware/trace"
	"tripledger/internal/notify"
)

// NewEventsServer serves only the trip event streams, for relay processes
// that hold no ledger of their own.
func NewEventsServer(cfg Config, rooms RoomStreamer) (*http.Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentRelay)

	detector := security.NewDetector()
	for _, cidr := range cfg.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(trace.NewMiddleware(logger, detector.ExtractClientIP).Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(detector.Middleware)

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.With(log.ComponentMiddleware(log.ComponentRealtime)).Get("/expenses/trip/{tripId}/events", func(w http.ResponseWriter, r *http.Request) {
		rooms.Stream(w, r, notify.RoomID(chi.URLParam(r, "tripId")))
	})

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}, nil
}
