package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tripledger/internal/amqp"
	"tripledger/internal/audit"
	"tripledger/internal/backend"
	"tripledger/internal/cache"
	"tripledger/internal/currency"
	apphttp "tripledger/internal/http"
	"tripledger/internal/log"
	"tripledger/internal/notify"
	"tripledger/internal/realtime"
	"tripledger/internal/services"
)

const (
	balanceCacheSize = 512
	rateCacheSize    = 64
	rateCacheTTL     = time.Hour
	cacheSweepEvery  = time.Minute
	subscriberBuffer = 32
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger HTTP API",
	Long: `Run the ledger HTTP API together with the trip event streams. When
AMQP_URL is set every room event is also published to the broker so relays
on other hosts can forward it.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	ctx, stop := ShutdownContext(cmd.Context(), logger)
	defer stop()

	members, membersCache, err := NewResolver(cfg)
	if err != nil {
		return err
	}

	beCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	be, err := backend.NewFactory(logger).CreateBackend(ctx, beCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	rates := currency.NewCachedProvider(currency.DefaultRates(), rateCacheSize, rateCacheTTL)
	normalizer := currency.NewNormalizer(rates, currency.DefaultTarget)
	balances := services.NewBalanceAggregator(be.Store, members, normalizer, balanceCacheSize, cfg.BalanceCacheTTL)

	caches := cache.NewManager()
	caches.Register(balances.Cleaner(), rates.Cleaner())
	if membersCache != nil {
		caches.Register(membersCache)
	}
	caches.StartCleanup(cacheSweepEvery)
	defer caches.Stop()

	hub := realtime.NewHub(subscriberBuffer, logger)
	transports := notify.Fanout{hub}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		defer client.Close()
		transports = append(transports, client)
		logger.Info("Publishing room events to broker", "exchange", cfg.AMQPExchange)
	}
	notifier := notify.NewNotifier(transports, cfg.NotifyBufferSize, logger)
	notifier.Start()

	recorder := audit.NewRecorder(be.Store)
	auditor := audit.NewWorker(recorder, cfg.NotifyBufferSize, logger)
	auditor.Start()

	ledger := services.NewLedgerService(be.Store, members,
		services.WithNotifier(notifier),
		services.WithAuditor(auditor),
		services.WithInvalidator(balances),
		services.WithNormalizer(normalizer),
		services.WithLogger(logger),
		services.WithPageSize(cfg.ListPageSize),
	)

	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitRPM,
		TrustedProxies:     cfg.TrustedProxies,
		Logger:             logger,
	}, apphttp.Deps{
		Ledger:   ledger,
		Balances: balances,
		Activity: recorder,
		Rooms:    hub,
		Ready:    be.Ready,
	})
	if err != nil {
		return err
	}
	srv.RegisterOnShutdown(hub.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting tripledger server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := shutdownTimeout(cfg)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if nerr := notifier.Shutdown(shutdownCtx); nerr != nil {
			logger.Warn("Notifier did not drain", log.FieldError, nerr)
		}
		auditor.Shutdown()
		logger.Info("Server stopped gracefully")
		return err
	})
	return g.Wait()
}

// ready wraps a backend readiness check for commands that only need to
// know the store answers.
func ready(ctx context.Context, be *backend.BackendResult) error {
	if be.Ready == nil {
		return nil
	}
	return be.Ready(ctx)
}
