package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tripledger/internal/amqp"
	"tripledger/internal/backend"
	apphttp "tripledger/internal/http"
	"tripledger/internal/log"
	"tripledger/internal/notify"
	"tripledger/internal/realtime"
	"tripledger/internal/worker"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward broker room events to local event streams",
	Long: `Consume the ledger events published by serve instances and stream them
to clients connected to this process. With a persistent DATA_BACKEND the
relay reads the trip sequence from the store whenever it detects a gap.`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	if cfg.AMQPURL == "" {
		return errors.New("relay needs AMQP_URL")
	}
	ctx, stop := ShutdownContext(cmd.Context(), logger)
	defer stop()

	var resync notify.ResyncFunc
	beCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	if beCfg.Type.Persistent() {
		be, err := backend.NewFactory(logger).CreateBackend(ctx, beCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := be.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", log.FieldError, err)
			}
		}()
		resync = be.Store.TripSequence
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer client.Close()

	hub := realtime.NewHub(subscriberBuffer, logger)
	relay := worker.NewRelay(hub, resync, logger)

	srv, err := apphttp.NewEventsServer(apphttp.Config{
		Addr:           ":" + cfg.RelayPort,
		TrustedProxies: cfg.TrustedProxies,
		Logger:         logger,
	}, hub)
	if err != nil {
		return err
	}
	srv.RegisterOnShutdown(hub.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting relay", "port", cfg.RelayPort, "exchange", cfg.AMQPExchange)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve events: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := relay.Run(gctx, client); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := shutdownTimeout(cfg)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
