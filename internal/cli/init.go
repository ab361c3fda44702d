// Package cli holds the tripledger commands and the initialization they
// share.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tripledger/internal/cache"
	"tripledger/internal/config"
	"tripledger/internal/log"
	"tripledger/internal/membership"
)

// errNoMembership is returned by commands that need trip members when
// neither source is configured.
var errNoMembership = errors.New("set TRIPS_FILE or MEMBERSHIP_URL to resolve trip members")

// SetupLogger builds the process logger from configuration and installs it
// as the slog default.
func SetupLogger(cfg *config.Config) *log.Logger {
	logger := log.New(cfg.LoggerConfig())
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads an env file for local development. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadAndValidateConfig reads the environment and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bootstrap runs the steps every command starts with.
func bootstrap() (*config.Config, *log.Logger, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, SetupLogger(cfg), nil
}

// NewResolver builds the membership source named by configuration. The
// cleaner is nil for sources without a cache.
func NewResolver(cfg *config.Config) (membership.Resolver, cache.Cleaner, error) {
	switch {
	case cfg.TripsFile != "":
		r, err := membership.LoadFile(cfg.TripsFile)
		if err != nil {
			return nil, nil, err
		}
		return r, nil, nil
	case cfg.MembershipURL != "":
		r := membership.NewHTTPResolver(cfg.MembershipURL, nil, cfg.MembershipCacheTTL)
		return r, r.Cleaner(), nil
	}
	return nil, nil, errNoMembership
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// shutdownTimeout bounds the graceful stop of servers and workers.
func shutdownTimeout(cfg *config.Config) (context.Context, context.CancelFunc) {
	d := cfg.ShutdownTimeout
	if d <= 0 {
		d = 15 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}
