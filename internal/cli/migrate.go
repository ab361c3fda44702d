package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tripledger/internal/backend"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	beCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	if !beCfg.Type.Persistent() {
		logger.Info("Nothing to migrate", "backend", beCfg.Type.String())
		return nil
	}

	// Opening a persistent backend brings its schema up to date.
	be, err := backend.NewFactory(logger).CreateBackend(cmd.Context(), beCfg)
	if err != nil {
		return err
	}
	defer be.Cleanup()
	if err := ready(cmd.Context(), be); err != nil {
		return fmt.Errorf("database not reachable after migration: %w", err)
	}
	logger.Info("Migrations applied", "backend", beCfg.Type.String())
	return nil
}
