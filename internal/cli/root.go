package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "tripledger",
	Short: "Shared expense ledger for group trips",
	Long: `tripledger records the expenses of a group trip, splits them between
the members, tracks who has paid their share and publishes every change to
the trip room so connected clients stay current.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file loaded before reading configuration")
}

// Execute runs the command line.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
