package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"tripledger/internal/backend"
	"tripledger/internal/currency"
	"tripledger/internal/services"
)

var balancesCmd = &cobra.Command{
	Use:   "balances TRIP_ID",
	Short: "Print the balances of a trip as JSON",
	Long: `Print what every member of a trip paid, owes and is owed, read from the
configured store. Amounts are minor units; --currency adds converted
totals.`,
	Args: cobra.ExactArgs(1),
	RunE: runBalances,
}

func init() {
	rootCmd.AddCommand(balancesCmd)
	balancesCmd.Flags().StringP("currency", "c", "", "currency to normalize totals to")
}

func runBalances(cmd *cobra.Command, args []string) error {
	target, _ := cmd.Flags().GetString("currency")

	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	members, _, err := NewResolver(cfg)
	if err != nil {
		return err
	}
	beCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	be, err := backend.NewFactory(logger).CreateBackend(cmd.Context(), beCfg)
	if err != nil {
		return err
	}
	defer be.Cleanup()

	normalizer := currency.NewNormalizer(currency.DefaultRates(), currency.DefaultTarget)
	agg := services.NewBalanceAggregator(be.Store, members, normalizer, 1, cfg.BalanceCacheTTL)
	balances, err := agg.ComputeBalances(cmd.Context(), args[0], target)
	if err != nil {
		return fmt.Errorf("compute balances for %s: %w", args[0], err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(balances)
}
