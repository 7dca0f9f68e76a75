// Command xledgerctl operates the durable event log: audit queries, schema
// lag reports, bulk payload migrations, replays and dedup retention.
//
// Configuration comes from XLEDGER_* environment variables; see
// xledger.LoadConfig.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xledger"
	"github.com/trickstertwo/xledger/adapter/postgres"

	_ "github.com/trickstertwo/xlog/adapter/zerolog"
)

var (
	jsonOutput bool

	cfg   *xledger.Config
	store *postgres.Store
)

var rootCmd = &cobra.Command{
	Use:   "xledgerctl",
	Short: "Operations CLI for the xledger event log",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = xledger.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("xledgerctl requires XLEDGER_DATABASE_URL")
		}
		store, err = postgres.New(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to event store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dedupCmd)
	rootCmd.AddCommand(publishCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
