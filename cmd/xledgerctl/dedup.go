package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Manage idempotent-consumer dedup records",
}

var dedupPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete dedup records older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		retention := purgeOlderThan
		if retention == 0 {
			retention = cfg.DedupRetention
		}
		cutoff := time.Now().Add(-retention)
		n, err := store.Purge(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d dedup records processed before %s\n", n, cutoff.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	dedupPurgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0,
		"retention override (default XLEDGER_DEDUP_RETENTION)")
	dedupCmd.AddCommand(dedupPurgeCmd)
}
