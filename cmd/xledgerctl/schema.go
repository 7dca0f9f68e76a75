package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xledger"
	"github.com/trickstertwo/xledger/backup"
)

var (
	dryRunKind  string
	dryRunLimit int

	migrateExecute bool
	migrateBackup  string
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and migrate stored schema versions",
}

var schemaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report how far stored payloads trail the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		analyzer, err := newAnalyzer()
		if err != nil {
			return err
		}
		report, err := analyzer.Analyze(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(report)
		}
		fmt.Printf("scanned %d records\n", report.ScannedRecords)
		for _, lag := range report.Kinds {
			if lag.LatestVersion == 0 {
				fmt.Printf("  %-28s %6d stored  (unversioned)\n", lag.Kind, lag.Total)
				continue
			}
			fmt.Printf("  %-28s %6d stored  latest v%d  %d behind\n",
				lag.Kind, lag.Total, lag.LatestVersion, lag.Behind)
			versions := make([]int, 0, len(lag.ByVersion))
			for v := range lag.ByVersion {
				versions = append(versions, v)
			}
			sort.Ints(versions)
			for _, v := range versions {
				fmt.Printf("    v%d: %d\n", v, lag.ByVersion[v])
			}
		}
		return nil
	},
}

var schemaDryRunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Preview upcast payloads without touching the log",
	RunE: func(cmd *cobra.Command, args []string) error {
		analyzer, err := newAnalyzer()
		if err != nil {
			return err
		}
		previews, err := analyzer.DryRun(cmd.Context(), dryRunKind, dryRunLimit)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(previews)
		}
		for _, p := range previews {
			fmt.Printf("offset %d  %s  %s  v%d -> v%d\n", p.Offset, p.EventID, p.Kind, p.FromVersion, p.ToVersion)
			before, _ := json.Marshal(p.Before)
			after, _ := json.Marshal(p.After)
			fmt.Printf("  before: %s\n  after:  %s\n", before, after)
		}
		fmt.Printf("%d records would be rewritten\n", len(previews))
		return nil
	},
}

var schemaMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rewrite stale payloads to the latest version, after a backup",
	Long: `Rewrites every stored payload that trails the registry's latest version.

A full JSONL snapshot of the log is written before the first rewrite, to
the S3 bucket from XLEDGER_BACKUP_S3_BUCKET or the --backup file path.
Without --execute this is an alias for dry-run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !migrateExecute {
			return schemaDryRunCmd.RunE(cmd, args)
		}

		analyzer, err := newAnalyzer()
		if err != nil {
			return err
		}
		sink, err := snapshotSink(cmd)
		if err != nil {
			return err
		}

		res, err := analyzer.Migrate(cmd.Context(), sink, backup.Snapshot)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(res)
		}
		fmt.Printf("scanned %d records, rewrote %d\n", res.Scanned, res.Rewritten)
		return nil
	},
}

func init() {
	schemaDryRunCmd.Flags().StringVar(&dryRunKind, "kind", "", "restrict to one event kind")
	schemaDryRunCmd.Flags().IntVar(&dryRunLimit, "limit", 20, "maximum previews (0 = all)")

	schemaMigrateCmd.Flags().BoolVar(&migrateExecute, "execute", false, "actually rewrite (default previews only)")
	schemaMigrateCmd.Flags().StringVar(&migrateBackup, "backup", "", "local snapshot path (when no S3 bucket is configured)")
	schemaMigrateCmd.Flags().StringVar(&dryRunKind, "kind", "", "restrict preview to one event kind")

	schemaCmd.AddCommand(schemaStatusCmd)
	schemaCmd.AddCommand(schemaDryRunCmd)
	schemaCmd.AddCommand(schemaMigrateCmd)
}

func newAnalyzer() (*xledger.Analyzer, error) {
	registry, err := platformRegistry()
	if err != nil {
		return nil, err
	}
	return xledger.NewAnalyzer(store, registry)
}

// snapshotSink picks S3 when a bucket is configured, else a local file.
func snapshotSink(cmd *cobra.Command) (xledger.SnapshotSink, error) {
	if cfg.BackupS3Bucket != "" {
		key := fmt.Sprintf("%s.%s", cfg.BackupS3Key, time.Now().UTC().Format("20060102T150405Z"))
		return backup.NewS3Sink(cmd.Context(), cfg.BackupS3Bucket, key, cfg.BackupS3Region, cfg.BackupS3Endpoint)
	}
	if migrateBackup == "" {
		return nil, fmt.Errorf("migration needs a snapshot destination: set XLEDGER_BACKUP_S3_BUCKET or pass --backup")
	}
	return &backup.FileSink{Path: migrateBackup}, nil
}
