package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xledger"
)

var (
	historyTenant string
	historyActor  string
	historyKinds  []string
	historySince  string
	historyUntil  string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the event log by tenant, actor, kind and time window",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := xledger.HistoryFilter{
			TenantID: historyTenant,
			ActorID:  historyActor,
			Kinds:    historyKinds,
			Limit:    historyLimit,
		}
		var err error
		if f.Since, err = parseTime(historySince); err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		if f.Until, err = parseTime(historyUntil); err != nil {
			return fmt.Errorf("--until: %w", err)
		}

		recs, truncated, err := store.History(cmd.Context(), f)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(map[string]any{
				"records":   recs,
				"truncated": truncated,
			})
		}
		for _, rec := range recs {
			line := []string{
				fmt.Sprintf("%d", rec.Offset),
				rec.Event.OccurredAt.Format(time.RFC3339),
				rec.Event.Kind,
				rec.Event.ID,
			}
			if rec.Event.TenantID != "" {
				line = append(line, "tenant="+rec.Event.TenantID)
			}
			if rec.Event.ActorID != "" {
				line = append(line, "actor="+rec.Event.ActorID)
			}
			fmt.Println(strings.Join(line, "  "))
		}
		if truncated {
			fmt.Fprintf(os.Stderr, "(truncated at %d records; raise --limit or narrow the filter)\n", len(recs))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyTenant, "tenant", "", "filter by tenant ID")
	historyCmd.Flags().StringVar(&historyActor, "actor", "", "filter by actor ID")
	historyCmd.Flags().StringSliceVar(&historyKinds, "kind", nil, "filter by event kind (repeatable)")
	historyCmd.Flags().StringVar(&historySince, "since", "", "lower bound, RFC3339 or duration ago (e.g. 24h)")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "upper bound, RFC3339 or duration ago")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "maximum records to return")
}

// parseTime accepts RFC3339 timestamps or a duration meaning "that long ago".
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 timestamp or duration: %q", s)
	}
	return time.Now().Add(-d), nil
}
