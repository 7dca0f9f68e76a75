package xledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// KindLag summarizes how far one event kind's stored payloads trail the
// registry.
type KindLag struct {
	Kind          string
	LatestVersion int
	// Behind counts stored events with a schema version below latest.
	Behind int
	// ByVersion breaks Behind down per stored version.
	ByVersion map[int]int
	// Total counts every stored event of this kind.
	Total int
}

// SchemaReport is the operator-facing view of schema version drift across
// the whole log.
type SchemaReport struct {
	ScannedRecords int
	Kinds          []KindLag
}

// PayloadPreview pairs a stored payload with its upcast form, for dry runs.
type PayloadPreview struct {
	Offset      uint64
	EventID     string
	Kind        string
	FromVersion int
	ToVersion   int
	Before      map[string]any
	After       map[string]any
}

// Analyzer is the migration tooling built on the upcaster engine. It never
// mutates the log unless Migrate is invoked explicitly, and Migrate insists
// on a fresh backup snapshot first.
type Analyzer struct {
	log      Log
	registry *SchemaRegistry
	// batch caps one log read during scans.
	batch int
}

// NewAnalyzer builds an analyzer over log and registry.
func NewAnalyzer(log Log, registry *SchemaRegistry) (*Analyzer, error) {
	if log == nil {
		return nil, ErrNoLogConfigured
	}
	if registry == nil {
		return nil, &ConfigError{Reason: "analyzer requires a schema registry"}
	}
	return &Analyzer{log: log, registry: registry, batch: 512}, nil
}

// Analyze scans the full log and reports, per event kind, how many stored
// events are behind the registry's latest version.
func (a *Analyzer) Analyze(ctx context.Context) (*SchemaReport, error) {
	lags := make(map[string]*KindLag)
	scanned := 0

	err := a.scan(ctx, 0, func(rec Record) error {
		scanned++
		kind := rec.Event.Kind
		lag, ok := lags[kind]
		if !ok {
			lag = &KindLag{
				Kind:          kind,
				LatestVersion: a.registry.LatestVersion(kind),
				ByVersion:     make(map[int]int),
			}
			lags[kind] = lag
		}
		lag.Total++
		if lag.LatestVersion > 0 && rec.Event.SchemaVersion < lag.LatestVersion {
			lag.Behind++
			lag.ByVersion[rec.Event.SchemaVersion]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &SchemaReport{ScannedRecords: scanned}
	for _, lag := range lags {
		report.Kinds = append(report.Kinds, *lag)
	}
	sort.Slice(report.Kinds, func(i, j int) bool { return report.Kinds[i].Kind < report.Kinds[j].Kind })
	return report, nil
}

// DryRun previews the upcast form of every stale record of kind (every kind
// when empty) without mutating anything. limit <= 0 previews all.
func (a *Analyzer) DryRun(ctx context.Context, kind string, limit int) ([]PayloadPreview, error) {
	var previews []PayloadPreview

	err := a.scan(ctx, 0, func(rec Record) error {
		if kind != "" && rec.Event.Kind != kind {
			return nil
		}
		latest := a.registry.LatestVersion(rec.Event.Kind)
		if latest == 0 || rec.Event.SchemaVersion >= latest {
			return nil
		}
		if limit > 0 && len(previews) >= limit {
			return errStopScan
		}

		upcast, err := a.registry.Upcast(rec.Event)
		if err != nil {
			// Dry runs exist to surface exactly this before a migration.
			return fmt.Errorf("offset %d: %w", rec.Offset, err)
		}
		previews = append(previews, PayloadPreview{
			Offset:      rec.Offset,
			EventID:     rec.Event.ID,
			Kind:        rec.Event.Kind,
			FromVersion: rec.Event.SchemaVersion,
			ToVersion:   upcast.SchemaVersion,
			Before:      rec.Event.Payload,
			After:       upcast.Payload,
		})
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}
	return previews, nil
}

// SnapshotSink receives the backup taken before a bulk migration.
type SnapshotSink interface {
	Write(ctx context.Context, data []byte) error
}

// MigrateResult reports a bulk rewrite.
type MigrateResult struct {
	Scanned   int
	Rewritten int
}

// Migrate rewrites every stale stored payload to the latest schema version.
// The log must implement Rewriter. A backup snapshot of the full log is
// written to sink before the first rewrite; a nil sink aborts the migration.
// Any upcast or rewrite failure halts the migration immediately.
func (a *Analyzer) Migrate(ctx context.Context, sink SnapshotSink, export func(context.Context, Log) ([]byte, error)) (*MigrateResult, error) {
	rw, ok := a.log.(Rewriter)
	if !ok {
		return nil, &ConfigError{Reason: "log adapter does not support bulk rewrite"}
	}
	if sink == nil || export == nil {
		return nil, &ConfigError{Reason: "migration requires a backup snapshot sink"}
	}

	data, err := export(ctx, a.log)
	if err != nil {
		return nil, fmt.Errorf("backup snapshot: %w", err)
	}
	if err := sink.Write(ctx, data); err != nil {
		return nil, fmt.Errorf("backup snapshot: %w", err)
	}

	res := &MigrateResult{}
	err = a.scan(ctx, 0, func(rec Record) error {
		res.Scanned++
		latest := a.registry.LatestVersion(rec.Event.Kind)
		if latest == 0 || rec.Event.SchemaVersion >= latest {
			return nil
		}
		upcast, err := a.registry.Upcast(rec.Event)
		if err != nil {
			return fmt.Errorf("offset %d: %w", rec.Offset, err)
		}
		if err := rw.Rewrite(ctx, rec.Offset, upcast.Payload, upcast.SchemaVersion); err != nil {
			return fmt.Errorf("offset %d: rewrite: %w", rec.Offset, err)
		}
		res.Rewritten++
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

var errStopScan = errors.New("stop scan")

// scan walks the log from offset `from` in batches, applying fn per record.
func (a *Analyzer) scan(ctx context.Context, from uint64, fn func(Record) error) error {
	pos := from
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := a.log.Read(ctx, pos, a.batch)
		if err != nil {
			return &TransportError{Op: "log read", Err: err}
		}
		if len(recs) == 0 {
			return nil
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return err
			}
			pos = rec.Offset + 1
		}
	}
}
