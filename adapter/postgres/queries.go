package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trickstertwo/xledger"
)

// logColumns is the column list used for SELECT statements on event_log.
const logColumns = `log_offset, event_id, kind, source, target, payload,
	schema_version, occurred_at, correlation_id, mission_id, task_id,
	tenant_id, actor_id, severity, meta`

// defaultHistoryLimit caps History results when the filter sets no limit.
const defaultHistoryLimit = 1000

// Append inserts the event and returns the sequence-assigned offset.
func (s *Store) Append(ctx context.Context, ev xledger.Event) (uint64, error) {
	payload, err := jsonbBytes(ev.Payload)
	if err != nil {
		return 0, err
	}
	meta, err := jsonbBytes(ev.Meta)
	if err != nil {
		return 0, err
	}

	var offset uint64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO event_log (
			event_id, kind, source, target, payload, schema_version,
			occurred_at, correlation_id, mission_id, task_id,
			tenant_id, actor_id, severity, meta
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14
		) RETURNING log_offset`,
		ev.ID,
		ev.Kind,
		ev.Source,
		ev.Target,
		payload,
		ev.SchemaVersion,
		ev.OccurredAt,
		ev.CorrelationID,
		ev.MissionID,
		ev.TaskID,
		ev.TenantID,
		ev.ActorID,
		ev.Severity,
		meta,
	).Scan(&offset)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return offset, nil
}

// Read returns up to limit records with offset >= from, in offset order.
func (s *Store) Read(ctx context.Context, from uint64, limit int) ([]xledger.Record, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+logColumns+`
		FROM event_log
		WHERE log_offset >= $1
		ORDER BY log_offset
		LIMIT $2`,
		from, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// History serves audit queries over the secondary indices.
func (s *Store) History(ctx context.Context, f xledger.HistoryFilter) ([]xledger.Record, bool, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.TenantID != "" {
		conds = append(conds, "tenant_id = "+arg(f.TenantID))
	}
	if f.ActorID != "" {
		conds = append(conds, "actor_id = "+arg(f.ActorID))
	}
	if len(f.Kinds) > 0 {
		ph := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			ph[i] = arg(k)
		}
		conds = append(conds, "kind IN ("+strings.Join(ph, ", ")+")")
	}
	if !f.Since.IsZero() {
		conds = append(conds, "occurred_at >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "occurred_at < "+arg(f.Until))
	}

	query := `SELECT ` + logColumns + ` FROM event_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// Fetch one extra row to detect truncation.
	query += " ORDER BY log_offset LIMIT " + arg(limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, false, err
	}
	truncated := false
	if len(recs) > limit {
		recs = recs[:limit]
		truncated = true
	}
	return recs, truncated, nil
}

// Rewrite replaces the stored payload and schema version at offset. Reserved
// for operator-driven migrations taken after a backup snapshot.
func (s *Store) Rewrite(ctx context.Context, offset uint64, payload map[string]any, schemaVersion int) error {
	data, err := jsonbBytes(payload)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE event_log
		SET payload = $1, schema_version = $2
		WHERE log_offset = $3`,
		data, schemaVersion, offset,
	)
	if err != nil {
		return fmt.Errorf("rewrite offset %d: %w", offset, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rewrite offset %d: no such record", offset)
	}
	return nil
}

// Seen reports whether the (subscriber, offset) pair was already processed.
func (s *Store) Seen(ctx context.Context, subscriber string, offset uint64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM dedup_records
		WHERE subscriber = $1 AND log_offset = $2`,
		subscriber, offset,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return true, nil
}

// Mark records a processed pair. ON CONFLICT DO NOTHING makes racing ACKs
// for the same pair idempotent: the first mark wins.
func (s *Store) Mark(ctx context.Context, rec xledger.DedupRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dedup_records (subscriber, log_offset, event_id, kind, processed_at, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subscriber, log_offset) DO NOTHING`,
		rec.Subscriber,
		rec.Offset,
		rec.EventID,
		rec.Kind,
		rec.ProcessedAt,
		nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

// Purge deletes dedup records processed before cutoff (the TTL retention job).
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM dedup_records WHERE processed_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("dedup purge: %w", err)
	}
	return res.RowsAffected()
}

func jsonbBytes(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return data, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
