package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trickstertwo/xledger"
)

// scanRecords consumes rows selected with logColumns.
func scanRecords(rows *sql.Rows) ([]xledger.Record, error) {
	var recs []xledger.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log rows: %w", err)
	}
	return recs, nil
}

func scanRecord(rows *sql.Rows) (xledger.Record, error) {
	var (
		rec        xledger.Record
		payload    []byte
		meta       []byte
		occurredAt time.Time
	)
	err := rows.Scan(
		&rec.Offset,
		&rec.Event.ID,
		&rec.Event.Kind,
		&rec.Event.Source,
		&rec.Event.Target,
		&payload,
		&rec.Event.SchemaVersion,
		&occurredAt,
		&rec.Event.CorrelationID,
		&rec.Event.MissionID,
		&rec.Event.TaskID,
		&rec.Event.TenantID,
		&rec.Event.ActorID,
		&rec.Event.Severity,
		&meta,
	)
	if err != nil {
		return xledger.Record{}, fmt.Errorf("scan log row: %w", err)
	}
	rec.Event.OccurredAt = occurredAt.UTC()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec.Event.Payload); err != nil {
			return xledger.Record{}, fmt.Errorf("decode payload at offset %d: %w", rec.Offset, err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Event.Meta); err != nil {
			return xledger.Record{}, fmt.Errorf("decode meta at offset %d: %w", rec.Offset, err)
		}
	}
	return rec, nil
}
