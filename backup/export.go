// Package backup exports the durable log as JSONL snapshots, written to a
// local file or an S3-compatible bucket. A snapshot is the prerequisite for
// any bulk payload rewrite.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/trickstertwo/xledger"
)

// header is the first JSONL record written by Export.
type header struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Records   int       `json:"records"`
}

// line wraps a single JSONL line with a type discriminator.
type line struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// exportBatchSize controls how many records each log read fetches.
const exportBatchSize = 512

// Export writes the full log as JSONL to w: a header line followed by one
// record line per log entry, in offset order.
func Export(ctx context.Context, log xledger.Log, w io.Writer) error {
	var recs []xledger.Record
	from := uint64(0)
	for {
		batch, err := log.Read(ctx, from, exportBatchSize)
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		recs = append(recs, batch...)
		from = batch[len(batch)-1].Offset + 1
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(header{
		Version:   "1",
		Type:      "snapshot",
		Timestamp: time.Now().UTC(),
		Records:   len(recs),
	}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range recs {
		if err := enc.Encode(line{Type: "record", Data: rec}); err != nil {
			return fmt.Errorf("write record at offset %d: %w", rec.Offset, err)
		}
	}
	return nil
}

// Snapshot renders the full log as a JSONL byte slice. Its signature matches
// what Analyzer.Migrate expects for its pre-rewrite backup.
func Snapshot(ctx context.Context, log xledger.Log) ([]byte, error) {
	var buf bytes.Buffer
	if err := Export(ctx, log, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
