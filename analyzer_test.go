package xledger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xledger"
	"github.com/trickstertwo/xledger/adapter/memory"
	"github.com/trickstertwo/xledger/backup"
)

type bufferSink struct {
	buf bytes.Buffer
}

func (s *bufferSink) Write(_ context.Context, data []byte) error {
	s.buf.Write(data)
	return nil
}

func stagedLog(t *testing.T) *memory.Log {
	t.Helper()
	log := memory.NewLog()
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 1}, xledger.WithSchemaVersion(1))
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 2}, xledger.WithSchemaVersion(1))
	appendEvent(t, log, xledger.KindCreditAllocated, map[string]any{"amount": 3, "metadata": map[string]any{}},
		xledger.WithSchemaVersion(2))
	appendEvent(t, log, xledger.KindMissionCreated, map[string]any{"mission": "m-1"}, xledger.WithSchemaVersion(1))
	return log
}

func TestAnalyze_ReportsLagPerKind(t *testing.T) {
	log := stagedLog(t)
	analyzer, err := xledger.NewAnalyzer(log, creditRegistry(t))
	require.NoError(t, err)

	report, err := analyzer.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.ScannedRecords)

	require.Len(t, report.Kinds, 2)
	credit := report.Kinds[0]
	assert.Equal(t, xledger.KindCreditAllocated, credit.Kind)
	assert.Equal(t, 2, credit.LatestVersion)
	assert.Equal(t, 3, credit.Total)
	assert.Equal(t, 2, credit.Behind)
	assert.Equal(t, 2, credit.ByVersion[1])

	mission := report.Kinds[1]
	assert.Equal(t, xledger.KindMissionCreated, mission.Kind)
	assert.Equal(t, 0, mission.LatestVersion, "unregistered kinds are unversioned")
	assert.Equal(t, 0, mission.Behind)
}

func TestDryRun_PreviewsWithoutMutating(t *testing.T) {
	log := stagedLog(t)
	analyzer, err := xledger.NewAnalyzer(log, creditRegistry(t))
	require.NoError(t, err)

	previews, err := analyzer.DryRun(context.Background(), xledger.KindCreditAllocated, 0)
	require.NoError(t, err)
	require.Len(t, previews, 2)

	for _, p := range previews {
		assert.Equal(t, 1, p.FromVersion)
		assert.Equal(t, 2, p.ToVersion)
		assert.NotContains(t, p.Before, "metadata")
		assert.Contains(t, p.After, "metadata")
	}

	// Nothing was rewritten.
	recs, err := log.Read(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, recs[0].Event.SchemaVersion)
}

func TestMigrate_RefusesWithoutSnapshotSink(t *testing.T) {
	analyzer, err := xledger.NewAnalyzer(stagedLog(t), creditRegistry(t))
	require.NoError(t, err)

	_, err = analyzer.Migrate(context.Background(), nil, backup.Snapshot)
	var cerr *xledger.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestMigrate_SnapshotsThenRewrites(t *testing.T) {
	log := stagedLog(t)
	analyzer, err := xledger.NewAnalyzer(log, creditRegistry(t))
	require.NoError(t, err)

	sink := &bufferSink{}
	res, err := analyzer.Migrate(context.Background(), sink, backup.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 2, res.Rewritten)

	// The snapshot holds the pre-rewrite state: header + 4 record lines.
	lines := bytes.Split(bytes.TrimSpace(sink.buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 5)
	var head map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &head))
	assert.Equal(t, "snapshot", head["type"])

	// Every credit record is now stored at the latest version.
	recs, err := log.Read(context.Background(), 0, 10)
	require.NoError(t, err)
	for _, rec := range recs {
		if rec.Event.Kind != xledger.KindCreditAllocated {
			continue
		}
		assert.Equal(t, 2, rec.Event.SchemaVersion)
		assert.Contains(t, rec.Event.Payload, "metadata")
	}

	// A second run finds nothing to do.
	res, err = analyzer.Migrate(context.Background(), sink, backup.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Rewritten)
}
