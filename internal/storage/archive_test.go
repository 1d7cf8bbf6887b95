package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaidtext/beansync/internal/service"
)

func newTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	archive, err := NewSQLiteArchive(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })
	return archive
}

func record(id string) service.RawRecord {
	return service.RawRecord{
		Date:          time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		TransactionID: id,
		AccountID:     "acc-checking",
		ItemID:        "item-bank",
		Kind:          "transaction",
		Name:          "SAFEWAY #1234",
		Amount:        "42.50",
		Payload:       `{"name":"SAFEWAY #1234"}`,
	}
}

func TestArchiveRequiresPath(t *testing.T) {
	_, err := NewSQLiteArchive("")
	assert.Error(t, err)
}

func TestArchiveRunLifecycle(t *testing.T) {
	ctx := context.Background()
	archive := newTestArchive(t)

	runID, err := archive.BeginRun(ctx, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.NoError(t, archive.SaveRawRecords(ctx, runID, []service.RawRecord{
		record("txn-1"),
		record("txn-2"),
	}))
	require.NoError(t, archive.FinishRun(ctx, runID, 1, 2))

	var fetched int
	err = archive.db.QueryRowContext(ctx,
		`SELECT fetched FROM sync_runs WHERE id = ?`, runID).Scan(&fetched)
	require.NoError(t, err)
	assert.Equal(t, 2, fetched)

	var count int
	err = archive.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_records WHERE run_id = ?`, runID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestArchiveReplacesRedeliveredRecords(t *testing.T) {
	ctx := context.Background()
	archive := newTestArchive(t)

	runID, err := archive.BeginRun(ctx, time.Now())
	require.NoError(t, err)

	require.NoError(t, archive.SaveRawRecords(ctx, runID, []service.RawRecord{record("txn-1")}))

	// The same transaction id redelivered in a later run replaces the row
	// instead of duplicating it.
	secondRun, err := archive.BeginRun(ctx, time.Now())
	require.NoError(t, err)
	updated := record("txn-1")
	updated.Payload = `{"name":"SAFEWAY #1234","pending":false}`
	require.NoError(t, archive.SaveRawRecords(ctx, secondRun, []service.RawRecord{updated}))

	var count int
	err = archive.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_records WHERE transaction_id = ?`, "txn-1").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var payload string
	err = archive.db.QueryRowContext(ctx,
		`SELECT payload FROM raw_records WHERE transaction_id = ?`, "txn-1").Scan(&payload)
	require.NoError(t, err)
	assert.Contains(t, payload, "pending")
}

func TestArchiveSaveEmptyBatchIsNoop(t *testing.T) {
	ctx := context.Background()
	archive := newTestArchive(t)

	runID, err := archive.BeginRun(ctx, time.Now())
	require.NoError(t, err)
	assert.NoError(t, archive.SaveRawRecords(ctx, runID, nil))
}
