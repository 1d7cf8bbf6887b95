// Package storage persists raw fetched records in a local SQLite archive.
// The archive exists so classification failures can be diagnosed from the
// exact upstream payloads without re-fetching; it is never read during a
// sync and failures to write it do not fail the run.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/plaidtext/beansync/internal/service"
)

// SQLiteArchive implements the service.Archive interface using SQLite.
type SQLiteArchive struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteArchive opens (or creates) the archive database at dbPath and
// ensures the schema exists.
func NewSQLiteArchive(dbPath string) (*SQLiteArchive, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("archive path cannot be empty")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	archive := &SQLiteArchive{db: db, dbPath: dbPath}
	if err := archive.migrate(); err != nil {
		return nil, err
	}
	return archive, nil
}

func (a *SQLiteArchive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		items INTEGER NOT NULL DEFAULT 0,
		fetched INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS raw_records (
		transaction_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES sync_runs(id),
		kind TEXT NOT NULL,
		account_id TEXT,
		item_id TEXT,
		date TEXT,
		name TEXT,
		amount TEXT,
		payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_raw_records_run ON raw_records(run_id);
	CREATE INDEX IF NOT EXISTS idx_raw_records_account ON raw_records(account_id);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// BeginRun records a new sync run and returns its id.
func (a *SQLiteArchive) BeginRun(ctx context.Context, startedAt time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, started_at) VALUES (?, ?)`,
		runID, startedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("failed to record sync run: %w", err)
	}
	return runID, nil
}

// SaveRawRecords stores a batch of raw records, replacing earlier copies
// of the same transaction id (cursors may redeliver records on retry).
func (a *SQLiteArchive) SaveRawRecords(ctx context.Context, runID string, records []service.RawRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO raw_records
		(transaction_id, run_id, kind, account_id, item_id, date, name, amount, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		_, err := stmt.ExecContext(ctx,
			record.TransactionID, runID, record.Kind, record.AccountID,
			record.ItemID, record.Date.Format("2006-01-02"), record.Name,
			record.Amount, record.Payload)
		if err != nil {
			return fmt.Errorf("failed to archive record %s: %w", record.TransactionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

// FinishRun closes out a sync run's bookkeeping row.
func (a *SQLiteArchive) FinishRun(ctx context.Context, runID string, items, fetched int) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE sync_runs SET finished_at = ?, items = ?, fetched = ? WHERE id = ?`,
		time.Now().UTC(), items, fetched, runID)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

// Ensure SQLiteArchive implements Archive.
var _ service.Archive = (*SQLiteArchive)(nil)
