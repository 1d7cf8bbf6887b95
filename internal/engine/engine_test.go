package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaidtext/beansync/internal/common"
	"github.com/plaidtext/beansync/internal/ledger"
	"github.com/plaidtext/beansync/internal/model"
	"github.com/plaidtext/beansync/internal/plaid"
	"github.com/plaidtext/beansync/internal/service"
)

const testRootLedger = `2020-01-01 open Assets:Bank:Checking
  plaid_account_id: "acc-checking"
  plaid_item_id: "item-bank"
  plaid_access_token: "token-bank"

2020-01-01 open Expenses:Groceries
  plaid_category: "FOOD_AND_DRINK_GROCERIES"
  payees: "Safeway"
`

func writeRoot(t *testing.T, content string) string {
	t.Helper()
	rootPath := filepath.Join(t.TempDir(), "ledger.beancount")
	require.NoError(t, os.WriteFile(rootPath, []byte(content), 0o644))
	return rootPath
}

func fastRetries() Option {
	return WithRetryOptions(service.RetryOptions{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	})
}

func bankTxn(id string, day int, amount, merchant string) model.Transaction {
	return model.Transaction{
		Date:         time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		ID:           id,
		Name:         merchant,
		MerchantName: merchant,
		AccountID:    "acc-checking",
		Currency:     "USD",
		Amount:       decimal.RequireFromString(amount),
	}
}

func TestSyncHappyPath(t *testing.T) {
	rootPath := writeRoot(t, testRootLedger)

	source := plaid.NewMockSource()
	source.GetAccountsFn = func(_ context.Context, _ string) ([]service.AccountInfo, error) {
		return []service.AccountInfo{{ID: "acc-checking", Type: model.AccountDepository}}, nil
	}
	source.SyncTransactionsFn = func(_ context.Context, _, _ string, _ int) (*service.SyncResult, error) {
		return &service.SyncResult{
			Added: []model.Transaction{
				bankTxn("txn-1", 10, "42.50", "Safeway"),
				bankTxn("txn-2", 11, "9.75", "Chevron"),
			},
			NextCursor: "cursor-1",
		}, nil
	}

	result, err := New(source, fastRetries()).Sync(context.Background(), rootPath)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ItemsSynced)
	assert.Equal(t, 2, result.TransactionsFetched)
	assert.Equal(t, 2, result.EntriesWritten)
	assert.Empty(t, result.SkippedItems)
	assert.Empty(t, result.FailedItems)

	// First call starts from an empty cursor with the default page size.
	require.Len(t, source.SyncCalls, 1)
	assert.Equal(t, "", source.SyncCalls[0].Cursor)
	assert.Equal(t, defaultPageSize, source.SyncCalls[0].Count)

	// Entries landed in the derived output file, classified by payee rule
	// and category fallback.
	outPath := filepath.Join(filepath.Dir(rootPath), "accounts", "Bank", "Checking.beancount")
	file, err := ledger.ParseFile(outPath)
	require.NoError(t, err)
	require.Len(t, file.Transactions, 2)
	assert.Equal(t, "Expenses:Groceries", file.Transactions[0].Postings[1].Account)
	assert.Equal(t, "Expenses:Unknown", file.Transactions[1].Postings[1].Account)

	// The cursor was persisted to the root file.
	root, err := ledger.ParseFile(rootPath)
	require.NoError(t, err)
	require.Len(t, root.Customs, 1)
	assert.Equal(t, ledger.CursorDirective, root.Customs[0].Type)
	assert.Equal(t, []string{"item-bank", "cursor-1", "item-bank"}, root.Customs[0].Values)
}

func TestSyncResumesFromPersistedCursor(t *testing.T) {
	rootPath := writeRoot(t, testRootLedger+`
2024-01-15 custom "plaid_cursor" "item-bank" "cursor-old" "item-bank"
`)

	source := plaid.NewMockSource()
	result, err := New(source, fastRetries()).Sync(context.Background(), rootPath)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsSynced)

	require.Len(t, source.SyncCalls, 1)
	assert.Equal(t, "cursor-old", source.SyncCalls[0].Cursor)
}

func TestSyncFollowsPagination(t *testing.T) {
	rootPath := writeRoot(t, testRootLedger)

	source := plaid.NewMockSource()
	source.SyncTransactionsFn = func(_ context.Context, _, cursor string, _ int) (*service.SyncResult, error) {
		if cursor == "" {
			return &service.SyncResult{
				Added:      []model.Transaction{bankTxn("txn-1", 10, "10.00", "Safeway")},
				NextCursor: "cursor-page-1",
				HasMore:    true,
			}, nil
		}
		return &service.SyncResult{
			Added:      []model.Transaction{bankTxn("txn-2", 11, "20.00", "Safeway")},
			NextCursor: "cursor-page-2",
		}, nil
	}

	result, err := New(source, fastRetries()).Sync(context.Background(), rootPath)
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntriesWritten)

	require.Len(t, source.SyncCalls, 2)
	assert.Equal(t, "cursor-page-1", source.SyncCalls[1].Cursor)

	// Both page cursors were persisted; the newest one wins on reload.
	root, err := ledger.ParseFile(rootPath)
	require.NoError(t, err)
	require.Len(t, root.Customs, 2)
	assert.Equal(t, "cursor-page-2", root.Customs[1].Values[1])
}

func TestSyncSkipsItemNeedingReauth(t *testing.T) {
	rootPath := writeRoot(t, testRootLedger)

	source := plaid.NewMockSource()
	source.GetAccountsFn = func(_ context.Context, _ string) ([]service.AccountInfo, error) {
		return nil, fmt.Errorf("failed to fetch accounts: %w", common.ErrReauthRequired)
	}

	result, err := New(source, fastRetries()).Sync(context.Background(), rootPath)
	require.NoError(t, err)

	assert.Equal(t, 0, result.ItemsSynced)
	assert.Equal(t, []string{"item-bank"}, result.SkippedItems)
	assert.Empty(t, result.FailedItems)
	// Reauth is not retryable: exactly one attempt.
	assert.Len(t, source.GetAccountsCalls, 1)
	assert.Empty(t, source.SyncCalls)
}

func TestSyncRecordsHardFailure(t *testing.T) {
	rootPath := writeRoot(t, testRootLedger)

	source := plaid.NewMockSource()
	source.SyncTransactionsFn = func(_ context.Context, _, _ string, _ int) (*service.SyncResult, error) {
		return nil, errors.New("upstream exploded")
	}

	result, err := New(source, fastRetries()).Sync(context.Background(), rootPath)
	require.NoError(t, err)

	assert.Equal(t, 0, result.ItemsSynced)
	assert.Equal(t, []string{"item-bank"}, result.FailedItems)
	// The generic failure was retried before giving up.
	assert.Len(t, source.SyncCalls, 2)
}

func TestSyncRoutesUndeclaredAccountToUnknown(t *testing.T) {
	rootPath := writeRoot(t, testRootLedger)

	source := plaid.NewMockSource()
	source.SyncTransactionsFn = func(_ context.Context, _, _ string, _ int) (*service.SyncResult, error) {
		txn := bankTxn("txn-1", 10, "10.00", "Safeway")
		txn.AccountID = "acc-mystery"
		return &service.SyncResult{Added: []model.Transaction{txn}, NextCursor: "c"}, nil
	}

	result, err := New(source, fastRetries()).Sync(context.Background(), rootPath)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntriesWritten)

	outPath := filepath.Join(filepath.Dir(rootPath), "accounts", "Unknown", "Unknown.beancount")
	file, err := ledger.ParseFile(outPath)
	require.NoError(t, err)
	require.Len(t, file.Transactions, 1)
	assert.Equal(t, "Unknown", file.Transactions[0].Postings[0].Account)
}

func TestSyncContinuesPastClassificationFailure(t *testing.T) {
	rootPath := writeRoot(t, testRootLedger)

	source := plaid.NewMockSource()
	source.GetInvestmentTransactionsFn = func(_ context.Context, _ string, _, _ time.Time) (*service.InvestmentsResult, error) {
		return &service.InvestmentsResult{
			Transactions: []model.InvestmentTransaction{
				{
					Date:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
					ID:        "inv-bad",
					Name:      "OPTION ASSIGNED",
					AccountID: "acc-checking",
					Type:      "transfer",
					Subtype:   "assignment",
				},
				{
					Date:      time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
					ID:        "inv-good",
					Name:      "Buy 2 GOOGL",
					AccountID: "acc-checking",
					Type:      "buy",
					Subtype:   "buy",
					Security:  model.Security{Ticker: "GOOGL"},
					Quantity:  decimal.NewFromInt(2),
					Price:     decimal.RequireFromString("140.00"),
					Amount:    decimal.RequireFromString("280.00"),
				},
			},
		}, nil
	}

	result, err := New(source, fastRetries()).Sync(context.Background(), rootPath)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ItemsSynced)
	assert.Equal(t, 1, result.ClassificationFailures)
	assert.Equal(t, 1, result.EntriesWritten)
	assert.Equal(t, 2, result.TransactionsFetched)
}

func TestSyncInvestmentWindow(t *testing.T) {
	rootPath := writeRoot(t, testRootLedger)

	var gotStart time.Time
	source := plaid.NewMockSource()
	source.GetInvestmentTransactionsFn = func(_ context.Context, _ string, start, _ time.Time) (*service.InvestmentsResult, error) {
		gotStart = start
		return &service.InvestmentsResult{}, nil
	}

	start := time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := New(source, fastRetries(), WithInvestmentStart(start)).Sync(context.Background(), rootPath)
	require.NoError(t, err)
	assert.Equal(t, start, gotStart)
}

type recordingArchive struct {
	begun    int
	finished int
	records  []service.RawRecord
}

func (a *recordingArchive) BeginRun(_ context.Context, _ time.Time) (string, error) {
	a.begun++
	return "run-1", nil
}

func (a *recordingArchive) SaveRawRecords(_ context.Context, _ string, records []service.RawRecord) error {
	a.records = append(a.records, records...)
	return nil
}

func (a *recordingArchive) FinishRun(_ context.Context, _ string, _, _ int) error {
	a.finished++
	return nil
}

func (a *recordingArchive) Close() error { return nil }

func TestSyncArchivesRawRecords(t *testing.T) {
	rootPath := writeRoot(t, testRootLedger)

	source := plaid.NewMockSource()
	source.SyncTransactionsFn = func(_ context.Context, _, _ string, _ int) (*service.SyncResult, error) {
		return &service.SyncResult{
			Added:      []model.Transaction{bankTxn("txn-1", 10, "10.00", "Safeway")},
			NextCursor: "c",
		}, nil
	}

	archive := &recordingArchive{}
	_, err := New(source, fastRetries(), WithArchive(archive)).Sync(context.Background(), rootPath)
	require.NoError(t, err)

	assert.Equal(t, 1, archive.begun)
	assert.Equal(t, 1, archive.finished)
	require.Len(t, archive.records, 1)
	assert.Equal(t, "txn-1", archive.records[0].TransactionID)
	assert.Equal(t, "transaction", archive.records[0].Kind)
	assert.Equal(t, "item-bank", archive.records[0].ItemID)
}
