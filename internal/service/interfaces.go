// Package service defines the interfaces between the sync orchestrator and
// its collaborators.
package service

import (
	"context"
	"time"

	"github.com/plaidtext/beansync/internal/model"
)

// AccountInfo is the slice of Plaid account data the orchestrator needs:
// identity and type.
type AccountInfo struct {
	ID   string
	Type model.AccountType
}

// SyncResult is one page of a cursor-driven transaction sync.
type SyncResult struct {
	Added      []model.Transaction
	NextCursor string
	HasMore    bool
}

// InvestmentsResult is the full investment history for one item, with
// securities already joined onto the transactions.
type InvestmentsResult struct {
	Transactions []model.InvestmentTransaction
	Accounts     []AccountInfo
}

// TransactionSource fetches transaction data for one access token. The
// Plaid client implements it; tests substitute mocks.
type TransactionSource interface {
	GetAccounts(ctx context.Context, accessToken string) ([]AccountInfo, error)
	SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*SyncResult, error)
	GetInvestmentTransactions(ctx context.Context, accessToken string, startDate, endDate time.Time) (*InvestmentsResult, error)
}

// RawRecord is a fetched record as the upstream reported it, kept for
// diagnosing classification failures without re-fetching.
type RawRecord struct {
	Date          time.Time
	TransactionID string
	AccountID     string
	ItemID        string
	Kind          string // "transaction" or "investment"
	Name          string
	Amount        string
	Payload       string // upstream record serialized as JSON
}

// Archive persists raw fetched records and per-run bookkeeping. Archiving
// is best-effort: callers log archive errors and keep syncing.
type Archive interface {
	BeginRun(ctx context.Context, startedAt time.Time) (string, error)
	SaveRawRecords(ctx context.Context, runID string, records []RawRecord) error
	FinishRun(ctx context.Context, runID string, items, fetched int) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
