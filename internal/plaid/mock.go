package plaid

import (
	"context"
	"time"

	"github.com/plaidtext/beansync/internal/service"
)

// MockSource is a mock implementation of service.TransactionSource for
// testing.
type MockSource struct {
	// Functions that can be set by tests to control behavior
	GetAccountsFn               func(ctx context.Context, accessToken string) ([]service.AccountInfo, error)
	SyncTransactionsFn          func(ctx context.Context, accessToken, cursor string, count int) (*service.SyncResult, error)
	GetInvestmentTransactionsFn func(ctx context.Context, accessToken string, startDate, endDate time.Time) (*service.InvestmentsResult, error)

	// Call tracking
	GetAccountsCalls    []string
	SyncCalls           []SyncCall
	GetInvestmentsCalls []string
}

// SyncCall records the parameters of a SyncTransactions call.
type SyncCall struct {
	AccessToken string
	Cursor      string
	Count       int
}

// NewMockSource creates a new mock transaction source.
func NewMockSource() *MockSource {
	return &MockSource{}
}

// GetAccounts implements service.TransactionSource.
func (m *MockSource) GetAccounts(ctx context.Context, accessToken string) ([]service.AccountInfo, error) {
	m.GetAccountsCalls = append(m.GetAccountsCalls, accessToken)

	if m.GetAccountsFn != nil {
		return m.GetAccountsFn(ctx, accessToken)
	}
	return []service.AccountInfo{}, nil
}

// SyncTransactions implements service.TransactionSource.
func (m *MockSource) SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*service.SyncResult, error) {
	m.SyncCalls = append(m.SyncCalls, SyncCall{AccessToken: accessToken, Cursor: cursor, Count: count})

	if m.SyncTransactionsFn != nil {
		return m.SyncTransactionsFn(ctx, accessToken, cursor, count)
	}
	return &service.SyncResult{}, nil
}

// GetInvestmentTransactions implements service.TransactionSource.
func (m *MockSource) GetInvestmentTransactions(ctx context.Context, accessToken string, startDate, endDate time.Time) (*service.InvestmentsResult, error) {
	m.GetInvestmentsCalls = append(m.GetInvestmentsCalls, accessToken)

	if m.GetInvestmentTransactionsFn != nil {
		return m.GetInvestmentTransactionsFn(ctx, accessToken, startDate, endDate)
	}
	return &service.InvestmentsResult{}, nil
}

// Reset clears all call tracking.
func (m *MockSource) Reset() {
	m.GetAccountsCalls = nil
	m.SyncCalls = nil
	m.GetInvestmentsCalls = nil
}

// Ensure MockSource implements TransactionSource.
var _ service.TransactionSource = (*MockSource)(nil)
