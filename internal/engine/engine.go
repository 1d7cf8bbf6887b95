// Package engine drives the sync run: it walks every declared item,
// pages through its transaction stream, classifies each record and merges
// the resulting entries into the per-account ledger files. Execution is
// deliberately sequential and blocking; the only suspension points are
// API round-trips and rate-limit backoff.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/plaidtext/beansync/internal/classify"
	"github.com/plaidtext/beansync/internal/common"
	"github.com/plaidtext/beansync/internal/ledger"
	"github.com/plaidtext/beansync/internal/merge"
	"github.com/plaidtext/beansync/internal/model"
	"github.com/plaidtext/beansync/internal/resolver"
	"github.com/plaidtext/beansync/internal/service"
)

// defaultPageSize matches the page size used against the sync endpoint.
const defaultPageSize = 100

// defaultInvestmentStart bounds the investment history request. Plaid
// returns nothing earlier than this for consumer items.
var defaultInvestmentStart = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

// Syncer orchestrates one sync run over all items declared in the root
// ledger file.
type Syncer struct {
	source          service.TransactionSource
	archive         service.Archive
	logger          *slog.Logger
	investmentStart time.Time
	retryOpts       service.RetryOptions
	pageSize        int
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithArchive enables best-effort archiving of raw fetched records.
func WithArchive(archive service.Archive) Option {
	return func(s *Syncer) { s.archive = archive }
}

// WithPageSize overrides the sync page size.
func WithPageSize(size int) Option {
	return func(s *Syncer) { s.pageSize = size }
}

// WithInvestmentStart overrides the start of the investment history window.
func WithInvestmentStart(start time.Time) Option {
	return func(s *Syncer) { s.investmentStart = start }
}

// WithRetryOptions overrides the retry behavior for API calls.
func WithRetryOptions(opts service.RetryOptions) Option {
	return func(s *Syncer) { s.retryOpts = opts }
}

// New creates a Syncer over the given transaction source.
func New(source service.TransactionSource, opts ...Option) *Syncer {
	s := &Syncer{
		source:          source,
		logger:          slog.Default().With("component", "engine"),
		pageSize:        defaultPageSize,
		investmentStart: defaultInvestmentStart,
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result summarizes a sync run.
type Result struct {
	SkippedItems           []string // items needing reauthorization
	FailedItems            []string // items that hard-failed
	ItemsSynced            int
	TransactionsFetched    int
	EntriesWritten         int
	ClassificationFailures int
}

// Sync fetches, classifies and merges transactions for every item in the
// root ledger file. Items needing reauthorization are skipped; per-record
// classification failures are logged with the raw payload and do not
// abort the batch.
func (s *Syncer) Sync(ctx context.Context, rootPath string) (*Result, error) {
	mappings, err := resolver.Load(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load root ledger: %w", err)
	}
	classifier := classify.New(mappings)

	result := &Result{}
	runID := s.beginRun(ctx)

	// Entries accumulate per output file (relative to the root dir) across
	// items, so one merge pass per file runs at the end.
	batches := map[string][]*ledger.Transaction{}
	rootDir := filepath.Dir(rootPath)

	for _, item := range mappings.Items() {
		if err := s.syncItem(ctx, rootPath, item, mappings, classifier, batches, runID, result); err != nil {
			switch {
			case errors.Is(err, common.ErrReauthRequired):
				s.logger.Warn("Item requires reauthorization, skipping; relink it with Plaid Link to resume syncing",
					"item_id", item.ID)
				result.SkippedItems = append(result.SkippedItems, item.ID)
			default:
				s.logger.Error("Item sync failed", "item_id", item.ID, "error", err)
				result.FailedItems = append(result.FailedItems, item.ID)
			}
			continue
		}
		result.ItemsSynced++
	}

	for _, path := range sortedKeys(batches) {
		written, err := merge.AppendEntries(filepath.Join(rootDir, path), batches[path])
		if err != nil {
			return result, fmt.Errorf("failed to merge entries into %s: %w", path, err)
		}
		result.EntriesWritten += written
	}

	s.finishRun(ctx, runID, len(mappings.Items()), result.TransactionsFetched)
	return result, nil
}

// syncItem pages through one item's transaction stream and investment
// history, classifying as it goes and persisting the cursor after every
// page, even an empty one, so consumed ranges are never re-requested.
func (s *Syncer) syncItem(ctx context.Context, rootPath string, item resolver.Item, mappings *resolver.Mappings, classifier *classify.Classifier, batches map[string][]*ledger.Transaction, runID string, result *Result) error {
	accounts, err := s.getAccounts(ctx, item.AccessToken)
	if err != nil {
		return err
	}
	accountTypes := map[string]model.AccountType{}
	for _, account := range accounts {
		accountTypes[account.ID] = account.Type
	}

	cursor, _ := mappings.Cursor(item.ID)
	for {
		page, err := s.syncPage(ctx, item.AccessToken, cursor)
		if err != nil {
			return err
		}
		cursor = page.NextCursor

		var raw []service.RawRecord
		for i := range page.Added {
			txn := &page.Added[i]
			account := s.resolveAccount(mappings, txn.AccountID, accountTypes, item.ID)
			entry := classifier.BuildEntry(txn, account)
			s.addEntry(batches, account, entry)
			raw = append(raw, rawRecord(txn, item.ID))
		}
		result.TransactionsFetched += len(page.Added)
		s.archiveRecords(ctx, runID, raw)

		if err := s.persistCursor(rootPath, item.ID, cursor); err != nil {
			return err
		}
		if !page.HasMore {
			break
		}
	}

	return s.syncInvestments(ctx, item, mappings, classifier, batches, accountTypes, runID, result)
}

// syncInvestments fetches and classifies the item's investment history.
func (s *Syncer) syncInvestments(ctx context.Context, item resolver.Item, mappings *resolver.Mappings, classifier *classify.Classifier, batches map[string][]*ledger.Transaction, accountTypes map[string]model.AccountType, runID string, result *Result) error {
	var investments *service.InvestmentsResult
	err := common.WithRetry(ctx, func() error {
		var fetchErr error
		investments, fetchErr = s.source.GetInvestmentTransactions(ctx, item.AccessToken, s.investmentStart, time.Now())
		return fetchErr
	}, s.retryOpts)
	if err != nil {
		return err
	}

	for _, account := range investments.Accounts {
		accountTypes[account.ID] = account.Type
	}

	var raw []service.RawRecord
	for i := range investments.Transactions {
		txn := &investments.Transactions[i]
		account := s.resolveAccount(mappings, txn.AccountID, accountTypes, item.ID)
		entry, err := classifier.BuildInvestmentEntry(txn, account)
		if err != nil {
			// Fail loudly per record: new upstream vocabulary must be added
			// to the classification table, never silently miscategorized.
			s.logger.Error("Failed to classify investment transaction",
				"item_id", item.ID,
				"transaction_id", txn.ID,
				"error", err,
				"raw", rawPayload(txn))
			result.ClassificationFailures++
			continue
		}
		s.addEntry(batches, account, entry)
		raw = append(raw, investmentRawRecord(txn, item.ID))
	}
	result.TransactionsFetched += len(investments.Transactions)
	s.archiveRecords(ctx, runID, raw)
	return nil
}

func (s *Syncer) getAccounts(ctx context.Context, accessToken string) ([]service.AccountInfo, error) {
	var accounts []service.AccountInfo
	err := common.WithRetry(ctx, func() error {
		var fetchErr error
		accounts, fetchErr = s.source.GetAccounts(ctx, accessToken)
		if fetchErr != nil && errors.Is(fetchErr, common.ErrReauthRequired) {
			return &common.RetryableError{Err: fetchErr, Retryable: false}
		}
		return fetchErr
	}, s.retryOpts)
	return accounts, err
}

func (s *Syncer) syncPage(ctx context.Context, accessToken, cursor string) (*service.SyncResult, error) {
	var page *service.SyncResult
	err := common.WithRetry(ctx, func() error {
		var fetchErr error
		page, fetchErr = s.source.SyncTransactions(ctx, accessToken, cursor, s.pageSize)
		if fetchErr != nil && errors.Is(fetchErr, common.ErrReauthRequired) {
			return &common.RetryableError{Err: fetchErr, Retryable: false}
		}
		return fetchErr
	}, s.retryOpts)
	return page, err
}

// resolveAccount looks up the declared account for a Plaid account id,
// filling in the type reported by the API. Undeclared accounts resolve to
// the Unknown sentinel so their entries stay visible in the output.
func (s *Syncer) resolveAccount(mappings *resolver.Mappings, accountID string, accountTypes map[string]model.AccountType, itemID string) *model.Account {
	if account, ok := mappings.Account(accountID); ok {
		account.Type = accountTypes[accountID]
		return account
	}
	s.logger.Warn("No ledger declaration for account, routing to unknown bucket",
		"account_id", accountID,
		"item_id", itemID)
	return &model.Account{
		PlaidID:    accountID,
		LedgerName: resolver.UnknownAccount,
		OutputFile: resolver.DeriveOutputFile(resolver.UnknownAccount),
		ItemID:     itemID,
	}
}

func (s *Syncer) addEntry(batches map[string][]*ledger.Transaction, account *model.Account, entry *ledger.Transaction) {
	batches[account.OutputFile] = append(batches[account.OutputFile], entry)
}

// persistCursor appends a superseding plaid_cursor directive to the root
// file. Older directives for the item remain but stop mattering.
func (s *Syncer) persistCursor(rootPath, itemID, cursor string) error {
	if cursor == "" {
		return nil
	}
	custom := &ledger.Custom{
		Date:   time.Now(),
		Type:   ledger.CursorDirective,
		Values: []string{itemID, cursor, itemID},
	}

	f, err := os.OpenFile(rootPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open root file for cursor update: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "\n%s\n", ledger.FormatCustom(custom)); err != nil {
		return fmt.Errorf("failed to persist cursor: %w", err)
	}
	return nil
}

func (s *Syncer) beginRun(ctx context.Context) string {
	if s.archive == nil {
		return ""
	}
	runID, err := s.archive.BeginRun(ctx, time.Now())
	if err != nil {
		s.logger.Warn("Failed to begin archive run", "error", err)
		return ""
	}
	return runID
}

func (s *Syncer) archiveRecords(ctx context.Context, runID string, records []service.RawRecord) {
	if s.archive == nil || runID == "" || len(records) == 0 {
		return
	}
	if err := s.archive.SaveRawRecords(ctx, runID, records); err != nil {
		s.logger.Warn("Failed to archive raw records", "error", err, "count", len(records))
	}
}

func (s *Syncer) finishRun(ctx context.Context, runID string, items, fetched int) {
	if s.archive == nil || runID == "" {
		return
	}
	if err := s.archive.FinishRun(ctx, runID, items, fetched); err != nil {
		s.logger.Warn("Failed to finish archive run", "error", err)
	}
}

func rawRecord(txn *model.Transaction, itemID string) service.RawRecord {
	return service.RawRecord{
		Date:          txn.Date,
		TransactionID: txn.ID,
		AccountID:     txn.AccountID,
		ItemID:        itemID,
		Kind:          "transaction",
		Name:          txn.Name,
		Amount:        txn.Amount.String(),
		Payload:       rawPayload(txn),
	}
}

func investmentRawRecord(txn *model.InvestmentTransaction, itemID string) service.RawRecord {
	return service.RawRecord{
		Date:          txn.Date,
		TransactionID: txn.ID,
		AccountID:     txn.AccountID,
		ItemID:        itemID,
		Kind:          "investment",
		Name:          txn.Name,
		Amount:        txn.Amount.String(),
		Payload:       rawPayload(txn),
	}
}

// rawPayload serializes a record for logs and the archive.
func rawPayload(v any) string {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(payload)
}

func sortedKeys(batches map[string][]*ledger.Transaction) []string {
	keys := make([]string, 0, len(batches))
	for key := range batches {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
