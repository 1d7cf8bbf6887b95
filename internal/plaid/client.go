// Package plaid provides a client for interacting with the Plaid API.
package plaid

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"

	"github.com/plaidtext/beansync/internal/common"
	"github.com/plaidtext/beansync/internal/model"
	"github.com/plaidtext/beansync/internal/service"
)

// defaultRetryAfter is used when a rate-limited response does not carry a
// Retry-After header.
const defaultRetryAfter = 60 * time.Second

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: plaid client ID is required", common.ErrMissingConfig)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: plaid secret is required", common.ErrMissingConfig)
	}
	switch c.Environment {
	case "sandbox", "production":
		return nil
	case "":
		return fmt.Errorf("%w: plaid environment is required", common.ErrMissingConfig)
	default:
		return fmt.Errorf("%w: invalid Plaid environment %q: must be sandbox or production", common.ErrInvalidConfig, c.Environment)
	}
}

// Client implements the service.TransactionSource interface over the Plaid
// API. Access tokens are passed per call because one client serves every
// item in a sync run.
type Client struct {
	client *plaid.APIClient
	logger *slog.Logger
}

// NewClient creates a new Plaid client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &Client{
		client: plaid.NewAPIClient(configuration),
		logger: slog.Default().With("component", "plaid"),
	}, nil
}

// GetAccounts fetches account identities and types for one item.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) ([]service.AccountInfo, error) {
	request := plaid.NewAccountsGetRequest(accessToken)
	resp, httpResp, err := c.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
	if err != nil {
		return nil, c.classifyError(err, httpResp, "failed to fetch accounts")
	}

	accounts := make([]service.AccountInfo, 0, len(resp.GetAccounts()))
	for _, account := range resp.GetAccounts() {
		accounts = append(accounts, service.AccountInfo{
			ID:   account.GetAccountId(),
			Type: model.AccountType(account.GetType()),
		})
	}

	c.logger.Debug("Fetched accounts", "count", len(accounts))
	return accounts, nil
}

// SyncTransactions fetches one page of the item's transaction stream from
// the given cursor position.
func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*service.SyncResult, error) {
	request := plaid.NewTransactionsSyncRequest(accessToken)
	if cursor != "" {
		request.SetCursor(cursor)
	}
	if count > 0 {
		request.SetCount(int32(count))
	}

	resp, httpResp, err := c.client.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*request).Execute()
	if err != nil {
		return nil, c.classifyError(err, httpResp, "failed to sync transactions")
	}

	added := make([]model.Transaction, 0, len(resp.GetAdded()))
	for _, pt := range resp.GetAdded() {
		added = append(added, c.mapTransaction(pt))
	}

	c.logger.Debug("Fetched transaction page",
		"added", len(added),
		"has_more", resp.GetHasMore())

	return &service.SyncResult{
		Added:      added,
		HasMore:    resp.GetHasMore(),
		NextCursor: resp.GetNextCursor(),
	}, nil
}

// GetInvestmentTransactions fetches the item's investment transactions in
// the date range, paging by offset and joining securities by id.
func (c *Client) GetInvestmentTransactions(ctx context.Context, accessToken string, startDate, endDate time.Time) (*service.InvestmentsResult, error) {
	securities := map[string]plaid.Security{}
	var raw []plaid.InvestmentTransaction
	var accounts []service.AccountInfo

	offset := int32(0)
	for {
		request := plaid.NewInvestmentsTransactionsGetRequest(
			accessToken,
			startDate.Format("2006-01-02"),
			endDate.Format("2006-01-02"),
		)
		if offset > 0 {
			options := plaid.InvestmentsTransactionsGetRequestOptions{Offset: plaid.PtrInt32(offset)}
			request.SetOptions(options)
		}

		resp, httpResp, err := c.client.PlaidApi.InvestmentsTransactionsGet(ctx).InvestmentsTransactionsGetRequest(*request).Execute()
		if err != nil {
			return nil, c.classifyError(err, httpResp, "failed to fetch investment transactions")
		}

		for _, security := range resp.GetSecurities() {
			securities[security.GetSecurityId()] = security
		}
		if offset == 0 {
			for _, account := range resp.GetAccounts() {
				accounts = append(accounts, service.AccountInfo{
					ID:   account.GetAccountId(),
					Type: model.AccountType(account.GetType()),
				})
			}
		}
		raw = append(raw, resp.GetInvestmentTransactions()...)

		total := resp.GetTotalInvestmentTransactions()
		if int32(len(raw)) >= total || len(resp.GetInvestmentTransactions()) == 0 {
			break
		}
		offset = int32(len(raw))
	}

	transactions := make([]model.InvestmentTransaction, 0, len(raw))
	for _, it := range raw {
		transactions = append(transactions, c.mapInvestmentTransaction(it, securities))
	}

	c.logger.Debug("Fetched investment transactions", "count", len(transactions))
	return &service.InvestmentsResult{Transactions: transactions, Accounts: accounts}, nil
}

// mapTransaction converts a Plaid transaction to our internal model.
func (c *Client) mapTransaction(pt plaid.Transaction) model.Transaction {
	date, err := time.Parse("2006-01-02", pt.GetDate())
	if err != nil {
		c.logger.Error("Failed to parse transaction date", "date", pt.GetDate(), "error", err)
		date = time.Now()
	}

	txn := model.Transaction{
		Date:         date,
		ID:           pt.GetTransactionId(),
		Name:         pt.GetName(),
		MerchantName: pt.GetMerchantName(),
		AccountID:    pt.GetAccountId(),
		Amount:       decimal.NewFromFloat(pt.GetAmount()),
		Currency:     pt.GetIsoCurrencyCode(),
		Pending:      pt.GetPending(),
	}

	if authorized, err := time.Parse("2006-01-02", pt.GetAuthorizedDate()); err == nil {
		txn.AuthorizedDate = &authorized
	}
	if pfc, ok := pt.GetPersonalFinanceCategoryOk(); ok && pfc != nil {
		txn.CategoryPrimary = pfc.GetPrimary()
		txn.CategoryDetailed = pfc.GetDetailed()
	}

	return txn
}

// mapInvestmentTransaction converts a Plaid investment transaction,
// joining its security from the response's securities table.
func (c *Client) mapInvestmentTransaction(it plaid.InvestmentTransaction, securities map[string]plaid.Security) model.InvestmentTransaction {
	date, err := time.Parse("2006-01-02", it.GetDate())
	if err != nil {
		c.logger.Error("Failed to parse investment transaction date", "date", it.GetDate(), "error", err)
		date = time.Now()
	}

	txn := model.InvestmentTransaction{
		Date:      date,
		ID:        it.GetInvestmentTransactionId(),
		Name:      it.GetName(),
		AccountID: it.GetAccountId(),
		Currency:  it.GetIsoCurrencyCode(),
		Type:      string(it.GetType()),
		Subtype:   string(it.GetSubtype()),
		Quantity:  decimal.NewFromFloat(it.GetQuantity()),
		Price:     decimal.NewFromFloat(it.GetPrice()),
		Amount:    decimal.NewFromFloat(it.GetAmount()),
		Fees:      decimal.NewFromFloat(it.GetFees()),
	}

	if security, ok := securities[it.GetSecurityId()]; ok {
		txn.Security = model.Security{
			ID:               security.GetSecurityId(),
			Name:             security.GetName(),
			Ticker:           security.GetTickerSymbol(),
			Type:             security.GetType(),
			ISIN:             security.GetIsin(),
			CUSIP:            security.GetCusip(),
			IsCashEquivalent: security.GetIsCashEquivalent(),
		}
	}

	return txn
}

// classifyError maps Plaid API failures onto the application's error
// taxonomy: reauthorization, rate limiting (with the server's Retry-After
// when present), or a wrapped generic failure.
func (c *Client) classifyError(err error, httpResp *http.Response, msg string) error {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}

	switch plaidErr.ErrorCode {
	case "ITEM_LOGIN_REQUIRED":
		return fmt.Errorf("%s: %w", msg, common.ErrReauthRequired)
	case "RATE_LIMIT_EXCEEDED":
		retryAfter := defaultRetryAfter
		if httpResp != nil {
			if header := httpResp.Header.Get("Retry-After"); header != "" {
				if seconds, parseErr := strconv.Atoi(header); parseErr == nil && seconds > 0 {
					retryAfter = time.Duration(seconds) * time.Second
				}
			}
		}
		return fmt.Errorf("%s: %w", msg, &common.RateLimitError{RetryAfter: retryAfter})
	default:
		return fmt.Errorf("%s: plaid API error: %s - %s", msg, plaidErr.ErrorCode, plaidErr.ErrorMessage)
	}
}

// Ensure Client implements TransactionSource.
var _ service.TransactionSource = (*Client)(nil)
