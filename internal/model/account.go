package model

import "time"

// AccountType mirrors Plaid's account type vocabulary.
type AccountType string

// Known account types.
const (
	AccountDepository AccountType = "depository"
	AccountCredit     AccountType = "credit"
	AccountLoan       AccountType = "loan"
	AccountInvestment AccountType = "investment"
	AccountOther      AccountType = "other"
)

// Account ties a Plaid account to its ledger representation. LedgerName and
// OutputFile are resolved once per run from the root ledger file's account
// declarations and do not change mid-run.
type Account struct {
	PlaidID    string
	LedgerName string // e.g. "Assets:Bank:Checking"
	OutputFile string // relative to the root ledger file's directory
	ItemID     string
	Type       AccountType
}

// Cursor marks the last-consumed position in an item's transaction stream.
// Cursors are persisted as plaid_cursor custom directives; only the most
// recent per item is meaningful.
type Cursor struct {
	Date    time.Time
	Account string
	Token   string
	ItemID  string
}
