// Package ledger reads and writes beancount-formatted ledger files. It
// parses the subset of the syntax this tool generates and consumes: open
// directives with metadata, transactions with postings, custom directives,
// includes and plugins. Every parsed directive carries the span of source
// lines it came from so callers can rewrite a single directive in place
// without disturbing surrounding text.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Span locates a directive inside its source file. Lines are 1-based and
// the range is inclusive.
type Span struct {
	StartLine int
	EndLine   int
}

// Amount is a number with a currency or commodity code.
type Amount struct {
	Number   decimal.Decimal
	Currency string
}

// Posting is one leg of a transaction. Units may be nil for a posting whose
// value is implied by balancing (e.g. a capital-gains leg). Price, when
// set, is the per-unit cost in its own currency.
type Posting struct {
	Units   *Amount
	Price   *Amount
	Account string
}

// Transaction is a dated, balanced double-entry record.
type Transaction struct {
	Date      time.Time
	Flag      string // "*" cleared, "!" pending
	Payee     string
	Narration string
	Meta      map[string]string
	Postings  []Posting
	Span      Span
}

// Open declares an account, optionally carrying string-keyed metadata. The
// metadata is the configuration surface for this tool: plaid_account_id,
// plaid_category, plaid_item_id, plaid_access_token, transaction_file and
// payees keys are all read from Open directives.
type Open struct {
	Date    time.Time
	Account string
	Meta    map[string]string
	Span    Span
}

// Custom is a freeform dated directive with positional string values.
type Custom struct {
	Date   time.Time
	Type   string
	Values []string
	Span   Span
}

// Include pulls another ledger file into the tree, relative to the
// including file's directory.
type Include struct {
	Path string
	Span Span
}

// Plugin names a beancount plugin module. This tool cannot load plugins;
// they are surfaced as validation findings that callers may whitelist.
type Plugin struct {
	Module string
	Span   Span
}

// TransactionID returns the plaid_transaction_id metadata value, or empty.
func (t *Transaction) TransactionID() string {
	return t.Meta[MetaTransactionID]
}

// Metadata keys written and read by this tool.
const (
	MetaTransactionID    = "plaid_transaction_id"
	MetaCategoryDetailed = "plaid_category_detailed"
	MetaAccountID        = "plaid_account_id"
	MetaCategory         = "plaid_category"
	MetaItemID           = "plaid_item_id"
	MetaAccessToken      = "plaid_access_token"
	MetaTransactionFile  = "transaction_file"
	MetaPayees           = "payees"
)

// CursorDirective is the custom directive type used to persist sync cursors.
const CursorDirective = "plaid_cursor"
