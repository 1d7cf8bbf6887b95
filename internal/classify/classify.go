// Package classify turns fetched Plaid transactions into balanced ledger
// entries. Classification is a pure function of the input record and the
// resolved account mappings: no hidden state, no ordering dependency
// between transactions.
package classify

import (
	"github.com/plaidtext/beansync/internal/ledger"
	"github.com/plaidtext/beansync/internal/model"
	"github.com/plaidtext/beansync/internal/resolver"
)

// Classifier builds ledger entries from external transactions using the
// account and rule mappings resolved at the start of the run.
type Classifier struct {
	mappings *resolver.Mappings
}

// New creates a classifier over the given mappings.
func New(mappings *resolver.Mappings) *Classifier {
	return &Classifier{mappings: mappings}
}

// BuildEntry converts one ordinary transaction into a two-posting entry:
// the account posting with the negated amount, and the resolved expense
// posting with the positive amount. account may be nil when the record's
// account id had no declaration; the entry is then routed to the Unknown
// sentinel so the misconfiguration shows up in the output.
func (c *Classifier) BuildEntry(txn *model.Transaction, account *model.Account) *ledger.Transaction {
	accountName := resolver.UnknownAccount
	if account != nil && account.LedgerName != "" {
		accountName = account.LedgerName
	}

	currency := txn.Currency
	if currency == "" {
		currency = "USD"
	}

	entry := &ledger.Transaction{
		Date:      txn.Date,
		Flag:      "!",
		Payee:     txn.Payee(),
		Narration: txn.Name,
		Meta: map[string]string{
			ledger.MetaTransactionID: txn.ID,
		},
		Postings: []ledger.Posting{
			{Account: accountName, Units: &ledger.Amount{Number: txn.Amount.Neg(), Currency: currency}},
			{Account: c.ExpenseAccount(txn), Units: &ledger.Amount{Number: txn.Amount, Currency: currency}},
		},
	}
	if txn.CategoryDetailed != "" {
		entry.Meta[ledger.MetaCategoryDetailed] = txn.CategoryDetailed
	}
	return entry
}

// ExpenseAccount resolves the expense side of an ordinary transaction:
// an exact payee rule wins over the category mapping, and anything left
// over lands in Expenses:Unknown.
func (c *Classifier) ExpenseAccount(txn *model.Transaction) string {
	if account, ok := c.mappings.PayeeAccount(txn.Payee()); ok {
		return account
	}
	if account, ok := c.mappings.CategoryAccount(txn.CategoryDetailed); ok {
		return account
	}
	return resolver.UnknownExpenses
}
