// Package resolver maps Plaid identifiers onto ledger account paths and
// per-account output files. The root ledger file's own account declarations
// are the configuration: open directives carrying plaid_* metadata keys are
// collected into lookup tables that stay read-only for the rest of the run.
package resolver

import (
	"path/filepath"
	"strings"

	"github.com/plaidtext/beansync/internal/ledger"
	"github.com/plaidtext/beansync/internal/model"
)

// Sentinel routes for records whose account metadata is missing. Entries
// resolved here are still written, which keeps misconfiguration visible in
// the output instead of silently dropping records.
const (
	UnknownAccount  = "Unknown"
	UnknownExpenses = "Expenses:Unknown"
)

// Item is one institution connection declared in the ledger.
type Item struct {
	ID          string
	AccessToken string
}

// PayeeRule maps a lower-cased payee string to an expense account. Rules
// keep their declaration order; the first match wins.
type PayeeRule struct {
	Payee   string
	Account string
}

// Mappings holds every lookup table resolved from the root ledger file.
type Mappings struct {
	accountsByPlaidID map[string]*model.Account
	expenseByCategory map[string]string
	cursors           map[string]model.Cursor
	payeeRules        []PayeeRule
	items             []Item
	rootDir           string
}

// Load parses the root ledger file (following includes) and resolves all
// mappings.
func Load(rootPath string) (*Mappings, error) {
	tree, err := ledger.Load(rootPath)
	if err != nil {
		return nil, err
	}
	return FromTree(tree, filepath.Dir(rootPath)), nil
}

// FromTree resolves mappings from an already-loaded tree. Account
// declarations missing required metadata are silently excluded; callers
// must treat absence as "route to the unknown bucket".
func FromTree(tree *ledger.Tree, rootDir string) *Mappings {
	m := &Mappings{
		accountsByPlaidID: map[string]*model.Account{},
		expenseByCategory: map[string]string{},
		cursors:           map[string]model.Cursor{},
		rootDir:           rootDir,
	}

	seenItems := map[string]bool{}
	for _, open := range tree.Opens() {
		if plaidID, ok := open.Meta[ledger.MetaAccountID]; ok {
			m.accountsByPlaidID[plaidID] = &model.Account{
				PlaidID:    plaidID,
				LedgerName: open.Account,
				OutputFile: outputFile(open),
				ItemID:     open.Meta[ledger.MetaItemID],
			}
		}
		if category, ok := open.Meta[ledger.MetaCategory]; ok {
			m.expenseByCategory[category] = open.Account
		}
		if payees, ok := open.Meta[ledger.MetaPayees]; ok {
			for _, payee := range strings.Split(payees, ",") {
				payee = strings.ToLower(strings.TrimSpace(payee))
				if payee == "" {
					continue
				}
				m.payeeRules = append(m.payeeRules, PayeeRule{Payee: payee, Account: open.Account})
			}
		}
		itemID, hasItem := open.Meta[ledger.MetaItemID]
		token, hasToken := open.Meta[ledger.MetaAccessToken]
		if hasItem && hasToken && !seenItems[itemID] {
			seenItems[itemID] = true
			m.items = append(m.items, Item{ID: itemID, AccessToken: token})
		}
	}

	for _, custom := range tree.Customs() {
		if custom.Type != ledger.CursorDirective || len(custom.Values) < 3 {
			continue
		}
		cursor := model.Cursor{
			Date:    custom.Date,
			Account: custom.Values[0],
			Token:   custom.Values[1],
			ItemID:  custom.Values[2],
		}
		// Newer directives supersede older ones for the same item; older
		// ones stay in the file but stop mattering.
		if existing, ok := m.cursors[cursor.ItemID]; !ok || !cursor.Date.Before(existing.Date) {
			m.cursors[cursor.ItemID] = cursor
		}
	}

	return m
}

// Account looks up the resolved account for a Plaid account id.
func (m *Mappings) Account(plaidID string) (*model.Account, bool) {
	account, ok := m.accountsByPlaidID[plaidID]
	return account, ok
}

// Accounts returns every resolved account keyed by Plaid account id.
func (m *Mappings) Accounts() map[string]*model.Account {
	return m.accountsByPlaidID
}

// CategoryAccount looks up the expense account declared for a detailed
// category key.
func (m *Mappings) CategoryAccount(detailed string) (string, bool) {
	account, ok := m.expenseByCategory[detailed]
	return account, ok
}

// PayeeAccount finds the expense account whose payee rule exactly matches
// the lower-cased payee. Declaration order breaks ties.
func (m *Mappings) PayeeAccount(payee string) (string, bool) {
	payee = strings.ToLower(strings.TrimSpace(payee))
	if payee == "" {
		return "", false
	}
	for _, rule := range m.payeeRules {
		if rule.Payee == payee {
			return rule.Account, true
		}
	}
	return "", false
}

// PayeeAccountSubstring finds the first payee rule contained anywhere in
// the lower-cased payee text. Used by recategorization when no exact rule
// matches.
func (m *Mappings) PayeeAccountSubstring(payee string) (string, bool) {
	payee = strings.ToLower(strings.TrimSpace(payee))
	if payee == "" {
		return "", false
	}
	for _, rule := range m.payeeRules {
		if strings.Contains(payee, rule.Payee) {
			return rule.Account, true
		}
	}
	return "", false
}

// Items returns the institution connections in declaration order.
func (m *Mappings) Items() []Item {
	return m.items
}

// Cursor returns the most recent cursor token recorded for an item.
func (m *Mappings) Cursor(itemID string) (string, bool) {
	cursor, ok := m.cursors[itemID]
	return cursor.Token, ok
}

// OutputFiles returns the distinct output files of all resolved accounts,
// as paths relative to the root ledger file's directory.
func (m *Mappings) OutputFiles() []string {
	seen := map[string]bool{}
	var files []string
	for _, account := range m.accountsByPlaidID {
		if account.OutputFile == "" || seen[account.OutputFile] {
			continue
		}
		seen[account.OutputFile] = true
		files = append(files, account.OutputFile)
	}
	return files
}

// RootDir returns the directory output files are relative to.
func (m *Mappings) RootDir() string {
	return m.rootDir
}

// outputFile picks an account's output file: an explicit transaction_file
// declaration wins, otherwise the path is derived from the account name.
func outputFile(open *ledger.Open) string {
	if file, ok := open.Meta[ledger.MetaTransactionFile]; ok {
		return file
	}
	return DeriveOutputFile(open.Account)
}

// DeriveOutputFile derives an output file from a ledger account path.
// Credit-card accounts keep their institution and card segments; any other
// account uses the first two segments after the top-level category. An
// account with a single usable segment doubles it, matching the
// accounts/checking/checking.beancount convention.
func DeriveOutputFile(account string) string {
	parts := strings.Split(account, ":")
	if len(parts) >= 4 && parts[0] == "Liabilities" && parts[1] == "Credit-Card" {
		return filepath.Join("accounts", parts[2], parts[3]+".beancount")
	}
	switch {
	case len(parts) >= 3:
		return filepath.Join("accounts", parts[1], parts[2]+".beancount")
	case len(parts) == 2:
		return filepath.Join("accounts", parts[1], parts[1]+".beancount")
	default:
		return filepath.Join("accounts", account, account+".beancount")
	}
}
