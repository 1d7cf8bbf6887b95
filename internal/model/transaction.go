// Package model defines the domain types shared across the application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a single ordinary transaction fetched from Plaid.
// Amounts follow Plaid's sign convention: positive means money leaving the
// account.
type Transaction struct {
	Date             time.Time
	AuthorizedDate   *time.Time
	ID               string
	Name             string // Raw transaction description
	MerchantName     string // May be empty; fall back to Name
	AccountID        string
	Currency         string
	CategoryPrimary  string
	CategoryDetailed string
	Amount           decimal.Decimal
	Pending          bool
}

// Payee returns the text used for payee-rule matching: the merchant name
// when Plaid reports one, otherwise the raw description.
func (t *Transaction) Payee() string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.Name
}
