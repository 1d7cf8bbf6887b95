package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Security identifies the instrument an investment transaction touched.
type Security struct {
	ID               string
	Name             string
	Ticker           string
	Type             string
	ISIN             string
	CUSIP            string
	IsCashEquivalent bool
}

// InvestmentTransaction represents a single investment transaction fetched
// from Plaid. Quantity and Price may be reported as zero for some
// institutions even when the transaction moved shares; the classifier
// compensates.
type InvestmentTransaction struct {
	Date      time.Time
	ID        string
	Name      string
	AccountID string
	Currency  string
	Type      string
	Subtype   string
	Security  Security
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Fees      decimal.Decimal
}
