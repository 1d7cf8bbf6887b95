package classify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/plaidtext/beansync/internal/common"
	"github.com/plaidtext/beansync/internal/ledger"
	"github.com/plaidtext/beansync/internal/model"
	"github.com/plaidtext/beansync/internal/resolver"
)

// transferAccount receives the other side of plain deposits and
// withdrawals in and out of a brokerage cash balance.
const transferAccount = "Assets:Transfer"

// investmentClass enumerates the semantic classes of investment
// transactions this tool understands. Plaid's (type, subtype, name)
// vocabulary is open-ended; anything that does not map to a class is
// classUnrecognized and must be rejected loudly so new vocabulary gets
// added here instead of being silently miscategorized.
type investmentClass int

const (
	classUnrecognized investmentClass = iota
	classBuy                          // buy/*, and fee/"miscellaneous fee"
	classSell                         // sell/*
	classDividend                     // fee/dividend and cash/dividend
	classInterest                     // fee/interest, observed as sweep-out
	classSweepIn                      // cash/withdrawal or transfer/transfer named "Sweep in"
	classSweepOut                     // cash/deposit or transfer/transfer named "Sweep out"
	classDeposit                      // cash/deposit from outside the account
	classWithdrawal                   // cash/withdrawal leaving the account
)

// classifyInvestment maps Plaid's open-ended vocabulary onto a class. The
// name is consulted only where institutions reuse a subtype for sweeps.
func classifyInvestment(txnType, subtype, name string) investmentClass {
	switch txnType {
	case "buy":
		return classBuy
	case "sell":
		return classSell
	case "fee":
		switch subtype {
		case "miscellaneous fee":
			return classBuy
		case "dividend":
			return classDividend
		case "interest":
			return classInterest
		}
	case "cash":
		switch subtype {
		case "dividend":
			return classDividend
		case "deposit":
			if name == "Sweep out" {
				return classSweepOut
			}
			return classDeposit
		case "withdrawal":
			if name == "Sweep in" {
				return classSweepIn
			}
			return classWithdrawal
		}
	case "transfer":
		if subtype == "transfer" {
			switch name {
			case "Sweep in":
				return classSweepIn
			case "Sweep out":
				return classSweepOut
			}
		}
	}
	return classUnrecognized
}

// UnknownTypeError reports an investment transaction whose (type, subtype,
// name) combination is absent from the classification table.
type UnknownTypeError struct {
	Type    string
	Subtype string
	Name    string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown investment transaction type: %s - %s (name %q)", e.Type, e.Subtype, e.Name)
}

func (e *UnknownTypeError) Unwrap() error {
	return common.ErrUnknownTransaction
}

// BuildInvestmentEntry converts one investment transaction into a balanced
// entry per the classification table. Postings are priced in USD; some
// institutions omit quantity and price on sweep-like records, in which
// case the amount substitutes for the quantity and 1.0 for the price.
func (c *Classifier) BuildInvestmentEntry(txn *model.InvestmentTransaction, account *model.Account) (*ledger.Transaction, error) {
	accountName := resolver.UnknownAccount
	if account != nil && account.LedgerName != "" {
		accountName = account.LedgerName
	}
	ticker := txn.Security.Ticker

	usd := func(n decimal.Decimal) *ledger.Amount {
		return &ledger.Amount{Number: n, Currency: "USD"}
	}
	shares := func(n decimal.Decimal) *ledger.Amount {
		return &ledger.Amount{Number: n, Currency: ticker}
	}
	cash := accountName + ":Cash"
	holding := accountName + ":" + ticker

	quantity := txn.Quantity
	if quantity.IsZero() {
		quantity = txn.Amount
	}
	price := txn.Price
	if price.IsZero() {
		price = decimal.NewFromInt(1)
	}

	var postings []ledger.Posting
	switch classifyInvestment(txn.Type, txn.Subtype, txn.Name) {
	case classBuy:
		postings = []ledger.Posting{
			{Account: cash, Units: usd(txn.Amount.Neg())},
			{Account: holding, Units: shares(quantity), Price: usd(price)},
		}
	case classSell:
		postings = []ledger.Posting{
			{Account: holding, Units: shares(txn.Quantity.Neg()), Price: usd(txn.Price)},
			{Account: cash, Units: usd(txn.Amount)},
			// No units: beancount balances the gain externally. The account
			// concatenation matches files written by earlier versions.
			{Account: incomeAccount(accountName) + "Capital-Gains" + ticker},
		}
	case classDividend:
		postings = []ledger.Posting{
			{Account: incomeAccount(accountName) + ":Dividends:" + ticker, Units: usd(txn.Amount)},
			{Account: cash, Units: usd(txn.Amount.Neg())},
		}
	case classInterest, classSweepOut:
		postings = []ledger.Posting{
			{Account: holding, Units: shares(txn.Amount), Price: usd(txn.Price)},
			{Account: cash, Units: usd(txn.Amount.Neg())},
		}
	case classSweepIn:
		postings = []ledger.Posting{
			{Account: cash, Units: usd(txn.Amount.Neg())},
			{Account: holding, Units: shares(quantity), Price: usd(price)},
		}
	case classDeposit:
		postings = []ledger.Posting{
			{Account: transferAccount, Units: usd(txn.Amount)},
			{Account: cash, Units: usd(txn.Amount.Neg())},
		}
	case classWithdrawal:
		postings = []ledger.Posting{
			{Account: cash, Units: usd(txn.Amount.Neg())},
			{Account: transferAccount, Units: usd(txn.Amount)},
		}
	default:
		return nil, &UnknownTypeError{Type: txn.Type, Subtype: txn.Subtype, Name: txn.Name}
	}

	return &ledger.Transaction{
		Date:      txn.Date,
		Flag:      "!",
		Payee:     ticker,
		Narration: txn.Name,
		Meta: map[string]string{
			ledger.MetaTransactionID: txn.ID,
		},
		Postings: postings,
	}, nil
}

// incomeAccount swaps the institution path's top-level Assets segment for
// Income, preserving the rest of the hierarchy.
func incomeAccount(account string) string {
	return strings.Replace(account, "Assets", "Income", 1)
}
