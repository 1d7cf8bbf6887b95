package ledger

import (
	"fmt"
	"strings"
)

// FindingKind distinguishes the structural problems Validate reports.
type FindingKind int

// Validation finding kinds.
const (
	FindingUnknownAccount FindingKind = iota
	FindingUnknownPlugin
	FindingUnbalanced
)

// Finding is one structural problem found in a loaded tree.
type Finding struct {
	File    string
	Account string
	Module  string
	Line    int
	Kind    FindingKind
}

func (f Finding) String() string {
	switch f.Kind {
	case FindingUnknownAccount:
		return fmt.Sprintf("%s:%d: unknown account %s", f.File, f.Line, f.Account)
	case FindingUnknownPlugin:
		return fmt.Sprintf("%s:%d: plugin module %s not loadable", f.File, f.Line, f.Module)
	case FindingUnbalanced:
		return fmt.Sprintf("%s:%d: postings do not balance", f.File, f.Line)
	default:
		return fmt.Sprintf("%s:%d: unknown finding", f.File, f.Line)
	}
}

// Validate checks a loaded tree for structural problems: postings that
// reference accounts never opened, plugin modules this tool cannot load,
// and fully-specified entries whose weights do not sum to zero per
// currency. A transaction with a posting that omits its units is balanced
// externally and is exempt from the balance check.
func Validate(tree *Tree) []Finding {
	var findings []Finding

	opened := map[string]bool{}
	for _, open := range tree.Opens() {
		opened[open.Account] = true
	}

	for _, file := range tree.Files {
		for _, plugin := range file.Plugins {
			findings = append(findings, Finding{
				Kind:   FindingUnknownPlugin,
				File:   file.Path,
				Line:   plugin.Span.StartLine,
				Module: plugin.Module,
			})
		}

		for _, txn := range file.Transactions {
			deferred := false
			sums := map[string]Amount{}
			for _, posting := range txn.Postings {
				if !opened[posting.Account] {
					findings = append(findings, Finding{
						Kind:    FindingUnknownAccount,
						File:    file.Path,
						Line:    txn.Span.StartLine,
						Account: posting.Account,
					})
				}
				if posting.Units == nil {
					deferred = true
					continue
				}
				// Weigh at price when annotated, so buys and sells balance
				// in the cash currency.
				currency := posting.Units.Currency
				number := posting.Units.Number
				if posting.Price != nil {
					currency = posting.Price.Currency
					number = number.Mul(posting.Price.Number)
				}
				sum := sums[currency]
				sum.Currency = currency
				sum.Number = sum.Number.Add(number)
				sums[currency] = sum
			}
			if deferred {
				continue
			}
			for _, sum := range sums {
				if !sum.Number.IsZero() {
					findings = append(findings, Finding{
						Kind: FindingUnbalanced,
						File: file.Path,
						Line: txn.Span.StartLine,
					})
					break
				}
			}
		}
	}

	return findings
}

// IsBenign reports whether a finding belongs to one of the two categories
// known to be harmless for files this tool manages: plugin modules it
// cannot load, and Income accounts referenced by investment postings that
// beancount balances externally.
func IsBenign(f Finding) bool {
	if f.Kind == FindingUnknownPlugin {
		return true
	}
	if f.Kind == FindingUnknownAccount && strings.HasPrefix(f.Account, "Income:") {
		return true
	}
	return false
}
