// Package merge reconciles newly built ledger entries against the entries
// already recorded in per-account files, and rewrites expense accounts of
// recorded entries when the rules change.
package merge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/plaidtext/beansync/internal/ledger"
)

// AppendEntries writes the genuinely new entries to the output file and
// returns how many were appended. An entry is new when its date is
// strictly after the latest already-recorded synced entry AND its
// plaid_transaction_id has never been seen in the file. The tag-set check
// is the authoritative deduplication: cursors can redeliver records on
// retry, and a same-day duplicate must be caught even though the date
// prefilter passes it. Surviving entries are appended in ascending date
// order, keeping the file's non-decreasing date invariant.
func AppendEntries(path string, entries []*ledger.Transaction) (int, error) {
	var maxDate time.Time
	recorded := map[string]bool{}

	file, err := ledger.ParseFile(path)
	switch {
	case err == nil:
		for _, txn := range file.Transactions {
			id := txn.TransactionID()
			if id == "" {
				continue
			}
			recorded[id] = true
			if txn.Date.After(maxDate) {
				maxDate = txn.Date
			}
		}
	case errors.Is(err, os.ErrNotExist):
		// First sync for this account; the file starts empty.
	default:
		return 0, err
	}

	var fresh []*ledger.Transaction
	for _, entry := range entries {
		if !entry.Date.After(maxDate) {
			continue
		}
		if recorded[entry.TransactionID()] {
			continue
		}
		fresh = append(fresh, entry)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].Date.Before(fresh[j].Date)
	})

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s for appending: %w", path, err)
	}
	defer f.Close()

	for _, entry := range fresh {
		if _, err := fmt.Fprintf(f, "\n%s\n", ledger.FormatTransaction(entry)); err != nil {
			return 0, fmt.Errorf("failed to write entry to %s: %w", path, err)
		}
	}

	return len(fresh), nil
}
