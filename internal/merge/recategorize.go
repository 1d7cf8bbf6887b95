package merge

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/plaidtext/beansync/internal/ledger"
	"github.com/plaidtext/beansync/internal/resolver"
)

// ValidationFailed is returned as the count when the ledger tree fails to
// load or validate after recategorization rewrote files.
const ValidationFailed = -1

// expensePrefix is the namespace of postings recategorization may rewrite.
const expensePrefix = "Expenses:"

// RecategorizeOptions bounds a recategorization run. Nil dates mean
// unbounded; OnFile, when set, is called once per visited output file.
type RecategorizeOptions struct {
	FromDate *time.Time
	ToDate   *time.Time
	OnFile   func(path string)
}

// Recategorize walks every per-account output file declared in the root
// ledger and rewrites the expense posting of any entry whose payee now
// matches a payee rule (exact first, then substring) pointing at a
// different account. Only the changed entry's source span is replaced;
// everything around it, comments included, is left byte-for-byte intact.
// Returns the number of rewritten entries, or ValidationFailed when the
// tree no longer loads cleanly afterwards (ignoring the known-benign
// plugin and Income-account findings).
func Recategorize(rootPath string, opts RecategorizeOptions) (int, error) {
	mappings, err := resolver.Load(rootPath)
	if err != nil {
		return 0, fmt.Errorf("failed to load root ledger: %w", err)
	}
	logger := slog.Default().With("component", "recategorize")

	count := 0
	for _, rel := range sortedOutputFiles(mappings) {
		path := filepath.Join(mappings.RootDir(), rel)
		if opts.OnFile != nil {
			opts.OnFile(path)
		}

		modified, err := recategorizeFile(path, mappings, opts, logger)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		count += modified
	}

	if count > 0 {
		if failed := validateTree(rootPath, logger); failed {
			return ValidationFailed, nil
		}
	}

	return count, nil
}

// recategorizeFile rewrites matching entries in one output file and
// returns how many changed.
func recategorizeFile(path string, mappings *resolver.Mappings, opts RecategorizeOptions, logger *slog.Logger) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	file, err := ledger.ParseFile(path)
	if err != nil {
		return 0, err
	}

	type edit struct {
		txn *ledger.Transaction
	}
	var edits []edit

	for _, txn := range file.Transactions {
		if !inRange(txn.Date, opts.FromDate, opts.ToDate) {
			continue
		}
		payee := txn.Payee
		if payee == "" {
			payee = txn.Narration
		}

		current := -1
		for i, posting := range txn.Postings {
			if strings.HasPrefix(posting.Account, expensePrefix) {
				current = i
				break
			}
		}
		if current < 0 {
			continue
		}

		account, ok := mappings.PayeeAccount(payee)
		if !ok {
			account, ok = mappings.PayeeAccountSubstring(payee)
		}
		if !ok || account == txn.Postings[current].Account {
			continue
		}

		logger.Debug("Recategorizing entry",
			"file", path,
			"payee", payee,
			"from", txn.Postings[current].Account,
			"to", account)
		txn.Postings[current].Account = account
		edits = append(edits, edit{txn: txn})
	}

	if len(edits) == 0 {
		return 0, nil
	}

	// Apply bottom-up so earlier spans stay valid as line counts change.
	sort.Slice(edits, func(i, j int) bool {
		return edits[i].txn.Span.StartLine > edits[j].txn.Span.StartLine
	})
	lines := file.Lines
	for _, e := range edits {
		span := e.txn.Span
		replacement := strings.Split(ledger.FormatTransaction(e.txn), "\n")
		lines = append(lines[:span.StartLine-1], append(replacement, lines[span.EndLine:]...)...)
	}

	content := strings.Join(lines, "\n")
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("failed to rewrite %s: %w", path, err)
	}

	return len(edits), nil
}

// validateTree reloads the root file after rewriting and reports whether a
// non-benign structural problem appeared.
func validateTree(rootPath string, logger *slog.Logger) bool {
	tree, err := ledger.Load(rootPath)
	if err != nil {
		logger.Error("Ledger failed to load after recategorization", "error", err)
		return true
	}

	failed := false
	for _, finding := range ledger.Validate(tree) {
		if ledger.IsBenign(finding) {
			logger.Debug("Ignoring benign validation finding", "finding", finding.String())
			continue
		}
		logger.Error("Validation finding after recategorization", "finding", finding.String())
		failed = true
	}
	return failed
}

func inRange(date time.Time, from, to *time.Time) bool {
	if from != nil && date.Before(*from) {
		return false
	}
	if to != nil && date.After(*to) {
		return false
	}
	return true
}

// sortedOutputFiles gives the run a deterministic file order.
func sortedOutputFiles(mappings *resolver.Mappings) []string {
	files := mappings.OutputFiles()
	sort.Strings(files)
	return files
}
