package merge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recategorizeRoot = `2020-01-01 open Assets:Bank:Checking
  plaid_account_id: "acc-checking"
  plaid_item_id: "item-bank"
  plaid_access_token: "token-bank"

2020-01-01 open Expenses:Groceries
  payees: "Safeway"

2020-01-01 open Expenses:Coffee
  payees: "Blue Bottle"

2020-01-01 open Expenses:Unknown

include "accounts/Bank/Checking.beancount"
`

func writeRecategorizeFixture(t *testing.T, accountFile string) string {
	t.Helper()
	dir := t.TempDir()
	rootPath := filepath.Join(dir, "ledger.beancount")
	require.NoError(t, os.WriteFile(rootPath, []byte(recategorizeRoot), 0o644))

	path := filepath.Join(dir, "accounts", "Bank", "Checking.beancount")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(accountFile), 0o644))
	return rootPath
}

func readAccountFile(t *testing.T, rootPath string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(filepath.Dir(rootPath), "accounts", "Bank", "Checking.beancount"))
	require.NoError(t, err)
	return string(content)
}

func TestRecategorizeExactPayeeMatch(t *testing.T) {
	rootPath := writeRecategorizeFixture(t, `2024-03-15 ! "Safeway" "SAFEWAY #1234"
  plaid_transaction_id: "txn-1"
  Assets:Bank:Checking  -42.50 USD
  Expenses:Unknown  42.50 USD
`)

	count, err := Recategorize(rootPath, RecategorizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	content := readAccountFile(t, rootPath)
	assert.Contains(t, content, "Expenses:Groceries  42.50 USD")
	assert.NotContains(t, content, "Expenses:Unknown")
	assert.Contains(t, content, `plaid_transaction_id: "txn-1"`)
}

func TestRecategorizeSubstringFallback(t *testing.T) {
	rootPath := writeRecategorizeFixture(t, `2024-03-15 ! "BLUE BOTTLE COFFEE #42 OAK" "BLUE BOTTLE COFFEE #42 OAK"
  plaid_transaction_id: "txn-1"
  Assets:Bank:Checking  -5.00 USD
  Expenses:Unknown  5.00 USD
`)

	count, err := Recategorize(rootPath, RecategorizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Contains(t, readAccountFile(t, rootPath), "Expenses:Coffee")
}

func TestRecategorizeLeavesUnmatchedAlone(t *testing.T) {
	original := `2024-03-15 ! "Chevron" "CHEVRON STATION"
  plaid_transaction_id: "txn-1"
  Assets:Bank:Checking  -60.00 USD
  Expenses:Unknown  60.00 USD
`
	rootPath := writeRecategorizeFixture(t, original)

	count, err := Recategorize(rootPath, RecategorizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, original, readAccountFile(t, rootPath))
}

func TestRecategorizeAlreadyCorrectIsNotRewritten(t *testing.T) {
	original := `2024-03-15 ! "Safeway" "SAFEWAY #1234"
  plaid_transaction_id: "txn-1"
  Assets:Bank:Checking  -42.50 USD
  Expenses:Groceries  42.50 USD
`
	rootPath := writeRecategorizeFixture(t, original)

	count, err := Recategorize(rootPath, RecategorizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, original, readAccountFile(t, rootPath))
}

func TestRecategorizePreservesSurroundingText(t *testing.T) {
	rootPath := writeRecategorizeFixture(t, `; reviewed through March

2024-03-10 * "Hand-entered" "manual correction"
  Assets:Bank:Checking  -1.00 USD
  Expenses:Groceries  1.00 USD

2024-03-15 ! "Safeway" "SAFEWAY #1234"
  plaid_transaction_id: "txn-1"
  Assets:Bank:Checking  -42.50 USD
  Expenses:Unknown  42.50 USD

; trailing note kept verbatim
`)

	count, err := Recategorize(rootPath, RecategorizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	content := readAccountFile(t, rootPath)
	assert.Contains(t, content, "; reviewed through March")
	assert.Contains(t, content, "; trailing note kept verbatim")
	assert.Contains(t, content, `"Hand-entered" "manual correction"`)
	assert.Contains(t, content, "Expenses:Groceries  42.50 USD")
}

func TestRecategorizeUsesNarrationWhenPayeeMissing(t *testing.T) {
	rootPath := writeRecategorizeFixture(t, `2024-03-15 ! "SAFEWAY #1234"
  plaid_transaction_id: "txn-1"
  Assets:Bank:Checking  -42.50 USD
  Expenses:Unknown  42.50 USD
`)

	count, err := Recategorize(rootPath, RecategorizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Contains(t, readAccountFile(t, rootPath), "Expenses:Groceries")
}

func TestRecategorizeDateRange(t *testing.T) {
	rootPath := writeRecategorizeFixture(t, `2024-02-01 ! "Safeway" "SAFEWAY #1"
  plaid_transaction_id: "txn-1"
  Assets:Bank:Checking  -10.00 USD
  Expenses:Unknown  10.00 USD

2024-03-15 ! "Safeway" "SAFEWAY #2"
  plaid_transaction_id: "txn-2"
  Assets:Bank:Checking  -20.00 USD
  Expenses:Unknown  20.00 USD
`)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	count, err := Recategorize(rootPath, RecategorizeOptions{FromDate: &from})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	content := readAccountFile(t, rootPath)
	// The February entry stays in Expenses:Unknown; only March moved.
	assert.Equal(t, 1, strings.Count(content, "Expenses:Unknown"))
	assert.Equal(t, 1, strings.Count(content, "Expenses:Groceries"))
}

func TestRecategorizeSkipsMissingOutputFiles(t *testing.T) {
	dir := t.TempDir()
	rootPath := filepath.Join(dir, "ledger.beancount")
	require.NoError(t, os.WriteFile(rootPath, []byte(`2020-01-01 open Assets:Bank:Checking
  plaid_account_id: "acc-checking"
  plaid_item_id: "item-bank"
  plaid_access_token: "token-bank"
`), 0o644))

	count, err := Recategorize(rootPath, RecategorizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRecategorizeReportsVisitedFiles(t *testing.T) {
	rootPath := writeRecategorizeFixture(t, "")

	var visited []string
	_, err := Recategorize(rootPath, RecategorizeOptions{OnFile: func(path string) {
		visited = append(visited, path)
	}})
	require.NoError(t, err)
	require.Len(t, visited, 1)
	assert.True(t, strings.HasSuffix(visited[0], filepath.Join("accounts", "Bank", "Checking.beancount")))
}

func TestRecategorizeValidationFailure(t *testing.T) {
	// The account file references an account the root never opens. After a
	// rewrite the tree fails validation and the sentinel count is returned.
	rootPath := writeRecategorizeFixture(t, `2024-03-15 ! "Safeway" "SAFEWAY #1234"
  plaid_transaction_id: "txn-1"
  Assets:Bank:Savings  -42.50 USD
  Expenses:Unknown  42.50 USD
`)

	count, err := Recategorize(rootPath, RecategorizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, ValidationFailed, count)
}
