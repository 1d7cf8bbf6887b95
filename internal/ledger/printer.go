package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// FormatTransaction serializes a transaction to canonical text: header line,
// metadata sorted by key, then postings in order. No trailing newline.
func FormatTransaction(t *Transaction) string {
	var b strings.Builder

	b.WriteString(t.Date.Format("2006-01-02"))
	b.WriteString(" ")
	b.WriteString(t.Flag)
	if t.Payee != "" {
		fmt.Fprintf(&b, " %q", t.Payee)
	}
	fmt.Fprintf(&b, " %q", t.Narration)

	keys := make([]string, 0, len(t.Meta))
	for k := range t.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %s: %q", k, t.Meta[k])
	}

	for _, p := range t.Postings {
		b.WriteString("\n")
		b.WriteString(FormatPosting(&p))
	}

	return b.String()
}

// FormatPosting serializes one posting line, indented two spaces.
func FormatPosting(p *Posting) string {
	var b strings.Builder
	b.WriteString("  ")
	b.WriteString(p.Account)
	if p.Units != nil {
		fmt.Fprintf(&b, "  %s %s", p.Units.Number.String(), p.Units.Currency)
		if p.Price != nil {
			fmt.Fprintf(&b, " @ %s %s", p.Price.Number.String(), p.Price.Currency)
		}
	}
	return b.String()
}

// FormatCustom serializes a custom directive to a single line.
func FormatCustom(c *Custom) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s custom %q", c.Date.Format("2006-01-02"), c.Type)
	for _, v := range c.Values {
		fmt.Fprintf(&b, " %q", v)
	}
	return b.String()
}
