package ledger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// File is the parsed form of a single ledger file. Lines holds the raw
// source so callers can rewrite individual directive spans in place.
type File struct {
	Path         string
	Lines        []string
	Opens        []*Open
	Transactions []*Transaction
	Customs      []*Custom
	Includes     []*Include
	Plugins      []*Plugin
}

// ParseFile parses the ledger file at path.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer f.Close()

	parsed, err := Parse(f, path)
	if err != nil {
		return nil, err
	}
	return parsed, nil
}

// Parse parses ledger text from r. The name is used in error messages and
// recorded as the file's path.
func Parse(r io.Reader, name string) (*File, error) {
	file := &File{Path: name}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		file.Lines = append(file.Lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	p := &parser{file: file}
	if err := p.run(); err != nil {
		return nil, err
	}
	return file, nil
}

type parser struct {
	file *File
	line int // 0-based index into file.Lines
}

func (p *parser) run() error {
	for p.line < len(p.file.Lines) {
		raw := p.file.Lines[p.line]
		trimmed := strings.TrimSpace(raw)

		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, ";"):
			p.line++
		case strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t"):
			// Continuation line with no open directive. Tolerated: some
			// hand-edited files indent comments oddly.
			p.line++
		case strings.HasPrefix(trimmed, "include "):
			p.parseInclude(trimmed)
		case strings.HasPrefix(trimmed, "plugin "):
			p.parsePlugin(trimmed)
		case strings.HasPrefix(trimmed, "option "):
			p.line++
		default:
			if err := p.parseDated(raw); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) parseInclude(line string) {
	values := quotedStrings(line)
	if len(values) > 0 {
		p.file.Includes = append(p.file.Includes, &Include{
			Path: values[0],
			Span: Span{StartLine: p.line + 1, EndLine: p.line + 1},
		})
	}
	p.line++
}

func (p *parser) parsePlugin(line string) {
	values := quotedStrings(line)
	if len(values) > 0 {
		p.file.Plugins = append(p.file.Plugins, &Plugin{
			Module: values[0],
			Span:   Span{StartLine: p.line + 1, EndLine: p.line + 1},
		})
	}
	p.line++
}

// parseDated handles a directive beginning with a YYYY-MM-DD date.
func (p *parser) parseDated(raw string) error {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return p.errorf("malformed directive %q", raw)
	}

	date, err := time.Parse("2006-01-02", fields[0])
	if err != nil {
		return p.errorf("invalid date %q: %v", fields[0], err)
	}

	keyword := fields[1]
	switch keyword {
	case "open":
		return p.parseOpen(date, fields)
	case "custom":
		return p.parseCustom(date, raw)
	case "*", "!", "txn":
		return p.parseTransaction(date, keyword, raw)
	case "close", "balance", "price", "pad", "note", "event", "commodity", "document":
		// Directives this tool does not act on; consume continuations.
		p.line++
		p.skipContinuation()
		return nil
	default:
		return p.errorf("unrecognized directive %q", keyword)
	}
}

func (p *parser) parseOpen(date time.Time, fields []string) error {
	if len(fields) < 3 {
		return p.errorf("open directive missing account")
	}
	open := &Open{
		Date:    date,
		Account: fields[2],
		Meta:    map[string]string{},
		Span:    Span{StartLine: p.line + 1},
	}
	p.line++
	open.Span.EndLine = open.Span.StartLine

	for p.line < len(p.file.Lines) {
		raw := p.file.Lines[p.line]
		if !isContinuation(raw) {
			break
		}
		if key, value, ok := parseMetaLine(raw); ok {
			open.Meta[key] = value
		}
		open.Span.EndLine = p.line + 1
		p.line++
	}

	p.file.Opens = append(p.file.Opens, open)
	return nil
}

func (p *parser) parseCustom(date time.Time, raw string) error {
	values := quotedStrings(raw)
	if len(values) == 0 {
		return p.errorf("custom directive missing type")
	}
	custom := &Custom{
		Date:   date,
		Type:   values[0],
		Values: values[1:],
		Span:   Span{StartLine: p.line + 1, EndLine: p.line + 1},
	}
	p.line++
	p.file.Customs = append(p.file.Customs, custom)
	return nil
}

func (p *parser) parseTransaction(date time.Time, flag, raw string) error {
	txn := &Transaction{
		Date: date,
		Flag: flag,
		Meta: map[string]string{},
		Span: Span{StartLine: p.line + 1},
	}
	if flag == "txn" {
		txn.Flag = "*"
	}

	header := quotedStrings(raw)
	switch len(header) {
	case 0:
	case 1:
		txn.Narration = header[0]
	default:
		txn.Payee = header[0]
		txn.Narration = header[1]
	}

	p.line++
	txn.Span.EndLine = txn.Span.StartLine

	for p.line < len(p.file.Lines) {
		raw := p.file.Lines[p.line]
		if !isContinuation(raw) {
			break
		}
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmed, ";") {
			txn.Span.EndLine = p.line + 1
			p.line++
			continue
		}
		if key, value, ok := parseMetaLine(raw); ok {
			txn.Meta[key] = value
		} else {
			posting, err := parsePosting(trimmed)
			if err != nil {
				return p.errorf("%v", err)
			}
			txn.Postings = append(txn.Postings, posting)
		}
		txn.Span.EndLine = p.line + 1
		p.line++
	}

	p.file.Transactions = append(p.file.Transactions, txn)
	return nil
}

func (p *parser) skipContinuation() {
	for p.line < len(p.file.Lines) && isContinuation(p.file.Lines[p.line]) {
		p.line++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", p.file.Path, p.line+1, fmt.Sprintf(format, args...))
}

// isContinuation reports whether a raw line belongs to the directive above
// it: indented and not blank.
func isContinuation(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	return strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t")
}

// parseMetaLine parses an indented `key: "value"` metadata line.
func parseMetaLine(raw string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	colon := strings.Index(trimmed, ": ")
	if colon <= 0 {
		return "", "", false
	}
	key = trimmed[:colon]
	for _, r := range key {
		if !isMetaKeyRune(r) {
			return "", "", false
		}
	}
	rest := strings.TrimSpace(trimmed[colon+1:])
	values := quotedStrings(rest)
	if len(values) == 1 {
		return key, values[0], true
	}
	// Unquoted metadata values are kept verbatim.
	if rest != "" && !strings.Contains(rest, "\"") {
		return key, rest, true
	}
	return "", "", false
}

func isMetaKeyRune(r rune) bool {
	return r == '_' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// parsePosting parses `Account [NUMBER CURRENCY [@ NUMBER CURRENCY]]`.
func parsePosting(trimmed string) (Posting, error) {
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return Posting{}, fmt.Errorf("empty posting")
	}

	posting := Posting{Account: fields[0]}
	rest := fields[1:]
	if len(rest) == 0 {
		return posting, nil
	}
	if len(rest) < 2 {
		return Posting{}, fmt.Errorf("posting for %s has a number without a currency", posting.Account)
	}

	number, err := decimal.NewFromString(rest[0])
	if err != nil {
		return Posting{}, fmt.Errorf("invalid amount %q for %s: %w", rest[0], posting.Account, err)
	}
	posting.Units = &Amount{Number: number, Currency: rest[1]}

	rest = rest[2:]
	if len(rest) == 0 {
		return posting, nil
	}
	if rest[0] != "@" || len(rest) < 3 {
		return Posting{}, fmt.Errorf("malformed price annotation on %s", posting.Account)
	}
	price, err := decimal.NewFromString(rest[1])
	if err != nil {
		return Posting{}, fmt.Errorf("invalid price %q for %s: %w", rest[1], posting.Account, err)
	}
	posting.Price = &Amount{Number: price, Currency: rest[2]}
	return posting, nil
}

// quotedStrings extracts every double-quoted string from a line, in order.
func quotedStrings(line string) []string {
	var values []string
	for {
		start := strings.IndexByte(line, '"')
		if start < 0 {
			return values
		}
		end := strings.IndexByte(line[start+1:], '"')
		if end < 0 {
			return values
		}
		values = append(values, line[start+1:start+1+end])
		line = line[start+end+2:]
	}
}
