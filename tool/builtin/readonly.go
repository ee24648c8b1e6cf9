package builtin

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	errorskg "github.com/sweetpotato0/askdb/errors"
	"github.com/sweetpotato0/askdb/tool"
)

var readStatements = map[string]bool{
	"select":  true,
	"with":    true,
	"explain": true,
	"show":    true,
	"values":  true,
}

var writeKeywords = map[string]bool{
	"insert":   true,
	"update":   true,
	"delete":   true,
	"merge":    true,
	"drop":     true,
	"create":   true,
	"alter":    true,
	"truncate": true,
	"grant":    true,
	"revoke":   true,
	"copy":     true,
	"vacuum":   true,
	"reindex":  true,
	"refresh":  true,
	"lock":     true,
	"into":     true,
	"execute":  true,
}

// ReadOnlyValidator admits a single read statement against a known
// connection. Every rejection wraps errors.ErrQueryRejected.
type ReadOnlyValidator struct {
	conns *Connections
}

// NewReadOnlyValidator creates the gate. With nil conns any connection name
// is accepted.
func NewReadOnlyValidator(conns *Connections) *ReadOnlyValidator {
	return &ReadOnlyValidator{conns: conns}
}

// Validate implements agent.QueryValidator.
func (v *ReadOnlyValidator) Validate(ctx context.Context, q tool.Query) error {
	if v.conns != nil && !v.conns.Has(q.Connection) {
		return reject("unknown connection %q", q.Connection)
	}

	words, statements, err := scanSQL(q.SQL)
	if err != nil {
		return reject("%v", err)
	}
	if statements > 1 {
		return reject("only one statement is allowed")
	}
	if len(words) == 0 {
		return reject("empty statement")
	}
	if !readStatements[words[0]] {
		return reject("%s statements are not allowed", strings.ToUpper(words[0]))
	}
	for _, w := range words {
		if writeKeywords[w] {
			return reject("%s is not allowed in a read-only query", strings.ToUpper(w))
		}
	}
	return nil
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errorskg.ErrQueryRejected, fmt.Sprintf(format, args...))
}

// scanSQL returns the lower-cased bare words of src and the number of
// non-empty statements. Comments, string literals, quoted identifiers and
// dollar-quoted bodies are skipped.
func scanSQL(src string) ([]string, int, error) {
	var (
		words      []string
		statements int
		inStmt     bool
	)
	runes := []rune(src)
	n := len(runes)

	for i := 0; i < n; {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < n && runes[i+1] == '*':
			end := indexFrom(runes, i+2, "*/")
			if end < 0 {
				return nil, 0, fmt.Errorf("unterminated comment")
			}
			i = end + 2
		case r == '\'' || r == '"':
			end := closingQuote(runes, i+1, r)
			if end < 0 {
				return nil, 0, fmt.Errorf("unterminated quoted text")
			}
			inStmt = true
			i = end + 1
		case r == '$':
			tag, ok := dollarTag(runes, i)
			if !ok {
				inStmt = true
				i++
				continue
			}
			end := indexFrom(runes, i+len(tag), string(tag))
			if end < 0 {
				return nil, 0, fmt.Errorf("unterminated dollar-quoted text")
			}
			inStmt = true
			i = end + len(tag)
		case r == ';':
			if inStmt {
				statements++
				inStmt = false
			}
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < n && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			words = append(words, strings.ToLower(string(runes[start:i])))
			inStmt = true
		default:
			inStmt = true
			i++
		}
	}
	if inStmt {
		statements++
	}
	return words, statements, nil
}

// closingQuote finds the quote ending a literal opened before from. Doubled
// quotes are escapes.
func closingQuote(runes []rune, from int, quote rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] != quote {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return -1
}

// dollarTag reads a $tag$ opener starting at i.
func dollarTag(runes []rune, i int) ([]rune, bool) {
	j := i + 1
	for j < len(runes) && (unicode.IsLetter(runes[j]) || runes[j] == '_' || (j > i+1 && unicode.IsDigit(runes[j]))) {
		j++
	}
	if j < len(runes) && runes[j] == '$' {
		return runes[i : j+1], true
	}
	return nil, false
}

func indexFrom(runes []rune, from int, needle string) int {
	if from > len(runes) {
		return -1
	}
	idx := strings.Index(string(runes[from:]), needle)
	if idx < 0 {
		return -1
	}
	return from + len([]rune(string(runes[from:])[:idx]))
}
