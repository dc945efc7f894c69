package parser

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnbalanced      = errors.New("unbalanced delimiters in reply")
	ErrLiteralMismatch = errors.New("literal placeholder without payload")
)

// Parse scans a single reply line into its top level tokens.
//
// A double quote toggles quoting and is never copied. Inside quotes a
// backslash escapes the next character. Outside quotes an opening
// parenthesis starts a nested list, a closing one ends it, and a space ends
// the current atom. Empty atoms are dropped at every level while empty
// lists are kept.
func Parse(line string) ([]Token, error) {
	var (
		inQuote bool
		quoted  bool
		atom    strings.Builder
		stack   [][]Token
		out     = []Token{}
	)

	closeAtom := func() {
		if atom.Len() > 0 {
			tok := Atom(atom.String())
			if !quoted {
				_, tok.placeholder = placeholderSize(tok.Value)
			}
			out = append(out, tok)
			atom.Reset()
		}
		quoted = false
	}

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			inQuote = !inQuote
			quoted = true
		case inQuote && ch == '\\' && i+1 < len(line):
			i++
			atom.WriteByte(line[i])
		case inQuote:
			atom.WriteByte(ch)
		case ch == '(':
			closeAtom()
			stack = append(stack, out)
			out = []Token{}
		case ch == ')':
			closeAtom()
			if len(stack) == 0 {
				return nil, errors.Wrapf(ErrUnbalanced, "unexpected ')' at offset %d", i)
			}
			group := out
			out = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			out = append(out, List(group...))
		case ch == ' ':
			closeAtom()
		default:
			atom.WriteByte(ch)
		}
	}

	if inQuote {
		return nil, errors.Wrap(ErrUnbalanced, "unterminated quoted string")
	}
	if len(stack) > 0 {
		return nil, errors.Wrapf(ErrUnbalanced, "%d unclosed '('", len(stack))
	}
	closeAtom()
	return out, nil
}

// depth returns how many groups are still open at the end of text.
func depth(text string) int {
	d := 0
	inQuote := false
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				d++
			}
		case ')':
			if !inQuote {
				d--
			}
		}
	}
	return d
}
