// Package parser turns IMAP reply text into token trees.
//
// A reply is a flat run of atoms, quoted strings and parenthesized groups.
// Parse produces one Token per top level item; a group becomes a list Token
// holding its own children. Literal payloads never pass through Parse: they
// travel next to the text as Segment literals and are swapped in for their
// {n} placeholders by Resolve.
package parser

import (
	"strconv"
	"strings"
)

// Token is a node of a parsed reply. It is either an atom or a list.
type Token struct {
	Value  string
	List   []Token
	IsList bool

	// set by Parse on unquoted {n} atoms only
	placeholder bool
}

func Atom(value string) Token {
	return Token{Value: value}
}

func List(items ...Token) Token {
	if items == nil {
		items = []Token{}
	}
	return Token{List: items, IsList: true}
}

// Uint parses an atom as an unsigned 32 bit number.
func (t Token) Uint() (uint32, bool) {
	if t.IsList {
		return 0, false
	}
	n, err := strconv.ParseUint(t.Value, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Strings returns the atom values of a list, skipping nested lists.
func (t Token) Strings() []string {
	out := make([]string, 0, len(t.List))
	for _, item := range t.List {
		if !item.IsList {
			out = append(out, item.Value)
		}
	}
	return out
}

// Is reports whether t is an atom equal to value, ignoring case.
func (t Token) Is(value string) bool {
	return !t.IsList && strings.EqualFold(t.Value, value)
}

func (t Token) String() string {
	if !t.IsList {
		return t.Value
	}
	parts := make([]string, len(t.List))
	for i, item := range t.List {
		parts[i] = item.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// literalSize returns the n of a {n} placeholder atom. A quoted "{n}" is
// an ordinary string and never a placeholder.
func (t Token) literalSize() (int, bool) {
	if t.IsList || !t.placeholder {
		return 0, false
	}
	return placeholderSize(t.Value)
}

func placeholderSize(value string) (int, bool) {
	if len(value) < 3 || value[0] != '{' || value[len(value)-1] != '}' {
		return 0, false
	}
	n, err := strconv.Atoi(value[1 : len(value)-1])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
