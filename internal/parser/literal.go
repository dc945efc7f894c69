package parser

import (
	"bytes"

	"github.com/pkg/errors"
)

// Segment is one piece of a server reply as delivered by the transport.
// Text is the textual part with {n} markers left in place; Literals holds
// the raw payloads that followed those markers, in order.
type Segment struct {
	Text     string
	Literals [][]byte
}

func (s Segment) hasLiterals() bool {
	return len(s.Literals) > 0
}

// isContinuation reports whether seg is the textual tail of prev: prev
// carried a literal and left a group open, and seg does not open a new
// top level response.
func isContinuation(prev, seg Segment) bool {
	if !prev.hasLiterals() {
		return false
	}
	if depth(prev.Text) <= 0 {
		return false
	}
	return len(seg.Text) == 0 || seg.Text[0] != '('
}

// Fold joins continuation segments onto the segment they belong to.
func Fold(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if n := len(out); n > 0 && isContinuation(out[n-1], seg) {
			prev := &out[n-1]
			prev.Text += seg.Text
			prev.Literals = append(prev.Literals, seg.Literals...)
			continue
		}
		out = append(out, Segment{
			Text:     seg.Text,
			Literals: append([][]byte(nil), seg.Literals...),
		})
	}
	return out
}

// Resolve folds segments, parses each resulting reply and substitutes the
// literal payloads for their placeholders. One token sequence is returned
// per folded reply.
func Resolve(segments []Segment) ([][]Token, error) {
	folded := Fold(segments)
	out := make([][]Token, 0, len(folded))
	for _, seg := range folded {
		tokens, err := Parse(seg.Text)
		if err != nil {
			return nil, err
		}
		side := seg.Literals
		tokens, err = substitute(tokens, &side)
		if err != nil {
			return nil, errors.Wrapf(err, "reply %q", seg.Text)
		}
		out = append(out, tokens)
	}
	return out, nil
}

func substitute(tokens []Token, side *[][]byte) ([]Token, error) {
	for i, tok := range tokens {
		if tok.IsList {
			children, err := substitute(tok.List, side)
			if err != nil {
				return nil, err
			}
			tokens[i].List = children
			continue
		}
		if _, ok := tok.literalSize(); !ok {
			continue
		}
		if len(*side) == 0 {
			return nil, errors.Wrapf(ErrLiteralMismatch, "placeholder %s", tok.Value)
		}
		payload := (*side)[0]
		*side = (*side)[1:]
		tokens[i] = Atom(string(StripCR(payload)))
	}
	return tokens, nil
}

// StripCR removes the carriage returns of CRLF line endings so wire line
// endings never leak into stored content.
func StripCR(b []byte) []byte {
	out := bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.TrimSuffix(out, []byte("\r"))
}
