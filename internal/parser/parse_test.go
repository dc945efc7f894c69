package parser

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ListReply(t *testing.T) {
	tokens, err := Parse(`(\HasNoChildren \Marked) "/" "INBOX"`)
	require.NoError(t, err)

	assert.Equal(t, []Token{
		List(Atom(`\HasNoChildren`), Atom(`\Marked`)),
		Atom("/"),
		Atom("INBOX"),
	}, tokens)
}

func TestParse_EmptyGroupIsKept(t *testing.T) {
	tokens, err := Parse(`() "/" "INBOX"`)
	require.NoError(t, err)

	assert.Equal(t, []Token{List(), Atom("/"), Atom("INBOX")}, tokens)
}

func TestParse_NestedGroups(t *testing.T) {
	tokens, err := Parse(`1 FETCH (UID 7 FLAGS (\Seen \Answered) RFC822.SIZE 120)`)
	require.NoError(t, err)

	assert.Equal(t, []Token{
		Atom("1"),
		Atom("FETCH"),
		List(
			Atom("UID"), Atom("7"),
			Atom("FLAGS"), List(Atom(`\Seen`), Atom(`\Answered`)),
			Atom("RFC822.SIZE"), Atom("120"),
		),
	}, tokens)
}

func TestParse_QuotedSpecialCharacters(t *testing.T) {
	tokens, err := Parse(`"a (b) c" x`)
	require.NoError(t, err)

	assert.Equal(t, []Token{Atom("a (b) c"), Atom("x")}, tokens)
}

func TestParse_AdjacentDelimitersDropEmptyAtoms(t *testing.T) {
	tokens, err := Parse(`  a  ((b)  )c `)
	require.NoError(t, err)

	assert.Equal(t, []Token{
		Atom("a"),
		List(List(Atom("b"))),
		Atom("c"),
	}, tokens)
}

func TestParse_EmbeddedQuotesAreStripped(t *testing.T) {
	tokens, err := Parse(`INTERNALDATE "17-Jul-1996 02:44:25 -0700"`)
	require.NoError(t, err)

	assert.Equal(t, []Token{Atom("INTERNALDATE"), Atom("17-Jul-1996 02:44:25 -0700")}, tokens)
}

func TestParse_QuotedEscapes(t *testing.T) {
	tokens, err := Parse(`() "\\" "a\"b" "(x\")"`)
	require.NoError(t, err)

	assert.Equal(t, []Token{List(), Atom(`\`), Atom(`a"b`), Atom(`(x")`)}, tokens)
}

func TestParse_QuotedBracesAreNotPlaceholders(t *testing.T) {
	tokens, err := Parse(`{5} "{5}"`)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	_, ok := tokens[0].literalSize()
	assert.True(t, ok)
	_, ok = tokens[1].literalSize()
	assert.False(t, ok)
	assert.Equal(t, "{5}", tokens[1].Value)
}

func TestParse_Unbalanced(t *testing.T) {
	for _, input := range []string{`(a b`, `a b)`, `((a) b`, `"open quote`, `)(`} {
		_, err := Parse(input)
		assert.True(t, errors.Is(err, ErrUnbalanced), "input %q", input)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		tree := randomSequence(rnd, 3)
		line := serialize(tree, rnd)

		parsed, err := Parse(line)
		require.NoError(t, err, line)
		assert.Equal(t, tree, parsed, line)
	}
}

func randomSequence(rnd *rand.Rand, depth int) []Token {
	n := rnd.Intn(5)
	out := make([]Token, 0, n)
	for i := 0; i < n; i++ {
		if depth > 0 && rnd.Intn(3) == 0 {
			out = append(out, List(randomSequence(rnd, depth-1)...))
			continue
		}
		out = append(out, Atom(randomAtom(rnd)))
	}
	return out
}

func randomAtom(rnd *rand.Rand) string {
	const alphabet = `abcXYZ019.\[]*%-`
	n := 1 + rnd.Intn(8)
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[rnd.Intn(len(alphabet))])
	}
	return b.String()
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func serialize(tokens []Token, rnd *rand.Rand) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		if tok.IsList {
			parts[i] = "(" + serialize(tok.List, rnd) + ")"
			continue
		}
		if rnd.Intn(2) == 0 {
			parts[i] = `"` + quoteEscaper.Replace(tok.Value) + `"`
		} else {
			parts[i] = tok.Value
		}
	}
	return strings.Join(parts, " ")
}

func TestToken_Helpers(t *testing.T) {
	n, ok := Atom("42").Uint()
	assert.True(t, ok)
	assert.Equal(t, uint32(42), n)

	_, ok = Atom("x").Uint()
	assert.False(t, ok)

	_, ok = List().Uint()
	assert.False(t, ok)

	assert.True(t, Atom("fetch").Is("FETCH"))
	assert.Equal(t, []string{"a", "b"}, List(Atom("a"), List(), Atom("b")).Strings())
	assert.Equal(t, `(a (b) c)`, List(Atom("a"), List(Atom("b")), Atom("c")).String())
}
