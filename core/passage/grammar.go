package passage

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// referenceGrammar is the participle grammar for typed passage references.
// Examples: "John 3", "John 3:16", "John 3:16-18", "1 Corinthians 13:4-7", "Song of Songs 2"
//
// Every part after the book words is optional so that a recognised book with a
// missing chapter reports a chapter error instead of a book error. Leading
// punctuation ("...John 3:16", "(Romans 8:28)") is skipped and anything after
// the last matched token is ignored.
//
//nolint:govet // participle grammar tags are not standard struct tags
type referenceGrammar struct {
	Lead    []string   `parser:"@( Other | Punct )*"`
	Prefix  *string    `parser:"@Int?"`
	Words   []string   `parser:"@Word+"`
	Chapter *string    `parser:"@Int?"`
	Verses  *versePart `parser:"( \":\" @@ )?"`
}

//nolint:govet // participle grammar tags are not standard struct tags
type versePart struct {
	From *string `parser:"@Int?"`
	To   *string `parser:"( \"-\" @Int? )?"`
}

// referenceLexer defines the tokens of a typed reference.
// Other swallows any remaining character, so stray punctuation is skipped before
// the book and ends the parse after it instead of failing the lexer.
var referenceLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Word", Pattern: `[A-Za-z]+`},
	{Name: "Punct", Pattern: `[:\-]`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Other", Pattern: `.`},
})

var referenceParser = participle.MustBuild[referenceGrammar](
	participle.Lexer(referenceLexer),
	participle.Elide("Whitespace"),
)

// parseReference runs the grammar over s. A nil result means the input does
// not even have the shape of a reference.
func parseReference(s string) *referenceGrammar {
	parsed, err := referenceParser.ParseString("", s, participle.AllowTrailing(true))
	if err != nil {
		return nil
	}
	return parsed
}

// bookName joins the captured prefix and words into a single name.
func (g *referenceGrammar) bookName() string {
	parts := make([]string, 0, len(g.Words)+1)
	if g.Prefix != nil {
		parts = append(parts, *g.Prefix)
	}
	parts = append(parts, g.Words...)
	return strings.Join(parts, " ")
}
