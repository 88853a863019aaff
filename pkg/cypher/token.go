package cypher

import "strings"

// TokenKind classifies a lexed token.
type TokenKind int

const (
	// KindEOF marks the end of the input. The lexer always emits it last.
	KindEOF TokenKind = iota
	// KindIdent is an unquoted or backtick-quoted identifier.
	KindIdent
	// KindKeyword is a reserved word. Literal preserves the original casing;
	// use Token.Keyword for the canonical uppercase form.
	KindKeyword
	// KindInt is an integer literal.
	KindInt
	// KindFloat is a floating point literal.
	KindFloat
	// KindString is a single or double quoted string literal, unescaped.
	KindString
	// KindParam is a $name query parameter. Literal holds the name without
	// the dollar sign.
	KindParam

	KindLParen       // (
	KindRParen       // )
	KindLBracket     // [
	KindRBracket     // ]
	KindLBrace       // {
	KindRBrace       // }
	KindColon        // :
	KindComma        // ,
	KindDot          // .
	KindPipe         // |
	KindPlus         // +
	KindMinus        // -
	KindStar         // *
	KindSlash        // /
	KindPercent      // %
	KindEq           // =
	KindNeq          // <>
	KindLt           // <
	KindLte          // <=
	KindGt           // >
	KindGte          // >=
	KindArrowRight   // ->
	KindArrowLeft    // <-
)

var kindNames = map[TokenKind]string{
	KindEOF:        "end of input",
	KindIdent:      "identifier",
	KindKeyword:    "keyword",
	KindInt:        "integer",
	KindFloat:      "float",
	KindString:     "string",
	KindParam:      "parameter",
	KindLParen:     "'('",
	KindRParen:     "')'",
	KindLBracket:   "'['",
	KindRBracket:   "']'",
	KindLBrace:     "'{'",
	KindRBrace:     "'}'",
	KindColon:      "':'",
	KindComma:      "','",
	KindDot:        "'.'",
	KindPipe:       "'|'",
	KindPlus:       "'+'",
	KindMinus:      "'-'",
	KindStar:       "'*'",
	KindSlash:      "'/'",
	KindPercent:    "'%'",
	KindEq:         "'='",
	KindNeq:        "'<>'",
	KindLt:         "'<'",
	KindLte:        "'<='",
	KindGt:         "'>'",
	KindGte:        "'>='",
	KindArrowRight: "'->'",
	KindArrowLeft:  "'<-'",
}

// String returns a human readable name for error messages.
func (k TokenKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown token"
}

// Token is a single lexical unit with its position in the query text.
// Line and Column are 1-based and point at the token's first character.
type Token struct {
	Kind    TokenKind
	Literal string
	Line    int
	Column  int
}

// Keyword returns the canonical uppercase form of a keyword token, or the
// empty string for any other kind.
func (t Token) Keyword() string {
	if t.Kind != KindKeyword {
		return ""
	}
	return strings.ToUpper(t.Literal)
}

// Is reports whether the token is the given keyword, ignoring case.
func (t Token) Is(keyword string) bool {
	return t.Kind == KindKeyword && strings.EqualFold(t.Literal, keyword)
}

// keywords is the reserved word set. Matching is case-insensitive; the
// lexer stores the original spelling and tags the token as KindKeyword.
var keywords = map[string]struct{}{
	"MATCH":      {},
	"OPTIONAL":   {},
	"WHERE":      {},
	"RETURN":     {},
	"WITH":       {},
	"UNWIND":     {},
	"AS":         {},
	"CREATE":     {},
	"MERGE":      {},
	"DELETE":     {},
	"DETACH":     {},
	"SET":        {},
	"REMOVE":     {},
	"ORDER":      {},
	"BY":         {},
	"SKIP":       {},
	"LIMIT":      {},
	"ASC":        {},
	"ASCENDING":  {},
	"DESC":       {},
	"DESCENDING": {},
	"AND":        {},
	"OR":         {},
	"XOR":        {},
	"NOT":        {},
	"IN":         {},
	"DISTINCT":   {},
	"UNION":      {},
	"ALL":        {},
	"FOREACH":    {},
	"CALL":       {},
	"YIELD":      {},
	"ON":         {},
	"CASE":       {},
	"WHEN":       {},
	"THEN":       {},
	"ELSE":       {},
	"END":        {},
	"TRUE":       {},
	"FALSE":      {},
	"NULL":       {},
	"STARTS":     {},
	"ENDS":       {},
	"CONTAINS":   {},
	"IS":         {},
}

func isKeyword(word string) bool {
	_, ok := keywords[strings.ToUpper(word)]
	return ok
}
