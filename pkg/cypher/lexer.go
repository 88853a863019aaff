package cypher

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer turns query text into a token stream. It is resilient by
// construction: any byte sequence either lexes or returns a LexError with
// the line and column of the offending character, never a panic.
type Lexer struct {
	input string
	pos   int // byte offset of the next rune
	line  int
	col   int
}

// NewLexer creates a lexer over the given query text.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, col: 1}
}

// Lex tokenizes the whole input. The returned slice always ends with a
// KindEOF token on success.
func Lex(input string) ([]Token, error) {
	lx := NewLexer(input)
	var tokens []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == KindEOF {
			return tokens, nil
		}
	}
}

// Next returns the next token. After the input is exhausted it returns
// KindEOF tokens forever.
func (lx *Lexer) Next() (Token, error) {
	if err := lx.skipSpace(); err != nil {
		return Token{}, err
	}

	startLine, startCol := lx.line, lx.col
	r, ok := lx.peek()
	if !ok {
		return Token{Kind: KindEOF, Line: startLine, Column: startCol}, nil
	}

	switch {
	case r == '`':
		return lx.lexBacktickIdent()
	case isIdentStart(r):
		return lx.lexIdentOrKeyword()
	case unicode.IsDigit(r):
		return lx.lexNumber()
	case r == '\'' || r == '"':
		return lx.lexString(r)
	case r == '$':
		return lx.lexParam()
	}

	lx.advance()
	tok := func(kind TokenKind, lit string) (Token, error) {
		return Token{Kind: kind, Literal: lit, Line: startLine, Column: startCol}, nil
	}

	switch r {
	case '(':
		return tok(KindLParen, "(")
	case ')':
		return tok(KindRParen, ")")
	case '[':
		return tok(KindLBracket, "[")
	case ']':
		return tok(KindRBracket, "]")
	case '{':
		return tok(KindLBrace, "{")
	case '}':
		return tok(KindRBrace, "}")
	case ':':
		return tok(KindColon, ":")
	case ',':
		return tok(KindComma, ",")
	case '.':
		return tok(KindDot, ".")
	case '|':
		return tok(KindPipe, "|")
	case '+':
		return tok(KindPlus, "+")
	case '*':
		return tok(KindStar, "*")
	case '%':
		return tok(KindPercent, "%")
	case '=':
		return tok(KindEq, "=")
	case '-':
		if lx.accept('>') {
			return tok(KindArrowRight, "->")
		}
		return tok(KindMinus, "-")
	case '<':
		if lx.accept('=') {
			return tok(KindLte, "<=")
		}
		if lx.accept('>') {
			return tok(KindNeq, "<>")
		}
		if lx.accept('-') {
			return tok(KindArrowLeft, "<-")
		}
		return tok(KindLt, "<")
	case '>':
		if lx.accept('=') {
			return tok(KindGte, ">=")
		}
		return tok(KindGt, ">")
	case '/':
		// Comments are consumed by skipSpace; a lone slash is division.
		return tok(KindSlash, "/")
	}

	return Token{}, &LexError{Line: startLine, Column: startCol, Msg: "unexpected character " + quoteRune(r)}
}

// skipSpace consumes whitespace and comments. Both // line comments and
// /* block */ comments are supported; an unterminated block comment is a
// lex error.
func (lx *Lexer) skipSpace() error {
	for {
		r, ok := lx.peek()
		if !ok {
			return nil
		}
		if unicode.IsSpace(r) {
			lx.advance()
			continue
		}
		if r == '/' {
			if strings.HasPrefix(lx.input[lx.pos:], "//") {
				for {
					c, ok := lx.peek()
					if !ok || c == '\n' {
						break
					}
					lx.advance()
				}
				continue
			}
			if strings.HasPrefix(lx.input[lx.pos:], "/*") {
				line, col := lx.line, lx.col
				lx.advance() // '/'
				lx.advance() // '*'
				closed := false
				for {
					c, ok := lx.peek()
					if !ok {
						break
					}
					lx.advance()
					if c == '*' {
						if n, ok := lx.peek(); ok && n == '/' {
							lx.advance()
							closed = true
							break
						}
					}
				}
				if !closed {
					return &LexError{Line: line, Column: col, Msg: "unterminated block comment"}
				}
				continue
			}
		}
		return nil
	}
}

func (lx *Lexer) lexIdentOrKeyword() (Token, error) {
	startLine, startCol := lx.line, lx.col
	start := lx.pos
	for {
		r, ok := lx.peek()
		if !ok || !isIdentPart(r) {
			break
		}
		lx.advance()
	}
	word := lx.input[start:lx.pos]
	kind := KindIdent
	if isKeyword(word) {
		kind = KindKeyword
	}
	return Token{Kind: kind, Literal: word, Line: startLine, Column: startCol}, nil
}

func (lx *Lexer) lexBacktickIdent() (Token, error) {
	startLine, startCol := lx.line, lx.col
	lx.advance() // opening backtick
	var sb strings.Builder
	for {
		r, ok := lx.peek()
		if !ok {
			return Token{}, &LexError{Line: startLine, Column: startCol, Msg: "unterminated backtick identifier"}
		}
		lx.advance()
		if r == '`' {
			break
		}
		sb.WriteRune(r)
	}
	if sb.Len() == 0 {
		return Token{}, &LexError{Line: startLine, Column: startCol, Msg: "empty backtick identifier"}
	}
	return Token{Kind: KindIdent, Literal: sb.String(), Line: startLine, Column: startCol}, nil
}

func (lx *Lexer) lexNumber() (Token, error) {
	startLine, startCol := lx.line, lx.col
	start := lx.pos
	lx.consumeDigits()

	isFloat := false
	// A '.' only continues the number when a digit follows, so that
	// "n.1" style property access still lexes as separate tokens.
	if r, ok := lx.peek(); ok && r == '.' {
		if d, ok := lx.peekAt(1); ok && unicode.IsDigit(d) {
			isFloat = true
			lx.advance()
			lx.consumeDigits()
		}
	}
	if r, ok := lx.peek(); ok && (r == 'e' || r == 'E') {
		next, nok := lx.peekAt(1)
		if nok && (unicode.IsDigit(next) || next == '+' || next == '-') {
			isFloat = true
			lx.advance()
			if r, ok := lx.peek(); ok && (r == '+' || r == '-') {
				lx.advance()
			}
			if r, ok := lx.peek(); !ok || !unicode.IsDigit(r) {
				return Token{}, &LexError{Line: lx.line, Column: lx.col, Msg: "malformed exponent"}
			}
			lx.consumeDigits()
		}
	}

	kind := KindInt
	if isFloat {
		kind = KindFloat
	}
	return Token{Kind: kind, Literal: lx.input[start:lx.pos], Line: startLine, Column: startCol}, nil
}

func (lx *Lexer) consumeDigits() {
	for {
		r, ok := lx.peek()
		if !ok || !unicode.IsDigit(r) {
			return
		}
		lx.advance()
	}
}

func (lx *Lexer) lexString(quote rune) (Token, error) {
	startLine, startCol := lx.line, lx.col
	lx.advance() // opening quote
	var sb strings.Builder
	for {
		r, ok := lx.peek()
		if !ok {
			return Token{}, &LexError{Line: startLine, Column: startCol, Msg: "unterminated string literal"}
		}
		lx.advance()
		if r == quote {
			return Token{Kind: KindString, Literal: sb.String(), Line: startLine, Column: startCol}, nil
		}
		if r != '\\' {
			sb.WriteRune(r)
			continue
		}

		esc, ok := lx.peek()
		if !ok {
			return Token{}, &LexError{Line: startLine, Column: startCol, Msg: "unterminated string literal"}
		}
		escLine, escCol := lx.line, lx.col
		lx.advance()
		switch esc {
		case '\\':
			sb.WriteByte('\\')
		case '\'':
			sb.WriteByte('\'')
		case '"':
			sb.WriteByte('"')
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'u':
			code := 0
			for i := 0; i < 4; i++ {
				h, ok := lx.peek()
				if !ok || !isHexDigit(h) {
					return Token{}, &LexError{Line: escLine, Column: escCol, Msg: "invalid unicode escape, expected 4 hex digits"}
				}
				lx.advance()
				code = code*16 + hexValue(h)
			}
			sb.WriteRune(rune(code))
		default:
			return Token{}, &LexError{Line: escLine, Column: escCol, Msg: "invalid escape sequence " + quoteRune(esc)}
		}
	}
}

func (lx *Lexer) lexParam() (Token, error) {
	startLine, startCol := lx.line, lx.col
	lx.advance() // '$'
	r, ok := lx.peek()
	if !ok || !isIdentStart(r) {
		return Token{}, &LexError{Line: startLine, Column: startCol, Msg: "parameter name expected after '$'"}
	}
	start := lx.pos
	for {
		r, ok := lx.peek()
		if !ok || !isIdentPart(r) {
			break
		}
		lx.advance()
	}
	return Token{Kind: KindParam, Literal: lx.input[start:lx.pos], Line: startLine, Column: startCol}, nil
}

// peek returns the next rune without consuming it. Invalid UTF-8 decodes
// as utf8.RuneError, which no token class accepts, producing a clean
// "unexpected character" error instead of a crash.
func (lx *Lexer) peek() (rune, bool) {
	if lx.pos >= len(lx.input) {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(lx.input[lx.pos:])
	return r, true
}

// peekAt returns the rune n runes ahead of the cursor.
func (lx *Lexer) peekAt(n int) (rune, bool) {
	pos := lx.pos
	for i := 0; i < n; i++ {
		if pos >= len(lx.input) {
			return 0, false
		}
		_, size := utf8.DecodeRuneInString(lx.input[pos:])
		pos += size
	}
	if pos >= len(lx.input) {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(lx.input[pos:])
	return r, true
}

func (lx *Lexer) advance() {
	if lx.pos >= len(lx.input) {
		return
	}
	r, size := utf8.DecodeRuneInString(lx.input[lx.pos:])
	lx.pos += size
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
}

// accept consumes the next rune when it equals r.
func (lx *Lexer) accept(r rune) bool {
	n, ok := lx.peek()
	if !ok || n != r {
		return false
	}
	lx.advance()
	return true
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func hexValue(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10
	default:
		return int(r-'A') + 10
	}
}

func quoteRune(r rune) string {
	if r == utf8.RuneError {
		return "invalid UTF-8 byte"
	}
	return "'" + string(r) + "'"
}
