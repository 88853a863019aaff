package cypher

import (
	"fmt"
	"strconv"
)

// maxExprDepth bounds expression nesting so adversarial input fails with
// a ParseError instead of exhausting the stack.
const maxExprDepth = 200

// Parse lexes and parses a statement into its AST.
func Parse(query string) (*Query, error) {
	tokens, err := Lex(query)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	return p.parseQuery()
}

type parser struct {
	tokens []Token
	pos    int
	depth  int
}

func (p *parser) cur() Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	tok := p.cur()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *parser) at(kind TokenKind) bool {
	return p.cur().Kind == kind
}

func (p *parser) atKw(keyword string) bool {
	return p.cur().Is(keyword)
}

// acceptKw consumes the next token when it is the given keyword.
func (p *parser) acceptKw(keyword string) bool {
	if p.atKw(keyword) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	if !p.at(kind) {
		return Token{}, p.errf("expected %s, got %s", kind, describeToken(p.cur()))
	}
	return p.advance(), nil
}

func (p *parser) expectKw(keyword string) error {
	if !p.atKw(keyword) {
		return p.errf("expected %s, got %s", keyword, describeToken(p.cur()))
	}
	p.advance()
	return nil
}

func (p *parser) errf(format string, args ...any) *ParseError {
	tok := p.cur()
	return &ParseError{Line: tok.Line, Column: tok.Column, Msg: fmt.Sprintf(format, args...)}
}

// parseName accepts an identifier, letting reserved words double as names
// in positions where no ambiguity exists (labels, properties, aliases).
func (p *parser) parseName() (string, error) {
	if p.at(KindIdent) || p.at(KindKeyword) {
		return p.advance().Literal, nil
	}
	return "", p.errf("expected a name, got %s", describeToken(p.cur()))
}

func (p *parser) parseQuery() (*Query, error) {
	if p.at(KindEOF) {
		return nil, p.errf("empty query")
	}
	clauses, err := p.parseClauseSequence(KindEOF)
	if err != nil {
		return nil, err
	}
	return &Query{Clauses: clauses}, nil
}

// parseClauseSequence parses clauses until the stop token, enforcing that
// RETURN terminates a branch and UNION separates branches.
func (p *parser) parseClauseSequence(stop TokenKind) ([]Clause, error) {
	var clauses []Clause
	returned := false
	for !p.at(stop) {
		if p.atKw("UNION") {
			if len(clauses) == 0 {
				return nil, p.errf("query cannot start with UNION")
			}
			p.advance()
			all := p.acceptKw("ALL")
			clauses = append(clauses, &UnionClause{All: all})
			returned = false
			if p.at(stop) {
				return nil, p.errf("query cannot end with UNION")
			}
			continue
		}
		if returned {
			return nil, p.errf("unexpected clause after RETURN")
		}
		clause, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
		if _, ok := clause.(*ReturnClause); ok {
			returned = true
		}
	}
	if len(clauses) == 0 {
		return nil, p.errf("empty query")
	}
	return clauses, nil
}

func (p *parser) parseClause() (Clause, error) {
	tok := p.cur()
	if tok.Kind != KindKeyword {
		return nil, p.errf("expected a clause, got %s", describeToken(tok))
	}
	switch tok.Keyword() {
	case "MATCH":
		p.advance()
		return p.parseMatch(false)
	case "OPTIONAL":
		p.advance()
		if err := p.expectKw("MATCH"); err != nil {
			return nil, err
		}
		return p.parseMatch(true)
	case "CREATE":
		p.advance()
		return p.parseCreate()
	case "MERGE":
		p.advance()
		return p.parseMerge()
	case "DELETE":
		p.advance()
		return p.parseDelete(false)
	case "DETACH":
		p.advance()
		if err := p.expectKw("DELETE"); err != nil {
			return nil, err
		}
		return p.parseDelete(true)
	case "SET":
		p.advance()
		items, err := p.parseSetItems()
		if err != nil {
			return nil, err
		}
		return &SetClause{Items: items}, nil
	case "REMOVE":
		p.advance()
		return p.parseRemove()
	case "RETURN":
		p.advance()
		return p.parseReturn()
	case "WITH":
		p.advance()
		return p.parseWith()
	case "UNWIND":
		p.advance()
		return p.parseUnwind()
	case "FOREACH":
		p.advance()
		return p.parseForeach()
	case "CALL":
		p.advance()
		return p.parseCall()
	case "WHERE":
		return nil, p.errf("WHERE must follow MATCH or WITH")
	}
	return nil, p.errf("unexpected keyword %s", tok.Keyword())
}

// ---- clause parsers ----

func (p *parser) parseMatch(optional bool) (Clause, error) {
	pattern, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	clause := &MatchClause{Optional: optional, Pattern: pattern}
	if p.acceptKw("WHERE") {
		clause.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return clause, nil
}

func (p *parser) parseCreate() (Clause, error) {
	pattern, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	return &CreateClause{Pattern: pattern}, nil
}

func (p *parser) parseMerge() (Clause, error) {
	path, err := p.parsePathPattern()
	if err != nil {
		return nil, err
	}
	clause := &MergeClause{Path: path}
	for p.acceptKw("ON") {
		switch {
		case p.acceptKw("CREATE"):
			if err := p.expectKw("SET"); err != nil {
				return nil, err
			}
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			clause.OnCreate = append(clause.OnCreate, items...)
		case p.acceptKw("MATCH"):
			if err := p.expectKw("SET"); err != nil {
				return nil, err
			}
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			clause.OnMatch = append(clause.OnMatch, items...)
		default:
			return nil, p.errf("expected CREATE or MATCH after ON")
		}
	}
	return clause, nil
}

func (p *parser) parseDelete(detach bool) (Clause, error) {
	clause := &DeleteClause{Detach: detach}
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		clause.Exprs = append(clause.Exprs, expr)
		if !p.at(KindComma) {
			return clause, nil
		}
		p.advance()
	}
}

func (p *parser) parseSetItems() ([]SetItem, error) {
	var items []SetItem
	for {
		variable, err := p.parseName()
		if err != nil {
			return nil, err
		}
		if p.at(KindColon) {
			return nil, p.errf("adding labels with SET is not supported")
		}
		if _, err := p.expect(KindDot); err != nil {
			return nil, err
		}
		property, err := p.parseName()
		if err != nil {
			return nil, err
		}
		if p.at(KindDot) {
			return nil, p.errf("nested property assignment is not supported")
		}
		if _, err := p.expect(KindEq); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, SetItem{Variable: variable, Property: property, Value: value})
		if !p.at(KindComma) {
			return items, nil
		}
		p.advance()
	}
}

func (p *parser) parseRemove() (Clause, error) {
	clause := &RemoveClause{}
	for {
		variable, err := p.parseName()
		if err != nil {
			return nil, err
		}
		switch {
		case p.at(KindDot):
			p.advance()
			property, err := p.parseName()
			if err != nil {
				return nil, err
			}
			clause.Items = append(clause.Items, RemoveItem{Variable: variable, Property: property})
		case p.at(KindColon):
			p.advance()
			label, err := p.parseName()
			if err != nil {
				return nil, err
			}
			clause.Items = append(clause.Items, RemoveItem{Variable: variable, Label: label})
		default:
			return nil, p.errf("expected '.' or ':' after variable in REMOVE")
		}
		if !p.at(KindComma) {
			return clause, nil
		}
		p.advance()
	}
}

func (p *parser) parseReturn() (Clause, error) {
	clause := &ReturnClause{Distinct: p.acceptKw("DISTINCT")}
	items, err := p.parseReturnItems()
	if err != nil {
		return nil, err
	}
	clause.Items = items
	clause.OrderBy, clause.Skip, clause.Limit, err = p.parseWindow()
	if err != nil {
		return nil, err
	}
	return clause, nil
}

func (p *parser) parseWith() (Clause, error) {
	clause := &WithClause{Distinct: p.acceptKw("DISTINCT")}
	items, err := p.parseReturnItems()
	if err != nil {
		return nil, err
	}
	clause.Items = items
	clause.OrderBy, clause.Skip, clause.Limit, err = p.parseWindow()
	if err != nil {
		return nil, err
	}
	if p.acceptKw("WHERE") {
		clause.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return clause, nil
}

func (p *parser) parseReturnItems() ([]ReturnItem, error) {
	var items []ReturnItem
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := ReturnItem{Expr: expr}
		if p.acceptKw("AS") {
			item.Alias, err = p.parseName()
			if err != nil {
				return nil, err
			}
		}
		items = append(items, item)
		if !p.at(KindComma) {
			return items, nil
		}
		p.advance()
	}
}

func (p *parser) parseWindow() (orderBy []SortItem, skip, limit Expr, err error) {
	if p.acceptKw("ORDER") {
		if err = p.expectKw("BY"); err != nil {
			return nil, nil, nil, err
		}
		for {
			var expr Expr
			expr, err = p.parseExpr()
			if err != nil {
				return nil, nil, nil, err
			}
			item := SortItem{Expr: expr}
			switch {
			case p.acceptKw("DESC"), p.acceptKw("DESCENDING"):
				item.Desc = true
			case p.acceptKw("ASC"), p.acceptKw("ASCENDING"):
			}
			orderBy = append(orderBy, item)
			if !p.at(KindComma) {
				break
			}
			p.advance()
		}
	}
	if p.acceptKw("SKIP") {
		skip, err = p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if p.acceptKw("LIMIT") {
		limit, err = p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return orderBy, skip, limit, nil
}

func (p *parser) parseUnwind() (Clause, error) {
	source, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("AS"); err != nil {
		return nil, err
	}
	alias, err := p.parseName()
	if err != nil {
		return nil, err
	}
	return &UnwindClause{Source: source, Alias: alias}, nil
}

func (p *parser) parseForeach() (Clause, error) {
	if _, err := p.expect(KindLParen); err != nil {
		return nil, err
	}
	variable, err := p.parseName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("IN"); err != nil {
		return nil, err
	}
	source, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(KindPipe); err != nil {
		return nil, err
	}

	var body []Clause
	for !p.at(KindRParen) {
		if p.at(KindEOF) {
			return nil, p.errf("unterminated FOREACH body")
		}
		tok := p.cur()
		switch tok.Keyword() {
		case "CREATE", "MERGE", "DELETE", "DETACH", "SET", "REMOVE", "FOREACH":
			clause, err := p.parseClause()
			if err != nil {
				return nil, err
			}
			body = append(body, clause)
		default:
			return nil, p.errf("only updating clauses are allowed in FOREACH")
		}
	}
	p.advance() // ')'
	if len(body) == 0 {
		return nil, p.errf("FOREACH body cannot be empty")
	}
	return &ForeachClause{Variable: variable, Source: source, Body: body}, nil
}

func (p *parser) parseCall() (Clause, error) {
	if _, err := p.expect(KindLBrace); err != nil {
		return nil, p.errf("expected '{' after CALL")
	}
	body, err := p.parseClauseSequence(KindRBrace)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(KindRBrace); err != nil {
		return nil, err
	}
	clause := &CallClause{Body: body}
	if p.acceptKw("YIELD") {
		for {
			name, err := p.parseName()
			if err != nil {
				return nil, err
			}
			item := YieldItem{Name: name, Alias: name}
			if p.acceptKw("AS") {
				item.Alias, err = p.parseName()
				if err != nil {
					return nil, err
				}
			}
			clause.Yields = append(clause.Yields, item)
			if !p.at(KindComma) {
				break
			}
			p.advance()
		}
	}
	return clause, nil
}

// ---- pattern parsers ----

func (p *parser) parsePattern() (*Pattern, error) {
	pattern := &Pattern{}
	for {
		path, err := p.parsePathPattern()
		if err != nil {
			return nil, err
		}
		pattern.Paths = append(pattern.Paths, path)
		if !p.at(KindComma) {
			return pattern, nil
		}
		p.advance()
	}
}

func (p *parser) parsePathPattern() (*PathPattern, error) {
	path := &PathPattern{}
	node, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	path.Nodes = append(path.Nodes, node)

	for {
		rel, ok, err := p.parseRelPattern()
		if err != nil {
			return nil, err
		}
		if !ok {
			return path, nil
		}
		target, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		path.Rels = append(path.Rels, rel)
		path.Nodes = append(path.Nodes, target)
	}
}

func (p *parser) parseNodePattern() (*NodePattern, error) {
	if _, err := p.expect(KindLParen); err != nil {
		return nil, p.errf("expected '(' to start a node pattern")
	}
	node := &NodePattern{}
	if p.at(KindIdent) || p.at(KindKeyword) {
		node.Variable = p.advance().Literal
	}
	for p.at(KindColon) {
		p.advance()
		label, err := p.parseName()
		if err != nil {
			return nil, err
		}
		node.Labels = append(node.Labels, label)
	}
	if p.at(KindLBrace) {
		props, err := p.parsePropsMap()
		if err != nil {
			return nil, err
		}
		node.Props = props
	}
	if _, err := p.expect(KindRParen); err != nil {
		return nil, err
	}
	return node, nil
}

// parseRelPattern parses an optional relationship connector. The second
// return value reports whether a relationship was present.
func (p *parser) parseRelPattern() (*RelPattern, bool, error) {
	switch {
	case p.at(KindMinus):
		p.advance()
		switch {
		case p.at(KindLBracket):
			rel, err := p.parseRelDetail()
			if err != nil {
				return nil, false, err
			}
			switch {
			case p.at(KindArrowRight):
				p.advance()
				rel.Dir = RelOut
			case p.at(KindMinus):
				p.advance()
				rel.Dir = RelUndirected
			default:
				return nil, false, p.errf("expected '->' or '-' after relationship detail")
			}
			return rel, true, nil
		case p.at(KindArrowRight):
			p.advance()
			return &RelPattern{Dir: RelOut}, true, nil
		case p.at(KindMinus):
			p.advance()
			return &RelPattern{Dir: RelUndirected}, true, nil
		default:
			return nil, false, p.errf("expected a relationship after '-'")
		}
	case p.at(KindArrowLeft):
		p.advance()
		switch {
		case p.at(KindLBracket):
			rel, err := p.parseRelDetail()
			if err != nil {
				return nil, false, err
			}
			if !p.at(KindMinus) {
				return nil, false, p.errf("expected '-' to close an incoming relationship")
			}
			p.advance()
			rel.Dir = RelIn
			return rel, true, nil
		case p.at(KindMinus):
			p.advance()
			return &RelPattern{Dir: RelIn}, true, nil
		default:
			return nil, false, p.errf("expected a relationship after '<-'")
		}
	}
	return nil, false, nil
}

func (p *parser) parseRelDetail() (*RelPattern, error) {
	p.advance() // '['
	rel := &RelPattern{}
	if p.at(KindIdent) || p.at(KindKeyword) {
		rel.Variable = p.advance().Literal
	}
	if p.at(KindColon) {
		p.advance()
		relType, err := p.parseName()
		if err != nil {
			return nil, err
		}
		rel.Type = relType
		if p.at(KindPipe) {
			return nil, p.errf("multiple relationship types are not supported")
		}
	}
	if p.at(KindStar) {
		return nil, p.errf("variable length relationships are not supported")
	}
	if p.at(KindLBrace) {
		props, err := p.parsePropsMap()
		if err != nil {
			return nil, err
		}
		rel.Props = props
	}
	if _, err := p.expect(KindRBracket); err != nil {
		return nil, err
	}
	return rel, nil
}

// parsePropsMap parses {key: expr, ...} into a map, rejecting duplicate
// keys. Pattern property order is irrelevant to matching.
func (p *parser) parsePropsMap() (map[string]Expr, error) {
	entries, err := p.parseMapEntries()
	if err != nil {
		return nil, err
	}
	props := make(map[string]Expr, len(entries))
	for _, entry := range entries {
		if _, dup := props[entry.Key]; dup {
			return nil, p.errf("duplicate property key %q", entry.Key)
		}
		props[entry.Key] = entry.Value
	}
	return props, nil
}

func (p *parser) parseMapEntries() ([]MapEntry, error) {
	p.advance() // '{'
	var entries []MapEntry
	if p.at(KindRBrace) {
		p.advance()
		return entries, nil
	}
	for {
		var key string
		if p.at(KindString) {
			key = p.advance().Literal
		} else {
			name, err := p.parseName()
			if err != nil {
				return nil, err
			}
			key = name
		}
		if _, err := p.expect(KindColon); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		entries = append(entries, MapEntry{Key: key, Value: value})
		if p.at(KindComma) {
			p.advance()
			continue
		}
		if _, err := p.expect(KindRBrace); err != nil {
			return nil, err
		}
		return entries, nil
	}
}

// ---- expression parsers ----
//
// Precedence, loosest first: OR, XOR, AND, NOT, comparison (including IS
// NULL, IN and the string operators), additive, multiplicative, unary
// sign, postfix property access, primary.

func (p *parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseXor()
	if err != nil {
		return nil, err
	}
	for p.acceptKw("OR") {
		right, err := p.parseXor()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseXor() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKw("XOR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "XOR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKw("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	nots := 0
	for p.acceptKw("NOT") {
		nots++
	}
	expr, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for i := 0; i < nots; i++ {
		expr = &UnaryExpr{Op: "NOT", Operand: expr}
	}
	return expr, nil
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if p.acceptKw("IS") {
		negated := p.acceptKw("NOT")
		if err := p.expectKw("NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{Operand: left, Negated: negated}, nil
	}

	if op, ok := comparisonOp(p.cur()); ok {
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if _, chained := comparisonOp(p.cur()); chained {
			return nil, p.errf("comparisons cannot be chained")
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	}

	switch {
	case p.acceptKw("IN"):
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "IN", Left: left, Right: right}, nil
	case p.acceptKw("CONTAINS"):
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "CONTAINS", Left: left, Right: right}, nil
	case p.acceptKw("STARTS"):
		if err := p.expectKw("WITH"); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "STARTS WITH", Left: left, Right: right}, nil
	case p.acceptKw("ENDS"):
		if err := p.expectKw("WITH"); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "ENDS WITH", Left: left, Right: right}, nil
	}

	return left, nil
}

func comparisonOp(tok Token) (string, bool) {
	switch tok.Kind {
	case KindEq:
		return "=", true
	case KindNeq:
		return "<>", true
	case KindLt:
		return "<", true
	case KindLte:
		return "<=", true
	case KindGt:
		return ">", true
	case KindGte:
		return ">=", true
	}
	return "", false
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.at(KindPlus):
			op = "+"
		case p.at(KindMinus):
			op = "-"
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.at(KindStar):
			op = "*"
		case p.at(KindSlash):
			op = "/"
		case p.at(KindPercent):
			op = "%"
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	negations := 0
	for {
		switch {
		case p.at(KindMinus):
			p.advance()
			negations++
			continue
		case p.at(KindPlus):
			p.advance()
			continue
		}
		break
	}
	expr, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for i := 0; i < negations; i++ {
		expr = &UnaryExpr{Op: "-", Operand: expr}
	}
	return expr, nil
}

func (p *parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(KindDot):
			p.advance()
			key, err := p.parseName()
			if err != nil {
				return nil, err
			}
			expr = &PropertyExpr{Subject: expr, Key: key}
		case p.at(KindColon):
			variable, ok := expr.(*Variable)
			if !ok {
				return nil, p.errf("label predicate requires a variable")
			}
			var pred Expr
			for p.at(KindColon) {
				p.advance()
				label, err := p.parseName()
				if err != nil {
					return nil, err
				}
				lp := &LabelPredicate{Variable: variable.Name, Label: label}
				if pred == nil {
					pred = lp
				} else {
					pred = &BinaryExpr{Op: "AND", Left: pred, Right: lp}
				}
			}
			return pred, nil
		default:
			return expr, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxExprDepth {
		return nil, p.errf("expression nesting too deep")
	}

	tok := p.cur()
	switch tok.Kind {
	case KindInt:
		p.advance()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return nil, &ParseError{Line: tok.Line, Column: tok.Column, Msg: "integer literal out of range"}
		}
		return &Literal{Value: v}, nil
	case KindFloat:
		p.advance()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, &ParseError{Line: tok.Line, Column: tok.Column, Msg: "malformed float literal"}
		}
		return &Literal{Value: v}, nil
	case KindString:
		p.advance()
		return &Literal{Value: tok.Literal}, nil
	case KindParam:
		p.advance()
		return &Parameter{Name: tok.Literal}, nil
	case KindKeyword:
		switch tok.Keyword() {
		case "TRUE":
			p.advance()
			return &Literal{Value: true}, nil
		case "FALSE":
			p.advance()
			return &Literal{Value: false}, nil
		case "NULL":
			p.advance()
			return &Literal{Value: nil}, nil
		case "CASE":
			p.advance()
			return p.parseCase()
		}
		return nil, p.errf("unexpected keyword %s in expression", tok.Keyword())
	case KindIdent:
		p.advance()
		if p.at(KindLParen) {
			return p.parseFunctionCall(tok.Literal)
		}
		return &Variable{Name: tok.Literal}, nil
	case KindLParen:
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(KindRParen); err != nil {
			return nil, err
		}
		return expr, nil
	case KindLBracket:
		p.advance()
		list := &ListExpr{}
		if p.at(KindRBracket) {
			p.advance()
			return list, nil
		}
		for {
			item, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			list.Items = append(list.Items, item)
			if p.at(KindComma) {
				p.advance()
				continue
			}
			if _, err := p.expect(KindRBracket); err != nil {
				return nil, err
			}
			return list, nil
		}
	case KindLBrace:
		entries, err := p.parseMapEntries()
		if err != nil {
			return nil, err
		}
		return &MapExpr{Entries: entries}, nil
	}
	return nil, p.errf("unexpected token %s", describeToken(tok))
}

func (p *parser) parseFunctionCall(name string) (Expr, error) {
	p.advance() // '('
	call := &FunctionCall{Name: name}
	if p.acceptKw("DISTINCT") {
		call.Distinct = true
	}
	if p.at(KindStar) {
		if call.Distinct {
			return nil, p.errf("DISTINCT cannot be combined with *")
		}
		p.advance()
		call.Star = true
		if _, err := p.expect(KindRParen); err != nil {
			return nil, err
		}
		return call, nil
	}
	if p.at(KindRParen) {
		p.advance()
		return call, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if p.at(KindComma) {
			p.advance()
			continue
		}
		if _, err := p.expect(KindRParen); err != nil {
			return nil, err
		}
		return call, nil
	}
}

func (p *parser) parseCase() (Expr, error) {
	expr := &CaseExpr{}
	if !p.atKw("WHEN") {
		operand, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		expr.Operand = operand
	}
	for p.acceptKw("WHEN") {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		expr.Whens = append(expr.Whens, CaseWhen{Cond: cond, Then: then})
	}
	if len(expr.Whens) == 0 {
		return nil, p.errf("CASE requires at least one WHEN")
	}
	if p.acceptKw("ELSE") {
		alt, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		expr.Else = alt
	}
	if err := p.expectKw("END"); err != nil {
		return nil, err
	}
	return expr, nil
}

func describeToken(tok Token) string {
	switch tok.Kind {
	case KindEOF:
		return "end of input"
	case KindIdent, KindKeyword:
		return "'" + tok.Literal + "'"
	case KindInt, KindFloat:
		return tok.Literal
	case KindString:
		return "string literal"
	case KindParam:
		return "$" + tok.Literal
	}
	return tok.Kind.String()
}
