package cypher

import (
	"strconv"
	"strings"
)

// Query is the parsed form of a statement: an ordered clause list. UNION
// boundaries appear inline as UnionClause markers between branches.
type Query struct {
	Clauses []Clause
}

// Clause is a single query clause. The clauseNode marker closes the set;
// every implementation lives in this package.
type Clause interface {
	clauseNode()
}

// MatchClause is MATCH or OPTIONAL MATCH with an optional WHERE predicate.
type MatchClause struct {
	Optional bool
	Pattern  *Pattern
	Where    Expr
}

// CreateClause is CREATE with one or more path patterns.
type CreateClause struct {
	Pattern *Pattern
}

// MergeClause is MERGE with a single path pattern and optional ON CREATE
// SET and ON MATCH SET actions.
type MergeClause struct {
	Path     *PathPattern
	OnCreate []SetItem
	OnMatch  []SetItem
}

// DeleteClause is DELETE or DETACH DELETE over a list of expressions,
// which must resolve to bound variables.
type DeleteClause struct {
	Detach bool
	Exprs  []Expr
}

// SetClause is SET with property assignments.
type SetClause struct {
	Items []SetItem
}

// SetItem assigns the value expression to variable.property.
type SetItem struct {
	Variable string
	Property string
	Value    Expr
}

// RemoveClause is REMOVE with property or label removals.
type RemoveClause struct {
	Items []RemoveItem
}

// RemoveItem removes a property (Property set) or a label (Label set)
// from the named variable. Exactly one of the two is non-empty.
type RemoveItem struct {
	Variable string
	Property string
	Label    string
}

// ReturnClause is RETURN with projection items and an optional window.
type ReturnClause struct {
	Distinct bool
	Items    []ReturnItem
	OrderBy  []SortItem
	Skip     Expr
	Limit    Expr
}

// WithClause is WITH: a mid-query projection with an optional window and
// an optional WHERE over the projected rows.
type WithClause struct {
	Distinct bool
	Items    []ReturnItem
	OrderBy  []SortItem
	Skip     Expr
	Limit    Expr
	Where    Expr
}

// ReturnItem is a projected expression with an optional alias.
type ReturnItem struct {
	Expr  Expr
	Alias string
}

// SortItem is one ORDER BY key.
type SortItem struct {
	Expr Expr
	Desc bool
}

// UnwindClause is UNWIND <expr> AS <alias>.
type UnwindClause struct {
	Source Expr
	Alias  string
}

// UnionClause separates two query branches. All distinguishes UNION ALL
// from plain UNION.
type UnionClause struct {
	All bool
}

// ForeachClause is FOREACH (var IN list | body). The body is restricted
// to updating clauses.
type ForeachClause struct {
	Variable string
	Source   Expr
	Body     []Clause
}

// CallClause is CALL { subquery } with optional YIELD projections.
type CallClause struct {
	Body   []Clause
	Yields []YieldItem
}

// YieldItem maps a subquery column into the outer scope.
type YieldItem struct {
	Name  string
	Alias string
}

func (*MatchClause) clauseNode()   {}
func (*CreateClause) clauseNode()  {}
func (*MergeClause) clauseNode()   {}
func (*DeleteClause) clauseNode()  {}
func (*SetClause) clauseNode()     {}
func (*RemoveClause) clauseNode()  {}
func (*ReturnClause) clauseNode()  {}
func (*WithClause) clauseNode()    {}
func (*UnwindClause) clauseNode()  {}
func (*UnionClause) clauseNode()   {}
func (*ForeachClause) clauseNode() {}
func (*CallClause) clauseNode()    {}

// Pattern is a comma separated list of path patterns.
type Pattern struct {
	Paths []*PathPattern
}

// PathPattern is an alternating node/relationship chain. Nodes always has
// exactly one more element than Rels.
type PathPattern struct {
	Nodes []*NodePattern
	Rels  []*RelPattern
}

// NodePattern is (var:Label1:Label2 {props}). All parts are optional.
type NodePattern struct {
	Variable string
	Labels   []string
	Props    map[string]Expr
}

// RelDirection is the arrow direction of a relationship pattern.
type RelDirection int

const (
	// RelOut is -[]->.
	RelOut RelDirection = iota
	// RelIn is <-[]-.
	RelIn
	// RelUndirected is -[]-.
	RelUndirected
)

// RelPattern is -[var:TYPE {props}]-> in any direction.
type RelPattern struct {
	Variable string
	Type     string
	Props    map[string]Expr
	Dir      RelDirection
}

// Expr is an expression node. The exprNode marker closes the set.
type Expr interface {
	exprNode()
}

// Literal is a constant: nil, bool, int64, float64 or string.
type Literal struct {
	Value any
}

// Variable references a bound name.
type Variable struct {
	Name string
}

// Parameter references a $name query parameter.
type Parameter struct {
	Name string
}

// PropertyExpr is subject.key property access.
type PropertyExpr struct {
	Subject Expr
	Key     string
}

// BinaryExpr applies an infix operator. Op is the canonical uppercase
// spelling: arithmetic and comparison symbols, AND, OR, XOR, IN,
// CONTAINS, "STARTS WITH", "ENDS WITH".
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// UnaryExpr applies a prefix operator: "-", "+" or NOT.
type UnaryExpr struct {
	Op      string
	Operand Expr
}

// IsNullExpr is IS NULL, or IS NOT NULL when Negated.
type IsNullExpr struct {
	Operand Expr
	Negated bool
}

// ListExpr is a [a, b, c] literal.
type ListExpr struct {
	Items []Expr
}

// MapExpr is a {key: value} literal. Entries keep declaration order.
type MapExpr struct {
	Entries []MapEntry
}

// MapEntry is one key/value pair of a map literal.
type MapEntry struct {
	Key   string
	Value Expr
}

// FunctionCall invokes a scalar or aggregate function. Name preserves the
// spelling from the query; lookup is case-insensitive. Star marks the
// count(*) form.
type FunctionCall struct {
	Name     string
	Distinct bool
	Star     bool
	Args     []Expr
}

// CaseWhen is one WHEN/THEN arm of a CASE expression.
type CaseWhen struct {
	Cond Expr
	Then Expr
}

// CaseExpr is a simple (with Operand) or searched (Operand nil) CASE.
type CaseExpr struct {
	Operand Expr
	Whens   []CaseWhen
	Else    Expr
}

// LabelPredicate tests whether the node bound to Variable carries Label.
// The parser produces it for n:Label in expression position; the compiler
// synthesizes it for multi-label pattern constraints.
type LabelPredicate struct {
	Variable string
	Label    string
}

func (*Literal) exprNode()        {}
func (*Variable) exprNode()       {}
func (*Parameter) exprNode()      {}
func (*PropertyExpr) exprNode()   {}
func (*BinaryExpr) exprNode()     {}
func (*UnaryExpr) exprNode()      {}
func (*IsNullExpr) exprNode()     {}
func (*ListExpr) exprNode()       {}
func (*MapExpr) exprNode()        {}
func (*FunctionCall) exprNode()   {}
func (*CaseExpr) exprNode()       {}
func (*LabelPredicate) exprNode() {}

// exprText renders an expression back to query text. Used for the column
// name of unaliased projection items, so the rendering is stable across
// compiles of the same query.
func exprText(e Expr) string {
	var sb strings.Builder
	writeExprText(&sb, e)
	return sb.String()
}

func writeExprText(sb *strings.Builder, e Expr) {
	switch x := e.(type) {
	case *Literal:
		writeLiteralText(sb, x.Value)
	case *Variable:
		sb.WriteString(x.Name)
	case *Parameter:
		sb.WriteByte('$')
		sb.WriteString(x.Name)
	case *PropertyExpr:
		writeExprText(sb, x.Subject)
		sb.WriteByte('.')
		sb.WriteString(x.Key)
	case *BinaryExpr:
		writeExprText(sb, x.Left)
		sb.WriteByte(' ')
		sb.WriteString(x.Op)
		sb.WriteByte(' ')
		writeExprText(sb, x.Right)
	case *UnaryExpr:
		sb.WriteString(x.Op)
		if x.Op == "NOT" {
			sb.WriteByte(' ')
		}
		writeExprText(sb, x.Operand)
	case *IsNullExpr:
		writeExprText(sb, x.Operand)
		if x.Negated {
			sb.WriteString(" IS NOT NULL")
		} else {
			sb.WriteString(" IS NULL")
		}
	case *ListExpr:
		sb.WriteByte('[')
		for i, item := range x.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeExprText(sb, item)
		}
		sb.WriteByte(']')
	case *MapExpr:
		sb.WriteByte('{')
		for i, entry := range x.Entries {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(entry.Key)
			sb.WriteString(": ")
			writeExprText(sb, entry.Value)
		}
		sb.WriteByte('}')
	case *FunctionCall:
		sb.WriteString(x.Name)
		sb.WriteByte('(')
		if x.Distinct {
			sb.WriteString("DISTINCT ")
		}
		if x.Star {
			sb.WriteByte('*')
		}
		for i, arg := range x.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeExprText(sb, arg)
		}
		sb.WriteByte(')')
	case *CaseExpr:
		sb.WriteString("CASE")
		if x.Operand != nil {
			sb.WriteByte(' ')
			writeExprText(sb, x.Operand)
		}
		for _, w := range x.Whens {
			sb.WriteString(" WHEN ")
			writeExprText(sb, w.Cond)
			sb.WriteString(" THEN ")
			writeExprText(sb, w.Then)
		}
		if x.Else != nil {
			sb.WriteString(" ELSE ")
			writeExprText(sb, x.Else)
		}
		sb.WriteString(" END")
	case *LabelPredicate:
		sb.WriteString(x.Variable)
		sb.WriteByte(':')
		sb.WriteString(x.Label)
	}
}

func writeLiteralText(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("NULL")
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case float64:
		sb.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case string:
		sb.WriteByte('\'')
		sb.WriteString(strings.ReplaceAll(val, "'", "\\'"))
		sb.WriteByte('\'')
	default:
		sb.WriteString("?")
	}
}
