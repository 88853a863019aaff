package cypher

import "github.com/muninndb/muninn/pkg/storage"

// Program is the compiled form of a statement: a flat op sequence executed
// top to bottom against a row stream. Compiling the same query text always
// yields an identical Program, so programs are safe to cache and compare.
type Program struct {
	Ops []Op

	// QueryType summarizes the statement: "read", "write" or "read-write".
	QueryType string

	// ReturnsRows is true when the query ends in RETURN and therefore
	// produces records.
	ReturnsRows bool
}

// Op is a single instruction. The opName marker closes the set.
type Op interface {
	opName() string
}

// ScanAll binds every node in the graph to Var, once per input row.
// Props restricts the scan to nodes whose properties equal the evaluated
// expressions.
type ScanAll struct {
	Var   string
	Props map[string]Expr
}

// ScanLabel binds every node carrying Label to Var. Additional label
// constraints from the pattern are emitted as Filter ops after the scan.
type ScanLabel struct {
	Var   string
	Label string
	Props map[string]Expr
}

// Filter drops rows where Cond does not evaluate to true.
type Filter struct {
	Cond Expr
}

// Expand walks relationships from the node bound to FromVar and binds the
// relationship to RelVar and the far node to ToVar. RelType restricts the
// relationship type when non-empty. TargetLabels must all be present on
// the far node. When ToVar or RelVar is already bound, the existing
// binding acts as an identity constraint instead of being rebound.
// Relationships whose far endpoint no longer resolves are skipped.
type Expand struct {
	FromVar      string
	RelVar       string
	ToVar        string
	RelType      string
	Dir          storage.Direction
	TargetLabels []string

	// RelBound and ToBound record whether the variable was already bound
	// when the pattern was compiled. A bound variable is an identity
	// constraint on the traversal instead of a fresh binding.
	RelBound bool
	ToBound  bool
}

// OptionalExpand is Expand with OPTIONAL MATCH semantics: a row with no
// matching relationship is kept once with RelVar and ToVar bound to null.
type OptionalExpand struct {
	FromVar      string
	RelVar       string
	ToVar        string
	RelType      string
	Dir          storage.Direction
	TargetLabels []string
	RelBound     bool
	ToBound      bool
}

// ProjectItem is one projected column. Col is the output column name and
// the row key the value is stored under.
type ProjectItem struct {
	Col  string
	Expr Expr
}

// Project evaluates the items into output columns. It is the terminal
// projection of a query branch.
type Project struct {
	Items    []ProjectItem
	Distinct bool
}

// WithProject is the mid-query projection of WITH: it rebinds the row to
// exactly the projected names and resets the variable scope.
type WithProject struct {
	Items    []ProjectItem
	Distinct bool
}

// AggCall is one aggregation invocation. Func is the canonical lowercase
// function name. Expr is nil for the count(*) form. Extra carries the
// second argument of the percentile functions.
type AggCall struct {
	Func     string
	Expr     Expr
	Distinct bool
	Star     bool
	Extra    Expr
}

// AggregateItem is one output column of an Aggregate: either a grouping
// expression (Agg nil) or an aggregation (Expr nil).
type AggregateItem struct {
	Col  string
	Expr Expr
	Agg  *AggCall
}

// Aggregate groups the input rows by the grouping items and computes the
// aggregation items per group. With no grouping items and no input rows
// it emits a single row of empty-input aggregate values.
type Aggregate struct {
	Items []AggregateItem
}

// SortSpec is one ORDER BY key of an OrderBy op.
type SortSpec struct {
	Expr Expr
	Desc bool
}

// OrderBy sorts the row stream. The sort is stable; null values order
// after everything else regardless of direction.
type OrderBy struct {
	Items []SortSpec
}

// Skip drops the first Count rows. Count must evaluate to a non-negative
// integer.
type Skip struct {
	Count Expr
}

// Limit keeps at most Count rows.
type Limit struct {
	Count Expr
}

// CreateNode creates one node per input row and binds it to Var.
// Properties that evaluate to null are not stored.
type CreateNode struct {
	Var    string
	Labels []string
	Props  map[string]Expr
}

// CreateRelationship creates one relationship per input row between the
// nodes bound to FromVar and ToVar and binds it to Var.
type CreateRelationship struct {
	Var     string
	RelType string
	FromVar string
	ToVar   string
	Props   map[string]Expr
}

// Delete removes the entities bound to Vars. Without Detach, deleting a
// node that still has relationships is a constraint violation. With
// Detach, its relationships are deleted first. Null bindings are skipped.
type Delete struct {
	Vars   []string
	Detach bool
}

// SetProperty writes one property on the entity bound to Var. A null
// value removes the property, mirroring the storage layer contract.
type SetProperty struct {
	Var   string
	Key   string
	Value Expr
}

// RemoveProperty deletes one property from the entity bound to Var.
type RemoveProperty struct {
	Var string
	Key string
}

// RemoveLabel removes one label from the node bound to Var.
type RemoveLabel struct {
	Var   string
	Label string
}

// Merge tries Match per input row; on at least one match the matched rows
// continue with OnMatch applied, otherwise Create runs once for the row
// with OnCreate applied.
type Merge struct {
	Match    []Op
	Create   []Op
	OnCreate []SetProperty
	OnMatch  []SetProperty
}

// Union is the barrier between two query branches. The executor collects
// the finished branch and starts the next one from a fresh row stream.
// All selects bag semantics; otherwise duplicate rows are removed when
// the branches are combined.
type Union struct {
	All bool
}

// Unwind expands a list into one row per element bound to Var. A null
// source produces no rows.
type Unwind struct {
	Source Expr
	Var    string
}

// Foreach evaluates Source per row and runs Body once per list element
// with Var bound. Rows pass through unchanged; only side effects remain.
type Foreach struct {
	Var    string
	Source Expr
	Body   []Op
}

// CallSubquery runs Body once per input row with the row's bindings in
// scope. Yields project subquery columns into the outer row, one output
// row per subquery row. Without yields the input row passes through.
type CallSubquery struct {
	Body   []Op
	Yields []YieldItem
}

func (*ScanAll) opName() string            { return "scan_all" }
func (*ScanLabel) opName() string          { return "scan_label" }
func (*Filter) opName() string             { return "filter" }
func (*Expand) opName() string             { return "expand" }
func (*OptionalExpand) opName() string     { return "optional_expand" }
func (*Project) opName() string            { return "project" }
func (*WithProject) opName() string        { return "with_project" }
func (*Aggregate) opName() string          { return "aggregate" }
func (*OrderBy) opName() string            { return "order_by" }
func (*Skip) opName() string               { return "skip" }
func (*Limit) opName() string              { return "limit" }
func (*CreateNode) opName() string         { return "create_node" }
func (*CreateRelationship) opName() string { return "create_relationship" }
func (*Delete) opName() string             { return "delete" }
func (*SetProperty) opName() string        { return "set_property" }
func (*RemoveProperty) opName() string     { return "remove_property" }
func (*RemoveLabel) opName() string        { return "remove_label" }
func (*Merge) opName() string              { return "merge" }
func (*Union) opName() string              { return "union" }
func (*Unwind) opName() string             { return "unwind" }
func (*Foreach) opName() string            { return "foreach" }
func (*CallSubquery) opName() string       { return "call_subquery" }

// OpName exposes the stable op name, used by EXPLAIN style output and
// tests that assert on compiled programs.
func OpName(op Op) string {
	if op == nil {
		return ""
	}
	return op.opName()
}
