package cypher

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/muninndb/muninn/pkg/storage"
)

// Compile lowers a parsed query to its instruction stream. Compilation is
// deterministic: the same AST always produces the same Program.
func Compile(q *Query) (*Program, error) {
	c := &compiler{bound: map[string]varKind{}}
	if err := c.compileClauses(q.Clauses); err != nil {
		return nil, err
	}
	if c.unions > 0 {
		if !c.branchProjected {
			return nil, compileErrorf(errClassUnionMix, "each UNION branch must end with RETURN")
		}
		if err := c.checkBranchColumns(); err != nil {
			return nil, err
		}
	}
	return &Program{
		Ops:         c.ops,
		QueryType:   queryType(c.ops, c.sawReturn),
		ReturnsRows: c.sawReturn,
	}, nil
}

type varKind int

const (
	varNode varKind = iota
	varRel
	varValue
)

type compiler struct {
	ops   []Op
	bound map[string]varKind
	anon  int

	// union bookkeeping across branches
	unions          int
	unionAll        *bool
	firstBranchCols []string
	branchCols      []string
	branchProjected bool
	sawReturn       bool
}

func (c *compiler) emit(op Op) {
	c.ops = append(c.ops, op)
}

func (c *compiler) anonVar() string {
	c.anon++
	return "_anon" + strconv.Itoa(c.anon)
}

func (c *compiler) isBound(name string) bool {
	_, ok := c.bound[name]
	return ok
}

func (c *compiler) bindVar(name string, kind varKind) error {
	existing, ok := c.bound[name]
	if ok {
		if (existing == varNode && kind == varRel) || (existing == varRel && kind == varNode) {
			return compileErrorf(errClassPattern, "variable %q already in use with a different kind", name)
		}
		return nil
	}
	c.bound[name] = kind
	return nil
}

func (c *compiler) compileClauses(clauses []Clause) error {
	for _, clause := range clauses {
		var err error
		switch x := clause.(type) {
		case *MatchClause:
			err = c.compileMatch(x)
		case *CreateClause:
			err = c.compileCreate(x.Pattern)
		case *MergeClause:
			err = c.compileMerge(x)
		case *DeleteClause:
			err = c.compileDelete(x)
		case *SetClause:
			err = c.compileSet(x.Items)
		case *RemoveClause:
			err = c.compileRemove(x)
		case *ReturnClause:
			err = c.compileReturn(x)
		case *WithClause:
			err = c.compileWith(x)
		case *UnwindClause:
			err = c.compileUnwind(x)
		case *UnionClause:
			err = c.compileUnion(x)
		case *ForeachClause:
			err = c.compileForeach(x)
		case *CallClause:
			err = c.compileCall(x)
		default:
			err = compileErrorf(errClassInternal, "unhandled clause %T", clause)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ---- MATCH ----

func (c *compiler) compileMatch(clause *MatchClause) error {
	for _, path := range clause.Pattern.Paths {
		if err := c.compilePathMatch(path, clause.Optional); err != nil {
			return err
		}
	}
	if clause.Where != nil {
		if err := c.validateExpr(clause.Where, false); err != nil {
			return err
		}
		c.emit(&Filter{Cond: normalizeNot(clause.Where)})
	}
	return nil
}

// compilePathMatch lowers one path of a MATCH pattern. The leading node
// becomes a scan when unbound; every relationship becomes an expansion
// that never re-scans its target. Extra label and property constraints
// become filters after the producing op.
func (c *compiler) compilePathMatch(path *PathPattern, optional bool) error {
	prev := ""
	for i, node := range path.Nodes {
		name := node.Variable
		if name == "" {
			name = c.anonVar()
		}

		if i == 0 {
			if c.isBound(name) {
				c.emitNodeConstraints(name, node)
			} else {
				if err := c.validateProps(node.Props); err != nil {
					return err
				}
				if len(node.Labels) > 0 {
					c.emit(&ScanLabel{Var: name, Label: node.Labels[0], Props: node.Props})
					for _, label := range node.Labels[1:] {
						c.emit(&Filter{Cond: &LabelPredicate{Variable: name, Label: label}})
					}
				} else {
					c.emit(&ScanAll{Var: name, Props: node.Props})
				}
				if err := c.bindVar(name, varNode); err != nil {
					return err
				}
			}
			prev = name
			continue
		}

		rel := path.Rels[i-1]
		relName := rel.Variable
		if relName == "" {
			relName = c.anonVar()
		}
		if kind, ok := c.bound[prev]; ok && kind == varRel {
			return compileErrorf(errClassPattern, "cannot expand from relationship variable %q", prev)
		}

		relBound := c.isBound(relName)
		toBound := c.isBound(name)
		expandOp := expandFields{
			FromVar:      prev,
			RelVar:       relName,
			ToVar:        name,
			RelType:      rel.Type,
			Dir:          relDirection(rel.Dir),
			TargetLabels: node.Labels,
			RelBound:     relBound,
			ToBound:      toBound,
		}
		if optional {
			c.emit(expandOp.optional())
		} else {
			c.emit(expandOp.required())
		}
		if err := c.bindVar(relName, varRel); err != nil {
			return err
		}
		if err := c.bindVar(name, varNode); err != nil {
			return err
		}

		if err := c.emitPropFilters(relName, rel.Props); err != nil {
			return err
		}
		if err := c.emitPropFilters(name, node.Props); err != nil {
			return err
		}
		prev = name
	}
	return nil
}

// expandFields builds Expand or OptionalExpand from the shared field set.
type expandFields struct {
	FromVar      string
	RelVar       string
	ToVar        string
	RelType      string
	Dir          storage.Direction
	TargetLabels []string
	RelBound     bool
	ToBound      bool
}

func (f expandFields) required() *Expand {
	return &Expand{
		FromVar: f.FromVar, RelVar: f.RelVar, ToVar: f.ToVar,
		RelType: f.RelType, Dir: f.Dir, TargetLabels: f.TargetLabels,
		RelBound: f.RelBound, ToBound: f.ToBound,
	}
}

func (f expandFields) optional() *OptionalExpand {
	return &OptionalExpand{
		FromVar: f.FromVar, RelVar: f.RelVar, ToVar: f.ToVar,
		RelType: f.RelType, Dir: f.Dir, TargetLabels: f.TargetLabels,
		RelBound: f.RelBound, ToBound: f.ToBound,
	}
}

func relDirection(dir RelDirection) storage.Direction {
	switch dir {
	case RelOut:
		return storage.DirOut
	case RelIn:
		return storage.DirIn
	default:
		return storage.DirBoth
	}
}

// emitNodeConstraints narrows an already bound variable by the labels and
// properties of a re-appearing node pattern.
func (c *compiler) emitNodeConstraints(name string, node *NodePattern) {
	for _, label := range node.Labels {
		c.emit(&Filter{Cond: &LabelPredicate{Variable: name, Label: label}})
	}
	for _, key := range sortedPropKeys(node.Props) {
		c.emit(&Filter{Cond: &BinaryExpr{
			Op:    "=",
			Left:  &PropertyExpr{Subject: &Variable{Name: name}, Key: key},
			Right: node.Props[key],
		}})
	}
}

func (c *compiler) emitPropFilters(name string, props map[string]Expr) error {
	if err := c.validateProps(props); err != nil {
		return err
	}
	for _, key := range sortedPropKeys(props) {
		c.emit(&Filter{Cond: &BinaryExpr{
			Op:    "=",
			Left:  &PropertyExpr{Subject: &Variable{Name: name}, Key: key},
			Right: props[key],
		}})
	}
	return nil
}

func (c *compiler) validateProps(props map[string]Expr) error {
	for _, key := range sortedPropKeys(props) {
		if err := c.validateExpr(props[key], false); err != nil {
			return err
		}
	}
	return nil
}

func sortedPropKeys(props map[string]Expr) []string {
	if len(props) == 0 {
		return nil
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---- CREATE ----

func (c *compiler) compileCreate(pattern *Pattern) error {
	for _, path := range pattern.Paths {
		if err := c.compilePathCreate(path); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) compilePathCreate(path *PathPattern) error {
	names := make([]string, len(path.Nodes))
	for i, node := range path.Nodes {
		name := node.Variable
		if name == "" {
			name = c.anonVar()
		}
		names[i] = name

		if c.isBound(name) {
			if len(node.Labels) > 0 || len(node.Props) > 0 {
				return compileErrorf(errClassPattern,
					"variable %q is already bound and cannot be redeclared with labels or properties", name)
			}
			continue
		}
		if err := c.validateProps(node.Props); err != nil {
			return err
		}
		c.emit(&CreateNode{Var: name, Labels: node.Labels, Props: node.Props})
		if err := c.bindVar(name, varNode); err != nil {
			return err
		}
	}

	for i, rel := range path.Rels {
		if rel.Type == "" {
			return compileErrorf(errClassPattern, "CREATE requires a relationship type")
		}
		if rel.Dir == RelUndirected {
			return compileErrorf(errClassPattern, "CREATE requires a relationship direction")
		}
		relName := rel.Variable
		if relName == "" {
			relName = c.anonVar()
		}
		if c.isBound(relName) {
			return compileErrorf(errClassPattern, "relationship variable %q is already bound", relName)
		}
		if err := c.validateProps(rel.Props); err != nil {
			return err
		}
		from, to := names[i], names[i+1]
		if rel.Dir == RelIn {
			from, to = to, from
		}
		c.emit(&CreateRelationship{Var: relName, RelType: rel.Type, FromVar: from, ToVar: to, Props: rel.Props})
		if err := c.bindVar(relName, varRel); err != nil {
			return err
		}
	}
	return nil
}

// ---- MERGE ----

func (c *compiler) compileMerge(clause *MergeClause) error {
	// The match and create arms compile against the same pre-merge scope.
	preBound := c.snapshotBound()

	matchOps, err := c.compileSub(func() error {
		return c.compilePathMatch(clause.Path, false)
	})
	if err != nil {
		return err
	}

	c.bound = c.cloneBound(preBound)
	createOps, err := c.compileSub(func() error {
		return c.compilePathCreate(clause.Path)
	})
	if err != nil {
		return err
	}

	// After MERGE every named pattern variable is bound either way.
	c.bound = c.cloneBound(preBound)
	for _, node := range clause.Path.Nodes {
		if node.Variable != "" {
			if err := c.bindVar(node.Variable, varNode); err != nil {
				return err
			}
		}
	}
	for _, rel := range clause.Path.Rels {
		if rel.Variable != "" {
			if err := c.bindVar(rel.Variable, varRel); err != nil {
				return err
			}
		}
	}

	onCreate, err := c.compileMergeActions(clause.OnCreate)
	if err != nil {
		return err
	}
	onMatch, err := c.compileMergeActions(clause.OnMatch)
	if err != nil {
		return err
	}

	c.emit(&Merge{Match: matchOps, Create: createOps, OnCreate: onCreate, OnMatch: onMatch})
	return nil
}

func (c *compiler) compileMergeActions(items []SetItem) ([]SetProperty, error) {
	var out []SetProperty
	for _, item := range items {
		if !c.isBound(item.Variable) {
			return nil, compileErrorf(errClassUnknownVar, "unknown variable: %s", item.Variable)
		}
		if err := c.validateExpr(item.Value, false); err != nil {
			return nil, err
		}
		out = append(out, SetProperty{Var: item.Variable, Key: item.Property, Value: item.Value})
	}
	return out, nil
}

// compileSub runs f with a fresh op buffer and returns the ops it emitted.
func (c *compiler) compileSub(f func() error) ([]Op, error) {
	saved := c.ops
	c.ops = nil
	err := f()
	sub := c.ops
	c.ops = saved
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *compiler) snapshotBound() map[string]varKind {
	return c.cloneBound(c.bound)
}

func (c *compiler) cloneBound(src map[string]varKind) map[string]varKind {
	out := make(map[string]varKind, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ---- DELETE / SET / REMOVE ----

func (c *compiler) compileDelete(clause *DeleteClause) error {
	vars := make([]string, 0, len(clause.Exprs))
	for _, expr := range clause.Exprs {
		v, ok := expr.(*Variable)
		if !ok {
			return compileErrorf(errClassUnsupported, "DELETE expects a bound variable")
		}
		if !c.isBound(v.Name) {
			return compileErrorf(errClassUnknownVar, "unknown variable: %s", v.Name)
		}
		vars = append(vars, v.Name)
	}
	c.emit(&Delete{Vars: vars, Detach: clause.Detach})
	return nil
}

func (c *compiler) compileSet(items []SetItem) error {
	for _, item := range items {
		if !c.isBound(item.Variable) {
			return compileErrorf(errClassUnknownVar, "unknown variable: %s", item.Variable)
		}
		if err := c.validateExpr(item.Value, false); err != nil {
			return err
		}
		c.emit(&SetProperty{Var: item.Variable, Key: item.Property, Value: item.Value})
	}
	return nil
}

func (c *compiler) compileRemove(clause *RemoveClause) error {
	for _, item := range clause.Items {
		if !c.isBound(item.Variable) {
			return compileErrorf(errClassUnknownVar, "unknown variable: %s", item.Variable)
		}
		if item.Label != "" {
			if c.bound[item.Variable] == varRel {
				return compileErrorf(errClassTypeError, "labels apply to nodes, %q is a relationship", item.Variable)
			}
			c.emit(&RemoveLabel{Var: item.Variable, Label: item.Label})
			continue
		}
		c.emit(&RemoveProperty{Var: item.Variable, Key: item.Property})
	}
	return nil
}

// ---- UNWIND / FOREACH / CALL ----

func (c *compiler) compileUnwind(clause *UnwindClause) error {
	if err := c.validateExpr(clause.Source, false); err != nil {
		return err
	}
	c.emit(&Unwind{Source: clause.Source, Var: clause.Alias})
	return c.bindVar(clause.Alias, varValue)
}

func (c *compiler) compileForeach(clause *ForeachClause) error {
	if err := c.validateExpr(clause.Source, false); err != nil {
		return err
	}
	preBound := c.snapshotBound()
	if err := c.bindVar(clause.Variable, varValue); err != nil {
		return err
	}
	body, err := c.compileSub(func() error {
		return c.compileClauses(clause.Body)
	})
	c.bound = preBound
	if err != nil {
		return err
	}
	c.emit(&Foreach{Var: clause.Variable, Source: clause.Source, Body: body})
	return nil
}

func (c *compiler) compileCall(clause *CallClause) error {
	// The subquery sees the outer scope and compiles with its own union
	// bookkeeping.
	sub := &compiler{bound: c.snapshotBound(), anon: c.anon}
	if err := sub.compileClauses(clause.Body); err != nil {
		return err
	}
	if sub.unions > 0 {
		if !sub.branchProjected {
			return compileErrorf(errClassUnionMix, "each UNION branch must end with RETURN")
		}
		if err := sub.checkBranchColumns(); err != nil {
			return err
		}
	}
	c.anon = sub.anon

	if len(clause.Yields) > 0 {
		cols := sub.branchCols
		if sub.unions > 0 {
			cols = sub.firstBranchCols
		}
		if len(cols) == 0 {
			return compileErrorf(errClassUnsupported, "CALL subquery must RETURN columns to YIELD")
		}
		known := make(map[string]bool, len(cols))
		for _, col := range cols {
			known[col] = true
		}
		for _, y := range clause.Yields {
			if !known[y.Name] {
				return compileErrorf(errClassUnknownVar, "unknown column %q in YIELD", y.Name)
			}
			if err := c.bindVar(y.Alias, varValue); err != nil {
				return err
			}
		}
	}

	c.emit(&CallSubquery{Body: sub.ops, Yields: clause.Yields})
	return nil
}

// ---- RETURN / WITH / UNION ----

func (c *compiler) compileReturn(clause *ReturnClause) error {
	cols, items, aggs, hasAgg, err := c.buildProjection(clause.Items)
	if err != nil {
		return err
	}
	if hasAgg {
		c.emit(&Aggregate{Items: aggs})
	} else {
		c.emit(&Project{Items: items, Distinct: clause.Distinct})
	}
	if err := c.emitWindow(clause.OrderBy, clause.Skip, clause.Limit, clause.Items, cols, hasAgg); err != nil {
		return err
	}

	c.branchProjected = true
	c.branchCols = cols
	c.sawReturn = true
	if c.unions == 0 {
		c.firstBranchCols = cols
	}
	return nil
}

func (c *compiler) compileWith(clause *WithClause) error {
	for _, item := range clause.Items {
		if item.Alias == "" {
			if _, ok := item.Expr.(*Variable); !ok {
				return compileErrorf(errClassUnsupported, "expressions in WITH must be aliased")
			}
		}
	}
	cols, items, aggs, hasAgg, err := c.buildProjection(clause.Items)
	if err != nil {
		return err
	}
	if hasAgg {
		c.emit(&Aggregate{Items: aggs})
	} else {
		c.emit(&WithProject{Items: items, Distinct: clause.Distinct})
	}
	if err := c.emitWindow(clause.OrderBy, clause.Skip, clause.Limit, clause.Items, cols, hasAgg); err != nil {
		return err
	}

	// WITH resets the scope to exactly the projected names, keeping the
	// entity kind of passthrough variables.
	newBound := make(map[string]varKind, len(clause.Items))
	for _, item := range clause.Items {
		name := item.Alias
		kind := varValue
		if v, ok := item.Expr.(*Variable); ok {
			if name == "" {
				name = v.Name
			}
			if !hasAgg {
				kind = c.bound[v.Name]
			}
		}
		newBound[name] = kind
	}
	c.bound = newBound

	if clause.Where != nil {
		if err := c.validateExpr(clause.Where, false); err != nil {
			return err
		}
		c.emit(&Filter{Cond: normalizeNot(clause.Where)})
	}
	return nil
}

// buildProjection turns projection items into either Project items or
// Aggregate items, splitting grouping keys from aggregation calls.
func (c *compiler) buildProjection(retItems []ReturnItem) (cols []string, items []ProjectItem, aggs []AggregateItem, hasAgg bool, err error) {
	for _, item := range retItems {
		if isAggregateCall(item.Expr) {
			hasAgg = true
			break
		}
	}

	seen := make(map[string]bool, len(retItems))
	for _, item := range retItems {
		col := item.Alias
		if col == "" {
			col = exprText(item.Expr)
		}
		if seen[col] {
			return nil, nil, nil, false, compileErrorf(errClassUnsupported, "duplicate column name %q", col)
		}
		seen[col] = true
		cols = append(cols, col)

		if call, ok := item.Expr.(*FunctionCall); ok && isAggregateFunc(call.Name) {
			agg, err := c.buildAggCall(call)
			if err != nil {
				return nil, nil, nil, false, err
			}
			aggs = append(aggs, AggregateItem{Col: col, Agg: agg})
			continue
		}

		if err := c.validateExpr(item.Expr, false); err != nil {
			return nil, nil, nil, false, err
		}
		if hasAgg {
			aggs = append(aggs, AggregateItem{Col: col, Expr: item.Expr})
		} else {
			items = append(items, ProjectItem{Col: col, Expr: item.Expr})
		}
	}
	if hasAgg {
		items = nil
	}
	return cols, items, aggs, hasAgg, nil
}

func (c *compiler) buildAggCall(call *FunctionCall) (*AggCall, error) {
	name := strings.ToLower(call.Name)
	agg := &AggCall{Func: name, Distinct: call.Distinct, Star: call.Star}

	if call.Star {
		if name != "count" {
			return nil, compileErrorf(errClassInvalidArg, "* is only valid in count()")
		}
		if len(call.Args) != 0 {
			return nil, compileErrorf(errClassInvalidArg, "count(*) takes no arguments")
		}
		return agg, nil
	}

	wantArgs := 1
	if name == "percentilecont" || name == "percentiledisc" {
		wantArgs = 2
	}
	if len(call.Args) != wantArgs {
		return nil, compileErrorf(errClassInvalidArg, "%s expects %d argument(s), got %d", call.Name, wantArgs, len(call.Args))
	}
	if err := c.validateExpr(call.Args[0], false); err != nil {
		return nil, err
	}
	agg.Expr = call.Args[0]
	if wantArgs == 2 {
		if err := c.validateExpr(call.Args[1], false); err != nil {
			return nil, err
		}
		agg.Extra = call.Args[1]
	}
	return agg, nil
}

// emitWindow emits OrderBy, Skip and Limit ops for a projection. Sort
// expressions matching a projection item are rewritten to reference the
// projected column, so ordering by an aggregate or an unaliased
// expression resolves to the computed value.
func (c *compiler) emitWindow(orderBy []SortItem, skip, limit Expr, retItems []ReturnItem, cols []string, hasAgg bool) error {
	if len(orderBy) > 0 {
		specs := make([]SortSpec, 0, len(orderBy))
		for _, s := range orderBy {
			expr := s.Expr
			rewritten := false
			for i, item := range retItems {
				if reflect.DeepEqual(expr, item.Expr) {
					expr = &Variable{Name: cols[i]}
					rewritten = true
					break
				}
				if item.Alias != "" {
					if v, ok := expr.(*Variable); ok && v.Name == item.Alias {
						expr = &Variable{Name: cols[i]}
						rewritten = true
						break
					}
				}
			}
			if !rewritten {
				if err := c.validateSortExpr(expr, cols, hasAgg); err != nil {
					return err
				}
			}
			specs = append(specs, SortSpec{Expr: expr, Desc: s.Desc})
		}
		c.emit(&OrderBy{Items: specs})
	}
	if skip != nil {
		if err := c.validateCountExpr(skip, "SKIP"); err != nil {
			return err
		}
		c.emit(&Skip{Count: skip})
	}
	if limit != nil {
		if err := c.validateCountExpr(limit, "LIMIT"); err != nil {
			return err
		}
		c.emit(&Limit{Count: limit})
	}
	return nil
}

// validateSortExpr checks an ORDER BY expression that did not match a
// projection item. After aggregation only projected columns remain in
// scope; otherwise the pre-projection scope is still visible.
func (c *compiler) validateSortExpr(expr Expr, cols []string, hasAgg bool) error {
	names := collectVarNames(expr)
	for _, name := range names {
		inCols := false
		for _, col := range cols {
			if col == name {
				inCols = true
				break
			}
		}
		if inCols {
			continue
		}
		if hasAgg {
			return compileErrorf(errClassUnknownVar, "ORDER BY references %q which is not in the projection", name)
		}
		if !c.isBound(name) {
			return compileErrorf(errClassUnknownVar, "unknown variable: %s", name)
		}
	}
	return c.checkCallsKnown(expr)
}

func (c *compiler) validateCountExpr(expr Expr, clause string) error {
	if len(collectVarNames(expr)) > 0 {
		return compileErrorf(errClassUnsupported, "%s cannot reference variables", clause)
	}
	return c.checkCallsKnown(expr)
}

func (c *compiler) compileUnion(clause *UnionClause) error {
	if !c.branchProjected {
		return compileErrorf(errClassUnionMix, "each UNION branch must end with RETURN")
	}
	if c.unionAll == nil {
		all := clause.All
		c.unionAll = &all
	} else if *c.unionAll != clause.All {
		return compileErrorf(errClassUnionMix, "cannot mix UNION and UNION ALL")
	}
	if err := c.checkBranchColumns(); err != nil {
		return err
	}

	c.unions++
	c.emit(&Union{All: clause.All})
	c.bound = map[string]varKind{}
	c.branchProjected = false
	c.branchCols = nil
	return nil
}

func (c *compiler) checkBranchColumns() error {
	if c.unions == 0 {
		return nil
	}
	if len(c.branchCols) != len(c.firstBranchCols) {
		return compileErrorf(errClassUnionMix, "UNION branches must return the same columns")
	}
	for i, col := range c.branchCols {
		if col != c.firstBranchCols[i] {
			return compileErrorf(errClassUnionMix, "UNION branches must return the same columns")
		}
	}
	return nil
}

// ---- expression validation ----

// validateExpr checks variable references, function names and aggregation
// placement. Aggregation calls are only legal where the caller says so;
// buildProjection handles the legal positions itself, so allowAgg is
// false everywhere validateExpr is reached.
func (c *compiler) validateExpr(expr Expr, allowAgg bool) error {
	switch x := expr.(type) {
	case nil:
		return nil
	case *Literal, *Parameter:
		return nil
	case *Variable:
		if !c.isBound(x.Name) {
			return compileErrorf(errClassUnknownVar, "unknown variable: %s", x.Name)
		}
		return nil
	case *LabelPredicate:
		if !c.isBound(x.Variable) {
			return compileErrorf(errClassUnknownVar, "unknown variable: %s", x.Variable)
		}
		return nil
	case *PropertyExpr:
		return c.validateExpr(x.Subject, false)
	case *BinaryExpr:
		if err := c.validateExpr(x.Left, false); err != nil {
			return err
		}
		return c.validateExpr(x.Right, false)
	case *UnaryExpr:
		return c.validateExpr(x.Operand, false)
	case *IsNullExpr:
		return c.validateExpr(x.Operand, false)
	case *ListExpr:
		for _, item := range x.Items {
			if err := c.validateExpr(item, false); err != nil {
				return err
			}
		}
		return nil
	case *MapExpr:
		for _, entry := range x.Entries {
			if err := c.validateExpr(entry.Value, false); err != nil {
				return err
			}
		}
		return nil
	case *CaseExpr:
		if err := c.validateExpr(x.Operand, false); err != nil {
			return err
		}
		for _, w := range x.Whens {
			if err := c.validateExpr(w.Cond, false); err != nil {
				return err
			}
			if err := c.validateExpr(w.Then, false); err != nil {
				return err
			}
		}
		return c.validateExpr(x.Else, false)
	case *FunctionCall:
		if isAggregateFunc(x.Name) {
			if !allowAgg {
				return compileErrorf(errClassUnsupported, "aggregation must be a top-level projection item")
			}
			_, err := c.buildAggCall(x)
			return err
		}
		if x.Distinct {
			return compileErrorf(errClassInvalidArg, "DISTINCT is only valid in aggregations")
		}
		if x.Star {
			return compileErrorf(errClassInvalidArg, "* is only valid in count()")
		}
		arity, known := scalarFuncs[strings.ToLower(x.Name)]
		if !known {
			return compileErrorf(errClassUnknownFunc, "unknown function: %s", x.Name)
		}
		if len(x.Args) < arity.min || (arity.max >= 0 && len(x.Args) > arity.max) {
			return compileErrorf(errClassInvalidArg, "wrong number of arguments to %s", x.Name)
		}
		for _, arg := range x.Args {
			if err := c.validateExpr(arg, false); err != nil {
				return err
			}
		}
		return nil
	}
	return compileErrorf(errClassInternal, "unhandled expression %T", expr)
}

// checkCallsKnown validates function names in an expression without
// re-checking variable scope.
func (c *compiler) checkCallsKnown(expr Expr) error {
	found := ""
	walkExpr(expr, func(e Expr) {
		if call, ok := e.(*FunctionCall); ok && found == "" {
			name := strings.ToLower(call.Name)
			if _, scalar := scalarFuncs[name]; !scalar && !isAggregateFunc(name) {
				found = call.Name
			}
		}
	})
	if found != "" {
		return compileErrorf(errClassUnknownFunc, "unknown function: %s", found)
	}
	return nil
}

func isAggregateCall(expr Expr) bool {
	call, ok := expr.(*FunctionCall)
	return ok && isAggregateFunc(call.Name)
}

// collectVarNames returns every variable name referenced by an
// expression, in first-appearance order.
func collectVarNames(expr Expr) []string {
	var names []string
	seen := map[string]bool{}
	walkExpr(expr, func(e Expr) {
		switch x := e.(type) {
		case *Variable:
			if !seen[x.Name] {
				seen[x.Name] = true
				names = append(names, x.Name)
			}
		case *LabelPredicate:
			if !seen[x.Variable] {
				seen[x.Variable] = true
				names = append(names, x.Variable)
			}
		}
	})
	return names
}

// walkExpr visits every node of an expression tree in preorder.
func walkExpr(expr Expr, visit func(Expr)) {
	if expr == nil {
		return
	}
	visit(expr)
	switch x := expr.(type) {
	case *PropertyExpr:
		walkExpr(x.Subject, visit)
	case *BinaryExpr:
		walkExpr(x.Left, visit)
		walkExpr(x.Right, visit)
	case *UnaryExpr:
		walkExpr(x.Operand, visit)
	case *IsNullExpr:
		walkExpr(x.Operand, visit)
	case *ListExpr:
		for _, item := range x.Items {
			walkExpr(item, visit)
		}
	case *MapExpr:
		for _, entry := range x.Entries {
			walkExpr(entry.Value, visit)
		}
	case *CaseExpr:
		walkExpr(x.Operand, visit)
		for _, w := range x.Whens {
			walkExpr(w.Cond, visit)
			walkExpr(w.Then, visit)
		}
		walkExpr(x.Else, visit)
	case *FunctionCall:
		for _, arg := range x.Args {
			walkExpr(arg, visit)
		}
	}
}

// ---- NOT normalization ----

// normalizeNot pushes NOT through comparisons and boolean connectives so
// filters test the positive form where one exists: NOT a = b becomes
// a <> b, NOT (p AND q) becomes NOT p OR NOT q, and double negation
// cancels. Operators with asymmetric null behavior (IN, CONTAINS, the
// string prefixes) keep their NOT.
func normalizeNot(expr Expr) Expr {
	switch x := expr.(type) {
	case *UnaryExpr:
		if x.Op != "NOT" {
			return x
		}
		if inverted, ok := invertExpr(x.Operand); ok {
			return normalizeNot(inverted)
		}
		return &UnaryExpr{Op: "NOT", Operand: normalizeNot(x.Operand)}
	case *BinaryExpr:
		switch x.Op {
		case "AND", "OR", "XOR":
			return &BinaryExpr{Op: x.Op, Left: normalizeNot(x.Left), Right: normalizeNot(x.Right)}
		}
		return x
	}
	return expr
}

var invertedComparison = map[string]string{
	"=":  "<>",
	"<>": "=",
	"<":  ">=",
	">=": "<",
	">":  "<=",
	"<=": ">",
}

func invertExpr(expr Expr) (Expr, bool) {
	switch x := expr.(type) {
	case *BinaryExpr:
		if op, ok := invertedComparison[x.Op]; ok {
			return &BinaryExpr{Op: op, Left: x.Left, Right: x.Right}, true
		}
		switch x.Op {
		case "AND":
			return &BinaryExpr{
				Op:    "OR",
				Left:  &UnaryExpr{Op: "NOT", Operand: x.Left},
				Right: &UnaryExpr{Op: "NOT", Operand: x.Right},
			}, true
		case "OR":
			return &BinaryExpr{
				Op:    "AND",
				Left:  &UnaryExpr{Op: "NOT", Operand: x.Left},
				Right: &UnaryExpr{Op: "NOT", Operand: x.Right},
			}, true
		}
	case *IsNullExpr:
		return &IsNullExpr{Operand: x.Operand, Negated: !x.Negated}, true
	case *UnaryExpr:
		if x.Op == "NOT" {
			return x.Operand, true
		}
	}
	return nil, false
}

// ---- query classification ----

func queryType(ops []Op, returnsRows bool) string {
	if !opsWrite(ops) {
		return "read"
	}
	if returnsRows {
		return "read-write"
	}
	return "write"
}

func opsWrite(ops []Op) bool {
	for _, op := range ops {
		switch x := op.(type) {
		case *CreateNode, *CreateRelationship, *Delete, *SetProperty, *RemoveProperty, *RemoveLabel:
			return true
		case *Merge:
			return true
		case *Foreach:
			if opsWrite(x.Body) {
				return true
			}
		case *CallSubquery:
			if opsWrite(x.Body) {
				return true
			}
		}
	}
	return false
}

