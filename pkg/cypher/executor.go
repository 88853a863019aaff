// Package cypher implements Muninn's query language: a Cypher dialect
// compiled to a small linear instruction set and executed against the
// storage layer.
//
// The pipeline is lexer -> parser -> compiler -> executor. The executor
// is stateless between calls; every Execute runs a fresh program against
// the graph it was constructed with, so one executor can serve
// concurrent callers as long as the underlying graph can.
package cypher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/muninndb/muninn/pkg/storage"
)

// Graph is the storage surface queries run against. Both
// *storage.MemoryEngine and *storage.Transaction satisfy it, so the same
// executor works directly on an engine or inside a transaction.
type Graph interface {
	CreateNode(labels []string, properties map[string]any) (*storage.Node, error)
	GetNode(id storage.NodeID) (*storage.Node, error)
	UpdateNode(id storage.NodeID, properties map[string]any) (*storage.Node, error)
	SetNodeLabels(id storage.NodeID, labels []string) (*storage.Node, error)
	DeleteNode(id storage.NodeID) bool
	CreateEdge(edgeType string, start, end storage.NodeID, properties map[string]any) (*storage.Edge, error)
	GetEdge(id storage.EdgeID) (*storage.Edge, error)
	UpdateEdge(id storage.EdgeID, properties map[string]any) (*storage.Edge, error)
	DeleteEdge(id storage.EdgeID) bool
	FindNodes(labels []string, properties map[string]any, limit int) []*storage.Node
	Relationships(id storage.NodeID, dir storage.Direction, edgeType string) []*storage.Edge
	AllNodes() []*storage.Node
	AllEdges() []*storage.Edge
}

// Executor runs compiled query programs against a Graph.
type Executor struct {
	graph Graph

	// MaxRows caps the intermediate row count of a single query. Zero
	// means no cap. Queries that exceed it fail with a resource_limit
	// execution error instead of exhausting memory.
	MaxRows int
}

func NewExecutor(graph Graph) *Executor {
	return &Executor{graph: graph}
}

// Reserved parameter names. They collide with internal binding keys, so
// queries that supply them are rejected before parsing.
var reservedParams = []string{"_id", "_type", "_internal"}

// Execute runs one query.
//
// The error return covers failures before execution starts: reserved
// parameters, lexing, parsing and compilation. Those are returned AND
// mirrored into the result summary. Failures during execution are
// captured in the summary only and Execute returns a nil error; callers
// inspect Summary.Error to distinguish an empty result from a failed
// one. Writes applied before a mid-query failure are not rolled back
// here; run through a transaction when atomicity matters.
func (e *Executor) Execute(ctx context.Context, query string, params map[string]any) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	res := &Result{Summary: Summary{Query: truncateQuery(query)}}

	for _, name := range reservedParams {
		if _, ok := params[name]; ok {
			err := fmt.Errorf("parameter %q is reserved", name)
			res.setError("parameters", errClassReserved, err)
			return res, err
		}
	}

	q, err := Parse(query)
	if err != nil {
		stage := "parse"
		var lexErr *LexError
		if errors.As(err, &lexErr) {
			stage = "lex"
		}
		res.setError(stage, errClassSyntax, err)
		return res, err
	}

	prog, err := Compile(q)
	if err != nil {
		class := errClassInternal
		var cerr *CompileError
		if errors.As(err, &cerr) {
			class = cerr.Class
		}
		res.setError("compile", class, err)
		return res, err
	}
	res.Summary.QueryType = prog.QueryType

	st := &runState{
		ex:       e,
		ctx:      ctx,
		scope:    &evalScope{params: params},
		counters: &res.Summary.Counters,
		rows:     []map[string]any{{}},
	}
	if err := st.run(prog.Ops); err != nil {
		class := errClassInternal
		var xerr *execError
		if errors.As(err, &xerr) {
			class = xerr.class
		}
		res.setError("execution", class, err)
		return res, nil
	}

	if prog.ReturnsRows {
		res.Columns = st.cols
		res.Records = make([][]any, len(st.rows))
		for i, row := range st.rows {
			rec := make([]any, len(st.cols))
			for j, col := range st.cols {
				rec[j] = row[col]
			}
			res.Records[i] = rec
		}
	}
	return res, nil
}

// runState is the mutable state of one program execution: the current
// row set plus union accumulation. Rows are maps from binding name to
// value; projections overlay column values on top of the bindings so
// later ops can reference either.
type runState struct {
	ex       *Executor
	ctx      context.Context
	scope    *evalScope
	counters *Counters

	rows []map[string]any
	cols []string

	unionRows  []map[string]any
	unionDedup bool
	sawUnion   bool
}

func (st *runState) run(ops []Op) error {
	if err := st.runOps(ops); err != nil {
		return err
	}
	if st.sawUnion {
		st.rows = append(st.unionRows, st.rows...)
		if st.unionDedup {
			st.rows = dedupeRows(st.rows, st.cols)
		}
		st.unionRows = nil
		st.sawUnion = false
	}
	return nil
}

func (st *runState) runOps(ops []Op) error {
	for _, op := range ops {
		if err := st.ctx.Err(); err != nil {
			return execErrorf(errClassCanceled, "query canceled: %v", err)
		}
		if err := st.apply(op); err != nil {
			return err
		}
		if st.ex.MaxRows > 0 && len(st.rows) > st.ex.MaxRows {
			return execErrorf(errClassResource, "query exceeded %d rows", st.ex.MaxRows)
		}
	}
	return nil
}

func (st *runState) apply(op Op) error {
	switch x := op.(type) {
	case *ScanAll:
		return st.applyScan(x.Var, nil, x.Props)
	case *ScanLabel:
		return st.applyScan(x.Var, []string{x.Label}, x.Props)
	case *Filter:
		return st.applyFilter(x)
	case *Expand:
		return st.applyExpand(x.FromVar, x.RelVar, x.ToVar, x.RelType, x.Dir, x.TargetLabels, x.RelBound, x.ToBound, false)
	case *OptionalExpand:
		return st.applyExpand(x.FromVar, x.RelVar, x.ToVar, x.RelType, x.Dir, x.TargetLabels, x.RelBound, x.ToBound, true)
	case *Project:
		return st.applyProjection(x.Items, x.Distinct)
	case *WithProject:
		return st.applyProjection(x.Items, x.Distinct)
	case *Aggregate:
		return st.applyAggregate(x)
	case *OrderBy:
		return st.applyOrderBy(x)
	case *Skip:
		return st.applySkipLimit(x.Count, "SKIP")
	case *Limit:
		return st.applySkipLimit(x.Count, "LIMIT")
	case *CreateNode:
		return st.applyCreateNode(x)
	case *CreateRelationship:
		return st.applyCreateRelationship(x)
	case *Delete:
		return st.applyDelete(x)
	case *SetProperty:
		return st.applySetProperty(st.rows, x)
	case *RemoveProperty:
		return st.applyRemoveProperty(x)
	case *RemoveLabel:
		return st.applyRemoveLabel(x)
	case *Merge:
		return st.applyMerge(x)
	case *Union:
		st.unionRows = append(st.unionRows, st.rows...)
		st.sawUnion = true
		st.unionDedup = !x.All
		st.rows = []map[string]any{{}}
		return nil
	case *Unwind:
		return st.applyUnwind(x)
	case *Foreach:
		return st.applyForeach(x)
	case *CallSubquery:
		return st.applyCall(x)
	}
	return execErrorf(errClassInternal, "unhandled instruction %s", OpName(op))
}

// runSub executes ops over a seed row set with shared counters and
// parameters, returning the resulting rows.
func (st *runState) runSub(ops []Op, seed []map[string]any) ([]map[string]any, []string, error) {
	sub := &runState{
		ex:       st.ex,
		ctx:      st.ctx,
		scope:    st.scope,
		counters: st.counters,
		rows:     seed,
	}
	if err := sub.run(ops); err != nil {
		return nil, nil, err
	}
	return sub.rows, sub.cols, nil
}

// ---- pattern ops ----

func (st *runState) applyScan(varName string, labels []string, props map[string]Expr) error {
	var out []map[string]any
	for _, row := range st.rows {
		filter, err := st.evalProps(row, props)
		if err != nil {
			return err
		}
		nodes := st.ex.graph.FindNodes(labels, filter, 0)
		sortNodes(nodes)
		for _, node := range nodes {
			next := cloneRow(row)
			next[varName] = node
			out = append(out, next)
		}
	}
	st.rows = out
	return nil
}

func (st *runState) applyFilter(x *Filter) error {
	out := st.rows[:0]
	for _, row := range st.rows {
		v, err := st.scope.eval(row, x.Cond)
		if err != nil {
			return err
		}
		if toBool(v) {
			out = append(out, row)
		}
	}
	st.rows = out
	return nil
}

func (st *runState) applyExpand(fromVar, relVar, toVar, relType string, dir storage.Direction, targetLabels []string, relBound, toBound, optional bool) error {
	var out []map[string]any
	for _, row := range st.rows {
		matches, err := st.expandRow(row, fromVar, relVar, toVar, relType, dir, targetLabels, relBound, toBound)
		if err != nil {
			return err
		}
		if len(matches) == 0 && optional {
			next := cloneRow(row)
			if !relBound {
				next[relVar] = nil
			}
			if !toBound {
				next[toVar] = nil
			}
			out = append(out, next)
			continue
		}
		out = append(out, matches...)
	}
	st.rows = out
	return nil
}

func (st *runState) expandRow(row map[string]any, fromVar, relVar, toVar, relType string, dir storage.Direction, targetLabels []string, relBound, toBound bool) ([]map[string]any, error) {
	fromVal := row[fromVar]
	if fromVal == nil {
		return nil, nil
	}
	fromNode, ok := fromVal.(*storage.Node)
	if !ok {
		return nil, execErrorf(errClassTypeError, "cannot traverse from %s", typeName(fromVal))
	}

	var boundRel *storage.Edge
	if relBound {
		boundRel, ok = row[relVar].(*storage.Edge)
		if !ok {
			return nil, nil
		}
	}
	var boundTo *storage.Node
	if toBound {
		boundTo, ok = row[toVar].(*storage.Node)
		if !ok {
			return nil, nil
		}
	}

	edges := st.ex.graph.Relationships(fromNode.ID, dir, relType)
	sortEdges(edges)

	var out []map[string]any
	for _, edge := range edges {
		if boundRel != nil && edge.ID != boundRel.ID {
			continue
		}
		otherID := edge.EndNode
		switch dir {
		case storage.DirIn:
			otherID = edge.StartNode
		case storage.DirBoth:
			if edge.StartNode == fromNode.ID {
				otherID = edge.EndNode
			} else {
				otherID = edge.StartNode
			}
		}

		var target *storage.Node
		if boundTo != nil {
			if boundTo.ID != otherID {
				continue
			}
			target = boundTo
		} else {
			node, err := st.ex.graph.GetNode(otherID)
			if err != nil {
				// Dangling relationships are legal; traversal skips them.
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return nil, storageErr(err)
			}
			target = node
		}

		if !hasAllLabels(target, targetLabels) {
			continue
		}

		next := cloneRow(row)
		next[relVar] = edge
		next[toVar] = target
		out = append(out, next)
	}
	return out, nil
}

func hasAllLabels(node *storage.Node, labels []string) bool {
	for _, label := range labels {
		if !node.HasLabel(label) {
			return false
		}
	}
	return true
}

// ---- projection ops ----

// applyProjection computes the projected columns and overlays them on the
// incoming bindings, so ORDER BY after the projection can still see
// pre-projection variables. Result assembly reads only the columns.
func (st *runState) applyProjection(items []ProjectItem, distinct bool) error {
	cols := make([]string, len(items))
	for i, item := range items {
		cols[i] = item.Col
	}
	out := make([]map[string]any, 0, len(st.rows))
	for _, row := range st.rows {
		next := cloneRow(row)
		for _, item := range items {
			v, err := st.scope.eval(row, item.Expr)
			if err != nil {
				return err
			}
			next[item.Col] = v
		}
		out = append(out, next)
	}
	if distinct {
		out = dedupeRows(out, cols)
	}
	st.rows = out
	st.cols = cols
	return nil
}

func (st *runState) applyAggregate(x *Aggregate) error {
	cols := make([]string, len(x.Items))
	hasGroupKeys := false
	for i, item := range x.Items {
		cols[i] = item.Col
		if item.Agg == nil {
			hasGroupKeys = true
		}
	}

	type group struct {
		vals map[string]any
		aggs []*aggregator
	}
	newGroup := func() *group {
		g := &group{vals: map[string]any{}}
		for _, item := range x.Items {
			if item.Agg != nil {
				g.aggs = append(g.aggs, newAggregator(item.Agg))
			}
		}
		return g
	}

	groups := map[string]*group{}
	var order []string

	for _, row := range st.rows {
		var keyParts []string
		vals := map[string]any{}
		for _, item := range x.Items {
			if item.Agg != nil {
				continue
			}
			v, err := st.scope.eval(row, item.Expr)
			if err != nil {
				return err
			}
			vals[item.Col] = v
			keyParts = append(keyParts, canonicalKey(v))
		}
		key := strings.Join(keyParts, "|")

		g := groups[key]
		if g == nil {
			g = newGroup()
			g.vals = vals
			groups[key] = g
			order = append(order, key)
		}

		ai := 0
		for _, item := range x.Items {
			if item.Agg == nil {
				continue
			}
			var value, extra any
			var err error
			if !item.Agg.Star {
				value, err = st.scope.eval(row, item.Agg.Expr)
				if err != nil {
					return err
				}
			}
			if item.Agg.Extra != nil {
				extra, err = st.scope.eval(row, item.Agg.Extra)
				if err != nil {
					return err
				}
			}
			if err := g.aggs[ai].add(value, extra); err != nil {
				return err
			}
			ai++
		}
	}

	// Aggregating an empty input with no grouping keys yields one row:
	// count is 0, sum is 0, collect is empty.
	if len(st.rows) == 0 && !hasGroupKeys {
		groups[""] = newGroup()
		order = append(order, "")
	}

	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := make(map[string]any, len(x.Items))
		ai := 0
		for _, item := range x.Items {
			if item.Agg == nil {
				row[item.Col] = g.vals[item.Col]
				continue
			}
			v, err := g.aggs[ai].result()
			if err != nil {
				return err
			}
			row[item.Col] = v
			ai++
		}
		out = append(out, row)
	}
	st.rows = out
	st.cols = cols
	return nil
}

func (st *runState) applyOrderBy(x *OrderBy) error {
	type sorted struct {
		row  map[string]any
		keys []any
	}
	entries := make([]sorted, len(st.rows))
	for i, row := range st.rows {
		keys := make([]any, len(x.Items))
		for j, spec := range x.Items {
			v, err := st.scope.eval(row, spec.Expr)
			if err != nil {
				return err
			}
			keys[j] = v
		}
		entries[i] = sorted{row: row, keys: keys}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		for j, spec := range x.Items {
			ka, kb := entries[a].keys[j], entries[b].keys[j]
			cmp := orderCompare(ka, kb)
			if spec.Desc && ka != nil && kb != nil {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	for i, entry := range entries {
		st.rows[i] = entry.row
	}
	return nil
}

func (st *runState) applySkipLimit(countExpr Expr, clause string) error {
	v, err := st.scope.eval(map[string]any{}, countExpr)
	if err != nil {
		return err
	}
	n, ok := intValue(v)
	if !ok || n < 0 {
		return execErrorf(errClassInvalidArg, "%s must be a non-negative integer", clause)
	}
	if clause == "SKIP" {
		if n >= int64(len(st.rows)) {
			st.rows = nil
		} else {
			st.rows = st.rows[n:]
		}
		return nil
	}
	if n < int64(len(st.rows)) {
		st.rows = st.rows[:n]
	}
	return nil
}

// ---- write ops ----

func (st *runState) applyCreateNode(x *CreateNode) error {
	for _, row := range st.rows {
		props, err := st.evalProps(row, x.Props)
		if err != nil {
			return err
		}
		node, err := st.ex.graph.CreateNode(x.Labels, props)
		if err != nil {
			return storageErr(err)
		}
		st.counters.NodesCreated++
		row[x.Var] = node
	}
	return nil
}

func (st *runState) applyCreateRelationship(x *CreateRelationship) error {
	for _, row := range st.rows {
		from, ok := row[x.FromVar].(*storage.Node)
		if !ok {
			return execErrorf(errClassTypeError, "cannot create relationship from %s", typeName(row[x.FromVar]))
		}
		to, ok := row[x.ToVar].(*storage.Node)
		if !ok {
			return execErrorf(errClassTypeError, "cannot create relationship to %s", typeName(row[x.ToVar]))
		}
		props, err := st.evalProps(row, x.Props)
		if err != nil {
			return err
		}
		edge, err := st.ex.graph.CreateEdge(x.RelType, from.ID, to.ID, props)
		if err != nil {
			return storageErr(err)
		}
		st.counters.RelationshipsCreated++
		row[x.Var] = edge
	}
	return nil
}

func (st *runState) applyDelete(x *Delete) error {
	deletedNodes := map[storage.NodeID]bool{}
	deletedEdges := map[storage.EdgeID]bool{}

	for _, row := range st.rows {
		for _, name := range x.Vars {
			switch v := row[name].(type) {
			case nil:
				continue
			case *storage.Node:
				if deletedNodes[v.ID] {
					continue
				}
				var live []*storage.Edge
				for _, e := range st.ex.graph.Relationships(v.ID, storage.DirBoth, "") {
					if !deletedEdges[e.ID] {
						live = append(live, e)
					}
				}
				if !x.Detach && len(live) > 0 {
					return execErrorf(errClassConstraint,
						"cannot delete node with relationships, use DETACH DELETE")
				}
				for _, e := range live {
					if st.ex.graph.DeleteEdge(e.ID) {
						st.counters.RelationshipsDeleted++
					}
					deletedEdges[e.ID] = true
				}
				if st.ex.graph.DeleteNode(v.ID) {
					st.counters.NodesDeleted++
				}
				deletedNodes[v.ID] = true
			case *storage.Edge:
				if deletedEdges[v.ID] {
					continue
				}
				if st.ex.graph.DeleteEdge(v.ID) {
					st.counters.RelationshipsDeleted++
				}
				deletedEdges[v.ID] = true
			default:
				return execErrorf(errClassTypeError, "DELETE expects a node or relationship, got %s", typeName(v))
			}
		}
	}
	return nil
}

func (st *runState) applySetProperty(rows []map[string]any, x *SetProperty) error {
	for _, row := range rows {
		subject := row[x.Var]
		if subject == nil {
			continue
		}
		v, err := st.scope.eval(row, x.Value)
		if err != nil {
			return err
		}
		switch entity := subject.(type) {
		case *storage.Node:
			updated, err := st.ex.graph.UpdateNode(entity.ID, map[string]any{x.Key: v})
			if err != nil {
				return storageErr(err)
			}
			row[x.Var] = updated
		case *storage.Edge:
			updated, err := st.ex.graph.UpdateEdge(entity.ID, map[string]any{x.Key: v})
			if err != nil {
				return storageErr(err)
			}
			row[x.Var] = updated
		default:
			return execErrorf(errClassTypeError, "SET expects a node or relationship, got %s", typeName(subject))
		}
		st.counters.PropertiesSet++
	}
	return nil
}

func (st *runState) applyRemoveProperty(x *RemoveProperty) error {
	for _, row := range st.rows {
		subject := row[x.Var]
		if subject == nil {
			continue
		}
		switch entity := subject.(type) {
		case *storage.Node:
			updated, err := st.ex.graph.UpdateNode(entity.ID, map[string]any{x.Key: nil})
			if err != nil {
				return storageErr(err)
			}
			row[x.Var] = updated
		case *storage.Edge:
			updated, err := st.ex.graph.UpdateEdge(entity.ID, map[string]any{x.Key: nil})
			if err != nil {
				return storageErr(err)
			}
			row[x.Var] = updated
		default:
			return execErrorf(errClassTypeError, "REMOVE expects a node or relationship, got %s", typeName(subject))
		}
		st.counters.PropertiesSet++
	}
	return nil
}

func (st *runState) applyRemoveLabel(x *RemoveLabel) error {
	for _, row := range st.rows {
		subject := row[x.Var]
		if subject == nil {
			continue
		}
		node, ok := subject.(*storage.Node)
		if !ok {
			return execErrorf(errClassTypeError, "REMOVE label expects a node, got %s", typeName(subject))
		}
		if !node.HasLabel(x.Label) {
			continue
		}
		updated, err := st.ex.graph.SetNodeLabels(node.ID, storage.ModLabels(node.Labels, nil, []string{x.Label}))
		if err != nil {
			return storageErr(err)
		}
		row[x.Var] = updated
		st.counters.LabelsRemoved++
	}
	return nil
}

func (st *runState) applyMerge(x *Merge) error {
	var out []map[string]any
	for _, row := range st.rows {
		matched, _, err := st.runSub(x.Match, []map[string]any{cloneRow(row)})
		if err != nil {
			return err
		}
		if len(matched) > 0 {
			if len(x.OnMatch) > 0 {
				for i := range x.OnMatch {
					if err := st.applySetProperty(matched, &x.OnMatch[i]); err != nil {
						return err
					}
				}
			}
			out = append(out, matched...)
			continue
		}

		created, _, err := st.runSub(x.Create, []map[string]any{cloneRow(row)})
		if err != nil {
			return err
		}
		if len(x.OnCreate) > 0 {
			for i := range x.OnCreate {
				if err := st.applySetProperty(created, &x.OnCreate[i]); err != nil {
					return err
				}
			}
		}
		out = append(out, created...)
	}
	st.rows = out
	return nil
}

// ---- row expansion ops ----

func (st *runState) applyUnwind(x *Unwind) error {
	var out []map[string]any
	for _, row := range st.rows {
		v, err := st.scope.eval(row, x.Source)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			return execErrorf(errClassTypeError, "UNWIND expects a list, got %s", typeName(v))
		}
		for _, item := range list {
			next := cloneRow(row)
			next[x.Var] = item
			out = append(out, next)
		}
	}
	st.rows = out
	return nil
}

func (st *runState) applyForeach(x *Foreach) error {
	for _, row := range st.rows {
		v, err := st.scope.eval(row, x.Source)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			return execErrorf(errClassTypeError, "FOREACH expects a list, got %s", typeName(v))
		}
		for _, item := range list {
			seed := cloneRow(row)
			seed[x.Var] = item
			if _, _, err := st.runSub(x.Body, []map[string]any{seed}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *runState) applyCall(x *CallSubquery) error {
	var out []map[string]any
	for _, row := range st.rows {
		innerRows, _, err := st.runSub(x.Body, []map[string]any{cloneRow(row)})
		if err != nil {
			return err
		}
		if len(x.Yields) == 0 {
			out = append(out, row)
			continue
		}
		for _, inner := range innerRows {
			next := cloneRow(row)
			for _, y := range x.Yields {
				next[y.Alias] = inner[y.Name]
			}
			out = append(out, next)
		}
	}
	st.rows = out
	return nil
}

// ---- helpers ----

func (st *runState) evalProps(row map[string]any, props map[string]Expr) (map[string]any, error) {
	if len(props) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(props))
	for _, key := range sortedPropKeys(props) {
		v, err := st.scope.eval(row, props[key])
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	return out
}

func dedupeRows(rows []map[string]any, cols []string) []map[string]any {
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, row := range rows {
		parts := make([]string, len(cols))
		for i, col := range cols {
			parts[i] = canonicalKey(row[col])
		}
		key := strings.Join(parts, "|")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out
}

// sortNodes orders scan results by creation time, then id, so repeated
// queries against the same engine see the same order.
func sortNodes(nodes []*storage.Node) {
	sort.Slice(nodes, func(a, b int) bool {
		if !nodes[a].CreatedAt.Equal(nodes[b].CreatedAt) {
			return nodes[a].CreatedAt.Before(nodes[b].CreatedAt)
		}
		return nodes[a].ID < nodes[b].ID
	})
}

func sortEdges(edges []*storage.Edge) {
	sort.Slice(edges, func(a, b int) bool {
		if !edges[a].CreatedAt.Equal(edges[b].CreatedAt) {
			return edges[a].CreatedAt.Before(edges[b].CreatedAt)
		}
		return edges[a].ID < edges[b].ID
	})
}

func storageErr(err error) error {
	return execErrorf(errClassStorage, "%s", err.Error())
}
