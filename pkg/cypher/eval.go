package cypher

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/muninndb/muninn/pkg/storage"
)

// evalScope carries the per-execution state expression evaluation needs.
type evalScope struct {
	params map[string]any
}

// eval computes an expression against one row of bindings. Runtime type
// mismatches surface as execError values; null flows through arithmetic
// and comparisons without erroring.
func (s *evalScope) eval(row map[string]any, expr Expr) (any, error) {
	switch x := expr.(type) {
	case *Literal:
		return x.Value, nil

	case *Variable:
		return row[x.Name], nil

	case *Parameter:
		v, ok := s.params[x.Name]
		if !ok {
			return nil, execErrorf(errClassMissingParam, "missing parameter: %s", x.Name)
		}
		return v, nil

	case *PropertyExpr:
		subject, err := s.eval(row, x.Subject)
		if err != nil {
			return nil, err
		}
		return propertyOf(subject, x.Key)

	case *BinaryExpr:
		return s.evalBinary(row, x)

	case *UnaryExpr:
		return s.evalUnary(row, x)

	case *IsNullExpr:
		v, err := s.eval(row, x.Operand)
		if err != nil {
			return nil, err
		}
		if x.Negated {
			return v != nil, nil
		}
		return v == nil, nil

	case *ListExpr:
		items := make([]any, len(x.Items))
		for i, item := range x.Items {
			v, err := s.eval(row, item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil

	case *MapExpr:
		m := make(map[string]any, len(x.Entries))
		for _, entry := range x.Entries {
			v, err := s.eval(row, entry.Value)
			if err != nil {
				return nil, err
			}
			m[entry.Key] = v
		}
		return m, nil

	case *CaseExpr:
		return s.evalCase(row, x)

	case *FunctionCall:
		if isAggregateFunc(x.Name) {
			return nil, execErrorf(errClassInternal, "aggregation %s evaluated outside an aggregating projection", x.Name)
		}
		args := make([]any, len(x.Args))
		for i, arg := range x.Args {
			v, err := s.eval(row, arg)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return callScalar(x.Name, args)

	case *LabelPredicate:
		node, ok := row[x.Variable].(*storage.Node)
		if !ok || node == nil {
			return false, nil
		}
		return node.HasLabel(x.Label), nil
	}
	return nil, execErrorf(errClassInternal, "unhandled expression %T", expr)
}

func (s *evalScope) evalBinary(row map[string]any, x *BinaryExpr) (any, error) {
	switch x.Op {
	case "AND":
		left, err := s.eval(row, x.Left)
		if err != nil {
			return nil, err
		}
		if !toBool(left) {
			return false, nil
		}
		right, err := s.eval(row, x.Right)
		if err != nil {
			return nil, err
		}
		return toBool(right), nil

	case "OR":
		left, err := s.eval(row, x.Left)
		if err != nil {
			return nil, err
		}
		if toBool(left) {
			return true, nil
		}
		right, err := s.eval(row, x.Right)
		if err != nil {
			return nil, err
		}
		return toBool(right), nil

	case "XOR":
		left, err := s.eval(row, x.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.eval(row, x.Right)
		if err != nil {
			return nil, err
		}
		return toBool(left) != toBool(right), nil
	}

	left, err := s.eval(row, x.Left)
	if err != nil {
		return nil, err
	}
	right, err := s.eval(row, x.Right)
	if err != nil {
		return nil, err
	}

	switch x.Op {
	case "=":
		if left == nil || right == nil {
			return false, nil
		}
		return compareEq(left, right), nil
	case "<>":
		if left == nil || right == nil {
			return false, nil
		}
		return !compareEq(left, right), nil
	case "<", "<=", ">", ">=":
		if left == nil || right == nil {
			return false, nil
		}
		cmp, ok := compareOrdered(left, right)
		if !ok {
			return false, nil
		}
		switch x.Op {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case "IN":
		list, ok := right.([]any)
		if !ok {
			return false, nil
		}
		if left == nil {
			return false, nil
		}
		for _, item := range list {
			if compareEq(left, item) {
				return true, nil
			}
		}
		return false, nil
	case "CONTAINS", "STARTS WITH", "ENDS WITH":
		ls, lok := left.(string)
		rs, rok := right.(string)
		if !lok || !rok {
			return false, nil
		}
		switch x.Op {
		case "CONTAINS":
			return strings.Contains(ls, rs), nil
		case "STARTS WITH":
			return strings.HasPrefix(ls, rs), nil
		default:
			return strings.HasSuffix(ls, rs), nil
		}
	case "+", "-", "*", "/", "%":
		return evalArith(x.Op, left, right)
	}
	return nil, execErrorf(errClassInternal, "unhandled operator %q", x.Op)
}

func (s *evalScope) evalUnary(row map[string]any, x *UnaryExpr) (any, error) {
	v, err := s.eval(row, x.Operand)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "NOT":
		return !toBool(v), nil
	case "-":
		if v == nil {
			return nil, nil
		}
		if i, ok := intValue(v); ok {
			return -i, nil
		}
		if f, ok := numValue(v); ok {
			return -f, nil
		}
		return nil, execErrorf(errClassTypeError, "cannot negate %s", typeName(v))
	case "+":
		if v == nil {
			return nil, nil
		}
		if _, ok := numValue(v); ok {
			return v, nil
		}
		return nil, execErrorf(errClassTypeError, "unary + expects a number, got %s", typeName(v))
	}
	return nil, execErrorf(errClassInternal, "unhandled unary operator %q", x.Op)
}

func (s *evalScope) evalCase(row map[string]any, x *CaseExpr) (any, error) {
	if x.Operand != nil {
		subject, err := s.eval(row, x.Operand)
		if err != nil {
			return nil, err
		}
		for _, w := range x.Whens {
			cond, err := s.eval(row, w.Cond)
			if err != nil {
				return nil, err
			}
			matched := false
			if subject == nil {
				matched = cond == nil
			} else if cond != nil {
				matched = compareEq(subject, cond)
			}
			if matched {
				return s.eval(row, w.Then)
			}
		}
	} else {
		for _, w := range x.Whens {
			cond, err := s.eval(row, w.Cond)
			if err != nil {
				return nil, err
			}
			if toBool(cond) {
				return s.eval(row, w.Then)
			}
		}
	}
	if x.Else != nil {
		return s.eval(row, x.Else)
	}
	return nil, nil
}

// propertyOf resolves property access on nodes, relationships and maps.
// A null subject yields null so optional bindings chain safely.
func propertyOf(subject any, key string) (any, error) {
	switch v := subject.(type) {
	case nil:
		return nil, nil
	case *storage.Node:
		if v == nil {
			return nil, nil
		}
		return v.Properties[key], nil
	case *storage.Edge:
		if v == nil {
			return nil, nil
		}
		return v.Properties[key], nil
	case map[string]any:
		return v[key], nil
	}
	return nil, execErrorf(errClassTypeError, "cannot access property %q on %s", key, typeName(subject))
}

// toBool coerces a value for boolean positions. Only true is true; null
// and every non-boolean are false.
func toBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// intValue reports v as int64 when it carries an integral Go type.
func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// numValue widens any numeric value to float64.
func numValue(v any) (float64, bool) {
	if i, ok := intValue(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func evalArith(op string, left, right any) (any, error) {
	if left == nil || right == nil {
		return nil, nil
	}

	if op == "+" {
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
			return nil, execErrorf(errClassTypeError, "cannot add string and %s", typeName(right))
		}
		if ll, ok := left.([]any); ok {
			if rl, ok := right.([]any); ok {
				out := make([]any, 0, len(ll)+len(rl))
				out = append(out, ll...)
				return append(out, rl...), nil
			}
			out := make([]any, 0, len(ll)+1)
			out = append(out, ll...)
			return append(out, right), nil
		}
	}

	li, lInt := intValue(left)
	ri, rInt := intValue(right)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, execErrorf(errClassArithmetic, "division by zero")
			}
			return li / ri, nil
		case "%":
			if ri == 0 {
				return nil, execErrorf(errClassArithmetic, "division by zero")
			}
			return li % ri, nil
		}
	}

	lf, lok := numValue(left)
	rf, rok := numValue(right)
	if !lok || !rok {
		return nil, execErrorf(errClassTypeError, "cannot apply %s to %s and %s", op, typeName(left), typeName(right))
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		return lf / rf, nil
	case "%":
		return math.Mod(lf, rf), nil
	}
	return nil, execErrorf(errClassInternal, "unhandled operator %q", op)
}

// compareEq is value equality with graph entities compared by id and
// numbers compared across integer and float representations.
func compareEq(a, b any) bool {
	if an, ok := a.(*storage.Node); ok {
		bn, ok := b.(*storage.Node)
		return ok && an != nil && bn != nil && an.ID == bn.ID
	}
	if ae, ok := a.(*storage.Edge); ok {
		be, ok := b.(*storage.Edge)
		return ok && ae != nil && be != nil && ae.ID == be.ID
	}
	if _, ok := b.(*storage.Node); ok {
		return false
	}
	if _, ok := b.(*storage.Edge); ok {
		return false
	}
	return storage.ValuesEqual(a, b)
}

// compareOrdered compares two non-null values when they share an ordered
// type: numbers with numbers, strings with strings, booleans with
// booleans. Mixed or unordered types report no ordering.
func compareOrdered(a, b any) (int, bool) {
	if af, ok := numValue(a); ok {
		bf, bok := numValue(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if as, ok := a.(string); ok {
		bs, bok := b.(string)
		if !bok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if ab, ok := a.(bool); ok {
		bb, bok := b.(bool)
		if !bok {
			return 0, false
		}
		switch {
		case !ab && bb:
			return -1, true
		case ab && !bb:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// typeRank buckets values for the total sort order: booleans, then
// numbers, strings, lists, maps, and graph entities last. Null is ranked
// by the callers.
func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case string:
		return 2
	case []any:
		return 3
	case map[string]any:
		return 4
	case *storage.Node, *storage.Edge:
		return 5
	}
	if _, ok := numValue(v); ok {
		return 1
	}
	return 6
}

// orderCompare imposes a deterministic total order over all values for
// ORDER BY and min/max. Values of the same kind compare naturally; lists
// compare elementwise, maps and entities by canonical form. Nulls sort
// after everything regardless of direction.
func orderCompare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0, 1, 2:
		cmp, _ := compareOrdered(a, b)
		return cmp
	case 3:
		la := a.([]any)
		lb := b.([]any)
		for i := 0; i < len(la) && i < len(lb); i++ {
			if cmp := orderCompare(la[i], lb[i]); cmp != 0 {
				return cmp
			}
		}
		switch {
		case len(la) < len(lb):
			return -1
		case len(la) > len(lb):
			return 1
		}
		return 0
	}
	return strings.Compare(canonicalKey(a), canonicalKey(b))
}

// canonicalKey renders a value into a string that is identical exactly
// when two values are equal under compareEq. Integers and floats with the
// same numeric value share a key, so DISTINCT and grouping treat 42 and
// 42.0 as one value.
func canonicalKey(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case string:
		return strconv.Quote(x)
	case *storage.Node:
		if x == nil {
			return "null"
		}
		return "node:" + string(x.ID)
	case *storage.Edge:
		if x == nil {
			return "null"
		}
		return "edge:" + string(x.ID)
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalKey(item))
		}
		b.WriteByte(']')
		return b.String()
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			b.WriteString(canonicalKey(x[k]))
		}
		b.WriteByte('}')
		return b.String()
	}
	if f, ok := numValue(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return "?"
}

// typeName names a value's Cypher-facing type for error messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	case *storage.Node:
		return "node"
	case *storage.Edge:
		return "relationship"
	}
	if _, isInt := intValue(v); isInt {
		return "integer"
	}
	if _, isNum := numValue(v); isNum {
		return "float"
	}
	return "value"
}
