package cypher

import (
	"math"
	"sort"
	"strings"

	"github.com/viterin/vek"
)

// aggregateFuncs names every aggregation the executor understands.
var aggregateFuncs = map[string]bool{
	"count":          true,
	"sum":            true,
	"avg":            true,
	"min":            true,
	"max":            true,
	"collect":        true,
	"stdev":          true,
	"stdevp":         true,
	"percentilecont": true,
	"percentiledisc": true,
}

func isAggregateFunc(name string) bool {
	return aggregateFuncs[strings.ToLower(name)]
}

// aggregator accumulates one aggregation call over the rows of a group.
// Numeric aggregates funnel into a float64 column so the reductions run
// through vek's SIMD kernels; integer-only inputs remember that fact and
// surface integer results.
type aggregator struct {
	call *AggCall

	rows    int64
	nonNull int64
	nums    []float64
	allInts bool
	values  []any
	seen    map[string]bool
	pct     float64
	pctSet  bool
}

func newAggregator(call *AggCall) *aggregator {
	a := &aggregator{call: call, allInts: true}
	if call.Distinct {
		a.seen = map[string]bool{}
	}
	return a
}

// add feeds one row's evaluated argument. extra carries the percentile
// argument for percentileCont and percentileDisc, nil otherwise.
func (a *aggregator) add(value, extra any) error {
	a.rows++

	if a.call.Star {
		return nil
	}

	name := a.call.Func
	if extra != nil || name == "percentilecont" || name == "percentiledisc" {
		p, ok := numValue(extra)
		if !ok || p < 0 || p > 1 {
			return execErrorf(errClassInvalidArg, "%s percentile must be a number between 0 and 1", name)
		}
		a.pct = p
		a.pctSet = true
	}

	// collect is the one aggregate that keeps nulls.
	if value == nil && name != "collect" {
		return nil
	}
	if a.seen != nil {
		key := canonicalKey(value)
		if a.seen[key] {
			return nil
		}
		a.seen[key] = true
	}
	a.nonNull++

	switch name {
	case "count":
		return nil
	case "collect":
		a.values = append(a.values, value)
		return nil
	case "min", "max":
		a.values = append(a.values, value)
		if _, isInt := intValue(value); !isInt {
			a.allInts = false
		}
		return nil
	}

	f, ok := numValue(value)
	if !ok {
		return execErrorf(errClassTypeError, "%s expects numeric values, got %s", name, typeName(value))
	}
	if _, isInt := intValue(value); !isInt {
		a.allInts = false
	}
	a.nums = append(a.nums, f)
	return nil
}

// result finalizes the aggregate. Empty groups follow the usual rules:
// count is 0, sum is 0, collect is an empty list, everything else null.
func (a *aggregator) result() (any, error) {
	switch a.call.Func {
	case "count":
		if a.call.Star {
			return a.rows, nil
		}
		return a.nonNull, nil

	case "collect":
		if a.values == nil {
			return []any{}, nil
		}
		return a.values, nil

	case "sum":
		if len(a.nums) == 0 {
			return int64(0), nil
		}
		total := vek.Sum(a.nums)
		if a.allInts {
			return int64(total), nil
		}
		return total, nil

	case "avg":
		if len(a.nums) == 0 {
			return nil, nil
		}
		return vek.Mean(a.nums), nil

	case "min":
		return a.pickExtreme(-1), nil

	case "max":
		return a.pickExtreme(1), nil

	case "stdev":
		return a.stddev(true), nil

	case "stdevp":
		return a.stddev(false), nil

	case "percentilecont":
		return a.percentile(true)

	case "percentiledisc":
		return a.percentile(false)
	}
	return nil, execErrorf(errClassInternal, "unhandled aggregation %q", a.call.Func)
}

// pickExtreme returns the least (dir < 0) or greatest (dir > 0) value
// under the total value order, so min and max work over mixed types.
func (a *aggregator) pickExtreme(dir int) any {
	if len(a.values) == 0 {
		return nil
	}
	best := a.values[0]
	for _, v := range a.values[1:] {
		if cmp := orderCompare(v, best); (dir < 0 && cmp < 0) || (dir > 0 && cmp > 0) {
			best = v
		}
	}
	if f, ok := numValue(best); ok && a.allInts {
		return int64(f)
	}
	return best
}

// stddev computes the sample (n-1) or population (n) standard deviation.
// A single observation has deviation zero.
func (a *aggregator) stddev(sample bool) any {
	n := len(a.nums)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return float64(0)
	}
	mean := vek.Mean(a.nums)
	var sq float64
	for _, f := range a.nums {
		d := f - mean
		sq += d * d
	}
	div := float64(n)
	if sample {
		div = float64(n - 1)
	}
	return math.Sqrt(sq / div)
}

func (a *aggregator) percentile(interpolate bool) (any, error) {
	if len(a.nums) == 0 {
		return nil, nil
	}
	if !a.pctSet {
		return nil, execErrorf(errClassInvalidArg, "%s percentile must be a number between 0 and 1", a.call.Func)
	}
	nums := append([]float64(nil), a.nums...)
	sort.Float64s(nums)
	n := len(nums)

	if interpolate {
		rank := a.pct * float64(n-1)
		lo := int(math.Floor(rank))
		hi := int(math.Ceil(rank))
		if lo == hi {
			return nums[lo], nil
		}
		frac := rank - float64(lo)
		return nums[lo] + frac*(nums[hi]-nums[lo]), nil
	}

	idx := int(math.Ceil(a.pct*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	if a.allInts {
		return int64(nums[idx]), nil
	}
	return nums[idx], nil
}
