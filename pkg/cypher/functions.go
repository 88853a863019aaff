package cypher

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/muninndb/muninn/pkg/storage"
)

// funcSpec describes one scalar function: its arity bounds and handler.
// A negative max means variadic.
type funcSpec struct {
	min, max int
	fn       func(args []any) (any, error)
}

// scalarFuncs is the scalar function registry, keyed by lowercase name.
// Lookup is case-insensitive; toUpper, TOUPPER and toupper are the same
// function. Every function maps a null argument to null except coalesce,
// which exists to skip nulls.
var scalarFuncs = map[string]funcSpec{
	"tolower":    {1, 1, fnToLower},
	"toupper":    {1, 1, fnToUpper},
	"substring":  {2, 3, fnSubstring},
	"trim":       {1, 1, fnTrim},
	"replace":    {3, 3, fnReplace},
	"size":       {1, 1, fnSize},
	"reverse":    {1, 1, fnReverse},
	"split":      {2, 2, fnSplit},
	"left":       {2, 2, fnLeft},
	"right":      {2, 2, fnRight},
	"id":         {1, 1, fnID},
	"labels":     {1, 1, fnLabels},
	"type":       {1, 1, fnType},
	"properties": {1, 1, fnProperties},
	"keys":       {1, 1, fnKeys},
	"coalesce":   {1, -1, fnCoalesce},
	"tostring":   {1, 1, fnToString},
	"tointeger":  {1, 1, fnToInteger},
	"tofloat":    {1, 1, fnToFloat},
	"abs":        {1, 1, fnAbs},
	"head":       {1, 1, fnHead},
	"last":       {1, 1, fnLast},
}

// callScalar dispatches an evaluated argument list to a scalar function.
// The compiler has already checked the name and arity.
func callScalar(name string, args []any) (any, error) {
	spec, ok := scalarFuncs[strings.ToLower(name)]
	if !ok {
		return nil, execErrorf(errClassUnknownFunc, "unknown function: %s", name)
	}
	if strings.EqualFold(name, "coalesce") {
		return spec.fn(args)
	}
	for _, arg := range args {
		if arg == nil {
			return nil, nil
		}
	}
	return spec.fn(args)
}

func argString(args []any, i int, fname string) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", execErrorf(errClassTypeError, "%s expects a string, got %s", fname, typeName(args[i]))
	}
	return s, nil
}

func argInt(args []any, i int, fname string) (int64, error) {
	n, ok := intValue(args[i])
	if !ok {
		return 0, execErrorf(errClassTypeError, "%s expects an integer, got %s", fname, typeName(args[i]))
	}
	return n, nil
}

func fnToLower(args []any) (any, error) {
	s, err := argString(args, 0, "toLower")
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func fnToUpper(args []any) (any, error) {
	s, err := argString(args, 0, "toUpper")
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

// fnSubstring slices by rune with a zero-based start index.
func fnSubstring(args []any) (any, error) {
	s, err := argString(args, 0, "substring")
	if err != nil {
		return nil, err
	}
	start, err := argInt(args, 1, "substring")
	if err != nil {
		return nil, err
	}
	if start < 0 {
		return nil, execErrorf(errClassInvalidArg, "substring start must not be negative")
	}
	runes := []rune(s)
	if start >= int64(len(runes)) {
		return "", nil
	}
	if len(args) == 3 {
		length, err := argInt(args, 2, "substring")
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return nil, execErrorf(errClassInvalidArg, "substring length must not be negative")
		}
		end := start + length
		if end > int64(len(runes)) {
			end = int64(len(runes))
		}
		return string(runes[start:end]), nil
	}
	return string(runes[start:]), nil
}

func fnTrim(args []any) (any, error) {
	s, err := argString(args, 0, "trim")
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

func fnReplace(args []any) (any, error) {
	s, err := argString(args, 0, "replace")
	if err != nil {
		return nil, err
	}
	old, err := argString(args, 1, "replace")
	if err != nil {
		return nil, err
	}
	repl, err := argString(args, 2, "replace")
	if err != nil {
		return nil, err
	}
	return strings.ReplaceAll(s, old, repl), nil
}

// fnSize counts runes for strings and elements for lists.
func fnSize(args []any) (any, error) {
	switch v := args[0].(type) {
	case string:
		return int64(len([]rune(v))), nil
	case []any:
		return int64(len(v)), nil
	}
	return nil, execErrorf(errClassTypeError, "size expects a string or list, got %s", typeName(args[0]))
}

func fnReverse(args []any) (any, error) {
	switch v := args[0].(type) {
	case string:
		runes := []rune(v)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[len(v)-1-i] = item
		}
		return out, nil
	}
	return nil, execErrorf(errClassTypeError, "reverse expects a string or list, got %s", typeName(args[0]))
}

func fnSplit(args []any) (any, error) {
	s, err := argString(args, 0, "split")
	if err != nil {
		return nil, err
	}
	sep, err := argString(args, 1, "split")
	if err != nil {
		return nil, err
	}
	parts := strings.Split(s, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func fnLeft(args []any) (any, error) {
	s, err := argString(args, 0, "left")
	if err != nil {
		return nil, err
	}
	n, err := argInt(args, 1, "left")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, execErrorf(errClassInvalidArg, "left length must not be negative")
	}
	runes := []rune(s)
	if n > int64(len(runes)) {
		n = int64(len(runes))
	}
	return string(runes[:n]), nil
}

func fnRight(args []any) (any, error) {
	s, err := argString(args, 0, "right")
	if err != nil {
		return nil, err
	}
	n, err := argInt(args, 1, "right")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, execErrorf(errClassInvalidArg, "right length must not be negative")
	}
	runes := []rune(s)
	if n > int64(len(runes)) {
		n = int64(len(runes))
	}
	return string(runes[int64(len(runes))-n:]), nil
}

// fnID returns an entity's engine-assigned identifier.
func fnID(args []any) (any, error) {
	switch v := args[0].(type) {
	case *storage.Node:
		return string(v.ID), nil
	case *storage.Edge:
		return string(v.ID), nil
	}
	return nil, execErrorf(errClassTypeError, "id expects a node or relationship, got %s", typeName(args[0]))
}

func fnLabels(args []any) (any, error) {
	node, ok := args[0].(*storage.Node)
	if !ok {
		return nil, execErrorf(errClassTypeError, "labels expects a node, got %s", typeName(args[0]))
	}
	out := make([]any, len(node.Labels))
	for i, l := range node.Labels {
		out[i] = l
	}
	return out, nil
}

func fnType(args []any) (any, error) {
	edge, ok := args[0].(*storage.Edge)
	if !ok {
		return nil, execErrorf(errClassTypeError, "type expects a relationship, got %s", typeName(args[0]))
	}
	return edge.Type, nil
}

func fnProperties(args []any) (any, error) {
	switch v := args[0].(type) {
	case *storage.Node:
		return storage.CopyProperties(v.Properties), nil
	case *storage.Edge:
		return storage.CopyProperties(v.Properties), nil
	case map[string]any:
		return storage.CopyProperties(v), nil
	}
	return nil, execErrorf(errClassTypeError, "properties expects a node, relationship or map, got %s", typeName(args[0]))
}

// fnKeys lists property keys in sorted order so results are stable.
func fnKeys(args []any) (any, error) {
	var props map[string]any
	switch v := args[0].(type) {
	case *storage.Node:
		props = v.Properties
	case *storage.Edge:
		props = v.Properties
	case map[string]any:
		props = v
	default:
		return nil, execErrorf(errClassTypeError, "keys expects a node, relationship or map, got %s", typeName(args[0]))
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out, nil
}

func fnCoalesce(args []any) (any, error) {
	for _, arg := range args {
		if arg != nil {
			return arg, nil
		}
	}
	return nil, nil
}

func fnToString(args []any) (any, error) {
	switch v := args[0].(type) {
	case string:
		return v, nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	}
	if i, ok := intValue(args[0]); ok {
		return strconv.FormatInt(i, 10), nil
	}
	if f, ok := numValue(args[0]); ok {
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	}
	return nil, execErrorf(errClassTypeError, "toString expects a scalar, got %s", typeName(args[0]))
}

// fnToInteger truncates floats and parses strings; an unparseable string
// yields null rather than an error.
func fnToInteger(args []any) (any, error) {
	if i, ok := intValue(args[0]); ok {
		return i, nil
	}
	if f, ok := numValue(args[0]); ok {
		return int64(f), nil
	}
	if s, ok := args[0].(string); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int64(f), nil
		}
		return nil, nil
	}
	return nil, execErrorf(errClassTypeError, "toInteger expects a number or string, got %s", typeName(args[0]))
}

func fnToFloat(args []any) (any, error) {
	if f, ok := numValue(args[0]); ok {
		return f, nil
	}
	if s, ok := args[0].(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, nil
		}
		return nil, nil
	}
	return nil, execErrorf(errClassTypeError, "toFloat expects a number or string, got %s", typeName(args[0]))
}

func fnAbs(args []any) (any, error) {
	if i, ok := intValue(args[0]); ok {
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	if f, ok := numValue(args[0]); ok {
		return math.Abs(f), nil
	}
	return nil, execErrorf(errClassTypeError, "abs expects a number, got %s", typeName(args[0]))
}

func fnHead(args []any) (any, error) {
	list, ok := args[0].([]any)
	if !ok {
		return nil, execErrorf(errClassTypeError, "head expects a list, got %s", typeName(args[0]))
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func fnLast(args []any) (any, error) {
	list, ok := args[0].([]any)
	if !ok {
		return nil, execErrorf(errClassTypeError, "last expects a list, got %s", typeName(args[0]))
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}
