package cypher

import "fmt"

// LexError reports an invalid character sequence in the query text.
// Line and Column are 1-based and point at the offending character.
type LexError struct {
	Line   int
	Column int
	Msg    string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at %d:%d: %s", e.Line, e.Column, e.Msg)
}

// ParseError reports a token sequence the grammar does not accept.
// Line and Column point at the token where parsing failed.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Column, e.Msg)
}

// CompileError reports a query that parsed but cannot be lowered to an
// instruction stream, such as a reference to an unbound variable. Class is
// a stable machine readable category surfaced in result summaries.
type CompileError struct {
	Class string
	Msg   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error: %s", e.Msg)
}

func compileErrorf(class, format string, args ...any) *CompileError {
	return &CompileError{Class: class, Msg: fmt.Sprintf(format, args...)}
}

// execError is a runtime failure captured into the result summary instead
// of aborting the caller. Class mirrors CompileError.Class.
type execError struct {
	class string
	msg   string
}

func (e *execError) Error() string { return e.msg }

func execErrorf(class, format string, args ...any) *execError {
	return &execError{class: class, msg: fmt.Sprintf(format, args...)}
}

// Error classes reported in Summary.ErrorClass. Lex and parse failures use
// "syntax"; compile and execution failures use the finer categories below.
const (
	errClassSyntax       = "syntax"
	errClassUnknownVar   = "unknown_variable"
	errClassUnknownFunc  = "unknown_function"
	errClassUnsupported  = "unsupported"
	errClassPattern      = "invalid_pattern"
	errClassTypeError    = "type_error"
	errClassInvalidArg   = "invalid_argument"
	errClassArithmetic   = "arithmetic"
	errClassConstraint   = "constraint_violation"
	errClassUnionMix     = "union_mismatch"
	errClassMissingParam = "missing_parameter"
	errClassReserved     = "reserved_parameter"
	errClassStorage      = "storage"
	errClassCanceled     = "canceled"
	errClassResource     = "resource_limit"
	errClassInternal     = "internal"
)
