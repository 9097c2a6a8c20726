package formula

import (
	"errors"
	"fmt"
)

// ErrFormula matches every *Error via errors.Is
var ErrFormula = errors.New("formula error")

// Kind classifies a formula failure
type Kind string

const (
	KindSyntax            Kind = "syntax"
	KindUndefinedVariable Kind = "undefined_variable"
	KindAmbiguousVariable Kind = "ambiguous_variable"
	KindUnknownFunction   Kind = "unknown_function"
	KindArity             Kind = "arity"
	KindDivisionByZero    Kind = "division_by_zero"
)

// Error reports a malformed expression or a failed evaluation.
// Pos is the byte offset in the formula, or -1 when not positional.
type Error struct {
	Kind    Kind
	Formula string
	Pos     int
	Msg     string
}

func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("formula %q: %s at offset %d: %s", e.Formula, e.Kind, e.Pos, e.Msg)
	}
	return fmt.Sprintf("formula %q: %s: %s", e.Formula, e.Kind, e.Msg)
}

// Is reports ErrFormula as a match
func (e *Error) Is(target error) bool {
	return target == ErrFormula
}

func newError(kind Kind, formula string, pos int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Formula: formula, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a formula *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
