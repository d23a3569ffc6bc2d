package query

import (
	"errors"
	"fmt"
)

// Usage errors. These are never retried: the caller must fix the query.
var (
	// ErrInvalid matches every *Error, whatever its underlying cause.
	ErrInvalid         = errors.New("invalid query")
	ErrMalformed       = errors.New("malformed query")
	ErrMixedOperators  = errors.New("unable to mix AND (;) and OR (,) operators")
	ErrUnknownOperator = errors.New("unknown operator")
)

// Error identifies the predicate and value that made a query unusable.
type Error struct {
	Param   Param  // offending predicate
	Value   string // its raw value
	Message string // human-readable detail
	Err     error  // underlying sentinel error (for errors.Is)
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

// NewError creates an *Error for param p with the given sentinel error.
func NewError(p Param, value string, err error, msgFmt string, args ...any) *Error {
	return &Error{
		Param:   p,
		Value:   value,
		Message: fmt.Sprintf(msgFmt, args...),
		Err:     err,
	}
}
