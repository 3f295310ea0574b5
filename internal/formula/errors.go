package formula

import (
	"errors"
	"fmt"
)

// SyntaxError reports a malformed formula.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("formula %q: syntax error at %d: %s", e.Expr, e.Pos, e.Msg)
}

// FieldError reports an identifier that does not bind to a coupon field or
// a tier parameter.
type FieldError struct {
	Expr string
	Name string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("formula %q: unknown field %q", e.Expr, e.Name)
}

// ErrAbsent marks a payout that could not be computed for a coupon.
var ErrAbsent = errors.New("payout absent")

// AbsentError carries the reason a payout is absent. It matches ErrAbsent.
type AbsentError struct {
	Reason string
	Err    error
}

func (e *AbsentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payout absent (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("payout absent (%s)", e.Reason)
}

func (e *AbsentError) Is(target error) bool { return target == ErrAbsent }

func (e *AbsentError) Unwrap() error { return e.Err }

func absent(reason string, err error) *AbsentError {
	return &AbsentError{Reason: reason, Err: err}
}
