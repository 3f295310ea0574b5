package criteria

import (
	"errors"
	"fmt"
)

// ErrEmptySpec is returned for an empty expected list. Callers treat the
// entry as unconstrained.
var ErrEmptySpec = errors.New("empty criterion spec")

// ErrUnknownCriterion is wrapped by SpecError for names outside the catalog.
var ErrUnknownCriterion = errors.New("unknown criterion")

// SpecError reports an expected-value spec that cannot be compiled.
type SpecError struct {
	Criterion string
	Msg       string
	Err       error
}

func (e *SpecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("criterion %s: %s: %v", e.Criterion, e.Msg, e.Err)
	}
	return fmt.Sprintf("criterion %s: %s", e.Criterion, e.Msg)
}

func (e *SpecError) Unwrap() error { return e.Err }

func specErrorf(name string, format string, args ...any) *SpecError {
	return &SpecError{Criterion: name, Msg: fmt.Sprintf(format, args...)}
}
