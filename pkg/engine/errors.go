package engine

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by operations a source or format declares
// but does not support.
var ErrNotImplemented = errors.New("not implemented")

// PlanningError reports a problem found while building or rewriting a plan,
// before any data is read.
type PlanningError struct {
	msg string
	err error
}

func NewPlanningError(format string, args ...any) *PlanningError {
	return &PlanningError{msg: fmt.Sprintf(format, args...)}
}

// WrapPlanningError annotates err as a planning failure.
func WrapPlanningError(err error, format string, args ...any) *PlanningError {
	return &PlanningError{msg: fmt.Sprintf(format, args...), err: err}
}

func (e *PlanningError) Error() string {
	if e.err != nil {
		return "planning error: " + e.msg + ": " + e.err.Error()
	}
	return "planning error: " + e.msg
}

func (e *PlanningError) Unwrap() error {
	return e.err
}

func IsPlanningError(err error) bool {
	var pe *PlanningError
	return errors.As(err, &pe)
}
