package driver

import (
	"errors"
	"fmt"
)

// ErrAlreadyTerminal is returned by Kill when the step had already ended.
var ErrAlreadyTerminal = errors.New("step already terminal")

// SubmitError reports that the backend refused or failed to accept a step.
type SubmitError struct {
	Step   string
	Reason string
	Err    error
}

func NewSubmitError(step Step, err error) *SubmitError {
	return &SubmitError{Step: step.String(), Reason: err.Error(), Err: err}
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit %s: %s", e.Step, e.Reason)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// IsSubmitError reports whether err is or wraps a *SubmitError.
func IsSubmitError(err error) bool {
	var se *SubmitError
	return errors.As(err, &se)
}
