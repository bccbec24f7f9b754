package extjob

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateName = errors.New("duplicate job name")
	ErrNotFound      = errors.New("job not found")
	ErrInvalid       = errors.New("invalid job definition")
)

// ConfigError is a problem with the installed jobs, reported before anything
// is submitted.
type ConfigError struct {
	// Source is the file the problem was found in, if any.
	Source string
	Name   string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Err.Error()
	if e.Name != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Name)
	}
	if e.Source != "" {
		msg = fmt.Sprintf("%s: %s", e.Source, msg)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Cause() error {
	return e.Err
}

// NewConfigError reports err as found in source, about the job name if set.
func NewConfigError(source, name string, err error) error {
	return &ConfigError{Source: source, Name: name, Err: err}
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
