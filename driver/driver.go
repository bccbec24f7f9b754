// Package driver defines how the queue talks to an execution backend.
// A Driver submits one forward-model step, reports its status, kills it and
// forgets it. Backends live in the subpackages local, batch, rsh and drivers.
package driver

import (
	"context"
	"fmt"
)

// Driver submits and supervises steps on one execution backend.
//
// Poll never fails: transient query failures are reported as LOST and the
// caller decides when too many LOST results mean the step is gone.
// Every Handle returned by Submit must eventually be passed to Release.
type Driver interface {
	Submit(ctx context.Context, step Step) (Handle, error)
	Poll(ctx context.Context, h Handle) Status
	// Kill asks the backend to stop the step. It returns nil when the kill
	// was acknowledged and ErrAlreadyTerminal if the step had already ended.
	Kill(ctx context.Context, h Handle) error
	Release(h Handle)
}

// Handle is an opaque per-submission token issued by a Driver.
// Only the Driver that issued it may interpret it.
type Handle interface{}

// Step is one concrete invocation to run: a rendered job definition bound to
// a member's run directory.
type Step struct {
	ID         string
	Name       string
	Executable string
	Argv       []string
	Env        map[string]string
	RunPath    string
	// Stdout and Stderr are file names relative to RunPath.
	Stdout string
	Stderr string

	Member    int
	StepIndex int
}

func (s Step) String() string {
	return fmt.Sprintf("%s[member=%d step=%d]", s.Name, s.Member, s.StepIndex)
}

type State int

const (
	UNKNOWN State = iota
	PENDING
	RUNNING
	DONE
	LOST
)

func (s State) String() string {
	switch s {
	case PENDING:
		return "PENDING"
	case RUNNING:
		return "RUNNING"
	case DONE:
		return "DONE"
	case LOST:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// Status is what a Driver knows about a submitted step.
// ExitCode is only meaningful when State is DONE.
type Status struct {
	State    State
	ExitCode int
	Error    string
}

func PendingStatus() Status {
	return Status{State: PENDING}
}

func RunningStatus() Status {
	return Status{State: RUNNING}
}

func DoneStatus(exitCode int) Status {
	return Status{State: DONE, ExitCode: exitCode}
}

func LostStatus(reason string) Status {
	return Status{State: LOST, Error: reason}
}

func (s Status) String() string {
	switch s.State {
	case DONE:
		return fmt.Sprintf("DONE(%d)", s.ExitCode)
	case LOST:
		return fmt.Sprintf("LOST(%s)", s.Error)
	default:
		return s.State.String()
	}
}
