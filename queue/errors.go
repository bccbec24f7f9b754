package queue

import (
	"errors"

	"github.com/EJahren/ert/driver"
)

var (
	// ErrAlreadyTerminal is returned by KillNode for a node that has ended.
	ErrAlreadyTerminal = driver.ErrAlreadyTerminal

	ErrNotFound        = errors.New("node not found")
	ErrNotTerminal     = errors.New("node not terminal")
	ErrDuplicateMember = errors.New("member already added")
	ErrEmptyWorkflow   = errors.New("empty workflow")
	// ErrKilled is returned when adding work after KillAll.
	ErrKilled = errors.New("queue killed")
	// ErrStopped is returned by calls made after Stop.
	ErrStopped = errors.New("queue stopped")
)
