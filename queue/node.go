package queue

import (
	"context"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	log "github.com/sirupsen/logrus"

	"github.com/EJahren/ert/driver"
	"github.com/EJahren/ert/extjob"
)

// Node is a snapshot of one step of one member.
type Node struct {
	ID        string
	Member    int
	Step      int
	JobName   string
	RunPath   string
	Status    Status
	Attempts  int
	MaxSubmit int
	ExitCode  int
	LastError string `json:",omitempty"`

	SubmitTime time.Time
	StartTime  time.Time
	EndTime    time.Time
}

// node is the queue's mutable record behind a Node. Only the loop touches it.
type node struct {
	Node

	seq     int
	def     extjob.Definition
	step    driver.Step
	timeout time.Duration
	member  *member

	handle driver.Handle
	// ctx bounds the current attempt's driver calls, cancel abandons them.
	ctx    context.Context
	cancel context.CancelFunc
	// token changes whenever outstanding driver calls stop mattering.
	// Callbacks carrying an old token are discarded.
	token     int
	inFlight  bool
	lostPolls int
	deadline  time.Time
}

func (n *node) fields() log.Fields {
	return log.Fields{
		"node":    n.ID,
		"member":  n.Member,
		"step":    n.Step,
		"job":     n.JobName,
		"attempt": n.Attempts,
	}
}

// awaitingSubmit reports whether the node should get a submission this cycle.
func (n *node) awaitingSubmit() bool {
	if n.inFlight {
		return false
	}
	return n.Status == NotSubmitted || (n.Status == Submitted && n.handle == nil)
}

// detach forgets the driver handle and cancels and invalidates outstanding
// calls. The caller owns the returned handle.
func (n *node) detach() driver.Handle {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	h := n.handle
	n.handle = nil
	n.token++
	n.inFlight = false
	n.lostPolls = 0
	n.deadline = time.Time{}
	return h
}

// generates a node id using a random uuid
func generateNodeId() string {
	// uuid.NewV4() should never actually return an error the code uses
	// crypto/rand to generate the uuid.
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}
