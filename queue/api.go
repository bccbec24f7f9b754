package queue

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/EJahren/ert/common/stats"
	"github.com/EJahren/ert/extjob"
)

// AddMember enqueues the first step of wf for member, to run in runPath.
// subst is applied to every job of the workflow, together with <RUNPATH> and
// <IENS>.
func (q *JobQueue) AddMember(index int, runPath string, wf *extjob.Workflow, subst extjob.Substitutions) error {
	if wf == nil || wf.Len() == 0 {
		return ErrEmptyWorkflow
	}
	var err error
	if doErr := q.do(func() {
		if q.killed {
			err = ErrKilled
			return
		}
		if _, ok := q.members[index]; ok {
			err = ErrDuplicateMember
			return
		}
		m := newMember(index, runPath, wf, subst)
		q.members[index] = m
		q.enqueue(m, 0)
		q.stat.Counter(stats.QueueMembersCounter).Inc(1)
		log.WithFields(log.Fields{
			"member":   index,
			"runPath":  runPath,
			"workflow": wf.String(),
		}).Info("Added member")
	}); doErr != nil {
		return doErr
	}
	return err
}

// KillNode kills a node that has not ended, along with the rest of its
// member's forward model. It returns ErrAlreadyTerminal for a node that has
// ended, so calling it twice is safe.
func (q *JobQueue) KillNode(id string) error {
	var err error
	if doErr := q.do(func() {
		n, ok := q.nodes[id]
		if !ok {
			err = ErrNotFound
			return
		}
		err = q.kill(n, "killed")
	}); doErr != nil {
		return doErr
	}
	return err
}

// KillAll kills every node that has not ended and stops all further
// submission, including of members added later.
func (q *JobQueue) KillAll() error {
	return q.do(func() {
		q.killed = true
		killed := 0
		for _, n := range q.order {
			if q.kill(n, "killed by KillAll") == nil {
				killed++
			}
		}
		log.WithFields(log.Fields{"killed": killed}).Info("Killed all nodes")
	})
}

// kill must run on the loop.
func (q *JobQueue) kill(n *node, reason string) error {
	if n.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	q.killHandle(n.detach())
	n.Status = Killed
	n.EndTime = q.now()
	n.LastError = reason
	q.stat.Counter(stats.QueueKillCounter).Inc(1)
	log.WithFields(n.fields()).Info("Killed")
	q.endMember(n.member, Killed, n.Step)
	return nil
}

// Purge forgets a terminal node. Its member's status is kept.
func (q *JobQueue) Purge(id string) error {
	var err error
	if doErr := q.do(func() {
		n, ok := q.nodes[id]
		switch {
		case !ok:
			err = ErrNotFound
		case !n.Status.IsTerminal():
			err = ErrNotTerminal
		default:
			delete(q.nodes, id)
			for i, o := range q.order {
				if o == n {
					q.order = append(q.order[:i], q.order[i+1:]...)
					break
				}
			}
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Node returns a snapshot of the node with the given id.
func (q *JobQueue) Node(id string) (Node, error) {
	var out Node
	var err error
	if doErr := q.do(func() {
		n, ok := q.nodes[id]
		if !ok {
			err = ErrNotFound
			return
		}
		out = n.Node
	}); doErr != nil {
		return Node{}, doErr
	}
	return out, err
}

// Nodes returns snapshots of every node, ordered by member and step.
func (q *JobQueue) Nodes() []Node {
	var out []Node
	q.do(func() {
		out = make([]Node, 0, len(q.order))
		for _, n := range q.order {
			out = append(out, n.Node)
		}
	})
	sortNodes(out)
	return out
}

// Members returns the status of every member, ordered by index.
func (q *JobQueue) Members() []MemberStatus {
	var out []MemberStatus
	q.do(func() {
		for _, m := range sortedMembers(q.members) {
			out = append(out, m.snapshot())
		}
	})
	return out
}

// Result summarizes the members as they are now.
func (q *JobQueue) Result() RunResult {
	var r RunResult
	q.do(func() {
		r = q.result()
	})
	return r
}

// Wait blocks until every member has ended, then returns the run's result.
func (q *JobQueue) Wait(ctx context.Context) (RunResult, error) {
	ch := make(chan RunResult, 1)
	if err := q.do(func() {
		if q.finished() {
			ch <- q.result()
			return
		}
		q.waiters = append(q.waiters, ch)
	}); err != nil {
		return RunResult{}, err
	}
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	case <-q.stopCh:
		return RunResult{}, ErrStopped
	}
}

// Snapshot counts nodes by status, for status pages.
type Snapshot struct {
	Counts        map[string]int
	Members       int
	MembersDone   int
	InFlightCalls int
	Killed        bool
}

func (q *JobQueue) Snapshot() Snapshot {
	var s Snapshot
	q.do(func() {
		s.Counts = map[string]int{}
		for st, c := range q.counts() {
			s.Counts[st.String()] = c
		}
		s.Members = len(q.members)
		for _, m := range q.members {
			if m.status == Done {
				s.MembersDone++
			}
		}
		s.InFlightCalls = q.runner.NumRunning() + q.runner.NumQueued()
		s.Killed = q.killed
	})
	return s
}

// Shutdown waits for outstanding driver calls, such as the kills issued by
// KillAll, and then stops the queue.
func (q *JobQueue) Shutdown(ctx context.Context) error {
	defer q.Stop()
	for {
		if q.Snapshot().InFlightCalls == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
