package queue

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/EJahren/ert/extjob"
)

// MemberStatus is what the queue reports about one ensemble member.
// Attempts counts submissions over all of the member's steps.
// FailedStep is the index of the step that failed or was killed, or -1.
type MemberStatus struct {
	Member     int
	Status     Status
	Attempts   int
	RunPath    string
	Step       int
	FailedStep int
}

type member struct {
	index   int
	runPath string
	wf      *extjob.Workflow
	subst   extjob.Substitutions

	current    *node
	status     Status
	attempts   int
	failedStep int
}

func newMember(index int, runPath string, wf *extjob.Workflow, subst extjob.Substitutions) *member {
	return &member{
		index:   index,
		runPath: runPath,
		wf:      wf,
		subst: subst.Merge(extjob.Substitutions{
			"RUNPATH": runPath,
			"IENS":    strconv.Itoa(index),
		}),
		failedStep: -1,
	}
}

func (m *member) snapshot() MemberStatus {
	st := MemberStatus{
		Member:     m.index,
		Status:     m.status,
		Attempts:   m.attempts,
		RunPath:    m.runPath,
		FailedStep: m.failedStep,
	}
	if m.current != nil {
		st.Step = m.current.Step
		if !m.status.IsTerminal() {
			st.Status = m.current.Status
		}
	}
	return st
}

// RunResult summarizes members once every one of them is terminal.
type RunResult struct {
	Members int
	Done    []int
	Failed  []int
	Killed  []int
}

// OK reports whether every member reached Done.
func (r RunResult) OK() bool {
	return len(r.Done) == r.Members
}

// Err is nil for a successful run and otherwise names the affected members.
func (r RunResult) Err() error {
	if r.OK() {
		return nil
	}
	var parts []string
	if len(r.Failed) > 0 {
		parts = append(parts, "failed members "+joinInts(r.Failed))
	}
	if len(r.Killed) > 0 {
		parts = append(parts, "killed members "+joinInts(r.Killed))
	}
	return fmt.Errorf("%d of %d members did not complete: %s",
		r.Members-len(r.Done), r.Members, strings.Join(parts, "; "))
}

func joinInts(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, ",")
}

func sortedMembers(ms map[int]*member) []*member {
	out := make([]*member, 0, len(ms))
	for _, m := range ms {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}
