package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/EJahren/ert/driver"
)

// fakeDriver answers immediately. Each submission gets a script of statuses
// that successive polls walk through; the last one repeats.
type fakeDriver struct {
	mu       sync.Mutex
	nextID   int
	jobs     map[int]*fakeJob
	attempts map[string]int
	submits  []driver.Step
	kills    []driver.Step
	released int

	// script returns the statuses for the attempt'th submission of step.
	script func(step driver.Step, attempt int) []driver.Status
	// submitErr, if set, can refuse a submission.
	submitErr func(step driver.Step, attempt int) error
}

type fakeJob struct {
	step   driver.Step
	script []driver.Status
	polls  int
}

func newFakeDriver(script func(step driver.Step, attempt int) []driver.Status) *fakeDriver {
	return &fakeDriver{
		jobs:     map[int]*fakeJob{},
		attempts: map[string]int{},
		script:   script,
	}
}

func key(member, step int) string {
	return fmt.Sprintf("%d/%d", member, step)
}

func (d *fakeDriver) Submit(ctx context.Context, step driver.Step) (driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := key(step.Member, step.StepIndex)
	d.attempts[k]++
	d.submits = append(d.submits, step)
	if d.submitErr != nil {
		if err := d.submitErr(step, d.attempts[k]); err != nil {
			return nil, driver.NewSubmitError(step, err)
		}
	}
	d.nextID++
	d.jobs[d.nextID] = &fakeJob{step: step, script: d.script(step, d.attempts[k])}
	return d.nextID, nil
}

func (d *fakeDriver) Poll(ctx context.Context, h driver.Handle) driver.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[h.(int)]
	if !ok {
		return driver.LostStatus("unknown handle")
	}
	i := j.polls
	if i >= len(j.script) {
		i = len(j.script) - 1
	}
	j.polls++
	return j.script[i]
}

func (d *fakeDriver) Kill(ctx context.Context, h driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[h.(int)]
	if !ok {
		return fmt.Errorf("unknown handle %v", h)
	}
	d.kills = append(d.kills, j.step)
	j.script = []driver.Status{driver.DoneStatus(137)}
	j.polls = 0
	return nil
}

func (d *fakeDriver) Release(h driver.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.jobs[h.(int)]; ok {
		delete(d.jobs, h.(int))
		d.released++
	}
}

func (d *fakeDriver) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// finish makes the running submission of member's step end with code.
func (d *fakeDriver) finish(member, step, code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, j := range d.jobs {
		if j.step.Member == member && j.step.StepIndex == step {
			j.script = []driver.Status{driver.DoneStatus(code)}
			j.polls = 0
		}
	}
}

func (d *fakeDriver) numSubmits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.submits)
}

func (d *fakeDriver) numKills() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.kills)
}

func runForever(driver.Step, int) []driver.Status {
	return []driver.Status{driver.PendingStatus(), driver.RunningStatus()}
}

func exitWith(code int) []driver.Status {
	return []driver.Status{driver.RunningStatus(), driver.DoneStatus(code)}
}

func alwaysExit(code int) func(driver.Step, int) []driver.Status {
	return func(driver.Step, int) []driver.Status { return exitWith(code) }
}
