// Package drivers holds drivers that do not talk to a real backend.
package drivers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/EJahren/ert/driver"
)

// SimExecutable marks a step whose argv is a simulation script.
const SimExecutable = "#! sim"

// KilledExitCode is reported for simulated steps that were killed.
const KilledExitCode = 137

// SimDriver runs steps by simulating a script.
// Steps whose Executable is SimExecutable use their own argv as the script,
// everything else runs the driver's default script.
// Each element of the script is simulated in order. Valid elements are:
// complete <exitcode int>
//   complete with exitcode
// pending <millis int>
//   report PENDING for millis milliseconds before running
// sleep <millis int>
//   sleep for millis milliseconds
// pause
//   pause until SimDriver.Resume() is called or the step is killed
// lost
//   report LOST from now on
// touch <file>
//   create file in the step's run path
// stdout <message>
//   append message to the step's stdout file
// reject <reason>
//   refuse the submission
// A script that runs out of elements completes with exit code 0.
type SimDriver struct {
	mu       sync.Mutex
	procs    map[*simHandle]*simProcess
	nextID   int
	script   []string
	resumeCh chan struct{}
}

type simHandle struct {
	id int
}

func (h *simHandle) String() string {
	return fmt.Sprintf("sim-%d", h.id)
}

func NewSimDriver(defaultScript ...string) *SimDriver {
	return &SimDriver{
		procs:    make(map[*simHandle]*simProcess),
		script:   defaultScript,
		resumeCh: make(chan struct{}),
	}
}

// Resume unblocks one paused step without waiting, reporting false if no
// step was paused.
func (d *SimDriver) Resume() bool {
	select {
	case d.resumeCh <- struct{}{}:
		return true
	default:
		return false
	}
}

func (d *SimDriver) Submit(ctx context.Context, step driver.Step) (driver.Handle, error) {
	script := d.script
	if step.Executable == SimExecutable {
		script = step.Argv
	}
	steps, err := d.parse(script)
	if err != nil {
		return nil, driver.NewSubmitError(step, err)
	}
	if len(steps) > 0 {
		if r, ok := steps[0].(*rejectStep); ok {
			return nil, driver.NewSubmitError(step, fmt.Errorf("rejected: %s", r.reason))
		}
	}

	p := &simProcess{step: step, killCh: make(chan struct{})}
	p.status = driver.RunningStatus()
	p.done = sync.NewCond(&p.mu)

	d.mu.Lock()
	d.nextID++
	h := &simHandle{id: d.nextID}
	d.procs[h] = p
	d.mu.Unlock()

	log.WithFields(log.Fields{
		"handle": h,
		"step":   step.String(),
	}).Debug("sim submit")
	go p.run(steps)
	return h, nil
}

func (d *SimDriver) Poll(ctx context.Context, h driver.Handle) driver.Status {
	p, err := d.get(h)
	if err != nil {
		return driver.LostStatus(err.Error())
	}
	return p.getStatus()
}

func (d *SimDriver) Kill(ctx context.Context, h driver.Handle) error {
	p, err := d.get(h)
	if err != nil {
		return err
	}
	if !p.kill() {
		return driver.ErrAlreadyTerminal
	}
	return nil
}

func (d *SimDriver) Release(h driver.Handle) {
	sh, ok := h.(*simHandle)
	if !ok {
		return
	}
	d.mu.Lock()
	p := d.procs[sh]
	delete(d.procs, sh)
	d.mu.Unlock()
	if p != nil {
		p.kill()
	}
}

// Outstanding is the number of handles not yet released.
func (d *SimDriver) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.procs)
}

// Wait blocks until the step behind h has ended and returns its final status.
func (d *SimDriver) Wait(h driver.Handle) driver.Status {
	p, err := d.get(h)
	if err != nil {
		return driver.LostStatus(err.Error())
	}
	return p.wait()
}

func (d *SimDriver) get(h driver.Handle) (*simProcess, error) {
	sh, ok := h.(*simHandle)
	if !ok {
		return nil, fmt.Errorf("not a sim handle: %v", h)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.procs[sh]
	if !ok {
		return nil, fmt.Errorf("unknown handle %v", sh)
	}
	return p, nil
}

// parse parses a script into sim steps
func (d *SimDriver) parse(script []string) (steps []simStep, err error) {
	for _, arg := range script {
		s, err := d.parseArg(arg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func (d *SimDriver) parseArg(arg string) (simStep, error) {
	if strings.HasPrefix(arg, "#") {
		return &noopStep{}, nil
	}
	splits := strings.SplitN(arg, " ", 2)
	opcode, rest := splits[0], ""
	if len(splits) == 2 {
		rest = splits[1]
	}
	switch opcode {
	case "complete":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("error parsing <n> in complete <n>:%s", err.Error())
		}
		return &completeStep{i}, nil
	case "pending", "sleep":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("error parsing <n> in %s <n>:%s", opcode, err.Error())
		}
		return &sleepStep{time.Duration(i) * time.Millisecond, opcode == "pending"}, nil
	case "pause":
		return &pauseStep{d.resumeCh}, nil
	case "lost":
		return &lostStep{}, nil
	case "touch":
		return &touchStep{rest}, nil
	case "stdout":
		return &stdoutStep{rest}, nil
	case "reject":
		return &rejectStep{rest}, nil
	}
	return nil, fmt.Errorf("can't simulate arg: %v", arg)
}

type simProcess struct {
	step   driver.Step
	status driver.Status
	done   *sync.Cond
	mu     sync.Mutex
	killCh chan struct{}
	killed bool
}

func (p *simProcess) wait() driver.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.status.State != driver.DONE {
		p.done.Wait()
	}
	return p.status
}

// kill ends the process, reporting false if it had already ended.
func (p *simProcess) kill() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State == driver.DONE || p.killed {
		return false
	}
	p.killed = true
	close(p.killCh)
	p.status = driver.DoneStatus(KilledExitCode)
	p.done.Broadcast()
	return true
}

func (p *simProcess) setStatus(status driver.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State == driver.DONE {
		return
	}
	p.status = status
	if p.status.State == driver.DONE {
		p.done.Broadcast()
	}
}

func (p *simProcess) getStatus() driver.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *simProcess) run(steps []simStep) {
	for _, step := range steps {
		status := p.getStatus()
		if status.State == driver.DONE {
			return
		}
		p.setStatus(step.run(status, p))
	}
	if st := p.getStatus(); st.State != driver.LOST {
		p.setStatus(driver.DoneStatus(0))
	}
}

type simStep interface {
	run(status driver.Status, p *simProcess) driver.Status
}

type completeStep struct {
	exitCode int
}

func (s *completeStep) run(status driver.Status, p *simProcess) driver.Status {
	return driver.DoneStatus(s.exitCode)
}

type sleepStep struct {
	duration time.Duration
	pending  bool
}

func (s *sleepStep) run(status driver.Status, p *simProcess) driver.Status {
	if s.pending {
		p.setStatus(driver.PendingStatus())
	}
	select {
	case <-time.After(s.duration):
	case <-p.killCh:
	}
	if s.pending {
		return driver.RunningStatus()
	}
	return status
}

type pauseStep struct {
	ch chan struct{}
}

func (s *pauseStep) run(status driver.Status, p *simProcess) driver.Status {
	select {
	case <-p.killCh:
	case <-s.ch:
	}
	return status
}

type lostStep struct{}

func (s *lostStep) run(status driver.Status, p *simProcess) driver.Status {
	return driver.LostStatus("simulated lost job")
}

type touchStep struct {
	file string
}

func (s *touchStep) run(status driver.Status, p *simProcess) driver.Status {
	path := filepath.Join(p.step.RunPath, s.file)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		log.WithFields(log.Fields{"path": path, "err": err}).Info("sim touch failed")
	}
	return status
}

type stdoutStep struct {
	output string
}

func (s *stdoutStep) run(status driver.Status, p *simProcess) driver.Status {
	if p.step.Stdout == "" {
		return status
	}
	path := filepath.Join(p.step.RunPath, p.step.Stdout)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return status
	}
	defer f.Close()
	f.WriteString(s.output + "\n")
	return status
}

type rejectStep struct {
	reason string
}

func (s *rejectStep) run(status driver.Status, p *simProcess) driver.Status {
	return status
}

type noopStep struct{}

func (s *noopStep) run(status driver.Status, p *simProcess) driver.Status {
	return status
}
