// Package local runs steps as child processes of the current process.
package local

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/EJahren/ert/common/stats"
	"github.com/EJahren/ert/driver"
)

// DefaultKillGrace is how long a killed step may take to exit after SIGTERM
// before its process group gets SIGKILL.
const DefaultKillGrace = 10 * time.Second

type Options struct {
	KillGrace time.Duration
}

// Driver fork/execs each step in its run directory, in its own process group,
// with stdout and stderr redirected to files in the run directory.
type Driver struct {
	mu     sync.Mutex
	procs  map[*handle]*process
	nextID int
	grace  time.Duration
	stat   stats.StatsReceiver
}

type handle struct {
	id int
}

func (h *handle) String() string {
	return fmt.Sprintf("local-%d", h.id)
}

type process struct {
	cmd    *exec.Cmd
	pgid   int
	doneCh chan struct{}

	mu     sync.Mutex
	status driver.Status
	killed bool
}

func NewDriver(opts Options, stat stats.StatsReceiver) *Driver {
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	return &Driver{
		procs: make(map[*handle]*process),
		grace: opts.KillGrace,
		stat:  stat.Scope("local"),
	}
}

func (d *Driver) Submit(ctx context.Context, step driver.Step) (driver.Handle, error) {
	defer d.stat.Latency(stats.DriverSubmitLatency_ms).Time().Stop()

	stdout, err := openOutput(step.RunPath, step.Stdout)
	if err != nil {
		return nil, driver.NewSubmitError(step, err)
	}
	stderr, err := openOutput(step.RunPath, step.Stderr)
	if err != nil {
		stdout.Close()
		return nil, driver.NewSubmitError(step, err)
	}

	cmd := exec.Command(step.Executable, step.Argv...)
	cmd.Dir = step.RunPath
	cmd.Env = mergeEnv(os.Environ(), step.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Use pgid so Kill reaches every child the step spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, driver.NewSubmitError(step, err)
	}
	p := &process{cmd: cmd, pgid: cmd.Process.Pid, doneCh: make(chan struct{}), status: driver.RunningStatus()}

	d.mu.Lock()
	d.nextID++
	h := &handle{id: d.nextID}
	d.procs[h] = p
	d.stat.Gauge(stats.DriverOutstandingGauge).Update(int64(len(d.procs)))
	d.mu.Unlock()

	log.WithFields(log.Fields{
		"handle": h,
		"pid":    p.pgid,
		"step":   step.String(),
		"dir":    step.RunPath,
	}).Info("Started local process")

	go func() {
		err := cmd.Wait()
		stdout.Close()
		stderr.Close()
		p.finish(exitCode(err))
		log.WithFields(log.Fields{
			"handle": h,
			"pid":    p.pgid,
			"status": p.getStatus(),
		}).Info("Local process finished")
	}()
	return h, nil
}

func (d *Driver) Poll(ctx context.Context, h driver.Handle) driver.Status {
	defer d.stat.Latency(stats.DriverPollLatency_ms).Time().Stop()
	p, err := d.get(h)
	if err != nil {
		return driver.LostStatus(err.Error())
	}
	return p.getStatus()
}

// Kill sends SIGTERM to the step's process group, and SIGKILL if it has not
// exited after the grace period.
func (d *Driver) Kill(ctx context.Context, h driver.Handle) error {
	defer d.stat.Latency(stats.DriverKillLatency_ms).Time().Stop()
	p, err := d.get(h)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.status.State == driver.DONE || p.killed {
		p.mu.Unlock()
		return driver.ErrAlreadyTerminal
	}
	p.killed = true
	p.mu.Unlock()

	if err := unix.Kill(-p.pgid, unix.SIGTERM); err != nil {
		log.WithFields(log.Fields{
			"handle": h,
			"pid":    p.pgid,
			"err":    err,
		}).Info("SIGTERM failed, sending SIGKILL")
		unix.Kill(-p.pgid, unix.SIGKILL)
		return nil
	}
	go func() {
		select {
		case <-p.doneCh:
		case <-time.After(d.grace):
			log.WithFields(log.Fields{
				"handle": h,
				"pid":    p.pgid,
				"grace":  d.grace,
			}).Info("Grace period exceeded, sending SIGKILL")
			unix.Kill(-p.pgid, unix.SIGKILL)
		}
	}()
	return nil
}

// Release forgets the handle. A step still running is killed outright,
// unless Kill already started its grace period.
func (d *Driver) Release(h driver.Handle) {
	lh, ok := h.(*handle)
	if !ok {
		return
	}
	d.mu.Lock()
	p := d.procs[lh]
	delete(d.procs, lh)
	d.stat.Gauge(stats.DriverOutstandingGauge).Update(int64(len(d.procs)))
	d.mu.Unlock()
	if p == nil {
		return
	}
	p.mu.Lock()
	killed := p.killed
	p.mu.Unlock()
	if killed {
		return
	}
	select {
	case <-p.doneCh:
	default:
		unix.Kill(-p.pgid, unix.SIGKILL)
	}
}

func (d *Driver) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.procs)
}

func (d *Driver) get(h driver.Handle) (*process, error) {
	lh, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("not a local handle: %v", h)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.procs[lh]
	if !ok {
		return nil, fmt.Errorf("unknown handle %v", lh)
	}
	return p, nil
}

func (p *process) finish(code int) {
	p.mu.Lock()
	p.status = driver.DoneStatus(code)
	p.mu.Unlock()
	close(p.doneCh)
}

func (p *process) getStatus() driver.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// exitCode maps the result of cmd.Wait to a shell-style exit code.
// A process ended by a signal reports 128+signal.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
	}
	return -1
}

func openOutput(dir, name string) (*os.File, error) {
	if name == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
}

// mergeEnv overrides base with env, keeping base's order and appending new
// keys sorted.
func mergeEnv(base []string, env map[string]string) []string {
	if len(env) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(env))
	seen := make(map[string]bool, len(env))
	for _, kv := range base {
		k := kv
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				k = kv[:i]
				break
			}
		}
		if v, ok := env[k]; ok {
			out = append(out, k+"="+v)
			seen[k] = true
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
