// Package rsh runs steps on a fixed set of hosts over a remote shell.
// Each host offers a number of slots; a step occupies one slot from
// submission until its handle is released.
package rsh

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/EJahren/ert/common/stats"
	"github.com/EJahren/ert/driver"
)

type Host struct {
	Addr  string
	Slots int
}

// Driver starts each step in the background on a remote host. The remote
// shell writes the step's exit code to a file in the run path; Poll reads
// that file and falls back to checking whether the process is alive.
type Driver struct {
	sh   Shell
	stat stats.StatsReceiver

	mu      sync.Mutex
	hosts   []*hostSlots
	next    int
	nextID  int
	handles map[*handle]struct{}
}

type hostSlots struct {
	Host
	used int
}

type handle struct {
	host     *hostSlots
	pid      int
	exitFile string
	step     string
}

func (h *handle) String() string {
	return fmt.Sprintf("%s:%d", h.host.Addr, h.pid)
}

func NewDriver(hosts []Host, sh Shell, stat stats.StatsReceiver) (*Driver, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("rsh driver needs at least one host")
	}
	d := &Driver{
		sh:      sh,
		stat:    stat.Scope("rsh"),
		handles: make(map[*handle]struct{}),
	}
	for _, h := range hosts {
		if h.Slots <= 0 {
			return nil, fmt.Errorf("host %s: slots must be positive, got %d", h.Addr, h.Slots)
		}
		d.hosts = append(d.hosts, &hostSlots{Host: h})
	}
	return d, nil
}

// Submit starts the step on the next host with a free slot.
func (d *Driver) Submit(ctx context.Context, step driver.Step) (driver.Handle, error) {
	defer d.stat.Latency(stats.DriverSubmitLatency_ms).Time().Stop()

	host, id := d.acquire()
	if host == nil {
		return nil, driver.NewSubmitError(step, fmt.Errorf("no free slot on %d hosts", len(d.hosts)))
	}
	exitFile := filepath.Join(step.RunPath, fmt.Sprintf(".%s.%d.%d.exit", step.Name, step.StepIndex, id))
	out, err := d.sh.Run(ctx, host.Addr, startCommand(step, exitFile))
	if err != nil {
		d.releaseSlot(host)
		d.stat.Counter(stats.DriverCommandErrorCounter).Inc(1)
		return nil, driver.NewSubmitError(step, fmt.Errorf("%s: %v", host.Addr, err))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		d.releaseSlot(host)
		return nil, driver.NewSubmitError(step, fmt.Errorf("%s: no pid in %q", host.Addr, out))
	}

	h := &handle{host: host, pid: pid, exitFile: exitFile, step: step.String()}
	d.mu.Lock()
	d.handles[h] = struct{}{}
	d.stat.Gauge(stats.DriverOutstandingGauge).Update(int64(len(d.handles)))
	d.mu.Unlock()
	log.WithFields(log.Fields{
		"step":   step.String(),
		"handle": h,
	}).Info("Started remote step")
	return h, nil
}

func (d *Driver) Poll(ctx context.Context, h driver.Handle) driver.Status {
	defer d.stat.Latency(stats.DriverPollLatency_ms).Time().Stop()
	rh, err := d.get(h)
	if err != nil {
		return driver.LostStatus(err.Error())
	}
	cmd := fmt.Sprintf("cat %s 2>/dev/null || { kill -0 %d 2>/dev/null && echo RUNNING; } || echo GONE",
		driver.ShellQuote(rh.exitFile), rh.pid)
	out, err := d.sh.Run(ctx, rh.host.Addr, cmd)
	if err != nil {
		d.stat.Counter(stats.DriverCommandErrorCounter).Inc(1)
		return driver.LostStatus(err.Error())
	}
	return parseStatus(out)
}

func parseStatus(out string) driver.Status {
	out = strings.TrimSpace(out)
	switch out {
	case "RUNNING":
		return driver.RunningStatus()
	case "GONE":
		return driver.LostStatus("process gone without exit status")
	}
	code, err := strconv.Atoi(out)
	if err != nil {
		return driver.LostStatus(fmt.Sprintf("unexpected status %q", out))
	}
	return driver.DoneStatus(code)
}

// Kill terminates the step's children and then the step's shell.
func (d *Driver) Kill(ctx context.Context, h driver.Handle) error {
	defer d.stat.Latency(stats.DriverKillLatency_ms).Time().Stop()
	rh, err := d.get(h)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("if test -e %s; then echo DONE; else pkill -TERM -P %d; kill -TERM %d 2>/dev/null; echo KILLED; fi",
		driver.ShellQuote(rh.exitFile), rh.pid, rh.pid)
	out, err := d.sh.Run(ctx, rh.host.Addr, cmd)
	if err != nil {
		d.stat.Counter(stats.DriverCommandErrorCounter).Inc(1)
		return fmt.Errorf("kill %v: %v", rh, err)
	}
	if strings.TrimSpace(out) == "DONE" {
		return driver.ErrAlreadyTerminal
	}
	return nil
}

// Release frees the handle's host slot.
func (d *Driver) Release(h driver.Handle) {
	rh, ok := h.(*handle)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handles[rh]; !ok {
		return
	}
	delete(d.handles, rh)
	rh.host.used--
	d.stat.Gauge(stats.DriverOutstandingGauge).Update(int64(len(d.handles)))
}

func (d *Driver) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

// FreeSlots is the number of slots not held by a submission.
func (d *Driver) FreeSlots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	free := 0
	for _, h := range d.hosts {
		free += h.Slots - h.used
	}
	return free
}

// acquire takes a slot round robin, starting after the last host used.
func (d *Driver) acquire() (*hostSlots, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < len(d.hosts); i++ {
		h := d.hosts[(d.next+i)%len(d.hosts)]
		if h.used < h.Slots {
			h.used++
			d.next = (d.next + i + 1) % len(d.hosts)
			d.nextID++
			return h, d.nextID
		}
	}
	return nil, 0
}

func (d *Driver) releaseSlot(h *hostSlots) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h.used--
}

func (d *Driver) get(h driver.Handle) (*handle, error) {
	rh, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("not an rsh handle: %v", h)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handles[rh]; !ok {
		return nil, fmt.Errorf("unknown handle %v", rh)
	}
	return rh, nil
}

// startCommand backgrounds the step and prints the pid of the shell that
// will record its exit code.
func startCommand(step driver.Step, exitFile string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cd %s && rm -f %s && ( ", driver.ShellQuote(step.RunPath), driver.ShellQuote(exitFile))
	if env := step.EnvAssignments(); len(env) > 0 {
		b.WriteString("env")
		for _, kv := range env {
			b.WriteString(" " + driver.ShellQuote(kv))
		}
		b.WriteString(" ")
	}
	b.WriteString(step.ShellCommand())
	fmt.Fprintf(&b, " >%s 2>%s; echo $? >%s ) </dev/null >/dev/null 2>&1 & echo $!",
		redirect(step.Stdout), redirect(step.Stderr), driver.ShellQuote(exitFile))
	return b.String()
}

func redirect(name string) string {
	if name == "" {
		return "/dev/null"
	}
	return driver.ShellQuote(name)
}
