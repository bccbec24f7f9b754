// Package batch submits steps to a cluster resource manager (LSF or Torque)
// through its command-line tools.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/EJahren/ert/common/stats"
	"github.com/EJahren/ert/driver"
)

const (
	DefaultCommandTimeout = 30 * time.Second
	DefaultSubmitRetries  = 5
)

type Options struct {
	// Dialect is "lsf" or "torque".
	Dialect string
	// Queue is the resource-manager queue to submit to, empty for its default.
	Queue string
	// ResourceRequest is passed verbatim on every submission
	// (bsub -R for LSF, qsub -l for Torque).
	ResourceRequest string
	CommandTimeout  time.Duration
	SubmitRetries   uint64
	// SubmitBackoff overrides the backoff between submission retries.
	SubmitBackoff func() backoff.BackOff
}

// Driver drives a resource manager's submit, status and kill commands.
type Driver struct {
	dialect dialect
	cmdr    Commander
	queue   string
	newBO   func() backoff.BackOff
	stat    stats.StatsReceiver

	mu        sync.Mutex
	resources string
	handles   map[*handle]struct{}
}

type handle struct {
	jobID string
	step  string
}

func (h *handle) String() string {
	return h.jobID
}

// NewDriver returns a Driver running commands through cmdr, or on the local
// machine when cmdr is nil.
func NewDriver(opts Options, cmdr Commander, stat stats.StatsReceiver) (*Driver, error) {
	dl, err := newDialect(opts.Dialect)
	if err != nil {
		return nil, err
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.SubmitRetries == 0 {
		opts.SubmitRetries = DefaultSubmitRetries
	}
	if cmdr == nil {
		cmdr = NewExecCommander(opts.CommandTimeout)
	}
	newBO := opts.SubmitBackoff
	if newBO == nil {
		newBO = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	retries := opts.SubmitRetries
	return &Driver{
		dialect:   dl,
		cmdr:      cmdr,
		queue:     opts.Queue,
		newBO:     func() backoff.BackOff { return backoff.WithMaxRetries(newBO(), retries) },
		stat:      stat.Scope(dl.Name()),
		resources: opts.ResourceRequest,
		handles:   make(map[*handle]struct{}),
	}, nil
}

// SetResourceRequest replaces the resource request used by later submissions.
func (d *Driver) SetResourceRequest(req string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resources = req
}

func (d *Driver) ResourceRequest() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resources
}

// Submit runs the dialect's submit command, retrying failures with backoff.
func (d *Driver) Submit(ctx context.Context, step driver.Step) (driver.Handle, error) {
	defer d.stat.Latency(stats.DriverSubmitLatency_ms).Time().Stop()

	var jobID string
	var lastErr error
	tries := 0
	err := backoff.Retry(func() error {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			return nil
		}
		tries++
		cmd, err := d.dialect.submit(step, d.queue, d.ResourceRequest())
		if err == nil {
			var out string
			out, err = d.cmdr.Run(ctx, cmd.name, cmd.args...)
			if err == nil {
				jobID, err = d.dialect.parseSubmit(out)
			}
		}
		if err != nil {
			d.stat.Counter(stats.DriverCommandErrorCounter).Inc(1)
			log.WithFields(log.Fields{
				"step":  step.String(),
				"try":   tries,
				"err":   err,
				"queue": d.queue,
			}).Info("Submit command failed")
		}
		lastErr = err
		return err
	}, backoff.WithContext(d.newBO(), ctx))
	if err == nil {
		err = lastErr
	}
	if err != nil {
		return nil, driver.NewSubmitError(step, err)
	}

	h := &handle{jobID: jobID, step: step.String()}
	d.mu.Lock()
	d.handles[h] = struct{}{}
	d.stat.Gauge(stats.DriverOutstandingGauge).Update(int64(len(d.handles)))
	d.mu.Unlock()
	log.WithFields(log.Fields{
		"step":  step.String(),
		"jobID": jobID,
		"tries": tries,
	}).Info("Submitted")
	return h, nil
}

// Poll queries the resource manager. A failing or timed out query is LOST.
func (d *Driver) Poll(ctx context.Context, h driver.Handle) driver.Status {
	defer d.stat.Latency(stats.DriverPollLatency_ms).Time().Stop()
	bh, err := d.get(h)
	if err != nil {
		return driver.LostStatus(err.Error())
	}
	cmd := d.dialect.status(bh.jobID)
	out, err := d.cmdr.Run(ctx, cmd.name, cmd.args...)
	if err != nil {
		d.stat.Counter(stats.DriverCommandErrorCounter).Inc(1)
		return driver.LostStatus(err.Error())
	}
	return d.dialect.parseStatus(bh.jobID, out)
}

// Kill runs the dialect's kill command. If that fails because the job has
// already ended ErrAlreadyTerminal is returned.
func (d *Driver) Kill(ctx context.Context, h driver.Handle) error {
	defer d.stat.Latency(stats.DriverKillLatency_ms).Time().Stop()
	bh, err := d.get(h)
	if err != nil {
		return err
	}
	cmd := d.dialect.kill(bh.jobID)
	if _, err := d.cmdr.Run(ctx, cmd.name, cmd.args...); err != nil {
		d.stat.Counter(stats.DriverCommandErrorCounter).Inc(1)
		if d.Poll(ctx, h).State == driver.DONE {
			return driver.ErrAlreadyTerminal
		}
		return fmt.Errorf("kill %s: %v", bh.jobID, err)
	}
	log.WithFields(log.Fields{
		"step":  bh.step,
		"jobID": bh.jobID,
	}).Info("Killed")
	return nil
}

func (d *Driver) Release(h driver.Handle) {
	bh, ok := h.(*handle)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handles, bh)
	d.stat.Gauge(stats.DriverOutstandingGauge).Update(int64(len(d.handles)))
}

func (d *Driver) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

func (d *Driver) get(h driver.Handle) (*handle, error) {
	bh, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("not a %s handle: %v", d.dialect.Name(), h)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handles[bh]; !ok {
		return nil, fmt.Errorf("unknown handle %v", bh)
	}
	return bh, nil
}
