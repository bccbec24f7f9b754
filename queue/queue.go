// Package queue runs each ensemble member's forward model through a Driver,
// one step at a time, under a global concurrency ceiling with bounded retry.
package queue

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/EJahren/ert/async"
	"github.com/EJahren/ert/common/stats"
	"github.com/EJahren/ert/driver"
)

// JobQueue owns every node and member and is the only writer of their state.
//
// Concurrency: the queue runs a loop in its own goroutine. Driver calls are
// executed by a bounded async.Runner; nothing in those calls reads or
// modifies queue state. Their callbacks, and every public method, are
// executed by the loop, so they can safely read and modify queue state.
type JobQueue struct {
	drv     driver.Driver
	cfg     Config
	runner  *async.Runner
	limiter *rate.Limiter
	stat    stats.StatsReceiver
	now     func() time.Time

	reqCh    chan request
	stopCh   chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	tickCh   <-chan time.Time
	ticker   *time.Ticker
	started  bool

	// loop state
	nodes   map[string]*node
	order   []*node
	members map[int]*member
	seq     int
	killed  bool
	waiters []chan RunResult
}

type request struct {
	f    func()
	done chan struct{}
}

// New creates a queue dispatching to drv. Members can be added right away;
// nothing is submitted before Start.
func New(drv driver.Driver, cfg Config, stat stats.StatsReceiver) *JobQueue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		drv:     drv,
		cfg:     cfg,
		runner:  async.NewRunner(cfg.Workers),
		limiter: rate.NewLimiter(rate.Inf, 1),
		stat:    stat.Scope("queue"),
		now:     time.Now,
		reqCh:   make(chan request),
		stopCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		nodes:   make(map[string]*node),
		members: make(map[int]*member),
	}
	if cfg.SubmitRate > 0 {
		burst := int(cfg.SubmitRate)
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}
	if !cfg.DebugMode {
		go q.loop()
	}
	return q
}

// Start begins the polling cycle. Driver calls are made under ctx.
func (q *JobQueue) Start(ctx context.Context) error {
	return q.do(func() {
		if q.started {
			return
		}
		q.started = true
		q.cancel()
		q.ctx, q.cancel = context.WithCancel(ctx)
		if !q.cfg.DebugMode {
			q.ticker = time.NewTicker(q.cfg.PollInterval)
			q.tickCh = q.ticker.C
		}
		log.WithFields(log.Fields{
			"maxRunning":   q.cfg.MaxRunning,
			"maxSubmit":    q.cfg.MaxSubmit,
			"pollInterval": q.cfg.PollInterval,
			"workers":      q.cfg.Workers,
		}).Info("Queue started")
	})
}

// Stop ends the loop and cancels outstanding driver calls. Nodes are not
// killed; use KillAll for that.
func (q *JobQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		if q.cfg.DebugMode && q.cancel != nil {
			q.cancel()
			q.runner.Close()
		}
	})
}

// do runs f on the loop goroutine and waits for it.
func (q *JobQueue) do(f func()) error {
	if q.cfg.DebugMode {
		f()
		q.notifyWaiters()
		return nil
	}
	req := request{f: f, done: make(chan struct{})}
	select {
	case q.reqCh <- req:
	case <-q.stopCh:
		return ErrStopped
	}
	<-req.done
	return nil
}

// run the queue loop until Stop
func (q *JobQueue) loop() {
	defer func() {
		if q.ticker != nil {
			q.ticker.Stop()
		}
		q.cancel()
		q.runner.Close()
		log.Info("Queue loop stopped")
	}()
	for {
		select {
		case req := <-q.reqCh:
			req.f()
			close(req.done)
		case <-q.runner.Done():
			q.runner.ProcessMessages()
		case <-q.tickCh:
			q.step()
		case <-q.stopCh:
			return
		}
		q.notifyWaiters()
	}
}

// run one polling cycle
func (q *JobQueue) step() {
	defer q.stat.Latency(stats.QueueCycleLatency_ms).Time().Stop()

	// apply the results of driver calls that completed since the last cycle
	q.runner.ProcessMessages()

	q.checkTimeouts()
	q.pollNodes()
	q.submitNodes()
	q.updateStats()
}

func (q *JobQueue) checkTimeouts() {
	now := q.now()
	for _, n := range q.order {
		if n.Status == Running && !n.deadline.IsZero() && now.After(n.deadline) {
			q.stat.Counter(stats.QueueTimeoutCounter).Inc(1)
			log.WithFields(n.fields()).Infof("Step exceeded its %v timeout", n.timeout)
			q.killHandle(n.detach())
			q.failAttempt(n, "timeout after "+n.timeout.String())
		}
	}
}

func (q *JobQueue) pollNodes() {
	for _, n := range q.order {
		if n.Status.InFlight() && n.handle != nil && !n.inFlight {
			q.poll(n)
		}
	}
}

// submitNodes submits in enqueue order while slots are free.
// Nodes awaiting resubmission already hold a slot.
func (q *JobQueue) submitNodes() {
	if q.killed {
		return
	}
	inFlight := 0
	perJob := map[string]int{}
	for _, n := range q.order {
		if n.Status.InFlight() {
			inFlight++
			perJob[n.JobName]++
		}
	}
	for _, n := range q.order {
		if !n.awaitingSubmit() {
			continue
		}
		if n.Status == NotSubmitted {
			if q.cfg.MaxRunning > 0 && inFlight >= q.cfg.MaxRunning {
				continue
			}
			if n.def.MaxRunning > 0 && perJob[n.JobName] >= n.def.MaxRunning {
				continue
			}
		}
		if !q.limiter.Allow() {
			return
		}
		if n.Status == NotSubmitted {
			inFlight++
			perJob[n.JobName]++
		}
		q.submit(n)
	}
}

func (q *JobQueue) submit(n *node) {
	n.Attempts++
	n.member.attempts++
	n.Status = Submitted
	n.SubmitTime = q.now()
	n.inFlight = true
	n.token++
	token := n.token
	step := n.step
	n.ctx, n.cancel = context.WithCancel(q.ctx)
	ctx := n.ctx

	q.stat.Counter(stats.QueueSubmitCounter).Inc(1)
	log.WithFields(n.fields()).Debug("Submitting")

	var h driver.Handle
	q.runner.RunAsync(
		func() error {
			defer q.stat.Latency(stats.DriverSubmitLatency_ms).Time().Stop()
			var err error
			h, err = q.drv.Submit(ctx, step)
			return err
		},
		func(err error) {
			q.onSubmitted(n, token, h, err)
		})
}

func (q *JobQueue) onSubmitted(n *node, token int, h driver.Handle, err error) {
	if token != n.token || n.Status.IsTerminal() {
		q.stat.Counter(stats.QueueStaleResultCounter).Inc(1)
		log.WithFields(n.fields()).Info("Discarding submission result for killed or resubmitted node")
		if err == nil {
			q.killHandle(h)
		}
		return
	}
	n.inFlight = false
	if err != nil {
		q.stat.Counter(stats.QueueSubmitFailedCounter).Inc(1)
		log.WithFields(n.fields()).WithError(err).Info("Submit failed")
		n.detach()
		q.failAttempt(n, err.Error())
		return
	}
	n.handle = h
}

func (q *JobQueue) poll(n *node) {
	n.inFlight = true
	token := n.token
	h := n.handle
	ctx := n.ctx
	target := targetPath(n)

	var st driver.Status
	targetMissing := false
	q.runner.RunAsync(
		func() error {
			defer q.stat.Latency(stats.DriverPollLatency_ms).Time().Stop()
			st = q.drv.Poll(ctx, h)
			if st.State == driver.DONE && st.ExitCode == 0 && target != "" {
				if _, err := os.Stat(target); err != nil {
					targetMissing = true
				}
			}
			return nil
		},
		func(error) {
			q.onPolled(n, token, st, targetMissing)
		})
}

func targetPath(n *node) string {
	t := n.def.TargetFile
	if t == "" || filepath.IsAbs(t) {
		return t
	}
	return filepath.Join(n.RunPath, t)
}

func (q *JobQueue) onPolled(n *node, token int, st driver.Status, targetMissing bool) {
	if token != n.token || n.Status.IsTerminal() {
		q.stat.Counter(stats.QueueStaleResultCounter).Inc(1)
		return
	}
	n.inFlight = false
	if st.State != driver.LOST && st.State != driver.UNKNOWN {
		n.lostPolls = 0
	}
	switch st.State {
	case driver.PENDING:
		if n.Status == Submitted {
			n.Status = Pending
		}
	case driver.RUNNING:
		if n.Status != Running {
			n.Status = Running
			n.StartTime = q.now()
			if n.timeout > 0 {
				n.deadline = n.StartTime.Add(n.timeout)
			}
			log.WithFields(n.fields()).Debug("Running")
		}
	case driver.DONE:
		n.ExitCode = st.ExitCode
		q.release(n)
		switch {
		case st.ExitCode != 0:
			q.failAttempt(n, "exit code "+strconv.Itoa(st.ExitCode))
		case targetMissing:
			q.stat.Counter(stats.QueueTargetMissingCounter).Inc(1)
			q.failAttempt(n, "target file "+n.def.TargetFile+" missing")
		default:
			q.complete(n)
		}
	default:
		n.lostPolls++
		q.stat.Counter(stats.QueueLostPollCounter).Inc(1)
		log.WithFields(n.fields()).WithField("lostPolls", n.lostPolls).Info("Lost status: " + st.Error)
		if n.lostPolls >= q.cfg.MaxLostPolls {
			q.stat.Counter(stats.QueueLostFailedCounter).Inc(1)
			q.killHandle(n.detach())
			q.failAttempt(n, "lost after "+strconv.Itoa(q.cfg.MaxLostPolls)+" polls")
		}
	}
}

// release returns the node's handle to the driver.
func (q *JobQueue) release(n *node) {
	if h := n.detach(); h != nil {
		q.drv.Release(h)
	}
}

// killHandle kills and then releases h in the background.
func (q *JobQueue) killHandle(h driver.Handle) {
	if h == nil {
		return
	}
	ctx := q.ctx
	q.runner.RunAsync(
		func() error {
			defer q.stat.Latency(stats.DriverKillLatency_ms).Time().Stop()
			return q.drv.Kill(ctx, h)
		},
		func(err error) {
			if err != nil && err != driver.ErrAlreadyTerminal {
				log.WithError(err).WithField("handle", h).Info("Kill failed")
			}
			q.drv.Release(h)
		})
}

// failAttempt sends the node back for resubmission, or fails it and kills the
// rest of its member's forward model once attempts are used up.
// The node's handle must already be detached.
func (q *JobQueue) failAttempt(n *node, reason string) {
	n.LastError = reason
	if n.Attempts < n.MaxSubmit {
		n.Status = Submitted
		q.stat.Counter(stats.QueueRetryCounter).Inc(1)
		log.WithFields(n.fields()).Infof("Attempt failed, will resubmit: %s", reason)
		return
	}
	n.Status = Fail
	n.EndTime = q.now()
	log.WithFields(n.fields()).Infof("Step failed: %s", reason)
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("failed node:\n%s", spew.Sdump(n.Node))
	}
	q.endMember(n.member, Fail, n.Step)
}

func (q *JobQueue) complete(n *node) {
	n.Status = Done
	n.EndTime = q.now()
	n.LastError = ""
	log.WithFields(n.fields()).Info("Step done")

	m := n.member
	if next := n.Step + 1; next < m.wf.Len() {
		q.enqueue(m, next)
		return
	}
	m.status = Done
	q.stat.Counter(stats.QueueMembersDoneCounter).Inc(1)
	log.WithFields(log.Fields{
		"member":   m.index,
		"attempts": m.attempts,
	}).Info("Member done")
}

// endMember finalizes a member whose step ended in Fail or Killed and marks
// its remaining steps Killed.
func (q *JobQueue) endMember(m *member, status Status, failedStep int) {
	if m.status.IsTerminal() {
		return
	}
	m.status = status
	m.failedStep = failedStep
	now := q.now()
	for i := failedStep + 1; i < m.wf.Len(); i++ {
		n := q.newNode(m, i)
		n.Status = Killed
		n.EndTime = now
		q.add(n)
	}
}

// enqueue adds the member's i'th step as a NotSubmitted node.
func (q *JobQueue) enqueue(m *member, i int) *node {
	n := q.newNode(m, i)
	q.add(n)
	m.current = n
	log.WithFields(n.fields()).Debug("Enqueued")
	return n
}

func (q *JobQueue) newNode(m *member, i int) *node {
	def := m.wf.At(i).Render(m.subst)
	id := generateNodeId()
	step := def.Step(m.runPath, m.index, i)
	step.ID = id
	timeout := def.MaxRunningTime
	if timeout == 0 {
		timeout = q.cfg.StepTimeout
	}
	return &node{
		Node: Node{
			ID:        id,
			Member:    m.index,
			Step:      i,
			JobName:   def.Name,
			RunPath:   m.runPath,
			Status:    NotSubmitted,
			MaxSubmit: q.cfg.MaxSubmit,
		},
		def:     def,
		step:    step,
		timeout: timeout,
		member:  m,
	}
}

func (q *JobQueue) add(n *node) {
	q.seq++
	n.seq = q.seq
	q.nodes[n.ID] = n
	q.order = append(q.order, n)
}

func (q *JobQueue) updateStats() {
	counts := q.counts()
	q.stat.Gauge(stats.QueueNotSubmittedGauge).Update(int64(counts[NotSubmitted]))
	q.stat.Gauge(stats.QueueSubmittedGauge).Update(int64(counts[Submitted]))
	q.stat.Gauge(stats.QueuePendingGauge).Update(int64(counts[Pending]))
	q.stat.Gauge(stats.QueueRunningGauge).Update(int64(counts[Running]))
	q.stat.Gauge(stats.QueueDoneGauge).Update(int64(counts[Done]))
	q.stat.Gauge(stats.QueueFailedGauge).Update(int64(counts[Fail]))
	q.stat.Gauge(stats.QueueKilledGauge).Update(int64(counts[Killed]))
	q.stat.Gauge(stats.QueueInFlightCallsGauge).Update(int64(q.runner.NumRunning() + q.runner.NumQueued()))
}

func (q *JobQueue) counts() map[Status]int {
	counts := make(map[Status]int)
	for _, n := range q.order {
		counts[n.Status]++
	}
	return counts
}

func (q *JobQueue) finished() bool {
	for _, m := range q.members {
		if !m.status.IsTerminal() {
			return false
		}
	}
	return true
}

func (q *JobQueue) result() RunResult {
	r := RunResult{Members: len(q.members)}
	for _, m := range sortedMembers(q.members) {
		switch m.status {
		case Done:
			r.Done = append(r.Done, m.index)
		case Fail:
			r.Failed = append(r.Failed, m.index)
		case Killed:
			r.Killed = append(r.Killed, m.index)
		}
	}
	return r
}

func (q *JobQueue) notifyWaiters() {
	if len(q.waiters) == 0 || !q.finished() {
		return
	}
	r := q.result()
	for _, w := range q.waiters {
		w <- r
	}
	q.waiters = nil
}

func sortNodes(ns []Node) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Member != ns[j].Member {
			return ns[i].Member < ns[j].Member
		}
		return ns[i].Step < ns[j].Step
	})
}
