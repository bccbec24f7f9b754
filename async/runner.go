// Package async runs blocking functions off the calling goroutine and hands
// their results back to it as callbacks.
package async

// Runner runs functions on a fixed set of worker goroutines and associates a
// callback with each. Callbacks are invoked by ProcessMessages on the goroutine
// that calls it, so a single owner can keep exclusive access to its state
// while the blocking work happens elsewhere.
//
// A bounded Runner has limit workers taking work from one FIFO channel, so
// functions start in RunAsync order; with one worker they also run in that
// order. Work submitted while every worker is busy waits in FIFO order and is
// handed out by ProcessMessages as workers free up. An unbounded Runner starts
// a goroutine per function and makes no ordering promise.
//
// A Runner is not safe for concurrent use: RunAsync, ProcessMessages and Close
// must be called from the same goroutine.
//
//	r := NewRunner(4)
//	defer r.Close()
//	r.RunAsync(func() error { return submit(step) }, func(err error) {
//	  // runs inside the owner's loop
//	  node.submitted(err)
//	})
//	for {
//	  <-r.Done()
//	  r.ProcessMessages()
//	}
type Runner struct {
	bx      *Mailbox
	limit   int
	running int
	queued  []work
	workCh  chan work
	doneCh  chan struct{}
	closed  bool
}

type work struct {
	f   func() error
	cb  AsyncErrorResponseHandler
	rsp *AsyncError
}

// NewRunner returns a Runner that runs at most limit functions concurrently.
// A limit <= 0 means unbounded.
func NewRunner(limit int) *Runner {
	r := &Runner{
		bx:     NewMailbox(),
		limit:  limit,
		doneCh: make(chan struct{}, 1),
	}
	if limit > 0 {
		// never blocks: at most limit functions are handed out at once
		r.workCh = make(chan work, limit)
		for i := 0; i < limit; i++ {
			go r.worker()
		}
	}
	return r
}

func (r *Runner) worker() {
	for w := range r.workCh {
		r.run(w)
	}
}

func (r *Runner) run(w work) {
	w.rsp.SetValue(w.f())
	select {
	case r.doneCh <- struct{}{}:
	default:
	}
}

// NumRunning is the number of functions started whose callback has not run yet.
func (r *Runner) NumRunning() int {
	return r.running
}

// NumQueued is the number of functions waiting for a free worker.
func (r *Runner) NumQueued() int {
	return len(r.queued)
}

// Done receives a value after a function completes. Completions are coalesced,
// so one receive may stand for several; call ProcessMessages after it.
func (r *Runner) Done() <-chan struct{} {
	return r.doneCh
}

// RunAsync hands f to a worker, or queues it if every worker is busy.
// cb is invoked with f's result by a later call to ProcessMessages.
// Work passed after Close is dropped.
func (r *Runner) RunAsync(f func() error, cb AsyncErrorResponseHandler) {
	if r.closed {
		return
	}
	if r.limit > 0 && (r.running >= r.limit || len(r.queued) > 0) {
		r.queued = append(r.queued, work{f: f, cb: cb})
		return
	}
	r.launch(work{f: f, cb: cb})
}

func (r *Runner) launch(w work) {
	r.running++
	cb := w.cb
	w.rsp = r.bx.NewAsyncError(func(err error) {
		r.running--
		cb(err)
	})
	if r.workCh == nil {
		go r.run(w)
		return
	}
	r.workCh <- w
}

// ProcessMessages invokes the callbacks of all completed functions, then
// hands queued functions to workers while some are free.
// Callbacks are run synchronously by the calling goroutine.
func (r *Runner) ProcessMessages() {
	r.bx.ProcessMessages()
	for !r.closed && len(r.queued) > 0 && (r.limit <= 0 || r.running < r.limit) {
		w := r.queued[0]
		r.queued = r.queued[1:]
		r.launch(w)
	}
}

// Close stops the workers once they finish their current functions.
// Queued functions are dropped.
func (r *Runner) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.queued = nil
	if r.workCh != nil {
		close(r.workCh)
	}
}
