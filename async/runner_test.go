package async

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func Test_RunnerCallbackRunsOnProcess(t *testing.T) {
	r := NewRunner(0)
	var got error
	called := false
	r.RunAsync(func() error { return errors.New("poll failed") }, func(err error) {
		got = err
		called = true
	})
	if r.NumRunning() != 1 {
		t.Fatalf("expected 1 running, got %d", r.NumRunning())
	}
	for !called {
		<-r.Done()
		r.ProcessMessages()
	}
	if got == nil || got.Error() != "poll failed" {
		t.Errorf("unexpected callback value %v", got)
	}
	if r.NumRunning() != 0 {
		t.Errorf("expected 0 running, got %d", r.NumRunning())
	}
}

func Test_RunnerRespectsLimit(t *testing.T) {
	const limit = 3
	const total = 20
	r := NewRunner(limit)

	var mu sync.Mutex
	active, peak := 0, 0
	var finished int32

	for i := 0; i < total; i++ {
		r.RunAsync(func() error {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return nil
		}, func(error) {
			atomic.AddInt32(&finished, 1)
		})
	}
	if r.NumRunning() != limit || r.NumQueued() != total-limit {
		t.Fatalf("expected %d running and %d queued, got %d and %d",
			limit, total-limit, r.NumRunning(), r.NumQueued())
	}

	deadline := time.After(10 * time.Second)
	for atomic.LoadInt32(&finished) < total {
		select {
		case <-r.Done():
			r.ProcessMessages()
			if r.NumRunning() > limit {
				t.Fatalf("running %d exceeds limit %d", r.NumRunning(), limit)
			}
		case <-deadline:
			t.Fatalf("timed out with %d finished", finished)
		}
	}
	if peak > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", peak, limit)
	}
	if r.NumQueued() != 0 || r.NumRunning() != 0 {
		t.Errorf("expected drained runner, got %d running %d queued", r.NumRunning(), r.NumQueued())
	}
}

func Test_RunnerQueuedInOrder(t *testing.T) {
	r := NewRunner(1)
	var order []int
	block := make(chan struct{})
	r.RunAsync(func() error { <-block; return nil }, func(error) { order = append(order, 0) })
	for i := 1; i <= 3; i++ {
		i := i
		r.RunAsync(func() error { return nil }, func(error) { order = append(order, i) })
	}
	close(block)
	for len(order) < 4 {
		<-r.Done()
		r.ProcessMessages()
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func Test_RunnerCallbackMaySubmit(t *testing.T) {
	r := NewRunner(1)
	followUp := false
	r.RunAsync(func() error { return nil }, func(error) {
		r.RunAsync(func() error { return nil }, func(error) { followUp = true })
	})
	deadline := time.After(5 * time.Second)
	for !followUp {
		select {
		case <-r.Done():
			r.ProcessMessages()
		case <-deadline:
			t.Fatal("follow-up callback never ran")
		}
	}
}

func Test_RunnerStartsInSubmitOrder(t *testing.T) {
	r := NewRunner(1)
	defer r.Close()

	var mu sync.Mutex
	var started []int
	done := 0
	for i := 0; i < 5; i++ {
		i := i
		r.RunAsync(func() error {
			mu.Lock()
			started = append(started, i)
			mu.Unlock()
			return nil
		}, func(error) { done++ })
	}
	for done < 5 {
		<-r.Done()
		r.ProcessMessages()
	}
	for i, v := range started {
		if v != i {
			t.Fatalf("expected functions to start in submit order, got %v", started)
		}
	}
}

func Test_RunnerCloseDropsWork(t *testing.T) {
	r := NewRunner(1)
	block := make(chan struct{})
	r.RunAsync(func() error { <-block; return nil }, func(error) {})
	r.RunAsync(func() error { return nil }, func(error) {})
	r.Close()
	close(block)
	if r.NumQueued() != 0 {
		t.Errorf("expected queued work dropped, got %d", r.NumQueued())
	}
	r.RunAsync(func() error { t.Error("ran after Close"); return nil }, func(error) {})
	if r.NumRunning() != 1 {
		t.Errorf("expected only the first function outstanding, got %d", r.NumRunning())
	}
}
