package drivers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EJahren/ert/driver"
)

func TestSimDriver(t *testing.T) {
	d := NewSimDriver()
	assertRun(d, t, driver.DoneStatus(0), "complete 0")
	assertRun(d, t, driver.DoneStatus(1), "complete 1")
	assertRun(d, t, driver.DoneStatus(0), "sleep 1", "complete 0")
	assertRun(d, t, driver.DoneStatus(0), "#this is a comment", "complete 0")
	assertRun(d, t, driver.DoneStatus(0), "sleep 1")

	argv := []string{"pause", "complete 4"}
	h := assertStart(d, t, argv...)
	resume(t, d)
	assertStatus(d, t, driver.DoneStatus(4), h, argv...)
}

// resume waits for a step to reach its pause and resumes it.
func resume(t *testing.T, d *SimDriver) {
	deadline := time.Now().Add(5 * time.Second)
	for !d.Resume() {
		if time.Now().After(deadline) {
			t.Fatal("no step paused")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestResumeWithoutPausedStep(t *testing.T) {
	d := NewSimDriver()
	done := make(chan bool)
	go func() { done <- d.Resume() }()
	select {
	case resumed := <-done:
		if resumed {
			t.Error("Resume reported a step with none paused")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Resume blocked with no paused step")
	}
}

func TestDefaultScript(t *testing.T) {
	d := NewSimDriver("complete 2")
	h, err := d.Submit(context.Background(), driver.Step{Executable: "/bin/true"})
	if err != nil {
		t.Fatal(err)
	}
	if st := d.Wait(h); st != driver.DoneStatus(2) {
		t.Fatalf("got %v, expected DONE(2)", st)
	}
}

func TestReject(t *testing.T) {
	d := NewSimDriver()
	_, err := d.Submit(context.Background(), scriptStep("reject queue full"))
	if !driver.IsSubmitError(err) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
	_, err = d.Submit(context.Background(), scriptStep("complete x"))
	if !driver.IsSubmitError(err) {
		t.Fatalf("expected SubmitError for bad script, got %v", err)
	}
	if d.Outstanding() != 0 {
		t.Errorf("rejected submissions left %d outstanding", d.Outstanding())
	}
}

func TestPendingThenRunning(t *testing.T) {
	d := NewSimDriver()
	h := assertStart(d, t, "pending 50", "pause")
	defer d.Release(h)
	waitFor(t, d, h, driver.PENDING)
	waitFor(t, d, h, driver.RUNNING)
}

func TestLost(t *testing.T) {
	d := NewSimDriver()
	h := assertStart(d, t, "lost")
	defer d.Release(h)
	waitFor(t, d, h, driver.LOST)

	if st := d.Poll(context.Background(), "bogus"); st.State != driver.LOST {
		t.Errorf("foreign handle should poll LOST, got %v", st)
	}
}

func TestKill(t *testing.T) {
	d := NewSimDriver()
	h := assertStart(d, t, "pause")
	if err := d.Kill(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	if st := d.Wait(h); st != driver.DoneStatus(KilledExitCode) {
		t.Fatalf("got %v after kill", st)
	}
	if err := d.Kill(context.Background(), h); !errors.Is(err, driver.ErrAlreadyTerminal) {
		t.Fatalf("second kill: expected ErrAlreadyTerminal, got %v", err)
	}
	d.Release(h)
	if d.Outstanding() != 0 {
		t.Fatalf("expected no outstanding handles, got %d", d.Outstanding())
	}
}

func TestTouchAndStdout(t *testing.T) {
	dir := t.TempDir()
	d := NewSimDriver()
	step := scriptStep("stdout hello", "touch OK", "complete 0")
	step.RunPath = dir
	step.Stdout = "job.stdout.0"
	h, err := d.Submit(context.Background(), step)
	if err != nil {
		t.Fatal(err)
	}
	d.Wait(h)
	if _, err := os.Stat(filepath.Join(dir, "OK")); err != nil {
		t.Errorf("expected target file: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "job.stdout.0"))
	if err != nil || string(b) != "hello\n" {
		t.Errorf("got stdout %q, %v", b, err)
	}
}

func scriptStep(script ...string) driver.Step {
	return driver.Step{Name: "SIM", Executable: SimExecutable, Argv: script}
}

func assertRun(d *SimDriver, t *testing.T, expected driver.Status, argv ...string) {
	h := assertStart(d, t, argv...)
	assertStatus(d, t, expected, h, argv...)
	d.Release(h)
}

func assertStart(d *SimDriver, t *testing.T, argv ...string) driver.Handle {
	h, err := d.Submit(context.Background(), scriptStep(argv...))
	if err != nil {
		t.Fatal("Error submitting step ", err)
	}
	return h
}

func assertStatus(d *SimDriver, t *testing.T, expected driver.Status, h driver.Handle, argv ...string) {
	st := d.Wait(h)
	if st != expected {
		t.Fatalf("Running %v, got %v, expected %v", argv, st, expected)
	}
}

func waitFor(t *testing.T, d *SimDriver, h driver.Handle, state driver.State) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.Poll(context.Background(), h).State == state {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("handle %v never reached %v", h, state)
}
