package queue

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/luci/go-render/render"

	"github.com/EJahren/ert/common/stats"
	"github.com/EJahren/ert/driver"
)

// Each member fails its first failures[member] attempts. No cycle may exceed
// the ceiling, and every member ends Done exactly when it had attempts left.
func TestAttemptAndCeilingBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("ceiling and attempts are bounded", prop.ForAll(
		func(maxRunning, maxSubmit int, failures []int) bool {
			d := newFakeDriver(func(s driver.Step, attempt int) []driver.Status {
				if attempt <= failures[s.Member] {
					return exitWith(1)
				}
				return exitWith(0)
			})
			q := newTestQueue(d, Config{MaxRunning: maxRunning, MaxSubmit: maxSubmit}, stats.NilStatsReceiver())
			addMembers(t, q, len(failures), workflow(t, job("A")))

			for i := 0; i < 500 && !q.finished(); i++ {
				cycle(q)
				if n := inFlight(q); n > maxRunning {
					t.Logf("cycle %d: %d in flight, ceiling %d\n%s", i, n, maxRunning, render.Render(q.Nodes()))
					return false
				}
			}
			if !q.finished() || d.Outstanding() != 0 {
				t.Logf("not finished: %s", render.Render(q.Nodes()))
				return false
			}
			for _, m := range q.Members() {
				f := failures[m.Member]
				ok := m.Status == Done && m.Attempts == f+1
				if f >= maxSubmit {
					ok = m.Status == Fail && m.Attempts == maxSubmit
				}
				if !ok {
					t.Logf("failures %v maxSubmit %d: %s", failures, maxSubmit, render.Render(m))
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 4),
		gen.IntRange(1, 3),
		gen.SliceOfN(6, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
