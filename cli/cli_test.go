package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EJahren/ert/common/endpoints"
	exitcodes "github.com/EJahren/ert/common/errors"
	"github.com/EJahren/ert/common/log/hooks"
	"github.com/EJahren/ert/common/stats"
	"github.com/EJahren/ert/queue"
)

func init() {
	log.AddHook(hooks.NewContextHook())
	logrusLevel, _ := log.ParseLevel("debug")
	log.SetLevel(logrusLevel)
}

const simJobs = `
job "OK" {
  executable = "#! sim"
  args       = ["sleep 5", "complete 0"]
}

job "EXIT_IENS" {
  executable = "#! sim"
  args       = ["<PAUSE>", "complete <IENS>"]
}
`

func newTestCLI(t *testing.T) (*CLI, *bytes.Buffer, string) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jobs.hcl"), []byte(simJobs), 0644))
	site := filepath.Join(dir, "site.json")
	require.NoError(t, os.WriteFile(site, []byte(`{
		"Driver": {"Type": "sim"},
		"Queue":  {"MaxRunning": 2, "MaxSubmit": 2, "PollInterval": "5ms"},
		"Jobs":   {"JobDirs": ["`+dir+`"]}
	}`), 0644))

	out := &bytes.Buffer{}
	c := NewCLI()
	c.out = out
	c.stat = stats.NilStatsReceiver()
	c.environ = nil
	return c, out, site
}

func TestJobs(t *testing.T) {
	c, out, site := newTestCLI(t)
	require.NoError(t, c.Exec([]string{"jobs", "--config", site}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "EXIT_IENS"))
	assert.True(t, strings.HasPrefix(lines[2], "OK"))
}

func TestRunSucceeds(t *testing.T) {
	c, out, site := newTestCLI(t)
	runs := t.TempDir()
	err := c.Exec([]string{"run", "OK", "OK",
		"--config", site,
		"--members", "0-2",
		"--runpath", filepath.Join(runs, "real-<IENS>"),
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Done")
	assert.DirExists(t, filepath.Join(runs, "real-2"))
}

func TestRunPartialFailure(t *testing.T) {
	c, out, site := newTestCLI(t)
	err := c.Exec([]string{"run", "OK", "EXIT_IENS",
		"--config", site,
		"--members", "0,1",
		"--runpath", filepath.Join(t.TempDir(), "real-<IENS>"),
		"--define", "<PAUSE>=sleep 5",
	})
	require.Error(t, err)
	assert.Equal(t, exitcodes.PartialFailureExitCode, exitcodes.ExitCodeOf(err))
	assert.Contains(t, err.Error(), "failed members 1")
	assert.Contains(t, out.String(), "Fail")
}

func TestRunUnknownJob(t *testing.T) {
	c, _, site := newTestCLI(t)
	err := c.Exec([]string{"run", "NOPE", "--config", site, "--runpath", t.TempDir()})
	assert.Equal(t, exitcodes.ConfigErrorExitCode, exitcodes.ExitCodeOf(err))
}

func TestRunConfigFromEnv(t *testing.T) {
	c, _, site := newTestCLI(t)
	t.Setenv("ENSQ_CONFIG", site)
	t.Setenv("ENSQ_DRY_RUN", "true")
	err := c.Exec([]string{"run", "OK", "--runpath", filepath.Join(t.TempDir(), "r<IENS>")})
	assert.NoError(t, err)
}

func TestStatus(t *testing.T) {
	view := statusView{
		Queue: queue.Snapshot{Counts: map[string]int{"Running": 1, "Done": 1}, Members: 2, MembersDone: 1},
		Members: []queue.MemberStatus{
			{Member: 0, Status: queue.Done, Attempts: 1, RunPath: "/r/0", FailedStep: -1},
			{Member: 1, Status: queue.Running, Attempts: 2, RunPath: "/r/1", FailedStep: -1},
		},
	}
	srv := httptest.NewServer(endpoints.NewServer("", stats.NilStatsReceiver(), func() interface{} { return view }).Handler())
	defer srv.Close()

	c, out, _ := newTestCLI(t)
	require.NoError(t, c.Exec([]string{"status", "--addr", srv.URL}))
	assert.Contains(t, out.String(), "members 1/2 done, nodes: Done=1 Running=1")
	assert.Contains(t, out.String(), "Running")
	assert.Contains(t, out.String(), "/r/1")
}

func TestParseDefines(t *testing.T) {
	subst, err := parseDefines([]string{"ITER=0", "<ECLBASE>=CASE_1"})
	require.NoError(t, err)
	assert.Equal(t, "0", subst["ITER"])
	assert.Equal(t, "CASE_1", subst["ECLBASE"])

	_, err = parseDefines([]string{"=x"})
	assert.Error(t, err)
}

func TestParseMembers(t *testing.T) {
	ms, err := parseMembers("0-2, 5,1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 5}, ms)

	for _, bad := range []string{"", "x", "3-1", "-2"} {
		_, err := parseMembers(bad)
		assert.Error(t, err, bad)
	}
}

func TestStatsFor(t *testing.T) {
	c := NewCLI()
	require.NotNil(t, c.statsFor(""))

	served := c.statsFor("localhost:0")
	served.Counter("queue", "submitCounter").Inc(1)
	var metrics map[string]interface{}
	require.NoError(t, json.Unmarshal(served.Render(false), &metrics))

	c.stat = stats.NilStatsReceiver()
	assert.Equal(t, c.stat, c.statsFor("localhost:0"))
}
