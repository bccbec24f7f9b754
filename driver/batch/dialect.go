package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/EJahren/ert/driver"
)

// command is one resource-manager invocation.
type command struct {
	name string
	args []string
}

// dialect knows one resource manager's commands and vocabulary.
type dialect interface {
	Name() string
	submit(step driver.Step, queue, resources string) (command, error)
	parseSubmit(out string) (string, error)
	status(jobID string) command
	parseStatus(jobID, out string) driver.Status
	kill(jobID string) command
}

func newDialect(name string) (dialect, error) {
	switch name {
	case "lsf", "LSF":
		return lsf{}, nil
	case "torque", "TORQUE", "pbs", "PBS":
		return torque{}, nil
	}
	return nil, fmt.Errorf("unknown batch dialect %q", name)
}

func outputPath(step driver.Step, name string) string {
	if name == "" {
		return os.DevNull
	}
	return filepath.Join(step.RunPath, name)
}

type lsf struct{}

var bsubJobID = regexp.MustCompile(`Job <(\d+)>`)

func (lsf) Name() string { return "lsf" }

func (lsf) submit(step driver.Step, queue, resources string) (command, error) {
	args := []string{"-J", step.Name, "-cwd", step.RunPath,
		"-o", outputPath(step, step.Stdout), "-e", outputPath(step, step.Stderr)}
	if queue != "" {
		args = append(args, "-q", queue)
	}
	if resources != "" {
		args = append(args, "-R", resources)
	}
	if env := step.EnvAssignments(); len(env) > 0 {
		args = append(args, "env")
		args = append(args, env...)
	}
	args = append(args, step.Executable)
	args = append(args, step.Argv...)
	return command{"bsub", args}, nil
}

func (lsf) parseSubmit(out string) (string, error) {
	m := bsubJobID.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("no job id in bsub output: %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

func (lsf) status(jobID string) command {
	return command{"bjobs", []string{"-noheader", "-o", "jobid stat exit_code", jobID}}
}

func (lsf) parseStatus(jobID, out string) driver.Status {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != jobID {
			continue
		}
		switch fields[1] {
		case "PEND", "PSUSP", "WAIT":
			return driver.PendingStatus()
		case "RUN", "USUSP", "SSUSP", "PROV":
			return driver.RunningStatus()
		case "DONE":
			return driver.DoneStatus(0)
		case "EXIT":
			code := 1
			if len(fields) > 2 {
				if c, err := strconv.Atoi(fields[2]); err == nil && c != 0 {
					code = c
				}
			}
			return driver.DoneStatus(code)
		default:
			return driver.LostStatus("bjobs state " + fields[1])
		}
	}
	return driver.LostStatus("job " + jobID + " not listed by bjobs")
}

func (lsf) kill(jobID string) command {
	return command{"bkill", []string{jobID}}
}

type torque struct{}

func (torque) Name() string { return "torque" }

// submit writes a job script into the run path and hands it to qsub.
func (torque) submit(step driver.Step, queue, resources string) (command, error) {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "cd %s || exit 1\n", driver.ShellQuote(step.RunPath))
	for _, kv := range step.EnvAssignments() {
		i := strings.IndexByte(kv, '=')
		fmt.Fprintf(&b, "export %s=%s\n", kv[:i], driver.ShellQuote(kv[i+1:]))
	}
	fmt.Fprintf(&b, "exec %s\n", step.ShellCommand())

	script := filepath.Join(step.RunPath, fmt.Sprintf("%s.qsub.%d", step.Name, step.StepIndex))
	if err := os.WriteFile(script, []byte(b.String()), 0755); err != nil {
		return command{}, err
	}

	args := []string{"-N", step.Name, "-d", step.RunPath,
		"-o", outputPath(step, step.Stdout), "-e", outputPath(step, step.Stderr)}
	if queue != "" {
		args = append(args, "-q", queue)
	}
	if resources != "" {
		args = append(args, "-l", resources)
	}
	args = append(args, script)
	return command{"qsub", args}, nil
}

func (torque) parseSubmit(out string) (string, error) {
	id := strings.TrimSpace(out)
	if id == "" || strings.ContainsAny(id, " \n") {
		return "", fmt.Errorf("no job id in qsub output: %q", id)
	}
	return id, nil
}

func (torque) status(jobID string) command {
	return command{"qstat", []string{"-f", jobID}}
}

func (torque) parseStatus(jobID, out string) driver.Status {
	attrs := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		i := strings.Index(line, " = ")
		if i < 0 {
			continue
		}
		attrs[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+3:])
	}
	state, ok := attrs["job_state"]
	if !ok {
		return driver.LostStatus("no job_state for " + jobID)
	}
	switch state {
	case "Q", "H", "W", "T", "S":
		return driver.PendingStatus()
	case "R", "E":
		return driver.RunningStatus()
	case "C", "F":
		code, err := strconv.Atoi(attrs["exit_status"])
		if err != nil {
			return driver.LostStatus("no exit_status for completed " + jobID)
		}
		return driver.DoneStatus(code)
	}
	return driver.LostStatus("qstat job_state " + state)
}

func (torque) kill(jobID string) command {
	return command{"qdel", []string{jobID}}
}
