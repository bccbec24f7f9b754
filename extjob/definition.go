// Package extjob holds the installed external jobs and the ordered forward
// model each ensemble member runs.
package extjob

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/EJahren/ert/driver"
)

// Definition describes how to run one external program.
type Definition struct {
	Name       string
	Executable string
	// Args may contain <KEY> placeholders that Render substitutes.
	Args []string
	Env  map[string]string
	// TargetFile, if set, must exist in the run path after a zero exit for
	// the step to count as successful.
	TargetFile string
	// MaxRunning caps how many instances of this job may be in flight at
	// once. Zero means no cap beyond the queue's own.
	MaxRunning int
	// MaxRunningTime is the wall-clock limit of one attempt. Zero means none.
	MaxRunningTime time.Duration
	// Stdout and Stderr name the output files in the run path. Empty means
	// <name>.stdout.<step> and <name>.stderr.<step>.
	Stdout string
	Stderr string
}

// Substitutions maps placeholder keys, without angle brackets, to values.
type Substitutions map[string]string

// Apply replaces every <KEY> in s. Longer keys are substituted first so
// <ITER> never clobbers <ITERATION>.
func (s Substitutions) Apply(in string) string {
	if len(s) == 0 || !strings.Contains(in, "<") {
		return in
	}
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		in = strings.ReplaceAll(in, "<"+k+">", s[k])
	}
	return in
}

// Merge returns a copy of s with other's entries added, other winning on conflict.
func (s Substitutions) Merge(other Substitutions) Substitutions {
	out := make(Substitutions, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Render returns a copy of d with subst applied to its executable, args,
// env values, target file and output names.
func (d Definition) Render(subst Substitutions) Definition {
	r := d.clone()
	r.Executable = subst.Apply(r.Executable)
	for i, a := range r.Args {
		r.Args[i] = subst.Apply(a)
	}
	for k, v := range r.Env {
		r.Env[k] = subst.Apply(v)
	}
	r.TargetFile = subst.Apply(r.TargetFile)
	r.Stdout = subst.Apply(r.Stdout)
	r.Stderr = subst.Apply(r.Stderr)
	return r
}

// Step binds the definition to a member's run path as the stepIndex'th step.
func (d Definition) Step(runPath string, member, stepIndex int) driver.Step {
	stdout, stderr := d.Stdout, d.Stderr
	if stdout == "" {
		stdout = fmt.Sprintf("%s.stdout.%d", d.Name, stepIndex)
	}
	if stderr == "" {
		stderr = fmt.Sprintf("%s.stderr.%d", d.Name, stepIndex)
	}
	return driver.Step{
		Name:       d.Name,
		Executable: d.Executable,
		Argv:       append([]string(nil), d.Args...),
		Env:        copyEnv(d.Env),
		RunPath:    runPath,
		Stdout:     stdout,
		Stderr:     stderr,
		Member:     member,
		StepIndex:  stepIndex,
	}
}

func (d Definition) clone() Definition {
	c := d
	c.Args = append([]string(nil), d.Args...)
	c.Env = copyEnv(d.Env)
	return c
}

func (d Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return NewConfigError("", "", errors.Wrap(ErrInvalid, "empty name"))
	}
	if d.Executable == "" {
		return NewConfigError("", d.Name, errors.Wrap(ErrInvalid, "no executable"))
	}
	if d.MaxRunning < 0 || d.MaxRunningTime < 0 {
		return NewConfigError("", d.Name, errors.Wrap(ErrInvalid, "negative limit"))
	}
	return nil
}

func copyEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	c := make(map[string]string, len(env))
	for k, v := range env {
		c[k] = v
	}
	return c
}
