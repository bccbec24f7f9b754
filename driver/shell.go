package driver

import (
	"sort"
	"strings"
)

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellCommand renders the step's invocation as one shell command line.
func (s Step) ShellCommand() string {
	parts := make([]string, 0, len(s.Argv)+1)
	parts = append(parts, ShellQuote(s.Executable))
	for _, a := range s.Argv {
		parts = append(parts, ShellQuote(a))
	}
	return strings.Join(parts, " ")
}

// EnvAssignments returns the step's environment overrides as sorted K=V pairs.
func (s Step) EnvAssignments() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}
