package batch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Commander runs one resource-manager command and returns its stdout.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// NewExecCommander runs commands on the local machine, each bounded by timeout.
func NewExecCommander(timeout time.Duration) Commander {
	return &execCommander{timeout: timeout}
}

type execCommander struct {
	timeout time.Duration
}

func (c *execCommander) Run(ctx context.Context, name string, args ...string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return stdout.String(), fmt.Errorf("%s timed out: %v", name, ctx.Err())
		}
		return stdout.String(), fmt.Errorf("%s failed: %v: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
