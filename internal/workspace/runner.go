// ABOUTME: Narrow process runner abstraction for external subprocesses
// ABOUTME: Real implementation shells out via os/exec with combined output

package workspace

import (
	"context"
	"os/exec"
)

// Runner executes an external command in a working directory and
// returns its combined stdout/stderr. The caller bounds execution
// through ctx.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
