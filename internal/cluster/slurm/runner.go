package slurm

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// CommandRunner runs a scheduler command and returns its stdout. Factored out
// of Cluster so that tests can script command output without a real slurm
// installation.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec, folding stderr into the returned
// error to preserve the scheduler's own diagnostics.
type ExecRunner struct{}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if message := strings.TrimSpace(stderr.String()); message != "" {
			return "", errors.Wrapf(err, "%s: %s", name, message)
		}
		return "", errors.Wrapf(err, "%s %s", name, strings.Join(args, " "))
	}
	return stdout.String(), nil
}
