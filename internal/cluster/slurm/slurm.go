// Package slurm submits jobs to a slurm cluster by shelling out to the
// scheduler's own command line tools: sbatch to submit, squeue and sacct to
// poll, scancel to cancel. The handle for a submitted job is its slurm job id.
package slurm

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"strings"

	"github.com/avast/retry-go"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/G-Research/flotilla/internal/cluster"
	"github.com/G-Research/flotilla/internal/configuration"
)

const clusterName = "slurm"

// slurmStates maps the job state names reported by squeue and sacct onto
// phases. sacct may suffix CANCELLED with the cancelling uid; callers
// normalise that before the lookup.
var slurmStates = map[string]cluster.JobPhase{
	"PENDING":       cluster.JobPending,
	"CONFIGURING":   cluster.JobPending,
	"REQUEUED":      cluster.JobPending,
	"REQUEUE_FED":   cluster.JobPending,
	"REQUEUE_HOLD":  cluster.JobPending,
	"RESV_DEL_HOLD": cluster.JobPending,
	"SPECIAL_EXIT":  cluster.JobPending,

	"RUNNING":    cluster.JobRunning,
	"COMPLETING": cluster.JobRunning,
	"SUSPENDED":  cluster.JobRunning,
	"RESIZING":   cluster.JobRunning,
	"SIGNALING":  cluster.JobRunning,
	"STAGE_OUT":  cluster.JobRunning,

	"COMPLETED": cluster.JobSucceeded,

	"FAILED":        cluster.JobFailed,
	"BOOT_FAIL":     cluster.JobFailed,
	"NODE_FAIL":     cluster.JobFailed,
	"OUT_OF_MEMORY": cluster.JobFailed,
	"DEADLINE":      cluster.JobFailed,
	"TIMEOUT":       cluster.JobFailed,
	"PREEMPTED":     cluster.JobFailed,

	"CANCELLED": cluster.JobCancelled,
}

type Cluster struct {
	config configuration.SlurmConfiguration
	runner CommandRunner
}

func New(config configuration.SlurmConfiguration) *Cluster {
	return NewWithRunner(config, &ExecRunner{})
}

func NewWithRunner(config configuration.SlurmConfiguration, runner CommandRunner) *Cluster {
	return &Cluster{config: config, runner: runner}
}

func (c *Cluster) Name() string {
	return clusterName
}

// Submit runs sbatch and returns the allocated job id. Submission is not
// retried: a failed sbatch must surface to the caller, which owns the
// attempt budget.
func (c *Cluster) Submit(ctx context.Context, submission *cluster.JobSubmission) (string, error) {
	out, err := c.runner.Run(ctx, c.config.SbatchPath, sbatchArgs(submission)...)
	if err != nil {
		var exitErr *exec.ExitError
		if ctx.Err() == nil && errors.As(err, &exitErr) {
			return "", errors.WithStack(&cluster.SubmissionError{
				Cluster: clusterName,
				Job:     submission.Name,
				Message: err.Error(),
			})
		}
		return "", err
	}
	// With --parsable sbatch prints "<jobid>" or "<jobid>;<cluster>".
	handle := strings.TrimSpace(out)
	if i := strings.IndexByte(handle, ';'); i >= 0 {
		handle = handle[:i]
	}
	if handle == "" {
		return "", errors.Errorf("sbatch exited successfully but returned no job id for job %q", submission.Name)
	}
	return handle, nil
}

func sbatchArgs(submission *cluster.JobSubmission) []string {
	args := []string{
		"--parsable",
		fmt.Sprintf("--job-name=%s-%s", submission.RunId, submission.Name),
	}
	if submission.StdoutPath != "" {
		args = append(args, "--output="+submission.StdoutPath)
	}
	if submission.StderrPath != "" {
		args = append(args, "--error="+submission.StderrPath)
	}
	resources := submission.Resources
	if resources.Cores > 0 {
		args = append(args, fmt.Sprintf("--cpus-per-task=%d", resources.Cores))
	}
	if !resources.Memory.IsZero() {
		args = append(args, fmt.Sprintf("--mem=%dM", resources.Memory.Value()/(1024*1024)))
	}
	if resources.Runtime.Duration > 0 {
		args = append(args, fmt.Sprintf("--time=%d", int64(math.Ceil(resources.Runtime.Duration.Minutes()))))
	}
	if resources.Queue != "" {
		args = append(args, "--partition="+resources.Queue)
	}
	if resources.Project != "" {
		args = append(args, "--account="+resources.Project)
	}
	if resources.WorkingDirectory != "" {
		args = append(args, "--chdir="+resources.WorkingDirectory)
	}
	if len(submission.Env) > 0 {
		keys := make([]string, 0, len(submission.Env))
		for k := range submission.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		export := "ALL"
		for _, k := range keys {
			export += fmt.Sprintf(",%s=%s", k, submission.Env[k])
		}
		args = append(args, "--export="+export)
	}
	command := append([]string{submission.Script}, submission.Args...)
	return append(args, "--wrap="+shellquote.Join(command...))
}

// Poll asks squeue for the job's state and falls back to sacct once the job
// has left the queue. Scheduler commands fail transiently under load, so the
// whole lookup is retried.
func (c *Cluster) Poll(ctx context.Context, handle string) (*cluster.JobStatus, error) {
	var status *cluster.JobStatus
	err := retry.Do(
		func() error {
			s, err := c.poll(ctx, handle)
			if err != nil {
				return err
			}
			status = s
			return nil
		},
		retry.Attempts(c.config.PollRetries),
		retry.Delay(c.config.PollRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Cluster) poll(ctx context.Context, handle string) (*cluster.JobStatus, error) {
	out, err := c.runner.Run(ctx, c.config.SqueuePath, "--job="+handle, "--noheader", "--format=%T")
	if err == nil {
		if state := strings.TrimSpace(out); state != "" {
			return statusFromState(state, "")
		}
		// No output: the job has left the queue, ask accounting.
	} else if !strings.Contains(err.Error(), "Invalid job id specified") {
		return nil, err
	}
	return c.pollAccounting(ctx, handle)
}

func (c *Cluster) pollAccounting(ctx context.Context, handle string) (*cluster.JobStatus, error) {
	out, err := c.runner.Run(ctx, c.config.SacctPath,
		"--jobs="+handle, "--noheader", "--parsable2", "--format=State,ExitCode")
	if err != nil {
		return nil, err
	}
	// The first line is the job allocation; later lines are its steps.
	line := ""
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if line == "" {
		// Accounting lags briefly behind submission; report the job pending
		// and let a later poll resolve it.
		return &cluster.JobStatus{Phase: cluster.JobPending}, nil
	}
	fields := strings.SplitN(line, "|", 2)
	state := fields[0]
	exitCode := ""
	if len(fields) > 1 {
		exitCode = fields[1]
	}
	return statusFromState(state, exitCode)
}

func statusFromState(state, exitCode string) (*cluster.JobStatus, error) {
	normalised := state
	if strings.HasPrefix(normalised, "CANCELLED") {
		normalised = "CANCELLED"
	}
	phase, ok := slurmStates[normalised]
	if !ok {
		return nil, errors.Errorf("unrecognised slurm job state %q", state)
	}
	status := &cluster.JobStatus{Phase: phase}
	if phase == cluster.JobFailed {
		status.Reason = fmt.Sprintf("slurm reported %s", state)
		if exitCode != "" && exitCode != "0:0" {
			status.Reason += fmt.Sprintf(", exit code %s", exitCode)
		}
	}
	return status, nil
}

// Cancel runs scancel. Cancelling an already finished job is a no-op for
// slurm, so this is safe to call on any handle.
func (c *Cluster) Cancel(ctx context.Context, handle string) error {
	return retry.Do(
		func() error {
			_, err := c.runner.Run(ctx, c.config.ScancelPath, handle)
			return err
		},
		retry.Attempts(c.config.PollRetries),
		retry.Delay(c.config.PollRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}
