// Package local runs jobs as child processes on the machine flotilla itself
// runs on. It exists for laptop-scale pipelines and CI, where no resource
// manager is available. The handle for a submitted job is a generated uuid.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/armon/circbuf"
	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"

	"github.com/G-Research/flotilla/internal/cluster"
	"github.com/G-Research/flotilla/internal/common/flotillaerrors"
	"github.com/G-Research/flotilla/internal/configuration"
)

const clusterName = "local"

type Cluster struct {
	config configuration.LocalConfiguration

	mu        sync.Mutex
	processes map[string]*process
}

// process tracks one running attempt. err and output are written by the
// wait goroutine before done is closed and must only be read after done.
type process struct {
	cmd    *exec.Cmd
	output *circbuf.Buffer
	done   chan struct{}
	err    error

	mu        sync.Mutex
	timedOut  bool
	cancelled bool
	runtime   time.Duration
}

func New(config configuration.LocalConfiguration) *Cluster {
	return &Cluster{
		config:    config,
		processes: make(map[string]*process),
	}
}

func (c *Cluster) Name() string {
	return clusterName
}

// Submit starts the job's script as a child process. Failure to start the
// process, e.g. a missing executable, is reported as a rejection.
func (c *Cluster) Submit(ctx context.Context, submission *cluster.JobSubmission) (string, error) {
	cmd, err := c.buildCmd(submission)
	if err != nil {
		return "", errors.WithStack(&cluster.SubmissionError{
			Cluster: clusterName,
			Job:     submission.Name,
			Message: err.Error(),
		})
	}

	output, err := circbuf.NewBuffer(c.config.MaxOutputSize)
	if err != nil {
		return "", errors.WithStack(err)
	}
	closers, err := attachOutput(cmd, submission, output)
	if err != nil {
		return "", err
	}

	if err := cmd.Start(); err != nil {
		closeAll(closers)
		return "", errors.WithStack(&cluster.SubmissionError{
			Cluster: clusterName,
			Job:     submission.Name,
			Message: err.Error(),
		})
	}

	p := &process{
		cmd:     cmd,
		output:  output,
		done:    make(chan struct{}),
		runtime: submission.Resources.Runtime.Duration,
	}

	var timer *time.Timer
	if p.runtime > 0 {
		timer = time.AfterFunc(p.runtime, func() {
			p.mu.Lock()
			p.timedOut = true
			p.mu.Unlock()
			_ = cmd.Process.Kill()
		})
	}

	go func() {
		p.err = cmd.Wait()
		if timer != nil {
			timer.Stop()
		}
		closeAll(closers)
		close(p.done)
	}()

	handle := uuid.NewString()
	c.mu.Lock()
	c.processes[handle] = p
	c.mu.Unlock()
	return handle, nil
}

func (c *Cluster) buildCmd(submission *cluster.JobSubmission) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	if c.config.UseShell {
		// The script runs as a shell command line with the job's args as
		// positional parameters.
		shellArgs := append([]string{"-c", submission.Script, submission.Script}, submission.Args...)
		cmd = exec.Command("/bin/sh", shellArgs...)
	} else {
		args, err := shellwords.Parse(submission.Script)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, errors.New("empty script")
		}
		args = append(args, submission.Args...)
		cmd = exec.Command(args[0], args[1:]...)
	}
	if len(submission.Env) > 0 {
		keys := make([]string, 0, len(submission.Env))
		for k := range submission.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		cmd.Env = os.Environ()
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+submission.Env[k])
		}
	}
	cmd.Dir = submission.Resources.WorkingDirectory
	return cmd, nil
}

// attachOutput wires the process's stdout and stderr to the per-attempt log
// files, teeing both into a shared ring buffer so failure reasons can quote
// the tail of the output.
func attachOutput(cmd *exec.Cmd, submission *cluster.JobSubmission, output *circbuf.Buffer) ([]io.Closer, error) {
	var closers []io.Closer
	stdout := io.Writer(output)
	stderr := io.Writer(output)
	if submission.StdoutPath != "" {
		f, err := createLogFile(submission.StdoutPath)
		if err != nil {
			return nil, err
		}
		closers = append(closers, f)
		stdout = io.MultiWriter(f, output)
	}
	if submission.StderrPath != "" {
		f, err := createLogFile(submission.StderrPath)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		closers = append(closers, f)
		stderr = io.MultiWriter(f, output)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return closers, nil
}

func createLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return f, nil
}

func closeAll(closers []io.Closer) {
	for _, closer := range closers {
		_ = closer.Close()
	}
}

func (c *Cluster) Poll(ctx context.Context, handle string) (*cluster.JobStatus, error) {
	p, err := c.lookup(handle)
	if err != nil {
		return nil, err
	}
	select {
	case <-p.done:
	default:
		return &cluster.JobStatus{Phase: cluster.JobRunning}, nil
	}

	p.mu.Lock()
	timedOut, cancelled := p.timedOut, p.cancelled
	p.mu.Unlock()

	switch {
	case cancelled:
		return &cluster.JobStatus{Phase: cluster.JobCancelled}, nil
	case timedOut:
		return &cluster.JobStatus{
			Phase:  cluster.JobFailed,
			Reason: fmt.Sprintf("killed after exceeding runtime limit of %s", p.runtime),
		}, nil
	case p.err != nil:
		reason := p.err.Error()
		if tail := lastLine(p.output.Bytes()); tail != "" {
			reason += ": " + tail
		}
		return &cluster.JobStatus{Phase: cluster.JobFailed, Reason: reason}, nil
	default:
		return &cluster.JobStatus{Phase: cluster.JobSucceeded}, nil
	}
}

// Cancel kills the process behind the handle. Already finished processes are
// left untouched.
func (c *Cluster) Cancel(ctx context.Context, handle string) error {
	p, err := c.lookup(handle)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.WithStack(err)
	}
	return nil
}

func (c *Cluster) lookup(handle string) (*process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.processes[handle]
	if !ok {
		return nil, errors.WithStack(&flotillaerrors.ErrNotFound{
			Type:  "process",
			Value: handle,
		})
	}
	return p, nil
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
