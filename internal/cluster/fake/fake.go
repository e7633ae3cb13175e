// Package fake provides an in-memory cluster whose behaviour is scripted per
// job, for exercising the launcher without external processes.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/G-Research/flotilla/internal/cluster"
	"github.com/G-Research/flotilla/internal/common/flotillaerrors"
)

const clusterName = "fake"

// Behaviour scripts how the fake cluster treats one job.
type Behaviour struct {
	// RejectSubmissions makes the first n submissions of the job fail with
	// a *cluster.SubmissionError.
	RejectSubmissions int
	// Phases lists the terminal phase of each attempt in order; attempts
	// beyond the end of the list succeed.
	Phases []cluster.JobPhase
	// PollsUntilTerminal is how many polls report the job running before
	// its terminal phase is revealed.
	PollsUntilTerminal int
	// Reason accompanies failed attempts.
	Reason string
}

type fakeJob struct {
	name      string
	phase     cluster.JobPhase
	reason    string
	pollsLeft int
	finished  bool
}

// Cluster is a scriptable in-memory cluster. The zero behaviour is a job
// that succeeds on its first poll.
type Cluster struct {
	mu         sync.Mutex
	behaviours map[string]Behaviour
	jobs       map[string]*fakeJob
	// submissions records job names in the order they were submitted.
	submissions []string
	attempts    map[string]int
	cancelled   []string
	inFlight    int
	// maxInFlight is the high-water mark of concurrently in-flight jobs,
	// measured from submission to the poll that reveals a terminal phase.
	maxInFlight int
}

func New() *Cluster {
	return &Cluster{
		behaviours: make(map[string]Behaviour),
		jobs:       make(map[string]*fakeJob),
		attempts:   make(map[string]int),
	}
}

// Script sets the behaviour of the named job.
func (c *Cluster) Script(job string, behaviour Behaviour) *Cluster {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behaviours[job] = behaviour
	return c
}

func (c *Cluster) Name() string {
	return clusterName
}

func (c *Cluster) Submit(ctx context.Context, submission *cluster.JobSubmission) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts[submission.Name]++
	attempt := c.attempts[submission.Name]
	behaviour := c.behaviours[submission.Name]

	if attempt <= behaviour.RejectSubmissions {
		return "", errors.WithStack(&cluster.SubmissionError{
			Cluster: clusterName,
			Job:     submission.Name,
			Message: "submission rejected by script",
		})
	}

	phase := cluster.JobSucceeded
	reason := ""
	if attempt <= len(behaviour.Phases) {
		phase = behaviour.Phases[attempt-1]
	}
	if phase == cluster.JobFailed {
		reason = behaviour.Reason
		if reason == "" {
			reason = "failed by script"
		}
	}

	handle := fmt.Sprintf("%s-%d", submission.Name, attempt)
	c.jobs[handle] = &fakeJob{
		name:      submission.Name,
		phase:     phase,
		reason:    reason,
		pollsLeft: behaviour.PollsUntilTerminal,
	}
	c.submissions = append(c.submissions, submission.Name)
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	return handle, nil
}

func (c *Cluster) Poll(ctx context.Context, handle string) (*cluster.JobStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[handle]
	if !ok {
		return nil, errors.WithStack(&flotillaerrors.ErrNotFound{Type: "job", Value: handle})
	}
	if job.pollsLeft > 0 {
		job.pollsLeft--
		return &cluster.JobStatus{Phase: cluster.JobRunning}, nil
	}
	if !job.finished {
		job.finished = true
		c.inFlight--
	}
	return &cluster.JobStatus{Phase: job.phase, Reason: job.reason}, nil
}

func (c *Cluster) Cancel(ctx context.Context, handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[handle]
	if !ok {
		return errors.WithStack(&flotillaerrors.ErrNotFound{Type: "job", Value: handle})
	}
	c.cancelled = append(c.cancelled, job.name)
	if !job.finished {
		job.finished = true
		job.phase = cluster.JobCancelled
		job.reason = ""
		c.inFlight--
	}
	return nil
}

// SubmissionOrder returns the job names in the order they were submitted,
// including repeated attempts.
func (c *Cluster) SubmissionOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.submissions...)
}

// Attempts returns how many times the named job was submitted.
func (c *Cluster) Attempts(job string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[job]
}

// Cancelled returns the names of jobs whose handles were cancelled.
func (c *Cluster) Cancelled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.cancelled...)
}

// MaxInFlight returns the highest number of jobs that were in flight at once.
func (c *Cluster) MaxInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}
