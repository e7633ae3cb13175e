// Package cluster defines the boundary between the launcher and the systems
// that actually execute jobs. Implementations submit a job, poll its status
// by an opaque handle, and cancel it; everything else (retries, dependencies,
// bookkeeping) is the launcher's business.
package cluster

import (
	"context"
	"fmt"

	"github.com/G-Research/flotilla/pkg/pipeline"
)

// JobPhase is the coarse-grained status of a job as reported by a cluster.
type JobPhase string

const (
	JobPending   JobPhase = "Pending"
	JobRunning   JobPhase = "Running"
	JobSucceeded JobPhase = "Succeeded"
	JobFailed    JobPhase = "Failed"
	JobCancelled JobPhase = "Cancelled"
)

// IsTerminal returns true if no further phase changes can occur.
func (phase JobPhase) IsTerminal() bool {
	return phase == JobSucceeded || phase == JobFailed || phase == JobCancelled
}

// JobSubmission is everything a cluster needs to start one attempt of a job.
type JobSubmission struct {
	// RunId identifies the pipeline run the job belongs to; clusters use it
	// to namespace job names and log files.
	RunId string
	// Name is the job name, unique within the run.
	Name   string
	Script string
	Args   []string
	Env    map[string]string
	// Resources is fully defaulted before submission.
	Resources pipeline.ResourceRequest
	// StdoutPath and StderrPath are where the attempt's output should be
	// written. Empty means the cluster chooses.
	StdoutPath string
	StderrPath string
}

// JobStatus is the result of polling a handle.
type JobStatus struct {
	Phase JobPhase
	// Reason is a human-readable explanation for a failure, when available.
	Reason string
}

// Cluster submits jobs to some execution backend and tracks them by handle.
// A handle is an opaque string, e.g. a slurm job id or a local process id,
// valid until the job reaches a terminal phase.
type Cluster interface {
	// Name identifies the backend, e.g. "slurm".
	Name() string
	// Submit starts one attempt of a job and returns its handle.
	// A *SubmissionError indicates the backend rejected the job; other errors
	// indicate the submission outcome is unknown.
	Submit(ctx context.Context, submission *JobSubmission) (string, error)
	// Poll reports the current status of a previously submitted job.
	Poll(ctx context.Context, handle string) (*JobStatus, error)
	// Cancel stops a previously submitted job. Cancelling a job that already
	// reached a terminal phase is not an error.
	Cancel(ctx context.Context, handle string) error
}

// SubmissionError indicates the cluster rejected a submission, e.g. because
// the resource request is unsatisfiable or a scheduler limit was hit. The
// launcher treats it as a failed attempt of the job rather than as a fault
// of the launcher itself.
type SubmissionError struct {
	Cluster string
	Job     string
	Message string
}

func (err *SubmissionError) Error() string {
	return fmt.Sprintf("cluster %q rejected job %q: %s", err.Cluster, err.Job, err.Message)
}
