package repository

import (
	"time"
)

// Run is the persisted record of a single pipeline run.
type Run struct {
	RunId           string
	Pipeline        string
	ManifestHash    string
	Cluster         string
	Result          string
	CancelRequested bool
	Started         time.Time
	Finished        time.Time
}

// JobRun is the persisted state of one job within a run. It is written every
// time the launcher changes the job's state, so a concurrent flotilla status
// invocation sees at most one poll interval of lag.
type JobRun struct {
	RunId    string
	JobName  string
	State    string
	Handle   string
	Attempt  int
	Reason   string
	Created  time.Time
	Started  time.Time
	Finished time.Time
}

// RunStore persists runs and their job state. Implementations must be safe
// for concurrent use; the launcher writes from its own goroutine while the
// metrics server and other flotilla processes (status, cancel) read.
type RunStore interface {
	// CreateRun records a new run. The run id must not already exist.
	CreateRun(run *Run) error
	// FinishRun stamps the run with its final result and finish time.
	FinishRun(runId string, result string) error
	// GetRun returns the run with the given id, or flotillaerrors.ErrNotFound.
	GetRun(runId string) (*Run, error)
	// UpsertJobRun inserts or replaces the state of a job within a run.
	UpsertJobRun(jobRun *JobRun) error
	// ListJobRuns returns all job state for a run, ordered by job name.
	ListJobRuns(runId string) ([]*JobRun, error)
	// RequestCancel marks the run as cancelled so that the launcher owning it
	// stops submitting and cancels its in-flight jobs on its next tick.
	RequestCancel(runId string) error
	// CancelRequested reports whether a cancellation has been requested.
	CancelRequested(runId string) (bool, error)
	// SucceededJobs returns the names of jobs that succeeded in the given run,
	// ordered by job name. Used to seed a resumed run.
	SucceededJobs(runId string) ([]string, error)
	// Check returns nil if the store is reachable.
	Check() error
}
