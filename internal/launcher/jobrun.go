package launcher

import (
	"time"

	"github.com/G-Research/flotilla/pkg/pipeline"
)

// JobRun binds a job to its live state within a run. JobRuns are owned
// exclusively by the launcher goroutine; nothing else mutates them.
type JobRun struct {
	Job   *pipeline.Job
	State JobState
	// Handle identifies the job's current attempt on the cluster. Empty
	// before the first submission.
	Handle string
	// Attempt counts submissions so far, including rejected ones.
	Attempt int
	// NotBefore gates resubmission while the job backs off after a failure.
	NotBefore time.Time
	// Reason records why the job failed or was skipped.
	Reason   string
	Created  time.Time
	Started  time.Time
	Finished time.Time
}

// MaxAttempts is the job's total attempt budget.
func (jr *JobRun) MaxAttempts(fallback int) int {
	if jr.Job.MaxAttempts > 0 {
		return jr.Job.MaxAttempts
	}
	return fallback
}
