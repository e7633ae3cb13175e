package launcher

// JobState is the launcher's view of where a job is in its lifecycle.
type JobState string

const (
	// JobPending means at least one upstream job has not succeeded yet.
	JobPending JobState = "PENDING"
	// JobReady means every upstream job succeeded and the job is waiting to
	// be submitted, possibly gated by a retry backoff.
	JobReady JobState = "READY"
	// JobSubmitted means the cluster accepted the job but has not started it.
	JobSubmitted JobState = "SUBMITTED"
	JobRunning   JobState = "RUNNING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
	// JobSkipped means the job can never run because an upstream job failed
	// permanently.
	JobSkipped JobState = "SKIPPED"
	// JobCancelled means the run was aborted before the job finished.
	JobCancelled JobState = "CANCELLED"
)

// allStates lists every state in the order used for summaries and gauges.
var allStates = []JobState{
	JobPending,
	JobReady,
	JobSubmitted,
	JobRunning,
	JobSucceeded,
	JobFailed,
	JobSkipped,
	JobCancelled,
}

// IsTerminal returns true if no further transitions can occur.
func (state JobState) IsTerminal() bool {
	switch state {
	case JobSucceeded, JobFailed, JobSkipped, JobCancelled:
		return true
	default:
		return false
	}
}

// InFlight returns true if the job occupies a concurrency slot on the cluster.
func (state JobState) InFlight() bool {
	return state == JobSubmitted || state == JobRunning
}
