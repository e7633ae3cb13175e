package configuration

import (
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/G-Research/flotilla/pkg/pipeline"
)

type FlotillaConfiguration struct {
	// Cluster selects the submission backend, "slurm" or "local".
	Cluster string
	// LogDir is the directory under which per-run job logs are written,
	// one <runId>/<job>-<attempt>.{out,err} pair per attempt.
	LogDir     string
	Database   DatabaseConfiguration
	Metrics    MetricsConfiguration
	Launcher   LauncherConfiguration
	DefaultJob DefaultJobConfiguration
	Slurm      SlurmConfiguration
	Local      LocalConfiguration
}

type DatabaseConfiguration struct {
	// Path locates the embedded sqlite database holding run state.
	// Defaults to ~/.flotilla/flotilla.db.
	Path string
	// InMemory keeps run state in process memory only. Intended for tests;
	// status, cancel and resume cannot see in-memory runs from another process.
	InMemory bool
}

type MetricsConfiguration struct {
	// Port to serve prometheus metrics and health checks on while a run is
	// active. Zero disables the listener.
	Port uint16
}

type LauncherConfiguration struct {
	// PollInterval is the time between launcher ticks.
	PollInterval time.Duration
	// MaxConcurrency caps how many jobs may be submitted or running at once.
	MaxConcurrency int
	// MaxAttempts is the total number of times a job may be submitted before
	// it is considered permanently failed, unless overridden per job.
	MaxAttempts int
	// RetryBackoffBase is the delay before a job's second attempt; the delay
	// doubles with each further attempt up to RetryBackoffCap.
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
	// CancelCheckInterval is how often the run store is checked for an
	// external cancel request.
	CancelCheckInterval time.Duration
}

// DefaultJobConfiguration supplies job values merged into every manifest,
// below the manifest's own defaults.
type DefaultJobConfiguration struct {
	MaxAttempts int
	Cores       int
	Memory      resource.Quantity
	Runtime     time.Duration
	Queue       string
	Project     string
	Env         map[string]string
}

// AsJobDefaults converts the configured defaults into the manifest-level
// defaults structure understood by pipeline.ApplyDefaults.
func (c DefaultJobConfiguration) AsJobDefaults() pipeline.JobDefaults {
	return pipeline.JobDefaults{
		MaxAttempts: c.MaxAttempts,
		Resources: pipeline.ResourceRequest{
			Cores:   c.Cores,
			Memory:  c.Memory,
			Runtime: metav1.Duration{Duration: c.Runtime},
			Queue:   c.Queue,
			Project: c.Project,
		},
		Env: c.Env,
	}
}

type SlurmConfiguration struct {
	SbatchPath  string
	SqueuePath  string
	SacctPath   string
	ScancelPath string
	// PollRetries is how many times a failed squeue/sacct/scancel invocation
	// is attempted in total before the error is reported.
	PollRetries    uint
	PollRetryDelay time.Duration
}

type LocalConfiguration struct {
	// UseShell runs scripts through "/bin/sh -c" instead of parsing them
	// into an argument vector.
	UseShell bool
	// MaxOutputSize bounds how much of a job's combined output is retained
	// in memory for failure reasons.
	MaxOutputSize int64
}
