// Package pipeline defines the declarative manifest format describing a
// pipeline: a named set of jobs with resource requests and upstream
// dependencies. Descriptors are immutable once a run starts.
package pipeline

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/G-Research/flotilla/internal/common"
)

// Pipeline is the root of a manifest.
type Pipeline struct {
	// Name identifies the pipeline, e.g. "covid-prep".
	Name string `json:"name"`
	// Defaults are merged into every job that does not set its own values.
	Defaults JobDefaults `json:"defaults,omitempty"`
	Jobs     []*Job      `json:"jobs"`
}

// JobDefaults holds pipeline-wide defaults for job fields.
type JobDefaults struct {
	Resources   ResourceRequest   `json:"resources,omitempty"`
	MaxAttempts int               `json:"maxAttempts,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// Job is one unit of external work: a script invocation with resource
// requirements and the names of the upstream jobs it depends on.
type Job struct {
	Name   string   `json:"name"`
	Script string   `json:"script"`
	Args   []string `json:"args,omitempty"`
	// Env is added to the job's environment on the cluster.
	Env       map[string]string `json:"env,omitempty"`
	Resources ResourceRequest   `json:"resources,omitempty"`
	// DependsOn lists upstream job names; the job only becomes eligible once
	// every one of them has succeeded.
	DependsOn []string `json:"dependsOn,omitempty"`
	// MaxAttempts is the total number of times the job may be submitted
	// before it is considered permanently failed.
	MaxAttempts int `json:"maxAttempts,omitempty"`
}

// ResourceRequest describes what a job asks the cluster for.
type ResourceRequest struct {
	Cores  int               `json:"cores,omitempty"`
	Memory resource.Quantity `json:"memory,omitempty"`
	// Runtime is the wall-time limit, e.g. "2h".
	Runtime metav1.Duration `json:"runtime,omitempty"`
	// Queue is the cluster queue/partition to submit to.
	Queue string `json:"queue,omitempty"`
	// Project is the accounting project charged for the job.
	Project          string `json:"project,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

// AsComputeResources converts the request into the resource map used for
// capacity accounting.
func (r ResourceRequest) AsComputeResources() common.ComputeResources {
	resources := common.ComputeResources{}
	if r.Cores > 0 {
		resources["cpu"] = resource.MustParse(fmt.Sprintf("%d", r.Cores))
	}
	if !r.Memory.IsZero() {
		resources["memory"] = r.Memory
	}
	return resources
}

func (r ResourceRequest) withDefaults(defaults ResourceRequest) ResourceRequest {
	if r.Cores == 0 {
		r.Cores = defaults.Cores
	}
	if r.Memory.IsZero() {
		r.Memory = defaults.Memory
	}
	if r.Runtime.Duration == 0 {
		r.Runtime = defaults.Runtime
	}
	if r.Queue == "" {
		r.Queue = defaults.Queue
	}
	if r.Project == "" {
		r.Project = defaults.Project
	}
	if r.WorkingDirectory == "" {
		r.WorkingDirectory = defaults.WorkingDirectory
	}
	return r
}
