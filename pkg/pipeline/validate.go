package pipeline

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/G-Research/flotilla/internal/common/flotillaerrors"
)

const maxJobNameLength = 100

// Job names become scheduler job names and filesystem path components,
// so we restrict them to a conservative character set.
var jobNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Validate checks the pipeline for problems that are detectable without
// submitting anything, e.g. missing scripts and duplicate job names.
// All problems found are returned as a single multierror.
// Dependency-related problems (unknown upstreams, cycles) are not checked
// here; those are the responsibility of the dependency graph.
func (p *Pipeline) Validate() error {
	var result *multierror.Error
	if p.Name != "" && !jobNameRegexp.MatchString(p.Name) {
		result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
			Name:    "name",
			Value:   p.Name,
			Message: "must consist of alphanumerics, '_', '.' or '-', and start with an alphanumeric",
		}))
	}
	if len(p.Jobs) == 0 {
		result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
			Name:    "jobs",
			Value:   "",
			Message: "no jobs provided",
		}))
	}

	seen := make(map[string]bool, len(p.Jobs))
	for i, job := range p.Jobs {
		field := fmt.Sprintf("jobs[%d]", i)
		if job.Name == "" {
			result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
				Name:    field + ".name",
				Value:   job.Name,
				Message: "not provided",
			}))
			continue
		}
		if !jobNameRegexp.MatchString(job.Name) {
			result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
				Name:    field + ".name",
				Value:   job.Name,
				Message: "must consist of alphanumerics, '_', '.' or '-', and start with an alphanumeric",
			}))
		}
		if len(job.Name) > maxJobNameLength {
			result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
				Name:    field + ".name",
				Value:   job.Name,
				Message: fmt.Sprintf("must be at most %d characters", maxJobNameLength),
			}))
		}
		if seen[job.Name] {
			result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrAlreadyExists{
				Type:  "job",
				Value: job.Name,
			}))
		}
		seen[job.Name] = true

		if job.Script == "" {
			result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
				Name:    field + ".script",
				Value:   job.Script,
				Message: "not provided",
			}))
		}
		if job.MaxAttempts < 0 {
			result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
				Name:    field + ".maxAttempts",
				Value:   job.MaxAttempts,
				Message: "must not be negative",
			}))
		}
		if job.Resources.Cores < 0 {
			result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
				Name:    field + ".resources.cores",
				Value:   job.Resources.Cores,
				Message: "must not be negative",
			}))
		}
		if job.Resources.Memory.Sign() < 0 {
			result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
				Name:    field + ".resources.memory",
				Value:   job.Resources.Memory.String(),
				Message: "must not be negative",
			}))
		}
		if job.Resources.Runtime.Duration < 0 {
			result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
				Name:    field + ".resources.runtime",
				Value:   job.Resources.Runtime.Duration.String(),
				Message: "must not be negative",
			}))
		}
		for _, upstream := range job.DependsOn {
			if upstream == job.Name {
				result = multierror.Append(result, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
					Name:    field + ".dependsOn",
					Value:   upstream,
					Message: "job cannot depend on itself",
				}))
			}
		}
	}
	return result.ErrorOrNil()
}
