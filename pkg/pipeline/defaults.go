package pipeline

import (
	"github.com/G-Research/flotilla/internal/common/util"
)

// ApplyDefaults merges base (typically from application config) into the
// pipeline's own defaults, then merges the combined defaults into every job.
// Per-job values always win over pipeline defaults, which win over base.
func (p *Pipeline) ApplyDefaults(base JobDefaults) {
	defaults := p.Defaults
	if defaults.MaxAttempts == 0 {
		defaults.MaxAttempts = base.MaxAttempts
	}
	defaults.Resources = defaults.Resources.withDefaults(base.Resources)
	defaults.Env = util.MergeMaps(base.Env, defaults.Env)
	p.Defaults = defaults

	for _, job := range p.Jobs {
		if job.MaxAttempts == 0 {
			job.MaxAttempts = defaults.MaxAttempts
		}
		job.Resources = job.Resources.withDefaults(defaults.Resources)
		job.Env = util.MergeMaps(defaults.Env, job.Env)
	}
}
