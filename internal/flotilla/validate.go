package flotilla

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/G-Research/flotilla/internal/common/util"
)

// Validate loads each manifest, applies the configured job defaults and
// checks it the same way flotilla run would, printing the planned submission
// order. With printManifest set, the fully defaulted manifest is printed as
// YAML instead of the plan. All manifests are checked even if an earlier one
// is invalid.
func (a *App) Validate(manifestPaths []string, printManifest bool) error {
	var result *multierror.Error
	for _, path := range manifestPaths {
		if err := a.validateManifest(path, printManifest); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (a *App) validateManifest(path string, printManifest bool) error {
	p, g, _, err := a.loadPipeline(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s: pipeline %s is valid (%d jobs)\n", path, p.Name, g.Size())

	if printManifest {
		content, err := yaml.Marshal(p)
		if err != nil {
			return errors.WithStack(err)
		}
		fmt.Fprintf(a.Out, "%s", content)
		return nil
	}

	tsb := util.NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	tsb.Writef("Order\tJob\tDepends on\tCores\tMemory\tRuntime\n")
	for i, name := range g.TopologicalOrder() {
		job, _ := g.Job(name)
		tsb.Writef("%d\t%s\t%s\t%d\t%s\t%s\n",
			i+1, name, strings.Join(job.DependsOn, ", "),
			job.Resources.Cores, job.Resources.Memory.String(), job.Resources.Runtime.Duration)
	}
	fmt.Fprint(a.Out, tsb.String())
	return nil
}
