package flotilla

import (
	"fmt"

	"github.com/pkg/errors"
)

// Cancel asks the launcher owning the given run to abort it. The request is
// recorded in the run store; the launcher notices it on its next check and
// cancels its in-flight jobs on the cluster.
func (a *App) Cancel(runId string) error {
	store, closeStore, err := a.openRunStore()
	if err != nil {
		return err
	}
	defer closeStore()

	run, err := store.GetRun(runId)
	if err != nil {
		return err
	}
	if run.Result != "" {
		return errors.Errorf("run %s already finished with result %s", runId, run.Result)
	}

	fmt.Fprintf(a.Out, "Requesting cancellation of run %s\n", runId)
	if err := store.RequestCancel(runId); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Cancellation requested; the launcher will stop the run on its next check\n")
	return nil
}
