package flotilla

import (
	"fmt"
	"time"

	"github.com/G-Research/flotilla/internal/common/util"
)

// Status prints the recorded state of a run and of every job in it. While
// the run is still active the state is at most one persist interval old.
func (a *App) Status(runId string) error {
	store, closeStore, err := a.openRunStore()
	if err != nil {
		return err
	}
	defer closeStore()

	run, err := store.GetRun(runId)
	if err != nil {
		return err
	}
	jobRuns, err := store.ListJobRuns(runId)
	if err != nil {
		return err
	}

	result := run.Result
	if result == "" {
		result = "IN PROGRESS"
		if run.CancelRequested {
			result = "CANCEL REQUESTED"
		}
	}
	fmt.Fprintf(a.Out, "Run %s: pipeline %s on cluster %s\n", run.RunId, run.Pipeline, run.Cluster)
	fmt.Fprintf(a.Out, "Started %s, %s\n", formatTime(run.Started), result)

	tsb := util.NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	tsb.Writef("Job\tState\tAttempts\tStarted\tFinished\tReason\n")
	for _, jobRun := range jobRuns {
		tsb.Writef("%s\t%s\t%d\t%s\t%s\t%s\n",
			jobRun.JobName, jobRun.State, jobRun.Attempt,
			formatTime(jobRun.Started), formatTime(jobRun.Finished), jobRun.Reason)
	}
	fmt.Fprint(a.Out, tsb.String())
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
