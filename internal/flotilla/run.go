package flotilla

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/flotilla/internal/common"
	"github.com/G-Research/flotilla/internal/common/health"
	"github.com/G-Research/flotilla/internal/common/logging"
	"github.com/G-Research/flotilla/internal/common/task"
	"github.com/G-Research/flotilla/internal/common/util"
	"github.com/G-Research/flotilla/internal/launcher"
	"github.com/G-Research/flotilla/internal/repository"
)

// RunConfig holds the per-invocation options of flotilla run.
type RunConfig struct {
	ManifestPath string
	// ResumeRunId seeds the new run with the jobs that succeeded in an
	// earlier run, so only the remainder of the pipeline is executed.
	ResumeRunId string
	// Timeout bounds the whole run; on expiry in-flight jobs are cancelled
	// and the run is reported as cancelled. Zero means no limit.
	Timeout time.Duration
}

// Run executes the pipeline described by the manifest until every job is in
// a terminal state, and returns a non-nil error if the run ends with any
// result other than success.
func (a *App) Run(ctx context.Context, runConfig *RunConfig) error {
	config := a.Params.Config

	p, g, manifestHash, err := a.loadPipeline(runConfig.ManifestPath)
	if err != nil {
		return err
	}

	clstr, err := a.newCluster()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openRunStore()
	if err != nil {
		return err
	}
	defer closeStore()

	var succeeded []string
	if runConfig.ResumeRunId != "" {
		succeeded, err = store.SucceededJobs(runConfig.ResumeRunId)
		if err != nil {
			return errors.WithMessagef(err, "cannot resume run %s", runConfig.ResumeRunId)
		}
		log.Infof("resuming run %s: %d jobs already succeeded", runConfig.ResumeRunId, len(succeeded))
	}

	runId := util.NewULID()
	err = store.CreateRun(&repository.Run{
		RunId:        runId,
		Pipeline:     p.Name,
		ManifestHash: manifestHash,
		Cluster:      clstr.Name(),
		Started:      time.Now(),
	})
	if err != nil {
		return err
	}

	startupCompleteCheck := health.NewStartupCompleteChecker()
	if config.Metrics.Port != 0 {
		healthChecks := health.NewMultiChecker(startupCompleteCheck)
		healthChecks.Add(store)
		shutdownMetrics := common.ServeMetrics(config.Metrics.Port, healthChecks)
		defer shutdownMetrics()
	}

	l := launcher.New(config.Launcher, clstr, store, g, runId, config.LogDir)
	l.MarkSucceeded(succeeded)

	// Watch the store for a cancel request from another process. With an
	// in-memory store no other process can see the run, so there is nothing
	// to watch.
	taskManager := task.NewBackgroundTaskManager(launcher.MetricsPrefix)
	if !config.Database.InMemory {
		taskManager.Register(func() {
			cancelled, err := store.CancelRequested(runId)
			if err != nil {
				log.Warnf("error checking for a cancel request: %s", err)
				return
			}
			if cancelled {
				l.RequestCancel("cancel requested")
			}
		}, config.Launcher.CancelCheckInterval, "cancel_check")
	}
	defer taskManager.StopAll(2 * time.Second)

	if runConfig.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runConfig.Timeout)
		defer cancel()
	}

	startupCompleteCheck.MarkComplete()
	summary, err := l.Run(ctx)
	if err != nil {
		return err
	}

	if err := store.FinishRun(runId, summary.Result); err != nil {
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Errorf("error recording the result of run %s", runId)
	}

	a.printSummary(summary)
	if summary.Result != launcher.ResultSuccess {
		return errors.Errorf("run %s finished with result %s", runId, summary.Result)
	}
	return nil
}

func (a *App) printSummary(summary *launcher.Summary) {
	fmt.Fprintf(a.Out, "\nRun %s finished: %s in %s\n", summary.RunId, summary.Result, summary.Duration.Round(time.Second))

	tsb := util.NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	tsb.Writef("Job\tState\tAttempts\tReason\n")
	for _, jr := range summary.Jobs {
		tsb.Writef("%s\t%s\t%d\t%s\n", jr.Job.Name, jr.State, jr.Attempt, jr.Reason)
	}
	fmt.Fprint(a.Out, tsb.String())
}
