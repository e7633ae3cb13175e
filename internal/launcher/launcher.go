package launcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/G-Research/flotilla/internal/cluster"
	"github.com/G-Research/flotilla/internal/common/logging"
	"github.com/G-Research/flotilla/internal/common/util"
	"github.com/G-Research/flotilla/internal/configuration"
	"github.com/G-Research/flotilla/internal/repository"
	"github.com/G-Research/flotilla/pkg/pipeline/graph"
)

// Results of a finished run. Cancellation dominates failure: a run with both
// cancelled and failed jobs reports CANCELLED.
const (
	ResultSuccess        = "SUCCESS"
	ResultPartialFailure = "PARTIAL_FAILURE"
	ResultCancelled      = "CANCELLED"
)

// Summary is the final outcome of a run.
type Summary struct {
	RunId    string
	Result   string
	Duration time.Duration
	// Jobs holds the final state of every job, in topological order.
	Jobs    []*JobRun
	Failed  []string
	Skipped []string
}

// Launcher drives a pipeline run to completion: it submits jobs whose
// upstreams have succeeded, polls in-flight jobs, retries failed attempts
// with exponential backoff and skips jobs whose upstreams failed permanently.
//
// All state transitions happen on the goroutine that calls Run. Other
// goroutines may only call RequestCancel.
type Launcher struct {
	config  configuration.LauncherConfiguration
	cluster cluster.Cluster
	store   repository.RunStore
	runId   string
	logDir  string
	run     *RunContext
	clock   util.Clock
	started time.Time

	cancelRequested int32
	cancelReason    string
	cancelled       bool
}

func New(
	config configuration.LauncherConfiguration,
	clstr cluster.Cluster,
	store repository.RunStore,
	g *graph.Graph,
	runId string,
	logDir string,
) *Launcher {
	return &Launcher{
		config:  config,
		cluster: clstr,
		store:   store,
		runId:   runId,
		logDir:  logDir,
		run:     NewRunContext(g, time.Now()),
		clock:   &util.DefaultClock{},
	}
}

// MarkSucceeded records jobs as already succeeded before the run starts,
// used when resuming an earlier run. Names not present in the graph are
// ignored, so a manifest may change between the original run and the resume.
func (l *Launcher) MarkSucceeded(names []string) {
	for _, name := range names {
		jr := l.run.Job(name)
		if jr == nil {
			continue
		}
		jr.Reason = "succeeded in an earlier run"
		l.run.SetState(name, JobSucceeded)
		log.Infof("job %s already succeeded in an earlier run", name)
	}
}

// RequestCancel asks the launcher to abort the run on its next tick. Safe to
// call from any goroutine.
func (l *Launcher) RequestCancel(reason string) {
	l.cancelReason = reason
	atomic.StoreInt32(&l.cancelRequested, 1)
}

// Run drives the pipeline until every job is in a terminal state, ticking
// every PollInterval. Cancelling ctx aborts the run: in-flight jobs are
// cancelled on the cluster and the run is reported as CANCELLED.
func (l *Launcher) Run(ctx context.Context) (*Summary, error) {
	l.started = l.clock.Now()
	log.Infof("starting run %s: %d jobs on cluster %s", l.runId, l.run.graph.Size(), l.cluster.Name())

	l.tick(ctx)
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()
	for !l.run.Finished() {
		select {
		case <-ctx.Done():
			// The run context is gone, so give cluster cancellations a fresh
			// one with a bounded wait.
			abortCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
			l.cancel(abortCtx, fmt.Sprintf("run aborted: %s", ctx.Err()))
			stop()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
	return l.report(), nil
}

// tick performs one round of poll, skip, submit and persist.
func (l *Launcher) tick(ctx context.Context) {
	start := time.Now()
	defer func() { tickDurationHistogram.Observe(time.Since(start).Seconds()) }()

	if atomic.LoadInt32(&l.cancelRequested) == 1 {
		l.cancel(ctx, l.cancelReason)
		return
	}

	l.pollInFlight(ctx)
	l.cascadeSkips()
	l.submitReady(ctx)
	l.persistDirty()
	l.updateMetrics()
	log.Info(l.run.StateSummary())
}

// pollInFlight polls every submitted or running job and applies the reported
// phases. Poll errors leave the job's state unchanged; the next tick tries
// again.
func (l *Launcher) pollInFlight(ctx context.Context) {
	inFlight := make([]*JobRun, 0)
	for _, jr := range l.run.Jobs() {
		if jr.State.InFlight() {
			inFlight = append(inFlight, jr)
		}
	}
	if len(inFlight) == 0 {
		return
	}

	statuses := make([]*cluster.JobStatus, len(inFlight))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(l.config.MaxConcurrency)
	for i, jr := range inFlight {
		i, jr := i, jr
		g.Go(func() error {
			status, err := l.cluster.Poll(groupCtx, jr.Handle)
			if err != nil {
				log.Warnf("error polling job %s (handle %s): %s", jr.Job.Name, jr.Handle, err)
				return nil
			}
			statuses[i] = status
			return nil
		})
	}
	_ = g.Wait()

	for i, jr := range inFlight {
		if statuses[i] != nil {
			l.applyStatus(jr, statuses[i])
		}
	}
}

func (l *Launcher) applyStatus(jr *JobRun, status *cluster.JobStatus) {
	name := jr.Job.Name
	switch status.Phase {
	case cluster.JobPending:
		// Still queued.
	case cluster.JobRunning:
		if jr.State == JobSubmitted {
			jr.Started = l.clock.Now()
			l.run.SetState(name, JobRunning)
			log.Infof("job %s started (attempt %d)", name, jr.Attempt)
		}
	case cluster.JobSucceeded:
		jr.Finished = l.clock.Now()
		l.run.SetState(name, JobSucceeded)
		log.Infof("job %s succeeded", name)
	case cluster.JobFailed:
		l.handleFailure(jr, status.Reason)
	case cluster.JobCancelled:
		// Cancelled behind our back, e.g. scancel by an operator. Treated
		// like any other failed attempt.
		l.handleFailure(jr, "cancelled on the cluster")
	}
}

// cascadeSkips marks every pending transitive dependent of a permanently
// failed job as skipped.
func (l *Launcher) cascadeSkips() {
	for _, jr := range l.run.Jobs() {
		if jr.State != JobFailed {
			continue
		}
		for _, downstream := range l.run.graph.TransitiveDependents(jr.Job.Name) {
			djr := l.run.Job(downstream)
			if djr.State != JobPending {
				continue
			}
			djr.Reason = fmt.Sprintf("upstream job %s failed", jr.Job.Name)
			djr.Finished = l.clock.Now()
			l.run.SetState(downstream, JobSkipped)
			log.Warnf("skipping job %s: %s", downstream, djr.Reason)
		}
	}
}

// submitReady promotes pending jobs whose upstreams have all succeeded, then
// submits ready jobs in topological order until the concurrency cap is
// reached. Jobs backing off after a failure are held until their NotBefore
// time.
func (l *Launcher) submitReady(ctx context.Context) {
	for _, jr := range l.run.Jobs() {
		if jr.State == JobPending && l.run.UpstreamsSucceeded(jr.Job.Name) {
			l.run.SetState(jr.Job.Name, JobReady)
		}
	}

	now := l.clock.Now()
	inFlight := l.run.NumberInStates([]JobState{JobSubmitted, JobRunning})
	for _, jr := range l.run.Jobs() {
		if inFlight >= l.config.MaxConcurrency {
			break
		}
		if jr.State != JobReady || now.Before(jr.NotBefore) {
			continue
		}

		jr.Attempt++
		submissionsCounter.Inc()
		handle, err := l.cluster.Submit(ctx, l.submission(jr))
		if err != nil {
			// A rejection clearly consumed the attempt; for other errors the
			// outcome is unknown, and retrying an attempt that may also be
			// running is worse than burning budget.
			l.handleFailure(jr, err.Error())
			continue
		}
		jr.Handle = handle
		jr.Reason = ""
		l.run.SetState(jr.Job.Name, JobSubmitted)
		inFlight++
		log.Infof("submitted job %s to %s as %s (attempt %d)", jr.Job.Name, l.cluster.Name(), handle, jr.Attempt)
	}
}

// handleFailure retries the job with backoff, or fails it permanently once
// its attempt budget is spent.
func (l *Launcher) handleFailure(jr *JobRun, reason string) {
	name := jr.Job.Name
	failuresCounter.Inc()

	maxAttempts := jr.MaxAttempts(l.config.MaxAttempts)
	if jr.Attempt >= maxAttempts {
		jr.Reason = reason
		jr.Finished = l.clock.Now()
		l.run.SetState(name, JobFailed)
		log.Errorf("job %s failed permanently after %d attempts: %s", name, jr.Attempt, reason)
		return
	}

	delay := l.backoff(jr.Attempt)
	jr.NotBefore = l.clock.Now().Add(delay)
	jr.Reason = reason
	jr.Handle = ""
	l.run.SetState(name, JobReady)
	retriesCounter.Inc()
	log.Warnf("job %s failed (attempt %d of %d), retrying in %s: %s", name, jr.Attempt, maxAttempts, delay, reason)
}

// backoff returns the delay before the attempt following the given one,
// doubling from RetryBackoffBase up to RetryBackoffCap.
func (l *Launcher) backoff(attempt int) time.Duration {
	delay := l.config.RetryBackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= l.config.RetryBackoffCap {
			return l.config.RetryBackoffCap
		}
	}
	return delay
}

func (l *Launcher) submission(jr *JobRun) *cluster.JobSubmission {
	submission := &cluster.JobSubmission{
		RunId:     l.runId,
		Name:      jr.Job.Name,
		Script:    jr.Job.Script,
		Args:      jr.Job.Args,
		Env:       jr.Job.Env,
		Resources: jr.Job.Resources,
	}
	if l.logDir != "" {
		submission.StdoutPath = filepath.Join(l.logDir, l.runId, fmt.Sprintf("%s-%d.out", jr.Job.Name, jr.Attempt))
		submission.StderrPath = filepath.Join(l.logDir, l.runId, fmt.Sprintf("%s-%d.err", jr.Job.Name, jr.Attempt))
	}
	return submission
}

// persistDirty writes every changed job to the run store. A failed write is
// logged and retried on the next tick; the run carries on from memory.
func (l *Launcher) persistDirty() {
	for _, name := range l.run.TakeDirty() {
		jr := l.run.Job(name)
		if err := l.store.UpsertJobRun(l.jobRunRecord(jr)); err != nil {
			logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Errorf("error persisting state of job %s", name)
			l.run.MarkDirty(name)
		}
	}
}

func (l *Launcher) jobRunRecord(jr *JobRun) *repository.JobRun {
	return &repository.JobRun{
		RunId:    l.runId,
		JobName:  jr.Job.Name,
		State:    string(jr.State),
		Handle:   jr.Handle,
		Attempt:  jr.Attempt,
		Reason:   jr.Reason,
		Created:  jr.Created,
		Started:  jr.Started,
		Finished: jr.Finished,
	}
}

// cancel aborts the run: every in-flight job is cancelled on the cluster and
// every non-terminal job is marked cancelled.
func (l *Launcher) cancel(ctx context.Context, reason string) {
	log.Warnf("cancelling run %s: %s", l.runId, reason)
	l.cancelled = true
	for _, jr := range l.run.Jobs() {
		if jr.State.InFlight() {
			if err := l.cluster.Cancel(ctx, jr.Handle); err != nil {
				log.Warnf("error cancelling job %s (handle %s): %s", jr.Job.Name, jr.Handle, err)
			}
		}
		if !jr.State.IsTerminal() {
			jr.Reason = reason
			jr.Finished = l.clock.Now()
			l.run.SetState(jr.Job.Name, JobCancelled)
		}
	}
	l.persistDirty()
	l.updateMetrics()
	log.Info(l.run.StateSummary())
}

func (l *Launcher) report() *Summary {
	summary := &Summary{
		RunId:    l.runId,
		Duration: l.clock.Now().Sub(l.started),
		Jobs:     l.run.Jobs(),
	}
	for _, jr := range summary.Jobs {
		switch jr.State {
		case JobFailed:
			summary.Failed = append(summary.Failed, jr.Job.Name)
		case JobSkipped:
			summary.Skipped = append(summary.Skipped, jr.Job.Name)
		}
	}
	switch {
	case l.cancelled || l.run.NumberInStates([]JobState{JobCancelled}) > 0:
		summary.Result = ResultCancelled
	case len(summary.Failed)+len(summary.Skipped) > 0:
		summary.Result = ResultPartialFailure
	default:
		summary.Result = ResultSuccess
	}
	return summary
}
