package launcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/G-Research/flotilla/pkg/pipeline/graph"
)

// RunContext tracks the state of every job in a run, with a running count of
// jobs per state so summaries and gauges do not rescan the whole table.
// It is not threadsafe and is only ever used from the launcher goroutine.
type RunContext struct {
	graph        *graph.Graph
	state        map[string]*JobRun
	stateSummary map[JobState]int
	// dirty names the jobs whose state has changed since the last persist.
	dirty map[string]bool
}

func NewRunContext(g *graph.Graph, created time.Time) *RunContext {
	rc := &RunContext{
		graph:        g,
		state:        make(map[string]*JobRun, g.Size()),
		stateSummary: make(map[JobState]int, len(allStates)),
		dirty:        make(map[string]bool, g.Size()),
	}
	for _, job := range g.Jobs() {
		rc.state[job.Name] = &JobRun{
			Job:     job,
			State:   JobPending,
			Created: created,
		}
		rc.stateSummary[JobPending]++
		rc.dirty[job.Name] = true
	}
	return rc
}

// Job returns the JobRun for the named job, or nil if unknown.
func (rc *RunContext) Job(name string) *JobRun {
	return rc.state[name]
}

// Jobs returns every JobRun in topological order.
func (rc *RunContext) Jobs() []*JobRun {
	jobs := make([]*JobRun, 0, len(rc.state))
	for _, name := range rc.graph.TopologicalOrder() {
		jobs = append(jobs, rc.state[name])
	}
	return jobs
}

// SetState transitions the named job and marks it dirty. Setting the state a
// job is already in still marks it dirty, since other JobRun fields may have
// changed.
func (rc *RunContext) SetState(name string, state JobState) {
	jr, ok := rc.state[name]
	if !ok {
		return
	}
	if jr.State != state {
		rc.stateSummary[jr.State]--
		rc.stateSummary[state]++
		jr.State = state
	}
	rc.dirty[name] = true
}

// MarkDirty re-queues a job for persistence, e.g. after a failed write.
func (rc *RunContext) MarkDirty(name string) {
	rc.dirty[name] = true
}

// TakeDirty returns the names of jobs changed since the last call and resets
// the dirty set.
func (rc *RunContext) TakeDirty() []string {
	names := make([]string, 0, len(rc.dirty))
	for _, name := range rc.graph.TopologicalOrder() {
		if rc.dirty[name] {
			names = append(names, name)
		}
	}
	rc.dirty = make(map[string]bool, len(rc.state))
	return names
}

// NumberInStates returns how many jobs are in any of the given states.
func (rc *RunContext) NumberInStates(states []JobState) int {
	n := 0
	for _, state := range states {
		n += rc.stateSummary[state]
	}
	return n
}

// StateCounts returns a copy of the per-state job counts.
func (rc *RunContext) StateCounts() map[JobState]int {
	counts := make(map[JobState]int, len(allStates))
	for _, state := range allStates {
		counts[state] = rc.stateSummary[state]
	}
	return counts
}

// Finished returns true once every job is in a terminal state.
func (rc *RunContext) Finished() bool {
	for _, state := range allStates {
		if !state.IsTerminal() && rc.stateSummary[state] > 0 {
			return false
		}
	}
	return true
}

// UpstreamsSucceeded returns true if every upstream of the named job has
// succeeded.
func (rc *RunContext) UpstreamsSucceeded(name string) bool {
	for _, upstream := range rc.graph.Dependencies(name) {
		if rc.state[upstream].State != JobSucceeded {
			return false
		}
	}
	return true
}

// StateSummary renders a one-line per-state count, e.g. for tick logging.
func (rc *RunContext) StateSummary() string {
	first := true
	var summary strings.Builder
	for _, state := range allStates {
		if !first {
			summary.WriteString(", ")
		}
		first = false
		summary.WriteString(fmt.Sprintf("%s: %3d", state, rc.stateSummary[state]))
	}
	return summary.String()
}
