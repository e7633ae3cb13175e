package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/flotilla/internal/common/flotillaerrors"
)

// InMemoryRunStore keeps run state in process memory. It backs runs started
// with an in-memory database and repository tests; state is lost when the
// process exits, so flotilla status and --resume cannot see such runs.
type InMemoryRunStore struct {
	lock    sync.RWMutex
	runs    map[string]*Run
	jobRuns map[string]map[string]*JobRun
}

func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{
		runs:    map[string]*Run{},
		jobRuns: map[string]map[string]*JobRun{},
	}
}

func (s *InMemoryRunStore) CreateRun(run *Run) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.runs[run.RunId]; ok {
		return errors.WithStack(&flotillaerrors.ErrAlreadyExists{Type: "run", Value: run.RunId})
	}
	copied := *run
	s.runs[run.RunId] = &copied
	s.jobRuns[run.RunId] = map[string]*JobRun{}
	return nil
}

func (s *InMemoryRunStore) FinishRun(runId string, result string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	run, ok := s.runs[runId]
	if !ok {
		return errors.WithStack(&flotillaerrors.ErrNotFound{Type: "run", Value: runId})
	}
	run.Result = result
	run.Finished = time.Now()
	return nil
}

func (s *InMemoryRunStore) GetRun(runId string) (*Run, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	run, ok := s.runs[runId]
	if !ok {
		return nil, errors.WithStack(&flotillaerrors.ErrNotFound{Type: "run", Value: runId})
	}
	copied := *run
	return &copied, nil
}

func (s *InMemoryRunStore) UpsertJobRun(jobRun *JobRun) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	jobRuns, ok := s.jobRuns[jobRun.RunId]
	if !ok {
		jobRuns = map[string]*JobRun{}
		s.jobRuns[jobRun.RunId] = jobRuns
	}
	copied := *jobRun
	jobRuns[jobRun.JobName] = &copied
	return nil
}

func (s *InMemoryRunStore) ListJobRuns(runId string) ([]*JobRun, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	jobRuns := make([]*JobRun, 0, len(s.jobRuns[runId]))
	for _, jobRun := range s.jobRuns[runId] {
		copied := *jobRun
		jobRuns = append(jobRuns, &copied)
	}
	sort.Slice(jobRuns, func(i, j int) bool { return jobRuns[i].JobName < jobRuns[j].JobName })
	return jobRuns, nil
}

func (s *InMemoryRunStore) RequestCancel(runId string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	run, ok := s.runs[runId]
	if !ok {
		return errors.WithStack(&flotillaerrors.ErrNotFound{Type: "run", Value: runId})
	}
	run.CancelRequested = true
	return nil
}

func (s *InMemoryRunStore) CancelRequested(runId string) (bool, error) {
	run, err := s.GetRun(runId)
	if err != nil {
		return false, err
	}
	return run.CancelRequested, nil
}

func (s *InMemoryRunStore) SucceededJobs(runId string) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	names := make([]string, 0)
	for _, jobRun := range s.jobRuns[runId] {
		if jobRun.State == jobStateSucceeded {
			names = append(names, jobRun.JobName)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *InMemoryRunStore) Check() error {
	return nil
}
