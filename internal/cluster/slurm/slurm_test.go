package slurm

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/G-Research/flotilla/internal/cluster"
	"github.com/G-Research/flotilla/internal/configuration"
	"github.com/G-Research/flotilla/pkg/pipeline"
)

type fakeResult struct {
	out string
	err error
}

type fakeRunner struct {
	commands [][]string
	results  []fakeResult
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	r.commands = append(r.commands, append([]string{name}, args...))
	if len(r.results) == 0 {
		return "", nil
	}
	result := r.results[0]
	r.results = r.results[1:]
	return result.out, result.err
}

func testCluster(runner *fakeRunner) *Cluster {
	return NewWithRunner(configuration.SlurmConfiguration{
		SbatchPath:     "sbatch",
		SqueuePath:     "squeue",
		SacctPath:      "sacct",
		ScancelPath:    "scancel",
		PollRetries:    1,
		PollRetryDelay: time.Millisecond,
	}, runner)
}

// realExitError produces a genuine *exec.ExitError for simulating a command
// that ran and exited nonzero.
func realExitError(t *testing.T) error {
	t.Helper()
	err := exec.Command("false").Run()
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	return err
}

func TestSubmit(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{out: "4242\n"}}}
	c := testCluster(runner)

	handle, err := c.Submit(context.Background(), &cluster.JobSubmission{
		RunId:  "01abc",
		Name:   "prep",
		Script: "./prep.sh",
		Args:   []string{"--fast", "two words"},
		Env:    map[string]string{"B": "2", "A": "1"},
		Resources: pipeline.ResourceRequest{
			Cores:            26,
			Memory:           resource.MustParse("400Gi"),
			Runtime:          metav1.Duration{Duration: 12 * time.Hour},
			Queue:            "all.q",
			Project:          "proj_covid",
			WorkingDirectory: "/work",
		},
		StdoutPath: "/logs/prep-1.out",
		StderrPath: "/logs/prep-1.err",
	})
	require.NoError(t, err)
	assert.Equal(t, "4242", handle)

	require.Len(t, runner.commands, 1)
	assert.Equal(t, []string{
		"sbatch",
		"--parsable",
		"--job-name=01abc-prep",
		"--output=/logs/prep-1.out",
		"--error=/logs/prep-1.err",
		"--cpus-per-task=26",
		"--mem=409600M",
		"--time=720",
		"--partition=all.q",
		"--account=proj_covid",
		"--chdir=/work",
		"--export=ALL,A=1,B=2",
		"--wrap=./prep.sh --fast 'two words'",
	}, runner.commands[0])
}

func TestSubmit_MinimalJob(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{out: "7;cluster2\n"}}}
	c := testCluster(runner)

	handle, err := c.Submit(context.Background(), &cluster.JobSubmission{
		RunId:  "run",
		Name:   "a",
		Script: "./a.sh",
	})
	require.NoError(t, err)
	assert.Equal(t, "7", handle)
	assert.Equal(t, []string{
		"sbatch", "--parsable", "--job-name=run-a", "--wrap=./a.sh",
	}, runner.commands[0])
}

func TestSubmit_Rejected(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{err: realExitError(t)}}}
	c := testCluster(runner)

	_, err := c.Submit(context.Background(), &cluster.JobSubmission{RunId: "run", Name: "a", Script: "./a.sh"})
	require.Error(t, err)
	var submissionErr *cluster.SubmissionError
	require.True(t, errors.As(err, &submissionErr))
	assert.Equal(t, "slurm", submissionErr.Cluster)
	assert.Equal(t, "a", submissionErr.Job)
}

func TestSubmit_CommandFailureIsNotRejection(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{err: errors.New("fork/exec sbatch: no such file or directory")}}}
	c := testCluster(runner)

	_, err := c.Submit(context.Background(), &cluster.JobSubmission{RunId: "run", Name: "a", Script: "./a.sh"})
	require.Error(t, err)
	var submissionErr *cluster.SubmissionError
	assert.False(t, errors.As(err, &submissionErr))
}

func TestSubmit_EmptyJobId(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{out: "\n"}}}
	c := testCluster(runner)

	_, err := c.Submit(context.Background(), &cluster.JobSubmission{RunId: "run", Name: "a", Script: "./a.sh"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no job id")
}

func TestPoll_StateFromQueue(t *testing.T) {
	for state, expected := range map[string]cluster.JobPhase{
		"PENDING":     cluster.JobPending,
		"CONFIGURING": cluster.JobPending,
		"RUNNING":     cluster.JobRunning,
		"COMPLETING":  cluster.JobRunning,
	} {
		runner := &fakeRunner{results: []fakeResult{{out: state + "\n"}}}
		c := testCluster(runner)

		status, err := c.Poll(context.Background(), "4242")
		require.NoError(t, err, state)
		assert.Equal(t, expected, status.Phase, state)

		require.Len(t, runner.commands, 1)
		assert.Equal(t, []string{"squeue", "--job=4242", "--noheader", "--format=%T"}, runner.commands[0])
	}
}

func TestPoll_FallsBackToAccounting(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{out: ""}, // job has left the queue
		{out: "COMPLETED|0:0\nCOMPLETED|0:0\n"},
	}}
	c := testCluster(runner)

	status, err := c.Poll(context.Background(), "4242")
	require.NoError(t, err)
	assert.Equal(t, cluster.JobSucceeded, status.Phase)

	require.Len(t, runner.commands, 2)
	assert.Equal(t, []string{
		"sacct", "--jobs=4242", "--noheader", "--parsable2", "--format=State,ExitCode",
	}, runner.commands[1])
}

func TestPoll_InvalidJobIdFallsBackToAccounting(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{err: errors.New("squeue: slurm_load_jobs error: Invalid job id specified")},
		{out: "FAILED|1:0\n"},
	}}
	c := testCluster(runner)

	status, err := c.Poll(context.Background(), "4242")
	require.NoError(t, err)
	assert.Equal(t, cluster.JobFailed, status.Phase)
	assert.Equal(t, "slurm reported FAILED, exit code 1:0", status.Reason)
}

func TestPoll_Timeout(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{out: ""},
		{out: "TIMEOUT|0:0\n"},
	}}
	c := testCluster(runner)

	status, err := c.Poll(context.Background(), "4242")
	require.NoError(t, err)
	assert.Equal(t, cluster.JobFailed, status.Phase)
	assert.Equal(t, "slurm reported TIMEOUT", status.Reason)
}

func TestPoll_CancelledByUser(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{out: ""},
		{out: "CANCELLED by 1000|0:0\n"},
	}}
	c := testCluster(runner)

	status, err := c.Poll(context.Background(), "4242")
	require.NoError(t, err)
	assert.Equal(t, cluster.JobCancelled, status.Phase)
}

func TestPoll_AccountingLagReportsPending(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{out: ""},
		{out: "\n"},
	}}
	c := testCluster(runner)

	status, err := c.Poll(context.Background(), "4242")
	require.NoError(t, err)
	assert.Equal(t, cluster.JobPending, status.Phase)
}

func TestPoll_RetriesTransientFailures(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{err: errors.New("squeue: Socket timed out on send/recv operation")},
		{err: errors.New("squeue: Socket timed out on send/recv operation")},
		{out: "RUNNING\n"},
	}}
	c := NewWithRunner(configuration.SlurmConfiguration{
		SqueuePath:     "squeue",
		PollRetries:    3,
		PollRetryDelay: time.Millisecond,
	}, runner)

	status, err := c.Poll(context.Background(), "4242")
	require.NoError(t, err)
	assert.Equal(t, cluster.JobRunning, status.Phase)
	assert.Len(t, runner.commands, 3)
}

func TestPoll_UnknownState(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{out: "WOBBLY\n"}}}
	c := testCluster(runner)

	_, err := c.Poll(context.Background(), "4242")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognised slurm job state")
}

func TestCancel(t *testing.T) {
	runner := &fakeRunner{}
	c := testCluster(runner)

	err := c.Cancel(context.Background(), "4242")
	require.NoError(t, err)
	require.Len(t, runner.commands, 1)
	assert.Equal(t, []string{"scancel", "4242"}, runner.commands[0])
}

func TestCancel_Retries(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{err: errors.New("scancel: Socket timed out")},
		{out: ""},
	}}
	c := NewWithRunner(configuration.SlurmConfiguration{
		ScancelPath:    "scancel",
		PollRetries:    2,
		PollRetryDelay: time.Millisecond,
	}, runner)

	require.NoError(t, c.Cancel(context.Background(), "4242"))
	assert.Len(t, runner.commands, 2)
}
