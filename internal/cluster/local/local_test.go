package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/G-Research/flotilla/internal/cluster"
	"github.com/G-Research/flotilla/internal/common/flotillaerrors"
	"github.com/G-Research/flotilla/internal/configuration"
	"github.com/G-Research/flotilla/pkg/pipeline"
)

func testCluster() *Cluster {
	return New(configuration.LocalConfiguration{MaxOutputSize: 64 * 1024})
}

func waitForTerminal(t *testing.T, c *Cluster, handle string) *cluster.JobStatus {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, err := c.Poll(context.Background(), handle)
		require.NoError(t, err)
		if status.Phase.IsTerminal() {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal phase")
	return nil
}

func TestSubmit_Success(t *testing.T) {
	c := testCluster()
	handle, err := c.Submit(context.Background(), &cluster.JobSubmission{
		RunId:  "run",
		Name:   "hello",
		Script: "sh",
		Args:   []string{"-c", "echo hello"},
	})
	require.NoError(t, err)

	status := waitForTerminal(t, c, handle)
	assert.Equal(t, cluster.JobSucceeded, status.Phase)
}

func TestSubmit_FailureCapturesOutputTail(t *testing.T) {
	c := testCluster()
	handle, err := c.Submit(context.Background(), &cluster.JobSubmission{
		RunId:  "run",
		Name:   "boom",
		Script: "sh -c 'echo boom >&2; exit 3'",
	})
	require.NoError(t, err)

	status := waitForTerminal(t, c, handle)
	assert.Equal(t, cluster.JobFailed, status.Phase)
	assert.Contains(t, status.Reason, "exit status 3")
	assert.Contains(t, status.Reason, "boom")
}

func TestSubmit_RuntimeLimit(t *testing.T) {
	c := testCluster()
	handle, err := c.Submit(context.Background(), &cluster.JobSubmission{
		RunId:  "run",
		Name:   "slow",
		Script: "sleep 10",
		Resources: pipeline.ResourceRequest{
			Runtime: metav1.Duration{Duration: 100 * time.Millisecond},
		},
	})
	require.NoError(t, err)

	status := waitForTerminal(t, c, handle)
	assert.Equal(t, cluster.JobFailed, status.Phase)
	assert.Contains(t, status.Reason, "runtime limit")
}

func TestCancel(t *testing.T) {
	c := testCluster()
	handle, err := c.Submit(context.Background(), &cluster.JobSubmission{
		RunId:  "run",
		Name:   "slow",
		Script: "sleep 10",
	})
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), handle))

	status := waitForTerminal(t, c, handle)
	assert.Equal(t, cluster.JobCancelled, status.Phase)
}

func TestSubmit_WritesLogFiles(t *testing.T) {
	c := testCluster()
	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "run", "hello-1.out")
	stderrPath := filepath.Join(dir, "run", "hello-1.err")

	handle, err := c.Submit(context.Background(), &cluster.JobSubmission{
		RunId:      "run",
		Name:       "hello",
		Script:     "sh",
		Args:       []string{"-c", "echo out; echo err >&2"},
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
	})
	require.NoError(t, err)
	waitForTerminal(t, c, handle)

	stdout, err := os.ReadFile(stdoutPath)
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(stdout))

	stderr, err := os.ReadFile(stderrPath)
	require.NoError(t, err)
	assert.Equal(t, "err\n", string(stderr))
}

func TestSubmit_EnvironmentPassedToJob(t *testing.T) {
	c := New(configuration.LocalConfiguration{UseShell: true, MaxOutputSize: 64 * 1024})
	stdoutPath := filepath.Join(t.TempDir(), "env.out")

	handle, err := c.Submit(context.Background(), &cluster.JobSubmission{
		RunId:      "run",
		Name:       "env",
		Script:     `echo "$GREETING"`,
		Env:        map[string]string{"GREETING": "hello from flotilla"},
		StdoutPath: stdoutPath,
	})
	require.NoError(t, err)

	status := waitForTerminal(t, c, handle)
	assert.Equal(t, cluster.JobSucceeded, status.Phase)

	stdout, err := os.ReadFile(stdoutPath)
	require.NoError(t, err)
	assert.Equal(t, "hello from flotilla\n", string(stdout))
}

func TestSubmit_MissingExecutableIsRejection(t *testing.T) {
	c := testCluster()
	_, err := c.Submit(context.Background(), &cluster.JobSubmission{
		RunId:  "run",
		Name:   "ghost",
		Script: "/does/not/exist.sh",
	})
	require.Error(t, err)
	var submissionErr *cluster.SubmissionError
	require.True(t, errors.As(err, &submissionErr))
	assert.Equal(t, "local", submissionErr.Cluster)
	assert.Equal(t, "ghost", submissionErr.Job)
}

func TestPoll_UnknownHandle(t *testing.T) {
	c := testCluster()
	_, err := c.Poll(context.Background(), "not-a-handle")
	require.Error(t, err)
	var notFound *flotillaerrors.ErrNotFound
	assert.True(t, errors.As(err, &notFound))
}
