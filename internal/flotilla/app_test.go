package flotilla

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/flotilla/internal/common/flotillaerrors"
	"github.com/G-Research/flotilla/internal/configuration"
)

const smokeManifest = `
name: smoke
jobs:
  - name: first
    script: echo first step
  - name: second
    script: echo second step
    dependsOn:
      - first
`

const failingManifest = `
name: flaky
jobs:
  - name: ok
    script: echo fine
  - name: boom
    script: exit 7
  - name: downstream
    script: echo never runs
    dependsOn:
      - boom
`

func TestRun_LocalPipelineSucceeds(t *testing.T) {
	config := testConfig()
	config.LogDir = t.TempDir()
	app, out := testApp(config)
	path := writeManifest(t, smokeManifest)

	err := app.Run(context.Background(), &RunConfig{ManifestPath: path})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "SUCCESS")
	assert.Contains(t, out.String(), "first")
	assert.Contains(t, out.String(), "second")

	logs, err := filepath.Glob(filepath.Join(config.LogDir, "*", "first-1.out"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	content, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	assert.Equal(t, "first step\n", string(content))
}

func TestRun_FailingJobSkipsDownstreamAndReturnsError(t *testing.T) {
	config := testConfig()
	app, out := testApp(config)
	path := writeManifest(t, failingManifest)

	err := app.Run(context.Background(), &RunConfig{ManifestPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PARTIAL_FAILURE")

	assert.Contains(t, out.String(), "FAILED")
	assert.Contains(t, out.String(), "SKIPPED")
	assert.Contains(t, out.String(), "upstream job boom failed")
}

func TestRun_InvalidManifest(t *testing.T) {
	config := testConfig()
	app, _ := testApp(config)
	path := writeManifest(t, `
name: broken
jobs:
  - name: twin
    script: echo one
  - name: twin
    script: echo two
`)

	err := app.Run(context.Background(), &RunConfig{ManifestPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestValidate_PrintsPlanInTopologicalOrder(t *testing.T) {
	config := testConfig()
	app, out := testApp(config)
	path := writeManifest(t, smokeManifest)

	require.NoError(t, app.Validate([]string{path}, false))

	output := out.String()
	assert.Contains(t, output, "pipeline smoke is valid (2 jobs)")
	assert.Contains(t, output, "Order")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("first")), bytes.Index(out.Bytes(), []byte("second")))
}

func TestValidate_PrintManifestShowsAppliedDefaults(t *testing.T) {
	config := testConfig()
	config.DefaultJob.Cores = 2
	app, out := testApp(config)
	path := writeManifest(t, smokeManifest)

	require.NoError(t, app.Validate([]string{path}, true))
	assert.Contains(t, out.String(), "name: smoke")
	assert.Contains(t, out.String(), "cores: 2")
}

func TestValidate_CollectsErrorsAcrossManifests(t *testing.T) {
	config := testConfig()
	app, out := testApp(config)
	good := writeManifest(t, smokeManifest)
	bad := writeManifest(t, "name: empty\njobs: []\n")

	err := app.Validate([]string{bad, good}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no jobs provided")
	// The valid manifest is still reported.
	assert.Contains(t, out.String(), "pipeline smoke is valid")
}

func TestStatus_UnknownRun(t *testing.T) {
	config := testConfig()
	app, _ := testApp(config)

	var notFound *flotillaerrors.ErrNotFound
	assert.ErrorAs(t, app.Status("no-such-run"), &notFound)
}

func TestCancel_UnknownRun(t *testing.T) {
	config := testConfig()
	app, _ := testApp(config)

	var notFound *flotillaerrors.ErrNotFound
	assert.ErrorAs(t, app.Cancel("no-such-run"), &notFound)
}

func TestVersion(t *testing.T) {
	app, out := testApp(testConfig())

	require.NoError(t, app.Version())
	assert.Contains(t, out.String(), "Version:")
	assert.Contains(t, out.String(), "Commit:")
}

func testConfig() *configuration.FlotillaConfiguration {
	return &configuration.FlotillaConfiguration{
		Cluster:  "local",
		Database: configuration.DatabaseConfiguration{InMemory: true},
		Launcher: configuration.LauncherConfiguration{
			PollInterval:    10 * time.Millisecond,
			MaxConcurrency:  4,
			MaxAttempts:     2,
			RetryBackoffCap: time.Minute,
		},
		Local: configuration.LocalConfiguration{UseShell: true, MaxOutputSize: 64 * 1024},
	}
}

func testApp(config *configuration.FlotillaConfiguration) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &App{Params: &Params{Config: config}, Out: out}, out
}

func writeManifest(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
