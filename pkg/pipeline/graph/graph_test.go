package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/flotilla/internal/common/flotillaerrors"
	"github.com/G-Research/flotilla/pkg/pipeline"
)

func job(name string, dependsOn ...string) *pipeline.Job {
	return &pipeline.Job{Name: name, Script: "./" + name + ".sh", DependsOn: dependsOn}
}

func TestNew_Diamond(t *testing.T) {
	g, err := New([]*pipeline.Job{
		job("d", "b", "c"),
		job("b", "a"),
		job("c", "a"),
		job("a"),
	})
	require.NoError(t, err)

	assert.Equal(t, 4, g.Size())
	assert.Equal(t, []string{"a", "b", "c", "d"}, g.TopologicalOrder())
	assert.Equal(t, []string{"b", "c"}, g.Dependencies("d"))
	assert.Equal(t, []string{"b", "c"}, g.Dependents("a"))

	jobs := g.Jobs()
	require.Len(t, jobs, 4)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "d", jobs[3].Name)
}

func TestNew_TopologicalOrderBreaksTiesByName(t *testing.T) {
	g, err := New([]*pipeline.Job{job("z"), job("m"), job("a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "m", "z"}, g.TopologicalOrder())
}

func TestNew_DuplicateJob(t *testing.T) {
	_, err := New([]*pipeline.Job{job("a"), job("a")})
	require.Error(t, err)
	var alreadyExists *flotillaerrors.ErrAlreadyExists
	require.True(t, errors.As(err, &alreadyExists))
	assert.Equal(t, "a", alreadyExists.Value)
}

func TestNew_DanglingReference(t *testing.T) {
	_, err := New([]*pipeline.Job{job("a", "ghost")})
	require.Error(t, err)
	var dangling *DanglingReferenceError
	require.True(t, errors.As(err, &dangling))
	assert.Equal(t, "a", dangling.Job)
	assert.Equal(t, "ghost", dangling.Upstream)
	assert.Contains(t, err.Error(), `job "a" depends on unknown job "ghost"`)
}

func TestNew_Cycle(t *testing.T) {
	_, err := New([]*pipeline.Job{
		job("a", "c"),
		job("b", "a"),
		job("c", "b"),
	})
	require.Error(t, err)
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"a", "c", "b"}, cycle.Jobs)
	assert.Equal(t, "dependency cycle detected: a -> c -> b -> a", cycle.Error())
}

func TestNew_SelfDependencyIsCycle(t *testing.T) {
	_, err := New([]*pipeline.Job{job("a", "a")})
	require.Error(t, err)
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"a"}, cycle.Jobs)
}

func TestNew_CycleInDisconnectedComponent(t *testing.T) {
	_, err := New([]*pipeline.Job{
		job("a"),
		job("x", "y"),
		job("y", "x"),
	})
	require.Error(t, err)
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Len(t, cycle.Jobs, 2)
}

func TestTransitiveDependents(t *testing.T) {
	g, err := New([]*pipeline.Job{
		job("a"),
		job("b", "a"),
		job("c", "b"),
		job("e", "a"),
		job("f"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "e"}, g.TransitiveDependents("a"))
	assert.Equal(t, []string{"c"}, g.TransitiveDependents("b"))
	assert.Empty(t, g.TransitiveDependents("c"))
	assert.Empty(t, g.TransitiveDependents("f"))
	assert.Nil(t, g.TransitiveDependents("ghost"))
}

func TestJob(t *testing.T) {
	g, err := New([]*pipeline.Job{job("a")})
	require.NoError(t, err)

	a, ok := g.Job("a")
	require.True(t, ok)
	assert.Equal(t, "a", a.Name)

	_, ok = g.Job("ghost")
	assert.False(t, ok)
}
