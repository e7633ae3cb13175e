// Package graph builds the dependency graph of a pipeline and answers the
// reachability questions needed while running it. A Graph is constructed once,
// before anything is submitted, and is read-only afterwards.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/G-Research/flotilla/internal/common/flotillaerrors"
	"github.com/G-Research/flotilla/pkg/pipeline"
)

// CycleError is returned by New when the dependency graph contains a cycle.
// Jobs holds one complete cycle, each job depending on the one after it.
type CycleError struct {
	Jobs []string
}

func (err *CycleError) Error() string {
	path := append([]string{}, err.Jobs...)
	if len(err.Jobs) > 0 {
		path = append(path, err.Jobs[0])
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(path, " -> "))
}

// DanglingReferenceError is returned by New when a job depends on a name
// that does not appear in the pipeline.
type DanglingReferenceError struct {
	Job      string
	Upstream string
}

func (err *DanglingReferenceError) Error() string {
	return fmt.Sprintf("job %q depends on unknown job %q", err.Job, err.Upstream)
}

// Graph is the dependency graph of a pipeline.
type Graph struct {
	nodes map[string]*node
	// order caches the deterministic topological order computed by New.
	order []string
}

// node is a single vertex. It is unexported to enforce interaction with the
// graph via job names rather than direct struct manipulation.
type node struct {
	job *pipeline.Job
	// deps holds the jobs this job depends on (upstreams).
	deps map[string]*node
	// dependents holds the jobs that depend on this job (downstreams).
	dependents map[string]*node
}

// New builds the dependency graph for the given jobs. It returns an error if
// a job name occurs twice, if a job depends on a name that does not exist,
// or if the dependencies contain a cycle. The returned graph is never partially
// constructed: on error it is nil.
func New(jobs []*pipeline.Job) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node, len(jobs))}
	for _, job := range jobs {
		if _, exists := g.nodes[job.Name]; exists {
			return nil, errors.WithStack(&flotillaerrors.ErrAlreadyExists{
				Type:  "job",
				Value: job.Name,
			})
		}
		g.nodes[job.Name] = &node{
			job:        job,
			deps:       make(map[string]*node),
			dependents: make(map[string]*node),
		}
	}
	for _, job := range jobs {
		n := g.nodes[job.Name]
		for _, upstream := range job.DependsOn {
			dep, ok := g.nodes[upstream]
			if !ok {
				return nil, errors.WithStack(&DanglingReferenceError{
					Job:      job.Name,
					Upstream: upstream,
				})
			}
			n.deps[upstream] = dep
			dep.dependents[job.Name] = n
		}
	}
	if cycle := g.findCycle(); cycle != nil {
		return nil, errors.WithStack(&CycleError{Jobs: cycle})
	}
	g.order = g.computeOrder()
	return g, nil
}

// findCycle runs a depth-first search over the dependency edges, keeping the
// current path so that a detected cycle can be reported in full. Nodes are
// visited in name order to make the reported cycle deterministic.
func (g *Graph) findCycle() []string {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var stack []string

	var visit func(n *node) []string
	visit = func(n *node) []string {
		name := n.job.Name
		visiting[name] = true
		stack = append(stack, name)
		for _, upstream := range sortedNames(n.deps) {
			if visiting[upstream] {
				for i, s := range stack {
					if s == upstream {
						return append([]string{}, stack[i:]...)
					}
				}
			}
			if !visited[upstream] {
				if cycle := visit(n.deps[upstream]); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		delete(visiting, name)
		visited[name] = true
		return nil
	}

	for _, name := range sortedNames(g.nodes) {
		if !visited[name] {
			if cycle := visit(g.nodes[name]); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// computeOrder returns a topological order of all jobs. Ties are broken by
// name so that the order is stable across runs of the same pipeline.
func (g *Graph) computeOrder() []string {
	inDegree := make(map[string]int, len(g.nodes))
	ready := make([]string, 0, len(g.nodes))
	for name, n := range g.nodes {
		inDegree[name] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for downstream := range g.nodes[name].dependents {
			inDegree[downstream]--
			if inDegree[downstream] == 0 {
				ready = append(ready, downstream)
			}
		}
		sort.Strings(ready)
	}
	return order
}

// Size returns the number of jobs in the graph.
func (g *Graph) Size() int {
	return len(g.nodes)
}

// Job returns the job with the given name.
func (g *Graph) Job(name string) (*pipeline.Job, bool) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, false
	}
	return n.job, true
}

// Jobs returns all jobs in topological order.
func (g *Graph) Jobs() []*pipeline.Job {
	jobs := make([]*pipeline.Job, len(g.order))
	for i, name := range g.order {
		jobs[i] = g.nodes[name].job
	}
	return jobs
}

// TopologicalOrder returns the names of all jobs such that every job appears
// after all of its upstreams, with ties broken by name.
func (g *Graph) TopologicalOrder() []string {
	return append([]string{}, g.order...)
}

// Dependencies returns the names of the jobs the given job depends on,
// sorted by name. It returns nil for an unknown job.
func (g *Graph) Dependencies(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return sortedNames(n.deps)
}

// Dependents returns the names of the jobs that directly depend on the given
// job, sorted by name. It returns nil for an unknown job.
func (g *Graph) Dependents(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return sortedNames(n.dependents)
}

// TransitiveDependents returns the names of all jobs downstream of the given
// job, direct or indirect, sorted by name. It returns nil for an unknown job.
func (g *Graph) TransitiveDependents(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	frontier := []*node{n}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for downstream, dn := range current.dependents {
			if !seen[downstream] {
				seen[downstream] = true
				frontier = append(frontier, dn)
			}
		}
	}
	names := make([]string, 0, len(seen))
	for downstream := range seen {
		names = append(names, downstream)
	}
	sort.Strings(names)
	return names
}

func sortedNames(nodes map[string]*node) []string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
