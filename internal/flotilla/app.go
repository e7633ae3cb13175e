package flotilla

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/G-Research/flotilla/internal/cluster"
	"github.com/G-Research/flotilla/internal/cluster/local"
	"github.com/G-Research/flotilla/internal/cluster/slurm"
	"github.com/G-Research/flotilla/internal/common/flotillaerrors"
	"github.com/G-Research/flotilla/internal/configuration"
	"github.com/G-Research/flotilla/internal/repository"
	"github.com/G-Research/flotilla/pkg/pipeline"
	"github.com/G-Research/flotilla/pkg/pipeline/graph"
)

type App struct {
	// Parameters passed to the CLI by the user.
	Params *Params
	// Out is used to write the output. Defaults to standard out,
	// but can be overridden in tests to make assertions on the application's output.
	Out io.Writer
}

// Params struct holds all user-customizable parameters.
// Using a single struct for all CLI commands ensures that all flags are distinct
// and that they can be provided either dynamically on a command line, or
// statically in a config file that's reused between command runs.
type Params struct {
	Config *configuration.FlotillaConfiguration
}

// New instantiates an App with default parameters, including standard output.
func New() *App {
	return &App{
		Params: &Params{},
		Out:    os.Stdout,
	}
}

// loadPipeline reads the manifest at path, applies the configured job
// defaults, validates it and builds its dependency graph. The returned hash
// identifies the manifest content in run records.
func (a *App) loadPipeline(path string) (*pipeline.Pipeline, *graph.Graph, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, "", errors.WithStack(err)
	}
	manifestHash := fmt.Sprintf("sha256:%x", sha256.Sum256(content))

	p, err := pipeline.Load(bytes.NewReader(content))
	if err != nil {
		return nil, nil, "", errors.WithMessagef(err, "error loading manifest %s", path)
	}
	p.ApplyDefaults(a.Params.Config.DefaultJob.AsJobDefaults())
	if err := p.Validate(); err != nil {
		return nil, nil, "", errors.WithMessagef(err, "manifest %s is invalid", path)
	}

	g, err := graph.New(p.Jobs)
	if err != nil {
		return nil, nil, "", errors.WithMessagef(err, "manifest %s is invalid", path)
	}
	return p, g, manifestHash, nil
}

// newCluster instantiates the configured submission backend.
func (a *App) newCluster() (cluster.Cluster, error) {
	config := a.Params.Config
	switch config.Cluster {
	case "slurm":
		return slurm.New(config.Slurm), nil
	case "local":
		return local.New(config.Local), nil
	default:
		return nil, errors.WithStack(&flotillaerrors.ErrInvalidArgument{
			Name:    "cluster",
			Value:   config.Cluster,
			Message: "unrecognised cluster",
		})
	}
}

// openRunStore opens the configured run store. The returned cleanup function
// must be called before exit.
func (a *App) openRunStore() (repository.RunStore, func(), error) {
	config := a.Params.Config
	if config.Database.InMemory {
		return repository.NewInMemoryRunStore(), func() {}, nil
	}

	db, closeDb, err := repository.NewSQLiteDatabase(config.Database.Path)
	if err != nil {
		return nil, func() {}, err
	}
	store := repository.NewSQLRunStore(db)
	if err := store.Setup(); err != nil {
		closeDb()
		return nil, func() {}, err
	}
	return store, closeDb, nil
}
