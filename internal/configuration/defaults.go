package configuration

import (
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
)

// ApplyDefaults fills in any configuration values that were not provided by
// config files, environment or flags. Called once at startup, after loading.
func (c *FlotillaConfiguration) ApplyDefaults() {
	if c.Cluster == "" {
		c.Cluster = "local"
	}
	if c.LogDir == "" {
		c.LogDir = "flotilla-logs"
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		if home, err := homedir.Dir(); err == nil {
			c.Database.Path = filepath.Join(home, ".flotilla", "flotilla.db")
		} else {
			c.Database.Path = "flotilla.db"
		}
	}
	if c.Launcher.PollInterval <= 0 {
		c.Launcher.PollInterval = 15 * time.Second
	}
	if c.Launcher.MaxConcurrency <= 0 {
		c.Launcher.MaxConcurrency = 50
	}
	if c.Launcher.MaxAttempts <= 0 {
		c.Launcher.MaxAttempts = 5
	}
	if c.Launcher.RetryBackoffBase <= 0 {
		c.Launcher.RetryBackoffBase = 10 * time.Second
	}
	if c.Launcher.RetryBackoffCap <= 0 {
		c.Launcher.RetryBackoffCap = 5 * time.Minute
	}
	if c.Launcher.CancelCheckInterval <= 0 {
		c.Launcher.CancelCheckInterval = 10 * time.Second
	}
	if c.DefaultJob.MaxAttempts <= 0 {
		c.DefaultJob.MaxAttempts = c.Launcher.MaxAttempts
	}
	if c.Slurm.SbatchPath == "" {
		c.Slurm.SbatchPath = "sbatch"
	}
	if c.Slurm.SqueuePath == "" {
		c.Slurm.SqueuePath = "squeue"
	}
	if c.Slurm.SacctPath == "" {
		c.Slurm.SacctPath = "sacct"
	}
	if c.Slurm.ScancelPath == "" {
		c.Slurm.ScancelPath = "scancel"
	}
	if c.Slurm.PollRetries == 0 {
		c.Slurm.PollRetries = 3
	}
	if c.Slurm.PollRetryDelay <= 0 {
		c.Slurm.PollRetryDelay = 2 * time.Second
	}
	if c.Local.MaxOutputSize <= 0 {
		c.Local.MaxOutputSize = 256 * 1024
	}
}
