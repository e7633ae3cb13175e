package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/flotilla/internal/common"
	"github.com/G-Research/flotilla/internal/configuration"
	"github.com/G-Research/flotilla/internal/flotilla"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flotilla",
		Short: "flotilla runs batch pipelines on HPC clusters.",
		Long: `flotilla runs batch pipelines described by a YAML manifest: it submits each
job to the cluster once all jobs it depends on have succeeded, retries failed
attempts and reports the outcome of the run.

Configuration is read from ./config/flotilla/config.yaml, from files given
with --config and from FLOTILLA_* environment variables.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSlice("config", []string{}, "Fully qualified path to additional config files to merge on top of the default configuration.")

	cmd.AddCommand(
		runCmd(flotilla.New()),
		validateCmd(flotilla.New()),
		statusCmd(flotilla.New()),
		cancelCmd(flotilla.New()),
		versionCmd(flotilla.New()),
	)

	return cmd
}

// initParams loads the configuration, merging in any --config overrides, and
// attaches it to the app.
func initParams(cmd *cobra.Command, app *flotilla.App) error {
	overrideConfigs, err := cmd.Flags().GetStringSlice("config")
	if err != nil {
		return err
	}

	config := &configuration.FlotillaConfiguration{}
	common.LoadConfig(config, "./config/flotilla", overrideConfigs)
	config.ApplyDefaults()
	app.Params.Config = config

	return nil
}
