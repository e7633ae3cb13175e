package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/flotilla/internal/flotilla"
)

func cancelCmd(app *flotilla.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel run-id",
		Short: "Ask a running launcher to stop its run.",
		Long: `Ask a running launcher to stop its run.

The cancellation is recorded in the run database; the launcher picks it up on
its next check, stops submitting jobs and cancels those already on the cluster.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Cancel(args[0])
		},
	}

	return cmd
}
