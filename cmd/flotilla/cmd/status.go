package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/flotilla/internal/flotilla"
)

func statusCmd(app *flotilla.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status run-id",
		Short: "Show the state of every job in a run.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Status(args[0])
		},
	}

	return cmd
}
