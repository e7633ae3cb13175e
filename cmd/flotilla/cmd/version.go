package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/flotilla/internal/flotilla"
)

func versionCmd(app *flotilla.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print client version information.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Version()
		},
	}

	return cmd
}
