package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/flotilla/internal/flotilla"
)

func validateCmd(app *flotilla.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate ./pipeline.yaml ...",
		Short: "Check pipeline manifests without submitting anything.",
		Long: `Check pipeline manifests without submitting anything.

Every manifest is parsed and validated and its execution plan printed. All
manifests are checked even if an earlier one is invalid.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			printManifest, err := cmd.Flags().GetBool("print-manifest")
			if err != nil {
				return err
			}
			return app.Validate(args, printManifest)
		},
	}

	cmd.Flags().Bool("print-manifest", false, "Print each manifest with configured defaults applied instead of the execution plan.")

	return cmd
}
