package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/G-Research/flotilla/internal/common"
	"github.com/G-Research/flotilla/internal/flotilla"
)

func runCmd(app *flotilla.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run ./pipeline.yaml",
		Short: "Run a pipeline until every job has finished.",
		Long: `Run a pipeline until every job has finished.

Exits with a non-zero status unless every job succeeded. Pass the run id of an
earlier run with --resume to leave jobs that already succeeded alone.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			common.ConfigureLogging()
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			resumeRunId, err := cmd.Flags().GetString("resume")
			if err != nil {
				return err
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cluster") {
				app.Params.Config.Cluster, err = cmd.Flags().GetString("cluster")
				if err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("max-concurrency") {
				app.Params.Config.Launcher.MaxConcurrency, err = cmd.Flags().GetInt("max-concurrency")
				if err != nil {
					return err
				}
			}

			// Create a context that is cancelled on SIGINT/SIGTERM,
			// so that in-flight jobs are cancelled on ctrl-C.
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			stopSignal := make(chan os.Signal, 1)
			signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				select {
				case <-ctx.Done():
					return
				case <-stopSignal:
					cancel()
				}
			}()

			return app.Run(ctx, &flotilla.RunConfig{
				ManifestPath: args[0],
				ResumeRunId:  resumeRunId,
				Timeout:      timeout,
			})
		},
	}

	cmd.Flags().String("resume", "", "Run id of an earlier run; jobs that succeeded in it are not submitted again.")
	cmd.Flags().Duration("timeout", 0, "Abort the run after this long, e.g. 24h. Zero means no limit.")
	cmd.Flags().String("cluster", "", "Submission backend to use for this run, slurm or local. Overrides the configured cluster.")
	cmd.Flags().Int("max-concurrency", 0, "Cap on jobs submitted or running at once. Overrides the configured cap.")

	return cmd
}
