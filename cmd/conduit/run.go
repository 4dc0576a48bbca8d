package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/conduit/internal/cli"
	"github.com/aretw0/conduit/internal/presentation/tui"
	"github.com/aretw0/conduit/pkg/domain"
)

var runCmd = &cobra.Command{
	Use:   "run [task description]",
	Short: "Run the ML pipeline for a task",
	Long: `Starts a pipeline run and follows it in the terminal. When the run pauses
for review, the questions are asked interactively (or answered by --yes / --reject).`,
	Example: `  conduit run "predict house prices" --data data/houses.csv
  conduit run "predict churn" -d s3://bucket/churn.csv --yes
  conduit run "predict churn" --json < approvals.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.RunOptions{Task: strings.Join(args, " ")}
		if task, _ := cmd.Flags().GetString("task"); task != "" {
			opts.Task = task
		}
		opts.DataLocation, _ = cmd.Flags().GetString("data")
		opts.Threshold, _ = cmd.Flags().GetFloat64("threshold")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Feedback, _ = cmd.Flags().GetString("feedback")
		approve, _ := cmd.Flags().GetBool("yes")
		reject, _ := cmd.Flags().GetBool("reject")
		if approve && reject {
			return errors.New("--yes and --reject cannot be used together")
		}
		opts.Auto = approve || reject
		opts.Approve = approve

		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		render := tui.Plain
		if !opts.JSON && tui.IsTerminal(os.Stdout) {
			tui.PrintBanner(os.Stdout)
			render = tui.NewRenderer(os.Stdout)
		}

		rec, err := cli.Run(ctx, app, opts, opts.Handler(os.Stdin, os.Stdout, render))
		if ctx.Signal() != nil {
			if rec != nil && rec.Status == domain.StatusAwaitingApproval {
				fmt.Fprintf(os.Stderr, "Interrupted. Run %s stays paused for review.\n", rec.RunID)
			} else {
				fmt.Fprintln(os.Stderr, "Interrupted.")
			}
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("task", "t", "", "Task description (alternative to positional arguments)")
	runCmd.Flags().StringP("data", "d", "", "Path or URI of the dataset")
	runCmd.Flags().Float64("threshold", 0, "Minimum agent confidence for this run (default from config)")
	runCmd.Flags().Bool("json", false, "Exchange reviews and records as JSON lines on stdin/stdout")
	runCmd.Flags().BoolP("yes", "y", false, "Approve every review with the recommended answers")
	runCmd.Flags().Bool("reject", false, "Reject the first review")
	runCmd.Flags().String("feedback", "", "Feedback attached to automatic reviews")
}
