package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/conduit/internal/cli"
	"github.com/aretw0/conduit/internal/presentation/tui"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage stored runs",
	Long:  `List, inspect, follow, cancel and delete runs kept by the configured store (use the file or redis backend to share runs across commands).`,
}

var runsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List runs",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)
		return cli.ListRuns(cmd.Context(), app, os.Stdout, tui.NewRenderer(os.Stdout), asJSON)
	},
}

var runsInspectCmd = &cobra.Command{
	Use:   "inspect <run-id>",
	Short: "Show a run with its State",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		fields, _ := cmd.Flags().GetStringSlice("field")
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)
		return cli.InspectRun(cmd.Context(), app, args[0], os.Stdout, tui.NewRenderer(os.Stdout), asJSON, fields...)
	},
}

var runsWatchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Follow a run, printing one JSON diff per change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()
		_, err = cli.Watch(ctx, app, args[0], os.Stdout, interval)
		if ctx.Signal() != nil {
			return nil
		}
		return err
	},
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)
		rec, err := cli.CancelRun(cmd.Context(), app, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s %s\n", rec.RunID, tui.StatusColor(string(rec.Status)))
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:     "rm <run-id>...",
	Aliases: []string{"delete"},
	Short:   "Delete resting runs",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)
		for _, id := range args {
			if err := cli.DeleteRun(cmd.Context(), app, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsInspectCmd, runsWatchCmd, runsCancelCmd, runsDeleteCmd)

	runsListCmd.Flags().Bool("json", false, "Print JSON instead of a table")
	runsInspectCmd.Flags().Bool("json", false, "Print the raw record as JSON")
	runsInspectCmd.Flags().StringSlice("field", nil, "Only show these State fields")
	runsWatchCmd.Flags().Duration("interval", time.Second, "Polling interval")
}
