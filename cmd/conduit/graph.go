package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/conduit/internal/cli"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the pipeline graph as a Mermaid diagram",
	Long:  `Prints the executed graph as Mermaid. With --run, the path of that run is highlighted.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run")
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)
		return cli.Graph(cmd.Context(), app, runID, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("run", "", "Highlight the path of this run")
}
