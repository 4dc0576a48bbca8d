package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/conduit/internal/cli"
	"github.com/aretw0/conduit/internal/logging"
	"github.com/aretw0/conduit/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "conduit",
	Short: "Conduit orchestrates ML pipelines with agent decisions and human review",
	Long: `Conduit turns a task description into a trained model: decision agents plan
the pipeline, a human approves the plan, and the candidate algorithms train in parallel.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file (default ./"+config.DefaultFile+")")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command) (*cli.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return cli.NewApp(cfg, logging.New(level))
}

// closeApp gives executing runs a bounded time to reach a resting status.
func closeApp(app *cli.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		app.Logger.Warn("Shutdown incomplete", "err", err)
	}
}
