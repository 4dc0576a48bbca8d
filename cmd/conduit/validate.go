package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/conduit/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and build the pipeline",
	Long:  `Loads the configuration, opens the store, the prompts and the trainers file, and builds the pipeline graph without starting a run.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		show, _ := cmd.Flags().GetBool("show")
		app, err := openApp(cmd)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		defer closeApp(app)

		if show {
			out, err := yaml.Marshal(redacted(app.Config))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
		}
		topo := app.Engine.Inspect()
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d nodes, entry %q, store %s\n", len(topo.Nodes), topo.Entry, app.Config.Store.Backend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("show", false, "Print the effective configuration")
}

func redacted(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	mask(&cfg.LLM.APIKey)
	mask(&cfg.Store.Redis.Password)
	mask(&cfg.Store.EncryptionKey)
	if len(cfg.Store.FallbackKeys) > 0 {
		cfg.Store.FallbackKeys = []string{"***"}
	}
	return cfg
}
