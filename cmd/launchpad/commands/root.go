package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/launchpad/pkg/driver"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "launchpad",
		Short: "Launchpad - evaluator launch driver",
		Long: `Launchpad composes evaluator launches and hands them to a resource manager.

Each launch carries:
  - A root context, merged with provider fragments for managed processes
  - An optional service and task
  - A process description and the files and libraries to stage

Launches pass admission policies (OPA/rego) and are recorded in a SQLite
ledger before they reach the stream or SSH dispatcher.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "driver config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newLedgerCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}

// loadConfig reads the driver configuration named by --config.
func loadConfig() (*driver.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("a driver config is required (--config)")
	}
	cfg, err := driver.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
