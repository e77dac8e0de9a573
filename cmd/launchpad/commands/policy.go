package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/launchpad/pkg/driver"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect launch admission policies",
		Long: `Inspect the OPA/rego policies every launch is admitted against.

Built-in policies:
  - launch-memory-bounds: process memory between 128 MB and 64 GB
  - launch-resource-paths: staged files must not escape or collide
  - alternate-runtime-options: checks runtime options of alternate processes`,
	}

	cmd.AddCommand(newPolicyListCommand())

	return cmd
}

type policySummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Enabled     bool     `json:"enabled"`
	Builtin     bool     `json:"builtin"`
	Tags        []string `json:"tags,omitempty"`
}

func newPolicyListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the built-in and configured policies",
		Example: `  # List the built-in policies
  launchpad policy list

  # Include the policies named by the driver config
  launchpad policy list -c launchpad.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *driver.Config
			if configPath != "" {
				var err error
				if cfg, err = loadConfig(); err != nil {
					return err
				}
				if !cfg.Policy.Enabled {
					fmt.Fprintln(cmd.ErrOrStderr(), "Note: admission is disabled in this config")
				}
			}

			eng, err := loadPolicyEngine(cmd, cfg)
			if err != nil {
				return err
			}

			var out []policySummary
			for _, p := range eng.ListPolicies() {
				out = append(out, policySummary{
					Name:        p.Name,
					Description: p.Description,
					Severity:    string(p.Severity),
					Enabled:     p.Enabled,
					Builtin:     p.Builtin,
					Tags:        p.Tags,
				})
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), out)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tBUILTIN\tTAGS\tDESCRIPTION")
			for _, p := range out {
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\t%s\n",
					p.Name, p.Severity, p.Enabled, p.Builtin, strings.Join(p.Tags, ","), p.Description)
			}
			return w.Flush()
		},
	}

	return cmd
}
