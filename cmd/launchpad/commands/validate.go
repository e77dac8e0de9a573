package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/launchpad/pkg/config"
	"github.com/openfroyo/launchpad/pkg/driver"
	"github.com/openfroyo/launchpad/pkg/policy"
)

type validateReport struct {
	Valid    bool     `json:"valid"`
	Checked  []string `json:"checked"`
	Problems []string `json:"problems,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		contextPath string
		servicePath string
		taskPath    string
	)

	cmd := &cobra.Command{
		Use:   "validate [fragment...]",
		Short: "Validate the driver config and configuration fragments",
		Long: `Validate the driver configuration and CUE fragments before launching.

This command checks:
  - The driver config (--config), including its policy files
  - Context, service and task fragments against their built-in schemas
  - CUE syntax of any other fragment given as an argument`,
		Example: `  # Validate the driver config and its policies
  launchpad validate -c launchpad.yaml

  # Validate fragments against their schemas
  launchpad validate --context ctx.cue --task task.cue

  # Check the syntax of provider fragments
  launchpad validate providers/*.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			report := validateReport{}

			if configPath != "" {
				report.Checked = append(report.Checked, configPath)
				cfg, err := driver.LoadConfig(configPath)
				if err != nil {
					report.Problems = append(report.Problems, err.Error())
				} else if cfg.Policy.Enabled {
					if _, err := loadPolicyEngine(cmd, cfg); err != nil {
						report.Problems = append(report.Problems, err.Error())
					}
				}
			}

			parser := config.NewCUEParser()
			schemas := config.NewSchemaRegistry()
			for _, f := range []struct{ schema, path string }{
				{config.SchemaContext, contextPath},
				{config.SchemaService, servicePath},
				{config.SchemaTask, taskPath},
			} {
				if f.path == "" {
					continue
				}
				report.Checked = append(report.Checked, f.path)
				c, err := parser.Load(ctx, f.path)
				if err != nil {
					report.Problems = append(report.Problems, err.Error())
					continue
				}
				if err := schemas.Validate(ctx, f.schema, c); err != nil {
					report.Problems = append(report.Problems, err.Error())
				}
			}

			report.Checked = append(report.Checked, args...)
			for _, ve := range parser.Check(ctx, args) {
				report.Problems = append(report.Problems, ve.String())
			}

			if len(report.Checked) == 0 {
				return fmt.Errorf("nothing to validate: pass --config, a fragment flag or fragment paths")
			}
			report.Valid = len(report.Problems) == 0

			log.Debug().
				Int("checked", len(report.Checked)).
				Int("problems", len(report.Problems)).
				Msg("Validation finished")

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, report); err != nil {
					return err
				}
			} else {
				for _, p := range report.Problems {
					fmt.Fprintf(out, "ERROR %s\n", p)
				}
				if report.Valid {
					fmt.Fprintf(out, "OK %d source(s) valid\n", len(report.Checked))
				}
			}

			if !report.Valid {
				return fmt.Errorf("validation failed with %d problem(s)", len(report.Problems))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contextPath, "context", "", "context fragment to check against the context schema")
	cmd.Flags().StringVar(&servicePath, "service", "", "service fragment to check against the service schema")
	cmd.Flags().StringVar(&taskPath, "task", "", "task fragment to check against the task schema")

	return cmd
}

// loadPolicyEngine builds an engine with the built-in policies plus the ones
// cfg names. A nil cfg yields the built-in policies only.
func loadPolicyEngine(cmd *cobra.Command, cfg *driver.Config) (*policy.Engine, error) {
	ctx := cmd.Context()
	eng, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return eng, nil
	}

	if len(cfg.Policy.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	if cfg.Policy.Bundle != "" {
		bundle, err := policy.NewLoader(log.Logger).LoadBundle(ctx, cfg.Policy.Bundle)
		if err != nil {
			return nil, err
		}
		for _, p := range bundle.Policies {
			if err := eng.AddPolicy(ctx, p); err != nil {
				return nil, err
			}
		}
	}
	return eng, nil
}
