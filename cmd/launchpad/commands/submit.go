package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/launchpad/pkg/dispatch"
	"github.com/openfroyo/launchpad/pkg/driver"
	"github.com/openfroyo/launchpad/pkg/evaluator"
	"github.com/openfroyo/launchpad/pkg/launch"
)

type submitResult struct {
	EvaluatorID string `json:"evaluator_id"`
	State       string `json:"state"`
	Dispatcher  string `json:"dispatcher"`
	Error       string `json:"error,omitempty"`
}

func newSubmitCommand() *cobra.Command {
	var (
		job         driver.Job
		processType string
		memoryMB    int
		options     map[string]string
		wait        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Launch one evaluator",
		Long: `Allocate an evaluator and launch it with the given configuration fragments.

A launch needs a context, a task, or both. Without a context the task is
launched with the generated root context "RootContext_<evaluator id>".
Fragments are CUE files or directories.`,
		Example: `  # Launch with a context only
  launchpad submit -c launchpad.yaml --context ctx.cue

  # Launch a context, service and task with staged files
  launchpad submit -c launchpad.yaml --context ctx.cue --service svc.cue --task task.cue \
    --file /data/input.txt --library /jobs/app.jar

  # Launch a task on the alternate runtime and wait until it runs
  launchpad submit -c launchpad.yaml --task task.cue --process alternate --memory 1024 --wait 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("process") || cmd.Flags().Changed("memory") || cmd.Flags().Changed("option") {
				p, err := processFromFlags(cfg, processType, memoryMB, options)
				if err != nil {
					return err
				}
				job.Process = &p
			}

			ctx := cmd.Context()
			d, err := driver.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := d.Close(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Driver shutdown incomplete")
				}
			}()
			if err := d.Start(ctx); err != nil {
				return err
			}

			log.Debug().
				Str("context", job.Context).
				Str("service", job.Service).
				Str("task", job.Task).
				Strs("files", job.Files).
				Strs("libraries", job.Libraries).
				Msg("Submitting evaluator")

			ev, submitErr := d.Submit(ctx, job)
			if ev == nil {
				return submitErr
			}
			if submitErr == nil && wait > 0 {
				waitForRunning(ctx, ev.Manager(), wait)
			}

			res := submitResult{
				EvaluatorID: ev.ID(),
				State:       string(ev.Manager().State()),
				Dispatcher:  dispatch.Name(d.Dispatcher()),
			}
			if submitErr != nil {
				res.Error = submitErr.Error()
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Evaluator %s %s via %s\n", res.EvaluatorID, res.State, res.Dispatcher)
			}
			return submitErr
		},
	}

	cmd.Flags().StringVar(&job.EvaluatorID, "id", "", "evaluator id (generated when empty)")
	cmd.Flags().StringVar(&job.Context, "context", "", "root context fragment")
	cmd.Flags().StringVar(&job.Service, "service", "", "service fragment")
	cmd.Flags().StringVar(&job.Task, "task", "", "task fragment")
	cmd.Flags().StringSliceVar(&job.Files, "file", nil, "plain file to stage (repeatable)")
	cmd.Flags().StringSliceVar(&job.Libraries, "library", nil, "library to stage (repeatable)")
	cmd.Flags().StringVar(&processType, "process", "", "process type: managed or alternate")
	cmd.Flags().IntVar(&memoryMB, "memory", 0, "process memory in MB")
	cmd.Flags().StringToStringVar(&options, "option", nil, "runtime option key=value (repeatable)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the evaluator to run")

	return cmd
}

// processFromFlags starts from the configured default process, or the
// defaults of the requested type, and applies the overrides.
func processFromFlags(cfg *driver.Config, processType string, memoryMB int, options map[string]string) (launch.ProcessDescriptor, error) {
	p := launch.NewProcess(launch.ProcessTypeManaged)
	if cfg.DefaultProcess != nil {
		p = *cfg.DefaultProcess
	}
	if processType != "" {
		kind := launch.ProcessType(processType)
		if err := kind.Validate(); err != nil {
			return launch.ProcessDescriptor{}, err
		}
		p = launch.NewProcess(kind)
	}
	if memoryMB > 0 {
		p = p.WithMemory(memoryMB)
	}
	for k, v := range options {
		p = p.WithOption(k, v)
	}
	return p, p.Validate()
}

func waitForRunning(ctx context.Context, m *evaluator.Manager, timeout time.Duration) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for m.State() == evaluator.StateSubmitted {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			log.Warn().Str("evaluator_id", m.ID()).Dur("timeout", timeout).Msg("Evaluator did not report running in time")
			return
		case <-ticker.C:
		}
	}
}
