package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/stores"
)

func newLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the launch ledger",
		Long: `Inspect the SQLite launch ledger named by the driver config.

The ledger keeps:
  - One launch record per evaluator with its descriptor and outcome
  - The last known lifecycle state of every evaluator
  - The lifecycle events published while launching`,
	}

	cmd.AddCommand(newLedgerListCommand())
	cmd.AddCommand(newLedgerShowCommand())

	return cmd
}

func newLedgerListCommand() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded launches",
		Example: `  # List the most recent launches
  launchpad ledger list -c launchpad.yaml

  # List failed launches as JSON
  launchpad ledger list -c launchpad.yaml --status failed --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			var filter *stores.LaunchStatus
			if status != "" {
				s := stores.LaunchStatus(status)
				filter = &s
			}

			launches, err := store.ListLaunches(cmd.Context(), filter, limit, offset)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, launches)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EVALUATOR\tSTATUS\tPROCESS\tMEMORY\tFILES\tDISPATCHER\tCREATED")
			for _, l := range launches {
				fmt.Fprintf(w, "%s\t%s\t%s\t%dMB\t%d\t%s\t%s\n",
					l.EvaluatorID, l.Status, l.ProcessType, l.MemoryMB, l.FileCount, l.Dispatcher,
					l.CreatedAt.Local().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, dispatched, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of launches")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of launches to skip")

	return cmd
}

type ledgerEntry struct {
	Launch     *stores.Launch    `json:"launch"`
	Evaluator  *stores.Evaluator `json:"evaluator,omitempty"`
	Descriptor json.RawMessage   `json:"descriptor"`
	Events     []*stores.Event   `json:"events"`
}

func newLedgerShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <evaluator-id>",
		Short: "Show one launch with its descriptor and events",
		Example: `  launchpad ledger show -c launchpad.yaml 3f2a9c1e-7d4b-4a51-9b0e-5c8f1d2e6a70`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			store, err := openLedger(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			entry := ledgerEntry{}
			if entry.Launch, err = store.GetLaunch(ctx, id); err != nil {
				return err
			}
			entry.Descriptor = json.RawMessage(entry.Launch.Descriptor)

			entry.Evaluator, err = store.GetEvaluator(ctx, id)
			if err != nil && !engine.HasCode(err, engine.ErrCodeNotFound) {
				return err
			}
			if entry.Events, err = store.GetEvents(ctx, &id, nil, 1000, 0); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, entry)
			}

			l := entry.Launch
			fmt.Fprintf(out, "Evaluator:  %s\n", l.EvaluatorID)
			if entry.Evaluator != nil {
				fmt.Fprintf(out, "State:      %s\n", entry.Evaluator.State)
			}
			fmt.Fprintf(out, "Status:     %s\n", l.Status)
			fmt.Fprintf(out, "Process:    %s (%dMB)\n", l.ProcessType, l.MemoryMB)
			fmt.Fprintf(out, "Dispatcher: %s\n", l.Dispatcher)
			if l.Error != nil {
				fmt.Fprintf(out, "Error:      %s\n", *l.Error)
			}
			fmt.Fprintln(out, "\nDescriptor:")
			if err := printJSON(out, entry.Descriptor); err != nil {
				return err
			}

			fmt.Fprintln(out, "\nEvents:")
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range entry.Events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format(time.RFC3339), e.Level, e.Type, e.Message)
			}
			return w.Flush()
		},
	}

	return cmd
}

// openLedger opens the ledger named by the driver config.
func openLedger(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Ledger.Path == "" {
		return nil, fmt.Errorf("the driver config has no ledger path")
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Ledger.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
