package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/idlecore/idle/pkg/engine"
	"github.com/idlecore/idle/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect persisted runs",
		Long: `Inspect runs persisted with "idle run --store": list past runs, or show
one run with its result and event timeline.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var (
		limit       int
		offset      int
		correlation string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, newest first",
		Example: `  # The last 20 runs
  idle history list

  # Every run for one lifecycle request
  idle history list --correlation 7d444840-9dc0-11d1-b245-5ffdce74fad2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var runs []*stores.Run
			if correlation != "" {
				runs, err = store.ListRunsByCorrelation(cmd.Context(), correlation, limit, offset)
			} else {
				runs, err = store.ListRuns(cmd.Context(), limit, offset)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			for _, run := range runs {
				line := fmt.Sprintf("%s  %-9s %-8s %s", run.StartedAt.Format("2006-01-02 15:04:05"), run.Status, run.LifecycleEvent, run.WorkflowName)
				if run.WhatIf {
					line += " (what-if)"
				}
				fmt.Println(line)
				fmt.Printf("  run %s  correlation %s\n", run.ID, run.CorrelationID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")
	cmd.Flags().StringVar(&correlation, "correlation", "", "only runs with this correlation id")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	var showEvents bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one persisted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var events []*stores.Event
			if showEvents {
				events, err = store.GetEvents(cmd.Context(), &run.ID, nil, 1000, 0)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				payload := map[string]interface{}{"Run": run}
				if showEvents {
					payload["Events"] = events
				}
				data, err := json.MarshalIndent(payload, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Run:         %s\n", run.ID)
			fmt.Printf("Workflow:    %s (%s)\n", run.WorkflowName, run.LifecycleEvent)
			fmt.Printf("Correlation: %s\n", run.CorrelationID)
			fmt.Printf("Status:      %s\n", run.Status)
			fmt.Printf("Started:     %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
			if run.CompletedAt != nil {
				fmt.Printf("Completed:   %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
			}
			if run.Error != nil {
				fmt.Printf("Error:       %s\n", *run.Error)
			}

			if run.Result != nil {
				var result engine.ExecutionResult
				if err := json.Unmarshal([]byte(*run.Result), &result); err == nil && len(result.Steps) > 0 {
					names := make([]string, 0, len(result.Steps))
					for name := range result.Steps {
						names = append(names, name)
					}
					sort.Strings(names)

					fmt.Println("Steps:")
					for _, name := range names {
						step := result.Steps[name]
						fmt.Printf("  %-9s %s (attempts %d, %dms)\n", step.Status, name, step.Attempts, step.DurationMilliseconds)
					}
				}
			}

			if showEvents {
				fmt.Println("Events:")
				for _, event := range events {
					line := fmt.Sprintf("  %4d %-22s %s", event.Sequence, event.Type, event.Message)
					if event.Step != nil {
						line += fmt.Sprintf(" [%s]", *event.Step)
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showEvents, "events", false, "include the run's event timeline")

	return cmd
}
