package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/idlecore/idle/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "plan <workflow-file> <request-file>",
		Short: "Build an execution plan without running it",
		Long: `Build a deterministic execution plan from a workflow definition and a
lifecycle request.

Building is a pure function: conditions are evaluated against the request,
template placeholders are resolved, and every step's required capabilities
are checked against the wired providers. Nothing is executed. The plan is
printed as JSON and can be executed later with "idle run --plan".`,
		Example: `  # Print the plan for a joiner request
  idle plan workflows/joiner-standard.yaml requests/joiner-jdoe.yaml

  # Write the plan to a file for review and later execution
  idle plan workflows/joiner-standard.yaml requests/joiner-jdoe.yaml -o plan.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			definition, request, err := loadPlanInputs(args[0], args[1])
			if err != nil {
				return err
			}

			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}
			defer registry.Close(cmd.Context())

			builder := engine.NewBuilder(nil, log.Logger)
			plan, err := builder.BuildPlan(definition, request, registry.Providers())
			if err != nil {
				return err
			}

			data, err := engine.ExportPlan(plan)
			if err != nil {
				return err
			}

			if outputPath != "" {
				if err := os.WriteFile(outputPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write plan file: %w", err)
				}
				fmt.Printf("✓ Plan written to %s (%d steps, correlation %s)\n", outputPath, len(plan.Steps), plan.CorrelationId)
				return nil
			}

			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the plan JSON to a file instead of stdout")

	return cmd
}
