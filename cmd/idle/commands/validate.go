package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/idlecore/idle/pkg/engine"
	"github.com/idlecore/idle/pkg/workflow"
)

func newValidateCommand() *cobra.Command {
	var requestPath string

	cmd := &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Validate a workflow definition",
		Long: `Validate a workflow definition without building a plan.

The document is parsed, checked for executable content, validated against
the workflow schema, and decoded with unknown-key rejection. With --request
a lifecycle request document is validated the same way and checked against
the workflow's lifecycle event.`,
		Example: `  # Validate a workflow
  idle validate workflows/joiner-standard.yaml

  # Validate a workflow together with a request
  idle validate workflows/joiner-standard.yaml --request requests/joiner-jdoe.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := workflow.NewLoader()

			definition, err := loader.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("✓ Workflow %q is valid (%s, %d steps", definition.Name, definition.LifecycleEvent, len(definition.Steps))
			if len(definition.OnFailureSteps) > 0 {
				fmt.Printf(", %d on-failure steps", len(definition.OnFailureSteps))
			}
			fmt.Println(")")

			if requestPath == "" {
				return nil
			}

			data, err := os.ReadFile(requestPath)
			if err != nil {
				return fmt.Errorf("failed to read request file: %w", err)
			}
			doc, err := loader.LoadRequestDocument(data)
			if err != nil {
				return err
			}
			request, err := engine.LifecycleRequestFromMap(doc)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Request is valid (%s)\n", request.LifecycleEvent)

			if !definition.Matches(request.LifecycleEvent) {
				return fmt.Errorf("workflow handles %s, request is %s", definition.LifecycleEvent, request.LifecycleEvent)
			}
			fmt.Println("✓ Request matches the workflow's lifecycle event")
			return nil
		},
	}

	cmd.Flags().StringVarP(&requestPath, "request", "r", "", "lifecycle request document to validate alongside")

	return cmd
}
