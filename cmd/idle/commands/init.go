package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/idlecore/idle/pkg/stores"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an IdLE workspace",
		Long: `Initialize an IdLE workspace: data and workflow directories, the run
store, a configuration file, provider wiring, and a sample joiner workflow
with a matching request.

Existing files are left untouched, so init is safe to re-run.`,
		Example: `  # Initialize in the current directory
  idle init

  # Initialize with a custom config location
  idle init --config ./etc/idle.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Str("config", configPath).Msg("Initializing workspace")

			ctx := context.Background()

			dataDir := "./data"
			fmt.Printf("Initializing IdLE workspace in %s\n\n", ".")

			// Step 1: Create directory structure
			dirs := []string{
				dataDir,
				"./workflows",
				"./requests",
			}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			// Step 2: Initialize the run store
			dbPath := filepath.Join(dataDir, "idle.db")
			store, err := stores.NewSQLiteStore(stores.Config{
				Path: dbPath,
			})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			fmt.Printf("✓ Initialized run store: %s\n", dbPath)

			// Step 3: Write the config file
			if configPath == "" {
				configPath = "./idle.yaml"
			}
			configContent := fmt.Sprintf(defaultConfigTemplate, dataDir, dbPath)
			if err := writeScaffold(configPath, configContent); err != nil {
				return err
			}

			// Step 4: Write provider wiring and samples
			scaffolds := []struct {
				path    string
				content string
			}{
				{"./wiring.yaml", defaultWiring},
				{"./workflows/joiner-standard.yaml", sampleJoinerWorkflow},
				{"./requests/joiner-jdoe.yaml", sampleJoinerRequest},
			}
			for _, s := range scaffolds {
				if err := writeScaffold(s.path, s.content); err != nil {
					return err
				}
			}

			// Done
			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Validate the sample workflow:\n")
			fmt.Printf("     idle validate workflows/joiner-standard.yaml --request requests/joiner-jdoe.yaml\n\n")
			fmt.Printf("  2. Build and review a plan:\n")
			fmt.Printf("     idle plan workflows/joiner-standard.yaml requests/joiner-jdoe.yaml\n\n")
			fmt.Printf("  3. Run it against the in-memory providers:\n")
			fmt.Printf("     idle run workflows/joiner-standard.yaml requests/joiner-jdoe.yaml --store\n\n")

			return nil
		},
	}

	return cmd
}

// writeScaffold writes a scaffold file unless it already exists.
func writeScaffold(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("✓ Already exists, skipping: %s\n", path)
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("✓ Created file: %s\n", path)
	return nil
}

const defaultConfigTemplate = `# IdLE Configuration

# Data directory
data_dir: %s

# Run store
database:
  path: %s

# Telemetry
telemetry:
  log_level: info
  log_format: console
  metrics_enabled: false
  metrics_listen: ":9090"
  tracing_exporter: none
  events_enabled: true

# Policy gate
policy:
  environment: development
  # paths:
  #   - ./policies

# Provider wiring
providers:
  wiring: ./wiring.yaml

# Per-identity run lock (disabled until an address is set)
locks:
  # redis_addr: localhost:6379
  ttl_seconds: 300

# Execution tuning. Profile payloads use the engine's wire names.
execution:
  default_retry_profile: standard
  retry_profiles:
    standard:
      MaxAttempts: 3
      InitialDelayMilliseconds: 200
      BackoffFactor: 2.0
      MaxDelayMilliseconds: 5000
      JitterRatio: 0.2
`

const defaultWiring = `# Provider wiring: alias -> provider instance.
# Workflow steps select an alias via With.Provider; steps that name none
# use the "default" alias.
providers:
  - alias: default
    type: memory

  - alias: directory
    type: memory
    settings:
      name: directory

  - alias: tickets
    type: memory
    settings:
      name: tickets
`

const sampleJoinerWorkflow = `Name: joiner-standard
LifecycleEvent: Joiner
Description: Provision a new hire in the directory and grant baseline access.

Steps:
  - Name: precheck
    Type: IdLE.Step.GetIdentity
    With:
      Provider: directory

  - Name: create-account
    Type: IdLE.Step.CreateIdentity
    With:
      Provider: directory

  - Name: set-department
    Type: IdLE.Step.EnsureAttribute
    With:
      Provider: directory
      Attribute: Department
      Value: "{{Request.Input.Department}}"
    Condition:
      Exists:
        Path: Request.Input.Department

  - Name: grant-baseline
    Type: IdLE.Step.GrantEntitlement
    With:
      Provider: directory
      Entitlement: grp-all-staff
    RetryProfile: standard

OnFailureSteps:
  - Name: disable-partial-account
    Type: IdLE.Step.DisableIdentity
    With:
      Provider: directory
      Reason: joiner provisioning failed
`

const sampleJoinerRequest = `LifecycleEvent: Joiner
Actor: hr-feed
IdentityKeys:
  employeeId: E1001
  upn: jdoe@example.com
Input:
  Department: Engineering
  CostCenter: CC-2040
DesiredState:
  DisplayName: Jordan Doe
  Mail: jdoe@example.com
  Department: Engineering
`
