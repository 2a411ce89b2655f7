package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/idlecore/idle/pkg/engine"
	"github.com/idlecore/idle/pkg/locks"
	"github.com/idlecore/idle/pkg/policy"
	"github.com/idlecore/idle/pkg/stores"
	"github.com/idlecore/idle/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		planPath  string
		whatIf    bool
		noPolicy  bool
		useStore  bool
		lockRedis string
	)

	cmd := &cobra.Command{
		Use:   "run [workflow-file] <request-file>",
		Short: "Build a plan and execute it against the wired providers",
		Long: `Build a plan from a workflow and a lifecycle request, gate it through
the policy engine, and execute it sequentially against the wired providers.

Primary steps run in plan order and stop at the first failure; on-failure
steps then run best-effort. With --plan an exported plan is executed as-is
after its capability requirements are re-checked against the current
providers. --what-if walks the plan without touching any provider.`,
		Example: `  # Build and execute in one shot
  idle run workflows/joiner-standard.yaml requests/joiner-jdoe.yaml

  # Simulate without touching providers
  idle run workflows/joiner-standard.yaml requests/joiner-jdoe.yaml --what-if

  # Execute a previously exported plan
  idle run --plan plan.json requests/joiner-jdoe.yaml

  # Persist the run, its events, and audit entries
  idle run workflows/joiner-standard.yaml requests/joiner-jdoe.yaml --store`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig())
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer tel.Shutdown(context.Background())

			ctx := tel.WithContext(cmd.Context())
			logger := tel.Logger.Zerolog()

			if err := tel.StartMetricsServer(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start metrics server")
			}

			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}
			defer registry.Close(context.Background())

			// Step 1: obtain a plan, either by building one or importing one.
			var (
				plan    *engine.Plan
				request *engine.LifecycleRequest
			)
			if planPath == "" {
				if len(args) != 2 {
					return fmt.Errorf("expected <workflow-file> <request-file>")
				}
				definition, req, err := loadPlanInputs(args[0], args[1])
				if err != nil {
					return err
				}
				request = req

				builder := engine.NewBuilder(nil, logger)
				plan, err = builder.BuildPlan(definition, request, registry.Providers())
				if err != nil {
					return err
				}
			} else {
				if len(args) != 1 {
					return fmt.Errorf("expected <request-file> when --plan is set")
				}
				request, err = loadRequestFile(args[0])
				if err != nil {
					return err
				}

				data, err := os.ReadFile(planPath)
				if err != nil {
					return fmt.Errorf("failed to read plan file: %w", err)
				}
				plan, err = engine.ImportPlan(data)
				if err != nil {
					return err
				}
				if err := engine.ValidatePlanCapabilities(plan, registry.Providers()); err != nil {
					return err
				}
			}

			// Step 2: gate the plan through policies before anything runs.
			if noPolicy || cfg.Policy.Disabled {
				logger.Warn().Msg("Policy gate disabled")
			} else if err := gatePlan(ctx, cfg, tel, logger, plan, request); err != nil {
				return err
			}

			// Step 3: serialize runs per identity when a lock backend is
			// configured.
			lockAddr := lockRedis
			if lockAddr == "" {
				lockAddr = cfg.Locks.RedisAddr
			}
			if lockAddr != "" && len(request.IdentityKeys) > 0 {
				client := redis.NewClient(&redis.Options{Addr: lockAddr})
				defer client.Close()

				locker := locks.NewRedisLocker(client, cfg.Locks.Prefix)
				unlock, err := locker.Acquire(ctx, locks.RunKey(request.IdentityKeys), cfg.LockTTL())
				if err != nil {
					if errors.Is(err, locks.ErrLockHeld) {
						return fmt.Errorf("another run is already executing for this identity: %w", err)
					}
					return err
				}
				defer func() {
					if err := unlock(context.Background()); err != nil {
						logger.Warn().Err(err).Msg("Failed to release run lock")
					}
				}()
			}

			// Step 4: wire event sinks, persisting the run when asked.
			runID := uuid.New().String()
			sink := engine.MultiSink{engine.NewLoggerSink(logger)}

			var store *stores.SQLiteStore
			if useStore {
				store, err = openStore(ctx, cfg)
				if err != nil {
					return err
				}
				defer store.Close()

				record, err := stores.NewRun(runID, plan, whatIf)
				if err != nil {
					return err
				}
				if err := store.CreateRun(ctx, record); err != nil {
					return fmt.Errorf("failed to record run: %w", err)
				}
				writeAudit(ctx, store, logger, "run.started", request.Actor, plan.CorrelationId, runID)

				sink = append(sink, stores.NewStoreSink(store, runID))
			}

			// Step 5: execute.
			opts := cfg.ExecutionOptions()
			opts.WhatIf = whatIf

			run := engine.NewExecutionContext(registry.Providers(), sink, nil)
			executor := engine.NewExecutor(nil, opts, logger)

			ctx = telemetry.WithRunContext(ctx, runID, plan.WorkflowName, plan.LifecycleEvent)
			result, runErr := executor.Execute(ctx, plan, request, run)

			status := string(engine.RunStatusFailed)
			if result != nil {
				status = string(result.Status)
			}
			telemetry.EndRunContext(ctx, runID, status, runErr)

			// Step 6: record the outcome.
			if store != nil {
				if result != nil {
					if err := store.RecordResult(ctx, runID, result, runErr); err != nil {
						logger.Warn().Err(err).Msg("Failed to record run result")
					}
				} else {
					message := runErr.Error()
					if err := store.CompleteRun(ctx, runID, stores.RunStatusFailed, nil, &message); err != nil {
						logger.Warn().Err(err).Msg("Failed to record run result")
					}
				}
				writeAudit(ctx, store, logger, "run.completed", request.Actor, plan.CorrelationId, status)
			}

			if runErr != nil {
				return runErr
			}

			printRunResult(plan, result, runID)

			if result.Status == engine.RunStatusFailed {
				return fmt.Errorf("run %s failed", runID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "", "execute a previously exported plan instead of building one")
	cmd.Flags().BoolVar(&whatIf, "what-if", false, "simulate the run without calling providers")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy gate for this run")
	cmd.Flags().BoolVar(&useStore, "store", false, "persist the run, its events, and audit entries")
	cmd.Flags().StringVar(&lockRedis, "lock-redis", "", "redis address for the per-identity run lock (overrides config)")

	return cmd
}

// gatePlan evaluates every enabled policy against the plan. Blocking
// violations deny the run; the rest are logged and published as events.
func gatePlan(ctx context.Context, cfg *Config, tel *telemetry.Telemetry, logger zerolog.Logger, plan *engine.Plan, request *engine.LifecycleRequest) error {
	policyEngine, err := policy.NewEngine(logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	policyEngine.SetEnvironment(cfg.Policy.Environment)
	if len(cfg.Policy.Paths) > 0 {
		if err := policyEngine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return err
		}
	}

	evaluation, err := policyEngine.EvaluatePlan(ctx, plan, request)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, warning := range evaluation.Warnings {
		logger.Warn().Msg(warning)
	}
	for i := range evaluation.Violations {
		violation := &evaluation.Violations[i]
		if violation.Severity.Blocks() {
			_ = tel.Events.PublishPolicyViolation(plan.WorkflowName, violation.Policy, violation.Message)
			continue
		}
		logger.Warn().
			Str("policy", violation.Policy).
			Str("severity", string(violation.Severity)).
			Msg(violation.Message)
	}

	if !evaluation.Allowed {
		messages := evaluation.BlockingMessages()
		for _, message := range messages {
			fmt.Fprintln(os.Stderr, "✗ "+message)
		}
		return fmt.Errorf("plan denied by policy (%d blocking violations)", len(messages))
	}
	return nil
}

// writeAudit appends an audit entry, logging instead of failing the run when
// the write does not succeed.
func writeAudit(ctx context.Context, store *stores.SQLiteStore, logger zerolog.Logger, action, actor, correlationID, details string) {
	entry := &stores.AuditEntry{
		Action:        action,
		Actor:         actor,
		CorrelationID: &correlationID,
		Details:       &details,
		Timestamp:     time.Now().UTC(),
	}
	if err := store.CreateAuditEntry(ctx, entry); err != nil {
		logger.Warn().Err(err).Str("action", action).Msg("Failed to write audit entry")
	}
}

// printRunResult renders the execution outcome, honoring --json.
func printRunResult(plan *engine.Plan, result *engine.ExecutionResult, runID string) {
	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to render result: "+err.Error())
			return
		}
		fmt.Println(string(data))
		return
	}

	symbols := map[engine.StepStatus]string{
		engine.StepStatusCompleted: "✓",
		engine.StepStatusSkipped:   "·",
		engine.StepStatusFailed:    "✗",
	}

	fmt.Printf("Run %s: %s (%s)\n", runID, plan.WorkflowName, plan.CorrelationId)
	for i := range plan.Steps {
		step := &plan.Steps[i]
		stepResult, ok := result.Steps[step.Name]
		if !ok {
			// Never reached after a fail-fast stop.
			continue
		}
		line := fmt.Sprintf("  %s %s", symbols[stepResult.Status], step.Name)
		if stepResult.Changed {
			line += " (changed)"
		}
		if stepResult.Attempts > 1 {
			line += fmt.Sprintf(" [%d attempts]", stepResult.Attempts)
		}
		if stepResult.Error != "" {
			line += ": " + stepResult.Error
		}
		fmt.Println(line)
	}

	if len(result.OnFailure.Steps) > 0 {
		fmt.Println("  on-failure:")
		for i := range plan.OnFailureSteps {
			step := &plan.OnFailureSteps[i]
			stepResult, ok := result.OnFailure.Steps[step.Name]
			if !ok {
				continue
			}
			fmt.Printf("    %s %s\n", symbols[stepResult.Status], step.Name)
		}
	}

	fmt.Printf("Status: %s\n", result.Status)
}
