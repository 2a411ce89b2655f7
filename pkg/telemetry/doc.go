// Package telemetry provides observability instrumentation for IdLE.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring and debugging identity lifecycle runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async notification channel for subscribers
//
// The event publisher is a side channel for operator-facing notifications.
// The authoritative per-run timeline is the engine's execution result and
// the run store; nothing here replaces those.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "idle"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithRunID("run-123").WithWorkflow("joiner-standard")
//	logger.Info("Executing plan")
//	logger.WithError(err).Error("Step failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// Packages that take a zerolog.Logger directly (engine, stores, policy,
// workflow) receive tel.Logger.Zerolog().
//
// # Distributed Tracing
//
// Tracing provides visibility into run execution and provider latency:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, workflow)
//	defer span.End()
//
//	// Nested step span
//	ctx, stepSpan := tel.Tracer.StartStepSpan(ctx, "create-account", "IdLE.Step.CreateIdentity")
//	defer stepSpan.End()
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(stepSpan, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development), None (testing)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	tel.Metrics.RecordRunStarted("joiner-standard", "Joiner")
//	tel.Metrics.RecordRunCompleted("Completed", duration)
//	tel.Metrics.RecordStepExecution("IdLE.Step.CreateIdentity", "Succeeded", duration)
//	tel.Metrics.RecordProviderCall("directory", "CreateIdentity", duration)
//	tel.Metrics.RecordError("transient", "TIMEOUT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	tel.Events.PublishRunStarted(runID, "joiner-standard", "Joiner")
//	tel.Events.PublishStepCompleted(runID, "create-account", duration)
//	tel.Events.PublishPolicyViolation("leaver-standard", "offboarding-order", reason)
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByWorkflow
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "plan.build",
//	    telemetry.AttrWorkflowName.String(workflow))
//	defer ic.End(err)
//
//	// Run context
//	ctx = telemetry.WithRunContext(ctx, runID, workflow, lifecycleEvent)
//	defer telemetry.EndRunContext(ctx, runID, status, err)
//
//	// Step context
//	ctx = telemetry.WithStepContext(ctx, runID, stepName, stepType)
//	defer telemetry.EndStepContext(ctx, runID, stepName, stepType, status, err)
//
//	// Provider operation
//	err := telemetry.RecordProviderOperation(ctx, "directory", "CreateIdentity", func() error {
//	    return provider.CreateIdentity(ctx, req)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName:    "idle",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level:  "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled:      true,
//	        Exporter:     "otlp",
//	        Endpoint:     "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled:       true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - idle_runs_started_total{workflow,lifecycle_event}
//   - idle_runs_completed_total{status}
//   - idle_run_duration_seconds{status}
//   - idle_steps_executed_total{type,status}
//   - idle_step_duration_seconds{type}
//   - idle_step_retries_total{type}
//   - idle_policy_violations_total{policy,severity}
//   - idle_provider_calls_total{provider,operation}
//   - idle_provider_call_duration_seconds{provider,operation}
//   - idle_provider_errors_total{provider,operation}
//   - idle_sessions_opened_total{provider}
//   - idle_errors_by_class_total{class}
//   - idle_active_runs
//   - idle_loaded_workflows
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures buffered events are delivered and pending traces are exported.
//
// # Security Considerations
//
//   - Never log session material or credentials; the engine redacts sensitive
//     step parameters before they reach any sink
//   - Use secure connections (TLS) for trace exporters in production
//   - Limit metrics endpoint access via network policies
package telemetry
