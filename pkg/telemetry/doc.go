// Package telemetry provides logging, metrics, tracing and event
// publishing for deploys.
//
// # Logging
//
// NewLogger builds a zerolog logger in console or json format. The CLI
// installs it as the global logger, so every package logging through
// github.com/rs/zerolog/log shares its level and format.
//
// # Metrics
//
// Metrics registers the deploy collectors on a private Prometheus registry:
//
//	playtree_runs_total{status}
//	playtree_run_duration_seconds{status}
//	playtree_leaves_total{status}
//	playtree_leaf_duration_seconds
//	playtree_commands_running
//	playtree_command_duration_seconds{result}
//
// Serve exposes them over HTTP when a listen address is configured.
//
// # Tracing
//
// NewTracer sets up an OpenTelemetry tracer provider exporting through OTLP
// gRPC or to a writer. The deployer opens one span per node.
//
// # Events
//
// Observer implements engine.Observer. It logs every deploy event, updates
// the metrics and republishes the event through an EventPublisher, whose
// JSONLines subscriber backs the CLI's --json output:
//
//	publisher := telemetry.NewEventPublisher()
//	publisher.Subscribe(telemetry.JSONLines(os.Stdout), nil)
//	observer := telemetry.NewObserver(log.Logger, metrics, publisher)
//	deployer, err := engine.NewDeployer(synth, runner, opts, engine.WithObserver(observer))
package telemetry
