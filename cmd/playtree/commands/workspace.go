package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/playtree/pkg/artifact"
	"github.com/openfroyo/playtree/pkg/config"
	"github.com/openfroyo/playtree/pkg/engine"
	"github.com/openfroyo/playtree/pkg/inventory"
	"github.com/openfroyo/playtree/pkg/policy"
	"github.com/openfroyo/playtree/pkg/runner"
	"github.com/openfroyo/playtree/pkg/stores"
	"github.com/openfroyo/playtree/pkg/telemetry"
	sshtransport "github.com/openfroyo/playtree/pkg/transports/ssh"
)

// workspace carries the project a command operates on together with the
// resources opened for it.
type workspace struct {
	project   *config.Project
	telemetry *telemetry.Config
	logger    zerolog.Logger
	store     *stores.SQLiteStore
	out       io.Writer
	errOut    io.Writer
}

// openWorkspace loads the project file named by --config and installs the
// logger it configures.
func openWorkspace(cmd *cobra.Command) (*workspace, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}
	project, err := loader.LoadProject(configPath)
	if err != nil {
		return nil, err
	}

	tcfg := telemetryConfig(project)
	if err := tcfg.Validate(); err != nil {
		return nil, engine.NewConfigurationError("invalid telemetry settings", err)
	}
	logger, err := telemetry.NewLogger(tcfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, engine.NewConfigurationError("invalid logging settings", err)
	}
	// Levels are enforced per logger from here on.
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log.Logger = logger

	return &workspace{
		project:   project,
		telemetry: tcfg,
		logger:    logger,
		out:       cmd.OutOrStdout(),
		errOut:    cmd.ErrOrStderr(),
	}, nil
}

func telemetryConfig(project *config.Project) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = project.Telemetry.LogLevel
	cfg.Logging.Format = project.Telemetry.LogFormat
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.Tracing.Exporter = project.Telemetry.Tracing
	if project.Telemetry.OTLPEndpoint != "" {
		cfg.Tracing.Endpoint = project.Telemetry.OTLPEndpoint
	}
	cfg.Metrics.ListenAddress = project.Telemetry.MetricsAddr
	return cfg
}

// openStore opens and migrates the project database, creating its
// directory when needed.
func (ws *workspace) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if ws.store != nil {
		return ws.store, nil
	}

	path := ws.project.Path(ws.project.Store.Path)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	ws.store = store
	return store, nil
}

// Close releases the resources opened for the workspace.
func (ws *workspace) Close() error {
	if ws.store == nil {
		return nil
	}
	err := ws.store.Close()
	ws.store = nil
	return err
}

// loadPlan evaluates the plan script with the given "key=value" vars.
// Registry references resolve against the store when it is open.
func (ws *workspace) loadPlan(ctx context.Context, vars []string) (*config.Plan, error) {
	values, err := parseVars(vars)
	if err != nil {
		return nil, err
	}

	static := make([]inventory.StaticHost, len(ws.project.Hosts))
	for i, h := range ws.project.Hosts {
		static[i] = inventory.StaticHost{Name: h.Name, Vars: h.Vars}
	}
	opts := []inventory.ResolverOption{
		inventory.WithStaticHosts(static...),
		inventory.WithBaseDir(ws.project.Dir),
	}
	if ws.store != nil {
		opts = append(opts, inventory.WithRegistry(ws.store))
	}

	evaluator := config.NewPlanEvaluator(config.PlanOptions{
		Resolver: inventory.NewResolver(opts...),
		Vars:     values,
	})
	return evaluator.LoadPlan(ctx, ws.project.Path(ws.project.Plan))
}

// parseVars turns repeated "key=value" flags into plan variables. Later
// keys win.
func parseVars(vars []string) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(vars))
	for _, v := range vars {
		key, value, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", v)
		}
		values[strings.TrimSpace(key)] = value
	}
	return values, nil
}

// newSynthesizer builds a synthesizer writing to the project's output
// directories, gated by the configured policies unless skipPolicy is set.
func (ws *workspace) newSynthesizer(ctx context.Context, skipPolicy bool) (*engine.Synthesizer, error) {
	writer, err := artifact.NewFileWriter(
		ws.project.Path(ws.project.Output.Playbooks),
		ws.project.Path(ws.project.Output.Inventories),
	)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid output directories", err)
	}

	opts := []engine.SynthOption{
		engine.WithSynthLogger(telemetry.ComponentLogger(ws.logger, "synthesizer")),
	}
	if !skipPolicy {
		checker, err := ws.policyEngine(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithPlayChecker(checker))
	}
	return engine.NewSynthesizer(writer, opts...), nil
}

// policyEngine loads the built-in policies plus those named in the project.
func (ws *workspace) policyEngine(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(telemetry.ComponentLogger(ws.logger, "policy"))
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(ws.project.Policies) == 0 {
		return pe, nil
	}
	if err := pe.LoadPolicies(ctx, ws.policyPaths()); err != nil {
		return nil, engine.NewConfigurationError("failed to load policies", err)
	}
	return pe, nil
}

func (ws *workspace) policyPaths() []string {
	paths := make([]string, len(ws.project.Policies))
	for i, p := range ws.project.Policies {
		paths[i] = ws.project.Path(p)
	}
	return paths
}

// newRunner returns the command runner for the project: local by default,
// over SSH when a remote control host is configured. The returned closer
// releases the SSH connection.
func (ws *workspace) newRunner(ctx context.Context, command string) (engine.Runner, func() error, error) {
	noop := func() error { return nil }

	remote := ws.project.Remote
	if remote == nil {
		local, err := runner.NewLocal(command,
			runner.WithWorkDir(ws.project.Dir),
			runner.WithLogger(telemetry.ComponentLogger(ws.logger, "runner")),
		)
		if err != nil {
			return nil, noop, engine.NewConfigurationError("invalid deploy command", err)
		}
		return local, noop, nil
	}

	cfg := sshtransport.DefaultConfig(remote.Host, remote.User)
	cfg.Port = remote.Port
	cfg.StrictHostKeyChecking = remote.StrictHostKeyChecking
	if remote.KnownHosts != "" {
		cfg.KnownHostsPath = ws.project.Path(remote.KnownHosts)
	}
	if remote.Password != "" {
		cfg.AuthMethod = sshtransport.AuthMethodPassword
		cfg.Password = remote.Password
	} else if remote.KeyPath != "" {
		cfg.PrivateKeyPath = ws.project.Path(remote.KeyPath)
	}

	client, err := sshtransport.NewClient(cfg)
	if err != nil {
		return nil, noop, engine.NewConfigurationError("invalid remote settings", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, noop, fmt.Errorf("failed to connect to %s: %w", remote.Host, err)
	}

	r, err := runner.NewRemote(command, client, remote.WorkDir,
		runner.WithRemoteLogger(telemetry.ComponentLogger(ws.logger, "runner")),
	)
	if err != nil {
		_ = client.Close()
		return nil, noop, engine.NewConfigurationError("invalid deploy command", err)
	}

	ws.logger.Info().
		Str("host", remote.Host).
		Int("port", remote.Port).
		Str("workdir", remote.WorkDir).
		Msg("Running commands on remote control host")
	return r, client.Close, nil
}

// observability bundles the telemetry sinks of a deploy.
type observability struct {
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	publisher *telemetry.EventPublisher
}

// startTelemetry creates metrics, tracing and the event publisher. Under
// --json every event is written to stdout as one line of JSON. The metrics
// endpoint, when configured, is served until ctx is done.
func (ws *workspace) startTelemetry(ctx context.Context) (*observability, error) {
	metrics := telemetry.NewMetrics(ws.telemetry.Metrics)
	if err := metrics.Serve(ctx, telemetry.ComponentLogger(ws.logger, "metrics")); err != nil {
		return nil, fmt.Errorf("failed to serve metrics: %w", err)
	}

	tracer, err := telemetry.NewTracer(ctx, ws.telemetry.Tracing,
		ws.telemetry.ServiceName, ws.telemetry.ServiceVersion, ws.errOut)
	if err != nil {
		return nil, err
	}

	publisher := telemetry.NewEventPublisher()
	if jsonOutput {
		publisher.Subscribe(telemetry.JSONLines(ws.out), nil)
	}

	return &observability{
		metrics:   metrics,
		tracer:    tracer,
		publisher: publisher,
	}, nil
}

// Shutdown flushes pending spans.
func (o *observability) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.tracer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush traces")
	}
}

// newDeployer wires a deployer with telemetry and run recording.
func (ws *workspace) newDeployer(synth *engine.Synthesizer, run engine.Runner, opts engine.DeployOptions, obs *observability) (*engine.Deployer, error) {
	observers := engine.Observers{
		telemetry.NewObserver(telemetry.ComponentLogger(ws.logger, "deploy"), obs.metrics, obs.publisher),
	}
	if ws.store != nil {
		observers = append(observers, stores.NewRecorder(ws.store, opts.MaxConcurrent))
	}

	return engine.NewDeployer(synth, run, opts,
		engine.WithObserver(observers),
		engine.WithTracer(obs.tracer.Tracer()),
		engine.WithDeployLogger(telemetry.ComponentLogger(ws.logger, "deployer")),
	)
}
