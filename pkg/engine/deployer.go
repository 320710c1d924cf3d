package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const tracerName = "github.com/openfroyo/playtree/pkg/engine"

// DeployOptions controls how a plan tree is executed.
type DeployOptions struct {
	// MaxConcurrent is the number of external commands that may run at once
	// across the whole tree. Must be at least 1.
	MaxConcurrent int64

	// SynthOnly writes artifacts for every leaf without running the command.
	SynthOnly bool
}

// Deployer walks a plan tree and runs the external command once per leaf.
//
// Sequential children run in declared order and the first failure stops the
// remaining siblings. Parallel children are all started at once; the first
// failure is returned immediately while the other branches keep running to
// completion. A single permit pool, shared by every node, bounds the number
// of commands running at the same time.
type Deployer struct {
	synth    *Synthesizer
	runner   Runner
	opts     DeployOptions
	sem      *semaphore.Weighted
	observer Observer
	tracer   trace.Tracer
	logger   zerolog.Logger

	// wg tracks parallel branches, including those still running after
	// their parent returned a sibling's failure.
	wg sync.WaitGroup

	mu        sync.Mutex
	unsettled map[string]*runState
}

// DeployerOption configures a Deployer.
type DeployerOption func(*Deployer)

// WithObserver sets the observer receiving deploy events.
func WithObserver(observer Observer) DeployerOption {
	return func(d *Deployer) {
		d.observer = observer
	}
}

// WithTracer sets the tracer used for node spans.
func WithTracer(tracer trace.Tracer) DeployerOption {
	return func(d *Deployer) {
		d.tracer = tracer
	}
}

// WithDeployLogger sets the logger used for deploy diagnostics.
func WithDeployLogger(logger zerolog.Logger) DeployerOption {
	return func(d *Deployer) {
		d.logger = logger
	}
}

// NewDeployer creates a deployer. Invalid options are reported as
// configuration errors before any tree is touched.
func NewDeployer(synth *Synthesizer, runner Runner, opts DeployOptions, options ...DeployerOption) (*Deployer, error) {
	if synth == nil {
		return nil, NewConfigurationError("synthesizer is nil", nil)
	}
	if opts.MaxConcurrent < 1 {
		return nil, NewConfigurationError(
			fmt.Sprintf("max concurrency must be at least 1, got %d", opts.MaxConcurrent), nil).
			WithCode(ErrCodeInvalidConcurrency)
	}
	if runner == nil && !opts.SynthOnly {
		return nil, NewConfigurationError("a command runner is required unless synth-only is set", nil).
			WithCode(ErrCodeMissingRunner)
	}

	d := &Deployer{
		synth:  synth,
		runner: runner,
		opts:   opts,
		sem:    semaphore.NewWeighted(opts.MaxConcurrent),
		tracer: otel.Tracer(tracerName),
		logger: log.Logger.With().Str("component", "deployer").Logger(),

		unsettled: make(map[string]*runState),
	}
	for _, o := range options {
		o(d)
	}
	return d, nil
}

// runState carries the per-run bookkeeping shared by all goroutines of a deploy.
type runState struct {
	run *Run

	mu      sync.Mutex
	summary RunSummary
}

func (st *runState) count(f func(*RunSummary)) {
	st.mu.Lock()
	f(&st.summary)
	st.mu.Unlock()
}

// Deploy executes the tree under root. The returned Run is populated in
// both the success and the failure case.
func (d *Deployer) Deploy(ctx context.Context, root *Node, rootName string) (*Run, error) {
	st := &runState{
		run: &Run{
			ID:        uuid.New().String(),
			Root:      rootName,
			Status:    RunStatusRunning,
			SynthOnly: d.opts.SynthOnly,
			StartedAt: time.Now(),
		},
	}
	st.summary.Total = root.LeafCount()

	ctx, span := d.tracer.Start(ctx, "plan.deploy", trace.WithAttributes(
		attribute.String("plan.root", rootName),
		attribute.String("plan.run_id", st.run.ID),
		attribute.Int("plan.leaves", st.summary.Total),
		attribute.Bool("plan.synth_only", d.opts.SynthOnly),
	))
	defer span.End()

	started := *st.run
	d.emit(ctx, &Event{
		Type:    EventTypeRunStarted,
		RunID:   st.run.ID,
		Run:     &started,
		Message: fmt.Sprintf("Deploying %s (%d leaves)", rootName, st.summary.Total),
	})

	err := CheckUniqueNames(root, rootName)
	if err == nil {
		err = d.synth.Reset()
	}
	if err == nil {
		err = d.deployNode(ctx, st, root, rootName)
	}

	return d.finish(ctx, span, st, err), err
}

func (d *Deployer) finish(ctx context.Context, span trace.Span, st *runState, err error) *Run {
	run := st.run
	completedAt := time.Now()
	run.CompletedAt = &completedAt
	run.Duration = completedAt.Sub(run.StartedAt)

	st.mu.Lock()
	run.Summary = st.summary
	st.mu.Unlock()

	event := &Event{RunID: run.ID, Duration: run.Duration}
	if err != nil {
		d.mu.Lock()
		d.unsettled[run.ID] = st
		d.mu.Unlock()

		run.Status = RunStatusFailed
		run.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		event.Type = EventTypeRunFailed
		event.Err = err
		event.Message = fmt.Sprintf("Run failed: %v", err)
	} else {
		run.Status = RunStatusSucceeded
		span.SetStatus(codes.Ok, "")
		event.Type = EventTypeRunCompleted
		event.Message = "Run completed successfully"
	}
	snapshot := *run
	event.Run = &snapshot
	d.emit(ctx, event)
	return run
}

// Wait blocks until every parallel branch started by previous deploys has
// finished, including branches whose failures were not surfaced.
func (d *Deployer) Wait() {
	d.wg.Wait()
}

// Settle waits like Wait, then refreshes the summary of a failed run with
// the outcomes of branches that finished after Deploy returned. Observers
// get a run.settled event when the counts changed. Runs that succeeded are
// already final and returned unchanged.
func (d *Deployer) Settle(ctx context.Context, run *Run) *Run {
	d.Wait()
	if run == nil {
		return nil
	}

	d.mu.Lock()
	st, ok := d.unsettled[run.ID]
	delete(d.unsettled, run.ID)
	d.mu.Unlock()
	if !ok {
		return run
	}

	st.mu.Lock()
	summary := st.summary
	st.mu.Unlock()
	if summary == run.Summary {
		return run
	}

	run.Summary = summary
	snapshot := *run
	d.emit(ctx, &Event{
		Type:     EventTypeRunSettled,
		RunID:    run.ID,
		Run:      &snapshot,
		Duration: run.Duration,
		Message: fmt.Sprintf("Run settled: %d succeeded, %d failed of %d",
			summary.Succeeded, summary.Failed, summary.Total),
	})
	return run
}

func (d *Deployer) deployNode(ctx context.Context, st *runState, n *Node, name string) error {
	switch n.kind {
	case KindSequential:
		return d.deploySequential(ctx, st, n, name)
	case KindParallel:
		return d.deployParallel(ctx, st, n, name)
	default:
		return d.deployLeaf(ctx, st, LeafName(name, n.leaf.Name()), n.leaf)
	}
}

func (d *Deployer) deploySequential(ctx context.Context, st *runState, n *Node, name string) error {
	ctx, span := d.tracer.Start(ctx, "plan.sequential", trace.WithAttributes(
		attribute.String("plan.node", name),
		attribute.Int("plan.children", len(n.children)),
	))
	defer span.End()

	for i, child := range n.children {
		if err := d.deployNode(ctx, st, child, ChildName(name, KindSequential, i)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "child failed")
			return fmt.Errorf("sequential %s step %d: %w", name, i, err)
		}
	}
	return nil
}

func (d *Deployer) deployParallel(ctx context.Context, st *runState, n *Node, name string) error {
	ctx, span := d.tracer.Start(ctx, "plan.parallel", trace.WithAttributes(
		attribute.String("plan.node", name),
		attribute.Int("plan.children", len(n.children)),
	))
	defer span.End()

	// Buffered so branches finishing after we returned never block.
	results := make(chan error, len(n.children))
	for i, child := range n.children {
		childName := ChildName(name, KindParallel, i)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			err := d.deployNode(ctx, st, child, childName)
			if err != nil {
				err = fmt.Errorf("parallel %s branch %d: %w", name, i, err)
			}
			results <- err
		}()
	}

	for received := 0; received < len(n.children); received++ {
		err := <-results
		if err == nil {
			continue
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "branch failed")
		if remaining := len(n.children) - received - 1; remaining > 0 {
			d.wg.Add(1)
			go d.drain(results, remaining)
		}
		return err
	}
	return nil
}

// drain collects results of branches still running after their parallel
// node reported a failure. Their failures are logged, not surfaced.
func (d *Deployer) drain(results <-chan error, remaining int) {
	defer d.wg.Done()
	for ; remaining > 0; remaining-- {
		if err := <-results; err != nil {
			d.logger.Debug().
				Str("leaf", LeafOf(err)).
				Err(err).
				Msg("Parallel branch failed after a sibling failure was reported")
		}
	}
}

func (d *Deployer) deployLeaf(ctx context.Context, st *runState, name string, leaf *Leaf) (err error) {
	ctx, span := d.tracer.Start(ctx, "plan.leaf", trace.WithAttributes(
		attribute.String("plan.leaf", name),
	))
	defer span.End()

	start := time.Now()
	var (
		art    *Artifacts
		result *CommandResult
	)
	defer func() {
		event := &Event{
			RunID:     st.run.ID,
			Leaf:      name,
			Artifacts: art,
			Result:    result,
			Duration:  time.Since(start),
		}
		if err != nil {
			st.count(func(s *RunSummary) { s.Failed++ })
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			event.Type = EventTypeLeafFailed
			event.Status = LeafStatusFailed
			event.Err = err
			event.Message = err.Error()
		} else {
			st.count(func(s *RunSummary) { s.Succeeded++ })
			span.SetStatus(codes.Ok, "")
			event.Type = EventTypeLeafSucceeded
			event.Status = LeafStatusSucceeded
			event.Message = "Leaf completed"
		}
		d.emit(ctx, event)
	}()

	play, err := d.synth.Prepare(ctx, name, leaf)
	if err != nil {
		return err
	}
	d.emit(ctx, &Event{
		Type:    EventTypeLeafResolved,
		RunID:   st.run.ID,
		Leaf:    name,
		Status:  LeafStatusResolved,
		Message: fmt.Sprintf("Resolved play %q with %d hosts", play.Name, len(play.Hosts)),
	})

	art, err = d.synth.SynthLeaf(ctx, name, play)
	if err != nil {
		return err
	}
	st.count(func(s *RunSummary) { s.Synthesized++ })
	d.emit(ctx, &Event{
		Type:      EventTypeLeafSynthesized,
		RunID:     st.run.ID,
		Leaf:      name,
		Status:    LeafStatusSynthesized,
		Artifacts: art,
		Message:   "Artifacts written",
	})

	if d.opts.SynthOnly {
		return nil
	}

	result, err = d.execute(ctx, st, name, art)
	return err
}

// execute runs the command for one leaf while holding a permit.
func (d *Deployer) execute(ctx context.Context, st *runState, name string, art *Artifacts) (*CommandResult, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, NewExecutionError("failed to acquire execution permit", err).
			WithLeaf(name).
			WithCode(ErrCodeCommandStart)
	}
	defer d.sem.Release(1)

	ctx, span := d.tracer.Start(ctx, "runner.exec", trace.WithAttributes(
		attribute.String("plan.leaf", name),
		attribute.String("runner.inventory", art.InventoryText),
		attribute.String("runner.playbook", art.PlaybookText),
	))
	defer span.End()

	d.emit(ctx, &Event{
		Type:      EventTypeCommandStarted,
		RunID:     st.run.ID,
		Leaf:      name,
		Status:    LeafStatusRunning,
		Artifacts: art,
		Message:   "Command started",
	})

	result, err := d.runner.Run(ctx, art.InventoryText, art.PlaybookText)
	if err == nil && result == nil {
		err = errors.New("runner returned no result")
	}
	if err != nil {
		span.RecordError(err)
		execErr := NewExecutionError("failed to run command", err).
			WithLeaf(name).
			WithCode(ErrCodeCommandStart)
		if result != nil {
			execErr = execErr.WithOutput(result.Output)
		}
		return result, execErr
	}

	span.SetAttributes(attribute.Int("runner.exit_code", result.ExitCode))
	if result.ExitCode != 0 {
		return result, NewExecutionError(fmt.Sprintf("command exited with status %d", result.ExitCode), nil).
			WithLeaf(name).
			WithCode(ErrCodeCommandFailed).
			WithOutput(result.Output).
			WithDetail("exit_code", result.ExitCode)
	}
	return result, nil
}

func (d *Deployer) emit(ctx context.Context, event *Event) {
	if d.observer == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	d.observer.Observe(ctx, event)
}
