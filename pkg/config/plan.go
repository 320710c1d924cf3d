package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/playtree/pkg/engine"
	"github.com/openfroyo/playtree/pkg/inventory"
)

// Root is a plan tree registered by a script under a name.
type Root struct {
	Name string
	Node *engine.Node
}

// Plan holds the trees registered by a plan script in declaration order.
type Plan struct {
	Path  string
	Roots []Root
}

// Names returns the registered root names in declaration order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Roots))
	for i, r := range p.Roots {
		names[i] = r.Name
	}
	return names
}

// Target selects a root by name. An empty name selects the only root of
// a single-root plan.
func (p *Plan) Target(name string) (*Root, error) {
	if name == "" {
		if len(p.Roots) == 1 {
			return &p.Roots[0], nil
		}
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("plan registers %d roots, choose one of: %s", len(p.Roots), strings.Join(p.Names(), ", ")), nil).
			WithCode(engine.ErrCodeUnknownTarget)
	}
	for i := range p.Roots {
		if p.Roots[i].Name == name {
			return &p.Roots[i], nil
		}
	}
	return nil, engine.NewConfigurationError(
		fmt.Sprintf("unknown target %q, known: %s", name, strings.Join(p.Names(), ", ")), nil).
		WithCode(engine.ErrCodeUnknownTarget)
}

// PlanOptions configures plan script evaluation.
type PlanOptions struct {
	// Resolver resolves host references when plays are resolved.
	Resolver HostResolver

	// Vars are exposed to scripts as the predeclared dict "vars".
	Vars map[string]interface{}

	// Timeout bounds script execution. Default 30s.
	Timeout time.Duration
}

// PlanEvaluator executes plan scripts.
type PlanEvaluator struct {
	opts PlanOptions
}

// NewPlanEvaluator creates a plan evaluator.
func NewPlanEvaluator(opts PlanOptions) *PlanEvaluator {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &PlanEvaluator{opts: opts}
}

// LoadPlan executes the script at path.
func (pe *PlanEvaluator) LoadPlan(ctx context.Context, path string) (*Plan, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read plan script %s", path), err)
	}
	return pe.Evaluate(ctx, path, src)
}

// scriptState collects registrations across the main script and the
// modules it loads.
type scriptState struct {
	roots   []Root
	modules map[string]*loadEntry
	dir     string
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

// Evaluate executes script source. filename is used for error positions and
// to resolve load() paths.
func (pe *PlanEvaluator) Evaluate(ctx context.Context, filename string, src []byte) (*Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, pe.opts.Timeout)
	defer cancel()

	state := &scriptState{
		modules: make(map[string]*loadEntry),
		dir:     filepath.Dir(filename),
	}
	predeclared, err := pe.predeclared(state)
	if err != nil {
		return nil, err
	}

	thread := pe.newThread(ctx, state, predeclared, filename)
	if _, err := starlark.ExecFile(thread, filename, src, predeclared); err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("plan script %s failed", filename), scriptError(err))
	}
	if len(state.roots) == 0 {
		return nil, engine.NewConfigurationError(fmt.Sprintf("plan script %s registers no roots", filename), nil)
	}

	return &Plan{Path: filename, Roots: state.roots}, nil
}

func (pe *PlanEvaluator) newThread(ctx context.Context, state *scriptState, predeclared starlark.StringDict, script string) *starlark.Thread {
	thread := &starlark.Thread{
		Name: script,
		Print: func(t *starlark.Thread, msg string) {
			log.Info().Str("script", t.Name).Msg(msg)
		},
	}
	thread.Load = func(t *starlark.Thread, module string) (starlark.StringDict, error) {
		return pe.load(ctx, state, predeclared, module)
	}

	context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	return thread
}

// load executes a module relative to the main script once and caches it.
func (pe *PlanEvaluator) load(ctx context.Context, state *scriptState, predeclared starlark.StringDict, module string) (starlark.StringDict, error) {
	path := module
	if !filepath.IsAbs(path) {
		path = filepath.Join(state.dir, module)
	}

	if e, ok := state.modules[path]; ok {
		if e == nil {
			return nil, fmt.Errorf("cycle in load graph at %s", module)
		}
		return e.globals, e.err
	}
	state.modules[path] = nil

	src, err := os.ReadFile(path)
	if err != nil {
		state.modules[path] = &loadEntry{err: err}
		return nil, err
	}
	thread := pe.newThread(ctx, state, predeclared, path)
	globals, err := starlark.ExecFile(thread, path, src, predeclared)
	state.modules[path] = &loadEntry{globals: globals, err: err}
	return globals, err
}

func (pe *PlanEvaluator) predeclared(state *scriptState) (starlark.StringDict, error) {
	vars, err := toStarlarkValue(toGoMap(pe.opts.Vars))
	if err != nil {
		return nil, engine.NewConfigurationError("invalid plan vars", err)
	}
	vars.Freeze()

	return starlark.StringDict{
		"struct":     starlark.NewBuiltin("struct", starlarkstruct.Make),
		"vars":       vars,
		"host":       starlark.NewBuiltin("host", builtinHost),
		"task":       starlark.NewBuiltin("task", builtinTask),
		"play":       starlark.NewBuiltin("play", pe.builtinPlay),
		"sequential": starlark.NewBuiltin("sequential", builtinComposite(engine.KindSequential)),
		"parallel":   starlark.NewBuiltin("parallel", builtinComposite(engine.KindParallel)),
		"register":   starlark.NewBuiltin("register", state.register),
	}, nil
}

func toGoMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// scriptError keeps the Starlark backtrace when there is one.
func scriptError(err error) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return fmt.Errorf("%s", evalErr.Backtrace())
	}
	return err
}

// host(name, **vars)
func builtinHost(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &name); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%s: name must not be empty", b.Name())
	}
	vars, err := kwargsToParams(kwargs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return &hostValue{host: inventory.StaticHost{Name: name, Vars: vars}}, nil
}

// task(name, module, args=None, **options)
func builtinTask(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name, module string
		taskArgs     starlark.Value = starlark.None
	)
	named, rest := splitKwargs(kwargs, "name", "module", "args")
	if err := starlark.UnpackArgs(b.Name(), args, named, "name", &name, "module", &module, "args?", &taskArgs); err != nil {
		return nil, err
	}
	if module == "" {
		return nil, fmt.Errorf("%s: module must not be empty", b.Name())
	}

	task := engine.Task{Name: name, Module: module}
	if taskArgs != starlark.None {
		v, err := fromStarlarkValue(taskArgs)
		if err != nil {
			return nil, fmt.Errorf("%s: args: %w", b.Name(), err)
		}
		p, ok := v.(engine.Params)
		if !ok {
			return nil, fmt.Errorf("%s: args must be a dict, got %s", b.Name(), taskArgs.Type())
		}
		task.Args = p
	}
	options, err := kwargsToParams(rest)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	task.Options = options
	return &taskValue{task: task}, nil
}

// play(name, hosts=[], tasks=[], **options)
func (pe *PlanEvaluator) builtinPlay(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name         string
		hosts, tasks *starlark.List
	)
	named, rest := splitKwargs(kwargs, "name", "hosts", "tasks")
	if err := starlark.UnpackArgs(b.Name(), args, named, "name", &name, "hosts?", &hosts, "tasks?", &tasks); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%s: name must not be empty", b.Name())
	}

	provider := &scriptPlay{name: name, resolver: pe.opts.Resolver}
	if hosts != nil {
		for i := 0; i < hosts.Len(); i++ {
			switch h := hosts.Index(i).(type) {
			case *hostValue:
				provider.hosts = append(provider.hosts, hostRef{capability: h.host})
			case starlark.String:
				if h == "" {
					return nil, fmt.Errorf("%s %q: host reference %d is empty", b.Name(), name, i)
				}
				provider.hosts = append(provider.hosts, hostRef{ref: string(h)})
			default:
				return nil, fmt.Errorf("%s %q: hosts[%d] must be a host or a string, got %s", b.Name(), name, i, h.Type())
			}
		}
	}
	if tasks != nil {
		for i := 0; i < tasks.Len(); i++ {
			t, ok := tasks.Index(i).(*taskValue)
			if !ok {
				return nil, fmt.Errorf("%s %q: tasks[%d] must be a task, got %s", b.Name(), name, i, tasks.Index(i).Type())
			}
			provider.tasks = append(provider.tasks, t.task)
		}
	}
	options, err := kwargsToParams(rest)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	provider.options = options

	return &nodeValue{node: engine.Single(provider)}, nil
}

// sequential(*children) and parallel(*children)
func builtinComposite(kind engine.NodeKind) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		children := make([]*engine.Node, 0, len(args))
		for i, arg := range args {
			n, ok := arg.(*nodeValue)
			if !ok {
				return nil, fmt.Errorf("%s: argument %d must be a node, got %s", b.Name(), i, arg.Type())
			}
			children = append(children, n.node)
		}
		if kind == engine.KindParallel {
			return &nodeValue{node: engine.Parallel(children...)}, nil
		}
		return &nodeValue{node: engine.Sequential(children...)}, nil
	}
}

// register(name, node)
func (s *scriptState) register(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name string
		node *nodeValue
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "node", &node); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%s: name must not be empty", b.Name())
	}
	for _, r := range s.roots {
		if r.Name == name {
			return nil, fmt.Errorf("%s: root %q registered twice", b.Name(), name)
		}
	}
	s.roots = append(s.roots, Root{Name: name, Node: node.node})
	return starlark.None, nil
}

// splitKwargs separates the named parameters of a builtin from free-form
// options, keeping the options in call order.
func splitKwargs(kwargs []starlark.Tuple, names ...string) (named, rest []starlark.Tuple) {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for _, kv := range kwargs {
		if known[string(kv[0].(starlark.String))] {
			named = append(named, kv)
		} else {
			rest = append(rest, kv)
		}
	}
	return named, rest
}

// hostRef is either a ready capability or a reference to resolve.
type hostRef struct {
	capability engine.HostCapability
	ref        string
}

// scriptPlay is a play declared in a plan script. Host references are
// resolved when the play itself is resolved.
type scriptPlay struct {
	name     string
	hosts    []hostRef
	tasks    []engine.Task
	options  engine.Params
	resolver HostResolver
}

func (p *scriptPlay) Name() string {
	return p.name
}

func (p *scriptPlay) Resolve(ctx context.Context) (*engine.Play, error) {
	play := &engine.Play{
		Name:    p.name,
		Options: p.options,
		Tasks:   p.tasks,
	}
	for _, h := range p.hosts {
		if h.capability != nil {
			play.Hosts = append(play.Hosts, h.capability)
			continue
		}
		if p.resolver == nil {
			return nil, fmt.Errorf("play %s: no resolver for host reference %q", p.name, h.ref)
		}
		caps, err := p.resolver.ResolveRef(ctx, h.ref)
		if err != nil {
			return nil, fmt.Errorf("play %s: %w", p.name, err)
		}
		play.Hosts = append(play.Hosts, caps...)
	}
	return play, nil
}

// HostRefs lists the string host references of every play in the tree
// under root, sorted and deduplicated. Plays are not resolved.
func HostRefs(root *engine.Node) []string {
	seen := make(map[string]bool)
	_ = root.Walk("", func(_ string, leaf *engine.Leaf) error {
		if sp, ok := leaf.Provider().(*scriptPlay); ok {
			for _, h := range sp.hosts {
				if h.ref != "" {
					seen[h.ref] = true
				}
			}
		}
		return nil
	})
	refs := make([]string, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}
