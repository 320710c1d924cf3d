package engine

import (
	"context"
	"encoding/json"
)

// HostCapability yields a host name and its variables on demand.
//
// The same capability is consulted once to build a play's host list and,
// separately, to build the deployment inventory, so implementations must
// return the same answer every time. Capabilities may be shared between plays.
type HostCapability interface {
	Resolve(ctx context.Context) (name string, vars Params, err error)
}

// HostFunc adapts a function to the HostCapability interface.
type HostFunc func(ctx context.Context) (string, Params, error)

// Resolve calls f(ctx).
func (f HostFunc) Resolve(ctx context.Context) (string, Params, error) {
	return f(ctx)
}

// Task is a single configuration-management step of a play.
type Task struct {
	// Name describes the task in the generated playbook.
	Name string `json:"name"`

	// Module is the configuration-management module the task invokes.
	Module string `json:"module"`

	// Args are the module arguments.
	Args Params `json:"args,omitempty"`

	// Options are task-level keywords such as become, when or register.
	Options Params `json:"options,omitempty"`
}

// MarshalJSON encodes the task in playbook form: name, module keyed by its
// arguments, then task options in order.
func (t Task) MarshalJSON() ([]byte, error) {
	doc := Params{{Key: "name", Value: t.Name}}
	args := t.Args
	if args == nil {
		args = Params{}
	}
	doc = append(doc, Param{Key: t.Module, Value: args})
	for _, opt := range t.Options {
		if opt.Key == "name" || opt.Key == t.Module {
			continue
		}
		doc = append(doc, opt)
	}
	return json.Marshal(doc)
}

// Play is a deployable unit: a named set of tasks applied to hosts.
// A Play is immutable once a provider has returned it.
type Play struct {
	// Name is the human-readable play name.
	Name string

	// Hosts are the capabilities that produce the target host names.
	Hosts []HostCapability

	// Options are play-level keywords (become, gather_facts, vars, ...).
	Options Params

	// Tasks are executed in order.
	Tasks []Task
}

// PlayProvider is a lazy source of a Play.
//
// Name is known without resolving and is used to name the leaf. Resolve may
// block and may fail; the plan tree calls it at most once per leaf and never
// retries a failure.
type PlayProvider interface {
	Name() string
	Resolve(ctx context.Context) (*Play, error)
}

type staticProvider struct {
	play *Play
}

// StaticProvider wraps an already built play.
func StaticProvider(play *Play) PlayProvider {
	return staticProvider{play: play}
}

func (s staticProvider) Name() string { return s.play.Name }

func (s staticProvider) Resolve(context.Context) (*Play, error) { return s.play, nil }

type funcProvider struct {
	name string
	fn   func(ctx context.Context) (*Play, error)
}

// ProviderFunc adapts a named function to the PlayProvider interface.
func ProviderFunc(name string, fn func(ctx context.Context) (*Play, error)) PlayProvider {
	return funcProvider{name: name, fn: fn}
}

func (f funcProvider) Name() string { return f.name }

func (f funcProvider) Resolve(ctx context.Context) (*Play, error) { return f.fn(ctx) }
