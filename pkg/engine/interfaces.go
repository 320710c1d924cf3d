package engine

import (
	"context"
)

// ArtifactKind distinguishes the two files written per leaf.
type ArtifactKind string

const (
	// ArtifactPlaybook is the playbook written for a leaf.
	ArtifactPlaybook ArtifactKind = "playbook"

	// ArtifactInventory is the inventory written for a leaf.
	ArtifactInventory ArtifactKind = "inventory"
)

// ArtifactWriter persists generated documents.
type ArtifactWriter interface {
	// Reset deletes and recreates the output directories.
	Reset() error

	// Write stores doc under name in the directory for kind, once as canonical
	// JSON and once as text derived from that JSON, and returns both paths.
	Write(kind ArtifactKind, name string, doc interface{}) (jsonPath, textPath string, err error)
}

// Runner invokes the external configuration-management command for one leaf.
type Runner interface {
	// Run executes the command against the given inventory and playbook files.
	// A non-nil error means the command could not be started or waited on;
	// a non-zero exit is reported through CommandResult.ExitCode.
	Run(ctx context.Context, inventoryPath, playbookPath string) (*CommandResult, error)
}

// PlayChecker gates a resolved play before its artifacts are written.
type PlayChecker interface {
	// CheckPlay returns an error when the play must not be synthesized.
	CheckPlay(ctx context.Context, leaf string, play *Play) error
}

// Observer receives deploy events. Observe is called synchronously from the
// goroutine driving the leaf, possibly from several goroutines at once, and
// must not block.
type Observer interface {
	Observe(ctx context.Context, event *Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event *Event)

// Observe calls f(ctx, event).
func (f ObserverFunc) Observe(ctx context.Context, event *Event) {
	f(ctx, event)
}

// Observers fans an event out to several observers in order.
type Observers []Observer

// Observe implements Observer.
func (o Observers) Observe(ctx context.Context, event *Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, event)
		}
	}
}
