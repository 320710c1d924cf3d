package engine

import (
	"time"
)

// Artifacts records where the files generated for one leaf were written.
type Artifacts struct {
	// Name is the hierarchical leaf name the files are named after.
	Name string `json:"name"`

	// PlaybookJSON is the path of the canonical JSON playbook.
	PlaybookJSON string `json:"playbook_json"`

	// PlaybookText is the path of the textual (YAML) playbook handed to the command.
	PlaybookText string `json:"playbook_text"`

	// InventoryJSON is the path of the canonical JSON inventory.
	InventoryJSON string `json:"inventory_json"`

	// InventoryText is the path of the textual (YAML) inventory handed to the command.
	InventoryText string `json:"inventory_text"`
}

// CommandResult is the outcome of one external command invocation.
type CommandResult struct {
	// ExitCode is the process exit code.
	ExitCode int `json:"exit_code"`

	// Output is the combined stdout and stderr of the command.
	Output string `json:"output,omitempty"`

	// Duration is the wall time of the command.
	Duration time.Duration `json:"duration"`
}

// Success returns true when the command exited with status zero.
func (r *CommandResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Run represents one deploy of a plan tree.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// Root is the name of the tree root that was deployed.
	Root string `json:"root"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// SynthOnly is true when no external command was executed.
	SynthOnly bool `json:"synth_only"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed (nil if still running).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Summary counts leaves by outcome.
	Summary RunSummary `json:"summary"`

	// Error is the message of the failure that stopped the run, if any.
	Error string `json:"error,omitempty"`
}

// RunSummary counts leaves by outcome.
// Leaves of parallel branches that finish after the run returned are not counted.
type RunSummary struct {
	// Total is the number of leaves in the tree.
	Total int `json:"total"`

	// Synthesized is the number of leaves whose artifacts were written.
	Synthesized int `json:"synthesized"`

	// Succeeded is the number of leaves that completed successfully.
	Succeeded int `json:"succeeded"`

	// Failed is the number of leaves that failed.
	Failed int `json:"failed"`
}

// EventType represents the type of a deploy event.
type EventType string

const (
	// EventTypeRunStarted is emitted when a deploy starts.
	EventTypeRunStarted EventType = "run.started"

	// EventTypeRunCompleted is emitted when a deploy completes successfully.
	EventTypeRunCompleted EventType = "run.completed"

	// EventTypeRunFailed is emitted when a deploy fails.
	EventTypeRunFailed EventType = "run.failed"

	// EventTypeLeafResolved is emitted when a leaf's play has been resolved.
	EventTypeLeafResolved EventType = "leaf.resolved"

	// EventTypeLeafSynthesized is emitted when a leaf's artifacts are written.
	EventTypeLeafSynthesized EventType = "leaf.synthesized"

	// EventTypeCommandStarted is emitted once a permit is held and the command starts.
	EventTypeCommandStarted EventType = "command.started"

	// EventTypeLeafSucceeded is emitted when a leaf completes.
	EventTypeLeafSucceeded EventType = "leaf.succeeded"

	// EventTypeLeafFailed is emitted when a leaf fails.
	EventTypeLeafFailed EventType = "leaf.failed"

	// EventTypeRunSettled carries the final summary of a failed run once
	// the branches still running at failure time have finished.
	EventTypeRunSettled EventType = "run.settled"
)

// Event is a notification about the progress of a deploy.
type Event struct {
	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// Run is a snapshot of the run, set on run-level events only.
	Run *Run `json:"run,omitempty"`

	// Leaf is the leaf name, empty for run-level events.
	Leaf string `json:"leaf,omitempty"`

	// Status is the leaf status after the event.
	Status LeafStatus `json:"status,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Artifacts are set on synthesized and terminal leaf events.
	Artifacts *Artifacts `json:"artifacts,omitempty"`

	// Result is set once a command finished.
	Result *CommandResult `json:"result,omitempty"`

	// Err is the failure, if any.
	Err error `json:"-"`

	// Duration is the time spent on the leaf or run so far.
	Duration time.Duration `json:"duration,omitempty"`
}
