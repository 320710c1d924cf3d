package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a deploy run.
type RunStatus string

const (
	// RunStatusPending indicates the run is created but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every leaf completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run stopped on a failure.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// LeafStatus represents the progress of a single leaf through a deploy.
type LeafStatus string

const (
	// LeafStatusPending indicates the leaf has not been reached yet.
	LeafStatusPending LeafStatus = "pending"

	// LeafStatusResolved indicates the play provider returned a play.
	LeafStatusResolved LeafStatus = "resolved"

	// LeafStatusSynthesized indicates the playbook and inventory were written.
	LeafStatusSynthesized LeafStatus = "synthesized"

	// LeafStatusRunning indicates the external command is running.
	LeafStatusRunning LeafStatus = "running"

	// LeafStatusSucceeded indicates the leaf finished without error.
	LeafStatusSucceeded LeafStatus = "succeeded"

	// LeafStatusFailed indicates the leaf failed at some stage.
	LeafStatusFailed LeafStatus = "failed"
)

// IsTerminal returns true if the leaf will not change status again.
func (s LeafStatus) IsTerminal() bool {
	return s == LeafStatusSucceeded || s == LeafStatusFailed
}

// Validate checks if the leaf status is valid.
func (s LeafStatus) Validate() error {
	switch s {
	case LeafStatusPending, LeafStatusResolved, LeafStatusSynthesized,
		LeafStatusRunning, LeafStatusSucceeded, LeafStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid leaf status: %s", s)
	}
}

// MarshalJSON implements json.Marshaler for RunStatus.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for RunStatus.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := RunStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// MarshalJSON implements json.Marshaler for LeafStatus.
func (s LeafStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for LeafStatus.
func (s *LeafStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := LeafStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}
