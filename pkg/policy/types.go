package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that reject a play.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that reject a play.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity reject a play.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Leaf is the name of the leaf whose play was checked.
	Leaf string `json:"leaf"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of checking one play.
type Result struct {
	// Allowed indicates if the play may be synthesized.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block the play.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies are evaluated against.
type Input struct {
	Leaf string    `json:"leaf"`
	Play PlayInput `json:"play"`
}

// PlayInput summarizes a resolved play.
type PlayInput struct {
	Name      string      `json:"name"`
	HostCount int         `json:"host_count"`
	Options   interface{} `json:"options"`
	Tasks     []TaskInput `json:"tasks"`
}

// TaskInput summarizes a task of a play.
type TaskInput struct {
	Name    string      `json:"name"`
	Module  string      `json:"module"`
	Args    interface{} `json:"args"`
	Options interface{} `json:"options"`
}
