package engine

import (
	"errors"
	"fmt"
)

// ErrorClass identifies the stage of the plan lifecycle an error came from.
type ErrorClass string

const (
	// ErrorClassResolution indicates a lazy play provider or host capability failed to resolve.
	ErrorClassResolution ErrorClass = "resolution"

	// ErrorClassSynthesis indicates artifacts could not be encoded or written.
	// Policy denials are reported in this class as well.
	ErrorClassSynthesis ErrorClass = "synthesis"

	// ErrorClassExecution indicates the external command could not start or exited non-zero.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassConfiguration indicates invalid deploy settings, detected before traversal.
	ErrorClassConfiguration ErrorClass = "configuration"
)

// EngineError represents a classified error attributed to a leaf of the plan tree.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Leaf is the hierarchical name of the leaf that failed, if any.
	Leaf string `json:"leaf,omitempty"`

	// Output is the captured stdout/stderr of a failed command.
	Output string `json:"output,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Leaf != "" {
		return fmt.Sprintf("[%s] leaf %s: %s", e.Class, e.Leaf, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewResolutionError creates a new resolution error.
func NewResolutionError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassResolution,
		Message: message,
		Err:     err,
	}
}

// NewSynthesisError creates a new synthesis error.
func NewSynthesisError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassSynthesis,
		Message: message,
		Err:     err,
	}
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassExecution,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// WithLeaf attributes the error to a leaf.
func (e *EngineError) WithLeaf(name string) *EngineError {
	e.Leaf = name
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithOutput attaches captured command output.
func (e *EngineError) WithOutput(output string) *EngineError {
	e.Output = output
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsResolution returns true if the error is classified as a resolution failure.
func IsResolution(err error) bool {
	return hasClass(err, ErrorClassResolution)
}

// IsSynthesis returns true if the error is classified as a synthesis failure.
func IsSynthesis(err error) bool {
	return hasClass(err, ErrorClassSynthesis)
}

// IsExecution returns true if the error is classified as an execution failure.
func IsExecution(err error) bool {
	return hasClass(err, ErrorClassExecution)
}

// IsConfiguration returns true if the error is classified as a configuration failure.
func IsConfiguration(err error) bool {
	return hasClass(err, ErrorClassConfiguration)
}

// LeafOf returns the leaf name carried by the first EngineError in the chain.
func LeafOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Leaf
	}
	return ""
}

// OutputOf returns the captured command output carried by the error chain, if any.
func OutputOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Output
	}
	return ""
}

// Common error codes.
const (
	ErrCodeResolveFailed      = "RESOLVE_FAILED"
	ErrCodeHostFailed         = "HOST_FAILED"
	ErrCodeWriteFailed        = "WRITE_FAILED"
	ErrCodeEncodeFailed       = "ENCODE_FAILED"
	ErrCodeDuplicateName      = "DUPLICATE_NAME"
	ErrCodeResetFailed        = "RESET_FAILED"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeCommandFailed      = "COMMAND_FAILED"
	ErrCodeCommandStart       = "COMMAND_START_FAILED"
	ErrCodeInvalidCommand     = "INVALID_COMMAND"
	ErrCodeInvalidConcurrency = "INVALID_CONCURRENCY"
	ErrCodeMissingRunner      = "MISSING_RUNNER"
	ErrCodeUnknownTarget      = "UNKNOWN_TARGET"
)
