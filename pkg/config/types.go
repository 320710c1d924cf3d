package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openfroyo/playtree/pkg/engine"
)

// Project is a decoded and validated project file.
type Project struct {
	// Name identifies the project.
	Name string `json:"name" validate:"required"`

	// Plan is the path of the Starlark plan script.
	Plan string `json:"plan" validate:"required"`

	// Output controls where artifacts are written.
	Output OutputConfig `json:"output"`

	// Deploy holds the default deploy options.
	Deploy DeployConfig `json:"deploy"`

	// Remote runs commands on a control host over SSH when set.
	Remote *RemoteConfig `json:"remote,omitempty"`

	// Store configures the run history and host registry database.
	Store StoreConfig `json:"store"`

	// Policies lists Rego files or directories checked against every play.
	Policies []string `json:"policies"`

	// Hosts are static inventory entries in declaration order.
	Hosts []HostEntry `json:"-"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Dir is the directory containing the project file. Relative paths in
	// the project are resolved against it.
	Dir string `json:"-"`
}

// OutputConfig names the artifact directories.
type OutputConfig struct {
	Playbooks   string `json:"playbooks" validate:"required"`
	Inventories string `json:"inventories" validate:"required,nefield=Playbooks"`
}

// DeployConfig holds deploy defaults that flags may override.
type DeployConfig struct {
	MaxConcurrent int64  `json:"max_concurrent" validate:"min=1"`
	Command       string `json:"command" validate:"required"`
	SynthOnly     bool   `json:"synth_only"`
}

// RemoteConfig describes the SSH control host.
type RemoteConfig struct {
	Host                  string `json:"host" validate:"required"`
	Port                  int    `json:"port" validate:"min=1,max=65535"`
	User                  string `json:"user" validate:"required"`
	KeyPath               string `json:"key_path,omitempty"`
	Password              string `json:"password,omitempty"`
	KnownHosts            string `json:"known_hosts,omitempty"`
	StrictHostKeyChecking bool   `json:"strict_host_key_checking"`
	WorkDir               string `json:"workdir" validate:"required,startswith=/"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `json:"path" validate:"required"`
}

// TelemetryConfig configures the ambient observability stack.
type TelemetryConfig struct {
	LogLevel     string `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat    string `json:"log_format" validate:"oneof=console json"`
	MetricsAddr  string `json:"metrics_addr"`
	Tracing      string `json:"tracing" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `json:"otlp_endpoint"`
}

// HostEntry is a static host with ordered variables.
type HostEntry struct {
	Name string
	Vars engine.Params
}

// Path resolves p against the project directory.
func (p *Project) Path(rel string) string {
	if rel == "" || filepath.IsAbs(rel) || p.Dir == "" {
		return rel
	}
	return filepath.Join(p.Dir, rel)
}

// HostResolver turns host references used in plan scripts into
// capabilities. It is called when a play is resolved.
type HostResolver interface {
	ResolveRef(ctx context.Context, ref string) ([]engine.HostCapability, error)
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "deploy.max_concurrent").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is a list of problems found in a project file.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.String()
	}
	return strings.Join(msgs, "; ")
}
