package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/playtree/pkg/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RunRecord is the persisted form of a deploy.
type RunRecord struct {
	ID            string           `json:"id"`
	Root          string           `json:"root"`
	Status        engine.RunStatus `json:"status"`
	SynthOnly     bool             `json:"synth_only"`
	MaxConcurrent int64            `json:"max_concurrent"`
	Total         int              `json:"total"`
	Synthesized   int              `json:"synthesized"`
	Succeeded     int              `json:"succeeded"`
	Failed        int              `json:"failed"`
	Error         *string          `json:"error,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// LeafResult is the latest known state of one leaf within a run.
type LeafResult struct {
	RunID         string            `json:"run_id"`
	Leaf          string            `json:"leaf"`
	Status        engine.LeafStatus `json:"status"`
	PlaybookPath  *string           `json:"playbook_path,omitempty"`
	InventoryPath *string           `json:"inventory_path,omitempty"`
	ExitCode      *int              `json:"exit_code,omitempty"`
	Output        *string           `json:"output,omitempty"`
	Error         *string           `json:"error,omitempty"`
	Duration      time.Duration     `json:"duration"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Host is a registered inventory host.
type Host struct {
	Name      string            `json:"name"`
	Address   string            `json:"address"`
	Port      int               `json:"port"`
	User      string            `json:"user,omitempty"`
	Vars      engine.Params     `json:"vars,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	UpdateRun(ctx context.Context, run *RunRecord) error
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)
	DeleteRun(ctx context.Context, id string) error

	// Leaf result operations
	UpsertLeafResult(ctx context.Context, result *LeafResult) error
	ListLeafResults(ctx context.Context, runID string) ([]*LeafResult, error)

	// Host registry operations
	UpsertHost(ctx context.Context, host *Host) error
	GetHost(ctx context.Context, name string) (*Host, error)
	ListHosts(ctx context.Context) ([]*Host, error)
	DeleteHost(ctx context.Context, name string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
