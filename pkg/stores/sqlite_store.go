package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/playtree/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists the host registry and run history in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config selects the database file and connection pool limits.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore applies pool defaults. Call Init before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close releases the connection pool.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun inserts a run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *RunRecord) error {
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := `
		INSERT INTO runs (
			id, root, status, synth_only, max_concurrent,
			total, synthesized, succeeded, failed, error,
			started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Root,
		run.Status,
		run.SynthOnly,
		run.MaxConcurrent,
		run.Total,
		run.Synthesized,
		run.Succeeded,
		run.Failed,
		run.Error,
		run.StartedAt,
		run.CompletedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

const runColumns = `id, root, status, synth_only, max_concurrent,
	total, synthesized, succeeded, failed, error,
	started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	run := &RunRecord{}
	err := row.Scan(
		&run.ID,
		&run.Root,
		&run.Status,
		&run.SynthOnly,
		&run.MaxConcurrent,
		&run.Total,
		&run.Synthesized,
		&run.Succeeded,
		&run.Failed,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	return run, err
}

// GetRun loads a run, or returns ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRun stores the status, counters and completion of a run.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *RunRecord) error {
	run.UpdatedAt = time.Now()

	query := `
		UPDATE runs
		SET status = ?, total = ?, synthesized = ?, succeeded = ?, failed = ?,
			error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.Total,
		run.Synthesized,
		run.Succeeded,
		run.Failed,
		run.Error,
		run.CompletedAt,
		run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return expectAffected(result, "run", run.ID)
}

// ListRuns lists runs, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its leaf results.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	return expectAffected(result, "run", id)
}

// UpsertLeafResult records the latest state of a leaf. Fields left nil keep
// their previously stored value.
func (s *SQLiteStore) UpsertLeafResult(ctx context.Context, result *LeafResult) error {
	result.UpdatedAt = time.Now()

	query := `
		INSERT INTO leaf_results (
			run_id, leaf, status, playbook_path, inventory_path, exit_code,
			output, error, duration_ms, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, leaf) DO UPDATE SET
			status = excluded.status,
			playbook_path = COALESCE(excluded.playbook_path, leaf_results.playbook_path),
			inventory_path = COALESCE(excluded.inventory_path, leaf_results.inventory_path),
			exit_code = COALESCE(excluded.exit_code, leaf_results.exit_code),
			output = COALESCE(excluded.output, leaf_results.output),
			error = COALESCE(excluded.error, leaf_results.error),
			duration_ms = MAX(excluded.duration_ms, leaf_results.duration_ms),
			started_at = COALESCE(leaf_results.started_at, excluded.started_at),
			completed_at = COALESCE(excluded.completed_at, leaf_results.completed_at),
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		result.RunID,
		result.Leaf,
		result.Status,
		result.PlaybookPath,
		result.InventoryPath,
		result.ExitCode,
		result.Output,
		result.Error,
		result.Duration.Milliseconds(),
		result.StartedAt,
		result.CompletedAt,
		result.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert leaf result: %w", err)
	}

	return nil
}

// ListLeafResults lists the leaf results of a run ordered by leaf name.
func (s *SQLiteStore) ListLeafResults(ctx context.Context, runID string) ([]*LeafResult, error) {
	query := `
		SELECT run_id, leaf, status, playbook_path, inventory_path, exit_code,
			output, error, duration_ms, started_at, completed_at, updated_at
		FROM leaf_results
		WHERE run_id = ?
		ORDER BY leaf
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list leaf results: %w", err)
	}
	defer rows.Close()

	var results []*LeafResult
	for rows.Next() {
		r := &LeafResult{}
		var durationMS int64
		err := rows.Scan(
			&r.RunID,
			&r.Leaf,
			&r.Status,
			&r.PlaybookPath,
			&r.InventoryPath,
			&r.ExitCode,
			&r.Output,
			&r.Error,
			&durationMS,
			&r.StartedAt,
			&r.CompletedAt,
			&r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaf result: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaf results: %w", err)
	}

	return results, nil
}

// UpsertHost adds a host to the registry or replaces an existing entry.
func (s *SQLiteStore) UpsertHost(ctx context.Context, host *Host) error {
	if host.Name == "" {
		return fmt.Errorf("host name is required")
	}
	if host.Port == 0 {
		host.Port = 22
	}

	vars, err := json.Marshal(host.Vars)
	if err != nil {
		return fmt.Errorf("failed to marshal host vars: %w", err)
	}
	if host.Vars == nil {
		vars = []byte("{}")
	}
	labels := []byte("{}")
	if len(host.Labels) > 0 {
		if labels, err = json.Marshal(host.Labels); err != nil {
			return fmt.Errorf("failed to marshal host labels: %w", err)
		}
	}

	now := time.Now()
	if host.CreatedAt.IsZero() {
		host.CreatedAt = now
	}
	host.UpdatedAt = now

	query := `
		INSERT INTO hosts (name, address, port, user, vars, labels, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			address = excluded.address,
			port = excluded.port,
			user = excluded.user,
			vars = excluded.vars,
			labels = excluded.labels,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		host.Name,
		host.Address,
		host.Port,
		host.User,
		string(vars),
		string(labels),
		host.CreatedAt,
		host.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert host: %w", err)
	}

	return nil
}

const hostColumns = `name, address, port, user, vars, labels, created_at, updated_at`

func scanHost(row rowScanner) (*Host, error) {
	host := &Host{}
	var vars, labels string
	err := row.Scan(
		&host.Name,
		&host.Address,
		&host.Port,
		&host.User,
		&vars,
		&labels,
		&host.CreatedAt,
		&host.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(vars), &host.Vars); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vars of host %s: %w", host.Name, err)
	}
	if err := json.Unmarshal([]byte(labels), &host.Labels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal labels of host %s: %w", host.Name, err)
	}
	return host, nil
}

// GetHost retrieves a registered host by name.
func (s *SQLiteStore) GetHost(ctx context.Context, name string) (*Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE name = ?`

	host, err := scanHost(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("host %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	return host, nil
}

// ListHosts lists all registered hosts ordered by name.
func (s *SQLiteStore) ListHosts(ctx context.Context) ([]*Host, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*Host
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hosts: %w", err)
	}

	return hosts, nil
}

// DeleteHost removes a host from the registry.
func (s *SQLiteStore) DeleteHost(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM hosts WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete host: %w", err)
	}

	return expectAffected(result, "host", name)
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func expectAffected(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// RecordFromRun converts an engine run into its persisted form.
func RecordFromRun(run *engine.Run, maxConcurrent int64) *RunRecord {
	rec := &RunRecord{
		ID:            run.ID,
		Root:          run.Root,
		Status:        run.Status,
		SynthOnly:     run.SynthOnly,
		MaxConcurrent: maxConcurrent,
		Total:         run.Summary.Total,
		Synthesized:   run.Summary.Synthesized,
		Succeeded:     run.Summary.Succeeded,
		Failed:        run.Summary.Failed,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
	}
	if run.Error != "" {
		msg := run.Error
		rec.Error = &msg
	}
	return rec
}
