package runner

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/playtree/pkg/engine"
	"github.com/openfroyo/playtree/pkg/transports/ssh"
)

// RemoteClient is the part of the SSH transport the remote runner needs.
type RemoteClient interface {
	UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error
	Run(ctx context.Context, cmd string) (*ssh.ExecResult, error)
	Remove(ctx context.Context, remotePaths ...string) error
}

// Remote uploads a leaf's artifacts to a control host and runs the command
// there over SSH.
type Remote struct {
	cmd     *Command
	client  RemoteClient
	workDir string
	keep    bool
	logger  zerolog.Logger
}

// RemoteOption configures a Remote runner.
type RemoteOption func(*Remote)

// KeepArtifacts leaves uploaded files on the control host after the run.
func KeepArtifacts() RemoteOption {
	return func(r *Remote) {
		r.keep = true
	}
}

// WithRemoteLogger sets the runner logger.
func WithRemoteLogger(logger zerolog.Logger) RemoteOption {
	return func(r *Remote) {
		r.logger = logger
	}
}

// NewRemote parses template and returns a runner executing it through client
// with artifacts staged under workDir on the remote host.
func NewRemote(template string, client RemoteClient, workDir string, opts ...RemoteOption) (*Remote, error) {
	cmd, err := ParseCommand(template)
	if err != nil {
		return nil, err
	}
	if workDir == "" || !path.IsAbs(workDir) {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("remote work directory must be an absolute path, got %q", workDir), nil)
	}
	r := &Remote{
		cmd:     cmd,
		client:  client,
		workDir: workDir,
		logger:  log.Logger.With().Str("component", "remote-runner").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run uploads the inventory and playbook, then runs the command remotely.
func (r *Remote) Run(ctx context.Context, inventoryPath, playbookPath string) (*engine.CommandResult, error) {
	remoteInventory := path.Join(r.workDir, "inventories", filepath.Base(inventoryPath))
	remotePlaybook := path.Join(r.workDir, "playbooks", filepath.Base(playbookPath))

	if err := r.client.UploadFile(ctx, inventoryPath, remoteInventory, 0600); err != nil {
		return nil, fmt.Errorf("failed to upload inventory: %w", err)
	}
	if err := r.client.UploadFile(ctx, playbookPath, remotePlaybook, 0600); err != nil {
		return nil, fmt.Errorf("failed to upload playbook: %w", err)
	}
	if !r.keep {
		defer func() {
			if err := r.client.Remove(context.WithoutCancel(ctx), remoteInventory, remotePlaybook); err != nil {
				r.logger.Warn().Err(err).Str("playbook", remotePlaybook).Msg("Failed to clean up remote artifacts")
			}
		}()
	}

	line := shellJoin(append([]string{r.cmd.Executable}, r.cmd.Argv(remoteInventory, remotePlaybook)...))
	r.logger.Debug().Str("command", line).Msg("Starting remote command")

	start := time.Now()
	res, err := r.client.Run(ctx, line)
	if err != nil {
		return nil, fmt.Errorf("failed to run remote command: %w", err)
	}

	return &engine.CommandResult{
		ExitCode: res.ExitCode,
		Output:   res.Stdout + res.Stderr,
		Duration: time.Since(start),
	}, nil
}

// shellJoin quotes every token for a POSIX shell.
func shellJoin(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = shellQuote(t)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			strings.ContainsRune("-_./=:,@+%", c)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
