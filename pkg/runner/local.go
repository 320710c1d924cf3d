package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/playtree/pkg/engine"
)

// Local runs the command as a child process on this machine.
type Local struct {
	cmd     *Command
	workDir string
	env     []string
	logger  zerolog.Logger
}

// LocalOption configures a Local runner.
type LocalOption func(*Local)

// WithWorkDir sets the working directory of the child process.
func WithWorkDir(dir string) LocalOption {
	return func(l *Local) {
		l.workDir = dir
	}
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) LocalOption {
	return func(l *Local) {
		l.env = append(l.env, env...)
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger zerolog.Logger) LocalOption {
	return func(l *Local) {
		l.logger = logger
	}
}

// NewLocal parses template and returns a runner for it.
func NewLocal(template string, opts ...LocalOption) (*Local, error) {
	cmd, err := ParseCommand(template)
	if err != nil {
		return nil, err
	}
	l := &Local{
		cmd:    cmd,
		logger: log.Logger.With().Str("component", "runner").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Command returns the parsed command template.
func (l *Local) Command() *Command {
	return l.cmd
}

// Run starts the command and waits for it. Stdout and stderr are captured
// together in the order they were written.
func (l *Local) Run(ctx context.Context, inventoryPath, playbookPath string) (*engine.CommandResult, error) {
	argv := l.cmd.Argv(inventoryPath, playbookPath)
	cmd := exec.CommandContext(ctx, l.cmd.Executable, argv...)
	cmd.Dir = l.workDir
	if len(l.env) > 0 {
		cmd.Env = append(cmd.Environ(), l.env...)
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	l.logger.Debug().
		Str("executable", l.cmd.Executable).
		Strs("args", argv).
		Msg("Starting command")

	start := time.Now()
	err := cmd.Run()
	result := &engine.CommandResult{
		Output:   output.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("failed to run %s: %w", l.cmd.Executable, err)
		}
	}

	l.logger.Debug().
		Str("playbook", playbookPath).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Command finished")
	return result, nil
}
