package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/playtree/pkg/engine"
)

// writeScript creates an executable shell script and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-playbook")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestLocal_PassesInventoryAndPlaybook(t *testing.T) {
	script := writeScript(t, `echo "$@"`)
	runner, err := NewLocal(script + " --diff")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	res, err := runner.Run(context.Background(), "inv/demo_s0_p1.yml", "pb/demo_s0_p1.yml")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !res.Success() {
		t.Errorf("Expected success, got exit code %d", res.ExitCode)
	}
	if got := strings.TrimSpace(res.Output); got != "--diff -i inv/demo_s0_p1.yml pb/demo_s0_p1.yml" {
		t.Errorf("Unexpected arguments: %q", got)
	}
}

func TestLocal_NonZeroExit(t *testing.T) {
	script := writeScript(t, "echo out; echo err >&2; exit 3")
	runner, err := NewLocal(script)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	res, err := runner.Run(context.Background(), "inv.yml", "pb.yml")
	if err != nil {
		t.Fatalf("Expected exit status to be reported in the result, got: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Output, "out") || !strings.Contains(res.Output, "err") {
		t.Errorf("Expected combined output, got %q", res.Output)
	}
}

func TestLocal_MissingExecutable(t *testing.T) {
	runner, err := NewLocal(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := runner.Run(context.Background(), "inv.yml", "pb.yml"); err == nil {
		t.Error("Expected error for missing executable")
	}
}

func TestLocal_WorkDirAndEnv(t *testing.T) {
	script := writeScript(t, `pwd; echo "$PLAYTREE_TEST"`)
	dir := t.TempDir()
	runner, err := NewLocal(script, WithWorkDir(dir), WithEnv("PLAYTREE_TEST=hello"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	res, err := runner.Run(context.Background(), "inv.yml", "pb.yml")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(res.Output), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %q", res.Output)
	}
	wantDir, _ := filepath.EvalSymlinks(dir)
	gotDir, _ := filepath.EvalSymlinks(lines[0])
	if gotDir != wantDir {
		t.Errorf("Expected work dir %s, got %s", wantDir, gotDir)
	}
	if lines[1] != "hello" {
		t.Errorf("Expected env value hello, got %s", lines[1])
	}
}

func TestLocal_ContextCancel(t *testing.T) {
	script := writeScript(t, "sleep 10")
	runner, err := NewLocal(script)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := runner.Run(ctx, "inv.yml", "pb.yml"); err == nil {
		t.Error("Expected error when context is cancelled")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Expected command to be killed on cancellation")
	}
}

func TestLocal_ImplementsRunner(t *testing.T) {
	var _ engine.Runner = (*Local)(nil)
	var _ engine.Runner = (*Remote)(nil)
}
