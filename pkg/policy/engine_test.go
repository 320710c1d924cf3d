package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/playtree/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func host(name string) engine.HostCapability {
	return engine.HostFunc(func(context.Context) (string, engine.Params, error) {
		return name, nil, nil
	})
}

func TestNewEngine_Builtins(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
	}
	want := []string{"play-hosts", "play-naming", "task-names"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("builtin policies mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_Builtins(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		play          *engine.Play
		allowed       bool
		violations    []string
		warningPolicy []string
	}{
		{
			name: "clean play",
			play: &engine.Play{
				Name:  "web",
				Hosts: []engine.HostCapability{host("web1")},
				Tasks: []engine.Task{{Name: "ping", Module: "ping"}},
			},
			allowed: true,
		},
		{
			name:          "no hosts",
			play:          &engine.Play{Name: "local"},
			allowed:       true,
			warningPolicy: []string{"play-hosts"},
		},
		{
			name: "unnamed tasks",
			play: &engine.Play{
				Name:  "web",
				Hosts: []engine.HostCapability{host("web1")},
				Tasks: []engine.Task{{Module: "ping"}, {Name: "  ", Module: "setup"}},
			},
			allowed:       true,
			warningPolicy: []string{"task-names", "task-names"},
		},
		{
			name: "path separator",
			play: &engine.Play{
				Name:  "../etc/passwd",
				Hosts: []engine.HostCapability{host("web1")},
			},
			allowed:    false,
			violations: []string{"play-naming"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), "site_"+tt.play.Name, tt.play)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Errorf("Expected allowed=%v, got %v", tt.allowed, result.Allowed)
			}
			if diff := cmp.Diff(tt.violations, policiesOf(result.Violations)); diff != "" {
				t.Errorf("violations mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.warningPolicy, policiesOf(result.Warnings)); diff != "" {
				t.Errorf("warnings mismatch (-want +got):\n%s", diff)
			}
			if len(result.EvaluatedPolicies) != 3 {
				t.Errorf("Expected 3 evaluated policies, got %v", result.EvaluatedPolicies)
			}
		})
	}
}

func policiesOf(vs []Violation) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.Policy)
	}
	return out
}

func TestEvaluate_DoesNotConsultHosts(t *testing.T) {
	eng := newTestEngine(t)
	calls := 0
	h := engine.HostFunc(func(context.Context) (string, engine.Params, error) {
		calls++
		return "web1", nil, nil
	})

	if _, err := eng.Evaluate(context.Background(), "site_web", &engine.Play{Name: "web", Hosts: []engine.HostCapability{h}}); err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected host capabilities not to be consulted, got %d calls", calls)
	}
}

func TestCheckPlay(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.CheckPlay(context.Background(), "site_web", &engine.Play{Name: "web"})
	if err != nil {
		t.Errorf("Expected warnings not to reject the play, got: %v", err)
	}

	err = eng.CheckPlay(context.Background(), "site_bad", &engine.Play{Name: "a/b"})
	if err == nil {
		t.Fatal("Expected play to be rejected")
	}
	if !strings.Contains(err.Error(), "play-naming: play name 'a/b' must not contain '/'") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCheckPlay_GatesSynthesis(t *testing.T) {
	eng := newTestEngine(t)
	synth := engine.NewSynthesizer(discardWriter{}, engine.WithPlayChecker(eng))

	_, err := synth.Synth(context.Background(), engine.SinglePlay(&engine.Play{Name: `win\path`}), "site")
	if !engine.IsSynthesis(err) {
		t.Fatalf("Expected synthesis error, got: %v", err)
	}
	if engine.LeafOf(err) != `site_win\path` {
		t.Errorf("Unexpected leaf: %q", engine.LeafOf(err))
	}
}

type discardWriter struct{}

func (discardWriter) Reset() error { return nil }

func (discardWriter) Write(kind engine.ArtifactKind, name string, _ interface{}) (string, string, error) {
	return string(kind) + "/" + name + ".json", string(kind) + "/" + name + ".yml", nil
}

func TestLoadPolicies_Custom(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()

	rego := `package playtree.policies.shell

import rego.v1

# Forbid raw shell tasks.
# severity: error
deny contains msg if {
	some task in input.play.tasks
	task.module == "shell"
	msg := sprintf("task %s uses the shell module", [task.name])
}

deny contains msg if {
	input.play.options.become == true
	input.leaf == "site_root"
	msg := {"message": "become is discouraged here", "severity": "info"}
}`
	if err := os.WriteFile(filepath.Join(dir, "no-shell.rego"), []byte(rego), 0644); err != nil {
		t.Fatal(err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	p, err := eng.GetPolicy("no-shell")
	if err != nil {
		t.Fatalf("Expected custom policy, got: %v", err)
	}
	if p.Severity != SeverityError || p.Description != "Forbid raw shell tasks." {
		t.Errorf("Unexpected policy header: %+v", p)
	}

	play := &engine.Play{
		Name:    "root",
		Hosts:   []engine.HostCapability{host("web1")},
		Options: engine.P("become", true),
		Tasks:   []engine.Task{{Name: "list", Module: "shell", Args: engine.P("cmd", "ls")}},
	}
	result, err := eng.Evaluate(context.Background(), "site_root", play)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected shell task to be rejected")
	}
	want := []Violation{{Policy: "no-shell", Leaf: "site_root", Message: "task list uses the shell module", Severity: SeverityError}}
	if diff := cmp.Diff(want, result.Violations); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}
	wantWarnings := []Violation{{Policy: "no-shell", Leaf: "site_root", Message: "become is discouraged here", Severity: SeverityInfo}}
	if diff := cmp.Diff(wantWarnings, result.Warnings); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}

	if err := eng.DisablePolicy("no-shell"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	if err := eng.CheckPlay(context.Background(), "site_root", play); err != nil {
		t.Errorf("Expected disabled policy to be skipped, got: %v", err)
	}
	if err := eng.EnablePolicy("no-shell"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	if err := eng.CheckPlay(context.Background(), "site_root", play); err == nil {
		t.Error("Expected re-enabled policy to reject the play")
	}
}

func TestLoadPolicies_CompileErrorKeepsExisting(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package broken\n\ndeny contains"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{filepath.Join(dir, "broken.rego")}); err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("Expected broken policy not to be installed")
	}
	if len(eng.ListPolicies()) != 3 {
		t.Errorf("Expected builtins to be kept, got %d policies", len(eng.ListPolicies()))
	}
}

func TestToggleUnknownPolicy(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}
