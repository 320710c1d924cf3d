package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/playtree/pkg/engine"
	"github.com/openfroyo/playtree/pkg/stores"
	"github.com/openfroyo/playtree/pkg/telemetry"
)

const testPlan = `
def ping(name, hosts = ["localhost"]):
    return play(name, hosts = hosts, tasks = [task("ping", "ping")], gather_facts = False)

register("demo", sequential(ping("a"), parallel(ping("b"), ping("c"))))
register("registry", sequential(ping("web", hosts = ["registry:web1"])))
`

// setupProject writes a project whose deploy command is a shell script.
// The script appends its arguments to calls.log in the project directory.
func setupProject(t *testing.T, script string) (string, string) {
	t.Helper()
	dir := t.TempDir()

	cmdPath := filepath.Join(dir, "deploy.sh")
	body := fmt.Sprintf("#!/bin/sh\necho \"$@\" >> %s\n%s\n", filepath.Join(dir, "calls.log"), script)
	if err := os.WriteFile(cmdPath, []byte(body), 0755); err != nil {
		t.Fatalf("failed to write deploy script: %v", err)
	}

	project := fmt.Sprintf(`name: "demo"
plan: "plan.star"

deploy: {
	max_concurrent: 2
	command:        %q
}

store: path: ".playtree/test.db"

hosts: {
	localhost: ansible_connection: "local"
}
`, cmdPath)
	projectPath := filepath.Join(dir, "playtree.cue")
	if err := os.WriteFile(projectPath, []byte(project), 0644); err != nil {
		t.Fatalf("failed to write project: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plan.star"), []byte(testPlan), 0644); err != nil {
		t.Fatalf("failed to write plan: %v", err)
	}
	return dir, projectPath
}

// lockedBuffer collects log output written from deploy goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr lockedBuffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestInitAndValidate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "site")

	out, _, err := execute(t, "init", dir, "--name", "site")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out, "✓ Created "+filepath.Join(dir, "playtree.cue")) {
		t.Errorf("expected project file to be reported, got:\n%s", out)
	}

	out, _, err = execute(t, "validate", "-c", filepath.Join(dir, "playtree.cue"))
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "✓ Root site: 1 leaves") {
		t.Errorf("unexpected validate output:\n%s", out)
	}

	if _, _, err := execute(t, "init", dir); err == nil {
		t.Error("expected init to refuse existing files")
	}
}

func TestValidate_JSON(t *testing.T) {
	_, projectPath := setupProject(t, "")

	out, _, err := execute(t, "validate", "-c", projectPath, "--json")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	var report validateReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	want := []rootReport{{Name: "demo", Leaves: 3}, {Name: "registry", Leaves: 1}}
	if diff := cmp.Diff(want, report.Roots); diff != "" {
		t.Errorf("roots mismatch (-want +got):\n%s", diff)
	}
	if len(report.Policies) == 0 {
		t.Error("expected built-in policies to be listed")
	}
}

func TestPlan(t *testing.T) {
	_, projectPath := setupProject(t, "")

	out, _, err := execute(t, "plan", "-c", projectPath, "--target", "demo", "--json")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	var nodes []planNode
	if err := json.Unmarshal([]byte(out), &nodes); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	var names []string
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	want := []string{"demo", "demo_s0_a", "demo_s1", "demo_s1_p0_b", "demo_s1_p1_c"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("node names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"localhost"}, nodes[1].HostRefs); diff != "" {
		t.Errorf("host refs mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_TargetRequired(t *testing.T) {
	_, projectPath := setupProject(t, "")

	_, _, err := execute(t, "plan", "-c", projectPath)
	if !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got: %v", err)
	}

	_, _, err = execute(t, "plan", "-c", projectPath, "--target", "missing")
	if !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got: %v", err)
	}
}

func TestSynth(t *testing.T) {
	dir, projectPath := setupProject(t, "")

	out, _, err := execute(t, "synth", "-c", projectPath, "-t", "demo")
	if err != nil {
		t.Fatalf("synth failed: %v", err)
	}
	if !strings.Contains(out, "3 leaves synthesized") {
		t.Errorf("unexpected output:\n%s", out)
	}

	for _, leaf := range []string{"demo_s0_a", "demo_s1_p0_b", "demo_s1_p1_c"} {
		for _, path := range []string{
			filepath.Join(dir, "out", "playbooks", leaf+".yml"),
			filepath.Join(dir, "out", "playbooks", leaf+".json"),
			filepath.Join(dir, "out", "inventories", leaf+".yml"),
			filepath.Join(dir, "out", "inventories", leaf+".json"),
		} {
			if _, err := os.Stat(path); err != nil {
				t.Errorf("expected %s: %v", path, err)
			}
		}
	}

	inv, err := os.ReadFile(filepath.Join(dir, "out", "inventories", "demo_s0_a.json"))
	if err != nil {
		t.Fatalf("failed to read inventory: %v", err)
	}
	if got, want := string(inv), `{"all":{"hosts":{"localhost":{"ansible_connection":"local"}}}}`; got != want {
		t.Errorf("inventory mismatch\nwant: %s\ngot:  %s", want, got)
	}
	if _, err := os.Stat(filepath.Join(dir, "calls.log")); !os.IsNotExist(err) {
		t.Error("expected synth not to run the deploy command")
	}
}

func TestDeploy(t *testing.T) {
	dir, projectPath := setupProject(t, "")

	out, _, err := execute(t, "deploy", "-c", projectPath, "-t", "demo")
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if !strings.Contains(out, "succeeded:   3") {
		t.Errorf("unexpected summary:\n%s", out)
	}

	calls, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	if err != nil {
		t.Fatalf("failed to read calls: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(calls)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 commands, got %d:\n%s", len(lines), calls)
	}
	wantFirst := fmt.Sprintf("-i %s %s",
		filepath.Join(dir, "out", "inventories", "demo_s0_a.yml"),
		filepath.Join(dir, "out", "playbooks", "demo_s0_a.yml"))
	if lines[0] != wantFirst {
		t.Errorf("expected first command %q, got %q", wantFirst, lines[0])
	}

	out, _, err = execute(t, "runs", "list", "-c", projectPath, "--json")
	if err != nil {
		t.Fatalf("runs list failed: %v", err)
	}
	var runs []*stores.RunRecord
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].Status != engine.RunStatusSucceeded || runs[0].Succeeded != 3 {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	out, _, err = execute(t, "runs", "show", runs[0].ID, "-c", projectPath)
	if err != nil {
		t.Fatalf("runs show failed: %v", err)
	}
	for _, leaf := range []string{"demo_s0_a", "demo_s1_p0_b", "demo_s1_p1_c"} {
		if !strings.Contains(out, leaf) {
			t.Errorf("expected %s in run details:\n%s", leaf, out)
		}
	}

	if _, _, err := execute(t, "runs", "delete", runs[0].ID, "-c", projectPath); err != nil {
		t.Fatalf("runs delete failed: %v", err)
	}
	if _, _, err := execute(t, "runs", "show", runs[0].ID, "-c", projectPath); err == nil {
		t.Error("expected deleted run to be gone")
	}
}

func TestDeploy_Failure(t *testing.T) {
	dir, projectPath := setupProject(t, `case "$3" in *_a.yml) echo "unreachable host"; exit 3;; esac`)

	out, stderr, err := execute(t, "deploy", "-c", projectPath, "-t", "demo")
	if !engine.IsExecution(err) {
		t.Fatalf("expected execution error, got: %v", err)
	}
	if engine.LeafOf(err) != "demo_s0_a" {
		t.Errorf("expected failing leaf demo_s0_a, got %q", engine.LeafOf(err))
	}
	if !strings.Contains(stderr, "unreachable host") {
		t.Errorf("expected command output on stderr, got:\n%s", stderr)
	}
	if !strings.Contains(out, "failed:      1") {
		t.Errorf("unexpected summary:\n%s", out)
	}

	calls, err := os.ReadFile(filepath.Join(dir, "calls.log"))
	if err != nil {
		t.Fatalf("failed to read calls: %v", err)
	}
	if n := strings.Count(string(calls), "\n"); n != 1 {
		t.Errorf("expected the sequence to stop after the first leaf, got %d commands", n)
	}
}

func TestDeploy_SynthOnlyJSON(t *testing.T) {
	dir, projectPath := setupProject(t, "")

	out, _, err := execute(t, "deploy", "-c", projectPath, "-t", "demo", "--synth-only", "--json")
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	var types []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var event telemetry.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("invalid event line %q: %v", scanner.Text(), err)
		}
		types = append(types, event.Type)
	}
	if len(types) == 0 || types[0] != string(engine.EventTypeRunStarted) || types[len(types)-1] != string(engine.EventTypeRunCompleted) {
		t.Errorf("unexpected event sequence: %v", types)
	}
	for _, typ := range types {
		if typ == string(engine.EventTypeCommandStarted) {
			t.Error("expected no commands in synth-only mode")
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "calls.log")); !os.IsNotExist(err) {
		t.Error("expected synth-only deploy not to run the deploy command")
	}
}

func TestHosts(t *testing.T) {
	_, projectPath := setupProject(t, "")

	_, _, err := execute(t, "hosts", "add", "web1", "-c", projectPath,
		"--address", "10.0.0.11", "--user", "deploy", "--var", "role=web", "--label", "tier=front")
	if err != nil {
		t.Fatalf("hosts add failed: %v", err)
	}

	out, _, err := execute(t, "hosts", "list", "-c", projectPath)
	if err != nil {
		t.Fatalf("hosts list failed: %v", err)
	}
	if !strings.Contains(out, "web1") || !strings.Contains(out, "tier=front") {
		t.Errorf("unexpected host list:\n%s", out)
	}

	out, _, err = execute(t, "plan", "-c", projectPath, "-t", "registry", "--resolve", "--json")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	var nodes []planNode
	if err := json.Unmarshal([]byte(out), &nodes); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if diff := cmp.Diff([]string{"web1"}, nodes[1].Hosts); diff != "" {
		t.Errorf("resolved hosts mismatch (-want +got):\n%s", diff)
	}

	if _, _, err := execute(t, "hosts", "remove", "web1", "-c", projectPath); err != nil {
		t.Fatalf("hosts remove failed: %v", err)
	}
	if _, _, err := execute(t, "hosts", "remove", "web1", "-c", projectPath); err == nil {
		t.Error("expected error removing an unknown host")
	}

	_, _, err = execute(t, "synth", "-c", projectPath, "-t", "registry")
	if !engine.IsResolution(err) {
		t.Errorf("expected resolution error for a removed host, got: %v", err)
	}
}

func TestParseVars(t *testing.T) {
	got, err := parseVars([]string{"env=prod", "region = eu", "env=staging", "empty="})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]interface{}{"env": "staging", "region": " eu", "empty": ""}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("vars mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseVars([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseHostVars(t *testing.T) {
	got, err := parseHostVars([]string{"role=web", "port=8080", "primary=true", "role=db"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"role", "port", "primary"}, got.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if v, _ := got.Get("role"); v != "db" {
		t.Errorf("expected later value to win, got %v", v)
	}
	if v, _ := got.Get("port"); v != int64(8080) {
		t.Errorf("expected integer port, got %#v", v)
	}
	if v, _ := got.Get("primary"); v != true {
		t.Errorf("expected boolean, got %#v", v)
	}
}

func TestProjectWatcher_Relevant(t *testing.T) {
	pw := &projectWatcher{
		projectFile: "/proj/playtree.cue",
		policyRoots: []string{"/proj/policies", "/shared/extra.rego"},
		ignored:     []string{"/proj/out/playbooks", "/proj/out/inventories"},
	}

	tests := []struct {
		path string
		want bool
	}{
		{"/proj/playtree.cue", true},
		{"/proj/other.cue", false},
		{"/proj/plan.star", true},
		{"/proj/lib/common.star", true},
		{"/proj/policies/naming.rego", true},
		{"/proj/policies/nested/limits.json", true},
		{"/shared/extra.rego", true},
		{"/shared/unrelated.rego", false},
		{"/proj/notes.json", false},
		{"/proj/out/playbooks/demo_s0_a.json", false},
		{"/proj/out/inventories/x.star", false},
	}
	for _, tt := range tests {
		if got := pw.relevant(tt.path); got != tt.want {
			t.Errorf("relevant(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
