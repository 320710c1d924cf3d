package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func webPlay() *Play {
	return &Play{
		Name: "web",
		Hosts: []HostCapability{
			staticHost{name: "web1", vars: P("ansible_host", "10.0.0.1", "port", 22)},
			staticHost{name: "web2"},
		},
		Options: P("become", true, "gather_facts", false),
		Tasks: []Task{
			{
				Name:    "install nginx",
				Module:  "apt",
				Args:    P("name", "nginx", "state", "present"),
				Options: P("when", "ansible_os_family == 'Debian'"),
			},
			{Name: "ping", Module: "ping"},
		},
	}
}

func TestSynthesizer_Documents(t *testing.T) {
	writer := newMockWriter()
	s := NewSynthesizer(writer)

	arts, err := s.Synth(context.Background(), SinglePlay(webPlay()), "site")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(arts) != 1 {
		t.Fatalf("Expected 1 artifact set, got %d", len(arts))
	}

	art := arts[0]
	if art.Name != "site_web" {
		t.Errorf("Expected name site_web, got %s", art.Name)
	}

	wantPlaybook := `[{"name":"web","hosts":["web1","web2"],"become":true,"gather_facts":false,` +
		`"tasks":[{"name":"install nginx","apt":{"name":"nginx","state":"present"},"when":"ansible_os_family == 'Debian'"},` +
		`{"name":"ping","ping":{}}]}]`
	if got := writer.get(art.PlaybookJSON); got != wantPlaybook {
		t.Errorf("playbook mismatch\nwant: %s\ngot:  %s", wantPlaybook, got)
	}

	wantInventory := `{"all":{"hosts":{"web1":{"ansible_host":"10.0.0.1","port":22},"web2":{}}}}`
	if got := writer.get(art.InventoryJSON); got != wantInventory {
		t.Errorf("inventory mismatch\nwant: %s\ngot:  %s", wantInventory, got)
	}
}

func TestSynthesizer_DemoArtifacts(t *testing.T) {
	writer := newMockWriter()
	s := NewSynthesizer(writer)
	root, _ := demoTree()

	arts, err := s.Synth(context.Background(), root, "demo")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var names []string
	for _, a := range arts {
		names = append(names, a.Name)
	}
	want := []string{"demo_s0_p1", "demo_s1_p0_p2", "demo_s1_p1_p3"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("artifact names mismatch (-want +got):\n%s", diff)
	}

	// one playbook and one inventory per leaf, each as JSON and text
	if got := len(writer.paths()); got != 12 {
		t.Errorf("Expected 12 files, got %d: %v", got, writer.paths())
	}
	if writer.resets != 1 {
		t.Errorf("Expected output to be reset once, got %d", writer.resets)
	}
}

func TestSynthesizer_Deterministic(t *testing.T) {
	run := func() map[string]string {
		writer := newMockWriter()
		root := Sequential(SinglePlay(webPlay()), Parallel(SinglePlay(webPlay())))
		if _, err := NewSynthesizer(writer).Synth(context.Background(), root, "site"); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		out := make(map[string]string)
		for _, p := range writer.paths() {
			out[p] = writer.get(p)
		}
		return out
	}

	first, second := run(), run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("artifacts differ between runs (-first +second):\n%s", diff)
	}
}

func TestSynthesizer_ResetClearsPreviousOutput(t *testing.T) {
	writer := newMockWriter()
	s := NewSynthesizer(writer)

	if _, err := s.Synth(context.Background(), SinglePlay(&Play{Name: "old"}), "demo"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := s.Synth(context.Background(), SinglePlay(&Play{Name: "new"}), "demo"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if writer.get("playbook/demo_old.json") != "" {
		t.Error("Expected artifacts of the previous pass to be removed")
	}
	if writer.get("playbook/demo_new.json") == "" {
		t.Error("Expected artifacts of the current pass")
	}
}

func TestSynthesizer_HostCapabilityConsultedPerDocument(t *testing.T) {
	shared := &countingHost{name: "db1", vars: P("role", "primary")}
	root := Sequential(
		SinglePlay(&Play{Name: "a", Hosts: []HostCapability{shared}}),
		SinglePlay(&Play{Name: "b", Hosts: []HostCapability{shared}}),
	)
	writer := newMockWriter()

	if _, err := NewSynthesizer(writer).Synth(context.Background(), root, "demo"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// once for the play's host list and once for the inventory, per play
	if got := shared.calls.Load(); got != 4 {
		t.Errorf("Expected 4 host resolutions, got %d", got)
	}
	for _, leaf := range []string{"demo_s0_a", "demo_s1_b"} {
		want := `{"all":{"hosts":{"db1":{"role":"primary"}}}}`
		if got := writer.get("inventory/" + leaf + ".json"); got != want {
			t.Errorf("%s inventory mismatch\nwant: %s\ngot:  %s", leaf, want, got)
		}
	}
}

func TestSynthesizer_EmptyHosts(t *testing.T) {
	writer := newMockWriter()

	arts, err := NewSynthesizer(writer).Synth(context.Background(), SinglePlay(&Play{Name: "local"}), "demo")
	if err != nil {
		t.Fatalf("Expected host-less play to be accepted, got: %v", err)
	}

	if got, want := writer.get(arts[0].PlaybookJSON), `[{"name":"local","hosts":[],"tasks":[]}]`; got != want {
		t.Errorf("playbook mismatch\nwant: %s\ngot:  %s", want, got)
	}
	if got, want := writer.get(arts[0].InventoryJSON), `{"all":{"hosts":{}}}`; got != want {
		t.Errorf("inventory mismatch\nwant: %s\ngot:  %s", want, got)
	}
}

func TestSynthesizer_ResolutionFailure(t *testing.T) {
	writer := newMockWriter()
	root, providers := demoTree()
	providers[0].err = errors.New("vault sealed")

	_, err := NewSynthesizer(writer).Synth(context.Background(), root, "demo")
	if err == nil {
		t.Fatal("Expected resolution error")
	}
	if !IsResolution(err) {
		t.Errorf("Expected resolution error, got: %v", err)
	}
	if got := LeafOf(err); got != "demo_s0_p1" {
		t.Errorf("Expected leaf demo_s0_p1, got %q", got)
	}
	if len(writer.paths()) != 0 {
		t.Errorf("Expected no artifacts, got %v", writer.paths())
	}
	if providers[1].calls.Load() != 0 || providers[2].calls.Load() != 0 {
		t.Error("Expected later leaves not to be resolved")
	}
}

func TestSynthesizer_HostFailure(t *testing.T) {
	failing := HostFunc(func(context.Context) (string, Params, error) {
		return "", nil, errors.New("host lookup failed")
	})
	root := SinglePlay(&Play{Name: "web", Hosts: []HostCapability{failing}})

	_, err := NewSynthesizer(newMockWriter()).Synth(context.Background(), root, "demo")
	if !IsResolution(err) {
		t.Fatalf("Expected resolution error, got: %v", err)
	}
	if !errors.Is(err, NewResolutionError("", nil).WithCode(ErrCodeHostFailed)) {
		t.Errorf("Expected HOST_FAILED code, got: %v", err)
	}
}

func TestSynthesizer_WriteFailure(t *testing.T) {
	writer := newMockWriter()
	writer.failOn = "demo_s1_p1_p3"
	root, _ := demoTree()

	_, err := NewSynthesizer(writer).Synth(context.Background(), root, "demo")
	if !IsSynthesis(err) {
		t.Fatalf("Expected synthesis error, got: %v", err)
	}
	if got := LeafOf(err); got != "demo_s1_p1_p3" {
		t.Errorf("Expected leaf demo_s1_p1_p3, got %q", got)
	}
}

func TestSynthesizer_PlayChecker(t *testing.T) {
	root, _ := demoTree()
	s := NewSynthesizer(newMockWriter(), WithPlayChecker(&mockChecker{deny: map[string]bool{"p2": true}}))

	_, err := s.Synth(context.Background(), root, "demo")
	if !IsSynthesis(err) {
		t.Fatalf("Expected synthesis error, got: %v", err)
	}
	if !errors.Is(err, NewSynthesisError("", nil).WithCode(ErrCodePolicyDenied)) {
		t.Errorf("Expected POLICY_DENIED code, got: %v", err)
	}
	if got := LeafOf(err); got != "demo_s1_p0_p2" {
		t.Errorf("Expected leaf demo_s1_p0_p2, got %q", got)
	}
}

func TestSynthesizer_SharedLeafResolvedOnceAcrossPasses(t *testing.T) {
	root, providers := demoTree()
	s := NewSynthesizer(newMockWriter())

	for i := 0; i < 2; i++ {
		if _, err := s.Synth(context.Background(), root, "demo"); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	for _, p := range providers {
		if p.calls.Load() != 1 {
			t.Errorf("Expected %s resolved once, got %d", p.name, p.calls.Load())
		}
	}
}
