package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Mock artifact writer keeping documents in memory
type mockWriter struct {
	mu      sync.Mutex
	resets  int
	files   map[string][]byte
	written []string
	failOn  string
}

func newMockWriter() *mockWriter {
	return &mockWriter{
		files: make(map[string][]byte),
	}
}

func (m *mockWriter) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.files = make(map[string][]byte)
	m.written = nil
	return nil
}

func (m *mockWriter) Write(kind ArtifactKind, name string, doc interface{}) (string, string, error) {
	if m.failOn != "" && name == m.failOn {
		return "", "", errors.New("disk full")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", "", err
	}
	jsonPath := fmt.Sprintf("%s/%s.json", kind, name)
	textPath := fmt.Sprintf("%s/%s.yml", kind, name)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[jsonPath] = data
	m.files[textPath] = data
	m.written = append(m.written, jsonPath)
	return jsonPath, textPath, nil
}

func (m *mockWriter) get(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.files[path])
}

func (m *mockWriter) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Mock runner tracking concurrency and invocation order
type mockRunner struct {
	mu       sync.Mutex
	delay    time.Duration
	exitCode map[string]int
	startErr map[string]error
	calls    []string
	log      []string

	running    atomic.Int32
	maxRunning atomic.Int32
}

func newMockRunner(delay time.Duration) *mockRunner {
	return &mockRunner{
		delay:    delay,
		exitCode: make(map[string]int),
		startErr: make(map[string]error),
	}
}

func (m *mockRunner) Run(ctx context.Context, inventoryPath, playbookPath string) (*CommandResult, error) {
	name := leafFromPath(playbookPath)

	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.log = append(m.log, "start "+name)
	startErr := m.startErr[name]
	code := m.exitCode[name]
	m.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}

	n := m.running.Add(1)
	for {
		peak := m.maxRunning.Load()
		if n <= peak || m.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		m.running.Add(-1)
		return nil, ctx.Err()
	}
	m.running.Add(-1)

	m.mu.Lock()
	m.log = append(m.log, "end "+name)
	m.mu.Unlock()

	return &CommandResult{
		ExitCode: code,
		Output:   "ran " + inventoryPath + " " + playbookPath,
		Duration: m.delay,
	}, nil
}

func (m *mockRunner) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func (m *mockRunner) getLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.log...)
}

// leafFromPath strips "playbook/" and ".yml" from a mock writer path.
func leafFromPath(path string) string {
	const prefix, suffix = "playbook/", ".yml"
	if len(path) > len(prefix)+len(suffix) {
		return path[len(prefix) : len(path)-len(suffix)]
	}
	return path
}

// Mock provider counting resolutions
type mockProvider struct {
	name  string
	play  *Play
	err   error
	delay time.Duration
	calls atomic.Int32
}

func newMockProvider(name string) *mockProvider {
	return &mockProvider{
		name: name,
		play: &Play{
			Name:  name,
			Hosts: []HostCapability{staticHost{name: name + "-host"}},
			Tasks: []Task{{Name: "ping", Module: "ping"}},
		},
	}
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Resolve(ctx context.Context) (*Play, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.play, nil
}

// staticHost is a minimal host capability
type staticHost struct {
	name string
	vars Params
}

func (h staticHost) Resolve(context.Context) (string, Params, error) {
	return h.name, h.vars, nil
}

// countingHost counts how often it is consulted
type countingHost struct {
	name  string
	vars  Params
	calls atomic.Int32
}

func (h *countingHost) Resolve(context.Context) (string, Params, error) {
	h.calls.Add(1)
	return h.name, h.vars, nil
}

// Mock observer recording events
type mockObserver struct {
	mu     sync.Mutex
	events []Event
}

func (m *mockObserver) Observe(_ context.Context, event *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
}

func (m *mockObserver) ofType(t EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Mock play checker rejecting named plays
type mockChecker struct {
	deny map[string]bool
}

func (m *mockChecker) CheckPlay(_ context.Context, leaf string, play *Play) error {
	if m.deny[play.Name] {
		return fmt.Errorf("play %s is denied", play.Name)
	}
	return nil
}

// demoTree builds Sequential([Single(p1), Parallel([Single(p2), Single(p3)])]).
func demoTree() (*Node, []*mockProvider) {
	p1, p2, p3 := newMockProvider("p1"), newMockProvider("p2"), newMockProvider("p3")
	root := Sequential(
		Single(p1),
		Parallel(Single(p2), Single(p3)),
	)
	return root, []*mockProvider{p1, p2, p3}
}

// Runner reporting neither a result nor an error
type emptyRunner struct{}

func (emptyRunner) Run(context.Context, string, string) (*CommandResult, error) {
	return nil, nil
}
