package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/openfroyo/playtree/pkg/engine"
)

// PluginConfig limits the resources of an inventory plugin run.
type PluginConfig struct {
	// Timeout bounds a single plugin execution.
	Timeout time.Duration

	// MemoryLimitPages is the maximum memory in pages (64KB each).
	// Default is 256 pages (16MB).
	MemoryLimitPages uint32

	// Args are passed to the plugin after its program name.
	Args []string

	// Env is exposed to the plugin as environment variables.
	Env map[string]string
}

// PluginSource runs a WASI module that prints its hosts as JSON:
//
//	[{"name": "web1", "vars": {"ansible_host": "10.0.0.1"}}]
//
// The module gets no filesystem and no network access.
type PluginSource struct {
	path   string
	config PluginConfig
}

// NewPluginSource creates a source for the module at path.
func NewPluginSource(path string, config PluginConfig) *PluginSource {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MemoryLimitPages == 0 {
		config.MemoryLimitPages = 256
	}
	return &PluginSource{path: path, config: config}
}

// Path returns the module path.
func (p *PluginSource) Path() string {
	return p.path
}

// pluginHost is one entry of the plugin output.
type pluginHost struct {
	Name string        `json:"name"`
	Vars engine.Params `json:"vars"`
}

// Hosts executes the plugin and returns one capability per reported host,
// in the order the plugin printed them.
func (p *PluginSource) Hosts(ctx context.Context) ([]engine.HostCapability, error) {
	wasm, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin %s: %w", p.path, err)
	}

	stdout, err := p.run(ctx, wasm)
	if err != nil {
		return nil, err
	}

	return parsePluginOutput(p.path, stdout)
}

func (p *PluginSource) run(ctx context.Context, wasm []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(p.config.MemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	defer runtime.Close(context.WithoutCancel(ctx))

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	var stdout, stderr bytes.Buffer
	moduleConfig := wazero.NewModuleConfig().
		WithName(filepath.Base(p.path)).
		WithArgs(append([]string{filepath.Base(p.path)}, p.config.Args...)...).
		WithStdout(&stdout).
		WithStderr(&stderr)
	for k, v := range p.config.Env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	start := time.Now()
	mod, err := runtime.InstantiateWithConfig(ctx, wasm, moduleConfig)
	if mod != nil {
		defer mod.Close(context.WithoutCancel(ctx))
	}
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return nil, fmt.Errorf("plugin %s failed: %w: %s", p.path, err, msg)
			}
			return nil, fmt.Errorf("plugin %s failed: %w", p.path, err)
		}
	}

	log.Debug().
		Str("plugin", p.path).
		Dur("duration", time.Since(start)).
		Int("bytes", stdout.Len()).
		Msg("Inventory plugin finished")
	return stdout.Bytes(), nil
}

func parsePluginOutput(path string, data []byte) ([]engine.HostCapability, error) {
	var entries []pluginHost
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("plugin %s printed invalid host list: %w", path, err)
	}

	hosts := make([]engine.HostCapability, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("plugin %s: host %d has no name", path, i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("plugin %s: host %s listed twice", path, e.Name)
		}
		seen[e.Name] = true
		hosts = append(hosts, StaticHost{Name: e.Name, Vars: e.Vars})
	}
	return hosts, nil
}
