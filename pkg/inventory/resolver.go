package inventory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openfroyo/playtree/pkg/engine"
)

// Reference prefixes understood by the resolver.
const (
	RegistryPrefix = "registry:"
	PluginPrefix   = "plugin:"
)

// Resolver turns host references into capabilities:
//
//	"web1"               static host from the project file, or a bare host
//	"registry:web1"      host registry entry, looked up when resolved
//	"plugin:hosts.wasm"  every host printed by the plugin
type Resolver struct {
	static   map[string]StaticHost
	registry HostLookup
	baseDir  string
	plugin   PluginConfig
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithStaticHosts registers hosts declared in the project file.
func WithStaticHosts(hosts ...StaticHost) ResolverOption {
	return func(r *Resolver) {
		for _, h := range hosts {
			r.static[h.Name] = h
		}
	}
}

// WithRegistry enables "registry:" references.
func WithRegistry(lookup HostLookup) ResolverOption {
	return func(r *Resolver) {
		r.registry = lookup
	}
}

// WithBaseDir sets the directory relative plugin paths are resolved from.
func WithBaseDir(dir string) ResolverOption {
	return func(r *Resolver) {
		r.baseDir = dir
	}
}

// WithPluginConfig sets the limits applied to plugin runs.
func WithPluginConfig(config PluginConfig) ResolverOption {
	return func(r *Resolver) {
		r.plugin = config
	}
}

// NewResolver creates a resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{static: make(map[string]StaticHost)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveRef returns the capabilities a reference stands for. Plugins run
// here; registry entries are only read when the capability is resolved.
func (r *Resolver) ResolveRef(ctx context.Context, ref string) ([]engine.HostCapability, error) {
	switch {
	case strings.HasPrefix(ref, RegistryPrefix):
		name := strings.TrimPrefix(ref, RegistryPrefix)
		if name == "" {
			return nil, fmt.Errorf("host reference %q has no name", ref)
		}
		if r.registry == nil {
			return nil, fmt.Errorf("host reference %q needs a host registry, none is configured", ref)
		}
		return []engine.HostCapability{NewRegistryHost(r.registry, name)}, nil

	case strings.HasPrefix(ref, PluginPrefix):
		path := strings.TrimPrefix(ref, PluginPrefix)
		if path == "" {
			return nil, fmt.Errorf("host reference %q has no plugin path", ref)
		}
		if !filepath.IsAbs(path) && r.baseDir != "" {
			path = filepath.Join(r.baseDir, path)
		}
		return NewPluginSource(path, r.plugin).Hosts(ctx)

	case ref == "":
		return nil, fmt.Errorf("empty host reference")

	default:
		if h, ok := r.static[ref]; ok {
			return []engine.HostCapability{h}, nil
		}
		return []engine.HostCapability{StaticHost{Name: ref}}, nil
	}
}
