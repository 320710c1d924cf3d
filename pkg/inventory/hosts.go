package inventory

import (
	"context"
	"fmt"

	"github.com/openfroyo/playtree/pkg/engine"
	"github.com/openfroyo/playtree/pkg/stores"
)

// StaticHost is a host whose name and variables are known up front.
type StaticHost struct {
	Name string
	Vars engine.Params
}

// Resolve implements engine.HostCapability.
func (h StaticHost) Resolve(context.Context) (string, engine.Params, error) {
	return h.Name, h.Vars.Clone(), nil
}

// HostLookup finds registered hosts by name.
type HostLookup interface {
	GetHost(ctx context.Context, name string) (*stores.Host, error)
}

// RegistryHost looks a host up in the registry every time it is resolved,
// so edits to the registry apply to the next synthesis.
type RegistryHost struct {
	lookup HostLookup
	name   string
}

// NewRegistryHost returns a capability for the registered host name.
func NewRegistryHost(lookup HostLookup, name string) *RegistryHost {
	return &RegistryHost{lookup: lookup, name: name}
}

// Resolve implements engine.HostCapability. Connection details become
// ansible_host, ansible_port and ansible_user; registered vars follow and
// may override them.
func (h *RegistryHost) Resolve(ctx context.Context) (string, engine.Params, error) {
	host, err := h.lookup.GetHost(ctx, h.name)
	if err != nil {
		return "", nil, fmt.Errorf("registry host %s: %w", h.name, err)
	}

	vars := engine.P("ansible_host", host.Address)
	if host.Port != 0 && host.Port != 22 {
		vars = vars.Set("ansible_port", host.Port)
	}
	if host.User != "" {
		vars = vars.Set("ansible_user", host.User)
	}
	for _, kv := range host.Vars {
		vars = vars.Set(kv.Key, kv.Value)
	}
	return host.Name, vars, nil
}
