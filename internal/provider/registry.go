// Package provider holds the set of endpoints a session benchmarks and the
// providers file they are loaded from.
package provider

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/torosent/lopnur/internal/model"
)

// ErrNotFound is returned when a provider name is not registered.
var ErrNotFound = errors.New("provider not found")

// Registry is an ordered set of providers keyed by name. It is owned by the
// caller and passed explicitly; the zero value is an empty registry.
type Registry struct {
	providers []model.Provider
}

// NewRegistry returns a registry holding ps in order. Later entries replace
// earlier ones with the same name.
func NewRegistry(ps ...model.Provider) *Registry {
	r := &Registry{}
	for _, p := range ps {
		r.put(p)
	}
	return r
}

// Add registers p, replacing any provider with the same name. The endpoint
// must be an absolute http(s) or ws(s) URL.
func (r *Registry) Add(p model.Provider) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Endpoint = strings.TrimSpace(p.Endpoint)
	if p.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if err := ValidateEndpoint(p.Endpoint); err != nil {
		return fmt.Errorf("provider %s: %w", p.Name, err)
	}
	r.put(p)
	return nil
}

func (r *Registry) put(p model.Provider) {
	for i := range r.providers {
		if r.providers[i].Name == p.Name {
			r.providers[i] = p
			return
		}
	}
	r.providers = append(r.providers, p)
}

// Remove deletes the named provider.
func (r *Registry) Remove(name string) error {
	for i := range r.providers {
		if r.providers[i].Name == name {
			r.providers = append(r.providers[:i], r.providers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Lookup returns the named provider.
func (r *Registry) Lookup(name string) (model.Provider, bool) {
	if r == nil {
		return model.Provider{}, false
	}
	for _, p := range r.providers {
		if p.Name == name {
			return p, true
		}
	}
	return model.Provider{}, false
}

// All returns a copy of the registered providers in registration order.
func (r *Registry) All() []model.Provider {
	if r == nil {
		return nil
	}
	out := make([]model.Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Names returns the provider names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name
	}
	return names
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.providers)
}

// Select returns the named providers in the order given. Unknown names are
// reported together.
func (r *Registry) Select(names []string) ([]model.Provider, error) {
	out := make([]model.Provider, 0, len(names))
	var missing []string
	for _, name := range names {
		p, ok := r.Lookup(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, p)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.Join(missing, ", "))
	}
	return out, nil
}

// Partition splits the registered providers into those with a usable
// endpoint and the rest, keeping order.
func (r *Registry) Partition() (valid, invalid []model.Provider) {
	for _, p := range r.All() {
		if ValidateEndpoint(p.Endpoint) == nil {
			valid = append(valid, p)
		} else {
			invalid = append(invalid, p)
		}
	}
	return valid, invalid
}

// ValidateEndpoint checks that endpoint is an absolute URL with a supported
// scheme and a host.
func ValidateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	return nil
}
