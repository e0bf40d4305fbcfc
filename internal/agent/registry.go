// ABOUTME: Immutable registry mapping agent names to their backend endpoints.
// ABOUTME: Built once from configuration and injected into the endpoint layer.

package agent

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/2389/relay-gateway/internal/config"
)

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// ErrInvalidAgentName indicates an agent name that is not a valid identifier.
var ErrInvalidAgentName = errors.New("invalid agent name")

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Descriptor describes one addressable agent.
type Descriptor struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
}

// Registry is a read-only name to endpoint table. It has no mutators, so it
// is safe for concurrent use without locking.
type Registry struct {
	byName map[string]Descriptor
	sorted []Descriptor
}

// ValidName reports whether name is usable as an agent identifier.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// NewRegistry builds a registry from the configured agents.
// Names must be identifiers and unique; endpoints must be absolute http(s) URLs.
func NewRegistry(agents []config.AgentConfig) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]Descriptor, len(agents)),
		sorted: make([]Descriptor, 0, len(agents)),
	}

	for _, a := range agents {
		if !ValidName(a.Name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAgentName, a.Name)
		}
		if _, dup := r.byName[a.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", a.Name)
		}
		u, err := url.Parse(a.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("agent %q: endpoint %q must be an absolute http(s) URL", a.Name, a.Endpoint)
		}

		d := Descriptor{Name: a.Name, Endpoint: strings.TrimRight(a.Endpoint, "/")}
		r.byName[d.Name] = d
		r.sorted = append(r.sorted, d)
	}

	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i].Name < r.sorted[j].Name })
	return r, nil
}

// Resolve returns the descriptor for name, or ErrAgentNotFound.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	if !ValidName(name) {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	return d, nil
}

// List returns a snapshot of all agents sorted by name.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.sorted)
}
