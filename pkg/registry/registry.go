// Package registry holds the static table of known MCP servers. A
// Registry is built once from a slice of descriptors, validated up
// front, and never mutated; a lookup miss is a configuration error
// surfaced before any I/O is attempted.
package registry

import (
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	mcperrors "github.com/unimcp/unimcp/pkg/errors"
)

// Kind identifies how a server is reached.
type Kind string

const (
	// KindStdio is a spawned child process speaking line-delimited
	// JSON-RPC over its standard streams.
	KindStdio Kind = "stdio"

	// KindHTTP is a remote endpoint receiving one JSON-RPC envelope per
	// HTTP POST.
	KindHTTP Kind = "http"
)

// ServerDescriptor describes one known server. Descriptors are defined
// at construction time and never mutated afterwards.
type ServerDescriptor struct {
	ID   string `json:"id" validate:"required"`
	Kind Kind   `json:"kind" validate:"required,oneof=stdio http"`

	// Stdio launch settings
	Command string            `json:"command,omitempty" validate:"required_if=Kind stdio"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// HTTP endpoint settings; auth (e.g. a bearer token) travels in Headers,
	// never inside the JSON-RPC payload.
	Endpoint string            `json:"endpoint,omitempty" validate:"required_if=Kind http,omitempty,url"`
	Headers  map[string]string `json:"headers,omitempty"`

	// Timeout bounds each HTTP call; zero means the transport default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Registry is an immutable id → descriptor mapping.
type Registry struct {
	descriptors map[string]ServerDescriptor
}

// New validates the given descriptors and builds a registry from them.
func New(descriptors []ServerDescriptor) (*Registry, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	table := make(map[string]ServerDescriptor, len(descriptors))
	for _, desc := range descriptors {
		if err := validate.Struct(desc); err != nil {
			return nil, mcperrors.InvalidDescriptor(desc.ID, err.Error())
		}
		if _, exists := table[desc.ID]; exists {
			return nil, mcperrors.InvalidDescriptor(desc.ID, "duplicate server id")
		}
		table[desc.ID] = desc
	}

	return &Registry{descriptors: table}, nil
}

// Lookup returns the descriptor for id, or a configuration error when
// the id is unknown.
func (r *Registry) Lookup(id string) (ServerDescriptor, error) {
	desc, ok := r.descriptors[id]
	if !ok {
		return ServerDescriptor{}, mcperrors.UnknownServer(id)
	}
	return desc, nil
}

// Has reports whether id is known.
func (r *Registry) Has(id string) bool {
	_, ok := r.descriptors[id]
	return ok
}

// IDs returns the known server identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered servers.
func (r *Registry) Len() int {
	return len(r.descriptors)
}
