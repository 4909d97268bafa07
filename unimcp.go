package unimcp

import (
	"context"

	"github.com/unimcp/unimcp/pkg/manager"
	"github.com/unimcp/unimcp/pkg/registry"
)

// New builds the full client core from a set of server descriptors: a
// validated registry wrapped in a connection manager. Most programs
// need nothing else from this module.
func New(descriptors []registry.ServerDescriptor, config manager.Config) (*manager.Manager, error) {
	reg, err := registry.New(descriptors)
	if err != nil {
		return nil, err
	}
	return manager.New(reg, config), nil
}

// NewDefault builds the client core with default configuration.
func NewDefault(descriptors []registry.ServerDescriptor) (*manager.Manager, error) {
	return New(descriptors, manager.DefaultConfig())
}

// CallTool is a one-shot convenience: build, call, disconnect. Programs
// making more than one call should hold on to a Manager instead.
func CallTool(ctx context.Context, descriptors []registry.ServerDescriptor, serverID, tool string, arguments interface{}) (interface{}, error) {
	m, err := NewDefault(descriptors)
	if err != nil {
		return nil, err
	}
	defer func() { _ = m.Close(ctx) }()
	return m.CallTool(ctx, serverID, tool, arguments)
}
