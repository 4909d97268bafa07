package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/unimcp/unimcp/pkg/errors"
)

func validDescriptors() []ServerDescriptor {
	return []ServerDescriptor{
		{ID: "files", Kind: KindStdio, Command: "mcp-files", Args: []string{"--root", "/tmp"}},
		{ID: "search", Kind: KindHTTP, Endpoint: "https://example.com/mcp",
			Headers: map[string]string{"Authorization": "Bearer tok"}, Timeout: 90 * time.Second},
	}
}

func TestNewAndLookup(t *testing.T) {
	reg, err := New(validDescriptors())
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	desc, err := reg.Lookup("files")
	require.NoError(t, err)
	assert.Equal(t, KindStdio, desc.Kind)
	assert.Equal(t, "mcp-files", desc.Command)

	desc, err = reg.Lookup("search")
	require.NoError(t, err)
	assert.Equal(t, KindHTTP, desc.Kind)
	assert.Equal(t, "https://example.com/mcp", desc.Endpoint)
}

func TestLookupUnknownServer(t *testing.T) {
	reg, err := New(validDescriptors())
	require.NoError(t, err)

	_, err = reg.Lookup("ghost")
	require.Error(t, err)
	assert.True(t, mcperrors.IsConfiguration(err))
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeUnknownServer))
}

func TestNewRejectsInvalidDescriptors(t *testing.T) {
	tests := []struct {
		name string
		desc ServerDescriptor
	}{
		{"missing id", ServerDescriptor{Kind: KindStdio, Command: "x"}},
		{"missing kind", ServerDescriptor{ID: "a"}},
		{"unknown kind", ServerDescriptor{ID: "a", Kind: "websocket"}},
		{"stdio without command", ServerDescriptor{ID: "a", Kind: KindStdio}},
		{"http without endpoint", ServerDescriptor{ID: "a", Kind: KindHTTP}},
		{"http with bad endpoint", ServerDescriptor{ID: "a", Kind: KindHTTP, Endpoint: "not a url"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New([]ServerDescriptor{tt.desc})
			require.Error(t, err)
			assert.True(t, mcperrors.IsConfiguration(err))
			assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidDescriptor))
		})
	}
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	_, err := New([]ServerDescriptor{
		{ID: "dup", Kind: KindStdio, Command: "a"},
		{ID: "dup", Kind: KindStdio, Command: "b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestHasAndIDs(t *testing.T) {
	reg, err := New(validDescriptors())
	require.NoError(t, err)

	assert.True(t, reg.Has("files"))
	assert.False(t, reg.Has("ghost"))
	assert.Equal(t, []string{"files", "search"}, reg.IDs())
}

func TestEmptyRegistry(t *testing.T) {
	reg, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.IDs())
}
