package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerDefaults(t *testing.T) {
	registry, err := NewMetricsRegistry()
	require.NoError(t, err)

	server := NewServer(0, "", registry)
	assert.Equal(t, "http://localhost:9090/metrics", server.Address())

	server = NewServer(9191, "/admin/metrics", registry)
	assert.Equal(t, "http://localhost:9191/admin/metrics", server.Address())
}

func TestServerStartRequiresRegistry(t *testing.T) {
	server := NewServer(9090, "/metrics", nil)
	err := server.Start()
	require.Error(t, err)
}

func TestServerStopBeforeStart(t *testing.T) {
	registry, err := NewMetricsRegistry()
	require.NoError(t, err)

	server := NewServer(9090, "/metrics", registry)
	assert.NoError(t, server.Stop())
	assert.NoError(t, server.Stop())
}
