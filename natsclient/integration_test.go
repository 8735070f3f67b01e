package natsclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// integrationClient connects to a real NATS server, or skips the test when
// integration tests are not enabled. Requires a server with JetStream
// enabled (nats-server -js).
func integrationClient(t *testing.T) *Client {
	t.Helper()

	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}

	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	client, err := NewClient(url, WithName("healthgraph-integration"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = client.Close(closeCtx)
	})

	return client
}

func TestIntegration_ConnectAndRTT(t *testing.T) {
	client := integrationClient(t)

	assert.True(t, client.IsHealthy())
	assert.Equal(t, StatusConnected, client.Status())

	rtt, err := client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestIntegration_StreamRoundTrip(t *testing.T) {
	client := integrationClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := client.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "HEALTHGRAPH_IT",
		Subjects: []string{"healthgraph.it.>"},
		Storage:  jetstream.MemoryStorage,
	})
	require.NoError(t, err)
	require.NotNil(t, stream)

	t.Cleanup(func() {
		js, err := client.JetStream()
		if err != nil {
			return
		}
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		_ = js.DeleteStream(cleanupCtx, "HEALTHGRAPH_IT")
	})

	require.NoError(t, client.PublishToStream(ctx, "healthgraph.it.events", []byte(`{"type":"doctor"}`)))

	got, err := client.GetStream(ctx, "HEALTHGRAPH_IT")
	require.NoError(t, err)

	info, err := got.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)
}

func TestIntegration_Reconnect(t *testing.T) {
	client := integrationClient(t)

	// WaitForConnection returns promptly on a live connection
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, client.WaitForConnection(ctx))

	status := client.GetStatus()
	assert.Equal(t, StatusConnected, status.Status)
	assert.Equal(t, int32(0), status.FailureCount)
}
