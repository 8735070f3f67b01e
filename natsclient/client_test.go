package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/healthgraph/errors"
	"github.com/c360/healthgraph/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.NotNil(t, client)
	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestNewClientOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(10),
		WithReconnectWait(5*time.Second),
		WithPingInterval(30*time.Second),
		WithName("healthgraph-test"),
	)
	require.NoError(t, err)

	assert.Equal(t, 10, client.MaxReconnects())
	assert.Equal(t, 5*time.Second, client.ReconnectWait())
	assert.Equal(t, 30*time.Second, client.PingInterval())

	opts := client.ConnectionOptions()
	assert.NotNil(t, opts)
}

func TestConnectionStatusString(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	// One short of the threshold must not open the circuit
	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

func TestCircuitBreakerReset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.NotEqual(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreakerExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithMaxBackoff(4*time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	// Backoff is capped at the configured maximum
	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())
}

func TestCircuitBreakerCustomThreshold(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCircuitBreakerThreshold(2),
	)
	require.NoError(t, err)

	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name           string
		initialStatus  ConnectionStatus
		action         func(*Client)
		expectedStatus ConnectionStatus
	}{
		{
			name:          "disconnected to connecting",
			initialStatus: StatusDisconnected,
			action: func(c *Client) {
				c.setStatus(StatusConnecting)
			},
			expectedStatus: StatusConnecting,
		},
		{
			name:          "connecting to connected",
			initialStatus: StatusConnecting,
			action: func(c *Client) {
				c.setStatus(StatusConnected)
			},
			expectedStatus: StatusConnected,
		},
		{
			name:          "connected to reconnecting",
			initialStatus: StatusConnected,
			action: func(c *Client) {
				c.setStatus(StatusReconnecting)
			},
			expectedStatus: StatusReconnecting,
		},
		{
			name:          "any to circuit open",
			initialStatus: StatusConnected,
			action: func(c *Client) {
				for i := 0; i < 5; i++ {
					c.recordFailure()
				}
			},
			expectedStatus: StatusCircuitOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient("nats://localhost:4222")
			require.NoError(t, err)
			client.setStatus(tt.initialStatus)

			tt.action(client)

			assert.Equal(t, tt.expectedStatus, client.Status())
		})
	}
}

func TestIsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		status   ConnectionStatus
		expected bool
	}{
		{"connected is healthy", StatusConnected, true},
		{"disconnected is not healthy", StatusDisconnected, false},
		{"connecting is not healthy", StatusConnecting, false},
		{"reconnecting is not healthy", StatusReconnecting, false},
		{"circuit open is not healthy", StatusCircuitOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient("nats://localhost:4222")
			require.NoError(t, err)
			client.setStatus(tt.status)
			assert.Equal(t, tt.expected, client.IsHealthy())
		})
	}
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	iterations := 100

	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.setStatus(StatusConnecting)
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.setStatus(StatusConnected)
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_ = client.Status()
		}
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.recordFailure()
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.resetCircuit()
		}
	}()

	wg.Wait()

	// No panic, and the status must still be one of the known values
	status := client.Status()
	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected,
		StatusConnecting,
		StatusConnected,
		StatusReconnecting,
		StatusCircuitOpen,
	}, status)
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out when not connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("returns immediately when connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)
		client.setStatus(StatusConnected)

		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		defer cancel()

		start := time.Now()
		err = client.WaitForConnection(ctx)
		elapsed := time.Since(start)

		assert.NoError(t, err)
		assert.Less(t, elapsed, 100*time.Millisecond)
	})

	t.Run("returns when becomes connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		assert.NoError(t, err)
		assert.Equal(t, StatusConnected, client.Status())
	})
}

func TestGetStatus(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		client.recordFailure()
	}

	status := client.GetStatus()
	require.NotNil(t, status)
	assert.Equal(t, int32(3), status.FailureCount)
	assert.Equal(t, StatusDisconnected, status.Status)
	assert.NotZero(t, status.LastFailureTime)

	client.resetCircuit()
	status = client.GetStatus()
	assert.Equal(t, int32(0), status.FailureCount)
}

func TestOperationsBeforeConnect(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx := t.Context()

	_, err = client.JetStream()
	assert.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	err = client.PublishToStream(ctx, "healthcare.events", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.GetStream(ctx, "EVENTS")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCircuitOpenShortCircuitsOperations(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	client.setStatus(StatusCircuitOpen)

	ctx := t.Context()

	err = client.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	err = client.PublishToStream(ctx, "healthcare.events", []byte("{}"))
	assert.ErrorIs(t, err, ErrCircuitOpen)

	_, err = client.GetStream(ctx, "EVENTS")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCloseIdempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCredentials("svc", "secret"),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	assert.NoError(t, client.Close(ctx))
	assert.NoError(t, client.Close(ctx))
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Empty(t, client.username)
	assert.Empty(t, client.password)
}

func TestWithMetricsRegistersCollectors(t *testing.T) {
	registry, err := metric.NewMetricsRegistry()
	require.NoError(t, err)

	client, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)
	require.NotNil(t, client.jsMetrics)

	// Tracking and error recording must not panic without a live broker
	client.jsMetrics.recordError("publish")
	client.TrackConsumer("EVENTS", "healthgraph", nil)

	// A second client on the same registry collides on metric names
	_, err = NewClient("nats://localhost:4222", WithMetrics(registry))
	assert.Error(t, err)
}

func TestConnectionHandlersRecordCoreMetrics(t *testing.T) {
	registry, err := metric.NewMetricsRegistry()
	require.NoError(t, err)

	client, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)
	require.NotNil(t, client.coreMetrics)

	gauge := func(name string) float64 {
		t.Helper()
		families, err := registry.PrometheusRegistry().Gather()
		require.NoError(t, err)
		for _, family := range families {
			if family.GetName() != name {
				continue
			}
			require.Len(t, family.GetMetric(), 1)
			m := family.GetMetric()[0]
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
		t.Fatalf("family %s not found", name)
		return 0
	}

	client.handleReconnect(nil)
	assert.Equal(t, float64(1), gauge("healthgraph_nats_connection_status"))
	assert.Equal(t, float64(1), gauge("healthgraph_nats_reconnects_total"))

	client.handleDisconnect(nil, nil)
	assert.Equal(t, float64(0), gauge("healthgraph_nats_connection_status"))

	client.handleReconnect(nil)
	assert.Equal(t, float64(1), gauge("healthgraph_nats_connection_status"))
	assert.Equal(t, float64(2), gauge("healthgraph_nats_reconnects_total"))

	client.handleClosed(nil)
	assert.Equal(t, float64(0), gauge("healthgraph_nats_connection_status"))
}

func TestWithMetricsNilRegistry(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithMetrics(nil))
	require.NoError(t, err)
	assert.Nil(t, client.jsMetrics)

	// nil receiver paths must be safe when metrics are disabled
	client.jsMetrics.recordError("publish")
	client.jsMetrics.trackStream("EVENTS", nil)
	cancel := client.jsMetrics.startPoller(t.Context(), time.Second)
	cancel()
}

func TestCounterDelta(t *testing.T) {
	assert.Equal(t, float64(5), counterDelta(15, 10))
	assert.Equal(t, float64(0), counterDelta(10, 10))
	// Backwards jump means the consumer was recreated
	assert.Equal(t, float64(3), counterDelta(3, 10))
}
