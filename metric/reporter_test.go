package metric

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "processed", OutcomeProcessed.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}

func TestReporterEmptySnapshot(t *testing.T) {
	reporter := NewReporter()

	snap := reporter.Snapshot()
	assert.Zero(t, snap.Received)
	assert.Zero(t, snap.Processed)
	assert.Zero(t, snap.Failed)
	assert.Zero(t, snap.Pending)
	assert.Zero(t, snap.ThroughputPerSec)
	assert.Zero(t, snap.AvgProcessingMs)
	assert.Empty(t, snap.ByKind)
	assert.Equal(t, 60, snap.WindowSeconds)
}

func TestReporterCountsOutcomes(t *testing.T) {
	reporter := NewReporter()

	reporter.RecordReceived("push")
	reporter.RecordReceived("pull")
	reporter.RecordReceived("pull")

	reporter.RecordOutcome("doctor", OutcomeProcessed, 10*time.Millisecond)
	reporter.RecordOutcome("doctor", OutcomeProcessed, 30*time.Millisecond)
	reporter.RecordOutcome("unknown", OutcomeFailed, 2*time.Millisecond)

	snap := reporter.Snapshot()
	assert.Equal(t, int64(3), snap.Received)
	assert.Equal(t, int64(2), snap.Processed)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(0), snap.Pending)

	require.Contains(t, snap.ByKind, "doctor")
	assert.Equal(t, KindCounts{Processed: 2}, snap.ByKind["doctor"])
	require.Contains(t, snap.ByKind, "unknown")
	assert.Equal(t, KindCounts{Failed: 1}, snap.ByKind["unknown"])

	assert.InDelta(t, 14.0, snap.AvgProcessingMs, 0.001)
}

func TestReporterPendingTracksInFlight(t *testing.T) {
	reporter := NewReporter()

	reporter.RecordReceived("pull")
	reporter.RecordReceived("pull")
	reporter.RecordOutcome("patient", OutcomeProcessed, time.Millisecond)

	snap := reporter.Snapshot()
	assert.Equal(t, int64(1), snap.Pending)
}

func TestReporterRelationships(t *testing.T) {
	reporter := NewReporter()

	reporter.RecordRelationships(3)
	reporter.RecordRelationships(0)
	reporter.RecordRelationships(-2)
	reporter.RecordRelationships(1)

	assert.Equal(t, int64(4), reporter.Snapshot().RelationshipsCreated)
}

// Terminal counters must never outrun received, no matter how
// snapshots interleave with concurrent deliveries.
func TestReporterInvariantUnderConcurrency(t *testing.T) {
	reporter := NewReporter()

	const workers = 8
	const perWorker = 500

	var violations atomic.Int64
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			snap := reporter.Snapshot()
			if snap.Processed+snap.Failed > snap.Received {
				violations.Add(1)
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				reporter.RecordReceived("pull")
				if i%5 == 0 {
					reporter.RecordOutcome("diagnosis", OutcomeFailed, time.Microsecond)
				} else {
					reporter.RecordOutcome("diagnosis", OutcomeProcessed, time.Microsecond)
				}
			}
		}(w)
	}
	wg.Wait()
	close(done)

	assert.Zero(t, violations.Load(), "snapshot saw processed+failed > received")

	snap := reporter.Snapshot()
	assert.Equal(t, int64(workers*perWorker), snap.Received)
	assert.Equal(t, snap.Received, snap.Processed+snap.Failed)
}

func TestReporterThroughputWindow(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	clock := func() time.Time { return now }

	reporter := NewReporter(WithWindow(10*time.Second), WithClock(clock))

	// Events recorded early fall out of the window once time moves on.
	for i := 0; i < 5; i++ {
		reporter.RecordOutcome("doctor", OutcomeProcessed, time.Millisecond)
	}
	now = base.Add(30 * time.Second)
	assert.Zero(t, reporter.Snapshot().ThroughputPerSec)

	// Events inside the window count against the full window span.
	now = base.Add(45 * time.Second)
	reporter.RecordOutcome("doctor", OutcomeProcessed, time.Millisecond)
	now = base.Add(46 * time.Second)
	reporter.RecordOutcome("doctor", OutcomeProcessed, time.Millisecond)
	now = base.Add(50 * time.Second)

	snap := reporter.Snapshot()
	assert.Equal(t, 10, snap.WindowSeconds)
	assert.InDelta(t, 0.2, snap.ThroughputPerSec, 0.0001)
}

func TestReporterThroughputEarlyUptime(t *testing.T) {
	base := time.Unix(1700000000, 0)
	now := base
	clock := func() time.Time { return now }

	reporter := NewReporter(WithWindow(60*time.Second), WithClock(clock))

	now = base.Add(1 * time.Second)
	reporter.RecordOutcome("patient", OutcomeProcessed, time.Millisecond)
	reporter.RecordOutcome("patient", OutcomeProcessed, time.Millisecond)
	reporter.RecordOutcome("patient", OutcomeProcessed, time.Millisecond)
	reporter.RecordOutcome("patient", OutcomeProcessed, time.Millisecond)

	now = base.Add(2 * time.Second)
	snap := reporter.Snapshot()

	// Uptime is 2s, so the rate divides by 2 rather than by the
	// 60-second window.
	assert.InDelta(t, 2.0, snap.ThroughputPerSec, 0.0001)
	assert.InDelta(t, 2.0, snap.UptimeSeconds, 0.0001)
}

func TestReporterMirrorsCoreMetrics(t *testing.T) {
	registry, err := NewMetricsRegistry()
	require.NoError(t, err)

	reporter := NewReporter(WithCoreMetrics(registry.CoreMetrics()))
	reporter.RecordReceived("push")
	reporter.RecordOutcome("hospital", OutcomeProcessed, 5*time.Millisecond)
	reporter.RecordRelationships(2)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, family := range families {
		values[family.GetName()] = familyValue(family)
	}

	assert.Equal(t, 1.0, values["healthgraph_ingest_messages_received_total"])
	assert.Equal(t, 1.0, values["healthgraph_ingest_messages_processed_total"])
	assert.Equal(t, 2.0, values["healthgraph_graph_relationships_created_total"])
}

// familyValue sums counter and gauge samples across a family.
func familyValue(family *dto.MetricFamily) float64 {
	var total float64
	for _, m := range family.GetMetric() {
		switch {
		case m.GetCounter() != nil:
			total += m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			total += m.GetGauge().GetValue()
		}
	}
	return total
}

func TestWindowRejectsSubSecond(t *testing.T) {
	reporter := NewReporter(WithWindow(100 * time.Millisecond))
	assert.Equal(t, 1, reporter.Snapshot().WindowSeconds)
}
