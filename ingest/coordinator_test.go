package ingest_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/healthgraph/errors"
	"github.com/c360/healthgraph/graph"
	"github.com/c360/healthgraph/ingest"
	"github.com/c360/healthgraph/message"
	"github.com/c360/healthgraph/metric"
	"github.com/c360/healthgraph/testutil"
)

type fixture struct {
	coordinator *ingest.Coordinator
	store       *testutil.FakeStore
	reporter    *metric.Reporter
}

func newFixture(opts ...ingest.Option) *fixture {
	store := testutil.NewFakeStore()
	reporter := metric.NewReporter()
	return &fixture{
		coordinator: ingest.NewCoordinator(graph.NewEngine(store), reporter, opts...),
		store:       store,
		reporter:    reporter,
	}
}

func pushMessage(payload []byte) *message.Message {
	return message.New(payload, message.TransportPush)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "processed", ingest.OutcomeProcessed.String())
	assert.Equal(t, "rejected", ingest.OutcomeRejected.String())
	assert.Equal(t, "retry", ingest.OutcomeRetry.String())
	assert.Equal(t, "unknown", ingest.Outcome(0).String())
}

func TestOutcomeShouldAck(t *testing.T) {
	assert.True(t, ingest.OutcomeProcessed.ShouldAck())
	assert.True(t, ingest.OutcomeRejected.ShouldAck())
	assert.False(t, ingest.OutcomeRetry.ShouldAck())
}

func TestProcessOneAppliesNode(t *testing.T) {
	f := newFixture()

	outcome, err := f.coordinator.ProcessOne(t.Context(),
		pushMessage(testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology")))
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeProcessed, outcome)

	assert.Equal(t, 1, f.store.NodeCount("Doctor"))

	snap := f.reporter.Snapshot()
	assert.Equal(t, int64(1), snap.Received)
	assert.Equal(t, int64(1), snap.Processed)
	assert.Equal(t, int64(0), snap.Failed)
	assert.Equal(t, int64(1), snap.ByKind["doctor"].Processed)
}

func TestProcessOneRejectsPoisonPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
	}{
		{"unknown type", testutil.PayloadUnknownType},
		{"missing field", testutil.PayloadMissingField},
		{"malformed value", testutil.PayloadMalformedValue},
		{"bad json", testutil.PayloadBadJSON},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()

			outcome, err := f.coordinator.ProcessOne(t.Context(), pushMessage(tc.payload))
			require.Error(t, err)
			assert.Equal(t, ingest.OutcomeRejected, outcome)
			assert.True(t, errors.IsInvalid(err))
			assert.True(t, outcome.ShouldAck(), "permanent failures must not redeliver")

			snap := f.reporter.Snapshot()
			assert.Equal(t, int64(1), snap.Received)
			assert.Equal(t, int64(0), snap.Processed)
			assert.Equal(t, int64(1), snap.Failed)
			assert.Zero(t, f.store.TotalNodes(), "rejected payloads must not touch the store")
		})
	}
}

func TestProcessOneFailuresFeedErrorCounter(t *testing.T) {
	registry, err := metric.NewMetricsRegistry()
	require.NoError(t, err)
	core := registry.CoreMetrics()

	store := testutil.NewFakeStore()
	coordinator := ingest.NewCoordinator(graph.NewEngine(store), metric.NewReporter(),
		ingest.WithMetrics(core))

	counter := func(class string) float64 {
		t.Helper()
		families, gerr := registry.PrometheusRegistry().Gather()
		require.NoError(t, gerr)
		for _, family := range families {
			if family.GetName() != "healthgraph_errors_total" {
				continue
			}
			for _, m := range family.GetMetric() {
				match := false
				for _, label := range m.GetLabel() {
					if label.GetName() == "class" && label.GetValue() == class {
						match = true
					}
				}
				if match {
					return m.GetCounter().GetValue()
				}
			}
		}
		return 0
	}

	// Poison payload is an invalid-class failure.
	outcome, err := coordinator.ProcessOne(t.Context(), pushMessage([]byte(`{"type":"starship"}`)))
	assert.Equal(t, ingest.OutcomeRejected, outcome)
	require.Error(t, err)
	assert.Equal(t, 1.0, counter("invalid"))

	// A down store is a transient-class failure.
	store.SetRunError(errors.WrapTransient(errors.ErrStorageUnavailable, "FakeStore", "Run", "inject"))
	outcome, err = coordinator.ProcessOne(t.Context(),
		pushMessage(testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology")))
	assert.Equal(t, ingest.OutcomeRetry, outcome)
	require.Error(t, err)
	assert.Equal(t, 1.0, counter("transient"))

	// Success records nothing.
	store.SetRunError(nil)
	outcome, err = coordinator.ProcessOne(t.Context(),
		pushMessage(testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology")))
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeProcessed, outcome)
	assert.Equal(t, 1.0, counter("invalid"))
	assert.Equal(t, 1.0, counter("transient"))
}

func TestProcessOneRetriesOnStoreUnavailable(t *testing.T) {
	f := newFixture()
	f.store.SetRunError(errors.WrapTransient(errors.ErrNoConnection, "Client", "Run", "execute query"))

	outcome, err := f.coordinator.ProcessOne(t.Context(),
		pushMessage(testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology")))
	require.Error(t, err)
	assert.Equal(t, ingest.OutcomeRetry, outcome)
	assert.False(t, outcome.ShouldAck())
	assert.True(t, errors.IsTransient(err))

	// Retries are not terminal: received only.
	snap := f.reporter.Snapshot()
	assert.Equal(t, int64(1), snap.Received)
	assert.Equal(t, int64(0), snap.Processed)
	assert.Equal(t, int64(0), snap.Failed)
}

func TestProcessOneExhaustedRetriesReject(t *testing.T) {
	f := newFixture(ingest.WithMaxAttempts(3))
	f.store.SetRunError(errors.WrapTransient(errors.ErrStorageUnavailable, "Client", "Run", "execute query"))

	// Attempts below the cap still come back for redelivery.
	second := message.New(testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology"),
		message.TransportPull, message.WithAttempt(2))
	outcome, err := f.coordinator.ProcessOne(t.Context(), second)
	require.Error(t, err)
	assert.Equal(t, ingest.OutcomeRetry, outcome)

	// The final permitted attempt turns the failure terminal.
	final := message.New(testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology"),
		message.TransportPull, message.WithAttempt(3))
	outcome, err = f.coordinator.ProcessOne(t.Context(), final)
	require.Error(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)
	assert.True(t, outcome.ShouldAck())
	assert.True(t, stderrors.Is(err, errors.ErrMaxRetriesExceeded))
	assert.False(t, errors.IsTransient(err))

	snap := f.reporter.Snapshot()
	assert.Equal(t, int64(2), snap.Received)
	assert.Equal(t, int64(0), snap.Processed)
	assert.Equal(t, int64(1), snap.Failed)
}

func TestProcessOneRetryThenSuccessCountsOnce(t *testing.T) {
	f := newFixture()
	f.store.FailNext(1, errors.WrapTransient(errors.ErrNoConnection, "Client", "Run", "execute query"))

	payload := testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology")

	outcome, _ := f.coordinator.ProcessOne(t.Context(), pushMessage(payload))
	assert.Equal(t, ingest.OutcomeRetry, outcome)

	redelivery := message.New(payload, message.TransportPull, message.WithAttempt(2))
	outcome, err := f.coordinator.ProcessOne(t.Context(), redelivery)
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeProcessed, outcome)

	snap := f.reporter.Snapshot()
	assert.Equal(t, int64(2), snap.Received, "each delivery counts")
	assert.Equal(t, int64(1), snap.Processed, "one terminal outcome")
	assert.Equal(t, int64(0), snap.Failed)
	assert.Equal(t, 1, f.store.NodeCount("Doctor"))
}

func TestProcessOneRejectsConstraintViolation(t *testing.T) {
	f := newFixture()
	f.store.SetRunError(errors.WrapInvalid(errors.ErrConstraintViolated, "Client", "Run", "execute query"))

	outcome, err := f.coordinator.ProcessOne(t.Context(),
		pushMessage(testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology")))
	require.Error(t, err)
	assert.Equal(t, ingest.OutcomeRejected, outcome)

	snap := f.reporter.Snapshot()
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.ByKind["doctor"].Failed)
}

func TestProcessOneRelationship(t *testing.T) {
	f := newFixture()

	outcome, err := f.coordinator.ProcessOne(t.Context(),
		pushMessage(testutil.PrimaryCarePayload("pat_0001", "doc_001")))
	require.NoError(t, err)
	assert.Equal(t, ingest.OutcomeProcessed, outcome)

	assert.True(t, f.store.HasRelationship("pat_0001", "HAS_PRIMARY_CARE_DOCTOR", "doc_001"))
	assert.Equal(t, int64(1), f.reporter.Snapshot().RelationshipsCreated)
}

func TestIngestDoctorPatientAndRelationship(t *testing.T) {
	f := newFixture()
	ctx := t.Context()

	payloads := [][]byte{
		testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology"),
		testutil.PatientPayload("pat_0001", "J. Doe", 40),
		testutil.PrimaryCarePayload("pat_0001", "doc_001"),
	}
	for _, payload := range payloads {
		outcome, err := f.coordinator.ProcessOne(ctx, pushMessage(payload))
		require.NoError(t, err)
		require.Equal(t, ingest.OutcomeProcessed, outcome)
	}

	snap := f.reporter.Snapshot()
	assert.Equal(t, int64(3), snap.Received)
	assert.Equal(t, int64(3), snap.Processed)
	assert.Equal(t, int64(0), snap.Failed)
	assert.Equal(t, int64(1), snap.RelationshipsCreated)

	assert.Equal(t, 1, f.store.NodeCount("Doctor"))
	assert.Equal(t, 1, f.store.NodeCount("Patient"))
	assert.Equal(t, 1, f.store.RelationshipCount())
	assert.True(t, f.store.HasRelationship("pat_0001", "HAS_PRIMARY_CARE_DOCTOR", "doc_001"))
}

func TestConcurrentDuplicatesCollapseToOneNode(t *testing.T) {
	f := newFixture()
	payload := testutil.DoctorPayload("D1", "Dr. A", "Cardiology")

	var wg sync.WaitGroup
	outcomes := make([]ingest.Outcome, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], _ = f.coordinator.ProcessOne(context.Background(), pushMessage(payload))
		}(i)
	}
	wg.Wait()

	for i, outcome := range outcomes {
		assert.Equal(t, ingest.OutcomeProcessed, outcome, "delivery %d", i)
	}

	assert.Equal(t, 1, f.store.NodeCount("Doctor"), "duplicates merge into one node")

	snap := f.reporter.Snapshot()
	assert.Equal(t, int64(5), snap.Received)
	assert.Equal(t, int64(5), snap.Processed)
}

func TestReorderedDeliveryConverges(t *testing.T) {
	f := newFixture()
	ctx := t.Context()

	// Relationship arrives before either endpoint exists.
	outcome, err := f.coordinator.ProcessOne(ctx,
		pushMessage(testutil.PrimaryCarePayload("pat_0001", "doc_001")))
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeProcessed, outcome)

	outcome, err = f.coordinator.ProcessOne(ctx,
		pushMessage(testutil.PatientPayload("pat_0001", "J. Doe", 40)))
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeProcessed, outcome)

	outcome, err = f.coordinator.ProcessOne(ctx,
		pushMessage(testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology")))
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeProcessed, outcome)

	assert.True(t, f.store.HasRelationship("pat_0001", "HAS_PRIMARY_CARE_DOCTOR", "doc_001"))
	assert.Equal(t, 1, f.store.NodeCount("Patient"))
	assert.Equal(t, 1, f.store.NodeCount("Doctor"))

	patient, ok := f.store.Node("Patient", "pat_0001")
	require.True(t, ok)
	assert.Equal(t, "J. Doe", patient["name"], "late node fills in the bare endpoint")
}

func TestProcessOneRateLimiterShutdown(t *testing.T) {
	f := newFixture(ingest.WithRateLimit(1, 1))

	// Drain the burst token.
	outcome, err := f.coordinator.ProcessOne(t.Context(),
		pushMessage(testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology")))
	require.NoError(t, err)
	require.Equal(t, ingest.OutcomeProcessed, outcome)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	outcome, err = f.coordinator.ProcessOne(ctx,
		pushMessage(testutil.DoctorPayload("doc_002", "Dr. B", "Oncology")))
	require.Error(t, err)
	assert.Equal(t, ingest.OutcomeRetry, outcome)

	snap := f.reporter.Snapshot()
	assert.Equal(t, int64(2), snap.Received)
	assert.Equal(t, int64(1), snap.Processed)
}

func TestProcessOneTimeoutIsTransient(t *testing.T) {
	f := newFixture(ingest.WithTimeout(time.Nanosecond))

	outcome, err := f.coordinator.ProcessOne(t.Context(),
		pushMessage(testutil.DoctorPayload("doc_001", "Dr. A", "Cardiology")))
	require.Error(t, err)
	assert.Equal(t, ingest.OutcomeRetry, outcome)
	assert.True(t, errors.IsTransient(err))
}

func TestStatsSnapshotInvariant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				f.coordinator.ProcessOne(ctx, pushMessage(testutil.DoctorPayload("D1", "Dr. A", "X")))
				f.coordinator.ProcessOne(ctx, pushMessage(testutil.PayloadUnknownType))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	for {
		snap := f.coordinator.Stats()
		assert.LessOrEqual(t, snap.Processed+snap.Failed, snap.Received)
		select {
		case <-done:
			snap = f.coordinator.Stats()
			assert.Equal(t, int64(400), snap.Received)
			assert.Equal(t, int64(200), snap.Processed)
			assert.Equal(t, int64(200), snap.Failed)
			return
		default:
		}
	}
}
