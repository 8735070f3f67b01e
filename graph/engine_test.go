package graph_test

import (
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/healthgraph/errors"
	"github.com/c360/healthgraph/graph"
	"github.com/c360/healthgraph/testutil"
	"github.com/c360/healthgraph/types/healthcare"
)

func doctorRecord(key string) healthcare.NodeRecord {
	return healthcare.NodeRecord{
		Kind: healthcare.KindDoctor,
		Key:  key,
		Attributes: map[string]any{
			"name":      "Dr. A",
			"specialty": "Cardiology",
		},
	}
}

func primaryCareRel(patientKey, doctorKey string) healthcare.RelationshipRecord {
	return healthcare.RelationshipRecord{
		Type: healthcare.RelHasPrimaryCareDoctor,
		From: healthcare.EndpointRef{Kind: healthcare.KindPatient, Key: patientKey},
		To:   healthcare.EndpointRef{Kind: healthcare.KindDoctor, Key: doctorKey},
	}
}

func TestUpsertNodeCreates(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)

	record := doctorRecord("doc_001")
	record.Refs = map[string]string{"hospital_id": "h001"}

	require.NoError(t, engine.UpsertNode(t.Context(), record))

	assert.Equal(t, 1, store.NodeCount("Doctor"))
	node, ok := store.Node("Doctor", "doc_001")
	require.True(t, ok)
	assert.Equal(t, "Dr. A", node["name"])
	assert.Equal(t, "Cardiology", node["specialty"])

	// Foreign-key refs are not node properties.
	assert.NotContains(t, node, "hospital_id")
}

func TestUpsertNodeIdempotentMerge(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)

	first := doctorRecord("doc_001")
	require.NoError(t, engine.UpsertNode(t.Context(), first))

	second := doctorRecord("doc_001")
	second.Attributes = map[string]any{
		"specialty":      "Neurology",
		"license_number": "LIC-9",
	}
	require.NoError(t, engine.UpsertNode(t.Context(), second))

	assert.Equal(t, 1, store.NodeCount("Doctor"))

	node, _ := store.Node("Doctor", "doc_001")
	assert.Equal(t, "Neurology", node["specialty"], "second write wins per field")
	assert.Equal(t, "Dr. A", node["name"], "untouched fields survive")
	assert.Equal(t, "LIC-9", node["license_number"])
}

func TestUpsertNodeAuditTimestamps(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)

	require.NoError(t, engine.UpsertNode(t.Context(), doctorRecord("doc_001")))

	node, ok := store.Node("Doctor", "doc_001")
	require.True(t, ok)
	created, ok := node["created_at"].(string)
	require.True(t, ok, "create stamps created_at")
	assert.NotEmpty(t, created)
	assert.NotContains(t, node, "updated_at", "first write is a create, not an update")

	second := doctorRecord("doc_001")
	second.Attributes = map[string]any{"specialty": "Neurology"}
	require.NoError(t, engine.UpsertNode(t.Context(), second))

	node, _ = store.Node("Doctor", "doc_001")
	assert.Equal(t, created, node["created_at"], "created_at survives later merges")
	updated, ok := node["updated_at"].(string)
	require.True(t, ok, "match stamps updated_at")
	assert.NotEmpty(t, updated)
}

func TestUpsertNodeConcurrentSameKey(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = engine.UpsertNode(t.Context(), doctorRecord("D1"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "upsert %d", i)
	}
	assert.Equal(t, 1, store.NodeCount("Doctor"), "concurrent merges collapse to one node")
}

func TestUpsertNodeInvalidRecord(t *testing.T) {
	engine := graph.NewEngine(testutil.NewFakeStore())

	err := engine.UpsertNode(t.Context(), healthcare.NodeRecord{Kind: healthcare.KindDoctor})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUpsertRelationshipCreatesMissingEndpoints(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)

	require.NoError(t, engine.UpsertRelationship(t.Context(), primaryCareRel("P1", "D1")))

	assert.True(t, store.HasRelationship("P1", "HAS_PRIMARY_CARE_DOCTOR", "D1"))
	assert.Equal(t, 1, store.NodeCount("Patient"))
	assert.Equal(t, 1, store.NodeCount("Doctor"))
}

func TestUpsertRelationshipIdempotent(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)

	rel := primaryCareRel("P1", "D1")
	require.NoError(t, engine.UpsertRelationship(t.Context(), rel))
	require.NoError(t, engine.UpsertRelationship(t.Context(), rel))

	assert.Equal(t, 1, store.RelationshipCount())
}

func TestReorderedDeliveryConverges(t *testing.T) {
	ctx := t.Context()

	// Relationship first, endpoints later.
	reordered := testutil.NewFakeStore()
	engine := graph.NewEngine(reordered)
	require.NoError(t, engine.UpsertRelationship(ctx, primaryCareRel("P1", "D1")))
	require.NoError(t, engine.UpsertNode(ctx, healthcare.NodeRecord{
		Kind: healthcare.KindPatient, Key: "P1",
		Attributes: map[string]any{"name": "J. Doe", "age": int64(40)},
	}))
	require.NoError(t, engine.UpsertNode(ctx, doctorRecord("D1")))

	// Endpoints first, relationship last.
	ordered := testutil.NewFakeStore()
	engine = graph.NewEngine(ordered)
	require.NoError(t, engine.UpsertNode(ctx, healthcare.NodeRecord{
		Kind: healthcare.KindPatient, Key: "P1",
		Attributes: map[string]any{"name": "J. Doe", "age": int64(40)},
	}))
	require.NoError(t, engine.UpsertNode(ctx, doctorRecord("D1")))
	require.NoError(t, engine.UpsertRelationship(ctx, primaryCareRel("P1", "D1")))

	for _, store := range []*testutil.FakeStore{reordered, ordered} {
		assert.Equal(t, 1, store.NodeCount("Patient"))
		assert.Equal(t, 1, store.NodeCount("Doctor"))
		assert.True(t, store.HasRelationship("P1", "HAS_PRIMARY_CARE_DOCTOR", "D1"))

		patient, _ := store.Node("Patient", "P1")
		assert.Equal(t, "J. Doe", patient["name"], "endpoint created bare still gains attributes")
	}
}

func TestUpsertRelationshipEndpointUnresolvable(t *testing.T) {
	engine := graph.NewEngine(testutil.NewFakeStore())

	rel := primaryCareRel("", "D1")
	err := engine.UpsertRelationship(t.Context(), rel)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.True(t, stderrors.Is(err, errors.ErrEndpointUnresolvable))

	var uerr *graph.UpsertError
	require.True(t, stderrors.As(err, &uerr))
	assert.Equal(t, graph.ReasonEndpointUnresolvable, uerr.Reason)
}

func TestUpsertNodeStoreUnavailable(t *testing.T) {
	store := testutil.NewFakeStore()
	store.SetRunError(errors.WrapTransient(errors.ErrNoConnection, "Client", "Run", "execute query"))
	engine := graph.NewEngine(store)

	err := engine.UpsertNode(t.Context(), doctorRecord("doc_001"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.True(t, stderrors.Is(err, errors.ErrStorageUnavailable))

	var uerr *graph.UpsertError
	require.True(t, stderrors.As(err, &uerr))
	assert.Equal(t, graph.ReasonStoreUnavailable, uerr.Reason)
}

func TestUpsertNodeConstraintViolation(t *testing.T) {
	store := testutil.NewFakeStore()
	store.SetRunError(errors.WrapInvalid(errors.ErrConstraintViolated, "Client", "Run", "execute query"))
	engine := graph.NewEngine(store)

	err := engine.UpsertNode(t.Context(), doctorRecord("doc_001"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	var uerr *graph.UpsertError
	require.True(t, stderrors.As(err, &uerr))
	assert.Equal(t, graph.ReasonConstraintViolation, uerr.Reason)
}

func TestApplyNodeWritesDerivedRelationships(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)

	record := doctorRecord("doc_001")
	record.Refs = map[string]string{"hospital_id": "h001"}

	result, err := engine.Apply(t.Context(), record)
	require.NoError(t, err)
	assert.Equal(t, graph.ApplyResult{Kind: "doctor", Key: "doc_001", Nodes: 1, Relationships: 1}, result)

	assert.True(t, store.HasRelationship("doc_001", "WORKS_AT", "h001"))
	assert.Equal(t, 1, store.NodeCount("Hospital"))
}

func TestApplyRelationshipRecord(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)

	result, err := engine.Apply(t.Context(), primaryCareRel("P1", "D1"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Relationships)
	assert.Equal(t, 0, result.Nodes)
	assert.Equal(t, "has_primary_care_doctor", result.Kind)
}

func TestEnsureConstraints(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)

	require.NoError(t, engine.EnsureConstraints(t.Context()))

	assert.ElementsMatch(t, []string{
		"hospital_id_unique",
		"doctor_id_unique",
		"patient_id_unique",
		"diagnosis_id_unique",
		"medication_id_unique",
		"procedure_id_unique",
	}, store.Constraints())
}

func TestStatistics(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)
	ctx := t.Context()

	require.NoError(t, engine.UpsertNode(ctx, doctorRecord("D1")))
	require.NoError(t, engine.UpsertNode(ctx, doctorRecord("D2")))
	require.NoError(t, engine.UpsertRelationship(ctx, primaryCareRel("P1", "D1")))

	stats, err := engine.Statistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Nodes["Doctor"])
	assert.Equal(t, int64(1), stats.Nodes["Patient"])
	assert.Equal(t, int64(3), stats.TotalNodes)
	assert.Equal(t, int64(1), stats.Relationships["HAS_PRIMARY_CARE_DOCTOR"])
	assert.Equal(t, int64(1), stats.TotalRelationships)
}

func TestSampleGraph(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)
	ctx := t.Context()

	require.NoError(t, engine.UpsertRelationship(ctx, primaryCareRel("P1", "D1")))
	require.NoError(t, engine.UpsertRelationship(ctx, primaryCareRel("P2", "D1")))
	require.NoError(t, engine.UpsertRelationship(ctx, primaryCareRel("P3", "D2")))

	edges, err := engine.SampleGraph(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
	for _, edge := range edges {
		assert.Equal(t, "Patient", edge.FromLabel)
		assert.Equal(t, "HAS_PRIMARY_CARE_DOCTOR", edge.Type)
		assert.Equal(t, "Doctor", edge.ToLabel)
	}
}

func TestPing(t *testing.T) {
	store := testutil.NewFakeStore()
	engine := graph.NewEngine(store)

	assert.NoError(t, engine.Ping(t.Context()))

	store.SetConnectivityError(errors.WrapTransient(errors.ErrNoConnection, "Client", "VerifyConnectivity", "ping"))
	assert.Error(t, engine.Ping(t.Context()))
}
