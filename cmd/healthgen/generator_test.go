package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/healthgraph/codec"
	"github.com/c360/healthgraph/types/healthcare"
)

func TestDatasetCountsAndOrder(t *testing.T) {
	counts := Counts{Doctors: 5, Patients: 10, Diagnoses: 8, Medications: 6, Procedures: 4}
	records := NewGenerator(42).Dataset(counts)

	require.Len(t, records, len(hospitalSeeds)+5+10+8+6+4)

	// Referenced kinds come before the records that reference them.
	kindOrder := map[string]int{}
	for i, r := range records {
		if _, seen := kindOrder[r.Type]; !seen {
			kindOrder[r.Type] = i
		}
	}
	assert.Less(t, kindOrder["hospital"], kindOrder["doctor"])
	assert.Less(t, kindOrder["doctor"], kindOrder["patient"])
	assert.Less(t, kindOrder["patient"], kindOrder["diagnosis"])
}

func TestEveryGeneratedRecordClassifies(t *testing.T) {
	counts := Counts{Doctors: 3, Patients: 5, Diagnoses: 4, Medications: 4, Procedures: 4}
	records := NewGenerator(7).Dataset(counts)

	for _, r := range records {
		rec, err := codec.Classify(r.Payload)
		require.NoError(t, err, "payload for %s should classify: %s", r.EntityID, r.Payload)

		node, ok := rec.(healthcare.NodeRecord)
		require.True(t, ok)
		assert.Equal(t, r.EntityID, node.Key)
		assert.Equal(t, r.Type, string(node.Kind))
	}
}

func TestGeneratorIsDeterministic(t *testing.T) {
	counts := Counts{Doctors: 2, Patients: 3, Diagnoses: 2, Medications: 2, Procedures: 2}

	a := NewGenerator(99).Dataset(counts)
	b := NewGenerator(99).Dataset(counts)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, string(a[i].Payload), string(b[i].Payload))
	}
}

func TestClinicalRecordsReferenceGeneratedEntities(t *testing.T) {
	gen := NewGenerator(13)
	gen.Hospitals()
	gen.Doctors(4)
	gen.Patients(6)

	doctors := map[string]bool{}
	for _, id := range gen.doctorIDs {
		doctors[id] = true
	}
	patients := map[string]bool{}
	for _, id := range gen.patientIDs {
		patients[id] = true
	}

	for _, r := range gen.Diagnoses(10) {
		rec, err := codec.Classify(r.Payload)
		require.NoError(t, err)
		node := rec.(healthcare.NodeRecord)
		assert.True(t, patients[node.Refs["patient_id"]], "diagnosis must reference a generated patient")
		assert.True(t, doctors[node.Refs["doctor_id"]], "diagnosis must reference a generated doctor")
	}
}

func TestClinicalKindsWithoutEndpointsGenerateNothing(t *testing.T) {
	gen := NewGenerator(1)
	assert.Empty(t, gen.Diagnoses(5))
	assert.Empty(t, gen.Medications(5))
	assert.Empty(t, gen.Procedures(5))
}
