package testutil

import "fmt"

// Canned wire payloads shared by ingest and gateway tests. Shapes
// mirror what the synthetic generator publishes.

// DoctorPayload builds a doctor record payload.
func DoctorPayload(id, name, specialty string) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"doctor","data":{"doctor_id":%q,"name":%q,"specialty":%q}}`,
		id, name, specialty))
}

// PatientPayload builds a patient record payload.
func PatientPayload(id, name string, age int) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"patient","data":{"patient_id":%q,"name":%q,"age":%d}}`,
		id, name, age))
}

// HospitalPayload builds a hospital record payload.
func HospitalPayload(id, name, location string) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"hospital","data":{"id":%q,"name":%q,"location":%q}}`,
		id, name, location))
}

// PrimaryCarePayload builds a has_primary_care_doctor relationship
// payload in the camelCase spelling push producers use.
func PrimaryCarePayload(patientID, doctorID string) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"has_primary_care_doctor","data":{"patientId":%q,"doctorId":%q}}`,
		patientID, doctorID))
}

// DiagnosisPayload builds a diagnosis record payload with patient and
// doctor references.
func DiagnosisPayload(id, patientID, doctorID, icd10 string) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"diagnosis","data":{"diagnosis_id":%q,"patient_id":%q,"doctor_id":%q,"icd10_code":%q}}`,
		id, patientID, doctorID, icd10))
}

// Poison payloads that must terminate as permanent failures.
var (
	// PayloadUnknownType has a discriminator outside the record set.
	PayloadUnknownType = []byte(`{"type":"starship","data":{"id":"NCC-1701"}}`)

	// PayloadMissingField lacks the patient's required name.
	PayloadMissingField = []byte(`{"type":"patient","data":{"patient_id":"pat_0001"}}`)

	// PayloadMalformedValue carries a non-string name.
	PayloadMalformedValue = []byte(`{"type":"doctor","data":{"doctor_id":"doc_001","name":12345}}`)

	// PayloadBadJSON is not JSON at all.
	PayloadBadJSON = []byte(`{"type":"doctor","data":`)
)
