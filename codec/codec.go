// Package codec parses raw ingestion payloads into typed healthcare records.
//
// The wire shape is a JSON object with a discriminator and a data object:
//
//	{"type": "doctor", "data": {"id": "doc_001", "name": "Dr. Sarah Johnson", ...}}
//
// Classification is a pure function of the payload. Field evolution is
// additive-only: unknown fields inside data are ignored, never errors. Both
// snake_case and camelCase key spellings are accepted so payloads from older
// producers and newer ones classify identically.
package codec

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/c360/healthgraph/errors"
	"github.com/c360/healthgraph/types/healthcare"
)

// envelope is the outer wire shape of every ingestion payload.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// fieldType constrains the JSON shape a field may carry.
type fieldType int

const (
	ftString fieldType = iota
	ftNumber
	ftBool
)

// field describes one recognized data field. The canonical name is
// snake_case; a camelCase alias is derived automatically.
type field struct {
	name     string
	typ      fieldType
	required bool
}

// nodeSpec lists the recognized fields for one node kind. Attrs become node
// properties; refs are foreign keys that imply derived relationships.
type nodeSpec struct {
	attrs []field
	refs  []field
}

var nodeSpecs = map[healthcare.NodeKind]nodeSpec{
	healthcare.KindHospital: {
		attrs: []field{
			{name: "name", typ: ftString, required: true},
			{name: "location", typ: ftString},
			{name: "hospital_type", typ: ftString},
			{name: "bed_count", typ: ftNumber},
			{name: "trauma_center", typ: ftBool},
			{name: "teaching_hospital", typ: ftBool},
		},
	},
	healthcare.KindDoctor: {
		attrs: []field{
			{name: "name", typ: ftString, required: true},
			{name: "specialty", typ: ftString},
			{name: "license_number", typ: ftString},
			{name: "years_experience", typ: ftNumber},
		},
		refs: []field{
			{name: "hospital_id", typ: ftString},
		},
	},
	healthcare.KindPatient: {
		attrs: []field{
			{name: "name", typ: ftString, required: true},
			{name: "mrn", typ: ftString},
			{name: "date_of_birth", typ: ftString},
			{name: "age", typ: ftNumber},
			{name: "gender", typ: ftString},
			{name: "phone", typ: ftString},
			{name: "email", typ: ftString},
		},
		refs: []field{
			{name: "primary_care_doctor", typ: ftString},
		},
	},
	healthcare.KindDiagnosis: {
		attrs: []field{
			{name: "icd10_code", typ: ftString},
			{name: "description", typ: ftString},
			{name: "severity", typ: ftString},
			{name: "diagnosed_date", typ: ftString},
			{name: "status", typ: ftString},
		},
		refs: []field{
			{name: "patient_id", typ: ftString, required: true},
			{name: "doctor_id", typ: ftString},
		},
	},
	healthcare.KindMedication: {
		attrs: []field{
			{name: "medication_name", typ: ftString},
			{name: "dosage", typ: ftString},
			{name: "frequency", typ: ftString},
			{name: "indication", typ: ftString},
			{name: "prescribed_date", typ: ftString},
			{name: "quantity", typ: ftNumber},
			{name: "refills", typ: ftNumber},
			{name: "status", typ: ftString},
		},
		refs: []field{
			{name: "patient_id", typ: ftString, required: true},
			{name: "prescribing_doctor_id", typ: ftString},
		},
	},
	healthcare.KindProcedure: {
		attrs: []field{
			{name: "cpt_code", typ: ftString},
			{name: "procedure_name", typ: ftString},
			{name: "procedure_type", typ: ftString},
			{name: "procedure_date", typ: ftString},
			{name: "duration_minutes", typ: ftNumber},
			{name: "status", typ: ftString},
			{name: "cost", typ: ftNumber},
		},
		refs: []field{
			{name: "patient_id", typ: ftString, required: true},
			{name: "performing_doctor_id", typ: ftString},
			{name: "hospital_id", typ: ftString},
		},
	},
}

// relSpec describes one explicit relationship discriminator: the endpoint
// key fields and any relationship attributes.
type relSpec struct {
	relType   healthcare.RelationshipType
	fromKind  healthcare.NodeKind
	fromField string
	toKind    healthcare.NodeKind
	toField   string
	attrs     []field
}

var relSpecs = map[string]relSpec{
	"works_at": {
		relType:  healthcare.RelWorksAt,
		fromKind: healthcare.KindDoctor, fromField: "doctor_id",
		toKind: healthcare.KindHospital, toField: "hospital_id",
	},
	"has_primary_care_doctor": {
		relType:  healthcare.RelHasPrimaryCareDoctor,
		fromKind: healthcare.KindPatient, fromField: "patient_id",
		toKind: healthcare.KindDoctor, toField: "doctor_id",
	},
	"has_diagnosis": {
		relType:  healthcare.RelHasDiagnosis,
		fromKind: healthcare.KindPatient, fromField: "patient_id",
		toKind: healthcare.KindDiagnosis, toField: "diagnosis_id",
	},
	"diagnosed": {
		relType:  healthcare.RelDiagnosed,
		fromKind: healthcare.KindDoctor, fromField: "doctor_id",
		toKind: healthcare.KindDiagnosis, toField: "diagnosis_id",
	},
	"prescribed": {
		relType:  healthcare.RelPrescribed,
		fromKind: healthcare.KindPatient, fromField: "patient_id",
		toKind: healthcare.KindMedication, toField: "medication_id",
		attrs: []field{{name: "prescribed_date", typ: ftString}},
	},
	"underwent": {
		relType:  healthcare.RelUnderwent,
		fromKind: healthcare.KindPatient, fromField: "patient_id",
		toKind: healthcare.KindProcedure, toField: "procedure_id",
		attrs: []field{
			{name: "date", typ: ftString},
			{name: "cost", typ: ftNumber},
		},
	},
	"performed": {
		relType:  healthcare.RelPerformed,
		fromKind: healthcare.KindDoctor, fromField: "doctor_id",
		toKind: healthcare.KindProcedure, toField: "procedure_id",
		attrs: []field{{name: "date", typ: ftString}},
	},
	"performed_at": {
		relType:  healthcare.RelPerformedAt,
		fromKind: healthcare.KindProcedure, fromField: "procedure_id",
		toKind: healthcare.KindHospital, toField: "hospital_id",
	},
}

// Classify parses an incoming payload into a typed record, validating
// required fields per kind. It has no side effects. Rejections carry a
// *ParseError in the chain and classify as invalid.
func Classify(payload []byte) (healthcare.Record, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, invalid(&ParseError{Reason: ReasonMalformedValue, Field: "payload"})
	}

	if strings.TrimSpace(env.Type) == "" {
		return nil, invalid(&ParseError{Reason: ReasonMissingField, Field: "type"})
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, invalid(&ParseError{Reason: ReasonMissingField, Field: "data"})
	}

	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, invalid(&ParseError{Reason: ReasonMalformedValue, Field: "data"})
	}

	disc := strings.ToLower(strings.TrimSpace(env.Type))

	if kind, ok := healthcare.ParseNodeKind(disc); ok {
		rec, perr := parseNode(kind, data)
		if perr != nil {
			return nil, invalid(perr)
		}
		return rec, nil
	}

	if spec, ok := relSpecs[disc]; ok {
		rec, perr := parseRelationship(spec, data)
		if perr != nil {
			return nil, invalid(perr)
		}
		return rec, nil
	}

	return nil, invalid(&ParseError{Reason: ReasonUnknownType, Type: env.Type})
}

func invalid(perr *ParseError) error {
	return pkgerrors.WrapInvalid(perr, "Codec", "Classify", "classify payload")
}

func parseNode(kind healthcare.NodeKind, data map[string]any) (healthcare.NodeRecord, *ParseError) {
	rec := healthcare.NodeRecord{Kind: kind}

	key, perr := extractKey(kind, data)
	if perr != nil {
		return rec, perr
	}
	rec.Key = key

	spec := nodeSpecs[kind]
	for _, f := range spec.attrs {
		v, perr := extractField(data, f)
		if perr != nil {
			return rec, perr
		}
		if v == nil {
			continue
		}
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]any, len(spec.attrs))
		}
		rec.Attributes[f.name] = v
	}

	for _, f := range spec.refs {
		v, perr := extractField(data, f)
		if perr != nil {
			return rec, perr
		}
		if v == nil {
			continue
		}
		if rec.Refs == nil {
			rec.Refs = make(map[string]string, len(spec.refs))
		}
		rec.Refs[f.name] = v.(string)
	}

	return rec, nil
}

func parseRelationship(spec relSpec, data map[string]any) (healthcare.RelationshipRecord, *ParseError) {
	rec := healthcare.RelationshipRecord{Type: spec.relType}

	fromKey, perr := extractField(data, field{name: spec.fromField, typ: ftString, required: true})
	if perr != nil {
		return rec, perr
	}
	toKey, perr := extractField(data, field{name: spec.toField, typ: ftString, required: true})
	if perr != nil {
		return rec, perr
	}

	rec.From = healthcare.EndpointRef{Kind: spec.fromKind, Key: fromKey.(string)}
	rec.To = healthcare.EndpointRef{Kind: spec.toKind, Key: toKey.(string)}

	for _, f := range spec.attrs {
		v, perr := extractField(data, f)
		if perr != nil {
			return rec, perr
		}
		if v == nil {
			continue
		}
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]any, len(spec.attrs))
		}
		rec.Attributes[f.name] = v
	}

	return rec, nil
}

// extractKey resolves the natural key, accepting "id" plus kind-qualified
// spellings ("doctor_id", "doctorId").
func extractKey(kind healthcare.NodeKind, data map[string]any) (string, *ParseError) {
	names := []string{"id", string(kind) + "_id", camelAlias(string(kind) + "_id")}

	for _, name := range names {
		v, ok := data[name]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return "", &ParseError{Reason: ReasonMalformedValue, Field: name}
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		return s, nil
	}

	return "", &ParseError{Reason: ReasonMissingField, Field: "id"}
}

// extractField looks a field up under its canonical and camelCase names and
// checks its JSON shape. Absent or null fields return (nil, nil) unless
// required; empty strings count as absent.
func extractField(data map[string]any, f field) (any, *ParseError) {
	v, ok := data[f.name]
	if !ok || v == nil {
		alias := camelAlias(f.name)
		if alias != f.name {
			v, ok = data[alias]
		}
	}

	if !ok || v == nil {
		if f.required {
			return nil, &ParseError{Reason: ReasonMissingField, Field: f.name}
		}
		return nil, nil
	}

	switch f.typ {
	case ftString:
		s, ok := v.(string)
		if !ok {
			return nil, &ParseError{Reason: ReasonMalformedValue, Field: f.name}
		}
		if strings.TrimSpace(s) == "" {
			if f.required {
				return nil, &ParseError{Reason: ReasonMissingField, Field: f.name}
			}
			return nil, nil
		}
		return s, nil
	case ftNumber:
		n, ok := v.(float64)
		if !ok {
			return nil, &ParseError{Reason: ReasonMalformedValue, Field: f.name}
		}
		return n, nil
	case ftBool:
		b, ok := v.(bool)
		if !ok {
			return nil, &ParseError{Reason: ReasonMalformedValue, Field: f.name}
		}
		return b, nil
	default:
		return v, nil
	}
}

// camelAlias converts a snake_case field name to its camelCase spelling.
func camelAlias(snake string) string {
	parts := strings.Split(snake, "_")
	if len(parts) == 1 {
		return snake
	}

	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
