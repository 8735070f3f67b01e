// Package healthcare defines the typed entity and relationship records the
// ingestion pipeline materializes into the graph store. Records are
// ephemeral: parsed from one message, used for one upsert, then discarded.
package healthcare

import (
	"fmt"
	"strings"
)

// NodeKind identifies one of the fixed node kinds. The value doubles as the
// wire discriminator for entity messages.
type NodeKind string

const (
	KindHospital   NodeKind = "hospital"
	KindDoctor     NodeKind = "doctor"
	KindPatient    NodeKind = "patient"
	KindDiagnosis  NodeKind = "diagnosis"
	KindMedication NodeKind = "medication"
	KindProcedure  NodeKind = "procedure"
)

// AllNodeKinds returns every node kind in stable order.
func AllNodeKinds() []NodeKind {
	return []NodeKind{
		KindHospital,
		KindDoctor,
		KindPatient,
		KindDiagnosis,
		KindMedication,
		KindProcedure,
	}
}

// IsValid checks whether the kind is a known node kind.
func (k NodeKind) IsValid() bool {
	switch k {
	case KindHospital, KindDoctor, KindPatient, KindDiagnosis, KindMedication, KindProcedure:
		return true
	default:
		return false
	}
}

// Label returns the graph label for this kind, e.g. "Hospital".
func (k NodeKind) Label() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

func (k NodeKind) String() string {
	return string(k)
}

// ParseNodeKind resolves a wire discriminator to a node kind.
func ParseNodeKind(s string) (NodeKind, bool) {
	k := NodeKind(strings.ToLower(s))
	return k, k.IsValid()
}

// RelationshipType identifies one of the fixed relationship kinds. Values
// match the graph's relationship type names.
type RelationshipType string

const (
	RelWorksAt              RelationshipType = "WORKS_AT"
	RelHasPrimaryCareDoctor RelationshipType = "HAS_PRIMARY_CARE_DOCTOR"
	RelHasDiagnosis         RelationshipType = "HAS_DIAGNOSIS"
	RelDiagnosed            RelationshipType = "DIAGNOSED"
	RelPrescribed           RelationshipType = "PRESCRIBED"
	RelUnderwent            RelationshipType = "UNDERWENT"
	RelPerformed            RelationshipType = "PERFORMED"
	RelPerformedAt          RelationshipType = "PERFORMED_AT"
)

// AllRelationshipTypes returns every relationship type in stable order.
func AllRelationshipTypes() []RelationshipType {
	return []RelationshipType{
		RelWorksAt,
		RelHasPrimaryCareDoctor,
		RelHasDiagnosis,
		RelDiagnosed,
		RelPrescribed,
		RelUnderwent,
		RelPerformed,
		RelPerformedAt,
	}
}

// IsValid checks whether the type is a known relationship type.
func (t RelationshipType) IsValid() bool {
	switch t {
	case RelWorksAt, RelHasPrimaryCareDoctor, RelHasDiagnosis, RelDiagnosed,
		RelPrescribed, RelUnderwent, RelPerformed, RelPerformedAt:
		return true
	default:
		return false
	}
}

func (t RelationshipType) String() string {
	return string(t)
}

// ParseRelationshipType resolves a wire discriminator (lower snake case,
// e.g. "has_primary_care_doctor") to a relationship type.
func ParseRelationshipType(s string) (RelationshipType, bool) {
	t := RelationshipType(strings.ToUpper(s))
	return t, t.IsValid()
}

// EndpointRef names one end of a relationship by node kind and natural key.
type EndpointRef struct {
	Kind NodeKind `json:"kind"`
	Key  string   `json:"key"`
}

// Record is the closed set of parsed message variants produced by the codec.
// Anything outside the set is rejected at parse time.
type Record interface {
	// RecordKind returns the wire discriminator, used for per-kind metrics.
	RecordKind() string
	// Validate reports whether the record satisfies its kind's invariants.
	Validate() error
}

// NodeRecord carries one entity ready for a single idempotent upsert.
//
// Attributes are the properties written onto the node. Refs holds
// foreign-key fields (field name to natural key) that imply relationships to
// other nodes; they are not written as node properties.
type NodeRecord struct {
	Kind       NodeKind          `json:"kind"`
	Key        string            `json:"key"`
	Attributes map[string]any    `json:"attributes,omitempty"`
	Refs       map[string]string `json:"refs,omitempty"`
}

// RecordKind implements Record.
func (r NodeRecord) RecordKind() string {
	return string(r.Kind)
}

// Validate implements Record.
func (r NodeRecord) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("invalid node kind %q", r.Kind)
	}
	if strings.TrimSpace(r.Key) == "" {
		return fmt.Errorf("%s record has empty natural key", r.Kind)
	}
	return nil
}

// RelationshipRecord carries one relationship ready for a single idempotent
// upsert. A relationship is identified by (From.Key, To.Key, Type).
type RelationshipRecord struct {
	Type       RelationshipType `json:"type"`
	From       EndpointRef      `json:"from"`
	To         EndpointRef      `json:"to"`
	Attributes map[string]any   `json:"attributes,omitempty"`
}

// RecordKind implements Record.
func (r RelationshipRecord) RecordKind() string {
	return strings.ToLower(string(r.Type))
}

// Validate implements Record.
func (r RelationshipRecord) Validate() error {
	if !r.Type.IsValid() {
		return fmt.Errorf("invalid relationship type %q", r.Type)
	}
	if !r.From.Kind.IsValid() || !r.To.Kind.IsValid() {
		return fmt.Errorf("%s relationship has invalid endpoint kind", r.Type)
	}
	if strings.TrimSpace(r.From.Key) == "" || strings.TrimSpace(r.To.Key) == "" {
		return fmt.Errorf("%s relationship has empty endpoint key", r.Type)
	}
	return nil
}

// derivation describes one relationship implied by a foreign-key field on a
// node record.
type derivation struct {
	refField  string
	relType   RelationshipType
	otherKind NodeKind
	// nodeIsFrom is true when the record's own node is the from endpoint.
	nodeIsFrom bool
	// attrMap copies node attributes onto the relationship, renaming
	// node attribute (key) to relationship attribute (value).
	attrMap map[string]string
}

var derivations = map[NodeKind][]derivation{
	KindDoctor: {
		{refField: "hospital_id", relType: RelWorksAt, otherKind: KindHospital, nodeIsFrom: true},
	},
	KindPatient: {
		{refField: "primary_care_doctor", relType: RelHasPrimaryCareDoctor, otherKind: KindDoctor, nodeIsFrom: true},
	},
	KindDiagnosis: {
		{refField: "patient_id", relType: RelHasDiagnosis, otherKind: KindPatient},
		{refField: "doctor_id", relType: RelDiagnosed, otherKind: KindDoctor},
	},
	KindMedication: {
		{refField: "patient_id", relType: RelPrescribed, otherKind: KindPatient,
			attrMap: map[string]string{"prescribed_date": "prescribed_date"}},
		{refField: "prescribing_doctor_id", relType: RelPrescribed, otherKind: KindDoctor,
			attrMap: map[string]string{"prescribed_date": "date"}},
	},
	KindProcedure: {
		{refField: "patient_id", relType: RelUnderwent, otherKind: KindPatient,
			attrMap: map[string]string{"procedure_date": "date", "cost": "cost"}},
		{refField: "performing_doctor_id", relType: RelPerformed, otherKind: KindDoctor,
			attrMap: map[string]string{"procedure_date": "date"}},
		{refField: "hospital_id", relType: RelPerformedAt, otherKind: KindHospital, nodeIsFrom: true},
	},
}

// DerivedRelationships returns the relationships implied by the record's
// foreign-key refs, in stable order. A ref with an empty key yields no
// relationship.
func (r NodeRecord) DerivedRelationships() []RelationshipRecord {
	specs := derivations[r.Kind]
	if len(specs) == 0 || len(r.Refs) == 0 {
		return nil
	}

	var rels []RelationshipRecord
	for _, spec := range specs {
		otherKey, ok := r.Refs[spec.refField]
		if !ok || strings.TrimSpace(otherKey) == "" {
			continue
		}

		self := EndpointRef{Kind: r.Kind, Key: r.Key}
		other := EndpointRef{Kind: spec.otherKind, Key: otherKey}

		rel := RelationshipRecord{Type: spec.relType}
		if spec.nodeIsFrom {
			rel.From, rel.To = self, other
		} else {
			rel.From, rel.To = other, self
		}

		for nodeAttr, relAttr := range spec.attrMap {
			if v, ok := r.Attributes[nodeAttr]; ok {
				if rel.Attributes == nil {
					rel.Attributes = make(map[string]any, len(spec.attrMap))
				}
				rel.Attributes[relAttr] = v
			}
		}

		rels = append(rels, rel)
	}

	return rels
}
