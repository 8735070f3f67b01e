package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"
)

// hospitalSeed is the fixed hospital roster; every dataset reuses the
// same five ids so re-runs converge on the same hospital nodes.
type hospitalSeed struct {
	ID       string
	Name     string
	Location string
	Type     string
}

var hospitalSeeds = []hospitalSeed{
	{"h001", "General Hospital", "San Francisco", "General"},
	{"h002", "Stanford Medical Center", "Palo Alto", "Research"},
	{"h003", "UCSF Medical Center", "San Francisco", "Academic"},
	{"h004", "Kaiser Permanente", "Oakland", "HMO"},
	{"h005", "Sutter Health", "Sacramento", "Network"},
}

var specialties = []string{
	"Cardiology", "Oncology", "Neurology", "Endocrinology",
	"Gastroenterology", "Pulmonology", "Nephrology", "Psychiatry",
	"Emergency Medicine", "Internal Medicine", "Family Medicine",
}

type diagnosisSeed struct {
	Code     string
	Name     string
	Severity string
}

var diagnosisSeeds = []diagnosisSeed{
	{"E11.9", "Type 2 diabetes mellitus without complications", "moderate"},
	{"I10", "Essential hypertension", "mild"},
	{"Z51.11", "Encounter for antineoplastic chemotherapy", "severe"},
	{"F41.1", "Generalized anxiety disorder", "mild"},
	{"M79.18", "Myalgia, other site", "mild"},
	{"R06.02", "Shortness of breath", "moderate"},
	{"K21.9", "Gastro-esophageal reflux disease without esophagitis", "mild"},
	{"M25.511", "Pain in right shoulder", "moderate"},
	{"I25.10", "Atherosclerotic heart disease", "severe"},
	{"N18.6", "End stage renal disease", "severe"},
}

type medicationSeed struct {
	Name       string
	Dosage     string
	Frequency  string
	Indication string
}

var medicationSeeds = []medicationSeed{
	{"Metformin", "500mg", "twice daily", "diabetes"},
	{"Lisinopril", "10mg", "once daily", "hypertension"},
	{"Atorvastatin", "20mg", "once daily", "cholesterol"},
	{"Omeprazole", "20mg", "once daily", "acid reflux"},
	{"Sertraline", "50mg", "once daily", "depression"},
	{"Albuterol", "90mcg", "as needed", "asthma"},
	{"Warfarin", "5mg", "once daily", "anticoagulation"},
	{"Insulin", "10 units", "before meals", "diabetes"},
}

type procedureSeed struct {
	Code     string
	Name     string
	Duration int
	Type     string
}

var procedureSeeds = []procedureSeed{
	{"93005", "Electrocardiogram", 30, "diagnostic"},
	{"80053", "Comprehensive metabolic panel", 15, "lab"},
	{"71020", "Chest X-ray", 20, "imaging"},
	{"36415", "Blood draw", 10, "lab"},
	{"99213", "Office visit - established patient", 45, "visit"},
	{"45378", "Colonoscopy", 60, "procedure"},
	{"76700", "Abdominal ultrasound", 45, "imaging"},
	{"73721", "MRI brain", 90, "imaging"},
}

var doctorFirstNames = []string{
	"Dr. Sarah", "Dr. Michael", "Dr. Jennifer", "Dr. David", "Dr. Lisa",
	"Dr. James", "Dr. Maria", "Dr. Robert", "Dr. Emily", "Dr. John",
}

var patientFirstNames = []string{
	"John", "Jane", "Michael", "Sarah", "David", "Lisa", "James", "Maria",
	"Robert", "Jennifer", "William", "Patricia", "Richard", "Linda", "Thomas",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
	"Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson",
}

// Record is one generated ingestion payload plus the identity carried
// in the publish headers.
type Record struct {
	Type     string
	EntityID string
	Payload  []byte
}

// Counts sizes one generated dataset.
type Counts struct {
	Doctors     int
	Patients    int
	Diagnoses   int
	Medications int
	Procedures  int
}

// modeCounts mirrors the publishing modes of the original load tool.
var modeCounts = map[string]Counts{
	"small":   {Doctors: 20, Patients: 100, Diagnoses: 200, Medications: 300, Procedures: 150},
	"medium":  {Doctors: 50, Patients: 300, Diagnoses: 600, Medications: 800, Procedures: 400},
	"large":   {Doctors: 100, Patients: 1000, Diagnoses: 2000, Medications: 3000, Procedures: 1500},
	"massive": {Doctors: 500, Patients: 5000, Diagnoses: 10000, Medications: 15000, Procedures: 7500},
}

// Generator produces connected synthetic healthcare records. Clinical
// records reference previously generated doctor and patient ids so the
// resulting graph is connected, and a fixed seed yields a reproducible
// dataset.
type Generator struct {
	rng        *rand.Rand
	now        time.Time
	doctorIDs  []string
	patientIDs []string
}

// NewGenerator creates a generator with a deterministic seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now().UTC(),
	}
}

func (g *Generator) pick(options []string) string {
	return options[g.rng.IntN(len(options))]
}

// intBetween returns a value in [lo, hi].
func (g *Generator) intBetween(lo, hi int) int {
	return lo + g.rng.IntN(hi-lo+1)
}

func (g *Generator) daysAgo(maxDays int) string {
	d := g.intBetween(1, maxDays)
	return g.now.AddDate(0, 0, -d).Format("2006-01-02")
}

func (g *Generator) record(recordType, entityID string, data map[string]any) Record {
	data["timestamp"] = g.now.Format(time.RFC3339)
	payload, err := json.Marshal(map[string]any{
		"type": recordType,
		"data": data,
	})
	if err != nil {
		// Data maps hold only scalars; marshal cannot fail.
		panic(err)
	}
	return Record{Type: recordType, EntityID: entityID, Payload: payload}
}

// Hospitals generates the fixed hospital roster.
func (g *Generator) Hospitals() []Record {
	records := make([]Record, 0, len(hospitalSeeds))
	for _, h := range hospitalSeeds {
		records = append(records, g.record("hospital", h.ID, map[string]any{
			"id":                h.ID,
			"name":              h.Name,
			"location":          h.Location,
			"hospital_type":     h.Type,
			"bed_count":         g.intBetween(100, 800),
			"trauma_center":     g.rng.IntN(2) == 0,
			"teaching_hospital": g.rng.IntN(2) == 0,
		}))
	}
	return records
}

// Doctors generates doctor records tied to the hospital roster.
func (g *Generator) Doctors(count int) []Record {
	records := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("doc_%03d", len(g.doctorIDs)+1)
		g.doctorIDs = append(g.doctorIDs, id)

		records = append(records, g.record("doctor", id, map[string]any{
			"id":               id,
			"name":             g.pick(doctorFirstNames) + " " + g.pick(lastNames),
			"specialty":        g.pick(specialties),
			"hospital_id":      hospitalSeeds[g.rng.IntN(len(hospitalSeeds))].ID,
			"license_number":   fmt.Sprintf("MD%06d", g.intBetween(100000, 999999)),
			"years_experience": g.intBetween(2, 30),
		}))
	}
	return records
}

// Patients generates patient records, each assigned a primary care
// doctor from the generated roster when one exists.
func (g *Generator) Patients(count int) []Record {
	records := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("pat_%04d", len(g.patientIDs)+1)
		g.patientIDs = append(g.patientIDs, id)

		// Skew toward older patients like real clinical populations.
		age := g.intBetween(18, 94)
		if g.rng.IntN(4) != 0 {
			age = g.intBetween(55, 94)
		}

		data := map[string]any{
			"id":            id,
			"name":          g.pick(patientFirstNames) + " " + g.pick(lastNames),
			"mrn":           fmt.Sprintf("MRN%07d", g.intBetween(1000000, 9999999)),
			"date_of_birth": g.now.AddDate(-age, 0, 0).Format("2006-01-02"),
			"age":           age,
			"gender":        g.pick([]string{"Male", "Female", "Other"}),
			"phone": fmt.Sprintf("+1-%03d-%03d-%04d",
				g.intBetween(100, 999), g.intBetween(100, 999), g.intBetween(1000, 9999)),
			"email": fmt.Sprintf("patient%d@email.com", len(g.patientIDs)),
		}
		if len(g.doctorIDs) > 0 {
			data["primary_care_doctor"] = g.pick(g.doctorIDs)
		}

		records = append(records, g.record("patient", id, data))
	}
	return records
}

// Diagnoses generates diagnosis records referencing generated patients
// and doctors. Requires Doctors and Patients to have run first.
func (g *Generator) Diagnoses(count int) []Record {
	if len(g.patientIDs) == 0 || len(g.doctorIDs) == 0 {
		return nil
	}

	records := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		seed := diagnosisSeeds[g.rng.IntN(len(diagnosisSeeds))]
		id := fmt.Sprintf("diag_%04d", i+1)

		records = append(records, g.record("diagnosis", id, map[string]any{
			"id":             id,
			"patient_id":     g.pick(g.patientIDs),
			"doctor_id":      g.pick(g.doctorIDs),
			"icd10_code":     seed.Code,
			"description":    seed.Name,
			"severity":       seed.Severity,
			"diagnosed_date": g.daysAgo(365),
			"status":         g.pick([]string{"active", "resolved", "chronic", "in_remission"}),
		}))
	}
	return records
}

// Medications generates prescription records.
func (g *Generator) Medications(count int) []Record {
	if len(g.patientIDs) == 0 || len(g.doctorIDs) == 0 {
		return nil
	}

	records := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		seed := medicationSeeds[g.rng.IntN(len(medicationSeeds))]
		id := fmt.Sprintf("med_%04d", i+1)

		records = append(records, g.record("medication", id, map[string]any{
			"id":                    id,
			"patient_id":            g.pick(g.patientIDs),
			"prescribing_doctor_id": g.pick(g.doctorIDs),
			"medication_name":       seed.Name,
			"dosage":                seed.Dosage,
			"frequency":             seed.Frequency,
			"indication":            seed.Indication,
			"prescribed_date":       g.daysAgo(180),
			"quantity":              g.intBetween(30, 90),
			"refills":               g.intBetween(0, 5),
			"status":                g.pick([]string{"active", "discontinued", "completed"}),
		}))
	}
	return records
}

// Procedures generates procedure records tied to patients, doctors,
// and hospitals.
func (g *Generator) Procedures(count int) []Record {
	if len(g.patientIDs) == 0 || len(g.doctorIDs) == 0 {
		return nil
	}

	records := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		seed := procedureSeeds[g.rng.IntN(len(procedureSeeds))]
		id := fmt.Sprintf("proc_%04d", i+1)

		records = append(records, g.record("procedure", id, map[string]any{
			"id":                   id,
			"patient_id":           g.pick(g.patientIDs),
			"performing_doctor_id": g.pick(g.doctorIDs),
			"hospital_id":          hospitalSeeds[g.rng.IntN(len(hospitalSeeds))].ID,
			"cpt_code":             seed.Code,
			"procedure_name":       seed.Name,
			"procedure_type":       seed.Type,
			"procedure_date":       g.daysAgo(90),
			"duration_minutes":     seed.Duration,
			"status":               g.pick([]string{"completed", "scheduled", "in_progress", "cancelled"}),
			"cost":                 float64(g.intBetween(5000, 500000)) / 100,
		}))
	}
	return records
}

// Dataset generates a complete connected dataset: hospitals first, then
// doctors and patients, then the clinical records that reference them.
func (g *Generator) Dataset(counts Counts) []Record {
	var records []Record
	records = append(records, g.Hospitals()...)
	records = append(records, g.Doctors(counts.Doctors)...)
	records = append(records, g.Patients(counts.Patients)...)
	records = append(records, g.Diagnoses(counts.Diagnoses)...)
	records = append(records, g.Medications(counts.Medications)...)
	records = append(records, g.Procedures(counts.Procedures)...)
	return records
}
