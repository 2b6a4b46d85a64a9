// Package cohort holds the clinical record graph an export run consumes:
// patients with their encounters and patient-owned clinical events, loaders
// for JSON documents and the Postgres source schema, and graph validation.
package cohort

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/synthetichealth/vistaexport/pkg/codesystem"
)

// Concept is a coded value: a system, a code and a display text. Either the
// code or the display may be missing, never both on a populated concept.
type Concept struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// IsZero reports whether the concept carries neither a code nor a display.
func (c Concept) IsZero() bool {
	return strings.TrimSpace(c.Code) == "" && strings.TrimSpace(c.Display) == ""
}

// Normalized returns the concept with its system mapped to the short form.
func (c Concept) Normalized() Concept {
	c.System = codesystem.Normalize(c.System)
	c.Code = strings.TrimSpace(c.Code)
	c.Display = strings.TrimSpace(c.Display)
	return c
}

// Text is the display falling back to the code.
func (c Concept) Text() string {
	if d := strings.TrimSpace(c.Display); d != "" {
		return d
	}
	return strings.TrimSpace(c.Code)
}

func (c Concept) String() string {
	if c.Code == "" {
		return c.Display
	}
	if c.System == "" {
		return c.Code
	}
	return c.System + ":" + c.Code
}

// Date is a calendar date without a time of day. It decodes from
// "2006-01-02" as well as RFC 3339 timestamps.
type Date struct {
	time.Time
}

// NewDate returns the given calendar date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

const dateLayout = "2006-01-02"

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	d.Time = t
	return nil
}

// Name is a person name.
type Name struct {
	Family string   `json:"family"`
	Given  []string `json:"given,omitempty"`
}

// Formal renders the name as FAMILY,GIVEN MIDDLE.
func (n Name) Formal() string {
	family := strings.ToUpper(strings.TrimSpace(n.Family))
	var given []string
	for _, g := range n.Given {
		if g = strings.TrimSpace(g); g != "" {
			given = append(given, strings.ToUpper(g))
		}
	}
	if len(given) == 0 {
		return family
	}
	return family + "," + strings.Join(given, " ")
}

// Address is a postal address. State is coded, e.g. {Code: "MA", Display:
// "MASSACHUSETTS"}.
type Address struct {
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      Concept  `json:"state,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
}

// Patient is a root entity of the graph. Every clinical event hangs off the
// patient; events tied to an encounter name it by EncounterID.
type Patient struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          Name      `json:"name"`
	Gender        string    `db:"gender" json:"gender,omitempty"`
	BirthDate     Date      `db:"birth_date" json:"birth_date,omitempty"`
	MaritalStatus string    `db:"marital_status" json:"marital_status,omitempty"`
	Race          string    `db:"race" json:"race,omitempty"`
	Ethnicity     string    `db:"ethnicity" json:"ethnicity,omitempty"`
	SSN           string    `db:"ssn" json:"ssn,omitempty"`
	Address       *Address  `json:"address,omitempty"`

	Encounters    []*Encounter    `json:"encounters,omitempty"`
	Problems      []*Problem      `json:"problems,omitempty"`
	Medications   []*Medication   `json:"medications,omitempty"`
	Labs          []*Lab          `json:"labs,omitempty"`
	Allergies     []*Allergy      `json:"allergies,omitempty"`
	Procedures    []*Procedure    `json:"procedures,omitempty"`
	Vitals        []*Vital        `json:"vitals,omitempty"`
	HealthFactors []*HealthFactor `json:"health_factors,omitempty"`
	Notes         []*CarePlanNote `json:"notes,omitempty"`
}

// EventCount returns the number of clinical events of the patient.
func (p *Patient) EventCount() int {
	return len(p.Problems) + len(p.Medications) + len(p.Labs) + len(p.Allergies) +
		len(p.Procedures) + len(p.Vitals) + len(p.HealthFactors) + len(p.Notes)
}

// Encounter is a visit of the patient.
type Encounter struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Start           time.Time `db:"period_start" json:"start"`
	Class           string    `db:"class_code" json:"class,omitempty"`
	ServiceCategory string    `db:"service_category" json:"service_category,omitempty"`
	Location        Concept   `json:"location,omitempty"`
	ClinicStop      Concept   `json:"clinic_stop,omitempty"`
}

// Problem is a diagnosis on the patient's problem list.
type Problem struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	Diagnosis   Concept   `json:"diagnosis"`
	Narrative   string    `db:"narrative" json:"narrative,omitempty"`
	Status      string    `db:"status" json:"status,omitempty"`
	Recorded    Date      `db:"recorded_date" json:"recorded,omitempty"`
	Onset       Date      `db:"onset_date" json:"onset,omitempty"`
	Resolved    Date      `db:"resolved_date" json:"resolved,omitempty"`
}

// Medication is a medication order or statement.
type Medication struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	Drug        Concept   `json:"drug"`
	Sig         string    `db:"sig" json:"sig,omitempty"`
	Quantity    *float64  `db:"quantity" json:"quantity,omitempty"`
	DaysSupply  *int      `db:"days_supply" json:"days_supply,omitempty"`
	Start       time.Time `db:"start_time" json:"start,omitempty"`
	Stopped     Date      `db:"stop_date" json:"stopped,omitempty"`
	Status      string    `db:"status" json:"status,omitempty"`
}

// Lab is a laboratory result.
type Lab struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	Test        Concept   `json:"test"`
	Value       string    `db:"value" json:"value,omitempty"`
	Units       string    `db:"units" json:"units,omitempty"`
	Abnormal    string    `db:"abnormal_flag" json:"abnormal,omitempty"`
	Collected   time.Time `db:"collected_at" json:"collected,omitempty"`
}

// Allergy is an allergy or adverse reaction.
type Allergy struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	Allergen    Concept   `json:"allergen"`
	Severity    string    `db:"severity" json:"severity,omitempty"`
	Reaction    string    `db:"reaction" json:"reaction,omitempty"`
	Recorded    time.Time `db:"recorded_at" json:"recorded,omitempty"`
}

// Procedure is a performed procedure.
type Procedure struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	Code        Concept   `json:"code"`
	Narrative   string    `db:"narrative" json:"narrative,omitempty"`
	Performed   time.Time `db:"performed_at" json:"performed,omitempty"`
}

// Vital is one vital sign measurement.
type Vital struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	Type        Concept   `json:"type"`
	Value       string    `db:"value" json:"value"`
	Units       string    `db:"units" json:"units,omitempty"`
	Taken       time.Time `db:"taken_at" json:"taken"`
}

// HealthFactor is a behavioral or social factor, e.g. tobacco use.
type HealthFactor struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	Factor      Concept   `json:"factor"`
	Level       string    `db:"level" json:"level,omitempty"`
	Recorded    time.Time `db:"recorded_at" json:"recorded,omitempty"`
}

// CarePlanNote is a care-plan document with free text.
type CarePlanNote struct {
	ID           uuid.UUID `db:"id" json:"id"`
	EncounterID  uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	DocumentType string    `db:"document_type" json:"document_type"`
	Title        string    `db:"title" json:"title,omitempty"`
	Status       string    `db:"status" json:"status,omitempty"`
	Date         time.Time `db:"note_date" json:"date,omitempty"`
	Text         string    `db:"text" json:"text,omitempty"`
}

// Lines splits the note text into lines, dropping a trailing empty line.
func (n *CarePlanNote) Lines() []string {
	if n.Text == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(n.Text, "\r\n", "\n"), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
