package cohort

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCohort = `{
  "patients": [
    {
      "id": "7f1d6c1e-3a47-4c8e-9d7a-1f0b5a9e2c11",
      "name": {"family": "Doe", "given": ["John"]},
      "gender": "male",
      "birth_date": "1980-05-15",
      "encounters": [
        {"id": "0b6e1c2d-6f7a-4f51-8a1e-5c1b9d2e3f40", "start": "2024-01-15T10:30:00Z", "class": "AMB"}
      ],
      "problems": [
        {
          "encounter_id": "0b6e1c2d-6f7a-4f51-8a1e-5c1b9d2e3f40",
          "diagnosis": {"system": "ICD10", "code": "E11.9", "display": "Type 2 diabetes mellitus"}
        }
      ]
    },
    {
      "id": "9a2b3c4d-5e6f-4a1b-8c2d-3e4f5a6b7c8d",
      "name": {"family": "Roe", "given": ["Jane"]}
    }
  ]
}`

func TestDecode_Document(t *testing.T) {
	patients, err := Decode(strings.NewReader(sampleCohort))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(patients))
	}
	p := patients[0]
	if p.Name.Formal() != "DOE,JOHN" || p.BirthDate.Year() != 1980 {
		t.Errorf("unexpected patient %+v", p)
	}
	if len(p.Encounters) != 1 || len(p.Problems) != 1 {
		t.Fatalf("unexpected children: %d encounters, %d problems", len(p.Encounters), len(p.Problems))
	}
	if p.Problems[0].EncounterID != p.Encounters[0].ID {
		t.Error("problem should link to the encounter")
	}
	if p.Problems[0].Diagnosis.Code != "E11.9" {
		t.Errorf("diagnosis = %+v", p.Problems[0].Diagnosis)
	}
}

func TestDecode_BareArrayAndErrors(t *testing.T) {
	patients, err := Decode(strings.NewReader("\n  [{\"id\": \"9a2b3c4d-5e6f-4a1b-8c2d-3e4f5a6b7c8d\", \"name\": {\"family\": \"Roe\"}}]"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patients) != 1 {
		t.Fatalf("expected 1 patient, got %d", len(patients))
	}

	for name, doc := range map[string]string{
		"empty":         "   ",
		"unknown field": `{"patients": [], "extra": true}`,
		"malformed":     `{"patients": [`,
	} {
		if _, err := Decode(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestEncode_Decode(t *testing.T) {
	patients, err := Decode(strings.NewReader(sampleCohort))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, patients); err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode again: %v", err)
	}
	if len(again) != 2 || again[0].ID != patients[0].ID || !again[0].BirthDate.Equal(patients[0].BirthDate.Time) {
		t.Errorf("re-decoded graph differs: %+v", again[0])
	}
}

func TestJSONRepo_ListPatients(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cohort.json")
	if err := os.WriteFile(path, []byte(sampleCohort), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	repo := NewJSONRepo(path)

	all, err := repo.ListPatients(context.Background(), 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListPatients = %d, %v", len(all), err)
	}
	one, err := repo.ListPatients(context.Background(), 1)
	if err != nil || len(one) != 1 {
		t.Fatalf("ListPatients(limit 1) = %d, %v", len(one), err)
	}

	if _, err := NewJSONRepo(filepath.Join(t.TempDir(), "missing.json")).ListPatients(context.Background(), 0); err == nil {
		t.Error("expected error for missing file")
	}
}
