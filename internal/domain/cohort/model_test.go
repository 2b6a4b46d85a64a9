package cohort

import (
	"encoding/json"
	"testing"
	"time"
)

func TestName_Formal(t *testing.T) {
	tests := []struct {
		name Name
		want string
	}{
		{Name{Family: "Doe", Given: []string{"John", "Q"}}, "DOE,JOHN Q"},
		{Name{Family: " smith "}, "SMITH"},
		{Name{Family: "Roe", Given: []string{"", " jane "}}, "ROE,JANE"},
	}
	for _, tt := range tests {
		if got := tt.name.Formal(); got != tt.want {
			t.Errorf("Formal(%+v) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestConcept(t *testing.T) {
	c := Concept{System: "http://hl7.org/fhir/sid/icd-10-cm", Code: " E11.9 ", Display: "Type 2 diabetes"}.Normalized()
	if c.System != "ICD10" || c.Code != "E11.9" {
		t.Errorf("Normalized = %+v", c)
	}
	if c.String() != "ICD10:E11.9" {
		t.Errorf("String = %q", c.String())
	}
	if c.Text() != "Type 2 diabetes" {
		t.Errorf("Text = %q", c.Text())
	}
	if (Concept{Code: "E11.9"}).Text() != "E11.9" {
		t.Error("Text should fall back to the code")
	}
	if !(Concept{System: "ICD10"}).IsZero() {
		t.Error("concept without code or display should be zero")
	}
}

func TestDate_JSON(t *testing.T) {
	var v struct {
		A Date `json:"a"`
		B Date `json:"b"`
		C Date `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"1980-05-15","b":"2024-01-15T10:30:00Z","c":null}`), &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.A.Equal(time.Date(1980, 5, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("A = %v", v.A)
	}
	if v.B.Day() != 15 || v.B.Hour() != 10 {
		t.Errorf("B = %v", v.B)
	}
	if !v.C.IsZero() {
		t.Errorf("C = %v", v.C)
	}

	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":"1980-05-15","b":"2024-01-15","c":null}`
	if string(out) != want {
		t.Errorf("Marshal = %s, want %s", out, want)
	}

	if err := json.Unmarshal([]byte(`{"a":"15/05/1980"}`), &v); err == nil {
		t.Error("expected error for unsupported layout")
	}
}

func TestCarePlanNote_Lines(t *testing.T) {
	n := &CarePlanNote{Text: "Diet and exercise.\r\nRecheck A1C in 3 months.\n"}
	lines := n.Lines()
	if len(lines) != 2 || lines[1] != "Recheck A1C in 3 months." {
		t.Errorf("Lines = %q", lines)
	}
	if (&CarePlanNote{}).Lines() != nil {
		t.Error("empty note should have no lines")
	}
}
