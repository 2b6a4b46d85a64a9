package globals

import (
	"errors"
	"strings"
	"testing"
)

func TestNumber_Canonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1"},
		{"007", "7"},
		{"120.8", "120.8"},
		{"3240115.103000", "3240115.103"},
		{"3240115.000000", "3240115"},
		{"0.50", ".5"},
		{"-0", "0"},
		{"-12.10", "-12.1"},
	}
	for _, tt := range tests {
		got, err := Number(tt.in)
		if err != nil {
			t.Fatalf("Number(%q): unexpected error: %v", tt.in, err)
		}
		if got.Text() != tt.want {
			t.Errorf("Number(%q) = %q, want %q", tt.in, got.Text(), tt.want)
		}
	}
}

func TestNumber_Invalid(t *testing.T) {
	for _, in := range []string{"", "-", ".", "1.", "1e5", "12a", "1.2.3"} {
		if _, err := Number(in); err == nil {
			t.Errorf("Number(%q): expected error", in)
		}
	}
}

func TestPut_DuplicateKey(t *testing.T) {
	s := NewStore()
	if err := s.Put("^DPT", []Subscript{Int(1), Int(0)}, `"DOE,JANE"`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.Put("^DPT", []Subscript{Int(1), Int(0)}, `"DOE,JOHN"`)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if !strings.Contains(err.Error(), "^DPT(1,0)") {
		t.Errorf("expected error to name the node, got %q", err.Error())
	}
	if v, _ := s.Get("^DPT", Int(1), Int(0)); v != `"DOE,JANE"` {
		t.Errorf("first write must survive, got %q", v)
	}
}

func TestPut_NumericAndStringSubscriptsDiffer(t *testing.T) {
	s := NewStore()
	if err := s.Put("^X", []Subscript{Int(1)}, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("^X", []Subscript{Str("1")}, "b"); err != nil {
		t.Fatalf("string subscript \"1\" must not collide with numeric 1: %v", err)
	}
	if err := s.Put("^X", []Subscript{MustNumber("1.0")}, "c"); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("1.0 canonicalizes to 1 and must collide, got %v", err)
	}
}

func TestPutAll_Atomic(t *testing.T) {
	s := NewStore()
	if err := s.Put("^DPT", []Subscript{Int(2), Int(0)}, "x"); err != nil {
		t.Fatal(err)
	}
	batch := []Entry{
		{Global: "^DPT", Subs: []Subscript{Int(3), Int(0)}, Value: "y"},
		{Global: "^DPT", Subs: []Subscript{Int(2), Int(0)}, Value: "z"},
	}
	if err := s.PutAll(batch); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if s.Has("^DPT", Int(3), Int(0)) {
		t.Error("no node of a failed batch may be written")
	}

	inner := []Entry{
		{Global: "^DPT", Subs: []Subscript{Int(4), Int(0)}, Value: "a"},
		{Global: "^DPT", Subs: []Subscript{Int(4), Int(0)}, Value: "b"},
	}
	if err := s.PutAll(inner); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey for repeated key inside a batch, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 node, got %d", s.Len())
	}
}

func TestEntries_Collation(t *testing.T) {
	s := NewStore()
	puts := []Entry{
		{Global: "^DPT", Subs: []Subscript{Str("B"), Str("SMITH"), Int(2)}},
		{Global: "^DPT", Subs: []Subscript{Int(10), Int(0)}},
		{Global: "^AUPNVSIT", Subs: []Subscript{Int(1), Int(0)}},
		{Global: "^DPT", Subs: []Subscript{Int(2), Int(0)}},
		{Global: "^DPT", Subs: []Subscript{Int(0)}},
		{Global: "^DPT", Subs: []Subscript{Int(2), MustNumber(".11")}},
		{Global: "^DPT", Subs: []Subscript{Str("B"), Str("DOE"), Int(1)}},
		{Global: "^DPT", Subs: []Subscript{Int(2)}},
	}
	for _, e := range puts {
		if err := s.Put(e.Global, e.Subs, ""); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{
		"^AUPNVSIT(1,0)",
		"^DPT(0)",
		"^DPT(2)",
		"^DPT(2,0)",
		"^DPT(2,.11)",
		"^DPT(10,0)",
		`^DPT("B","DOE",1)`,
		`^DPT("B","SMITH",2)`,
	}
	got := s.Entries()
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Ref() != want[i] {
			t.Errorf("entry %d = %s, want %s", i, got[i].Ref(), want[i])
		}
	}
}

func TestScan_Prefix(t *testing.T) {
	s := NewStore()
	for _, e := range []Entry{
		{Global: "^GMR", Subs: []Subscript{MustNumber("120.5"), Int(1), Int(0)}},
		{Global: "^GMR", Subs: []Subscript{MustNumber("120.8"), Int(0)}},
		{Global: "^GMR", Subs: []Subscript{MustNumber("120.8"), Int(1), Int(0)}},
		{Global: "^GMR", Subs: []Subscript{MustNumber("120.8"), Str("B"), Int(1), Int(1)}},
	} {
		if err := s.Put(e.Global, e.Subs, ""); err != nil {
			t.Fatal(err)
		}
	}
	got := s.Scan("^GMR", MustNumber("120.8"))
	if len(got) != 3 {
		t.Fatalf("expected 3 nodes under ^GMR(120.8, got %d", len(got))
	}
	if got[0].Ref() != "^GMR(120.8,0)" {
		t.Errorf("expected header first, got %s", got[0].Ref())
	}
	if n := len(s.Scan("^GMR", MustNumber("120.8"), Str("B"))); n != 1 {
		t.Errorf("expected 1 index node, got %d", n)
	}
	if n := len(s.Scan("^NOPE")); n != 0 {
		t.Errorf("expected no nodes, got %d", n)
	}
}

func TestWriteTo_Parse(t *testing.T) {
	s := NewStore()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(s.Put("^DPT", []Subscript{Int(0)}, `"PATIENT"^2^1^3241015`))
	must(s.Put("^DPT", []Subscript{Int(1), Int(0)}, `"DOE,JANE (A=B)"^"F"^2800515^^`))
	must(s.Put("^DPT", []Subscript{Str("B"), Str("DOE,JANE (A=B)"), Int(1)}, `""`))
	must(s.Put("^AUPNVSIT", []Subscript{Str("B"), MustNumber("3240115.1030"), Int(1)}, `""`))

	text := s.String()
	wantLine := `^DPT("B","DOE,JANE (A=B)",1)=""`
	if !strings.Contains(text, wantLine+"\n") {
		t.Errorf("expected line %s in output:\n%s", wantLine, text)
	}
	if !strings.Contains(text, "^AUPNVSIT(\"B\",3240115.103,1)=\"\"\n") {
		t.Errorf("expected canonical date subscript in output:\n%s", text)
	}

	parsed, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.String() != text {
		t.Errorf("reparsed store differs:\n%s\nvs\n%s", parsed.String(), text)
	}
	if v, ok := parsed.Get("^DPT", Int(1), Int(0)); !ok || v != `"DOE,JANE (A=B)"^"F"^2800515^^` {
		t.Errorf("unexpected zero node %q", v)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []string{
		"DPT(1,0)=x",
		"^DPT(1,0",
		`^DPT("B,1)=x`,
		"^DPT(1;0)=x",
		"^DPT(1,0)x",
		"^DPT(1,0)=a\n^DPT(1,0)=b",
	}
	for _, in := range tests {
		if _, err := Parse(strings.NewReader(in)); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}
