package cohort

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type repoJSON struct {
	path string
}

// NewJSONRepo returns a repository reading a cohort document from path.
func NewJSONRepo(path string) GraphRepository {
	return &repoJSON{path: path}
}

func (r *repoJSON) ListPatients(ctx context.Context, limit int) ([]*Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open cohort file: %w", err)
	}
	defer f.Close()

	patients, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.path, err)
	}
	if limit > 0 && len(patients) > limit {
		patients = patients[:limit]
	}
	return patients, nil
}

type document struct {
	Patients []*Patient `json:"patients"`
}

// Decode reads a cohort document: either {"patients": [...]} or a bare
// array of patients. Unknown fields are rejected.
func Decode(r io.Reader) ([]*Patient, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		return nil, fmt.Errorf("decode cohort: %w", err)
	}
	dec := json.NewDecoder(br)
	dec.DisallowUnknownFields()

	if first == '[' {
		var patients []*Patient
		if err := dec.Decode(&patients); err != nil {
			return nil, fmt.Errorf("decode cohort: %w", err)
		}
		return patients, nil
	}
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode cohort: %w", err)
	}
	return doc.Patients, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			if err == io.EOF {
				return 0, fmt.Errorf("empty document")
			}
			return 0, err
		}
		if !bytes.ContainsAny(b, " \t\r\n") {
			return b[0], nil
		}
		if _, err := br.ReadByte(); err != nil {
			return 0, err
		}
	}
}

// Encode writes patients as a cohort document.
func Encode(w io.Writer, patients []*Patient) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(document{Patients: patients})
}
