package cohort

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidGraph is returned for a graph whose identities are unusable:
// missing or repeated patient and encounter ids.
var ErrInvalidGraph = errors.New("invalid cohort graph")

type Service struct {
	repo GraphRepository
}

func NewService(repo GraphRepository) *Service {
	return &Service{repo: repo}
}

// Load reads up to limit patients and validates the graph.
func (s *Service) Load(ctx context.Context, limit int) ([]*Patient, error) {
	patients, err := s.repo.ListPatients(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load cohort: %w", err)
	}
	if err := Validate(patients); err != nil {
		return nil, err
	}
	return patients, nil
}

// Validate checks graph identities. Patients and encounters need unique,
// non-nil ids since records are linked through them; events missing an id
// are given a fresh one. Links from an event to an encounter are left to the
// exporter, which reports them as dangling pointers.
func Validate(patients []*Patient) error {
	seenPatients := make(map[uuid.UUID]bool, len(patients))
	seenEncounters := make(map[uuid.UUID]bool)
	for i, p := range patients {
		if p == nil {
			return fmt.Errorf("%w: patient %d is null", ErrInvalidGraph, i)
		}
		if p.ID == uuid.Nil {
			return fmt.Errorf("%w: patient %d has no id", ErrInvalidGraph, i)
		}
		if seenPatients[p.ID] {
			return fmt.Errorf("%w: duplicate patient id %s", ErrInvalidGraph, p.ID)
		}
		seenPatients[p.ID] = true

		for j, e := range p.Encounters {
			if e == nil || e.ID == uuid.Nil {
				return fmt.Errorf("%w: patient %s encounter %d has no id", ErrInvalidGraph, p.ID, j)
			}
			if seenEncounters[e.ID] {
				return fmt.Errorf("%w: duplicate encounter id %s", ErrInvalidGraph, e.ID)
			}
			seenEncounters[e.ID] = true
		}
		if err := assignEventIDs(p); err != nil {
			return err
		}
	}
	return nil
}

func assignEventIDs(p *Patient) error {
	for _, e := range p.Problems {
		if e == nil {
			return nullEvent(p)
		}
		fresh(&e.ID)
	}
	for _, e := range p.Medications {
		if e == nil {
			return nullEvent(p)
		}
		fresh(&e.ID)
	}
	for _, e := range p.Labs {
		if e == nil {
			return nullEvent(p)
		}
		fresh(&e.ID)
	}
	for _, e := range p.Allergies {
		if e == nil {
			return nullEvent(p)
		}
		fresh(&e.ID)
	}
	for _, e := range p.Procedures {
		if e == nil {
			return nullEvent(p)
		}
		fresh(&e.ID)
	}
	for _, e := range p.Vitals {
		if e == nil {
			return nullEvent(p)
		}
		fresh(&e.ID)
	}
	for _, e := range p.HealthFactors {
		if e == nil {
			return nullEvent(p)
		}
		fresh(&e.ID)
	}
	for _, e := range p.Notes {
		if e == nil {
			return nullEvent(p)
		}
		fresh(&e.ID)
	}
	return nil
}

func fresh(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func nullEvent(p *Patient) error {
	return fmt.Errorf("%w: patient %s has a null event", ErrInvalidGraph, p.ID)
}
