package cohort

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/synthetichealth/vistaexport/internal/platform/db"
)

// Migrations holds the source schema the Postgres repository reads.
//
//go:embed migrations/*.sql
var Migrations embed.FS

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo returns a repository reading the graph from Postgres.
func NewRepo(pool *pgxpool.Pool) GraphRepository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, family_name, given_names, COALESCE(gender,''), birth_date,
	COALESCE(marital_status,''), COALESCE(race,''), COALESCE(ethnicity,''), COALESCE(ssn,''),
	address_line, COALESCE(city,''), COALESCE(state_code,''), COALESCE(state_display,''),
	COALESCE(postal_code,'')`

func (r *repoPG) ListPatients(ctx context.Context, limit int) ([]*Patient, error) {
	query := `SELECT ` + patientCols + ` FROM patient ORDER BY created_at, id`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	byID := make(map[uuid.UUID]*Patient)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	if len(patients) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(patients))
	for i, p := range patients {
		ids[i] = p.ID
	}
	loaders := []struct {
		name string
		load func(context.Context, []uuid.UUID, map[uuid.UUID]*Patient) error
	}{
		{"encounters", r.loadEncounters},
		{"problems", r.loadProblems},
		{"medications", r.loadMedications},
		{"labs", r.loadLabs},
		{"allergies", r.loadAllergies},
		{"procedures", r.loadProcedures},
		{"vitals", r.loadVitals},
		{"health factors", r.loadHealthFactors},
		{"notes", r.loadNotes},
	}
	for _, l := range loaders {
		if err := l.load(ctx, ids, byID); err != nil {
			return nil, fmt.Errorf("load %s: %w", l.name, err)
		}
	}
	return patients, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var birth *time.Time
	var lines []string
	var addr Address
	err := row.Scan(&p.ID, &p.Name.Family, &p.Name.Given, &p.Gender, &birth,
		&p.MaritalStatus, &p.Race, &p.Ethnicity, &p.SSN,
		&lines, &addr.City, &addr.State.Code, &addr.State.Display, &addr.PostalCode)
	if err != nil {
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	p.BirthDate = dateOf(birth)
	addr.Line = lines
	if len(addr.Line) > 0 || addr.City != "" || !addr.State.IsZero() || addr.PostalCode != "" {
		p.Address = &addr
	}
	return &p, nil
}

// eachChild runs a child-table query restricted to the given patients and
// hands every row to scan together with its owning patient.
func (r *repoPG) eachChild(ctx context.Context, query string, ids []uuid.UUID, byID map[uuid.UUID]*Patient,
	scan func(rows pgx.Rows, owner *uuid.UUID) (func(*Patient), error)) error {
	rows, err := r.conn(ctx).Query(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var owner uuid.UUID
		attach, err := scan(rows, &owner)
		if err != nil {
			return err
		}
		p, ok := byID[owner]
		if !ok {
			return fmt.Errorf("row owned by unknown patient %s", owner)
		}
		attach(p)
	}
	return rows.Err()
}

func (r *repoPG) loadEncounters(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*Patient) error {
	return r.eachChild(ctx, `
		SELECT patient_id, id, period_start, COALESCE(class_code,''), COALESCE(service_category,''),
			COALESCE(location_system,''), COALESCE(location_code,''), COALESCE(location_display,''),
			COALESCE(clinic_stop_system,''), COALESCE(clinic_stop_code,''), COALESCE(clinic_stop_display,'')
		FROM encounter WHERE patient_id = ANY($1) ORDER BY period_start, id`, ids, byID,
		func(rows pgx.Rows, owner *uuid.UUID) (func(*Patient), error) {
			var e Encounter
			err := rows.Scan(owner, &e.ID, &e.Start, &e.Class, &e.ServiceCategory,
				&e.Location.System, &e.Location.Code, &e.Location.Display,
				&e.ClinicStop.System, &e.ClinicStop.Code, &e.ClinicStop.Display)
			if err != nil {
				return nil, fmt.Errorf("scan encounter: %w", err)
			}
			return func(p *Patient) { p.Encounters = append(p.Encounters, &e) }, nil
		})
}

func (r *repoPG) loadProblems(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*Patient) error {
	return r.eachChild(ctx, `
		SELECT patient_id, id, encounter_id,
			COALESCE(dx_system,''), COALESCE(dx_code,''), COALESCE(dx_display,''),
			COALESCE(narrative,''), COALESCE(status,''), recorded_date, onset_date, resolved_date
		FROM problem WHERE patient_id = ANY($1) ORDER BY id`, ids, byID,
		func(rows pgx.Rows, owner *uuid.UUID) (func(*Patient), error) {
			var e Problem
			var enc *uuid.UUID
			var recorded, onset, resolved *time.Time
			err := rows.Scan(owner, &e.ID, &enc,
				&e.Diagnosis.System, &e.Diagnosis.Code, &e.Diagnosis.Display,
				&e.Narrative, &e.Status, &recorded, &onset, &resolved)
			if err != nil {
				return nil, fmt.Errorf("scan problem: %w", err)
			}
			e.EncounterID = uuidOf(enc)
			e.Recorded, e.Onset, e.Resolved = dateOf(recorded), dateOf(onset), dateOf(resolved)
			return func(p *Patient) { p.Problems = append(p.Problems, &e) }, nil
		})
}

func (r *repoPG) loadMedications(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*Patient) error {
	return r.eachChild(ctx, `
		SELECT patient_id, id, encounter_id,
			COALESCE(drug_system,''), COALESCE(drug_code,''), COALESCE(drug_display,''),
			COALESCE(sig,''), quantity::float8, days_supply, start_time, stop_date, COALESCE(status,'')
		FROM medication WHERE patient_id = ANY($1) ORDER BY start_time NULLS LAST, id`, ids, byID,
		func(rows pgx.Rows, owner *uuid.UUID) (func(*Patient), error) {
			var e Medication
			var enc *uuid.UUID
			var start, stop *time.Time
			err := rows.Scan(owner, &e.ID, &enc,
				&e.Drug.System, &e.Drug.Code, &e.Drug.Display,
				&e.Sig, &e.Quantity, &e.DaysSupply, &start, &stop, &e.Status)
			if err != nil {
				return nil, fmt.Errorf("scan medication: %w", err)
			}
			e.EncounterID = uuidOf(enc)
			e.Start, e.Stopped = timeOf(start), dateOf(stop)
			return func(p *Patient) { p.Medications = append(p.Medications, &e) }, nil
		})
}

func (r *repoPG) loadLabs(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*Patient) error {
	return r.eachChild(ctx, `
		SELECT patient_id, id, encounter_id,
			COALESCE(test_system,''), COALESCE(test_code,''), COALESCE(test_display,''),
			COALESCE(value,''), COALESCE(units,''), COALESCE(abnormal_flag,''), collected_at
		FROM lab_result WHERE patient_id = ANY($1) ORDER BY collected_at NULLS LAST, id`, ids, byID,
		func(rows pgx.Rows, owner *uuid.UUID) (func(*Patient), error) {
			var e Lab
			var enc *uuid.UUID
			var collected *time.Time
			err := rows.Scan(owner, &e.ID, &enc,
				&e.Test.System, &e.Test.Code, &e.Test.Display,
				&e.Value, &e.Units, &e.Abnormal, &collected)
			if err != nil {
				return nil, fmt.Errorf("scan lab result: %w", err)
			}
			e.EncounterID = uuidOf(enc)
			e.Collected = timeOf(collected)
			return func(p *Patient) { p.Labs = append(p.Labs, &e) }, nil
		})
}

func (r *repoPG) loadAllergies(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*Patient) error {
	return r.eachChild(ctx, `
		SELECT patient_id, id, encounter_id,
			COALESCE(allergen_system,''), COALESCE(allergen_code,''), COALESCE(allergen_display,''),
			COALESCE(severity,''), COALESCE(reaction,''), recorded_at
		FROM allergy WHERE patient_id = ANY($1) ORDER BY recorded_at NULLS LAST, id`, ids, byID,
		func(rows pgx.Rows, owner *uuid.UUID) (func(*Patient), error) {
			var e Allergy
			var enc *uuid.UUID
			var recorded *time.Time
			err := rows.Scan(owner, &e.ID, &enc,
				&e.Allergen.System, &e.Allergen.Code, &e.Allergen.Display,
				&e.Severity, &e.Reaction, &recorded)
			if err != nil {
				return nil, fmt.Errorf("scan allergy: %w", err)
			}
			e.EncounterID = uuidOf(enc)
			e.Recorded = timeOf(recorded)
			return func(p *Patient) { p.Allergies = append(p.Allergies, &e) }, nil
		})
}

func (r *repoPG) loadProcedures(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*Patient) error {
	return r.eachChild(ctx, `
		SELECT patient_id, id, encounter_id,
			COALESCE(code_system,''), COALESCE(code_code,''), COALESCE(code_display,''),
			COALESCE(narrative,''), performed_at
		FROM procedure_event WHERE patient_id = ANY($1) ORDER BY performed_at NULLS LAST, id`, ids, byID,
		func(rows pgx.Rows, owner *uuid.UUID) (func(*Patient), error) {
			var e Procedure
			var enc *uuid.UUID
			var performed *time.Time
			err := rows.Scan(owner, &e.ID, &enc,
				&e.Code.System, &e.Code.Code, &e.Code.Display, &e.Narrative, &performed)
			if err != nil {
				return nil, fmt.Errorf("scan procedure: %w", err)
			}
			e.EncounterID = uuidOf(enc)
			e.Performed = timeOf(performed)
			return func(p *Patient) { p.Procedures = append(p.Procedures, &e) }, nil
		})
}

func (r *repoPG) loadVitals(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*Patient) error {
	return r.eachChild(ctx, `
		SELECT patient_id, id, encounter_id,
			COALESCE(type_system,''), COALESCE(type_code,''), COALESCE(type_display,''),
			value, COALESCE(units,''), taken_at
		FROM vital_sign WHERE patient_id = ANY($1) ORDER BY taken_at, id`, ids, byID,
		func(rows pgx.Rows, owner *uuid.UUID) (func(*Patient), error) {
			var e Vital
			var enc *uuid.UUID
			err := rows.Scan(owner, &e.ID, &enc,
				&e.Type.System, &e.Type.Code, &e.Type.Display, &e.Value, &e.Units, &e.Taken)
			if err != nil {
				return nil, fmt.Errorf("scan vital sign: %w", err)
			}
			e.EncounterID = uuidOf(enc)
			return func(p *Patient) { p.Vitals = append(p.Vitals, &e) }, nil
		})
}

func (r *repoPG) loadHealthFactors(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*Patient) error {
	return r.eachChild(ctx, `
		SELECT patient_id, id, encounter_id,
			COALESCE(factor_system,''), COALESCE(factor_code,''), COALESCE(factor_display,''),
			COALESCE(level,''), recorded_at
		FROM health_factor WHERE patient_id = ANY($1) ORDER BY recorded_at NULLS LAST, id`, ids, byID,
		func(rows pgx.Rows, owner *uuid.UUID) (func(*Patient), error) {
			var e HealthFactor
			var enc *uuid.UUID
			var recorded *time.Time
			err := rows.Scan(owner, &e.ID, &enc,
				&e.Factor.System, &e.Factor.Code, &e.Factor.Display, &e.Level, &recorded)
			if err != nil {
				return nil, fmt.Errorf("scan health factor: %w", err)
			}
			e.EncounterID = uuidOf(enc)
			e.Recorded = timeOf(recorded)
			return func(p *Patient) { p.HealthFactors = append(p.HealthFactors, &e) }, nil
		})
}

func (r *repoPG) loadNotes(ctx context.Context, ids []uuid.UUID, byID map[uuid.UUID]*Patient) error {
	return r.eachChild(ctx, `
		SELECT patient_id, id, encounter_id, document_type,
			COALESCE(title,''), COALESCE(status,''), note_date, COALESCE(text,'')
		FROM care_plan_note WHERE patient_id = ANY($1) ORDER BY note_date NULLS LAST, id`, ids, byID,
		func(rows pgx.Rows, owner *uuid.UUID) (func(*Patient), error) {
			var e CarePlanNote
			var enc *uuid.UUID
			var date *time.Time
			err := rows.Scan(owner, &e.ID, &enc, &e.DocumentType, &e.Title, &e.Status, &date, &e.Text)
			if err != nil {
				return nil, fmt.Errorf("scan care plan note: %w", err)
			}
			e.EncounterID = uuidOf(enc)
			e.Date = timeOf(date)
			return func(p *Patient) { p.Notes = append(p.Notes, &e) }, nil
		})
}

func uuidOf(p *uuid.UUID) uuid.UUID {
	if p == nil {
		return uuid.Nil
	}
	return *p
}

func timeOf(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}

func dateOf(p *time.Time) Date {
	if p == nil {
		return Date{}
	}
	return Date{p.UTC()}
}
