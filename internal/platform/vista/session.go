package vista

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/synthetichealth/vistaexport/internal/domain/cohort"
	"github.com/synthetichealth/vistaexport/internal/platform/blobstore"
	"github.com/synthetichealth/vistaexport/internal/platform/fileman"
	"github.com/synthetichealth/vistaexport/internal/platform/globals"
	"github.com/synthetichealth/vistaexport/internal/platform/telemetry"
	"github.com/synthetichealth/vistaexport/pkg/codesystem"
)

// Options configure one export session.
type Options struct {
	Mode       fileman.Mode
	ExportDate fileman.Date
	// IENOffset shifts every file's first IEN to IENOffset+1 so that
	// separately exported batches can be concatenated.
	IENOffset fileman.IEN
	// RunID identifies the run; a random one is assigned when nil.
	RunID   uuid.UUID
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

type phase int

const (
	phaseNew phase = iota
	phasePatients
	phaseVisits
	phaseEvents
	phaseFinalized
)

func (p phase) String() string {
	return [...]string{"new", "patients", "visits", "events", "finalized"}[p]
}

// PatientsDone is returned by ExportPatients and consumed by ExportVisits.
type PatientsDone struct{ s *Session }

// VisitsDone is returned by ExportVisits and consumed by ExportEvents.
type VisitsDone struct{ s *Session }

// EventsDone is returned by ExportEvents and consumed by Finalize.
type EventsDone struct{ s *Session }

type visitRef struct {
	ien     fileman.IEN
	patient uuid.UUID
}

// Session exports one cohort into one global store. It is owned by a single
// goroutine; separate sessions share nothing.
type Session struct {
	opts    Options
	log     zerolog.Logger
	store   *globals.Store
	started time.Time

	phase phase
	err   error

	allocators map[fileman.FileNumber]*fileman.Allocator
	registries map[fileman.FileNumber]*fileman.Registry
	patients   map[uuid.UUID]fileman.IEN
	visits     map[uuid.UUID]visitRef
}

// NewSession validates the options and returns an empty session.
func NewSession(opts Options) (*Session, error) {
	if opts.Mode != fileman.PointerClean && opts.Mode != fileman.Legacy {
		return nil, fmt.Errorf("vista: unknown mode %v", opts.Mode)
	}
	if _, err := fileman.EncodeDate(opts.ExportDate, opts.Mode); err != nil {
		return nil, fmt.Errorf("vista: export date %s: %w", opts.ExportDate, err)
	}
	if opts.IENOffset < 0 {
		return nil, fmt.Errorf("vista: negative IEN offset %d", opts.IENOffset)
	}
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}
	return &Session{
		opts: opts,
		log: opts.Logger.With().
			Str("run_id", opts.RunID.String()).
			Str("mode", opts.Mode.String()).
			Logger(),
		store:      globals.NewStore(),
		started:    time.Now(),
		allocators: make(map[fileman.FileNumber]*fileman.Allocator),
		registries: make(map[fileman.FileNumber]*fileman.Registry),
		patients:   make(map[uuid.UUID]fileman.IEN),
		visits:     make(map[uuid.UUID]visitRef),
	}, nil
}

// RunID identifies the session's run.
func (s *Session) RunID() uuid.UUID { return s.opts.RunID }

// Store is the store being written. It is complete only after Finalize.
func (s *Session) Store() *globals.Store { return s.store }

// Run executes every phase in order.
func (s *Session) Run(patients []*cohort.Patient) (*Result, error) {
	pd, err := s.ExportPatients(patients)
	if err != nil {
		return nil, err
	}
	vd, err := s.ExportVisits(pd, patients)
	if err != nil {
		return nil, err
	}
	ed, err := s.ExportEvents(vd, patients)
	if err != nil {
		return nil, err
	}
	return s.Finalize(ed)
}

// enter checks that the session is healthy and that tok belongs to this
// session at phase want.
func (s *Session) enter(tok *Session, want phase) error {
	if s.err != nil {
		return s.err
	}
	if tok != s {
		return &fileman.Error{Kind: fileman.ErrPhaseOrder, Detail: "phase token belongs to another session"}
	}
	if s.phase != want {
		return &fileman.Error{Kind: fileman.ErrPhaseOrder, Detail: fmt.Sprintf("session is at phase %s, want %s", s.phase, want)}
	}
	return nil
}

// ExportPatients writes one PATIENT record per patient.
func (s *Session) ExportPatients(patients []*cohort.Patient) (PatientsDone, error) {
	if err := s.enter(s, phaseNew); err != nil {
		return PatientsDone{}, err
	}
	for _, p := range patients {
		if p == nil {
			return PatientsDone{}, s.abort(&fileman.Error{Kind: fileman.ErrIncompleteFields, File: File(FilePatient).Name, Detail: "null patient"})
		}
		if _, dup := s.patients[p.ID]; dup {
			return PatientsDone{}, s.abort(&fileman.Error{Kind: fileman.ErrDuplicateKey, File: File(FilePatient).Name, Record: p.ID.String(), Detail: "patient exported twice"})
		}
		ien, err := s.exportPatient(p)
		if err != nil {
			return PatientsDone{}, s.abort(err)
		}
		s.patients[p.ID] = ien
	}
	s.phase = phasePatients
	s.log.Info().Int("patients", len(s.patients)).Msg("patients exported")
	return PatientsDone{s: s}, nil
}

func (s *Session) exportPatient(p *cohort.Patient) (fileman.IEN, error) {
	vals := fileman.Values{
		FieldName:        fileman.Text(p.Name.Formal()),
		"SEX":            fileman.Text(codesystem.Sex(p.Gender)),
		"DATE OF BIRTH":  day(p.BirthDate),
		"MARITAL STATUS": fileman.Text(codesystem.MaritalStatus(p.MaritalStatus)),
		"RACE":           fileman.Text(strings.TrimSpace(p.Race)),
		"ETHNICITY":      fileman.Text(strings.TrimSpace(p.Ethnicity)),
		"SSN":            fileman.Text(strings.TrimSpace(p.SSN)),
	}
	if a := p.Address; a != nil {
		state, err := s.reference(FileState, a.State)
		if err != nil {
			return 0, err
		}
		vals["STREET"] = fileman.Text(strings.TrimSpace(strings.Join(a.Line, " ")))
		vals["CITY"] = fileman.Text(strings.TrimSpace(a.City))
		vals["STATE"] = state
		vals["ZIP"] = fileman.Text(strings.TrimSpace(a.PostalCode))
	}
	return s.write(FilePatient, p.ID, vals, nil)
}

// ExportVisits writes one VISIT record per encounter.
func (s *Session) ExportVisits(tok PatientsDone, patients []*cohort.Patient) (VisitsDone, error) {
	if err := s.enter(tok.s, phasePatients); err != nil {
		return VisitsDone{}, err
	}
	n := 0
	for _, p := range patients {
		if p == nil {
			continue
		}
		for _, e := range p.Encounters {
			ien, err := s.exportVisit(p, e)
			if err != nil {
				return VisitsDone{}, s.abort(err)
			}
			s.visits[e.ID] = visitRef{ien: ien, patient: p.ID}
			n++
		}
	}
	s.phase = phaseVisits
	s.log.Info().Int("visits", n).Msg("visits exported")
	return VisitsDone{s: s}, nil
}

func (s *Session) exportVisit(p *cohort.Patient, e *cohort.Encounter) (fileman.IEN, error) {
	f := File(FileVisit)
	if e == nil {
		return 0, &fileman.Error{Kind: fileman.ErrIncompleteFields, File: f.Name, Record: p.ID.String(), Detail: "null encounter"}
	}
	if _, dup := s.visits[e.ID]; dup {
		return 0, &fileman.Error{Kind: fileman.ErrDuplicateKey, File: f.Name, Record: e.ID.String(), Detail: "encounter exported twice"}
	}
	patient, err := s.patient(f, e.ID, FieldPatientName, p.ID)
	if err != nil {
		return 0, err
	}
	loc, err := s.reference(FileLocation, e.Location)
	if err != nil {
		return 0, err
	}
	stop, err := s.reference(FileClinicStop, e.ClinicStop)
	if err != nil {
		return 0, err
	}
	return s.write(FileVisit, e.ID, fileman.Values{
		"VISIT/ADMIT DATE&TIME": instant(e.Start),
		"TYPE":                  fileman.Text(strings.TrimSpace(e.Class)),
		FieldPatientName:        patient,
		"LOC. OF ENCOUNTER":     loc,
		"SERVICE CATEGORY":      fileman.Text(strings.TrimSpace(e.ServiceCategory)),
		"CLINIC STOP":           stop,
	}, nil)
}

// event is the common shape of a patient-owned clinical event being
// exported: its id, its visit link and a builder for the rest of its
// fields.
type event struct {
	id        uuid.UUID
	encounter uuid.UUID
	values    func() (fileman.Values, error)
	text      []string
}

// eventFile describes how one event file is filled from a patient.
type eventFile struct {
	num          fileman.FileNumber
	patientField string
	events       func(s *Session, p *cohort.Patient) []event
}

var eventFiles = []eventFile{
	{FileProblem, FieldPatientName, (*Session).problems},
	{FileMedication, FieldPatientName, (*Session).medications},
	{FileLab, FieldPatientName, (*Session).labs},
	{FileAllergy, FieldPatient, (*Session).allergies},
	{FileProcedure, FieldPatientName, (*Session).procedures},
	{FileVital, FieldPatient, (*Session).vitals},
	{FileHealthFactor, FieldPatientName, (*Session).healthFactors},
	{FileNote, FieldPatient, (*Session).notes},
}

// ExportEvents writes every clinical event. Files are filled one at a time
// across all patients so that IENs follow input order within each file.
// Index entries are written with their record.
func (s *Session) ExportEvents(tok VisitsDone, patients []*cohort.Patient) (EventsDone, error) {
	if err := s.enter(tok.s, phaseVisits); err != nil {
		return EventsDone{}, err
	}
	counts := zerolog.Dict()
	for _, ef := range eventFiles {
		f := File(ef.num)
		n := 0
		for _, p := range patients {
			if p == nil {
				continue
			}
			for _, ev := range ef.events(s, p) {
				if err := s.exportEvent(f, ef.patientField, p, ev); err != nil {
					return EventsDone{}, s.abort(err)
				}
				n++
			}
		}
		counts.Int(f.Name, n)
	}
	s.phase = phaseEvents
	s.log.Info().Dict("events", counts).Msg("events exported")
	return EventsDone{s: s}, nil
}

func (s *Session) exportEvent(f *fileman.FileDef, patientField string, p *cohort.Patient, ev event) error {
	patient, err := s.patient(f, ev.id, patientField, p.ID)
	if err != nil {
		return err
	}
	visit, err := s.visit(f, ev.id, p.ID, ev.encounter)
	if err != nil {
		return err
	}
	vals, err := ev.values()
	if err != nil {
		return fileman.Locate(err, f.Name, ev.id.String())
	}
	vals[patientField] = patient
	vals[FieldVisit] = visit
	_, err = s.write(f.Number, ev.id, vals, ev.text)
	return err
}

func (s *Session) problems(p *cohort.Patient) []event {
	out := make([]event, 0, len(p.Problems))
	for _, e := range p.Problems {
		out = append(out, event{id: e.ID, encounter: e.EncounterID, values: func() (fileman.Values, error) {
			dx, err := s.reference(FileICD, e.Diagnosis)
			if err != nil {
				return nil, err
			}
			narrative := strings.TrimSpace(e.Narrative)
			if narrative == "" {
				narrative = strings.TrimSpace(e.Diagnosis.Display)
			}
			return fileman.Values{
				"DIAGNOSIS":     dx,
				FieldNarrative:  fileman.Text(narrative),
				"DATE ENTERED":  day(e.Recorded),
				FieldStatus:     fileman.Text(strings.ToUpper(strings.TrimSpace(e.Status))),
				"DATE OF ONSET": day(e.Onset),
				"DATE RESOLVED": day(e.Resolved),
			}, nil
		}})
	}
	return out
}

func (s *Session) medications(p *cohort.Patient) []event {
	out := make([]event, 0, len(p.Medications))
	for _, e := range p.Medications {
		out = append(out, event{id: e.ID, encounter: e.EncounterID, values: func() (fileman.Values, error) {
			drug, err := s.reference(FileDrug, e.Drug)
			if err != nil {
				return nil, err
			}
			vals := fileman.Values{
				"MEDICATION":        drug,
				"SIG":               fileman.Text(strings.TrimSpace(e.Sig)),
				FieldEventDate:      instant(e.Start),
				"DISCONTINUED DATE": day(e.Stopped),
				FieldStatus:         fileman.Text(strings.ToUpper(strings.TrimSpace(e.Status))),
			}
			if e.Quantity != nil {
				vals["QUANTITY"] = fileman.Decimal(*e.Quantity)
			}
			if e.DaysSupply != nil {
				vals["DAYS SUPPLY"] = fileman.Int(int64(*e.DaysSupply))
			}
			return vals, nil
		}})
	}
	return out
}

func (s *Session) labs(p *cohort.Patient) []event {
	out := make([]event, 0, len(p.Labs))
	for _, e := range p.Labs {
		out = append(out, event{id: e.ID, encounter: e.EncounterID, values: func() (fileman.Values, error) {
			test, err := s.reference(FileLabTest, e.Test)
			if err != nil {
				return nil, err
			}
			return fileman.Values{
				"LAB TEST":             test,
				"RESULTS":              fileman.Text(strings.TrimSpace(e.Value)),
				FieldUnits:             fileman.Text(strings.TrimSpace(e.Units)),
				"ABNORMAL":             fileman.Text(strings.TrimSpace(e.Abnormal)),
				"COLLECTION DATE&TIME": instant(e.Collected),
			}, nil
		}})
	}
	return out
}

func (s *Session) allergies(p *cohort.Patient) []event {
	out := make([]event, 0, len(p.Allergies))
	for _, e := range p.Allergies {
		out = append(out, event{id: e.ID, encounter: e.EncounterID, values: func() (fileman.Values, error) {
			allergen, err := s.reference(FileAllergen, e.Allergen)
			if err != nil {
				return nil, err
			}
			return fileman.Values{
				"REACTANT":         fileman.Text(strings.ToUpper(e.Allergen.Text())),
				"GMR ALLERGY":      allergen,
				"ORIGINATION DATE": instant(e.Recorded),
				"SEVERITY":         fileman.Text(strings.ToUpper(strings.TrimSpace(e.Severity))),
				"REACTION":         fileman.Text(strings.TrimSpace(e.Reaction)),
			}, nil
		}})
	}
	return out
}

func (s *Session) procedures(p *cohort.Patient) []event {
	out := make([]event, 0, len(p.Procedures))
	for _, e := range p.Procedures {
		out = append(out, event{id: e.ID, encounter: e.EncounterID, values: func() (fileman.Values, error) {
			cpt, err := s.reference(FileCPT, e.Code)
			if err != nil {
				return nil, err
			}
			narrative := strings.TrimSpace(e.Narrative)
			if narrative == "" {
				narrative = strings.TrimSpace(e.Code.Display)
			}
			return fileman.Values{
				"CPT":          cpt,
				FieldNarrative: fileman.Text(narrative),
				FieldEventDate: instant(e.Performed),
			}, nil
		}})
	}
	return out
}

func (s *Session) vitals(p *cohort.Patient) []event {
	out := make([]event, 0, len(p.Vitals))
	for _, e := range p.Vitals {
		out = append(out, event{id: e.ID, encounter: e.EncounterID, values: func() (fileman.Values, error) {
			typ, err := s.reference(FileVitalType, e.Type)
			if err != nil {
				return nil, err
			}
			return fileman.Values{
				"DATE/TIME VITALS TAKEN": instant(e.Taken),
				"VITAL TYPE":             typ,
				"RATE":                   fileman.Text(strings.TrimSpace(e.Value)),
				FieldUnits:               fileman.Text(strings.TrimSpace(e.Units)),
			}, nil
		}})
	}
	return out
}

func (s *Session) healthFactors(p *cohort.Patient) []event {
	out := make([]event, 0, len(p.HealthFactors))
	for _, e := range p.HealthFactors {
		out = append(out, event{id: e.ID, encounter: e.EncounterID, values: func() (fileman.Values, error) {
			factor, err := s.reference(FileHealthFactors, e.Factor)
			if err != nil {
				return nil, err
			}
			return fileman.Values{
				"HEALTH FACTOR":  factor,
				"LEVEL/SEVERITY": fileman.Text(strings.ToUpper(strings.TrimSpace(e.Level))),
				FieldEventDate:   instant(e.Recorded),
			}, nil
		}})
	}
	return out
}

func (s *Session) notes(p *cohort.Patient) []event {
	out := make([]event, 0, len(p.Notes))
	for _, e := range p.Notes {
		out = append(out, event{id: e.ID, encounter: e.EncounterID, text: e.Lines(), values: func() (fileman.Values, error) {
			return fileman.Values{
				"DOCUMENT TYPE":           fileman.Text(strings.ToUpper(strings.TrimSpace(e.DocumentType))),
				FieldStatus:               fileman.Text(strings.ToUpper(strings.TrimSpace(e.Status))),
				"EPISODE BEGIN DATE/TIME": instant(e.Date),
				"TITLE":                   fileman.Text(strings.TrimSpace(e.Title)),
			}, nil
		}})
	}
	return out
}

// patient resolves the pointer to an already exported patient.
func (s *Session) patient(f *fileman.FileDef, record uuid.UUID, field string, id uuid.UUID) (fileman.Value, error) {
	ien, ok := s.patients[id]
	if !ok {
		return fileman.Value{}, &fileman.Error{
			Kind: fileman.ErrDanglingPointer, File: f.Name, Record: record.String(), Field: field,
			Detail: fmt.Sprintf("patient %s was not exported", id),
		}
	}
	return fileman.Ptr(ien), nil
}

// visit resolves an event's encounter. A nil encounter is a patient-level
// event with no visit pointer; an encounter of another patient dangles.
func (s *Session) visit(f *fileman.FileDef, record, patient, encounter uuid.UUID) (fileman.Value, error) {
	if encounter == uuid.Nil {
		return fileman.Value{}, nil
	}
	v, ok := s.visits[encounter]
	if !ok {
		return fileman.Value{}, &fileman.Error{
			Kind: fileman.ErrDanglingPointer, File: f.Name, Record: record.String(), Field: FieldVisit,
			Detail: fmt.Sprintf("encounter %s was not exported", encounter),
		}
	}
	if v.patient != patient {
		return fileman.Value{}, &fileman.Error{
			Kind: fileman.ErrDanglingPointer, File: f.Name, Record: record.String(), Field: FieldVisit,
			Detail: fmt.Sprintf("encounter %s belongs to patient %s", encounter, v.patient),
		}
	}
	return fileman.Ptr(v.ien), nil
}

// reference renders a coded concept for a reference field: the dictionary
// IEN in pointer-clean mode, the literal name in legacy mode. Legacy runs
// never touch a registry.
func (s *Session) reference(num fileman.FileNumber, c cohort.Concept) (fileman.Value, error) {
	if c.IsZero() {
		return fileman.Value{}, nil
	}
	c = c.Normalized()
	name := ConceptName(num, c.Code, c.Display)
	if s.opts.Mode == fileman.Legacy {
		return fileman.Text(name), nil
	}
	ien, err := s.registry(num).GetOrCreate(fileman.KeyFor(c.System, c.Code, c.Display), fileman.Values{
		FieldName:         fileman.Text(name),
		FieldCode:         fileman.Text(c.Code),
		FieldCodingSystem: fileman.Text(c.System),
	})
	if err != nil {
		return fileman.Value{}, err
	}
	return fileman.Ptr(ien), nil
}

func (s *Session) allocator(num fileman.FileNumber) *fileman.Allocator {
	a, ok := s.allocators[num]
	if !ok {
		a = fileman.NewAllocator(s.opts.IENOffset)
		s.allocators[num] = a
	}
	return a
}

func (s *Session) registry(num fileman.FileNumber) *fileman.Registry {
	r, ok := s.registries[num]
	if ok {
		return r
	}
	f := File(num)
	r = fileman.NewRegistry(f, s.allocator(num), s.store, s.opts.Mode)
	r.OnCreate = func(key fileman.NaturalKey, ien fileman.IEN) {
		s.opts.Metrics.AddDictionaryEntry(f.Name)
		s.log.Debug().Str("file", f.Name).Str("key", key.String()).Int64("ien", int64(ien)).Msg("dictionary entry created")
	}
	s.registries[num] = r
	return r
}

// write renders a record at the file's next IEN and stores every node and
// index entry in one batch. The IEN is committed only once the batch is
// stored.
func (s *Session) write(num fileman.FileNumber, id uuid.UUID, vals fileman.Values, text []string) (fileman.IEN, error) {
	f := File(num)
	alloc := s.allocator(num)
	rec := &fileman.Record{File: f, IEN: alloc.Peek(), Values: vals}
	if len(text) > 0 {
		rec.Text = map[string][]string{NoteText: text}
	}
	entries, err := rec.Render(s.opts.Mode)
	if err == nil {
		err = s.store.PutAll(entries)
	}
	if err != nil {
		err = fileman.Locate(err, f.Name, id.String())
		var fe *fileman.Error
		if errors.As(err, &fe) && fe.File == f.Name {
			fe.Record = id.String()
		}
		return 0, err
	}
	return alloc.Next(), nil
}

// abort poisons the session with its first record error.
func (s *Session) abort(err error) error {
	if s.err != nil {
		return s.err
	}
	s.err = err
	s.log.Error().Err(err).Str("phase", s.phase.String()).Msg("export aborted")
	s.opts.Metrics.ObserveRun(s.opts.Mode.String(), telemetry.OutcomeFailure, time.Since(s.started), s.store.Len())
	return err
}

// FileSummary reports what a run wrote to one file.
type FileSummary struct {
	Number  fileman.FileNumber
	Name    string
	Records int64
	MaxIEN  fileman.IEN
}

// Result is a finalized run.
type Result struct {
	RunID      uuid.UUID
	Mode       fileman.Mode
	ExportDate fileman.Date
	Store      *globals.Store
	Files      []FileSummary
}

// Manifest describes the run for the archive.
func (r *Result) Manifest() blobstore.Manifest {
	m := blobstore.Manifest{
		RunID:      r.RunID.String(),
		Mode:       r.Mode.String(),
		ExportDate: r.ExportDate.String(),
		Entries:    r.Store.Len(),
	}
	for _, f := range r.Files {
		m.Files = append(m.Files, blobstore.FileSummary{
			Number:  string(f.Number),
			Name:    f.Name,
			Records: f.Records,
			MaxIEN:  int64(f.MaxIEN),
		})
	}
	return m
}

// Finalize writes the header of every file that received a record, in
// catalog order, and closes the session. Files never written get no header.
func (s *Session) Finalize(tok EventsDone) (*Result, error) {
	if err := s.enter(tok.s, phaseEvents); err != nil {
		return nil, err
	}
	exportDate, err := fileman.EncodeDate(s.opts.ExportDate, s.opts.Mode)
	if err != nil {
		return nil, s.abort(fileman.Locate(err, "", "header"))
	}
	res := &Result{RunID: s.opts.RunID, Mode: s.opts.Mode, ExportDate: s.opts.ExportDate, Store: s.store}
	var headers []globals.Entry
	for _, f := range Catalog.Files() {
		a, ok := s.allocators[f.Number]
		if !ok {
			continue
		}
		top, ok := a.CurrentMax()
		if !ok {
			continue
		}
		headers = append(headers, globals.Entry{
			Global: f.Global,
			Subs:   f.Sub(globals.Int(0)),
			Value:  strings.Join([]string{`"` + f.Name + `"`, string(f.Number), top.String(), exportDate}, fileman.Delimiter),
		})
		res.Files = append(res.Files, FileSummary{Number: f.Number, Name: f.Name, Records: a.Count(), MaxIEN: top})
		if !f.Dictionary {
			s.opts.Metrics.AddRecords(f.Name, int(a.Count()))
		}
	}
	if err := s.store.PutAll(headers); err != nil {
		return nil, s.abort(fileman.Locate(err, "", "header"))
	}
	s.phase = phaseFinalized
	s.opts.Metrics.ObserveRun(s.opts.Mode.String(), telemetry.OutcomeSuccess, time.Since(s.started), s.store.Len())
	s.log.Info().Int("files", len(res.Files)).Int("entries", s.store.Len()).Dur("elapsed", time.Since(s.started)).Msg("export finalized")
	return res, nil
}

// day converts a graph date; the zero date is absent.
func day(d cohort.Date) fileman.Value {
	if d.IsZero() {
		return fileman.Value{}
	}
	return fileman.On(fileman.DateOf(d.Time))
}

// instant converts a timestamp to a UTC date/time; the zero time is absent.
func instant(t time.Time) fileman.Value {
	if t.IsZero() {
		return fileman.Value{}
	}
	return fileman.At(fileman.DateTimeOf(t.UTC()))
}
