// Package vista is the export engine. It owns the VistA file catalog, the
// export session that turns a cohort graph into a global store in five
// ordered phases, the verifier that re-reads a store against the catalog,
// and the HTTP handler in front of both.
package vista

import (
	"github.com/synthetichealth/vistaexport/internal/platform/fileman"
	"github.com/synthetichealth/vistaexport/internal/platform/globals"
)

// File numbers.
const (
	FilePatient      fileman.FileNumber = "2"
	FileVisit        fileman.FileNumber = "9000010"
	FileProblem      fileman.FileNumber = "9000011"
	FileMedication   fileman.FileNumber = "9000010.14"
	FileLab          fileman.FileNumber = "9000010.09"
	FileAllergy      fileman.FileNumber = "120.8"
	FileProcedure    fileman.FileNumber = "9000010.18"
	FileVital        fileman.FileNumber = "120.5"
	FileHealthFactor fileman.FileNumber = "9000010.23"
	FileNote         fileman.FileNumber = "8925"

	FileState         fileman.FileNumber = "5"
	FileClinicStop    fileman.FileNumber = "40.7"
	FileLocation      fileman.FileNumber = "44"
	FileDrug          fileman.FileNumber = "50"
	FileLabTest       fileman.FileNumber = "60"
	FileICD           fileman.FileNumber = "80"
	FileCPT           fileman.FileNumber = "81"
	FileVitalType     fileman.FileNumber = "120.51"
	FileAllergen      fileman.FileNumber = "120.82"
	FileHealthFactors fileman.FileNumber = "9999999.64"
)

// Field names shared by several files.
const (
	FieldName         = "NAME"
	FieldCode         = "CODE"
	FieldCodingSystem = "CODING SYSTEM"
	FieldPatientName  = "PATIENT NAME"
	FieldPatient      = "PATIENT"
	FieldVisit        = "VISIT"
	FieldNarrative    = "PROVIDER NARRATIVE"
	FieldEventDate    = "EVENT DATE&TIME"
	FieldStatus       = "STATUS"
	FieldUnits        = "UNITS"
)

// NoteText is the word-processing node of a TIU document.
const NoteText = "TEXT"

func dictionary(num fileman.FileNumber, name, global string, root ...globals.Subscript) *fileman.FileDef {
	return &fileman.FileDef{
		Number: num,
		Name:   name,
		Global: global,
		Root:   root,
		Nodes: []fileman.Node{{Sub: globals.Int(0), Fields: []fileman.Field{
			fileman.S(FieldName).Req(),
			fileman.S(FieldCode),
			fileman.S(FieldCodingSystem),
		}}},
		Indexes:    []fileman.Index{{Name: "B", Keys: []string{FieldName}}},
		Dictionary: true,
	}
}

func zero(fields ...fileman.Field) fileman.Node {
	return fileman.Node{Sub: globals.Int(0), Fields: fields}
}

func ix(name string, keys ...string) fileman.Index {
	return fileman.Index{Name: name, Keys: keys}
}

// Catalog is the fixed set of files an export writes. Headers are
// finalized in this order.
var Catalog = fileman.MustCatalog(
	&fileman.FileDef{
		Number: FilePatient,
		Name:   "PATIENT",
		Global: "^DPT",
		Nodes: []fileman.Node{
			zero(
				fileman.S(FieldName).Req(),
				fileman.S("SEX"),
				fileman.D("DATE OF BIRTH"),
				fileman.S("MARITAL STATUS"),
				fileman.S("RACE"),
				fileman.S("ETHNICITY"),
				fileman.S("SSN"),
			),
			{Sub: globals.MustNumber(".11"), Fields: []fileman.Field{
				fileman.S("STREET"),
				fileman.S("CITY"),
				fileman.R("STATE", FileState),
				fileman.S("ZIP"),
			}},
		},
		Indexes: []fileman.Index{ix("B", FieldName), ix("SSN", "SSN")},
	},
	&fileman.FileDef{
		Number: FileVisit,
		Name:   "VISIT",
		Global: "^AUPNVSIT",
		Nodes: []fileman.Node{zero(
			fileman.DT("VISIT/ADMIT DATE&TIME").Req(),
			fileman.S("TYPE"),
			fileman.P(FieldPatientName, FilePatient).Req(),
			fileman.R("LOC. OF ENCOUNTER", FileLocation),
			fileman.S("SERVICE CATEGORY"),
			fileman.R("CLINIC STOP", FileClinicStop),
		)},
		Indexes: []fileman.Index{
			ix("B", "VISIT/ADMIT DATE&TIME"),
			ix("C", FieldPatientName),
			ix("AA", FieldPatientName, "VISIT/ADMIT DATE&TIME"),
		},
	},
	&fileman.FileDef{
		Number: FileProblem,
		Name:   "PROBLEM",
		Global: "^AUPNPROB",
		Nodes: []fileman.Node{zero(
			fileman.R("DIAGNOSIS", FileICD).Req(),
			fileman.P(FieldPatientName, FilePatient).Req(),
			fileman.P(FieldVisit, FileVisit),
			fileman.S(FieldNarrative),
			fileman.D("DATE ENTERED"),
			fileman.S(FieldStatus),
			fileman.D("DATE OF ONSET"),
			fileman.D("DATE RESOLVED"),
		)},
		Indexes: []fileman.Index{
			ix("B", "DIAGNOSIS"),
			ix("AC", FieldPatientName),
			ix("AV", FieldVisit),
			ix("S", FieldStatus, FieldPatientName),
		},
	},
	&fileman.FileDef{
		Number: FileMedication,
		Name:   "V MEDICATION",
		Global: "^AUPNVMED",
		Nodes: []fileman.Node{zero(
			fileman.R("MEDICATION", FileDrug).Req(),
			fileman.P(FieldPatientName, FilePatient).Req(),
			fileman.P(FieldVisit, FileVisit),
			fileman.S("SIG"),
			fileman.N("QUANTITY"),
			fileman.N("DAYS SUPPLY"),
			fileman.DT(FieldEventDate),
			fileman.D("DISCONTINUED DATE"),
			fileman.S(FieldStatus),
		)},
		Indexes: []fileman.Index{ix("B", "MEDICATION"), ix("AC", FieldPatientName), ix("AD", FieldVisit)},
	},
	&fileman.FileDef{
		Number: FileLab,
		Name:   "V LAB",
		Global: "^AUPNVLAB",
		Nodes: []fileman.Node{zero(
			fileman.R("LAB TEST", FileLabTest).Req(),
			fileman.P(FieldPatientName, FilePatient).Req(),
			fileman.P(FieldVisit, FileVisit),
			fileman.S("RESULTS"),
			fileman.S(FieldUnits),
			fileman.S("ABNORMAL"),
			fileman.DT("COLLECTION DATE&TIME"),
		)},
		Indexes: []fileman.Index{ix("B", "LAB TEST"), ix("AC", FieldPatientName), ix("AD", FieldVisit)},
	},
	&fileman.FileDef{
		Number: FileAllergy,
		Name:   "PATIENT ALLERGIES",
		Global: "^GMR",
		Root:   []globals.Subscript{globals.MustNumber("120.8")},
		Nodes: []fileman.Node{zero(
			fileman.P(FieldPatient, FilePatient).Req(),
			fileman.S("REACTANT").Req(),
			fileman.R("GMR ALLERGY", FileAllergen),
			fileman.DT("ORIGINATION DATE"),
			fileman.S("SEVERITY"),
			fileman.S("REACTION"),
			fileman.P(FieldVisit, FileVisit),
		)},
		Indexes: []fileman.Index{ix("B", FieldPatient), ix("C", "REACTANT"), ix("AV", FieldVisit)},
	},
	&fileman.FileDef{
		Number: FileProcedure,
		Name:   "V CPT",
		Global: "^AUPNVCPT",
		Nodes: []fileman.Node{zero(
			fileman.R("CPT", FileCPT).Req(),
			fileman.P(FieldPatientName, FilePatient).Req(),
			fileman.P(FieldVisit, FileVisit),
			fileman.S(FieldNarrative),
			fileman.DT(FieldEventDate),
		)},
		Indexes: []fileman.Index{ix("B", "CPT"), ix("AC", FieldPatientName), ix("AD", FieldVisit)},
	},
	&fileman.FileDef{
		Number: FileVital,
		Name:   "GMRV VITAL MEASUREMENT",
		Global: "^GMR",
		Root:   []globals.Subscript{globals.MustNumber("120.5")},
		Nodes: []fileman.Node{zero(
			fileman.DT("DATE/TIME VITALS TAKEN").Req(),
			fileman.P(FieldPatient, FilePatient).Req(),
			fileman.R("VITAL TYPE", FileVitalType).Req(),
			fileman.P(FieldVisit, FileVisit),
			fileman.S("RATE"),
			fileman.S(FieldUnits),
		)},
		Indexes: []fileman.Index{ix("B", "DATE/TIME VITALS TAKEN"), ix("C", FieldPatient), ix("AD", FieldVisit)},
	},
	&fileman.FileDef{
		Number: FileHealthFactor,
		Name:   "V HEALTH FACTORS",
		Global: "^AUPNVHF",
		Nodes: []fileman.Node{zero(
			fileman.R("HEALTH FACTOR", FileHealthFactors).Req(),
			fileman.P(FieldPatientName, FilePatient).Req(),
			fileman.P(FieldVisit, FileVisit),
			fileman.S("LEVEL/SEVERITY"),
			fileman.DT(FieldEventDate),
		)},
		Indexes: []fileman.Index{ix("B", "HEALTH FACTOR"), ix("AC", FieldPatientName), ix("AD", FieldVisit)},
	},
	&fileman.FileDef{
		Number: FileNote,
		Name:   "TIU DOCUMENT",
		Global: "^TIU",
		Root:   []globals.Subscript{globals.Int(8925)},
		Nodes: []fileman.Node{
			zero(
				fileman.S("DOCUMENT TYPE").Req(),
				fileman.P(FieldPatient, FilePatient).Req(),
				fileman.P(FieldVisit, FileVisit),
				fileman.S(FieldStatus),
				fileman.DT("EPISODE BEGIN DATE/TIME"),
				fileman.S("TITLE"),
			),
			{Sub: globals.Str(NoteText), WordProcessing: true},
		},
		Indexes: []fileman.Index{ix("C", FieldPatient), ix("V", FieldVisit), ix("D", "EPISODE BEGIN DATE/TIME")},
	},

	dictionary(FileState, "STATE", "^DIC", globals.Int(5)),
	dictionary(FileClinicStop, "CLINIC STOP", "^DIC", globals.MustNumber("40.7")),
	dictionary(FileLocation, "HOSPITAL LOCATION", "^SC"),
	dictionary(FileDrug, "DRUG", "^PSDRUG"),
	dictionary(FileLabTest, "LABORATORY TEST", "^LAB", globals.Int(60)),
	dictionary(FileICD, "ICD DIAGNOSIS", "^ICD9"),
	dictionary(FileCPT, "CPT", "^ICPT"),
	dictionary(FileVitalType, "GMRV VITAL TYPE", "^GMRD", globals.MustNumber("120.51")),
	dictionary(FileAllergen, "GMR ALLERGIES", "^GMRD", globals.MustNumber("120.82")),
	dictionary(FileHealthFactors, "HEALTH FACTORS", "^AUTTHF"),
)

// File returns the catalog definition of num. It panics on a number outside
// the catalog, which is a programming error.
func File(num fileman.FileNumber) *fileman.FileDef {
	f, ok := Catalog.File(num)
	if !ok {
		panic("vista: file " + string(num) + " is not in the catalog")
	}
	return f
}

// codeNamed lists the dictionaries whose NAME is the code itself, as with
// FileMan's ICD and CPT files.
var codeNamed = map[fileman.FileNumber]bool{
	FileICD: true,
	FileCPT: true,
}

// ConceptName is the NAME of a dictionary entry for a concept, which is
// also the literal written for a reference field in legacy mode.
func ConceptName(num fileman.FileNumber, code, display string) string {
	if codeNamed[num] && code != "" {
		return code
	}
	if display != "" {
		return display
	}
	return code
}
