package codesystem

import "strings"

// Short identifiers of the coding systems a clinical graph carries. Natural
// keys of dictionary concepts use these, never the URI forms.
const (
	ICD10  = "ICD10"
	ICD9   = "ICD9"
	SNOMED = "SNOMED"
	RxNorm = "RXNORM"
	LOINC  = "LOINC"
	CPT    = "CPT"
	CVX    = "CVX"
	NUCC   = "NUCC"
	Local  = "LOCAL"
)

var uriAliases = map[string]string{
	"http://hl7.org/fhir/sid/icd-10":              ICD10,
	"http://hl7.org/fhir/sid/icd-10-cm":           ICD10,
	"http://hl7.org/fhir/sid/icd-9-cm":            ICD9,
	"http://snomed.info/sct":                      SNOMED,
	"http://www.nlm.nih.gov/research/umls/rxnorm": RxNorm,
	"http://loinc.org":                            LOINC,
	"http://www.ama-assn.org/go/cpt":              CPT,
	"http://hl7.org/fhir/sid/cvx":                 CVX,
	"http://nucc.org/provider-taxonomy":           NUCC,
	"urn:oid:2.16.840.1.113883.6.90":              ICD10,
	"urn:oid:2.16.840.1.113883.6.96":              SNOMED,
	"urn:oid:2.16.840.1.113883.6.88":              RxNorm,
	"urn:oid:2.16.840.1.113883.6.1":               LOINC,
	"urn:oid:2.16.840.1.113883.6.12":              CPT,
}

var nameAliases = map[string]string{
	"ICD10":     ICD10,
	"ICD-10":    ICD10,
	"ICD10CM":   ICD10,
	"ICD-10-CM": ICD10,
	"ICD9":      ICD9,
	"ICD-9":     ICD9,
	"ICD-9-CM":  ICD9,
	"SNOMED":    SNOMED,
	"SNOMEDCT":  SNOMED,
	"SNOMED-CT": SNOMED,
	"SCT":       SNOMED,
	"RXNORM":    RxNorm,
	"LOINC":     LOINC,
	"CPT":       CPT,
	"CPT4":      CPT,
	"CPT-4":     CPT,
	"CVX":       CVX,
	"NUCC":      NUCC,
}

// Normalize maps a system URI, OID or name to its short identifier.
// Unrecognized systems are upper-cased and returned as-is; an empty system
// stays empty.
func Normalize(system string) string {
	s := strings.TrimSpace(system)
	if s == "" {
		return ""
	}
	if id, ok := uriAliases[strings.TrimSuffix(strings.ToLower(s), "/")]; ok {
		return id
	}
	up := strings.ToUpper(s)
	if id, ok := nameAliases[up]; ok {
		return id
	}
	return up
}

// Split parses a "SYSTEM:CODE" pair such as "ICD10:E11.9". A value without a
// separator is a bare code.
func Split(s string) (system, code string) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, ":"); i > 0 && !strings.Contains(s, "/") {
		return Normalize(s[:i]), strings.TrimSpace(s[i+1:])
	}
	return "", s
}

// Sex maps an administrative gender to the single-letter SEX code.
func Sex(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male", "m":
		return "M"
	case "female", "f":
		return "F"
	}
	return ""
}

// MaritalStatus maps an HL7 v3 marital status code or word to its display
// name; unknown input is returned upper-cased.
func MaritalStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return ""
	case "M", "MARRIED":
		return "MARRIED"
	case "S", "NEVER MARRIED", "SINGLE":
		return "NEVER MARRIED"
	case "D", "DIVORCED":
		return "DIVORCED"
	case "W", "WIDOWED":
		return "WIDOWED"
	case "L", "LEGALLY SEPARATED", "SEPARATED":
		return "SEPARATED"
	}
	return strings.ToUpper(strings.TrimSpace(s))
}
