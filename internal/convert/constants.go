package convert

import "regexp"

// GenderCodeMappings maps FHIR administrative gender to the flat row's
// single-digit PERSON_GENDER_CODE. Any value not present here maps to "".
var GenderCodeMappings = map[string]string{
	"male":    "1",
	"female":  "2",
	"other":   "9",
	"unknown": "0",
}

// SNOMEDPattern matches a bare SNOMED CT concept identifier.
var SNOMEDPattern = regexp.MustCompile(`^\d{6,18}$`)

// CSVFields is the fixed, immutable 34-column order (§3). It is a package
// level slice but is never mutated — every caller that needs the order
// without ACTION_FLAG uses FieldsWithoutActionFlag, not in-place removal.
var CSVFields = []string{
	"NHS_NUMBER",
	"PERSON_FORENAME",
	"PERSON_SURNAME",
	"PERSON_DOB",
	"PERSON_GENDER_CODE",
	"PERSON_POSTCODE",
	"DATE_AND_TIME",
	"SITE_CODE",
	"SITE_CODE_TYPE_URI",
	"UNIQUE_ID",
	"UNIQUE_ID_URI",
	"ACTION_FLAG",
	"PERFORMING_PROFESSIONAL_FORENAME",
	"PERFORMING_PROFESSIONAL_SURNAME",
	"RECORDED_DATE",
	"PRIMARY_SOURCE",
	"VACCINATION_PROCEDURE_CODE",
	"VACCINATION_PROCEDURE_TERM",
	"DOSE_SEQUENCE",
	"VACCINE_PRODUCT_CODE",
	"VACCINE_PRODUCT_TERM",
	"VACCINE_MANUFACTURER",
	"BATCH_NUMBER",
	"EXPIRY_DATE",
	"SITE_OF_VACCINATION_CODE",
	"SITE_OF_VACCINATION_TERM",
	"ROUTE_OF_VACCINATION_CODE",
	"ROUTE_OF_VACCINATION_TERM",
	"DOSE_AMOUNT",
	"DOSE_UNIT_CODE",
	"DOSE_UNIT_TERM",
	"INDICATION_CODE",
	"LOCATION_CODE",
	"LOCATION_CODE_TYPE_URI",
}

// FieldsWithoutActionFlag returns a fresh slice of CSVFields with
// ACTION_FLAG removed, computed on every call from the immutable CSVFields
// constant rather than by popping a shared list (the original source's
// `CSV_FIELDS.pop("ACTION_FLAG")` mutated a module-level list on every
// invocation — flagged as a bug in spec.md's Design Notes; this is the fix).
func FieldsWithoutActionFlag() []string {
	out := make([]string, 0, len(CSVFields)-1)
	for _, f := range CSVFields {
		if f == "ACTION_FLAG" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Urls collects the system URLs expected in the FHIR Immunization resource.
var Urls = struct {
	NHSNumber                           string
	VaccinationProcedure                string
	SNOMED                              string
	NHSNumberVerificationStatusProfile  string
	NHSNumberVerificationStatusSystem   string
	ODSOrganizationCode                 string
}{
	NHSNumber:                          "https://fhir.nhs.uk/Id/nhs-number",
	VaccinationProcedure:               "https://fhir.hl7.org.uk/StructureDefinition/Extension-UKCore-VaccinationProcedure",
	SNOMED:                             "http://snomed.info/sct",
	NHSNumberVerificationStatusProfile: "https://fhir.hl7.org.uk/StructureDefinition/Extension-UKCore-NHSNumberVerificationStatus",
	NHSNumberVerificationStatusSystem:  "https://fhir.hl7.org.uk/CodeSystem/UKCore-NHSNumberVerificationStatusEngland",
	ODSOrganizationCode:                "https://fhir.nhs.uk/Id/ods-organization-code",
}

// DefaultLocationCode and DefaultPostcode back §4.2's location and postcode
// selection rules when no candidate survives filtering (scenario S3). The
// matching default location-type URI is Urls.ODSOrganizationCode.
const (
	DefaultLocationCode = "X99999"
	DefaultPostcode     = "ZZ99 3CZ"
)
