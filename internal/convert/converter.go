package convert

import (
	"encoding/json"
	"fmt"
)

// Action is the resolved row-level operation (§4.3), matched case-insensitively
// against the CSV's ACTION_FLAG column.
type Action string

const (
	ActionNew    Action = "NEW"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// ParseAction resolves a raw ACTION_FLAG value, case-insensitively, to one of
// the three supported actions.
func ParseAction(raw string) (Action, error) {
	switch normaliseUpper(raw) {
	case "NEW":
		return ActionNew, nil
	case "UPDATE":
		return ActionUpdate, nil
	case "DELETE":
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("unrecognised ACTION_FLAG %q", raw)
	}
}

func normaliseUpper(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// field runs fn in isolation: a panic while computing one column (e.g. an
// unexpected nil dereference against a malformed resource) is recovered,
// recorded as a PARSING_ERROR, and the column is left as the empty string
// rather than aborting the rest of the row. This is the Go shape of
// converter.py's per-field try/except in `_convert_data`.
func field(row *FlatRow, name string, fn func(*FlatRow)) {
	defer func() {
		if r := recover(); r != nil {
			row.set(name, "")
			row.addError(CodeParsingError, fmt.Sprintf("%s: %v", name, r))
		}
	}()
	fn(row)
}

// ToFlatRow runs the extractor contracts (§4.2) over a parsed FHIR
// Immunization and returns the 34-column flat row plus any conversion
// errors. It never aborts on a single field failure (Design Notes,
// "exception-driven control flow" fixed to a recover-and-substitute model).
func ToFlatRow(imms *Immunization, action Action) *FlatRow {
	row := NewFlatRow()

	field(row, "ACTION_FLAG", func(r *FlatRow) {
		r.set("ACTION_FLAG", string(action))
	})

	var occurrenceTime = occurrenceInstant(imms.OccurrenceDateTime)

	field(row, "DATE_AND_TIME", func(r *FlatRow) {
		formatted, _ := formatOccurrence(imms.OccurrenceDateTime)
		r.set("DATE_AND_TIME", formatted)
	})

	patient := ExtractPatient(imms)

	field(row, "NHS_NUMBER", func(r *FlatRow) {
		r.set("NHS_NUMBER", extractNHSNumber(patient))
	})

	field(row, "PERSON_FORENAME", func(r *FlatRow) {
		forename, surname := extractPersonNames(patient, occurrenceTime)
		r.set("PERSON_FORENAME", forename)
		r.set("PERSON_SURNAME", surname)
	})

	field(row, "PERSON_DOB", func(r *FlatRow) {
		if patient != nil {
			r.set("PERSON_DOB", formatDate(patient.BirthDate))
		}
	})

	field(row, "PERSON_GENDER_CODE", func(r *FlatRow) {
		if patient != nil {
			r.set("PERSON_GENDER_CODE", mapGender(patient.Gender))
		}
	})

	field(row, "PERSON_POSTCODE", func(r *FlatRow) {
		r.set("PERSON_POSTCODE", extractPostcode(patient, occurrenceTime))
	})

	field(row, "SITE_CODE", func(r *FlatRow) {
		siteCode, siteURI := extractSiteCode(imms)
		r.set("SITE_CODE", siteCode)
		r.set("SITE_CODE_TYPE_URI", siteURI)
	})

	field(row, "UNIQUE_ID", func(r *FlatRow) {
		uniqueID, uniqueURI := extractUniqueID(imms)
		r.set("UNIQUE_ID", uniqueID)
		r.set("UNIQUE_ID_URI", uniqueURI)
	})

	field(row, "PERFORMING_PROFESSIONAL_FORENAME", func(r *FlatRow) {
		forename, surname := extractPractitionerNames(imms, occurrenceTime)
		r.set("PERFORMING_PROFESSIONAL_FORENAME", forename)
		r.set("PERFORMING_PROFESSIONAL_SURNAME", surname)
	})

	field(row, "RECORDED_DATE", func(r *FlatRow) {
		r.set("RECORDED_DATE", formatDate(imms.Recorded))
	})

	field(row, "PRIMARY_SOURCE", func(r *FlatRow) {
		r.set("PRIMARY_SOURCE", mapPrimarySource(imms.PrimarySource))
	})

	field(row, "VACCINATION_PROCEDURE_CODE", func(r *FlatRow) {
		if len(imms.ProtocolApplied) == 0 {
			return
		}
		pa := imms.ProtocolApplied[0]
		if len(pa.TargetDisease) > 0 && len(pa.TargetDisease[0].Coding) > 0 {
			r.set("VACCINATION_PROCEDURE_CODE", pa.TargetDisease[0].Coding[0].Code)
			r.set("VACCINATION_PROCEDURE_TERM", pa.TargetDisease[0].Coding[0].Display)
		}
		if pa.DoseNumber != nil {
			r.set("DOSE_SEQUENCE", fmt.Sprintf("%d", *pa.DoseNumber))
		}
	})

	field(row, "VACCINE_PRODUCT_CODE", func(r *FlatRow) {
		if imms.VaccineCode != nil && len(imms.VaccineCode.Coding) > 0 {
			r.set("VACCINE_PRODUCT_CODE", imms.VaccineCode.Coding[0].Code)
			r.set("VACCINE_PRODUCT_TERM", imms.VaccineCode.Coding[0].Display)
		}
	})

	field(row, "VACCINE_MANUFACTURER", func(r *FlatRow) {
		if imms.Manufacturer != nil {
			r.set("VACCINE_MANUFACTURER", imms.Manufacturer.Display)
		}
	})

	field(row, "BATCH_NUMBER", func(r *FlatRow) {
		r.set("BATCH_NUMBER", imms.LotNumber)
	})

	field(row, "EXPIRY_DATE", func(r *FlatRow) {
		r.set("EXPIRY_DATE", formatDate(imms.ExpirationDate))
	})

	field(row, "SITE_OF_VACCINATION_CODE", func(r *FlatRow) {
		if imms.Site != nil && len(imms.Site.Coding) > 0 {
			r.set("SITE_OF_VACCINATION_CODE", imms.Site.Coding[0].Code)
			r.set("SITE_OF_VACCINATION_TERM", imms.Site.Coding[0].Display)
		}
	})

	field(row, "ROUTE_OF_VACCINATION_CODE", func(r *FlatRow) {
		if imms.Route != nil && len(imms.Route.Coding) > 0 {
			r.set("ROUTE_OF_VACCINATION_CODE", imms.Route.Coding[0].Code)
			r.set("ROUTE_OF_VACCINATION_TERM", imms.Route.Coding[0].Display)
		}
	})

	field(row, "DOSE_AMOUNT", func(r *FlatRow) {
		r.set("DOSE_AMOUNT", doseAmount(imms.DoseQuantity))
		if imms.DoseQuantity != nil {
			r.set("DOSE_UNIT_CODE", imms.DoseQuantity.Code)
			r.set("DOSE_UNIT_TERM", imms.DoseQuantity.Unit)
		}
	})

	field(row, "INDICATION_CODE", func(r *FlatRow) {
		if len(imms.ReasonCode) > 0 && len(imms.ReasonCode[0].Coding) > 0 {
			r.set("INDICATION_CODE", imms.ReasonCode[0].Coding[0].Code)
		}
	})

	field(row, "LOCATION_CODE", func(r *FlatRow) {
		locationCode, locationURI := extractLocation(imms)
		r.set("LOCATION_CODE", locationCode)
		r.set("LOCATION_CODE_TYPE_URI", locationURI)
	})

	return row
}

// FromJSON parses raw FHIR bytes into an Immunization. Malformed input
// returns a nil Immunization and a ConversionError with code PARSING_ERROR.
func FromJSON(data []byte) (*Immunization, *ConversionError) {
	var imms Immunization
	if err := json.Unmarshal(data, &imms); err != nil {
		return nil, &ConversionError{Code: CodeParsingError, Message: err.Error()}
	}
	return &imms, nil
}
