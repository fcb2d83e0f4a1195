package convert

import (
	"encoding/json"
	"strconv"

	"github.com/ehr/ehr/internal/platform/fhir"
)

// FromFlatRow builds a FHIR Immunization skeleton from a parsed CSV row
// (§4.3, row processor). It is the inverse of ToFlatRow: every populated
// column is mapped back onto the resource shape the extractor reads from,
// so a row that round-trips through ToFlatRow(FromFlatRow(row)) reproduces
// the same flat values (Testable Property: round-trip fidelity).
func FromFlatRow(values map[string]string) *Immunization {
	imms := &Immunization{
		ResourceType:  "Immunization",
		Status:        "completed",
		LotNumber:     values["BATCH_NUMBER"],
		Recorded:      isoDate(values["RECORDED_DATE"]),
		ExpirationDate: isoDate(values["EXPIRY_DATE"]),
	}

	if id, uri := values["UNIQUE_ID"], values["UNIQUE_ID_URI"]; id != "" {
		imms.Identifier = []fhir.Identifier{{Value: id, System: uri}}
	}

	imms.OccurrenceDateTime = isoDateTime(values["DATE_AND_TIME"])
	imms.PrimarySource = parsePrimarySource(values["PRIMARY_SOURCE"])

	patient := buildPatient(values)
	if patient != nil {
		raw, _ := json.Marshal(patient)
		imms.Contained = append(imms.Contained, raw)
	}

	if forename, surname := values["PERFORMING_PROFESSIONAL_FORENAME"], values["PERFORMING_PROFESSIONAL_SURNAME"]; forename != "" || surname != "" {
		practitioner := &Practitioner{ResourceType: "Practitioner", Name: []fhir.HumanName{{Given: splitNonEmpty(forename), Family: surname}}}
		raw, _ := json.Marshal(practitioner)
		imms.Contained = append(imms.Contained, raw)
	}

	if code, uri := values["SITE_CODE"], values["SITE_CODE_TYPE_URI"]; code != "" {
		imms.Performer = []Performer{{Actor: PerformerActor{
			Type:       "Organization",
			Identifier: &fhir.Identifier{System: uri, Value: code},
		}}}
	}

	if code, uri := values["LOCATION_CODE"], values["LOCATION_CODE_TYPE_URI"]; code != "" {
		imms.Location = &LocationRef{Identifier: fhir.Identifier{Value: code, System: uri}}
	}

	if code, term := values["VACCINE_PRODUCT_CODE"], values["VACCINE_PRODUCT_TERM"]; code != "" {
		imms.VaccineCode = &fhir.CodeableConcept{Coding: []fhir.Coding{{System: Urls.SNOMED, Code: code, Display: term}}}
	}

	if manufacturer := values["VACCINE_MANUFACTURER"]; manufacturer != "" {
		imms.Manufacturer = &Manufacturer{Display: manufacturer}
	}

	if code, term := values["SITE_OF_VACCINATION_CODE"], values["SITE_OF_VACCINATION_TERM"]; code != "" {
		imms.Site = &fhir.CodeableConcept{Coding: []fhir.Coding{{System: Urls.SNOMED, Code: code, Display: term}}}
	}

	if code, term := values["ROUTE_OF_VACCINATION_CODE"], values["ROUTE_OF_VACCINATION_TERM"]; code != "" {
		imms.Route = &fhir.CodeableConcept{Coding: []fhir.Coding{{System: Urls.SNOMED, Code: code, Display: term}}}
	}

	if amount := values["DOSE_AMOUNT"]; amount != "" {
		imms.DoseQuantity = &DoseQuantity{
			Value: json.Number(amount),
			Code:  values["DOSE_UNIT_CODE"],
			Unit:  values["DOSE_UNIT_TERM"],
		}
	}

	if indication := values["INDICATION_CODE"]; indication != "" {
		imms.ReasonCode = []fhir.CodeableConcept{{Coding: []fhir.Coding{{System: Urls.SNOMED, Code: indication}}}}
	}

	if procCode, procTerm := values["VACCINATION_PROCEDURE_CODE"], values["VACCINATION_PROCEDURE_TERM"]; procCode != "" {
		pa := ProtocolApplied{TargetDisease: []fhir.CodeableConcept{{Coding: []fhir.Coding{{System: Urls.SNOMED, Code: procCode, Display: procTerm}}}}}
		if seq, err := strconv.Atoi(values["DOSE_SEQUENCE"]); err == nil {
			pa.DoseNumber = &seq
		}
		imms.ProtocolApplied = []ProtocolApplied{pa}
	}

	return imms
}

func buildPatient(values map[string]string) *Patient {
	nhsNumber := values["NHS_NUMBER"]
	forename := values["PERSON_FORENAME"]
	surname := values["PERSON_SURNAME"]
	dob := values["PERSON_DOB"]
	gender := values["PERSON_GENDER_CODE"]
	postcode := values["PERSON_POSTCODE"]

	if nhsNumber == "" && forename == "" && surname == "" && dob == "" {
		return nil
	}

	patient := &Patient{ResourceType: "Patient", BirthDate: isoDate(dob)}
	if nhsNumber != "" {
		patient.Identifier = []fhir.Identifier{{System: Urls.NHSNumber, Value: nhsNumber}}
	}
	if forename != "" || surname != "" {
		patient.Name = []fhir.HumanName{{Use: "official", Given: splitNonEmpty(forename), Family: surname}}
	}
	if postcode != "" {
		patient.Address = []fhir.Address{{Use: "home", PostalCode: postcode}}
	}
	for gfhir, code := range GenderCodeMappings {
		if code == gender && gender != "" {
			patient.Gender = gfhir
		}
	}
	return patient
}

func parsePrimarySource(value string) *bool {
	switch value {
	case "TRUE":
		t := true
		return &t
	case "FALSE":
		f := false
		return &f
	default:
		return nil
	}
}

func isoDate(yyyymmdd string) string {
	if len(yyyymmdd) != 8 {
		return ""
	}
	return yyyymmdd[0:4] + "-" + yyyymmdd[4:6] + "-" + yyyymmdd[6:8]
}

func isoDateTime(value string) string {
	if len(value) != 17 {
		return ""
	}
	date := isoDate(value[0:8])
	hh, mm, ss := value[9:11], value[11:13], value[13:15]
	offset := value[15:17]
	tz := "Z"
	if offset == "01" {
		tz = "+01:00"
	}
	return date + "T" + hh + ":" + mm + ":" + ss + tz
}

func splitNonEmpty(forename string) []string {
	if forename == "" {
		return nil
	}
	var parts []string
	start := 0
	for i := 0; i <= len(forename); i++ {
		if i == len(forename) || forename[i] == ' ' {
			if i > start {
				parts = append(parts, forename[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
