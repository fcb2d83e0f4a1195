package convert

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ehr/ehr/internal/platform/fhir"
)

// ExtractPatient returns the contained Patient resource, or nil if absent.
func ExtractPatient(imms *Immunization) *Patient {
	for _, raw := range imms.Contained {
		var ct containedType
		if err := json.Unmarshal(raw, &ct); err != nil {
			continue
		}
		if ct.ResourceType != "Patient" {
			continue
		}
		var p Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil
		}
		return &p
	}
	return nil
}

// extractPractitioner returns the contained Practitioner resource, or nil if absent.
func extractPractitioner(imms *Immunization) *Practitioner {
	for _, raw := range imms.Contained {
		var ct containedType
		if err := json.Unmarshal(raw, &ct); err != nil {
			continue
		}
		if ct.ResourceType != "Practitioner" {
			continue
		}
		var pr Practitioner
		if err := json.Unmarshal(raw, &pr); err != nil {
			return nil
		}
		return &pr
	}
	return nil
}

// isCurrentPeriod reports whether occurrence lies within name's period, per
// §4.2: absence of either bound is treated as unbounded on that side, and a
// wholly absent period is always considered current.
func isCurrentPeriod(period *fhir.Period, occurrence time.Time) bool {
	if period == nil {
		return true
	}
	if period.Start != nil && occurrence.Before(*period.Start) {
		return false
	}
	if period.End != nil && occurrence.After(*period.End) {
		return false
	}
	return true
}

// getValidNames implements the shared official/non-old/first selection rule
// used for both patient and practitioner names (§4.2, "Person name" and
// "Practitioner name").
func getValidNames(names []fhir.HumanName, occurrence time.Time) fhir.HumanName {
	var official []fhir.HumanName
	for _, n := range names {
		if n.Use == "official" && isCurrentPeriod(n.Period, occurrence) {
			official = append(official, n)
		}
	}
	if len(official) > 0 {
		return official[0]
	}

	var valid []fhir.HumanName
	for _, n := range names {
		if isCurrentPeriod(n.Period, occurrence) && n.Use != "old" {
			valid = append(valid, n)
		}
	}
	if len(valid) > 0 {
		return valid[0]
	}
	return names[0]
}

// extractPersonNames returns (forename, surname) per §4.2's "Person name" rule.
func extractPersonNames(patient *Patient, occurrence time.Time) (string, string) {
	if patient == nil || len(patient.Name) == 0 {
		return "", ""
	}
	selected := getValidNames(patient.Name, occurrence)
	return strings.Join(selected.Given, " "), selected.Family
}

// extractPractitionerNames returns (forename, surname) per §4.2's
// "Practitioner name" rule, filtered to entries carrying a given or family name.
func extractPractitionerNames(imms *Immunization, occurrence time.Time) (string, string) {
	practitioner := extractPractitioner(imms)
	if practitioner == nil || len(practitioner.Name) == 0 {
		return "", ""
	}
	var valid []fhir.HumanName
	for _, n := range practitioner.Name {
		if len(n.Given) > 0 || n.Family != "" {
			valid = append(valid, n)
		}
	}
	if len(valid) == 0 {
		return "", ""
	}
	selected := getValidNames(valid, occurrence)
	return strings.Join(selected.Given, " "), selected.Family
}

// extractPostcode implements §4.2's "Postcode" selection contract, falling
// back to the default obfuscated postcode when no address survives filtering.
func extractPostcode(patient *Patient, occurrence time.Time) string {
	if patient == nil || len(patient.Address) == 0 {
		return DefaultPostcode
	}

	var valid []fhir.Address
	for _, a := range patient.Address {
		if a.PostalCode != "" && isCurrentPeriod(a.Period, occurrence) {
			valid = append(valid, a)
		}
	}
	if len(valid) == 0 {
		return DefaultPostcode
	}

	pick := func(pred func(fhir.Address) bool) (fhir.Address, bool) {
		for _, a := range valid {
			if pred(a) {
				return a, true
			}
		}
		return fhir.Address{}, false
	}

	if a, ok := pick(func(a fhir.Address) bool { return a.Use == "home" && a.Type != "postal" }); ok {
		return a.PostalCode
	}
	if a, ok := pick(func(a fhir.Address) bool { return a.Use != "old" && a.Type != "postal" }); ok {
		return a.PostalCode
	}
	if a, ok := pick(func(a fhir.Address) bool { return a.Use != "old" }); ok {
		return a.PostalCode
	}
	return valid[0].PostalCode
}

// extractSiteCode implements §4.2's "Site code / URI" performer selection.
func extractSiteCode(imms *Immunization) (string, string) {
	if len(imms.Performer) == 0 {
		return "", ""
	}

	var valid []Performer
	for _, p := range imms.Performer {
		if p.Actor.Identifier != nil {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return "", ""
	}

	pick := func(pred func(Performer) bool) (Performer, bool) {
		for _, p := range valid {
			if pred(p) {
				return p, true
			}
		}
		return Performer{}, false
	}

	const odsSystem = "https://fhir.nhs.uk/Id/ods-organization-code"

	selected, ok := pick(func(p Performer) bool {
		return p.Actor.Type == "Organization" && p.Actor.Identifier.System == odsSystem
	})
	if !ok {
		selected, ok = pick(func(p Performer) bool { return p.Actor.Identifier.System == odsSystem })
	}
	if !ok {
		selected, ok = pick(func(p Performer) bool { return p.Actor.Type == "Organization" })
	}
	if !ok {
		selected = valid[0]
	}
	return selected.Actor.Identifier.Value, selected.Actor.Identifier.System
}

// extractLocation implements §4.2's "Location code / URI" rule.
func extractLocation(imms *Immunization) (string, string) {
	if imms.Location == nil {
		return DefaultLocationCode, Urls.ODSOrganizationCode
	}
	code := imms.Location.Identifier.Value
	uri := imms.Location.Identifier.System
	if code == "" {
		code = DefaultLocationCode
	}
	if uri == "" {
		uri = Urls.ODSOrganizationCode
	}
	return code, uri
}

// extractNHSNumber implements §4.2's "NHS number" rule.
func extractNHSNumber(patient *Patient) string {
	if patient == nil {
		return ""
	}
	for _, id := range patient.Identifier {
		if id.System == Urls.NHSNumber {
			return id.Value
		}
	}
	return ""
}

// extractUniqueID implements §4.2's "Unique ID / URI" rule.
func extractUniqueID(imms *Immunization) (string, string) {
	if len(imms.Identifier) == 0 {
		return "", ""
	}
	return imms.Identifier[0].Value, imms.Identifier[0].System
}

// mapGender implements §4.2's "Gender" mapping.
func mapGender(gender string) string {
	if code, ok := GenderCodeMappings[gender]; ok {
		return code
	}
	return ""
}

// mapPrimarySource implements §4.2's "Primary source" rule.
func mapPrimarySource(primarySource *bool) string {
	if primarySource == nil {
		return ""
	}
	if *primarySource {
		return "TRUE"
	}
	return "FALSE"
}

// formatDate normalises a FHIR date/dateTime string to YYYYMMDD, returning ""
// on an absent or unparsable value (PERSON_DOB, RECORDED_DATE, EXPIRY_DATE).
func formatDate(value string) string {
	if value == "" {
		return ""
	}
	layouts := []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05Z07:00"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("20060102")
		}
	}
	return ""
}

// formatOccurrence normalises occurrenceDateTime into the DATE_AND_TIME
// column's `YYYYMMDDTHHMMSSzz` shape, where zz is "00" for UTC/no offset and
// "01" for BST (+01:00); any other offset or unparsable value yields "".
func formatOccurrence(value string) (string, time.Time) {
	if value == "" {
		return "", time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t, err = time.Parse("2006-01-02T15:04:05", value)
		if err != nil {
			return "", time.Time{}
		}
		return t.Format("20060102T150405") + "00", t
	}

	_, offset := t.Zone()
	var zz string
	switch offset {
	case 0:
		zz = "00"
	case 3600:
		zz = "01"
	default:
		return "", t
	}
	return t.Format("20060102T150405") + zz, t
}

// OccurrenceInstant exports occurrenceInstant for callers outside this
// package (C7's resource indexing) that need the same lenient parse.
func OccurrenceInstant(value string) time.Time {
	return occurrenceInstant(value)
}

// occurrenceInstant parses occurrenceDateTime into a time.Time for period
// containment checks, independent of whether it can also be rendered into
// the DATE_AND_TIME column (an offset outside UTC/BST still has a valid
// instant for comparison purposes, it just can't be formatted to "00"/"01").

func occurrenceInstant(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// doseAmount implements §4.2's "Dose amount" fixed-decimal rule: the value is
// preserved verbatim as written in the source document (json.Number keeps the
// original digit sequence, avoiding float round-tripping) and is empty when
// the quantity block or its value is absent.
func doseAmount(dq *DoseQuantity) string {
	if dq == nil || dq.Value == "" {
		return ""
	}
	return string(dq.Value)
}
