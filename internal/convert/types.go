// Package convert implements C4, the FHIR <-> flat-CSV transformation
// engine ("converter"): a schema-driven extractor that maps a nested FHIR
// Immunization resource to the fixed 34-field flat record and vice-versa.
package convert

import (
	"encoding/json"

	"github.com/ehr/ehr/internal/platform/fhir"
)

// Patient is the subset of a contained FHIR Patient resource the extractor
// reads from.
type Patient struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Identifier   []fhir.Identifier `json:"identifier,omitempty"`
	Name         []fhir.HumanName  `json:"name,omitempty"`
	Address      []fhir.Address    `json:"address,omitempty"`
	BirthDate    string            `json:"birthDate,omitempty"`
	Gender       string            `json:"gender,omitempty"`
}

// Practitioner is the subset of a contained FHIR Practitioner resource.
type Practitioner struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	Name         []fhir.HumanName `json:"name,omitempty"`
}

// PerformerActor is the actor block of a performer entry.
type PerformerActor struct {
	Type       string           `json:"type,omitempty"`
	Identifier *fhir.Identifier `json:"identifier,omitempty"`
	Reference  string           `json:"reference,omitempty"`
}

// Performer is one entry of Immunization.performer.
type Performer struct {
	Actor PerformerActor `json:"actor"`
}

// ProtocolApplied mirrors Immunization.protocolApplied[].
type ProtocolApplied struct {
	TargetDisease []fhir.CodeableConcept `json:"targetDisease,omitempty"`
	DoseNumber    *int                   `json:"doseNumberPositiveInt,omitempty"`
}

// LocationRef mirrors Immunization.location.
type LocationRef struct {
	Identifier fhir.Identifier `json:"identifier"`
}

// DoseQuantity mirrors Immunization.doseQuantity. Value is a json.Number so
// the original decimal text (e.g. "0.50") survives unchanged rather than
// being rounded through a float64.
type DoseQuantity struct {
	Value json.Number `json:"value"`
	Code  string      `json:"code,omitempty"`
	Unit  string      `json:"unit,omitempty"`
}

// Manufacturer mirrors Immunization.manufacturer (a Reference with only
// display populated in this domain).
type Manufacturer struct {
	Display string `json:"display,omitempty"`
}

// Extension is a minimal UK Core extension block reader: only the handful
// of value[x] shapes the converter needs.
type Extension struct {
	URL                  string                `json:"url"`
	ValueCodeableConcept *fhir.CodeableConcept `json:"valueCodeableConcept,omitempty"`
}

// Immunization is the canonical nested document (spec.md §3). Only the
// fields the converter reads are modelled here; the CRUD engine (C7) stores
// and re-serialises the original request bytes verbatim rather than
// round-tripping through this struct, so omitted fields are never lost.
type Immunization struct {
	ResourceType       string                 `json:"resourceType"`
	ID                 string                 `json:"id,omitempty"`
	Identifier         []fhir.Identifier      `json:"identifier,omitempty"`
	Status             string                 `json:"status,omitempty"`
	Patient            *fhir.Reference        `json:"patient,omitempty"`
	OccurrenceDateTime string                 `json:"occurrenceDateTime,omitempty"`
	Recorded           string                 `json:"recorded,omitempty"`
	PrimarySource      *bool                  `json:"primarySource,omitempty"`
	ProtocolApplied    []ProtocolApplied      `json:"protocolApplied,omitempty"`
	Performer          []Performer            `json:"performer,omitempty"`
	Contained          []json.RawMessage      `json:"contained,omitempty"`
	Location           *LocationRef           `json:"location,omitempty"`
	Manufacturer       *Manufacturer          `json:"manufacturer,omitempty"`
	LotNumber          string                 `json:"lotNumber,omitempty"`
	ExpirationDate     string                 `json:"expirationDate,omitempty"`
	DoseQuantity       *DoseQuantity          `json:"doseQuantity,omitempty"`
	Site               *fhir.CodeableConcept  `json:"site,omitempty"`
	Route              *fhir.CodeableConcept  `json:"route,omitempty"`
	VaccineCode        *fhir.CodeableConcept  `json:"vaccineCode,omitempty"`
	ReasonCode         []fhir.CodeableConcept `json:"reasonCode,omitempty"`
	Extension          []Extension            `json:"extension,omitempty"`
}

// containedType decodes just enough of a contained resource to dispatch on
// resourceType before re-decoding the same bytes into the typed struct.
type containedType struct {
	ResourceType string `json:"resourceType"`
}

// FlatRow is the 34-column flat record plus the synthetic 35th
// CONVERSION_ERRORS field that never reaches the downstream CSV.
type FlatRow struct {
	Values           map[string]string
	ConversionErrors []ConversionError
}

// NewFlatRow returns a FlatRow with all 34 columns pre-populated as empty
// strings, matching the "absence-to-empty-string rule" testable property.
func NewFlatRow() *FlatRow {
	values := make(map[string]string, len(CSVFields))
	for _, f := range CSVFields {
		values[f] = ""
	}
	return &FlatRow{Values: values}
}

func (r *FlatRow) set(field, value string) {
	r.Values[field] = value
}

func (r *FlatRow) addError(code, message string) {
	r.ConversionErrors = append(r.ConversionErrors, ConversionError{Code: code, Message: message})
}
