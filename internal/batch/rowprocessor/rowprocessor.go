// Package rowprocessor implements C5: for each CSV row, build a FHIR
// resource skeleton, resolve ACTION_FLAG, validate, derive the vaccine type
// from the resource body, and produce a shard-stream envelope.
package rowprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/ehr/internal/convert"
	"github.com/ehr/ehr/internal/platform/refcache"
	"github.com/ehr/ehr/internal/platform/shardstream"
)

// FileContext carries the information C3 already resolved about the
// enclosing file, needed to build each row's envelope.
type FileContext struct {
	FileKey     string
	MessageID   string
	Supplier    string
	VaccineType string // the filename's vaccine type, checked against the derived one
}

// Process runs pre-validation, FHIR validation, and vaccine-type derivation
// for one CSV row, producing its shard-stream envelope (§4.3). It never
// returns a Go error for a row-level business failure — those are recorded
// as Diagnostics on the returned envelope so the caller can still forward
// it (ACK completion detection requires an envelope per row even on
// failure). A non-nil error return means an infrastructure failure (the
// cache lookup itself failed).
func Process(ctx context.Context, cache refcache.Cache, fc FileContext, rowIndex int, row map[string]string) (shardstream.Envelope, error) {
	env := shardstream.Envelope{
		RowID:       fmt.Sprintf("%s^%d", fc.MessageID, rowIndex),
		FileKey:     fc.FileKey,
		MessageID:   fc.MessageID,
		RowIndex:    rowIndex,
		Partition:   fc.Supplier + "_" + fc.VaccineType,
		Supplier:    fc.Supplier,
		VaccineType: fc.VaccineType,
	}

	action, err := convert.ParseAction(row["ACTION_FLAG"])
	if err != nil {
		env.Diagnostics = append(env.Diagnostics, shardstream.Diagnostic{Code: "INVALID_ACTION_FLAG", Message: err.Error()})
		return env, nil
	}
	env.Action = string(action)

	if diags := preValidate(row); len(diags) > 0 {
		env.Diagnostics = append(env.Diagnostics, diags...)
		return env, nil
	}

	imms := convert.FromFlatRow(row)

	if diags := validateResource(action, imms); len(diags) > 0 {
		env.Diagnostics = append(env.Diagnostics, diags...)
		return env, nil
	}

	diseaseCodes := targetDiseaseCodes(imms)
	derivedVaccineType, err := cache.VaccineTypeForDiseaseCodes(ctx, diseaseCodes)
	if err != nil {
		return env, err
	}
	if derivedVaccineType != "" && derivedVaccineType != fc.VaccineType {
		env.Diagnostics = append(env.Diagnostics, shardstream.Diagnostic{
			Code:    "VACCINE_TYPE_MISMATCH",
			Message: fmt.Sprintf("filename vaccine type %q does not match derived type %q", fc.VaccineType, derivedVaccineType),
		})
		return env, nil
	}

	raw, err := json.Marshal(imms)
	if err != nil {
		env.Diagnostics = append(env.Diagnostics, shardstream.Diagnostic{Code: convert.CodeUnexpectedException, Message: err.Error()})
		return env, nil
	}
	env.FHIRResource = raw

	return env, nil
}

// preValidate runs field-level type/format checks (§4.3 "pre-validation").
func preValidate(row map[string]string) []shardstream.Diagnostic {
	var diags []shardstream.Diagnostic

	if nhsNumber := row["NHS_NUMBER"]; nhsNumber != "" && !isDigits(nhsNumber) {
		diags = append(diags, shardstream.Diagnostic{Code: convert.CodeValidation, Message: "NHS_NUMBER must be numeric"})
	}
	if dob := row["PERSON_DOB"]; dob != "" {
		if _, err := time.Parse("20060102", dob); err != nil {
			diags = append(diags, shardstream.Diagnostic{Code: convert.CodeValidation, Message: "PERSON_DOB is not YYYYMMDD"})
		}
	}
	if gender := row["PERSON_GENDER_CODE"]; gender != "" {
		switch gender {
		case "0", "1", "2", "9":
		default:
			diags = append(diags, shardstream.Diagnostic{Code: convert.CodeValidation, Message: "PERSON_GENDER_CODE must be one of 0,1,2,9"})
		}
	}
	return diags
}

// validateResource runs FHIR-level validation (§4.3: required fields,
// cardinalities, code-system constraints), gated on the action being
// applied.
func validateResource(action convert.Action, imms *convert.Immunization) []shardstream.Diagnostic {
	var diags []shardstream.Diagnostic

	if action == convert.ActionDelete {
		if len(imms.Identifier) == 0 {
			diags = append(diags, shardstream.Diagnostic{Code: convert.CodeMandatory, Message: "identifier is required for DELETE"})
		}
		return diags
	}

	if convert.ExtractPatient(imms) == nil {
		diags = append(diags, shardstream.Diagnostic{Code: convert.CodeMandatory, Message: "contained Patient is required"})
	}
	if imms.VaccineCode == nil || len(imms.VaccineCode.Coding) == 0 {
		diags = append(diags, shardstream.Diagnostic{Code: convert.CodeMandatory, Message: "vaccineCode is required"})
	} else if !convert.SNOMEDPattern.MatchString(imms.VaccineCode.Coding[0].Code) {
		diags = append(diags, shardstream.Diagnostic{Code: convert.CodeValidation, Message: "vaccineCode.coding[0].code is not a valid SNOMED identifier"})
	}
	if imms.OccurrenceDateTime == "" {
		diags = append(diags, shardstream.Diagnostic{Code: convert.CodeMandatory, Message: "occurrenceDateTime is required"})
	}
	if len(imms.Identifier) == 0 {
		diags = append(diags, shardstream.Diagnostic{Code: convert.CodeMandatory, Message: "identifier is required"})
	}

	return diags
}

func targetDiseaseCodes(imms *convert.Immunization) []string {
	var codes []string
	for _, pa := range imms.ProtocolApplied {
		for _, td := range pa.TargetDisease {
			for _, coding := range td.Coding {
				codes = append(codes, coding.Code)
			}
		}
	}
	return codes
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormaliseAction is a convenience re-export so callers doing a first pass
// over a file's rows (to compute C3's requiredOps set) don't need to import
// both packages just for this.
func NormaliseAction(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
