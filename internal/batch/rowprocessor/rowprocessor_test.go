package rowprocessor

import (
	"context"
	"testing"

	"github.com/ehr/ehr/internal/platform/refcache"
)

func validRow() map[string]string {
	return map[string]string{
		"ACTION_FLAG":                "NEW",
		"NHS_NUMBER":                 "9000000009",
		"PERSON_FORENAME":            "Sarah",
		"PERSON_SURNAME":             "Taylor",
		"PERSON_DOB":                 "19900101",
		"PERSON_GENDER_CODE":         "2",
		"DATE_AND_TIME":              "20210315T10000000",
		"UNIQUE_ID":                  "abc-123",
		"UNIQUE_ID_URI":              "https://supplierABC/identifiers/vacc",
		"VACCINE_PRODUCT_CODE":       "39114911000001105",
		"VACCINATION_PROCEDURE_CODE": "6142004",
	}
}

func newCache() *refcache.InMemoryCache {
	c := refcache.NewInMemoryCache()
	c.VaccineTypeToDiseases["FLU"] = []string{"6142004"}
	return c
}

func TestProcess_ValidRowProducesEnvelopeWithResource(t *testing.T) {
	fc := FileContext{FileKey: "FLU_Vaccinations_V5_YGM41_20210315T12345600.csv", MessageID: "msg-1", Supplier: "EMIS", VaccineType: "FLU"}
	env, err := Process(context.Background(), newCache(), fc, 0, validRow())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.Diagnostics) != 0 {
		t.Fatalf("expected no diagnostics, got %+v", env.Diagnostics)
	}
	if env.RowID != "msg-1^0" {
		t.Errorf("unexpected row id %q", env.RowID)
	}
	if env.Partition != "EMIS_FLU" {
		t.Errorf("unexpected partition %q", env.Partition)
	}
	if len(env.FHIRResource) == 0 {
		t.Error("expected a serialised FHIR resource")
	}
}

func TestProcess_InvalidActionFlag(t *testing.T) {
	row := validRow()
	row["ACTION_FLAG"] = "REPLACE"
	fc := FileContext{FileKey: "k", MessageID: "msg-1", Supplier: "EMIS", VaccineType: "FLU"}
	env, err := Process(context.Background(), newCache(), fc, 0, row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.Diagnostics) == 0 {
		t.Fatal("expected a diagnostic for an invalid action flag")
	}
}

func TestProcess_MissingMandatoryFieldsFailValidation(t *testing.T) {
	row := validRow()
	delete(row, "VACCINE_PRODUCT_CODE")
	fc := FileContext{FileKey: "k", MessageID: "msg-1", Supplier: "EMIS", VaccineType: "FLU"}
	env, err := Process(context.Background(), newCache(), fc, 0, row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.Diagnostics) == 0 {
		t.Fatal("expected a diagnostic for missing vaccineCode")
	}
}

func TestProcess_VaccineTypeMismatchIsRowLevelFailure(t *testing.T) {
	row := validRow()
	fc := FileContext{FileKey: "k", MessageID: "msg-1", Supplier: "EMIS", VaccineType: "COVID19"}
	env, err := Process(context.Background(), newCache(), fc, 0, row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, d := range env.Diagnostics {
		if d.Code == "VACCINE_TYPE_MISMATCH" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a VACCINE_TYPE_MISMATCH diagnostic, got %+v", env.Diagnostics)
	}
}

func TestProcess_DeleteActionOnlyRequiresIdentifier(t *testing.T) {
	row := map[string]string{"ACTION_FLAG": "DELETE", "UNIQUE_ID": "abc-123", "UNIQUE_ID_URI": "sys"}
	fc := FileContext{FileKey: "k", MessageID: "msg-1", Supplier: "EMIS", VaccineType: "FLU"}
	env, err := Process(context.Background(), newCache(), fc, 0, row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.Diagnostics) != 0 {
		t.Fatalf("expected no diagnostics for a well-formed delete, got %+v", env.Diagnostics)
	}
}

func TestProcess_InvalidNHSNumberFailsPreValidation(t *testing.T) {
	row := validRow()
	row["NHS_NUMBER"] = "not-digits"
	fc := FileContext{FileKey: "k", MessageID: "msg-1", Supplier: "EMIS", VaccineType: "FLU"}
	env, err := Process(context.Background(), newCache(), fc, 0, row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.Diagnostics) == 0 {
		t.Fatal("expected a pre-validation diagnostic")
	}
}
