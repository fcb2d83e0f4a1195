package convert

import (
	"testing"
	"time"

	"github.com/ehr/ehr/internal/platform/fhir"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return tm
}

func TestIsCurrentPeriod_NoPeriodIsAlwaysCurrent(t *testing.T) {
	if !isCurrentPeriod(nil, time.Now()) {
		t.Fatal("expected nil period to be current")
	}
}

func TestIsCurrentPeriod_BoundedBothSides(t *testing.T) {
	start := mustParse(t, "2020-01-01T00:00:00Z")
	end := mustParse(t, "2020-12-31T00:00:00Z")
	period := &fhir.Period{Start: &start, End: &end}

	if !isCurrentPeriod(period, mustParse(t, "2020-06-01T00:00:00Z")) {
		t.Error("expected time inside period to be current")
	}
	if isCurrentPeriod(period, mustParse(t, "2019-01-01T00:00:00Z")) {
		t.Error("expected time before start to not be current")
	}
	if isCurrentPeriod(period, mustParse(t, "2021-01-01T00:00:00Z")) {
		t.Error("expected time after end to not be current")
	}
}

func TestIsCurrentPeriod_OpenEnded(t *testing.T) {
	start := mustParse(t, "2020-01-01T00:00:00Z")
	period := &fhir.Period{Start: &start}
	if !isCurrentPeriod(period, mustParse(t, "2099-01-01T00:00:00Z")) {
		t.Error("expected no end bound to mean unbounded forward")
	}
}

func TestGetValidNames_PrefersOfficial(t *testing.T) {
	names := []fhir.HumanName{
		{Use: "old", Family: "Stale", Given: []string{"Old"}},
		{Use: "official", Family: "Smith", Given: []string{"Jane"}},
	}
	selected := getValidNames(names, time.Now())
	if selected.Family != "Smith" {
		t.Errorf("expected official name selected, got %q", selected.Family)
	}
}

func TestGetValidNames_FallsBackToNonOld(t *testing.T) {
	names := []fhir.HumanName{
		{Use: "old", Family: "Stale"},
		{Use: "usual", Family: "Current"},
	}
	selected := getValidNames(names, time.Now())
	if selected.Family != "Current" {
		t.Errorf("expected non-old fallback, got %q", selected.Family)
	}
}

func TestGetValidNames_FallsBackToFirst(t *testing.T) {
	names := []fhir.HumanName{
		{Use: "old", Family: "OnlyOption"},
	}
	selected := getValidNames(names, time.Now())
	if selected.Family != "OnlyOption" {
		t.Errorf("expected first name as last resort, got %q", selected.Family)
	}
}

func TestExtractPostcode_DefaultsWhenNoAddress(t *testing.T) {
	if got := extractPostcode(nil, time.Now()); got != DefaultPostcode {
		t.Errorf("expected default postcode, got %q", got)
	}
	p := &Patient{}
	if got := extractPostcode(p, time.Now()); got != DefaultPostcode {
		t.Errorf("expected default postcode for empty address list, got %q", got)
	}
}

func TestExtractPostcode_PrefersHomeNonPostal(t *testing.T) {
	p := &Patient{
		Address: []fhir.Address{
			{Use: "work", Type: "physical", PostalCode: "AA1 1AA"},
			{Use: "home", Type: "physical", PostalCode: "BB2 2BB"},
		},
	}
	if got := extractPostcode(p, time.Now()); got != "BB2 2BB" {
		t.Errorf("expected home address preferred, got %q", got)
	}
}

func TestExtractSiteCode_PrefersOrganizationWithODSSystem(t *testing.T) {
	imms := &Immunization{
		Performer: []Performer{
			{Actor: PerformerActor{Type: "Practitioner", Identifier: &fhir.Identifier{System: "https://fhir.nhs.uk/Id/ods-organization-code", Value: "WRONG"}}},
			{Actor: PerformerActor{Type: "Organization", Identifier: &fhir.Identifier{System: "https://fhir.nhs.uk/Id/ods-organization-code", Value: "RIGHT"}}},
		},
	}
	code, uri := extractSiteCode(imms)
	if code != "RIGHT" {
		t.Errorf("expected RIGHT site code, got %q", code)
	}
	if uri != "https://fhir.nhs.uk/Id/ods-organization-code" {
		t.Errorf("unexpected uri %q", uri)
	}
}

func TestExtractLocation_DefaultsOnAbsence(t *testing.T) {
	code, uri := extractLocation(&Immunization{})
	if code != DefaultLocationCode {
		t.Errorf("expected default location code, got %q", code)
	}
	if uri != Urls.ODSOrganizationCode {
		t.Errorf("expected default location uri, got %q", uri)
	}
}

func TestMapGender(t *testing.T) {
	cases := map[string]string{"male": "1", "female": "2", "other": "9", "unknown": "0", "bogus": ""}
	for in, want := range cases {
		if got := mapGender(in); got != want {
			t.Errorf("mapGender(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMapPrimarySource(t *testing.T) {
	yes, no := true, false
	if mapPrimarySource(&yes) != "TRUE" {
		t.Error("expected TRUE")
	}
	if mapPrimarySource(&no) != "FALSE" {
		t.Error("expected FALSE")
	}
	if mapPrimarySource(nil) != "" {
		t.Error("expected empty string for absent value")
	}
}

func TestFormatDate_EmptyOnAbsent(t *testing.T) {
	if formatDate("") != "" {
		t.Error("expected empty string for empty input")
	}
	if formatDate("not-a-date") != "" {
		t.Error("expected empty string for unparsable input")
	}
}

func TestFormatDate_NormalisesToYYYYMMDD(t *testing.T) {
	if got := formatDate("2021-03-15"); got != "20210315" {
		t.Errorf("got %q", got)
	}
}

func TestFormatOccurrence_UTCAndBST(t *testing.T) {
	utc, _ := formatOccurrence("2021-03-15T10:00:00Z")
	if utc != "20210315T10000000" {
		t.Errorf("expected UTC offset 00, got %q", utc)
	}
	bst, _ := formatOccurrence("2021-06-15T10:00:00+01:00")
	if bst != "20210615T10000001" {
		t.Errorf("expected BST offset 01, got %q", bst)
	}
}

func TestFormatOccurrence_OtherOffsetIsEmpty(t *testing.T) {
	got, _ := formatOccurrence("2021-06-15T10:00:00+02:00")
	if got != "" {
		t.Errorf("expected empty string for non UTC/BST offset, got %q", got)
	}
}

func TestDoseAmount_PreservesExactDecimalText(t *testing.T) {
	dq := &DoseQuantity{Value: "0.50"}
	if got := doseAmount(dq); got != "0.50" {
		t.Errorf("expected exact decimal text preserved, got %q", got)
	}
	if doseAmount(nil) != "" {
		t.Error("expected empty string for absent quantity")
	}
}
