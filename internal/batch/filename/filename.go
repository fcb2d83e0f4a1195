// Package filename implements C3, the filename validator: it parses and
// authorises an incoming object key before any row processing begins.
package filename

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ehr/ehr/internal/platform/refcache"
)

// ValidVersions is the set of accepted filename versions (§4.1).
var ValidVersions = map[string]bool{"V5": true}

// Meta is the parsed-and-authorised result of a successful ParseAndAuthorise
// call (§4.1).
type Meta struct {
	Supplier            string
	VaccineType         string
	ODSCode             string
	Timestamp           time.Time
	PermittedOperations map[string]bool
}

// InvalidFileKeyError covers every shape of malformed/unrecognised filename:
// missing fields, bad version, unknown ODS code, unparsable timestamp.
type InvalidFileKeyError struct {
	Reason string
}

func (e *InvalidFileKeyError) Error() string { return "invalid file key: " + e.Reason }

// VaccineTypePermissionsError is returned when the supplier is known but not
// authorised for the file's vaccine type / required operations.
type VaccineTypePermissionsError struct {
	Supplier    string
	VaccineType string
}

func (e *VaccineTypePermissionsError) Error() string {
	return fmt.Sprintf("supplier %s is not permitted to submit %s", e.Supplier, e.VaccineType)
}

// fileKeyPattern matches <VaccineType>_Vaccinations_<version>_<ODSCode>_<timestamp>.csv
var fileKeyPattern = regexp.MustCompile(`^([A-Za-z0-9]+)_Vaccinations_([A-Za-z0-9]+)_([A-Za-z0-9]+)_(\d{8}T\d{6}\d{2})\.csv$`)

const timestampLayout = "20060102T150405.00"

// ParseAndAuthorise validates key's shape and authorises the supplier for
// the requested operations against the reference cache (§4.1). requiredOps
// is the set of ACTION_FLAG operations present in the file (derived by the
// caller from a first pass over the rows, or "FULL" if unknown up front).
func ParseAndAuthorise(ctx context.Context, cache refcache.Cache, key string, requiredOps []string) (*Meta, error) {
	match := fileKeyPattern.FindStringSubmatch(key)
	if match == nil {
		return nil, &InvalidFileKeyError{Reason: "does not match <VaccineType>_Vaccinations_<version>_<ODSCode>_<timestamp>.csv"}
	}
	vaccineType, version, odsCode, rawTimestamp := match[1], match[2], match[3], match[4]

	if !ValidVersions[version] {
		return nil, &InvalidFileKeyError{Reason: fmt.Sprintf("unsupported version %q", version)}
	}

	timestamp, err := parseTimestamp(rawTimestamp)
	if err != nil {
		return nil, &InvalidFileKeyError{Reason: "unparsable timestamp"}
	}

	supplier, err := cache.SupplierForODSCode(ctx, odsCode)
	if err != nil {
		return nil, err
	}
	if supplier == "" {
		return nil, &InvalidFileKeyError{Reason: fmt.Sprintf("ODS code %q does not map to a known supplier", odsCode)}
	}

	permissions, err := cache.SupplierPermissions(ctx, supplier)
	if err != nil {
		return nil, err
	}
	permitted := permissionSet(permissions)

	fullKey := vaccineType + "_FULL"
	permittedOps := make(map[string]bool, len(requiredOps))
	for _, op := range requiredOps {
		opKey := vaccineType + "_" + strings.ToUpper(op)
		if !permitted[opKey] && !permitted[fullKey] {
			return nil, &VaccineTypePermissionsError{Supplier: supplier, VaccineType: vaccineType}
		}
		permittedOps[op] = true
	}

	return &Meta{
		Supplier:            supplier,
		VaccineType:         vaccineType,
		ODSCode:             odsCode,
		Timestamp:           timestamp,
		PermittedOperations: permittedOps,
	}, nil
}

func permissionSet(permissions []string) map[string]bool {
	set := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		set[p] = true
	}
	return set
}

// parseTimestamp parses the filename's <YYYYMMDDTHHMMSSmm> suffix, where mm
// is hundredths of a second.
func parseTimestamp(raw string) (time.Time, error) {
	if len(raw) != len(timestampLayout)-1 {
		return time.Time{}, fmt.Errorf("invalid timestamp length")
	}
	withDot := raw[:len(raw)-2] + "." + raw[len(raw)-2:]
	return time.Parse(timestampLayout, withDot)
}

// PartitionKey is the shard stream's partition key for a given supplier and
// vaccine type (§4.4: "supplier_vaccineType").
func PartitionKey(supplier, vaccineType string) string {
	return supplier + "_" + vaccineType
}
