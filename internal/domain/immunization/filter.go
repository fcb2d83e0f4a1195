package immunization

import "github.com/ehr/ehr/internal/convert"

// Search-view filtering, ported from original_source/backend/src/filter.py's
// Filter.search pipeline. It operates on the decoded resource map rather
// than a typed struct, since C7 never round-trips the stored bytes through
// a bespoke Go type (see Record's doc comment).

const (
	obfuscatedPostcode = "ZZ99 3CZ"
	obfuscatedOrgCode  = "N2N9I"
)

// filterForSearch applies every transformation search() needs (spec.md
// §4.5) in the same order filter.py's Filter.search does: drop the
// contained-practitioner performer reference, inject the patient
// reference, default identifier[0].use, obfuscate addresses and
// organization performers, then drop contained entirely.
func filterForSearch(resource map[string]interface{}, patientFullURL string) map[string]interface{} {
	removeContainedPractitionerReference(resource)
	injectPatientReference(resource, patientFullURL)
	defaultIdentifierUse(resource)
	obfuscatePostalCodes(resource)
	obfuscateOrganizationPerformers(resource)
	delete(resource, "contained")
	return resource
}

func containedOfType(resource map[string]interface{}, resourceType string) map[string]interface{} {
	contained, _ := resource["contained"].([]interface{})
	for _, c := range contained {
		m, ok := c.(map[string]interface{})
		if ok && m["resourceType"] == resourceType {
			return m
		}
	}
	return nil
}

func removeContainedPractitionerReference(resource map[string]interface{}) {
	practitioner := containedOfType(resource, "Practitioner")
	if practitioner == nil {
		return
	}
	practitionerID, _ := practitioner["id"].(string)
	performers, _ := resource["performer"].([]interface{})
	kept := performers[:0]
	for _, p := range performers {
		entry, ok := p.(map[string]interface{})
		if ok && referencesContained(entry, practitionerID) {
			continue
		}
		kept = append(kept, p)
	}
	resource["performer"] = kept
}

func referencesContained(performer map[string]interface{}, containedID string) bool {
	actor, ok := performer["actor"].(map[string]interface{})
	if !ok {
		return false
	}
	ref, _ := actor["reference"].(string)
	return ref == "#"+containedID
}

func injectPatientReference(resource map[string]interface{}, patientFullURL string) {
	patient := containedOfType(resource, "Patient")
	if patient == nil {
		return
	}
	identifiers, _ := patient["identifier"].([]interface{})
	for _, raw := range identifiers {
		id, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if id["system"] == convert.Urls.NHSNumber {
			resource["patient"] = map[string]interface{}{
				"reference": patientFullURL,
				"type":      "Patient",
				"identifier": map[string]interface{}{
					"system": id["system"],
					"value":  id["value"],
				},
			}
			return
		}
	}
}

func defaultIdentifierUse(resource map[string]interface{}) {
	identifiers, _ := resource["identifier"].([]interface{})
	if len(identifiers) == 0 {
		return
	}
	first, ok := identifiers[0].(map[string]interface{})
	if !ok {
		return
	}
	if _, hasUse := first["use"]; !hasUse {
		first["use"] = "official"
	}
}

func obfuscatePostalCodes(resource map[string]interface{}) {
	patient := containedOfType(resource, "Patient")
	if patient == nil {
		return
	}
	addresses, _ := patient["address"].([]interface{})
	for _, raw := range addresses {
		addr, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if _, hasPostcode := addr["postalCode"]; !hasPostcode {
			continue
		}
		for key := range addr {
			if key != "postalCode" {
				delete(addr, key)
			}
		}
		addr["postalCode"] = obfuscatedPostcode
	}
}

func obfuscateOrganizationPerformers(resource map[string]interface{}) {
	performers, _ := resource["performer"].([]interface{})
	for _, raw := range performers {
		performer, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		actor, ok := performer["actor"].(map[string]interface{})
		if !ok || actor["type"] != "Organization" {
			continue
		}
		actor["identifier"] = map[string]interface{}{
			"system": convert.Urls.ODSOrganizationCode,
			"value":  obfuscatedOrgCode,
		}
		for key := range actor {
			if key != "identifier" && key != "type" {
				delete(actor, key)
			}
		}
	}
}
