// Package refcache implements C2, the read-only reference cache: supplier
// permissions, vaccine-type <-> disease-code mappings, and ODS code ->
// supplier lookups. It is read-only after init from the core's point of
// view — the writer/sync path that populates it is out of scope (spec.md §5).
package refcache

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Cache is the capability interface C3 and C5 depend on.
type Cache interface {
	SupplierPermissions(ctx context.Context, supplier string) ([]string, error)
	SupplierForODSCode(ctx context.Context, odsCode string) (string, error)
	VaccineTypeForDiseaseCodes(ctx context.Context, diseaseCodes []string) (string, error)
	DiseaseCodesForVaccineType(ctx context.Context, vaccineType string) ([]string, error)
}

// Hash key names match the original redis_sync population job exactly.
const (
	hashSupplierPermissions   = "supplier_permissions"
	hashODSToSupplier         = "ods_code_to_supplier"
	hashVaccineTypeToDiseases = "vacc_to_diseases"
	hashDiseasesToVaccineType = "diseases_to_vacc"
)

// RedisCache is the production Cache backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) SupplierPermissions(ctx context.Context, supplier string) ([]string, error) {
	raw, err := c.client.HGet(ctx, hashSupplierPermissions, supplier).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strings.Split(raw, ","), nil
}

func (c *RedisCache) SupplierForODSCode(ctx context.Context, odsCode string) (string, error) {
	supplier, err := c.client.HGet(ctx, hashODSToSupplier, odsCode).Result()
	if err == redis.Nil {
		return "", nil
	}
	return supplier, err
}

func (c *RedisCache) VaccineTypeForDiseaseCodes(ctx context.Context, diseaseCodes []string) (string, error) {
	key := diseaseCodeKey(diseaseCodes)
	vt, err := c.client.HGet(ctx, hashDiseasesToVaccineType, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return vt, err
}

func (c *RedisCache) DiseaseCodesForVaccineType(ctx context.Context, vaccineType string) ([]string, error) {
	raw, err := c.client.HGet(ctx, hashVaccineTypeToDiseases, vaccineType).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strings.Split(raw, ","), nil
}

// diseaseCodeKey mirrors convert_disease_codes_to_vaccine_type's lookup
// shape: disease codes are sorted before joining so that the cache key is
// independent of the order they appeared in the FHIR resource.
func diseaseCodeKey(codes []string) string {
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// InMemoryCache is a static Cache implementation for tests.
type InMemoryCache struct {
	Permissions          map[string][]string
	ODSToSupplier        map[string]string
	VaccineTypeToDiseases map[string][]string
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		Permissions:           make(map[string][]string),
		ODSToSupplier:         make(map[string]string),
		VaccineTypeToDiseases: make(map[string][]string),
	}
}

func (c *InMemoryCache) SupplierPermissions(_ context.Context, supplier string) ([]string, error) {
	return c.Permissions[supplier], nil
}

func (c *InMemoryCache) SupplierForODSCode(_ context.Context, odsCode string) (string, error) {
	return c.ODSToSupplier[odsCode], nil
}

func (c *InMemoryCache) VaccineTypeForDiseaseCodes(_ context.Context, diseaseCodes []string) (string, error) {
	want := diseaseCodeKey(diseaseCodes)
	for vt, codes := range c.VaccineTypeToDiseases {
		if diseaseCodeKey(codes) == want {
			return vt, nil
		}
	}
	return "", nil
}

func (c *InMemoryCache) DiseaseCodesForVaccineType(_ context.Context, vaccineType string) ([]string, error) {
	codes, ok := c.VaccineTypeToDiseases[vaccineType]
	if !ok {
		return nil, fmt.Errorf("unknown vaccine type %q", vaccineType)
	}
	return codes, nil
}
