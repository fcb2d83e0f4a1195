package delta

import (
	"context"
	"fmt"
	"time"

	"github.com/ehr/ehr/internal/convert"
	"github.com/ehr/ehr/internal/platform/retry"
)

// nowFunc is the time source for DateTimeStamp; tests replace it.
var nowFunc = time.Now

// operationActions maps a mutation's operation name to the Action ToFlatRow
// needs, so the flat projection's ACTION_FLAG-derived fields are consistent
// with the mutation that produced them.
var operationActions = map[string]convert.Action{
	"CREATE": convert.ActionNew,
	"UPDATE": convert.ActionUpdate,
	"DELETE": convert.ActionDelete,
}

// Projector writes one delta row per successful C7 mutation (spec.md §4.8).
type Projector struct {
	store Store
	retry retry.Policy
}

func NewProjector(store Store, policy retry.Policy) *Projector {
	return &Projector{store: store, retry: policy}
}

// Project flattens resource via C4 and persists the projection, retrying
// transient store failures. A resource that fails to parse is a programmer
// error at this point (C7 already validated it on the way in), so it is
// returned rather than retried.
func (p *Projector) Project(ctx context.Context, immsID, operation, source, vaccineType string, resource []byte) error {
	action, ok := operationActions[operation]
	if !ok {
		return fmt.Errorf("delta: unknown operation %q", operation)
	}

	imms, convErr := convert.FromJSON(resource)
	if convErr != nil {
		return fmt.Errorf("delta: %s", convErr.Message)
	}
	flat := convert.ToFlatRow(imms, action)

	rec := &Record{
		ImmsID:        immsID,
		DateTimeStamp: nowFunc().UTC(),
		Operation:     operation,
		Source:        source,
		Flat:          flat.Values,
		VaccineType:   vaccineType,
	}
	return p.retry.Do(ctx, func() error { return p.store.Insert(ctx, rec) })
}
