package delta

import "context"

// Store is the delta table's access contract.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
}
