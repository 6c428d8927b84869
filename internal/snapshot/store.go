// Package snapshot exposes fully materialized views of the tracked tables.
// The reference snapshot is the production store itself; candidate snapshots
// are built externally by the snapshot provider and only enumerated here.
package snapshot

import "context"

// Store is a fully enumerable snapshot of the tracked tables. Iteration order
// is unspecified; consumers needing determinism sort on entity id.
type Store interface {
	// Tables lists the tracked tables the snapshot actually contains.
	Tables(ctx context.Context) ([]string, error)

	// Rows returns every row of one table keyed by entity id.
	Rows(ctx context.Context, table string) (map[string]map[string]any, error)
}
