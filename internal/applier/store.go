// Package applier validates a change set against production and applies it
// under dependency-ordered transactions.
package applier

import (
	"context"

	"logiesync/internal/domain"

	"github.com/google/uuid"
)

// Store is the mutable production store the applier writes to. Implementations
// must make every mutation observable to the capture hook within the same
// unit of work as the mutation itself.
type Store interface {
	// Exists reports whether an entity is currently present in production.
	Exists(ctx context.Context, table, id string) (bool, error)

	// Begin opens one table-batch transaction. The run id is bound to the
	// transaction handle so captured mutations are attributed to the run;
	// uuid.Nil leaves mutations unattributed. The binding dies with the
	// transaction on commit and rollback alike.
	Begin(ctx context.Context, runID uuid.UUID) (Batch, error)
}

// Batch is a single transaction over the production store. Either Commit or
// Rollback must be called exactly once.
type Batch interface {
	Insert(ctx context.Context, table string, op domain.Operation) error
	Update(ctx context.Context, table string, op domain.Operation) error
	Delete(ctx context.Context, table, id string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
