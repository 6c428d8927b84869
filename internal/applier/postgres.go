package applier

import (
	"context"
	"fmt"

	"logiesync/internal/domain"
	"logiesync/internal/schema"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore applies mutations to the production database. The capture
// triggers installed on every tracked table observe the mutations and write
// the change records; this store never touches audit tables itself.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a production connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Exists checks current presence of an entity in production.
func (s *PostgresStore) Exists(ctx context.Context, table, id string) (bool, error) {
	if _, err := schema.Lookup(table); err != nil {
		return false, err
	}

	sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", pgx.Identifier{table}.Sanitize())
	var exists bool
	if err := s.pool.QueryRow(ctx, sql, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check existence of %s %s: %w", table, id, err)
	}
	return exists, nil
}

// Begin opens a transaction and binds the run id to it with a transaction-
// local setting. set_config(..., true) is scoped to this transaction on this
// connection, so pooled connections never leak a run id across runs and the
// binding is released on every exit path, commit and rollback alike.
func (s *PostgresStore) Begin(ctx context.Context, runID uuid.UUID) (Batch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin table batch: %w", err)
	}

	if runID != uuid.Nil {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.run_id', $1, true)", runID.String()); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("failed to bind run id to transaction: %w", err)
		}
	}

	return &pgBatch{tx: tx}, nil
}

type pgBatch struct {
	tx pgx.Tx
}

func (b *pgBatch) Insert(ctx context.Context, table string, op domain.Operation) error {
	spec, err := schema.Lookup(table)
	if err != nil {
		return err
	}

	attributesJSON, err := domain.ToJSONBAttributes(op.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes for %s %s: %w", table, op.EntityID, err)
	}

	ident := pgx.Identifier{table}.Sanitize()
	if spec.Parent == "" {
		sql := fmt.Sprintf("INSERT INTO %s (id, attributes) VALUES ($1, $2)", ident)
		if _, err := b.tx.Exec(ctx, sql, op.EntityID, attributesJSON); err != nil {
			return fmt.Errorf("failed to insert %s %s: %w", table, op.EntityID, err)
		}
		return nil
	}

	parentID, err := parentRef(spec, op)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf("INSERT INTO %s (id, %s, attributes) VALUES ($1, $2, $3)", ident, spec.ParentKey)
	if _, err := b.tx.Exec(ctx, sql, op.EntityID, parentID, attributesJSON); err != nil {
		return fmt.Errorf("failed to insert %s %s: %w", table, op.EntityID, err)
	}
	return nil
}

func (b *pgBatch) Update(ctx context.Context, table string, op domain.Operation) error {
	spec, err := schema.Lookup(table)
	if err != nil {
		return err
	}

	attributesJSON, err := domain.ToJSONBAttributes(op.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes for %s %s: %w", table, op.EntityID, err)
	}

	ident := pgx.Identifier{table}.Sanitize()
	if spec.Parent == "" {
		sql := fmt.Sprintf("UPDATE %s SET attributes = $2 WHERE id = $1", ident)
		result, err := b.tx.Exec(ctx, sql, op.EntityID, attributesJSON)
		if err != nil {
			return fmt.Errorf("failed to update %s %s: %w", table, op.EntityID, err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s %s vanished before update", domain.ErrStaleChangeSet, table, op.EntityID)
		}
		return nil
	}

	parentID, err := parentRef(spec, op)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf("UPDATE %s SET %s = $2, attributes = $3 WHERE id = $1", ident, spec.ParentKey)
	result, err := b.tx.Exec(ctx, sql, op.EntityID, parentID, attributesJSON)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", table, op.EntityID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s vanished before update", domain.ErrStaleChangeSet, table, op.EntityID)
	}
	return nil
}

func (b *pgBatch) Delete(ctx context.Context, table, id string) error {
	if _, err := schema.Lookup(table); err != nil {
		return err
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE id = $1", pgx.Identifier{table}.Sanitize())
	result, err := b.tx.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", table, id, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s vanished before delete", domain.ErrStaleChangeSet, table, id)
	}
	return nil
}

func (b *pgBatch) Commit(ctx context.Context) error {
	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit table batch: %w", err)
	}
	return nil
}

func (b *pgBatch) Rollback(ctx context.Context) error {
	return b.tx.Rollback(ctx)
}

func parentRef(spec schema.Table, op domain.Operation) (string, error) {
	raw, ok := op.Attributes[spec.ParentKey]
	if !ok {
		return "", fmt.Errorf("%s %s is missing required %s", spec.Name, op.EntityID, spec.ParentKey)
	}
	parentID, ok := raw.(string)
	if !ok || parentID == "" {
		return "", fmt.Errorf("%s %s has invalid %s %v", spec.Name, op.EntityID, spec.ParentKey, raw)
	}
	return parentID, nil
}
