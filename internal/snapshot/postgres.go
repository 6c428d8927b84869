package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"logiesync/internal/domain"
	"logiesync/internal/schema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore enumerates a snapshot held in a Postgres database with the
// registry schema, either production (reference) or a candidate build.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool as a snapshot store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Tables reports which tracked tables exist in the snapshot database.
func (s *PostgresStore) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_name = ANY($1)`,
		schema.TableNames(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list snapshot tables: %v", domain.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	present := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: failed to scan table name: %v", domain.ErrSourceUnavailable, err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate snapshot tables: %v", domain.ErrSourceUnavailable, err)
	}

	// Preserve registry order for reproducible reporting.
	tables := make([]string, 0, len(present))
	for _, name := range schema.TableNames() {
		if present[name] {
			tables = append(tables, name)
		}
	}
	return tables, nil
}

// Rows loads all rows of one tracked table keyed by entity id.
func (s *PostgresStore) Rows(ctx context.Context, table string) (map[string]map[string]any, error) {
	if _, err := schema.Lookup(table); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("SELECT id, attributes FROM %s", pgx.Identifier{table}.Sanitize())
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read table %s: %v", domain.ErrSourceUnavailable, table, err)
	}
	defer rows.Close()

	result := map[string]map[string]any{}
	for rows.Next() {
		var (
			id             string
			attributesJSON json.RawMessage
		)
		if err := rows.Scan(&id, &attributesJSON); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row from %s: %v", domain.ErrSourceUnavailable, table, err)
		}

		attributes, err := domain.FromJSONBAttributes(attributesJSON)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode attributes for %s %s: %v", domain.ErrSourceUnavailable, table, id, err)
		}
		result[id] = attributes
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate table %s: %v", domain.ErrSourceUnavailable, table, err)
	}

	return result, nil
}
