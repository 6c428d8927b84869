package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"logiesync/internal/domain"
	"logiesync/internal/schema"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const recordColumns = `id, entity_id, operation, changed_at, run_id,
	old_attributes, new_attributes, COALESCE(description, '')`

// Queries reads the per-table changelogs.
type Queries struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewQueries creates a changelog reader over the registry pool.
func NewQueries(pool *pgxpool.Pool, log *zap.Logger) *Queries {
	return &Queries{pool: pool, log: log}
}

// ChangesByRun returns every change record attributed to a run, across all
// tracked tables, oldest first.
func (q *Queries) ChangesByRun(ctx context.Context, runID uuid.UUID) ([]domain.ChangeRecord, error) {
	var records []domain.ChangeRecord
	for _, table := range schema.Tables() {
		sql := fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE run_id = $1
			ORDER BY id`,
			recordColumns, pgx.Identifier{table.Changelog()}.Sanitize(),
		)
		batch, err := q.queryRecords(ctx, table.Name, sql, runID)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}

	sortRecords(records)
	return records, nil
}

// EntityHistory returns the full change history of one entity, oldest first.
func (q *Queries) EntityHistory(ctx context.Context, table, entityID string) ([]domain.ChangeRecord, error) {
	spec, err := schema.Lookup(table)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE entity_id = $1
		ORDER BY id`,
		recordColumns, pgx.Identifier{spec.Changelog()}.Sanitize(),
	)
	return q.queryRecords(ctx, spec.Name, sql, entityID)
}

// ChangesInWindow returns all change records, attributed and unattributed, in
// a time window. Records with a nil run id are manual edits that bypassed the
// reconciliation engine.
func (q *Queries) ChangesInWindow(ctx context.Context, from, to time.Time) ([]domain.ChangeRecord, error) {
	var records []domain.ChangeRecord
	for _, table := range schema.Tables() {
		sql := fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE changed_at >= $1 AND changed_at < $2
			ORDER BY id`,
			recordColumns, pgx.Identifier{table.Changelog()}.Sanitize(),
		)
		batch, err := q.queryRecords(ctx, table.Name, sql, from, to)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}

	sortRecords(records)
	return records, nil
}

// Summary aggregates a run's change records into per-table counts.
func (q *Queries) Summary(ctx context.Context, runID uuid.UUID) (map[string]domain.OperationCounts, error) {
	summary := map[string]domain.OperationCounts{}
	for _, table := range schema.Tables() {
		sql := fmt.Sprintf(`
			SELECT operation, COUNT(*) FROM %s
			WHERE run_id = $1
			GROUP BY operation`,
			pgx.Identifier{table.Changelog()}.Sanitize(),
		)
		rows, err := q.pool.Query(ctx, sql, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize %s changes: %w", table.Name, err)
		}

		var counts domain.OperationCounts
		for rows.Next() {
			var operation string
			var count int
			if err := rows.Scan(&operation, &count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s summary: %w", table.Name, err)
			}
			switch domain.ChangeKind(operation) {
			case domain.ChangeCreate:
				counts.Created = count
			case domain.ChangeModify:
				counts.Modified = count
			case domain.ChangeRemove:
				counts.Removed = count
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate %s summary: %w", table.Name, err)
		}

		if counts.Total() > 0 {
			summary[table.Name] = counts
		}
	}

	return summary, nil
}

// CleanupOlderThan deletes change records older than the retention cutoff and
// returns how many were removed. Run records themselves are kept.
func (q *Queries) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d days", retentionDays)
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var total int64
	for _, table := range schema.Tables() {
		sql := fmt.Sprintf("DELETE FROM %s WHERE changed_at < $1",
			pgx.Identifier{table.Changelog()}.Sanitize(),
		)
		result, err := q.pool.Exec(ctx, sql, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to clean up %s changelog: %w", table.Name, err)
		}
		total += result.RowsAffected()
	}

	if total > 0 {
		q.log.Info("old change records removed",
			zap.Int64("deleted", total),
			zap.Time("cutoff", cutoff),
		)
	}
	return total, nil
}

func (q *Queries) queryRecords(ctx context.Context, table, sql string, args ...any) ([]domain.ChangeRecord, error) {
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s changelog: %w", table, err)
	}
	defer rows.Close()

	var records []domain.ChangeRecord
	for rows.Next() {
		record := domain.ChangeRecord{Table: table}
		err := rows.Scan(
			&record.ID,
			&record.EntityID,
			&record.Operation,
			&record.ChangedAt,
			&record.RunID,
			&record.OldAttributes,
			&record.NewAttributes,
			&record.Description,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s change record: %w", table, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s changelog: %w", table, err)
	}

	return records, nil
}

// sortRecords orders cross-table results by time, then by table and id so
// equal timestamps still list deterministically.
func sortRecords(records []domain.ChangeRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].ChangedAt.Equal(records[j].ChangedAt) {
			return records[i].ChangedAt.Before(records[j].ChangedAt)
		}
		if records[i].Table != records[j].Table {
			return records[i].Table < records[j].Table
		}
		return records[i].ID < records[j].ID
	})
}
