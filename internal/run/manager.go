// Package run manages the lifecycle of reconciliation runs.
package run

import (
	"context"
	"errors"
	"fmt"

	"logiesync/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const runColumns = `run_id, started_at, completed_at, status,
	COALESCE(source_url, ''), COALESCE(source_hash, ''), COALESCE(source_size, 0),
	records_added, records_updated, records_deleted, COALESCE(error_message, '')`

// Manager creates run records and drives them to a terminal status. The
// mutation counters on a run are maintained by the capture triggers, never by
// this manager.
type Manager struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewManager creates a run manager over the registry pool.
func NewManager(pool *pgxpool.Pool, log *zap.Logger) *Manager {
	return &Manager{pool: pool, log: log}
}

// Start opens a new run in RUNNING state and returns it.
func (m *Manager) Start(ctx context.Context, source domain.SourceDescriptor) (domain.Run, error) {
	run := domain.Run{
		ID:     uuid.New(),
		Status: domain.RunRunning,
		Source: source,
	}

	err := m.pool.QueryRow(ctx, `
		INSERT INTO update_runs (run_id, status, source_url, source_hash, source_size)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, 0))
		RETURNING started_at`,
		run.ID, run.Status, source.URL, source.Hash, source.Size,
	).Scan(&run.StartedAt)
	if err != nil {
		return domain.Run{}, fmt.Errorf("failed to start run: %w", err)
	}

	m.log.Info("run started",
		zap.String("run_id", run.ID.String()),
		zap.String("source_url", source.URL),
	)

	return run, nil
}

// Finish moves a run from RUNNING to the given terminal status. The guard on
// the current status makes Finish race-safe and idempotence-checking: the
// first caller wins, any later attempt gets ErrRunAlreadyClosed and the run
// record is untouched.
func (m *Manager) Finish(ctx context.Context, runID uuid.UUID, status domain.RunStatus, errorMessage string) (domain.Run, error) {
	if !status.Terminal() {
		return domain.Run{}, fmt.Errorf("cannot finish run %s with non-terminal status %s", runID, status)
	}

	row := m.pool.QueryRow(ctx, `
		UPDATE update_runs
		SET status = $2, completed_at = now(), error_message = NULLIF($3, '')
		WHERE run_id = $1 AND status = 'RUNNING'
		RETURNING `+runColumns,
		runID, status, errorMessage,
	)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("%w: run %s", domain.ErrRunAlreadyClosed, runID)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("failed to finish run %s: %w", runID, err)
	}

	m.log.Info("run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.Int("added", run.RecordsAdded),
		zap.Int("updated", run.RecordsUpdated),
		zap.Int("deleted", run.RecordsDeleted),
	)

	return run, nil
}

// Get loads one run by id.
func (m *Manager) Get(ctx context.Context, runID uuid.UUID) (domain.Run, error) {
	row := m.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM update_runs
		WHERE run_id = $1`,
		runID,
	)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

// Recent returns the most recently started runs, newest first.
func (m *Manager) Recent(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := m.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM update_runs
		ORDER BY started_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var run domain.Run
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Status,
		&run.Source.URL,
		&run.Source.Hash,
		&run.Source.Size,
		&run.RecordsAdded,
		&run.RecordsUpdated,
		&run.RecordsDeleted,
		&run.ErrorMessage,
	)
	return run, err
}
