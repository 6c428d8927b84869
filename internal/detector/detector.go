// Package detector computes the change set between a reference snapshot
// (production) and a candidate snapshot (newly built source generation).
package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"logiesync/internal/domain"
	"logiesync/internal/snapshot"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Detector diffs two snapshots entity-by-entity per table.
type Detector struct {
	log *zap.Logger
}

// New creates a detector.
func New(log *zap.Logger) *Detector {
	return &Detector{log: log}
}

// Detect compares reference against candidate and returns the operations that
// turn reference into candidate. Tables are compared independently and in
// parallel, since detection only reads. Within a table the result is ordered
// by entity id ascending, so identical inputs always produce identical
// change sets.
//
// A table present in reference but missing from candidate means the candidate
// was built incorrectly; detection fails with ErrSchemaMismatch rather than
// silently emitting removals for the whole table.
func (d *Detector) Detect(ctx context.Context, reference, candidate snapshot.Store) (*domain.ChangeSet, error) {
	refTables, err := reference.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate reference tables: %w", err)
	}

	candTables, err := candidate.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate candidate tables: %w", err)
	}

	candidateHas := make(map[string]bool, len(candTables))
	for _, name := range candTables {
		candidateHas[name] = true
	}
	for _, name := range refTables {
		if !candidateHas[name] {
			return nil, fmt.Errorf("%w: table %s present in reference but missing from candidate", domain.ErrSchemaMismatch, name)
		}
	}

	changeSet := domain.NewChangeSet()
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for _, table := range refTables {
		group.Go(func() error {
			ops, err := d.detectTable(groupCtx, table, reference, candidate)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				return nil
			}

			mu.Lock()
			changeSet.Operations[table] = ops
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	d.log.Info("change detection completed",
		zap.Int("tables", len(refTables)),
		zap.Int("total_changes", changeSet.Total()),
	)

	return changeSet, nil
}

func (d *Detector) detectTable(ctx context.Context, table string, reference, candidate snapshot.Store) ([]domain.Operation, error) {
	refRows, err := reference.Rows(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference table %s: %w", table, err)
	}

	candRows, err := candidate.Rows(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate table %s: %w", table, err)
	}

	var ops []domain.Operation

	for id, candAttrs := range candRows {
		refAttrs, exists := refRows[id]
		if !exists {
			ops = append(ops, domain.Operation{
				EntityID:   id,
				Kind:       domain.ChangeCreate,
				Attributes: domain.CloneAttributes(candAttrs),
			})
			continue
		}

		// MODIFY carries the candidate's full attribute map, not a field
		// patch, so re-applying it is idempotent.
		if !domain.AttributesEqual(refAttrs, candAttrs) {
			ops = append(ops, domain.Operation{
				EntityID:   id,
				Kind:       domain.ChangeModify,
				Attributes: domain.CloneAttributes(candAttrs),
			})
		}
	}

	for id := range refRows {
		if _, exists := candRows[id]; !exists {
			ops = append(ops, domain.Operation{
				EntityID: id,
				Kind:     domain.ChangeRemove,
			})
		}
	}

	sort.Slice(ops, func(i, j int) bool {
		return ops[i].EntityID < ops[j].EntityID
	})

	d.log.Debug("table compared",
		zap.String("table", table),
		zap.Int("reference_rows", len(refRows)),
		zap.Int("candidate_rows", len(candRows)),
		zap.Int("changes", len(ops)),
	)

	return ops, nil
}
