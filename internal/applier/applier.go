package applier

import (
	"context"
	"fmt"

	"logiesync/internal/domain"
	"logiesync/internal/schema"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mode selects between validating without mutating and committing for real.
type Mode string

const (
	DryRun Mode = "DRY_RUN"
	Commit Mode = "COMMIT"
)

// ApplyResult reports what was (or in dry-run mode, would have been) applied.
// On failure the counters cover only the batches committed before the
// failure; the run record holds the same totals via the capture triggers.
type ApplyResult struct {
	Mode   Mode                              `json:"mode"`
	Tables map[string]domain.OperationCounts `json:"tables"`
	Totals domain.OperationCounts            `json:"totals"`
}

func newApplyResult(mode Mode) ApplyResult {
	return ApplyResult{Mode: mode, Tables: map[string]domain.OperationCounts{}}
}

func (r *ApplyResult) add(table string, counts domain.OperationCounts) {
	existing := r.Tables[table]
	existing.Add(counts)
	r.Tables[table] = existing
	r.Totals.Add(counts)
}

// Applier validates change sets and applies them to the production store.
type Applier struct {
	store Store
	log   *zap.Logger
}

// New creates an applier over a production store.
func New(store Store, log *zap.Logger) *Applier {
	return &Applier{store: store, log: log}
}

// Apply validates the change set and then applies it in dependency order:
// removals child-tables-first, then creates and modifications parent-tables-
// first, so no commit point ever holds an orphaned reference. Each table
// phase runs in its own transaction; a failure rolls back the in-flight batch
// and leaves earlier committed batches in place, which the returned counters
// and the run record document.
//
// In dry-run mode validation runs in full but no batch is opened, so nothing
// mutates and no change record is captured; the counters report exactly what
// a commit of the same change set would do.
//
// Cancellation is honoured between table batches only. Once a batch has
// begun it runs to commit or rollback.
func (a *Applier) Apply(ctx context.Context, runID uuid.UUID, changeSet *domain.ChangeSet, mode Mode) (ApplyResult, error) {
	result := newApplyResult(mode)

	if err := a.validate(ctx, changeSet); err != nil {
		return result, err
	}

	if mode == DryRun {
		for table, counts := range changeSet.Counts() {
			result.add(table, counts)
		}
		a.log.Info("dry run validated",
			zap.String("run_id", runID.String()),
			zap.Int("total_changes", result.Totals.Total()),
		)
		return result, nil
	}

	// Phase one: removals, children before the parents they reference.
	for _, table := range schema.ReverseDependencyOrder() {
		removes := filterOps(changeSet.TableOperations(table), domain.ChangeRemove)
		if len(removes) == 0 {
			continue
		}
		if err := a.applyBatch(ctx, runID, table, removes, &result); err != nil {
			return result, err
		}
	}

	// Phase two: creates and modifications, parents before children.
	for _, table := range schema.DependencyOrder() {
		upserts := filterOps(changeSet.TableOperations(table), domain.ChangeCreate, domain.ChangeModify)
		if len(upserts) == 0 {
			continue
		}
		if err := a.applyBatch(ctx, runID, table, upserts, &result); err != nil {
			return result, err
		}
	}

	a.log.Info("change set applied",
		zap.String("run_id", runID.String()),
		zap.Int("created", result.Totals.Created),
		zap.Int("modified", result.Totals.Modified),
		zap.Int("removed", result.Totals.Removed),
	)

	return result, nil
}

// validate checks the whole change set against current production state
// before any mutation is attempted. Targets of REMOVE and MODIFY must still
// exist; targets of CREATE must not.
func (a *Applier) validate(ctx context.Context, changeSet *domain.ChangeSet) error {
	removedParents := map[string]map[string]bool{}
	for table, ops := range changeSet.Operations {
		if _, err := schema.Lookup(table); err != nil {
			return err
		}
		for _, op := range ops {
			if op.Kind == domain.ChangeRemove {
				if removedParents[table] == nil {
					removedParents[table] = map[string]bool{}
				}
				removedParents[table][op.EntityID] = true
			}
		}
	}

	for _, table := range schema.DependencyOrder() {
		spec, _ := schema.Lookup(table)
		for _, op := range changeSet.TableOperations(table) {
			exists, err := a.store.Exists(ctx, table, op.EntityID)
			if err != nil {
				return err
			}

			switch op.Kind {
			case domain.ChangeCreate:
				if exists {
					return fmt.Errorf("%w: %s %s already exists", domain.ErrDuplicateKey, table, op.EntityID)
				}
			case domain.ChangeModify, domain.ChangeRemove:
				if !exists {
					return fmt.Errorf("%w: %s %s no longer exists", domain.ErrStaleChangeSet, table, op.EntityID)
				}
			}

			// A child created against a parent that this same change set
			// removes will fail its batch later; surface it up front.
			if spec.Parent != "" && op.Kind == domain.ChangeCreate {
				if parentID, ok := op.Attributes[spec.ParentKey].(string); ok && removedParents[spec.Parent][parentID] {
					a.log.Warn("create references a parent removed in the same change set",
						zap.String("table", table),
						zap.String("entity_id", op.EntityID),
						zap.String("parent_id", parentID),
					)
				}
			}
		}
	}

	return nil
}

// applyBatch executes one table phase inside a single transaction.
func (a *Applier) applyBatch(ctx context.Context, runID uuid.UUID, table string, ops []domain.Operation, result *ApplyResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: before %s batch: %v", domain.ErrRunCancelled, table, err)
	}

	batch, err := a.store.Begin(ctx, runID)
	if err != nil {
		return err
	}

	var counts domain.OperationCounts
	for _, op := range ops {
		switch op.Kind {
		case domain.ChangeCreate:
			err = batch.Insert(ctx, table, op)
			counts.Created++
		case domain.ChangeModify:
			err = batch.Update(ctx, table, op)
			counts.Modified++
		case domain.ChangeRemove:
			err = batch.Delete(ctx, table, op.EntityID)
			counts.Removed++
		}
		if err != nil {
			if rbErr := batch.Rollback(ctx); rbErr != nil {
				a.log.Error("batch rollback failed", zap.String("table", table), zap.Error(rbErr))
			}
			return fmt.Errorf("apply failed on %s %s: %w", table, op.EntityID, err)
		}
	}

	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s batch: %w", table, err)
	}

	result.add(table, counts)

	a.log.Debug("table batch committed",
		zap.String("table", table),
		zap.Int("operations", len(ops)),
	)

	return nil
}

func filterOps(ops []domain.Operation, kinds ...domain.ChangeKind) []domain.Operation {
	var filtered []domain.Operation
	for _, op := range ops {
		for _, kind := range kinds {
			if op.Kind == kind {
				filtered = append(filtered, op)
				break
			}
		}
	}
	return filtered
}
