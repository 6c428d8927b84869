// Package update orchestrates reconciliation runs: detect changes between the
// candidate and production snapshots, apply them under a run, and drive the
// run record to a terminal status.
package update

import (
	"context"
	"errors"
	"fmt"

	"logiesync/internal/applier"
	"logiesync/internal/domain"
	"logiesync/internal/run"
	"logiesync/internal/snapshot"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunManager is the run lifecycle surface the service drives.
type RunManager interface {
	Start(ctx context.Context, source domain.SourceDescriptor) (domain.Run, error)
	Finish(ctx context.Context, runID uuid.UUID, status domain.RunStatus, errorMessage string) (domain.Run, error)
	Get(ctx context.Context, runID uuid.UUID) (domain.Run, error)
	Recent(ctx context.Context, limit int) ([]domain.Run, error)
}

// Detector computes the change set between two snapshots.
type Detector interface {
	Detect(ctx context.Context, reference, candidate snapshot.Store) (*domain.ChangeSet, error)
}

// Applier validates and applies a change set.
type Applier interface {
	Apply(ctx context.Context, runID uuid.UUID, changeSet *domain.ChangeSet, mode applier.Mode) (applier.ApplyResult, error)
}

// ReconcileResult is the outcome of one reconciliation attempt.
type ReconcileResult struct {
	Run     domain.Run          `json:"run"`
	Applied applier.ApplyResult `json:"applied"`
}

// Service wires detection, application and run lifecycle into single
// operations.
type Service struct {
	runs      RunManager
	detector  Detector
	applier   Applier
	reference snapshot.Store
	candidate snapshot.Store
	log       *zap.Logger
}

// NewService creates the orchestrator. reference reads production state,
// candidate reads the staged snapshot to reconcile towards.
func NewService(runs RunManager, detector Detector, app Applier, reference, candidate snapshot.Store, log *zap.Logger) *Service {
	return &Service{
		runs:      runs,
		detector:  detector,
		applier:   app,
		reference: reference,
		candidate: candidate,
		log:       log,
	}
}

// StartRun opens a run record for a new reconciliation attempt.
func (s *Service) StartRun(ctx context.Context, source domain.SourceDescriptor) (domain.Run, error) {
	return s.runs.Start(ctx, source)
}

// DetectChanges diffs the candidate snapshot against production. Read-only;
// no run is needed.
func (s *Service) DetectChanges(ctx context.Context) (*domain.ChangeSet, error) {
	return s.detector.Detect(ctx, s.reference, s.candidate)
}

// ApplyChanges applies a change set under an open run.
func (s *Service) ApplyChanges(ctx context.Context, runID uuid.UUID, changeSet *domain.ChangeSet, mode applier.Mode) (applier.ApplyResult, error) {
	return s.applier.Apply(ctx, runID, changeSet, mode)
}

// FinishRun closes a run with a terminal status.
func (s *Service) FinishRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, errorMessage string) (domain.Run, error) {
	return s.runs.Finish(ctx, runID, status, errorMessage)
}

// GetRun loads one run.
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (domain.Run, error) {
	return s.runs.Get(ctx, runID)
}

// RecentRuns lists the most recently started runs.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	return s.runs.Recent(ctx, limit)
}

// Reconcile runs the full pipeline: start a run, detect, apply, finish. Every
// outcome closes the run record exactly once: COMPLETED on success, CANCELLED
// when the context was cancelled mid-apply, FAILED on anything else. Detect
// and apply failures never leave a run dangling in RUNNING.
func (s *Service) Reconcile(ctx context.Context, source domain.SourceDescriptor, mode applier.Mode) (ReconcileResult, error) {
	started, err := s.runs.Start(ctx, source)
	if err != nil {
		return ReconcileResult{}, err
	}
	ctx = run.ContextWithRunID(ctx, started.ID)

	changeSet, err := s.detector.Detect(ctx, s.reference, s.candidate)
	if err != nil {
		return s.finishAfterError(ctx, started.ID, fmt.Errorf("detection failed: %w", err))
	}

	applied, err := s.applier.Apply(ctx, started.ID, changeSet, mode)
	if err != nil {
		return s.finishAfterError(ctx, started.ID, err)
	}

	finished, err := s.runs.Finish(ctx, started.ID, domain.RunCompleted, "")
	if err != nil {
		return ReconcileResult{}, err
	}

	s.log.Info("reconciliation finished",
		zap.String("run_id", finished.ID.String()),
		zap.String("mode", string(mode)),
		zap.Int("created", applied.Totals.Created),
		zap.Int("modified", applied.Totals.Modified),
		zap.Int("removed", applied.Totals.Removed),
	)

	return ReconcileResult{Run: finished, Applied: applied}, nil
}

// finishAfterError closes the run record for a failed or cancelled attempt.
// The incoming context may already be cancelled, which must not stop the run
// from being closed.
func (s *Service) finishAfterError(ctx context.Context, runID uuid.UUID, cause error) (ReconcileResult, error) {
	status := domain.RunFailed
	if errors.Is(cause, domain.ErrRunCancelled) || errors.Is(cause, context.Canceled) {
		status = domain.RunCancelled
	}

	closeCtx := context.WithoutCancel(ctx)
	finished, finishErr := s.runs.Finish(closeCtx, runID, status, cause.Error())
	if finishErr != nil {
		s.log.Error("failed to close run after error",
			zap.String("run_id", runID.String()),
			zap.Error(finishErr),
		)
		return ReconcileResult{}, cause
	}

	s.log.Warn("reconciliation did not complete",
		zap.String("run_id", runID.String()),
		zap.String("status", string(finished.Status)),
		zap.Error(cause),
	)

	return ReconcileResult{Run: finished}, cause
}
