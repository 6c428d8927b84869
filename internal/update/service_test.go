package update

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"logiesync/internal/applier"
	"logiesync/internal/detector"
	"logiesync/internal/domain"
	"logiesync/internal/snapshot"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakeRuns struct {
	mu          sync.Mutex
	runs        map[uuid.UUID]*domain.Run
	finishCalls int
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: map[uuid.UUID]*domain.Run{}}
}

func (f *fakeRuns) Start(ctx context.Context, source domain.SourceDescriptor) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := domain.Run{ID: uuid.New(), Status: domain.RunRunning, Source: source}
	f.runs[run.ID] = &run
	return run, nil
}

func (f *fakeRuns) Finish(ctx context.Context, runID uuid.UUID, status domain.RunStatus, errorMessage string) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishCalls++
	run, ok := f.runs[runID]
	if !ok || run.Status != domain.RunRunning {
		return domain.Run{}, fmt.Errorf("%w: run %s", domain.ErrRunAlreadyClosed, runID)
	}
	run.Status = status
	run.ErrorMessage = errorMessage
	return *run, nil
}

func (f *fakeRuns) Get(ctx context.Context, runID uuid.UUID) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return domain.Run{}, fmt.Errorf("run %s not found", runID)
	}
	return *run, nil
}

func (f *fakeRuns) Recent(ctx context.Context, limit int) ([]domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Run
	for _, run := range f.runs {
		out = append(out, *run)
	}
	return out, nil
}

func newTestService(store *applier.MemoryStore, candidate snapshot.Store) (*Service, *fakeRuns) {
	log := zap.NewNop()
	runs := newFakeRuns()
	service := NewService(runs, detector.New(log), applier.New(store, log), store, candidate, log)
	return service, runs
}

func TestReconcile_CompletesRun(t *testing.T) {
	store := applier.NewMemoryStore("logies")
	store.Seed("logies", "E1", map[string]any{"name": "Hotel A", "places": float64(4)})
	store.Seed("logies", "E3", map[string]any{"name": "Old Inn"})

	candidate := snapshot.NewMemoryStore()
	candidate.AddTable("logies")
	candidate.Put("logies", "E1", map[string]any{"name": "Hotel A", "places": float64(6)})
	candidate.Put("logies", "E2", map[string]any{"name": "Hotel B"})

	service, runs := newTestService(store, candidate)

	result, err := service.Reconcile(context.Background(),
		domain.SourceDescriptor{URL: "https://example.com/snapshot.ttl"}, applier.Commit)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if result.Run.Status != domain.RunCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Run.Status)
	}
	if result.Applied.Totals.Created != 1 || result.Applied.Totals.Modified != 1 || result.Applied.Totals.Removed != 1 {
		t.Fatalf("unexpected totals %+v", result.Applied.Totals)
	}
	if runs.finishCalls != 1 {
		t.Fatalf("run must be finished exactly once, got %d", runs.finishCalls)
	}
}

func TestReconcile_DetectionFailureFailsRun(t *testing.T) {
	store := applier.NewMemoryStore("logies")
	store.Seed("logies", "E1", map[string]any{"name": "Hotel A"})

	candidate := snapshot.NewMemoryStore()
	candidate.AddTable("logies")
	candidate.FailTables["logies"] = true

	service, runs := newTestService(store, candidate)

	result, err := service.Reconcile(context.Background(), domain.SourceDescriptor{}, applier.Commit)
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if result.Run.Status != domain.RunFailed {
		t.Fatalf("expected FAILED run, got %s", result.Run.Status)
	}
	if result.Run.ErrorMessage == "" {
		t.Fatalf("failed run must carry an error message")
	}
	if runs.finishCalls != 1 {
		t.Fatalf("run must be finished exactly once, got %d", runs.finishCalls)
	}
}

func TestReconcile_CancellationCancelsRun(t *testing.T) {
	store := applier.NewMemoryStore("logies")
	store.Seed("logies", "E1", map[string]any{"name": "Hotel A"})

	candidate := snapshot.NewMemoryStore()
	candidate.AddTable("logies")

	service, _ := newTestService(store, candidate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := service.Reconcile(ctx, domain.SourceDescriptor{}, applier.Commit)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if result.Run.Status != domain.RunCancelled {
		t.Fatalf("expected CANCELLED run, got %s", result.Run.Status)
	}

	rows, _ := store.Rows(context.Background(), "logies")
	if _, ok := rows["E1"]; !ok {
		t.Fatalf("cancelled reconcile must not mutate production")
	}
}

func TestReconcile_DryRunCompletesWithoutMutation(t *testing.T) {
	store := applier.NewMemoryStore("logies")
	store.Seed("logies", "E1", map[string]any{"name": "Hotel A"})

	candidate := snapshot.NewMemoryStore()
	candidate.AddTable("logies")
	candidate.Put("logies", "E2", map[string]any{"name": "Hotel B"})

	service, _ := newTestService(store, candidate)

	result, err := service.Reconcile(context.Background(), domain.SourceDescriptor{}, applier.DryRun)
	if err != nil {
		t.Fatalf("dry-run reconcile failed: %v", err)
	}
	if result.Run.Status != domain.RunCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Run.Status)
	}
	if result.Applied.Totals.Created != 1 || result.Applied.Totals.Removed != 1 {
		t.Fatalf("unexpected dry-run totals %+v", result.Applied.Totals)
	}

	rows, _ := store.Rows(context.Background(), "logies")
	if len(rows) != 1 {
		t.Fatalf("dry run mutated production: %v", rows)
	}
}

func TestFinishRun_SecondCloseRejected(t *testing.T) {
	store := applier.NewMemoryStore("logies")
	candidate := snapshot.NewMemoryStore()
	candidate.AddTable("logies")

	service, _ := newTestService(store, candidate)

	started, err := service.StartRun(context.Background(), domain.SourceDescriptor{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := service.FinishRun(context.Background(), started.ID, domain.RunCompleted, ""); err != nil {
		t.Fatalf("first finish failed: %v", err)
	}

	_, err = service.FinishRun(context.Background(), started.ID, domain.RunFailed, "late")
	if !errors.Is(err, domain.ErrRunAlreadyClosed) {
		t.Fatalf("expected ErrRunAlreadyClosed, got %v", err)
	}
}
