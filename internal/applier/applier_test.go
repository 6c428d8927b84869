package applier

import (
	"context"
	"errors"
	"testing"

	"logiesync/internal/detector"
	"logiesync/internal/domain"
	"logiesync/internal/snapshot"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newEngine(store *MemoryStore) (*detector.Detector, *Applier) {
	log := zap.NewNop()
	return detector.New(log), New(store, log)
}

func candidateFrom(rows map[string]map[string]map[string]any) *snapshot.MemoryStore {
	cand := snapshot.NewMemoryStore()
	for table, byID := range rows {
		cand.AddTable(table)
		for id, attrs := range byID {
			cand.Put(table, id, attrs)
		}
	}
	return cand
}

func storesEqual(t *testing.T, store *MemoryStore, cand *snapshot.MemoryStore, table string) {
	t.Helper()
	got, err := store.Rows(context.Background(), table)
	if err != nil {
		t.Fatalf("failed to read store table %s: %v", table, err)
	}
	want, err := cand.Rows(context.Background(), table)
	if err != nil {
		t.Fatalf("failed to read candidate table %s: %v", table, err)
	}
	if len(got) != len(want) {
		t.Fatalf("table %s: store has %d rows, candidate %d", table, len(got), len(want))
	}
	for id, wantAttrs := range want {
		gotAttrs, ok := got[id]
		if !ok {
			t.Fatalf("table %s: missing entity %s after apply", table, id)
		}
		if !domain.AttributesEqual(gotAttrs, wantAttrs) {
			t.Fatalf("table %s entity %s: attributes diverge: got %v want %v", table, id, gotAttrs, wantAttrs)
		}
	}
}

func TestApply_ReferenceScenario(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("logies")
	store.Seed("logies", "E1", map[string]any{"name": "Hotel A", "places": float64(4)})
	store.Seed("logies", "E3", map[string]any{"name": "Old Inn"})

	var records []domain.ChangeRecord
	store.SetCapture(func(r domain.ChangeRecord) { records = append(records, r) })

	cand := candidateFrom(map[string]map[string]map[string]any{
		"logies": {
			"E1": {"name": "Hotel A", "places": float64(6)},
			"E2": {"name": "Hotel B", "places": float64(2)},
		},
	})

	det, app := newEngine(store)
	changeSet, err := det.Detect(ctx, store, cand)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	runID := uuid.New()
	result, err := app.Apply(ctx, runID, changeSet, Commit)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if result.Totals.Created != 1 || result.Totals.Modified != 1 || result.Totals.Removed != 1 {
		t.Fatalf("expected counters {1,1,1}, got %+v", result.Totals)
	}

	storesEqual(t, store, cand, "logies")

	if len(records) != 3 {
		t.Fatalf("expected 3 change records, got %d", len(records))
	}
	for _, r := range records {
		if r.RunID == nil || *r.RunID != runID {
			t.Fatalf("change record %s %s not tagged with run id", r.EntityID, r.Operation)
		}
	}
}

func TestApply_ConvergenceAndIdempotence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("logies", "addresses")
	store.Seed("logies", "L1", map[string]any{"name": "Hotel A"})
	store.Seed("logies", "L2", map[string]any{"name": "Hostel B"})
	store.Seed("addresses", "A1", map[string]any{"logies_id": "L1", "street": "Zeedijk"})

	cand := candidateFrom(map[string]map[string]map[string]any{
		"logies": {
			"L1": {"name": "Hotel A Renamed"},
			"L3": {"name": "New Lodge"},
		},
		"addresses": {
			"A1": {"logies_id": "L1", "street": "Zeedijk 12"},
			"A2": {"logies_id": "L3", "street": "Kerkstraat 1"},
		},
	})

	det, app := newEngine(store)
	changeSet, err := det.Detect(ctx, store, cand)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if _, err := app.Apply(ctx, uuid.New(), changeSet, Commit); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	storesEqual(t, store, cand, "logies")
	storesEqual(t, store, cand, "addresses")

	// Detecting again against the converged store yields nothing to do.
	again, err := det.Detect(ctx, store, cand)
	if err != nil {
		t.Fatalf("second detect failed: %v", err)
	}
	if !again.Empty() {
		t.Fatalf("expected empty change set after convergence, got %+v", again.Operations)
	}
}

func TestApply_DryRunMutatesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("logies")
	store.Seed("logies", "E1", map[string]any{"name": "Hotel A", "places": float64(4)})
	store.Seed("logies", "E3", map[string]any{"name": "Old Inn"})

	var records []domain.ChangeRecord
	store.SetCapture(func(r domain.ChangeRecord) { records = append(records, r) })

	cand := candidateFrom(map[string]map[string]map[string]any{
		"logies": {
			"E1": {"name": "Hotel A", "places": float64(6)},
			"E2": {"name": "Hotel B", "places": float64(2)},
		},
	})

	det, app := newEngine(store)
	changeSet, err := det.Detect(ctx, store, cand)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	dry, err := app.Apply(ctx, uuid.New(), changeSet, DryRun)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	if len(records) != 0 {
		t.Fatalf("dry run must not capture change records, got %d", len(records))
	}
	rows, _ := store.Rows(ctx, "logies")
	if len(rows) != 2 || rows["E1"]["places"] != float64(4) {
		t.Fatalf("dry run mutated production state: %v", rows)
	}

	// Committing the identical change set produces the counters the dry run
	// reported.
	committed, err := app.Apply(ctx, uuid.New(), changeSet, Commit)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if dry.Totals != committed.Totals {
		t.Fatalf("dry-run totals %+v diverge from commit totals %+v", dry.Totals, committed.Totals)
	}
	for table, counts := range dry.Tables {
		if committed.Tables[table] != counts {
			t.Fatalf("table %s: dry-run %+v vs commit %+v", table, counts, committed.Tables[table])
		}
	}
}

func TestApply_ChildRemovePrecedesParentRemove(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("logies", "addresses")
	store.Seed("logies", "L1", map[string]any{"name": "Hotel A"})
	store.Seed("addresses", "A1", map[string]any{"logies_id": "L1", "street": "Zeedijk"})

	var sequence []string
	store.SetCapture(func(r domain.ChangeRecord) {
		sequence = append(sequence, r.Table+":"+string(r.Operation))
	})

	cand := candidateFrom(map[string]map[string]map[string]any{
		"logies":    {},
		"addresses": {},
	})

	det, app := newEngine(store)
	changeSet, err := det.Detect(ctx, store, cand)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if _, err := app.Apply(ctx, uuid.New(), changeSet, Commit); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if len(sequence) != 2 {
		t.Fatalf("expected 2 captured mutations, got %v", sequence)
	}
	if sequence[0] != "addresses:REMOVE" || sequence[1] != "logies:REMOVE" {
		t.Fatalf("child remove must commit before parent remove, got %v", sequence)
	}
}

func TestApply_ParentCreatePrecedesChildCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("logies", "addresses")

	var sequence []string
	store.SetCapture(func(r domain.ChangeRecord) {
		sequence = append(sequence, r.Table+":"+string(r.Operation))
	})

	cand := candidateFrom(map[string]map[string]map[string]any{
		"logies":    {"L1": {"name": "Hotel A"}},
		"addresses": {"A1": {"logies_id": "L1", "street": "Zeedijk"}},
	})

	det, app := newEngine(store)
	changeSet, err := det.Detect(ctx, store, cand)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if _, err := app.Apply(ctx, uuid.New(), changeSet, Commit); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if len(sequence) != 2 || sequence[0] != "logies:CREATE" || sequence[1] != "addresses:CREATE" {
		t.Fatalf("parent create must commit before child create, got %v", sequence)
	}
}

func TestApply_StaleChangeSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("logies")

	var records []domain.ChangeRecord
	store.SetCapture(func(r domain.ChangeRecord) { records = append(records, r) })

	changeSet := domain.NewChangeSet()
	changeSet.Add("logies", domain.Operation{EntityID: "GONE", Kind: domain.ChangeRemove})

	_, app := newEngine(store)
	_, err := app.Apply(ctx, uuid.New(), changeSet, Commit)
	if !errors.Is(err, domain.ErrStaleChangeSet) {
		t.Fatalf("expected ErrStaleChangeSet, got %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("validation failure must not mutate anything")
	}
}

func TestApply_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("logies")
	store.Seed("logies", "E1", map[string]any{"name": "Hotel A"})

	changeSet := domain.NewChangeSet()
	changeSet.Add("logies", domain.Operation{
		EntityID:   "E1",
		Kind:       domain.ChangeCreate,
		Attributes: map[string]any{"name": "Hotel A"},
	})

	_, app := newEngine(store)
	_, err := app.Apply(ctx, uuid.New(), changeSet, Commit)
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestApply_UntrackedTableRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("logies")

	changeSet := domain.NewChangeSet()
	changeSet.Add("bookings", domain.Operation{
		EntityID:   "B1",
		Kind:       domain.ChangeCreate,
		Attributes: map[string]any{},
	})

	_, app := newEngine(store)
	if _, err := app.Apply(ctx, uuid.New(), changeSet, Commit); err == nil {
		t.Fatalf("expected error for untracked table")
	}
}

func TestApply_CancelledBetweenBatches(t *testing.T) {
	store := NewMemoryStore("logies")
	store.Seed("logies", "E1", map[string]any{"name": "Hotel A"})

	changeSet := domain.NewChangeSet()
	changeSet.Add("logies", domain.Operation{EntityID: "E1", Kind: domain.ChangeRemove})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, app := newEngine(store)
	result, err := app.Apply(ctx, uuid.New(), changeSet, Commit)
	if !errors.Is(err, domain.ErrRunCancelled) {
		t.Fatalf("expected ErrRunCancelled, got %v", err)
	}
	if result.Totals.Total() != 0 {
		t.Fatalf("cancellation before the first batch must apply nothing, got %+v", result.Totals)
	}

	rows, _ := store.Rows(context.Background(), "logies")
	if _, ok := rows["E1"]; !ok {
		t.Fatalf("cancelled run must leave production untouched")
	}
}

func TestMemoryStore_UntaggedMutationsHaveNilRunID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("logies")

	var records []domain.ChangeRecord
	store.SetCapture(func(r domain.ChangeRecord) { records = append(records, r) })

	batch, err := store.Begin(ctx, uuid.Nil)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := batch.Insert(ctx, "logies", domain.Operation{
		EntityID:   "MANUAL",
		Kind:       domain.ChangeCreate,
		Attributes: map[string]any{"name": "Hand-edited"},
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := batch.Commit(ctx); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("expected 1 change record, got %d", len(records))
	}
	if records[0].RunID != nil {
		t.Fatalf("mutation outside a run must carry a nil run id")
	}
}
