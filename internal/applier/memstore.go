package applier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"logiesync/internal/domain"

	"github.com/google/uuid"
)

// CaptureFunc observes one committed mutation, mirroring what the Postgres
// capture triggers do: it runs as part of the batch commit and its records
// are discarded if the batch rolls back.
type CaptureFunc func(record domain.ChangeRecord)

// MemoryStore is an in-memory production store. It backs the engine-level
// tests and doubles as a snapshot.Store so detection can read post-apply
// state directly.
type MemoryStore struct {
	mu      sync.Mutex
	tables  map[string]map[string]map[string]any
	capture CaptureFunc
}

// NewMemoryStore creates an in-memory store over the given tables.
func NewMemoryStore(tables ...string) *MemoryStore {
	store := &MemoryStore{tables: map[string]map[string]map[string]any{}}
	for _, table := range tables {
		store.tables[table] = map[string]map[string]any{}
	}
	return store
}

// SetCapture installs the capture hook.
func (s *MemoryStore) SetCapture(capture CaptureFunc) {
	s.capture = capture
}

// Seed loads a row directly, bypassing batches and capture. Test setup only.
func (s *MemoryStore) Seed(table, id string, attributes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] == nil {
		s.tables[table] = map[string]map[string]any{}
	}
	s.tables[table][id] = domain.CloneAttributes(attributes)
}

// Exists implements Store.
func (s *MemoryStore) Exists(ctx context.Context, table, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table]
	if !ok {
		return false, nil
	}
	_, exists := rows[id]
	return exists, nil
}

// Begin implements Store. Mutations are staged and only become visible, and
// only reach the capture hook, when the batch commits.
func (s *MemoryStore) Begin(ctx context.Context, runID uuid.UUID) (Batch, error) {
	return &memBatch{store: s, runID: runID}, nil
}

// Tables implements snapshot.Store over current committed state.
func (s *MemoryStore) Tables(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names, nil
}

// Rows implements snapshot.Store over current committed state.
func (s *MemoryStore) Rows(ctx context.Context, table string) (map[string]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: table %s not present", domain.ErrSourceUnavailable, table)
	}
	result := make(map[string]map[string]any, len(rows))
	for id, attributes := range rows {
		result[id] = domain.CloneAttributes(attributes)
	}
	return result, nil
}

type memMutation struct {
	table string
	op    domain.Operation
}

type memBatch struct {
	store   *MemoryStore
	runID   uuid.UUID
	pending []memMutation
	closed  bool
}

func (b *memBatch) Insert(ctx context.Context, table string, op domain.Operation) error {
	b.pending = append(b.pending, memMutation{table: table, op: domain.Operation{
		EntityID:   op.EntityID,
		Kind:       domain.ChangeCreate,
		Attributes: domain.CloneAttributes(op.Attributes),
	}})
	return nil
}

func (b *memBatch) Update(ctx context.Context, table string, op domain.Operation) error {
	b.pending = append(b.pending, memMutation{table: table, op: domain.Operation{
		EntityID:   op.EntityID,
		Kind:       domain.ChangeModify,
		Attributes: domain.CloneAttributes(op.Attributes),
	}})
	return nil
}

func (b *memBatch) Delete(ctx context.Context, table, id string) error {
	b.pending = append(b.pending, memMutation{table: table, op: domain.Operation{
		EntityID: id,
		Kind:     domain.ChangeRemove,
	}})
	return nil
}

func (b *memBatch) Commit(ctx context.Context) error {
	if b.closed {
		return fmt.Errorf("batch already closed")
	}
	b.closed = true

	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range b.pending {
		if s.tables[m.table] == nil {
			s.tables[m.table] = map[string]map[string]any{}
		}
		rows := s.tables[m.table]

		var record domain.ChangeRecord
		switch m.op.Kind {
		case domain.ChangeCreate:
			if _, exists := rows[m.op.EntityID]; exists {
				return fmt.Errorf("%w: %s %s", domain.ErrDuplicateKey, m.table, m.op.EntityID)
			}
			rows[m.op.EntityID] = domain.CloneAttributes(m.op.Attributes)
			record = domain.ChangeRecord{
				Table:         m.table,
				EntityID:      m.op.EntityID,
				Operation:     domain.ChangeCreate,
				NewAttributes: domain.CloneAttributes(m.op.Attributes),
			}
		case domain.ChangeModify:
			old, exists := rows[m.op.EntityID]
			if !exists {
				return fmt.Errorf("%w: %s %s", domain.ErrStaleChangeSet, m.table, m.op.EntityID)
			}
			rows[m.op.EntityID] = domain.CloneAttributes(m.op.Attributes)
			record = domain.ChangeRecord{
				Table:         m.table,
				EntityID:      m.op.EntityID,
				Operation:     domain.ChangeModify,
				OldAttributes: old,
				NewAttributes: domain.CloneAttributes(m.op.Attributes),
			}
		case domain.ChangeRemove:
			old, exists := rows[m.op.EntityID]
			if !exists {
				return fmt.Errorf("%w: %s %s", domain.ErrStaleChangeSet, m.table, m.op.EntityID)
			}
			delete(rows, m.op.EntityID)
			record = domain.ChangeRecord{
				Table:         m.table,
				EntityID:      m.op.EntityID,
				Operation:     domain.ChangeRemove,
				OldAttributes: old,
			}
		}

		if s.capture != nil {
			record.ChangedAt = time.Now()
			if b.runID != uuid.Nil {
				runID := b.runID
				record.RunID = &runID
			}
			s.capture(record)
		}
	}

	return nil
}

func (b *memBatch) Rollback(ctx context.Context) error {
	b.closed = true
	b.pending = nil
	return nil
}
