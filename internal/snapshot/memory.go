package snapshot

import (
	"context"
	"fmt"

	"logiesync/internal/domain"
)

// MemoryStore is an in-memory snapshot, used in tests and wherever a snapshot
// is assembled programmatically rather than read from a database.
type MemoryStore struct {
	tables map[string]map[string]map[string]any
	// FailTables forces Rows to fail for the named tables, simulating an
	// unreadable source.
	FailTables map[string]bool
}

// NewMemoryStore creates an empty in-memory snapshot.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:     map[string]map[string]map[string]any{},
		FailTables: map[string]bool{},
	}
}

// AddTable registers a table, empty until rows are put.
func (s *MemoryStore) AddTable(table string) {
	if _, ok := s.tables[table]; !ok {
		s.tables[table] = map[string]map[string]any{}
	}
}

// Put stores one row, creating the table if needed.
func (s *MemoryStore) Put(table, id string, attributes map[string]any) {
	s.AddTable(table)
	s.tables[table][id] = domain.CloneAttributes(attributes)
}

// Delete drops one row if present.
func (s *MemoryStore) Delete(table, id string) {
	if rows, ok := s.tables[table]; ok {
		delete(rows, id)
	}
}

// Tables lists the registered tables.
func (s *MemoryStore) Tables(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names, nil
}

// Rows returns a copy of one table's rows keyed by entity id.
func (s *MemoryStore) Rows(ctx context.Context, table string) (map[string]map[string]any, error) {
	if s.FailTables[table] {
		return nil, fmt.Errorf("%w: table %s unreadable", domain.ErrSourceUnavailable, table)
	}

	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: table %s not present in snapshot", domain.ErrSourceUnavailable, table)
	}

	result := make(map[string]map[string]any, len(rows))
	for id, attributes := range rows {
		result[id] = domain.CloneAttributes(attributes)
	}
	return result, nil
}
