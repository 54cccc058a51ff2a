package store

import (
	"context"
	"maps"
	"sync"

	appErrors "github.com/unclebandit/outreach-delivery/internal/errors"
)

// MemoryStore keeps tables in process memory. Used by tests and local dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
	errs   map[string]error
	reads  map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string][]Row),
		errs:   make(map[string]error),
		reads:  make(map[string]int),
	}
}

// SetError makes every operation on table fail with err until cleared with nil.
func (s *MemoryStore) SetError(table string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, table)
		return
	}
	s.errs[table] = err
}

// Reads returns how many times table was read.
func (s *MemoryStore) Reads(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[table]
}

func (s *MemoryStore) ReadTable(_ context.Context, table string, filters ...Filter) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[table]++
	if err := s.errs[table]; err != nil {
		return nil, appErrors.NewStoreUnavailable("read", table, err)
	}

	out := []Row{}
	for _, row := range s.tables[table] {
		if Match(row, filters) {
			out = append(out, maps.Clone(row))
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateRow(_ context.Context, table, keyColumn string, keyValue any, patch Row) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[table]; err != nil {
		return false, appErrors.NewStoreUnavailable("update", table, err)
	}

	key := stringify(keyValue)
	for _, row := range s.tables[table] {
		if String(row, keyColumn) == key {
			maps.Copy(row, patch)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) AppendRows(_ context.Context, table string, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[table]; err != nil {
		return appErrors.NewStoreUnavailable("append", table, err)
	}

	for _, row := range rows {
		s.tables[table] = append(s.tables[table], maps.Clone(row))
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
