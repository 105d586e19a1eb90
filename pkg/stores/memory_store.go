package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/convergehq/converge/pkg/engine"
)

// MemoryStore implements engine.StateStore in memory. Used by tests and for
// throwaway dry runs where persistence is unwanted.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*engine.Record
	events  []*EventRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*engine.Record),
	}
}

// Get retrieves the record for a resource identity.
func (s *MemoryStore) Get(_ context.Context, id engine.ResourceID) (*engine.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id.String()]
	if !exists {
		return nil, engine.NewNotFoundError(fmt.Sprintf("record not found: %s", id))
	}

	return record.Clone(), nil
}

// Put inserts or replaces the record for its resource identity.
func (s *MemoryStore) Put(_ context.Context, record *engine.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID.String()] = record.Clone()
	return nil
}

// Delete removes the record for a resource identity. Deleting an absent
// record succeeds.
func (s *MemoryStore) Delete(_ context.Context, id engine.ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id.String())
	return nil
}

// List returns a snapshot of all records ordered by identity.
func (s *MemoryStore) List(_ context.Context) ([]*engine.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*engine.Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID.String() < records[j].ID.String()
	})

	return records, nil
}

// AppendEvent appends an event to the in-memory history.
func (s *MemoryStore) AppendEvent(_ context.Context, event *EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = int64(len(s.events) + 1)
	s.events = append(s.events, event)
	return nil
}

// ListEvents retrieves event history, newest first.
func (s *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]*EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := []*EventRecord{}
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if filter.ResourceID != "" && event.ResourceID != filter.ResourceID {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		events = append(events, event)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}

	return events, nil
}
