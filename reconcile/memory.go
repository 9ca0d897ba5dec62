package reconcile

import (
	"context"
	"sort"
	"sync"

	x402 "github.com/ticketchain/x402-tickets"
)

// MemoryStore is a process-local Store. Entries are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]x402.OrphanedSettlement
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]x402.OrphanedSettlement),
	}
}

// Record implements x402.ReconciliationRecorder
func (s *MemoryStore) Record(ctx context.Context, entry x402.OrphanedSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.ID] = entry
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]x402.OrphanedSettlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]x402.OrphanedSettlement, 0, len(s.entries))
	for _, entry := range s.entries {
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt == list[j].CreatedAt {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt < list[j].CreatedAt
	})
	return list, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*x402.OrphanedSettlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *MemoryStore) Resolve(ctx context.Context, id string) (*x402.OrphanedSettlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, id)
	return &entry, nil
}
