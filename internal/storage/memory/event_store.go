package memory

import (
	"context"
	"sort"
	"sync"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data []*domain.LedgerEvent
	keys map[string]bool // event_id
}

// NewEventStore creates a new in-memory ledger journal.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make([]*domain.LedgerEvent, 0),
		keys: make(map[string]bool),
	}
}

// Insert appends an event. Returns ErrDuplicateKey if event_id exists.
func (s *EventStore) Insert(_ context.Context, e *domain.LedgerEvent) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[e.EventID] {
		return storage.ErrDuplicateKey
	}

	eventCopy := *e
	s.data = append(s.data, &eventCopy)
	s.keys[e.EventID] = true
	return nil
}

// GetByEscrow retrieves all events for an escrow, ordered by timestamp ASC.
func (s *EventStore) GetByEscrow(_ context.Context, escrow solana.Pubkey) ([]*domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEvent
	for _, e := range s.data {
		if e.Escrow == escrow {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sortEvents(result)
	return result, nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
func (s *EventStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEvent
	for _, e := range s.data {
		if e.Timestamp >= start && e.Timestamp <= end {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sortEvents(result)
	return result, nil
}

// sortEvents orders by timestamp; insertion order breaks ties.
func sortEvents(events []*domain.LedgerEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}

var _ storage.EventStore = (*EventStore)(nil)
