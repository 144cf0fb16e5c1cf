package memory

import (
	"context"
	"sync"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
)

// VenueStore is an in-memory implementation of storage.VenueStore.
type VenueStore struct {
	mu        sync.RWMutex
	daos      map[solana.Pubkey]*domain.Dao
	proposals map[solana.Pubkey]*domain.Proposal
	pools     map[solana.Pubkey]*domain.Pool
}

// NewVenueStore creates a new in-memory venue store.
func NewVenueStore() *VenueStore {
	return &VenueStore{
		daos:      make(map[solana.Pubkey]*domain.Dao),
		proposals: make(map[solana.Pubkey]*domain.Proposal),
		pools:     make(map[solana.Pubkey]*domain.Pool),
	}
}

// PutDao creates or replaces a DAO record.
func (s *VenueStore) PutDao(_ context.Context, d *domain.Dao) error {
	if d == nil || d.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	daoCopy := *d
	s.daos[d.Address] = &daoCopy
	return nil
}

// GetDao retrieves a DAO. Returns ErrNotFound if not exists.
func (s *VenueStore) GetDao(_ context.Context, addr solana.Pubkey) (*domain.Dao, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.daos[addr]
	if !exists {
		return nil, storage.ErrNotFound
	}
	daoCopy := *d
	return &daoCopy, nil
}

// PutProposal creates or replaces a proposal record.
func (s *VenueStore) PutProposal(_ context.Context, p *domain.Proposal) error {
	if p == nil || p.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proposalCopy := *p
	s.proposals[p.Address] = &proposalCopy
	return nil
}

// GetProposal retrieves a proposal. Returns ErrNotFound if not exists.
func (s *VenueStore) GetProposal(_ context.Context, addr solana.Pubkey) (*domain.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.proposals[addr]
	if !exists {
		return nil, storage.ErrNotFound
	}
	proposalCopy := *p
	return &proposalCopy, nil
}

// PutPool creates or replaces a pool record.
func (s *VenueStore) PutPool(_ context.Context, p *domain.Pool) error {
	if p == nil || p.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	poolCopy := *p
	s.pools[p.Address] = &poolCopy
	return nil
}

// GetPool retrieves a pool. Returns ErrNotFound if not exists.
func (s *VenueStore) GetPool(_ context.Context, addr solana.Pubkey) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.pools[addr]
	if !exists {
		return nil, storage.ErrNotFound
	}
	poolCopy := *p
	return &poolCopy, nil
}

var _ storage.VenueStore = (*VenueStore)(nil)
