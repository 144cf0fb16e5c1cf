package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
)

// AccountStore is an in-memory implementation of storage.AccountStore.
// Transactions are serialized: WithTx holds the store lock until fn returns,
// so fn must not call AccountStore methods directly.
type AccountStore struct {
	mu            sync.RWMutex
	lobbyists     map[solana.Pubkey]*domain.Lobbyist
	escrows       map[solana.Pubkey]*domain.Escrow
	mints         map[solana.Pubkey]*domain.Mint
	tokenAccounts map[solana.Pubkey]*domain.TokenAccount
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		lobbyists:     make(map[solana.Pubkey]*domain.Lobbyist),
		escrows:       make(map[solana.Pubkey]*domain.Escrow),
		mints:         make(map[solana.Pubkey]*domain.Mint),
		tokenAccounts: make(map[solana.Pubkey]*domain.TokenAccount),
	}
}

// WithTx runs fn against a staging view. Staged writes are applied only if fn succeeds.
func (s *AccountStore) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &accountTx{
		store:         s,
		lobbyists:     make(map[solana.Pubkey]*domain.Lobbyist),
		escrows:       make(map[solana.Pubkey]*domain.Escrow),
		mints:         make(map[solana.Pubkey]*domain.Mint),
		tokenAccounts: make(map[solana.Pubkey]*domain.TokenAccount),
	}
	defer func() { tx.done = true }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for k, v := range tx.lobbyists {
		s.lobbyists[k] = v
	}
	for k, v := range tx.escrows {
		s.escrows[k] = v
	}
	for k, v := range tx.mints {
		s.mints[k] = v
	}
	for k, v := range tx.tokenAccounts {
		s.tokenAccounts[k] = v
	}
	return nil
}

// GetLobbyist retrieves a committed lobbyist. Returns ErrNotFound if not exists.
func (s *AccountStore) GetLobbyist(_ context.Context, addr solana.Pubkey) (*domain.Lobbyist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.lobbyists[addr]
	if !exists {
		return nil, storage.ErrNotFound
	}
	lobbyistCopy := *l
	return &lobbyistCopy, nil
}

// GetEscrow retrieves a committed escrow. Returns ErrNotFound if not exists.
func (s *AccountStore) GetEscrow(_ context.Context, addr solana.Pubkey) (*domain.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.escrows[addr]
	if !exists {
		return nil, storage.ErrNotFound
	}
	escrowCopy := *e
	return &escrowCopy, nil
}

// GetEscrowsByLobbyist retrieves all escrows under a lobbyist, ordered by address.
func (s *AccountStore) GetEscrowsByLobbyist(_ context.Context, lobbyist solana.Pubkey) ([]*domain.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type keyed struct {
		addr   solana.Pubkey
		escrow *domain.Escrow
	}
	var matched []keyed
	for addr, e := range s.escrows {
		if e.Lobbyist == lobbyist {
			escrowCopy := *e
			matched = append(matched, keyed{addr: addr, escrow: &escrowCopy})
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return bytes.Compare(matched[i].addr[:], matched[j].addr[:]) < 0
	})

	result := make([]*domain.Escrow, len(matched))
	for i, m := range matched {
		result[i] = m.escrow
	}
	return result, nil
}

// GetTokenAccount retrieves a committed custody account. Returns ErrNotFound if not exists.
func (s *AccountStore) GetTokenAccount(_ context.Context, addr solana.Pubkey) (*domain.TokenAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.tokenAccounts[addr]
	if !exists {
		return nil, storage.ErrNotFound
	}
	accountCopy := *a
	return &accountCopy, nil
}

// accountTx stages writes on top of the committed maps.
// The store lock is held by WithTx for its whole lifetime.
type accountTx struct {
	store *AccountStore
	done  bool

	lobbyists     map[solana.Pubkey]*domain.Lobbyist
	escrows       map[solana.Pubkey]*domain.Escrow
	mints         map[solana.Pubkey]*domain.Mint
	tokenAccounts map[solana.Pubkey]*domain.TokenAccount
}

func (tx *accountTx) GetLobbyist(_ context.Context, addr solana.Pubkey) (*domain.Lobbyist, error) {
	if tx.done {
		return nil, storage.ErrTxDone
	}
	l, ok := lookup(tx.lobbyists, tx.store.lobbyists, addr)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return l, nil
}

func (tx *accountTx) InsertLobbyist(_ context.Context, addr solana.Pubkey, l *domain.Lobbyist) error {
	if tx.done {
		return storage.ErrTxDone
	}
	if l == nil || addr.IsZero() {
		return storage.ErrInvalidInput
	}
	if _, ok := lookup(tx.lobbyists, tx.store.lobbyists, addr); ok {
		return storage.ErrDuplicateKey
	}
	lobbyistCopy := *l
	tx.lobbyists[addr] = &lobbyistCopy
	return nil
}

func (tx *accountTx) GetEscrow(_ context.Context, addr solana.Pubkey) (*domain.Escrow, error) {
	if tx.done {
		return nil, storage.ErrTxDone
	}
	e, ok := lookup(tx.escrows, tx.store.escrows, addr)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

func (tx *accountTx) InsertEscrow(_ context.Context, addr solana.Pubkey, e *domain.Escrow) error {
	if tx.done {
		return storage.ErrTxDone
	}
	if e == nil || addr.IsZero() {
		return storage.ErrInvalidInput
	}
	if _, ok := lookup(tx.escrows, tx.store.escrows, addr); ok {
		return storage.ErrDuplicateKey
	}
	escrowCopy := *e
	tx.escrows[addr] = &escrowCopy
	return nil
}

func (tx *accountTx) UpdateEscrow(_ context.Context, addr solana.Pubkey, e *domain.Escrow) error {
	if tx.done {
		return storage.ErrTxDone
	}
	if e == nil {
		return storage.ErrInvalidInput
	}
	if _, ok := lookup(tx.escrows, tx.store.escrows, addr); !ok {
		return storage.ErrNotFound
	}
	escrowCopy := *e
	tx.escrows[addr] = &escrowCopy
	return nil
}

func (tx *accountTx) GetMint(_ context.Context, addr solana.Pubkey) (*domain.Mint, error) {
	if tx.done {
		return nil, storage.ErrTxDone
	}
	m, ok := lookup(tx.mints, tx.store.mints, addr)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m, nil
}

func (tx *accountTx) PutMint(_ context.Context, m *domain.Mint) error {
	if tx.done {
		return storage.ErrTxDone
	}
	if m == nil || m.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	mintCopy := *m
	tx.mints[m.Address] = &mintCopy
	return nil
}

func (tx *accountTx) GetTokenAccount(_ context.Context, addr solana.Pubkey) (*domain.TokenAccount, error) {
	if tx.done {
		return nil, storage.ErrTxDone
	}
	a, ok := lookup(tx.tokenAccounts, tx.store.tokenAccounts, addr)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return a, nil
}

func (tx *accountTx) InsertTokenAccount(_ context.Context, a *domain.TokenAccount) error {
	if tx.done {
		return storage.ErrTxDone
	}
	if a == nil || a.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	if _, ok := lookup(tx.tokenAccounts, tx.store.tokenAccounts, a.Address); ok {
		return storage.ErrDuplicateKey
	}
	accountCopy := *a
	tx.tokenAccounts[a.Address] = &accountCopy
	return nil
}

func (tx *accountTx) UpdateTokenAccount(_ context.Context, a *domain.TokenAccount) error {
	if tx.done {
		return storage.ErrTxDone
	}
	if a == nil {
		return storage.ErrInvalidInput
	}
	if _, ok := lookup(tx.tokenAccounts, tx.store.tokenAccounts, a.Address); !ok {
		return storage.ErrNotFound
	}
	accountCopy := *a
	tx.tokenAccounts[a.Address] = &accountCopy
	return nil
}

// lookup returns a copy of the staged value, falling back to the committed one.
func lookup[T any](staged, committed map[solana.Pubkey]*T, addr solana.Pubkey) (*T, bool) {
	v, ok := staged[addr]
	if !ok {
		v, ok = committed[addr]
	}
	if !ok {
		return nil, false
	}
	valueCopy := *v
	return &valueCopy, true
}

var (
	_ storage.AccountStore = (*AccountStore)(nil)
	_ storage.Tx           = (*accountTx)(nil)
)
