package storage

import (
	"context"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
)

// Tx is the view of the account store inside one atomic unit of work.
// Records read through a Tx are locked for the remainder of the transaction.
type Tx interface {
	// GetLobbyist retrieves a lobbyist by address. Returns ErrNotFound if not exists.
	GetLobbyist(ctx context.Context, addr solana.Pubkey) (*domain.Lobbyist, error)

	// InsertLobbyist writes a lobbyist. Returns ErrDuplicateKey if addr is occupied.
	InsertLobbyist(ctx context.Context, addr solana.Pubkey, l *domain.Lobbyist) error

	// GetEscrow retrieves an escrow by address. Returns ErrNotFound if not exists.
	GetEscrow(ctx context.Context, addr solana.Pubkey) (*domain.Escrow, error)

	// InsertEscrow writes a new escrow. Returns ErrDuplicateKey if addr is occupied.
	InsertEscrow(ctx context.Context, addr solana.Pubkey, e *domain.Escrow) error

	// UpdateEscrow overwrites an existing escrow. Returns ErrNotFound if not exists.
	UpdateEscrow(ctx context.Context, addr solana.Pubkey, e *domain.Escrow) error

	// GetMint retrieves a mint. Returns ErrNotFound if not exists.
	GetMint(ctx context.Context, addr solana.Pubkey) (*domain.Mint, error)

	// PutMint creates or replaces a mint.
	PutMint(ctx context.Context, m *domain.Mint) error

	// GetTokenAccount retrieves a custody account. Returns ErrNotFound if not exists.
	GetTokenAccount(ctx context.Context, addr solana.Pubkey) (*domain.TokenAccount, error)

	// InsertTokenAccount creates a custody account. Returns ErrDuplicateKey if addr is occupied.
	InsertTokenAccount(ctx context.Context, a *domain.TokenAccount) error

	// UpdateTokenAccount overwrites a custody account. Returns ErrNotFound if not exists.
	UpdateTokenAccount(ctx context.Context, a *domain.TokenAccount) error
}

// AccountStore holds lobbyists, escrows, mints and custody accounts.
type AccountStore interface {
	// WithTx runs fn in a transaction. If fn returns an error every write
	// made through tx is discarded; otherwise all writes commit together.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetLobbyist retrieves a committed lobbyist. Returns ErrNotFound if not exists.
	GetLobbyist(ctx context.Context, addr solana.Pubkey) (*domain.Lobbyist, error)

	// GetEscrow retrieves a committed escrow. Returns ErrNotFound if not exists.
	GetEscrow(ctx context.Context, addr solana.Pubkey) (*domain.Escrow, error)

	// GetEscrowsByLobbyist retrieves all escrows under a lobbyist, ordered by address.
	GetEscrowsByLobbyist(ctx context.Context, lobbyist solana.Pubkey) ([]*domain.Escrow, error)

	// GetTokenAccount retrieves a committed custody account. Returns ErrNotFound if not exists.
	GetTokenAccount(ctx context.Context, addr solana.Pubkey) (*domain.TokenAccount, error)
}

// VenueStore holds the DAO, proposal and pool records supplied by governance and AMM collaborators.
type VenueStore interface {
	// PutDao creates or replaces a DAO record.
	PutDao(ctx context.Context, d *domain.Dao) error

	// GetDao retrieves a DAO. Returns ErrNotFound if not exists.
	GetDao(ctx context.Context, addr solana.Pubkey) (*domain.Dao, error)

	// PutProposal creates or replaces a proposal record.
	PutProposal(ctx context.Context, p *domain.Proposal) error

	// GetProposal retrieves a proposal. Returns ErrNotFound if not exists.
	GetProposal(ctx context.Context, addr solana.Pubkey) (*domain.Proposal, error)

	// PutPool creates or replaces a pool record, including its oracle snapshot.
	PutPool(ctx context.Context, p *domain.Pool) error

	// GetPool retrieves a pool. Returns ErrNotFound if not exists.
	GetPool(ctx context.Context, addr solana.Pubkey) (*domain.Pool, error)
}

// EventStore provides access to the append-only ledger journal.
type EventStore interface {
	// Insert appends an event. Returns ErrDuplicateKey if event_id exists.
	Insert(ctx context.Context, e *domain.LedgerEvent) error

	// GetByEscrow retrieves all events for an escrow, ordered by timestamp ASC.
	GetByEscrow(ctx context.Context, escrow solana.Pubkey) ([]*domain.LedgerEvent, error)

	// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.LedgerEvent, error)
}
