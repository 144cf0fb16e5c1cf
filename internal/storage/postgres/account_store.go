package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/layout"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
)

// AccountStore implements storage.AccountStore using PostgreSQL.
// Lobbyist and escrow rows carry the fixed-layout record in data.
type AccountStore struct {
	pool  *Pool
	codec *layout.Codec
}

// NewAccountStore creates a new AccountStore for the codec's schema variant.
func NewAccountStore(pool *Pool, codec *layout.Codec) *AccountStore {
	return &AccountStore{pool: pool, codec: codec}
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

// WithTx runs fn inside a database transaction. Rows read through tx are
// locked with SELECT ... FOR UPDATE until commit or rollback.
func (s *AccountStore) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgTx.Rollback(ctx)

	tx := &accountTx{tx: pgTx, codec: s.codec}
	if err := fn(tx); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetLobbyist retrieves a committed lobbyist. Returns ErrNotFound if not exists.
func (s *AccountStore) GetLobbyist(ctx context.Context, addr solana.Pubkey) (*domain.Lobbyist, error) {
	return getLobbyist(ctx, s.pool, s.codec, addr, "")
}

// GetEscrow retrieves a committed escrow. Returns ErrNotFound if not exists.
func (s *AccountStore) GetEscrow(ctx context.Context, addr solana.Pubkey) (*domain.Escrow, error) {
	return getEscrow(ctx, s.pool, s.codec, addr, "")
}

// GetEscrowsByLobbyist retrieves all escrows under a lobbyist, ordered by address.
func (s *AccountStore) GetEscrowsByLobbyist(ctx context.Context, lobbyist solana.Pubkey) ([]*domain.Escrow, error) {
	query := `
		SELECT data
		FROM escrows
		WHERE lobbyist = $1
		ORDER BY address ASC
	`

	rows, err := s.pool.Query(ctx, query, lobbyist.String())
	if err != nil {
		return nil, fmt.Errorf("get escrows by lobbyist: %w", err)
	}
	defer rows.Close()

	var escrows []*domain.Escrow
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan escrow row: %w", err)
		}
		e, err := s.codec.DecodeEscrow(data)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrow rows: %w", err)
	}

	return escrows, nil
}

// GetTokenAccount retrieves a committed custody account. Returns ErrNotFound if not exists.
func (s *AccountStore) GetTokenAccount(ctx context.Context, addr solana.Pubkey) (*domain.TokenAccount, error) {
	return getTokenAccount(ctx, s.pool, addr, "")
}

// querier is satisfied by both *Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// accountTx implements storage.Tx over a pgx transaction.
type accountTx struct {
	tx    pgx.Tx
	codec *layout.Codec
}

func (t *accountTx) GetLobbyist(ctx context.Context, addr solana.Pubkey) (*domain.Lobbyist, error) {
	return getLobbyist(ctx, t.tx, t.codec, addr, "FOR UPDATE")
}

func (t *accountTx) InsertLobbyist(ctx context.Context, addr solana.Pubkey, l *domain.Lobbyist) error {
	if l == nil || addr.IsZero() {
		return storage.ErrInvalidInput
	}

	data, err := t.codec.EncodeLobbyist(l)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO lobbyists (address, dao, variant, data)
		VALUES ($1, $2, $3, $4)
	`

	_, err = t.tx.Exec(ctx, query, addr.String(), l.Dao.String(), int16(l.Variant), data)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert lobbyist: %w", err)
	}
	return nil
}

func (t *accountTx) GetEscrow(ctx context.Context, addr solana.Pubkey) (*domain.Escrow, error) {
	return getEscrow(ctx, t.tx, t.codec, addr, "FOR UPDATE")
}

func (t *accountTx) InsertEscrow(ctx context.Context, addr solana.Pubkey, e *domain.Escrow) error {
	if e == nil || addr.IsZero() {
		return storage.ErrInvalidInput
	}

	data, err := t.codec.EncodeEscrow(e)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO escrows (address, lobbyist, depositor, data)
		VALUES ($1, $2, $3, $4)
	`

	_, err = t.tx.Exec(ctx, query, addr.String(), e.Lobbyist.String(), e.Depositor.String(), data)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func (t *accountTx) UpdateEscrow(ctx context.Context, addr solana.Pubkey, e *domain.Escrow) error {
	if e == nil {
		return storage.ErrInvalidInput
	}

	data, err := t.codec.EncodeEscrow(e)
	if err != nil {
		return err
	}

	query := `
		UPDATE escrows
		SET data = $2, updated_at = now()
		WHERE address = $1
	`

	tag, err := t.tx.Exec(ctx, query, addr.String(), data)
	if err != nil {
		return fmt.Errorf("update escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetMint locks the mint row so supply changes from concurrent
// transactions apply one after another.
func (t *accountTx) GetMint(ctx context.Context, addr solana.Pubkey) (*domain.Mint, error) {
	query := `
		SELECT decimals, supply
		FROM mints
		WHERE address = $1
		FOR UPDATE
	`

	var (
		decimals int16
		supply   amount
	)
	err := t.tx.QueryRow(ctx, query, addr.String()).Scan(&decimals, &supply)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mint: %w", err)
	}

	return &domain.Mint{Address: addr, Decimals: uint8(decimals), Supply: supply.Uint64()}, nil
}

func (t *accountTx) PutMint(ctx context.Context, m *domain.Mint) error {
	if m == nil || m.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO mints (address, decimals, supply)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET
			decimals = EXCLUDED.decimals,
			supply = EXCLUDED.supply
	`

	_, err := t.tx.Exec(ctx, query, m.Address.String(), int16(m.Decimals), newAmount(m.Supply))
	if err != nil {
		return fmt.Errorf("put mint: %w", err)
	}
	return nil
}

func (t *accountTx) GetTokenAccount(ctx context.Context, addr solana.Pubkey) (*domain.TokenAccount, error) {
	return getTokenAccount(ctx, t.tx, addr, "FOR UPDATE")
}

func (t *accountTx) InsertTokenAccount(ctx context.Context, a *domain.TokenAccount) error {
	if a == nil || a.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token_accounts (address, mint, owner, amount)
		VALUES ($1, $2, $3, $4)
	`

	_, err := t.tx.Exec(ctx, query, a.Address.String(), a.Mint.String(), a.Owner.String(), newAmount(a.Amount))
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token account: %w", err)
	}
	return nil
}

func (t *accountTx) UpdateTokenAccount(ctx context.Context, a *domain.TokenAccount) error {
	if a == nil {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE token_accounts
		SET amount = $2, updated_at = now()
		WHERE address = $1
	`

	tag, err := t.tx.Exec(ctx, query, a.Address.String(), newAmount(a.Amount))
	if err != nil {
		return fmt.Errorf("update token account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func getLobbyist(ctx context.Context, q querier, codec *layout.Codec, addr solana.Pubkey, lock string) (*domain.Lobbyist, error) {
	query := `SELECT data FROM lobbyists WHERE address = $1 ` + lock

	var data []byte
	if err := q.QueryRow(ctx, query, addr.String()).Scan(&data); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get lobbyist: %w", err)
	}
	return codec.DecodeLobbyist(data)
}

func getEscrow(ctx context.Context, q querier, codec *layout.Codec, addr solana.Pubkey, lock string) (*domain.Escrow, error) {
	query := `SELECT data FROM escrows WHERE address = $1 ` + lock

	var data []byte
	if err := q.QueryRow(ctx, query, addr.String()).Scan(&data); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get escrow: %w", err)
	}
	return codec.DecodeEscrow(data)
}

func getTokenAccount(ctx context.Context, q querier, addr solana.Pubkey, lock string) (*domain.TokenAccount, error) {
	query := `SELECT mint, owner, amount FROM token_accounts WHERE address = $1 ` + lock

	var (
		mint, owner string
		amt         amount
	)
	if err := q.QueryRow(ctx, query, addr.String()).Scan(&mint, &owner, &amt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token account: %w", err)
	}

	a := &domain.TokenAccount{Address: addr, Amount: amt.Uint64()}
	var err error
	if a.Mint, err = solana.ParsePubkey(mint); err != nil {
		return nil, fmt.Errorf("parse token account mint: %w", err)
	}
	if a.Owner, err = solana.ParsePubkey(owner); err != nil {
		return nil, fmt.Errorf("parse token account owner: %w", err)
	}
	return a, nil
}
