package postgres

import (
	"context"
	"fmt"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/layout"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
)

// VenueStore implements storage.VenueStore using PostgreSQL.
type VenueStore struct {
	pool *Pool
}

// NewVenueStore creates a new VenueStore.
func NewVenueStore(pool *Pool) *VenueStore {
	return &VenueStore{pool: pool}
}

// Compile-time interface check.
var _ storage.VenueStore = (*VenueStore)(nil)

// PutDao creates or replaces a DAO record.
func (s *VenueStore) PutDao(ctx context.Context, d *domain.Dao) error {
	if d == nil || d.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO daos (address, base_mint, quote_mint, spot_pool)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			base_mint = EXCLUDED.base_mint,
			quote_mint = EXCLUDED.quote_mint,
			spot_pool = EXCLUDED.spot_pool
	`

	_, err := s.pool.Exec(ctx, query,
		d.Address.String(), d.BaseMint.String(), d.QuoteMint.String(), d.SpotPool.String())
	if err != nil {
		return fmt.Errorf("put dao: %w", err)
	}
	return nil
}

// GetDao retrieves a DAO. Returns ErrNotFound if not exists.
func (s *VenueStore) GetDao(ctx context.Context, addr solana.Pubkey) (*domain.Dao, error) {
	query := `
		SELECT base_mint, quote_mint, spot_pool
		FROM daos
		WHERE address = $1
	`

	var baseMint, quoteMint, spotPool string
	err := s.pool.QueryRow(ctx, query, addr.String()).Scan(&baseMint, &quoteMint, &spotPool)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get dao: %w", err)
	}

	d := &domain.Dao{Address: addr}
	if err := parsePubkeys(
		[]string{baseMint, quoteMint, spotPool},
		[]*solana.Pubkey{&d.BaseMint, &d.QuoteMint, &d.SpotPool},
	); err != nil {
		return nil, fmt.Errorf("get dao: %w", err)
	}
	return d, nil
}

// PutProposal creates or replaces a proposal record.
func (s *VenueStore) PutProposal(ctx context.Context, p *domain.Proposal) error {
	if p == nil || p.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO proposals (address, dao, state, pass_pool, fail_pool)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			dao = EXCLUDED.dao,
			state = EXCLUDED.state,
			pass_pool = EXCLUDED.pass_pool,
			fail_pool = EXCLUDED.fail_pool
	`

	_, err := s.pool.Exec(ctx, query,
		p.Address.String(), p.Dao.String(), string(p.State), p.PassPool.String(), p.FailPool.String())
	if err != nil {
		return fmt.Errorf("put proposal: %w", err)
	}
	return nil
}

// GetProposal retrieves a proposal. Returns ErrNotFound if not exists.
func (s *VenueStore) GetProposal(ctx context.Context, addr solana.Pubkey) (*domain.Proposal, error) {
	query := `
		SELECT dao, state, pass_pool, fail_pool
		FROM proposals
		WHERE address = $1
	`

	var dao, state, passPool, failPool string
	err := s.pool.QueryRow(ctx, query, addr.String()).Scan(&dao, &state, &passPool, &failPool)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}

	p := &domain.Proposal{Address: addr, State: domain.ProposalState(state)}
	if err := parsePubkeys(
		[]string{dao, passPool, failPool},
		[]*solana.Pubkey{&p.Dao, &p.PassPool, &p.FailPool},
	); err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// PutPool creates or replaces a pool record. The oracle snapshot is stored in its on-chain layout.
func (s *VenueStore) PutPool(ctx context.Context, p *domain.Pool) error {
	if p == nil || p.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	oracle, err := layout.EncodeTwapOracle(&p.Oracle)
	if err != nil {
		return fmt.Errorf("put pool: %w", err)
	}

	query := `
		INSERT INTO pools (address, base_mint, quote_mint, oracle)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			base_mint = EXCLUDED.base_mint,
			quote_mint = EXCLUDED.quote_mint,
			oracle = EXCLUDED.oracle,
			updated_at = now()
	`

	_, err = s.pool.Exec(ctx, query, p.Address.String(), p.BaseMint.String(), p.QuoteMint.String(), oracle)
	if err != nil {
		return fmt.Errorf("put pool: %w", err)
	}
	return nil
}

// GetPool retrieves a pool. Returns ErrNotFound if not exists.
func (s *VenueStore) GetPool(ctx context.Context, addr solana.Pubkey) (*domain.Pool, error) {
	query := `
		SELECT base_mint, quote_mint, oracle
		FROM pools
		WHERE address = $1
	`

	var (
		baseMint, quoteMint string
		oracle              []byte
	)
	err := s.pool.QueryRow(ctx, query, addr.String()).Scan(&baseMint, &quoteMint, &oracle)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}

	p := &domain.Pool{Address: addr}
	if err := parsePubkeys(
		[]string{baseMint, quoteMint},
		[]*solana.Pubkey{&p.BaseMint, &p.QuoteMint},
	); err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}

	o, err := layout.DecodeTwapOracle(oracle, 0)
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	p.Oracle = *o
	return p, nil
}

// parsePubkeys parses each base58 string into the matching destination.
func parsePubkeys(src []string, dst []*solana.Pubkey) error {
	for i, s := range src {
		key, err := solana.ParsePubkey(s)
		if err != nil {
			return err
		}
		*dst[i] = key
	}
	return nil
}
