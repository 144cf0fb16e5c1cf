package ledger

import (
	"context"
	"errors"
	"fmt"

	"futarchy-lobbyist/internal/derive"
	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
	"futarchy-lobbyist/internal/token"
)

// InitializeLobbyistRequest binds a DAO venue to its pools and mints.
type InitializeLobbyistRequest struct {
	Dao      solana.Pubkey
	Proposal solana.Pubkey // optional

	// Conditional variants only.
	PassMarket    solana.Pubkey
	FailMarket    solana.Pubkey
	PassBaseMint  solana.Pubkey
	PassQuoteMint solana.Pubkey
	FailBaseMint  solana.Pubkey
	FailQuoteMint solana.Pubkey

	BaseMint  solana.Pubkey
	QuoteMint solana.Pubkey
}

// InitializeLobbyist validates the venue records and writes the lobbyist at its derived address.
func (s *Service) InitializeLobbyist(ctx context.Context, req InitializeLobbyistRequest) (solana.Pubkey, *domain.Lobbyist, error) {
	addr, bump, err := derive.Lobbyist(s.program, req.Dao)
	if err != nil {
		return solana.Pubkey{}, nil, fmt.Errorf("derive lobbyist: %w", err)
	}

	l, err := s.bindVenue(ctx, req)
	if err != nil {
		observeRejected("initialize_lobbyist", err)
		return solana.Pubkey{}, nil, err
	}
	l.Variant = s.variant
	l.Bump = bump

	err = s.run(ctx, "initialize_lobbyist", []solana.Pubkey{addr}, func(tx storage.Tx) error {
		if err := tx.InsertLobbyist(ctx, addr, l); err != nil {
			return alreadyInitialized(err, "lobbyist", addr)
		}
		return nil
	})
	if err != nil {
		return solana.Pubkey{}, nil, err
	}

	s.logger.Printf("lobbyist %s initialized for dao %s (%s)", addr, req.Dao, s.variant)
	s.journal(ctx, &domain.LedgerEvent{Kind: domain.EventLobbyistInitialized, Lobbyist: addr})
	return addr, l, nil
}

// bindVenue checks the request against the DAO, proposal and pool records.
func (s *Service) bindVenue(ctx context.Context, req InitializeLobbyistRequest) (*domain.Lobbyist, error) {
	dao, err := s.venues.GetDao(ctx, req.Dao)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("dao %s: %w", req.Dao, domain.ErrInvalidDao)
		}
		return nil, err
	}
	if dao.BaseMint != req.BaseMint {
		return nil, fmt.Errorf("dao base mint %s, supplied %s: %w", dao.BaseMint, req.BaseMint, domain.ErrInvalidBaseMint)
	}
	if dao.QuoteMint != req.QuoteMint {
		return nil, fmt.Errorf("dao quote mint %s, supplied %s: %w", dao.QuoteMint, req.QuoteMint, domain.ErrInvalidQuoteMint)
	}

	l := &domain.Lobbyist{
		Dao:        req.Dao,
		Proposal:   req.Proposal,
		SpotMarket: dao.SpotPool,
		BaseMint:   req.BaseMint,
		QuoteMint:  req.QuoteMint,
	}

	if !req.Proposal.IsZero() {
		p, err := s.venues.GetProposal(ctx, req.Proposal)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("proposal %s: %w", req.Proposal, domain.ErrInvalidProposal)
			}
			return nil, err
		}
		if p.Dao != req.Dao {
			return nil, fmt.Errorf("proposal %s belongs to dao %s: %w", p.Address, p.Dao, domain.ErrInvalidDao)
		}
		if p.State != domain.ProposalPending {
			return nil, fmt.Errorf("proposal %s is %s: %w", p.Address, p.State, domain.ErrInvalidProposalState)
		}
		if s.variant.HasConditionalBuckets() && (p.PassPool != req.PassMarket || p.FailPool != req.FailMarket) {
			return nil, fmt.Errorf("proposal %s pools: %w", p.Address, domain.ErrInvalidProposal)
		}
	}

	if !s.variant.HasConditionalBuckets() {
		return l, nil
	}

	for _, m := range []struct {
		pool        solana.Pubkey
		base, quote solana.Pubkey
	}{
		{req.PassMarket, req.PassBaseMint, req.PassQuoteMint},
		{req.FailMarket, req.FailBaseMint, req.FailQuoteMint},
	} {
		if err := s.checkPool(ctx, m.pool, m.base, m.quote); err != nil {
			return nil, err
		}
	}

	l.PassMarket, l.FailMarket = req.PassMarket, req.FailMarket
	l.PassBaseMint, l.PassQuoteMint = req.PassBaseMint, req.PassQuoteMint
	l.FailBaseMint, l.FailQuoteMint = req.FailBaseMint, req.FailQuoteMint
	return l, nil
}

func (s *Service) checkPool(ctx context.Context, addr, base, quote solana.Pubkey) error {
	if addr.IsZero() {
		return fmt.Errorf("conditional pool missing: %w", domain.ErrInvalidProposal)
	}
	pool, err := s.venues.GetPool(ctx, addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("pool %s: %w", addr, domain.ErrInvalidProposal)
		}
		return err
	}
	if pool.BaseMint != base {
		return fmt.Errorf("pool %s base mint %s, supplied %s: %w", addr, pool.BaseMint, base, domain.ErrInvalidBaseMint)
	}
	if pool.QuoteMint != quote {
		return fmt.Errorf("pool %s quote mint %s, supplied %s: %w", addr, pool.QuoteMint, quote, domain.ErrInvalidQuoteMint)
	}
	return nil
}

// InitializeEscrowRequest opens an escrow for a depositor under a lobbyist.
type InitializeEscrowRequest struct {
	Depositor   solana.Pubkey // verified signer
	Lobbyist    solana.Pubkey
	Proposal    solana.Pubkey // optional; must match a proposal-bound lobbyist
	PriceFeedID domain.FeedID // pyth variant only
}

// InitializeEscrow writes a zero-balance inactive escrow and its custody accounts.
func (s *Service) InitializeEscrow(ctx context.Context, req InitializeEscrowRequest) (solana.Pubkey, *domain.Escrow, error) {
	if req.Depositor.IsZero() {
		return solana.Pubkey{}, nil, fmt.Errorf("depositor: %w", ErrInvalidRequest)
	}
	feed := req.PriceFeedID
	if s.variant == domain.VariantPyth && feed == (domain.FeedID{}) {
		return solana.Pubkey{}, nil, fmt.Errorf("price feed id required: %w", ErrInvalidRequest)
	}
	if s.variant != domain.VariantPyth {
		feed = domain.FeedID{}
	}

	addr, bump, err := derive.Escrow(s.program, req.Lobbyist, req.Proposal, req.Depositor)
	if err != nil {
		return solana.Pubkey{}, nil, fmt.Errorf("derive escrow: %w", err)
	}
	e := domain.NewEscrow(s.variant, bump, req.Lobbyist, req.Proposal, req.Depositor, feed)

	err = s.run(ctx, "initialize_escrow", []solana.Pubkey{addr}, func(tx storage.Tx) error {
		l, err := tx.GetLobbyist(ctx, req.Lobbyist)
		if err != nil {
			return notInitialized(err, "lobbyist", req.Lobbyist)
		}
		if err := derive.VerifyLobbyist(s.program, req.Lobbyist, l); err != nil {
			return err
		}
		if err := s.checkEscrowProposal(ctx, l, req.Proposal); err != nil {
			return err
		}

		if err := tx.InsertEscrow(ctx, addr, e); err != nil {
			return alreadyInitialized(err, "escrow", addr)
		}
		for _, mint := range l.CustodyMints() {
			if _, err := token.CreateAssociatedIdempotent(ctx, tx, addr, mint); err != nil {
				return fmt.Errorf("escrow custody for %s: %w", mint, err)
			}
		}
		return nil
	})
	if err != nil {
		return solana.Pubkey{}, nil, err
	}

	s.logger.Printf("escrow %s initialized for depositor %s", addr, req.Depositor)
	s.journal(ctx, &domain.LedgerEvent{
		Kind:      domain.EventEscrowInitialized,
		Lobbyist:  req.Lobbyist,
		Escrow:    addr,
		Depositor: req.Depositor,
	})
	return addr, e, nil
}

func (s *Service) checkEscrowProposal(ctx context.Context, l *domain.Lobbyist, proposal solana.Pubkey) error {
	if !l.Proposal.IsZero() {
		if proposal != l.Proposal {
			return fmt.Errorf("lobbyist bound to proposal %s, escrow to %s: %w", l.Proposal, proposal, domain.ErrInvalidProposal)
		}
		return nil
	}
	if proposal.IsZero() {
		return nil
	}

	p, err := s.venues.GetProposal(ctx, proposal)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("proposal %s: %w", proposal, domain.ErrInvalidProposal)
		}
		return err
	}
	if p.Dao != l.Dao {
		return fmt.Errorf("proposal %s belongs to dao %s: %w", proposal, p.Dao, domain.ErrInvalidDao)
	}
	return nil
}

// ConfigureRequest sets an escrow's trading direction and thresholds.
type ConfigureRequest struct {
	Depositor           solana.Pubkey // verified signer
	Escrow              solana.Pubkey
	Active              bool
	Bullish             bool
	BullishThresholdBps uint16
	BearishThresholdBps uint16
}

// Configure updates the escrow's trading parameters. Only the depositor may configure.
func (s *Service) Configure(ctx context.Context, req ConfigureRequest) (*domain.Escrow, error) {
	if req.BullishThresholdBps > domain.MaxThresholdBps || req.BearishThresholdBps > domain.MaxThresholdBps {
		err := fmt.Errorf("thresholds %d/%d bps: %w", req.BullishThresholdBps, req.BearishThresholdBps, domain.ErrInvalidThreshold)
		observeRejected("configure", err)
		return nil, err
	}

	var out *domain.Escrow
	err := s.run(ctx, "configure", []solana.Pubkey{req.Escrow}, func(tx storage.Tx) error {
		e, _, err := s.loadEscrow(ctx, tx, req.Escrow, req.Depositor)
		if err != nil {
			return err
		}

		e.Active = req.Active
		e.Bullish = req.Bullish
		e.BullishThresholdBps = req.BullishThresholdBps
		e.BearishThresholdBps = req.BearishThresholdBps
		if err := tx.UpdateEscrow(ctx, req.Escrow, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.journal(ctx, &domain.LedgerEvent{
		Kind:       domain.EventEscrowConfigured,
		Lobbyist:   out.Lobbyist,
		Escrow:     req.Escrow,
		Depositor:  out.Depositor,
		BaseAfter:  out.BaseAmount,
		QuoteAfter: out.QuoteAmount,
	})
	return out, nil
}
