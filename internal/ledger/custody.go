package ledger

import (
	"context"
	"fmt"
	"math/bits"

	"futarchy-lobbyist/internal/derive"
	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/observability"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
	"futarchy-lobbyist/internal/token"
)

// CustodyRequest moves spot base and quote between a depositor and their escrow.
// Lobbyist and mints are the accounts the caller supplied; they must match the escrow's bindings.
type CustodyRequest struct {
	Depositor   solana.Pubkey // verified signer
	Escrow      solana.Pubkey
	Lobbyist    solana.Pubkey
	BaseMint    solana.Pubkey
	QuoteMint   solana.Pubkey
	BaseAmount  uint64
	QuoteAmount uint64
}

// leg is one token movement of a custody operation.
type leg struct {
	name   string
	mint   solana.Pubkey
	amount uint64
}

// Deposit transfers base and quote from the depositor's accounts into escrow custody
// and credits the escrow's spot balances.
func (s *Service) Deposit(ctx context.Context, req CustodyRequest) (*domain.Escrow, error) {
	var out *domain.Escrow
	err := s.run(ctx, "deposit", []solana.Pubkey{req.Escrow}, func(tx storage.Tx) error {
		e, l, err := s.loadCustody(ctx, tx, req)
		if err != nil {
			return err
		}

		base, carry := bits.Add64(e.BaseAmount, req.BaseAmount, 0)
		if carry != 0 {
			return fmt.Errorf("deposit base %d onto %d: %w", req.BaseAmount, e.BaseAmount, domain.ErrArithmeticOverflow)
		}
		quote, carry := bits.Add64(e.QuoteAmount, req.QuoteAmount, 0)
		if carry != 0 {
			return fmt.Errorf("deposit quote %d onto %d: %w", req.QuoteAmount, e.QuoteAmount, domain.ErrArithmeticOverflow)
		}

		for _, lg := range []leg{{"base", l.BaseMint, req.BaseAmount}, {"quote", l.QuoteMint, req.QuoteAmount}} {
			if lg.amount == 0 {
				continue
			}
			from, err := derive.AssociatedToken(req.Depositor, lg.mint)
			if err != nil {
				return err
			}
			to, err := derive.AssociatedToken(req.Escrow, lg.mint)
			if err != nil {
				return err
			}
			if err := transfer(ctx, tx, from, to, token.Wallet(req.Depositor), lg.mint, lg.amount); err != nil {
				return fmt.Errorf("deposit %s: %w", lg.name, err)
			}
		}

		e.BaseAmount, e.QuoteAmount = base, quote
		if err := tx.UpdateEscrow(ctx, req.Escrow, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordAmountMoved("deposit", "base", req.BaseAmount)
	observability.RecordAmountMoved("deposit", "quote", req.QuoteAmount)
	s.journal(ctx, custodyEvent(domain.EventDeposit, req, out))
	return out, nil
}

// Withdraw debits the escrow's spot balances and transfers base and quote back to the
// depositor, authorized by the escrow's own derived signer. Neither balance changes
// unless both legs can be paid.
func (s *Service) Withdraw(ctx context.Context, req CustodyRequest) (*domain.Escrow, error) {
	var out *domain.Escrow
	err := s.run(ctx, "withdraw", []solana.Pubkey{req.Escrow}, func(tx storage.Tx) error {
		e, l, err := s.loadCustody(ctx, tx, req)
		if err != nil {
			return err
		}

		base, borrow := bits.Sub64(e.BaseAmount, req.BaseAmount, 0)
		if borrow != 0 {
			return fmt.Errorf("withdraw base %d of %d: %w", req.BaseAmount, e.BaseAmount, domain.ErrInsufficientBalance)
		}
		quote, borrow := bits.Sub64(e.QuoteAmount, req.QuoteAmount, 0)
		if borrow != 0 {
			return fmt.Errorf("withdraw quote %d of %d: %w", req.QuoteAmount, e.QuoteAmount, domain.ErrInsufficientBalance)
		}

		signer, err := derive.NewEscrowSigner(s.program, req.Escrow, e)
		if err != nil {
			return err
		}

		for _, lg := range []leg{{"base", l.BaseMint, req.BaseAmount}, {"quote", l.QuoteMint, req.QuoteAmount}} {
			if lg.amount == 0 {
				continue
			}
			from, err := derive.AssociatedToken(req.Escrow, lg.mint)
			if err != nil {
				return err
			}
			to, err := token.CreateAssociatedIdempotent(ctx, tx, req.Depositor, lg.mint)
			if err != nil {
				return fmt.Errorf("depositor account for %s: %w", lg.mint, err)
			}
			if err := transfer(ctx, tx, from, to, signer, lg.mint, lg.amount); err != nil {
				return fmt.Errorf("withdraw %s: %w", lg.name, err)
			}
		}

		e.BaseAmount, e.QuoteAmount = base, quote
		if err := tx.UpdateEscrow(ctx, req.Escrow, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordAmountMoved("withdraw", "base", req.BaseAmount)
	observability.RecordAmountMoved("withdraw", "quote", req.QuoteAmount)
	s.journal(ctx, custodyEvent(domain.EventWithdraw, req, out))
	return out, nil
}

// loadCustody loads the escrow and checks the supplied lobbyist and spot mints.
func (s *Service) loadCustody(ctx context.Context, tx storage.Tx, req CustodyRequest) (*domain.Escrow, *domain.Lobbyist, error) {
	e, l, err := s.loadEscrow(ctx, tx, req.Escrow, req.Depositor)
	if err != nil {
		return nil, nil, err
	}
	if e.Lobbyist != req.Lobbyist {
		return nil, nil, fmt.Errorf("escrow lobbyist %s, supplied %s: %w", e.Lobbyist, req.Lobbyist, domain.ErrInvalidDao)
	}
	if l.BaseMint != req.BaseMint {
		return nil, nil, fmt.Errorf("base mint %s: %w", req.BaseMint, domain.ErrInvalidBaseMint)
	}
	if l.QuoteMint != req.QuoteMint {
		return nil, nil, fmt.Errorf("quote mint %s: %w", req.QuoteMint, domain.ErrInvalidQuoteMint)
	}
	return e, l, nil
}

// transfer runs a checked transfer at the mint's declared decimals.
func transfer(ctx context.Context, tx storage.Tx, from, to solana.Pubkey, authority token.Signer, mint solana.Pubkey, amount uint64) error {
	decimals, err := token.Decimals(ctx, tx, mint)
	if err != nil {
		return err
	}
	return token.TransferChecked(ctx, tx, from, to, authority, mint, amount, decimals)
}

func custodyEvent(kind domain.EventKind, req CustodyRequest, e *domain.Escrow) *domain.LedgerEvent {
	return &domain.LedgerEvent{
		Kind:        kind,
		Lobbyist:    e.Lobbyist,
		Escrow:      req.Escrow,
		Depositor:   e.Depositor,
		BaseAmount:  req.BaseAmount,
		QuoteAmount: req.QuoteAmount,
		BaseAfter:   e.BaseAmount,
		QuoteAfter:  e.QuoteAmount,
	}
}
