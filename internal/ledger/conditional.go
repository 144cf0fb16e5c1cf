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

// Side selects the base or quote leg of a split or merge.
type Side string

// Sides
const (
	SideBase  Side = "base"
	SideQuote Side = "quote"
)

// ConditionalRequest splits spot balance into pass and fail balances, or merges them back.
type ConditionalRequest struct {
	Depositor solana.Pubkey // verified signer
	Escrow    solana.Pubkey
	Side      Side
	Amount    uint64
}

// conditionalLeg names the spot bucket, the two conditional buckets and their mints for one side.
type conditionalLeg struct {
	spot, pass, fail             *uint64
	spotMint, passMint, failMint solana.Pubkey
}

func legFor(side Side, e *domain.Escrow, l *domain.Lobbyist) (conditionalLeg, error) {
	switch side {
	case SideBase:
		return conditionalLeg{
			spot: &e.BaseAmount, pass: &e.PassBaseAmount, fail: &e.FailBaseAmount,
			spotMint: l.BaseMint, passMint: l.PassBaseMint, failMint: l.FailBaseMint,
		}, nil
	case SideQuote:
		return conditionalLeg{
			spot: &e.QuoteAmount, pass: &e.PassQuoteAmount, fail: &e.FailQuoteAmount,
			spotMint: l.QuoteMint, passMint: l.PassQuoteMint, failMint: l.FailQuoteMint,
		}, nil
	default:
		return conditionalLeg{}, fmt.Errorf("side %q: %w", side, ErrInvalidRequest)
	}
}

// Split deposits spot tokens into the conditional vault and credits the escrow
// with the same amount of both pass and fail tokens.
func (s *Service) Split(ctx context.Context, req ConditionalRequest) (*domain.Escrow, error) {
	return s.conditional(ctx, "split", domain.EventSplit, req, func(ctx context.Context, tx storage.Tx, e *domain.Escrow, cl conditionalLeg, signer *derive.EscrowSigner) error {
		spot, borrow := bits.Sub64(*cl.spot, req.Amount, 0)
		if borrow != 0 {
			return fmt.Errorf("split %d of %d: %w", req.Amount, *cl.spot, domain.ErrInsufficientBalance)
		}
		pass, carry := bits.Add64(*cl.pass, req.Amount, 0)
		if carry != 0 {
			return fmt.Errorf("split onto pass %d: %w", *cl.pass, domain.ErrArithmeticOverflow)
		}
		fail, carry := bits.Add64(*cl.fail, req.Amount, 0)
		if carry != 0 {
			return fmt.Errorf("split onto fail %d: %w", *cl.fail, domain.ErrArithmeticOverflow)
		}

		if req.Amount > 0 {
			escrowAccount, err := derive.AssociatedToken(req.Escrow, cl.spotMint)
			if err != nil {
				return err
			}
			vault, err := token.CreateAssociatedIdempotent(ctx, tx, s.vaultAuthority, cl.spotMint)
			if err != nil {
				return fmt.Errorf("vault account: %w", err)
			}
			if err := transfer(ctx, tx, escrowAccount, vault, signer, cl.spotMint, req.Amount); err != nil {
				return fmt.Errorf("split into vault: %w", err)
			}
			for _, mint := range []solana.Pubkey{cl.passMint, cl.failMint} {
				dest, err := derive.AssociatedToken(req.Escrow, mint)
				if err != nil {
					return err
				}
				if err := token.MintTo(ctx, tx, mint, dest, req.Amount); err != nil {
					return fmt.Errorf("split mint %s: %w", mint, err)
				}
			}
		}

		*cl.spot, *cl.pass, *cl.fail = spot, pass, fail
		return nil
	})
}

// Merge burns equal amounts of pass and fail tokens and returns the spot tokens
// from the conditional vault to the escrow.
func (s *Service) Merge(ctx context.Context, req ConditionalRequest) (*domain.Escrow, error) {
	return s.conditional(ctx, "merge", domain.EventMerge, req, func(ctx context.Context, tx storage.Tx, e *domain.Escrow, cl conditionalLeg, signer *derive.EscrowSigner) error {
		pass, borrow := bits.Sub64(*cl.pass, req.Amount, 0)
		if borrow != 0 {
			return fmt.Errorf("merge %d of pass %d: %w", req.Amount, *cl.pass, domain.ErrInsufficientBalance)
		}
		fail, borrow := bits.Sub64(*cl.fail, req.Amount, 0)
		if borrow != 0 {
			return fmt.Errorf("merge %d of fail %d: %w", req.Amount, *cl.fail, domain.ErrInsufficientBalance)
		}
		spot, carry := bits.Add64(*cl.spot, req.Amount, 0)
		if carry != 0 {
			return fmt.Errorf("merge onto spot %d: %w", *cl.spot, domain.ErrArithmeticOverflow)
		}

		if req.Amount > 0 {
			for _, mint := range []solana.Pubkey{cl.passMint, cl.failMint} {
				from, err := derive.AssociatedToken(req.Escrow, mint)
				if err != nil {
					return err
				}
				if err := token.Burn(ctx, tx, from, signer, mint, req.Amount); err != nil {
					return fmt.Errorf("merge burn %s: %w", mint, err)
				}
			}
			vault, err := derive.AssociatedToken(s.vaultAuthority, cl.spotMint)
			if err != nil {
				return err
			}
			escrowAccount, err := derive.AssociatedToken(req.Escrow, cl.spotMint)
			if err != nil {
				return err
			}
			if err := transfer(ctx, tx, vault, escrowAccount, token.Wallet(s.vaultAuthority), cl.spotMint, req.Amount); err != nil {
				return fmt.Errorf("merge from vault: %w", err)
			}
		}

		*cl.spot, *cl.pass, *cl.fail = spot, pass, fail
		return nil
	})
}

type conditionalFunc func(ctx context.Context, tx storage.Tx, e *domain.Escrow, cl conditionalLeg, signer *derive.EscrowSigner) error

func (s *Service) conditional(ctx context.Context, op string, kind domain.EventKind, req ConditionalRequest, apply conditionalFunc) (*domain.Escrow, error) {
	if !s.variant.HasConditionalBuckets() {
		err := fmt.Errorf("%s on %s deployment: %w", op, s.variant, domain.ErrVariantMismatch)
		observeRejected(op, err)
		return nil, err
	}
	if s.vaultAuthority.IsZero() {
		err := fmt.Errorf("%s: vault authority not configured: %w", op, ErrInvalidRequest)
		observeRejected(op, err)
		return nil, err
	}

	var out *domain.Escrow
	err := s.run(ctx, op, []solana.Pubkey{req.Escrow}, func(tx storage.Tx) error {
		e, l, err := s.loadEscrow(ctx, tx, req.Escrow, req.Depositor)
		if err != nil {
			return err
		}
		cl, err := legFor(req.Side, e, l)
		if err != nil {
			return err
		}
		signer, err := derive.NewEscrowSigner(s.program, req.Escrow, e)
		if err != nil {
			return err
		}
		if err := apply(ctx, tx, e, cl, signer); err != nil {
			return err
		}
		if err := tx.UpdateEscrow(ctx, req.Escrow, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordAmountMoved(op, string(req.Side), req.Amount)
	ev := &domain.LedgerEvent{
		Kind:       kind,
		Lobbyist:   out.Lobbyist,
		Escrow:     req.Escrow,
		Depositor:  out.Depositor,
		BaseAfter:  out.BaseAmount,
		QuoteAfter: out.QuoteAmount,
	}
	if req.Side == SideBase {
		ev.BaseAmount = req.Amount
	} else {
		ev.QuoteAmount = req.Amount
	}
	s.journal(ctx, ev)
	return out, nil
}
