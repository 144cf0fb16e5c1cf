package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"

	"futarchy-lobbyist/internal/derive"
	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/gate"
	"futarchy-lobbyist/internal/observability"
	"futarchy-lobbyist/internal/oracle"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
	"futarchy-lobbyist/internal/token"
)

// ErrInvalidFill is returned when a swapper fills more than it was offered.
var ErrInvalidFill = errors.New("swapper returned an invalid fill")

// TradeRequest asks the gate to trade an escrow's balance on its market.
type TradeRequest struct {
	Depositor solana.Pubkey // verified signer

	// Accounts supplied with the request; checked against the escrow's bindings.
	Escrow    solana.Pubkey
	Lobbyist  solana.Pubkey
	Dao       solana.Pubkey
	Proposal  solana.Pubkey
	BaseMint  solana.Pubkey
	QuoteMint solana.Pubkey

	// Amount of the input token to offer. Zero offers the whole input balance.
	Amount uint64

	// Attestation is the posted price update; required by the pyth variant.
	Attestation *domain.PriceUpdate
}

// TradeResult is the gate decision and, when a trade ran, its fill.
type TradeResult struct {
	Decision gate.Decision
	Fill     *Fill
	Escrow   *domain.Escrow
}

// Trade reads the oracle, asks the gate for a decision and, when authorized,
// swaps the escrow's market balance through the Swapper. A hold changes nothing.
func (s *Service) Trade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	if s.swapper == nil {
		err := fmt.Errorf("trade: no swapper configured: %w", ErrInvalidRequest)
		observeRejected("trade", err)
		return nil, err
	}

	var res *TradeResult
	err := s.run(ctx, "trade", []solana.Pubkey{req.Escrow}, func(tx storage.Tx) error {
		e, l, err := s.loadEscrow(ctx, tx, req.Escrow, req.Depositor)
		if err != nil {
			return err
		}
		if !e.Active {
			return fmt.Errorf("escrow %s: %w", req.Escrow, domain.ErrEscrowInactive)
		}

		reading, err := s.read(ctx, l, e, req.Attestation)
		if err != nil {
			observability.RecordOracleError(domain.ErrorCode(err))
			return err
		}

		d, err := gate.Authorize(l, e, gate.Accounts{
			Signer:    req.Depositor,
			Lobbyist:  req.Lobbyist,
			Dao:       req.Dao,
			Proposal:  req.Proposal,
			BaseMint:  req.BaseMint,
			QuoteMint: req.QuoteMint,
		}, reading)
		if err != nil {
			return err
		}
		observability.RecordGateDecision(string(d.Action), string(d.Market))

		res = &TradeResult{Decision: d, Escrow: e}
		if !d.Authorized() {
			return nil
		}

		fill, err := s.swap(ctx, tx, req, l, e, d)
		if err != nil {
			return err
		}
		if err := tx.UpdateEscrow(ctx, req.Escrow, e); err != nil {
			return err
		}
		res.Fill = fill
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Fill != nil {
		base, quote := res.Escrow.Buckets(res.Decision.Market)
		ev := &domain.LedgerEvent{
			Kind:       domain.EventTrade,
			Lobbyist:   res.Escrow.Lobbyist,
			Escrow:     req.Escrow,
			Depositor:  res.Escrow.Depositor,
			Market:     res.Decision.Market,
			BaseAfter:  *base,
			QuoteAfter: *quote,
		}
		if res.Decision.Action == gate.ActionBuy {
			ev.QuoteAmount, ev.BaseAmount = res.Fill.InputAmount, res.Fill.OutputAmount
		} else {
			ev.BaseAmount, ev.QuoteAmount = res.Fill.InputAmount, res.Fill.OutputAmount
		}
		observability.RecordAmountMoved("trade", "input", res.Fill.InputAmount)
		observability.RecordAmountMoved("trade", "output", res.Fill.OutputAmount)
		s.journal(ctx, ev)
		s.logger.Printf("escrow %s %s on %s: in %d out %d", req.Escrow, res.Decision.Action,
			res.Decision.Market, res.Fill.InputAmount, res.Fill.OutputAmount)
	}
	return res, nil
}

// read builds the oracle sources for the escrow's variant from the pool records
// and validates them at the current time.
func (s *Service) read(ctx context.Context, l *domain.Lobbyist, e *domain.Escrow, attestation *domain.PriceUpdate) (oracle.Reading, error) {
	now := s.now()

	switch s.variant {
	case domain.VariantSpot:
		spot, err := s.pool(ctx, l.SpotMarket, domain.ErrInvalidDao)
		if err != nil {
			return oracle.Reading{}, err
		}
		return oracle.ReadAll(now, oracle.PoolTWAP{Market: domain.MarketSpot, Oracle: spot.Oracle})

	case domain.VariantConditional:
		spot, err := s.pool(ctx, l.SpotMarket, domain.ErrInvalidDao)
		if err != nil {
			return oracle.Reading{}, err
		}
		pass, err := s.pool(ctx, l.PassMarket, domain.ErrInvalidProposal)
		if err != nil {
			return oracle.Reading{}, err
		}
		fail, err := s.pool(ctx, l.FailMarket, domain.ErrInvalidProposal)
		if err != nil {
			return oracle.Reading{}, err
		}
		return oracle.ReadAll(now, oracle.ConditionalTWAP{Spot: spot.Oracle, Pass: pass.Oracle, Fail: fail.Oracle})

	case domain.VariantPyth:
		if attestation == nil {
			return oracle.Reading{}, fmt.Errorf("no price attestation supplied: %w", domain.ErrGetPythPrice)
		}
		pass, err := s.pool(ctx, l.PassMarket, domain.ErrInvalidProposal)
		if err != nil {
			return oracle.Reading{}, err
		}
		return oracle.ReadAll(now,
			oracle.PoolTWAP{Market: domain.MarketPass, Oracle: pass.Oracle},
			oracle.PythAttestation{Update: *attestation, FeedID: e.PriceFeedID, Decimals: s.priceDecimals, MaxAge: s.maxAttestAge},
		)

	default:
		return oracle.Reading{}, fmt.Errorf("variant %s: %w", s.variant, domain.ErrVariantMismatch)
	}
}

func (s *Service) pool(ctx context.Context, addr solana.Pubkey, missing error) (*domain.Pool, error) {
	p, err := s.venues.GetPool(ctx, addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("pool %s: %w", addr, missing)
		}
		return nil, err
	}
	return p, nil
}

// swap quotes the authorized leg, applies the fill to the escrow's market buckets
// and mirrors it on the escrow's and the pool's custody accounts.
func (s *Service) swap(ctx context.Context, tx storage.Tx, req TradeRequest, l *domain.Lobbyist, e *domain.Escrow, d gate.Decision) (*Fill, error) {
	baseMint, quoteMint := l.MarketMints(d.Market)
	baseBucket, quoteBucket := e.Buckets(d.Market)

	inMint, outMint := quoteMint, baseMint
	inBucket, outBucket := quoteBucket, baseBucket
	if d.Action == gate.ActionSell {
		inMint, outMint = baseMint, quoteMint
		inBucket, outBucket = baseBucket, quoteBucket
	}

	offer := req.Amount
	if offer == 0 {
		offer = *inBucket
	}
	if offer > *inBucket {
		return nil, fmt.Errorf("offer %d of %d: %w", offer, *inBucket, domain.ErrInsufficientBalance)
	}
	if offer == 0 {
		return nil, fmt.Errorf("nothing to trade on %s: %w", d.Market, domain.ErrInsufficientBalance)
	}

	pool := l.MarketAddress(d.Market)
	fill, err := s.swapper.Quote(ctx, SwapRequest{
		Pool:        pool,
		Market:      d.Market,
		Action:      d.Action,
		InputMint:   inMint,
		OutputMint:  outMint,
		InputAmount: offer,
		Price:       d.Current,
		Limit:       d.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("quote on %s: %w", pool, err)
	}
	if fill.InputAmount == 0 || fill.InputAmount > offer {
		return nil, fmt.Errorf("fill %d for offer %d: %w", fill.InputAmount, offer, ErrInvalidFill)
	}

	out, carry := bits.Add64(*outBucket, fill.OutputAmount, 0)
	if carry != 0 {
		return nil, fmt.Errorf("credit %d onto %d: %w", fill.OutputAmount, *outBucket, domain.ErrArithmeticOverflow)
	}

	signer, err := derive.NewEscrowSigner(s.program, req.Escrow, e)
	if err != nil {
		return nil, err
	}
	escrowIn, err := derive.AssociatedToken(req.Escrow, inMint)
	if err != nil {
		return nil, err
	}
	escrowOut, err := derive.AssociatedToken(req.Escrow, outMint)
	if err != nil {
		return nil, err
	}
	poolIn, err := token.CreateAssociatedIdempotent(ctx, tx, pool, inMint)
	if err != nil {
		return nil, fmt.Errorf("pool reserve for %s: %w", inMint, err)
	}
	poolOut, err := derive.AssociatedToken(pool, outMint)
	if err != nil {
		return nil, err
	}

	if err := transfer(ctx, tx, escrowIn, poolIn, signer, inMint, fill.InputAmount); err != nil {
		return nil, fmt.Errorf("pay pool: %w", err)
	}
	if fill.OutputAmount > 0 {
		if err := transfer(ctx, tx, poolOut, escrowOut, token.Wallet(pool), outMint, fill.OutputAmount); err != nil {
			return nil, fmt.Errorf("receive from pool: %w", err)
		}
	}

	*inBucket -= fill.InputAmount
	*outBucket = out
	return &fill, nil
}

// SwapRequest is an authorized leg forwarded to the AMM collaborator.
type SwapRequest struct {
	Pool        solana.Pubkey
	Market      domain.Market
	Action      gate.Action
	InputMint   solana.Pubkey
	OutputMint  solana.Pubkey
	InputAmount uint64
	Price       *uint256.Int // current market price at the gate
	Limit       *uint256.Int // threshold price the decision was made against
}

// Fill is the amount the AMM took and returned.
type Fill struct {
	InputAmount  uint64
	OutputAmount uint64
}

// Swapper quotes authorized legs. Swap pricing belongs to the AMM; the ledger
// only moves the quoted amounts.
type Swapper interface {
	Quote(ctx context.Context, req SwapRequest) (Fill, error)
}

// PriceSwapper fills the whole offer at the gate's current price.
// Prices are quote units per base unit scaled by Scale.
type PriceSwapper struct {
	Scale *uint256.Int
}

// NewPriceSwapper returns a PriceSwapper for prices carrying decimals fractional digits.
func NewPriceSwapper(decimals uint8) *PriceSwapper {
	return &PriceSwapper{Scale: new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))}
}

// Quote converts the offer at req.Price: buys return in*scale/price, sells in*price/scale.
func (p *PriceSwapper) Quote(_ context.Context, req SwapRequest) (Fill, error) {
	if req.Price == nil || req.Price.IsZero() {
		return Fill{}, fmt.Errorf("zero price: %w", ErrInvalidFill)
	}

	in := uint256.NewInt(req.InputAmount)
	out := new(uint256.Int)
	switch req.Action {
	case gate.ActionBuy:
		out.Mul(in, p.Scale).Div(out, req.Price)
	case gate.ActionSell:
		if _, overflow := out.MulOverflow(in, req.Price); overflow {
			return Fill{}, domain.ErrArithmeticOverflow
		}
		out.Div(out, p.Scale)
	default:
		return Fill{}, fmt.Errorf("action %s: %w", req.Action, ErrInvalidFill)
	}

	if !out.IsUint64() {
		return Fill{}, fmt.Errorf("output for %d: %w", req.InputAmount, domain.ErrArithmeticOverflow)
	}
	return Fill{InputAmount: req.InputAmount, OutputAmount: out.Uint64()}, nil
}

var _ Swapper = (*PriceSwapper)(nil)
