// Package gate decides whether an escrow may trade at the current price.
// It only returns a decision; moving tokens is the caller's business.
package gate

import (
	"fmt"

	"github.com/holiman/uint256"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/oracle"
	"futarchy-lobbyist/internal/solana"
)

// ErrMissingPrice is returned when the reading lacks a price the escrow's variant compares.
var ErrMissingPrice = domain.ErrMissingPrice

const bpsDenominator = 10_000

// Action is the authorized trade leg.
type Action string

// Actions
const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Accounts are the identities supplied with a trade request.
type Accounts struct {
	Signer    solana.Pubkey
	Lobbyist  solana.Pubkey
	Dao       solana.Pubkey
	Proposal  solana.Pubkey
	BaseMint  solana.Pubkey
	QuoteMint solana.Pubkey
}

// Decision is the gate's output.
type Decision struct {
	Action    Action
	Market    domain.Market // pool the leg trades on
	Current   *uint256.Int
	Reference *uint256.Int
	Limit     *uint256.Int // reference shifted by the escrow's threshold
}

// Authorized reports whether the decision permits a trade.
func (d Decision) Authorized() bool {
	return d.Action == ActionBuy || d.Action == ActionSell
}

// TradeMarket returns the pool an escrow of variant v trades on.
func TradeMarket(v domain.Variant) domain.Market {
	if v.HasConditionalBuckets() {
		return domain.MarketPass
	}
	return domain.MarketSpot
}

// Authorize validates the request against the lobbyist and escrow records and
// compares the current price to the reference in the escrow's direction.
//
// Prices compared per variant:
//
//	spot:        spot last observation vs spot TWAP
//	conditional: pass TWAP vs spot TWAP (fail TWAP when spot is absent)
//	pyth:        pass TWAP vs attested price
func Authorize(l *domain.Lobbyist, e *domain.Escrow, acc Accounts, r oracle.Reading) (Decision, error) {
	if err := checkAccounts(l, e, acc); err != nil {
		return Decision{}, err
	}

	current, reference, err := prices(l.Variant, r)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Action:    ActionHold,
		Market:    TradeMarket(l.Variant),
		Current:   current,
		Reference: reference,
	}

	lhs := new(uint256.Int).Mul(current, uint256.NewInt(bpsDenominator))

	if e.Bullish {
		factor := uint256.NewInt(bpsDenominator + uint64(e.BullishThresholdBps))
		rhs := new(uint256.Int).Mul(reference, factor)
		d.Limit = new(uint256.Int).Div(rhs, uint256.NewInt(bpsDenominator))
		if lhs.Lt(rhs) {
			d.Action = ActionBuy
		}
		return d, nil
	}

	factor := uint256.NewInt(bpsDenominator - uint64(min(e.BearishThresholdBps, domain.MaxThresholdBps)))
	rhs := new(uint256.Int).Mul(reference, factor)
	d.Limit = new(uint256.Int).Div(rhs, uint256.NewInt(bpsDenominator))
	if lhs.Gt(rhs) {
		d.Action = ActionSell
	}
	return d, nil
}

func checkAccounts(l *domain.Lobbyist, e *domain.Escrow, acc Accounts) error {
	if !e.Active {
		return domain.ErrEscrowInactive
	}
	if e.Depositor != acc.Signer {
		return fmt.Errorf("signer %s: %w", acc.Signer, domain.ErrInvalidDepositor)
	}
	if e.Lobbyist != acc.Lobbyist {
		return fmt.Errorf("escrow lobbyist %s, supplied %s: %w", e.Lobbyist, acc.Lobbyist, domain.ErrInvalidDao)
	}
	if l.Dao != acc.Dao {
		return fmt.Errorf("lobbyist dao %s, supplied %s: %w", l.Dao, acc.Dao, domain.ErrInvalidDao)
	}
	if l.Proposal != acc.Proposal && !l.Proposal.IsZero() {
		return fmt.Errorf("lobbyist proposal %s, supplied %s: %w", l.Proposal, acc.Proposal, domain.ErrInvalidProposal)
	}
	if e.Proposal != acc.Proposal && !e.Proposal.IsZero() {
		return fmt.Errorf("escrow proposal %s, supplied %s: %w", e.Proposal, acc.Proposal, domain.ErrInvalidProposal)
	}

	base, quote := l.MarketMints(TradeMarket(l.Variant))
	if base != acc.BaseMint {
		return fmt.Errorf("base mint %s: %w", acc.BaseMint, domain.ErrInvalidBaseMint)
	}
	if quote != acc.QuoteMint {
		return fmt.Errorf("quote mint %s: %w", acc.QuoteMint, domain.ErrInvalidQuoteMint)
	}
	return nil
}

func prices(v domain.Variant, r oracle.Reading) (current, reference *uint256.Int, err error) {
	switch v {
	case domain.VariantSpot:
		current, reference = r.Observed, r.Spot
	case domain.VariantConditional:
		current, reference = r.Pass, r.Spot
		if reference == nil {
			reference = r.Fail
		}
	case domain.VariantPyth:
		current, reference = r.Pass, r.Attested
	default:
		return nil, nil, fmt.Errorf("variant %s: %w", v, domain.ErrVariantMismatch)
	}

	if current == nil {
		return nil, nil, fmt.Errorf("%s current price: %w", v, ErrMissingPrice)
	}
	if reference == nil {
		return nil, nil, fmt.Errorf("%s reference price: %w", v, ErrMissingPrice)
	}
	return current, reference, nil
}
