package domain

import "futarchy-lobbyist/internal/solana"

// MaxThresholdBps bounds the bullish/bearish thresholds (100%).
const MaxThresholdBps = 10_000

// FeedID identifies an external price feed.
type FeedID [32]byte

// Escrow is one depositor's custody ledger under a Lobbyist.
// Addressed by derive.Escrow(lobbyist, depositor[, proposal]).
type Escrow struct {
	Variant Variant
	Bump    uint8 // canonical bump, used to re-derive the signing authority

	Lobbyist  solana.Pubkey // owning lobbyist, never mutated after creation
	Proposal  solana.Pubkey // zero when not bound to a proposal
	Depositor solana.Pubkey // sole deposit/withdraw authority

	// Spot balances
	BaseAmount  uint64
	QuoteAmount uint64

	// Conditional balances (VariantConditional, VariantPyth)
	PassBaseAmount  uint64
	PassQuoteAmount uint64
	FailBaseAmount  uint64
	FailQuoteAmount uint64

	Active              bool
	Bullish             bool
	BullishThresholdBps uint16
	BearishThresholdBps uint16

	PriceFeedID FeedID // VariantPyth only
}

// NewEscrow returns a zero-balance, inactive escrow.
func NewEscrow(variant Variant, bump uint8, lobbyist, proposal, depositor solana.Pubkey, feed FeedID) *Escrow {
	return &Escrow{
		Variant:     variant,
		Bump:        bump,
		Lobbyist:    lobbyist,
		Proposal:    proposal,
		Depositor:   depositor,
		PriceFeedID: feed,
	}
}

// Buckets returns pointers to the base and quote balances held for market m.
func (e *Escrow) Buckets(m Market) (base, quote *uint64) {
	switch m {
	case MarketPass:
		return &e.PassBaseAmount, &e.PassQuoteAmount
	case MarketFail:
		return &e.FailBaseAmount, &e.FailQuoteAmount
	default:
		return &e.BaseAmount, &e.QuoteAmount
	}
}
