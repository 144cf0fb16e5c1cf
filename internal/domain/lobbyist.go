package domain

import (
	"fmt"
	"strings"

	"futarchy-lobbyist/internal/solana"
)

// Variant selects the record schema a deployment commits to.
// A deployment uses exactly one variant for every Lobbyist and Escrow it writes.
type Variant uint8

// Schema variants.
const (
	VariantSpot        Variant = 1 // base/quote custody, single spot pool TWAP
	VariantConditional Variant = 2 // pass/fail conditional markets plus spot pool TWAPs
	VariantPyth        Variant = 3 // pass/fail markets gated by an external price attestation
)

// String returns the variant name used in configuration.
func (v Variant) String() string {
	switch v {
	case VariantSpot:
		return "spot"
	case VariantConditional:
		return "conditional"
	case VariantPyth:
		return "pyth"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v >= VariantSpot && v <= VariantPyth
}

// HasConditionalBuckets reports whether escrows of this variant custody pass/fail balances.
func (v Variant) HasConditionalBuckets() bool {
	return v == VariantConditional || v == VariantPyth
}

// ParseVariant parses a configuration name into a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return VariantSpot, nil
	case "conditional":
		return VariantConditional, nil
	case "pyth":
		return VariantPyth, nil
	default:
		return 0, fmt.Errorf("unknown schema variant %q", s)
	}
}

// Market identifies one of the pools a lobbyist trades through.
type Market string

// Market constants
const (
	MarketSpot Market = "spot"
	MarketPass Market = "pass"
	MarketFail Market = "fail"
)

// Lobbyist binds a decision-market venue to its pools and mints.
// Immutable once written. Addressed by derive.Lobbyist(dao).
type Lobbyist struct {
	Variant Variant
	Bump    uint8 // canonical bump of the lobbyist address

	Dao      solana.Pubkey // governing DAO
	Proposal solana.Pubkey // zero when the binding is not proposal-specific

	SpotMarket solana.Pubkey // DAO spot pool
	PassMarket solana.Pubkey // pass conditional pool
	FailMarket solana.Pubkey // fail conditional pool

	BaseMint      solana.Pubkey
	QuoteMint     solana.Pubkey
	PassBaseMint  solana.Pubkey
	PassQuoteMint solana.Pubkey
	FailBaseMint  solana.Pubkey
	FailQuoteMint solana.Pubkey
}

// MarketMints returns the base and quote mints traded on market m.
func (l *Lobbyist) MarketMints(m Market) (base, quote solana.Pubkey) {
	switch m {
	case MarketPass:
		return l.PassBaseMint, l.PassQuoteMint
	case MarketFail:
		return l.FailBaseMint, l.FailQuoteMint
	default:
		return l.BaseMint, l.QuoteMint
	}
}

// MarketAddress returns the pool address for market m.
func (l *Lobbyist) MarketAddress(m Market) solana.Pubkey {
	switch m {
	case MarketPass:
		return l.PassMarket
	case MarketFail:
		return l.FailMarket
	default:
		return l.SpotMarket
	}
}

// CustodyMints lists every mint an escrow under this lobbyist holds.
func (l *Lobbyist) CustodyMints() []solana.Pubkey {
	mints := []solana.Pubkey{l.BaseMint, l.QuoteMint}
	if l.Variant.HasConditionalBuckets() {
		mints = append(mints, l.PassBaseMint, l.PassQuoteMint, l.FailBaseMint, l.FailQuoteMint)
	}
	return mints
}
