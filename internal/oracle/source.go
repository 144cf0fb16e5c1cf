// Package oracle validates price sources and derives the prices the trade gate compares.
// A Source is either a pool TWAP accumulator (one pool, or the spot/pass/fail triple of
// a conditional venue) or a Pyth price attestation; SourceFor picks one from the owner of
// the supplied account.
package oracle

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/layout"
	"futarchy-lobbyist/internal/solana"
)

// MaxAge is how old, in seconds, an attestation may be relative to now.
const MaxAge = 10

// ErrUnsupportedSource is returned by SourceFor for accounts owned by an unknown program.
var ErrUnsupportedSource = domain.ErrUnsupportedSource

// Reading is the validated output of one or more sources. Unread prices are nil.
type Reading struct {
	Spot     *uint256.Int
	Pass     *uint256.Int
	Fail     *uint256.Int
	Attested *uint256.Int // attestation converted at the caller's decimals
	Observed *uint256.Int // spot pool's last observation, nil when unset

	PublishTime int64 // attestation publish time, zero without one
}

// Market returns the TWAP read for m, or nil.
func (r Reading) Market(m domain.Market) *uint256.Int {
	switch m {
	case domain.MarketPass:
		return r.Pass
	case domain.MarketFail:
		return r.Fail
	default:
		return r.Spot
	}
}

// Merge returns r with every price set in o copied over.
func (r Reading) Merge(o Reading) Reading {
	if o.Spot != nil {
		r.Spot = o.Spot
	}
	if o.Pass != nil {
		r.Pass = o.Pass
	}
	if o.Fail != nil {
		r.Fail = o.Fail
	}
	if o.Observed != nil {
		r.Observed = o.Observed
	}
	if o.Attested != nil {
		r.Attested = o.Attested
		r.PublishTime = o.PublishTime
	}
	return r
}

// Source validates and reads a price at the caller-supplied unix time.
// The set of implementations is closed: PoolTWAP, ConditionalTWAP, PythAttestation.
type Source interface {
	Read(now int64) (Reading, error)
	source()
}

// PoolTWAP reads one pool's accumulator.
type PoolTWAP struct {
	Market domain.Market
	Oracle domain.TwapOracle
}

func (PoolTWAP) source() {}

// Read computes the pool TWAP. now is unused; the window is defined by the oracle's own timestamps.
func (p PoolTWAP) Read(int64) (Reading, error) {
	twap, err := ComputeTWAP(&p.Oracle)
	if err != nil {
		return Reading{}, fmt.Errorf("%s pool: %w", p.Market, err)
	}

	var r Reading
	switch p.Market {
	case domain.MarketPass:
		r.Pass = twap
	case domain.MarketFail:
		r.Fail = twap
	default:
		r.Spot = twap
		if !p.Oracle.LastObservation.IsZero() {
			r.Observed = new(uint256.Int).Set(&p.Oracle.LastObservation)
		}
	}
	return r, nil
}

// ConditionalTWAP reads the spot, pass and fail pools of a decision market independently.
type ConditionalTWAP struct {
	Spot domain.TwapOracle
	Pass domain.TwapOracle
	Fail domain.TwapOracle
}

func (ConditionalTWAP) source() {}

// Read computes all three TWAPs. Any failure fails the read.
func (c ConditionalTWAP) Read(now int64) (Reading, error) {
	var r Reading
	for _, p := range []PoolTWAP{
		{Market: domain.MarketSpot, Oracle: c.Spot},
		{Market: domain.MarketPass, Oracle: c.Pass},
		{Market: domain.MarketFail, Oracle: c.Fail},
	} {
		one, err := p.Read(now)
		if err != nil {
			return Reading{}, err
		}
		r = r.Merge(one)
	}
	return r, nil
}

// PythAttestation validates a posted price update against the escrow's bound feed.
type PythAttestation struct {
	Update   domain.PriceUpdate
	FeedID   domain.FeedID // feed the escrow is bound to
	Decimals uint8         // fixed-point precision of the converted price
	MaxAge   int64         // seconds; zero means MaxAge
}

func (PythAttestation) source() {}

// Read checks verification level, feed identity and freshness, then converts the price.
// Every validation failure is ErrGetPythPrice.
func (p PythAttestation) Read(now int64) (Reading, error) {
	u := &p.Update
	maxAge := p.MaxAge
	if maxAge <= 0 {
		maxAge = MaxAge
	}

	if !u.VerificationLevel.Full {
		return Reading{}, fmt.Errorf("partial verification (%d signatures): %w",
			u.VerificationLevel.NumSignatures, domain.ErrGetPythPrice)
	}
	if u.FeedID != p.FeedID {
		return Reading{}, fmt.Errorf("feed %x, escrow bound to %x: %w", u.FeedID, p.FeedID, domain.ErrGetPythPrice)
	}
	if u.PublishTime < now-maxAge {
		return Reading{}, fmt.Errorf("published %d, now %d, max age %ds: %w",
			u.PublishTime, now, maxAge, domain.ErrGetPythPrice)
	}

	price, err := PriceToU64(u.Price, u.Exponent, p.Decimals)
	if err != nil {
		return Reading{}, fmt.Errorf("convert attested price: %w", errors.Join(domain.ErrGetPythPrice, err))
	}

	return Reading{Attested: uint256.NewInt(price), PublishTime: u.PublishTime}, nil
}

// SourceOptions configures SourceFor.
type SourceOptions struct {
	AmmProgram   solana.Pubkey // owner of pool accounts
	OracleOffset int           // byte offset of the TWAP oracle inside a pool account
	Market       domain.Market // market the pool account trades

	FeedID   domain.FeedID
	Decimals uint8
	MaxAge   int64 // seconds; zero means MaxAge
}

// SourceFor selects a Source from the program that owns the supplied account.
func SourceFor(owner solana.Pubkey, data []byte, opts SourceOptions) (Source, error) {
	switch {
	case owner == solana.PythReceiverProgramID:
		u, err := layout.DecodePriceUpdate(data)
		if err != nil {
			return nil, errors.Join(domain.ErrGetPythPrice, err)
		}
		return PythAttestation{Update: *u, FeedID: opts.FeedID, Decimals: opts.Decimals, MaxAge: opts.MaxAge}, nil

	case !opts.AmmProgram.IsZero() && owner == opts.AmmProgram:
		o, err := layout.DecodeTwapOracle(data, opts.OracleOffset)
		if err != nil {
			return nil, err
		}
		return PoolTWAP{Market: opts.Market, Oracle: *o}, nil

	default:
		return nil, fmt.Errorf("account owned by %s: %w", owner, ErrUnsupportedSource)
	}
}

// ReadAll reads every source and merges the results. The first failure aborts.
func ReadAll(now int64, sources ...Source) (Reading, error) {
	var r Reading
	for _, s := range sources {
		one, err := s.Read(now)
		if err != nil {
			return Reading{}, err
		}
		r = r.Merge(one)
	}
	return r, nil
}

var (
	_ Source = PoolTWAP{}
	_ Source = ConditionalTWAP{}
	_ Source = PythAttestation{}
)
