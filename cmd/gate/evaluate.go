package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"futarchy-lobbyist/internal/derive"
	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/gate"
	"futarchy-lobbyist/internal/layout"
	"futarchy-lobbyist/internal/oracle"
	"futarchy-lobbyist/internal/solana"
)

// ErrWrongOwner is returned when a ledger record is not owned by the configured program.
var ErrWrongOwner = errors.New("account not owned by program")

// Evaluator reads an escrow, its lobbyist and its price sources from chain
// and runs the trade gate over them.
type Evaluator struct {
	rpc          solana.RPCClient
	codec        *layout.Codec
	program      solana.Pubkey
	ammProgram   solana.Pubkey
	oracleOffset int
	decimals     uint8
	maxAge       int64
	now          func() int64
}

// Report is the outcome of one evaluation.
type Report struct {
	Escrow    solana.Pubkey `json:"escrow"`
	Lobbyist  solana.Pubkey `json:"lobbyist"`
	Variant   string        `json:"variant"`
	Slot      int64         `json:"slot"`
	Now       int64         `json:"now"`
	Active    bool          `json:"active"`
	Bullish   bool          `json:"bullish"`
	Action    string        `json:"action"`
	Market    string        `json:"market,omitempty"`
	Current   string        `json:"current,omitempty"`
	Reference string        `json:"reference,omitempty"`
	Limit     string        `json:"limit,omitempty"`
	Error     string        `json:"error,omitempty"`
	Code      string        `json:"code,omitempty"`

	// Accounts whose changes can move the decision.
	Watch []solana.Pubkey `json:"-"`
}

// Evaluate fetches every account the decision depends on and authorizes a
// trade as the escrow's depositor would request it. Oracle and gate rejections
// are reported in the Report; fetch and decode failures are returned.
func (ev *Evaluator) Evaluate(ctx context.Context, escrowAddr, attestationAddr solana.Pubkey) (*Report, error) {
	e, err := ev.escrow(ctx, escrowAddr)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Escrow:   escrowAddr,
		Lobbyist: e.Lobbyist,
		Variant:  e.Variant.String(),
		Active:   e.Active,
		Bullish:  e.Bullish,
	}

	var (
		l           *domain.Lobbyist
		attestation *solana.AccountInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		l, err = ev.lobbyist(gctx, e.Lobbyist)
		return err
	})
	g.Go(func() error {
		var err error
		rep.Slot, rep.Now, err = ev.clock(gctx)
		return err
	})
	if e.Variant == domain.VariantPyth && !attestationAddr.IsZero() {
		g.Go(func() error {
			info, err := ev.rpc.GetAccountInfo(gctx, attestationAddr)
			if err != nil {
				return fmt.Errorf("fetch attestation %s: %w", attestationAddr, err)
			}
			attestation = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	markets := poolMarkets(e.Variant)
	pools := make([]solana.Pubkey, len(markets))
	for i, m := range markets {
		pools[i] = l.MarketAddress(m)
	}
	rep.Watch = append([]solana.Pubkey{escrowAddr}, pools...)
	if !attestationAddr.IsZero() {
		rep.Watch = append(rep.Watch, attestationAddr)
	}

	infos, err := ev.rpc.GetMultipleAccounts(ctx, pools)
	if err != nil {
		return nil, fmt.Errorf("fetch pools: %w", err)
	}

	sources := make([]oracle.Source, 0, len(infos)+1)
	for i, info := range infos {
		if info == nil {
			missing := domain.ErrInvalidProposal
			if markets[i] == domain.MarketSpot {
				missing = domain.ErrInvalidDao
			}
			return rep.reject(fmt.Errorf("%s pool %s missing: %w", markets[i], pools[i], missing)), nil
		}
		src, err := oracle.SourceFor(info.Owner, info.Data, ev.sourceOptions(markets[i], e))
		if err != nil {
			return rep.reject(fmt.Errorf("%s pool %s: %w", markets[i], pools[i], err)), nil
		}
		sources = append(sources, src)
	}
	if e.Variant == domain.VariantPyth {
		if attestation == nil {
			return rep.reject(fmt.Errorf("no price attestation: %w", domain.ErrGetPythPrice)), nil
		}
		src, err := oracle.SourceFor(attestation.Owner, attestation.Data, ev.sourceOptions(domain.MarketSpot, e))
		if err != nil {
			return rep.reject(err), nil
		}
		sources = append(sources, src)
	}

	reading, err := oracle.ReadAll(rep.Now, sources...)
	if err != nil {
		return rep.reject(err), nil
	}

	market := gate.TradeMarket(e.Variant)
	base, quote := l.MarketMints(market)
	d, err := gate.Authorize(l, e, gate.Accounts{
		Signer:    e.Depositor,
		Lobbyist:  e.Lobbyist,
		Dao:       l.Dao,
		Proposal:  e.Proposal,
		BaseMint:  base,
		QuoteMint: quote,
	}, reading)
	if err != nil {
		return rep.reject(err), nil
	}

	rep.Action = string(d.Action)
	rep.Market = string(d.Market)
	rep.Current = ev.format(d.Current)
	rep.Reference = ev.format(d.Reference)
	rep.Limit = ev.format(d.Limit)
	return rep, nil
}

func (ev *Evaluator) escrow(ctx context.Context, addr solana.Pubkey) (*domain.Escrow, error) {
	info, err := ev.record(ctx, "escrow", addr)
	if err != nil {
		return nil, err
	}
	e, err := ev.codec.DecodeEscrow(info.Data)
	if err != nil {
		return nil, fmt.Errorf("escrow %s: %w", addr, err)
	}
	if err := derive.VerifyEscrow(ev.program, addr, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (ev *Evaluator) lobbyist(ctx context.Context, addr solana.Pubkey) (*domain.Lobbyist, error) {
	info, err := ev.record(ctx, "lobbyist", addr)
	if err != nil {
		return nil, err
	}
	l, err := ev.codec.DecodeLobbyist(info.Data)
	if err != nil {
		return nil, fmt.Errorf("lobbyist %s: %w", addr, err)
	}
	if err := derive.VerifyLobbyist(ev.program, addr, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (ev *Evaluator) record(ctx context.Context, what string, addr solana.Pubkey) (*solana.AccountInfo, error) {
	info, err := ev.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", what, addr, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%s %s: %w", what, addr, domain.ErrNotInitialized)
	}
	if info.Owner != ev.program {
		return nil, fmt.Errorf("%s %s owned by %s: %w", what, addr, info.Owner, ErrWrongOwner)
	}
	return info, nil
}

// clock returns the current slot and its block time, falling back to the
// local clock when the node has no time for the slot.
func (ev *Evaluator) clock(ctx context.Context) (int64, int64, error) {
	slot, err := ev.rpc.GetSlot(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("get slot: %w", err)
	}
	bt, err := ev.rpc.GetBlockTime(ctx, slot)
	if err != nil {
		return 0, 0, fmt.Errorf("get block time for slot %d: %w", slot, err)
	}
	if bt == nil {
		return slot, ev.now(), nil
	}
	return slot, *bt, nil
}

func (ev *Evaluator) sourceOptions(m domain.Market, e *domain.Escrow) oracle.SourceOptions {
	return oracle.SourceOptions{
		AmmProgram:   ev.ammProgram,
		OracleOffset: ev.oracleOffset,
		Market:       m,
		FeedID:       e.PriceFeedID,
		Decimals:     ev.decimals,
		MaxAge:       ev.maxAge,
	}
}

func (ev *Evaluator) format(p *uint256.Int) string {
	if p == nil {
		return ""
	}
	return decimal.NewFromBigInt(p.ToBig(), -int32(ev.decimals)).String()
}

// poolMarkets lists the pools the gate reads for variant v.
func poolMarkets(v domain.Variant) []domain.Market {
	switch v {
	case domain.VariantConditional:
		return []domain.Market{domain.MarketSpot, domain.MarketPass, domain.MarketFail}
	case domain.VariantPyth:
		return []domain.Market{domain.MarketPass}
	default:
		return []domain.Market{domain.MarketSpot}
	}
}

func (r *Report) reject(err error) *Report {
	r.Action = "REJECTED"
	r.Error = err.Error()
	r.Code = domain.ErrorCode(err)
	return r
}

func newEvaluator(rpc solana.RPCClient, codec *layout.Codec, program, amm solana.Pubkey, offset int, decimals uint8, maxAge int64) *Evaluator {
	return &Evaluator{
		rpc:          rpc,
		codec:        codec,
		program:      program,
		ammProgram:   amm,
		oracleOffset: offset,
		decimals:     decimals,
		maxAge:       maxAge,
		now:          func() int64 { return time.Now().Unix() },
	}
}
