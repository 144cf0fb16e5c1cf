package ledger

import (
	"context"
	"crypto/sha256"
	"io"
	"log"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futarchy-lobbyist/internal/derive"
	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
	"futarchy-lobbyist/internal/storage/memory"
	"futarchy-lobbyist/internal/token"
)

var testProgram = solana.MustParsePubkey("3JceRWanoEVZSqsY9UGtxPA4XsSAnSKDTNWp2Sp3QQLu")

const testNow = 1_700_000_000

func key(name string) solana.Pubkey {
	return solana.Pubkey(sha256.Sum256([]byte(name)))
}

// env is a ledger over in-memory stores with one DAO, one pending proposal and its pools.
type env struct {
	t        *testing.T
	ctx      context.Context
	svc      *Service
	accounts *memory.AccountStore
	venues   *memory.VenueStore
	events   *memory.EventStore
}

func newEnv(t *testing.T, variant domain.Variant) *env {
	t.Helper()
	ctx := context.Background()
	accounts := memory.NewAccountStore()
	venues := memory.NewVenueStore()
	events := memory.NewEventStore()

	svc, err := New(Options{
		Program:        testProgram,
		Variant:        variant,
		Accounts:       accounts,
		Venues:         venues,
		Events:         events,
		Swapper:        NewPriceSwapper(DefaultPriceDecimals),
		VaultAuthority: key("vault"),
		Now:            func() int64 { return testNow },
		Logger:         log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)

	e := &env{t: t, ctx: ctx, svc: svc, accounts: accounts, venues: venues, events: events}
	e.seedVenue()
	return e
}

func (e *env) seedVenue() {
	ctx := e.ctx
	require.NoError(e.t, e.venues.PutDao(ctx, &domain.Dao{
		Address: key("dao"), BaseMint: key("META"), QuoteMint: key("USDC"), SpotPool: key("spot-pool"),
	}))
	require.NoError(e.t, e.venues.PutProposal(ctx, &domain.Proposal{
		Address: key("proposal"), Dao: key("dao"), State: domain.ProposalPending,
		PassPool: key("pass-pool"), FailPool: key("fail-pool"),
	}))
	for _, p := range []*domain.Pool{
		{Address: key("spot-pool"), BaseMint: key("META"), QuoteMint: key("USDC")},
		{Address: key("pass-pool"), BaseMint: key("pMETA"), QuoteMint: key("pUSDC")},
		{Address: key("fail-pool"), BaseMint: key("fMETA"), QuoteMint: key("fUSDC")},
	} {
		require.NoError(e.t, e.venues.PutPool(ctx, p))
	}

	err := e.accounts.WithTx(ctx, func(tx storage.Tx) error {
		for _, name := range []string{"META", "USDC", "pMETA", "pUSDC", "fMETA", "fUSDC"} {
			if err := tx.PutMint(ctx, &domain.Mint{Address: key(name), Decimals: 6}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(e.t, err)
}

// fund mints amount of mint into owner's associated account.
func (e *env) fund(owner solana.Pubkey, mint string, amount uint64) {
	e.t.Helper()
	err := e.accounts.WithTx(e.ctx, func(tx storage.Tx) error {
		addr, err := token.CreateAssociatedIdempotent(e.ctx, tx, owner, key(mint))
		if err != nil {
			return err
		}
		return token.MintTo(e.ctx, tx, key(mint), addr, amount)
	})
	require.NoError(e.t, err)
}

func (e *env) balance(owner solana.Pubkey, mint string) uint64 {
	e.t.Helper()
	addr, err := derive.AssociatedToken(owner, key(mint))
	require.NoError(e.t, err)
	a, err := e.accounts.GetTokenAccount(e.ctx, addr)
	require.NoError(e.t, err)
	return a.Amount
}

func (e *env) lobbyistRequest() InitializeLobbyistRequest {
	return InitializeLobbyistRequest{
		Dao:           key("dao"),
		Proposal:      key("proposal"),
		PassMarket:    key("pass-pool"),
		FailMarket:    key("fail-pool"),
		BaseMint:      key("META"),
		QuoteMint:     key("USDC"),
		PassBaseMint:  key("pMETA"),
		PassQuoteMint: key("pUSDC"),
		FailBaseMint:  key("fMETA"),
		FailQuoteMint: key("fUSDC"),
	}
}

// open initializes the lobbyist and an escrow for depositor.
func (e *env) open(depositor string) (lobbyist, escrow solana.Pubkey) {
	e.t.Helper()
	lobbyist, _, err := e.svc.InitializeLobbyist(e.ctx, e.lobbyistRequest())
	if err != nil {
		l, _, derr := derive.Lobbyist(testProgram, key("dao"))
		require.NoError(e.t, derr)
		lobbyist = l
		require.ErrorIs(e.t, err, domain.ErrAlreadyInitialized)
	}

	var feed domain.FeedID
	if e.svc.Variant() == domain.VariantPyth {
		feed = domain.FeedID(key("feed"))
	}
	escrow, _, err = e.svc.InitializeEscrow(e.ctx, InitializeEscrowRequest{
		Depositor:   key(depositor),
		Lobbyist:    lobbyist,
		Proposal:    key("proposal"),
		PriceFeedID: feed,
	})
	require.NoError(e.t, err)
	return lobbyist, escrow
}

func (e *env) custody(depositor string, lobbyist, escrow solana.Pubkey, base, quote uint64) CustodyRequest {
	return CustodyRequest{
		Depositor:   key(depositor),
		Escrow:      escrow,
		Lobbyist:    lobbyist,
		BaseMint:    key("META"),
		QuoteMint:   key("USDC"),
		BaseAmount:  base,
		QuoteAmount: quote,
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Program: testProgram, Variant: 9, Accounts: memory.NewAccountStore(), Venues: memory.NewVenueStore()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = New(Options{Variant: domain.VariantSpot, Accounts: memory.NewAccountStore(), Venues: memory.NewVenueStore()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = New(Options{Program: testProgram, Variant: domain.VariantSpot})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEndToEnd_DepositWithdraw(t *testing.T) {
	e := newEnv(t, domain.VariantSpot)
	e.fund(key("alice"), "META", 1_000)
	e.fund(key("alice"), "USDC", 1_000)

	lobbyist, escrow := e.open("alice")

	esc, err := e.svc.Escrow(e.ctx, escrow)
	require.NoError(t, err)
	assert.Zero(t, esc.BaseAmount)
	assert.Zero(t, esc.QuoteAmount)
	assert.False(t, esc.Active)

	esc, err = e.svc.Deposit(e.ctx, e.custody("alice", lobbyist, escrow, 500, 500))
	require.NoError(t, err)
	assert.Equal(t, uint64(500), esc.BaseAmount)
	assert.Equal(t, uint64(500), esc.QuoteAmount)
	assert.Equal(t, uint64(500), e.balance(escrow, "META"))
	assert.Equal(t, uint64(500), e.balance(key("alice"), "USDC"))

	esc, err = e.svc.Withdraw(e.ctx, e.custody("alice", lobbyist, escrow, 250, 250))
	require.NoError(t, err)
	assert.Equal(t, uint64(250), esc.BaseAmount)
	assert.Equal(t, uint64(250), esc.QuoteAmount)

	_, err = e.svc.Withdraw(e.ctx, e.custody("alice", lobbyist, escrow, 1_000, 0))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	esc, err = e.svc.Escrow(e.ctx, escrow)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), esc.BaseAmount)
	assert.Equal(t, uint64(250), esc.QuoteAmount)
	assert.Equal(t, uint64(250), e.balance(escrow, "META"))
	assert.Equal(t, uint64(750), e.balance(key("alice"), "META"))

	events, err := e.events.GetByEscrow(e.ctx, escrow)
	require.NoError(t, err)
	kinds := make([]domain.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
		assert.NotEmpty(t, ev.EventID)
	}
	assert.Equal(t, []domain.EventKind{domain.EventEscrowInitialized, domain.EventDeposit, domain.EventWithdraw}, kinds)
}

func TestWithdraw_PartialFailureLeavesBothLegs(t *testing.T) {
	e := newEnv(t, domain.VariantSpot)
	e.fund(key("alice"), "META", 100)
	e.fund(key("alice"), "USDC", 100)
	lobbyist, escrow := e.open("alice")

	_, err := e.svc.Deposit(e.ctx, e.custody("alice", lobbyist, escrow, 100, 10))
	require.NoError(t, err)

	_, err = e.svc.Withdraw(e.ctx, e.custody("alice", lobbyist, escrow, 50, 11))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	esc, err := e.svc.Escrow(e.ctx, escrow)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), esc.BaseAmount)
	assert.Equal(t, uint64(100), e.balance(escrow, "META"))
}

func TestAccountingRoundTrip(t *testing.T) {
	e := newEnv(t, domain.VariantSpot)
	e.fund(key("alice"), "META", 10_000)
	e.fund(key("alice"), "USDC", 10_000)
	lobbyist, escrow := e.open("alice")

	ops := []struct {
		deposit     bool
		base, quote uint64
	}{
		{true, 300, 10}, {true, 200, 0}, {false, 120, 5}, {true, 0, 700}, {false, 380, 0}, {false, 1, 1_000},
	}

	var wantBase, wantQuote uint64
	for _, op := range ops {
		req := e.custody("alice", lobbyist, escrow, op.base, op.quote)
		if op.deposit {
			_, err := e.svc.Deposit(e.ctx, req)
			require.NoError(t, err)
			wantBase += op.base
			wantQuote += op.quote
			continue
		}
		_, err := e.svc.Withdraw(e.ctx, req)
		if op.base > wantBase || op.quote > wantQuote {
			require.ErrorIs(t, err, domain.ErrInsufficientBalance)
			continue
		}
		require.NoError(t, err)
		wantBase -= op.base
		wantQuote -= op.quote
	}

	esc, err := e.svc.Escrow(e.ctx, escrow)
	require.NoError(t, err)
	assert.Equal(t, wantBase, esc.BaseAmount)
	assert.Equal(t, wantQuote, esc.QuoteAmount)
	assert.Equal(t, wantBase, e.balance(escrow, "META"))
	assert.Equal(t, wantQuote, e.balance(escrow, "USDC"))
}

func TestDeposit_Overflow(t *testing.T) {
	e := newEnv(t, domain.VariantSpot)
	lobbyist, escrow := e.open("alice")

	err := e.accounts.WithTx(e.ctx, func(tx storage.Tx) error {
		esc, err := tx.GetEscrow(e.ctx, escrow)
		if err != nil {
			return err
		}
		esc.BaseAmount = math.MaxUint64 - 1
		return tx.UpdateEscrow(e.ctx, escrow, esc)
	})
	require.NoError(t, err)
	e.fund(key("alice"), "META", 10)

	_, err = e.svc.Deposit(e.ctx, e.custody("alice", lobbyist, escrow, 2, 0))
	require.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	assert.Equal(t, uint64(10), e.balance(key("alice"), "META"))
}

func TestCustody_Rejects(t *testing.T) {
	e := newEnv(t, domain.VariantSpot)
	e.fund(key("alice"), "META", 100)
	lobbyist, escrow := e.open("alice")
	_, bobEscrow := e.open("bob")

	tests := []struct {
		name    string
		req     CustodyRequest
		wantErr error
	}{
		{"foreign depositor", e.custody("mallory", lobbyist, escrow, 1, 0), domain.ErrInvalidDepositor},
		{"escrow of another depositor", e.custody("alice", lobbyist, bobEscrow, 1, 0), domain.ErrInvalidDepositor},
		{"unknown escrow", e.custody("alice", lobbyist, key("nowhere"), 1, 0), domain.ErrNotInitialized},
		{"foreign lobbyist", e.custody("alice", key("other"), escrow, 1, 0), domain.ErrInvalidDao},
		{"wrong base mint", func() CustodyRequest {
			r := e.custody("alice", lobbyist, escrow, 1, 0)
			r.BaseMint = key("pMETA")
			return r
		}(), domain.ErrInvalidBaseMint},
		{"wrong quote mint", func() CustodyRequest {
			r := e.custody("alice", lobbyist, escrow, 1, 0)
			r.QuoteMint = key("META")
			return r
		}(), domain.ErrInvalidQuoteMint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Deposit(e.ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// the quote leg fails after the base leg moved; neither sticks
	e.fund(key("alice"), "USDC", 0)
	_, err := e.svc.Deposit(e.ctx, e.custody("alice", lobbyist, escrow, 100, 1))
	require.ErrorIs(t, err, token.ErrInsufficientFunds)
	assert.Equal(t, uint64(100), e.balance(key("alice"), "META"))
}

func TestCustody_NonCanonicalRecord(t *testing.T) {
	e := newEnv(t, domain.VariantSpot)
	lobbyist, escrow := e.open("alice")

	// copy alice's record under another address: derivation no longer matches
	forged := key("forged")
	err := e.accounts.WithTx(e.ctx, func(tx storage.Tx) error {
		esc, err := tx.GetEscrow(e.ctx, escrow)
		if err != nil {
			return err
		}
		return tx.InsertEscrow(e.ctx, forged, esc)
	})
	require.NoError(t, err)

	_, err = e.svc.Withdraw(e.ctx, e.custody("alice", lobbyist, forged, 0, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidDerivation)
}

func TestInitialize_Twice(t *testing.T) {
	e := newEnv(t, domain.VariantSpot)
	lobbyist, escrow := e.open("alice")

	_, _, err := e.svc.InitializeLobbyist(e.ctx, e.lobbyistRequest())
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	_, _, err = e.svc.InitializeEscrow(e.ctx, InitializeEscrowRequest{
		Depositor: key("alice"), Lobbyist: lobbyist, Proposal: key("proposal"),
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	esc, err := e.svc.Escrow(e.ctx, escrow)
	require.NoError(t, err)
	assert.Equal(t, key("alice"), esc.Depositor)
}

func TestInitializeLobbyist_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *InitializeLobbyistRequest)
		setup   func(e *env)
		wantErr error
	}{
		{"unknown dao", func(r *InitializeLobbyistRequest) { r.Dao = key("other-dao") }, nil, domain.ErrInvalidDao},
		{"base mint differs from dao", func(r *InitializeLobbyistRequest) { r.BaseMint = key("USDC") }, nil, domain.ErrInvalidBaseMint},
		{"quote mint differs from dao", func(r *InitializeLobbyistRequest) { r.QuoteMint = key("META") }, nil, domain.ErrInvalidQuoteMint},
		{"unknown proposal", func(r *InitializeLobbyistRequest) { r.Proposal = key("other-proposal") }, nil, domain.ErrInvalidProposal},
		{"pools differ from proposal", func(r *InitializeLobbyistRequest) { r.PassMarket, r.FailMarket = r.FailMarket, r.PassMarket }, nil, domain.ErrInvalidProposal},
		{"pass pool mints differ", func(r *InitializeLobbyistRequest) { r.PassBaseMint = key("fMETA") }, nil, domain.ErrInvalidBaseMint},
		{"fail pool quote mint differs", func(r *InitializeLobbyistRequest) { r.FailQuoteMint = key("pUSDC") }, nil, domain.ErrInvalidQuoteMint},
		{"proposal of another dao", nil, func(e *env) {
			require.NoError(t, e.venues.PutProposal(e.ctx, &domain.Proposal{
				Address: key("proposal"), Dao: key("other-dao"), State: domain.ProposalPending,
				PassPool: key("pass-pool"), FailPool: key("fail-pool"),
			}))
		}, domain.ErrInvalidDao},
		{"finalized proposal", nil, func(e *env) {
			require.NoError(t, e.venues.PutProposal(e.ctx, &domain.Proposal{
				Address: key("proposal"), Dao: key("dao"), State: domain.ProposalPassed,
				PassPool: key("pass-pool"), FailPool: key("fail-pool"),
			}))
		}, domain.ErrInvalidProposalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, domain.VariantConditional)
			if tt.setup != nil {
				tt.setup(e)
			}
			req := e.lobbyistRequest()
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			_, _, err := e.svc.InitializeLobbyist(e.ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestInitializeEscrow(t *testing.T) {
	t.Run("custody accounts for every held mint", func(t *testing.T) {
		e := newEnv(t, domain.VariantConditional)
		_, escrow := e.open("alice")
		for _, mint := range []string{"META", "USDC", "pMETA", "pUSDC", "fMETA", "fUSDC"} {
			assert.Zero(t, e.balance(escrow, mint), mint)
		}
	})

	t.Run("unknown lobbyist", func(t *testing.T) {
		e := newEnv(t, domain.VariantSpot)
		_, _, err := e.svc.InitializeEscrow(e.ctx, InitializeEscrowRequest{Depositor: key("alice"), Lobbyist: key("nowhere")})
		assert.ErrorIs(t, err, domain.ErrNotInitialized)
	})

	t.Run("proposal differs from lobbyist binding", func(t *testing.T) {
		e := newEnv(t, domain.VariantSpot)
		lobbyist, _, err := e.svc.InitializeLobbyist(e.ctx, e.lobbyistRequest())
		require.NoError(t, err)
		_, _, err = e.svc.InitializeEscrow(e.ctx, InitializeEscrowRequest{
			Depositor: key("alice"), Lobbyist: lobbyist, Proposal: key("other-proposal"),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidProposal)
	})

	t.Run("pyth escrow needs a feed", func(t *testing.T) {
		e := newEnv(t, domain.VariantPyth)
		lobbyist, _, err := e.svc.InitializeLobbyist(e.ctx, e.lobbyistRequest())
		require.NoError(t, err)
		_, _, err = e.svc.InitializeEscrow(e.ctx, InitializeEscrowRequest{
			Depositor: key("alice"), Lobbyist: lobbyist, Proposal: key("proposal"),
		})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("distinct depositors get distinct escrows", func(t *testing.T) {
		e := newEnv(t, domain.VariantSpot)
		_, a := e.open("alice")
		_, b := e.open("bob")
		assert.NotEqual(t, a, b)
	})
}

func TestConfigure(t *testing.T) {
	e := newEnv(t, domain.VariantSpot)
	_, escrow := e.open("alice")

	esc, err := e.svc.Configure(e.ctx, ConfigureRequest{
		Depositor: key("alice"), Escrow: escrow, Active: true, Bullish: true,
		BullishThresholdBps: 250, BearishThresholdBps: 10_000,
	})
	require.NoError(t, err)
	assert.True(t, esc.Active)
	assert.Equal(t, uint16(250), esc.BullishThresholdBps)

	_, err = e.svc.Configure(e.ctx, ConfigureRequest{Depositor: key("alice"), Escrow: escrow, BullishThresholdBps: 10_001})
	assert.ErrorIs(t, err, domain.ErrInvalidThreshold)

	_, err = e.svc.Configure(e.ctx, ConfigureRequest{Depositor: key("mallory"), Escrow: escrow, Active: false})
	assert.ErrorIs(t, err, domain.ErrInvalidDepositor)

	esc, err = e.svc.Escrow(e.ctx, escrow)
	require.NoError(t, err)
	assert.True(t, esc.Active)
}

func TestDeposit_Concurrent(t *testing.T) {
	e := newEnv(t, domain.VariantSpot)
	e.fund(key("alice"), "META", 1_000)
	lobbyist, escrow := e.open("alice")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Deposit(e.ctx, e.custody("alice", lobbyist, escrow, 10, 0))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	esc, err := e.svc.Escrow(e.ctx, escrow)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), esc.BaseAmount)
	assert.Equal(t, uint64(500), e.balance(escrow, "META"))
}
