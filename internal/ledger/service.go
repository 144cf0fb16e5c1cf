// Package ledger runs the escrow operations: lobbyist and escrow creation,
// configuration, deposits, withdrawals, conditional splits and merges, and
// gated trades. Each operation holds the escrow's record lock and commits
// its record and custody changes in one storage transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"futarchy-lobbyist/internal/derive"
	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/lock"
	"futarchy-lobbyist/internal/observability"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
)

// ErrInvalidRequest is returned for requests missing a required field.
var ErrInvalidRequest = errors.New("invalid request")

// DefaultPriceDecimals is the fixed-point precision attested prices are
// converted to, matching the pool TWAP scale.
const DefaultPriceDecimals = 12

// Service executes ledger operations for one program deployment.
type Service struct {
	program        solana.Pubkey
	variant        domain.Variant
	accounts       storage.AccountStore
	venues         storage.VenueStore
	events         storage.EventStore
	locks          lock.Manager
	swapper        Swapper
	vaultAuthority solana.Pubkey
	priceDecimals  uint8
	maxAttestAge   int64
	now            func() int64
	logger         *log.Logger
}

// Options for creating a Service.
type Options struct {
	// Required
	Program  solana.Pubkey
	Variant  domain.Variant
	Accounts storage.AccountStore
	Venues   storage.VenueStore

	// Optional
	Events         storage.EventStore // journal; nil disables it
	Locks          lock.Manager       // Default: in-process locks
	Swapper        Swapper            // required by Trade
	VaultAuthority solana.Pubkey      // owner of conditional vault reserves
	PriceDecimals  uint8              // Default: DefaultPriceDecimals
	MaxAttestAge   int64              // seconds; Default: oracle.MaxAge
	Now            func() int64       // unix seconds; Default: wall clock
	Logger         *log.Logger
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if !opts.Variant.Valid() {
		return nil, fmt.Errorf("schema variant %d: %w", opts.Variant, ErrInvalidRequest)
	}
	if opts.Program.IsZero() {
		return nil, fmt.Errorf("program id: %w", ErrInvalidRequest)
	}
	if opts.Accounts == nil || opts.Venues == nil {
		return nil, fmt.Errorf("account and venue stores: %w", ErrInvalidRequest)
	}

	locks := opts.Locks
	if locks == nil {
		locks = lock.NewLocal()
	}

	priceDecimals := opts.PriceDecimals
	if priceDecimals == 0 {
		priceDecimals = DefaultPriceDecimals
	}

	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		program:        opts.Program,
		variant:        opts.Variant,
		accounts:       opts.Accounts,
		venues:         opts.Venues,
		events:         opts.Events,
		locks:          locks,
		swapper:        opts.Swapper,
		vaultAuthority: opts.VaultAuthority,
		priceDecimals:  priceDecimals,
		maxAttestAge:   opts.MaxAttestAge,
		now:            now,
		logger:         logger,
	}, nil
}

// Program returns the program id addresses are derived under.
func (s *Service) Program() solana.Pubkey {
	return s.program
}

// Variant returns the deployment's schema variant.
func (s *Service) Variant() domain.Variant {
	return s.variant
}

// Escrow returns a committed escrow.
func (s *Service) Escrow(ctx context.Context, addr solana.Pubkey) (*domain.Escrow, error) {
	e, err := s.accounts.GetEscrow(ctx, addr)
	if err != nil {
		return nil, notInitialized(err, "escrow", addr)
	}
	return e, nil
}

// Lobbyist returns a committed lobbyist.
func (s *Service) Lobbyist(ctx context.Context, addr solana.Pubkey) (*domain.Lobbyist, error) {
	l, err := s.accounts.GetLobbyist(ctx, addr)
	if err != nil {
		return nil, notInitialized(err, "lobbyist", addr)
	}
	return l, nil
}

// run holds the locks for keys, executes fn in one transaction and records the outcome.
func (s *Service) run(ctx context.Context, op string, keys []solana.Pubkey, fn func(tx storage.Tx) error) error {
	start := time.Now()

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}

	unlock, err := lock.AcquireAll(ctx, s.locks, names...)
	observability.RecordLockWait(time.Since(start).Seconds())
	if err == nil {
		err = s.accounts.WithTx(ctx, fn)
		unlock()
	}

	code := "OK"
	if err != nil {
		code = domain.ErrorCode(err)
		s.logger.Printf("%s failed: %v", op, err)
	}
	observability.RecordOperation(op, code, time.Since(start).Seconds())
	return err
}

// journal appends a committed operation to the event store.
// The operation has already committed, so failures are logged, not returned.
func (s *Service) journal(ctx context.Context, ev *domain.LedgerEvent) {
	if s.events == nil {
		return
	}
	ev.EventID = uuid.NewString()
	if ev.Timestamp == 0 {
		ev.Timestamp = s.now()
	}

	start := time.Now()
	err := s.events.Insert(ctx, ev)
	observability.RecordDBQuery("journal", "insert_event", time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Printf("journal %s for %s: %v", ev.Kind, ev.Escrow, err)
		return
	}
	observability.RecordEventJournaled()
}

// loadEscrow reads an escrow inside tx and checks its derivation, variant and depositor.
func (s *Service) loadEscrow(ctx context.Context, tx storage.Tx, addr, signer solana.Pubkey) (*domain.Escrow, *domain.Lobbyist, error) {
	e, err := tx.GetEscrow(ctx, addr)
	if err != nil {
		return nil, nil, notInitialized(err, "escrow", addr)
	}
	if e.Variant != s.variant {
		return nil, nil, fmt.Errorf("escrow %s is %s: %w", addr, e.Variant, domain.ErrVariantMismatch)
	}
	if err := derive.VerifyEscrow(s.program, addr, e); err != nil {
		return nil, nil, err
	}
	if e.Depositor != signer {
		return nil, nil, fmt.Errorf("signer %s for escrow %s: %w", signer, addr, domain.ErrInvalidDepositor)
	}

	l, err := tx.GetLobbyist(ctx, e.Lobbyist)
	if err != nil {
		return nil, nil, notInitialized(err, "lobbyist", e.Lobbyist)
	}
	return e, l, nil
}

// observeRejected counts a request rejected before any lock was taken.
func observeRejected(op string, err error) {
	observability.RecordRejected(op, domain.ErrorCode(err))
}

func notInitialized(err error, what string, addr solana.Pubkey) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, addr, domain.ErrNotInitialized)
	}
	return err
}

func alreadyInitialized(err error, what string, addr solana.Pubkey) error {
	if errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("%s %s: %w", what, addr, domain.ErrAlreadyInitialized)
	}
	return err
}
