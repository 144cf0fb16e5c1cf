package domain

import "futarchy-lobbyist/internal/solana"

// EventKind names a committed ledger operation.
type EventKind string

// Event kinds
const (
	EventLobbyistInitialized EventKind = "LOBBYIST_INITIALIZED"
	EventEscrowInitialized   EventKind = "ESCROW_INITIALIZED"
	EventEscrowConfigured    EventKind = "ESCROW_CONFIGURED"
	EventDeposit             EventKind = "DEPOSIT"
	EventWithdraw            EventKind = "WITHDRAW"
	EventSplit               EventKind = "SPLIT"
	EventMerge               EventKind = "MERGE"
	EventTrade               EventKind = "TRADE"
)

// LedgerEvent is an append-only journal entry written after a committed operation.
type LedgerEvent struct {
	EventID     string // uuid
	Kind        EventKind
	Lobbyist    solana.Pubkey
	Escrow      solana.Pubkey // zero for lobbyist events
	Depositor   solana.Pubkey
	Market      Market // TRADE only
	BaseAmount  uint64 // amount moved on the base leg
	QuoteAmount uint64 // amount moved on the quote leg
	BaseAfter   uint64 // escrow base balance after the operation
	QuoteAfter  uint64 // escrow quote balance after the operation
	Timestamp   int64  // unix seconds supplied by the caller
}
