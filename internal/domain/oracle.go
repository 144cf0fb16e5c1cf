package domain

import (
	"github.com/holiman/uint256"

	"futarchy-lobbyist/internal/solana"
)

// TwapOracle is the time-weighted price accumulator kept by a pool.
// Timestamps are unix seconds; Aggregator accumulates price*seconds (u128 on chain).
type TwapOracle struct {
	Aggregator                    uint256.Int
	LastUpdatedTimestamp          int64
	CreatedAtTimestamp            int64
	LastPrice                     uint256.Int
	LastObservation               uint256.Int
	MaxObservationChangePerUpdate uint256.Int
	InitialObservation            uint256.Int
	StartDelaySeconds             uint32
}

// VerificationLevel reports how many guardian signatures backed an attestation.
type VerificationLevel struct {
	Full          bool
	NumSignatures uint8 // meaningful when Full is false
}

// PriceUpdate is a posted Pyth price attestation (PriceUpdateV2 account).
type PriceUpdate struct {
	WriteAuthority    solana.Pubkey
	VerificationLevel VerificationLevel

	FeedID          FeedID
	Price           int64
	Conf            uint64
	Exponent        int32
	PublishTime     int64 // unix seconds
	PrevPublishTime int64
	EmaPrice        int64
	EmaConf         uint64

	PostedSlot uint64
}
