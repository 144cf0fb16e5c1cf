package domain

import "futarchy-lobbyist/internal/solana"

// Mint describes a fungible asset.
type Mint struct {
	Address  solana.Pubkey
	Decimals uint8
	Supply   uint64
}

// TokenAccount is a custody account holding one mint for one owner.
type TokenAccount struct {
	Address solana.Pubkey
	Mint    solana.Pubkey
	Owner   solana.Pubkey // authority allowed to move funds out
	Amount  uint64
}
