// Package derive maps venue, proposal and depositor identities to canonical
// program addresses and builds the signer capability an escrow uses to move
// its own custody.
package derive

import (
	"fmt"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
)

// Seed prefixes.
var (
	LobbyistSeed = []byte("lobbyist:")
	EscrowSeed   = []byte("escrow:")
)

// Lobbyist derives the lobbyist address for a DAO.
// Seeds: "lobbyist:" | dao
func Lobbyist(program, dao solana.Pubkey) (solana.Pubkey, uint8, error) {
	return solana.FindProgramAddress(lobbyistSeeds(dao), program)
}

// Escrow derives the escrow address for a depositor under a lobbyist.
// Seeds: "escrow:" | lobbyist | depositor, or "escrow:" | lobbyist | proposal | depositor
// when proposal is non-zero.
func Escrow(program, lobbyist, proposal, depositor solana.Pubkey) (solana.Pubkey, uint8, error) {
	return solana.FindProgramAddress(escrowSeeds(lobbyist, proposal, depositor), program)
}

// AssociatedToken derives the associated token account of owner for mint.
// Seeds: owner | token program | mint, under the associated token program.
func AssociatedToken(owner, mint solana.Pubkey) (solana.Pubkey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], solana.TokenProgramID[:], mint[:]},
		solana.AssociatedTokenProgramID,
	)
	if err != nil {
		return solana.Pubkey{}, fmt.Errorf("derive associated token account: %w", err)
	}
	return addr, nil
}

// VerifyLobbyist checks that supplied is the canonical address of l and that
// l.Bump is the canonical bump.
func VerifyLobbyist(program, supplied solana.Pubkey, l *domain.Lobbyist) error {
	addr, bump, err := Lobbyist(program, l.Dao)
	if err != nil {
		return fmt.Errorf("derive lobbyist: %w", err)
	}
	if addr != supplied || bump != l.Bump {
		return fmt.Errorf("lobbyist %s (bump %d): %w", supplied, l.Bump, domain.ErrInvalidDerivation)
	}
	return nil
}

// VerifyEscrow checks that supplied is the canonical address of e and that
// e.Bump is the canonical bump.
func VerifyEscrow(program, supplied solana.Pubkey, e *domain.Escrow) error {
	addr, bump, err := Escrow(program, e.Lobbyist, e.Proposal, e.Depositor)
	if err != nil {
		return fmt.Errorf("derive escrow: %w", err)
	}
	if addr != supplied || bump != e.Bump {
		return fmt.Errorf("escrow %s (bump %d): %w", supplied, e.Bump, domain.ErrInvalidDerivation)
	}
	return nil
}

func lobbyistSeeds(dao solana.Pubkey) [][]byte {
	return [][]byte{LobbyistSeed, dao.Bytes()}
}

func escrowSeeds(lobbyist, proposal, depositor solana.Pubkey) [][]byte {
	if proposal.IsZero() {
		return [][]byte{EscrowSeed, lobbyist.Bytes(), depositor.Bytes()}
	}
	return [][]byte{EscrowSeed, lobbyist.Bytes(), proposal.Bytes(), depositor.Bytes()}
}
