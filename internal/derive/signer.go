package derive

import (
	"fmt"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
)

// EscrowSigner lets an escrow authorize transfers out of the custody accounts it owns.
// It can only be obtained from NewEscrowSigner, which re-derives the escrow address
// from the record's own seeds and bump.
type EscrowSigner struct {
	address solana.Pubkey
	seeds   [][]byte
	bump    uint8
}

// NewEscrowSigner rebuilds the escrow's signing seeds from (lobbyist[, proposal], depositor, bump)
// and checks they produce the supplied address.
func NewEscrowSigner(program, supplied solana.Pubkey, e *domain.Escrow) (*EscrowSigner, error) {
	seeds := escrowSeeds(e.Lobbyist, e.Proposal, e.Depositor)

	addr, err := solana.CreateProgramAddress(seeds, e.Bump, program)
	if err != nil {
		return nil, fmt.Errorf("escrow signer: %w: %v", domain.ErrInvalidDerivation, err)
	}
	if addr != supplied {
		return nil, fmt.Errorf("escrow signer %s: %w", supplied, domain.ErrInvalidDerivation)
	}

	return &EscrowSigner{address: addr, seeds: seeds, bump: e.Bump}, nil
}

// SignerAddress returns the address this capability signs for.
// A zero-value EscrowSigner signs for nothing.
func (s *EscrowSigner) SignerAddress() solana.Pubkey {
	if s == nil {
		return solana.Pubkey{}
	}
	return s.address
}

// SignerSeeds returns the seeds including the bump, as a program would pass to invoke_signed.
func (s *EscrowSigner) SignerSeeds() [][]byte {
	out := make([][]byte, 0, len(s.seeds)+1)
	for _, seed := range s.seeds {
		out = append(out, append([]byte(nil), seed...))
	}
	return append(out, []byte{s.bump})
}
