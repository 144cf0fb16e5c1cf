package derive

import (
	"crypto/sha256"
	"errors"
	"testing"

	sologo "github.com/gagliardetto/solana-go"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
)

var testProgram = solana.MustParsePubkey("3JceRWanoEVZSqsY9UGtxPA4XsSAnSKDTNWp2Sp3QQLu")

// key returns a deterministic test address.
func key(name string) solana.Pubkey {
	return solana.Pubkey(sha256.Sum256([]byte(name)))
}

func TestEscrow_DistinctDepositors(t *testing.T) {
	lobbyist, _, err := Lobbyist(testProgram, key("dao"))
	if err != nil {
		t.Fatalf("Lobbyist: %v", err)
	}

	a, _, err := Escrow(testProgram, lobbyist, solana.Pubkey{}, key("alice"))
	if err != nil {
		t.Fatalf("Escrow alice: %v", err)
	}
	b, _, err := Escrow(testProgram, lobbyist, solana.Pubkey{}, key("bob"))
	if err != nil {
		t.Fatalf("Escrow bob: %v", err)
	}

	if a == b {
		t.Error("two depositors under one lobbyist derived the same escrow")
	}
}

func TestEscrow_DistinctLobbyistsAndProposals(t *testing.T) {
	depositor := key("alice")

	l1, _, _ := Lobbyist(testProgram, key("dao-1"))
	l2, _, _ := Lobbyist(testProgram, key("dao-2"))
	if l1 == l2 {
		t.Fatal("two DAOs derived the same lobbyist")
	}

	e1, _, _ := Escrow(testProgram, l1, solana.Pubkey{}, depositor)
	e2, _, _ := Escrow(testProgram, l2, solana.Pubkey{}, depositor)
	if e1 == e2 {
		t.Error("same depositor under two lobbyists derived the same escrow")
	}

	p1, _, _ := Escrow(testProgram, l1, key("proposal-1"), depositor)
	p2, _, _ := Escrow(testProgram, l1, key("proposal-2"), depositor)
	if p1 == p2 {
		t.Error("same depositor under two proposals derived the same escrow")
	}
	if p1 == e1 {
		t.Error("proposal-bound escrow collides with unbound escrow")
	}
}

func TestEscrow_Deterministic(t *testing.T) {
	lobbyist := key("lobbyist")
	depositor := key("depositor")

	first, firstBump, err := Escrow(testProgram, lobbyist, solana.Pubkey{}, depositor)
	if err != nil {
		t.Fatalf("Escrow: %v", err)
	}
	for i := 0; i < 5; i++ {
		addr, bump, err := Escrow(testProgram, lobbyist, solana.Pubkey{}, depositor)
		if err != nil {
			t.Fatalf("Escrow: %v", err)
		}
		if addr != first || bump != firstBump {
			t.Fatalf("derivation %d not deterministic: %s/%d != %s/%d", i, addr, bump, first, firstBump)
		}
	}
}

func TestVerifyEscrow(t *testing.T) {
	lobbyist := key("lobbyist")
	depositor := key("depositor")
	addr, bump, err := Escrow(testProgram, lobbyist, solana.Pubkey{}, depositor)
	if err != nil {
		t.Fatalf("Escrow: %v", err)
	}

	good := domain.NewEscrow(domain.VariantSpot, bump, lobbyist, solana.Pubkey{}, depositor, domain.FeedID{})
	if err := VerifyEscrow(testProgram, addr, good); err != nil {
		t.Errorf("VerifyEscrow(canonical) = %v", err)
	}

	tests := []struct {
		name     string
		supplied solana.Pubkey
		escrow   *domain.Escrow
	}{
		{"wrong address", key("other"), good},
		{"non-canonical bump", addr, domain.NewEscrow(domain.VariantSpot, bump-1, lobbyist, solana.Pubkey{}, depositor, domain.FeedID{})},
		{"foreign depositor", addr, domain.NewEscrow(domain.VariantSpot, bump, lobbyist, solana.Pubkey{}, key("mallory"), domain.FeedID{})},
		{"foreign lobbyist", addr, domain.NewEscrow(domain.VariantSpot, bump, key("lobbyist-2"), solana.Pubkey{}, depositor, domain.FeedID{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyEscrow(testProgram, tt.supplied, tt.escrow)
			if !errors.Is(err, domain.ErrInvalidDerivation) {
				t.Errorf("expected ErrInvalidDerivation, got %v", err)
			}
		})
	}
}

func TestVerifyLobbyist(t *testing.T) {
	dao := key("dao")
	addr, bump, err := Lobbyist(testProgram, dao)
	if err != nil {
		t.Fatalf("Lobbyist: %v", err)
	}

	l := &domain.Lobbyist{Variant: domain.VariantSpot, Bump: bump, Dao: dao}
	if err := VerifyLobbyist(testProgram, addr, l); err != nil {
		t.Errorf("VerifyLobbyist(canonical) = %v", err)
	}

	l.Dao = key("other-dao")
	if err := VerifyLobbyist(testProgram, addr, l); !errors.Is(err, domain.ErrInvalidDerivation) {
		t.Errorf("expected ErrInvalidDerivation, got %v", err)
	}
}

func TestNewEscrowSigner(t *testing.T) {
	lobbyist := key("lobbyist")
	proposal := key("proposal")
	depositor := key("depositor")
	addr, bump, err := Escrow(testProgram, lobbyist, proposal, depositor)
	if err != nil {
		t.Fatalf("Escrow: %v", err)
	}
	e := domain.NewEscrow(domain.VariantConditional, bump, lobbyist, proposal, depositor, domain.FeedID{})

	signer, err := NewEscrowSigner(testProgram, addr, e)
	if err != nil {
		t.Fatalf("NewEscrowSigner: %v", err)
	}
	if signer.SignerAddress() != addr {
		t.Errorf("SignerAddress = %s, want %s", signer.SignerAddress(), addr)
	}

	seeds := signer.SignerSeeds()
	if len(seeds) != 5 {
		t.Fatalf("expected 5 seeds (prefix, lobbyist, proposal, depositor, bump), got %d", len(seeds))
	}
	if len(seeds[4]) != 1 || seeds[4][0] != bump {
		t.Errorf("last seed = %v, want [%d]", seeds[4], bump)
	}

	if _, err := NewEscrowSigner(testProgram, key("other"), e); !errors.Is(err, domain.ErrInvalidDerivation) {
		t.Errorf("expected ErrInvalidDerivation for foreign address, got %v", err)
	}

	var zero *EscrowSigner
	if !zero.SignerAddress().IsZero() {
		t.Error("nil signer should sign for the zero address")
	}
}

func TestAssociatedToken_MatchesReference(t *testing.T) {
	owner := key("wallet")
	mint := key("mint")

	got, err := AssociatedToken(owner, mint)
	if err != nil {
		t.Fatalf("AssociatedToken: %v", err)
	}

	want, _, err := sologo.FindAssociatedTokenAddress(
		sologo.PublicKeyFromBytes(owner[:]),
		sologo.PublicKeyFromBytes(mint[:]),
	)
	if err != nil {
		t.Fatalf("reference FindAssociatedTokenAddress: %v", err)
	}
	if got.String() != want.String() {
		t.Errorf("AssociatedToken = %s, want %s", got, want)
	}
}
