package token

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"futarchy-lobbyist/internal/derive"
	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
	"futarchy-lobbyist/internal/storage/memory"
)

func key(name string) solana.Pubkey {
	return solana.Pubkey(sha256.Sum256([]byte(name)))
}

// fixture creates a 6-decimal mint and funded associated accounts for alice and bob.
func fixture(t *testing.T) (*memory.AccountStore, solana.Pubkey, solana.Pubkey, solana.Pubkey) {
	t.Helper()
	store := memory.NewAccountStore()
	ctx := context.Background()
	mint := key("mint")

	var aliceATA, bobATA solana.Pubkey
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.PutMint(ctx, &domain.Mint{Address: mint, Decimals: 6}); err != nil {
			return err
		}
		var err error
		if aliceATA, err = CreateAssociatedIdempotent(ctx, tx, key("alice"), mint); err != nil {
			return err
		}
		if bobATA, err = CreateAssociatedIdempotent(ctx, tx, key("bob"), mint); err != nil {
			return err
		}
		return MintTo(ctx, tx, mint, aliceATA, 1_000)
	})
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return store, mint, aliceATA, bobATA
}

func TestTransferChecked(t *testing.T) {
	store, mint, aliceATA, bobATA := fixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return TransferChecked(ctx, tx, aliceATA, bobATA, Wallet(key("alice")), mint, 400, 6)
	})
	if err != nil {
		t.Fatalf("TransferChecked: %v", err)
	}

	alice, _ := store.GetTokenAccount(ctx, aliceATA)
	bob, _ := store.GetTokenAccount(ctx, bobATA)
	if alice.Amount != 600 || bob.Amount != 400 {
		t.Errorf("balances = %d/%d, want 600/400", alice.Amount, bob.Amount)
	}
}

func TestTransferChecked_Rejects(t *testing.T) {
	store, mint, aliceATA, bobATA := fixture(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		from, to  solana.Pubkey
		authority Signer
		mint      solana.Pubkey
		amount    uint64
		decimals  uint8
		wantErr   error
	}{
		{"wrong decimals", aliceATA, bobATA, Wallet(key("alice")), mint, 1, 9, ErrDecimalsMismatch},
		{"wrong authority", aliceATA, bobATA, Wallet(key("bob")), mint, 1, 6, ErrOwnerMismatch},
		{"nil authority", aliceATA, bobATA, nil, mint, 1, 6, ErrOwnerMismatch},
		{"insufficient", aliceATA, bobATA, Wallet(key("alice")), mint, 1_001, 6, ErrInsufficientFunds},
		{"unknown mint", aliceATA, bobATA, Wallet(key("alice")), key("other"), 1, 6, ErrMintNotFound},
		{"missing destination", aliceATA, key("nowhere"), Wallet(key("alice")), mint, 1, 6, ErrAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.WithTx(ctx, func(tx storage.Tx) error {
				return TransferChecked(ctx, tx, tt.from, tt.to, tt.authority, tt.mint, tt.amount, tt.decimals)
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	alice, _ := store.GetTokenAccount(ctx, aliceATA)
	if alice.Amount != 1_000 {
		t.Errorf("failed transfers changed the source balance: %d", alice.Amount)
	}
}

func TestTransferChecked_EscrowSigner(t *testing.T) {
	store, mint, aliceATA, _ := fixture(t)
	ctx := context.Background()

	program := key("program")
	lobbyist := key("lobbyist")
	escrowAddr, bump, err := derive.Escrow(program, lobbyist, solana.Pubkey{}, key("alice"))
	if err != nil {
		t.Fatalf("derive.Escrow: %v", err)
	}
	e := domain.NewEscrow(domain.VariantSpot, bump, lobbyist, solana.Pubkey{}, key("alice"), domain.FeedID{})
	signer, err := derive.NewEscrowSigner(program, escrowAddr, e)
	if err != nil {
		t.Fatalf("NewEscrowSigner: %v", err)
	}

	var escrowATA solana.Pubkey
	err = store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		if escrowATA, err = CreateAssociatedIdempotent(ctx, tx, escrowAddr, mint); err != nil {
			return err
		}
		if err := TransferChecked(ctx, tx, aliceATA, escrowATA, Wallet(key("alice")), mint, 300, 6); err != nil {
			return err
		}
		return TransferChecked(ctx, tx, escrowATA, aliceATA, signer, mint, 100, 6)
	})
	if err != nil {
		t.Fatalf("escrow round trip: %v", err)
	}

	got, _ := store.GetTokenAccount(ctx, escrowATA)
	if got.Amount != 200 {
		t.Errorf("escrow custody = %d, want 200", got.Amount)
	}

	// The depositor's own key cannot move escrow custody.
	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return TransferChecked(ctx, tx, escrowATA, aliceATA, Wallet(key("alice")), mint, 1, 6)
	})
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("expected ErrOwnerMismatch, got %v", err)
	}
}

func TestCreateAssociatedIdempotent(t *testing.T) {
	store, mint, aliceATA, _ := fixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		again, err := CreateAssociatedIdempotent(ctx, tx, key("alice"), mint)
		if err != nil {
			return err
		}
		if again != aliceATA {
			t.Errorf("re-create returned %s, want %s", again, aliceATA)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	alice, _ := store.GetTokenAccount(ctx, aliceATA)
	if alice.Amount != 1_000 {
		t.Errorf("idempotent create reset the balance: %d", alice.Amount)
	}

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		_, err := CreateAssociatedIdempotent(ctx, tx, key("carol"), key("no-such-mint"))
		return err
	})
	if !errors.Is(err, ErrMintNotFound) {
		t.Errorf("expected ErrMintNotFound, got %v", err)
	}
}

func TestMintToAndBurn(t *testing.T) {
	store, mint, aliceATA, _ := fixture(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return MintTo(ctx, tx, mint, aliceATA, ^uint64(0))
	})
	if !errors.Is(err, domain.ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow, got %v", err)
	}

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		if err := Burn(ctx, tx, aliceATA, Wallet(key("alice")), mint, 250); err != nil {
			return err
		}
		m, err := tx.GetMint(ctx, mint)
		if err != nil {
			return err
		}
		if m.Supply != 750 {
			t.Errorf("supply = %d, want 750", m.Supply)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Burn: %v", err)
	}

	err = store.WithTx(ctx, func(tx storage.Tx) error {
		return Burn(ctx, tx, aliceATA, Wallet(key("bob")), mint, 1)
	})
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("expected ErrOwnerMismatch, got %v", err)
	}
}
