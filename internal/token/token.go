// Package token is the custody primitive: exact-amount transfers between
// token accounts held in the account store, checked against the mint's
// declared decimals and the source account's owner.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"futarchy-lobbyist/internal/derive"
	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
)

// Token errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds in source account")
	ErrOwnerMismatch     = errors.New("authority does not own the source account")
	ErrMintMismatch      = errors.New("account mint does not match")
	ErrDecimalsMismatch  = errors.New("decimals do not match the mint")
	ErrAccountNotFound   = errors.New("token account not found")
	ErrMintNotFound      = errors.New("mint not found")
)

// Signer authorizes movements out of accounts it owns.
// Implemented by Wallet and derive.EscrowSigner.
type Signer interface {
	SignerAddress() solana.Pubkey
}

// Wallet is an externally owned signer, such as a depositor whose signature
// has been verified by the caller.
type Wallet solana.Pubkey

// SignerAddress returns the wallet address.
func (w Wallet) SignerAddress() solana.Pubkey {
	return solana.Pubkey(w)
}

var (
	_ Signer = Wallet{}
	_ Signer = (*derive.EscrowSigner)(nil)
)

// TransferChecked moves amount of mint from one account to another inside tx.
// decimals must equal the mint's declared precision.
func TransferChecked(
	ctx context.Context,
	tx storage.Tx,
	from, to solana.Pubkey,
	authority Signer,
	mint solana.Pubkey,
	amount uint64,
	decimals uint8,
) error {
	if err := checkDecimals(ctx, tx, mint, decimals); err != nil {
		return err
	}

	src, err := account(ctx, tx, from, mint)
	if err != nil {
		return fmt.Errorf("transfer source: %w", err)
	}
	dst, err := account(ctx, tx, to, mint)
	if err != nil {
		return fmt.Errorf("transfer destination: %w", err)
	}

	if authority == nil || authority.SignerAddress() != src.Owner {
		return fmt.Errorf("transfer from %s: %w", from, ErrOwnerMismatch)
	}
	if src.Amount < amount {
		return fmt.Errorf("transfer %d from %s holding %d: %w", amount, from, src.Amount, ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}

	sum, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return fmt.Errorf("transfer to %s: %w", to, domain.ErrArithmeticOverflow)
	}

	src.Amount -= amount
	dst.Amount = sum

	if err := tx.UpdateTokenAccount(ctx, src); err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if err := tx.UpdateTokenAccount(ctx, dst); err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return nil
}

// MintTo creates amount new tokens in dest. Mint authority is checked by the caller.
func MintTo(ctx context.Context, tx storage.Tx, mint, dest solana.Pubkey, amount uint64) error {
	m, err := tx.GetMint(ctx, mint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("mint %s: %w", mint, ErrMintNotFound)
		}
		return err
	}
	dst, err := account(ctx, tx, dest, mint)
	if err != nil {
		return fmt.Errorf("mint to: %w", err)
	}

	supply, carry := bits.Add64(m.Supply, amount, 0)
	if carry != 0 {
		return fmt.Errorf("mint %s supply: %w", mint, domain.ErrArithmeticOverflow)
	}
	balance, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return fmt.Errorf("mint to %s: %w", dest, domain.ErrArithmeticOverflow)
	}

	m.Supply = supply
	dst.Amount = balance
	if err := tx.PutMint(ctx, m); err != nil {
		return err
	}
	return tx.UpdateTokenAccount(ctx, dst)
}

// Burn destroys amount tokens held in from, authorized by its owner.
func Burn(ctx context.Context, tx storage.Tx, from solana.Pubkey, authority Signer, mint solana.Pubkey, amount uint64) error {
	m, err := tx.GetMint(ctx, mint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("mint %s: %w", mint, ErrMintNotFound)
		}
		return err
	}
	src, err := account(ctx, tx, from, mint)
	if err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	if authority == nil || authority.SignerAddress() != src.Owner {
		return fmt.Errorf("burn from %s: %w", from, ErrOwnerMismatch)
	}
	if src.Amount < amount {
		return fmt.Errorf("burn %d from %s holding %d: %w", amount, from, src.Amount, ErrInsufficientFunds)
	}

	src.Amount -= amount
	m.Supply -= amount
	if err := tx.PutMint(ctx, m); err != nil {
		return err
	}
	return tx.UpdateTokenAccount(ctx, src)
}

// CreateAssociatedIdempotent ensures owner's associated account for mint exists
// and returns its address. An existing account is accepted only if it matches.
func CreateAssociatedIdempotent(ctx context.Context, tx storage.Tx, owner, mint solana.Pubkey) (solana.Pubkey, error) {
	addr, err := derive.AssociatedToken(owner, mint)
	if err != nil {
		return solana.Pubkey{}, err
	}

	existing, err := tx.GetTokenAccount(ctx, addr)
	switch {
	case err == nil:
		if existing.Mint != mint {
			return solana.Pubkey{}, fmt.Errorf("associated account %s: %w", addr, ErrMintMismatch)
		}
		if existing.Owner != owner {
			return solana.Pubkey{}, fmt.Errorf("associated account %s: %w", addr, ErrOwnerMismatch)
		}
		return addr, nil
	case !errors.Is(err, storage.ErrNotFound):
		return solana.Pubkey{}, err
	}

	if _, err := tx.GetMint(ctx, mint); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return solana.Pubkey{}, fmt.Errorf("mint %s: %w", mint, ErrMintNotFound)
		}
		return solana.Pubkey{}, err
	}

	if err := tx.InsertTokenAccount(ctx, &domain.TokenAccount{Address: addr, Mint: mint, Owner: owner}); err != nil {
		return solana.Pubkey{}, fmt.Errorf("create associated account %s: %w", addr, err)
	}
	return addr, nil
}

// Decimals returns the declared precision of mint.
func Decimals(ctx context.Context, tx storage.Tx, mint solana.Pubkey) (uint8, error) {
	m, err := tx.GetMint(ctx, mint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("mint %s: %w", mint, ErrMintNotFound)
		}
		return 0, err
	}
	return m.Decimals, nil
}

func checkDecimals(ctx context.Context, tx storage.Tx, mint solana.Pubkey, decimals uint8) error {
	declared, err := Decimals(ctx, tx, mint)
	if err != nil {
		return err
	}
	if declared != decimals {
		return fmt.Errorf("mint %s declares %d decimals, got %d: %w", mint, declared, decimals, ErrDecimalsMismatch)
	}
	return nil
}

func account(ctx context.Context, tx storage.Tx, addr, mint solana.Pubkey) (*domain.TokenAccount, error) {
	a, err := tx.GetTokenAccount(ctx, addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", addr, ErrAccountNotFound)
		}
		return nil, err
	}
	if a.Mint != mint {
		return nil, fmt.Errorf("%s holds %s, want %s: %w", addr, a.Mint, mint, ErrMintMismatch)
	}
	return a, nil
}
