package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PubkeyLength is the size of an account address in bytes.
const PubkeyLength = 32

// Program derived address limits.
const (
	MaxSeeds      = 16
	MaxSeedLength = 32
)

const pdaMarker = "ProgramDerivedAddress"

// Derivation errors.
var (
	// ErrOnCurve is returned when a candidate program address lies on the ed25519 curve
	// and therefore could have a private key.
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")

	// ErrMaxSeedLength is returned when a seed exceeds MaxSeedLength or too many seeds are given.
	ErrMaxSeedLength = errors.New("seed length or count exceeds limits")

	// ErrNoViableBump is returned when no bump in [0, 255] yields an off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable program address bump")
)

// Well-known program addresses.
var (
	SystemProgramID          = MustParsePubkey("11111111111111111111111111111111")
	TokenProgramID           = MustParsePubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgramID = MustParsePubkey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	PythReceiverProgramID    = MustParsePubkey("rec5EKMGg6MxZYaMdyBfgwp4d5rB9T1VQH5pJv5LtFJ")
)

// Pubkey is a 32-byte account address.
type Pubkey [PubkeyLength]byte

// ParsePubkey decodes a base58 address.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	decoded, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	if len(decoded) != PubkeyLength {
		return pk, fmt.Errorf("pubkey %q has length %d, want %d", s, len(decoded), PubkeyLength)
	}
	copy(pk[:], decoded)
	return pk, nil
}

// MustParsePubkey is like ParsePubkey but panics on error.
func MustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PubkeyFromBytes copies b into a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeyLength {
		return pk, fmt.Errorf("pubkey bytes have length %d, want %d", len(b), PubkeyLength)
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 form.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// Bytes returns a copy of the address bytes.
func (p Pubkey) Bytes() []byte {
	b := make([]byte, PubkeyLength)
	copy(b, p[:])
	return b
}

// IsZero reports whether p is the all-zero address.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	pk, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

// IsOnCurve reports whether b decodes to a valid ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != PubkeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress derives a program address from seeds and an explicit bump.
// Formula: SHA256(seeds... | bump | programID | "ProgramDerivedAddress"), rejected if on curve.
func CreateProgramAddress(seeds [][]byte, bump uint8, programID Pubkey) (Pubkey, error) {
	if len(seeds)+1 > MaxSeeds {
		return Pubkey{}, ErrMaxSeedLength
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Pubkey{}, ErrMaxSeedLength
		}
		h.Write(seed)
	}
	h.Write([]byte{bump})
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var out Pubkey
	copy(out[:], h.Sum(nil))

	if IsOnCurve(out[:]) {
		return Pubkey{}, ErrOnCurve
	}
	return out, nil
}

// FindProgramAddress returns the canonical program address and bump for seeds:
// the first bump, counting down from 255, whose address is off the curve.
func FindProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateProgramAddress(seeds, uint8(bump), programID)
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return Pubkey{}, 0, err
		}
		return addr, uint8(bump), nil
	}
	return Pubkey{}, 0, ErrNoViableBump
}
