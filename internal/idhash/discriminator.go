package idhash

import (
	"crypto/sha256"
	"encoding/hex"
)

// DiscriminatorSize is the length of an account discriminator prefix.
const DiscriminatorSize = 8

// Discriminator is the type tag stored in the first bytes of every record.
type Discriminator [DiscriminatorSize]byte

// String returns the hex form of d.
func (d Discriminator) String() string {
	return hex.EncodeToString(d[:])
}

// ComputeAccountDiscriminator computes a deterministic record type tag.
// Formula: SHA256("account:" + name)[:8]
func ComputeAccountDiscriminator(name string) Discriminator {
	hash := sha256.Sum256([]byte("account:" + name))

	var d Discriminator
	copy(d[:], hash[:DiscriminatorSize])
	return d
}
