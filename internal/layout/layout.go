// Package layout encodes Lobbyist and Escrow records into their fixed on-chain
// layout and decodes the external accounts the ledger reads: pool TWAP oracles,
// Pyth price updates, SPL mints and token accounts.
package layout

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/idhash"
	"futarchy-lobbyist/internal/solana"
)

// Record sizes including the discriminator.
const (
	LobbyistSize = idhash.DiscriminatorSize + 2 + 11*32
	EscrowSize   = idhash.DiscriminatorSize + 2 + 3*32 + 6*8 + 2 + 2*2 + 32
)

// Record discriminators.
var (
	LobbyistDiscriminator = idhash.ComputeAccountDiscriminator("Lobbyist")
	EscrowDiscriminator   = idhash.ComputeAccountDiscriminator("Escrow")
)

// Decoding errors.
var (
	ErrInvalidDiscriminator = errors.New("invalid account discriminator")
	ErrInvalidSize          = errors.New("invalid account size")
)

var le = binary.LittleEndian

// Codec reads and writes records for a single schema variant.
type Codec struct {
	variant domain.Variant
}

// NewCodec creates a codec bound to variant.
func NewCodec(variant domain.Variant) (*Codec, error) {
	if !variant.Valid() {
		return nil, fmt.Errorf("new codec: unknown variant %d", variant)
	}
	return &Codec{variant: variant}, nil
}

// Variant returns the schema variant the codec is bound to.
func (c *Codec) Variant() domain.Variant {
	return c.variant
}

// EncodeLobbyist serializes l. The record variant must match the codec.
func (c *Codec) EncodeLobbyist(l *domain.Lobbyist) ([]byte, error) {
	if l.Variant != c.variant {
		return nil, fmt.Errorf("encode lobbyist: %w", domain.ErrVariantMismatch)
	}

	buf := bytes.NewBuffer(make([]byte, 0, LobbyistSize))
	enc := bin.NewBorshEncoder(buf)

	if err := enc.WriteBytes(LobbyistDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(uint8(l.Variant)); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(l.Bump); err != nil {
		return nil, err
	}
	for _, key := range []solana.Pubkey{
		l.Dao, l.Proposal,
		l.SpotMarket, l.PassMarket, l.FailMarket,
		l.BaseMint, l.QuoteMint,
		l.PassBaseMint, l.PassQuoteMint, l.FailBaseMint, l.FailQuoteMint,
	} {
		if err := enc.WriteBytes(key[:], false); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DecodeLobbyist parses a Lobbyist record.
func (c *Codec) DecodeLobbyist(data []byte) (*domain.Lobbyist, error) {
	dec, err := c.header(data, LobbyistSize, LobbyistDiscriminator)
	if err != nil {
		return nil, fmt.Errorf("decode lobbyist: %w", err)
	}

	l := &domain.Lobbyist{Variant: c.variant}
	if l.Bump, err = dec.ReadUint8(); err != nil {
		return nil, fmt.Errorf("decode lobbyist bump: %w", err)
	}
	for _, dst := range []*solana.Pubkey{
		&l.Dao, &l.Proposal,
		&l.SpotMarket, &l.PassMarket, &l.FailMarket,
		&l.BaseMint, &l.QuoteMint,
		&l.PassBaseMint, &l.PassQuoteMint, &l.FailBaseMint, &l.FailQuoteMint,
	} {
		if err := readPubkey(dec, dst); err != nil {
			return nil, fmt.Errorf("decode lobbyist: %w", err)
		}
	}

	return l, nil
}

// EncodeEscrow serializes e. The record variant must match the codec.
func (c *Codec) EncodeEscrow(e *domain.Escrow) ([]byte, error) {
	if e.Variant != c.variant {
		return nil, fmt.Errorf("encode escrow: %w", domain.ErrVariantMismatch)
	}

	buf := bytes.NewBuffer(make([]byte, 0, EscrowSize))
	enc := bin.NewBorshEncoder(buf)

	if err := enc.WriteBytes(EscrowDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(uint8(e.Variant)); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(e.Bump); err != nil {
		return nil, err
	}
	for _, key := range []solana.Pubkey{e.Lobbyist, e.Proposal, e.Depositor} {
		if err := enc.WriteBytes(key[:], false); err != nil {
			return nil, err
		}
	}
	for _, amount := range []uint64{
		e.BaseAmount, e.QuoteAmount,
		e.PassBaseAmount, e.PassQuoteAmount,
		e.FailBaseAmount, e.FailQuoteAmount,
	} {
		if err := enc.WriteUint64(amount, le); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteBool(e.Active); err != nil {
		return nil, err
	}
	if err := enc.WriteBool(e.Bullish); err != nil {
		return nil, err
	}
	if err := enc.WriteUint16(e.BullishThresholdBps, le); err != nil {
		return nil, err
	}
	if err := enc.WriteUint16(e.BearishThresholdBps, le); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(e.PriceFeedID[:], false); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeEscrow parses an Escrow record.
func (c *Codec) DecodeEscrow(data []byte) (*domain.Escrow, error) {
	dec, err := c.header(data, EscrowSize, EscrowDiscriminator)
	if err != nil {
		return nil, fmt.Errorf("decode escrow: %w", err)
	}

	e := &domain.Escrow{Variant: c.variant}
	if e.Bump, err = dec.ReadUint8(); err != nil {
		return nil, fmt.Errorf("decode escrow bump: %w", err)
	}
	for _, dst := range []*solana.Pubkey{&e.Lobbyist, &e.Proposal, &e.Depositor} {
		if err := readPubkey(dec, dst); err != nil {
			return nil, fmt.Errorf("decode escrow: %w", err)
		}
	}
	for _, dst := range []*uint64{
		&e.BaseAmount, &e.QuoteAmount,
		&e.PassBaseAmount, &e.PassQuoteAmount,
		&e.FailBaseAmount, &e.FailQuoteAmount,
	} {
		if *dst, err = dec.ReadUint64(le); err != nil {
			return nil, fmt.Errorf("decode escrow amount: %w", err)
		}
	}
	if e.Active, err = dec.ReadBool(); err != nil {
		return nil, fmt.Errorf("decode escrow active: %w", err)
	}
	if e.Bullish, err = dec.ReadBool(); err != nil {
		return nil, fmt.Errorf("decode escrow bullish: %w", err)
	}
	if e.BullishThresholdBps, err = dec.ReadUint16(le); err != nil {
		return nil, fmt.Errorf("decode escrow bullish threshold: %w", err)
	}
	if e.BearishThresholdBps, err = dec.ReadUint16(le); err != nil {
		return nil, fmt.Errorf("decode escrow bearish threshold: %w", err)
	}
	feed, err := dec.ReadNBytes(len(e.PriceFeedID))
	if err != nil {
		return nil, fmt.Errorf("decode escrow price feed: %w", err)
	}
	copy(e.PriceFeedID[:], feed)

	return e, nil
}

// header validates size, discriminator and variant and returns a decoder
// positioned after the variant byte.
func (c *Codec) header(data []byte, size int, disc idhash.Discriminator) (*bin.Decoder, error) {
	if len(data) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSize, len(data), size)
	}

	dec := bin.NewBorshDecoder(data)
	got, err := dec.ReadNBytes(idhash.DiscriminatorSize)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(got, disc[:]) {
		return nil, ErrInvalidDiscriminator
	}

	variant, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	if domain.Variant(variant) != c.variant {
		return nil, fmt.Errorf("record variant %s, deployment %s: %w",
			domain.Variant(variant), c.variant, domain.ErrVariantMismatch)
	}

	return dec, nil
}

func readPubkey(dec *bin.Decoder, dst *solana.Pubkey) error {
	b, err := dec.ReadNBytes(32)
	if err != nil {
		return err
	}
	copy(dst[:], b)
	return nil
}
